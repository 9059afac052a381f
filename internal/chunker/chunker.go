// Package chunker splits extracted PDF text into fixed-size overlapping windows.
package chunker

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/bull/pdfchat/internal/pdf"
)

// pageSeparator joins consecutive pages in the flattened document text.
const pageSeparator = "\n\n"

var (
	ErrInvalidConfig = errors.New("invalid chunker configuration")
	ErrNoChunks      = errors.New("document produced no chunks")
)

// Chunk is a window of document text with its provenance.
type Chunk struct {
	Seq   int    // Position in document (0, 1, 2...)
	Text  string // Window content, verbatim
	Page  *int   // Page containing the first rune; nil when unknown
	Start int    // Rune offset into the joined text
	End   int    // Exclusive rune offset
}

// Splitter cuts text into windows of Size runes, each overlapping the previous by Overlap runes.
type Splitter struct {
	size    int
	overlap int
}

// NewSplitter validates the window parameters. Overlap must be smaller than size.
func NewSplitter(size, overlap int) (*Splitter, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: size must be positive, got %d", ErrInvalidConfig, size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("%w: overlap %d must be in [0, %d)", ErrInvalidConfig, overlap, size)
	}
	return &Splitter{size: size, overlap: overlap}, nil
}

// pageSpan maps a rune range of the joined text back to its page number.
type pageSpan struct {
	start  int
	number int
}

// Split flattens pages and windows the result. Pages with no text are dropped
// before joining so they do not contribute empty separators.
func (s *Splitter) Split(pages []pdf.Page) ([]Chunk, error) {
	var sb strings.Builder
	var spans []pageSpan
	offset := 0

	for _, page := range pages {
		if strings.TrimSpace(page.Text) == "" {
			continue
		}
		if len(spans) > 0 {
			// Separator runes belong to the preceding page.
			sb.WriteString(pageSeparator)
			offset += len([]rune(pageSeparator))
		}
		spans = append(spans, pageSpan{start: offset, number: page.Number})
		sb.WriteString(page.Text)
		offset += len([]rune(page.Text))
	}

	chunks := s.SplitText(sb.String())
	if len(chunks) == 0 {
		return nil, ErrNoChunks
	}

	for i := range chunks {
		chunks[i].Page = pageAt(spans, chunks[i].Start)
	}
	return chunks, nil
}

// SplitText windows raw text without page provenance.
func (s *Splitter) SplitText(text string) []Chunk {
	runes := []rune(text)
	total := len(runes)
	if total == 0 {
		return nil
	}

	step := s.size - s.overlap
	var chunks []Chunk
	for start := 0; ; start += step {
		end := min(start+s.size, total)
		chunks = append(chunks, Chunk{
			Seq:   len(chunks),
			Text:  string(runes[start:end]),
			Start: start,
			End:   end,
		})
		if end == total {
			break
		}
	}
	return chunks
}

func pageAt(spans []pageSpan, offset int) *int {
	// Last span whose start is <= offset.
	i := sort.Search(len(spans), func(i int) bool { return spans[i].start > offset }) - 1
	if i < 0 || spans[i].number <= 0 {
		return nil
	}
	n := spans[i].number
	return &n
}
