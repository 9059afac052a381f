package chunker

import (
	"errors"
	"strings"
	"testing"

	"github.com/bull/pdfchat/internal/pdf"
)

func mustSplitter(t *testing.T, size, overlap int) *Splitter {
	t.Helper()
	s, err := NewSplitter(size, overlap)
	if err != nil {
		t.Fatalf("NewSplitter(%d, %d): %v", size, overlap, err)
	}
	return s
}

// TestSplit_SinglePage4500 covers a 4500 character single-page document at 1000/200.
// Windows start every 800 characters, so six windows are needed to reach the end.
func TestSplit_SinglePage4500(t *testing.T) {
	text := strings.Repeat("abcdefghij", 450)
	s := mustSplitter(t, 1000, 200)

	chunks, err := s.Split([]pdf.Page{{Number: 1, Text: text}})
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}

	wantStarts := []int{0, 800, 1600, 2400, 3200, 4000}
	if len(chunks) != len(wantStarts) {
		t.Fatalf("Expected %d chunks, got %d", len(wantStarts), len(chunks))
	}
	for i, c := range chunks {
		if c.Seq != i {
			t.Errorf("Chunk %d: Seq = %d", i, c.Seq)
		}
		if c.Start != wantStarts[i] {
			t.Errorf("Chunk %d: Start = %d, want %d", i, c.Start, wantStarts[i])
		}
		if n := len([]rune(c.Text)); n > 1000 {
			t.Errorf("Chunk %d: length %d exceeds 1000", i, n)
		}
		if c.Page == nil || *c.Page != 1 {
			t.Errorf("Chunk %d: expected page 1, got %v", i, c.Page)
		}
	}
	if last := chunks[len(chunks)-1]; last.End != 4500 || len(last.Text) != 500 {
		t.Errorf("Last chunk: End = %d, len = %d", last.End, len(last.Text))
	}
}

// TestSplit_ThreePages1500 covers three 1500 character pages at 1000/200. The
// joined text is 4504 runes (two separators), pages start at 0, 1502 and 3004.
func TestSplit_ThreePages1500(t *testing.T) {
	pages := []pdf.Page{
		{Number: 1, Text: strings.Repeat("a", 1500)},
		{Number: 2, Text: strings.Repeat("b", 1500)},
		{Number: 3, Text: strings.Repeat("c", 1500)},
	}
	s := mustSplitter(t, 1000, 200)

	chunks, err := s.Split(pages)
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}

	wantStarts := []int{0, 800, 1600, 2400, 3200, 4000}
	wantPages := []int{1, 1, 2, 2, 3, 3}
	if len(chunks) != len(wantStarts) {
		t.Fatalf("Expected %d chunks, got %d", len(wantStarts), len(chunks))
	}
	for i, c := range chunks {
		if c.Start != wantStarts[i] {
			t.Errorf("Chunk %d: Start = %d, want %d", i, c.Start, wantStarts[i])
		}
		if n := len([]rune(c.Text)); n > 1000 {
			t.Errorf("Chunk %d: length %d exceeds 1000", i, n)
		}
		if c.Page == nil || *c.Page != wantPages[i] {
			t.Errorf("Chunk %d: expected page %d, got %v", i, wantPages[i], c.Page)
		}
		if i == 0 {
			continue
		}
		prev := chunks[i-1]
		if overlap := prev.End - c.Start; overlap != 200 {
			t.Errorf("Chunk %d: overlaps previous by %d, want 200", i, overlap)
		}
		prevRunes := []rune(prev.Text)
		if tail := string(prevRunes[len(prevRunes)-200:]); !strings.HasPrefix(c.Text, tail) {
			t.Errorf("Chunk %d: does not start with the last 200 runes of chunk %d", i, i-1)
		}
	}
	if last := chunks[len(chunks)-1]; last.End != 4504 || len([]rune(last.Text)) != 504 {
		t.Errorf("Last chunk: End = %d, len = %d", last.End, len([]rune(last.Text)))
	}
	if !strings.Contains(chunks[1].Text, "a\n\nb") {
		t.Errorf("Chunk 1 should span the first page break")
	}
}

// TestSplit_RoundTrip rebuilds the joined text from chunk offsets.
func TestSplit_RoundTrip(t *testing.T) {
	pages := []pdf.Page{
		{Number: 1, Text: strings.Repeat("first page words ", 40)},
		{Number: 2, Text: strings.Repeat("second page words ", 55)},
		{Number: 3, Text: "tail"},
	}
	joined := pages[0].Text + pageSeparator + pages[1].Text + pageSeparator + pages[2].Text

	for _, cfg := range [][2]int{{100, 20}, {64, 0}, {333, 332}, {5000, 100}} {
		s := mustSplitter(t, cfg[0], cfg[1])
		chunks, err := s.Split(pages)
		if err != nil {
			t.Fatalf("Split(%v) failed: %v", cfg, err)
		}

		var rebuilt []rune
		for i, c := range chunks {
			runes := []rune(c.Text)
			if i == 0 {
				rebuilt = append(rebuilt, runes...)
				continue
			}
			overlap := chunks[i-1].End - c.Start
			if overlap != cfg[1] {
				t.Errorf("%v chunk %d: overlap %d, want %d", cfg, i, overlap, cfg[1])
			}
			rebuilt = append(rebuilt, runes[overlap:]...)
		}
		if string(rebuilt) != joined {
			t.Errorf("%v: rebuilt text does not match input", cfg)
		}
	}
}

func TestSplit_PageProvenance(t *testing.T) {
	pages := []pdf.Page{
		{Number: 1, Text: strings.Repeat("a", 10)},
		{Number: 2, Text: strings.Repeat("b", 10)},
	}
	// Joined: 10 a's, 2 separator runes, 10 b's (22 runes).
	chunks, err := mustSplitter(t, 6, 0).Split(pages)
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}

	// Starts 0, 6, 12, 18. Offset 6 is page 1; 12 is the first b.
	want := []int{1, 1, 2, 2}
	if len(chunks) != len(want) {
		t.Fatalf("Expected %d chunks, got %d", len(want), len(chunks))
	}
	for i, c := range chunks {
		if c.Page == nil || *c.Page != want[i] {
			t.Errorf("Chunk %d: page %v, want %d", i, c.Page, want[i])
		}
	}
}

func TestSplit_SeparatorBelongsToPrecedingPage(t *testing.T) {
	pages := []pdf.Page{
		{Number: 4, Text: "abcd"},
		{Number: 5, Text: "efgh"},
	}
	// Window starting at rune 4 begins on the separator.
	chunks, err := mustSplitter(t, 4, 0).Split(pages)
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}
	if len(chunks) != 3 {
		t.Fatalf("Expected 3 chunks, got %d", len(chunks))
	}
	if *chunks[1].Page != 4 {
		t.Errorf("Separator chunk: page %d, want 4", *chunks[1].Page)
	}
}

func TestSplit_UnknownPageStaysNil(t *testing.T) {
	chunks, err := mustSplitter(t, 10, 2).Split([]pdf.Page{{Number: 0, Text: "no page number known"}})
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}
	for i, c := range chunks {
		if c.Page != nil {
			t.Errorf("Chunk %d: page should be nil, got %d", i, *c.Page)
		}
	}
}

func TestSplit_SkipsBlankPages(t *testing.T) {
	pages := []pdf.Page{
		{Number: 1, Text: "   "},
		{Number: 2, Text: "content"},
	}
	chunks, err := mustSplitter(t, 100, 10).Split(pages)
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}
	if len(chunks) != 1 || chunks[0].Text != "content" || *chunks[0].Page != 2 {
		t.Errorf("Unexpected chunks: %+v", chunks)
	}
}

func TestSplit_NoText(t *testing.T) {
	_, err := mustSplitter(t, 100, 10).Split([]pdf.Page{{Number: 1, Text: "\n\t "}})
	if !errors.Is(err, ErrNoChunks) {
		t.Errorf("Expected ErrNoChunks, got %v", err)
	}

	_, err = mustSplitter(t, 100, 10).Split(nil)
	if !errors.Is(err, ErrNoChunks) {
		t.Errorf("Expected ErrNoChunks for nil pages, got %v", err)
	}
}

func TestSplitText_CountsRunesNotBytes(t *testing.T) {
	text := strings.Repeat("é漢", 10) // 20 runes, 50 bytes
	chunks := mustSplitter(t, 8, 2).SplitText(text)

	for i, c := range chunks {
		if n := len([]rune(c.Text)); n > 8 {
			t.Errorf("Chunk %d: %d runes", i, n)
		}
	}
	if last := chunks[len(chunks)-1]; last.End != 20 {
		t.Errorf("Last chunk End = %d, want 20", last.End)
	}
}

func TestNewSplitter_Invalid(t *testing.T) {
	cases := [][2]int{{0, 0}, {-1, 0}, {100, 100}, {100, 150}, {100, -1}}
	for _, c := range cases {
		if _, err := NewSplitter(c[0], c[1]); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("NewSplitter(%d, %d): expected ErrInvalidConfig, got %v", c[0], c[1], err)
		}
	}
}
