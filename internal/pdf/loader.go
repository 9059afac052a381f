// Package pdf extracts per-page plain text from PDF files.
package pdf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	lpdf "github.com/ledongthuc/pdf"
)

var (
	ErrNotPDF      = errors.New("not a PDF file")
	ErrUnreadable  = errors.New("pdf could not be parsed")
	ErrNoPages     = errors.New("pdf has no extractable pages")
	pdfMagicHeader = []byte("%PDF-")
)

// Page is the text of one PDF page. Number is 1-based.
type Page struct {
	Number int
	Text   string
}

// Document is a loaded PDF.
type Document struct {
	Path      string
	PageCount int    // pages declared by the page tree
	Pages     []Page // pages whose text could be read, in order
	Skipped   []int  // page numbers that were empty objects or failed extraction
}

// Load opens path and extracts the plain text of every page.
// ErrNotPDF, ErrUnreadable and ErrNoPages mean the input itself is bad.
func Load(ctx context.Context, path string) (*Document, error) {
	if err := checkHeader(path); err != nil {
		return nil, err
	}

	f, r, err := open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	doc := &Document{Path: path}
	if doc.PageCount, err = numPages(r); err != nil {
		return nil, err
	}
	if doc.PageCount == 0 {
		return nil, ErrNoPages
	}

	for i := 1; i <= doc.PageCount; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		text, ok := pageText(r, i)
		if !ok {
			doc.Skipped = append(doc.Skipped, i)
			continue
		}
		doc.Pages = append(doc.Pages, Page{Number: i, Text: text})
	}

	if len(doc.Pages) == 0 {
		return nil, fmt.Errorf("%w: %d pages, none readable", ErrNoPages, doc.PageCount)
	}
	return doc, nil
}

// checkHeader sniffs the magic bytes before handing the file to the parser.
func checkHeader(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	head := make([]byte, len(pdfMagicHeader))
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if !bytes.Equal(head[:n], pdfMagicHeader) {
		return fmt.Errorf("%w: invalid header %q", ErrNotPDF, head[:n])
	}
	return nil
}

// open wraps lpdf.Open; the parser panics on some malformed inputs.
func open(path string) (f *os.File, r *lpdf.Reader, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			if f != nil {
				f.Close()
			}
			f, r, err = nil, nil, fmt.Errorf("%w: %v", ErrUnreadable, rec)
		}
	}()

	f, r, err = lpdf.Open(path)
	if err != nil {
		if f != nil {
			f.Close()
		}
		return nil, nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	return f, r, nil
}

func numPages(r *lpdf.Reader) (n int, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: page tree: %v", ErrUnreadable, rec)
		}
	}()
	return r.NumPage(), nil
}

// pageText returns the text of page i, or false when the page cannot be read.
func pageText(r *lpdf.Reader, i int) (text string, ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			text, ok = "", false
		}
	}()

	page := r.Page(i)
	if page.V.IsNull() {
		return "", false
	}
	text, err := page.GetPlainText(nil)
	if err != nil {
		return "", false
	}
	return strings.TrimSpace(text), true
}
