package pdf

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildPDF writes a minimal uncompressed PDF with one text line per page.
// Object offsets in the xref table are computed from the bytes written.
func buildPDF(pages []string) []byte {
	var buf bytes.Buffer
	var offsets []int

	obj := func(body string) {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", len(offsets), body)
	}

	buf.WriteString("%PDF-1.4\n")

	kids := ""
	for i := range pages {
		kids += fmt.Sprintf("%d 0 R ", 4+2*i)
	}

	obj("<< /Type /Catalog /Pages 2 0 R >>")
	obj(fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", kids, len(pages)))
	obj("<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>")
	for i, text := range pages {
		content := fmt.Sprintf("BT /F1 12 Tf 72 720 Td (%s) Tj ET", text)
		obj(fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] "+
			"/Resources << /Font << /F1 3 0 R >> >> /Contents %d 0 R >>", 5+2*i))
		obj(fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content))
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(offsets)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, xref)
	return buf.Bytes()
}

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestLoad_ExtractsPages(t *testing.T) {
	path := writeFile(t, "two-pages.pdf", buildPDF([]string{"Hello first page", "Second page text"}))

	doc, err := Load(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, 2, doc.PageCount)
	require.Len(t, doc.Pages, 2)
	assert.Equal(t, 1, doc.Pages[0].Number)
	assert.Equal(t, 2, doc.Pages[1].Number)
	assert.Contains(t, doc.Pages[0].Text, "Hello")
	assert.Contains(t, doc.Pages[1].Text, "Second")
	assert.Empty(t, doc.Skipped)
}

func TestLoad_NotPDF(t *testing.T) {
	path := writeFile(t, "notes.pdf", []byte("just some text pretending to be a pdf"))

	_, err := Load(context.Background(), path)
	assert.ErrorIs(t, err, ErrNotPDF)
}

func TestLoad_TruncatedHeader(t *testing.T) {
	path := writeFile(t, "tiny.pdf", []byte("%P"))

	_, err := Load(context.Background(), path)
	assert.ErrorIs(t, err, ErrNotPDF)
}

func TestLoad_CorruptBody(t *testing.T) {
	path := writeFile(t, "corrupt.pdf", []byte("%PDF-1.4\nthis is not a real document body\n"))

	_, err := Load(context.Background(), path)
	assert.ErrorIs(t, err, ErrUnreadable)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(context.Background(), filepath.Join(t.TempDir(), "missing.pdf"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoad_ZeroPages(t *testing.T) {
	path := writeFile(t, "empty.pdf", buildPDF(nil))

	_, err := Load(context.Background(), path)
	assert.ErrorIs(t, err, ErrNoPages)
}

func TestLoad_CanceledContext(t *testing.T) {
	path := writeFile(t, "one.pdf", buildPDF([]string{"page"}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Load(ctx, path)
	assert.ErrorIs(t, err, context.Canceled)
}
