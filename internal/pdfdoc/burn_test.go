package pdfdoc

import (
	"bytes"
	"testing"

	"github.com/go-pdf/fpdf"
	"github.com/ledongthuc/pdf"

	"github.com/titier-app/titier/bridge/internal/model/highlight"
)

// samplePDF renders a small document to burn highlights into.
func samplePDF(t *testing.T, pages int) []byte {
	t.Helper()
	doc := fpdf.New("P", "pt", "A4", "")
	doc.SetFont("Helvetica", "", 12)
	for i := 0; i < pages; i++ {
		doc.AddPage()
		doc.Text(72, 100, "sample page")
	}
	var buf bytes.Buffer
	if err := doc.Output(&buf); err != nil {
		t.Fatalf("building sample document: %v", err)
	}
	return buf.Bytes()
}

func pageCount(t *testing.T, doc []byte) int {
	t.Helper()
	reader, err := pdf.NewReader(bytes.NewReader(doc), int64(len(doc)))
	if err != nil {
		t.Fatalf("reading burned document: %v", err)
	}
	return reader.NumPage()
}

func TestBurnZeroHighlightsReturnsInputUnchanged(t *testing.T) {
	input := []byte("arbitrary bytes, never parsed")
	out, err := BurnHighlights(input, nil)
	if err != nil {
		t.Fatalf("BurnHighlights err: %v", err)
	}
	if !bytes.Equal(out, input) {
		t.Fatal("zero-highlight export must return the input unchanged")
	}
}

func TestBurnHighlightsProducesValidDocument(t *testing.T) {
	src := samplePDF(t, 2)

	out, err := BurnHighlights(src, []highlight.Highlight{
		{
			Color: "#facc15",
			Position: highlight.Position{
				BoundingRect: highlight.Rect{X: 70, Y: 90, W: 120, H: 16, PageNumber: 1},
			},
		},
		{
			Color: "green",
			Position: highlight.Position{
				BoundingRect: highlight.Rect{X: 70, Y: 90, W: 120, H: 16, PageNumber: 2},
				Rects: []highlight.Rect{
					{X: 70, Y: 90, W: 120, H: 16, PageNumber: 2},
					{X: 70, Y: 110, W: 80, H: 16, PageNumber: 2},
				},
			},
		},
	})
	if err != nil {
		t.Fatalf("BurnHighlights err: %v", err)
	}
	if !bytes.HasPrefix(out, []byte("%PDF")) {
		t.Fatal("output is not a PDF")
	}
	if got := pageCount(t, out); got != 2 {
		t.Fatalf("page count = %d, want 2", got)
	}
}

func TestBurnSkipsOutOfRangePages(t *testing.T) {
	src := samplePDF(t, 1)

	out, err := BurnHighlights(src, []highlight.Highlight{
		{
			Color: "#f87171",
			Position: highlight.Position{
				BoundingRect: highlight.Rect{X: 10, Y: 10, W: 50, H: 10, PageNumber: 9},
			},
		},
	})
	if err != nil {
		t.Fatalf("BurnHighlights err: %v", err)
	}
	if got := pageCount(t, out); got != 1 {
		t.Fatalf("page count = %d, want 1", got)
	}
}

func TestBurnRejectsCorruptDocument(t *testing.T) {
	_, err := BurnHighlights([]byte("%PDF-1.7 truncated garbage"), []highlight.Highlight{
		{Color: "#facc15", Position: highlight.Position{
			BoundingRect: highlight.Rect{X: 1, Y: 1, W: 1, H: 1, PageNumber: 1},
		}},
	})
	if err == nil {
		t.Fatal("expected error for corrupt input")
	}
}
