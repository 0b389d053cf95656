package pdfdoc

import (
	"bytes"
	"fmt"
	"io"

	"github.com/go-pdf/fpdf"
	"github.com/go-pdf/fpdf/contrib/gofpdi"
	"github.com/ledongthuc/pdf"

	"github.com/titier-app/titier/bridge/internal/model/highlight"
)

// burnAlpha is the fixed opacity of exported highlight blocks.
const burnAlpha = 0.4

type paintRect struct {
	rect    highlight.Rect
	r, g, b int
}

// BurnHighlights renders an exported copy of the document with every
// highlight drawn as a semi-transparent filled rectangle. Highlights whose
// page is out of range are skipped; a load or render failure aborts the whole
// export so no partial file is ever produced. With no highlights the input
// bytes are returned unchanged.
//
// The export re-renders page content, so interactive annotations and comment
// text are not carried over; the visual color blocks are the only guarantee.
func BurnHighlights(doc []byte, hs []highlight.Highlight) (out []byte, err error) {
	if len(hs) == 0 {
		return doc, nil
	}

	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("export document: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(doc), int64(len(doc)))
	if err != nil {
		return nil, fmt.Errorf("load document: %w", err)
	}
	pageCount := reader.NumPage()

	byPage := make(map[int][]paintRect)
	for _, h := range hs {
		r, g, b := ResolveColor(h.Color)
		for _, rect := range h.Position.DrawRects() {
			if rect.PageNumber < 1 || rect.PageNumber > pageCount {
				continue
			}
			byPage[rect.PageNumber] = append(byPage[rect.PageNumber], paintRect{rect: rect, r: r, g: g, b: b})
		}
	}

	dst := fpdf.NewCustom(&fpdf.InitType{OrientationStr: "P", UnitStr: "pt"})
	imp := gofpdi.NewImporter()
	var src io.ReadSeeker = bytes.NewReader(doc)

	for page := 1; page <= pageCount; page++ {
		tpl := imp.ImportPageFromStream(dst, &src, page, "/MediaBox")
		box := imp.GetPageSizes()[page]["/MediaBox"]
		width, height := box["w"], box["h"]

		dst.AddPageFormat("P", fpdf.SizeType{Wd: width, Ht: height})
		imp.UseImportedTemplate(dst, tpl, 0, 0, width, 0)

		rects := byPage[page]
		if len(rects) == 0 {
			continue
		}
		dst.SetAlpha(burnAlpha, "Normal")
		for _, pr := range rects {
			docRect := ToDocumentSpace(pr.rect, height)
			// fpdf draws from the top-left, so flip back for rendering.
			drawY := height - docRect.Y - pr.rect.H
			dst.SetFillColor(pr.r, pr.g, pr.b)
			dst.Rect(docRect.X, drawY, pr.rect.W, pr.rect.H, "F")
		}
		dst.SetAlpha(1, "Normal")
	}

	var buf bytes.Buffer
	if err := dst.Output(&buf); err != nil {
		return nil, fmt.Errorf("render export: %w", err)
	}
	return buf.Bytes(), nil
}
