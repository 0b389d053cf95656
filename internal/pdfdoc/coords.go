// Package pdfdoc owns the document-side concerns of highlights: coordinate
// conversion between the viewer and the PDF page space, the registry of
// active highlight colors, and burning highlights into an exported copy.
package pdfdoc

import "github.com/titier-app/titier/bridge/internal/model/highlight"

// ToDocumentSpace converts a rectangle from the viewer's top-left, Y-down
// pixel space into the document's bottom-left, Y-up point space. X is
// unchanged; only the vertical axis flips.
func ToDocumentSpace(r highlight.Rect, pageHeight float64) highlight.Rect {
	r.Y = pageHeight - r.Y - r.H
	return r
}

// ToViewerSpace is the inverse transform. The flip is involutive, so the
// formula is identical.
func ToViewerSpace(r highlight.Rect, pageHeight float64) highlight.Rect {
	return ToDocumentSpace(r, pageHeight)
}
