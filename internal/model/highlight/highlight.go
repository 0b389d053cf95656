package highlight

// Rect is an axis-aligned rectangle in document-scaled coordinates, tagged
// with the 1-based page it belongs to. The origin convention (viewer top-left
// vs. document bottom-left) is owned by the coordinate adapter, not by this
// type.
type Rect struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	W          float64 `json:"w"`
	H          float64 `json:"h"`
	PageNumber int     `json:"pageNumber"`
}

// Position locates a highlight on the document. Rects carries one rectangle
// per rendered line; multi-line selections render wrong from the bounding
// rectangle alone.
type Position struct {
	BoundingRect Rect   `json:"boundingRect"`
	Rects        []Rect `json:"rects,omitempty"`
}

// DrawRects returns the per-line rectangles, falling back to the bounding
// rectangle when none were captured.
func (p Position) DrawRects() []Rect {
	if len(p.Rects) > 0 {
		return p.Rects
	}
	return []Rect{p.BoundingRect}
}

// Content is the captured payload: selected text, or an image for area
// highlights.
type Content struct {
	Text  string `json:"text,omitempty"`
	Image string `json:"image,omitempty"`
}

// Comment is an optional user note on a highlight. A zero Timestamp means no
// comment has been written yet.
type Comment struct {
	Text      string `json:"text"`
	Author    string `json:"author"`
	Timestamp int64  `json:"timestamp"`
}

// Highlight is a user-marked passage tagged with a color.
type Highlight struct {
	ID       string   `json:"id"`
	Color    string   `json:"color"`
	Content  Content  `json:"content"`
	Position Position `json:"position"`
	Comment  Comment  `json:"comment"`
}
