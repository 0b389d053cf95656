package pdfdoc

import (
	"bytes"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/ledongthuc/pdf"
)

// Default highlight palette. The hex values match the viewer's swatches; the
// names double as the aliases accepted on export.
const (
	HexYellow = "#facc15"
	HexGreen  = "#4ade80"
	HexBlue   = "#60a5fa"
	HexRed    = "#f87171"
)

var namedColors = map[string]string{
	"yellow": HexYellow,
	"green":  HexGreen,
	"blue":   HexBlue,
	"red":    HexRed,
}

var colorNames = map[string]string{
	HexYellow: "Yellow",
	HexGreen:  "Green",
	HexBlue:   "Blue",
	HexRed:    "Red",
}

// DefaultPalette returns the fixed fallback palette, in display order.
func DefaultPalette() []string {
	return []string{HexYellow, HexGreen, HexBlue, HexRed}
}

// NormalizeHex lowercases a #rrggbb value, tolerating a missing hash.
// It returns false for anything that is not a 24-bit hex color.
func NormalizeHex(s string) (string, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "#")
	if len(s) != 6 {
		return "", false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return "", false
		}
	}
	return "#" + s, true
}

// ResolveColor maps a hex value or one of the four named aliases to RGB
// components. Unknown values fall back to the default yellow so a single odd
// color cannot abort an export.
func ResolveColor(s string) (r, g, b int) {
	if hex, ok := namedColors[strings.ToLower(strings.TrimSpace(s))]; ok {
		s = hex
	}
	hex, ok := NormalizeHex(s)
	if !ok {
		hex = HexYellow
	}
	fmt.Sscanf(hex, "#%02x%02x%02x", &r, &g, &b)
	return r, g, b
}

// ColorName returns the friendly name for a palette color, or the hex value
// itself for custom colors.
func ColorName(hex string) string {
	norm, ok := NormalizeHex(hex)
	if !ok {
		return hex
	}
	if name, ok := colorNames[norm]; ok {
		return name
	}
	return norm
}

// TripleToHex normalizes an annotation color triple to #rrggbb. PDF writers
// disagree on encoding: some store 0-1 floats, others 0-255 integers. A
// triple whose components all fit in [0,1] is treated as the float form.
func TripleToHex(vals []float64) (string, bool) {
	if len(vals) < 3 {
		return "", false
	}
	r, g, b := vals[0], vals[1], vals[2]
	if r <= 1 && g <= 1 && b <= 1 {
		r, g, b = r*255, g*255, b*255
	}
	clamp := func(v float64) int {
		n := int(math.Round(v))
		if n < 0 {
			return 0
		}
		if n > 255 {
			return 255
		}
		return n
	}
	return fmt.Sprintf("#%02x%02x%02x", clamp(r), clamp(g), clamp(b)), true
}

// ExtractColors scans up to pageLimit pages of existing annotations and
// returns the distinct highlight colors found, normalized to hex. An empty
// result is not an error; callers fall back to the default palette.
func ExtractColors(doc []byte, pageLimit int) (colors []string, err error) {
	// The underlying parser panics on some malformed cross-reference tables.
	defer func() {
		if r := recover(); r != nil {
			colors, err = nil, fmt.Errorf("scan annotations: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(doc), int64(len(doc)))
	if err != nil {
		return nil, fmt.Errorf("load document: %w", err)
	}

	pages := reader.NumPage()
	if pageLimit > 0 && pages > pageLimit {
		pages = pageLimit
	}

	seen := make(map[string]struct{})
	for i := 1; i <= pages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		annots := page.V.Key("Annots")
		if annots.Kind() != pdf.Array {
			continue
		}
		for j := 0; j < annots.Len(); j++ {
			c := annots.Index(j).Key("C")
			if c.Kind() != pdf.Array || c.Len() < 3 {
				continue
			}
			vals := make([]float64, 0, 3)
			for k := 0; k < 3; k++ {
				vals = append(vals, c.Index(k).Float64())
			}
			hex, ok := TripleToHex(vals)
			if !ok {
				continue
			}
			if _, dup := seen[hex]; !dup {
				seen[hex] = struct{}{}
				colors = append(colors, hex)
			}
		}
	}
	return colors, nil
}

// Registry tracks the palette of active highlight colors for the currently
// open document: defaults, user-added customs, and colors discovered by
// scanning existing annotations, deduplicated by normalized value.
type Registry struct {
	mu     sync.Mutex
	docKey string
	colors []string
	index  map[string]struct{}
}

// NewRegistry returns a registry seeded with the default palette.
func NewRegistry() *Registry {
	r := &Registry{}
	r.reset("")
	return r
}

func (r *Registry) reset(docKey string) {
	r.docKey = docKey
	r.colors = nil
	r.index = make(map[string]struct{})
	for _, c := range DefaultPalette() {
		r.add(c)
	}
}

func (r *Registry) add(color string) bool {
	hex, ok := NormalizeHex(color)
	if !ok {
		return false
	}
	if _, dup := r.index[hex]; dup {
		return false
	}
	r.index[hex] = struct{}{}
	r.colors = append(r.colors, hex)
	return true
}

// Add registers a user-chosen custom color. Returns false for invalid values
// or colors already present.
func (r *Registry) Add(color string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.add(color)
}

// MergeScan folds a scan result into the palette. Scanning a different
// document resets the registry first; re-scanning the same document merges,
// so a shrinking scan never discards a user-added color.
func (r *Registry) MergeScan(docKey string, scanned []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if docKey != r.docKey {
		r.reset(docKey)
	}
	for _, c := range scanned {
		r.add(c)
	}
}

// Colors returns the active palette in registration order.
func (r *Registry) Colors() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.colors...)
}

// First returns the palette's first color, the default for colorless
// highlights.
func (r *Registry) First() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.colors[0]
}
