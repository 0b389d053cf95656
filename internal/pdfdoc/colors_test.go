package pdfdoc

import (
	"testing"
)

func TestNormalizeHex(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"#FACC15", "#facc15", true},
		{"facc15", "#facc15", true},
		{"  #4ade80 ", "#4ade80", true},
		{"#fff", "", false},
		{"yellow", "", false},
		{"#gggggg", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, ok := NormalizeHex(tc.in)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("NormalizeHex(%q) = %q, %v; want %q, %v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestResolveColorAliasesAndFallback(t *testing.T) {
	cases := []struct {
		in      string
		r, g, b int
	}{
		{"yellow", 0xfa, 0xcc, 0x15},
		{"Green", 0x4a, 0xde, 0x80},
		{"#60a5fa", 0x60, 0xa5, 0xfa},
		{"not-a-color", 0xfa, 0xcc, 0x15}, // falls back to yellow
	}
	for _, tc := range cases {
		r, g, b := ResolveColor(tc.in)
		if r != tc.r || g != tc.g || b != tc.b {
			t.Fatalf("ResolveColor(%q) = %d,%d,%d", tc.in, r, g, b)
		}
	}
}

func TestColorName(t *testing.T) {
	if got := ColorName("#FACC15"); got != "Yellow" {
		t.Fatalf("ColorName = %q", got)
	}
	if got := ColorName("#123456"); got != "#123456" {
		t.Fatalf("custom ColorName = %q", got)
	}
	if got := ColorName("junk"); got != "junk" {
		t.Fatalf("invalid ColorName = %q", got)
	}
}

func TestTripleToHexFloatAndIntForms(t *testing.T) {
	if hex, ok := TripleToHex([]float64{1, 0.8, 0.082}); !ok || hex != "#ffcc15" {
		t.Fatalf("float triple = %q, %v", hex, ok)
	}
	if hex, ok := TripleToHex([]float64{250, 204, 21}); !ok || hex != "#facc15" {
		t.Fatalf("int triple = %q, %v", hex, ok)
	}
	if hex, ok := TripleToHex([]float64{300, -5, 128}); !ok || hex != "#ff0080" {
		t.Fatalf("clamped triple = %q, %v", hex, ok)
	}
	if _, ok := TripleToHex([]float64{1, 0}); ok {
		t.Fatal("short triple should fail")
	}
}

func TestRegistrySeedsDefaultPalette(t *testing.T) {
	r := NewRegistry()
	got := r.Colors()
	want := DefaultPalette()
	if len(got) != len(want) {
		t.Fatalf("palette = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("palette[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	if r.First() != HexYellow {
		t.Fatalf("First = %q", r.First())
	}
}

func TestRegistryAddDeduplicatesAndValidates(t *testing.T) {
	r := NewRegistry()
	if !r.Add("#ff00ff") {
		t.Fatal("adding a new color should succeed")
	}
	if r.Add("#FF00FF") {
		t.Fatal("re-adding a normalized duplicate should fail")
	}
	if r.Add(HexYellow) {
		t.Fatal("adding a default palette color should fail")
	}
	if r.Add("magenta") {
		t.Fatal("adding a non-hex value should fail")
	}
	if got := len(r.Colors()); got != 5 {
		t.Fatalf("palette size = %d, want 5", got)
	}
}

func TestMergeScanResetsOnNewDocumentOnly(t *testing.T) {
	r := NewRegistry()
	r.MergeScan("doc-a", []string{"#111111"})
	r.Add("#222222")

	// Re-scanning the same document merges, keeping the user color.
	r.MergeScan("doc-a", []string{"#333333"})
	colors := r.Colors()
	if !hasColor(colors, "#222222") || !hasColor(colors, "#111111") || !hasColor(colors, "#333333") {
		t.Fatalf("palette after re-scan = %v", colors)
	}

	// A new document resets to defaults plus its own scan.
	r.MergeScan("doc-b", []string{"#444444"})
	colors = r.Colors()
	if hasColor(colors, "#222222") || hasColor(colors, "#111111") {
		t.Fatalf("palette leaked across documents: %v", colors)
	}
	if !hasColor(colors, "#444444") {
		t.Fatalf("scan color missing: %v", colors)
	}
}

func hasColor(colors []string, c string) bool {
	for _, v := range colors {
		if v == c {
			return true
		}
	}
	return false
}

func TestExtractColorsRejectsGarbage(t *testing.T) {
	if _, err := ExtractColors([]byte("not a pdf"), 10); err == nil {
		t.Fatal("expected error for non-PDF bytes")
	}
}
