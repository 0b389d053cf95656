package chatstream

import (
	"errors"
	"io"
	"strings"
	"testing"

	"go.uber.org/zap"
)

// chunkReader yields the input in fixed-size chunks to exercise records that
// straddle transport reads.
type chunkReader struct {
	data []byte
	size int
}

func (c *chunkReader) Read(p []byte) (int, error) {
	if len(c.data) == 0 {
		return 0, io.EOF
	}
	n := c.size
	if n > len(c.data) {
		n = len(c.data)
	}
	if n > len(p) {
		n = len(p)
	}
	copy(p, c.data[:n])
	c.data = c.data[n:]
	return n, nil
}

func readAllFrames(t *testing.T, r io.Reader) []Frame {
	t.Helper()
	fr := NewFrameReader(r, zap.NewNop())
	var out []Frame
	for {
		frame, err := fr.Next()
		if errors.Is(err, io.EOF) {
			return out
		}
		if err != nil {
			t.Fatalf("Next err: %v", err)
		}
		out = append(out, frame)
	}
}

func TestFrameReaderParsesSequence(t *testing.T) {
	payload := `data: {"type":"token","content":"A"}` + "\n\n" +
		`data: {"type":"token","content":"B"}` + "\n\n" +
		`data: {"type":"sources","sources":[{"excerptText":"p","pageNumber":3}]}` + "\n\n" +
		`data: {"type":"finished"}` + "\n\n" +
		`data: {"type":"done"}` + "\n\n"

	frames := readAllFrames(t, strings.NewReader(payload))
	if len(frames) != 5 {
		t.Fatalf("frames = %d, want 5", len(frames))
	}
	if frames[0].Type != FrameToken || frames[0].Content != "A" {
		t.Fatalf("frame 0 = %+v", frames[0])
	}
	if frames[2].Type != FrameSources || len(frames[2].Sources) != 1 || frames[2].Sources[0].PageNumber != 3 {
		t.Fatalf("frame 2 = %+v", frames[2])
	}
	if frames[4].Type != FrameDone {
		t.Fatalf("frame 4 = %+v", frames[4])
	}
}

func TestFrameReaderHandlesChunkBoundaries(t *testing.T) {
	payload := `data: {"type":"token","content":"split across reads"}` + "\n\n" +
		`data: {"type":"done"}` + "\n\n"

	for _, size := range []int{1, 2, 3, 7, 16} {
		frames := readAllFrames(t, &chunkReader{data: []byte(payload), size: size})
		if len(frames) != 2 {
			t.Fatalf("chunk size %d: frames = %d, want 2", size, len(frames))
		}
		if frames[0].Content != "split across reads" {
			t.Fatalf("chunk size %d: content = %q", size, frames[0].Content)
		}
	}
}

func TestFrameReaderDropsMalformedRecords(t *testing.T) {
	payload := `data: {"type":"token","content":"ok"}` + "\n\n" +
		"data: {not json at all" + "\n\n" +
		`data: {"type":"done"}` + "\n\n"

	frames := readAllFrames(t, strings.NewReader(payload))
	if len(frames) != 2 {
		t.Fatalf("frames = %d, want malformed record dropped", len(frames))
	}
	if frames[0].Content != "ok" || frames[1].Type != FrameDone {
		t.Fatalf("frames = %+v", frames)
	}
}

func TestFrameReaderFlushesUnterminatedTrailingRecord(t *testing.T) {
	payload := `data: {"type":"token","content":"x"}` + "\n\n" +
		`data: {"type":"error","error":"upstream gone"}`

	frames := readAllFrames(t, strings.NewReader(payload))
	if len(frames) != 2 {
		t.Fatalf("frames = %d, want trailing record flushed", len(frames))
	}
	if frames[1].Type != FrameError || frames[1].Error != "upstream gone" {
		t.Fatalf("frame 1 = %+v", frames[1])
	}
}

func TestFrameReaderTolerantOfBlankRecordsAndCRLF(t *testing.T) {
	payload := "\n\n" +
		"data: {\"type\":\"token\",\"content\":\"a\"}\r\n\r\n" +
		"\n\n" +
		`data: {"type":"done"}` + "\n\n"

	frames := readAllFrames(t, strings.NewReader(payload))
	if len(frames) != 2 {
		t.Fatalf("frames = %d, want 2", len(frames))
	}
	if frames[0].Content != "a" {
		t.Fatalf("frame 0 = %+v", frames[0])
	}
}
