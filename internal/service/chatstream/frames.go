package chatstream

import (
	"bytes"
	"encoding/json"
	"io"

	"go.uber.org/zap"

	"github.com/titier-app/titier/bridge/internal/model/session"
)

// Frame kinds delivered by the sidecar's generation stream.
const (
	FrameToken    = "token"
	FrameSources  = "sources"
	FrameFinished = "finished"
	FrameError    = "error"
	FrameDone     = "done"
)

// Frame is one discrete event in the token-delivery transport.
type Frame struct {
	Type    string           `json:"type"`
	Content string           `json:"content,omitempty"`
	Sources []session.Source `json:"sources,omitempty"`
	Error   string           `json:"error,omitempty"`
}

// recordSeparator delimits frames within the transport payload.
var recordSeparator = []byte("\n\n")

// FrameReader pulls typed frames out of a raw byte stream. Frames are
// JSON records separated by a blank line; a record that spans two transport
// chunks is buffered and parsed only once its separator arrives. The
// sequence is lazy, finite and non-restartable. Malformed records are
// dropped and logged; one bad frame never aborts the stream.
type FrameReader struct {
	r       io.Reader
	buf     []byte
	scratch []byte
	eof     bool
	log     *zap.Logger
}

// NewFrameReader wraps a transport stream.
func NewFrameReader(r io.Reader, log *zap.Logger) *FrameReader {
	return &FrameReader{
		r:       r,
		scratch: make([]byte, 4096),
		log:     log,
	}
}

// Next returns the next frame, or io.EOF once the stream is exhausted.
func (fr *FrameReader) Next() (Frame, error) {
	for {
		if record, ok := fr.takeRecord(); ok {
			if frame, ok := fr.parseRecord(record); ok {
				return frame, nil
			}
			continue
		}

		if fr.eof {
			// Flush a trailing record the sender never terminated.
			if len(bytes.TrimSpace(fr.buf)) > 0 {
				record := fr.buf
				fr.buf = nil
				if frame, ok := fr.parseRecord(record); ok {
					return frame, nil
				}
			}
			return Frame{}, io.EOF
		}

		n, err := fr.r.Read(fr.scratch)
		if n > 0 {
			fr.buf = append(fr.buf, fr.scratch[:n]...)
		}
		if err == io.EOF {
			fr.eof = true
		} else if err != nil {
			return Frame{}, err
		}
	}
}

// takeRecord splits one complete record off the carry-over buffer.
func (fr *FrameReader) takeRecord() ([]byte, bool) {
	i := bytes.Index(fr.buf, recordSeparator)
	if i < 0 {
		return nil, false
	}
	record := append([]byte(nil), fr.buf[:i]...)
	fr.buf = append(fr.buf[:0], fr.buf[i+len(recordSeparator):]...)
	return record, true
}

// parseRecord decodes a record into a frame, tolerating the SSE "data:"
// field prefix. Returns false for blanks and malformed payloads.
func (fr *FrameReader) parseRecord(record []byte) (Frame, bool) {
	var payload []byte
	for _, line := range bytes.Split(record, []byte("\n")) {
		line = bytes.TrimSuffix(line, []byte("\r"))
		line = bytes.TrimPrefix(line, []byte("data:"))
		payload = append(payload, bytes.TrimSpace(line)...)
	}
	if len(payload) == 0 {
		return Frame{}, false
	}

	var frame Frame
	if err := json.Unmarshal(payload, &frame); err != nil {
		fr.log.Warn("dropping malformed stream frame", zap.ByteString("record", record), zap.Error(err))
		return Frame{}, false
	}
	return frame, true
}
