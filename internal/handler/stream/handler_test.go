package stream

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/titier-app/titier/bridge/internal/backend"
	"github.com/titier-app/titier/bridge/internal/model/session"
	"github.com/titier-app/titier/bridge/internal/service/chatstream"
	"github.com/titier-app/titier/bridge/internal/service/store"
)

type scriptedBackend struct {
	payload string
}

func (b *scriptedBackend) OpenStream(ctx context.Context, req backend.StreamRequest) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(b.payload)), nil
}

func (b *scriptedBackend) Stop(ctx context.Context) error { return nil }

func (b *scriptedBackend) GenerateTitle(ctx context.Context, userMessage, assistantMessage string) (string, error) {
	return "Generated Title", nil
}

func newStreamServer(payload string) (*httptest.Server, *store.Store) {
	st := store.New(nil, nil, zap.NewNop())
	chat := chatstream.New(st, &scriptedBackend{payload: payload}, zap.NewNop())
	r := chi.NewRouter()
	New(chat, st, zap.NewNop()).RegisterRoutes(r)
	return httptest.NewServer(r), st
}

func sseRecords(t *testing.T, body io.Reader) []map[string]any {
	t.Helper()
	raw, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("reading stream: %v", err)
	}
	var out []map[string]any
	for _, record := range strings.Split(string(raw), "\n\n") {
		record = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(record), "data:"))
		if record == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(record), &m); err != nil {
			t.Fatalf("malformed sse record %q: %v", record, err)
		}
		out = append(out, m)
	}
	return out
}

func TestStreamSendsMessageAndEmitsFrames(t *testing.T) {
	payload := `data: {"type":"token","content":"Hi"}` + "\n\n" +
		`data: {"type":"done"}` + "\n\n"
	srv, st := newStreamServer(payload)
	defer srv.Close()

	sess, _ := st.Create(context.Background(), session.NewSessionRequest{Kind: session.KindDefault})

	resp, err := http.Get(srv.URL + "/stream/" + sess.ID + "?message=hello")
	if err != nil {
		t.Fatalf("GET err: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	records := sseRecords(t, resp.Body)
	if len(records) < 3 {
		t.Fatalf("records = %d, want token + done + final", len(records))
	}
	if records[0]["type"] != "token" || records[0]["content"] != "Hi" {
		t.Fatalf("record 0 = %v", records[0])
	}
	last := records[len(records)-1]
	if last["type"] != "final" || last["outcome"] != string(chatstream.OutcomeFinalized) {
		t.Fatalf("final record = %v", last)
	}

	got, _ := st.Get(sess.ID)
	if len(got.Messages) != 2 || got.Messages[1].Content != "Hi" {
		t.Fatalf("messages after stream = %+v", got.Messages)
	}
}

func TestStreamWithoutMessageConsumesAutoStartPrompt(t *testing.T) {
	payload := `data: {"type":"token","content":"overview"}` + "\n\n" +
		`data: {"type":"done"}` + "\n\n"
	srv, st := newStreamServer(payload)
	defer srv.Close()

	sess, _ := st.Create(context.Background(), session.NewSessionRequest{
		Kind:            session.KindScoped,
		Color:           "#facc15",
		AutoStartPrompt: "summarize the yellow passages",
	})

	resp, err := http.Get(srv.URL + "/stream/" + sess.ID)
	if err != nil {
		t.Fatalf("GET err: %v", err)
	}
	defer resp.Body.Close()

	records := sseRecords(t, resp.Body)
	if records[len(records)-1]["type"] != "final" {
		t.Fatalf("final record = %v", records[len(records)-1])
	}

	got, _ := st.Get(sess.ID)
	if got.Messages[0].Content != "summarize the yellow passages" {
		t.Fatalf("first message = %q", got.Messages[0].Content)
	}
}

func TestStreamWithoutPromptEndsImmediately(t *testing.T) {
	srv, st := newStreamServer(`data: {"type":"done"}` + "\n\n")
	defer srv.Close()

	sess, _ := st.Create(context.Background(), session.NewSessionRequest{Kind: session.KindDefault})

	resp, err := http.Get(srv.URL + "/stream/" + sess.ID)
	if err != nil {
		t.Fatalf("GET err: %v", err)
	}
	defer resp.Body.Close()

	records := sseRecords(t, resp.Body)
	if len(records) != 1 || records[0]["type"] != "done" {
		t.Fatalf("records = %v, want single done frame", records)
	}
	got, _ := st.Get(sess.ID)
	if len(got.Messages) != 0 {
		t.Fatal("no messages should be created without a prompt")
	}
}

func TestStreamUnknownSessionIs404(t *testing.T) {
	srv, _ := newStreamServer("")
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/stream/missing?message=hi")
	if err != nil {
		t.Fatalf("GET err: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestStateReportsIdle(t *testing.T) {
	srv, _ := newStreamServer("")
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/stream/state")
	if err != nil {
		t.Fatalf("GET err: %v", err)
	}
	defer resp.Body.Close()

	var body map[string]string
	json.NewDecoder(resp.Body).Decode(&body)
	if body["state"] != string(chatstream.StateIdle) {
		t.Fatalf("state = %q", body["state"])
	}
}

func TestStopWhileIdleIsAccepted(t *testing.T) {
	srv, _ := newStreamServer("")
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/stream/stop", "application/json", nil)
	if err != nil {
		t.Fatalf("POST err: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
}
