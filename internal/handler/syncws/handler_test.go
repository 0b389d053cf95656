package syncws

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/titier-app/titier/bridge/internal/model/syncevent"
	"github.com/titier-app/titier/bridge/internal/synchub"
)

func newSyncServer() (*httptest.Server, *synchub.Hub) {
	hub := synchub.New(zap.NewNop())
	r := chi.NewRouter()
	New(hub, zap.NewNop()).RegisterRoutes(r)
	return httptest.NewServer(r), hub
}

func readEvent(t *testing.T, conn *websocket.Conn) syncevent.Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage err: %v", err)
	}
	var ev syncevent.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	return ev
}

func TestWindowSocketDeliversThemeThenChanges(t *testing.T) {
	srv, hub := newSyncServer()
	defer srv.Close()
	defer hub.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial err: %v", err)
	}
	defer conn.Close()

	// The first event snapshots the current theme.
	first := readEvent(t, conn)
	if first.Kind != syncevent.ThemeChanged {
		t.Fatalf("first event kind = %q", first.Kind)
	}
	var theme string
	json.Unmarshal(first.Payload, &theme)
	if theme != "light" {
		t.Fatalf("theme = %q", theme)
	}

	hub.SessionsChanged()
	if ev := readEvent(t, conn); ev.Kind != syncevent.SessionsChanged {
		t.Fatalf("event kind = %q", ev.Kind)
	}

	hub.ColorsChanged()
	if ev := readEvent(t, conn); ev.Kind != syncevent.ColorsChanged {
		t.Fatalf("event kind = %q", ev.Kind)
	}
}

func TestThemeRoundTrip(t *testing.T) {
	srv, hub := newSyncServer()
	defer srv.Close()
	defer hub.Close()

	payload, _ := json.Marshal(map[string]string{"theme": "dark"})
	req, _ := http.NewRequest(http.MethodPut, srv.URL+"/theme", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT err: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	getResp, err := http.Get(srv.URL + "/theme")
	if err != nil {
		t.Fatalf("GET err: %v", err)
	}
	defer getResp.Body.Close()

	var body map[string]string
	json.NewDecoder(getResp.Body).Decode(&body)
	if body["theme"] != "dark" {
		t.Fatalf("theme = %q", body["theme"])
	}
}

func TestSetThemeRequiresValue(t *testing.T) {
	srv, hub := newSyncServer()
	defer srv.Close()
	defer hub.Close()

	req, _ := http.NewRequest(http.MethodPut, srv.URL+"/theme", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT err: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}
