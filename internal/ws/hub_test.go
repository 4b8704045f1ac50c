package ws

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"imagedex/internal/jobs"
	"imagedex/internal/storage"
)

func newTestHub(t *testing.T) (*Hub, string) {
	t.Helper()
	hub := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
	go hub.Run()
	t.Cleanup(hub.Shutdown)

	server := httptest.NewServer(http.HandlerFunc(hub.Serve))
	t.Cleanup(server.Close)
	return hub, "ws" + strings.TrimPrefix(server.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitForClients(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.ClientCount() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("ClientCount() = %d, want %d", hub.ClientCount(), want)
}

func TestHub_BroadcastReachesAllClients(t *testing.T) {
	hub, url := newTestHub(t)

	first := dial(t, url)
	second := dial(t, url)
	waitForClients(t, hub, 2)

	progress := jobs.NewProgress(storage.JobKindEmbedding)
	progress.Update(storage.ProgressCounts{Total: 10, Completed: 4, Processing: 1})
	hub.Broadcast(Message{Type: "progress", Progress: []jobs.Snapshot{progress.Snapshot()}})

	for _, conn := range []*websocket.Conn{first, second} {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("ReadMessage() error = %v", err)
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("Unmarshal() error = %v", err)
		}
		if msg.Type != "progress" || len(msg.Progress) != 1 {
			t.Fatalf("message = %+v, want one progress snapshot", msg)
		}
		if msg.Progress[0].Kind != storage.JobKindEmbedding || msg.Progress[0].Completed != 4 {
			t.Errorf("snapshot = %+v", msg.Progress[0])
		}
	}
}

func TestHub_DisconnectUnregisters(t *testing.T) {
	hub, url := newTestHub(t)

	conn := dial(t, url)
	waitForClients(t, hub, 1)

	_ = conn.Close()
	waitForClients(t, hub, 0)
}

func TestHub_ConnectAfterShutdown(t *testing.T) {
	hub, url := newTestHub(t)
	hub.Shutdown()

	// The upgrade still succeeds but the hub must close the connection
	// instead of parking the handler on a dead register channel.
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return
	}
	t.Cleanup(func() { _ = conn.Close() })

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("ReadMessage() succeeded, want closed connection")
	}
	if got := hub.ClientCount(); got != 0 {
		t.Errorf("ClientCount() = %d, want 0", got)
	}
}
