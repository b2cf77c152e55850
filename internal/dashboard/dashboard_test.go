package dashboard

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"testing"
	"time"

	"github.com/coder/websocket"

	"handsync/internal/daemon"
	"handsync/internal/handover"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	server := NewServer(&Config{
		Port:   0, // Use random available port
		Logger: log.New(io.Discard, "", 0),
	})
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(func() { server.Stop() })

	time.Sleep(100 * time.Millisecond)
	return server
}

func dialTestClient(t *testing.T, ctx context.Context, server *Server) *websocket.Conn {
	t.Helper()

	wsURL := "ws://" + server.GetAddr() + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })

	// Drain the welcome message.
	if _, _, err := conn.Read(ctx); err != nil {
		t.Fatalf("Failed to read welcome message: %v", err)
	}
	return conn
}

func TestServerStartStop(t *testing.T) {
	server := NewServer(&Config{Port: 0, Logger: log.New(io.Discard, "", 0)})

	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	if server.GetAddr() == "" {
		t.Fatal("Server address is empty")
	}

	if err := server.Stop(); err != nil {
		t.Fatalf("Failed to stop server: %v", err)
	}
}

func TestWebSocketConnection(t *testing.T) {
	server := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws://" + server.GetAddr() + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	if count := server.ClientCount(); count != 1 {
		t.Errorf("Expected 1 client, got %d", count)
	}

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read welcome message: %v", err)
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Failed to unmarshal message: %v", err)
	}
	if msg.Type != MessageTypeStats {
		t.Errorf("Expected welcome message type %s, got %s", MessageTypeStats, msg.Type)
	}
}

func TestHandler_PublishSyncComplete(t *testing.T) {
	server := newTestServer(t)
	handler := NewHandler(server, log.New(io.Discard, "", 0))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := dialTestClient(t, ctx, server)

	now := time.Now()
	handler.Publish(daemon.Event{
		Type: "sync_complete",
		Result: &daemon.Result{
			Pushed:   true,
			Merged:   true,
			Drained:  2,
			Duration: 120 * time.Millisecond,
		},
		Time: now,
	})

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read broadcast: %v", err)
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Failed to unmarshal message: %v", err)
	}
	if msg.Type != MessageTypeSyncComplete {
		t.Fatalf("Expected type %s, got %s", MessageTypeSyncComplete, msg.Type)
	}

	var payload SyncCompleteData
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		t.Fatalf("Failed to unmarshal payload: %v", err)
	}
	if !payload.Pushed || !payload.Merged || payload.Drained != 2 {
		t.Errorf("Unexpected payload: %+v", payload)
	}

	if handler.GetStats().LastSync.IsZero() {
		t.Error("Expected sync_complete to record last sync time")
	}
}

func TestHandler_PublishStateChange(t *testing.T) {
	server := newTestServer(t)
	handler := NewHandler(server, log.New(io.Discard, "", 0))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := dialTestClient(t, ctx, server)

	handler.Publish(daemon.Event{Type: "state_change", State: "syncing", Time: time.Now()})

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read broadcast: %v", err)
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Failed to unmarshal message: %v", err)
	}
	if msg.Type != MessageTypeStateChange {
		t.Fatalf("Expected type %s, got %s", MessageTypeStateChange, msg.Type)
	}

	var payload StateChangeData
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		t.Fatalf("Failed to unmarshal payload: %v", err)
	}
	if payload.State != "syncing" {
		t.Errorf("Expected state syncing, got %s", payload.State)
	}
}

func TestHandler_UpdateStats(t *testing.T) {
	server := newTestServer(t)
	handler := NewHandler(server, log.New(io.Discard, "", 0))

	ds := handover.New()
	ds.SetStage("A", "101", handover.StageKeyHandover, &handover.StageStatus{Completed: true})
	ds.SetStage("A", "102", handover.StageKeyHandover, &handover.StageStatus{Completed: true})
	ds.SetStage("A", "101", handover.StageSnagging, &handover.StageStatus{Completed: true})

	handler.UpdateStats(ds)

	stats := handler.GetStats()
	if stats.Flats != 2 {
		t.Errorf("Expected 2 flats, got %d", stats.Flats)
	}
	if stats.ByStage[string(handover.StageKeyHandover)] != 2 {
		t.Errorf("Expected 2 completed key handovers, got %d", stats.ByStage[string(handover.StageKeyHandover)])
	}
	if stats.ByStage[string(handover.StageSnagging)] != 1 {
		t.Errorf("Expected 1 completed snagging, got %d", stats.ByStage[string(handover.StageSnagging)])
	}
}
