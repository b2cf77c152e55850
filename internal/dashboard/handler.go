// Package dashboard provides event handling and message formatting for the dashboard.
package dashboard

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"handsync/internal/daemon"
	"handsync/internal/handover"
)

// Handler bridges orchestrator events to the WebSocket server. It
// satisfies the orchestrator's Publisher interface.
type Handler struct {
	server *Server
	logger *log.Logger

	mu    sync.Mutex
	stats StatsData
}

// NewHandler creates an event handler connected to a dashboard server
func NewHandler(server *Server, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}

	return &Handler{
		server: server,
		logger: logger,
		stats:  StatsData{ByStage: make(map[string]int)},
	}
}

// Publish formats an orchestrator event as a dashboard message and
// broadcasts it. Must not block: Broadcast drops on a full channel.
func (h *Handler) Publish(ev daemon.Event) {
	switch ev.Type {
	case "state_change":
		h.send(MessageTypeStateChange, ev.Time, StateChangeData{State: ev.State})

	case "sync_complete":
		if ev.Result == nil {
			return
		}
		h.mu.Lock()
		h.stats.LastSync = ev.Time
		h.mu.Unlock()
		h.send(MessageTypeSyncComplete, ev.Time, SyncCompleteData{
			Pushed:     ev.Result.Pushed,
			PushQueued: ev.Result.PushQueued,
			Merged:     ev.Result.Merged,
			Drained:    ev.Result.Drained,
			Dropped:    ev.Result.Dropped,
			Deferred:   ev.Result.Deferred,
			Duration:   ev.Result.Duration,
		})

	case "sync_failed":
		h.send(MessageTypeSyncFailed, ev.Time, SyncFailedData{Error: ev.Error})

	case "queue_update":
		h.send(MessageTypeQueueUpdate, ev.Time, QueueUpdateData{Depth: ev.QueueDepth})

	default:
		h.logger.Printf("Unknown event type %q, dropping", ev.Type)
	}
}

// UpdateStats recomputes dataset statistics and broadcasts them. Called
// after a merge or import changes the persisted dataset.
func (h *Handler) UpdateStats(ds handover.Dataset) {
	byStage := make(map[string]int)
	for _, tower := range ds.Towers {
		if tower == nil {
			continue
		}
		for _, rec := range tower.Flats {
			for stage, status := range rec {
				if status != nil && status.Completed {
					byStage[string(stage)]++
				}
			}
		}
	}

	h.mu.Lock()
	h.stats.Towers = len(ds.Towers)
	h.stats.Flats = ds.FlatCount()
	h.stats.ByStage = byStage
	stats := h.stats
	h.mu.Unlock()

	h.send(MessageTypeStats, time.Now(), stats)
}

// GetStats returns the current statistics
func (h *Handler) GetStats() StatsData {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stats
}

func (h *Handler) send(typ MessageType, ts time.Time, data any) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		h.logger.Printf("Failed to marshal %s data: %v", typ, err)
		return
	}
	h.server.Broadcast(Message{
		Type:      typ,
		Timestamp: ts,
		Data:      dataJSON,
	})
}
