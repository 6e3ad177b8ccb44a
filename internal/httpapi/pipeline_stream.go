package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/agentctl/core/internal/contract"
	"github.com/agentctl/core/internal/domain"
)

// pipelineUpgrader accepts any origin: the command surface has no browser
// session concept of its own (callers authenticate via x-workspace-id and
// capability headers the same as every other route), so there is no
// origin to compare against.
var pipelineUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const (
	pipelineStreamWriteWait  = 10 * time.Second
	pipelineStreamPingPeriod = 30 * time.Second
)

// pipelineStream serves GET /v1/pipeline/stream: a websocket that pushes
// pipeline stage-change notifications for one workspace as they occur.
// It polls the same SnapshotStore the flat/envelope projection endpoint
// reads, diffing against the watermark event id it last pushed, rather
// than hooking the write path directly: the pipeline projector runs
// inside the triggering event's own transaction (see
// internal/storage/postgres/pipeline_projector.go), and a push that fired
// before that transaction committed could race a still-in-flight
// rollback. Poll interval is PIPELINE_STREAM_POLL_INTERVAL_MS.
func (h *handler) pipelineStream(w http.ResponseWriter, r *http.Request) {
	wsID, err := contract.RequireWorkspaceHeader(r.Header.Get(contract.WorkspaceHeader), "")
	if err != nil {
		writeError(w, err)
		return
	}

	conn, err := pipelineUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	interval := time.Duration(h.app.Cfg.Pipeline.StreamPollIntervalMS) * time.Millisecond
	if interval <= 0 {
		interval = time.Second
	}

	closed := make(chan struct{})
	go pipelineStreamReadLoop(conn, closed)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	pingTicker := time.NewTicker(pipelineStreamPingPeriod)
	defer pingTicker.Stop()

	var lastWatermark string
	ctx := r.Context()

	for {
		select {
		case <-ctx.Done():
			return
		case <-closed:
			return
		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(pipelineStreamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-ticker.C:
			watermark, err := h.app.Pipeline.WatermarkEventID(ctx, wsID)
			if err != nil || watermark == lastWatermark {
				continue
			}
			lastWatermark = watermark

			rows, err := h.app.Pipeline.Flat(ctx, wsID, nil, pipelineStreamPageSize)
			if err != nil {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(pipelineStreamWriteWait))
			if err := conn.WriteJSON(pipelineStreamMessage{WatermarkEventID: watermark, Rows: rows}); err != nil {
				return
			}
		}
	}
}

const pipelineStreamPageSize = 200

type pipelineStreamMessage struct {
	WatermarkEventID string                        `json:"watermark_event_id"`
	Rows             []domain.PipelineSnapshotRow `json:"rows"`
}

// pipelineStreamReadLoop drains and discards client frames so control
// messages (pong, close) are processed by gorilla's internal handlers;
// it closes the closed channel on any read error, which for a normal
// disconnect is an expected close-frame/EOF and is not logged as a
// failure by the caller.
func pipelineStreamReadLoop(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
