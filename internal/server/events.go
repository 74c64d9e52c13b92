package server

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gilco1973/videobroker/internal/job"
)

// Websocket keepalive tuning.
const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

// upgrader performs the websocket handshake. Origin checking is left to the
// CORS layer; the stream carries no secrets beyond what GET /v1/videos/{id}
// already exposes.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// jobEvent is one frame on the event stream.
type jobEvent struct {
	Job JobResponse `json:"job"`
	At  time.Time   `json:"at"`
}

// VideoEvents handles GET /v1/videos/{id}/events: a websocket stream of job
// state changes, starting with the current state. The stream closes after
// the terminal event.
func (h *Handlers) VideoEvents(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")

	current, err := h.service.Status(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to get job", "JOB_FETCH_FAILED")
		return
	}

	// Subscribe before sending the snapshot so no update can slip
	// between the two.
	events, cancel := h.hub.Subscribe(jobID)
	defer cancel()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		h.logger.Warn("websocket upgrade failed",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		return
	}
	defer conn.Close()

	// Discard client frames but notice the close.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(j *job.Job, at time.Time) error {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(jobEvent{Job: jobResponse(j), At: at})
	}

	if err := send(current, time.Now()); err != nil {
		return
	}
	if current.IsTerminal() {
		return
	}

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-clientGone:
			return
		case <-r.Context().Done():
			return
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := send(&ev.Job, ev.At); err != nil {
				return
			}
			if ev.Job.IsTerminal() {
				return
			}
		}
	}
}
