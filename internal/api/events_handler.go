package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/mattjoyce/switchboard/internal/events"
)

const keepAliveInterval = 15 * time.Second

// sseStream writes server-sent events and flushes after each one.
type sseStream struct {
	w http.ResponseWriter
	f http.Flusher
}

func (s sseStream) send(ev events.Event) error {
	if _, err := fmt.Fprintf(s.w, "id: %d\nevent: %s\ndata: %s\n\n", ev.ID, ev.Type, ev.Data); err != nil {
		return err
	}
	s.f.Flush()
	return nil
}

func (s sseStream) comment(text string) error {
	if _, err := fmt.Fprintf(s.w, ": %s\n\n", text); err != nil {
		return err
	}
	s.f.Flush()
	return nil
}

// handleEvents handles GET /events[?types=prefix,...]. Buffered events newer
// than Last-Event-ID are replayed before the live feed.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	filter := events.ParseFilter(r.URL.Query().Get("types"))

	// Subscribe before replaying so nothing published in between is lost.
	live, cancel := s.events.Subscribe(filter)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	stream := sseStream{w: w, f: flusher}

	lastID, _ := strconv.ParseInt(r.Header.Get("Last-Event-ID"), 10, 64)
	for _, ev := range s.events.Replay(max(lastID, 0), filter) {
		if stream.send(ev) != nil {
			return
		}
		lastID = ev.ID
	}
	if stream.comment("ready") != nil {
		return
	}

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-live:
			if !ok {
				return
			}
			if ev.ID <= lastID {
				continue
			}
			if stream.send(ev) != nil {
				return
			}
		case <-keepAlive.C:
			if stream.comment("keep-alive") != nil {
				return
			}
		}
	}
}
