package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bnema/transcoder/internal/infrastructure/logger"
	"github.com/bnema/transcoder/internal/port"
)

const defaultKeepAlive = 15 * time.Second

// eventStream serves a job's progress events as server-sent events.
type eventStream struct {
	jobs      port.JobStore
	events    EventSource
	keepAlive time.Duration
}

func newEventStream(jobs port.JobStore, events EventSource) *eventStream {
	return &eventStream{jobs: jobs, events: events, keepAlive: defaultKeepAlive}
}

// sseWrite writes an SSE event, handling multi-line data correctly.
func sseWrite(w http.ResponseWriter, eventName string, data string) {
	_, _ = fmt.Fprintf(w, "event: %s\n", eventName)
	for _, line := range strings.Split(data, "\n") {
		_, _ = fmt.Fprintf(w, "data: %s\n", line)
	}
	_, _ = fmt.Fprint(w, "\n")
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

func sseWriteJSON(w http.ResponseWriter, eventName string, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		logger.Error.Printf("encode %s event: %v", eventName, err)
		return
	}
	sseWrite(w, eventName, string(b))
}

// sendKeepAlive writes an SSE comment to keep the connection active.
func sendKeepAlive(w http.ResponseWriter) {
	_, _ = fmt.Fprint(w, ": keep-alive\n\n")
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

// Events streams a snapshot of the job followed by its live events. The
// stream ends after a terminal event.
func (s *eventStream) Events() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if _, err := ownedJob(r.Context(), s.jobs, userID(r), id); err != nil {
			respondErr(w, r, err)
			return
		}

		// Subscribe before reading the snapshot so nothing published in
		// between is lost.
		ch := s.events.Subscribe(id)
		defer s.events.Unsubscribe(ch)

		job, err := s.jobs.GetJob(r.Context(), id)
		if err != nil {
			respondErr(w, r, err)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)

		sseWriteJSON(w, "snapshot", job)
		if job.Status.IsTerminal() {
			return
		}

		ctx := r.Context()
		keepAlive := time.NewTicker(s.keepAlive)
		defer keepAlive.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-keepAlive.C:
				sendKeepAlive(w)
			case event, ok := <-ch:
				if !ok {
					return
				}
				sseWriteJSON(w, string(event.Type), event)
				if event.IsTerminal() {
					return
				}
			}
		}
	}
}
