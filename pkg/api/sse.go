package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spellrun/spell/pkg/bus"
	"github.com/spellrun/spell/pkg/errs"
)

// sseWriter wraps a flushable response in the event-stream framing.
type sseWriter struct {
	w http.ResponseWriter
	f http.Flusher
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, bool) {
	f, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	return &sseWriter{w: w, f: f}, true
}

func (s *sseWriter) send(frame bus.Frame) error {
	data, err := json.Marshal(frame.Data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", frame.Event, data); err != nil {
		return err
	}
	s.f.Flush()
	return nil
}

// handleListEvents streams the filtered execution list: one snapshot
// frame on connect, then an `executions` frame per transition. The stream
// stays open until the client disconnects.
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		writeError(w, err)
		return
	}
	f, err = scopeFilter(f, identityFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}

	// Subscribe before taking the snapshot: a transition landing in
	// between is then queued and delivered after the snapshot (a duplicate,
	// never a gap).
	sub := s.bus.Subscribe(bus.TopicList, nil)
	defer s.bus.Unsubscribe(sub)

	sw, ok := newSSEWriter(w)
	if !ok {
		writeErrorCode(w, errs.CodeInternal, "streaming is not supported")
		return
	}

	snapshot := bus.Frame{Event: bus.EventSnapshot, Data: map[string]any{"executions": s.store.List(f)}}
	if err := sw.send(snapshot); err != nil {
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case frame, open := <-sub.C:
			if !open {
				return
			}
			if rec, ok := frame.Data.(*Record); ok && !f.Match(rec) {
				continue
			}
			if err := sw.send(frame); err != nil {
				return
			}
		}
	}
}

// handleExecutionEvents streams one execution's transitions and closes
// after the terminal frame. A stream opened on an already-terminal
// execution gets its snapshot and terminal frame immediately.
func (s *Server) handleExecutionEvents(w http.ResponseWriter, r *http.Request) {
	rec, err := s.loadVisible(r)
	if err != nil {
		writeError(w, err)
		return
	}

	sw, ok := newSSEWriter(w)
	if !ok {
		writeErrorCode(w, errs.CodeInternal, "streaming is not supported")
		return
	}

	if TerminalStatus(rec.Status) {
		_ = sw.send(bus.Frame{Event: bus.EventSnapshot, Data: rec})
		_ = sw.send(bus.Frame{Event: bus.EventTerminal, Data: rec})
		return
	}

	sub := s.bus.Subscribe(bus.ExecutionTopic(rec.ExecutionID), nil)
	defer s.bus.Unsubscribe(sub)

	// Re-read after subscribing: every transition from here on is queued
	// on the subscription, so the snapshot plus the queue covers all
	// states, including a terminal that landed between load and subscribe.
	if current := s.store.Get(rec.ExecutionID); current != nil {
		rec = current
	}
	if err := sw.send(bus.Frame{Event: bus.EventSnapshot, Data: rec}); err != nil {
		return
	}
	if TerminalStatus(rec.Status) {
		_ = sw.send(bus.Frame{Event: bus.EventTerminal, Data: rec})
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case frame, open := <-sub.C:
			if !open {
				return
			}
			if err := sw.send(frame); err != nil {
				return
			}
			if frame.Event == bus.EventTerminal {
				return
			}
		}
	}
}
