package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"folhaponto/internal/log"
)

// handleFichaEvents streams the signature events of one ficha as server-sent
// events until the client disconnects.
func (s *Server) handleFichaEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	f, err := s.fichas.GetFicha(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err, fichaMessages)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "Streaming não suportado")
		return
	}

	events, cancel := s.broker.Subscribe(id)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	// The initial state lets a client that subscribed after the signature
	// landed stop waiting.
	state, _ := json.Marshal(map[string]any{"fichaId": f.ID, "assinada": f.Signed()})
	fmt.Fprintf(w, "event: state\ndata: %s\n\n", state)
	flusher.Flush()

	s.logger.DebugContext(r.Context(), "Event stream opened", log.FieldFichaID, id)
	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case ev, open := <-events:
			if !open {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
			flusher.Flush()
		}
	}
}
