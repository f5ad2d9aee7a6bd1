package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vinayprograms/editorbridge/bus"
	perrors "github.com/vinayprograms/editorbridge/errors"
	"github.com/vinayprograms/editorbridge/protocol"
)

// AdapterStatus describes one registered adapter in GET /api/adapters.
type AdapterStatus struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Version      string        `json:"version"`
	Capabilities []string      `json:"capabilities"`
	Active       bool          `json:"active"`
	Health       adapterHealth `json:"health"`
}

type adapterHealth struct {
	Healthy            bool   `json:"healthy"`
	Initialized        bool   `json:"initialized"`
	TransportConnected *bool  `json:"transportConnected,omitempty"`
	Error              string `json:"error,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	for _, h := range s.registry.HealthCheckAll(r.Context()) {
		if !h.Healthy() {
			status = "degraded"
			break
		}
	}
	writeJSON(w, http.StatusOK, protocol.HealthStatus{
		Status:    status,
		Server:    s.cfg.Name,
		Version:   protocol.ProtocolVersion,
		Timestamp: time.Now().UnixMilli(),
	})
}

func (s *Server) handleAdapters(w http.ResponseWriter, r *http.Request) {
	health := s.registry.HealthCheckAll(r.Context())
	active := s.registry.ActiveID()

	out := []AdapterStatus{}
	for _, id := range s.registry.IDs() {
		a, ok := s.registry.Get(id)
		if !ok {
			continue
		}
		h := health[id]
		out = append(out, AdapterStatus{
			ID:           id,
			Name:         a.Name(),
			Version:      a.Version(),
			Capabilities: a.Capabilities(),
			Active:       id == active,
			Health: adapterHealth{
				Healthy:            h.Healthy(),
				Initialized:        h.Initialized,
				TransportConnected: h.TransportConnected,
				Error:              h.Error,
			},
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleRequest answers POST /api/request with a response envelope. Bodies
// that are not envelopes get a 4xx; envelopes that fail validation get a
// failed response so the caller's request settles.
func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	msg, status, err := readEnvelope(r)
	if err != nil {
		writeError(w, status, err)
		return
	}

	if err := checkEnvelope(msg, protocol.TypeRequest); err != nil {
		if msg.ID == "" {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusOK, s.respond(msg.ID, nil, err))
		return
	}

	writeJSON(w, http.StatusOK, s.dispatch(r.Context(), "", msg))
}

// handleEvent accepts POST /api/event. Events are published to every
// WebSocket session; heartbeats are acknowledged and dropped.
func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	msg, status, err := readEnvelope(r)
	if err != nil {
		writeError(w, status, err)
		return
	}

	switch msg.Type {
	case protocol.TypeHeartbeat, protocol.TypeDisconnect:
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err := checkEnvelope(msg, protocol.TypeEvent); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := s.publish(r.Context(), msg, ""); err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) publish(ctx context.Context, msg *protocol.Message, origin string) error {
	data, err := msg.Marshal()
	if err != nil {
		return perrors.WrapWithCode(err, perrors.ErrCodeInvalidRequest, "encoding event")
	}
	return s.bus.Publish(ctx, &bus.Message{Subject: s.cfg.Subject, Origin: origin, Data: data})
}

func readEnvelope(r *http.Request) (*protocol.Message, int, error) {
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "application/json") {
		return nil, http.StatusUnsupportedMediaType, perrors.InvalidRequest("content type must be application/json")
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, protocol.MaxMessageSize+1))
	if err != nil {
		return nil, http.StatusBadRequest, perrors.InvalidRequest("reading body", perrors.WithCause(err))
	}
	if len(body) > protocol.MaxMessageSize {
		return nil, http.StatusRequestEntityTooLarge, perrors.InvalidRequest("message exceeds maximum size",
			perrors.WithDetail("limit", protocol.MaxMessageSize))
	}
	msg, err := protocol.Parse(body)
	if err != nil {
		return nil, http.StatusBadRequest, err
	}
	return msg, 0, nil
}

// checkEnvelope validates msg and requires it to be of type want.
func checkEnvelope(msg *protocol.Message, want protocol.MessageType) error {
	if v := protocol.Validate(msg); !v.Valid {
		return perrors.InvalidRequest("invalid message: "+v.Error(), perrors.WithDetail("errors", v.Errors))
	}
	if msg.Type != want {
		return perrors.InvalidRequest("expected a "+string(want)+" message, got "+string(msg.Type),
			perrors.WithDetail("type", string(msg.Type)))
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, struct {
		Error *protocol.ErrorInfo `json:"error"`
	}{protocol.ErrorInfoFrom(err)})
}
