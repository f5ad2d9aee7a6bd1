package server

import (
	"context"
	"time"

	"github.com/vinayprograms/editorbridge/adapter"
	perrors "github.com/vinayprograms/editorbridge/errors"
	"github.com/vinayprograms/editorbridge/protocol"
	"github.com/vinayprograms/editorbridge/telemetry"
	"github.com/vinayprograms/editorbridge/transport"
)

// dispatch serves one request envelope and returns its response. It never
// returns nil; every failure is reported in the response.
func (s *Server) dispatch(ctx context.Context, sessionID string, req *protocol.Message) *protocol.Message {
	start := time.Now()
	if len(req.Metadata) > 0 {
		ctx = telemetry.ExtractContext(ctx, telemetry.MapCarrier(req.Metadata))
	}
	ctx, span := s.tracer.StartDispatchSpan(ctx, string(req.Operation))

	bound := req.TimeoutDuration()
	if bound <= 0 {
		bound = s.cfg.RequestTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, bound)
	defer cancel()

	adapterID, data, err := s.invoke(ctx, req, bound)

	s.tracer.EndDispatchSpan(span, telemetry.DispatchSpanOptions{
		RequestID: req.ID,
		Operation: string(req.Operation),
		AdapterID: adapterID,
		Session:   sessionID,
	}, err)
	s.logger.RequestComplete(string(req.Operation), req.ID, time.Since(start), err)

	return s.respond(req.ID, data, err)
}

func (s *Server) respond(requestID string, data interface{}, err error) *protocol.Message {
	result := protocol.Success(data)
	if err != nil {
		result = protocol.Failure(err)
	}
	resp, encErr := s.factory.NewResponse(requestID, result)
	if encErr != nil {
		// The adapter returned something that does not encode.
		resp, _ = s.factory.NewResponse(requestID, protocol.Failure(perrors.Wrap(encErr, "encoding response")))
	}
	return resp
}

type invokeResult struct {
	data interface{}
	err  error
}

// invoke resolves the adapter for the operation and runs it. Adapters that
// ignore ctx are abandoned once bound elapses.
func (s *Server) invoke(ctx context.Context, req *protocol.Message, bound time.Duration) (string, interface{}, error) {
	if req.Operation == protocol.OpPing {
		return "", protocol.PingResponse{Pong: true, Time: time.Now().UnixMilli()}, nil
	}

	id, a, err := adapter.Resolve(s.registry, req.Operation)
	if err != nil {
		return "", nil, err
	}

	done := make(chan invokeResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- invokeResult{err: perrors.Internal("adapter panicked",
					perrors.WithDetail("adapter", id), perrors.WithDetail("panic", r))}
			}
		}()
		data, err := adapter.Invoke(ctx, a, req.Operation, req.Payload)
		done <- invokeResult{data: data, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil && ctx.Err() != nil {
			r.err = perrors.ConnectionTimeout(bound, perrors.WithDetail("request_id", req.ID), perrors.WithCause(r.err))
		}
		return id, r.data, r.err
	case <-ctx.Done():
		return id, nil, perrors.ConnectionTimeout(bound, perrors.WithDetail("request_id", req.ID),
			perrors.WithDetail("adapter", id))
	}
}

// handshake answers a client handshake. An incompatible version gets a
// disconnect envelope instead and ok is false.
func (s *Server) handshake(msg *protocol.Message) (reply *protocol.Message, ok bool) {
	if !protocol.IsCompatibleVersion(msg.Version) {
		return s.factory.NewDisconnect("protocol version mismatch: server "+protocol.ProtocolVersion+", client "+msg.Version,
			transport.DisconnectVersionMismatch), false
	}
	// A client that lists nothing is offered everything.
	agreed := s.capabilities()
	if len(msg.Capabilities) > 0 {
		agreed = protocol.NegotiateCapabilities(msg.Capabilities, agreed)
	}
	return s.factory.NewHandshake(*msg.ClientInfo, s.serverInfo(), agreed), true
}
