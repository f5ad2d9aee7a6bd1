package adapter

import (
	"context"
	"time"

	perrors "github.com/vinayprograms/editorbridge/errors"
	"github.com/vinayprograms/editorbridge/protocol"
)

// Resolve selects the adapter for op: the active adapter if it declares the
// capability, otherwise the earliest registered adapter that does.
func Resolve(r *Registry, op protocol.Operation) (string, Adapter, error) {
	if !op.Known() {
		return "", nil, perrors.UnsupportedOperation(string(op))
	}

	if id, a, ok := r.ActiveEntry(); ok && HasCapability(a, string(op)) {
		return id, a, nil
	}
	for _, id := range r.GetByCapability(string(op)) {
		if a, ok := r.Get(id); ok {
			return id, a, nil
		}
	}
	return "", nil, perrors.AdapterNotFound("no adapter serves "+string(op),
		perrors.WithDetail("operation", string(op)))
}

// Invoke runs op against a's contracts, decoding the request payload and
// returning the response payload. PING is answered without a contract.
func Invoke(ctx context.Context, a Adapter, op protocol.Operation, payload []byte) (interface{}, error) {
	kind, ok := op.Contract()
	if !ok {
		return nil, perrors.UnsupportedOperation(string(op))
	}
	c := a.Contracts()
	if !c.Has(kind) {
		return nil, perrors.UnsupportedOperation(string(op),
			perrors.WithDetail("adapter", a.Name()), perrors.WithDetail("contract", string(kind)))
	}

	msg := &protocol.Message{Payload: payload}

	switch op {
	case protocol.OpPing:
		return protocol.PingResponse{Pong: true, Time: time.Now().UnixMilli()}, nil

	case protocol.OpGetContext:
		var req protocol.ContextRequest
		if err := decode(msg, &req); err != nil {
			return nil, err
		}
		return c.Context.GetContext(ctx, req)
	case protocol.OpGetActiveFile:
		return c.Context.GetActiveFile(ctx)
	case protocol.OpGetSelection:
		return c.Context.GetSelection(ctx)
	case protocol.OpGetDiagnostics:
		var req protocol.DiagnosticsRequest
		if err := decode(msg, &req); err != nil {
			return nil, err
		}
		return c.Context.GetDiagnostics(ctx, req)

	case protocol.OpReadFile:
		var req protocol.ReadFileRequest
		if err := decode(msg, &req); err != nil {
			return nil, err
		}
		return c.File.ReadFile(ctx, req)
	case protocol.OpWriteFile:
		var req protocol.WriteFileRequest
		if err := decode(msg, &req); err != nil {
			return nil, err
		}
		return c.File.WriteFile(ctx, req)
	case protocol.OpListFiles:
		var req protocol.ListFilesRequest
		if err := decode(msg, &req); err != nil {
			return nil, err
		}
		return c.File.ListFiles(ctx, req)
	case protocol.OpGetFileTree:
		var req protocol.FileTreeRequest
		if err := decode(msg, &req); err != nil {
			return nil, err
		}
		return c.File.GetFileTree(ctx, req)

	case protocol.OpGetWorkspaceInfo:
		return c.Workspace.GetWorkspaceInfo(ctx)

	case protocol.OpAuthenticate:
		var req protocol.AuthenticateRequest
		if err := decode(msg, &req); err != nil {
			return nil, err
		}
		return c.Auth.Authenticate(ctx, req)
	case protocol.OpRefreshToken:
		var req protocol.TokenRequest
		if err := decode(msg, &req); err != nil {
			return nil, err
		}
		return c.Auth.RefreshToken(ctx, req)
	case protocol.OpValidateToken:
		var req protocol.TokenRequest
		if err := decode(msg, &req); err != nil {
			return nil, err
		}
		return c.Auth.ValidateToken(ctx, req)
	}
	return nil, perrors.UnsupportedOperation(string(op))
}

// decode treats an absent or null payload as the zero request.
func decode(msg *protocol.Message, v interface{}) error {
	if len(msg.Payload) == 0 || string(msg.Payload) == "null" {
		return nil
	}
	return msg.DecodePayload(v)
}
