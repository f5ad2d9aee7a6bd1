package protocol

import (
	"context"

	perrors "github.com/vinayprograms/editorbridge/errors"
)

// Spec binds an operation name to its request and response payload types.
// Call sites that go through a Spec are checked by the compiler.
type Spec[Req, Resp any] struct {
	Name Operation
}

// Typed operation specs.
var (
	GetContext       = Spec[ContextRequest, ContextResponse]{Name: OpGetContext}
	GetActiveFile    = Spec[Empty, FileContent]{Name: OpGetActiveFile}
	GetSelection     = Spec[Empty, Selection]{Name: OpGetSelection}
	GetDiagnostics   = Spec[DiagnosticsRequest, DiagnosticsResponse]{Name: OpGetDiagnostics}
	ReadFile         = Spec[ReadFileRequest, FileContent]{Name: OpReadFile}
	WriteFile        = Spec[WriteFileRequest, WriteFileResponse]{Name: OpWriteFile}
	ListFiles        = Spec[ListFilesRequest, ListFilesResponse]{Name: OpListFiles}
	GetFileTree      = Spec[FileTreeRequest, FileTreeNode]{Name: OpGetFileTree}
	GetWorkspaceInfo = Spec[Empty, WorkspaceInfo]{Name: OpGetWorkspaceInfo}
	Authenticate     = Spec[AuthenticateRequest, AuthResult]{Name: OpAuthenticate}
	RefreshToken     = Spec[TokenRequest, AuthResult]{Name: OpRefreshToken}
	ValidateToken    = Spec[TokenRequest, TokenValidation]{Name: OpValidateToken}
	Ping             = Spec[Empty, PingResponse]{Name: OpPing}
)

// Requester sends a request envelope and waits for its response.
type Requester interface {
	Send(ctx context.Context, msg *Message) (*Message, error)
}

// Call builds a request for spec, sends it through r and decodes the
// response payload.
func Call[Req, Resp any](ctx context.Context, r Requester, spec Spec[Req, Resp], req Req, opts RequestOptions) (Resp, error) {
	var zero Resp
	msg, err := DefaultFactory.NewRequest(spec.Name, req, opts)
	if err != nil {
		return zero, err
	}
	resp, err := r.Send(ctx, msg)
	if err != nil {
		return zero, err
	}
	return DecodeResponse[Resp](resp)
}

// DecodeResponse turns a response envelope into its typed payload, or into
// the carried error when the response reports failure.
func DecodeResponse[Resp any](resp *Message) (Resp, error) {
	var out Resp
	if resp == nil {
		return out, perrors.Internal("nil response")
	}
	if !resp.Succeeded() {
		if resp.Error != nil {
			return out, resp.Error.Err()
		}
		return out, perrors.Internal("response reported failure without error")
	}
	if len(resp.Payload) == 0 {
		return out, nil
	}
	if err := resp.DecodePayload(&out); err != nil {
		return out, err
	}
	return out, nil
}
