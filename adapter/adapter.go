package adapter

import (
	"context"

	"github.com/vinayprograms/editorbridge/protocol"
)

// ContextContract serves editor context: active file, selection and
// diagnostics.
type ContextContract interface {
	GetContext(ctx context.Context, req protocol.ContextRequest) (*protocol.ContextResponse, error)
	GetActiveFile(ctx context.Context) (*protocol.FileContent, error)
	GetSelection(ctx context.Context) (*protocol.Selection, error)
	GetDiagnostics(ctx context.Context, req protocol.DiagnosticsRequest) (*protocol.DiagnosticsResponse, error)
}

// FileContract serves file access within a workspace.
type FileContract interface {
	ReadFile(ctx context.Context, req protocol.ReadFileRequest) (*protocol.FileContent, error)
	WriteFile(ctx context.Context, req protocol.WriteFileRequest) (*protocol.WriteFileResponse, error)
	ListFiles(ctx context.Context, req protocol.ListFilesRequest) (*protocol.ListFilesResponse, error)
	GetFileTree(ctx context.Context, req protocol.FileTreeRequest) (*protocol.FileTreeNode, error)
}

// WorkspaceContract describes the open workspace.
type WorkspaceContract interface {
	GetWorkspaceInfo(ctx context.Context) (*protocol.WorkspaceInfo, error)
}

// AuthContract authenticates bridge clients.
type AuthContract interface {
	Authenticate(ctx context.Context, req protocol.AuthenticateRequest) (*protocol.AuthResult, error)
	RefreshToken(ctx context.Context, req protocol.TokenRequest) (*protocol.AuthResult, error)
	ValidateToken(ctx context.Context, req protocol.TokenRequest) (*protocol.TokenValidation, error)
}

// Contracts is the set of contracts an adapter currently serves. Nil fields
// are not served.
type Contracts struct {
	Context   ContextContract
	File      FileContract
	Workspace WorkspaceContract
	Auth      AuthContract
}

// Has reports whether the contract for kind is present.
func (c Contracts) Has(kind protocol.ContractKind) bool {
	switch kind {
	case protocol.ContractContext:
		return c.Context != nil
	case protocol.ContractFile:
		return c.File != nil
	case protocol.ContractWorkspace:
		return c.Workspace != nil
	case protocol.ContractAuth:
		return c.Auth != nil
	case protocol.ContractSystem:
		return true
	}
	return false
}

// Health is the result of an adapter health check.
type Health struct {
	Initialized bool `json:"initialized"`

	// TransportConnected is nil when the adapter has no transport.
	TransportConnected *bool `json:"transportConnected,omitempty"`

	// Error is set by the registry when the check itself failed.
	Error string `json:"error,omitempty"`
}

// Healthy reports an initialized adapter whose transport, if any, is up.
func (h Health) Healthy() bool {
	if !h.Initialized || h.Error != "" {
		return false
	}
	return h.TransportConnected == nil || *h.TransportConnected
}

// Adapter is an editor integration.
type Adapter interface {
	// Name identifies the editor integration.
	Name() string

	// Version of the adapter.
	Version() string

	// Capabilities lists the operation names the adapter serves.
	Capabilities() []string

	// Initialize prepares contracts and connects the adapter's transport.
	Initialize(ctx context.Context) error

	// Dispose reverses Initialize.
	Dispose(ctx context.Context) error

	// HealthCheck reports the adapter's state. It does not fail.
	HealthCheck(ctx context.Context) Health

	// Contracts returns the contracts currently served.
	Contracts() Contracts
}

// HasCapability reports whether a declares capability.
func HasCapability(a Adapter, capability string) bool {
	for _, c := range a.Capabilities() {
		if c == capability {
			return true
		}
	}
	return false
}
