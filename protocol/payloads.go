package protocol

// Position is a zero-based line/character offset in a document.
type Position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

// Range spans two positions.
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// Selection is the editor's current selection.
type Selection struct {
	Path  string `json:"path"`
	Text  string `json:"text"`
	Range Range  `json:"range"`
}

// DiagnosticSeverity mirrors editor problem levels.
type DiagnosticSeverity string

const (
	SeverityError   DiagnosticSeverity = "error"
	SeverityWarning DiagnosticSeverity = "warning"
	SeverityInfo    DiagnosticSeverity = "info"
	SeverityHint    DiagnosticSeverity = "hint"
)

// Diagnostic is one problem reported against a file.
type Diagnostic struct {
	Path     string             `json:"path"`
	Range    Range              `json:"range"`
	Severity DiagnosticSeverity `json:"severity"`
	Message  string             `json:"message"`
	Source   string             `json:"source,omitempty"`
}

// FileInfo describes a file without its content.
type FileInfo struct {
	Path       string `json:"path"`
	Name       string `json:"name"`
	IsDir      bool   `json:"isDir"`
	Size       int64  `json:"size"`
	ModifiedAt int64  `json:"modifiedAt"` // ms since epoch
	Language   string `json:"language,omitempty"`
}

// FileContent is a file with its content.
type FileContent struct {
	FileInfo
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

// FileTreeNode is one node of a directory tree.
type FileTreeNode struct {
	Name     string          `json:"name"`
	Path     string          `json:"path"`
	IsDir    bool            `json:"isDir"`
	Children []*FileTreeNode `json:"children,omitempty"`
}

// WorkspaceInfo describes the open workspace.
type WorkspaceInfo struct {
	Name    string   `json:"name"`
	Root    string   `json:"root"`
	Folders []string `json:"folders,omitempty"`
	Editor  string   `json:"editor"`
}

// Empty is the payload of operations that take no arguments.
type Empty struct{}

// ContextRequest selects what GET_CONTEXT gathers.
type ContextRequest struct {
	IncludeFiles       bool `json:"includeFiles,omitempty"`
	IncludeDiagnostics bool `json:"includeDiagnostics,omitempty"`
	IncludeSelection   bool `json:"includeSelection,omitempty"`
	MaxFiles           int  `json:"maxFiles,omitempty"`
}

// ContextResponse is the aggregate editor context.
type ContextResponse struct {
	Workspace   *WorkspaceInfo `json:"workspace,omitempty"`
	ActiveFile  *FileContent   `json:"activeFile,omitempty"`
	Selection   *Selection     `json:"selection,omitempty"`
	Diagnostics []Diagnostic   `json:"diagnostics,omitempty"`
	Files       []FileInfo     `json:"files,omitempty"`
}

// DiagnosticsRequest limits diagnostics to one path when Path is set.
type DiagnosticsRequest struct {
	Path string `json:"path,omitempty"`
}

// DiagnosticsResponse lists diagnostics.
type DiagnosticsResponse struct {
	Diagnostics []Diagnostic `json:"diagnostics"`
}

// ReadFileRequest names a file to read.
type ReadFileRequest struct {
	Path     string `json:"path"`
	Encoding string `json:"encoding,omitempty"`
}

// WriteFileRequest replaces a file's content.
type WriteFileRequest struct {
	Path       string `json:"path"`
	Content    string `json:"content"`
	CreateDirs bool   `json:"createDirs,omitempty"`
}

// WriteFileResponse reports a completed write.
type WriteFileResponse struct {
	Path         string `json:"path"`
	BytesWritten int    `json:"bytesWritten"`
}

// ListFilesRequest lists files under Path.
type ListFilesRequest struct {
	Path       string `json:"path,omitempty"`
	Pattern    string `json:"pattern,omitempty"`
	Recursive  bool   `json:"recursive,omitempty"`
	MaxResults int    `json:"maxResults,omitempty"`
}

// ListFilesResponse lists matching files.
type ListFilesResponse struct {
	Files     []FileInfo `json:"files"`
	Truncated bool       `json:"truncated,omitempty"`
}

// FileTreeRequest asks for a tree rooted at Path.
type FileTreeRequest struct {
	Path     string `json:"path,omitempty"`
	MaxDepth int    `json:"maxDepth,omitempty"`
}

// AuthenticateRequest carries credentials for a named method.
type AuthenticateRequest struct {
	Method      string            `json:"method"`
	Credentials map[string]string `json:"credentials,omitempty"`
}

// AuthResult is an issued session token.
type AuthResult struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expiresAt"` // ms since epoch
	User      string `json:"user,omitempty"`
}

// TokenRequest names a token to refresh or validate.
type TokenRequest struct {
	Token string `json:"token"`
}

// TokenValidation reports whether a token is live.
type TokenValidation struct {
	Valid     bool   `json:"valid"`
	ExpiresAt int64  `json:"expiresAt,omitempty"`
	User      string `json:"user,omitempty"`
}

// PingResponse answers PING.
type PingResponse struct {
	Pong bool  `json:"pong"`
	Time int64 `json:"time"` // ms since epoch
}
