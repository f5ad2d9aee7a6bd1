// Package fsadapter serves the file and workspace contracts from a local
// directory. It lets the bridge run without an editor attached, and acts as
// the reference adapter for tests and the CLI.
package fsadapter

import (
	"context"
	"encoding/base64"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/vinayprograms/editorbridge/adapter"
	perrors "github.com/vinayprograms/editorbridge/errors"
	"github.com/vinayprograms/editorbridge/logging"
	"github.com/vinayprograms/editorbridge/protocol"
)

// Config configures the filesystem adapter.
type Config struct {
	// Root directory served. Required.
	Root string

	// Name reported by the adapter and workspace.
	// Default: "filesystem"
	Name string

	// ReadOnly rejects WRITE_FILE with FILE_ACCESS_DENIED.
	ReadOnly bool

	// MaxFileSize is the largest file READ_FILE returns.
	// Default: protocol.MaxMessageSize / 2
	MaxFileSize int64

	// MaxTreeDepth caps GET_FILE_TREE when the request does not.
	// Default: 4
	MaxTreeDepth int

	Logger *logging.Logger
}

// New creates an adapter serving cfg.Root. The root must be an existing
// directory.
func New(cfg Config) (*adapter.BaseAdapter, error) {
	ws, err := NewWorkspace(cfg)
	if err != nil {
		return nil, err
	}
	return adapter.NewBaseAdapter(adapter.BaseConfig{
		Name:     ws.name,
		Version:  protocol.ProtocolVersion,
		Features: adapter.Features{File: true, Workspace: true},
		Factories: adapter.Factories{
			File:      func(context.Context) (adapter.FileContract, error) { return ws, nil },
			Workspace: func(context.Context) (adapter.WorkspaceContract, error) { return ws, nil },
		},
		Logger: cfg.Logger,
	}), nil
}

// Workspace implements adapter.FileContract and adapter.WorkspaceContract
// over one directory. Paths in requests are relative to the root; paths that
// leave it are refused.
type Workspace struct {
	root     string
	name     string
	readOnly bool
	maxSize  int64
	maxDepth int
}

// NewWorkspace validates cfg and returns the contracts without an adapter.
func NewWorkspace(cfg Config) (*Workspace, error) {
	if cfg.Root == "" {
		return nil, perrors.InvalidRequest("workspace root is empty")
	}
	abs, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, perrors.New(perrors.ErrCodeWorkspaceNotFound, "resolving workspace root", perrors.WithCause(err))
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return nil, perrors.New(perrors.ErrCodeWorkspaceNotFound, fmt.Sprintf("workspace root %s is not a directory", cfg.Root),
			perrors.WithDetail("root", cfg.Root))
	}

	w := &Workspace{
		root:     abs,
		name:     cfg.Name,
		readOnly: cfg.ReadOnly,
		maxSize:  cfg.MaxFileSize,
		maxDepth: cfg.MaxTreeDepth,
	}
	if w.name == "" {
		w.name = "filesystem"
	}
	if w.maxSize <= 0 {
		w.maxSize = protocol.MaxMessageSize / 2
	}
	if w.maxDepth <= 0 {
		w.maxDepth = 4
	}
	return w, nil
}

// Root returns the absolute root directory.
func (w *Workspace) Root() string {
	return w.root
}

// resolve maps a request path to an absolute path inside the root.
func (w *Workspace) resolve(p string) (string, error) {
	if p == "" {
		p = "."
	}
	var abs string
	if filepath.IsAbs(p) {
		abs = filepath.Clean(p)
	} else {
		abs = filepath.Join(w.root, p)
	}
	if !w.contains(abs) {
		return "", denied(p)
	}

	// A symlink inside the root may point outside it.
	if real, err := filepath.EvalSymlinks(abs); err == nil && !w.contains(real) {
		return "", denied(p)
	}
	return abs, nil
}

func (w *Workspace) contains(abs string) bool {
	rel, err := filepath.Rel(w.root, abs)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

func (w *Workspace) rel(abs string) string {
	rel, err := filepath.Rel(w.root, abs)
	if err != nil {
		return abs
	}
	return filepath.ToSlash(rel)
}

func denied(p string) error {
	return perrors.New(perrors.ErrCodeFileAccessDenied, fmt.Sprintf("path %s is outside the workspace", p),
		perrors.WithDetail("path", p))
}

func statError(p string, err error) error {
	switch {
	case os.IsNotExist(err):
		return perrors.New(perrors.ErrCodeFileNotFound, fmt.Sprintf("%s does not exist", p), perrors.WithDetail("path", p))
	case os.IsPermission(err):
		return perrors.New(perrors.ErrCodeFileAccessDenied, fmt.Sprintf("%s is not accessible", p),
			perrors.WithDetail("path", p), perrors.WithCause(err))
	}
	return perrors.Wrap(err, "accessing "+p, perrors.WithDetail("path", p))
}

func (w *Workspace) fileInfo(abs string, info fs.FileInfo) protocol.FileInfo {
	fi := protocol.FileInfo{
		Path:       w.rel(abs),
		Name:       info.Name(),
		IsDir:      info.IsDir(),
		Size:       info.Size(),
		ModifiedAt: info.ModTime().UnixMilli(),
	}
	if !fi.IsDir {
		fi.Language = LanguageOf(info.Name())
	}
	return fi
}

// --- FileContract ---

// ReadFile returns the file content as UTF-8 text, or base64 when the file
// is not valid UTF-8 or req.Encoding asks for it.
func (w *Workspace) ReadFile(_ context.Context, req protocol.ReadFileRequest) (*protocol.FileContent, error) {
	abs, err := w.resolve(req.Path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, statError(req.Path, err)
	}
	if info.IsDir() {
		return nil, perrors.InvalidRequest(req.Path+" is a directory", perrors.WithDetail("path", req.Path))
	}
	if info.Size() > w.maxSize {
		return nil, perrors.InvalidRequest(fmt.Sprintf("%s exceeds the %d byte read limit", req.Path, w.maxSize),
			perrors.WithDetail("path", req.Path), perrors.WithDetail("size", info.Size()))
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, statError(req.Path, err)
	}

	fc := &protocol.FileContent{FileInfo: w.fileInfo(abs, info)}
	if req.Encoding == "base64" || !utf8.Valid(data) {
		fc.Content = base64.StdEncoding.EncodeToString(data)
		fc.Encoding = "base64"
	} else {
		fc.Content = string(data)
		fc.Encoding = "utf-8"
	}
	return fc, nil
}

// WriteFile replaces the file content.
func (w *Workspace) WriteFile(_ context.Context, req protocol.WriteFileRequest) (*protocol.WriteFileResponse, error) {
	if w.readOnly {
		return nil, perrors.New(perrors.ErrCodeFileAccessDenied, "workspace is read-only", perrors.WithDetail("path", req.Path))
	}
	if req.Path == "" {
		return nil, perrors.InvalidRequest("path is required")
	}
	abs, err := w.resolve(req.Path)
	if err != nil {
		return nil, err
	}
	if abs == w.root {
		return nil, perrors.InvalidRequest("cannot write the workspace root")
	}

	dir := filepath.Dir(abs)
	if req.CreateDirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, statError(req.Path, err)
		}
	} else if _, err := os.Stat(dir); err != nil {
		return nil, statError(w.rel(dir), err)
	}

	if err := os.WriteFile(abs, []byte(req.Content), 0o644); err != nil {
		return nil, statError(req.Path, err)
	}
	return &protocol.WriteFileResponse{Path: w.rel(abs), BytesWritten: len(req.Content)}, nil
}

// ListFiles lists the entries under req.Path. Pattern matches base names
// with filepath.Match syntax. Results are ordered by path.
func (w *Workspace) ListFiles(_ context.Context, req protocol.ListFilesRequest) (*protocol.ListFilesResponse, error) {
	start, err := w.resolve(req.Path)
	if err != nil {
		return nil, err
	}
	if req.Pattern != "" {
		if _, err := filepath.Match(req.Pattern, ""); err != nil {
			return nil, perrors.InvalidRequest("invalid pattern "+req.Pattern, perrors.WithCause(err))
		}
	}
	info, err := os.Stat(start)
	if err != nil {
		return nil, statError(req.Path, err)
	}
	if !info.IsDir() {
		return nil, perrors.InvalidRequest(req.Path+" is not a directory", perrors.WithDetail("path", req.Path))
	}

	resp := &protocol.ListFilesResponse{Files: []protocol.FileInfo{}}
	full := func() bool { return req.MaxResults > 0 && len(resp.Files) >= req.MaxResults }

	walkErr := filepath.WalkDir(start, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == start {
				return err
			}
			return nil
		}
		if p == start {
			return nil
		}
		if req.Pattern == "" || matches(req.Pattern, d.Name()) {
			if full() {
				resp.Truncated = true
				return filepath.SkipAll
			}
			info, err := d.Info()
			if err == nil {
				resp.Files = append(resp.Files, w.fileInfo(p, info))
			}
		}
		if d.IsDir() && !req.Recursive {
			return filepath.SkipDir
		}
		return nil
	})
	if walkErr != nil {
		return nil, statError(req.Path, walkErr)
	}
	return resp, nil
}

func matches(pattern, name string) bool {
	ok, _ := filepath.Match(pattern, name)
	return ok
}

// GetFileTree returns the directory tree under req.Path, children sorted
// directories first, then by name.
func (w *Workspace) GetFileTree(_ context.Context, req protocol.FileTreeRequest) (*protocol.FileTreeNode, error) {
	abs, err := w.resolve(req.Path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, statError(req.Path, err)
	}

	depth := req.MaxDepth
	if depth <= 0 || depth > w.maxDepth {
		depth = w.maxDepth
	}
	return w.tree(abs, info, depth), nil
}

func (w *Workspace) tree(abs string, info fs.FileInfo, depth int) *protocol.FileTreeNode {
	node := &protocol.FileTreeNode{Name: info.Name(), Path: w.rel(abs), IsDir: info.IsDir()}
	if abs == w.root {
		node.Name = filepath.Base(w.root)
	}
	if !info.IsDir() || depth == 0 {
		return node
	}

	entries, err := os.ReadDir(abs)
	if err != nil {
		return node
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].IsDir() != entries[j].IsDir() {
			return entries[i].IsDir()
		}
		return entries[i].Name() < entries[j].Name()
	})
	for _, e := range entries {
		child := filepath.Join(abs, e.Name())
		if _, err := w.resolve(w.rel(child)); err != nil {
			continue
		}
		ci, err := e.Info()
		if err != nil {
			continue
		}
		node.Children = append(node.Children, w.tree(child, ci, depth-1))
	}
	return node
}

// --- WorkspaceContract ---

// GetWorkspaceInfo describes the served directory.
func (w *Workspace) GetWorkspaceInfo(context.Context) (*protocol.WorkspaceInfo, error) {
	if _, err := os.Stat(w.root); err != nil {
		return nil, perrors.New(perrors.ErrCodeWorkspaceNotFound, "workspace root is gone",
			perrors.WithDetail("root", w.root), perrors.WithCause(err))
	}
	return &protocol.WorkspaceInfo{
		Name:    filepath.Base(w.root),
		Root:    w.root,
		Folders: []string{w.root},
		Editor:  w.name,
	}, nil
}
