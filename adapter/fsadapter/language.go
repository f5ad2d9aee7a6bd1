package fsadapter

import (
	"path/filepath"
	"strings"
)

var languages = map[string]string{
	".go":    "go",
	".mod":   "go.mod",
	".ts":    "typescript",
	".tsx":   "typescriptreact",
	".js":    "javascript",
	".jsx":   "javascriptreact",
	".json":  "json",
	".py":    "python",
	".rs":    "rust",
	".java":  "java",
	".kt":    "kotlin",
	".c":     "c",
	".h":     "c",
	".cpp":   "cpp",
	".hpp":   "cpp",
	".cs":    "csharp",
	".rb":    "ruby",
	".php":   "php",
	".swift": "swift",
	".sh":    "shellscript",
	".md":    "markdown",
	".html":  "html",
	".css":   "css",
	".scss":  "scss",
	".yaml":  "yaml",
	".yml":   "yaml",
	".toml":  "toml",
	".xml":   "xml",
	".sql":   "sql",
	".proto": "proto3",
}

// LanguageOf returns the editor language id for a file name, or
// "plaintext".
func LanguageOf(name string) string {
	switch strings.ToLower(name) {
	case "makefile":
		return "makefile"
	case "dockerfile":
		return "dockerfile"
	}
	if lang, ok := languages[strings.ToLower(filepath.Ext(name))]; ok {
		return lang
	}
	return "plaintext"
}
