// Command editorbridge runs and talks to an editor bridge.
//
//	editorbridge serve --root ./project
//	editorbridge send READ_FILE '{"path":"main.go"}'
//	editorbridge emit file.saved '{"path":"main.go"}'
//	editorbridge watch
//	editorbridge health
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
