// Command botrunner serves visual chat-bot schemas: it runs their
// conversations over HTTP and MCP, validates schema files and simulates
// dialogues in the terminal.
package main

import (
	"fmt"
	"os"
)

func main() {
	cmd := NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(GetExitCode(err))
	}
}
