// Command zasr runs the streaming ASR gateway and manages its voice-print
// catalog.
package main

import (
	"fmt"
	"os"

	"github.com/haivivi/zasr/cmd/zasr/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
