// Command ragindex keeps a vector index in step with a set of source
// documents. It splits extracted text into chunks, embeds them and
// reconciles each document's entries against the index, from the CLI, an
// HTTP server, an NSQ worker or a directory watcher.
package main

import (
	"fmt"
	"os"

	"github.com/54b3r/ragindex-go/cmd/ragindex/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
