// Command arcadiaforge is the CLI surface described in spec.md §6:
// checkpoint and feature inspection subcommands plus the human
// injection "respond" transport.
package main

import (
	"fmt"
	"os"

	"github.com/arcadiaforge/arcadiaforge/cmd/arcadiaforge/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
