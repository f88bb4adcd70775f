// Command flexllamactl is the control-plane CLI for a running flexllamad
// gateway.
package main

import (
	"fmt"
	"os"

	"github.com/flexllama/flexllama/cmd/flexllamactl/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
