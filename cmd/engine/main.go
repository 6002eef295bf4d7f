// Visual trigger engine entrypoint.
package main

import (
	"os"

	"github.com/visualcue/engine/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
