// Command grove runs scenarios and inspects snapshots for the grove runtime.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/grove/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
