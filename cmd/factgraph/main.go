// Command factgraph stores content-addressed facts and watches query
// results change as facts arrive.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/roach88/factgraph/internal/cli"
)

func main() {
	err := cli.NewRootCommand().Execute()
	var exitErr *cli.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	os.Exit(cli.GetExitCode(err))
}
