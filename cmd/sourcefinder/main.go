// Command sourcefinder runs similarity searches from the terminal and
// administers the service database.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/kiranshivaraju/sourcefinder/internal/cli"
)

func main() {
	if err := cli.BuildCLI().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		if errors.Is(err, cli.ErrSearchFailed) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
