// qmt runs a metamorphic differential testing campaign.
//
// Usage:
//
//	qmt <config.yaml>
//
// Exit status is 0 when the campaign ends (budget expiry or signal), 1 on a
// fatal error and 2 on an invalid configuration.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/animus-labs/qmt/internal/config"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.Execute()
	switch {
	case err == nil:
		return 0
	case errors.Is(err, config.ErrInvalid), errors.Is(err, errUsage):
		fmt.Fprintf(stderr, "qmt: %v\n", err)
		return 2
	default:
		fmt.Fprintf(stderr, "qmt: %v\n", err)
		return 1
	}
}
