// Package main provides the entry point for the amansearch CLI.
package main

import (
	"os"

	"github.com/Aman-CERP/amansearch/cmd/amansearch/cmd"
	amanerrors "github.com/Aman-CERP/amansearch/internal/errors"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(amanerrors.ExitCode(err))
	}
}
