package main

import (
	"os"

	"github.com/firefly-engineering/devproxy/cmd"
	"github.com/firefly-engineering/devproxy/internal/errors"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(errors.GetExitCode(err))
	}
}
