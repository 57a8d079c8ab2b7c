// Package main is the entry point for the apitest CLI.
package main

import (
	"os"

	"github.com/apitest-cli/apitest/cmd/apitest/app"
	"github.com/apitest-cli/apitest/pkg/logger"
)

func main() {
	logger.Initialize()

	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
