package main

import (
	"os"

	"github.com/yegors/diarscribe/internal/cli"
	"github.com/yegors/diarscribe/internal/output"
)

func main() {
	if err := run(); err != nil {
		formatter := output.NewFormatter(os.Stderr)
		formatter.Error(err.Error())
		os.Exit(1)
	}
}

func run() error {
	deps := &cli.Dependencies{}
	defer deps.Close()

	return cli.NewRootCmd(deps).Execute()
}
