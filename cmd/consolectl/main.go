// file: cmd/consolectl/main.go
package main

import (
	"BundleConsole/internal/cli"
	"BundleConsole/internal/output"
	"os"
)

func main() {
	if err := cli.NewRootCmd().Execute(); err != nil {
		output.Logger.Error(err.Error())
		os.Exit(1)
	}
}
