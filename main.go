package main

import (
	"os"

	"github.com/babelcloud/screenrelay/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
