package main

import (
	"fmt"
	"os"

	"github.com/leafscan/leafscan/cmd"
	"github.com/leafscan/leafscan/internal/conf"
)

func main() {
	settings := &conf.Settings{}
	if err := cmd.RootCommand(settings).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
