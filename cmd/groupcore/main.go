package main

import (
	"fmt"
	"os"

	"github.com/jra3/groupcore/cmd/groupcore/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
