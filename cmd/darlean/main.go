package main

import (
	"fmt"
	"os"

	"github.com/darlean-io/darlean-go/cmd/darlean/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
