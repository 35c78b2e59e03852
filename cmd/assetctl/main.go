// assetctl is the operator CLI for an assetwatch server.
package main

import (
	"fmt"
	"os"
)

// Version is set by ldflags.
var Version = "dev"

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorColor("Error:"), err)
		os.Exit(1)
	}
}
