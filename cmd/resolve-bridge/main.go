// Command resolve-bridge lets a host application drive DaVinci Resolve by
// exchanging line-delimited JSON over stdin and stdout.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
