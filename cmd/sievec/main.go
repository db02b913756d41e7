// Command sievec compiles, inspects and runs Sieve scripts, and serves the
// engine over HTTP.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "sievec: %v\n", err)
		os.Exit(1)
	}
}
