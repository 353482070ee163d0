// Command skiff builds, watches and serves web applications declared by an
// HTML manifest.
package main

import (
	"os"

	"github.com/conneroisu/skiff/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
