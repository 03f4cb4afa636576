// Command notemirror mirrors the OneNote notebook hierarchy of a Microsoft
// account into a local store and renders it for launchers.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
