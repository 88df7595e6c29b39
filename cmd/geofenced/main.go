// Command geofenced serves the polygon validation API and validates polygon
// files from the command line.
package main

import (
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
