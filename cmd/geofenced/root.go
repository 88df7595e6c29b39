package main

import (
	"github.com/spf13/cobra"
)

const serviceName = "geofence"

var rootCmd = &cobra.Command{
	Use:   "geofenced",
	Short: "Polygon validation service",
	Long: `geofenced validates user-drawn polygons: ring closure, self-intersection,
antimeridian classification and overlap with already accepted polygons.`,
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	// Without a subcommand the binary serves, as it does in containers.
	RunE: runServe,
}
