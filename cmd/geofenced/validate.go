package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cobrun/geofence/geo"
	"github.com/cobrun/geofence/logging"
	"github.com/cobrun/geofence/polygons"
)

var validateCmd = &cobra.Command{
	Use:   "validate [file...]",
	Short: "Validate polygon files",
	Long: `Validates each file in order. A file holds WKT, EWKT or a GeoJSON geometry.
Accepted polygons join the corpus that later files are checked against.
Prints one JSON line per file and fails if any polygon is rejected.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runValidate,
}

var (
	wrapLongitude bool
	maxVertices   int
	logLevel      string
)

func init() {
	validateCmd.Flags().BoolVar(&wrapLongitude, "wrap-longitude", false, "Shift longitudes above 180 by -360")
	validateCmd.Flags().IntVar(&maxVertices, "max-vertices", 10000, "Maximum distinct vertices per polygon")
	validateCmd.Flags().StringVar(&logLevel, "log-level", "error", "Log level written to stderr")
	rootCmd.AddCommand(validateCmd)
}

// fileReport is the JSON line printed for each file.
type fileReport struct {
	File                string   `json:"file"`
	ID                  string   `json:"id,omitempty"`
	Valid               bool     `json:"is_valid"`
	Reason              string   `json:"reason,omitempty"`
	Message             string   `json:"message,omitempty"`
	CrossesAntimeridian bool     `json:"crosses_antimeridian,omitempty"`
	Conflicts           []string `json:"conflicts,omitempty"`
}

func runValidate(cmd *cobra.Command, args []string) error {
	logger := logging.NewLoggerWithWriter(cmd.ErrOrStderr(), logLevel)
	svc := polygons.NewService(polygons.ServiceConfig{
		Store: polygons.NewMemoryStore(),
		Validator: polygons.NewValidator(polygons.ValidatorConfig{
			Options: polygons.Options{
				WrapLongitude: wrapLongitude,
				MaxVertices:   maxVertices,
			},
			Logger: logger,
		}),
		Logger: logger,
	})

	enc := json.NewEncoder(cmd.OutOrStdout())
	rejected := 0
	for _, path := range args {
		report, err := validateFile(cmd, svc, path)
		if err != nil {
			return err
		}
		if !report.Valid {
			rejected++
		}
		if err := enc.Encode(report); err != nil {
			return err
		}
	}

	if rejected > 0 {
		return fmt.Errorf("%d of %d polygons rejected", rejected, len(args))
	}
	return nil
}

func validateFile(cmd *cobra.Command, svc *polygons.Service, path string) (*fileReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	rec, res, err := svc.Create(cmd.Context(), name, sourceOf(data))

	report := &fileReport{File: path}
	switch {
	case rec != nil:
		report.Valid = true
		report.ID = rec.ID
		report.CrossesAntimeridian = rec.CrossesAntimeridian
	case res != nil:
		report.Reason = string(res.Reason)
		report.Message = res.Message()
		for _, x := range res.Intersections {
			report.Conflicts = append(report.Conflicts, x.Name)
		}
	default:
		return nil, fmt.Errorf("validate %s: %w", path, err)
	}
	return report, nil
}

// sourceOf picks GeoJSON for a JSON object and geometry text otherwise.
func sourceOf(data []byte) geo.Source {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		return geo.FromGeoJSON(trimmed)
	}
	return geo.FromText(string(trimmed))
}
