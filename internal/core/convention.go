package core

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// IDScheme selects how a job identifier is derived.
type IDScheme string

const (
	// IDHash strips a fixed-length prefix from the directory name.
	IDHash IDScheme = "hash"
	// IDSequence uses the 1-based discovery index.
	IDSequence IDScheme = "sequence"
)

// Ordering selects the batch sort key.
type Ordering string

const (
	OrderLexical Ordering = "lexical"
	OrderNumeric Ordering = "numeric"
)

// Tracking selects the completion strategy.
type Tracking string

const (
	TrackMarker Tracking = "marker"
	// TrackOutputCount is legacy: it assumes jobs finish in discovery order.
	TrackOutputCount Tracking = "output_count"
)

// DefaultRoles is the ordered list of semantic input roles the engine expects.
var DefaultRoles = []string{
	"Paths", "PreProcessing", "Grid", "Fluid",
	"InitialConditions", "BoundaryConditions", "Wells",
	"Schedule", "EXECUTION", "SimNums",
}

// Convention describes one deployment's naming, ordering and tracking rules.
type Convention struct {
	Name         string   `yaml:"name"`
	Root         string   `yaml:"root"`
	Prefix       string   `yaml:"prefix"`
	Ordering     Ordering `yaml:"ordering"`
	IDScheme     IDScheme `yaml:"id_scheme"`
	IDStrip      int      `yaml:"id_strip"`
	FileTemplate string   `yaml:"file_template"`
	Roles        []string `yaml:"roles"`
	Tracking     Tracking `yaml:"tracking"`
	OutputRoot   string   `yaml:"output_root"`
	MarkerName   string   `yaml:"marker_name"`
}

// Presets returns the built-in conventions keyed by name.
func Presets() map[string]Convention {
	return map[string]Convention{
		"staging": {
			Name:         "staging",
			Root:         filepath.Join("data_lake", "staging"),
			Prefix:       "staging_",
			Ordering:     OrderLexical,
			IDScheme:     IDHash,
			FileTemplate: "{role}_{id}.mat",
			Roles:        append([]string(nil), DefaultRoles...),
			Tracking:     TrackMarker,
			MarkerName:   "completed.flag",
		},
		"mat_files": {
			Name:         "mat_files",
			Root:         filepath.Join("data_lake", "mat_files"),
			Prefix:       "mat_files_",
			Ordering:     OrderNumeric,
			IDScheme:     IDSequence,
			FileTemplate: "{role}ParamsPUMLE_{id}.mat",
			Roles:        append([]string(nil), DefaultRoles...),
			Tracking:     TrackMarker,
			MarkerName:   "completed.flag",
		},
		"silver": {
			Name:         "silver",
			Root:         filepath.Join("data_lake", "mat_files"),
			Prefix:       "mat_files_",
			Ordering:     OrderNumeric,
			IDScheme:     IDSequence,
			FileTemplate: "{role}ParamsPUMLE_{id}.mat",
			Roles:        append([]string(nil), DefaultRoles...),
			Tracking:     TrackOutputCount,
			OutputRoot:   filepath.Join("data_lake", "silver_data"),
		},
	}
}

// Preset looks up a built-in convention.
func Preset(name string) (Convention, error) {
	c, ok := Presets()[name]
	if !ok {
		return Convention{}, &ConfigurationError{Reason: fmt.Sprintf("unknown convention %q", name)}
	}
	return c, nil
}

// Validate fills defaults and rejects inconsistent conventions.
func (c *Convention) Validate() error {
	if c.Root == "" {
		return &ConfigurationError{Reason: "convention root is empty"}
	}
	if c.Prefix == "" {
		return &ConfigurationError{Reason: "convention prefix is empty"}
	}
	if c.Ordering == "" {
		c.Ordering = OrderLexical
	}
	if c.IDScheme == "" {
		c.IDScheme = IDHash
	}
	if c.Tracking == "" {
		c.Tracking = TrackMarker
	}
	if c.MarkerName == "" {
		c.MarkerName = "completed.flag"
	}
	if c.FileTemplate == "" {
		c.FileTemplate = "{role}_{id}.mat"
	}
	if len(c.Roles) == 0 {
		c.Roles = append([]string(nil), DefaultRoles...)
	}
	switch c.Ordering {
	case OrderLexical, OrderNumeric:
	default:
		return &ConfigurationError{Reason: fmt.Sprintf("unknown ordering %q", c.Ordering)}
	}
	switch c.IDScheme {
	case IDHash:
		if c.IDStrip < 0 {
			return &ConfigurationError{Reason: "id_strip must not be negative"}
		}
	case IDSequence:
	default:
		return &ConfigurationError{Reason: fmt.Sprintf("unknown id scheme %q", c.IDScheme)}
	}
	switch c.Tracking {
	case TrackMarker:
	case TrackOutputCount:
		if c.OutputRoot == "" {
			return &ConfigurationError{Reason: "output_count tracking requires output_root"}
		}
	default:
		return &ConfigurationError{Reason: fmt.Sprintf("unknown tracking %q", c.Tracking)}
	}
	if !strings.Contains(c.FileTemplate, "{role}") || !strings.Contains(c.FileTemplate, "{id}") {
		return &ConfigurationError{Reason: fmt.Sprintf("file template %q needs {role} and {id}", c.FileTemplate)}
	}
	return nil
}

// JobID derives the identifier for the directory at discovery position index.
func (c Convention) JobID(name string, index int) string {
	if c.IDScheme == IDSequence {
		return strconv.Itoa(index + 1)
	}
	strip := c.strip()
	if len(name) <= strip {
		return ""
	}
	return name[strip:]
}

// InputPaths builds the expected input files for a job, in role order.
func (c Convention) InputPaths(folder, id string) []string {
	paths := make([]string, 0, len(c.Roles))
	for _, role := range c.Roles {
		name := strings.NewReplacer("{role}", role, "{id}", id).Replace(c.FileTemplate)
		paths = append(paths, filepath.Join(folder, name))
	}
	return paths
}

// ResolveInputs verifies every input of job exists, in role order.
func ResolveInputs(job Job) ([]string, error) {
	for _, p := range job.Inputs {
		info, err := os.Stat(p)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("%w: %s", ErrMissingInputFile, p)
			}
			return nil, fmt.Errorf("stat input %s: %w", p, err)
		}
		if info.IsDir() {
			return nil, fmt.Errorf("%w: %s is a directory", ErrMissingInputFile, p)
		}
	}
	return job.Inputs, nil
}

// strip is the number of leading characters removed by the hash scheme.
// Zero follows the prefix, so overriding only the prefix keeps IDs intact.
func (c Convention) strip() int {
	if c.IDStrip > 0 {
		return c.IDStrip
	}
	return len(c.Prefix)
}
