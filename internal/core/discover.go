package core

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/3cpo-dev/simbatch/pkg/api"
)

// Job is one simulation directory and its resolved input paths.
type Job struct {
	ID     string
	Index  int
	Name   string
	Folder string
	Inputs []string
	State  api.JobState
}

// Batch is the ordered set of jobs built once per run.
type Batch []Job

// Discover scans conv.Root and returns the matching job directories in a stable order.
// A missing root is created so that the run reports ErrNoJobsFound rather than failing.
func Discover(conv Convention) (Batch, error) {
	root, err := filepath.Abs(conv.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create root: %w", err)
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("read root: %w", err)
	}

	type candidate struct {
		name string
		key  int
	}
	var found []candidate
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), conv.Prefix) {
			continue
		}
		c := candidate{name: e.Name()}
		if conv.Ordering == OrderNumeric {
			c.key, err = numericSuffix(e.Name())
			if err != nil {
				return nil, err
			}
		}
		found = append(found, c)
	}
	if len(found) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoJobsFound, root)
	}

	sort.SliceStable(found, func(i, j int) bool {
		if conv.Ordering == OrderNumeric && found[i].key != found[j].key {
			return found[i].key < found[j].key
		}
		return found[i].name < found[j].name
	})

	batch := make(Batch, 0, len(found))
	for i, c := range found {
		folder := filepath.Join(root, c.name)
		id := conv.JobID(c.name, i)
		batch = append(batch, Job{
			ID:     id,
			Index:  i,
			Name:   c.name,
			Folder: folder,
			Inputs: conv.InputPaths(folder, id),
			State:  api.JobPending,
		})
	}
	log.Debug().Str("root", root).Int("jobs", len(batch)).Msg("Discovered job folders")
	return batch, nil
}

// numericSuffix parses the integer after the last underscore.
func numericSuffix(name string) (int, error) {
	i := strings.LastIndexByte(name, '_')
	n, err := strconv.Atoi(name[i+1:])
	if err != nil {
		return 0, &ConfigurationError{Reason: fmt.Sprintf("directory %q has no numeric suffix", name), Err: err}
	}
	return n, nil
}
