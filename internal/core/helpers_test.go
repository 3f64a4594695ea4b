package core

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

const entryPoint = "co2lab3DPUMLE"

func stagingConv(t testing.TB) Convention {
	t.Helper()
	c, err := Preset("staging")
	require.NoError(t, err)
	c.Root = filepath.Join(t.TempDir(), "staging")
	require.NoError(t, c.Validate())
	return c
}

func matFilesConv(t testing.TB) Convention {
	t.Helper()
	c, err := Preset("mat_files")
	require.NoError(t, err)
	c.Root = filepath.Join(t.TempDir(), "mat_files")
	require.NoError(t, c.Validate())
	return c
}

// writeJob creates a job folder with every input except the roles in missing.
func writeJob(t testing.TB, conv Convention, name string, index int, missing ...string) string {
	t.Helper()
	folder := filepath.Join(conv.Root, name)
	require.NoError(t, os.MkdirAll(folder, 0o755))
	skip := map[string]bool{}
	for _, m := range missing {
		skip[m] = true
	}
	for i, p := range conv.InputPaths(folder, conv.JobID(name, index)) {
		if skip[conv.Roles[i]] {
			continue
		}
		require.NoError(t, os.WriteFile(p, []byte("mat"), 0o644))
	}
	return folder
}

// writeScript creates the engine entry point and returns its directory.
func writeScript(t testing.TB) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "simulation")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, entryPoint+".m"), []byte("% engine\n"), 0o644))
	return dir
}

func testBuilder(t testing.TB) *CommandBuilder {
	t.Helper()
	b, err := NewCommandBuilder(EngineConfig{Program: "octave", ScriptDir: writeScript(t), EntryPoint: entryPoint})
	require.NoError(t, err)
	return b
}

// fakeRunner records invocations and fails the folders listed in codes.
type fakeRunner struct {
	mu    sync.Mutex
	calls []Invocation
	codes map[string]int
	hook  func(inv Invocation)
}

func (f *fakeRunner) Run(ctx context.Context, inv Invocation) (int, error) {
	f.mu.Lock()
	f.calls = append(f.calls, inv)
	f.mu.Unlock()
	if f.hook != nil {
		f.hook(inv)
	}
	expr := inv.Args[len(inv.Args)-1]
	for name, code := range f.codes {
		if code != 0 && strings.Contains(expr, string(filepath.Separator)+name+string(filepath.Separator)) {
			return code, &SimulationFailedError{Code: code}
		}
	}
	return 0, nil
}

func (f *fakeRunner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// invoked reports whether any invocation referenced the named folder.
func (f *fakeRunner) invoked(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if strings.Contains(c.Args[len(c.Args)-1], string(filepath.Separator)+name+string(filepath.Separator)) {
			return true
		}
	}
	return false
}
