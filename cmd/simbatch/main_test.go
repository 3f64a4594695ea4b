package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/3cpo-dev/simbatch/pkg/api"
)

var roles = []string{
	"Paths", "PreProcessing", "Grid", "Fluid",
	"InitialConditions", "BoundaryConditions", "Wells",
	"Schedule", "EXECUTION", "SimNums",
}

type workspace struct {
	dir    string
	config string
}

// newWorkspace lays out data_lake/staging and simulation/ under a temp dir
// and writes a config that runs program as the engine.
func newWorkspace(t *testing.T, program string) *workspace {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	bin, err := exec.LookPath(program)
	if err != nil {
		t.Skipf("%s not available", program)
	}
	dir := t.TempDir()
	script := filepath.Join(dir, "simulation")
	require.NoError(t, os.MkdirAll(script, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(script, "co2lab3DPUMLE.m"), []byte("% engine\n"), 0o644))

	w := &workspace{dir: dir, config: filepath.Join(dir, "simbatch.yaml")}
	w.setProgram(t, bin)
	return w
}

func (w *workspace) setProgram(t *testing.T, bin string) {
	t.Helper()
	body := fmt.Sprintf(`preset: staging
engine:
  program: %q
  script_dir: %q
convention:
  root: %q
ledger:
  path: %q
`, bin, filepath.Join(w.dir, "simulation"), filepath.Join(w.dir, "data_lake", "staging"), filepath.Join(w.dir, "data_lake", "simbatch.db"))
	require.NoError(t, os.WriteFile(w.config, []byte(body), 0o644))
}

func (w *workspace) addJob(t *testing.T, hash string, missing ...string) string {
	t.Helper()
	folder := filepath.Join(w.dir, "data_lake", "staging", "staging_"+hash)
	require.NoError(t, os.MkdirAll(folder, 0o755))
	skip := map[string]bool{}
	for _, m := range missing {
		skip[m] = true
	}
	for _, r := range roles {
		if skip[r] {
			continue
		}
		require.NoError(t, os.WriteFile(filepath.Join(folder, r+"_"+hash+".mat"), []byte("mat"), 0o644))
	}
	return folder
}

func (w *workspace) run(t *testing.T, args ...string) (string, string, int) {
	t.Helper()
	root := newRootCmd()
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(append([]string{"--config", w.config}, args...))
	code := exitCode(root.ExecuteContext(context.Background()))
	return stdout.String(), stderr.String(), code
}

func TestVersionCommand(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	require.NoError(t, root.Execute())
	require.True(t, strings.HasPrefix(out.String(), "simbatch "+version))
}

func TestRunAllComplete(t *testing.T) {
	chk := require.New(t)
	w := newWorkspace(t, "true")
	a := w.addJob(t, "aaaa1111")
	b := w.addJob(t, "bbbb2222")

	out, _, code := w.run(t, "2")
	chk.Equal(0, code)
	chk.Contains(out, "All simulations completed.")
	chk.FileExists(filepath.Join(a, "completed.flag"))
	chk.FileExists(filepath.Join(b, "completed.flag"))
	chk.FileExists(filepath.Join(a, "simulation.log"))

	// Everything is marked, so a failing engine is never reached.
	falseBin, err := exec.LookPath("false")
	if err != nil {
		t.Skip("false not available")
	}
	w.setProgram(t, falseBin)
	_, _, code = w.run(t)
	chk.Equal(0, code)
}

func TestRunReportsFailures(t *testing.T) {
	chk := require.New(t)
	w := newWorkspace(t, "false")
	a := w.addJob(t, "aaaa1111")

	_, stderr, code := w.run(t, "1")
	chk.Equal(1, code)
	chk.Contains(stderr, "One or more simulations failed.")
	chk.Contains(stderr, a)
	chk.NoFileExists(filepath.Join(a, "completed.flag"))
}

func TestRunMissingInput(t *testing.T) {
	chk := require.New(t)
	w := newWorkspace(t, "true")
	a := w.addJob(t, "aaaa1111")
	b := w.addJob(t, "bbbb2222", "Wells")

	_, stderr, code := w.run(t)
	chk.NotEqual(0, code)
	chk.Contains(stderr, "Wells_bbbb2222.mat")
	chk.FileExists(filepath.Join(a, "completed.flag"))
	chk.NoFileExists(filepath.Join(b, "completed.flag"))
}

func TestRunNoJobs(t *testing.T) {
	w := newWorkspace(t, "true")
	_, _, code := w.run(t)
	require.Equal(t, 1, code)
}

func TestRunRejectsBadThreadCount(t *testing.T) {
	w := newWorkspace(t, "true")
	w.addJob(t, "aaaa1111")
	for _, arg := range []string{"abc", "0", "-2"} {
		_, _, code := w.run(t, "--", arg)
		require.Equal(t, 1, code, arg)
	}
	require.NoFileExists(t, filepath.Join(w.dir, "data_lake", "staging", "staging_aaaa1111", "completed.flag"))
}

func TestLsAndStatus(t *testing.T) {
	chk := require.New(t)
	w := newWorkspace(t, "true")
	w.addJob(t, "aaaa1111")
	w.addJob(t, "bbbb2222")

	out, _, code := w.run(t, "ls")
	chk.Equal(0, code)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	chk.Len(lines, 2)
	chk.Contains(lines[0], "aaaa1111")
	chk.Contains(lines[0], "pending")

	_, _, code = w.run(t)
	chk.Equal(0, code)

	out, _, code = w.run(t, "ls")
	chk.Equal(0, code)
	chk.Equal(2, strings.Count(out, "complete"))

	out, _, code = w.run(t, "status", "--json")
	chk.Equal(0, code)
	var runs []api.RunRecord
	chk.NoError(json.Unmarshal([]byte(out), &runs))
	chk.Len(runs, 1)
	chk.Equal(0, *runs[0].ExitCode)

	out, _, code = w.run(t, "status", "--json", runs[0].ID)
	chk.Equal(0, code)
	var sims []api.SimulationRecord
	chk.NoError(json.Unmarshal([]byte(out), &sims))
	chk.Len(sims, 2)
	chk.Equal(api.JobComplete, sims[0].State)
}

func TestKeygen(t *testing.T) {
	chk := require.New(t)
	w := newWorkspace(t, "true")
	key := filepath.Join(t.TempDir(), "id_ed25519")
	out, _, code := w.run(t, "keygen", "--out", key)
	chk.Equal(0, code)
	chk.Contains(out, "ssh-ed25519 ")
	chk.FileExists(key)
	chk.FileExists(key + ".pub")

	_, _, code = w.run(t, "keygen", "--out", key)
	chk.Equal(1, code)
}

func TestKeygenDefaultsToConfigHome(t *testing.T) {
	chk := require.New(t)
	w := newWorkspace(t, "true")
	home := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", home)

	out, _, code := w.run(t, "keygen")
	chk.Equal(0, code)
	want := filepath.Join(home, "simbatch", "id_ed25519")
	chk.Contains(out, want)
	chk.FileExists(want)
}

func TestCompletion(t *testing.T) {
	w := newWorkspace(t, "true")
	out, _, code := w.run(t, "completion", "bash")
	require.Equal(t, 0, code)
	require.Contains(t, out, "simbatch")
}
