package core

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildKeepsRoleOrder(t *testing.T) {
	chk := require.New(t)
	b := testBuilder(t)
	conv := stagingConv(t)
	inputs := conv.InputPaths("/data/staging_aaaa1111", "aaaa1111")

	inv, err := b.Build(inputs)
	chk.NoError(err)
	chk.Equal("octave", inv.Program)
	chk.Len(inv.Args, 2)
	chk.Equal("--eval", inv.Args[0])

	expr := inv.Args[1]
	chk.True(strings.HasPrefix(expr, "addpath('"+b.ScriptDir+"'); co2lab3DPUMLE('"), expr)
	chk.True(strings.HasSuffix(expr, "')"), expr)
	last := -1
	for _, p := range inputs {
		i := strings.Index(expr, "'"+p+"'")
		chk.Greater(i, last, "argument %s out of order", p)
		last = i
	}
	chk.Equal(len(inputs)-1, strings.Count(expr, "', '"))
}

func TestBuildPrependsExtraArgs(t *testing.T) {
	b := testBuilder(t)
	b.ExtraArgs = []string{"--no-gui", "--quiet"}
	inv, err := b.Build([]string{"/a.mat"})
	require.NoError(t, err)
	require.Equal(t, []string{"--no-gui", "--quiet", "--eval"}, inv.Args[:3])
}

func TestBuildRejectsUnquotablePath(t *testing.T) {
	b := testBuilder(t)
	for _, p := range []string{"/data/o'brien/x.mat", "/data/a\"b.mat", "/data/a\nb.mat"} {
		_, err := b.Build([]string{"/ok.mat", p})
		require.ErrorIs(t, err, ErrUnsafePath, p)
	}
}

func TestCheckScript(t *testing.T) {
	chk := require.New(t)
	b := testBuilder(t)
	chk.NoError(b.CheckScript())

	chk.NoError(os.Remove(b.ScriptPath()))
	err := b.CheckScript()
	var cfgErr *ConfigurationError
	chk.ErrorAs(err, &cfgErr)
	chk.Contains(err.Error(), "script file not found")
}

func TestNewCommandBuilderResolvesScriptDir(t *testing.T) {
	b, err := NewCommandBuilder(EngineConfig{Program: "octave", ScriptDir: "simulation", EntryPoint: entryPoint})
	require.NoError(t, err)
	require.True(t, filepath.IsAbs(b.ScriptDir))
	require.Equal(t, filepath.Join(b.ScriptDir, entryPoint+".m"), b.ScriptPath())
}
