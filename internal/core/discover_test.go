package core

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func names(b Batch) []string {
	out := make([]string, len(b))
	for i, j := range b {
		out[i] = j.Name
	}
	return out
}

func TestDiscoverLexical(t *testing.T) {
	chk := require.New(t)
	conv := stagingConv(t)
	writeJob(t, conv, "staging_bbbb2222", 0)
	writeJob(t, conv, "staging_aaaa1111", 0)
	chk.NoError(os.MkdirAll(filepath.Join(conv.Root, "other_cccc3333"), 0o755))
	chk.NoError(os.WriteFile(filepath.Join(conv.Root, "staging_file"), nil, 0o644))

	batch, err := Discover(conv)
	chk.NoError(err)
	chk.Equal([]string{"staging_aaaa1111", "staging_bbbb2222"}, names(batch))
	chk.Equal("aaaa1111", batch[0].ID)
	chk.Equal(1, batch[1].Index)
	chk.Equal(filepath.Join(conv.Root, "staging_bbbb2222", "Grid_bbbb2222.mat"), batch[1].Inputs[2])
}

func TestDiscoverNumericSuffix(t *testing.T) {
	chk := require.New(t)
	conv := matFilesConv(t)
	for _, n := range []string{"mat_files_10", "mat_files_2", "mat_files_1"} {
		chk.NoError(os.MkdirAll(filepath.Join(conv.Root, n), 0o755))
	}
	batch, err := Discover(conv)
	chk.NoError(err)
	chk.Equal([]string{"mat_files_1", "mat_files_2", "mat_files_10"}, names(batch))
	chk.Equal("3", batch[2].ID)
	chk.Equal(filepath.Join(conv.Root, "mat_files_10", "SimNumsParamsPUMLE_3.mat"), batch[2].Inputs[9])
}

func TestDiscoverNonNumericSuffixIsFatal(t *testing.T) {
	conv := matFilesConv(t)
	require.NoError(t, os.MkdirAll(filepath.Join(conv.Root, "mat_files_1"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(conv.Root, "mat_files_x"), 0o755))
	_, err := Discover(conv)
	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
}

func TestDiscoverEmpty(t *testing.T) {
	chk := require.New(t)
	conv := stagingConv(t)
	_, err := Discover(conv)
	chk.ErrorIs(err, ErrNoJobsFound)
	info, statErr := os.Stat(conv.Root)
	chk.NoError(statErr, "missing root should be created")
	chk.True(info.IsDir())
}

func TestDiscoverDeterministic(t *testing.T) {
	parent := t.TempDir()
	rapid.Check(t, func(t *rapid.T) {
		hashes := rapid.SliceOfNDistinct(rapid.StringMatching(`[a-f0-9]{8}`), 1, 12, rapid.ID[string]).Draw(t, "hashes")
		root, err := os.MkdirTemp(parent, "snap")
		if err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		var want []string
		for _, h := range hashes {
			name := "staging_" + h
			want = append(want, name)
			if err := os.MkdirAll(filepath.Join(root, name), 0o755); err != nil {
				t.Fatalf("mkdir: %v", err)
			}
		}
		sort.Strings(want)

		conv, _ := Preset("staging")
		conv.Root = root
		first, err := Discover(conv)
		if err != nil {
			t.Fatalf("discover: %v", err)
		}
		second, err := Discover(conv)
		if err != nil {
			t.Fatalf("discover: %v", err)
		}
		got1, got2 := names(first), names(second)
		for i := range want {
			if got1[i] != want[i] || got2[i] != want[i] {
				t.Fatalf("order differs at %d: %v / %v, want %v", i, got1, got2, want)
			}
			if first[i].ID != want[i][len("staging_"):] {
				t.Fatalf("id mismatch for %s: %s", want[i], first[i].ID)
			}
		}
	})
}
