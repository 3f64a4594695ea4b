package ssh

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/sftp"
	"github.com/stretchr/testify/require"
)

type pipeConn struct {
	io.Reader
	io.WriteCloser
}

// newMemSFTP wires an SFTP client to an in-memory server over pipes.
func newMemSFTP(t *testing.T) *sftp.Client {
	t.Helper()
	clientRead, serverWrite := io.Pipe()
	serverRead, clientWrite := io.Pipe()

	server := sftp.NewRequestServer(pipeConn{serverRead, serverWrite}, sftp.InMemHandler())
	go func() { _ = server.Serve() }()

	client, err := sftp.NewClientPipe(clientRead, clientWrite)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = server.Close()
		_ = client.Close()
	})
	return client
}

func TestPushDir(t *testing.T) {
	chk := require.New(t)
	local := t.TempDir()
	chk.NoError(os.WriteFile(filepath.Join(local, "Fluid_abc.mat"), []byte("fluid"), 0o644))
	chk.NoError(os.WriteFile(filepath.Join(local, "completed.flag"), []byte("done\n"), 0o644))
	chk.NoError(os.MkdirAll(filepath.Join(local, "out"), 0o755))
	chk.NoError(os.WriteFile(filepath.Join(local, "out", "states.mat"), []byte("states"), 0o644))

	sf := newMemSFTP(t)
	n, err := PushDir(context.Background(), sf, local, "/results/staging_abc", map[string]bool{"completed.flag": true})
	chk.NoError(err)
	chk.Equal(2, n)

	info, err := sf.Stat("/results/staging_abc/out/states.mat")
	chk.NoError(err)
	chk.EqualValues(len("states"), info.Size())

	_, err = sf.Stat("/results/staging_abc/completed.flag")
	chk.Error(err)
}

func TestPushDirStopsOnCancel(t *testing.T) {
	chk := require.New(t)
	local := t.TempDir()
	chk.NoError(os.WriteFile(filepath.Join(local, "a.mat"), []byte("a"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := PushDir(ctx, newMemSFTP(t), local, "/results", nil)
	chk.ErrorIs(err, context.Canceled)
}
