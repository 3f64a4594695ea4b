package ssh

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/pkg/sftp"
	xssh "golang.org/x/crypto/ssh"
)

// OpenSFTP starts an SFTP session on an established connection.
func OpenSFTP(client *xssh.Client) (*sftp.Client, error) {
	sf, err := sftp.NewClient(client)
	if err != nil {
		return nil, fmt.Errorf("sftp client: %w", err)
	}
	return sf, nil
}

// PushDir uploads every regular file under localDir to remoteDir, keeping the
// relative layout, and checks each remote size afterwards. Files named in skip
// are left out. It returns the number of files uploaded.
func PushDir(ctx context.Context, sf *sftp.Client, localDir, remoteDir string, skip map[string]bool) (int, error) {
	n := 0
	err := filepath.WalkDir(localDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !d.Type().IsRegular() || skip[d.Name()] {
			return nil
		}
		rel, err := filepath.Rel(localDir, p)
		if err != nil {
			return err
		}
		if err := pushFile(sf, p, path.Join(remoteDir, filepath.ToSlash(rel))); err != nil {
			return err
		}
		n++
		return nil
	})
	return n, err
}

func pushFile(sf *sftp.Client, localPath, remotePath string) error {
	if err := sf.MkdirAll(path.Dir(remotePath)); err != nil {
		return fmt.Errorf("mkdir remote: %w", err)
	}
	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open local: %w", err)
	}
	defer src.Close()
	dst, err := sf.Create(remotePath)
	if err != nil {
		return fmt.Errorf("create remote: %w", err)
	}
	written, err := io.Copy(dst, src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("copy %s: %w", localPath, err)
	}

	info, err := sf.Stat(remotePath)
	if err != nil {
		return fmt.Errorf("stat remote: %w", err)
	}
	if info.Size() != written {
		_ = sf.Remove(remotePath)
		return fmt.Errorf("size mismatch for %s: wrote %d, remote has %d", remotePath, written, info.Size())
	}
	return nil
}
