package core

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	gssh "github.com/3cpo-dev/simbatch/internal/ssh"
)

// NewPublisher builds the publisher for the configured target.
func NewPublisher(ctx context.Context, cfg PublishConfig, marker string) (Publisher, error) {
	if cfg.Target == TargetS3 {
		p, err := NewS3Publisher(ctx, cfg.S3, marker)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
	p, err := NewSFTPPublisher(cfg, marker)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// SFTPPublisher uploads completed job folders to <RemoteDir>/<job name>/.
type SFTPPublisher struct {
	cfg    PublishConfig
	client *gssh.Client
	// Skip lists file names that stay local, such as the completion marker.
	Skip map[string]bool
}

// NewSFTPPublisher loads the key and known_hosts once; connections are per job.
func NewSFTPPublisher(cfg PublishConfig, marker string) (*SFTPPublisher, error) {
	if cfg.Addr == "" || cfg.User == "" || cfg.KeyPath == "" || cfg.RemoteDir == "" {
		return nil, &ConfigurationError{Reason: "publish requires addr, user, key_path and remote_dir"}
	}
	signer, err := gssh.LoadPrivateKeySigner(cfg.KeyPath)
	if err != nil {
		return nil, &ConfigurationError{Reason: "publish key", Err: err}
	}
	knownHosts := cfg.KnownHosts
	if knownHosts == "" {
		knownHosts = filepath.Join(ConfigHome(), "simbatch", "known_hosts")
	}
	kh, err := gssh.LoadKnownHostsCallback(knownHosts)
	if err != nil {
		return nil, &ConfigurationError{Reason: "publish known_hosts", Err: err}
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &SFTPPublisher{
		cfg:    cfg,
		client: &gssh.Client{Addr: cfg.Addr, User: cfg.User, Signer: signer, KnownHosts: kh, Timeout: timeout},
		Skip:   map[string]bool{marker: true},
	}, nil
}

func (p *SFTPPublisher) Publish(ctx context.Context, job Job) error {
	cli, err := gssh.Dial(ctx, p.client)
	if err != nil {
		return err
	}
	defer cli.Close()
	sf, err := gssh.OpenSFTP(cli)
	if err != nil {
		return err
	}
	defer sf.Close()

	remote := path.Join(p.cfg.RemoteDir, job.Name)
	n, err := gssh.PushDir(ctx, sf, job.Folder, remote, p.Skip)
	if err != nil {
		return fmt.Errorf("upload to %s:%s: %w", p.cfg.Addr, remote, err)
	}
	log.Info().Str("folder", job.Folder).Str("remote", remote).Int("files", n).Msg("Published job")
	return nil
}
