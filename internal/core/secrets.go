package core

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/joho/godotenv"
)

// secretKeys may come from secrets.env or the environment; the environment wins.
var secretKeys = []string{
	"SIMBATCH_PUBLISH_ADDR",
	"SIMBATCH_PUBLISH_USER",
	"SIMBATCH_PUBLISH_KEY_PATH",
	"SIMBATCH_S3_ACCESS_KEY_ID",
	"SIMBATCH_S3_SECRET_ACCESS_KEY",
}

// LoadSecretsEnv reads $XDG_CONFIG_HOME/simbatch/secrets.env (or ~/.config/simbatch/secrets.env)
// and returns key/value pairs. A missing file yields an empty map.
func LoadSecretsEnv(path string) (map[string]string, error) {
	if path == "" {
		path = filepath.Join(ConfigHome(), "simbatch", "secrets.env")
	}
	out, err := godotenv.Read(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("read secrets: %w", err)
	}
	return out, nil
}
