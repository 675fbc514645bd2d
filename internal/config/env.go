package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// EnvSelector names the environment variable that selects the overlay
// file: with AUTOPILOT_ENV=ci, .env.ci is loaded after .env.
const EnvSelector = "AUTOPILOT_ENV"

// LoadDotEnv loads {dir}/.env and then {dir}/.env.<AUTOPILOT_ENV> into the
// process environment. Variables already set in the environment win over
// .env; the overlay file wins over .env. Missing files are not an error.
// It returns the files that were loaded.
func LoadDotEnv(dir string) ([]string, error) {
	var loaded []string

	base := filepath.Join(dir, ".env")
	if err := godotenv.Load(base); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return loaded, fmt.Errorf("failed to load %s: %w", base, err)
		}
	} else {
		loaded = append(loaded, base)
	}

	envName := os.Getenv(EnvSelector)
	if envName == "" {
		return loaded, nil
	}

	overlay := filepath.Join(dir, ".env."+envName)
	if err := godotenv.Overload(overlay); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return loaded, fmt.Errorf("failed to load %s: %w", overlay, err)
		}
		return loaded, nil
	}
	return append(loaded, overlay), nil
}
