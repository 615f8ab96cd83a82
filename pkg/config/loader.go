package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// LocalEnvFile is read by LoadDotEnv when ENVIRONMENT is "local".
const LocalEnvFile = ".env.local"

// Load parses environment variables into the provided struct.
// The struct should use `env` tags to define mappings.
//
// Example:
//
//	type Config struct {
//	    Port     int    `env:"HTTP_PORT" envDefault:"8080"`
//	    LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
//	}
func Load(cfg any) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

// LoadDotEnv populates the process environment from the given files when
// ENVIRONMENT is "local". Variables already set are never overridden and a
// missing file is not an error. It reports whether any file was loaded.
func LoadDotEnv(files ...string) (bool, error) {
	if os.Getenv("ENVIRONMENT") != "local" {
		return false, nil
	}
	if len(files) == 0 {
		files = []string{LocalEnvFile}
	}

	loaded := false
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return loaded, fmt.Errorf("load %s: %w", f, err)
		}
		loaded = true
	}
	return loaded, nil
}
