package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
)

// Environment variables
const (
	EnvOwner     = EnvPrefix + "_OWNER"
	EnvTokenA    = EnvPrefix + "_TOKEN_A"
	EnvTokenB    = EnvPrefix + "_TOKEN_B"
	EnvFeeTier   = EnvPrefix + "_FEE_TIER"
	EnvLogLevel  = EnvPrefix + "_LOG_LEVEL"
	EnvEnvFile   = EnvPrefix + "_ENV_FILE" // alternative .env path
	defaultEnvFn = ".env"
)

// LoadEnv loads variables from the .env file, or the file named by
// FLASHARB_ENV_FILE. Variables already set in the process win. A missing
// default file is not an error.
func LoadEnv() error {
	path := GetEnvWithDefault(EnvEnvFile, defaultEnvFn)
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) && path == defaultEnvFn {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// GetEnvWithDefault gets an environment variable with a default value
func GetEnvWithDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}
