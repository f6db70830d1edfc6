// Package config provides YAML-based configuration loading with environment
// variable expansion, and flat environment mappings read from dotenv files.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Read decodes a YAML file into target after environment variable expansion.
// Fields absent from the file keep their current values.
func Read[T any](filename string, target *T) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", filename, err)
	}

	expandedData := os.ExpandEnv(string(data))

	if err := yaml.Unmarshal([]byte(expandedData), target); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", filename, err)
	}
	return nil
}

// ReadEnv returns the variables of a dotenv file overlaid with the process
// environment, which wins on conflicts. A missing file is not an error.
func ReadEnv(filename string) (map[string]string, error) {
	env := make(map[string]string)
	if filename != "" {
		fileEnv, err := godotenv.Read(filename)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read env file %s: %w", filename, err)
		default:
			env = fileEnv
		}
	}
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return env, nil
}
