package config

import (
	"fmt"

	"github.com/joho/godotenv"
)

// LoadEnvFile exports the variables in a dotenv file into the process
// environment. Variables that are already set win.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}
