package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

var envFiles = []string{".env", ".env.local"}

// loadEnvFiles loads environment variables from .env/.env.local when present.
// Existing process environment variables are not overwritten.
func loadEnvFiles() {
	for _, path := range envFiles {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			fmt.Fprintf(os.Stderr, "Note: could not load %s: %v\n", path, err)
		}
	}
}
