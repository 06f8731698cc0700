package config

import (
	"os"

	"github.com/joho/godotenv"
)

// LoadEnvFiles loads .env files into the process environment so ${VAR}
// references in the YAML config resolve. Already-set variables win, and a
// missing file is not an error.
func LoadEnvFiles() {
	for _, name := range []string{".env.local", ".env"} {
		if _, err := os.Stat(name); err == nil {
			_ = godotenv.Load(name)
		}
	}
}
