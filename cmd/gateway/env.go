package main

import (
	"errors"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

const envFilePathEnv = "SYNAPSE_ENV_FILE"

// loadEnvFile loads .env (or SYNAPSE_ENV_FILE) and reports how many variables
// it added. Variables already present in the environment win, and a missing
// file is not an error.
func loadEnvFile() (string, int, error) {
	path := strings.TrimSpace(os.Getenv(envFilePathEnv))
	if path == "" {
		path = ".env"
	}
	values, err := godotenv.Read(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return path, 0, nil
		}
		return path, 0, err
	}
	added := 0
	for key := range values {
		if _, exists := os.LookupEnv(key); !exists {
			added++
		}
	}
	if err := godotenv.Load(path); err != nil {
		return path, 0, err
	}
	return path, added, nil
}
