package dotenv

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// Load reads KEY=VALUE files into the process environment. Missing files are
// skipped and variables that are already set win over file values.
func Load(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}

	var errs []error
	for _, path := range paths {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			errs = append(errs, fmt.Errorf("dotenv: %s: %w", path, err))
		}
	}

	return errors.Join(errs...)
}
