package secrets

import (
	"fmt"
	"os"
	"strings"
)

// Resolve returns the secret value for a configuration key. Lookup
// order: SECRET_<KEY> in the environment, then a file path given by
// <KEY>_FILE (the usual container secret mount), then the plain value
// passed in. Empty results fall through to the next source.
func Resolve(key, plain string) (string, error) {
	if v := os.Getenv("SECRET_" + key); v != "" {
		return v, nil
	}
	if path := os.Getenv(key + "_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read secret file for %s: %w", key, err)
		}
		if v := strings.TrimSpace(string(data)); v != "" {
			return v, nil
		}
	}
	return plain, nil
}
