package migrate

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var migrationFileRe = regexp.MustCompile(`^\d{14}_[a-z0-9_]+\.sql$`)

// ValidateDir checks that every SQL file in dir follows the goose naming
// convention and carries both Up and Down sections.
func ValidateDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reading %q: %w", dir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		if !migrationFileRe.MatchString(entry.Name()) {
			return fmt.Errorf("migration %q does not match <YYYYMMDDHHMMSS>_<name>.sql", entry.Name())
		}
		raw, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return fmt.Errorf("reading %q: %w", entry.Name(), err)
		}
		contents := string(raw)
		if !strings.Contains(contents, "+goose Up") {
			return fmt.Errorf("migration %q is missing the +goose Up section", entry.Name())
		}
		if !strings.Contains(contents, "+goose Down") {
			return fmt.Errorf("migration %q is missing the +goose Down section", entry.Name())
		}
	}
	return nil
}
