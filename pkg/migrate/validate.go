package migrate

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"strings"
)

var fileNameRe = regexp.MustCompile(`^(\d{14})_[a-z0-9_]+\.sql$`)

// Validate checks filenames, version uniqueness and goose markers for every
// .sql file at the root of fsys.
func Validate(fsys fs.FS) error {
	if fsys == nil {
		return errors.New("migrations fs is required")
	}
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	versions := make(map[string]string, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || path.Ext(name) != ".sql" {
			continue
		}
		m := fileNameRe.FindStringSubmatch(name)
		if m == nil {
			return fmt.Errorf("invalid migration filename %q (expected YYYYMMDDHHMMSS_name.sql)", name)
		}
		if other, dup := versions[m[1]]; dup {
			return fmt.Errorf("version %s used by both %q and %q", m[1], other, name)
		}
		versions[m[1]] = name

		body, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("read %q: %w", name, err)
		}
		if err := checkMarkers(name, string(body)); err != nil {
			return err
		}
	}
	return nil
}

func checkMarkers(name, body string) error {
	up := strings.Index(body, "-- +goose Up")
	down := strings.Index(body, "-- +goose Down")
	switch {
	case up < 0:
		return fmt.Errorf("migration %q has no Up section", name)
	case down < 0:
		return fmt.Errorf("migration %q has no Down section", name)
	case down < up:
		return fmt.Errorf("migration %q declares Down before Up", name)
	}
	if b, e := strings.Count(body, "-- +goose StatementBegin"), strings.Count(body, "-- +goose StatementEnd"); b != e {
		return fmt.Errorf("migration %q has %d StatementBegin and %d StatementEnd", name, b, e)
	}
	return nil
}
