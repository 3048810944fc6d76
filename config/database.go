package config

import (
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"gopkg.in/ini.v1"
)

const (
	// DefaultPath is the configuration file read when no path is given. It is
	// resolved relative to the working directory.
	DefaultPath = "app.conf"

	// DatabaseSection holds the connection settings.
	DatabaseSection = "database"
)

// Database holds the connection settings from the [database] section. A nil
// field means the key was not present.
type Database struct {
	Host *string
	User *string
	Pass *string
	DB   *string

	// SectionFound is false when the file had no [database] section, in which
	// case none of the fields are populated.
	SectionFound bool

	path string
}

// LoadDatabase reads the [database] section of the INI file at path. A file
// that doesn't exist yields an empty Database and no error; use Validate to
// reject incomplete settings.
func LoadDatabase(path string) (Database, error) {
	file, err := loadFile(path)
	if err != nil {
		return Database{}, err
	}

	cfg := Database{path: path}
	if file == nil {
		return cfg, nil
	}

	section, err := file.GetSection(DatabaseSection)
	if err != nil {
		return cfg, nil
	}

	cfg.SectionFound = true
	cfg.Host = lookup(section, "host")
	cfg.User = lookup(section, "user")
	cfg.Pass = lookup(section, "pass")
	cfg.DB = lookup(section, "db")
	return cfg, nil
}

// Validate returns a *MissingFieldsError listing every key that was absent.
func (d Database) Validate() error {
	var missing []string
	for _, field := range []struct {
		key   string
		value *string
	}{
		{"host", d.Host},
		{"user", d.User},
		{"pass", d.Pass},
		{"db", d.DB},
	} {
		if field.value == nil {
			missing = append(missing, field.key)
		}
	}

	if len(missing) == 0 {
		return nil
	}
	return &MissingFieldsError{Path: d.path, Section: DatabaseSection, Fields: missing}
}

// Value dereferences an optional setting, returning "" for a missing key.
func Value(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func lookup(section *ini.Section, key string) *string {
	if !section.HasKey(key) {
		return nil
	}
	value := section.Key(key).String()
	return &value
}

// loadFile parses the INI file at path. It returns nil, nil if the file
// doesn't exist.
func loadFile(path string) (*ini.File, error) {
	exists, err := afero.Exists(fs, path)
	if err != nil {
		return nil, errors.Wrapf(err, "stat %s", path)
	}
	if !exists {
		return nil, nil
	}

	contents, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}

	file, err := ini.LoadSources(ini.LoadOptions{
		InsensitiveKeys:         true,
		IgnoreInlineComment:     true,
		PreserveSurroundedQuote: true,
	}, contents)
	if err != nil {
		return nil, errors.Wrapf(err, "parse %s", path)
	}
	return file, nil
}
