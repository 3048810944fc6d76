package config

import (
	"fmt"
	"strings"
)

// MissingFieldsError reports database settings that were absent from the
// configuration file.
type MissingFieldsError struct {
	Path    string
	Section string
	Fields  []string
}

func (err *MissingFieldsError) Error() string {
	return fmt.Sprintf("%s: missing required field(s) in [%s]: %s",
		err.Path, err.Section, strings.Join(err.Fields, ", "))
}
