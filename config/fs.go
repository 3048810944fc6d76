package config

import "github.com/spf13/afero"

// fs is used for mock tests. It is replaced with afero.NewMemMapFs() in the
// tests.
var fs = afero.NewOsFs()
