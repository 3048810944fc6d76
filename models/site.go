package models

// Site represents one row of the constellation table
type Site struct {
	// Address is the network address the site is synced to
	Address string
	// Columns holds every column of the row, keyed by column name
	Columns map[string]any
}

// Column returns the named column and whether the row had it
func (s Site) Column(name string) (any, bool) {
	val, ok := s.Columns[name]
	return val, ok
}
