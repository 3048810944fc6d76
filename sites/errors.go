package sites

import "fmt"

// ColumnNotFoundError is returned when the query result lacks the column
// holding the site address.
type ColumnNotFoundError struct {
	Column    string
	Available []string
}

func (err *ColumnNotFoundError) Error() string {
	return fmt.Sprintf("column %q not found in result (available: %v)", err.Column, err.Available)
}
