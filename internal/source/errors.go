package source

import "errors"

var (
	// ErrNoValue means the indicator query returned no rows.
	ErrNoValue = errors.New("source: query returned no rows")
	// ErrNullValue means the first column of the first row was NULL.
	ErrNullValue = errors.New("source: query returned null")
	// ErrNotNumeric means the scanned value could not be read as a number.
	ErrNotNumeric = errors.New("source: query result is not numeric")
)
