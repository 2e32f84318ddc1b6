package types

import "fmt"

// FieldTooLongError is returned when a row field exceeds its maximum
// length at the serialization boundary.
type FieldTooLongError struct {
	Field  string
	Length int
	Max    int
}

func (e *FieldTooLongError) Error() string {
	return fmt.Sprintf("field %s has length %d, maximum is %d", e.Field, e.Length, e.Max)
}
