package backend

import "fmt"

// DimensionError indicates a vector whose dimensionality does not match the
// backend's vector space.
type DimensionError struct {
	Expected int
	Actual   int
	Context  string
}

func (e *DimensionError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("dimension mismatch (%s): expected %d, got %d", e.Context, e.Expected, e.Actual)
	}
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}
