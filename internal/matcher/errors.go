package matcher

import (
	"errors"
	"fmt"

	"github.com/andresmejia3/greeter/internal/types"
)

// ErrStoreUnavailable is returned by reloads when the enrollment source is
// empty or cannot be read. Matching keeps working and degrades to unknown.
var ErrStoreUnavailable = errors.New("embedding store unavailable")

// ShapeError reports an embedding whose dimensionality does not match the gallery.
type ShapeError struct {
	Want int
	Got  int
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("embedding dimension mismatch: want %d, got %d", e.Want, e.Got)
}

// Unwrap lets callers treat a ShapeError as any other malformed input.
func (e *ShapeError) Unwrap() error {
	return &types.InputError{Reason: e.Error()}
}
