package types

// InputError marks a single malformed detection or embedding. The frame it
// came from keeps processing without it.
type InputError struct {
	Reason string
}

func (e *InputError) Error() string {
	return "invalid input: " + e.Reason
}
