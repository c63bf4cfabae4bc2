package images

import "fmt"

// =============================================================================
// Errors
// =============================================================================

// BuildError describes a failed image build. Build failures are isolated to
// their image; sibling builds keep running.
type BuildError struct {
	Image string
	Err   error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("build %s: %v", e.Image, e.Err)
}

func (e *BuildError) Unwrap() error {
	return e.Err
}

// PushError describes a failed image push after all retry attempts.
type PushError struct {
	Image    string
	Attempts int
	Err      error
}

func (e *PushError) Error() string {
	return fmt.Sprintf("push %s after %d attempt(s): %v", e.Image, e.Attempts, e.Err)
}

func (e *PushError) Unwrap() error {
	return e.Err
}
