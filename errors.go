package nemocache

import (
	"fmt"

	"github.com/unkn0wn-root/nemocache/backend"
)

// ErrCASUnsupported is returned by the versioned operations when the backend
// has no native compare-and-swap. It matches backend.ErrCASUnsupported.
var ErrCASUnsupported = fmt.Errorf("nemocache: %w", backend.ErrCASUnsupported)

// RemoveError reports a Remove that failed in at least one tier.
type RemoveError struct {
	Key       string
	LocalErr  error
	RemoteErr error
}

func (e *RemoveError) Error() string {
	switch {
	case e.LocalErr != nil && e.RemoteErr != nil:
		return fmt.Sprintf("remove %q failed: local and remote failed: local=%v; remote=%v",
			e.Key, e.LocalErr, e.RemoteErr)
	case e.LocalErr != nil:
		return fmt.Sprintf("remove %q: local delete failed: %v", e.Key, e.LocalErr)
	case e.RemoteErr != nil:
		return fmt.Sprintf("remove %q: remote remove failed: %v", e.Key, e.RemoteErr)
	default:
		return fmt.Sprintf("remove %q: unknown error", e.Key)
	}
}

func (e *RemoveError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.LocalErr != nil {
		errs = append(errs, e.LocalErr)
	}
	if e.RemoteErr != nil {
		errs = append(errs, e.RemoteErr)
	}
	return errs
}
