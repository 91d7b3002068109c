package competition

import "errors"

// Error kinds reported to callers. All are expected, recoverable conditions;
// match them with errors.Is.
var (
	ErrInvalidOrder         = errors.New("competition: invalid order parameters")
	ErrNotActive            = errors.New("competition: not active")
	ErrNotAuthorized        = errors.New("competition: not authorized")
	ErrNotFound             = errors.New("competition: not found")
	ErrCapacityExceeded     = errors.New("competition: capacity exceeded")
	ErrDuplicateParticipant = errors.New("competition: already joined")
	ErrAlreadyExists        = errors.New("competition: already exists")

	// ErrHalted is returned by every operation on a competition whose
	// matching cycle failed part way; its state is no longer trusted.
	ErrHalted = errors.New("competition: halted after internal failure")
)
