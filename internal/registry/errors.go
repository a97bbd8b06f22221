package registry

import "errors"

var (
	ErrRecordNotFound    = errors.New("record not found")
	ErrDuplicateKey      = errors.New("already exists")
	ErrInvalidID         = errors.New("invalid file id")
	ErrJobTerminated     = errors.New("job already reached a terminal state")
	ErrViewModeConflict  = errors.New("event conflicts with the job view mode")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrResultAlreadySet  = errors.New("result already set")
	ErrJobDeleted        = errors.New("job was deleted")
)
