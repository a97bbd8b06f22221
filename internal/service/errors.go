package service

import (
	"fmt"
)

type ErrBackendUnavailable struct {
	error
}

func NewErrBackendUnavailable(server string, cause error) *ErrBackendUnavailable {
	if cause == nil {
		return &ErrBackendUnavailable{fmt.Errorf("analysis backend %s is unreachable", server)}
	}
	return &ErrBackendUnavailable{fmt.Errorf("analysis backend %s is unreachable: %w", server, cause)}
}

func (e *ErrBackendUnavailable) Unwrap() error {
	return e.error
}

type ErrStaleResponse struct {
	error
}

func NewErrStaleResponse(fileID string, cause error) *ErrStaleResponse {
	return &ErrStaleResponse{fmt.Errorf("discarded upload response for %s: %w", fileID, cause)}
}

func (e *ErrStaleResponse) Unwrap() error {
	return e.error
}
