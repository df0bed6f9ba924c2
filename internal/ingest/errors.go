package ingest

import (
	"errors"
	"fmt"
	"strings"
)

// ErrDependencyFailure classifies failures of storage or a collaborator. Callers match it with
// errors.Is and retry the whole event.
var ErrDependencyFailure = errors.New("ingest: dependency failure")

type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Is matches ErrDependencyFailure only for errors raised while ingesting an event. Construction
// errors are configuration mistakes and are not retryable.
func (e *ServiceError) Is(target error) bool {
	return target == ErrDependencyFailure && strings.HasPrefix(e.code, opIngest+".")
}

func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}
