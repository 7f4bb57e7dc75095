package manager

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is a lifecycle error a caller can act on. Code follows HTTP
// status semantics.
type Error struct {
	Code    int
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

var (
	ErrClusterExists        = &Error{Code: http.StatusConflict, Message: "a cluster with this hostname already exists"}
	ErrClusterNotFound      = &Error{Code: http.StatusNotFound, Message: "cluster not found"}
	ErrBusyCluster          = &Error{Code: http.StatusConflict, Message: "an operation is already running on this cluster"}
	ErrPlanNotCreated       = &Error{Code: http.StatusConflict, Message: "no plan has been created for this cluster"}
	ErrInvalidConfiguration = &Error{Code: http.StatusBadRequest, Message: "invalid configuration"}
)

func invalidConfiguration(err error) error {
	return fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)
}

// PlanError is returned when terraform could not produce a plan
type PlanError struct {
	Hostname string
	LogTail  string
	Err      error
}

func (e *PlanError) Error() string {
	return fmt.Sprintf("failed to plan %s: %v", e.Hostname, e.Err)
}

func (e *PlanError) Unwrap() error {
	return e.Err
}

// ServerError wraps an unexpected internal failure
type ServerError struct {
	Op  string
	Err error
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServerError) Unwrap() error {
	return e.Err
}

// StatusCode maps an error returned by the manager to an HTTP status code
func StatusCode(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var lifecycle *Error
	if errors.As(err, &lifecycle) {
		return lifecycle.Code
	}
	return http.StatusInternalServerError
}
