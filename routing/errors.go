package routing

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	Unknown Kind = iota
	InvalidKey
	AccessDenied
	BadRequest
	NoRoute
	Unreachable
)

var (
	ErrInvalidKey   = errors.New("routing api key is invalid")
	ErrAccessDenied = errors.New("routing access denied")
	ErrBadRequest   = errors.New("routing request rejected")
	ErrNoRoute      = errors.New("no route found")
	ErrUnreachable  = errors.New("routing service unreachable")
)

func (k Kind) sentinel() error {
	switch k {
	case InvalidKey:
		return ErrInvalidKey
	case AccessDenied:
		return ErrAccessDenied
	case BadRequest:
		return ErrBadRequest
	case NoRoute:
		return ErrNoRoute
	case Unreachable:
		return ErrUnreachable
	}
	return nil
}

func (k Kind) String() string {
	switch k {
	case InvalidKey:
		return "invalid key"
	case AccessDenied:
		return "access denied"
	case BadRequest:
		return "bad request"
	case NoRoute:
		return "no route"
	case Unreachable:
		return "unreachable"
	}
	return "unknown"
}

// ServiceError is a failed routing request. It matches the sentinel for its Kind with errors.Is.
type ServiceError struct {
	Kind    Kind
	Status  int
	Message string
	Err     error
}

func (e *ServiceError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Status != 0 {
		return fmt.Sprintf("routing %s (status %d): %s", e.Kind, e.Status, msg)
	}
	return fmt.Sprintf("routing %s: %s", e.Kind, msg)
}

func (e *ServiceError) Unwrap() error { return e.Err }

func (e *ServiceError) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

// UserMessage is the human readable text for the failure.
func (e *ServiceError) UserMessage() string {
	switch e.Kind {
	case InvalidKey:
		return "The routing service rejected the API key. Check that it is set and valid."
	case AccessDenied:
		return "Access to the routing service was denied or the daily quota is used up."
	case BadRequest:
		return "The routing service could not process these waypoints."
	case NoRoute:
		return "No route could be found between these waypoints. Try moving them closer to a path."
	case Unreachable:
		return "The routing service could not be reached. Check the network connection."
	}
	if e.Message != "" {
		return "Remote error: " + e.Message
	}
	return "Remote error"
}

// ORS error codes that mean the points could not be connected.
const (
	orsPointNotFound = 2010
	orsRouteNotFound = 2009
)

func classify(status, code int) Kind {
	if code == orsPointNotFound || code == orsRouteNotFound {
		return NoRoute
	}
	switch status {
	case http.StatusUnauthorized:
		return InvalidKey
	case http.StatusForbidden, http.StatusTooManyRequests:
		return AccessDenied
	case http.StatusBadRequest:
		return BadRequest
	case http.StatusNotFound:
		return NoRoute
	}
	return Unknown
}
