package errors

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type Code codes.Code

const (
	CodeInvalidArgument    = Code(codes.InvalidArgument)
	CodeNotFound           = Code(codes.NotFound)
	CodeAlreadyExists      = Code(codes.AlreadyExists)
	CodeFailedPrecondition = Code(codes.FailedPrecondition)
	CodeInternal           = Code(codes.Internal)
	CodeUnauthenticated    = Code(codes.Unauthenticated)
)

var code2http = map[Code]int{
	CodeInvalidArgument:    http.StatusBadRequest,
	CodeNotFound:           http.StatusNotFound,
	CodeAlreadyExists:      http.StatusConflict,
	CodeFailedPrecondition: http.StatusUnprocessableEntity,
	CodeInternal:           http.StatusInternalServerError,
	CodeUnauthenticated:    http.StatusUnauthorized,
}

// Kind distinguishes domain error conditions that share a grpc code.
type Kind string

const (
	KindNone                Kind = ""
	KindInvalidShape        Kind = "invalid_shape"
	KindIncompleteSubtree   Kind = "incomplete_subtree"
	KindSlotOccupied        Kind = "slot_occupied"
	KindSlotEmpty           Kind = "slot_empty"
	KindTeamAlreadyAssigned Kind = "team_already_assigned"
	KindShapeMismatch       Kind = "shape_mismatch"
	KindFlowNotFound        Kind = "flow_not_found"
	KindFlowExpired         Kind = "flow_expired"
	KindFlowAlreadyTerminal Kind = "flow_already_terminal"
	KindInsufficientTeams   Kind = "insufficient_teams"
	KindStructureIncomplete Kind = "structure_incomplete"
)

type Error struct {
	Code    Code   `json:"code"`
	Kind    Kind   `json:"kind,omitempty"`
	Message string `json:"message"`
	err     error
}

func New(code Code, opts ...Option) *Error {
	e := &Error{
		Code:    code,
		Message: codes.Code(code).String(),
	}

	for _, opt := range opts {
		opt.apply(e)
	}

	return e
}

func (e *Error) Error() string {
	s := fmt.Sprintf("code: %d, message: %s", e.Code, e.Message)
	if e.Kind != KindNone {
		s += fmt.Sprintf(", kind: %s", e.Kind)
	}
	if e.err != nil {
		s += fmt.Sprintf(", err: %s", e.err)
	}

	return s
}

func (e *Error) Unwrap() error {
	return e.err
}

func (e *Error) GRPCStatus() *status.Status {
	return status.New(codes.Code(e.Code), e.Message)
}

func (e *Error) HTTPStatusCode() int {
	if c, ok := code2http[e.Code]; ok {
		return c
	}

	return http.StatusInternalServerError
}

func Convert(err error) *Error {
	var e *Error
	if !errors.As(err, &e) {
		return Internal(err)
	}

	return e
}

func Internal(err error) *Error {
	return New(CodeInternal, WithCause(err))
}

// IsKind reports whether err is an *Error carrying the given kind.
func IsKind(err error, k Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == k
}

type Option interface {
	apply(*Error)
}

type optionFunc func(*Error)

func (f optionFunc) apply(e *Error) {
	f(e)
}

func WithCause(err error) Option {
	return optionFunc(func(e *Error) {
		e.err = err
	})
}

func WithMessagef(format string, args ...any) Option {
	return optionFunc(func(e *Error) {
		e.Message = fmt.Sprintf(format, args...)
	})
}

func WithKind(k Kind) Option {
	return optionFunc(func(e *Error) {
		e.Kind = k
	})
}
