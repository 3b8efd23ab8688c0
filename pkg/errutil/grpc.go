package errutil

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var grpcCodes = map[CoreStatus]codes.Code{
	StatusBadRequest:           codes.InvalidArgument,
	StatusValidationFailed:     codes.InvalidArgument,
	StatusUnsupportedMediaType: codes.InvalidArgument,
	StatusUnauthorized:         codes.Unauthenticated,
	StatusForbidden:            codes.PermissionDenied,
	StatusNotFound:             codes.NotFound,
	StatusConflict:             codes.FailedPrecondition,
	StatusUnprocessableEntity:  codes.FailedPrecondition,
	StatusTooManyRequests:      codes.ResourceExhausted,
	StatusClientClosedRequest:  codes.Canceled,
	StatusTimeout:              codes.DeadlineExceeded,
	StatusGatewayTimeout:       codes.DeadlineExceeded,
	StatusNotImplemented:       codes.Unimplemented,
	StatusBadGateway:           codes.Unavailable,
	StatusServiceUnavailable:   codes.Unavailable,
	StatusInternal:             codes.Internal,
}

// GRPCCode maps the status onto the gRPC code a client would expect for it.
func (s CoreStatus) GRPCCode() codes.Code {
	if c, ok := grpcCodes[s]; ok {
		return c
	}
	return codes.Unknown
}

// ToGRPCError turns err into a status error. Domain errors keep only their
// client-facing message; the wrapped cause stays server side.
func ToGRPCError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}

	if _, ok := status.FromError(err); ok {
		return err
	}

	var base BaseError
	if errors.As(err, &base) {
		return status.Error(base.Code.GRPCCode(), base.Message)
	}
	return status.Error(StatusOf(err).GRPCCode(), err.Error())
}

// FromGRPCError converts a status error received from a peer back into a
// BaseError. Codes shared by several statuses resolve to the first match in
// codeOrder.
func FromGRPCError(err error) error {
	st, ok := status.FromError(err)
	if !ok || st.Code() == codes.OK {
		return err
	}
	return BaseError{Code: statusForCode(st.Code()), Message: st.Message(), Err: err}
}

var codeOrder = []CoreStatus{
	StatusBadRequest, StatusUnauthorized, StatusForbidden, StatusNotFound,
	StatusConflict, StatusTooManyRequests, StatusClientClosedRequest,
	StatusTimeout, StatusNotImplemented, StatusServiceUnavailable, StatusInternal,
}

func statusForCode(c codes.Code) CoreStatus {
	for _, s := range codeOrder {
		if grpcCodes[s] == c {
			return s
		}
	}
	return StatusUnknown
}
