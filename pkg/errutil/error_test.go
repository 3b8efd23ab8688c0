package errutil

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		err  error
		http int
		grpc codes.Code
	}{
		{ValidationFailed("invalid payout_type", nil), http.StatusBadRequest, codes.InvalidArgument},
		{Unauthorized("missing token", nil), http.StatusUnauthorized, codes.Unauthenticated},
		{Forbidden("email does not match", nil), http.StatusForbidden, codes.PermissionDenied},
		{NotFound("guarantee not found", nil), http.StatusNotFound, codes.NotFound},
		{Conflict("Cannot resolve guarantee with status: voided", nil), http.StatusConflict, codes.FailedPrecondition},
		{NotImplemented("storage not configured", nil), http.StatusNotImplemented, codes.Unimplemented},
		{Internal("failed to load", errors.New("db down")), http.StatusInternalServerError, codes.Internal},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			code := StatusOf(tt.err)
			require.Equal(t, tt.http, code.HTTPStatus())
			require.Equal(t, tt.grpc, code.GRPCCode())
		})
	}
}

func TestStatusOfWrapped(t *testing.T) {
	err := fmt.Errorf("apply: %w", Conflict("stale", nil))
	require.Equal(t, StatusConflict, StatusOf(err))
	require.Equal(t, StatusInternal, StatusOf(errors.New("plain")))
}

func TestErrorStringIncludesCause(t *testing.T) {
	err := Internal("failed to create instance", errors.New("unique violation"))
	require.EqualError(t, err, "[internal] failed to create instance: unique violation")
	require.ErrorContains(t, NotFound("template not found", nil), "template not found")
}

func TestToGRPCError(t *testing.T) {
	require.NoError(t, ToGRPCError(nil))

	st, _ := status.FromError(ToGRPCError(Forbidden("email does not match enrollment record", nil)))
	require.Equal(t, codes.PermissionDenied, st.Code())
	require.Equal(t, "email does not match enrollment record", st.Message())

	st, _ = status.FromError(ToGRPCError(context.DeadlineExceeded))
	require.Equal(t, codes.DeadlineExceeded, st.Code())

	st, _ = status.FromError(ToGRPCError(errors.New("plain")))
	require.Equal(t, codes.Internal, st.Code())
}

func TestFromGRPCError(t *testing.T) {
	err := FromGRPCError(status.Error(codes.NotFound, "campaign not found"))
	require.Equal(t, StatusNotFound, StatusOf(err))
	require.Equal(t, "[not_found] campaign not found: rpc error: code = NotFound desc = campaign not found", err.Error())

	require.Equal(t, StatusBadRequest, StatusOf(FromGRPCError(status.Error(codes.InvalidArgument, "bad"))))
	require.Equal(t, StatusUnknown, StatusOf(FromGRPCError(status.Error(codes.DataLoss, "lost"))))

	plain := errors.New("plain")
	require.Same(t, plain, FromGRPCError(plain))
}

type enrollRequest struct {
	ClientEmail string `validate:"required,email"`
	PayoutType  string `validate:"oneof=refund credit"`
}

func TestFromBinding(t *testing.T) {
	v := validator.New()
	err := FromBinding(v.Struct(enrollRequest{ClientEmail: "nope", PayoutType: "refund"}))

	var be BaseError
	require.ErrorAs(t, err, &be)
	require.Equal(t, StatusValidationFailed, be.Code)
	require.Equal(t, "invalid client_email", be.Message)
	require.Equal(t, []Detail{{Field: "client_email", Message: "must be a valid email address"}}, be.Details)

	err = FromBinding(errors.New("unexpected EOF"))
	require.ErrorAs(t, err, &be)
	require.Equal(t, StatusBadRequest, be.Code)

	require.NoError(t, FromBinding(nil))
}

func TestField(t *testing.T) {
	var be BaseError
	require.ErrorAs(t, Field("slug", "must be lowercase words separated by hyphens"), &be)
	require.Equal(t, "invalid slug", be.Message)
	require.Equal(t, "slug", be.Details[0].Field)
}
