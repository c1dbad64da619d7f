package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"google.golang.org/grpc/codes"
)

func TestCodeMappings(t *testing.T) {
	tests := []struct {
		code Code
		grpc codes.Code
		http int
	}{
		{CodeFilterInvalid, codes.InvalidArgument, http.StatusBadRequest},
		{CodeProfileBuiltIn, codes.FailedPrecondition, http.StatusBadRequest},
		{CodeComponentNotFound, codes.NotFound, http.StatusNotFound},
		{CodeProfileExists, codes.AlreadyExists, http.StatusConflict},
		{CodeUnauthenticated, codes.Unauthenticated, http.StatusUnauthorized},
		{CodeForbidden, codes.PermissionDenied, http.StatusForbidden},
		{CodeUnknown, codes.Internal, http.StatusInternalServerError},
	}
	for _, tc := range tests {
		if got := tc.code.GRPCCode(); got != tc.grpc {
			t.Fatalf("%s grpc = %v, want %v", tc.code, got, tc.grpc)
		}
		if got := tc.code.HTTPStatus(); got != tc.http {
			t.Fatalf("%s http = %d, want %d", tc.code, got, tc.http)
		}
	}
}

func TestGetCodeThroughWrapping(t *testing.T) {
	err := fmt.Errorf("activate: %w", New(CodeRuleRemoved, "Rule was removed: xoo:x1"))
	if got := GetCode(err); got != CodeRuleRemoved {
		t.Fatalf("code = %s, want %s", got, CodeRuleRemoved)
	}
	if !IsCode(err, CodeRuleRemoved) {
		t.Fatal("expected IsCode match")
	}
	if got := GetCode(stderrors.New("plain")); got != CodeUnknown {
		t.Fatalf("code = %s, want %s", got, CodeUnknown)
	}
	if !stderrors.Is(err, New(CodeRuleRemoved, "other")) {
		t.Fatal("expected errors.Is to match by code")
	}
}

func TestPublicMessageHidesInternalErrors(t *testing.T) {
	if got := PublicMessage(stderrors.New("sql: connection refused")); got != "an unexpected error occurred" {
		t.Fatalf("message = %q", got)
	}
	if got := PublicMessage(Newf(CodeNotFound, "Component key '%s' not found", "k")); got != "Component key 'k' not found" {
		t.Fatalf("message = %q", got)
	}
}
