// Package errors provides structured domain errors that map onto gRPC and
// HTTP status codes.
package errors

import (
	"net/http"

	"google.golang.org/grpc/codes"
)

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Request validation
	CodeInvalidArgument    Code = "INVALID_ARGUMENT"
	CodeMissingParameter   Code = "MISSING_PARAMETER"
	CodeFilterInvalid      Code = "FILTER_INVALID"
	CodeMetricUnsupported  Code = "METRIC_UNSUPPORTED"
	CodeRuleParamInvalid   Code = "RULE_PARAM_INVALID"
	CodeBackupInvalid      Code = "BACKUP_INVALID"
	CodeProfileNameInvalid Code = "PROFILE_NAME_INVALID"

	// Access
	CodeUnauthenticated Code = "UNAUTHENTICATED"
	CodeForbidden       Code = "FORBIDDEN"

	// Lookups
	CodeNotFound          Code = "NOT_FOUND"
	CodeComponentNotFound Code = "COMPONENT_NOT_FOUND"
	CodeProfileNotFound   Code = "PROFILE_NOT_FOUND"
	CodeRuleNotFound      Code = "RULE_NOT_FOUND"

	// Uniqueness
	CodeProfileExists Code = "PROFILE_EXISTS"

	// Quality profile state
	CodeRuleRemoved           Code = "RULE_REMOVED"
	CodeRuleTemplate          Code = "RULE_TEMPLATE"
	CodeRuleLanguageMismatch  Code = "RULE_LANGUAGE_MISMATCH"
	CodeProfileBuiltIn        Code = "PROFILE_BUILT_IN"
	CodeProfileDefault        Code = "PROFILE_DEFAULT"
	CodeProfileParentInvalid  Code = "PROFILE_PARENT_INVALID"
	CodeInheritedRuleDisabled Code = "INHERITED_RULE_DISABLED"
)

// GRPCCode maps domain codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	case CodeInvalidArgument,
		CodeMissingParameter,
		CodeFilterInvalid,
		CodeMetricUnsupported,
		CodeRuleParamInvalid,
		CodeBackupInvalid,
		CodeProfileNameInvalid,
		CodeRuleTemplate,
		CodeRuleLanguageMismatch,
		CodeProfileParentInvalid:
		return codes.InvalidArgument

	case CodeRuleRemoved,
		CodeProfileBuiltIn,
		CodeProfileDefault,
		CodeInheritedRuleDisabled:
		return codes.FailedPrecondition

	case CodeNotFound,
		CodeComponentNotFound,
		CodeProfileNotFound,
		CodeRuleNotFound:
		return codes.NotFound

	case CodeProfileExists:
		return codes.AlreadyExists

	case CodeUnauthenticated:
		return codes.Unauthenticated

	case CodeForbidden:
		return codes.PermissionDenied

	default:
		return codes.Internal
	}
}

// HTTPStatus maps domain codes to HTTP status codes through their gRPC code.
func (c Code) HTTPStatus() int {
	switch c.GRPCCode() {
	case codes.InvalidArgument, codes.FailedPrecondition:
		return http.StatusBadRequest
	case codes.NotFound:
		return http.StatusNotFound
	case codes.AlreadyExists:
		return http.StatusConflict
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.PermissionDenied:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
