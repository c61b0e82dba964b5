package provision

import (
	"errors"
	"fmt"
	"strings"

	"github.com/aws/smithy-go"

	"github.com/codecanvas/talaria/pkg/pipeline"
)

// Classify maps an AWS API error onto the pipeline failure taxonomy using
// the service error code. Codes vary by service but follow stable naming
// conventions, which is what the substring checks lean on.
func Classify(err error) pipeline.FailureKind {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return pipeline.Unknown
	}

	code := apiErr.ErrorCode()
	switch {
	case containsAny(code, "AccessDenied", "UnauthorizedOperation", "Forbidden", "AuthFailure", "InvalidClientTokenId", "ExpiredToken"):
		return pipeline.PermissionDenied
	case containsAny(code, "NotFound", "NoSuch", "NoSuchEntity"):
		return pipeline.NotFound
	case containsAny(code, "AlreadyExists", "Conflict", "AlreadyOwnedByYou"):
		return pipeline.Conflict
	case containsAny(code, "Throttl", "TooManyRequests", "Timeout", "ServiceUnavailable", "InternalError", "InternalFailure"):
		return pipeline.TransientInfrastructure
	default:
		return pipeline.Unknown
	}
}

func containsAny(code string, fragments ...string) bool {
	for _, f := range fragments {
		if strings.Contains(code, f) {
			return true
		}
	}
	return false
}

// opErr wraps an AWS error with the failed operation and a classified kind so
// stage results can surface both.
func opErr(op string, err error) error {
	kind := Classify(err)
	f := &pipeline.Failure{
		Kind:    kind,
		Message: fmt.Sprintf("%s: %v", op, err),
	}

	switch kind {
	case pipeline.PermissionDenied:
		f.Hint = "check that the active AWS credentials carry the required IAM permissions"
	case pipeline.TransientInfrastructure:
		f.Hint = "the failure looks transient; re-run the pipeline"
	}

	return f
}
