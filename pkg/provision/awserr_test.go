package provision

import (
	"errors"
	"testing"

	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"

	"github.com/codecanvas/talaria/pkg/pipeline"
)

func apiError(code string) error {
	return &smithy.GenericAPIError{Code: code, Message: "steve"}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		code string
		want pipeline.FailureKind
	}{
		{"AccessDeniedException", pipeline.PermissionDenied},
		{"UnauthorizedOperation", pipeline.PermissionDenied},
		{"ExpiredTokenException", pipeline.PermissionDenied},
		{"ResourceNotFoundException", pipeline.NotFound},
		{"NoSuchBucket", pipeline.NotFound},
		{"EntityAlreadyExists", pipeline.Conflict},
		{"ResourceConflictException", pipeline.Conflict},
		{"BucketAlreadyOwnedByYou", pipeline.Conflict},
		{"ThrottlingException", pipeline.TransientInfrastructure},
		{"ServiceUnavailableException", pipeline.TransientInfrastructure},
		{"SomethingElseEntirely", pipeline.Unknown},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(apiError(tt.code)))
		})
	}

	t.Run("non_api_error", func(t *testing.T) {
		assert.Equal(t, pipeline.Unknown, Classify(errors.New("dial tcp: timeout")))
	})
}

func TestOpErr(t *testing.T) {
	err := opErr("creating widget", apiError("AccessDeniedException"))

	var f *pipeline.Failure
	assert.ErrorAs(t, err, &f)
	assert.Equal(t, pipeline.PermissionDenied, f.Kind)
	assert.Contains(t, f.Message, "creating widget")
	assert.Contains(t, f.Hint, "IAM permissions")
}
