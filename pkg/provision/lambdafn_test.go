package provision

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codecanvas/talaria/pkg/pipeline"
)

type fakeLambda struct {
	createErr    error
	updateCode   func(*lambda.UpdateFunctionCodeInput) (*lambda.UpdateFunctionCodeOutput, error)
	updateConfig func(*lambda.UpdateFunctionConfigurationInput) (*lambda.UpdateFunctionConfigurationOutput, error)
	get          func() (*lambda.GetFunctionOutput, error)

	urlErr         error
	permissionAdds int
}

func (f *fakeLambda) CreateFunction(_ context.Context, in *lambda.CreateFunctionInput, _ ...func(*lambda.Options)) (*lambda.CreateFunctionOutput, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &lambda.CreateFunctionOutput{
		FunctionArn: aws.String("arn:aws:lambda:us-west-2:123:function:" + aws.ToString(in.FunctionName)),
	}, nil
}

func (f *fakeLambda) GetFunction(_ context.Context, _ *lambda.GetFunctionInput, _ ...func(*lambda.Options)) (*lambda.GetFunctionOutput, error) {
	return f.get()
}

func (f *fakeLambda) UpdateFunctionCode(_ context.Context, in *lambda.UpdateFunctionCodeInput, _ ...func(*lambda.Options)) (*lambda.UpdateFunctionCodeOutput, error) {
	return f.updateCode(in)
}

func (f *fakeLambda) UpdateFunctionConfiguration(_ context.Context, in *lambda.UpdateFunctionConfigurationInput, _ ...func(*lambda.Options)) (*lambda.UpdateFunctionConfigurationOutput, error) {
	return f.updateConfig(in)
}

func (f *fakeLambda) CreateFunctionUrlConfig(_ context.Context, _ *lambda.CreateFunctionUrlConfigInput, _ ...func(*lambda.Options)) (*lambda.CreateFunctionUrlConfigOutput, error) {
	if f.urlErr != nil {
		return nil, f.urlErr
	}
	return &lambda.CreateFunctionUrlConfigOutput{
		FunctionUrl: aws.String("https://abc.lambda-url.us-west-2.on.aws/"),
	}, nil
}

func (f *fakeLambda) GetFunctionUrlConfig(_ context.Context, _ *lambda.GetFunctionUrlConfigInput, _ ...func(*lambda.Options)) (*lambda.GetFunctionUrlConfigOutput, error) {
	return &lambda.GetFunctionUrlConfigOutput{
		FunctionUrl: aws.String("https://existing.lambda-url.us-west-2.on.aws/"),
	}, nil
}

func (f *fakeLambda) AddPermission(_ context.Context, _ *lambda.AddPermissionInput, _ ...func(*lambda.Options)) (*lambda.AddPermissionOutput, error) {
	f.permissionAdds++
	return &lambda.AddPermissionOutput{}, nil
}

func testFunctionSpec() FunctionSpec {
	return FunctionSpec{
		Name:           "app-backend",
		ImageURI:       "123.dkr.ecr.us-west-2.amazonaws.com/app-backend:v1.2.3",
		RoleARN:        "arn:aws:iam::123:role/app-lambda-exec",
		MemoryMB:       2048,
		TimeoutSeconds: 900,
	}
}

func TestEnsureFunction(t *testing.T) {
	ctx := context.Background()
	log := logr.Discard()

	t.Run("creates_when_absent", func(t *testing.T) {
		api := &fakeLambda{}
		handle, err := EnsureFunction(ctx, log, api, testFunctionSpec())
		require.NoError(t, err)
		assert.Equal(t, "arn:aws:lambda:us-west-2:123:function:app-backend", handle.ARN)
	})

	t.Run("updates_on_conflict", func(t *testing.T) {
		var codeUpdated, configUpdated bool
		api := &fakeLambda{
			createErr: apiError("ResourceConflictException"),
			updateCode: func(in *lambda.UpdateFunctionCodeInput) (*lambda.UpdateFunctionCodeOutput, error) {
				codeUpdated = true
				assert.Contains(t, aws.ToString(in.ImageUri), ":v1.2.3")
				return &lambda.UpdateFunctionCodeOutput{
					FunctionArn: aws.String("arn:aws:lambda:us-west-2:123:function:app-backend"),
				}, nil
			},
			updateConfig: func(*lambda.UpdateFunctionConfigurationInput) (*lambda.UpdateFunctionConfigurationOutput, error) {
				configUpdated = true
				return &lambda.UpdateFunctionConfigurationOutput{}, nil
			},
		}

		handle, err := EnsureFunction(ctx, log, api, testFunctionSpec())
		require.NoError(t, err)
		assert.True(t, codeUpdated)
		assert.True(t, configUpdated)
		assert.Equal(t, "app-backend", handle.ID)
	})

	t.Run("retries_config_while_code_settles", func(t *testing.T) {
		prev := settleDelay
		settleDelay = 0
		t.Cleanup(func() { settleDelay = prev })

		configCalls := 0
		api := &fakeLambda{
			createErr: apiError("ResourceConflictException"),
			updateCode: func(*lambda.UpdateFunctionCodeInput) (*lambda.UpdateFunctionCodeOutput, error) {
				return &lambda.UpdateFunctionCodeOutput{FunctionArn: aws.String("arn")}, nil
			},
			updateConfig: func(*lambda.UpdateFunctionConfigurationInput) (*lambda.UpdateFunctionConfigurationOutput, error) {
				configCalls++
				if configCalls < 3 {
					return nil, apiError("ResourceConflictException")
				}
				return &lambda.UpdateFunctionConfigurationOutput{}, nil
			},
		}

		_, err := EnsureFunction(ctx, log, api, testFunctionSpec())
		require.NoError(t, err)
		assert.Equal(t, 3, configCalls)
	})
}

func TestEnsureFunctionURL(t *testing.T) {
	ctx := context.Background()
	log := logr.Discard()

	t.Run("creates_and_grants_access", func(t *testing.T) {
		api := &fakeLambda{}
		url, err := EnsureFunctionURL(ctx, log, api, "app-backend")
		require.NoError(t, err)
		assert.Equal(t, "https://abc.lambda-url.us-west-2.on.aws/", url)
		assert.Equal(t, 1, api.permissionAdds)
	})

	t.Run("reuses_existing_url", func(t *testing.T) {
		api := &fakeLambda{urlErr: apiError("ResourceConflictException")}
		url, err := EnsureFunctionURL(ctx, log, api, "app-backend")
		require.NoError(t, err)
		assert.Equal(t, "https://existing.lambda-url.us-west-2.on.aws/", url)
	})
}

func TestFunctionActiveProbe(t *testing.T) {
	ctx := context.Background()

	config := func(state lambdatypes.State, update lambdatypes.LastUpdateStatus) func() (*lambda.GetFunctionOutput, error) {
		return func() (*lambda.GetFunctionOutput, error) {
			return &lambda.GetFunctionOutput{
				Configuration: &lambdatypes.FunctionConfiguration{
					State:            state,
					LastUpdateStatus: update,
				},
			}, nil
		}
	}

	t.Run("healthy_when_active", func(t *testing.T) {
		probe := FunctionActiveProbe(&fakeLambda{get: config(lambdatypes.StateActive, lambdatypes.LastUpdateStatusSuccessful)}, "app-backend")
		assert.Equal(t, pipeline.ProbeSuccess, probe(ctx).State)
	})

	t.Run("retries_while_pending", func(t *testing.T) {
		probe := FunctionActiveProbe(&fakeLambda{get: config(lambdatypes.StatePending, lambdatypes.LastUpdateStatusInProgress)}, "app-backend")
		assert.Equal(t, pipeline.ProbeTransient, probe(ctx).State)
	})

	t.Run("terminal_on_failed_state", func(t *testing.T) {
		probe := FunctionActiveProbe(&fakeLambda{get: config(lambdatypes.StateFailed, lambdatypes.LastUpdateStatusSuccessful)}, "app-backend")
		assert.Equal(t, pipeline.ProbeTerminal, probe(ctx).State)
	})
}
