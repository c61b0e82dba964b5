package provision

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/go-logr/logr"

	"github.com/codecanvas/talaria/pkg/pipeline"
)

type LambdaAPI interface {
	CreateFunction(
		ctx context.Context,
		params *lambda.CreateFunctionInput,
		optFns ...func(*lambda.Options),
	) (*lambda.CreateFunctionOutput, error)
	GetFunction(
		ctx context.Context,
		params *lambda.GetFunctionInput,
		optFns ...func(*lambda.Options),
	) (*lambda.GetFunctionOutput, error)
	UpdateFunctionCode(
		ctx context.Context,
		params *lambda.UpdateFunctionCodeInput,
		optFns ...func(*lambda.Options),
	) (*lambda.UpdateFunctionCodeOutput, error)
	UpdateFunctionConfiguration(
		ctx context.Context,
		params *lambda.UpdateFunctionConfigurationInput,
		optFns ...func(*lambda.Options),
	) (*lambda.UpdateFunctionConfigurationOutput, error)
	CreateFunctionUrlConfig(
		ctx context.Context,
		params *lambda.CreateFunctionUrlConfigInput,
		optFns ...func(*lambda.Options),
	) (*lambda.CreateFunctionUrlConfigOutput, error)
	GetFunctionUrlConfig(
		ctx context.Context,
		params *lambda.GetFunctionUrlConfigInput,
		optFns ...func(*lambda.Options),
	) (*lambda.GetFunctionUrlConfigOutput, error)
	AddPermission(
		ctx context.Context,
		params *lambda.AddPermissionInput,
		optFns ...func(*lambda.Options),
	) (*lambda.AddPermissionOutput, error)
}

// FunctionSpec holds everything needed to create or update a container
// image backed function.
type FunctionSpec struct {
	Name           string
	ImageURI       string
	RoleARN        string
	MemoryMB       int32
	TimeoutSeconds int32
	StorageMB      int32
	Environment    map[string]string
}

// EnsureFunction creates the function from its container image, or updates
// the code and configuration of an existing function with the same name.
func EnsureFunction(ctx context.Context, logger logr.Logger, api LambdaAPI, spec FunctionSpec) (Handle, error) {
	input := &lambda.CreateFunctionInput{
		FunctionName: aws.String(spec.Name),
		PackageType:  lambdatypes.PackageTypeImage,
		Code:         &lambdatypes.FunctionCode{ImageUri: aws.String(spec.ImageURI)},
		Role:         aws.String(spec.RoleARN),
		MemorySize:   aws.Int32(spec.MemoryMB),
		Timeout:      aws.Int32(spec.TimeoutSeconds),
	}
	if spec.StorageMB > 0 {
		input.EphemeralStorage = &lambdatypes.EphemeralStorage{Size: aws.Int32(spec.StorageMB)}
	}
	if len(spec.Environment) > 0 {
		input.Environment = &lambdatypes.Environment{Variables: spec.Environment}
	}

	out, err := api.CreateFunction(ctx, input)
	if err == nil {
		logger.Info("Function created", "name", spec.Name, "arn", aws.ToString(out.FunctionArn))
		return Handle{ID: spec.Name, ARN: aws.ToString(out.FunctionArn)}, nil
	}
	if Classify(err) != pipeline.Conflict {
		return Handle{}, opErr(fmt.Sprintf("creating function %q", spec.Name), err)
	}

	logger.Info("Function already exists, updating in place", "name", spec.Name)
	return updateFunction(ctx, logger, api, spec)
}

func updateFunction(ctx context.Context, logger logr.Logger, api LambdaAPI, spec FunctionSpec) (Handle, error) {
	code, err := api.UpdateFunctionCode(ctx, &lambda.UpdateFunctionCodeInput{
		FunctionName: aws.String(spec.Name),
		ImageUri:     aws.String(spec.ImageURI),
	})
	if err != nil {
		return Handle{}, opErr(fmt.Sprintf("updating code of function %q", spec.Name), err)
	}

	cfg := &lambda.UpdateFunctionConfigurationInput{
		FunctionName: aws.String(spec.Name),
		MemorySize:   aws.Int32(spec.MemoryMB),
		Timeout:      aws.Int32(spec.TimeoutSeconds),
	}
	if spec.StorageMB > 0 {
		cfg.EphemeralStorage = &lambdatypes.EphemeralStorage{Size: aws.Int32(spec.StorageMB)}
	}
	if len(spec.Environment) > 0 {
		cfg.Environment = &lambdatypes.Environment{Variables: spec.Environment}
	}

	// A code update leaves the function pending; retry the config update
	// until the previous change settles.
	probe := func(ctx context.Context) pipeline.ProbeOutcome {
		_, err := api.UpdateFunctionConfiguration(ctx, cfg)
		switch {
		case err == nil:
			return pipeline.Healthy()
		case Classify(err) == pipeline.Conflict, Classify(err) == pipeline.TransientInfrastructure:
			return pipeline.Retry(err.Error())
		default:
			return pipeline.GiveUp(err.Error())
		}
	}
	ok, reason := pipeline.Verify(ctx, probe, pipeline.RetryPolicy{MaxAttempts: 10, Delay: settleDelay})
	if !ok {
		return Handle{}, opErr(fmt.Sprintf("updating configuration of function %q", spec.Name), fmt.Errorf("%s", reason))
	}

	logger.Info("Function updated", "name", spec.Name)
	return Handle{ID: spec.Name, ARN: aws.ToString(code.FunctionArn)}, nil
}

// FunctionRole returns the execution role of an existing function.
func FunctionRole(ctx context.Context, api LambdaAPI, name string) (string, error) {
	out, err := api.GetFunction(ctx, &lambda.GetFunctionInput{FunctionName: aws.String(name)})
	if err != nil {
		return "", opErr(fmt.Sprintf("fetching function %q", name), err)
	}
	return aws.ToString(out.Configuration.Role), nil
}

// EnsureFunctionURL creates a public function URL with permissive CORS, or
// returns the URL already configured. The public-access permission is added
// alongside; a conflict there just means it was granted before.
func EnsureFunctionURL(ctx context.Context, logger logr.Logger, api LambdaAPI, name string) (string, error) {
	created, err := api.CreateFunctionUrlConfig(ctx, &lambda.CreateFunctionUrlConfigInput{
		FunctionName: aws.String(name),
		AuthType:     lambdatypes.FunctionUrlAuthTypeNone,
		Cors: &lambdatypes.Cors{
			AllowOrigins: []string{"*"},
			AllowMethods: []string{"*"},
			AllowHeaders: []string{"*"},
			MaxAge:       aws.Int32(86400),
		},
	})

	var url string
	switch {
	case err == nil:
		url = aws.ToString(created.FunctionUrl)
		logger.Info("Function URL created", "name", name, "url", url)
	case Classify(err) == pipeline.Conflict:
		existing, err := api.GetFunctionUrlConfig(ctx, &lambda.GetFunctionUrlConfigInput{
			FunctionName: aws.String(name),
		})
		if err != nil {
			return "", opErr(fmt.Sprintf("fetching function url of %q", name), err)
		}
		url = aws.ToString(existing.FunctionUrl)
		logger.Info("Function URL already exists, reusing", "name", name, "url", url)
	default:
		return "", opErr(fmt.Sprintf("creating function url for %q", name), err)
	}

	_, err = api.AddPermission(ctx, &lambda.AddPermissionInput{
		FunctionName:        aws.String(name),
		StatementId:         aws.String("FunctionURLAllowPublicAccess"),
		Action:              aws.String("lambda:InvokeFunctionUrl"),
		Principal:           aws.String("*"),
		FunctionUrlAuthType: lambdatypes.FunctionUrlAuthTypeNone,
	})
	if err != nil && Classify(err) != pipeline.Conflict {
		return "", opErr(fmt.Sprintf("granting public access to function url of %q", name), err)
	}

	return url, nil
}

// FunctionActiveProbe reports whether the function has finished deploying its
// latest code and configuration.
func FunctionActiveProbe(api LambdaAPI, name string) pipeline.Probe {
	return func(ctx context.Context) pipeline.ProbeOutcome {
		out, err := api.GetFunction(ctx, &lambda.GetFunctionInput{FunctionName: aws.String(name)})
		if err != nil {
			if Classify(err) == pipeline.TransientInfrastructure {
				return pipeline.Retry(err.Error())
			}
			return pipeline.GiveUp(err.Error())
		}

		cfg := out.Configuration
		if cfg.State == lambdatypes.StateFailed || cfg.LastUpdateStatus == lambdatypes.LastUpdateStatusFailed {
			return pipeline.GiveUp(fmt.Sprintf("function entered failed state: %s", aws.ToString(cfg.StateReason)))
		}
		if cfg.State == lambdatypes.StateActive && cfg.LastUpdateStatus == lambdatypes.LastUpdateStatusSuccessful {
			return pipeline.Healthy()
		}
		return pipeline.Retry(fmt.Sprintf("state %s, last update %s", cfg.State, cfg.LastUpdateStatus))
	}
}
