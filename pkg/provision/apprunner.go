package provision

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/apprunner"
	apprunnertypes "github.com/aws/aws-sdk-go-v2/service/apprunner/types"
	"github.com/go-logr/logr"

	"github.com/codecanvas/talaria/pkg/pipeline"
)

type AppRunnerAPI interface {
	ListServices(
		ctx context.Context,
		params *apprunner.ListServicesInput,
		optFns ...func(*apprunner.Options),
	) (*apprunner.ListServicesOutput, error)
	CreateService(
		ctx context.Context,
		params *apprunner.CreateServiceInput,
		optFns ...func(*apprunner.Options),
	) (*apprunner.CreateServiceOutput, error)
	UpdateService(
		ctx context.Context,
		params *apprunner.UpdateServiceInput,
		optFns ...func(*apprunner.Options),
	) (*apprunner.UpdateServiceOutput, error)
	DescribeService(
		ctx context.Context,
		params *apprunner.DescribeServiceInput,
		optFns ...func(*apprunner.Options),
	) (*apprunner.DescribeServiceOutput, error)
}

// ServiceSpec describes a container service fronted by the managed runner.
type ServiceSpec struct {
	Name            string
	ImageURI        string
	Port            int32
	CPU             string
	Memory          string
	HealthCheckPath string
	Environment     map[string]string
	AccessRoleARN   string
	InstanceRoleARN string
}

// findService resolves a service by name. ListServices has no name filter,
// so this pages through the account's services.
func findService(ctx context.Context, api AppRunnerAPI, name string) (*apprunnertypes.ServiceSummary, error) {
	var nextToken *string
	for {
		out, err := api.ListServices(ctx, &apprunner.ListServicesInput{NextToken: nextToken})
		if err != nil {
			return nil, opErr("listing services", err)
		}
		for i, svc := range out.ServiceSummaryList {
			if aws.ToString(svc.ServiceName) == name {
				return &out.ServiceSummaryList[i], nil
			}
		}
		if out.NextToken == nil {
			return nil, nil
		}
		nextToken = out.NextToken
	}
}

// EnsureService creates the service or pushes a new image configuration to an
// existing one. Either path starts an asynchronous operation; callers verify
// readiness with ServiceRunningProbe.
func EnsureService(ctx context.Context, logger logr.Logger, api AppRunnerAPI, spec ServiceSpec) (Handle, error) {
	sourceConfig := &apprunnertypes.SourceConfiguration{
		AuthenticationConfiguration: &apprunnertypes.AuthenticationConfiguration{
			AccessRoleArn: aws.String(spec.AccessRoleARN),
		},
		AutoDeploymentsEnabled: aws.Bool(false),
		ImageRepository: &apprunnertypes.ImageRepository{
			ImageIdentifier:     aws.String(spec.ImageURI),
			ImageRepositoryType: apprunnertypes.ImageRepositoryTypeEcr,
			ImageConfiguration: &apprunnertypes.ImageConfiguration{
				Port:                        aws.String(fmt.Sprintf("%d", spec.Port)),
				RuntimeEnvironmentVariables: spec.Environment,
			},
		},
	}

	healthCheck := &apprunnertypes.HealthCheckConfiguration{
		Protocol:           apprunnertypes.HealthCheckProtocolHttp,
		Path:               aws.String(spec.HealthCheckPath),
		Interval:           aws.Int32(10),
		Timeout:            aws.Int32(5),
		HealthyThreshold:   aws.Int32(1),
		UnhealthyThreshold: aws.Int32(5),
	}

	existing, err := findService(ctx, api, spec.Name)
	if err != nil {
		return Handle{}, err
	}

	if existing != nil {
		logger.Info("Service already exists, deploying new image", "name", spec.Name, "arn", aws.ToString(existing.ServiceArn))
		out, err := api.UpdateService(ctx, &apprunner.UpdateServiceInput{
			ServiceArn:               existing.ServiceArn,
			SourceConfiguration:      sourceConfig,
			HealthCheckConfiguration: healthCheck,
		})
		if err != nil {
			return Handle{}, opErr(fmt.Sprintf("updating service %q", spec.Name), err)
		}
		return serviceHandle(out.Service), nil
	}

	input := &apprunner.CreateServiceInput{
		ServiceName:              aws.String(spec.Name),
		SourceConfiguration:      sourceConfig,
		HealthCheckConfiguration: healthCheck,
		InstanceConfiguration: &apprunnertypes.InstanceConfiguration{
			Cpu:    aws.String(spec.CPU),
			Memory: aws.String(spec.Memory),
		},
	}
	if spec.InstanceRoleARN != "" {
		input.InstanceConfiguration.InstanceRoleArn = aws.String(spec.InstanceRoleARN)
	}

	out, err := api.CreateService(ctx, input)
	if err != nil {
		return Handle{}, opErr(fmt.Sprintf("creating service %q", spec.Name), err)
	}
	logger.Info("Service created", "name", spec.Name, "arn", aws.ToString(out.Service.ServiceArn))
	return serviceHandle(out.Service), nil
}

func serviceHandle(svc *apprunnertypes.Service) Handle {
	h := Handle{
		ID:  aws.ToString(svc.ServiceId),
		ARN: aws.ToString(svc.ServiceArn),
	}
	if url := aws.ToString(svc.ServiceUrl); url != "" {
		h.Endpoint = "https://" + url
	}
	return h
}

// ServiceRunningProbe reports whether the service has reached RUNNING.
// Failed states are terminal so a broken rollout stops the pipeline instead
// of burning the retry budget.
func ServiceRunningProbe(api AppRunnerAPI, serviceARN string) pipeline.Probe {
	return func(ctx context.Context) pipeline.ProbeOutcome {
		out, err := api.DescribeService(ctx, &apprunner.DescribeServiceInput{
			ServiceArn: aws.String(serviceARN),
		})
		if err != nil {
			if Classify(err) == pipeline.TransientInfrastructure {
				return pipeline.Retry(err.Error())
			}
			return pipeline.GiveUp(err.Error())
		}

		status := out.Service.Status
		switch {
		case status == apprunnertypes.ServiceStatusRunning:
			return pipeline.Healthy()
		case strings.HasSuffix(string(status), "_FAILED"):
			return pipeline.GiveUp(fmt.Sprintf("service entered %s", status))
		default:
			return pipeline.Retry(fmt.Sprintf("service status %s", status))
		}
	}
}
