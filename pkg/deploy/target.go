package deploy

import (
	"context"
	"fmt"
	"strconv"

	"github.com/codecanvas/talaria/pkg/pipeline"
	"github.com/codecanvas/talaria/pkg/provision"
)

// LambdaTarget deploys the image as a container backed function with a
// public function URL.
type LambdaTarget struct {
	endpoint string
}

func (t *LambdaTarget) Name() string { return "lambda" }

func (t *LambdaTarget) Provision(ctx context.Context, run *Run) error {
	role, err := provision.EnsureRole(ctx, run.Log, run.Clients.IAM, provision.RoleSpec{
		Name:        run.Config.Lambda.FunctionName + "-exec",
		TrustPolicy: provision.ServiceTrustPolicy("lambda.amazonaws.com"),
		InlinePolicies: map[string]string{
			"database-bucket": provision.S3DatabasePolicy(run.Config.Storage.Bucket),
		},
		ManagedPolicies: []string{
			"arn:aws:iam::aws:policy/service-role/AWSLambdaBasicExecutionRole",
		},
	})
	if err != nil {
		return err
	}
	run.InstanceRole = role
	return nil
}

func (t *LambdaTarget) DeployImage(ctx context.Context, run *Run) error {
	spec := provision.FunctionSpec{
		Name:           run.Config.Lambda.FunctionName,
		ImageURI:       run.RegistryImage(),
		RoleARN:        run.InstanceRole.ARN,
		MemoryMB:       run.Config.Lambda.MemoryMB,
		TimeoutSeconds: run.Config.Lambda.TimeoutSeconds,
		StorageMB:      run.Config.Lambda.EphemeralStorageMB,
		Environment:    run.Config.Lambda.Environment,
	}

	handle, err := provision.EnsureFunction(ctx, run.Log, run.Clients.Lambda, spec)
	if err != nil {
		return err
	}
	run.Compute = handle

	probe := provision.FunctionActiveProbe(run.Clients.Lambda, spec.Name)
	if ok, reason := pipeline.Verify(ctx, probe, run.verifyPolicy(run.Config.Verify.Resource)); !ok {
		return &pipeline.Failure{
			Kind:    pipeline.TransientInfrastructure,
			Message: fmt.Sprintf("function never became active: %s", reason),
			Hint:    "check the function's logs for a crashing image",
		}
	}

	url, err := provision.EnsureFunctionURL(ctx, run.Log, run.Clients.Lambda, spec.Name)
	if err != nil {
		return err
	}
	t.endpoint = url
	run.Endpoint = url
	return nil
}

func (t *LambdaTarget) PublicEndpoint() string { return t.endpoint }

// AppRunnerTarget deploys the image as a managed container service, with an
// optional shared filesystem for the service's data directory.
type AppRunnerTarget struct {
	endpoint string
}

func (t *AppRunnerTarget) Name() string { return "apprunner" }

func (t *AppRunnerTarget) Provision(ctx context.Context, run *Run) error {
	if fsName := run.Config.AppRunner.FileSystemName; fsName != "" {
		network, err := provision.DefaultNetwork(ctx, run.Log, run.Clients.EC2, fsName+"-sg")
		if err != nil {
			return err
		}
		run.Network = network

		filesystem, err := provision.EnsureFilesystem(ctx, run.Log, run.Clients.EFS, fsName)
		if err != nil {
			return err
		}
		run.Filesystem = filesystem

		if err := provision.EnsureMountTargets(ctx, run.Log, run.Clients.EFS, filesystem.ID, network.SecurityGroupID, network.SubnetIDs); err != nil {
			return err
		}

		accessPoint, err := provision.EnsureAccessPoint(ctx, run.Log, run.Clients.EFS, filesystem.ID, "/data")
		if err != nil {
			return err
		}
		run.AccessPoint = accessPoint
	}

	accessRole, err := provision.EnsureRole(ctx, run.Log, run.Clients.IAM, provision.RoleSpec{
		Name:        run.Config.AppRunner.ServiceName + "-access",
		TrustPolicy: provision.ServiceTrustPolicy("build.apprunner.amazonaws.com"),
		ManagedPolicies: []string{
			"arn:aws:iam::aws:policy/service-role/AWSAppRunnerServicePolicyForECRAccess",
		},
	})
	if err != nil {
		return err
	}
	run.AccessRole = accessRole

	instanceSpec := provision.RoleSpec{
		Name:        run.Config.AppRunner.ServiceName + "-instance",
		TrustPolicy: provision.ServiceTrustPolicy("tasks.apprunner.amazonaws.com"),
		InlinePolicies: map[string]string{
			"database-bucket": provision.S3DatabasePolicy(run.Config.Storage.Bucket),
		},
	}
	if run.Filesystem.ARN != "" {
		instanceSpec.InlinePolicies["filesystem"] = provision.EFSClientPolicy(run.Filesystem.ARN)
	}
	instanceRole, err := provision.EnsureRole(ctx, run.Log, run.Clients.IAM, instanceSpec)
	if err != nil {
		return err
	}
	run.InstanceRole = instanceRole
	return nil
}

func (t *AppRunnerTarget) DeployImage(ctx context.Context, run *Run) error {
	port, err := strconv.ParseInt(run.Config.AppRunner.Port, 10, 32)
	if err != nil {
		return &pipeline.Failure{
			Kind:    pipeline.MalformedInput,
			Message: fmt.Sprintf("appRunner.port %q is not a number", run.Config.AppRunner.Port),
		}
	}

	handle, err := provision.EnsureService(ctx, run.Log, run.Clients.AppRunner, provision.ServiceSpec{
		Name:            run.Config.AppRunner.ServiceName,
		ImageURI:        run.RegistryImage(),
		Port:            int32(port),
		CPU:             run.Config.AppRunner.CPU,
		Memory:          run.Config.AppRunner.Memory,
		HealthCheckPath: run.Config.AppRunner.HealthCheckPath,
		Environment:     run.Config.AppRunner.Environment,
		AccessRoleARN:   run.AccessRole.ARN,
		InstanceRoleARN: run.InstanceRole.ARN,
	})
	if err != nil {
		return err
	}
	run.Compute = handle

	probe := provision.ServiceRunningProbe(run.Clients.AppRunner, handle.ARN)
	if ok, reason := pipeline.Verify(ctx, probe, run.verifyPolicy(run.Config.Verify.Resource)); !ok {
		return &pipeline.Failure{
			Kind:    pipeline.TransientInfrastructure,
			Message: fmt.Sprintf("service never reached RUNNING: %s", reason),
			Hint:    "check the service's event log; failed rollouts usually mean a crashing container",
		}
	}

	t.endpoint = handle.Endpoint
	run.Endpoint = handle.Endpoint
	return nil
}

func (t *AppRunnerTarget) PublicEndpoint() string { return t.endpoint }

// TargetByName maps the CLI flag onto a compute backend.
func TargetByName(name string) (Target, error) {
	switch name {
	case "lambda":
		return &LambdaTarget{}, nil
	case "apprunner":
		return &AppRunnerTarget{}, nil
	default:
		return nil, fmt.Errorf("unknown target %q, want lambda or apprunner", name)
	}
}
