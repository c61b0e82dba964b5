package deploy

import (
	"context"
	"fmt"

	"github.com/codecanvas/talaria/pkg/pipeline"
	"github.com/codecanvas/talaria/pkg/provision"
)

// ProvisionStages stands up a deployment from nothing on the given compute
// target: repository, bucket, the target's own resources, a first image, and
// an end-to-end reachability check. Every stage is re-runnable.
func (r *Run) ProvisionStages(target Target) []pipeline.Stage {
	return []pipeline.Stage{
		{Name: "read version", Run: r.stageReadVersion},
		{Name: "create repository", Run: r.stageEnsureRepository},
		{Name: "create bucket", Run: r.stageEnsureBucket},
		{Name: "provision " + target.Name(), Run: r.stageProvisionTarget(target)},
		{Name: "registry login", Run: r.stageRegistryLogin},
		{Name: "build and push function image", Run: r.stageBuildFunctionImage},
		{Name: "deploy to " + target.Name(), Run: r.stageDeployTarget(target)},
		{Name: "check endpoint", Run: r.stageCheckTargetEndpoint(target)},
	}
}

func (r *Run) stageEnsureRepository(ctx context.Context) pipeline.Result {
	handle, err := provision.EnsureRepository(ctx, r.Log, r.Clients.ECR, r.Config.Registry.Repository)
	if err != nil {
		return pipeline.FailErr(err, "check registry.repository and the credentials' registry permissions")
	}
	r.Repository = handle
	return pipeline.Success(handle.ID)
}

func (r *Run) stageEnsureBucket(ctx context.Context) pipeline.Result {
	if r.Config.Storage.Bucket == "" {
		return pipeline.Success("no bucket configured, skipping")
	}

	handle, err := provision.EnsureBucket(ctx, r.Log, r.Clients.S3, r.Config.Storage.Bucket, r.Config.AWS.Region, map[string]string{
		"managed-by": "talaria",
	})
	if err != nil {
		return pipeline.FailErr(err, "bucket names are globally unique; a Conflict from another account needs a new name")
	}
	r.Bucket = handle

	detail := handle.ARN
	if key := r.Config.Storage.DatabaseKey; key != "" {
		seeded, err := provision.EnsureDatabaseObject(ctx, r.Log, r.Clients.S3, r.Config.Storage.Bucket, key)
		if err != nil {
			return pipeline.FailErr(err, "check object permissions on the bucket for storage.databaseKey")
		}
		if seeded {
			detail += ", seeded " + key
		} else {
			detail += ", " + key + " present"
		}
	}
	return pipeline.Success(detail)
}

func (r *Run) stageProvisionTarget(target Target) func(context.Context) pipeline.Result {
	return func(ctx context.Context) pipeline.Result {
		if err := target.Provision(ctx, r); err != nil {
			return pipeline.FailErr(err, "")
		}
		return pipeline.Success(target.Name() + " resources in place")
	}
}

func (r *Run) stageDeployTarget(target Target) func(context.Context) pipeline.Result {
	return func(ctx context.Context) pipeline.Result {
		if err := target.DeployImage(ctx, r); err != nil {
			return pipeline.FailErr(err, "")
		}
		return pipeline.Success(fmt.Sprintf("%s running %s", target.Name(), r.ImageURI))
	}
}

func (r *Run) stageCheckTargetEndpoint(target Target) func(context.Context) pipeline.Result {
	return func(ctx context.Context) pipeline.Result {
		endpoint := target.PublicEndpoint()
		if endpoint == "" {
			return pipeline.Fail(pipeline.Unknown, "target reported no public endpoint", "")
		}

		probe := pipeline.EndpointProbe(r.HTTP, endpoint)
		if ok, reason := pipeline.Verify(ctx, probe, r.verifyPolicy(r.Config.Verify.Endpoint)); !ok {
			return pipeline.Fail(pipeline.TransientInfrastructure,
				fmt.Sprintf("endpoint %s unreachable: %s", endpoint, reason),
				"a cold first deployment can exceed the endpoint budget; re-run to check again")
		}
		return pipeline.Success(endpoint + " reachable")
	}
}
