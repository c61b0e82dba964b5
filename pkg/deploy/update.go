package deploy

import (
	"context"
	"fmt"
	"strings"

	"github.com/codecanvas/talaria/pkg/docker"
	"github.com/codecanvas/talaria/pkg/pipeline"
	"github.com/codecanvas/talaria/pkg/provision"
	"github.com/codecanvas/talaria/pkg/version"
)

// UpdateStages is the full release pipeline for an already provisioned
// deployment: read the version, build and publish every image, roll the
// function, flush the edge cache, and verify reachability end to end.
func (r *Run) UpdateStages() []pipeline.Stage {
	return []pipeline.Stage{
		{Name: "read version", Run: r.stageReadVersion},
		{Name: "build app image", Run: r.stageBuildAppImage},
		{Name: "build db-init image", Run: r.stageBuildDBInitImage},
		{Name: "push hub images", Run: r.stagePushHubImages},
		{Name: "registry login", Run: r.stageRegistryLogin},
		{Name: "build and push function image", Run: r.stageBuildFunctionImage},
		{Name: "update function", Run: r.stageUpdateFunction},
		{Name: "verify api gateway", Run: r.stageVerifyAPIGateway},
		{Name: "invalidate cdn", Run: r.stageInvalidateCDN},
		{Name: "verify dns", Run: r.stageVerifyDNS},
		{Name: "check function endpoint", Run: r.stageCheckFunctionEndpoint},
		{Name: "check public domain", Run: r.stageCheckPublicDomain},
	}
}

func (r *Run) stageReadVersion(ctx context.Context) pipeline.Result {
	manifest, err := version.ReadManifest(r.Config.Build.ManifestPath)
	if err != nil {
		return pipeline.FailErr(err, "fix the version manifest named by build.manifestPath")
	}

	r.Version = manifest.Version
	if r.Config.Build.TagOverride != "" {
		r.Tag = r.Config.Build.TagOverride
	} else {
		r.Tag = manifest.Tag()
	}
	return pipeline.Success(fmt.Sprintf("version %s, tag %s", r.Version, r.Tag))
}

func (r *Run) hubAppRef() string {
	return r.Config.Hub.AppImage + ":" + r.Tag
}

func (r *Run) hubDBInitRef() string {
	return r.Config.Hub.DBInitImage + ":" + r.Tag
}

func (r *Run) stageBuildAppImage(ctx context.Context) pipeline.Result {
	if r.Config.Hub.AppImage == "" {
		return pipeline.Success("hub publishing not configured, skipping")
	}

	err := r.Docker.Build(ctx, docker.BuildOptions{
		ContextDir: r.Config.Build.ContextDir,
		Dockerfile: r.Config.Build.AppDockerfile,
		Tag:        r.hubAppRef(),
	})
	if err != nil {
		return pipeline.FailErr(err, "inspect the build output; the app image must build cleanly before anything ships")
	}
	return pipeline.Success(r.hubAppRef())
}

func (r *Run) stageBuildDBInitImage(ctx context.Context) pipeline.Result {
	if r.Config.Hub.DBInitImage == "" {
		return pipeline.Success("hub publishing not configured, skipping")
	}

	err := r.Docker.Build(ctx, docker.BuildOptions{
		ContextDir: r.Config.Build.ContextDir,
		Dockerfile: r.Config.Build.DBInitDockerfile,
		Tag:        r.hubDBInitRef(),
	})
	if err != nil {
		return pipeline.FailErr(err, "inspect the build output for the db-init image")
	}
	return pipeline.Success(r.hubDBInitRef())
}

func (r *Run) stagePushHubImages(ctx context.Context) pipeline.Result {
	if r.Config.Hub.AppImage == "" {
		return pipeline.Success("hub publishing not configured, skipping")
	}

	images := []string{r.Config.Hub.AppImage}
	if r.Config.Hub.DBInitImage != "" {
		images = append(images, r.Config.Hub.DBInitImage)
	}

	// Each image ships under its versioned tag and a moving latest tag.
	var pushed []string
	for _, image := range images {
		versioned := image + ":" + r.Tag
		latest := image + ":latest"
		if err := r.Docker.TagImage(ctx, versioned, latest); err != nil {
			return pipeline.FailErr(err, "the versioned image must exist locally before it can be retagged")
		}
		for _, ref := range []string{versioned, latest} {
			if err := r.Docker.Push(ctx, ref); err != nil {
				return pipeline.FailErr(err, "run docker login for the public registry and retry")
			}
			pushed = append(pushed, ref)
		}
	}
	return pipeline.Success("pushed " + strings.Join(pushed, ", "))
}

func (r *Run) stageRegistryLogin(ctx context.Context) pipeline.Result {
	auth, err := provision.RegistryToken(ctx, r.Log, r.Clients.ECR)
	if err != nil {
		return pipeline.FailErr(err, "check that the credentials may request registry tokens")
	}
	r.RegistryAuth = auth

	if err := r.Docker.Login(ctx, auth.Endpoint, auth.Username, auth.Password); err != nil {
		return pipeline.FailErr(err, "the registry token was issued but docker login rejected it")
	}
	return pipeline.Success("logged in to " + auth.Endpoint)
}

func (r *Run) stageBuildFunctionImage(ctx context.Context) pipeline.Result {
	r.ImageURI = r.RegistryImage()

	err := r.Docker.Build(ctx, docker.BuildOptions{
		ContextDir: r.Config.Build.ContextDir,
		Dockerfile: r.Config.Build.LambdaDockerfile,
		Tag:        r.ImageURI,
	})
	if err != nil {
		return pipeline.FailErr(err, "inspect the build output for the function image")
	}
	if err := r.Docker.Push(ctx, r.ImageURI); err != nil {
		return pipeline.FailErr(err, "push to the private registry failed after login; check repository permissions")
	}
	return pipeline.Success(r.ImageURI)
}

func (r *Run) stageUpdateFunction(ctx context.Context) pipeline.Result {
	spec := r.functionSpec()
	if spec.RoleARN == "" {
		// An update run has no provisioning context; carry over the role
		// the existing function already executes as.
		arn, err := provision.FunctionRole(ctx, r.Clients.Lambda, spec.Name)
		if err != nil {
			return pipeline.FailErr(err, "run the provision pipeline before updating")
		}
		spec.RoleARN = arn
	}

	handle, err := provision.EnsureFunction(ctx, r.Log, r.Clients.Lambda, spec)
	if err != nil {
		return pipeline.FailErr(err, "check the function configuration and the image it points at")
	}
	r.Compute = handle

	probe := provision.FunctionActiveProbe(r.Clients.Lambda, r.Config.Lambda.FunctionName)
	if ok, reason := pipeline.Verify(ctx, probe, r.verifyPolicy(r.Config.Verify.Resource)); !ok {
		return pipeline.Fail(pipeline.TransientInfrastructure,
			fmt.Sprintf("function never became active: %s", reason),
			"check the function's logs for a crashing image")
	}
	return pipeline.Success(handle.ARN)
}

func (r *Run) functionSpec() provision.FunctionSpec {
	return provision.FunctionSpec{
		Name:           r.Config.Lambda.FunctionName,
		ImageURI:       r.RegistryImage(),
		RoleARN:        r.InstanceRole.ARN,
		MemoryMB:       r.Config.Lambda.MemoryMB,
		TimeoutSeconds: r.Config.Lambda.TimeoutSeconds,
		StorageMB:      r.Config.Lambda.EphemeralStorageMB,
		Environment:    r.Config.Lambda.Environment,
	}
}

func (r *Run) stageVerifyAPIGateway(ctx context.Context) pipeline.Result {
	if r.Config.Edge.APIGatewayID == "" {
		return pipeline.Success("no api gateway configured, skipping")
	}

	handle, err := provision.VerifyRestAPI(ctx, r.Clients.APIGateway, r.Config.Edge.APIGatewayID, r.Config.Edge.APIGatewayName, "prod", r.Config.AWS.Region)
	if err != nil {
		return pipeline.FailErr(err, "the gateway is expected to pre-exist; check edge.apiGatewayID")
	}
	return pipeline.Success(handle.Endpoint)
}

func (r *Run) stageInvalidateCDN(ctx context.Context) pipeline.Result {
	if r.Config.Edge.DistributionID == "" {
		return pipeline.Success("no distribution configured, skipping")
	}

	invalidationID, err := provision.Invalidate(ctx, r.Log, r.Clients.CloudFront, r.Config.Edge.DistributionID)
	if err != nil {
		return pipeline.FailErr(err, "check edge.distributionID")
	}
	r.Invalidation = invalidationID

	probe := provision.InvalidationCompletedProbe(r.Clients.CloudFront, r.Config.Edge.DistributionID, invalidationID)
	if ok, reason := pipeline.Verify(ctx, probe, r.verifyPolicy(r.Config.Verify.Invalidation)); !ok {
		return pipeline.Fail(pipeline.TransientInfrastructure,
			fmt.Sprintf("invalidation did not complete: %s", reason),
			"invalidations can take ten minutes; raise verify.invalidation budgets if this recurs")
	}
	return pipeline.Success("invalidation " + invalidationID + " completed")
}

func (r *Run) stageVerifyDNS(ctx context.Context) pipeline.Result {
	if r.Config.Edge.Domain == "" {
		return pipeline.Success("no domain configured, skipping")
	}
	zoneID := r.Config.Edge.HostedZoneID
	if zoneID == "" {
		zone, err := provision.HostedZoneForDomain(ctx, r.Clients.Route53, r.Config.Edge.Domain)
		if err != nil {
			return pipeline.FailErr(err, "run the edge pipeline to set up DNS")
		}
		zoneID = zone.ID
	}

	records, err := provision.VerifyZone(ctx, r.Clients.Route53, zoneID, r.Config.Edge.Domain)
	if err != nil {
		return pipeline.FailErr(err, "check edge.hostedZoneID against the Route 53 console")
	}

	detail := fmt.Sprintf("zone %s serves %d records", zoneID, records.RecordCount)
	if records.ApexTarget != "" {
		detail += ", apex alias " + records.ApexTarget
	}
	if records.WWWTarget != "" {
		detail += ", www alias " + records.WWWTarget
	}
	return pipeline.Success(detail)
}

func (r *Run) stageCheckFunctionEndpoint(ctx context.Context) pipeline.Result {
	url, err := provision.EnsureFunctionURL(ctx, r.Log, r.Clients.Lambda, r.Config.Lambda.FunctionName)
	if err != nil {
		return pipeline.FailErr(err, "check the function url configuration")
	}
	r.Endpoint = url

	probe := pipeline.EndpointProbe(r.HTTP, url)
	if ok, reason := pipeline.Verify(ctx, probe, r.verifyPolicy(r.Config.Verify.Endpoint)); !ok {
		return pipeline.Fail(pipeline.TransientInfrastructure,
			fmt.Sprintf("function endpoint unreachable: %s", reason),
			"check the function's logs; a cold start can also exceed the endpoint budget")
	}
	return pipeline.Success(url + " reachable")
}

func (r *Run) stageCheckPublicDomain(ctx context.Context) pipeline.Result {
	if r.Config.Edge.Domain == "" {
		return pipeline.Success("no domain configured, skipping")
	}

	url := "https://" + r.Config.Edge.Domain
	probe := pipeline.EndpointProbe(r.HTTP, url)
	if ok, reason := pipeline.Verify(ctx, probe, r.verifyPolicy(r.Config.Verify.Domain)); !ok {
		return pipeline.Fail(pipeline.TransientInfrastructure,
			fmt.Sprintf("public domain unreachable: %s", reason),
			"DNS and CDN propagation can lag; re-run once the records settle")
	}
	return pipeline.Success(url + " reachable")
}
