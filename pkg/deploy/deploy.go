// Package deploy assembles pipelines out of the provisioning, docker, and
// verification building blocks. Each pipeline is an ordered list of stages
// over a shared run context: early stages write artifacts (version tag,
// image URIs, resource handles), later stages read them. Handles live only
// for the run; a re-run re-resolves everything from the external systems.
package deploy

import (
	"context"
	"net/http"
	"time"

	"github.com/go-logr/logr"

	"github.com/codecanvas/talaria/pkg/config"
	"github.com/codecanvas/talaria/pkg/docker"
	"github.com/codecanvas/talaria/pkg/pipeline"
	"github.com/codecanvas/talaria/pkg/provision"
)

// Run is the mutable context threaded through one pipeline execution. Each
// field is written by exactly one stage and read-only afterwards.
type Run struct {
	Config  config.Deployment
	Clients provision.Clients
	Docker  *docker.Client
	HTTP    *http.Client
	Log     logr.Logger

	// Written by preflight.
	Identity provision.Identity

	// Written by the version stage.
	Version string
	Tag     string

	// Written by provisioning and deployment stages.
	Repository   provision.Handle
	RegistryAuth provision.RegistryAuth
	ImageURI     string
	Bucket       provision.Handle
	Network      provision.Network
	Filesystem   provision.Handle
	AccessPoint  provision.Handle
	InstanceRole provision.Handle
	AccessRole   provision.Handle
	Compute      provision.Handle
	Endpoint     string
	Zone         provision.Zone
	Certificate  provision.Handle
	Distribution provision.Handle
	Invalidation string
}

// NewRun wires a run context from loaded configuration and live clients.
func NewRun(cfg config.Deployment, clients provision.Clients, logger logr.Logger) *Run {
	return &Run{
		Config:  cfg,
		Clients: clients,
		Docker:  docker.NewClient(logger),
		HTTP:    pipeline.NewProbeClient(10 * time.Second),
		Log:     logger,
	}
}

// RegistryHost is the private registry hostname derived from the account.
func (r *Run) RegistryHost() string {
	return r.Config.AWS.Account + ".dkr.ecr." + r.Config.AWS.Region + ".amazonaws.com"
}

// RegistryImage is the fully qualified private image coordinate for the
// current run's tag.
func (r *Run) RegistryImage() string {
	return r.RegistryHost() + "/" + r.Config.Registry.Repository + ":" + r.Tag
}

func (r *Run) verifyPolicy(w config.Wait) pipeline.RetryPolicy {
	return pipeline.RetryPolicy{MaxAttempts: w.MaxAttempts, Delay: w.Delay()}
}

// Target is one compute backend a deployment can land on. Provision sets up
// the backend's resources, DeployImage points the backend at the run's
// pushed image, and PublicEndpoint reports where the result is reachable.
type Target interface {
	Name() string
	Provision(ctx context.Context, run *Run) error
	DeployImage(ctx context.Context, run *Run) error
	PublicEndpoint() string
}
