package deploy

import (
	"context"
	"fmt"
	"os"

	"github.com/codecanvas/talaria/pkg/pipeline"
	"github.com/codecanvas/talaria/pkg/provision"
)

// Preflight fails a run before any resource is touched: wrong credentials,
// a dead docker daemon, or a missing version manifest all stop here.
func (r *Run) Preflight(ctx context.Context) error {
	identity, err := provision.CallerIdentity(ctx, r.Clients.STS)
	if err != nil {
		return err
	}
	if identity.AccountID != r.Config.AWS.Account {
		return &pipeline.Failure{
			Kind:    pipeline.PermissionDenied,
			Message: fmt.Sprintf("credentials belong to account %s, config expects %s", identity.AccountID, r.Config.AWS.Account),
			Hint:    "switch AWS profiles or fix aws.account in the config",
		}
	}
	r.Identity = identity
	r.Log.Info("Credentials verified", "account", identity.AccountID, "principal", identity.ARN)

	if err := r.Docker.Ping(ctx); err != nil {
		return &pipeline.Failure{
			Kind:    pipeline.ExternalToolFailure,
			Message: fmt.Sprintf("docker daemon not reachable: %v", err),
			Hint:    "start the docker daemon",
		}
	}

	if r.Config.Hub.AppImage != "" && r.Config.Hub.Username == "" {
		return &pipeline.Failure{
			Kind:    pipeline.MalformedInput,
			Message: "hub.appImage is set but hub.username is blank",
			Hint:    "set hub.username to the account the images are pushed under",
		}
	}

	if _, err := os.Stat(r.Config.Build.ManifestPath); err != nil {
		return &pipeline.Failure{
			Kind:    pipeline.MalformedInput,
			Message: fmt.Sprintf("version manifest not found at %s", r.Config.Build.ManifestPath),
			Hint:    "fix build.manifestPath in the config",
		}
	}

	return nil
}
