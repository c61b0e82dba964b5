package provision

import (
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/codecanvas/talaria/pkg/pipeline"
)

type STSAPI interface {
	GetCallerIdentity(
		ctx context.Context,
		params *sts.GetCallerIdentityInput,
		optFns ...func(*sts.Options),
	) (*sts.GetCallerIdentityOutput, error)
}

// Identity is the resolved AWS principal a run executes as.
type Identity struct {
	AccountID string
	ARN       string
}

// CallerIdentity resolves the active credentials. It runs as a preflight so
// a bad profile fails before any resource is touched, and the account id
// feeds the registry host. Expected accounts are enforced by the caller.
func CallerIdentity(ctx context.Context, api STSAPI) (Identity, error) {
	out, err := api.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		f := opErr("resolving caller identity", err)
		var known *pipeline.Failure
		if errors.As(f, &known) && known.Kind == pipeline.Unknown {
			known.Kind = pipeline.PermissionDenied
			known.Hint = "check AWS credentials (profile, env vars, or SSO session)"
		}
		return Identity{}, f
	}
	return Identity{
		AccountID: aws.ToString(out.Account),
		ARN:       aws.ToString(out.Arn),
	}, nil
}
