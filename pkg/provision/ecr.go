package provision

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	ecrtypes "github.com/aws/aws-sdk-go-v2/service/ecr/types"
	"github.com/go-logr/logr"
)

type ECRAPI interface {
	CreateRepository(
		ctx context.Context,
		params *ecr.CreateRepositoryInput,
		optFns ...func(*ecr.Options),
	) (*ecr.CreateRepositoryOutput, error)
	DescribeRepositories(
		ctx context.Context,
		params *ecr.DescribeRepositoriesInput,
		optFns ...func(*ecr.Options),
	) (*ecr.DescribeRepositoriesOutput, error)
	GetAuthorizationToken(
		ctx context.Context,
		params *ecr.GetAuthorizationTokenInput,
		optFns ...func(*ecr.Options),
	) (*ecr.GetAuthorizationTokenOutput, error)
}

// EnsureRepository creates the image repository or returns the existing one.
func EnsureRepository(ctx context.Context, logger logr.Logger, api ECRAPI, name string) (Handle, error) {
	out, err := api.CreateRepository(ctx, &ecr.CreateRepositoryInput{
		RepositoryName:             aws.String(name),
		ImageScanningConfiguration: &ecrtypes.ImageScanningConfiguration{ScanOnPush: true},
		ImageTagMutability:         ecrtypes.ImageTagMutabilityMutable,
	})
	if err == nil {
		logger.Info("Repository created", "name", name, "uri", aws.ToString(out.Repository.RepositoryUri))
		return Handle{
			ID:       aws.ToString(out.Repository.RepositoryUri),
			ARN:      aws.ToString(out.Repository.RepositoryArn),
			Endpoint: aws.ToString(out.Repository.RepositoryUri),
		}, nil
	}

	var exists *ecrtypes.RepositoryAlreadyExistsException
	if !errors.As(err, &exists) {
		return Handle{}, opErr(fmt.Sprintf("creating repository %q", name), err)
	}

	logger.Info("Repository already exists, reusing", "name", name)
	desc, err := api.DescribeRepositories(ctx, &ecr.DescribeRepositoriesInput{
		RepositoryNames: []string{name},
	})
	if err != nil {
		return Handle{}, opErr(fmt.Sprintf("describing repository %q", name), err)
	}
	if len(desc.Repositories) == 0 {
		return Handle{}, fmt.Errorf("repository %q reported as existing but not described", name)
	}

	repo := desc.Repositories[0]
	return Handle{
		ID:       aws.ToString(repo.RepositoryUri),
		ARN:      aws.ToString(repo.RepositoryArn),
		Endpoint: aws.ToString(repo.RepositoryUri),
	}, nil
}

// RegistryAuth is a decoded docker login credential for the registry.
type RegistryAuth struct {
	Username string
	Password string
	Endpoint string
}

// RegistryToken fetches and decodes the registry authorization token.
func RegistryToken(ctx context.Context, logger logr.Logger, api ECRAPI) (RegistryAuth, error) {
	resp, err := api.GetAuthorizationToken(ctx, &ecr.GetAuthorizationTokenInput{})
	if err != nil {
		return RegistryAuth{}, opErr("getting registry auth token", err)
	}
	if len(resp.AuthorizationData) != 1 {
		return RegistryAuth{}, fmt.Errorf("expected a single registry authorization token, got %d", len(resp.AuthorizationData))
	}

	data := resp.AuthorizationData[0]
	username, password, err := decodeAuth(aws.ToString(data.AuthorizationToken))
	if err != nil {
		return RegistryAuth{}, fmt.Errorf("invalid registry authorization token: %w", err)
	}

	logger.Info("Registry token issued", "endpoint", aws.ToString(data.ProxyEndpoint))
	return RegistryAuth{
		Username: username,
		Password: password,
		Endpoint: aws.ToString(data.ProxyEndpoint),
	}, nil
}

func decodeAuth(auth string) (string, string, error) {
	if auth == "" {
		return "", "", errors.New("auth token cannot be blank")
	}

	decoded, err := base64.StdEncoding.DecodeString(auth)
	if err != nil {
		return "", "", fmt.Errorf("failed to decode auth token: %w", err)
	}

	creds := strings.SplitN(string(decoded), ":", 2)
	if len(creds) != 2 {
		return "", "", fmt.Errorf("malformed auth token")
	}
	return creds[0], creds[1], nil
}
