package provision

import (
	"context"
	"encoding/base64"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	ecrtypes "github.com/aws/aws-sdk-go-v2/service/ecr/types"
	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeECR struct {
	create   func(*ecr.CreateRepositoryInput) (*ecr.CreateRepositoryOutput, error)
	describe func(*ecr.DescribeRepositoriesInput) (*ecr.DescribeRepositoriesOutput, error)
	token    func() (*ecr.GetAuthorizationTokenOutput, error)
}

func (f *fakeECR) CreateRepository(_ context.Context, in *ecr.CreateRepositoryInput, _ ...func(*ecr.Options)) (*ecr.CreateRepositoryOutput, error) {
	return f.create(in)
}

func (f *fakeECR) DescribeRepositories(_ context.Context, in *ecr.DescribeRepositoriesInput, _ ...func(*ecr.Options)) (*ecr.DescribeRepositoriesOutput, error) {
	return f.describe(in)
}

func (f *fakeECR) GetAuthorizationToken(_ context.Context, _ *ecr.GetAuthorizationTokenInput, _ ...func(*ecr.Options)) (*ecr.GetAuthorizationTokenOutput, error) {
	return f.token()
}

func TestEnsureRepository(t *testing.T) {
	ctx := context.Background()
	log := logr.Discard()

	t.Run("creates_when_absent", func(t *testing.T) {
		api := &fakeECR{
			create: func(in *ecr.CreateRepositoryInput) (*ecr.CreateRepositoryOutput, error) {
				assert.Equal(t, "app-backend", aws.ToString(in.RepositoryName))
				return &ecr.CreateRepositoryOutput{
					Repository: &ecrtypes.Repository{
						RepositoryUri: aws.String("123.dkr.ecr.us-west-2.amazonaws.com/app-backend"),
						RepositoryArn: aws.String("arn:aws:ecr:us-west-2:123:repository/app-backend"),
					},
				}, nil
			},
		}

		handle, err := EnsureRepository(ctx, log, api, "app-backend")
		require.NoError(t, err)
		assert.Equal(t, "123.dkr.ecr.us-west-2.amazonaws.com/app-backend", handle.ID)
	})

	t.Run("reuses_when_present", func(t *testing.T) {
		api := &fakeECR{
			create: func(*ecr.CreateRepositoryInput) (*ecr.CreateRepositoryOutput, error) {
				return nil, &ecrtypes.RepositoryAlreadyExistsException{}
			},
			describe: func(in *ecr.DescribeRepositoriesInput) (*ecr.DescribeRepositoriesOutput, error) {
				require.Equal(t, []string{"app-backend"}, in.RepositoryNames)
				return &ecr.DescribeRepositoriesOutput{
					Repositories: []ecrtypes.Repository{{
						RepositoryUri: aws.String("123.dkr.ecr.us-west-2.amazonaws.com/app-backend"),
						RepositoryArn: aws.String("arn:aws:ecr:us-west-2:123:repository/app-backend"),
					}},
				}, nil
			},
		}

		handle, err := EnsureRepository(ctx, log, api, "app-backend")
		require.NoError(t, err)
		assert.Equal(t, "123.dkr.ecr.us-west-2.amazonaws.com/app-backend", handle.ID)
	})

	t.Run("same_handle_across_runs", func(t *testing.T) {
		calls := 0
		api := &fakeECR{
			create: func(*ecr.CreateRepositoryInput) (*ecr.CreateRepositoryOutput, error) {
				calls++
				if calls == 1 {
					return &ecr.CreateRepositoryOutput{
						Repository: &ecrtypes.Repository{RepositoryUri: aws.String("uri")},
					}, nil
				}
				return nil, &ecrtypes.RepositoryAlreadyExistsException{}
			},
			describe: func(*ecr.DescribeRepositoriesInput) (*ecr.DescribeRepositoriesOutput, error) {
				return &ecr.DescribeRepositoriesOutput{
					Repositories: []ecrtypes.Repository{{RepositoryUri: aws.String("uri")}},
				}, nil
			},
		}

		first, err := EnsureRepository(ctx, log, api, "app-backend")
		require.NoError(t, err)
		second, err := EnsureRepository(ctx, log, api, "app-backend")
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)
	})
}

func TestRegistryToken(t *testing.T) {
	ctx := context.Background()
	log := logr.Discard()

	t.Run("decodes_credentials", func(t *testing.T) {
		token := base64.StdEncoding.EncodeToString([]byte("AWS:hunter2"))
		api := &fakeECR{
			token: func() (*ecr.GetAuthorizationTokenOutput, error) {
				return &ecr.GetAuthorizationTokenOutput{
					AuthorizationData: []ecrtypes.AuthorizationData{{
						AuthorizationToken: aws.String(token),
						ProxyEndpoint:      aws.String("https://123.dkr.ecr.us-west-2.amazonaws.com"),
					}},
				}, nil
			},
		}

		auth, err := RegistryToken(ctx, log, api)
		require.NoError(t, err)
		assert.Equal(t, "AWS", auth.Username)
		assert.Equal(t, "hunter2", auth.Password)
		assert.Equal(t, "https://123.dkr.ecr.us-west-2.amazonaws.com", auth.Endpoint)
	})

	t.Run("rejects_malformed_token", func(t *testing.T) {
		api := &fakeECR{
			token: func() (*ecr.GetAuthorizationTokenOutput, error) {
				return &ecr.GetAuthorizationTokenOutput{
					AuthorizationData: []ecrtypes.AuthorizationData{{
						AuthorizationToken: aws.String("steve"),
					}},
				}, nil
			},
		}

		_, err := RegistryToken(ctx, log, api)
		assert.Error(t, err)
	})
}
