package provision

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/apprunner"
	apprunnertypes "github.com/aws/aws-sdk-go-v2/service/apprunner/types"
	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codecanvas/talaria/pkg/pipeline"
)

type fakeAppRunner struct {
	pages   []*apprunner.ListServicesOutput
	page    int
	created *apprunner.CreateServiceInput
	updated *apprunner.UpdateServiceInput
	status  apprunnertypes.ServiceStatus
}

func (f *fakeAppRunner) ListServices(_ context.Context, _ *apprunner.ListServicesInput, _ ...func(*apprunner.Options)) (*apprunner.ListServicesOutput, error) {
	out := f.pages[f.page]
	f.page++
	return out, nil
}

func (f *fakeAppRunner) CreateService(_ context.Context, in *apprunner.CreateServiceInput, _ ...func(*apprunner.Options)) (*apprunner.CreateServiceOutput, error) {
	f.created = in
	return &apprunner.CreateServiceOutput{
		Service: &apprunnertypes.Service{
			ServiceId:  aws.String("svc-1"),
			ServiceArn: aws.String("arn:aws:apprunner:us-west-2:123:service/app/svc-1"),
			ServiceUrl: aws.String("abc123.us-west-2.awsapprunner.com"),
		},
	}, nil
}

func (f *fakeAppRunner) UpdateService(_ context.Context, in *apprunner.UpdateServiceInput, _ ...func(*apprunner.Options)) (*apprunner.UpdateServiceOutput, error) {
	f.updated = in
	return &apprunner.UpdateServiceOutput{
		Service: &apprunnertypes.Service{
			ServiceId:  aws.String("svc-1"),
			ServiceArn: in.ServiceArn,
			ServiceUrl: aws.String("abc123.us-west-2.awsapprunner.com"),
		},
	}, nil
}

func (f *fakeAppRunner) DescribeService(_ context.Context, _ *apprunner.DescribeServiceInput, _ ...func(*apprunner.Options)) (*apprunner.DescribeServiceOutput, error) {
	return &apprunner.DescribeServiceOutput{
		Service: &apprunnertypes.Service{Status: f.status},
	}, nil
}

func testServiceSpec() ServiceSpec {
	return ServiceSpec{
		Name:            "app-web",
		ImageURI:        "123.dkr.ecr.us-west-2.amazonaws.com/app-web:v1.2.3",
		Port:            3000,
		CPU:             "1 vCPU",
		Memory:          "2 GB",
		HealthCheckPath: "/healthz",
		AccessRoleARN:   "arn:aws:iam::123:role/app-runner-access",
	}
}

func TestEnsureService(t *testing.T) {
	ctx := context.Background()
	log := logr.Discard()

	t.Run("creates_when_absent", func(t *testing.T) {
		api := &fakeAppRunner{pages: []*apprunner.ListServicesOutput{{}}}
		handle, err := EnsureService(ctx, log, api, testServiceSpec())
		require.NoError(t, err)
		require.NotNil(t, api.created)
		assert.Nil(t, api.updated)
		assert.Equal(t, "https://abc123.us-west-2.awsapprunner.com", handle.Endpoint)
		assert.Equal(t, "3000", aws.ToString(api.created.SourceConfiguration.ImageRepository.ImageConfiguration.Port))

		health := api.created.HealthCheckConfiguration
		require.NotNil(t, health)
		assert.Equal(t, apprunnertypes.HealthCheckProtocolHttp, health.Protocol)
		assert.Equal(t, "/healthz", aws.ToString(health.Path))
	})

	t.Run("updates_when_found_on_second_page", func(t *testing.T) {
		api := &fakeAppRunner{pages: []*apprunner.ListServicesOutput{
			{
				ServiceSummaryList: []apprunnertypes.ServiceSummary{{ServiceName: aws.String("other")}},
				NextToken:          aws.String("page2"),
			},
			{
				ServiceSummaryList: []apprunnertypes.ServiceSummary{{
					ServiceName: aws.String("app-web"),
					ServiceArn:  aws.String("arn:aws:apprunner:us-west-2:123:service/app/svc-1"),
				}},
			},
		}}

		_, err := EnsureService(ctx, log, api, testServiceSpec())
		require.NoError(t, err)
		assert.Nil(t, api.created)
		require.NotNil(t, api.updated)
		assert.Contains(t, aws.ToString(api.updated.SourceConfiguration.ImageRepository.ImageIdentifier), ":v1.2.3")

		health := api.updated.HealthCheckConfiguration
		require.NotNil(t, health)
		assert.Equal(t, "/healthz", aws.ToString(health.Path))
	})
}

func TestServiceRunningProbe(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		status apprunnertypes.ServiceStatus
		want   pipeline.ProbeState
	}{
		{apprunnertypes.ServiceStatusRunning, pipeline.ProbeSuccess},
		{apprunnertypes.ServiceStatusOperationInProgress, pipeline.ProbeTransient},
		{apprunnertypes.ServiceStatusCreateFailed, pipeline.ProbeTerminal},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			probe := ServiceRunningProbe(&fakeAppRunner{status: tt.status}, "arn")
			assert.Equal(t, tt.want, probe(ctx).State)
		})
	}
}
