package provision

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/acm"
	"github.com/aws/aws-sdk-go-v2/service/apigateway"
	"github.com/aws/aws-sdk-go-v2/service/apprunner"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	"github.com/aws/aws-sdk-go-v2/service/efs"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/route53"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// Clients bundles the service interfaces a pipeline run needs.
type Clients struct {
	ECR        ECRAPI
	S3         S3API
	IAM        IAMAPI
	Lambda     LambdaAPI
	AppRunner  AppRunnerAPI
	EC2        EC2API
	EFS        EFSAPI
	Route53    Route53API
	CloudFront CloudFrontAPI
	ACM        ACMAPI
	APIGateway APIGatewayAPI
	STS        STSAPI
}

// NewClients resolves credentials through the standard provider chain and
// builds one client per service. The ACM client is pinned to us-east-1
// because CloudFront only accepts certificates from that region.
func NewClients(ctx context.Context, region string) (Clients, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return Clients{}, fmt.Errorf("loading AWS configuration: %w", err)
	}

	return Clients{
		ECR:        ecr.NewFromConfig(cfg),
		S3:         s3.NewFromConfig(cfg),
		IAM:        iam.NewFromConfig(cfg),
		Lambda:     lambda.NewFromConfig(cfg),
		AppRunner:  apprunner.NewFromConfig(cfg),
		EC2:        ec2.NewFromConfig(cfg),
		EFS:        efs.NewFromConfig(cfg),
		Route53:    route53.NewFromConfig(cfg),
		CloudFront: cloudfront.NewFromConfig(cfg),
		ACM: acm.NewFromConfig(cfg, func(o *acm.Options) {
			o.Region = "us-east-1"
		}),
		APIGateway: apigateway.NewFromConfig(cfg),
		STS:        sts.NewFromConfig(cfg),
	}, nil
}
