package provision

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	cftypes "github.com/aws/aws-sdk-go-v2/service/cloudfront/types"
	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/codecanvas/talaria/pkg/pipeline"
)

// Managed cache and origin-request policies. The ids are global constants
// published by the service.
const (
	cachingDisabledPolicyID = "4135ea2d-6df8-44a3-9df3-4b5a84be39ad"
	allViewerPolicyID       = "216adef6-5c7f-47e4-b989-5492eafa07d3"
)

type CloudFrontAPI interface {
	ListDistributions(
		ctx context.Context,
		params *cloudfront.ListDistributionsInput,
		optFns ...func(*cloudfront.Options),
	) (*cloudfront.ListDistributionsOutput, error)
	CreateDistribution(
		ctx context.Context,
		params *cloudfront.CreateDistributionInput,
		optFns ...func(*cloudfront.Options),
	) (*cloudfront.CreateDistributionOutput, error)
	GetDistribution(
		ctx context.Context,
		params *cloudfront.GetDistributionInput,
		optFns ...func(*cloudfront.Options),
	) (*cloudfront.GetDistributionOutput, error)
	CreateInvalidation(
		ctx context.Context,
		params *cloudfront.CreateInvalidationInput,
		optFns ...func(*cloudfront.Options),
	) (*cloudfront.CreateInvalidationOutput, error)
	GetInvalidation(
		ctx context.Context,
		params *cloudfront.GetInvalidationInput,
		optFns ...func(*cloudfront.Options),
	) (*cloudfront.GetInvalidationOutput, error)
}

// DistributionSpec describes an edge distribution fronting an origin host
// under a custom domain.
type DistributionSpec struct {
	Domain         string
	OriginHost     string
	CertificateARN string
}

// EnsureDistribution reuses the distribution already aliased to the domain,
// or creates one that forwards everything to the origin over HTTPS with
// caching disabled. Dynamic app responses come from the origin; the edge
// layer exists for the custom domain and TLS termination.
func EnsureDistribution(ctx context.Context, logger logr.Logger, api CloudFrontAPI, spec DistributionSpec) (Handle, error) {
	existing, err := findDistributionByAlias(ctx, api, spec.Domain)
	if err != nil {
		return Handle{}, err
	}
	if existing != nil {
		logger.Info("Distribution already exists, reusing", "domain", spec.Domain, "id", aws.ToString(existing.Id))
		return Handle{
			ID:       aws.ToString(existing.Id),
			ARN:      aws.ToString(existing.ARN),
			Endpoint: aws.ToString(existing.DomainName),
		}, nil
	}

	originID := "origin-" + spec.OriginHost
	config := &cftypes.DistributionConfig{
		CallerReference: aws.String(uuid.NewString()),
		Comment:         aws.String("edge for " + spec.Domain),
		Enabled:         aws.Bool(true),
		HttpVersion:     cftypes.HttpVersionHttp2and3,
		Aliases: &cftypes.Aliases{
			Quantity: aws.Int32(2),
			Items:    []string{spec.Domain, "www." + spec.Domain},
		},
		Origins: &cftypes.Origins{
			Quantity: aws.Int32(1),
			Items: []cftypes.Origin{{
				Id:         aws.String(originID),
				DomainName: aws.String(spec.OriginHost),
				// The origin only sees its own hostname; the app needs the
				// viewer-facing one to build absolute URLs.
				CustomHeaders: &cftypes.CustomHeaders{
					Quantity: aws.Int32(1),
					Items: []cftypes.OriginCustomHeader{{
						HeaderName:  aws.String("X-Forwarded-Host"),
						HeaderValue: aws.String(spec.Domain),
					}},
				},
				CustomOriginConfig: &cftypes.CustomOriginConfig{
					HTTPPort:             aws.Int32(80),
					HTTPSPort:            aws.Int32(443),
					OriginProtocolPolicy: cftypes.OriginProtocolPolicyHttpsOnly,
					OriginSslProtocols: &cftypes.OriginSslProtocols{
						Quantity: aws.Int32(1),
						Items:    []cftypes.SslProtocol{cftypes.SslProtocolTLSv12},
					},
				},
			}},
		},
		DefaultCacheBehavior: &cftypes.DefaultCacheBehavior{
			TargetOriginId:        aws.String(originID),
			ViewerProtocolPolicy:  cftypes.ViewerProtocolPolicyRedirectToHttps,
			CachePolicyId:         aws.String(cachingDisabledPolicyID),
			OriginRequestPolicyId: aws.String(allViewerPolicyID),
			AllowedMethods: &cftypes.AllowedMethods{
				Quantity: aws.Int32(7),
				Items: []cftypes.Method{
					cftypes.MethodGet, cftypes.MethodHead, cftypes.MethodOptions,
					cftypes.MethodPut, cftypes.MethodPost, cftypes.MethodPatch, cftypes.MethodDelete,
				},
			},
			Compress: aws.Bool(true),
		},
		ViewerCertificate: &cftypes.ViewerCertificate{
			ACMCertificateArn:      aws.String(spec.CertificateARN),
			SSLSupportMethod:       cftypes.SSLSupportMethodSniOnly,
			MinimumProtocolVersion: cftypes.MinimumProtocolVersionTLSv122021,
		},
	}

	out, err := api.CreateDistribution(ctx, &cloudfront.CreateDistributionInput{
		DistributionConfig: config,
	})
	if err != nil {
		return Handle{}, opErr(fmt.Sprintf("creating distribution for %q", spec.Domain), err)
	}

	logger.Info("Distribution created", "domain", spec.Domain, "id", aws.ToString(out.Distribution.Id))
	return Handle{
		ID:       aws.ToString(out.Distribution.Id),
		ARN:      aws.ToString(out.Distribution.ARN),
		Endpoint: aws.ToString(out.Distribution.DomainName),
	}, nil
}

func findDistributionByAlias(ctx context.Context, api CloudFrontAPI, domain string) (*cftypes.DistributionSummary, error) {
	var marker *string
	for {
		out, err := api.ListDistributions(ctx, &cloudfront.ListDistributionsInput{Marker: marker})
		if err != nil {
			return nil, opErr("listing distributions", err)
		}
		if out.DistributionList == nil {
			return nil, nil
		}
		for i, dist := range out.DistributionList.Items {
			if dist.Aliases == nil {
				continue
			}
			for _, alias := range dist.Aliases.Items {
				if alias == domain {
					return &out.DistributionList.Items[i], nil
				}
			}
		}
		if !aws.ToBool(out.DistributionList.IsTruncated) {
			return nil, nil
		}
		marker = out.DistributionList.NextMarker
	}
}

// Invalidate flushes every cached path on the distribution. Each call gets a
// fresh caller reference so re-runs submit a new invalidation.
func Invalidate(ctx context.Context, logger logr.Logger, api CloudFrontAPI, distributionID string) (string, error) {
	out, err := api.CreateInvalidation(ctx, &cloudfront.CreateInvalidationInput{
		DistributionId: aws.String(distributionID),
		InvalidationBatch: &cftypes.InvalidationBatch{
			CallerReference: aws.String(uuid.NewString()),
			Paths: &cftypes.Paths{
				Quantity: aws.Int32(1),
				Items:    []string{"/*"},
			},
		},
	})
	if err != nil {
		return "", opErr(fmt.Sprintf("invalidating distribution %q", distributionID), err)
	}

	id := aws.ToString(out.Invalidation.Id)
	logger.Info("Invalidation submitted", "distribution", distributionID, "invalidation", id)
	return id, nil
}

// DistributionDeployedProbe reports whether the distribution has finished
// propagating to the edge.
func DistributionDeployedProbe(api CloudFrontAPI, distributionID string) pipeline.Probe {
	return func(ctx context.Context) pipeline.ProbeOutcome {
		out, err := api.GetDistribution(ctx, &cloudfront.GetDistributionInput{
			Id: aws.String(distributionID),
		})
		if err != nil {
			if Classify(err) == pipeline.TransientInfrastructure {
				return pipeline.Retry(err.Error())
			}
			return pipeline.GiveUp(err.Error())
		}
		if strings.EqualFold(aws.ToString(out.Distribution.Status), "Deployed") {
			return pipeline.Healthy()
		}
		return pipeline.Retry(fmt.Sprintf("distribution status %s", aws.ToString(out.Distribution.Status)))
	}
}

// InvalidationCompletedProbe reports whether an invalidation has completed.
func InvalidationCompletedProbe(api CloudFrontAPI, distributionID, invalidationID string) pipeline.Probe {
	return func(ctx context.Context) pipeline.ProbeOutcome {
		out, err := api.GetInvalidation(ctx, &cloudfront.GetInvalidationInput{
			DistributionId: aws.String(distributionID),
			Id:             aws.String(invalidationID),
		})
		if err != nil {
			if Classify(err) == pipeline.TransientInfrastructure {
				return pipeline.Retry(err.Error())
			}
			return pipeline.GiveUp(err.Error())
		}
		if strings.EqualFold(aws.ToString(out.Invalidation.Status), "Completed") {
			return pipeline.Healthy()
		}
		return pipeline.Retry(fmt.Sprintf("invalidation status %s", aws.ToString(out.Invalidation.Status)))
	}
}
