package provision

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/acm"
	acmtypes "github.com/aws/aws-sdk-go-v2/service/acm/types"
	"github.com/go-logr/logr"

	"github.com/codecanvas/talaria/pkg/pipeline"
)

type ACMAPI interface {
	ListCertificates(
		ctx context.Context,
		params *acm.ListCertificatesInput,
		optFns ...func(*acm.Options),
	) (*acm.ListCertificatesOutput, error)
	RequestCertificate(
		ctx context.Context,
		params *acm.RequestCertificateInput,
		optFns ...func(*acm.Options),
	) (*acm.RequestCertificateOutput, error)
	DescribeCertificate(
		ctx context.Context,
		params *acm.DescribeCertificateInput,
		optFns ...func(*acm.Options),
	) (*acm.DescribeCertificateOutput, error)
}

// EnsureCertificate reuses an issued or pending certificate covering domain,
// or requests a new DNS validated one. Certificates for edge distributions
// must live in us-east-1 regardless of the deployment region, which the
// client construction pins.
func EnsureCertificate(ctx context.Context, logger logr.Logger, api ACMAPI, domain string) (Handle, error) {
	list, err := api.ListCertificates(ctx, &acm.ListCertificatesInput{
		CertificateStatuses: []acmtypes.CertificateStatus{
			acmtypes.CertificateStatusIssued,
			acmtypes.CertificateStatusPendingValidation,
		},
	})
	if err != nil {
		return Handle{}, opErr("listing certificates", err)
	}
	for _, cert := range list.CertificateSummaryList {
		if aws.ToString(cert.DomainName) == domain {
			arn := aws.ToString(cert.CertificateArn)
			logger.Info("Certificate already exists, reusing", "domain", domain, "arn", arn)
			return Handle{ID: arn, ARN: arn}, nil
		}
	}

	out, err := api.RequestCertificate(ctx, &acm.RequestCertificateInput{
		DomainName:              aws.String(domain),
		SubjectAlternativeNames: []string{"*." + domain},
		ValidationMethod:        acmtypes.ValidationMethodDns,
	})
	if err != nil {
		return Handle{}, opErr(fmt.Sprintf("requesting certificate for %q", domain), err)
	}

	arn := aws.ToString(out.CertificateArn)
	logger.Info("Certificate requested", "domain", domain, "arn", arn)
	return Handle{ID: arn, ARN: arn}, nil
}

// ValidationRecord is the DNS proof a certificate request asks for.
type ValidationRecord struct {
	Name  string
	Value string
}

// PendingValidations returns the DNS records still needed to validate the
// certificate. A freshly requested certificate publishes its validation
// options asynchronously, so absent records mean "ask again", not failure.
func PendingValidations(ctx context.Context, api ACMAPI, certificateARN string) ([]ValidationRecord, error) {
	out, err := api.DescribeCertificate(ctx, &acm.DescribeCertificateInput{
		CertificateArn: aws.String(certificateARN),
	})
	if err != nil {
		return nil, opErr("describing certificate", err)
	}

	var records []ValidationRecord
	for _, opt := range out.Certificate.DomainValidationOptions {
		if opt.ValidationStatus == acmtypes.DomainStatusSuccess {
			continue
		}
		if opt.ResourceRecord == nil {
			continue
		}
		records = append(records, ValidationRecord{
			Name:  aws.ToString(opt.ResourceRecord.Name),
			Value: aws.ToString(opt.ResourceRecord.Value),
		})
	}
	return records, nil
}

// CertificateIssuedProbe reports whether the certificate reached ISSUED.
// FAILED and revoked states are terminal.
func CertificateIssuedProbe(api ACMAPI, certificateARN string) pipeline.Probe {
	return func(ctx context.Context) pipeline.ProbeOutcome {
		out, err := api.DescribeCertificate(ctx, &acm.DescribeCertificateInput{
			CertificateArn: aws.String(certificateARN),
		})
		if err != nil {
			if Classify(err) == pipeline.TransientInfrastructure {
				return pipeline.Retry(err.Error())
			}
			return pipeline.GiveUp(err.Error())
		}

		switch status := out.Certificate.Status; status {
		case acmtypes.CertificateStatusIssued:
			return pipeline.Healthy()
		case acmtypes.CertificateStatusFailed, acmtypes.CertificateStatusRevoked, acmtypes.CertificateStatusValidationTimedOut:
			return pipeline.GiveUp(fmt.Sprintf("certificate entered %s", status))
		default:
			return pipeline.Retry(fmt.Sprintf("certificate status %s", status))
		}
	}
}
