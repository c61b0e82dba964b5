package provision

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/route53"
	route53types "github.com/aws/aws-sdk-go-v2/service/route53/types"
	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/codecanvas/talaria/pkg/pipeline"
)

// cloudfrontHostedZoneID is the fixed hosted zone all distribution aliases
// resolve through.
const cloudfrontHostedZoneID = "Z2FDTNDATAQYW2"

type Route53API interface {
	ListHostedZonesByName(
		ctx context.Context,
		params *route53.ListHostedZonesByNameInput,
		optFns ...func(*route53.Options),
	) (*route53.ListHostedZonesByNameOutput, error)
	CreateHostedZone(
		ctx context.Context,
		params *route53.CreateHostedZoneInput,
		optFns ...func(*route53.Options),
	) (*route53.CreateHostedZoneOutput, error)
	GetHostedZone(
		ctx context.Context,
		params *route53.GetHostedZoneInput,
		optFns ...func(*route53.Options),
	) (*route53.GetHostedZoneOutput, error)
	ListResourceRecordSets(
		ctx context.Context,
		params *route53.ListResourceRecordSetsInput,
		optFns ...func(*route53.Options),
	) (*route53.ListResourceRecordSetsOutput, error)
	ChangeResourceRecordSets(
		ctx context.Context,
		params *route53.ChangeResourceRecordSetsInput,
		optFns ...func(*route53.Options),
	) (*route53.ChangeResourceRecordSetsOutput, error)
	GetChange(
		ctx context.Context,
		params *route53.GetChangeInput,
		optFns ...func(*route53.Options),
	) (*route53.GetChangeOutput, error)
}

// Zone is a hosted zone handle plus the nameservers the registrar must point
// at after a fresh creation.
type Zone struct {
	ID          string
	Nameservers []string
	Created     bool
}

// EnsureHostedZone finds the zone serving domain or creates it. A freshly
// created zone returns its nameservers so the caller can print delegation
// instructions; registrar delegation itself stays a manual step.
func EnsureHostedZone(ctx context.Context, logger logr.Logger, api Route53API, domain string) (Zone, error) {
	existing, err := HostedZoneForDomain(ctx, api, domain)
	if err == nil {
		logger.Info("Hosted zone already exists, reusing", "domain", domain, "id", existing.ID)
		return Zone{ID: existing.ID}, nil
	}
	var known *pipeline.Failure
	if !errors.As(err, &known) || known.Kind != pipeline.NotFound {
		return Zone{}, err
	}

	out, err := api.CreateHostedZone(ctx, &route53.CreateHostedZoneInput{
		Name:            aws.String(domain),
		CallerReference: aws.String(uuid.NewString()),
	})
	if err != nil {
		return Zone{}, opErr(fmt.Sprintf("creating hosted zone for %q", domain), err)
	}

	zone := Zone{
		ID:      strings.TrimPrefix(aws.ToString(out.HostedZone.Id), "/hostedzone/"),
		Created: true,
	}
	if out.DelegationSet != nil {
		zone.Nameservers = out.DelegationSet.NameServers
	}
	logger.Info("Hosted zone created", "domain", domain, "id", zone.ID, "nameservers", zone.Nameservers)
	return zone, nil
}

// HostedZoneForDomain finds the hosted zone serving the given domain and
// fails with NotFound when no zone matches.
func HostedZoneForDomain(ctx context.Context, api Route53API, domain string) (Handle, error) {
	zoneName := domain + "."
	out, err := api.ListHostedZonesByName(ctx, &route53.ListHostedZonesByNameInput{
		DNSName: aws.String(zoneName),
	})
	if err != nil {
		return Handle{}, opErr(fmt.Sprintf("listing hosted zones for %q", domain), err)
	}

	for _, zone := range out.HostedZones {
		if aws.ToString(zone.Name) == zoneName {
			// The API returns "/hostedzone/Z123" but record changes want the bare id.
			id := strings.TrimPrefix(aws.ToString(zone.Id), "/hostedzone/")
			return Handle{ID: id}, nil
		}
	}
	return Handle{}, &pipeline.Failure{
		Kind:    pipeline.NotFound,
		Message: fmt.Sprintf("no hosted zone for domain %q", domain),
		Hint:    "run the edge pipeline to create the hosted zone first",
	}
}

// ZoneRecords summarizes the records a hosted zone serves for a domain.
type ZoneRecords struct {
	ZoneName    string
	RecordCount int64
	// ApexTarget and WWWTarget carry the alias targets of the apex and www
	// A records, blank when the record is absent or not an alias.
	ApexTarget string
	WWWTarget  string
}

// VerifyZone confirms the hosted zone exists and reports the A records
// serving the apex and www names. A missing zone surfaces as NotFound.
func VerifyZone(ctx context.Context, api Route53API, zoneID, domain string) (ZoneRecords, error) {
	hz, err := api.GetHostedZone(ctx, &route53.GetHostedZoneInput{Id: aws.String(zoneID)})
	if err != nil {
		return ZoneRecords{}, opErr(fmt.Sprintf("fetching hosted zone %q", zoneID), err)
	}
	records := ZoneRecords{
		ZoneName:    strings.TrimSuffix(aws.ToString(hz.HostedZone.Name), "."),
		RecordCount: aws.ToInt64(hz.HostedZone.ResourceRecordSetCount),
	}

	sets, err := api.ListResourceRecordSets(ctx, &route53.ListResourceRecordSetsInput{
		HostedZoneId: aws.String(zoneID),
		MaxItems:     aws.Int32(20),
	})
	if err != nil {
		return ZoneRecords{}, opErr(fmt.Sprintf("listing records of hosted zone %q", zoneID), err)
	}
	for _, rec := range sets.ResourceRecordSets {
		if rec.Type != route53types.RRTypeA || rec.AliasTarget == nil {
			continue
		}
		target := strings.TrimSuffix(aws.ToString(rec.AliasTarget.DNSName), ".")
		switch strings.TrimSuffix(aws.ToString(rec.Name), ".") {
		case domain:
			records.ApexTarget = target
		case "www." + domain:
			records.WWWTarget = target
		}
	}
	return records, nil
}

// UpsertAliasRecord points domain at a distribution via an A alias record.
// UPSERT keeps the operation idempotent whether the record exists or not.
func UpsertAliasRecord(ctx context.Context, logger logr.Logger, api Route53API, zoneID, domain, distributionDomain string) (string, error) {
	out, err := api.ChangeResourceRecordSets(ctx, &route53.ChangeResourceRecordSetsInput{
		HostedZoneId: aws.String(zoneID),
		ChangeBatch: &route53types.ChangeBatch{
			Changes: []route53types.Change{{
				Action: route53types.ChangeActionUpsert,
				ResourceRecordSet: &route53types.ResourceRecordSet{
					Name: aws.String(domain),
					Type: route53types.RRTypeA,
					AliasTarget: &route53types.AliasTarget{
						HostedZoneId:         aws.String(cloudfrontHostedZoneID),
						DNSName:              aws.String(distributionDomain),
						EvaluateTargetHealth: false,
					},
				},
			}},
		},
	})
	if err != nil {
		return "", opErr(fmt.Sprintf("upserting alias record for %q", domain), err)
	}

	changeID := aws.ToString(out.ChangeInfo.Id)
	logger.Info("Alias record upserted", "domain", domain, "target", distributionDomain, "change", changeID)
	return changeID, nil
}

// UpsertValidationRecord writes a certificate validation CNAME into the zone.
func UpsertValidationRecord(ctx context.Context, logger logr.Logger, api Route53API, zoneID, name, value string) error {
	_, err := api.ChangeResourceRecordSets(ctx, &route53.ChangeResourceRecordSetsInput{
		HostedZoneId: aws.String(zoneID),
		ChangeBatch: &route53types.ChangeBatch{
			Changes: []route53types.Change{{
				Action: route53types.ChangeActionUpsert,
				ResourceRecordSet: &route53types.ResourceRecordSet{
					Name: aws.String(name),
					Type: route53types.RRTypeCname,
					TTL:  aws.Int64(300),
					ResourceRecords: []route53types.ResourceRecord{{
						Value: aws.String(value),
					}},
				},
			}},
		},
	})
	if err != nil {
		return opErr(fmt.Sprintf("upserting validation record %q", name), err)
	}
	logger.Info("Validation record upserted", "name", name)
	return nil
}

// ChangeSyncedProbe reports whether a record change has propagated.
func ChangeSyncedProbe(api Route53API, changeID string) pipeline.Probe {
	return func(ctx context.Context) pipeline.ProbeOutcome {
		out, err := api.GetChange(ctx, &route53.GetChangeInput{Id: aws.String(changeID)})
		if err != nil {
			if Classify(err) == pipeline.TransientInfrastructure {
				return pipeline.Retry(err.Error())
			}
			return pipeline.GiveUp(err.Error())
		}
		if out.ChangeInfo.Status == route53types.ChangeStatusInsync {
			return pipeline.Healthy()
		}
		return pipeline.Retry(fmt.Sprintf("change %s still %s", changeID, out.ChangeInfo.Status))
	}
}
