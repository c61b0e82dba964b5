package deploy

import (
	"context"
	"fmt"
	"strings"

	"github.com/codecanvas/talaria/pkg/pipeline"
	"github.com/codecanvas/talaria/pkg/provision"
)

// EdgeStages puts a custom domain in front of an already running compute
// endpoint: hosted zone, validated certificate, distribution, alias record,
// and a final reachability check through the domain.
func (r *Run) EdgeStages() []pipeline.Stage {
	return []pipeline.Stage{
		{Name: "create hosted zone", Run: r.stageEnsureHostedZone},
		{Name: "request certificate", Run: r.stageEnsureCertificate},
		{Name: "validate certificate", Run: r.stageValidateCertificate},
		{Name: "create distribution", Run: r.stageEnsureDistribution},
		{Name: "point domain at distribution", Run: r.stageUpsertAlias},
		{Name: "check public domain", Run: r.stageCheckPublicDomain},
	}
}

func (r *Run) stageEnsureHostedZone(ctx context.Context) pipeline.Result {
	zone, err := provision.EnsureHostedZone(ctx, r.Log, r.Clients.Route53, r.Config.Edge.Domain)
	if err != nil {
		return pipeline.FailErr(err, "check edge.domain and the credentials' DNS permissions")
	}
	r.Zone = zone

	if zone.Created {
		return pipeline.Success(fmt.Sprintf(
			"zone %s created; point the registrar at nameservers %s before the domain can resolve",
			zone.ID, strings.Join(zone.Nameservers, ", ")))
	}
	return pipeline.Success("zone " + zone.ID)
}

func (r *Run) stageEnsureCertificate(ctx context.Context) pipeline.Result {
	handle, err := provision.EnsureCertificate(ctx, r.Log, r.Clients.ACM, r.Config.Edge.Domain)
	if err != nil {
		return pipeline.FailErr(err, "")
	}
	r.Certificate = handle
	return pipeline.Success(handle.ARN)
}

// stageValidateCertificate publishes the DNS proofs the certificate asks for
// and waits for issuance. The validation options of a fresh request appear
// asynchronously, so fetching them is itself retried.
func (r *Run) stageValidateCertificate(ctx context.Context) pipeline.Result {
	var records []provision.ValidationRecord
	fetch := func(ctx context.Context) pipeline.ProbeOutcome {
		issued := provision.CertificateIssuedProbe(r.Clients.ACM, r.Certificate.ARN)(ctx)
		if issued.State == pipeline.ProbeSuccess {
			return issued
		}

		var err error
		records, err = provision.PendingValidations(ctx, r.Clients.ACM, r.Certificate.ARN)
		if err != nil {
			return pipeline.GiveUp(err.Error())
		}
		if len(records) == 0 {
			return pipeline.Retry("validation records not yet published")
		}
		return pipeline.Healthy()
	}
	if ok, reason := pipeline.Verify(ctx, fetch, r.verifyPolicy(r.Config.Verify.Resource)); !ok {
		return pipeline.Fail(pipeline.TransientInfrastructure,
			fmt.Sprintf("validation records never appeared: %s", reason), "")
	}

	for _, record := range records {
		if err := provision.UpsertValidationRecord(ctx, r.Log, r.Clients.Route53, r.Zone.ID, record.Name, record.Value); err != nil {
			return pipeline.FailErr(err, "")
		}
	}

	probe := provision.CertificateIssuedProbe(r.Clients.ACM, r.Certificate.ARN)
	if ok, reason := pipeline.Verify(ctx, probe, r.verifyPolicy(r.Config.Verify.Domain)); !ok {
		return pipeline.Fail(pipeline.TransientInfrastructure,
			fmt.Sprintf("certificate not issued: %s", reason),
			"issuance waits on DNS propagation of the validation records; re-run once the registrar delegation is live")
	}
	return pipeline.Success("certificate issued")
}

func (r *Run) stageEnsureDistribution(ctx context.Context) pipeline.Result {
	origin := r.Config.Edge.Origin
	if origin == "" {
		origin = r.Endpoint
	}
	origin = strings.TrimSuffix(strings.TrimPrefix(origin, "https://"), "/")
	if origin == "" {
		return pipeline.Fail(pipeline.MalformedInput,
			"no origin host to front; set edge.origin or deploy a compute target first", "")
	}

	handle, err := provision.EnsureDistribution(ctx, r.Log, r.Clients.CloudFront, provision.DistributionSpec{
		Domain:         r.Config.Edge.Domain,
		OriginHost:     origin,
		CertificateARN: r.Certificate.ARN,
	})
	if err != nil {
		return pipeline.FailErr(err, "")
	}
	r.Distribution = handle

	probe := provision.DistributionDeployedProbe(r.Clients.CloudFront, handle.ID)
	if ok, reason := pipeline.Verify(ctx, probe, r.verifyPolicy(r.Config.Verify.Invalidation)); !ok {
		return pipeline.Fail(pipeline.TransientInfrastructure,
			fmt.Sprintf("distribution not deployed: %s", reason),
			"edge propagation can take a while; re-run to keep waiting")
	}
	return pipeline.Success(fmt.Sprintf("distribution %s at %s", handle.ID, handle.Endpoint))
}

func (r *Run) stageUpsertAlias(ctx context.Context) pipeline.Result {
	// Both the apex and www point at the distribution.
	for _, name := range []string{r.Config.Edge.Domain, "www." + r.Config.Edge.Domain} {
		changeID, err := provision.UpsertAliasRecord(ctx, r.Log, r.Clients.Route53, r.Zone.ID, name, r.Distribution.Endpoint)
		if err != nil {
			return pipeline.FailErr(err, "")
		}

		probe := provision.ChangeSyncedProbe(r.Clients.Route53, changeID)
		if ok, reason := pipeline.Verify(ctx, probe, r.verifyPolicy(r.Config.Verify.Domain)); !ok {
			return pipeline.Fail(pipeline.TransientInfrastructure,
				fmt.Sprintf("record change for %s not propagated: %s", name, reason), "")
		}
	}
	return pipeline.Success(r.Config.Edge.Domain + " -> " + r.Distribution.Endpoint)
}
