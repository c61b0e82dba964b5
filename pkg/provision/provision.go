// Package provision contains idempotent create-or-reuse operations for the
// AWS resources a deployment needs. Every operation re-resolves existing
// state by querying the service, creates on absence, reconciles on presence,
// and returns a run-scoped handle; "already exists" is success-with-reuse,
// never an error, so pipelines are safe to re-run after a partial failure.
//
// Each service is driven through a narrow client interface so the logic can
// be exercised against fakes.
package provision

import "time"

// settleDelay spaces out polls while a service finishes applying a previous
// mutation. Variable so tests can shorten it.
var settleDelay = 5 * time.Second

// Handle is a run-scoped reference to a provisioned resource. Handles are
// never persisted: each run re-resolves them from the external system.
type Handle struct {
	// ID is the service-native identifier (name, id, or ARN).
	ID string
	// ARN is set when the service exposes one distinct from ID.
	ARN string
	// Endpoint is the reachable URI for resources that have one.
	Endpoint string
}
