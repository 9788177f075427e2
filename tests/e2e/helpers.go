// Package e2e provides end-to-end testing utilities for drydock.
package e2e

import (
	"testing"

	"github.com/drydock-sh/drydock/internal/core/deployment"
	"github.com/drydock-sh/drydock/internal/core/env"
	"github.com/drydock-sh/drydock/internal/core/topology"
)

// =============================================================================
// Plan Construction
// =============================================================================

// MakePlan parses a topology and resolves it into a deployment plan using
// the given variable values. Fails the test on any resolution error.
func MakePlan(t *testing.T, yaml string, values map[string]string) *deployment.Plan {
	t.Helper()

	spec, err := topology.Parse(yaml)
	if err != nil {
		t.Fatalf("parse topology: %v", err)
	}

	resolver := env.NewResolver(env.WithLookup(func(name string) (string, bool) {
		v, ok := values[name]
		return v, ok
	}))

	plan, err := deployment.NewPlan(deployment.NewID(), spec, resolver)
	if err != nil {
		t.Fatalf("build plan: %v", err)
	}
	return plan
}
