// Package deployment assembles the orchestration plan for one deployment:
// resolved environment, dependency order, network layout, and volumes.
// Every configuration error surfaces here, before any container exists.
package deployment

import (
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/drydock-sh/drydock/internal/core/env"
	"github.com/drydock-sh/drydock/internal/core/fabric"
	"github.com/drydock-sh/drydock/internal/core/graph"
	"github.com/drydock-sh/drydock/internal/core/topology"
	"github.com/drydock-sh/drydock/internal/core/volume"
)

// =============================================================================
// Plan
// =============================================================================

// Plan is everything the orchestrator needs to bring a deployment up.
// It is built entirely from declarations and resolved configuration;
// constructing a Plan never touches a container runtime.
type Plan struct {
	ID         string
	Spec       *topology.Spec
	Graph      *graph.ServiceGraph
	StartOrder []string
	Layers     [][]string
	Fabric     *fabric.NetworkFabric
	Namespace  *fabric.Namespace
	Volumes    *volume.Manager

	// ServiceEnv holds the fully substituted environment for each service.
	// Secret values live here; callers must not log it.
	ServiceEnv map[string]map[string]string
}

// NewID generates a deployment identifier.
func NewID() string {
	return strings.SplitN(uuid.NewString(), "-", 2)[0]
}

// NewPlan resolves a topology into a Plan using the given resolver.
//
// Failure modes, all before any container is created:
//   - env.MissingRequiredVariableError when required bindings do not resolve
//   - graph.CyclicDependencyError when depends_on edges form a cycle
//   - fabric.PortConflictError when two services claim one host port
//   - volume.VolumeOwnerConflictError when a volume name has two owners
func NewPlan(id string, spec *topology.Spec, resolver *env.Resolver) (*Plan, error) {
	resolved, err := resolver.Resolve(collectBindings(spec))
	if err != nil {
		return nil, err
	}

	g := graph.New()
	for _, svc := range spec.Services {
		if err := g.AddService(svc.Name); err != nil {
			return nil, err
		}
	}
	for _, svc := range spec.Services {
		for _, dep := range svc.DependsOn {
			if err := g.AddDependency(svc.Name, dep); err != nil {
				return nil, err
			}
		}
	}
	order, err := g.StartOrder()
	if err != nil {
		return nil, err
	}
	layers, err := g.StartLayers()
	if err != nil {
		return nil, err
	}

	f := fabric.New()
	ns, err := f.Provision(NetworkName(id))
	if err != nil {
		return nil, err
	}
	for _, svc := range spec.Services {
		if err := f.Attach(ns.ID, svc.Name); err != nil {
			return nil, err
		}
		for _, p := range svc.Ports {
			if p.Published == 0 {
				continue // dynamically assigned, cannot conflict
			}
			if err := f.ExposePort(svc.Name, int(p.Published), int(p.Target)); err != nil {
				return nil, err
			}
		}
	}

	volumes := volume.NewManager()
	for _, svc := range spec.Services {
		for _, mount := range svc.Volumes {
			if mount.Type != topology.VolumeMountTypeVolume {
				continue
			}
			if _, err := volumes.Ensure(mount.Source, svc.Name, mount.Target); err != nil {
				return nil, err
			}
		}
	}

	serviceEnv := make(map[string]map[string]string, len(spec.Services))
	for _, svc := range spec.Services {
		values := make(map[string]string, len(svc.Environment))
		for name, raw := range svc.Environment {
			if env.IsSecretRef(raw) {
				if v, ok := resolved[env.SecretKey(raw)]; ok {
					values[name] = v
				}
				continue
			}
			values[name] = env.Substitute(raw, resolved)
		}
		serviceEnv[svc.Name] = values
	}

	return &Plan{
		ID:         id,
		Spec:       spec,
		Graph:      g,
		StartOrder: order,
		Layers:     layers,
		Fabric:     f,
		Namespace:  ns,
		Volumes:    volumes,
		ServiceEnv: serviceEnv,
	}, nil
}

// collectBindings gathers every environment binding the topology references,
// deduplicated by name. A required reference wins over an optional one for
// the same name.
func collectBindings(spec *topology.Spec) []env.Binding {
	byName := make(map[string]env.Binding)
	var names []string

	for _, svc := range spec.Services {
		// Deterministic iteration: sorted env keys per service.
		keys := make([]string, 0, len(svc.Environment))
		for k := range svc.Environment {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for _, k := range keys {
			for _, b := range env.ParseValue(k, svc.Environment[k]) {
				existing, seen := byName[b.Name]
				if !seen {
					byName[b.Name] = b
					names = append(names, b.Name)
					continue
				}
				if b.Required && !existing.Required {
					byName[b.Name] = b
				}
			}
		}
	}

	bindings := make([]env.Binding, 0, len(names))
	for _, name := range names {
		bindings = append(bindings, byName[name])
	}
	return bindings
}
