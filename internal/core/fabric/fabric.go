// Package fabric models the virtual network layout of one deployment:
// isolated namespaces, service attachments, and the host ports that are
// explicitly exposed through the isolation boundary.
package fabric

import (
	"errors"
	"fmt"
	"sort"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// ErrNamespaceExists is returned when a namespace identifier is provisioned twice.
	ErrNamespaceExists = errors.New("network namespace already provisioned")

	// ErrNamespaceNotFound is returned when attaching to an unknown namespace.
	ErrNamespaceNotFound = errors.New("network namespace not found")
)

// PortConflictError reports two services requesting the same host port.
type PortConflictError struct {
	HostPort int
	First    string // service that claimed the port
	Second   string // service that collided
}

func (e *PortConflictError) Error() string {
	if e.First == e.Second {
		return fmt.Sprintf("host port %d declared twice by %s with different container ports", e.HostPort, e.First)
	}
	return fmt.Sprintf("host port %d requested by both %s and %s", e.HostPort, e.First, e.Second)
}

// =============================================================================
// Types
// =============================================================================

// Namespace is an isolated virtual network with a set of attached services.
// Traffic between attached services stays inside the namespace; only
// explicitly exposed ports are reachable from the host.
type Namespace struct {
	ID       string
	Driver   string
	services map[string]struct{}
}

// Services returns the attached service identifiers, sorted.
func (n *Namespace) Services() []string {
	out := make([]string, 0, len(n.services))
	for id := range n.services {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Attached reports whether a service is attached to the namespace.
func (n *Namespace) Attached(serviceID string) bool {
	_, ok := n.services[serviceID]
	return ok
}

// PortMapping is one explicitly exposed host↔container port pair.
type PortMapping struct {
	ServiceID     string
	HostPort      int
	ContainerPort int
}

// =============================================================================
// NetworkFabric
// =============================================================================

// NetworkFabric allocates namespaces and tracks exposed ports for one
// deployment. Host ports are unique across the whole deployment.
// Not safe for concurrent use; the orchestrator owns it for the duration
// of one up/down call.
type NetworkFabric struct {
	namespaces map[string]*Namespace
	hostPorts  map[int]string // host port -> claiming service
	mappings   []PortMapping
}

// New creates an empty NetworkFabric.
func New() *NetworkFabric {
	return &NetworkFabric{
		namespaces: make(map[string]*Namespace),
		hostPorts:  make(map[int]string),
	}
}

// Provision allocates an isolated namespace.
func (f *NetworkFabric) Provision(namespaceID string) (*Namespace, error) {
	if _, ok := f.namespaces[namespaceID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrNamespaceExists, namespaceID)
	}
	ns := &Namespace{
		ID:       namespaceID,
		Driver:   "bridge",
		services: make(map[string]struct{}),
	}
	f.namespaces[namespaceID] = ns
	return ns, nil
}

// Attach adds a service to a namespace. Attaching twice is a no-op.
func (f *NetworkFabric) Attach(namespaceID, serviceID string) error {
	ns, ok := f.namespaces[namespaceID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNamespaceNotFound, namespaceID)
	}
	ns.services[serviceID] = struct{}{}
	return nil
}

// ExposePort declares a host↔container mapping for a service. Fails with
// PortConflictError when another service already claimed the host port.
// The same service re-declaring an identical mapping is a no-op.
func (f *NetworkFabric) ExposePort(serviceID string, hostPort, containerPort int) error {
	if owner, ok := f.hostPorts[hostPort]; ok {
		if owner == serviceID {
			for _, m := range f.mappings {
				if m.ServiceID == serviceID && m.HostPort == hostPort && m.ContainerPort == containerPort {
					return nil
				}
			}
		}
		return &PortConflictError{HostPort: hostPort, First: owner, Second: serviceID}
	}
	f.hostPorts[hostPort] = serviceID
	f.mappings = append(f.mappings, PortMapping{
		ServiceID:     serviceID,
		HostPort:      hostPort,
		ContainerPort: containerPort,
	})
	return nil
}

// Ports returns the exposed mappings for a service, in declaration order.
func (f *NetworkFabric) Ports(serviceID string) []PortMapping {
	var out []PortMapping
	for _, m := range f.mappings {
		if m.ServiceID == serviceID {
			out = append(out, m)
		}
	}
	return out
}

// Namespace returns a provisioned namespace, or nil.
func (f *NetworkFabric) Namespace(namespaceID string) *Namespace {
	return f.namespaces[namespaceID]
}
