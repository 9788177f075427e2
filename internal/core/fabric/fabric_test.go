package fabric

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Namespace Tests
// =============================================================================

func TestProvision(t *testing.T) {
	f := New()

	ns, err := f.Provision("drydock_ab12cd34")
	require.NoError(t, err)
	assert.Equal(t, "drydock_ab12cd34", ns.ID)
	assert.Equal(t, "bridge", ns.Driver)
	assert.Empty(t, ns.Services())

	assert.Same(t, ns, f.Namespace("drydock_ab12cd34"))
}

func TestProvision_Duplicate(t *testing.T) {
	f := New()
	_, err := f.Provision("net")
	require.NoError(t, err)

	_, err = f.Provision("net")
	assert.ErrorIs(t, err, ErrNamespaceExists)
}

func TestAttach(t *testing.T) {
	f := New()
	ns, err := f.Provision("net")
	require.NoError(t, err)

	require.NoError(t, f.Attach("net", "db"))
	require.NoError(t, f.Attach("net", "app"))

	assert.Equal(t, []string{"app", "db"}, ns.Services())
	assert.True(t, ns.Attached("db"))
	assert.False(t, ns.Attached("ghost"))
}

func TestAttach_Idempotent(t *testing.T) {
	f := New()
	ns, err := f.Provision("net")
	require.NoError(t, err)

	require.NoError(t, f.Attach("net", "db"))
	require.NoError(t, f.Attach("net", "db"))
	assert.Equal(t, []string{"db"}, ns.Services())
}

func TestAttach_UnknownNamespace(t *testing.T) {
	f := New()
	assert.ErrorIs(t, f.Attach("missing", "db"), ErrNamespaceNotFound)
}

// =============================================================================
// Port Tests
// =============================================================================

func TestExposePort(t *testing.T) {
	f := New()

	require.NoError(t, f.ExposePort("app", 8000, 8000))
	require.NoError(t, f.ExposePort("db", 5433, 5432))

	ports := f.Ports("db")
	require.Len(t, ports, 1)
	assert.Equal(t, 5433, ports[0].HostPort)
	assert.Equal(t, 5432, ports[0].ContainerPort)
}

func TestExposePort_ConflictAcrossServices(t *testing.T) {
	f := New()
	require.NoError(t, f.ExposePort("app", 8000, 8000))

	err := f.ExposePort("web", 8000, 80)
	require.Error(t, err)

	var conflict *PortConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, 8000, conflict.HostPort)
	assert.Equal(t, "app", conflict.First)
	assert.Equal(t, "web", conflict.Second)
}

func TestExposePort_IdenticalRedeclarationIsNoop(t *testing.T) {
	f := New()
	require.NoError(t, f.ExposePort("app", 8000, 8000))
	require.NoError(t, f.ExposePort("app", 8000, 8000))

	assert.Len(t, f.Ports("app"), 1)
}

func TestExposePort_SameServiceDifferentContainerPortConflicts(t *testing.T) {
	f := New()
	require.NoError(t, f.ExposePort("app", 8000, 8000))

	err := f.ExposePort("app", 8000, 9000)
	require.Error(t, err)

	var conflict *PortConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "app", conflict.First)
	assert.Equal(t, "host port 8000 declared twice by app with different container ports", conflict.Error())
}

func TestPortConflictError_TwoServicesMessage(t *testing.T) {
	err := &PortConflictError{HostPort: 8080, First: "app", Second: "web"}
	assert.Equal(t, "host port 8080 requested by both app and web", err.Error())
}

func TestPorts_DeclarationOrder(t *testing.T) {
	f := New()
	require.NoError(t, f.ExposePort("app", 8001, 8001))
	require.NoError(t, f.ExposePort("app", 8000, 8000))

	ports := f.Ports("app")
	require.Len(t, ports, 2)
	assert.Equal(t, 8001, ports[0].HostPort)
	assert.Equal(t, 8000, ports[1].HostPort)
}
