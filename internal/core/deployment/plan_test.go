package deployment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drydock-sh/drydock/internal/core/env"
	"github.com/drydock-sh/drydock/internal/core/fabric"
	"github.com/drydock-sh/drydock/internal/core/graph"
	"github.com/drydock-sh/drydock/internal/core/topology"
	"github.com/drydock-sh/drydock/internal/core/volume"
)

// =============================================================================
// Test Helpers
// =============================================================================

func webStackSpec() *topology.Spec {
	return &topology.Spec{
		Services: []topology.Service{
			{
				Name:  "db",
				Image: "postgres:16-alpine",
				Ports: []topology.Port{{Target: 5432, Published: 5433, Protocol: "tcp"}},
				Environment: map[string]string{
					"POSTGRES_PASSWORD": "${DB_PASSWORD}",
				},
				Volumes: []topology.VolumeMount{
					{Type: topology.VolumeMountTypeVolume, Source: "pgdata", Target: "/var/lib/postgresql/data"},
				},
			},
			{
				Name:      "app",
				Image:     "example/app:1.0",
				DependsOn: []string{"db"},
				Ports:     []topology.Port{{Target: 8000, Published: 8000, Protocol: "tcp"}},
				Environment: map[string]string{
					"DB_HOST":     "db",
					"DB_PASSWORD": "${DB_PASSWORD}",
					"DB_PORT":     "${DB_PORT:-5432}",
				},
			},
		},
	}
}

func lookupFrom(values map[string]string) env.LookupFunc {
	return func(name string) (string, bool) {
		v, ok := values[name]
		return v, ok
	}
}

// =============================================================================
// Plan Tests
// =============================================================================

func TestNewPlan(t *testing.T) {
	resolver := env.NewResolver(env.WithLookup(lookupFrom(map[string]string{"DB_PASSWORD": "hunter2"})))
	plan, err := NewPlan("ab12cd34", webStackSpec(), resolver)
	require.NoError(t, err)

	assert.Equal(t, "ab12cd34", plan.ID)
	assert.Equal(t, []string{"db", "app"}, plan.StartOrder)
	assert.Equal(t, [][]string{{"db"}, {"app"}}, plan.Layers)

	require.NotNil(t, plan.Namespace)
	assert.Equal(t, "drydock_ab12cd34", plan.Namespace.ID)
	assert.True(t, plan.Namespace.Attached("db"))
	assert.True(t, plan.Namespace.Attached("app"))

	ports := plan.Fabric.Ports("db")
	require.Len(t, ports, 1)
	assert.Equal(t, 5433, ports[0].HostPort)
	assert.Equal(t, 5432, ports[0].ContainerPort)

	vol, ok := plan.Volumes.Get("pgdata")
	require.True(t, ok)
	assert.Equal(t, "db", vol.Owner)
	assert.Equal(t, "/var/lib/postgresql/data", vol.MountPath)
}

func TestNewPlan_SubstitutesEnvironment(t *testing.T) {
	resolver := env.NewResolver(env.WithLookup(lookupFrom(map[string]string{"DB_PASSWORD": "hunter2"})))
	plan, err := NewPlan("ab12cd34", webStackSpec(), resolver)
	require.NoError(t, err)

	appEnv := plan.ServiceEnv["app"]
	assert.Equal(t, "db", appEnv["DB_HOST"])
	assert.Equal(t, "hunter2", appEnv["DB_PASSWORD"])
	assert.Equal(t, "5432", appEnv["DB_PORT"])

	assert.Equal(t, "hunter2", plan.ServiceEnv["db"]["POSTGRES_PASSWORD"])
}

func TestNewPlan_SecretReference(t *testing.T) {
	spec := &topology.Spec{
		Services: []topology.Service{
			{
				Name:  "app",
				Image: "example/app:1.0",
				Environment: map[string]string{
					"API_TOKEN": "secret://prod_api_token",
				},
			},
		},
	}
	resolver := env.NewResolver(env.WithSecretStore(env.StaticStore{"prod_api_token": "tok_51GXq"}))

	plan, err := NewPlan("ab12cd34", spec, resolver)
	require.NoError(t, err)
	assert.Equal(t, "tok_51GXq", plan.ServiceEnv["app"]["API_TOKEN"])
}

func TestNewPlan_MissingRequiredVariable(t *testing.T) {
	resolver := env.NewResolver() // nothing resolvable

	_, err := NewPlan("ab12cd34", webStackSpec(), resolver)
	require.Error(t, err)

	var missing *env.MissingRequiredVariableError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, []string{"DB_PASSWORD"}, missing.Names)
}

func TestNewPlan_CyclicDependency(t *testing.T) {
	spec := &topology.Spec{
		Services: []topology.Service{
			{Name: "a", Image: "img", DependsOn: []string{"b"}},
			{Name: "b", Image: "img", DependsOn: []string{"a"}},
		},
	}

	_, err := NewPlan("ab12cd34", spec, env.NewResolver())
	require.Error(t, err)

	var cycleErr *graph.CyclicDependencyError
	require.ErrorAs(t, err, &cycleErr)
	assert.ElementsMatch(t, []string{"a", "b"}, cycleErr.Members)
}

func TestNewPlan_PortConflict(t *testing.T) {
	spec := &topology.Spec{
		Services: []topology.Service{
			{Name: "a", Image: "img", Ports: []topology.Port{{Target: 80, Published: 8080}}},
			{Name: "b", Image: "img", Ports: []topology.Port{{Target: 90, Published: 8080}}},
		},
	}

	_, err := NewPlan("ab12cd34", spec, env.NewResolver())
	require.Error(t, err)

	var conflict *fabric.PortConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, 8080, conflict.HostPort)
	assert.Equal(t, "a", conflict.First)
	assert.Equal(t, "b", conflict.Second)
}

func TestNewPlan_DynamicPortsNeverConflict(t *testing.T) {
	spec := &topology.Spec{
		Services: []topology.Service{
			{Name: "a", Image: "img", Ports: []topology.Port{{Target: 80}}},
			{Name: "b", Image: "img", Ports: []topology.Port{{Target: 80}}},
		},
	}

	plan, err := NewPlan("ab12cd34", spec, env.NewResolver())
	require.NoError(t, err)
	assert.Empty(t, plan.Fabric.Ports("a"))
}

func TestNewPlan_VolumeOwnerConflict(t *testing.T) {
	spec := &topology.Spec{
		Services: []topology.Service{
			{Name: "a", Image: "img", Volumes: []topology.VolumeMount{
				{Type: topology.VolumeMountTypeVolume, Source: "shared", Target: "/data"},
			}},
			{Name: "b", Image: "img", Volumes: []topology.VolumeMount{
				{Type: topology.VolumeMountTypeVolume, Source: "shared", Target: "/data"},
			}},
		},
	}

	_, err := NewPlan("ab12cd34", spec, env.NewResolver())
	require.Error(t, err)

	var conflict *volume.VolumeOwnerConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "shared", conflict.Name)
	assert.Equal(t, "a", conflict.Owner)
	assert.Equal(t, "b", conflict.Requested)
}

func TestNewPlan_BindMountsSkipVolumeManager(t *testing.T) {
	spec := &topology.Spec{
		Services: []topology.Service{
			{Name: "a", Image: "img", Volumes: []topology.VolumeMount{
				{Type: topology.VolumeMountTypeBind, Source: "./src", Target: "/app", ReadOnly: true},
			}},
		},
	}

	plan, err := NewPlan("ab12cd34", spec, env.NewResolver())
	require.NoError(t, err)
	assert.Empty(t, plan.Volumes.List())
}
