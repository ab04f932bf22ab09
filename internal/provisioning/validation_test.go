package provisioning

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imamik/vmaas/internal/config"
	"github.com/imamik/vmaas/internal/provisioning/lifecycle"
)

func validEnv() *config.Environment {
	env := &config.Environment{
		Name: "demo-maas",
		MAAS: config.MAAS{
			VM:            config.VM{Name: "maas", Interfaces: []string{"bridge=virbr0,model=virtio"}},
			NetworkConfig: "auto eth0\niface eth0 inet dhcp\n",
			Virsh:         &config.VirshControl{URI: "qemu+ssh://ubuntu@10.0.0.1/system"},
			NodeGroupInterfaces: []map[string]any{
				{"device": "eth0", "ip": "192.168.122.2"},
			},
			Nodes: []config.Node{{
				Name:         "node1",
				MACAddresses: []string{"52:54:00:aa:bb:01"},
				Power:        map[string]string{"type": "ipmi", "address": "10.0.0.10"},
			}},
		},
		Bootstrap: config.VM{Name: "juju-bootstrap", Interfaces: []string{"bridge=virbr0,model=virtio"}},
	}
	env.ApplyDefaults()
	return env
}

func runValidators(env *config.Environment, policy lifecycle.Policy) []ValidationError {
	ctx := &Context{Env: env, Policy: policy, Observer: NewMockObserver()}
	var out []ValidationError
	for _, v := range NewValidationPhase().validators {
		out = append(out, v.Validate(ctx)...)
	}
	return out
}

func fields(errs []ValidationError, severity string) []string {
	var out []string
	for _, e := range errs {
		if e.Severity == severity {
			out = append(out, e.Field)
		}
	}
	return out
}

func TestValidationPhase_Valid(t *testing.T) {
	t.Parallel()
	observer := NewMockObserver()
	ctx := &Context{Env: validEnv(), Observer: observer}

	require.NoError(t, NewValidationPhase().Provision(ctx))
	assert.Empty(t, observer.eventsOf(EventValidationWarning))
}

func TestValidationPhase_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*config.Environment)
		policy lifecycle.Policy
		errors []string
		warns  []string
	}{
		{
			name:   "missing network config",
			mutate: func(e *config.Environment) { e.MAAS.NetworkConfig = "" },
			errors: []string{"maas.network_config"},
		},
		{
			name:   "missing network config with use existing",
			mutate: func(e *config.Environment) { e.MAAS.NetworkConfig = "" },
			policy: lifecycle.Policy{UseExisting: true},
			warns:  []string{"maas.network_config"},
		},
		{
			name:   "missing network config with force",
			mutate: func(e *config.Environment) { e.MAAS.NetworkConfig = "" },
			policy: lifecycle.Policy{UseExisting: true, Force: true},
			errors: []string{"maas.network_config"},
		},
		{
			name:   "unknown keys",
			mutate: func(e *config.Environment) { e.UnknownKeys = []string{"maas.flavour"} },
			warns:  []string{"maas.flavour"},
		},
		{
			name: "node named like a VM",
			mutate: func(e *config.Environment) {
				e.MAAS.Nodes[0].Name = "juju-bootstrap"
			},
			errors: []string{"maas.nodes[0].name"},
		},
		{
			name: "duplicate MAC in different notation",
			mutate: func(e *config.Environment) {
				e.MAAS.Nodes = append(e.MAAS.Nodes, config.Node{
					Name:         "node2",
					MACAddresses: []string{"52-54-00-AA-BB-01"},
					Power:        map[string]string{"type": "ipmi"},
				})
			},
			errors: []string{"maas.nodes[1].mac_addresses"},
		},
		{
			name:   "power without type",
			mutate: func(e *config.Environment) { e.MAAS.Nodes[0].Power = map[string]string{"address": "10.0.0.10"} },
			errors: []string{"maas.nodes[0].power.type"},
		},
		{
			name:   "no power",
			mutate: func(e *config.Environment) { e.MAAS.Nodes[0].Power = nil },
			warns:  []string{"maas.nodes[0].power"},
		},
		{
			name: "strict commissioning without power",
			mutate: func(e *config.Environment) {
				e.MAAS.Nodes[0].Power = nil
				e.Commissioning.Strict = true
			},
			warns: []string{"maas.nodes[0].power", "maas.nodes[0].power"},
		},
		{
			name: "sticky IP requested twice",
			mutate: func(e *config.Environment) {
				e.Bootstrap.StickyIP = &config.StickyIP{RequestedAddress: "192.168.122.10"}
				e.MAAS.Nodes[0].StickyIP = &config.StickyIP{RequestedAddress: "192.168.122.10", MACAddress: "52:54:00:aa:bb:01"}
			},
			errors: []string{"maas.nodes[0].sticky_ip_address.requested_address"},
		},
		{
			name: "sticky IP without MAC",
			mutate: func(e *config.Environment) {
				e.MAAS.Nodes[0].StickyIP = &config.StickyIP{RequestedAddress: "192.168.122.10"}
			},
			warns: []string{"maas.nodes[0].sticky_ip_address.mac_address"},
		},
		{
			name: "no interfaces anywhere",
			mutate: func(e *config.Environment) {
				e.MAAS.Interfaces = nil
				e.Bootstrap.Interfaces = nil
				e.VirtualNodes = []config.VM{{Name: "vnode"}}
				e.MAAS.NodeGroupInterfaces = nil
				e.MAAS.Virsh = nil
			},
			warns: []string{
				"maas.interfaces",
				"juju-bootstrap.interfaces",
				"virtual-nodes[0].interfaces",
				"maas.node_group_ifaces",
				"maas.virsh",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			env := validEnv()
			tt.mutate(env)

			got := runValidators(env, tt.policy)

			assert.ElementsMatch(t, tt.errors, fields(got, "error"))
			assert.ElementsMatch(t, tt.warns, fields(got, "warning"))
		})
	}
}

func TestValidationPhase_ProvisionFails(t *testing.T) {
	t.Parallel()
	env := validEnv()
	env.MAAS.NetworkConfig = ""
	observer := NewMockObserver()

	err := NewValidationPhase().Provision(&Context{Env: env, Observer: observer})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration validation failed")
	assert.Contains(t, err.Error(), "[error] maas.network_config")

	events := observer.eventsOf(EventValidationError)
	require.NotEmpty(t, events)
	assert.Equal(t, "maas.network_config", events[0].Fields["field"])
	assert.Error(t, events[0].Err)
}

func TestValidationPhase_WarningsAreEvents(t *testing.T) {
	t.Parallel()
	env := validEnv()
	env.UnknownKeys = []string{"juju-bootstrap.colour"}
	observer := NewMockObserver()

	require.NoError(t, NewValidationPhase().Provision(&Context{Env: env, Observer: observer}))

	warnings := observer.eventsOf(EventValidationWarning)
	require.Len(t, warnings, 1)
	assert.Equal(t, "juju-bootstrap.colour", warnings[0].Fields["field"])
}

func TestValidationError(t *testing.T) {
	t.Parallel()
	err := validationError("maas.nodes[0].name", "duplicate")
	assert.True(t, err.IsError())
	assert.Equal(t, "[error] maas.nodes[0].name: duplicate", err.Error())
	assert.False(t, validationWarning("maas.virsh", "x").IsError())
}
