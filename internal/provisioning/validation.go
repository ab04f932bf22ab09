package provisioning

import (
	"fmt"
	"net"
	"strings"

	"github.com/imamik/vmaas/internal/config"
)

// ValidationError represents a configuration validation error or warning.
type ValidationError struct {
	Field    string // Configuration key that failed validation
	Message  string // Human-readable error message
	Severity string // "error" or "warning"
}

// Error implements the error interface.
func (ve ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", ve.Severity, ve.Field, ve.Message)
}

// IsError returns true if this is an error (not a warning).
func (ve ValidationError) IsError() bool {
	return ve.Severity == "error"
}

func validationError(field, msg string) ValidationError {
	return ValidationError{Field: field, Message: msg, Severity: "error"}
}

func validationWarning(field, msg string) ValidationError {
	return ValidationError{Field: field, Message: msg, Severity: "warning"}
}

// Validator checks one aspect of a target before anything is created.
type Validator interface {
	Validate(ctx *Context) []ValidationError
}

// ValidationPhase implements the Phase interface for pre-flight validation.
// Static document checks already ran at load time; these checks cover
// combinations that are legal but likely to fail halfway through a run.
type ValidationPhase struct {
	validators []Validator
}

// NewValidationPhase creates a validation phase with the default validators.
func NewValidationPhase() *ValidationPhase {
	return &ValidationPhase{validators: []Validator{
		&UnknownKeysValidator{},
		&NetworkValidator{},
		&NodeValidator{},
		&StickyIPValidator{},
		&CommissioningValidator{},
	}}
}

// Name implements the Phase interface.
func (vp *ValidationPhase) Name() string {
	return "validation"
}

// Provision implements the Phase interface.
func (vp *ValidationPhase) Provision(ctx *Context) error {
	ctx.Observer.Printf("[Validation] Running pre-flight validation...")

	var errs []ValidationError
	for _, v := range vp.validators {
		for _, ve := range v.Validate(ctx) {
			if !ve.IsError() {
				LogWarning(ctx.Observer, vp.Name(), ve.Message, map[string]string{"field": ve.Field})
				continue
			}
			ctx.Observer.Event(Event{
				Type:    EventValidationError,
				Phase:   vp.Name(),
				Message: ve.Message,
				Fields:  map[string]string{"field": ve.Field},
				Err:     ve,
			})
			errs = append(errs, ve)
		}
	}

	if len(errs) > 0 {
		msgs := make([]string, 0, len(errs))
		for _, e := range errs {
			msgs = append(msgs, e.Error())
		}
		return fmt.Errorf("configuration validation failed:\n  %s", strings.Join(msgs, "\n  "))
	}

	ctx.Observer.Printf("[Validation] Validation passed")
	return nil
}

// UnknownKeysValidator reports document keys that were ignored.
type UnknownKeysValidator struct{}

// Validate implements Validator.
func (v *UnknownKeysValidator) Validate(ctx *Context) []ValidationError {
	var errs []ValidationError
	for _, key := range ctx.Env.UnknownKeys {
		errs = append(errs, validationWarning(key, "unknown key is ignored"))
	}
	return errs
}

// NetworkValidator checks that the controller can be given a network.
type NetworkValidator struct{}

// Validate implements Validator.
func (v *NetworkValidator) Validate(ctx *Context) []ValidationError {
	var errs []ValidationError
	m := ctx.Env.MAAS

	if strings.TrimSpace(m.NetworkConfig) == "" {
		if ctx.Policy.UseExisting && !ctx.Policy.Force {
			errs = append(errs, validationWarning("maas.network_config",
				"network config is empty; a new controller seed image cannot be built"))
		} else {
			errs = append(errs, validationError("maas.network_config",
				"network config is required to build the controller seed image"))
		}
	}

	if len(m.Interfaces) == 0 {
		errs = append(errs, validationWarning("maas.interfaces",
			"controller has no interfaces and will not be reachable"))
	}
	if len(ctx.Env.Bootstrap.Interfaces) == 0 {
		errs = append(errs, validationWarning("juju-bootstrap.interfaces",
			"bootstrap node has no interfaces and cannot netboot"))
	}
	for i, vm := range ctx.Env.VirtualNodes {
		if len(vm.Interfaces) == 0 {
			errs = append(errs, validationWarning(fmt.Sprintf("virtual-nodes[%d].interfaces", i),
				fmt.Sprintf("virtual node %s has no interfaces and cannot netboot", vm.Name)))
		}
	}

	if len(m.NodeGroupInterfaces) == 0 {
		errs = append(errs, validationWarning("maas.node_group_ifaces",
			"no node group interfaces configured; the controller will not serve DHCP"))
	}
	return errs
}

// NodeValidator checks node registration parameters.
type NodeValidator struct{}

// Validate implements Validator.
func (v *NodeValidator) Validate(ctx *Context) []ValidationError {
	var errs []ValidationError
	m := ctx.Env.MAAS

	names := map[string]string{
		ctx.Env.Bootstrap.Name: "juju-bootstrap",
	}
	for i, vm := range ctx.Env.VirtualNodes {
		names[vm.Name] = fmt.Sprintf("virtual-nodes[%d]", i)
	}

	seenMAC := map[string]string{}
	for i, n := range m.Nodes {
		key := fmt.Sprintf("maas.nodes[%d]", i)
		if other, ok := names[n.Name]; ok {
			errs = append(errs, validationError(key+".name",
				fmt.Sprintf("node %s is also declared as %s", n.Name, other)))
		}
		names[n.Name] = key

		for _, mac := range n.MACAddresses {
			hw, err := net.ParseMAC(mac)
			if err != nil {
				errs = append(errs, validationError(key+".mac_addresses",
					fmt.Sprintf("invalid MAC address %q", mac)))
				continue
			}
			norm := hw.String()
			if other, ok := seenMAC[norm]; ok {
				errs = append(errs, validationError(key+".mac_addresses",
					fmt.Sprintf("MAC address %s is already used by %s", mac, other)))
				continue
			}
			seenMAC[norm] = n.Name
		}

		if len(n.Power) == 0 {
			errs = append(errs, validationWarning(key+".power",
				fmt.Sprintf("node %s has no power parameters and must be powered manually", n.Name)))
		} else if n.Power["type"] == "" {
			errs = append(errs, validationError(key+".power.type",
				fmt.Sprintf("node %s declares power parameters without a type", n.Name)))
		}
	}

	if m.Virsh == nil {
		errs = append(errs, validationWarning("maas.virsh",
			"virsh power control is not configured; virtual nodes are registered without a power type"))
	}
	return errs
}

// StickyIPValidator checks that every requested sticky address can be
// claimed.
type StickyIPValidator struct{}

// Validate implements Validator.
func (v *StickyIPValidator) Validate(ctx *Context) []ValidationError {
	var errs []ValidationError
	seen := map[string]string{}

	check := func(key, name string, s *config.StickyIP, needsMAC bool) {
		if s == nil {
			return
		}
		if other, ok := seen[s.RequestedAddress]; ok {
			errs = append(errs, validationError(key+".requested_address",
				fmt.Sprintf("address %s is requested by both %s and %s", s.RequestedAddress, other, name)))
		}
		seen[s.RequestedAddress] = name
		if needsMAC && s.MACAddress == "" {
			errs = append(errs, validationWarning(key+".mac_address",
				fmt.Sprintf("node %s has no MAC address for its sticky IP; the claim is skipped", name)))
		}
	}

	check("juju-bootstrap.sticky_ip_address", ctx.Env.Bootstrap.Name, ctx.Env.Bootstrap.StickyIP, false)
	for i, vm := range ctx.Env.VirtualNodes {
		check(fmt.Sprintf("virtual-nodes[%d].sticky_ip_address", i), vm.Name, vm.StickyIP, false)
	}
	for i, n := range ctx.Env.MAAS.Nodes {
		check(fmt.Sprintf("maas.nodes[%d].sticky_ip_address", i), n.Name, n.StickyIP, true)
	}
	return errs
}

// CommissioningValidator flags strict commissioning that cannot succeed.
type CommissioningValidator struct{}

// Validate implements Validator.
func (v *CommissioningValidator) Validate(ctx *Context) []ValidationError {
	if !ctx.Env.Commissioning.Strict {
		return nil
	}
	var errs []ValidationError
	for i, n := range ctx.Env.MAAS.Nodes {
		if len(n.Power) == 0 {
			errs = append(errs, validationWarning(fmt.Sprintf("maas.nodes[%d].power", i),
				fmt.Sprintf("strict commissioning requires node %s to be powered on manually", n.Name)))
		}
	}
	return errs
}
