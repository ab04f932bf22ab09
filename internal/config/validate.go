package config

import (
	"encoding/base64"
	"fmt"
	"net"
	"strings"

	"github.com/google/uuid"

	"github.com/imamik/vmaas/internal/deployerr"
)

// ValidArchitectures are the guest architectures virt-install is driven with.
var ValidArchitectures = map[string]bool{
	"amd64":   true,
	"i386":    true,
	"arm64":   true,
	"armhf":   true,
	"ppc64":   true,
	"ppc64el": true,
}

// ValidTransports are the supported ways of reaching the controller API.
var ValidTransports = map[string]bool{
	"api": true,
	"cli": true,
	"ssh": true,
}

// NodeGroupUpdateKeys are the node group fields that can be changed.
var NodeGroupUpdateKeys = map[string]bool{
	"name":         true,
	"cluster_name": true,
}

// interfaceKeys identify a node group interface. device is the documented
// form and is sent as interface.
var interfaceKeys = []string{"device", "interface", "name"}

// MasterNodeGroup addresses the controller's own node group.
const MasterNodeGroup = "master"

// Validate checks the target and returns a *deployerr.ConfigError for the
// first problem found.
func (e *Environment) Validate() error {
	if e.MAAS.Name == "" {
		return &deployerr.ConfigError{Key: "maas.name", Reason: "is required"}
	}
	if e.Bootstrap.Name == "" {
		return &deployerr.ConfigError{Key: "juju-bootstrap.name", Reason: "is required"}
	}

	names := map[string]string{}
	vms := []struct {
		key string
		vm  VM
	}{
		{"maas", e.MAAS.VM},
		{"juju-bootstrap", e.Bootstrap},
	}
	for i, vm := range e.VirtualNodes {
		vms = append(vms, struct {
			key string
			vm  VM
		}{fmt.Sprintf("virtual-nodes[%d]", i), vm})
	}
	for _, v := range vms {
		if err := validateVM(v.key, v.vm); err != nil {
			return err
		}
		if prev, dup := names[v.vm.Name]; dup {
			return &deployerr.ConfigError{Key: v.key + ".name",
				Reason: fmt.Sprintf("%q is already used by %s", v.vm.Name, prev)}
		}
		names[v.vm.Name] = v.key
	}

	if err := e.MAAS.validate(); err != nil {
		return err
	}
	if e.Artifacts != nil && e.Artifacts.Bucket == "" {
		return &deployerr.ConfigError{Key: "artifacts.bucket", Reason: "is required when artifacts is set"}
	}
	return nil
}

func validateVM(key string, vm VM) error {
	if vm.Name == "" {
		return &deployerr.ConfigError{Key: key + ".name", Reason: "is required"}
	}
	if !ValidArchitectures[vm.Arch] {
		return &deployerr.ConfigError{Key: key + ".arch",
			Reason: fmt.Sprintf("unsupported architecture %q", vm.Arch)}
	}
	if vm.VCPUs < 1 {
		return &deployerr.ConfigError{Key: key + ".vcpus", Reason: "must be at least 1"}
	}
	if vm.Memory < 256 {
		return &deployerr.ConfigError{Key: key + ".memory", Reason: "must be at least 256 MiB"}
	}
	if !isDiskSize(vm.DiskSize) {
		return &deployerr.ConfigError{Key: key + ".disk_size",
			Reason: fmt.Sprintf("%q is not a size in GiB", vm.DiskSize)}
	}
	if vm.StickyIP != nil {
		if err := validateStickyIP(key, vm.StickyIP); err != nil {
			return err
		}
	}
	return nil
}

func isDiskSize(s string) bool {
	n := strings.TrimSuffix(strings.TrimSpace(s), "G")
	if n == "" {
		return false
	}
	for _, r := range n {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func validateStickyIP(key string, s *StickyIP) error {
	if net.ParseIP(s.RequestedAddress) == nil {
		return &deployerr.ConfigError{Key: key + ".sticky_ip_address.requested_address",
			Reason: fmt.Sprintf("%q is not an IP address", s.RequestedAddress)}
	}
	if s.MACAddress != "" {
		if _, err := net.ParseMAC(s.MACAddress); err != nil {
			return &deployerr.ConfigError{Key: key + ".sticky_ip_address.mac_address", Reason: err.Error()}
		}
	}
	return nil
}

func (m *MAAS) validate() error {
	if !ValidTransports[m.Transport] {
		return &deployerr.ConfigError{Key: "maas.transport",
			Reason: fmt.Sprintf("unsupported transport %q, use api, cli or ssh", m.Transport)}
	}
	if m.IPAddress != "" && net.ParseIP(m.IPAddress) == nil {
		return &deployerr.ConfigError{Key: "maas.ip_address",
			Reason: fmt.Sprintf("%q is not an IP address", m.IPAddress)}
	}
	if m.APIKey != "" && len(strings.Split(m.APIKey, ":")) != 3 {
		return &deployerr.ConfigError{Key: "maas.apikey", Reason: "expected consumer:token:secret"}
	}
	if err := m.validateNodeGroup(); err != nil {
		return err
	}
	if m.BootSource != nil {
		if err := m.BootSource.validate(); err != nil {
			return err
		}
	}
	for i, iface := range m.NodeGroupInterfaces {
		if !hasAnyKey(iface, interfaceKeys...) {
			return &deployerr.ConfigError{Key: fmt.Sprintf("maas.node_group_ifaces[%d]", i),
				Reason: "one of device, interface or name is required"}
		}
	}
	for i, n := range m.Nodes {
		key := fmt.Sprintf("maas.nodes[%d]", i)
		if n.Name == "" {
			return &deployerr.ConfigError{Key: key + ".name", Reason: "is required"}
		}
		for _, mac := range n.MACAddresses {
			if _, err := net.ParseMAC(mac); err != nil {
				return &deployerr.ConfigError{Key: key + ".mac_addresses", Reason: err.Error()}
			}
		}
		if n.StickyIP != nil {
			if err := validateStickyIP(key, n.StickyIP); err != nil {
				return err
			}
		}
	}
	return nil
}

// validateNodeGroup allows uuid as a lookup key next to the updatable
// fields.
func (m *MAAS) validateNodeGroup() error {
	for key, value := range m.NodeGroup {
		if key == "uuid" {
			if value == MasterNodeGroup {
				continue
			}
			if _, err := uuid.Parse(value); err != nil {
				return &deployerr.ConfigError{Key: "maas.node_group.uuid",
					Reason: fmt.Sprintf("%q is neither %q nor a UUID", value, MasterNodeGroup)}
			}
			continue
		}
		if !NodeGroupUpdateKeys[key] {
			return &deployerr.ConfigError{Key: "maas.node_group." + key,
				Reason: "unsupported key, only name and cluster_name can be updated"}
		}
	}
	return nil
}

func (b *BootSource) validate() error {
	if b.URL == "" {
		return &deployerr.ConfigError{Key: "maas.boot_source.url", Reason: "is required"}
	}
	if b.KeyringData != "" {
		if _, err := base64.StdEncoding.DecodeString(b.KeyringData); err != nil {
			return &deployerr.ConfigError{Key: "maas.boot_source.keyring_data", Reason: "is not valid base64"}
		}
	}
	for name, sel := range b.Selections {
		key := "maas.boot_source.selections." + name
		switch {
		case sel.Release == "":
			return &deployerr.ConfigError{Key: key + ".release", Reason: "is required"}
		case sel.OS == "":
			return &deployerr.ConfigError{Key: key + ".os", Reason: "is required"}
		case len(sel.Arches) == 0:
			return &deployerr.ConfigError{Key: key + ".arches", Reason: "is required"}
		case len(sel.Subarches) == 0:
			return &deployerr.ConfigError{Key: key + ".subarches", Reason: "is required"}
		case len(sel.Labels) == 0:
			return &deployerr.ConfigError{Key: key + ".labels", Reason: "is required"}
		}
	}
	return nil
}

func hasAnyKey(m map[string]any, keys ...string) bool {
	for _, k := range keys {
		if _, ok := m[k]; ok {
			return true
		}
	}
	return false
}
