package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// Defaults for VMs that leave a field empty.
const (
	DefaultArch     = "amd64"
	DefaultVCPUs    = 1
	DefaultMemory   = 1024
	DefaultDiskSize = "20G"
	DefaultPool     = "default"
	DefaultVideo    = "cirrus"
	DefaultVirshURI = "qemu:///system"
)

// Defaults for the controller VM.
const (
	DefaultControllerVCPUs    = 2
	DefaultControllerMemory   = 4096
	DefaultControllerDiskSize = "40G"
	DefaultRelease            = "trusty"
	DefaultUser               = "ubuntu"
	DefaultPassword           = "ubuntu"
	DefaultTransport          = "ssh"
)

// UserFilesDir holds extra cloud-init parts and the preseeds directory.
const UserFilesDir = "user-files"

// PreseedsDir is where preseed files are picked up from.
const PreseedsDir = UserFilesDir + "/preseeds"

// LoadFile reads and parses a deployment document from a YAML file.
func LoadFile(path string) (*File, error) {
	// #nosec G304
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, err
	}
	f.Path = path
	return f, nil
}

// Parse decodes a deployment document, applies defaults and validates every
// target.
func Parse(data []byte) (*File, error) {
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to unmarshal yaml: %w", err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("config file defines no targets")
	}

	f := &File{Targets: make(map[string]*Environment, len(raw))}
	for name, body := range raw {
		env, err := decodeEnvironment(name, body)
		if err != nil {
			return nil, err
		}
		env.ApplyDefaults()
		if err := env.Validate(); err != nil {
			return nil, fmt.Errorf("configuration validation failed for %s: %w", name, err)
		}
		f.Targets[name] = env
	}
	return f, nil
}

func decodeEnvironment(name string, body interface{}) (*Environment, error) {
	if _, ok := body.(map[string]interface{}); !ok {
		return nil, fmt.Errorf("target %s: expected a mapping, got %T", name, body)
	}

	env := &Environment{Name: name}
	var md mapstructure.Metadata
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Metadata:         &md,
		Result:           env,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}
	if err := dec.Decode(body); err != nil {
		return nil, fmt.Errorf("failed to decode target %s: %w", name, err)
	}

	// Keys under free-form maps show up as unused too; only report the
	// ones that are not below a map-typed field.
	for _, key := range md.Unused {
		if !underFreeForm(key) {
			env.UnknownKeys = append(env.UnknownKeys, key)
		}
	}
	sort.Strings(env.UnknownKeys)
	return env, nil
}

var freeFormPrefixes = []string{
	"maas.settings", "maas.node_group", "maas.node_group_ifaces",
	"maas.preseeds", "maas.boot_source.selections",
}

func underFreeForm(key string) bool {
	for _, p := range freeFormPrefixes {
		if key == p || strings.HasPrefix(key, p+".") || strings.HasPrefix(key, p+"[") {
			return true
		}
	}
	return strings.Contains(key, ".power.")
}

// Target returns the named target. An empty name selects the only target
// of a single-target document.
func (f *File) Target(name string) (*Environment, error) {
	if name == "" {
		if len(f.Targets) != 1 {
			return nil, fmt.Errorf("config defines %d targets, choose one of %s",
				len(f.Targets), strings.Join(f.Names(), ", "))
		}
		for _, env := range f.Targets {
			return env, nil
		}
	}
	env, ok := f.Targets[name]
	if !ok {
		return nil, fmt.Errorf("target %q not found in config, available: %s",
			name, strings.Join(f.Names(), ", "))
	}
	return env, nil
}

// ApplyDefaults fills in every field left empty.
func (e *Environment) ApplyDefaults() {
	if e.VirshURI == "" {
		e.VirshURI = DefaultVirshURI
	}

	m := &e.MAAS
	if m.VCPUs == 0 {
		m.VCPUs = DefaultControllerVCPUs
	}
	if m.Memory == 0 {
		m.Memory = DefaultControllerMemory
	}
	if m.DiskSize == "" {
		m.DiskSize = DefaultControllerDiskSize
	}
	m.VM.applyDefaults()
	if m.Release == "" {
		m.Release = DefaultRelease
	}
	if m.User == "" {
		m.User = DefaultUser
	}
	if m.Password == "" {
		m.Password = DefaultPassword
	}
	if m.Transport == "" {
		m.Transport = DefaultTransport
	}
	if m.Virsh != nil && m.Virsh.URI == "" {
		m.Virsh.URI = e.VirshURI
	}

	e.Bootstrap.applyDefaults()
	for i := range e.VirtualNodes {
		e.VirtualNodes[i].applyDefaults()
	}
	for i := range m.Nodes {
		if m.Nodes[i].Architecture == "" {
			m.Nodes[i].Architecture = "amd64/generic"
		}
	}
}

func (v *VM) applyDefaults() {
	if v.Arch == "" {
		v.Arch = DefaultArch
	}
	if v.VCPUs == 0 {
		v.VCPUs = DefaultVCPUs
	}
	if v.Memory == 0 {
		v.Memory = DefaultMemory
	}
	if v.DiskSize == "" {
		v.DiskSize = DefaultDiskSize
	}
	if v.Pool == "" {
		v.Pool = DefaultPool
	}
	if v.Video == "" {
		v.Video = DefaultVideo
	}
}
