package config

import (
	"sort"
	"strings"
)

// File is a parsed deployment document keyed by target name.
type File struct {
	Path    string
	Targets map[string]*Environment
}

// Names returns the target names in sorted order.
func (f *File) Names() []string {
	names := make([]string, 0, len(f.Targets))
	for name := range f.Targets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Environment is one deployable target.
type Environment struct {
	// Name is the document key of this target.
	Name string `mapstructure:"-" yaml:"-"`

	// VirshURI is the hypervisor connection. The --remote flag overrides it.
	VirshURI string `mapstructure:"virsh_uri" yaml:"virsh_uri,omitempty"`

	MAAS         MAAS `mapstructure:"maas" yaml:"maas"`
	Bootstrap    VM   `mapstructure:"juju-bootstrap" yaml:"juju-bootstrap"`
	VirtualNodes []VM `mapstructure:"virtual-nodes" yaml:"virtual-nodes,omitempty"`

	// Artifacts publishes the rendered environment descriptor to an S3
	// compatible bucket when set.
	Artifacts *Artifacts `mapstructure:"artifacts" yaml:"artifacts,omitempty"`

	Commissioning Commissioning `mapstructure:"commissioning" yaml:"commissioning,omitempty"`

	// UnknownKeys lists document keys that did not map onto any field.
	UnknownKeys []string `mapstructure:"-" yaml:"-"`
}

// VM describes a virtual machine to define on the hypervisor.
type VM struct {
	Name       string   `mapstructure:"name" yaml:"name"`
	Arch       string   `mapstructure:"arch" yaml:"arch,omitempty"`
	VCPUs      int      `mapstructure:"vcpus" yaml:"vcpus,omitempty"`
	Memory     int      `mapstructure:"memory" yaml:"memory,omitempty"` // MiB
	DiskSize   string   `mapstructure:"disk_size" yaml:"disk_size,omitempty"`
	Pool       string   `mapstructure:"pool" yaml:"pool,omitempty"`
	Video      string   `mapstructure:"video" yaml:"video,omitempty"`
	Interfaces []string `mapstructure:"interfaces" yaml:"interfaces,omitempty"`

	// Tags is a whitespace separated tag list applied when the VM is
	// registered as a node.
	Tags     string    `mapstructure:"tags" yaml:"tags,omitempty"`
	StickyIP *StickyIP `mapstructure:"sticky_ip_address" yaml:"sticky_ip_address,omitempty"`
}

// DiskSizeGB returns the disk size without the G suffix.
func (v VM) DiskSizeGB() string {
	return strings.TrimSuffix(strings.TrimSpace(v.DiskSize), "G")
}

// StickyIP reserves an address for a node's interface.
type StickyIP struct {
	RequestedAddress string `mapstructure:"requested_address" yaml:"requested_address"`
	// MACAddress defaults to the node's first MAC for virtual nodes.
	MACAddress string `mapstructure:"mac_address" yaml:"mac_address,omitempty"`
}

// MAAS describes the controller VM and the configuration applied to it.
type MAAS struct {
	VM `mapstructure:",squash" yaml:",inline"`

	Release       string   `mapstructure:"release" yaml:"release,omitempty"`
	User          string   `mapstructure:"user" yaml:"user,omitempty"`
	Password      string   `mapstructure:"password" yaml:"password,omitempty"`
	NetworkConfig string   `mapstructure:"network_config" yaml:"network_config,omitempty"`
	AptHTTPProxy  string   `mapstructure:"apt_http_proxy" yaml:"apt_http_proxy,omitempty"`
	AptSources    []string `mapstructure:"apt_sources" yaml:"apt_sources,omitempty"`

	// IPAddress is where the controller is reached. Prompted for when empty.
	IPAddress string `mapstructure:"ip_address" yaml:"ip_address,omitempty"`
	// APIKey skips key discovery when set.
	APIKey string `mapstructure:"apikey" yaml:"apikey,omitempty"`
	// Transport is api, cli or ssh.
	Transport string `mapstructure:"transport" yaml:"transport,omitempty"`

	Virsh               *VirshControl     `mapstructure:"virsh" yaml:"virsh,omitempty"`
	BootSource          *BootSource       `mapstructure:"boot_source" yaml:"boot_source,omitempty"`
	Settings            map[string]string `mapstructure:"settings" yaml:"settings,omitempty"`
	NodeGroup           map[string]string `mapstructure:"node_group" yaml:"node_group,omitempty"`
	NodeGroupInterfaces []map[string]any  `mapstructure:"node_group_ifaces" yaml:"node_group_ifaces,omitempty"`
	Nodes               []Node            `mapstructure:"nodes" yaml:"nodes,omitempty"`

	// Preseeds maps a preseed file name to its content. Files found under
	// the preseeds directory are uploaded as well.
	Preseeds map[string]string `mapstructure:"preseeds" yaml:"preseeds,omitempty"`
}

// VirshControl lets the controller power virtual nodes through virsh over
// SSH. Key fields are local paths.
type VirshControl struct {
	URI        string `mapstructure:"uri" yaml:"uri,omitempty"`
	RSAPrivKey string `mapstructure:"rsa_priv_key" yaml:"rsa_priv_key,omitempty"`
	RSAPubKey  string `mapstructure:"rsa_pub_key" yaml:"rsa_pub_key,omitempty"`
	DSAPrivKey string `mapstructure:"dsa_priv_key" yaml:"dsa_priv_key,omitempty"`
	DSAPubKey  string `mapstructure:"dsa_pub_key" yaml:"dsa_pub_key,omitempty"`
}

// KeyFiles maps the file name each configured key gets in the maas user's
// ~/.ssh to its local path.
func (v *VirshControl) KeyFiles() map[string]string {
	out := map[string]string{}
	for name, path := range map[string]string{
		"id_rsa":     v.RSAPrivKey,
		"id_rsa.pub": v.RSAPubKey,
		"id_dsa":     v.DSAPrivKey,
		"id_dsa.pub": v.DSAPubKey,
	} {
		if path != "" {
			out[name] = path
		}
	}
	return out
}

// BootSource is a trusted image source.
type BootSource struct {
	URL             string `mapstructure:"url" yaml:"url"`
	KeyringFilename string `mapstructure:"keyring_filename" yaml:"keyring_filename,omitempty"`
	// KeyringData is a base64 encoded keyring installed on the controller.
	KeyringData string `mapstructure:"keyring_data" yaml:"keyring_data,omitempty"`
	// Force creates the source even when one with the same URL exists.
	Force bool `mapstructure:"force" yaml:"force,omitempty"`
	// Exclusive deletes every other source.
	Exclusive  bool                 `mapstructure:"exclusive" yaml:"exclusive,omitempty"`
	Selections map[string]Selection `mapstructure:"selections" yaml:"selections,omitempty"`
}

// Selection filters the images imported from a source. Every field is
// required.
type Selection struct {
	Release   string   `mapstructure:"release" yaml:"release"`
	OS        string   `mapstructure:"os" yaml:"os"`
	Arches    []string `mapstructure:"arches" yaml:"arches"`
	Subarches []string `mapstructure:"subarches" yaml:"subarches"`
	Labels    []string `mapstructure:"labels" yaml:"labels"`
}

// Node is a physical node registered with the controller.
type Node struct {
	Name         string            `mapstructure:"name" yaml:"name"`
	Architecture string            `mapstructure:"architecture" yaml:"architecture,omitempty"`
	MACAddresses []string          `mapstructure:"mac_addresses" yaml:"mac_addresses,omitempty"`
	Power        map[string]string `mapstructure:"power" yaml:"power,omitempty"`
	Tags         string            `mapstructure:"tags" yaml:"tags,omitempty"`
	StickyIP     *StickyIP         `mapstructure:"sticky_ip_address" yaml:"sticky_ip_address,omitempty"`
}

// Artifacts names the bucket receiving rendered artifacts.
type Artifacts struct {
	Bucket   string `mapstructure:"bucket" yaml:"bucket"`
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	Region   string `mapstructure:"region" yaml:"region,omitempty"`
	Prefix   string `mapstructure:"prefix" yaml:"prefix,omitempty"`
}

// Commissioning controls how nodes that settle outside the ready state are
// treated.
type Commissioning struct {
	// Strict turns "not every node is ready" into an error.
	Strict bool `mapstructure:"strict" yaml:"strict,omitempty"`
}

// SplitTags splits a whitespace separated tag list.
func SplitTags(tags string) []string {
	return strings.Fields(tags)
}
