package compute

import (
	"fmt"
	"strings"
)

// Spec describes a domain. It is copied into the Instance and never
// mutated afterwards.
type Spec struct {
	Name     string
	Arch     string
	VCPUs    int
	Memory   int    // MiB
	DiskSize string // GiB, an optional G suffix is accepted
	Pool     string
	Video    string
	Networks []string

	// Netboot boots from the network before the disk.
	Netboot bool
	// Autostart marks the domain to start with the hypervisor.
	Autostart bool
}

// diskGB strips the G suffix from DiskSize.
func (s Spec) diskGB() string {
	return strings.TrimSuffix(strings.TrimSpace(s.DiskSize), "G")
}

// virtArch maps a distribution architecture onto the name virt-install
// expects.
func virtArch(arch string) string {
	switch arch {
	case "amd64":
		return "x86_64"
	case "i386":
		return "i686"
	case "arm64":
		return "aarch64"
	case "armhf":
		return "armv7l"
	case "ppc64", "ppc64el":
		return "ppc64le"
	default:
		return arch
	}
}

// CloudSpec adds what a cloud image boot needs on top of Spec.
type CloudSpec struct {
	Spec

	Release  string
	User     string
	Password string

	// NetworkConfig is the guest's /etc/network/interfaces content.
	NetworkConfig string
	AptHTTPProxy  string
	AptSources    []string

	// NodeGroupInterfaces is handed to the controller setup script.
	NodeGroupInterfaces []map[string]any

	// SSHPublicKey is authorized for User.
	SSHPublicKey string

	// UserFilesDir holds extra user-data parts. Missing is fine.
	UserFilesDir string

	// CacheDir keeps downloaded cloud images between runs.
	CacheDir string
}

// BaseVolume is the pool volume holding the pristine cloud image.
func (s CloudSpec) BaseVolume() string {
	return fmt.Sprintf("%s-%s-base", s.Release, s.Arch)
}

// RootVolume is the per-domain clone of the base volume.
func (s CloudSpec) RootVolume() string {
	return s.Name + "-root.img"
}

// SeedVolume is the per-domain NoCloud seed.
func (s CloudSpec) SeedVolume() string {
	return s.Name + "-seed.img"
}

// ImageURL returns the cloud image download location.
func (s CloudSpec) ImageURL() string {
	arch := s.Arch
	if arch == "ppc64" {
		arch = "ppc64el"
	}
	return fmt.Sprintf("https://cloud-images.ubuntu.com/%s/current/%s-server-cloudimg-%s-disk1.img",
		s.Release, s.Release, arch)
}
