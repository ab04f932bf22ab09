package compute

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/imamik/vmaas/internal/logging"
	"github.com/imamik/vmaas/internal/platform/virsh"
	"github.com/imamik/vmaas/internal/provisioning/lifecycle"
	"github.com/imamik/vmaas/internal/util/shell"
)

// Instance defines or creates one domain with virt-install.
type Instance struct {
	spec   Spec
	policy lifecycle.Policy
	virsh  *virsh.Client
	// runner executes virt-install and local helpers. virt-install reaches
	// the hypervisor through --connect so this is normally shell.Local.
	runner shell.Runner

	// disks resolves the --disk arguments once the domain is known to be
	// needed. CloudInstance replaces it.
	disks func(ctx context.Context) ([]string, error)
}

// NewInstance returns an Instance for spec.
func NewInstance(spec Spec, policy lifecycle.Policy, v *virsh.Client, runner shell.Runner) *Instance {
	i := &Instance{spec: spec, policy: policy, virsh: v, runner: runner}
	i.disks = i.volumeDisk
	return i
}

// Name returns the domain name.
func (i *Instance) Name() string {
	return i.spec.Name
}

// Spec returns a copy of the instance's spec.
func (i *Instance) Spec() Spec {
	return i.spec
}

func (i *Instance) domain(create func(ctx context.Context) error) lifecycle.Resource {
	name := i.spec.Name
	return lifecycle.Resource{
		Kind: "domain",
		Name: name,
		Exists: func(ctx context.Context) (bool, error) {
			return i.virsh.DomainExists(ctx, name)
		},
		Delete: func(ctx context.Context) error {
			return i.virsh.Undefine(ctx, name)
		},
		Create: create,
	}
}

// Define registers the domain with libvirt without starting it. virt-install
// renders the domain XML (creating any new disks on the way) and virsh
// defines it.
func (i *Instance) Define(ctx context.Context) (lifecycle.Outcome, error) {
	if err := i.virsh.AssertPool(ctx, i.spec.Pool); err != nil {
		return "", err
	}
	return i.policy.Ensure(ctx, i.domain(func(ctx context.Context) error {
		workDir, err := os.MkdirTemp("", "vmaas-"+i.spec.Name+"-")
		if err != nil {
			return fmt.Errorf("failed to create work dir: %w", err)
		}
		defer func() { _ = os.RemoveAll(workDir) }()

		args, err := i.virtInstallArgs(ctx, "--print-xml")
		if err != nil {
			return err
		}

		logging.FromContext(ctx).V(logging.Debug).Info("Defining domain", "domain", i.spec.Name)
		xmlPath := filepath.Join(workDir, i.spec.Name+".xml")
		if _, err := i.runner.Run(ctx, shell.Cmd(args...).Pipe("tee", xmlPath)); err != nil {
			return fmt.Errorf("failed to render domain %s: %w", i.spec.Name, err)
		}
		if err := i.virsh.Define(ctx, xmlPath); err != nil {
			return err
		}
		return i.autostart(ctx)
	}))
}

// Create creates and starts the domain. A failure at any step leaves no
// domain behind.
func (i *Instance) Create(ctx context.Context) (lifecycle.Outcome, error) {
	return i.create(ctx)
}

func (i *Instance) create(ctx context.Context, extra ...string) (lifecycle.Outcome, error) {
	if err := i.virsh.AssertPool(ctx, i.spec.Pool); err != nil {
		return "", err
	}
	return i.policy.Ensure(ctx, i.domain(func(ctx context.Context) error {
		if err := i.install(ctx, extra...); err != nil {
			logging.FromContext(ctx).Error(err, "Failed to create domain, cleaning up", "domain", i.spec.Name)
			i.virsh.Destroy(ctx, i.spec.Name)
			i.virsh.UndefineQuietly(ctx, i.spec.Name)
			return err
		}
		return nil
	}))
}

// install resolves the disks, runs virt-install and marks the domain for
// autostart. Any failure leaves cleanup to the caller.
func (i *Instance) install(ctx context.Context, extra ...string) error {
	args, err := i.virtInstallArgs(ctx, extra...)
	if err != nil {
		return err
	}
	logging.FromContext(ctx).V(logging.Debug).Info("Creating domain", "domain", i.spec.Name)
	if _, err := i.runner.Run(ctx, shell.Cmd(args...)); err != nil {
		return fmt.Errorf("failed to create domain %s: %w", i.spec.Name, err)
	}
	return i.autostart(ctx)
}

func (i *Instance) autostart(ctx context.Context) error {
	if !i.spec.Autostart {
		return nil
	}
	return i.virsh.Autostart(ctx, i.spec.Name)
}

// volumeDisk provides the domain's own <name>.img volume: a new one is
// sized by virt-install, a reused one is attached as is.
func (i *Instance) volumeDisk(ctx context.Context) ([]string, error) {
	vol := i.spec.Name + ".img"
	pool := i.spec.Pool
	create, err := i.policy.Check(ctx, lifecycle.Resource{
		Kind: "volume",
		Name: vol,
		Exists: func(ctx context.Context) (bool, error) {
			return i.virsh.VolumeExists(ctx, pool, vol)
		},
		Delete: func(ctx context.Context) error {
			return i.virsh.VolumeDelete(ctx, pool, vol)
		},
	})
	if err != nil {
		return nil, err
	}
	if !create {
		return []string{existingDisk(pool, vol, "qcow2")}, nil
	}
	return []string{fmt.Sprintf("size=%s,format=qcow2,bus=virtio,io=native,pool=%s", i.spec.diskGB(), pool)}, nil
}

func existingDisk(pool, vol, format string) string {
	return fmt.Sprintf("vol=%s/%s,format=%s,bus=virtio,io=native", pool, vol, format)
}

func (i *Instance) virtInstallArgs(ctx context.Context, extra ...string) ([]string, error) {
	s := i.spec
	args := []string{
		"virt-install",
		"--connect", i.virsh.URI(),
		"--name", s.Name,
		"--ram", strconv.Itoa(s.Memory),
		"--vcpus", strconv.Itoa(s.VCPUs),
		"--video", s.Video,
		"--arch", virtArch(s.Arch),
	}

	disks, err := i.disks(ctx)
	if err != nil {
		return nil, err
	}
	for _, d := range disks {
		args = append(args, "--disk", d)
	}
	for _, n := range s.Networks {
		args = append(args, "--network", n)
	}
	if s.Netboot {
		args = append(args, "--boot", "network,hd,menu=off")
	}
	args = append(args, "--noautoconsole", "--vnc")
	return append(args, extra...), nil
}

// MACAddresses returns the MAC of every interface of the domain.
func (i *Instance) MACAddresses(ctx context.Context) ([]string, error) {
	return i.virsh.MACAddresses(ctx, i.spec.Name)
}

// IPAddresses looks up the addresses the local ARP cache holds for the
// domain's first interface. It is empty until the guest has talked on the
// network.
func (i *Instance) IPAddresses(ctx context.Context) []string {
	log := logging.FromContext(ctx).WithValues("domain", i.spec.Name)
	macs, err := i.MACAddresses(ctx)
	if err != nil || len(macs) == 0 {
		log.V(logging.Debug).Info("No MAC address to resolve")
		return nil
	}

	cmd := shell.Cmd("arp").Pipe("awk", fmt.Sprintf("/%s/ { print $1 }", macs[0])).Tolerant()
	res, err := i.runner.Run(ctx, cmd)
	if err != nil || !res.OK() {
		return nil
	}

	var addrs []string
	for _, line := range strings.Split(res.Stdout, "\n") {
		if a := strings.TrimSpace(line); a != "" {
			addrs = append(addrs, a)
		}
	}
	log.V(logging.Debug).Info("Instance has addresses", "addresses", strings.Join(addrs, ","))
	return addrs
}
