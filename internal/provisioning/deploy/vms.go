package deploy

import (
	"fmt"
	"strings"

	"github.com/imamik/vmaas/internal/config"
	"github.com/imamik/vmaas/internal/provisioning"
	"github.com/imamik/vmaas/internal/provisioning/compute"
	"github.com/imamik/vmaas/internal/util/keygen"
)

// bootstrapTag marks the node juju bootstraps onto.
const bootstrapTag = "bootstrap"

func nodeSpec(vm config.VM) compute.Spec {
	return compute.Spec{
		Name:     vm.Name,
		Arch:     vm.Arch,
		VCPUs:    vm.VCPUs,
		Memory:   vm.Memory,
		DiskSize: vm.DiskSize,
		Pool:     vm.Pool,
		Video:    vm.Video,
		Networks: vm.Interfaces,
		Netboot:  true,
	}
}

// defineBootstrap defines the netbooted bootstrap node.
func (e *Engine) defineBootstrap(ctx *provisioning.Context) error {
	return e.defineNode(ctx, PhaseBootstrapVM, ctx.Env.Bootstrap)
}

// defineVirtualNodes defines every extra netbooted node.
func (e *Engine) defineVirtualNodes(ctx *provisioning.Context) error {
	if len(ctx.Env.VirtualNodes) == 0 {
		ctx.Observer.Printf("[%s] No virtual nodes configured", PhaseVirtualNodes)
		return nil
	}
	for i, vm := range ctx.Env.VirtualNodes {
		if err := e.defineNode(ctx, PhaseVirtualNodes, vm); err != nil {
			return err
		}
		ctx.Observer.Progress(PhaseVirtualNodes, i+1, len(ctx.Env.VirtualNodes))
	}
	return nil
}

// defineNode defines one node domain and records its MAC addresses for
// registration.
func (e *Engine) defineNode(ctx *provisioning.Context, phase string, vm config.VM) error {
	inst := compute.NewInstance(nodeSpec(vm), ctx.Policy, e.virsh, e.opts.Runner)

	provisioning.LogResourceCreating(ctx.Observer, phase, "domain", vm.Name)
	outcome, err := inst.Define(ctx)
	if err != nil {
		provisioning.LogResourceFailed(ctx.Observer, phase, "domain", vm.Name, err)
		return err
	}
	provisioning.LogResourceOutcome(ctx.Observer, phase, "domain", vm.Name, outcome)
	ctx.State.Outcomes[vm.Name] = outcome

	macs, err := inst.MACAddresses(ctx)
	if err != nil {
		return fmt.Errorf("failed to read MAC addresses of %s: %w", vm.Name, err)
	}
	ctx.State.NodeMACs[vm.Name] = macs
	return nil
}

// loadIdentity reads the controller key pair, generating it on first use.
func (e *Engine) loadIdentity(ctx *provisioning.Context) (*keygen.KeyPair, error) {
	if e.identity != nil {
		return e.identity, nil
	}
	kp, created, err := keygen.LoadOrCreate(e.opts.IdentityFile, keygen.DefaultBits)
	if err != nil {
		return nil, fmt.Errorf("failed to load controller identity: %w", err)
	}
	if created {
		ctx.Observer.Printf("[%s] Generated controller identity %s", PhaseControllerVM, e.opts.IdentityFile)
	}
	e.identity = kp
	return kp, nil
}

func (e *Engine) controllerSpec(m config.MAAS, publicKey string) compute.CloudSpec {
	spec := nodeSpec(m.VM)
	spec.Netboot = false
	spec.Autostart = true
	return compute.CloudSpec{
		Spec:                spec,
		Release:             m.Release,
		User:                m.User,
		Password:            m.Password,
		NetworkConfig:       m.NetworkConfig,
		AptHTTPProxy:        m.AptHTTPProxy,
		AptSources:          m.AptSources,
		NodeGroupInterfaces: m.NodeGroupInterfaces,
		SSHPublicKey:        strings.TrimSpace(publicKey),
		UserFilesDir:        e.opts.UserFilesDir,
		CacheDir:            e.opts.CacheDir,
	}
}

// createController creates and starts the controller from a cloud image.
func (e *Engine) createController(ctx *provisioning.Context) error {
	m := ctx.Env.MAAS
	kp, err := e.loadIdentity(ctx)
	if err != nil {
		return err
	}

	inst := compute.NewCloudInstance(e.controllerSpec(m, string(kp.PublicKey)), ctx.Policy, e.virsh, e.opts.Runner).
		WithHTTPClient(e.opts.HTTPClient)

	provisioning.LogResourceCreating(ctx.Observer, PhaseControllerVM, "domain", m.Name)
	outcome, err := inst.Create(ctx)
	if err != nil {
		provisioning.LogResourceFailed(ctx.Observer, PhaseControllerVM, "domain", m.Name, err)
		return err
	}
	provisioning.LogResourceOutcome(ctx.Observer, PhaseControllerVM, "domain", m.Name, outcome)
	ctx.State.Outcomes[m.Name] = outcome
	return nil
}
