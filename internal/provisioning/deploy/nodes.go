package deploy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/imamik/vmaas/internal/config"
	"github.com/imamik/vmaas/internal/deployerr"
	"github.com/imamik/vmaas/internal/platform/maas"
	"github.com/imamik/vmaas/internal/provisioning"
	"github.com/imamik/vmaas/internal/provisioning/lifecycle"
	"github.com/imamik/vmaas/internal/util/poll"
)

// unprefixedPowerKeys are power parameters the controller expects without
// the power_ prefix.
var unprefixedPowerKeys = sets.New(
	"mac_address", "system_id", "outlet_id", "uuid", "node_id",
	"blade_id", "node_outlet", "server_name", "lpar",
)

// nodeRequest is a node to register with the controller.
type nodeRequest struct {
	Name         string
	Architecture string
	MACs         []string
	Power        map[string]string
	Tags         []string
	StickyIP     *config.StickyIP

	// Domain is set for nodes backed by a local libvirt domain.
	Domain bool
}

// params renders the create_node arguments.
func (r nodeRequest) params() (maas.Params, error) {
	p := maas.Params{
		"hostname":     r.Name,
		"architecture": r.Architecture,
	}
	if len(r.MACs) > 0 {
		p["mac_addresses"] = r.MACs
	}
	if len(r.Power) > 0 {
		encoded, err := encodePowerParameters(r.Power)
		if err != nil {
			return nil, err
		}
		p["power_type"] = r.Power["type"]
		p["power_parameters"] = encoded
	}
	return p, nil
}

// encodePowerParameters prefixes keys with power_ unless the controller
// knows them unprefixed and returns the JSON object.
func encodePowerParameters(power map[string]string) (string, error) {
	out := make(map[string]string, len(power))
	for k, v := range power {
		if unprefixedPowerKeys.Has(k) {
			out[k] = v
		} else {
			out["power_"+k] = v
		}
	}
	data, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("failed to encode power parameters: %w", err)
	}
	return string(data), nil
}

// nodeRequests lists the bootstrap node, the virtual nodes and the declared
// physical nodes.
func (e *Engine) nodeRequests(ctx *provisioning.Context) []nodeRequest {
	env := ctx.Env
	var reqs []nodeRequest

	vm := func(v config.VM, extraTags ...string) nodeRequest {
		macs := ctx.State.NodeMACs[v.Name]
		tags := sets.List(sets.New(append(extraTags, config.SplitTags(v.Tags)...)...))
		r := nodeRequest{
			Name:         v.Name,
			Architecture: v.Arch + "/generic",
			MACs:         macs,
			Tags:         tags,
			Domain:       true,
		}
		if env.MAAS.Virsh != nil {
			r.Power = map[string]string{
				"type":    "virsh",
				"address": env.MAAS.Virsh.URI,
				"id":      v.Name,
			}
		}
		if v.StickyIP != nil {
			sticky := *v.StickyIP
			if sticky.MACAddress == "" && len(macs) > 0 {
				sticky.MACAddress = macs[0]
			}
			r.StickyIP = &sticky
		}
		return r
	}

	reqs = append(reqs, vm(env.Bootstrap, bootstrapTag))
	for _, v := range env.VirtualNodes {
		reqs = append(reqs, vm(v))
	}

	for _, n := range env.MAAS.Nodes {
		r := nodeRequest{
			Name:         n.Name,
			Architecture: n.Architecture,
			MACs:         n.MACAddresses,
			Tags:         config.SplitTags(n.Tags),
			StickyIP:     n.StickyIP,
		}
		if len(n.Power) > 0 {
			r.Power = make(map[string]string, len(n.Power))
			for k, v := range n.Power {
				r.Power[k] = v
			}
			if r.Power["type"] == "virsh" && r.Power["id"] == "" {
				r.Power["id"] = n.Name
			}
		}
		reqs = append(reqs, r)
	}
	return reqs
}

// registerNodes creates missing tags and nodes and tags every node.
func (e *Engine) registerNodes(ctx *provisioning.Context) error {
	client := ctx.State.Client
	reqs := e.nodeRequests(ctx)

	if err := ensureTags(ctx, client, reqs); err != nil {
		return err
	}

	existing, err := client.GetNodes(ctx)
	if err != nil {
		return err
	}

	var registered []maas.Node
	for i, r := range reqs {
		node, found := maas.FindNode(existing, r.Name)
		if found {
			provisioning.LogResourceOutcome(ctx.Observer, PhaseNodes, "node", r.Name, lifecycle.Reused)
		} else {
			params, err := r.params()
			if err != nil {
				return err
			}
			provisioning.LogResourceCreating(ctx.Observer, PhaseNodes, "node", r.Name)
			node, err = client.CreateNode(ctx, params)
			if err != nil {
				provisioning.LogResourceFailed(ctx.Observer, PhaseNodes, "node", r.Name, err)
				continue
			}
			provisioning.LogResourceOutcome(ctx.Observer, PhaseNodes, "node", r.Name, lifecycle.Created)
		}
		registered = append(registered, node)

		for _, tag := range r.Tags {
			if err := client.AddTag(ctx, tag, node.SystemID()); err != nil {
				warn(ctx, PhaseNodes, fmt.Sprintf("failed to tag node %s with %s: %v", r.Name, tag, err))
			}
		}
		ctx.Observer.Progress(PhaseNodes, i+1, len(reqs))
	}
	ctx.State.Nodes = registered
	return nil
}

// ensureTags creates every requested tag the controller does not know.
func ensureTags(ctx *provisioning.Context, client *maas.Client, reqs []nodeRequest) error {
	want := sets.New[string]()
	for _, r := range reqs {
		want.Insert(r.Tags...)
	}
	if want.Len() == 0 {
		return nil
	}

	tags, err := client.GetTags(ctx)
	if err != nil {
		return err
	}
	have := sets.New[string]()
	for _, t := range tags {
		have.Insert(t.Name())
	}

	for _, tag := range sets.List(want.Difference(have)) {
		if err := client.CreateTag(ctx, tag); err != nil {
			return err
		}
		ctx.Observer.Printf("[%s] Created tag %s", PhaseNodes, tag)
	}
	return nil
}

func warn(ctx *provisioning.Context, phase, msg string) {
	provisioning.LogWarning(ctx.Observer, phase, msg, nil)
}

// startNodes boots every node domain. Running domains are left alone.
func (e *Engine) startNodes(ctx *provisioning.Context) error {
	for _, r := range e.nodeRequests(ctx) {
		if !r.Domain {
			continue
		}
		ctx.Observer.Printf("[%s] Starting %s", PhaseStartNodes, r.Name)
		if err := e.virsh.Start(ctx, r.Name); err != nil {
			return fmt.Errorf("failed to start %s: %w", r.Name, err)
		}
	}
	return nil
}

func countStatus(nodes []maas.Node, status int) int {
	n := 0
	for _, node := range nodes {
		if node.Status() == status {
			n++
		}
	}
	return n
}

// waitForCommissioning polls until no node is commissioning any more. Nodes
// that settle in a state other than ready are a warning, or an error when
// commissioning is strict.
func (e *Engine) waitForCommissioning(ctx *provisioning.Context) error {
	client := ctx.State.Client
	p := poll.Poller[[]maas.Node]{
		Name:      "commissioning",
		Interval:  e.delays.commissioning,
		Timeout:   ctx.Timeouts.Commissioning,
		Immediate: true,
		Fetch: func(c context.Context) ([]maas.Node, error) {
			return client.GetNodes(c)
		},
		Done: func(nodes []maas.Node) bool {
			return countStatus(nodes, maas.StatusCommissioning) == 0
		},
		OnSnapshot: func(st poll.State[[]maas.Node]) {
			ctx.Observer.Progress(PhaseCommissioning, countStatus(st.Last, maas.StatusReady), len(st.Last))
		},
	}
	st, err := p.Wait(ctx)
	if err != nil {
		return err
	}

	nodes := st.Last
	ready := countStatus(nodes, maas.StatusReady)
	if ready == len(nodes) {
		ctx.Observer.Printf("[%s] All %d nodes are ready", PhaseCommissioning, ready)
		return nil
	}

	var pending []string
	for _, n := range nodes {
		if n.Status() != maas.StatusReady {
			pending = append(pending, n.Hostname())
		}
	}
	sort.Strings(pending)
	msg := fmt.Sprintf("nodes are no longer commissioning but %d of %d are not ready: %v",
		len(nodes)-ready, len(nodes), pending)
	if ctx.Env.Commissioning.Strict {
		return fmt.Errorf("%w: %s", deployerr.ErrCommissioning, msg)
	}
	warn(ctx, PhaseCommissioning, msg)
	return nil
}

// claimStickyIPs reserves the requested address of every node that names
// both an address and a MAC. Failures are reported and skipped.
func (e *Engine) claimStickyIPs(ctx *provisioning.Context) error {
	client := ctx.State.Client
	nodes, err := client.GetNodes(ctx)
	if err != nil {
		return err
	}

	for _, r := range e.nodeRequests(ctx) {
		s := r.StickyIP
		if s == nil || s.RequestedAddress == "" || s.MACAddress == "" {
			continue
		}
		node, found := maas.FindNode(nodes, r.Name)
		if !found {
			warn(ctx, PhaseStickyIPs, fmt.Sprintf("node %s is not registered, cannot claim %s", r.Name, s.RequestedAddress))
			continue
		}
		ctx.Observer.Printf("[%s] Claiming %s for %s", PhaseStickyIPs, s.RequestedAddress, node.Hostname())
		if err := client.ClaimStickyIPAddress(ctx, node.SystemID(), s.RequestedAddress, s.MACAddress); err != nil {
			var ce *deployerr.ClientError
			if !errors.As(err, &ce) {
				return err
			}
			warn(ctx, PhaseStickyIPs, fmt.Sprintf("failed to claim sticky IP address %s: %v", s.RequestedAddress, err))
		}
	}
	return nil
}
