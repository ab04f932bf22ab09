package maas

import (
	"context"
	"strings"

	"github.com/imamik/vmaas/internal/logging"
	"github.com/imamik/vmaas/internal/util/shell"
)

// CLIDriver runs the maas command line client. Over SSH the same commands
// run on the controller through a remote runner.
type CLIDriver struct {
	runner  shell.Runner
	profile string
	url     string
	apiKey  string
	stdin   string
	name    string
}

var _ Driver = (*CLIDriver)(nil)

// NewCLIDriver returns a driver that assumes profile is already logged in.
func NewCLIDriver(runner shell.Runner, profile, rawURL, apiKey string) *CLIDriver {
	if profile == "" {
		profile = DefaultProfile
	}
	return &CLIDriver{
		runner:  runner,
		profile: profile,
		url:     APIURL(rawURL),
		apiKey:  apiKey,
		name:    "cli",
	}
}

// NewSSHDriver returns a CLI driver running on the controller and logs the
// profile in once. The login is bound to the remote session, so callers
// construct a new driver after the session is lost.
func NewSSHDriver(ctx context.Context, runner shell.Runner, profile, rawURL, apiKey string) (*CLIDriver, error) {
	d := NewCLIDriver(runner, profile, rawURL, apiKey)
	d.stdin = "LC_ALL=C"
	d.name = "ssh"
	if err := d.Login(ctx); err != nil {
		return nil, err
	}
	return d, nil
}

// Login registers the API key under the driver's profile.
func (d *CLIDriver) Login(ctx context.Context) error {
	cmd := shell.Cmd("maas", "login", d.profile, d.url, d.apiKey).WithStdin(d.stdin)
	_, err := d.runner.Run(ctx, cmd)
	return err
}

// execute runs `maas <profile> <noun> <verb> [positional...] [key=value...]`.
func (d *CLIDriver) execute(ctx context.Context, op, noun, verb string, positional []string, params Params) Result {
	args := append([]string{"maas", d.profile, noun, verb}, positional...)
	args = append(args, params.args()...)

	res, err := d.runner.Run(ctx, shell.Cmd(args...).WithStdin(d.stdin))
	if err != nil {
		logging.FromContext(ctx).Error(err, "maas command failed", "cmd", strings.Join(args, " "))
		return record(d.name, op, failed(strings.TrimSpace(res.Stdout+res.Stderr)))
	}
	logging.FromContext(ctx).V(logging.Debug).Info("maas command succeeded", "op", op,
		"stdout", truncate(res.Stdout, 100))
	return record(d.name, op, ok(decodePayload([]byte(res.Stdout))))
}

func (d *CLIDriver) GetConfig(ctx context.Context, name string) Result {
	return d.execute(ctx, "get_config", "maas", "get-config", nil, Params{"name": name})
}

func (d *CLIDriver) SetConfig(ctx context.Context, name, value string) Result {
	return d.execute(ctx, "set_config", "maas", "set-config", nil, Params{"name": name, "value": value})
}

func (d *CLIDriver) GetBootSources(ctx context.Context) Result {
	return d.execute(ctx, "get_boot_sources", "boot-sources", "read", nil, nil)
}

func (d *CLIDriver) CreateBootSource(ctx context.Context, url, keyringFilename string) Result {
	p := Params{"url": url}
	if keyringFilename != "" {
		p["keyring_filename"] = keyringFilename
	}
	return d.execute(ctx, "create_boot_source", "boot-sources", "create", nil, p)
}

func (d *CLIDriver) DeleteBootSource(ctx context.Context, id string) Result {
	return d.execute(ctx, "delete_boot_source", "boot-source", "delete", []string{id}, nil)
}

func (d *CLIDriver) GetBootSourceSelections(ctx context.Context, sourceID string) Result {
	return d.execute(ctx, "get_boot_source_selections", "boot-source-selections", "read", []string{sourceID}, nil)
}

func (d *CLIDriver) CreateBootSourceSelection(ctx context.Context, sourceID string, sel Params) Result {
	return d.execute(ctx, "create_boot_source_selection", "boot-source-selections", "create", []string{sourceID}, sel)
}

func (d *CLIDriver) ImportBootImages(ctx context.Context) Result {
	return d.execute(ctx, "import_boot_images", "boot-resources", "import", nil, nil)
}

func (d *CLIDriver) GetBootImages(ctx context.Context, nodegroupUUID string) Result {
	return d.execute(ctx, "get_boot_images", "boot-images", "read", []string{nodegroupUUID}, nil)
}

func (d *CLIDriver) GetNodegroups(ctx context.Context) Result {
	return d.execute(ctx, "get_nodegroups", "node-groups", "list", nil, nil)
}

func (d *CLIDriver) UpdateNodegroup(ctx context.Context, uuid string, settings Params) Result {
	return d.execute(ctx, "update_nodegroup", "node-group", "update", []string{uuid}, settings)
}

func (d *CLIDriver) GetNodegroupInterfaces(ctx context.Context, uuid string) Result {
	return d.execute(ctx, "get_nodegroup_interfaces", "node-group-interfaces", "list", []string{uuid}, nil)
}

func (d *CLIDriver) CreateNodegroupInterface(ctx context.Context, uuid string, iface Params) Result {
	return d.execute(ctx, "create_nodegroup_interface", "node-group-interfaces", "new", []string{uuid}, iface)
}

func (d *CLIDriver) UpdateNodegroupInterface(ctx context.Context, uuid, name string, iface Params) Result {
	return d.execute(ctx, "update_nodegroup_interface", "node-group-interface", "update", []string{uuid, name}, iface)
}

func (d *CLIDriver) GetNodes(ctx context.Context) Result {
	return d.execute(ctx, "get_nodes", "nodes", "list", nil, nil)
}

// CreateNode passes power_parameters through as the JSON object the
// controller decodes. sticky_ip_address is claimed separately.
func (d *CLIDriver) CreateNode(ctx context.Context, node Params) Result {
	p := node.without("sticky_ip_address")
	p["autodetect_nodegroup"] = "yes"
	return d.execute(ctx, "create_node", "nodes", "new", nil, p)
}

func (d *CLIDriver) UpdateNode(ctx context.Context, systemID string, params Params) Result {
	return d.execute(ctx, "update_node", "node", "update", []string{systemID}, params)
}

func (d *CLIDriver) DeleteNode(ctx context.Context, systemID string) Result {
	return d.execute(ctx, "delete_node", "node", "delete", []string{systemID}, nil)
}

func (d *CLIDriver) ClaimStickyIPAddress(ctx context.Context, systemID, requestedAddress, macAddress string) Result {
	return d.execute(ctx, "claim_sticky_ip_address", "node", "claim-sticky-ip-address", []string{systemID},
		Params{"mac_address": macAddress, "requested_address": requestedAddress})
}

func (d *CLIDriver) GetTags(ctx context.Context) Result {
	return d.execute(ctx, "get_tags", "tags", "list", nil, nil)
}

func (d *CLIDriver) CreateTag(ctx context.Context, tag Params) Result {
	return d.execute(ctx, "create_tag", "tags", "new", nil, tag)
}

func (d *CLIDriver) DeleteTag(ctx context.Context, name string) Result {
	return d.execute(ctx, "delete_tag", "tag", "delete", []string{name}, nil)
}

func (d *CLIDriver) AddTagNodes(ctx context.Context, tag string, systemIDs ...string) Result {
	return d.execute(ctx, "add_tag_nodes", "tag", "update-nodes", []string{tag}, Params{"add": systemIDs})
}

func (d *CLIDriver) RemoveTagNodes(ctx context.Context, tag string, systemIDs ...string) Result {
	return d.execute(ctx, "remove_tag_nodes", "tag", "update-nodes", []string{tag}, Params{"remove": systemIDs})
}

func (d *CLIDriver) GetTagNodes(ctx context.Context, tag string) Result {
	return d.execute(ctx, "get_tag_nodes", "tag", "nodes", []string{tag}, nil)
}
