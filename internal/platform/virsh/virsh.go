// Package virsh drives libvirt through the virsh command line tool.
package virsh

import (
	"bufio"
	"context"
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"github.com/imamik/vmaas/internal/deployerr"
	"github.com/imamik/vmaas/internal/logging"
	"github.com/imamik/vmaas/internal/util/retry"
	"github.com/imamik/vmaas/internal/util/shell"
)

// DefaultURI is the local system hypervisor.
const DefaultURI = "qemu:///system"

const alreadyActive = "Domain is already active"

// Client runs virsh against one hypervisor connection.
type Client struct {
	runner shell.Runner
	uri    string

	// undefineDelay is the first pause between undefine attempts.
	undefineDelay time.Duration
}

// New returns a client for uri. An empty uri means DefaultURI.
func New(runner shell.Runner, uri string) *Client {
	if uri == "" {
		uri = DefaultURI
	}
	return &Client{runner: runner, uri: uri, undefineDelay: 2 * time.Second}
}

// URI returns the hypervisor connection URI.
func (c *Client) URI() string {
	return c.uri
}

func (c *Client) command(args ...string) shell.Command {
	return shell.Cmd(append([]string{"virsh", "-c", c.uri}, args...)...)
}

func (c *Client) run(ctx context.Context, args ...string) (string, error) {
	res, err := c.runner.Run(ctx, c.command(args...))
	if err != nil {
		return "", err
	}
	return res.Stdout, nil
}

// tolerant runs a command whose failure is expected and only logged.
func (c *Client) tolerant(ctx context.Context, args ...string) shell.Result {
	res, err := c.runner.Run(ctx, c.command(args...).Tolerant())
	if err != nil {
		logging.FromContext(ctx).V(logging.Debug).Info("virsh failed", "args", args, "error", err.Error())
		return shell.Result{ExitCode: -1, Stderr: err.Error()}
	}
	return res
}

// ListDomains returns the raw `virsh list --all` table.
func (c *Client) ListDomains(ctx context.Context) (string, error) {
	return c.run(ctx, "list", "--all")
}

// DomainExists reports whether a domain called name is defined.
func (c *Client) DomainExists(ctx context.Context, name string) (bool, error) {
	out, err := c.ListDomains(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to list domains: %w", err)
	}
	return DomainListed(out, name), nil
}

// DomainListed reports whether the `virsh list --all` table contains a row
// whose name column equals name. Other names sharing a prefix do not match.
func DomainListed(listing, name string) bool {
	sc := bufio.NewScanner(strings.NewReader(listing))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 2 || fields[0] == "Id" || strings.HasPrefix(fields[0], "---") {
			continue
		}
		if fields[1] == name {
			return true
		}
	}
	return false
}

// Define imports a domain descriptor from an XML file.
func (c *Client) Define(ctx context.Context, xmlPath string) error {
	if _, err := c.run(ctx, "define", "--file", xmlPath); err != nil {
		return fmt.Errorf("failed to define domain from %s: %w", xmlPath, err)
	}
	return nil
}

// Start boots a defined domain. Starting a running domain is not an error.
func (c *Client) Start(ctx context.Context, name string) error {
	res := c.tolerant(ctx, "start", name)
	if res.OK() {
		return nil
	}
	if strings.Contains(res.Stderr, alreadyActive) || strings.Contains(res.Stdout, alreadyActive) {
		logging.FromContext(ctx).V(logging.Debug).Info("domain already active", "domain", name)
		return nil
	}
	return &deployerr.CommandFailedError{
		Cmd:      c.command("start", name).Args,
		ExitCode: res.ExitCode,
		Stderr:   res.Stderr,
	}
}

// Destroy stops a domain. Failures are ignored since the domain may not be
// running or may not exist.
func (c *Client) Destroy(ctx context.Context, name string) {
	c.tolerant(ctx, "destroy", name)
}

// Undefine removes a domain definition, stopping it first. libvirt sometimes
// refuses while the domain is shutting down, so undefine is retried with a
// doubling delay.
func (c *Client) Undefine(ctx context.Context, name string) error {
	c.Destroy(ctx, name)
	err := retry.WithExponentialBackoff(ctx, func() error {
		_, err := c.run(ctx, "undefine", name)
		return err
	},
		retry.WithName("virsh-undefine"),
		retry.WithMaxRetries(5),
		retry.WithInitialDelay(c.undefineDelay),
		retry.WithMaxDelay(0),
	)
	if err != nil {
		return fmt.Errorf("failed to undefine domain %s: %w", name, err)
	}
	return nil
}

// UndefineQuietly is the cleanup form of Undefine: one attempt, failures
// ignored.
func (c *Client) UndefineQuietly(ctx context.Context, name string) {
	c.tolerant(ctx, "undefine", name)
}

// Autostart marks a domain to start with the host.
func (c *Client) Autostart(ctx context.Context, name string) error {
	if _, err := c.run(ctx, "autostart", name); err != nil {
		return fmt.Errorf("failed to enable autostart for %s: %w", name, err)
	}
	return nil
}

// DumpXML returns the domain descriptor.
func (c *Client) DumpXML(ctx context.Context, name string) (string, error) {
	return c.run(ctx, "dumpxml", name)
}

// MACAddresses returns the MAC address of every interface of a domain in
// descriptor order.
func (c *Client) MACAddresses(ctx context.Context, name string) ([]string, error) {
	out, err := c.DumpXML(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to read descriptor of %s: %w", name, err)
	}
	return ParseMACAddresses(out)
}

type domainXML struct {
	Interfaces []struct {
		MAC *struct {
			Address string `xml:"address,attr"`
		} `xml:"mac"`
	} `xml:"devices>interface"`
}

// ParseMACAddresses extracts /domain/devices/interface/mac/@address.
func ParseMACAddresses(descriptor string) ([]string, error) {
	var d domainXML
	if err := xml.Unmarshal([]byte(strings.TrimSpace(descriptor)), &d); err != nil {
		return nil, fmt.Errorf("failed to parse domain descriptor: %w", err)
	}
	var macs []string
	for _, iface := range d.Interfaces {
		if iface.MAC != nil && iface.MAC.Address != "" {
			macs = append(macs, iface.MAC.Address)
		}
	}
	return macs, nil
}

// PoolExists reports whether a storage pool is listed.
func (c *Client) PoolExists(ctx context.Context, pool string) (bool, error) {
	out, err := c.run(ctx, "pool-list", "--all")
	if err != nil {
		return false, fmt.Errorf("failed to list storage pools: %w", err)
	}
	return VolumeListed(out, pool), nil
}

// AssertPool returns a PoolNotFoundError when pool is missing.
func (c *Client) AssertPool(ctx context.Context, pool string) error {
	ok, err := c.PoolExists(ctx, pool)
	if err != nil {
		return err
	}
	if !ok {
		return &deployerr.PoolNotFoundError{Pool: pool}
	}
	return nil
}

// VolumeExists reports whether pool holds a volume called name.
func (c *Client) VolumeExists(ctx context.Context, pool, name string) (bool, error) {
	out, err := c.run(ctx, "vol-list", "--pool", pool)
	if err != nil {
		return false, fmt.Errorf("failed to list volumes in pool %s: %w", pool, err)
	}
	return VolumeListed(out, name), nil
}

// VolumeListed reports whether a `virsh vol-list` or `virsh pool-list`
// table has a row whose first column equals name.
func VolumeListed(listing, name string) bool {
	sc := bufio.NewScanner(strings.NewReader(listing))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 || fields[0] == "Name" || strings.HasPrefix(fields[0], "---") {
			continue
		}
		if fields[0] == name {
			return true
		}
	}
	return false
}

// VolumeCreateAs creates an empty volume.
func (c *Client) VolumeCreateAs(ctx context.Context, pool, name, capacity, format string) error {
	args := []string{"vol-create-as", "--pool", pool, "--name", name, "--capacity", capacity}
	if format != "" {
		args = append(args, "--format", format)
	}
	if _, err := c.run(ctx, args...); err != nil {
		return fmt.Errorf("failed to create volume %s: %w", name, err)
	}
	return nil
}

// VolumeUpload copies a local file into a volume.
func (c *Client) VolumeUpload(ctx context.Context, pool, name, file string) error {
	if _, err := c.run(ctx, "vol-upload", "--pool", pool, "--file", file, "--vol", name); err != nil {
		return fmt.Errorf("failed to upload %s to volume %s: %w", file, name, err)
	}
	return nil
}

// VolumeClone clones src into a new volume dst in the same pool.
func (c *Client) VolumeClone(ctx context.Context, pool, src, dst string) error {
	if _, err := c.run(ctx, "vol-clone", "--pool", pool, src, dst); err != nil {
		return fmt.Errorf("failed to clone volume %s to %s: %w", src, dst, err)
	}
	return nil
}

// VolumeResize grows a volume to capacity.
func (c *Client) VolumeResize(ctx context.Context, pool, name, capacity string) error {
	if _, err := c.run(ctx, "vol-resize", "--pool", pool, name, capacity); err != nil {
		return fmt.Errorf("failed to resize volume %s: %w", name, err)
	}
	return nil
}

// VolumeDelete removes a volume.
func (c *Client) VolumeDelete(ctx context.Context, pool, name string) error {
	if _, err := c.run(ctx, "vol-delete", "--pool", pool, name); err != nil {
		return fmt.Errorf("failed to delete volume %s: %w", name, err)
	}
	return nil
}

// VolumeInfo returns `virsh vol-info` output.
func (c *Client) VolumeInfo(ctx context.Context, pool, name string) (string, error) {
	return c.run(ctx, "vol-info", "--pool", pool, name)
}

// PoolRefresh rescans a pool after out-of-band volume changes.
func (c *Client) PoolRefresh(ctx context.Context, pool string) {
	c.tolerant(ctx, "pool-refresh", pool)
}
