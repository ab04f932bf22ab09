package maas

import (
	"context"
	"strings"

	"github.com/imamik/vmaas/internal/deployerr"
)

// Client is a typed façade over a Driver. Getters turn payloads into views;
// a failed driver call comes back as a *deployerr.ClientError so callers
// choose whether to tolerate it.
type Client struct {
	driver Driver
}

// NewClient wraps driver.
func NewClient(driver Driver) *Client {
	return &Client{driver: driver}
}

// Driver returns the underlying transport.
func (c *Client) Driver() Driver {
	return c.driver
}

func check(op string, r Result) error {
	if r.Ok {
		return nil
	}
	return &deployerr.ClientError{Op: op, Payload: r.Payload}
}

func (c *Client) GetConfig(ctx context.Context, name string) (any, error) {
	r := c.driver.GetConfig(ctx, name)
	if err := check("get_config "+name, r); err != nil {
		return nil, err
	}
	return r.Payload, nil
}

func (c *Client) SetConfig(ctx context.Context, name, value string) error {
	return check("set_config "+name, c.driver.SetConfig(ctx, name, value))
}

func (c *Client) GetBootSources(ctx context.Context) ([]BootSource, error) {
	r := c.driver.GetBootSources(ctx)
	if err := check("get_boot_sources", r); err != nil {
		return nil, err
	}
	var out []BootSource
	for _, m := range r.List() {
		out = append(out, NewBootSource(m))
	}
	return out, nil
}

func (c *Client) CreateBootSource(ctx context.Context, url, keyringFilename string) error {
	return check("create_boot_source "+url, c.driver.CreateBootSource(ctx, url, keyringFilename))
}

func (c *Client) DeleteBootSource(ctx context.Context, id string) error {
	return check("delete_boot_source "+id, c.driver.DeleteBootSource(ctx, id))
}

func (c *Client) GetBootSourceSelections(ctx context.Context, sourceID string) ([]BootSourceSelection, error) {
	r := c.driver.GetBootSourceSelections(ctx, sourceID)
	if err := check("get_boot_source_selections", r); err != nil {
		return nil, err
	}
	var out []BootSourceSelection
	for _, m := range r.List() {
		out = append(out, NewBootSourceSelection(m))
	}
	return out, nil
}

// Selection is the filter created on a boot source. Every field is
// required by the controller.
type Selection struct {
	Release   string
	OS        string
	Arches    []string
	Subarches []string
	Labels    []string
}

func (c *Client) CreateBootSourceSelection(ctx context.Context, sourceID string, sel Selection) error {
	return check("create_boot_source_selection", c.driver.CreateBootSourceSelection(ctx, sourceID, Params{
		"release":   sel.Release,
		"os":        sel.OS,
		"arches":    sel.Arches,
		"subarches": sel.Subarches,
		"labels":    sel.Labels,
	}))
}

func (c *Client) ImportBootImages(ctx context.Context) error {
	return check("import_boot_images", c.driver.ImportBootImages(ctx))
}

// GetBootImages returns the raw image records of a node group.
func (c *Client) GetBootImages(ctx context.Context, nodegroupUUID string) ([]map[string]any, error) {
	r := c.driver.GetBootImages(ctx, nodegroupUUID)
	if err := check("get_boot_images", r); err != nil {
		return nil, err
	}
	return r.List(), nil
}

func (c *Client) GetNodegroups(ctx context.Context) ([]Nodegroup, error) {
	r := c.driver.GetNodegroups(ctx)
	if err := check("get_nodegroups", r); err != nil {
		return nil, err
	}
	var out []Nodegroup
	for _, m := range r.List() {
		out = append(out, NewNodegroup(m))
	}
	return out, nil
}

func (c *Client) UpdateNodegroup(ctx context.Context, uuid string, settings Params) error {
	return check("update_nodegroup "+uuid, c.driver.UpdateNodegroup(ctx, uuid, settings))
}

func (c *Client) GetNodegroupInterfaces(ctx context.Context, uuid string) ([]NodegroupInterface, error) {
	r := c.driver.GetNodegroupInterfaces(ctx, uuid)
	if err := check("get_nodegroup_interfaces", r); err != nil {
		return nil, err
	}
	var out []NodegroupInterface
	for _, m := range r.List() {
		out = append(out, NewNodegroupInterface(m))
	}
	return out, nil
}

// GetNodegroupInterface returns the interface called name, if present.
func (c *Client) GetNodegroupInterface(ctx context.Context, uuid, name string) (NodegroupInterface, bool, error) {
	ifaces, err := c.GetNodegroupInterfaces(ctx, uuid)
	if err != nil {
		return NodegroupInterface{}, false, err
	}
	for _, iface := range ifaces {
		if iface.Name() == name {
			return iface, true, nil
		}
	}
	return NodegroupInterface{}, false, nil
}

func (c *Client) CreateNodegroupInterface(ctx context.Context, uuid string, iface Params) error {
	return check("create_nodegroup_interface", c.driver.CreateNodegroupInterface(ctx, uuid, iface))
}

func (c *Client) UpdateNodegroupInterface(ctx context.Context, uuid, name string, iface Params) error {
	return check("update_nodegroup_interface "+name, c.driver.UpdateNodegroupInterface(ctx, uuid, name, iface))
}

func (c *Client) GetNodes(ctx context.Context) ([]Node, error) {
	r := c.driver.GetNodes(ctx)
	if err := check("get_nodes", r); err != nil {
		return nil, err
	}
	var out []Node
	for _, m := range r.List() {
		out = append(out, NewNode(m))
	}
	return out, nil
}

// CreateNode registers a node and returns the record the controller
// created.
func (c *Client) CreateNode(ctx context.Context, node Params) (Node, error) {
	r := c.driver.CreateNode(ctx, node)
	if err := check("create_node", r); err != nil {
		return Node{}, err
	}
	return NewNode(r.Map()), nil
}

func (c *Client) UpdateNode(ctx context.Context, systemID string, params Params) error {
	return check("update_node "+systemID, c.driver.UpdateNode(ctx, systemID, params))
}

func (c *Client) DeleteNode(ctx context.Context, systemID string) error {
	return check("delete_node "+systemID, c.driver.DeleteNode(ctx, systemID))
}

func (c *Client) ClaimStickyIPAddress(ctx context.Context, systemID, requestedAddress, macAddress string) error {
	return check("claim_sticky_ip_address "+requestedAddress,
		c.driver.ClaimStickyIPAddress(ctx, systemID, requestedAddress, macAddress))
}

func (c *Client) GetTags(ctx context.Context) ([]Tag, error) {
	r := c.driver.GetTags(ctx)
	if err := check("get_tags", r); err != nil {
		return nil, err
	}
	var out []Tag
	for _, m := range r.List() {
		out = append(out, NewTag(m))
	}
	return out, nil
}

func (c *Client) CreateTag(ctx context.Context, name string) error {
	return check("create_tag "+name, c.driver.CreateTag(ctx, Params{"name": name}))
}

func (c *Client) DeleteTag(ctx context.Context, name string) error {
	return check("delete_tag "+name, c.driver.DeleteTag(ctx, name))
}

func (c *Client) AddTag(ctx context.Context, tag string, systemIDs ...string) error {
	return check("add_tag "+tag, c.driver.AddTagNodes(ctx, tag, systemIDs...))
}

func (c *Client) RemoveTag(ctx context.Context, tag string, systemIDs ...string) error {
	return check("remove_tag "+tag, c.driver.RemoveTagNodes(ctx, tag, systemIDs...))
}

func (c *Client) GetTagNodes(ctx context.Context, tag string) ([]Node, error) {
	r := c.driver.GetTagNodes(ctx, tag)
	if err := check("get_tag_nodes "+tag, r); err != nil {
		return nil, err
	}
	var out []Node
	for _, m := range r.List() {
		out = append(out, NewNode(m))
	}
	return out, nil
}

// FindNode returns the node whose hostname is name or starts with "name."
// (the controller appends the cluster domain).
func FindNode(nodes []Node, name string) (Node, bool) {
	for _, n := range nodes {
		h := n.Hostname()
		if h == name || strings.HasPrefix(h, name+".") {
			return n, true
		}
	}
	return Node{}, false
}
