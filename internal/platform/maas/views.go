package maas

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Node status codes reported by the controller.
const (
	StatusNew           = 0
	StatusCommissioning = 1
	StatusFailedTests   = 2
	StatusMissing       = 3
	StatusReady         = 4
)

// fields is the raw object behind every view.
type fields map[string]any

func (f fields) str(key string) string {
	switch v := f[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

func (f fields) num(key string) int {
	switch v := f[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	case string:
		n, _ := strconv.Atoi(v)
		return n
	default:
		return 0
	}
}

func (f fields) boolean(key string) bool {
	switch v := f[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	default:
		return false
	}
}

func (f fields) strs(key string) []string {
	items, _ := f[key].([]any)
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item != nil {
			out = append(out, fmt.Sprint(item))
		}
	}
	return out
}

// Node is a read-only view of a node record.
type Node struct{ f fields }

// NewNode wraps a raw node object.
func NewNode(raw map[string]any) Node { return Node{f: raw} }

func (n Node) Raw() map[string]any   { return n.f }
func (n Node) Status() int           { return n.f.num("status") }
func (n Node) CPUCount() int         { return n.f.num("cpu_count") }
func (n Node) Routers() []string     { return n.f.strs("routers") }
func (n Node) Netboot() bool         { return n.f.boolean("netboot") }
func (n Node) OSystem() string       { return n.f.str("osystem") }
func (n Node) Storage() int          { return n.f.num("storage") }
func (n Node) Substatus() int        { return n.f.num("substatus") }
func (n Node) Hostname() string      { return n.f.str("hostname") }
func (n Node) Owner() string         { return n.f.str("owner") }
func (n Node) IPAddresses() []string { return n.f.strs("ip_addresses") }
func (n Node) SystemID() string      { return n.f.str("system_id") }
func (n Node) Architecture() string  { return n.f.str("architecture") }
func (n Node) PowerState() string    { return n.f.str("power_state") }
func (n Node) Memory() int           { return n.f.num("memory") }
func (n Node) PowerType() string     { return n.f.str("power_type") }
func (n Node) TagNames() []string    { return n.f.strs("tag_names") }
func (n Node) DisableIPv4() bool     { return n.f.boolean("disable_ipv4") }
func (n Node) DistroSeries() string  { return n.f.str("distro_series") }
func (n Node) ResourceURI() string   { return n.f.str("resource_uri") }

// Zone returns the zone name. The controller reports zones as objects.
func (n Node) Zone() string {
	if z, isMap := n.f["zone"].(map[string]any); isMap {
		return fields(z).str("name")
	}
	return n.f.str("zone")
}

// MACAddressSet returns the node's MAC addresses.
func (n Node) MACAddressSet() []string {
	items, _ := n.f["mac_address_set"].([]any)
	out := make([]string, 0, len(items))
	for _, item := range items {
		switch v := item.(type) {
		case map[string]any:
			out = append(out, fields(v).str("mac_address"))
		case string:
			out = append(out, v)
		}
	}
	return out
}

// Nodegroup is a read-only view of a cluster controller record.
type Nodegroup struct{ f fields }

// NewNodegroup wraps a raw node group object.
func NewNodegroup(raw map[string]any) Nodegroup { return Nodegroup{f: raw} }

func (g Nodegroup) Raw() map[string]any { return g.f }
func (g Nodegroup) Name() string        { return g.f.str("name") }
func (g Nodegroup) ClusterName() string { return g.f.str("cluster_name") }
func (g Nodegroup) Status() int         { return g.f.num("status") }
func (g Nodegroup) UUID() string        { return g.f.str("uuid") }

// NodegroupInterface is a read-only view of a managed network interface.
type NodegroupInterface struct{ f fields }

// NewNodegroupInterface wraps a raw interface object.
func NewNodegroupInterface(raw map[string]any) NodegroupInterface {
	return NodegroupInterface{f: raw}
}

func (i NodegroupInterface) Raw() map[string]any       { return i.f }
func (i NodegroupInterface) Name() string              { return i.f.str("name") }
func (i NodegroupInterface) IPRangeHigh() string       { return i.f.str("ip_range_high") }
func (i NodegroupInterface) IPRangeLow() string        { return i.f.str("ip_range_low") }
func (i NodegroupInterface) StaticIPRangeHigh() string { return i.f.str("static_ip_range_high") }
func (i NodegroupInterface) StaticIPRangeLow() string  { return i.f.str("static_ip_range_low") }
func (i NodegroupInterface) IP() string                { return i.f.str("ip") }
func (i NodegroupInterface) SubnetMask() string        { return i.f.str("subnet_mask") }
func (i NodegroupInterface) Management() string        { return i.f.str("management") }
func (i NodegroupInterface) Interface() string         { return i.f.str("interface") }
func (i NodegroupInterface) RouterIP() string          { return i.f.str("router_ip") }

// Tag is a read-only view of a tag record.
type Tag struct{ f fields }

// NewTag wraps a raw tag object.
func NewTag(raw map[string]any) Tag { return Tag{f: raw} }

func (t Tag) Raw() map[string]any { return t.f }
func (t Tag) Name() string        { return t.f.str("name") }
func (t Tag) Comment() string     { return t.f.str("comment") }
func (t Tag) Definition() string  { return t.f.str("definition") }
func (t Tag) KernelOpts() string  { return t.f.str("kernel_opts") }

// BootSource is a read-only view of an image source.
type BootSource struct{ f fields }

// NewBootSource wraps a raw boot source object.
func NewBootSource(raw map[string]any) BootSource { return BootSource{f: raw} }

func (s BootSource) ID() string              { return s.f.str("id") }
func (s BootSource) URL() string             { return s.f.str("url") }
func (s BootSource) KeyringFilename() string { return s.f.str("keyring_filename") }

// BootSourceSelection is a read-only view of a release filter on a source.
type BootSourceSelection struct{ f fields }

// NewBootSourceSelection wraps a raw selection object.
func NewBootSourceSelection(raw map[string]any) BootSourceSelection {
	return BootSourceSelection{f: raw}
}

func (s BootSourceSelection) ID() string          { return s.f.str("id") }
func (s BootSourceSelection) Release() string     { return s.f.str("release") }
func (s BootSourceSelection) OS() string          { return s.f.str("os") }
func (s BootSourceSelection) Arches() []string    { return s.f.strs("arches") }
func (s BootSourceSelection) Subarches() []string { return s.f.strs("subarches") }
func (s BootSourceSelection) Labels() []string    { return s.f.strs("labels") }
