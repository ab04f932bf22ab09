package maas

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/imamik/vmaas/internal/metrics"
	"github.com/imamik/vmaas/internal/util/shell"
)

// Driver is the operation set every transport implements. Variants differ
// only in encoding; a failed call is reported through Result, never as an
// error.
type Driver interface {
	GetConfig(ctx context.Context, name string) Result
	SetConfig(ctx context.Context, name, value string) Result

	GetBootSources(ctx context.Context) Result
	CreateBootSource(ctx context.Context, url, keyringFilename string) Result
	DeleteBootSource(ctx context.Context, id string) Result
	GetBootSourceSelections(ctx context.Context, sourceID string) Result
	CreateBootSourceSelection(ctx context.Context, sourceID string, sel Params) Result

	ImportBootImages(ctx context.Context) Result
	GetBootImages(ctx context.Context, nodegroupUUID string) Result

	GetNodegroups(ctx context.Context) Result
	UpdateNodegroup(ctx context.Context, uuid string, settings Params) Result
	GetNodegroupInterfaces(ctx context.Context, uuid string) Result
	CreateNodegroupInterface(ctx context.Context, uuid string, iface Params) Result
	UpdateNodegroupInterface(ctx context.Context, uuid, name string, iface Params) Result

	GetNodes(ctx context.Context) Result
	CreateNode(ctx context.Context, node Params) Result
	UpdateNode(ctx context.Context, systemID string, params Params) Result
	DeleteNode(ctx context.Context, systemID string) Result
	ClaimStickyIPAddress(ctx context.Context, systemID, requestedAddress, macAddress string) Result

	GetTags(ctx context.Context) Result
	CreateTag(ctx context.Context, tag Params) Result
	DeleteTag(ctx context.Context, name string) Result
	AddTagNodes(ctx context.Context, tag string, systemIDs ...string) Result
	RemoveTagNodes(ctx context.Context, tag string, systemIDs ...string) Result
	GetTagNodes(ctx context.Context, tag string) Result
}

// Transport modes accepted by NewDriver.
const (
	ModeAPI = "api"
	ModeCLI = "cli"
	ModeSSH = "ssh"
)

// DefaultProfile is the CLI profile name the drivers log in with.
const DefaultProfile = "maas"

// DriverConfig selects and configures a transport.
type DriverConfig struct {
	Mode   string
	URL    string
	APIKey string

	// Profile is the maas CLI profile. Empty means DefaultProfile.
	Profile string

	// Runner executes CLI commands. For ModeSSH it must run them on the
	// controller; for ModeCLI nil means the local host.
	Runner shell.Runner

	// HTTPClient is used by ModeAPI. Nil means a client with
	// DefaultHTTPTimeout.
	HTTPClient *http.Client
}

// NewDriver builds the driver for cfg.Mode. This is the only place that
// decides which transport is used. ModeSSH performs the CLI login, so a
// controller that is not ready fails here.
func NewDriver(ctx context.Context, cfg DriverConfig) (Driver, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("controller URL cannot be empty")
	}
	switch cfg.Mode {
	case ModeAPI:
		return NewAPIDriver(cfg.URL, cfg.APIKey, cfg.HTTPClient)
	case ModeSSH:
		if cfg.Runner == nil {
			return nil, fmt.Errorf("ssh transport requires a remote runner")
		}
		return NewSSHDriver(ctx, cfg.Runner, cfg.Profile, cfg.URL, cfg.APIKey)
	case ModeCLI, "":
		runner := cfg.Runner
		if runner == nil {
			runner = shell.Local{}
		}
		return NewCLIDriver(runner, cfg.Profile, cfg.URL, cfg.APIKey), nil
	default:
		return nil, fmt.Errorf("unknown transport mode %q (expected %s, %s or %s)", cfg.Mode, ModeAPI, ModeCLI, ModeSSH)
	}
}

// APIURL appends the API version path unless url already names one.
func APIURL(url string) string {
	if strings.Contains(url, "/api/") {
		return url
	}
	return strings.TrimRight(url, "/") + "/api/1.0"
}

func record(driver, op string, r Result) Result {
	metrics.RecordDriverCall(driver, op, r.Ok)
	return r
}
