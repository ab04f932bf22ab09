package maas

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/imamik/vmaas/internal/logging"
)

// DefaultHTTPTimeout bounds a single API request.
const DefaultHTTPTimeout = 60 * time.Second

// responseLogLimit bounds how much of a response body ends up in debug logs.
const responseLogLimit = 256

// APIDriver talks to the region controller's REST API with OAuth 1.0
// PLAINTEXT signing.
type APIDriver struct {
	base   string
	http   *http.Client
	apiKey apiKey
}

type apiKey struct {
	consumer, token, secret string
}

var _ Driver = (*APIDriver)(nil)

// NewAPIDriver returns a driver for the API under rawURL. key has the form
// consumer:token:secret; an empty key sends anonymous requests.
func NewAPIDriver(rawURL, key string, client *http.Client) (*APIDriver, error) {
	d := &APIDriver{base: strings.TrimRight(APIURL(rawURL), "/"), http: client}
	if d.http == nil {
		d.http = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	if key != "" {
		parts := strings.Split(strings.TrimSpace(key), ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("API key must have the form consumer:token:secret")
		}
		d.apiKey = apiKey{consumer: parts[0], token: parts[1], secret: parts[2]}
	}
	return d, nil
}

func (d *APIDriver) authorization() string {
	if d.apiKey.consumer == "" {
		return ""
	}
	fields := []string{
		`realm=""`,
		`oauth_version="1.0"`,
		`oauth_signature_method="PLAINTEXT"`,
		`oauth_consumer_key="` + url.QueryEscape(d.apiKey.consumer) + `"`,
		`oauth_token="` + url.QueryEscape(d.apiKey.token) + `"`,
		`oauth_signature="` + url.QueryEscape("&"+d.apiKey.secret) + `"`,
		`oauth_nonce="` + uuid.NewString() + `"`,
		`oauth_timestamp="` + strconv.FormatInt(time.Now().Unix(), 10) + `"`,
	}
	return "OAuth " + strings.Join(fields, ", ")
}

// do issues one request. Query parameters always carry op; form values are
// sent url-encoded in the body for POST and PUT.
func (d *APIDriver) do(ctx context.Context, method, path, op string, params Params) Result {
	log := logging.FromContext(ctx)

	query := url.Values{}
	var body io.Reader
	form := url.Values(params.Flatten())
	if op != "" {
		query.Set("op", op)
	}
	if method == http.MethodGet || method == http.MethodDelete {
		for k, vs := range form {
			for _, v := range vs {
				query.Add(k, v)
			}
		}
	} else {
		body = strings.NewReader(form.Encode())
	}

	target := d.base + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		log.Error(err, "failed to build request", "path", path)
		return failed(nil)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.Header.Set("Accept", "application/json")
	if auth := d.authorization(); auth != "" {
		req.Header.Set("Authorization", auth)
	}

	resp, err := d.http.Do(req)
	if err != nil {
		log.Error(err, "request failed", "method", method, "path", path, "op", op)
		return failed(nil)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Error(err, "failed to read response", "path", path)
		return failed(nil)
	}
	log.V(logging.Debug).Info("api response", "method", method, "path", path, "op", op,
		"status", resp.StatusCode, "body", truncate(string(raw), responseLogLimit))

	switch {
	case resp.StatusCode == http.StatusOK:
	case method == http.MethodDelete && resp.StatusCode == http.StatusNoContent:
		return ok(nil)
	default:
		return failed(string(raw))
	}

	if method == http.MethodPut || method == http.MethodDelete {
		return ok(decodePayload(raw))
	}
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		log.Error(err, "malformed response", "path", path, "op", op)
		return failed(string(raw))
	}
	return ok(payload)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func (d *APIDriver) call(ctx context.Context, name, method, path, op string, params Params) Result {
	return record("api", name, d.do(ctx, method, path, op, params))
}

func (d *APIDriver) GetConfig(ctx context.Context, name string) Result {
	return d.call(ctx, "get_config", http.MethodGet, "/maas/", "get_config", Params{"name": name})
}

func (d *APIDriver) SetConfig(ctx context.Context, name, value string) Result {
	return d.call(ctx, "set_config", http.MethodPost, "/maas/", "set_config", Params{"name": name, "value": value})
}

func (d *APIDriver) GetBootSources(ctx context.Context) Result {
	return d.call(ctx, "get_boot_sources", http.MethodGet, "/boot-sources/", "", nil)
}

func (d *APIDriver) CreateBootSource(ctx context.Context, sourceURL, keyringFilename string) Result {
	p := Params{"url": sourceURL}
	if keyringFilename != "" {
		p["keyring_filename"] = keyringFilename
	}
	return d.call(ctx, "create_boot_source", http.MethodPost, "/boot-sources/", "", p)
}

func (d *APIDriver) DeleteBootSource(ctx context.Context, id string) Result {
	return d.call(ctx, "delete_boot_source", http.MethodDelete, "/boot-sources/"+url.PathEscape(id)+"/", "", nil)
}

func (d *APIDriver) GetBootSourceSelections(ctx context.Context, sourceID string) Result {
	return d.call(ctx, "get_boot_source_selections", http.MethodGet,
		"/boot-sources/"+url.PathEscape(sourceID)+"/selections/", "", nil)
}

func (d *APIDriver) CreateBootSourceSelection(ctx context.Context, sourceID string, sel Params) Result {
	return d.call(ctx, "create_boot_source_selection", http.MethodPost,
		"/boot-sources/"+url.PathEscape(sourceID)+"/selections/", "", sel)
}

func (d *APIDriver) ImportBootImages(ctx context.Context) Result {
	return d.call(ctx, "import_boot_images", http.MethodPost, "/nodegroups/", "import_boot_images", nil)
}

func (d *APIDriver) GetBootImages(ctx context.Context, nodegroupUUID string) Result {
	return d.call(ctx, "get_boot_images", http.MethodGet,
		"/nodegroups/"+url.PathEscape(nodegroupUUID)+"/boot-images/", "list", nil)
}

func (d *APIDriver) GetNodegroups(ctx context.Context) Result {
	return d.call(ctx, "get_nodegroups", http.MethodGet, "/nodegroups/", "list", nil)
}

func (d *APIDriver) UpdateNodegroup(ctx context.Context, id string, settings Params) Result {
	return d.call(ctx, "update_nodegroup", http.MethodPut, "/nodegroups/"+url.PathEscape(id)+"/", "", settings)
}

func (d *APIDriver) GetNodegroupInterfaces(ctx context.Context, id string) Result {
	return d.call(ctx, "get_nodegroup_interfaces", http.MethodGet,
		"/nodegroups/"+url.PathEscape(id)+"/interfaces/", "list", nil)
}

func (d *APIDriver) CreateNodegroupInterface(ctx context.Context, id string, iface Params) Result {
	return d.call(ctx, "create_nodegroup_interface", http.MethodPost,
		"/nodegroups/"+url.PathEscape(id)+"/interfaces/", "new", iface)
}

func (d *APIDriver) UpdateNodegroupInterface(ctx context.Context, id, name string, iface Params) Result {
	return d.call(ctx, "update_nodegroup_interface", http.MethodPut,
		"/nodegroups/"+url.PathEscape(id)+"/interfaces/"+url.PathEscape(name)+"/", "", iface)
}

func (d *APIDriver) GetNodes(ctx context.Context) Result {
	return d.call(ctx, "get_nodes", http.MethodGet, "/nodes/", "list", nil)
}

func (d *APIDriver) CreateNode(ctx context.Context, node Params) Result {
	p := node.without("sticky_ip_address")
	p["autodetect_nodegroup"] = "yes"
	return d.call(ctx, "create_node", http.MethodPost, "/nodes/", "new", p)
}

func (d *APIDriver) UpdateNode(ctx context.Context, systemID string, params Params) Result {
	return d.call(ctx, "update_node", http.MethodPut, "/nodes/"+url.PathEscape(systemID)+"/", "", params)
}

func (d *APIDriver) DeleteNode(ctx context.Context, systemID string) Result {
	return d.call(ctx, "delete_node", http.MethodDelete, "/nodes/"+url.PathEscape(systemID)+"/", "", nil)
}

func (d *APIDriver) ClaimStickyIPAddress(ctx context.Context, systemID, requestedAddress, macAddress string) Result {
	return d.call(ctx, "claim_sticky_ip_address", http.MethodPost,
		"/nodes/"+url.PathEscape(systemID)+"/", "claim_sticky_ip_address",
		Params{"mac_address": macAddress, "requested_address": requestedAddress})
}

func (d *APIDriver) GetTags(ctx context.Context) Result {
	return d.call(ctx, "get_tags", http.MethodGet, "/tags/", "list", nil)
}

func (d *APIDriver) CreateTag(ctx context.Context, tag Params) Result {
	return d.call(ctx, "create_tag", http.MethodPost, "/tags/", "new", tag)
}

func (d *APIDriver) DeleteTag(ctx context.Context, name string) Result {
	return d.call(ctx, "delete_tag", http.MethodDelete, "/tags/"+url.PathEscape(name)+"/", "", nil)
}

func (d *APIDriver) AddTagNodes(ctx context.Context, tag string, systemIDs ...string) Result {
	return d.call(ctx, "add_tag_nodes", http.MethodPost, "/tags/"+url.PathEscape(tag)+"/", "update_nodes",
		Params{"add": systemIDs})
}

func (d *APIDriver) RemoveTagNodes(ctx context.Context, tag string, systemIDs ...string) Result {
	return d.call(ctx, "remove_tag_nodes", http.MethodPost, "/tags/"+url.PathEscape(tag)+"/", "update_nodes",
		Params{"remove": systemIDs})
}

func (d *APIDriver) GetTagNodes(ctx context.Context, tag string) Result {
	return d.call(ctx, "get_tag_nodes", http.MethodGet, "/tags/"+url.PathEscape(tag)+"/", "nodes", nil)
}
