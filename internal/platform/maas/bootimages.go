package maas

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/imamik/vmaas/internal/logging"
	"github.com/imamik/vmaas/internal/util/poll"
)

// Intervals between image import status queries.
const (
	ImportStartInterval    = 2 * time.Second
	ImportCompleteInterval = 5 * time.Second
)

// ResourceStatus is one boot resource in the images page status.
type ResourceStatus struct {
	Status      string `json:"status"`
	LastUpdate  string `json:"lastUpdate"`
	Downloading bool   `json:"downloading"`
	Complete    bool   `json:"complete"`
	Title       string `json:"title"`
}

// ImportStatus is the images page status snapshot.
type ImportStatus struct {
	ClusterImportRunning bool             `json:"cluster_import_running"`
	RegionImportRunning  bool             `json:"region_import_running"`
	Resources            []ResourceStatus `json:"resources"`
}

// DownloadsStarted reports whether the import has visibly begun: an import
// is running somewhere, a resource is downloading, or every known resource
// is already complete. An empty resource list with nothing running has not
// started.
func (s ImportStatus) DownloadsStarted() bool {
	if s.ClusterImportRunning || s.RegionImportRunning {
		return true
	}
	completed := 0
	for _, r := range s.Resources {
		if r.Downloading {
			return true
		}
		if r.Complete {
			completed++
		}
	}
	return len(s.Resources) > 0 && completed == len(s.Resources)
}

// Complete reports whether the import is finished: nothing running and at
// least one resource known. Zero resources means the controller has not yet
// decided what to import.
func (s ImportStatus) Complete() bool {
	return !s.ClusterImportRunning && !s.RegionImportRunning && len(s.Resources) > 0
}

// Progress describes the first resource, for display.
func (s ImportStatus) Progress() string {
	if len(s.Resources) == 0 {
		return ""
	}
	return s.Resources[0].Status
}

// ImportChecker follows boot image imports through the web UI's status
// endpoint, which unlike the API reports per-resource download progress.
type ImportChecker struct {
	base     string
	username string
	password string
	http     *http.Client

	mu       sync.Mutex
	loggedIn bool
	sequence int
}

// NewImportChecker returns a checker for the controller at host (host or
// host:port).
func NewImportChecker(host, username, password string) (*ImportChecker, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	base := host
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &ImportChecker{
		base:     strings.TrimRight(base, "/"),
		username: username,
		password: password,
		http: &http.Client{
			Jar:     jar,
			Timeout: DefaultHTTPTimeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}, nil
}

// Login fetches a CSRF token and posts the login form. The controller
// answers a successful login with a redirect.
func (c *ImportChecker) Login(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.login(ctx)
}

func (c *ImportChecker) login(ctx context.Context) error {
	loginURL := c.base + "/MAAS/accounts/login/"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, loginURL, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to load login page: %w", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	token := c.cookie(loginURL, "csrftoken")
	if token == "" {
		return fmt.Errorf("login page at %s did not set a csrftoken cookie", loginURL)
	}

	form := url.Values{
		"username":            {c.username},
		"password":            {c.password},
		"next":                {"/MAAS/images/"},
		"csrfmiddlewaretoken": {token},
	}
	req, err = http.NewRequestWithContext(ctx, http.MethodPost, loginURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Referer", loginURL)
	resp, err = c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post login form: %w", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	if resp.StatusCode != http.StatusFound {
		return fmt.Errorf("unexpected login response: %s", resp.Status)
	}
	c.loggedIn = true
	logging.FromContext(ctx).V(logging.Debug).Info("logged in to controller web UI", "url", c.base)
	return nil
}

func (c *ImportChecker) cookie(rawURL, name string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	for _, ck := range c.http.Jar.Cookies(u) {
		if ck.Name == name {
			return ck.Value
		}
	}
	return ""
}

// Status fetches one snapshot, logging in first if needed. Every request
// carries the next sequence number.
func (c *ImportChecker) Status(ctx context.Context) (ImportStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.loggedIn {
		if err := c.login(ctx); err != nil {
			return ImportStatus{}, err
		}
	}
	c.sequence++
	target := fmt.Sprintf("%s/MAAS/images/?sequence=%d", c.base, c.sequence)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return ImportStatus{}, err
	}
	req.Header.Set("X-Requested-With", "XMLHttpRequest")

	resp, err := c.http.Do(req)
	if err != nil {
		return ImportStatus{}, fmt.Errorf("failed to query import status: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return ImportStatus{}, fmt.Errorf("unexpected import status response: %s", resp.Status)
	}
	var st ImportStatus
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return ImportStatus{}, fmt.Errorf("failed to decode import status: %w", err)
	}
	return st, nil
}

// Sequence returns the last sequence number sent.
func (c *ImportChecker) Sequence() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sequence
}

// WaitOptions tune WaitForImport.
type WaitOptions struct {
	StartInterval    time.Duration
	CompleteInterval time.Duration
	// Timeout bounds the whole wait. Zero waits until ctx is done.
	Timeout time.Duration
	// OnProgress observes every snapshot taken while waiting for completion.
	OnProgress func(ImportStatus)
}

// WaitForImport blocks until downloads have started and then until the
// import is complete.
func (c *ImportChecker) WaitForImport(ctx context.Context, opts WaitOptions) (ImportStatus, error) {
	if opts.StartInterval == 0 {
		opts.StartInterval = ImportStartInterval
	}
	if opts.CompleteInterval == 0 {
		opts.CompleteInterval = ImportCompleteInterval
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	log := logging.FromContext(ctx)

	started := poll.Poller[ImportStatus]{
		Name:      "image-import-start",
		Interval:  opts.StartInterval,
		Immediate: true,
		Fetch:     c.Status,
		Done:      ImportStatus.DownloadsStarted,
		OnSnapshot: func(st poll.State[ImportStatus]) {
			if !st.Last.DownloadsStarted() {
				log.V(logging.Debug).Info("waiting for boot image downloads to start", "attempt", st.Attempt)
			}
		},
	}
	if _, err := started.Wait(ctx); err != nil {
		return ImportStatus{}, err
	}

	complete := poll.Poller[ImportStatus]{
		Name:      "image-import",
		Interval:  opts.CompleteInterval,
		Immediate: true,
		Fetch:     c.Status,
		Done:      ImportStatus.Complete,
		OnSnapshot: func(st poll.State[ImportStatus]) {
			if opts.OnProgress != nil {
				opts.OnProgress(st.Last)
			}
		},
	}
	st, err := complete.Wait(ctx)
	return st.Last, err
}
