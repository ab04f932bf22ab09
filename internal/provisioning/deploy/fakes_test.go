package deploy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/imamik/vmaas/internal/config"
	"github.com/imamik/vmaas/internal/platform/maas"
	"github.com/imamik/vmaas/internal/platform/s3"
	"github.com/imamik/vmaas/internal/provisioning"
	"github.com/imamik/vmaas/internal/util/shell"
	"github.com/imamik/vmaas/internal/util/shell/shelltest"
)

// recorder is an Observer that keeps everything it is told.
type recorder struct {
	mu       sync.Mutex
	lines    []string
	events   []provisioning.Event
	progress map[string][2]int
}

func newRecorder() *recorder {
	return &recorder{progress: map[string][2]int{}}
}

func (r *recorder) Printf(format string, v ...interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, fmt.Sprintf(format, v...))
}

func (r *recorder) Event(e provisioning.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) Progress(phase string, current, total int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress[phase] = [2]int{current, total}
}

func (r *recorder) WithFields(map[string]string) provisioning.Observer {
	return r
}

func (r *recorder) eventsOf(t provisioning.EventType) []provisioning.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []provisioning.Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// fakeRemote is a controller session backed by a scripted runner.
type fakeRemote struct {
	*shelltest.Runner

	mu      sync.Mutex
	uploads map[string][]byte
	pings   int
	pingErr []error
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{Runner: shelltest.New(), uploads: map[string][]byte{}}
}

func (f *fakeRemote) Upload(_ context.Context, data []byte, dst string, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads[dst] = append([]byte(nil), data...)
	return nil
}

func (f *fakeRemote) Ping(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pings++
	if len(f.pingErr) > 0 {
		err := f.pingErr[0]
		f.pingErr = f.pingErr[1:]
		return err
	}
	return nil
}

func (f *fakeRemote) uploaded(dst string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.uploads[dst]
	return data, ok
}

var _ Remote = (*fakeRemote)(nil)

// fakeDriver answers the operations the engine uses from in-memory state.
// Operations it does not implement panic through the nil embedded Driver.
type fakeDriver struct {
	maas.Driver

	mu         sync.Mutex
	calls      []string
	config     map[string]string
	rejectKeys map[string]bool

	sources    []map[string]any
	selections []map[string]any
	nodegroups []any
	ifaces     []map[string]any
	nodes      []map[string]any
	tags       []string
	tagged     map[string][]string
	claims     map[string]string

	// nodeStatus is the status new nodes report.
	nodeStatus int
	failClaims bool
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		config:     map[string]string{},
		rejectKeys: map[string]bool{},
		nodegroups: []any{map[string]any{"uuid": "0b4c6a8e-6a4c-4ef2-9b8f-6c4e1cc3d9a1", "name": "maas"}},
		tagged:     map[string][]string{},
		claims:     map[string]string{},
		nodeStatus: maas.StatusReady,
	}
}

func (f *fakeDriver) record(op string) {
	f.calls = append(f.calls, op)
}

func (f *fakeDriver) called(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == op {
			n++
		}
	}
	return n
}

func asList[T any](items []T) []any {
	out := make([]any, len(items))
	for i, item := range items {
		out[i] = item
	}
	return out
}

func (f *fakeDriver) SetConfig(_ context.Context, name, value string) maas.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("set_config")
	if f.rejectKeys[name] {
		return maas.Result{Payload: "invalid config name"}
	}
	f.config[name] = value
	return maas.Result{Ok: true}
}

func (f *fakeDriver) GetBootSources(context.Context) maas.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("get_boot_sources")
	return maas.Result{Ok: true, Payload: asList(f.sources)}
}

func (f *fakeDriver) CreateBootSource(_ context.Context, url, keyring string) maas.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("create_boot_source")
	f.sources = append(f.sources, map[string]any{
		"id":               fmt.Sprint(len(f.sources) + 10),
		"url":              url,
		"keyring_filename": keyring,
	})
	return maas.Result{Ok: true}
}

func (f *fakeDriver) DeleteBootSource(_ context.Context, id string) maas.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("delete_boot_source")
	for i, s := range f.sources {
		if s["id"] == id {
			f.sources = append(f.sources[:i], f.sources[i+1:]...)
			break
		}
	}
	return maas.Result{Ok: true}
}

func (f *fakeDriver) GetBootSourceSelections(context.Context, string) maas.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("get_boot_source_selections")
	return maas.Result{Ok: true, Payload: asList(f.selections)}
}

func (f *fakeDriver) CreateBootSourceSelection(_ context.Context, _ string, sel maas.Params) maas.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("create_boot_source_selection")
	f.selections = append(f.selections, map[string]any(sel))
	return maas.Result{Ok: true}
}

func (f *fakeDriver) ImportBootImages(context.Context) maas.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("import_boot_images")
	return maas.Result{Ok: true}
}

func (f *fakeDriver) GetNodegroups(context.Context) maas.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("get_nodegroups")
	return maas.Result{Ok: true, Payload: f.nodegroups}
}

func (f *fakeDriver) UpdateNodegroup(context.Context, string, maas.Params) maas.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("update_nodegroup")
	return maas.Result{Ok: true}
}

func (f *fakeDriver) GetNodegroupInterfaces(context.Context, string) maas.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("get_nodegroup_interfaces")
	return maas.Result{Ok: true, Payload: asList(f.ifaces)}
}

func (f *fakeDriver) CreateNodegroupInterface(_ context.Context, _ string, iface maas.Params) maas.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("create_nodegroup_interface")
	f.ifaces = append(f.ifaces, map[string]any(iface))
	return maas.Result{Ok: true}
}

func (f *fakeDriver) UpdateNodegroupInterface(context.Context, string, string, maas.Params) maas.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("update_nodegroup_interface")
	return maas.Result{Ok: true}
}

func (f *fakeDriver) GetNodes(context.Context) maas.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("get_nodes")
	return maas.Result{Ok: true, Payload: asList(f.nodes)}
}

func (f *fakeDriver) CreateNode(_ context.Context, node maas.Params) maas.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("create_node")
	raw := map[string]any{
		"hostname":     fmt.Sprint(node["hostname"]) + ".maas",
		"system_id":    "node-" + fmt.Sprint(node["hostname"]),
		"status":       float64(f.nodeStatus),
		"power_type":   node["power_type"],
		"power_params": node["power_parameters"],
	}
	f.nodes = append(f.nodes, raw)
	return maas.Result{Ok: true, Payload: raw}
}

func (f *fakeDriver) ClaimStickyIPAddress(_ context.Context, systemID, addr, mac string) maas.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("claim_sticky_ip_address")
	if f.failClaims {
		return maas.Result{Payload: "address in use"}
	}
	f.claims[systemID] = addr + "/" + mac
	return maas.Result{Ok: true}
}

func (f *fakeDriver) GetTags(context.Context) maas.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("get_tags")
	var out []any
	for _, t := range f.tags {
		out = append(out, map[string]any{"name": t})
	}
	return maas.Result{Ok: true, Payload: out}
}

func (f *fakeDriver) CreateTag(_ context.Context, tag maas.Params) maas.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("create_tag")
	f.tags = append(f.tags, fmt.Sprint(tag["name"]))
	return maas.Result{Ok: true}
}

func (f *fakeDriver) AddTagNodes(_ context.Context, tag string, ids ...string) maas.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("add_tag_nodes")
	f.tagged[tag] = append(f.tagged[tag], ids...)
	return maas.Result{Ok: true}
}

// fakeImport completes immediately.
type fakeImport struct {
	loggedIn bool
	status   maas.ImportStatus
	err      error
}

func (f *fakeImport) Login(context.Context) error {
	f.loggedIn = true
	return nil
}

func (f *fakeImport) WaitForImport(_ context.Context, opts maas.WaitOptions) (maas.ImportStatus, error) {
	if opts.OnProgress != nil {
		opts.OnProgress(f.status)
	}
	return f.status, f.err
}

// fakePublisher keeps published files per target.
type fakePublisher struct {
	files map[string]map[string][]byte
}

func (f *fakePublisher) Publish(_ context.Context, target, controller string, files map[string][]byte) (*s3.Manifest, error) {
	if f.files == nil {
		f.files = map[string]map[string][]byte{}
	}
	f.files[target] = files
	return &s3.Manifest{Target: target, Controller: controller}, nil
}

const (
	poolListing = ` Name      State    Autostart
-------------------------------
 default   active   yes
`
	emptyListing = ` Id   Name   State
--------------------
`
)

func listing(names ...string) string {
	out := emptyListing
	for _, n := range names {
		out += fmt.Sprintf(" -    %s   shut off\n", n)
	}
	return out
}

func domainXML(macs ...string) string {
	out := "<domain type='kvm'><devices>"
	for _, m := range macs {
		out += fmt.Sprintf("<interface type='network'><mac address='%s'/></interface>", m)
	}
	return out + "</devices></domain>"
}

// testEnv returns a valid target with defaults applied.
func testEnv() *config.Environment {
	env := &config.Environment{
		Name: "demo",
		MAAS: config.MAAS{
			VM:            config.VM{Name: "maas", Interfaces: []string{"network=default"}},
			NetworkConfig: "auto eth0\niface eth0 inet dhcp\n",
			IPAddress:     "192.168.122.2",
			APIKey:        "consumer:token:secret",
			Transport:     maas.ModeAPI,
		},
		Bootstrap: config.VM{Name: "juju-bootstrap", Interfaces: []string{"network=default"}},
	}
	env.ApplyDefaults()
	return env
}

func testTimeouts() *config.Timeouts {
	return &config.Timeouts{
		VMReady:           time.Second,
		CloudInit:         time.Second,
		ImageImport:       time.Second,
		Commissioning:     time.Second,
		RetryMaxAttempts:  2,
		RetryInitialDelay: time.Millisecond,
	}
}

// writeIdentity places a key pair where the engine looks for it so no key
// is generated.
func writeIdentity(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "id_maas")
	require.NoError(t, os.WriteFile(path, []byte("private"), 0o600))
	require.NoError(t, os.WriteFile(path+".pub", []byte("ssh-rsa AAAAB3NzaC1yc2E test\n"), 0o644))
	return path
}

// harness wires an engine to fakes and exposes them.
type harness struct {
	engine   *Engine
	runner   *shelltest.Runner
	remote   *fakeRemote
	driver   *fakeDriver
	importer *fakeImport
	observer *recorder
}

func newHarness(t *testing.T, env *config.Environment) *harness {
	t.Helper()
	h := &harness{
		runner:   shelltest.New().On("virsh -c qemu:///system pool-list", shelltest.Reply{Stdout: poolListing}),
		remote:   newFakeRemote(),
		driver:   newFakeDriver(),
		importer: &fakeImport{status: maas.ImportStatus{Resources: []maas.ResourceStatus{{Status: "Synced", Complete: true}}}},
		observer: newRecorder(),
	}
	engine, err := New(env, Options{
		Runner:       h.runner,
		Observer:     h.observer,
		Timeouts:     testTimeouts(),
		IdentityFile: writeIdentity(t),
		UserFilesDir: t.TempDir(),
		Dial: func(context.Context, string, string, []byte) (Remote, error) {
			return h.remote, nil
		},
		NewDriver: func(context.Context, maas.DriverConfig) (maas.Driver, error) {
			return h.driver, nil
		},
		NewImportChecker: func(string, string, string) (ImportWaiter, error) {
			return h.importer, nil
		},
	})
	require.NoError(t, err)
	engine.delays = delays{
		nodegroupRequery: time.Millisecond,
		masterSettle:     time.Millisecond,
		importStart:      time.Millisecond,
		importComplete:   time.Millisecond,
		commissioning:    time.Millisecond,
	}
	h.engine = engine
	return h
}

// phaseContext returns a provisioning context for running single phases against
// a connected controller.
func (h *harness) phaseContext(env *config.Environment) *provisioning.Context {
	h.engine.remote = h.remote
	return &provisioning.Context{
		Context:  context.Background(),
		Env:      env,
		State:    provisioning.NewState(),
		Observer: h.observer,
		Timeouts: testTimeouts(),
	}
}

// connected is phaseContext with a client and controller address in place.
func (h *harness) connected(env *config.Environment) *provisioning.Context {
	ctx := h.phaseContext(env)
	ctx.State.ControllerIP = env.MAAS.IPAddress
	ctx.State.APIKey = env.MAAS.APIKey
	ctx.State.Client = maas.NewClient(h.driver)
	return ctx
}

var _ shell.Runner = (*fakeRemote)(nil)
