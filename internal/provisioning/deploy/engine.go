package deploy

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/imamik/vmaas/internal/config"
	"github.com/imamik/vmaas/internal/logging"
	"github.com/imamik/vmaas/internal/platform/maas"
	"github.com/imamik/vmaas/internal/platform/s3"
	"github.com/imamik/vmaas/internal/platform/ssh"
	"github.com/imamik/vmaas/internal/platform/virsh"
	"github.com/imamik/vmaas/internal/provisioning"
	"github.com/imamik/vmaas/internal/provisioning/lifecycle"
	"github.com/imamik/vmaas/internal/util/keygen"
	"github.com/imamik/vmaas/internal/util/shell"
)

// Phase names, in run order.
const (
	PhaseBootstrapVM     = "bootstrap-vm"
	PhaseVirtualNodes    = "virtual-nodes"
	PhaseControllerVM    = "controller-vm"
	PhaseControllerReady = "controller-ready"
	PhaseVirshControl    = "virsh-control"
	PhaseAPIKey          = "api-key"
	PhaseClient          = "client"
	PhaseSettings        = "settings"
	PhaseBootSource      = "boot-source"
	PhaseBootImages      = "boot-images"
	PhaseNodeGroup       = "node-group"
	PhaseNodes           = "nodes"
	PhaseEnvironment     = "environment"
	PhasePreseeds        = "preseeds"
	PhaseStartNodes      = "start-nodes"
	PhaseCommissioning   = "commissioning"
	PhaseStickyIPs       = "sticky-ips"
)

// DefaultIdentity is the key pair used to reach the controller, relative to
// the home directory.
const DefaultIdentity = ".ssh/id_maas"

// Remote is a command session on the controller.
type Remote interface {
	shell.Runner
	Upload(ctx context.Context, data []byte, dst string, sudo bool) error
	Ping(ctx context.Context) error
}

// ImportWaiter follows a boot image import to completion.
type ImportWaiter interface {
	Login(ctx context.Context) error
	WaitForImport(ctx context.Context, opts maas.WaitOptions) (maas.ImportStatus, error)
}

// Publisher stores rendered artifacts off the controller.
type Publisher interface {
	Publish(ctx context.Context, target, controller string, files map[string][]byte) (*s3.Manifest, error)
}

// Options are the engine's collaborators. Zero values select the real
// implementations.
type Options struct {
	Policy lifecycle.Policy

	// Runner executes virsh and virt-install. Nil means shell.Local.
	Runner   shell.Runner
	Observer provisioning.Observer
	Timeouts *config.Timeouts

	// IdentityFile is the controller key pair, generated when missing.
	// Empty means ~/.ssh/id_maas.
	IdentityFile string
	// UserFilesDir holds extra cloud-init parts and preseeds.
	UserFilesDir string
	// CacheDir keeps downloaded cloud images.
	CacheDir   string
	HTTPClient *http.Client

	Dial             func(ctx context.Context, host, user string, privateKey []byte) (Remote, error)
	NewDriver        func(ctx context.Context, cfg maas.DriverConfig) (maas.Driver, error)
	NewImportChecker func(host, user, password string) (ImportWaiter, error)

	// PromptAddress asks for the controller address when the document
	// does not carry one. Nil makes a missing address an error.
	PromptAddress func(ctx context.Context, controller string) (string, error)

	// Publisher receives environments.yaml when the target names an
	// artifacts bucket.
	Publisher Publisher
}

// delays are the fixed pauses between controller queries.
type delays struct {
	nodegroupRequery time.Duration
	masterSettle     time.Duration
	importStart      time.Duration
	importComplete   time.Duration
	commissioning    time.Duration
}

func defaultDelays() delays {
	return delays{
		nodegroupRequery: 2 * time.Second,
		masterSettle:     5 * time.Second,
		importStart:      maas.ImportStartInterval,
		importComplete:   maas.ImportCompleteInterval,
		commissioning:    5 * time.Second,
	}
}

// Engine deploys one target.
type Engine struct {
	env    *config.Environment
	opts   Options
	virsh  *virsh.Client
	delays delays

	identity *keygen.KeyPair
	remote   Remote
}

// New returns an engine for env.
func New(env *config.Environment, opts Options) (*Engine, error) {
	if env == nil {
		return nil, fmt.Errorf("environment cannot be nil")
	}
	if opts.Runner == nil {
		opts.Runner = shell.Local{}
	}
	if opts.Timeouts == nil {
		opts.Timeouts = config.LoadTimeouts()
	}
	if opts.IdentityFile == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve home directory: %w", err)
		}
		opts.IdentityFile = filepath.Join(home, DefaultIdentity)
	}
	if opts.UserFilesDir == "" {
		opts.UserFilesDir = config.UserFilesDir
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.Dial == nil {
		opts.Dial = dialSSH
	}
	if opts.NewDriver == nil {
		opts.NewDriver = maas.NewDriver
	}
	if opts.NewImportChecker == nil {
		opts.NewImportChecker = func(host, user, password string) (ImportWaiter, error) {
			checker, err := maas.NewImportChecker(host, user, password)
			if err != nil {
				return nil, err
			}
			return checker, nil
		}
	}
	return &Engine{
		env:    env,
		opts:   opts,
		virsh:  virsh.New(opts.Runner, env.VirshURI),
		delays: defaultDelays(),
	}, nil
}

func dialSSH(_ context.Context, host, user string, privateKey []byte) (Remote, error) {
	client, err := ssh.NewClient(&ssh.Config{Host: host, User: user, PrivateKey: privateKey})
	if err != nil {
		return nil, err
	}
	return client, nil
}

func (e *Engine) phase(name string, fn func(ctx *provisioning.Context) error) provisioning.Phase {
	return provisioning.PhaseFunc{PhaseName: name, Fn: fn}
}

// Phases returns the deployment phases in run order.
func (e *Engine) Phases() []provisioning.Phase {
	return []provisioning.Phase{
		provisioning.NewValidationPhase(),
		e.phase(PhaseBootstrapVM, e.defineBootstrap),
		e.phase(PhaseVirtualNodes, e.defineVirtualNodes),
		e.phase(PhaseControllerVM, e.createController),
		e.phase(PhaseControllerReady, e.waitForController),
		e.phase(PhaseVirshControl, e.configureVirshControl),
		e.phase(PhaseAPIKey, e.resolveAPIKey),
		e.phase(PhaseClient, e.connectClient),
		e.phase(PhaseSettings, e.applySettings),
		e.phase(PhaseBootSource, e.configureBootSource),
		e.phase(PhaseBootImages, e.importBootImages),
		e.phase(PhaseNodeGroup, e.configureNodegroup),
		e.phase(PhaseNodes, e.registerNodes),
		e.phase(PhaseEnvironment, e.publishEnvironment),
		e.phase(PhasePreseeds, e.uploadPreseeds),
		e.phase(PhaseStartNodes, e.startNodes),
		e.phase(PhaseCommissioning, e.waitForCommissioning),
		e.phase(PhaseStickyIPs, e.claimStickyIPs),
	}
}

// Deploy runs every phase against the target and returns what was
// gathered, also on failure.
func (e *Engine) Deploy(ctx context.Context) (*provisioning.State, error) {
	observer := e.opts.Observer
	if observer == nil {
		observer = provisioning.NewConsoleObserver(logging.FromContext(ctx))
	}
	pctx := &provisioning.Context{
		Context:  ctx,
		Env:      e.env,
		State:    provisioning.NewState(),
		Policy:   e.opts.Policy,
		Observer: observer.WithFields(map[string]string{"target": e.env.Name}),
		Timeouts: e.opts.Timeouts,
	}
	if err := provisioning.NewPipeline(e.Phases()...).Run(pctx); err != nil {
		return pctx.State, fmt.Errorf("deployment of %s failed: %w", e.env.Name, err)
	}
	return pctx.State, nil
}
