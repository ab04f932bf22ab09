// Package handlers implements the business logic for CLI commands.
//
// This package contains handler functions that are called by command definitions
// in the commands package. Handlers are framework-agnostic and can be tested
// independently of the CLI framework.
package handlers

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/go-logr/logr"
	"github.com/mattn/go-isatty"

	"github.com/imamik/vmaas/internal/config"
	"github.com/imamik/vmaas/internal/logging"
	"github.com/imamik/vmaas/internal/metrics"
	"github.com/imamik/vmaas/internal/platform/s3"
	"github.com/imamik/vmaas/internal/provisioning"
	"github.com/imamik/vmaas/internal/provisioning/deploy"
	"github.com/imamik/vmaas/internal/provisioning/lifecycle"
	"github.com/imamik/vmaas/internal/ui/tui"
	"github.com/imamik/vmaas/internal/util/prerequisites"
	"github.com/imamik/vmaas/internal/util/runlock"
)

// DefaultConfigFile is read when no --config is given.
const DefaultConfigFile = "deployment.yaml"

// Credentials for artifact publication, read from the environment (or the
// --env-file) so they stay out of the deployment document.
const (
	envS3AccessKey = "VMAAS_S3_ACCESS_KEY"
	envS3SecretKey = "VMAAS_S3_SECRET_KEY"
)

// DeployOptions are the deploy command's flags.
type DeployOptions struct {
	ConfigPath string
	Target     string
	EnvFile    string

	// Remote overrides the target's hypervisor URI when set.
	Remote      string
	Force       bool
	UseExisting bool

	Debug       bool
	TUI         bool
	MetricsAddr string
	// Timeout bounds the whole run. Zero defers to VMAAS_TIMEOUT_DEPLOY.
	Timeout time.Duration
}

// Deployer runs a deployment. *deploy.Engine satisfies it.
type Deployer interface {
	Deploy(ctx context.Context) (*provisioning.State, error)
	Phases() []provisioning.Phase
}

// Factory function variables - can be replaced in tests for dependency injection.
var (
	// loadEnvFile exports a dotenv file into the environment.
	loadEnvFile = config.LoadEnvFile

	// loadConfigFile loads the deployment document.
	loadConfigFile = config.LoadFile

	// newLogger builds the process logger.
	newLogger = logging.New

	// checkPrereqs checks the local tools a target needs.
	checkPrereqs = prerequisites.CheckFor

	// lockDir resolves where run locks live.
	lockDir = runlock.DefaultDir

	// acquireLock takes the single-writer lock.
	acquireLock = func(dir, key string) (io.Closer, error) {
		l, err := runlock.Acquire(dir, key)
		if err != nil {
			return nil, err
		}
		return releaser{l}, nil
	}

	// newDeployer creates the deployment engine.
	newDeployer = func(env *config.Environment, opts deploy.Options) (Deployer, error) {
		return deploy.New(env, opts)
	}

	// newPublisher creates the artifact store for a target's bucket.
	newPublisher = func(ctx context.Context, a *config.Artifacts) (deploy.Publisher, error) {
		client, err := s3.NewClient(ctx, s3.Options{
			Endpoint:  a.Endpoint,
			Region:    a.Region,
			AccessKey: os.Getenv(envS3AccessKey),
			SecretKey: os.Getenv(envS3SecretKey),
		})
		if err != nil {
			return nil, err
		}
		return s3.NewStore(client, a.Bucket, a.Prefix), nil
	}

	// serveMetrics exposes the metrics registry until ctx ends.
	serveMetrics = metrics.Serve

	// runDashboard runs the deployment behind the terminal dashboard.
	runDashboard = tui.RunDeploy

	// promptAddress asks for the controller address interactively.
	promptAddress = askControllerAddress

	// isTerminal reports whether stdin and stdout are a terminal.
	isTerminal = func() bool {
		return isatty.IsTerminal(os.Stdin.Fd()) && isatty.IsTerminal(os.Stdout.Fd())
	}

	// writeFile writes data to a file (for testing injection).
	writeFile = os.WriteFile
)

type releaser struct{ l *runlock.Lock }

func (r releaser) Close() error { return r.l.Release() }

// Deploy provisions the controller and nodes of one target.
//
// The run:
//  1. Loads the optional env file, then the deployment document
//  2. Checks the local tools the target's transport needs
//  3. Takes the per-hypervisor run lock
//  4. Runs every deployment phase, behind the dashboard when requested
//  5. Writes environments.yaml next to the config file
//
// environments.yaml is written also when a later phase fails, as long as
// it was rendered.
func Deploy(ctx context.Context, opts DeployOptions) error {
	if err := loadEnvFile(opts.EnvFile); err != nil {
		return err
	}

	dashboard := opts.TUI && isTerminal()
	logOpts := logging.Options{Debug: opts.Debug, File: logging.DefaultFile}
	if dashboard {
		// The dashboard owns the screen; the log file keeps the trail.
		logOpts.Console = io.Discard
	}
	log, flush, err := newLogger(logOpts)
	if err != nil {
		return err
	}
	defer flush()
	ctx = logging.IntoContext(ctx, log)

	env, err := loadTarget(opts)
	if err != nil {
		return err
	}

	if err := checkPrerequisites(env); err != nil {
		return err
	}

	lock, err := takeLock(env)
	if err != nil {
		return err
	}
	defer func() { _ = lock.Close() }()

	timeouts := config.LoadTimeouts()
	for _, name := range timeouts.Ignored {
		log.Info("Ignoring unparsable timeout override", "variable", name)
	}
	if opts.Timeout > 0 {
		timeouts.Deploy = opts.Timeout
	}
	if timeouts.Deploy > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeouts.Deploy)
		defer cancel()
	}

	if opts.MetricsAddr != "" {
		startMetrics(ctx, log, opts.MetricsAddr)
	}

	engineOpts := deploy.Options{
		Policy:   lifecycle.Policy{UseExisting: opts.UseExisting, Force: opts.Force},
		Timeouts: timeouts,
	}
	if env.Artifacts != nil {
		publisher, err := newPublisher(ctx, env.Artifacts)
		if err != nil {
			return fmt.Errorf("failed to set up artifact publication: %w", err)
		}
		engineOpts.Publisher = publisher
	}
	if isTerminal() && !dashboard {
		engineOpts.PromptAddress = promptAddress
	}

	log.Info("Deploying target", "target", env.Name, "hypervisor", env.VirshURI)

	var state *provisioning.State
	run := func(ctx context.Context, observer provisioning.Observer) error {
		o := engineOpts
		o.Observer = observer
		engine, err := newDeployer(env, o)
		if err != nil {
			return err
		}
		state, err = engine.Deploy(ctx)
		return err
	}

	if dashboard {
		names, err := phaseNames(env, engineOpts)
		if err != nil {
			return err
		}
		err = runDashboard(ctx, tui.NewDeployModel(env.Name, env.VirshURI, names), run)
		return finish(log, opts, state, err)
	}
	err = run(ctx, nil)
	return finish(log, opts, state, err)
}

// loadTarget loads the document and resolves the target, applying the
// --remote override.
func loadTarget(opts DeployOptions) (*config.Environment, error) {
	path := opts.ConfigPath
	if path == "" {
		path = DefaultConfigFile
	}
	file, err := loadConfigFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	env, err := file.Target(opts.Target)
	if err != nil {
		return nil, err
	}
	if opts.Remote != "" {
		env.VirshURI = opts.Remote
	}
	return env, nil
}

func checkPrerequisites(env *config.Environment) error {
	results := checkPrereqs(env.MAAS.Transport, env.VirshURI)
	if results.HasErrors() {
		return results.Error()
	}
	return nil
}

func takeLock(env *config.Environment) (io.Closer, error) {
	dir, err := lockDir()
	if err != nil {
		return nil, err
	}
	lock, err := acquireLock(dir, runlock.Key(env.VirshURI, env.MAAS.Pool))
	if err != nil {
		return nil, fmt.Errorf("cannot deploy %s: %w", env.Name, err)
	}
	return lock, nil
}

func startMetrics(ctx context.Context, log logr.Logger, addr string) {
	go func() {
		if err := serveMetrics(ctx, addr); err != nil {
			log.Error(err, "Metrics endpoint stopped", "addr", addr)
		}
	}()
	log.Info("Serving metrics", "addr", addr)
}

func phaseNames(env *config.Environment, opts deploy.Options) ([]string, error) {
	engine, err := newDeployer(env, opts)
	if err != nil {
		return nil, err
	}
	phases := engine.Phases()
	names := make([]string, 0, len(phases))
	for _, p := range phases {
		names = append(names, p.Name())
	}
	return names, nil
}

// finish writes what the run produced and reports its outcome.
func finish(log logr.Logger, opts DeployOptions, state *provisioning.State, runErr error) error {
	if state != nil && len(state.EnvironmentsYAML) > 0 {
		path := environmentsPath(opts.ConfigPath)
		if err := writeFile(path, state.EnvironmentsYAML, 0o600); err != nil {
			log.Error(err, "Failed to write environments file", "path", path)
		} else {
			log.Info("Wrote environments file", "path", path)
		}
	}
	if runErr != nil {
		return runErr
	}
	printDeploySuccess(state)
	return nil
}

// environmentsPath places environments.yaml next to the config file.
func environmentsPath(configPath string) string {
	if configPath == "" {
		return deploy.EnvironmentsFile
	}
	return filepath.Join(filepath.Dir(configPath), deploy.EnvironmentsFile)
}

func printDeploySuccess(state *provisioning.State) {
	fmt.Println()
	fmt.Println("Deployment complete")
	if state == nil {
		return
	}
	if state.ControllerIP != "" {
		fmt.Printf("  Controller: http://%s/MAAS\n", state.ControllerIP)
	}
	if n := len(state.Nodes); n > 0 {
		fmt.Printf("  Nodes:      %d registered\n", n)
	}
}
