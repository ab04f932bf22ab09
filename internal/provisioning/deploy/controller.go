package deploy

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"

	"github.com/imamik/vmaas/internal/deployerr"
	"github.com/imamik/vmaas/internal/platform/maas"
	"github.com/imamik/vmaas/internal/provisioning"
	"github.com/imamik/vmaas/internal/provisioning/compute"
	"github.com/imamik/vmaas/internal/util/poll"
	"github.com/imamik/vmaas/internal/util/retry"
	"github.com/imamik/vmaas/internal/util/shell"
)

// CloudInitLog is where the controller's first boot output lands.
const CloudInitLog = "/var/log/cloud-init-output.log"

const (
	sshPollInterval = time.Second
	virshKeysDir    = "virsh-keys"
)

// installVirshKeys moves the uploaded keys into the maas user's home so the
// controller can power virtual nodes over qemu+ssh.
const installVirshKeys = `set -e
home=$(getent passwd maas | cut -d: -f6)
sudo mkdir -p "$home/.ssh"
sudo mv virsh-keys/* "$home/.ssh/"
sudo chown -R maas:maas "$home/.ssh"
sudo chmod 700 "$home/.ssh"
sudo find "$home/.ssh" -name 'id_*' ! -name '*.pub' -exec chmod 600 {} +
rmdir virsh-keys
`

func (e *Engine) retryOptions(ctx *provisioning.Context, name string) []retry.Option {
	return []retry.Option{
		retry.WithName(name),
		retry.WithMaxRetries(ctx.Timeouts.RetryMaxAttempts),
		retry.WithInitialDelay(ctx.Timeouts.RetryInitialDelay),
	}
}

// controllerAddress returns the configured controller address or asks for
// one.
func (e *Engine) controllerAddress(ctx *provisioning.Context) (string, error) {
	m := ctx.Env.MAAS
	if m.IPAddress != "" {
		return m.IPAddress, nil
	}
	if e.opts.PromptAddress == nil {
		return "", &deployerr.ValueError{What: "address of controller", Value: m.Name}
	}
	addr, err := e.opts.PromptAddress(ctx, m.Name)
	if err != nil {
		return "", fmt.Errorf("failed to read controller address: %w", err)
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "", &deployerr.ValueError{What: "address of controller", Value: m.Name}
	}
	return addr, nil
}

// waitForController opens a session on the controller once it accepts SSH
// and then waits for cloud-init to finish configuring it.
func (e *Engine) waitForController(ctx *provisioning.Context) error {
	addr, err := e.controllerAddress(ctx)
	if err != nil {
		return err
	}
	ctx.State.ControllerIP = addr

	kp, err := e.loadIdentity(ctx)
	if err != nil {
		return err
	}
	remote, err := e.opts.Dial(ctx, addr, ctx.Env.MAAS.User, kp.PrivateKey)
	if err != nil {
		return fmt.Errorf("failed to open session on %s: %w", addr, err)
	}
	e.remote = remote

	ctx.Observer.Printf("[%s] Waiting for %s to accept SSH sessions...", PhaseControllerReady, addr)
	reachable := poll.Poller[bool]{
		Name:                "controller-ssh",
		Interval:            sshPollInterval,
		Timeout:             ctx.Timeouts.VMReady,
		Immediate:           true,
		TolerateFetchErrors: true,
		Fetch: func(c context.Context) (bool, error) {
			return true, remote.Ping(c)
		},
		Done: func(ok bool) bool { return ok },
	}
	if _, err := reachable.Wait(ctx); err != nil {
		return fmt.Errorf("controller %s never became reachable: %w", addr, err)
	}

	ctx.Observer.Printf("[%s] Waiting for cloud-init to configure the controller...", PhaseControllerReady)
	return e.waitForCloudInit(ctx)
}

// waitForCloudInit returns once the ready marker shows up in the cloud-init
// log. A quick grep covers re-runs; otherwise the log is followed until the
// marker is printed.
func (e *Engine) waitForCloudInit(ctx *provisioning.Context) error {
	waitCtx := ctx.Context
	if ctx.Timeouts.CloudInit > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, ctx.Timeouts.CloudInit)
		defer cancel()
	}

	follow := fmt.Sprintf("grep -m 1 %s <(sudo tail -n 1 -F %s)",
		shellquote.Join(compute.ReadyMarker), shellquote.Join(CloudInitLog))

	err := retry.Do(waitCtx, func() error {
		res, err := e.remote.Run(waitCtx, shell.Cmd("grep", compute.ReadyMarker, CloudInitLog).Tolerant())
		if err != nil {
			return err
		}
		if res.OK() {
			return nil
		}
		_, err = e.remote.Run(waitCtx, shell.Cmd("bash", "-c", follow))
		return err
	}, e.retryOptions(ctx, "cloud-init")...)
	if err != nil {
		return fmt.Errorf("cloud-init did not finish on %s: %w", ctx.State.ControllerIP, err)
	}
	return nil
}

// configureVirshControl hands the configured key pair to the maas user so
// the controller can power virtual nodes.
func (e *Engine) configureVirshControl(ctx *provisioning.Context) error {
	v := ctx.Env.MAAS.Virsh
	if v == nil {
		ctx.Observer.Printf("[%s] No virsh power control configured, skipping", PhaseVirshControl)
		return nil
	}
	files := v.KeyFiles()
	if len(files) == 0 {
		ctx.Observer.Printf("[%s] No virsh keys configured, skipping", PhaseVirshControl)
		return nil
	}

	if _, err := e.remote.Run(ctx, shell.Cmd("mkdir", "-p", virshKeysDir)); err != nil {
		return fmt.Errorf("failed to create %s: %w", virshKeysDir, err)
	}

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		path := files[name]
		// #nosec G304
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("%w: %v", &deployerr.ValueError{What: "virsh key file", Value: path}, err)
		}
		if err := e.remote.Upload(ctx, data, virshKeysDir+"/"+name, false); err != nil {
			return err
		}
	}

	if _, err := e.remote.Run(ctx, shell.Cmd("bash", "-s").WithStdin(installVirshKeys)); err != nil {
		return fmt.Errorf("failed to install virsh keys: %w", err)
	}
	ctx.Observer.Printf("[%s] Installed %d virsh key file(s)", PhaseVirshControl, len(names))
	return nil
}

// resolveAPIKey takes the key from the document, the cloud-init log or the
// region admin tool, in that order.
func (e *Engine) resolveAPIKey(ctx *provisioning.Context) error {
	if key := ctx.Env.MAAS.APIKey; key != "" {
		ctx.State.APIKey = key
		return nil
	}

	fromLog := shell.Cmd("grep", compute.APIKeyMarker, CloudInitLog).
		Pipe("tail", "-n", "1").
		Pipe("sed", "-r", `s/.+=(.+)/\1/`)
	fromTool := shell.Cmd("sudo", "maas-region-admin", "apikey", "--username", ctx.Env.MAAS.User)

	key, err := retry.DoValue(ctx, func() (string, error) {
		res, err := e.remote.Run(ctx, fromLog.Tolerant())
		if err != nil {
			return "", err
		}
		if key := strings.TrimSpace(res.Stdout); res.OK() && key != "" {
			return key, nil
		}
		key, err := shell.Output(ctx, e.remote, fromTool.Args...)
		if err != nil {
			return "", err
		}
		if key == "" {
			return "", fmt.Errorf("region admin returned an empty API key")
		}
		return key, nil
	}, e.retryOptions(ctx, "api-key")...)
	if err != nil {
		return fmt.Errorf("failed to obtain API key: %w", err)
	}
	ctx.State.APIKey = key
	return nil
}

// controllerURL is the web root of the controller.
func controllerURL(addr string) string {
	return "http://" + addr + "/MAAS"
}

// connectClient builds the control plane client for the configured
// transport.
func (e *Engine) connectClient(ctx *provisioning.Context) error {
	m := ctx.Env.MAAS
	cfg := maas.DriverConfig{
		Mode:       m.Transport,
		URL:        maas.APIURL(controllerURL(ctx.State.ControllerIP)),
		APIKey:     ctx.State.APIKey,
		HTTPClient: e.opts.HTTPClient,
	}
	if m.Transport == maas.ModeSSH {
		cfg.Runner = e.remote
	}
	driver, err := e.opts.NewDriver(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create %s driver: %w", m.Transport, err)
	}
	ctx.State.Client = maas.NewClient(driver)
	ctx.Observer.Printf("[%s] Using %s transport", PhaseClient, m.Transport)
	return nil
}
