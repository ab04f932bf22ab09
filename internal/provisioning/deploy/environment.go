package deploy

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/imamik/vmaas/internal/provisioning"
	"github.com/imamik/vmaas/internal/util/shell"
)

// EnvironmentsFile is the juju environment descriptor rendered for the
// deployed controller.
const EnvironmentsFile = "environments.yaml"

const (
	jujuHome         = "/home/juju/.juju/"
	remotePreseeds   = "preseeds"
	controllerSeeds  = "/etc/maas/preseeds/"
	bootstrapTimeout = 1800
)

// installPreseeds hands the uploaded preseeds to the maas user.
const installPreseeds = `set -e
sudo chown maas:maas preseeds/*
sudo mv preseeds/* /etc/maas/preseeds/
rmdir preseeds
`

type jujuEnvironments struct {
	Default      string                     `yaml:"default"`
	Environments map[string]jujuEnvironment `yaml:"environments"`
}

type jujuEnvironment struct {
	Type             string `yaml:"type"`
	MAASServer       string `yaml:"maas-server"`
	MAASOAuth        string `yaml:"maas-oauth"`
	DefaultSeries    string `yaml:"default-series,omitempty"`
	BootstrapTimeout int    `yaml:"bootstrap-timeout"`
}

// RenderEnvironments returns the juju environment descriptor pointing at the
// controller at addr.
func RenderEnvironments(name, addr, apiKey, series string) ([]byte, error) {
	doc := jujuEnvironments{
		Default: name,
		Environments: map[string]jujuEnvironment{
			name: {
				Type:             "maas",
				MAASServer:       controllerURL(addr) + "/",
				MAASOAuth:        apiKey,
				DefaultSeries:    series,
				BootstrapTimeout: bootstrapTimeout,
			},
		},
	}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to render %s: %w", EnvironmentsFile, err)
	}
	return data, nil
}

// publishEnvironment renders environments.yaml, installs it for the juju
// user on the controller and publishes it to the artifact bucket when one
// is configured.
func (e *Engine) publishEnvironment(ctx *provisioning.Context) error {
	env := ctx.Env
	data, err := RenderEnvironments(env.Name, ctx.State.ControllerIP, ctx.State.APIKey, env.MAAS.Release)
	if err != nil {
		return err
	}
	ctx.State.EnvironmentsYAML = data

	if _, err := e.remote.Run(ctx, shell.Cmd("sudo", "-u", "juju", "mkdir", "-p", jujuHome)); err != nil {
		return fmt.Errorf("failed to create %s: %w", jujuHome, err)
	}
	if err := e.remote.Upload(ctx, data, EnvironmentsFile, false); err != nil {
		return err
	}
	for _, args := range [][]string{
		{"sudo", "chown", "juju:", EnvironmentsFile},
		{"sudo", "mv", EnvironmentsFile, jujuHome},
	} {
		if _, err := e.remote.Run(ctx, shell.Cmd(args...)); err != nil {
			return fmt.Errorf("failed to install %s: %w", EnvironmentsFile, err)
		}
	}
	ctx.Observer.Printf("[%s] Installed %s%s", PhaseEnvironment, jujuHome, EnvironmentsFile)

	if env.Artifacts == nil || e.opts.Publisher == nil {
		return nil
	}
	if _, err := e.opts.Publisher.Publish(ctx, env.Name, ctx.State.ControllerIP,
		map[string][]byte{EnvironmentsFile: data}); err != nil {
		return fmt.Errorf("failed to publish artifacts: %w", err)
	}
	ctx.Observer.Printf("[%s] Published %s to bucket %s", PhaseEnvironment, EnvironmentsFile, env.Artifacts.Bucket)
	return nil
}

// preseeds collects the preseed files: those found in the preseeds
// directory, overridden by the ones declared in the document.
func (e *Engine) preseeds(ctx *provisioning.Context) (map[string][]byte, error) {
	out := map[string][]byte{}

	dir := filepath.Join(e.opts.UserFilesDir, remotePreseeds)
	entries, err := os.ReadDir(dir)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		// #nosec G304
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read preseed %s: %w", entry.Name(), err)
		}
		out[entry.Name()] = data
	}

	for name, content := range ctx.Env.MAAS.Preseeds {
		out[name] = []byte(content)
	}
	return out, nil
}

// uploadPreseeds installs the preseed files into the controller's preseed
// directory.
func (e *Engine) uploadPreseeds(ctx *provisioning.Context) error {
	files, err := e.preseeds(ctx)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		ctx.Observer.Printf("[%s] No preseeds to install", PhasePreseeds)
		return nil
	}

	if _, err := e.remote.Run(ctx, shell.Cmd("mkdir", "-p", remotePreseeds)); err != nil {
		return fmt.Errorf("failed to create %s: %w", remotePreseeds, err)
	}
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := e.remote.Upload(ctx, files[name], remotePreseeds+"/"+filepath.Base(name), false); err != nil {
			return err
		}
	}
	if _, err := e.remote.Run(ctx, shell.Cmd("bash", "-s").WithStdin(installPreseeds)); err != nil {
		return fmt.Errorf("failed to install preseeds: %w", err)
	}
	ctx.Observer.Printf("[%s] Installed %d preseed(s) into %s", PhasePreseeds, len(names), controllerSeeds)
	return nil
}
