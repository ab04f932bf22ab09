package deploy

import (
	"context"
	"encoding/base64"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/imamik/vmaas/internal/config"
	"github.com/imamik/vmaas/internal/deployerr"
	"github.com/imamik/vmaas/internal/platform/maas"
	"github.com/imamik/vmaas/internal/provisioning"
	"github.com/imamik/vmaas/internal/util/shell"
)

const (
	// keyringUploadPath is where keyring data lands before it is moved.
	keyringUploadPath = "/tmp/maas-deployer-archive-keyring.gpg"

	// nodegroupRetries bounds re-queries while a node group still reports
	// a placeholder UUID.
	nodegroupRetries = 5

	// defaultManagement is DHCP and DNS.
	defaultManagement = "2"
)

// nodegroupInterfaceKeys renames document keys to API keys.
var nodegroupInterfaceKeys = map[string]string{
	"static_range_high":  "static_ip_range_high",
	"static_range_low":   "static_ip_range_low",
	"dynamic_range_high": "ip_range_high",
	"dynamic_range_low":  "ip_range_low",
	"device":             "interface",
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// applySettings sets every configured controller option. A rejected option
// is reported and skipped.
func (e *Engine) applySettings(ctx *provisioning.Context) error {
	settings := ctx.Env.MAAS.Settings
	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if err := ctx.State.Client.SetConfig(ctx, key, settings[key]); err != nil {
			provisioning.LogResourceFailed(ctx.Observer, PhaseSettings, "setting", key, err)
			continue
		}
		ctx.Observer.Printf("[%s] Set %s", PhaseSettings, key)
	}
	return nil
}

// configureBootSource makes the configured image source available and adds
// its selections.
func (e *Engine) configureBootSource(ctx *provisioning.Context) error {
	bs := ctx.Env.MAAS.BootSource
	if bs == nil {
		ctx.Observer.Printf("[%s] No boot source configured", PhaseBootSource)
		return nil
	}
	client := ctx.State.Client

	sources, err := client.GetBootSources(ctx)
	if err != nil {
		return err
	}

	create := true
	deleted := false
	for _, s := range sources {
		if s.URL() != bs.URL {
			continue
		}
		if !bs.Force {
			ctx.Observer.Printf("[%s] Boot source %s already exists (id=%s), skipping create", PhaseBootSource, bs.URL, s.ID())
			create = false
		} else if bs.Exclusive {
			if err := deleteBootSources(ctx, client, sources); err != nil {
				return err
			}
			deleted = true
		}
		break
	}

	if create {
		if err := e.createBootSource(ctx, bs); err != nil {
			return err
		}
	}
	if bs.Exclusive && !deleted {
		if err := deleteBootSources(ctx, client, sources); err != nil {
			return err
		}
	}

	return e.createSelections(ctx, bs)
}

// deleteBootSources removes sources, which were listed before any new source
// was created.
func deleteBootSources(ctx *provisioning.Context, client *maas.Client, sources []maas.BootSource) error {
	for _, s := range sources {
		ctx.Observer.Printf("[%s] Deleting boot source %s (id=%s)", PhaseBootSource, s.URL(), s.ID())
		if err := client.DeleteBootSource(ctx, s.ID()); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) createBootSource(ctx *provisioning.Context, bs *config.BootSource) error {
	keyring := bs.KeyringFilename
	if bs.KeyringData != "" {
		data, err := base64.StdEncoding.DecodeString(bs.KeyringData)
		if err != nil {
			return &deployerr.ConfigError{Key: "maas.boot_source.keyring_data", Reason: err.Error()}
		}
		if keyring == "" {
			keyring = "/usr/share/keyrings/" + path.Base(keyringUploadPath)
		}
		if err := e.remote.Upload(ctx, data, keyringUploadPath, false); err != nil {
			return err
		}
		for _, args := range [][]string{
			{"sudo", "mv", keyringUploadPath, keyring},
			{"sudo", "chmod", "0644", keyring},
			{"sudo", "chown", "root:", keyring},
		} {
			if _, err := e.remote.Run(ctx, shell.Cmd(args...)); err != nil {
				return fmt.Errorf("failed to install keyring %s: %w", keyring, err)
			}
		}
	}

	provisioning.LogResourceCreating(ctx.Observer, PhaseBootSource, "boot-source", bs.URL)
	if err := ctx.State.Client.CreateBootSource(ctx, bs.URL, keyring); err != nil {
		provisioning.LogResourceFailed(ctx.Observer, PhaseBootSource, "boot-source", bs.URL, err)
		return err
	}
	return nil
}

// createSelections adds every selection whose release and OS pair is not
// on the source yet.
func (e *Engine) createSelections(ctx *provisioning.Context, bs *config.BootSource) error {
	if len(bs.Selections) == 0 {
		ctx.Observer.Printf("[%s] No boot source selections requested", PhaseBootSource)
		return nil
	}
	client := ctx.State.Client

	sources, err := client.GetBootSources(ctx)
	if err != nil {
		return err
	}
	var matching []maas.BootSource
	for _, s := range sources {
		if s.URL() == bs.URL {
			matching = append(matching, s)
		}
	}
	if len(matching) == 0 {
		return &deployerr.ValueError{What: "boot source", Value: bs.URL}
	}
	if len(matching) > 1 {
		provisioning.LogWarning(ctx.Observer, PhaseBootSource,
			fmt.Sprintf("found %d boot sources with url %s", len(matching), bs.URL), nil)
	}
	sourceID := matching[0].ID()

	names := make([]string, 0, len(bs.Selections))
	for name := range bs.Selections {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		sel := bs.Selections[name]
		existing, err := client.GetBootSourceSelections(ctx, sourceID)
		if err != nil {
			return err
		}
		if hasSelection(existing, sel.Release, sel.OS) {
			ctx.Observer.Printf("[%s] Selection %s/%s already exists on source %s, skipping",
				PhaseBootSource, sel.OS, sel.Release, sourceID)
			continue
		}
		err = client.CreateBootSourceSelection(ctx, sourceID, maas.Selection{
			Release:   sel.Release,
			OS:        sel.OS,
			Arches:    sel.Arches,
			Subarches: sel.Subarches,
			Labels:    sel.Labels,
		})
		if err != nil {
			return fmt.Errorf("failed to create boot source selection %s: %w", name, err)
		}
		ctx.Observer.Printf("[%s] Created selection %s", PhaseBootSource, name)
	}
	return nil
}

func hasSelection(existing []maas.BootSourceSelection, release, os string) bool {
	for _, s := range existing {
		if s.Release() == release && s.OS() == os {
			return true
		}
	}
	return false
}

// importBootImages starts the image import and waits for it to finish.
func (e *Engine) importBootImages(ctx *provisioning.Context) error {
	m := ctx.Env.MAAS
	if err := ctx.State.Client.ImportBootImages(ctx); err != nil {
		return err
	}

	checker, err := e.opts.NewImportChecker(ctx.State.ControllerIP, m.User, m.Password)
	if err != nil {
		return err
	}
	if err := checker.Login(ctx); err != nil {
		return fmt.Errorf("failed to log into %s: %w", ctx.State.ControllerIP, err)
	}

	last := ""
	status, err := checker.WaitForImport(ctx, maas.WaitOptions{
		StartInterval:    e.delays.importStart,
		CompleteInterval: e.delays.importComplete,
		Timeout:          ctx.Timeouts.ImageImport,
		OnProgress: func(st maas.ImportStatus) {
			if p := st.Progress(); p != "" && p != last {
				last = p
				ctx.Observer.Printf("[%s] Importing images ... %s", PhaseBootImages, p)
			}
		},
	})
	ctx.State.ImportStatus = status
	if err != nil {
		return err
	}
	ctx.Observer.Printf("[%s] Boot image import completed", PhaseBootImages)
	return nil
}

// configureNodegroup updates the node group and its interfaces.
func (e *Engine) configureNodegroup(ctx *provisioning.Context) error {
	group, err := e.findNodegroup(ctx)
	if err != nil {
		return err
	}
	ctx.State.Nodegroup = &group

	if err := e.updateNodegroup(ctx, group); err != nil {
		return err
	}
	for i, iface := range ctx.Env.MAAS.NodeGroupInterfaces {
		if err := e.ensureNodegroupInterface(ctx, group, iface); err != nil {
			return fmt.Errorf("unable to configure node group interface %d: %w", i, err)
		}
	}
	return nil
}

// findNodegroup returns the node group matching the configured uuid, or the
// first one. A group that still reports a placeholder UUID has not finished
// registering, so the list is queried again a few times before that group
// is used anyway.
func (e *Engine) findNodegroup(ctx *provisioning.Context) (maas.Nodegroup, error) {
	want := ctx.Env.MAAS.NodeGroup["uuid"]
	retries := nodegroupRetries

	for {
		groups, err := ctx.State.Client.GetNodegroups(ctx)
		if err != nil {
			return maas.Nodegroup{}, err
		}

		requery := false
		for _, g := range groups {
			if _, err := uuid.Parse(g.UUID()); err != nil {
				if retries == 0 {
					ctx.Observer.Printf("[%s] Using node group %s although it is not fully initialised",
						PhaseNodeGroup, g.UUID())
					return g, nil
				}
				retries--
				ctx.Observer.Printf("[%s] Node group %s has no valid UUID yet, querying again",
					PhaseNodeGroup, g.UUID())
				requery = true
				break
			}
			if want == "" || g.UUID() == want {
				return g, nil
			}
		}
		if !requery {
			return maas.Nodegroup{}, &deployerr.ValueError{What: "node group with uuid", Value: want}
		}
		if err := sleep(ctx, e.delays.nodegroupRequery); err != nil {
			return maas.Nodegroup{}, err
		}
	}
}

// updateNodegroup applies the updatable node group fields. uuid only
// selects the group.
func (e *Engine) updateNodegroup(ctx *provisioning.Context, group maas.Nodegroup) error {
	params := maas.Params{}
	for key, value := range ctx.Env.MAAS.NodeGroup {
		if key == "uuid" {
			continue
		}
		if !config.NodeGroupUpdateKeys[key] {
			return &deployerr.ConfigError{Key: "maas.node_group." + key,
				Reason: "unsupported key, only name and cluster_name can be updated"}
		}
		params[key] = value
	}
	if len(params) == 0 {
		return nil
	}
	ctx.Observer.Printf("[%s] Updating node group %s", PhaseNodeGroup, group.UUID())
	return ctx.State.Client.UpdateNodegroup(ctx, group.UUID(), params)
}

// nodegroupInterfaceParams flattens a document interface and renames its
// keys for the API.
func nodegroupInterfaceParams(iface map[string]any) maas.Params {
	params := maas.Params{}
	for key, values := range maas.Params(iface).Flatten() {
		if renamed, ok := nodegroupInterfaceKeys[key]; ok {
			key = renamed
		}
		params[key] = strings.Join(values, ",")
	}
	if name, _ := params["name"].(string); name == "" {
		params["name"] = params["interface"]
	}
	if mgmt, _ := params["management"].(string); mgmt == "" {
		params["management"] = defaultManagement
	}
	return params
}

// ensureNodegroupInterface creates the interface or updates it in place.
// The controller's own node group is briefly given time to reconnect and
// then treated as configured.
func (e *Engine) ensureNodegroupInterface(ctx *provisioning.Context, group maas.Nodegroup, iface map[string]any) error {
	client := ctx.State.Client
	params := nodegroupInterfaceParams(iface)
	name, _ := params["name"].(string)

	_, found, err := client.GetNodegroupInterface(ctx, group.UUID(), name)
	if err == nil {
		if found {
			ctx.Observer.Printf("[%s] Updating interface %s", PhaseNodeGroup, name)
			err = client.UpdateNodegroupInterface(ctx, group.UUID(), name, params)
		} else {
			ctx.Observer.Printf("[%s] Creating interface %s", PhaseNodeGroup, name)
			err = client.CreateNodegroupInterface(ctx, group.UUID(), params)
		}
	}

	if group.UUID() == config.MasterNodeGroup {
		if err != nil {
			ctx.Observer.Printf("[%s] Ignoring interface %s failure on the master node group: %v",
				PhaseNodeGroup, name, err)
		}
		return sleep(ctx, e.delays.masterSettle)
	}
	return err
}
