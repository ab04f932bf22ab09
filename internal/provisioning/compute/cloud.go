package compute

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/imamik/vmaas/internal/logging"
	"github.com/imamik/vmaas/internal/platform/virsh"
	"github.com/imamik/vmaas/internal/provisioning/lifecycle"
	"github.com/imamik/vmaas/internal/util/shell"
)

// baseVolumeCapacity is the initial size of a base volume. Root volumes are
// resized after cloning.
const baseVolumeCapacity = "3G"

// CloudInstance is an Instance booted from an Ubuntu cloud image with a
// NoCloud seed.
type CloudInstance struct {
	*Instance
	cloud CloudSpec
	http  *http.Client
}

// NewCloudInstance returns a CloudInstance for spec.
func NewCloudInstance(spec CloudSpec, policy lifecycle.Policy, v *virsh.Client, runner shell.Runner) *CloudInstance {
	c := &CloudInstance{
		Instance: NewInstance(spec.Spec, policy, v, runner),
		cloud:    spec,
		http:     http.DefaultClient,
	}
	c.disks = c.cloudDisks
	return c
}

// WithHTTPClient sets the client used to download cloud images.
func (c *CloudInstance) WithHTTPClient(client *http.Client) *CloudInstance {
	c.http = client
	return c
}

// Create prepares the volumes and imports the domain from them.
func (c *CloudInstance) Create(ctx context.Context) (lifecycle.Outcome, error) {
	return c.create(ctx, "--import")
}

func (c *CloudInstance) cloudDisks(ctx context.Context) ([]string, error) {
	pool := c.cloud.Pool
	if err := c.ensureBaseVolume(ctx); err != nil {
		return nil, err
	}
	if err := c.ensureRootVolume(ctx); err != nil {
		return nil, err
	}
	if err := c.ensureSeedVolume(ctx); err != nil {
		return nil, err
	}
	return []string{
		existingDisk(pool, c.cloud.RootVolume(), "qcow2"),
		existingDisk(pool, c.cloud.SeedVolume(), "raw"),
	}, nil
}

func (c *CloudInstance) volume(name string, create func(ctx context.Context) error) lifecycle.Resource {
	pool := c.cloud.Pool
	return lifecycle.Resource{
		Kind: "volume",
		Name: name,
		Exists: func(ctx context.Context) (bool, error) {
			return c.virsh.VolumeExists(ctx, pool, name)
		},
		Delete: func(ctx context.Context) error {
			return c.virsh.VolumeDelete(ctx, pool, name)
		},
		Create: create,
	}
}

func (c *CloudInstance) ensureBaseVolume(ctx context.Context) error {
	pool, name := c.cloud.Pool, c.cloud.BaseVolume()
	_, err := c.policy.Ensure(ctx, c.volume(name, func(ctx context.Context) error {
		image, err := c.fetchImage(ctx)
		if err != nil {
			return err
		}

		logging.FromContext(ctx).V(logging.Debug).Info("Creating base volume", "volume", name)
		if err := c.virsh.VolumeCreateAs(ctx, pool, name, baseVolumeCapacity, ""); err != nil {
			return err
		}
		if err := c.virsh.VolumeUpload(ctx, pool, name, image); err != nil {
			if delErr := c.virsh.VolumeDelete(ctx, pool, name); delErr != nil {
				logging.FromContext(ctx).Error(delErr, "Failed to remove partial base volume", "volume", name)
			}
			return fmt.Errorf("upload to volume %s failed: %w", name, err)
		}
		return nil
	}))
	return err
}

func (c *CloudInstance) ensureRootVolume(ctx context.Context) error {
	pool, name := c.cloud.Pool, c.cloud.RootVolume()
	_, err := c.policy.Ensure(ctx, c.volume(name, func(ctx context.Context) error {
		log := logging.FromContext(ctx).WithValues("volume", name)
		log.V(logging.Debug).Info("Cloning root volume", "base", c.cloud.BaseVolume())
		if err := c.virsh.VolumeClone(ctx, pool, c.cloud.BaseVolume(), name); err != nil {
			return err
		}
		c.virsh.PoolRefresh(ctx, pool)

		size := c.cloud.diskGB() + "G"
		log.V(logging.Debug).Info("Resizing root volume", "size", size)
		if err := c.virsh.VolumeResize(ctx, pool, name, size); err != nil {
			return err
		}
		c.virsh.PoolRefresh(ctx, pool)

		if info, err := c.virsh.VolumeInfo(ctx, pool, name); err == nil {
			log.V(logging.Debug).Info("Root volume ready", "info", strings.TrimSpace(info))
		}
		return nil
	}))
	return err
}

func (c *CloudInstance) ensureSeedVolume(ctx context.Context) error {
	pool, name := c.cloud.Pool, c.cloud.SeedVolume()
	_, err := c.policy.Ensure(ctx, c.volume(name, func(ctx context.Context) error {
		log := logging.FromContext(ctx).WithValues("volume", name)
		log.V(logging.Debug).Info("Creating cloud-init seed image")

		files, err := SeedFiles(c.cloud)
		if err != nil {
			return err
		}

		workDir, err := os.MkdirTemp("", "vmaas-seed-")
		if err != nil {
			return fmt.Errorf("failed to create work dir: %w", err)
		}
		defer func() { _ = os.RemoveAll(workDir) }()

		img := filepath.Join(workDir, name)
		size, err := BuildSeedImage(img, files)
		if err != nil {
			return err
		}

		if err := c.virsh.VolumeCreateAs(ctx, pool, name, strconv.FormatInt(size, 10), "raw"); err != nil {
			return err
		}
		c.virsh.PoolRefresh(ctx, pool)
		log.V(logging.Debug).Info("Uploading seed image", "file", img)
		if err := c.virsh.VolumeUpload(ctx, pool, name, img); err != nil {
			return err
		}
		c.virsh.PoolRefresh(ctx, pool)
		return nil
	}))
	return err
}

// fetchImage returns the local path of the cloud image, downloading it into
// the cache directory first when missing.
func (c *CloudInstance) fetchImage(ctx context.Context) (string, error) {
	url := c.cloud.ImageURL()
	dir := c.cloud.CacheDir
	if dir == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			return "", fmt.Errorf("failed to locate cache dir: %w", err)
		}
		dir = filepath.Join(base, "vmaas")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create cache dir %s: %w", dir, err)
	}

	dst := filepath.Join(dir, path.Base(url))
	if st, err := os.Stat(dst); err == nil && st.Mode().IsRegular() {
		logging.FromContext(ctx).V(logging.Debug).Info("Using cached cloud image", "file", dst)
		return dst, nil
	}

	logging.FromContext(ctx).Info("Downloading cloud image", "url", url)
	if err := download(ctx, c.http, url, dst); err != nil {
		return "", fmt.Errorf("failed to download '%s': %w", url, err)
	}
	return dst, nil
}

// download writes url to dst through a temporary file so an interrupted
// transfer never leaves a truncated image in the cache.
func download(ctx context.Context, client *http.Client, url, dst string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), filepath.Base(dst)+".part-")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dst)
}
