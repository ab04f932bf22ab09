package deploy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/imamik/vmaas/internal/config"
)

func TestRenderEnvironments(t *testing.T) {
	data, err := RenderEnvironments("lab", "10.0.0.2", "a:b:c", "trusty")
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, yaml.Unmarshal(data, &doc))
	assert.Equal(t, "lab", doc["default"])

	envs := doc["environments"].(map[string]any)
	lab := envs["lab"].(map[string]any)
	assert.Equal(t, "maas", lab["type"])
	assert.Equal(t, "http://10.0.0.2/MAAS/", lab["maas-server"])
	assert.Equal(t, "a:b:c", lab["maas-oauth"])
	assert.Equal(t, "trusty", lab["default-series"])
	assert.Equal(t, 1800, lab["bootstrap-timeout"])
}

func TestPublishEnvironment(t *testing.T) {
	env := testEnv()
	h := newHarness(t, env)
	ctx := h.connected(env)

	require.NoError(t, h.engine.publishEnvironment(ctx))

	want, err := RenderEnvironments("demo", env.MAAS.IPAddress, env.MAAS.APIKey, env.MAAS.Release)
	require.NoError(t, err)
	assert.Equal(t, want, ctx.State.EnvironmentsYAML)

	calls := h.remote.Calls()
	require.Len(t, calls, 3)
	assert.Equal(t, "sudo -u juju mkdir -p /home/juju/.juju/", calls[0])
	assert.Equal(t, "sudo chown juju: environments.yaml", calls[1])
	assert.Equal(t, "sudo mv environments.yaml /home/juju/.juju/", calls[2])

	data, ok := h.remote.uploaded(EnvironmentsFile)
	require.True(t, ok)
	assert.Equal(t, want, data)
}

func TestPublishEnvironment_Artifacts(t *testing.T) {
	env := testEnv()
	env.Artifacts = &config.Artifacts{Bucket: "maas-artifacts"}
	h := newHarness(t, env)
	pub := &fakePublisher{}
	h.engine.opts.Publisher = pub

	ctx := h.connected(env)
	require.NoError(t, h.engine.publishEnvironment(ctx))
	require.Contains(t, pub.files, "demo")
	assert.Equal(t, ctx.State.EnvironmentsYAML, pub.files["demo"][EnvironmentsFile])
}

func TestPublishEnvironment_ArtifactsWithoutPublisher(t *testing.T) {
	env := testEnv()
	env.Artifacts = &config.Artifacts{Bucket: "maas-artifacts"}
	h := newHarness(t, env)

	require.NoError(t, h.engine.publishEnvironment(h.connected(env)))
}

func TestPreseeds_DocumentOverridesDirectory(t *testing.T) {
	env := testEnv()
	env.MAAS.Preseeds = map[string]string{"curtin_userdata": "from document"}
	h := newHarness(t, env)

	dir := filepath.Join(h.engine.opts.UserFilesDir, remotePreseeds)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nested"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "curtin_userdata"), []byte("from file"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "generic"), []byte("generic preseed"), 0o644))

	files, err := h.engine.preseeds(h.phaseContext(env))
	require.NoError(t, err)
	assert.Equal(t, map[string][]byte{
		"curtin_userdata": []byte("from document"),
		"generic":         []byte("generic preseed"),
	}, files)
}

func TestUploadPreseeds(t *testing.T) {
	env := testEnv()
	env.MAAS.Preseeds = map[string]string{
		"generic":         "a",
		"curtin_userdata": "b",
	}
	h := newHarness(t, env)

	require.NoError(t, h.engine.uploadPreseeds(h.phaseContext(env)))

	generic, ok := h.remote.uploaded("preseeds/generic")
	require.True(t, ok)
	assert.Equal(t, []byte("a"), generic)
	_, ok = h.remote.uploaded("preseeds/curtin_userdata")
	assert.True(t, ok)

	cmds := h.remote.Commands()
	require.Len(t, cmds, 2)
	assert.Equal(t, []string{"mkdir", "-p", "preseeds"}, cmds[0].Args)
	assert.Equal(t, []string{"bash", "-s"}, cmds[1].Args)
	assert.Equal(t, installPreseeds, cmds[1].Stdin)
}

func TestUploadPreseeds_NothingToInstall(t *testing.T) {
	env := testEnv()
	h := newHarness(t, env)

	require.NoError(t, h.engine.uploadPreseeds(h.phaseContext(env)))
	assert.Empty(t, h.remote.Calls())
}
