package deploy

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imamik/vmaas/internal/config"
	"github.com/imamik/vmaas/internal/deployerr"
	"github.com/imamik/vmaas/internal/platform/maas"
	"github.com/imamik/vmaas/internal/util/shell/shelltest"
)

func TestControllerAddress(t *testing.T) {
	t.Run("configured", func(t *testing.T) {
		env := testEnv()
		h := newHarness(t, env)
		addr, err := h.engine.controllerAddress(h.phaseContext(env))
		require.NoError(t, err)
		assert.Equal(t, "192.168.122.2", addr)
	})

	t.Run("prompted", func(t *testing.T) {
		env := testEnv()
		env.MAAS.IPAddress = ""
		h := newHarness(t, env)
		h.engine.opts.PromptAddress = func(_ context.Context, controller string) (string, error) {
			assert.Equal(t, "maas", controller)
			return " 10.0.0.9\n", nil
		}
		addr, err := h.engine.controllerAddress(h.phaseContext(env))
		require.NoError(t, err)
		assert.Equal(t, "10.0.0.9", addr)
	})

	t.Run("missing without prompt", func(t *testing.T) {
		env := testEnv()
		env.MAAS.IPAddress = ""
		h := newHarness(t, env)
		_, err := h.engine.controllerAddress(h.phaseContext(env))
		var ve *deployerr.ValueError
		require.ErrorAs(t, err, &ve)
	})

	t.Run("empty answer", func(t *testing.T) {
		env := testEnv()
		env.MAAS.IPAddress = ""
		h := newHarness(t, env)
		h.engine.opts.PromptAddress = func(context.Context, string) (string, error) { return "  ", nil }
		_, err := h.engine.controllerAddress(h.phaseContext(env))
		var ve *deployerr.ValueError
		require.ErrorAs(t, err, &ve)
	})
}

func TestWaitForController(t *testing.T) {
	env := testEnv()
	h := newHarness(t, env)
	var dialled string
	h.engine.opts.Dial = func(_ context.Context, host, user string, key []byte) (Remote, error) {
		dialled = user + "@" + host
		assert.Equal(t, []byte("private"), key)
		return h.remote, nil
	}

	ctx := h.phaseContext(env)
	h.engine.remote = nil
	require.NoError(t, h.engine.waitForController(ctx))

	assert.Equal(t, env.MAAS.User+"@192.168.122.2", dialled)
	assert.Equal(t, "192.168.122.2", ctx.State.ControllerIP)
	assert.Same(t, h.remote, h.engine.remote)
	assert.Equal(t, 1, h.remote.pings)
	assert.False(t, h.remote.Called("bash -c"), "marker already present")
}

func TestWaitForController_RetriesPing(t *testing.T) {
	env := testEnv()
	h := newHarness(t, env)
	h.remote.pingErr = []error{errors.New("connection refused")}

	ctx := h.phaseContext(env)
	ctx.Timeouts.VMReady = 10 * time.Second
	require.NoError(t, h.engine.waitForController(ctx))
	assert.Equal(t, 2, h.remote.pings)
}

func TestWaitForController_DialFailure(t *testing.T) {
	env := testEnv()
	h := newHarness(t, env)
	h.engine.opts.Dial = func(context.Context, string, string, []byte) (Remote, error) {
		return nil, errors.New("no route to host")
	}

	err := h.engine.waitForController(h.phaseContext(env))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no route to host")
}

func TestWaitForCloudInit_FollowsLog(t *testing.T) {
	env := testEnv()
	h := newHarness(t, env)
	h.remote.On("grep", shelltest.Reply{ExitCode: 1})

	require.NoError(t, h.engine.waitForCloudInit(h.phaseContext(env)))

	cmds := h.remote.Commands()
	require.Len(t, cmds, 2)
	assert.Equal(t, []string{"grep", "MAAS controller is now configured", CloudInitLog}, cmds[0].Args)
	assert.Equal(t, "bash", cmds[1].Args[0])
	assert.Contains(t, cmds[1].Args[2], "sudo tail -n 1 -F /var/log/cloud-init-output.log")
}

func TestWaitForCloudInit_GivesUp(t *testing.T) {
	env := testEnv()
	h := newHarness(t, env)
	h.remote.
		On("grep", shelltest.Reply{ExitCode: 1}).
		On("bash -c", shelltest.Reply{ExitCode: 255, Stderr: "connection reset"})

	err := h.engine.waitForCloudInit(h.phaseContext(env))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cloud-init did not finish")
}

func TestConfigureVirshControl(t *testing.T) {
	dir := t.TempDir()
	priv := filepath.Join(dir, "virsh")
	pub := filepath.Join(dir, "virsh.pub")
	require.NoError(t, os.WriteFile(priv, []byte("PRIVATE"), 0o600))
	require.NoError(t, os.WriteFile(pub, []byte("PUBLIC"), 0o644))

	env := testEnv()
	env.MAAS.Virsh = &config.VirshControl{RSAPrivKey: priv, RSAPubKey: pub}
	h := newHarness(t, env)

	require.NoError(t, h.engine.configureVirshControl(h.phaseContext(env)))

	data, ok := h.remote.uploaded("virsh-keys/id_rsa")
	require.True(t, ok)
	assert.Equal(t, []byte("PRIVATE"), data)
	data, ok = h.remote.uploaded("virsh-keys/id_rsa.pub")
	require.True(t, ok)
	assert.Equal(t, []byte("PUBLIC"), data)

	cmds := h.remote.Commands()
	require.Len(t, cmds, 2)
	assert.Equal(t, []string{"mkdir", "-p", "virsh-keys"}, cmds[0].Args)
	assert.Equal(t, installVirshKeys, cmds[1].Stdin)
}

func TestConfigureVirshControl_MissingKeyFile(t *testing.T) {
	env := testEnv()
	env.MAAS.Virsh = &config.VirshControl{RSAPrivKey: filepath.Join(t.TempDir(), "absent")}
	h := newHarness(t, env)

	err := h.engine.configureVirshControl(h.phaseContext(env))
	var ve *deployerr.ValueError
	require.ErrorAs(t, err, &ve)
}

func TestConfigureVirshControl_Skipped(t *testing.T) {
	env := testEnv()
	h := newHarness(t, env)
	require.NoError(t, h.engine.configureVirshControl(h.phaseContext(env)))

	env.MAAS.Virsh = &config.VirshControl{URI: "qemu+ssh://h/system"}
	require.NoError(t, h.engine.configureVirshControl(h.phaseContext(env)))
	assert.Empty(t, h.remote.Calls())
}

func TestResolveAPIKey(t *testing.T) {
	t.Run("configured", func(t *testing.T) {
		env := testEnv()
		h := newHarness(t, env)
		ctx := h.phaseContext(env)
		require.NoError(t, h.engine.resolveAPIKey(ctx))
		assert.Equal(t, "consumer:token:secret", ctx.State.APIKey)
		assert.Empty(t, h.remote.Calls())
	})

	t.Run("from cloud-init log", func(t *testing.T) {
		env := testEnv()
		env.MAAS.APIKey = ""
		h := newHarness(t, env)
		h.remote.On("grep", shelltest.Reply{Stdout: "aaa:bbb:ccc\n"})
		ctx := h.phaseContext(env)

		require.NoError(t, h.engine.resolveAPIKey(ctx))
		assert.Equal(t, "aaa:bbb:ccc", ctx.State.APIKey)
		assert.False(t, h.remote.Called("sudo maas-region-admin"))
	})

	t.Run("from region admin", func(t *testing.T) {
		env := testEnv()
		env.MAAS.APIKey = ""
		h := newHarness(t, env)
		h.remote.
			On("grep", shelltest.Reply{ExitCode: 1}).
			On("sudo maas-region-admin apikey", shelltest.Reply{Stdout: "ddd:eee:fff\n"})
		ctx := h.phaseContext(env)

		require.NoError(t, h.engine.resolveAPIKey(ctx))
		assert.Equal(t, "ddd:eee:fff", ctx.State.APIKey)
		assert.True(t, h.remote.Called("sudo maas-region-admin apikey --username "+env.MAAS.User))
	})

	t.Run("empty everywhere", func(t *testing.T) {
		env := testEnv()
		env.MAAS.APIKey = ""
		h := newHarness(t, env)
		h.remote.On("grep", shelltest.Reply{ExitCode: 1})

		err := h.engine.resolveAPIKey(h.phaseContext(env))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to obtain API key")
	})
}

func TestConnectClient(t *testing.T) {
	tests := []struct {
		transport  string
		wantRunner bool
	}{
		{transport: maas.ModeAPI},
		{transport: maas.ModeCLI},
		{transport: maas.ModeSSH, wantRunner: true},
	}

	for _, tt := range tests {
		t.Run(tt.transport, func(t *testing.T) {
			env := testEnv()
			env.MAAS.Transport = tt.transport
			h := newHarness(t, env)
			var got maas.DriverConfig
			h.engine.opts.NewDriver = func(_ context.Context, cfg maas.DriverConfig) (maas.Driver, error) {
				got = cfg
				return h.driver, nil
			}

			ctx := h.phaseContext(env)
			ctx.State.ControllerIP = "10.0.0.2"
			ctx.State.APIKey = "a:b:c"
			require.NoError(t, h.engine.connectClient(ctx))

			require.NotNil(t, ctx.State.Client)
			assert.Equal(t, tt.transport, got.Mode)
			assert.Equal(t, "http://10.0.0.2/MAAS/api/1.0", got.URL)
			assert.Equal(t, "a:b:c", got.APIKey)
			if tt.wantRunner {
				assert.Same(t, h.remote, got.Runner)
			} else {
				assert.Nil(t, got.Runner)
			}
		})
	}
}

func TestConnectClient_DriverFailure(t *testing.T) {
	env := testEnv()
	h := newHarness(t, env)
	h.engine.opts.NewDriver = func(context.Context, maas.DriverConfig) (maas.Driver, error) {
		return nil, errors.New("login failed")
	}

	ctx := h.phaseContext(env)
	ctx.State.ControllerIP = "10.0.0.2"
	err := h.engine.connectClient(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "login failed")
	assert.Nil(t, ctx.State.Client)
}
