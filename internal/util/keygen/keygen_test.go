package keygen

import (
	"encoding/pem"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

func TestGenerateRSAKeyPair(t *testing.T) {
	t.Parallel()

	kp, err := GenerateRSAKeyPair(2048)
	require.NoError(t, err)

	block, _ := pem.Decode(kp.PrivateKey)
	require.NotNil(t, block)
	assert.Equal(t, "RSA PRIVATE KEY", block.Type)

	assert.True(t, strings.HasPrefix(string(kp.PublicKey), "ssh-rsa "))
	_, _, _, _, err = ssh.ParseAuthorizedKey(kp.PublicKey)
	require.NoError(t, err)
}

func TestLoadOrCreate_GeneratesMissingIdentity(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), ".ssh", "id_maas")
	kp, created, err := LoadOrCreate(path, 2048)
	require.NoError(t, err)
	assert.True(t, created)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	pub, err := os.ReadFile(path + ".pub")
	require.NoError(t, err)
	assert.Equal(t, kp.PublicKey, pub)

	again, created, err := LoadOrCreate(path, 2048)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, kp.PrivateKey, again.PrivateKey)
}

func TestLoadOrCreate_DerivesMissingPublicKey(t *testing.T) {
	t.Parallel()

	kp, err := GenerateRSAKeyPair(2048)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "id_maas")
	require.NoError(t, os.WriteFile(path, kp.PrivateKey, 0o600))

	loaded, created, err := LoadOrCreate(path, 2048)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, kp.PublicKey, loaded.PublicKey)
}

func TestLoadOrCreate_InvalidPrivateKey(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "id_maas")
	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o600))

	_, _, err := LoadOrCreate(path, 2048)
	assert.Error(t, err)
}
