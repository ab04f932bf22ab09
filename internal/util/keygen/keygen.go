package keygen

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/crypto/ssh"
)

// DefaultBits is the key size used for generated identities.
const DefaultBits = 4096

// KeyPair holds an RSA key pair in ready-to-use formats.
type KeyPair struct {
	// PrivateKey is the RSA private key in PEM-encoded PKCS#1 format.
	PrivateKey []byte
	// PublicKey is the public key in OpenSSH authorized_keys format.
	PublicKey []byte
}

// GenerateRSAKeyPair generates a new RSA key pair with the specified bit size.
func GenerateRSAKeyPair(bits int) (*KeyPair, error) {
	privateKey, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate RSA private key: %w", err)
	}

	privBlock := pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(privateKey),
	}

	pub, err := ssh.NewPublicKey(&privateKey.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create SSH public key: %w", err)
	}

	return &KeyPair{
		PrivateKey: pem.EncodeToMemory(&privBlock),
		PublicKey:  ssh.MarshalAuthorizedKey(pub),
	}, nil
}

// LoadOrCreate reads the identity at path (and path+".pub"). When the private
// key is missing a new pair is generated and written with ssh-keygen's
// permissions. An existing private key without a public half gets the public
// key derived from it.
func LoadOrCreate(path string, bits int) (*KeyPair, bool, error) {
	priv, err := os.ReadFile(path)
	switch {
	case err == nil:
		pub, err := publicFor(path, priv)
		if err != nil {
			return nil, false, err
		}
		return &KeyPair{PrivateKey: priv, PublicKey: pub}, false, nil
	case !errors.Is(err, fs.ErrNotExist):
		return nil, false, fmt.Errorf("failed to read %s: %w", path, err)
	}

	kp, err := GenerateRSAKeyPair(bits)
	if err != nil {
		return nil, false, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, false, fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, kp.PrivateKey, 0o600); err != nil {
		return nil, false, fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := os.WriteFile(path+".pub", kp.PublicKey, 0o644); err != nil {
		return nil, false, fmt.Errorf("failed to write %s.pub: %w", path, err)
	}
	return kp, true, nil
}

func publicFor(path string, priv []byte) ([]byte, error) {
	pub, err := os.ReadFile(path + ".pub")
	if err == nil {
		return pub, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read %s.pub: %w", path, err)
	}
	signer, err := ssh.ParsePrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return ssh.MarshalAuthorizedKey(signer.PublicKey()), nil
}
