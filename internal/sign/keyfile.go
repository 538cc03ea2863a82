package sign

import (
	"bytes"
	"crypto"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"filippo.io/age"

	"github.com/kgen-dev/kgen-attest/pkg/types"
)

// Key files hold a PKCS#8 private key in PEM. When a passphrase is
// configured the PEM bytes are wrapped in an age scrypt envelope, so a key
// file can only be opened with the passphrase it was written with.

const ageHeader = "age-encryption.org/"

func saveKeyFile(path string, material *KeyMaterial, passphrase string) error {
	var priv any
	switch material.algorithm {
	case types.AlgorithmEd25519:
		priv = material.ed25519Key
	default:
		priv = material.rsaKey
	}
	pkcs8, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return fmt.Errorf("marshal private key: %w", err)
	}
	raw := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: pkcs8})

	if passphrase != "" {
		recipient, err := age.NewScryptRecipient(passphrase)
		if err != nil {
			return fmt.Errorf("derive passphrase recipient: %w", err)
		}
		buf := &bytes.Buffer{}
		w, err := age.Encrypt(buf, recipient)
		if err != nil {
			return fmt.Errorf("encrypt key: %w", err)
		}
		if _, err := w.Write(raw); err != nil {
			return fmt.Errorf("encrypt key: %w", err)
		}
		if err := w.Close(); err != nil {
			return fmt.Errorf("encrypt key: %w", err)
		}
		raw = buf.Bytes()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return writeFileAtomic(path, raw, 0o600)
}

func loadKeyFile(path, passphrase string) (*KeyMaterial, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}

	if bytes.HasPrefix(raw, []byte(ageHeader)) {
		if passphrase == "" {
			return nil, fmt.Errorf("key file is passphrase protected")
		}
		identity, err := age.NewScryptIdentity(passphrase)
		if err != nil {
			return nil, fmt.Errorf("derive passphrase identity: %w", err)
		}
		r, err := age.Decrypt(bytes.NewReader(raw), identity)
		if err != nil {
			return nil, fmt.Errorf("decrypt key: %w", err)
		}
		raw, err = io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("decrypt key: %w", err)
		}
	} else if passphrase != "" {
		return nil, fmt.Errorf("passphrase supplied but key file is not encrypted")
	}

	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("invalid pem key")
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse pkcs8 key: %w", err)
	}

	fi, _ := os.Stat(path)
	createdAt := time.Now().UTC()
	if fi != nil {
		createdAt = fi.ModTime().UTC()
	}

	switch key := parsed.(type) {
	case ed25519.PrivateKey:
		pub := key.Public().(ed25519.PublicKey)
		fp, err := fingerprintOf(pub)
		if err != nil {
			return nil, err
		}
		return &KeyMaterial{
			algorithm:   types.AlgorithmEd25519,
			ed25519Key:  key,
			public:      pub,
			keySize:     ed25519.PublicKeySize * 8,
			fingerprint: fp,
			createdAt:   createdAt,
		}, nil
	case *rsa.PrivateKey:
		fp, err := fingerprintOf(&key.PublicKey)
		if err != nil {
			return nil, err
		}
		return &KeyMaterial{
			algorithm:   types.AlgorithmRSA,
			rsaKey:      key,
			public:      &key.PublicKey,
			keySize:     key.N.BitLen(),
			fingerprint: fp,
			createdAt:   createdAt,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported key type %T", parsed)
	}
}

// EncodePublicKeyPEM returns the PKIX PEM encoding of a public key.
func EncodePublicKeyPEM(pub crypto.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("marshal public key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}

// ParsePublicKeyPEM parses a PKIX PEM public key; Ed25519 and RSA keys are
// accepted.
func ParsePublicKeyPEM(rawPEM string) (crypto.PublicKey, error) {
	block, _ := pem.Decode([]byte(strings.TrimSpace(rawPEM)))
	if block == nil {
		return nil, fmt.Errorf("invalid public key pem")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	switch pub.(type) {
	case ed25519.PublicKey, *rsa.PublicKey:
		return pub, nil
	default:
		return nil, fmt.Errorf("unsupported public key type %T", pub)
	}
}

// FingerprintPublicKeyPEM returns the fingerprint of a PEM encoded public
// key, matching the fingerprint recorded at signing time.
func FingerprintPublicKeyPEM(rawPEM string) (string, error) {
	pub, err := ParsePublicKeyPEM(rawPEM)
	if err != nil {
		return "", err
	}
	return fingerprintOf(pub)
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
