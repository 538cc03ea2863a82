package sign

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/subtle"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/kgen-dev/kgen-attest/internal/hash"
	"github.com/kgen-dev/kgen-attest/pkg/types"
)

const (
	DefaultRSAKeySize = 2048
	MaxRSAKeySize     = 4096
)

// Config selects the signing algorithm and where key material lives.
// Ed25519 is the default; RSA-SHA256 is the legacy-compat option.
type Config struct {
	Algorithm  string `yaml:"algorithm"`
	KeySize    int    `yaml:"keySize"`
	KeyPath    string `yaml:"keyPath"`
	Passphrase string `yaml:"-"`
	Disabled   bool   `yaml:"disabled"`
}

// KeyMaterial is the active key pair. The private key never leaves this
// package through any accessor or status report.
type KeyMaterial struct {
	algorithm   string
	ed25519Key  ed25519.PrivateKey
	rsaKey      *rsa.PrivateKey
	public      crypto.PublicKey
	keySize     int
	fingerprint string
	createdAt   time.Time
}

func (k *KeyMaterial) Fingerprint() string { return k.fingerprint }
func (k *KeyMaterial) Algorithm() string   { return k.algorithm }
func (k *KeyMaterial) Public() crypto.PublicKey {
	return k.public
}

// Status is the non-secret key metadata surface.
type Status struct {
	Algorithm     string      `json:"algorithm"`
	HashAlgorithm string      `json:"hashAlgorithm"`
	KeySize       int         `json:"keySize"`
	KeyMetadata   KeyMetadata `json:"keyMetadata"`
}

type KeyMetadata struct {
	Fingerprint string `json:"fingerprint"`
	CreatedAt   string `json:"createdAt"`
}

type RotationResult struct {
	OldFingerprint string `json:"oldFingerprint"`
	NewFingerprint string `json:"newFingerprint"`
}

// Manager owns the signing key pair. Rotation mutates shared key state, so
// all key access goes through an RWMutex: signing and verification take read
// locks, rotation takes the write lock, and no signature is ever produced
// with a half-rotated key.
type Manager struct {
	cfg Config

	mu       sync.RWMutex
	material *KeyMaterial
}

func NewManager(cfg Config) *Manager {
	if cfg.Algorithm == "" {
		cfg.Algorithm = types.AlgorithmEd25519
	}
	if cfg.KeySize == 0 {
		cfg.KeySize = DefaultRSAKeySize
	}
	return &Manager{cfg: cfg}
}

// Initialize loads the key pair from the configured path, or generates and
// persists a new one when none exists.
func (m *Manager) Initialize() error {
	if m.cfg.Disabled {
		return nil
	}
	if m.cfg.Algorithm == types.AlgorithmRSA {
		if m.cfg.KeySize < DefaultRSAKeySize || m.cfg.KeySize > MaxRSAKeySize {
			return &types.KeyInitializationError{
				Path: m.cfg.KeyPath,
				Err:  fmt.Errorf("rsa key size %d outside [%d, %d]", m.cfg.KeySize, DefaultRSAKeySize, MaxRSAKeySize),
			}
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if hash.FileExists(m.cfg.KeyPath) {
		material, err := loadKeyFile(m.cfg.KeyPath, m.cfg.Passphrase)
		if err != nil {
			return &types.KeyInitializationError{Path: m.cfg.KeyPath, Err: err}
		}
		if material.algorithm != m.cfg.Algorithm {
			return &types.KeyInitializationError{
				Path: m.cfg.KeyPath,
				Err:  fmt.Errorf("stored key is %s, configured algorithm is %s", material.algorithm, m.cfg.Algorithm),
			}
		}
		m.material = material
		return nil
	}

	material, err := generateKeyMaterial(m.cfg.Algorithm, m.cfg.KeySize)
	if err != nil {
		return &types.KeyInitializationError{Path: m.cfg.KeyPath, Err: err}
	}
	if err := saveKeyFile(m.cfg.KeyPath, material, m.cfg.Passphrase); err != nil {
		return &types.KeyInitializationError{Path: m.cfg.KeyPath, Err: err}
	}
	m.material = material
	return nil
}

// SignData canonicalizes the payload and signs it with the active key.
// Objects canonicalize through JCS; byte slices and strings sign as raw
// bytes. Returns the base64 signature.
func (m *Manager) SignData(payload any) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.material == nil {
		return "", &types.SigningUnavailableError{Reason: "no signing key initialized"}
	}
	canonical, err := canonicalBytes(payload)
	if err != nil {
		return "", err
	}

	switch m.material.algorithm {
	case types.AlgorithmEd25519:
		sig := ed25519.Sign(m.material.ed25519Key, canonical)
		return base64.StdEncoding.EncodeToString(sig), nil
	case types.AlgorithmRSA:
		digest := sha256.Sum256(canonical)
		sig, err := rsa.SignPKCS1v15(rand.Reader, m.material.rsaKey, crypto.SHA256, digest[:])
		if err != nil {
			return "", fmt.Errorf("rsa sign: %w", err)
		}
		return base64.StdEncoding.EncodeToString(sig), nil
	default:
		return "", &types.SigningUnavailableError{Reason: "unsupported algorithm " + m.material.algorithm}
	}
}

// VerifySignature recomputes the canonical form and checks the base64
// signature against pub, or against the manager's own public key when pub is
// nil. A cryptographically invalid signature returns false without error;
// only malformed inputs error.
func (m *Manager) VerifySignature(payload any, sigB64 string, pub crypto.PublicKey) (bool, error) {
	canonical, err := canonicalBytes(payload)
	if err != nil {
		return false, err
	}
	rawSig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return false, fmt.Errorf("decode signature: %w", err)
	}
	if pub == nil {
		m.mu.RLock()
		if m.material != nil {
			pub = m.material.public
		}
		m.mu.RUnlock()
	}
	if pub == nil {
		return false, fmt.Errorf("no public key available")
	}
	return verifyRaw(pub, canonical, rawSig), nil
}

// VerifyAttestation verifies the embedded signature against pub, or against
// the manager's own public key when pub is nil.
func (m *Manager) VerifyAttestation(att types.Attestation, pub crypto.PublicKey) (bool, error) {
	if pub == nil {
		m.mu.RLock()
		if m.material != nil {
			pub = m.material.public
		}
		m.mu.RUnlock()
	}
	return VerifyAttestationWith(att, pub)
}

// VerifyAttestationWith extracts the signable subset (every field except the
// signature), canonicalizes it, and verifies the embedded signature against
// pub. The individual checks are evaluated unconditionally and combined at
// the end so a rejection does not reveal which check failed through timing.
func VerifyAttestationWith(att types.Attestation, pub crypto.PublicKey) (bool, error) {
	if att.Signature == nil {
		return false, nil
	}
	subset, err := att.SignablePayload()
	if err != nil {
		return false, err
	}
	canonical, err := hash.Canonical(subset)
	if err != nil {
		return false, err
	}
	if pub == nil {
		return false, fmt.Errorf("no public key available")
	}

	algOK := 0
	switch pub.(type) {
	case ed25519.PublicKey:
		algOK = subtle.ConstantTimeCompare([]byte(att.Signature.Algorithm), []byte(types.AlgorithmEd25519))
	case *rsa.PublicKey:
		algOK = subtle.ConstantTimeCompare([]byte(att.Signature.Algorithm), []byte(types.AlgorithmRSA))
	}

	sigOK := 0
	rawSig, decErr := base64.StdEncoding.DecodeString(att.Signature.Signature)
	if decErr == nil && verifyRaw(pub, canonical, rawSig) {
		sigOK = 1
	}

	return algOK&sigOK == 1, nil
}

func verifyRaw(pub crypto.PublicKey, canonical, rawSig []byte) bool {
	switch p := pub.(type) {
	case ed25519.PublicKey:
		if len(p) != ed25519.PublicKeySize || len(rawSig) != ed25519.SignatureSize {
			return false
		}
		return ed25519.Verify(p, canonical, rawSig)
	case *rsa.PublicKey:
		digest := sha256.Sum256(canonical)
		return rsa.VerifyPKCS1v15(p, crypto.SHA256, digest[:], rawSig) == nil
	default:
		return false
	}
}

// GenerateHash hashes primitive, byte, and object inputs with SHA-256.
// Inputs that cannot be deterministically serialized fail with a
// HashInputError.
func (m *Manager) GenerateHash(data any) (string, error) {
	return hash.Sum(data)
}

// RotateKeys generates and persists a new key pair, replacing the active key.
// Attestations signed before rotation remain verifiable only if the caller
// retains the old public key.
func (m *Manager) RotateKeys() (RotationResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.material == nil {
		return RotationResult{}, &types.SigningUnavailableError{Reason: "no signing key initialized"}
	}
	old := m.material.fingerprint
	material, err := generateKeyMaterial(m.cfg.Algorithm, m.cfg.KeySize)
	if err != nil {
		return RotationResult{}, fmt.Errorf("rotate keys: %w", err)
	}
	if err := saveKeyFile(m.cfg.KeyPath, material, m.cfg.Passphrase); err != nil {
		return RotationResult{}, fmt.Errorf("persist rotated key: %w", err)
	}
	m.material = material
	return RotationResult{OldFingerprint: old, NewFingerprint: material.fingerprint}, nil
}

// Status returns non-secret key metadata only.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := Status{
		Algorithm:     m.cfg.Algorithm,
		HashAlgorithm: types.HashAlgorithmSHA256,
	}
	if m.material != nil {
		s.KeySize = m.material.keySize
		s.KeyMetadata = KeyMetadata{
			Fingerprint: m.material.fingerprint,
			CreatedAt:   m.material.createdAt.UTC().Format(time.RFC3339),
		}
	}
	return s
}

// Fingerprint returns the active key fingerprint, or empty when no key is
// initialized.
func (m *Manager) Fingerprint() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.material == nil {
		return ""
	}
	return m.material.fingerprint
}

// Algorithm returns the configured signing algorithm.
func (m *Manager) Algorithm() string { return m.cfg.Algorithm }

// PublicKey returns the active public key, or nil when none is initialized.
func (m *Manager) PublicKey() crypto.PublicKey {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.material == nil {
		return nil
	}
	return m.material.public
}

// PublicKeyPEM returns the PKIX PEM encoding of the active public key.
func (m *Manager) PublicKeyPEM() (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.material == nil {
		return "", &types.SigningUnavailableError{Reason: "no signing key initialized"}
	}
	return EncodePublicKeyPEM(m.material.public)
}

func canonicalBytes(payload any) ([]byte, error) {
	switch p := payload.(type) {
	case []byte:
		return p, nil
	case string:
		return []byte(p), nil
	default:
		return hash.Canonical(payload)
	}
}

func generateKeyMaterial(algorithm string, keySize int) (*KeyMaterial, error) {
	switch algorithm {
	case types.AlgorithmEd25519:
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, err
		}
		fp, err := fingerprintOf(pub)
		if err != nil {
			return nil, err
		}
		return &KeyMaterial{
			algorithm:   algorithm,
			ed25519Key:  priv,
			public:      pub,
			keySize:     ed25519.PublicKeySize * 8,
			fingerprint: fp,
			createdAt:   time.Now().UTC(),
		}, nil
	case types.AlgorithmRSA:
		priv, err := rsa.GenerateKey(rand.Reader, keySize)
		if err != nil {
			return nil, err
		}
		fp, err := fingerprintOf(&priv.PublicKey)
		if err != nil {
			return nil, err
		}
		return &KeyMaterial{
			algorithm:   algorithm,
			rsaKey:      priv,
			public:      &priv.PublicKey,
			keySize:     keySize,
			fingerprint: fp,
			createdAt:   time.Now().UTC(),
		}, nil
	default:
		return nil, fmt.Errorf("unsupported algorithm %s", algorithm)
	}
}

// fingerprintOf derives the key fingerprint as the SHA-256 hex digest of the
// PKIX public key encoding.
func fingerprintOf(pub crypto.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("marshal public key: %w", err)
	}
	sum := sha256.Sum256(der)
	return hex.EncodeToString(sum[:]), nil
}
