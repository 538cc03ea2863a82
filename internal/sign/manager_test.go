package sign

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kgen-dev/kgen-attest/pkg/types"
)

func newTestManager(t *testing.T, cfg Config) *Manager {
	t.Helper()
	if cfg.KeyPath == "" {
		cfg.KeyPath = filepath.Join(t.TempDir(), "signing.key")
	}
	m := NewManager(cfg)
	if err := m.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return m
}

func TestInitializeGeneratesAndReloads(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "signing.key")
	m1 := newTestManager(t, Config{KeyPath: keyPath})
	fp := m1.Fingerprint()
	if fp == "" {
		t.Fatal("empty fingerprint after init")
	}
	if m1.Algorithm() != types.AlgorithmEd25519 {
		t.Fatalf("default algorithm = %s", m1.Algorithm())
	}

	m2 := newTestManager(t, Config{KeyPath: keyPath})
	if m2.Fingerprint() != fp {
		t.Fatalf("reload changed fingerprint: %s vs %s", m2.Fingerprint(), fp)
	}
}

func TestInitializeAlgorithmMismatch(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "signing.key")
	newTestManager(t, Config{KeyPath: keyPath})

	m := NewManager(Config{Algorithm: types.AlgorithmRSA, KeyPath: keyPath})
	err := m.Initialize()
	var initErr *types.KeyInitializationError
	if !errors.As(err, &initErr) {
		t.Fatalf("expected KeyInitializationError, got %v", err)
	}
}

func TestInitializeRSAKeySizeBounds(t *testing.T) {
	for _, size := range []int{1024, 8192} {
		m := NewManager(Config{
			Algorithm: types.AlgorithmRSA,
			KeySize:   size,
			KeyPath:   filepath.Join(t.TempDir(), "signing.key"),
		})
		var initErr *types.KeyInitializationError
		if err := m.Initialize(); !errors.As(err, &initErr) {
			t.Fatalf("size %d: expected KeyInitializationError, got %v", size, err)
		}
	}
}

func TestPassphraseEncryptedKey(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "signing.key")
	m1 := newTestManager(t, Config{KeyPath: keyPath, Passphrase: "correct horse"})
	fp := m1.Fingerprint()

	m2 := newTestManager(t, Config{KeyPath: keyPath, Passphrase: "correct horse"})
	if m2.Fingerprint() != fp {
		t.Fatal("passphrase reload changed fingerprint")
	}

	m3 := NewManager(Config{KeyPath: keyPath, Passphrase: "wrong"})
	var initErr *types.KeyInitializationError
	if err := m3.Initialize(); !errors.As(err, &initErr) {
		t.Fatalf("expected KeyInitializationError for wrong passphrase, got %v", err)
	}
}

func TestSignAndVerifyRoundTrip(t *testing.T) {
	for _, algorithm := range []string{types.AlgorithmEd25519, types.AlgorithmRSA} {
		t.Run(algorithm, func(t *testing.T) {
			m := newTestManager(t, Config{Algorithm: algorithm})
			payload := map[string]any{"artifact": "a.txt", "hash": "abc123"}

			sig, err := m.SignData(payload)
			if err != nil {
				t.Fatalf("SignData: %v", err)
			}
			ok, err := m.VerifySignature(payload, sig, m.PublicKey())
			if err != nil {
				t.Fatalf("VerifySignature: %v", err)
			}
			if !ok {
				t.Fatal("signature did not verify")
			}

			// Field order must not matter.
			reordered := map[string]any{"hash": "abc123", "artifact": "a.txt"}
			if ok, _ := m.VerifySignature(reordered, sig, m.PublicKey()); !ok {
				t.Fatal("reordered payload failed verification")
			}

			tampered := map[string]any{"artifact": "a.txt", "hash": "abc124"}
			if ok, _ := m.VerifySignature(tampered, sig, m.PublicKey()); ok {
				t.Fatal("tampered payload verified")
			}
		})
	}
}

func TestVerifySignatureMalformedBase64(t *testing.T) {
	m := newTestManager(t, Config{})
	if _, err := m.VerifySignature("data", "not base64!!!", m.PublicKey()); err == nil {
		t.Fatal("expected error for malformed signature encoding")
	}
}

func TestVerifyAttestationWith(t *testing.T) {
	m := newTestManager(t, Config{})
	att := testAttestation(t, m)

	ok, err := VerifyAttestationWith(att, m.PublicKey())
	if err != nil {
		t.Fatalf("VerifyAttestationWith: %v", err)
	}
	if !ok {
		t.Fatal("valid attestation rejected")
	}

	att.Artifact.ContentHash = strings.Repeat("0", 64)
	if ok, _ := VerifyAttestationWith(att, m.PublicKey()); ok {
		t.Fatal("attestation with altered content verified")
	}
}

func TestVerifyAttestationAlgorithmMismatch(t *testing.T) {
	m := newTestManager(t, Config{})
	att := testAttestation(t, m)
	att.Signature.Algorithm = types.AlgorithmRSA
	if ok, _ := VerifyAttestationWith(att, m.PublicKey()); ok {
		t.Fatal("algorithm tag mismatch accepted")
	}
}

func TestRotateKeys(t *testing.T) {
	m := newTestManager(t, Config{})
	before := m.Fingerprint()
	oldPub := m.PublicKey()

	payload := "stable payload"
	oldSig, err := m.SignData(payload)
	if err != nil {
		t.Fatal(err)
	}

	rotation, err := m.RotateKeys()
	if err != nil {
		t.Fatalf("RotateKeys: %v", err)
	}
	if rotation.OldFingerprint != before {
		t.Fatalf("old fingerprint = %s, want %s", rotation.OldFingerprint, before)
	}
	if rotation.NewFingerprint == before {
		t.Fatal("rotation did not change fingerprint")
	}
	if m.Fingerprint() != rotation.NewFingerprint {
		t.Fatal("manager fingerprint not updated")
	}

	// Signatures from before rotation stay verifiable with the old key.
	if ok, _ := m.VerifySignature(payload, oldSig, oldPub); !ok {
		t.Fatal("pre-rotation signature no longer verifies with old key")
	}
	if ok, _ := m.VerifySignature(payload, oldSig, m.PublicKey()); ok {
		t.Fatal("pre-rotation signature verified with new key")
	}
}

func TestStatusExposesNoSecrets(t *testing.T) {
	m := newTestManager(t, Config{})
	s := m.Status()
	if s.Algorithm != types.AlgorithmEd25519 || s.HashAlgorithm != types.HashAlgorithmSHA256 {
		t.Fatalf("status = %+v", s)
	}
	if s.KeyMetadata.Fingerprint != m.Fingerprint() {
		t.Fatal("status fingerprint mismatch")
	}
	if s.KeyMetadata.CreatedAt == "" {
		t.Fatal("missing createdAt")
	}
}

func TestSignDataWithoutKey(t *testing.T) {
	m := NewManager(Config{Disabled: true})
	if err := m.Initialize(); err != nil {
		t.Fatalf("Initialize disabled: %v", err)
	}
	if _, err := m.SignData("x"); err == nil {
		t.Fatal("expected error signing without key material")
	}
}

func TestPublicKeyPEMRoundTrip(t *testing.T) {
	m := newTestManager(t, Config{})
	pemStr, err := m.PublicKeyPEM()
	if err != nil {
		t.Fatalf("PublicKeyPEM: %v", err)
	}
	pub, err := ParsePublicKeyPEM(pemStr)
	if err != nil {
		t.Fatalf("ParsePublicKeyPEM: %v", err)
	}
	fp, err := FingerprintPublicKeyPEM(pemStr)
	if err != nil {
		t.Fatalf("FingerprintPublicKeyPEM: %v", err)
	}
	if fp != m.Fingerprint() {
		t.Fatalf("PEM fingerprint %s != manager fingerprint %s", fp, m.Fingerprint())
	}
	sig, err := m.SignData("payload")
	if err != nil {
		t.Fatal(err)
	}
	if ok, _ := m.VerifySignature("payload", sig, pub); !ok {
		t.Fatal("parsed PEM key failed verification")
	}
}

// testAttestation builds a minimal signed attestation the way the generator
// does: sign the canonical form with the signature block absent.
func testAttestation(t *testing.T, m *Manager) types.Attestation {
	t.Helper()
	att := types.Attestation{
		AttestationID: "att-1",
		ArtifactID:    "art-1",
		Artifact: types.Artifact{
			Path:        "out/a.txt",
			SizeBytes:   5,
			ContentHash: strings.Repeat("a", 64),
		},
		Generation: types.Generation{
			OperationID:   "op-1",
			PredicateType: types.PredicateKgenV1,
		},
		Provenance: types.Provenance{GraphHash: strings.Repeat("b", 64)},
		Integrity:  types.Integrity{HashAlgorithm: types.HashAlgorithmSHA256},
		Timestamps: types.Timestamps{CreatedAt: time.Now().UTC().Format(time.RFC3339)},
	}
	subset, err := att.SignablePayload()
	if err != nil {
		t.Fatalf("SignablePayload: %v", err)
	}
	sig, err := m.SignData(subset)
	if err != nil {
		t.Fatalf("SignData: %v", err)
	}
	att.Signature = &types.SignatureBlock{
		Algorithm:      m.Algorithm(),
		Signature:      sig,
		KeyFingerprint: m.Fingerprint(),
		SignedAt:       time.Now().UTC().Format(time.RFC3339),
	}
	return att
}
