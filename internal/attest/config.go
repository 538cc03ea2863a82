package attest

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/kgen-dev/kgen-attest/internal/sign"
	"github.com/kgen-dev/kgen-attest/pkg/types"
)

// ServiceConfig is the YAML configuration for the attestation service.
type ServiceConfig struct {
	Key              sign.Config `yaml:"key"`
	RequireSignature bool        `yaml:"requireSignature"`
	ReceiptsDir      string      `yaml:"receiptsDir"`
	TrustPolicyPath  string      `yaml:"trustPolicyPath"`
	MaxConcurrency   int         `yaml:"maxConcurrency"`
}

const DefaultConfigPath = ".kgen/attest.yaml"

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		Key: sign.Config{
			Algorithm: types.AlgorithmEd25519,
			KeyPath:   ".kgen/signing.key",
			KeySize:   sign.DefaultRSAKeySize,
		},
		RequireSignature: true,
		ReceiptsDir:      ".kgen/receipts",
		MaxConcurrency:   4,
	}
}

// LoadConfig reads a YAML config into out.
func LoadConfig(path string, out any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// LoadServiceConfig loads the service config from path, falling back to
// defaults when the file does not exist. The signing passphrase is taken
// from KGEN_KEY_PASSPHRASE, never from the config file.
func LoadServiceConfig(path string) (ServiceConfig, error) {
	cfg := DefaultServiceConfig()
	if path == "" {
		path = DefaultConfigPath
	}
	if _, err := os.Stat(path); err == nil {
		if err := LoadConfig(path, &cfg); err != nil {
			return ServiceConfig{}, err
		}
	}
	cfg.Key.Passphrase = os.Getenv("KGEN_KEY_PASSPHRASE")
	return cfg, nil
}

// WriteDefaultConfig scaffolds the default config file if missing.
func WriteDefaultConfig(path string) error {
	if path == "" {
		path = DefaultConfigPath
	}
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	raw, err := yaml.Marshal(DefaultServiceConfig())
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}
