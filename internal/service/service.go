// Package service wires the crypto manager, generator, verifier, and receipt
// store into one explicit dependency-injected unit. There is no ambient
// global; callers construct a Service and pass it by reference.
package service

import (
	"github.com/kgen-dev/kgen-attest/internal/attest"
	"github.com/kgen-dev/kgen-attest/internal/policy"
	"github.com/kgen-dev/kgen-attest/internal/sign"
	"github.com/kgen-dev/kgen-attest/internal/store"
	"github.com/kgen-dev/kgen-attest/internal/verify"
	"github.com/kgen-dev/kgen-attest/pkg/types"
)

type Service struct {
	Config    attest.ServiceConfig
	Crypto    *sign.Manager
	Generator *attest.Generator
	Verifier  *verify.Verifier
	Receipts  store.ReceiptStore
	Policy    *types.TrustPolicy
}

// Options tweaks construction beyond the config file.
type Options struct {
	// TrustPolicyPath overrides the configured trust policy location.
	TrustPolicyPath string
	// SkipKeyInit builds a verify-only service that never touches the
	// private key.
	SkipKeyInit bool
}

// New builds a Service from a config file path ("" means the default
// location, with defaults when no file exists).
func New(configPath string, opts Options) (*Service, error) {
	cfg, err := attest.LoadServiceConfig(configPath)
	if err != nil {
		return nil, err
	}

	var pol *types.TrustPolicy
	policyPath := cfg.TrustPolicyPath
	if opts.TrustPolicyPath != "" {
		policyPath = opts.TrustPolicyPath
	}
	if policyPath != "" {
		loaded, err := policy.Load(policyPath)
		if err != nil {
			return nil, err
		}
		pol = &loaded
	}

	crypto := sign.NewManager(cfg.Key)
	if !opts.SkipKeyInit && !cfg.Key.Disabled {
		if err := crypto.Initialize(); err != nil {
			return nil, err
		}
	}

	return &Service{
		Config:    cfg,
		Crypto:    crypto,
		Generator: &attest.Generator{Crypto: crypto, RequireSignature: cfg.RequireSignature},
		Verifier:  verify.New(crypto, pol),
		Receipts:  store.NewReceiptStore(cfg.ReceiptsDir),
		Policy:    pol,
	}, nil
}
