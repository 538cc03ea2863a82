package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kgen-dev/kgen-attest/internal/attest"
	"github.com/kgen-dev/kgen-attest/internal/policy"
	"github.com/kgen-dev/kgen-attest/internal/report"
	"github.com/kgen-dev/kgen-attest/internal/service"
	"github.com/kgen-dev/kgen-attest/internal/store"
	"github.com/kgen-dev/kgen-attest/internal/verify"
	"github.com/kgen-dev/kgen-attest/pkg/types"
)

type cliError struct {
	code int
	err  error
}

func (e cliError) Error() string { return e.err.Error() }

func main() {
	root := newRootCommand()
	if err := root.Execute(); err != nil {
		var ce cliError
		if errors.As(err, &ce) {
			fmt.Fprintln(os.Stderr, ce.err)
			os.Exit(ce.code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var ociPublishFunc = store.PublishOCI
var ociPullFunc = store.PullOCI

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "kgen-attest",
		Short: "Generate and verify signed artifact attestations",
	}
	root.PersistentFlags().String("config", "", "service config path (default .kgen/attest.yaml)")
	root.AddCommand(newInitCommand())
	root.AddCommand(newKeysCommand())
	root.AddCommand(newAttestCommand())
	root.AddCommand(newVerifyCommand())
	root.AddCommand(newPolicyCommand())
	root.AddCommand(newBundleCommand())
	root.AddCommand(newReceiptsCommand())
	root.AddCommand(newPublishCommand())
	root.AddCommand(newPullCommand())
	root.AddCommand(newReportCommand())
	return root
}

func configPath(cmd *cobra.Command) string {
	v, _ := cmd.Flags().GetString("config")
	return v
}

func newInitCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize config, signing key, and receipt store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := attest.WriteDefaultConfig(configPath(cmd)); err != nil {
				return err
			}
			svc, err := service.New(configPath(cmd), service.Options{})
			if err != nil {
				return err
			}
			if err := os.MkdirAll(svc.Config.ReceiptsDir, 0o755); err != nil {
				return err
			}
			status := svc.Crypto.Status()
			fmt.Printf("initialized %s key %s\n", status.Algorithm, status.KeyMetadata.Fingerprint)
			return nil
		},
	}
}

func newKeysCommand() *cobra.Command {
	keysCmd := &cobra.Command{Use: "keys", Short: "Manage the signing key pair"}

	rotateCmd := &cobra.Command{
		Use:   "rotate",
		Short: "Generate a new key pair and replace the active key",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := service.New(configPath(cmd), service.Options{})
			if err != nil {
				return err
			}
			rotation, err := svc.Crypto.RotateKeys()
			if err != nil {
				return err
			}
			// Old attestations stay verifiable only with the retained old
			// public key; print both fingerprints so callers can record it.
			return printJSON(rotation)
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show non-secret key metadata",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := service.New(configPath(cmd), service.Options{})
			if err != nil {
				return err
			}
			return printJSON(svc.Crypto.Status())
		},
	}

	keysCmd.AddCommand(rotateCmd)
	keysCmd.AddCommand(statusCmd)
	return keysCmd
}

func newAttestCommand() *cobra.Command {
	var artifactPath, opType, templateID, templateHash, gitSHA, previousHash, buildInvocation, sourceGraph string
	var agentID, agentName, agentVersion string
	var params, configs, casRoots []string
	var chainIndex int
	var withEnvelope bool

	cmd := &cobra.Command{
		Use:   "attest",
		Short: "Generate a signed attestation sidecar for an artifact",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if artifactPath == "" {
				return fmt.Errorf("--artifact is required")
			}
			svc, err := service.New(configPath(cmd), service.Options{})
			if err != nil {
				return err
			}

			now := time.Now().UTC()
			genCtx := types.GenerationContext{
				OperationID:       uuid.NewString(),
				Type:              opType,
				StartedAt:         now,
				EndedAt:           now,
				TemplateID:        templateID,
				TemplateHash:      templateHash,
				Agent:             types.Agent{ID: agentID, Type: "software", Name: agentName, Version: agentVersion},
				Parameters:        parseKeyValues(params),
				Configuration:     parseKeyValues(configs),
				PreviousHash:      previousHash,
				CASRoots:          casRoots,
				SourceGraph:       sourceGraph,
				BuildInvocationID: buildInvocation,
			}
			if cmd.Flags().Changed("chain-index") {
				genCtx.ChainIndex = &chainIndex
			}

			att, err := svc.Generator.Generate(genCtx, artifactPath)
			if err != nil {
				return err
			}
			sidecarPath, err := attest.WriteSidecar(artifactPath, att)
			if err != nil {
				return err
			}
			fmt.Println(sidecarPath)

			var env *types.Envelope
			if withEnvelope || gitSHA != "" {
				if att.Signature != nil {
					pubPEM, err := svc.Crypto.PublicKeyPEM()
					if err != nil {
						return err
					}
					built, err := attest.NewEnvelope(att, pubPEM)
					if err != nil {
						return err
					}
					env = &built
				}
				if withEnvelope && env != nil {
					envPath := sidecarPath + ".envelope.json"
					if err := attest.WriteEnvelope(envPath, *env); err != nil {
						return err
					}
					fmt.Println(envPath)
				}
			}
			if gitSHA != "" {
				receipt, err := svc.Receipts.Put(gitSHA, artifactPath, att, env)
				if err != nil {
					return err
				}
				fmt.Printf("receipt %s\n", receipt.ID)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&artifactPath, "artifact", "", "artifact file to attest")
	cmd.Flags().StringVar(&opType, "type", "generation", "operation type")
	cmd.Flags().StringVar(&templateID, "template-id", "", "template identifier")
	cmd.Flags().StringVar(&templateHash, "template-hash", "", "template content hash")
	cmd.Flags().StringVar(&agentID, "agent-id", "kgen", "generating agent id")
	cmd.Flags().StringVar(&agentName, "agent-name", "kgen", "generating agent name")
	cmd.Flags().StringVar(&agentVersion, "agent-version", attest.GeneratorVersion, "generating agent version")
	cmd.Flags().StringArrayVar(&params, "param", nil, "generation parameter key=value (repeatable)")
	cmd.Flags().StringArrayVar(&configs, "configuration", nil, "configuration key=value (repeatable)")
	cmd.Flags().StringArrayVar(&casRoots, "cas-root", nil, "content-addressed storage root digest (repeatable)")
	cmd.Flags().StringVar(&sourceGraph, "source-graph", "", "source graph digest")
	cmd.Flags().IntVar(&chainIndex, "chain-index", 0, "position in an attestation chain")
	cmd.Flags().StringVar(&previousHash, "previous-hash", "", "artifact hash of the chain predecessor")
	cmd.Flags().StringVar(&buildInvocation, "build-invocation-id", "", "build invocation identifier")
	cmd.Flags().StringVar(&gitSHA, "git-sha", "", "record a receipt under this commit")
	cmd.Flags().BoolVar(&withEnvelope, "envelope", false, "also write a signed envelope next to the sidecar")
	return cmd
}

func newVerifyCommand() *cobra.Command {
	var artifactPath, trustPolicyPath string
	var deep, skipCache, fast bool

	verifyCmd := &cobra.Command{
		Use:   "verify [sidecar]",
		Short: "Verify an attestation sidecar",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := newVerifier(cmd, trustPolicyPath)
			if err != nil {
				return err
			}

			var res verify.Result
			switch {
			case fast:
				target := artifactPath
				if target == "" && len(args) == 1 {
					target = attest.ArtifactPathFor(args[0])
				}
				if target == "" {
					return fmt.Errorf("--artifact or a sidecar argument is required")
				}
				res = v.FastVerify(target)
			case len(args) == 1:
				res = v.VerifyAttestation(args[0], verify.Options{
					Deep:         deep,
					ArtifactPath: artifactPath,
					SkipCache:    skipCache,
				})
			default:
				return fmt.Errorf("a sidecar argument is required")
			}

			if err := printJSON(res); err != nil {
				return err
			}
			if !res.Verified {
				return cliError{code: res.ExitCode, err: fmt.Errorf("verification failed")}
			}
			return nil
		},
	}
	verifyCmd.Flags().BoolVar(&deep, "deep", false, "rehash the file at --artifact (or next to the sidecar) instead of the recorded path")
	verifyCmd.Flags().BoolVar(&skipCache, "skip-cache", false, "bypass the verification result cache")
	verifyCmd.Flags().BoolVar(&fast, "fast", false, "structure and hash checks only, signature when present")
	verifyCmd.Flags().StringVar(&artifactPath, "artifact", "", "artifact path for --deep and --fast")
	verifyCmd.Flags().StringVar(&trustPolicyPath, "trust-policy", "", "trust policy JSON path")

	verifyCmd.AddCommand(newVerifyChainCommand())
	verifyCmd.AddCommand(newVerifyBatchCommand(&trustPolicyPath))
	return verifyCmd
}

func newVerifyChainCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "chain <sidecar>...",
		Short: "Verify hash-linked attestations in order",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			atts, err := verify.LoadAttestations(args)
			if err != nil {
				return err
			}
			res := verify.VerifyChain(atts)
			if err := printJSON(res); err != nil {
				return err
			}
			if !res.Verified {
				return cliError{code: verify.ExitChainBroken, err: fmt.Errorf("chain verification failed")}
			}
			return nil
		},
	}
}

func newVerifyBatchCommand(trustPolicyPath *string) *cobra.Command {
	var maxConcurrency int
	var deep, skipCache bool
	var outPath string

	cmd := &cobra.Command{
		Use:   "batch <sidecar>...",
		Short: "Verify many sidecars over a bounded worker pool",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := newVerifier(cmd, *trustPolicyPath)
			if err != nil {
				return err
			}
			res := v.BatchVerify(context.Background(), args, verify.BatchOptions{
				MaxConcurrency: maxConcurrency,
				Deep:           deep,
				SkipCache:      skipCache,
			})
			if outPath != "" {
				if err := report.WriteJSON(outPath, res); err != nil {
					return err
				}
				fmt.Println(outPath)
			} else if err := printJSON(res); err != nil {
				return err
			}
			if res.Failed > 0 {
				worst := verify.ExitPass
				for _, item := range res.Results {
					if item.ExitCode > worst {
						worst = item.ExitCode
					}
				}
				return cliError{code: worst, err: fmt.Errorf("%d of %d attestations failed", res.Failed, res.Total)}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&maxConcurrency, "max-concurrency", verify.DefaultBatchConcurrency, "worker pool size")
	cmd.Flags().BoolVar(&deep, "deep", false, "rehash the file next to each sidecar instead of the recorded path")
	cmd.Flags().BoolVar(&skipCache, "skip-cache", false, "bypass the verification result cache")
	cmd.Flags().StringVar(&outPath, "out", "", "write the batch result JSON to a file")
	return cmd
}

func newPolicyCommand() *cobra.Command {
	policyCmd := &cobra.Command{Use: "policy", Short: "Trust policy operations"}
	policyCmd.AddCommand(&cobra.Command{
		Use:   "validate <policy.json>",
		Short: "Schema-validate a trust policy document",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			result, err := policy.Validate(args[0])
			if err != nil {
				return err
			}
			if err := printJSON(result); err != nil {
				return err
			}
			if !result.Valid {
				return cliError{code: verify.ExitPolicyFail, err: fmt.Errorf("trust policy invalid")}
			}
			return nil
		},
	})
	return policyCmd
}

func newBundleCommand() *cobra.Command {
	bundleCmd := &cobra.Command{Use: "bundle", Short: "Export verification documents"}

	var inPath, outPath string
	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Export a self-contained offline verification bundle",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if inPath == "" || outPath == "" {
				return fmt.Errorf("--in and --out are required")
			}
			att, err := attest.ReadSidecar(inPath)
			if err != nil {
				return err
			}
			svc, err := service.New(configPath(cmd), service.Options{})
			if err != nil {
				return err
			}
			pubPEM, err := svc.Crypto.PublicKeyPEM()
			if err != nil {
				return err
			}
			bundle, err := attest.ExportBundle(att, pubPEM)
			if err != nil {
				return err
			}
			if err := attest.WriteBundle(outPath, bundle); err != nil {
				return err
			}
			fmt.Println(outPath)
			return nil
		},
	}
	exportCmd.Flags().StringVar(&inPath, "in", "", "sidecar input path")
	exportCmd.Flags().StringVar(&outPath, "out", "", "bundle output path")

	var intotoIn, intotoOut string
	intotoCmd := &cobra.Command{
		Use:   "intoto",
		Short: "Export the attestation as an in-toto v1 statement",
		RunE: func(_ *cobra.Command, _ []string) error {
			if intotoIn == "" || intotoOut == "" {
				return fmt.Errorf("--in and --out are required")
			}
			att, err := attest.ReadSidecar(intotoIn)
			if err != nil {
				return err
			}
			raw, err := json.MarshalIndent(att.ToInTotoStatement(), "", "  ")
			if err != nil {
				return err
			}
			if err := os.WriteFile(intotoOut, append(raw, '\n'), 0o644); err != nil {
				return err
			}
			fmt.Println(intotoOut)
			return nil
		},
	}
	intotoCmd.Flags().StringVar(&intotoIn, "in", "", "sidecar input path")
	intotoCmd.Flags().StringVar(&intotoOut, "out", "", "statement output path")

	bundleCmd.AddCommand(exportCmd)
	bundleCmd.AddCommand(intotoCmd)
	return bundleCmd
}

func newReceiptsCommand() *cobra.Command {
	receiptsCmd := &cobra.Command{Use: "receipts", Short: "Commit-scoped receipt store operations"}

	var gitSHA, artifactPath string
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List receipts by commit or artifact path",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := service.New(configPath(cmd), service.Options{SkipKeyInit: true})
			if err != nil {
				return err
			}
			var receipts []types.Receipt
			switch {
			case gitSHA != "":
				receipts, err = svc.Receipts.BySHA(gitSHA)
			case artifactPath != "":
				receipts, err = svc.Receipts.ByArtifact(artifactPath)
			default:
				return fmt.Errorf("--git-sha or --artifact is required")
			}
			if err != nil {
				return err
			}
			return printJSON(receipts)
		},
	}
	listCmd.Flags().StringVar(&gitSHA, "git-sha", "", "40-hex commit sha")
	listCmd.Flags().StringVar(&artifactPath, "artifact", "", "artifact path")

	var maxAge time.Duration
	cleanupCmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove receipts older than --max-age",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := service.New(configPath(cmd), service.Options{SkipKeyInit: true})
			if err != nil {
				return err
			}
			removed, err := svc.Receipts.Cleanup(maxAge)
			if err != nil {
				return err
			}
			fmt.Printf("removed %d receipt(s)\n", removed)
			return nil
		},
	}
	cleanupCmd.Flags().DurationVar(&maxAge, "max-age", 0, "retention window, e.g. 720h")

	receiptsCmd.AddCommand(listCmd)
	receiptsCmd.AddCommand(cleanupCmd)
	return receiptsCmd
}

func newPublishCommand() *cobra.Command {
	var inPath, ociRef string
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish a signed envelope to an OCI registry",
		RunE: func(_ *cobra.Command, _ []string) error {
			if inPath == "" || ociRef == "" {
				return fmt.Errorf("--in and --oci are required")
			}
			if err := ociPublishFunc(inPath, ociRef); err != nil {
				return err
			}
			fmt.Println(ociRef)
			return nil
		},
	}
	cmd.Flags().StringVar(&inPath, "in", "", "envelope path")
	cmd.Flags().StringVar(&ociRef, "oci", "", "OCI destination reference")
	return cmd
}

func newPullCommand() *cobra.Command {
	var ociRef, outPath string
	cmd := &cobra.Command{
		Use:   "pull",
		Short: "Pull a published envelope from an OCI registry",
		RunE: func(_ *cobra.Command, _ []string) error {
			if ociRef == "" || outPath == "" {
				return fmt.Errorf("--oci and --out are required")
			}
			if err := ociPullFunc(ociRef, outPath); err != nil {
				return err
			}
			fmt.Println(outPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&ociRef, "oci", "", "OCI source reference")
	cmd.Flags().StringVar(&outPath, "out", "", "envelope output path")
	return cmd
}

func newReportCommand() *cobra.Command {
	var inPath, outPath string
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Render a batch verification JSON result as markdown",
		RunE: func(_ *cobra.Command, _ []string) error {
			if inPath == "" || outPath == "" {
				return fmt.Errorf("--in and --out are required")
			}
			raw, err := os.ReadFile(inPath)
			if err != nil {
				return err
			}
			var r verify.BatchResult
			if err := json.Unmarshal(raw, &r); err != nil {
				return err
			}
			if err := report.WriteMarkdown(outPath, r); err != nil {
				return err
			}
			fmt.Println(outPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&inPath, "in", "", "batch result JSON input")
	cmd.Flags().StringVar(&outPath, "out", "", "markdown output")
	return cmd
}

func newVerifier(cmd *cobra.Command, trustPolicyPath string) (*verify.Verifier, error) {
	svc, err := service.New(configPath(cmd), service.Options{
		TrustPolicyPath: trustPolicyPath,
		SkipKeyInit:     true,
	})
	if err != nil {
		return nil, err
	}
	// Verification should work without a local key pair; load one when
	// present so unsigned-policy setups can still check own-key signatures.
	_ = svc.Crypto.Initialize()
	return svc.Verifier, nil
}

func parseKeyValues(items []string) map[string]any {
	if len(items) == 0 {
		return nil
	}
	out := make(map[string]any, len(items))
	for _, item := range items {
		key, value, found := strings.Cut(item, "=")
		if !found {
			out[item] = ""
			continue
		}
		out[key] = value
	}
	return out
}

func printJSON(v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(raw))
	return nil
}
