// Package attest assembles, signs, and serializes attestations for generated
// artifacts.
package attest

import (
	"encoding/json"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kgen-dev/kgen-attest/internal/hash"
	"github.com/kgen-dev/kgen-attest/internal/provenance"
	"github.com/kgen-dev/kgen-attest/internal/sign"
	"github.com/kgen-dev/kgen-attest/pkg/types"
)

const (
	GeneratorName    = "kgen-attest"
	GeneratorVersion = "0.3.0"

	// SidecarSuffix is appended to the artifact path to name its sidecar.
	SidecarSuffix = ".attest.json"
)

// Generator builds attestations for generated artifacts. Crypto may be nil
// to produce unsigned attestations; RequireSignature then makes generation
// fail instead.
type Generator struct {
	Crypto           *sign.Manager
	RequireSignature bool
}

// Generate assembles artifact, generation, and provenance blocks for one
// generation event and signs the canonical subset. Deterministic for
// identical context, artifact bytes, and key material except for the
// attestation ID and timestamps.
func (g *Generator) Generate(ctx types.GenerationContext, artifactPath string) (types.Attestation, error) {
	digest, size, err := hash.DigestFile(artifactPath)
	if err != nil {
		return types.Attestation{}, &types.ArtifactReadError{Path: artifactPath, Err: err}
	}

	prov, err := provenance.Build(ctx)
	if err != nil {
		return types.Attestation{}, fmt.Errorf("build provenance: %w", err)
	}

	att := types.Attestation{
		AttestationID: uuid.NewString(),
		ArtifactID:    hash.SumBytes([]byte(filepath.ToSlash(artifactPath))),
		Artifact: types.Artifact{
			Path:        filepath.ToSlash(artifactPath),
			SizeBytes:   size,
			ContentHash: digest,
			MediaType:   mediaTypeFor(artifactPath),
		},
		Generation: generationBlock(ctx),
		Provenance: prov,
		System: types.SystemInfo{
			Generator: GeneratorName,
			Version:   GeneratorVersion,
			Platform:  runtime.GOOS + "/" + runtime.GOARCH,
			Runtime:   runtime.Version(),
		},
		Integrity: types.Integrity{
			HashAlgorithm: types.HashAlgorithmSHA256,
			ChainIndex:    ctx.ChainIndex,
			PreviousHash:  ctx.PreviousHash,
		},
		Timestamps: types.Timestamps{
			CreatedAt: time.Now().UTC().Format(time.RFC3339),
		},
	}

	if g.Crypto == nil || g.Crypto.PublicKey() == nil {
		if g.RequireSignature {
			return types.Attestation{}, &types.SigningUnavailableError{Reason: "signing required by configuration but no key is available"}
		}
		return att, nil
	}

	subset, err := att.SignablePayload()
	if err != nil {
		return types.Attestation{}, fmt.Errorf("build signing payload: %w", err)
	}
	sigB64, err := g.Crypto.SignData(subset)
	if err != nil {
		return types.Attestation{}, err
	}
	signedAt := time.Now().UTC().Format(time.RFC3339)
	att.Signature = &types.SignatureBlock{
		Algorithm:      g.Crypto.Algorithm(),
		Signature:      sigB64,
		KeyFingerprint: g.Crypto.Fingerprint(),
		SignedAt:       signedAt,
	}
	return att, nil
}

// generationBlock carries the context into the predicate. CAS roots and
// source graph references become named byproducts rather than top-level
// fields, preserving schema stability.
func generationBlock(ctx types.GenerationContext) types.Generation {
	gen := types.Generation{
		OperationID:       ctx.OperationID,
		Type:              ctx.Type,
		StartedAt:         ctx.StartedAt.UTC().Format(time.RFC3339),
		EndedAt:           ctx.EndedAt.UTC().Format(time.RFC3339),
		TemplateID:        ctx.TemplateID,
		TemplateHash:      ctx.TemplateHash,
		Agent:             ctx.Agent,
		Configuration:     provenance.Redact(ctx.Configuration),
		Parameters:        provenance.Redact(ctx.Parameters),
		PredicateType:     types.PredicateKgenV1,
		BuildInvocationID: ctx.BuildInvocationID,
		Materials:         ctx.Materials,
	}
	if len(ctx.CASRoots) > 0 || ctx.SourceGraph != "" {
		gen.Byproducts = make(map[string]string)
		for _, root := range ctx.CASRoots {
			gen.Byproducts["cas-root:"+root] = root
		}
		if ctx.SourceGraph != "" {
			gen.Byproducts["source-graph:"+ctx.SourceGraph] = ctx.SourceGraph
		}
	}
	if ctx.BuildInvocationID != "" || len(ctx.Materials) > 0 {
		gen.Metadata = &types.GenerationMetadata{
			Completeness: &types.Completeness{
				Parameters:  len(ctx.Parameters) > 0,
				Environment: len(ctx.Configuration) > 0,
				Materials:   len(ctx.Materials) > 0,
			},
		}
	}
	return gen
}

// SidecarPath returns the sidecar location for an artifact.
func SidecarPath(artifactPath string) string {
	return artifactPath + SidecarSuffix
}

// ArtifactPathFor maps a sidecar path back to its artifact.
func ArtifactPathFor(sidecarPath string) string {
	return strings.TrimSuffix(sidecarPath, SidecarSuffix)
}

// WriteSidecar serializes the attestation next to the artifact. The write is
// atomic: readers never observe a partial sidecar.
func WriteSidecar(artifactPath string, att types.Attestation) (string, error) {
	raw, err := json.MarshalIndent(att, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal attestation: %w", err)
	}
	raw = append(raw, '\n')
	out := SidecarPath(artifactPath)
	if err := writeFileAtomic(out, raw, 0o644); err != nil {
		return "", fmt.Errorf("write sidecar: %w", err)
	}
	return out, nil
}

// ReadSidecar loads and decodes an attestation sidecar.
func ReadSidecar(path string) (types.Attestation, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return types.Attestation{}, &types.AttestationLoadError{Path: path, Err: err}
	}
	var att types.Attestation
	if err := json.Unmarshal(raw, &att); err != nil {
		return types.Attestation{}, &types.AttestationLoadError{Path: path, Err: err}
	}
	return att, nil
}

func mediaTypeFor(path string) string {
	if mt := mime.TypeByExtension(filepath.Ext(path)); mt != "" {
		if i := strings.IndexByte(mt, ';'); i > 0 {
			return mt[:i]
		}
		return mt
	}
	return "application/octet-stream"
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
