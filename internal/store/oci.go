package store

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/empty"
	"github.com/google/go-containerregistry/pkg/v1/mutate"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/static"
	ocitypes "github.com/google/go-containerregistry/pkg/v1/types"

	"github.com/kgen-dev/kgen-attest/pkg/types"
)

const envelopeMediaType = ocitypes.MediaType("application/vnd.kgen.envelope.v1+json")

// decodeEnvelope rejects payloads that are not complete signed envelopes.
// Both directions of registry transport run through it, so a registry can
// neither receive nor hand back something verification cannot consume.
func decodeEnvelope(raw []byte) (types.Envelope, error) {
	var env types.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return types.Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.PayloadType == "" || env.Payload == "" || len(env.Signatures) == 0 {
		return types.Envelope{}, fmt.Errorf("envelope is missing payloadType, payload, or signatures")
	}
	return env, nil
}

// PublishOCI pushes a signed envelope file to an OCI registry as a
// single-layer artifact. Distribution only; signing never talks to the
// network.
func PublishOCI(inPath string, ociRef string) error {
	raw, err := os.ReadFile(inPath)
	if err != nil {
		return fmt.Errorf("read envelope: %w", err)
	}
	if _, err := decodeEnvelope(raw); err != nil {
		return fmt.Errorf("refusing to publish %s: %w", inPath, err)
	}
	ref, err := name.ParseReference(ociRef, name.WithDefaultRegistry("ghcr.io"))
	if err != nil {
		return fmt.Errorf("parse oci ref: %w", err)
	}

	layer := static.NewLayer(raw, envelopeMediaType)
	img, err := mutate.AppendLayers(empty.Image, layer)
	if err != nil {
		return fmt.Errorf("append layer: %w", err)
	}
	img = mutate.MediaType(img, ocitypes.OCIManifestSchema1)

	if err := remote.Write(ref, img, remote.WithAuthFromKeychain(authn.DefaultKeychain)); err != nil {
		return fmt.Errorf("push oci artifact: %w", err)
	}
	return nil
}

// PullOCI fetches an envelope artifact from an OCI registry into outPath.
// The pulled payload must decode as a signed envelope before anything is
// written.
func PullOCI(ociRef string, outPath string) error {
	ref, err := name.ParseReference(ociRef, name.WithDefaultRegistry("ghcr.io"))
	if err != nil {
		return fmt.Errorf("parse oci ref: %w", err)
	}
	img, err := remote.Image(ref, remote.WithAuthFromKeychain(authn.DefaultKeychain))
	if err != nil {
		return fmt.Errorf("pull oci artifact: %w", err)
	}
	layers, err := img.Layers()
	if err != nil {
		return fmt.Errorf("read layers: %w", err)
	}
	if len(layers) == 0 {
		return fmt.Errorf("oci artifact has no layers")
	}

	rc, err := layers[0].Uncompressed()
	if err != nil {
		return fmt.Errorf("read layer payload: %w", err)
	}
	defer rc.Close()
	raw, err := io.ReadAll(rc)
	if err != nil {
		return fmt.Errorf("read layer bytes: %w", err)
	}
	if _, err := decodeEnvelope(raw); err != nil {
		return fmt.Errorf("pulled artifact %s: %w", ociRef, err)
	}
	if err := writeFileAtomic(outPath, raw, 0o644); err != nil {
		return fmt.Errorf("write pulled envelope: %w", err)
	}
	return nil
}
