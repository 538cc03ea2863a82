// Package store persists attestation receipts keyed by commit SHA and
// publishes envelopes to local or OCI destinations.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kgen-dev/kgen-attest/pkg/types"
)

const (
	DefaultReceiptRoot = ".kgen/receipts"
	receiptVersion     = "1.0.0"
	receiptSuffix      = ".attest.json"
)

var gitSHAPattern = regexp.MustCompile(`^[0-9a-f]{40}$`)

// ReceiptStore keeps one file per receipt under
// <root>/<40-hex-gitSHA>/<uuid>.attest.json. Many receipts may exist per
// artifact path across commits, and a commit may hold many receipts.
type ReceiptStore struct {
	Root string
}

func NewReceiptStore(root string) ReceiptStore {
	if root == "" {
		root = DefaultReceiptRoot
	}
	return ReceiptStore{Root: root}
}

// Put persists a receipt under the commit namespace. The artifact path is
// stored absolute so lookups are stable across working directories.
func (s ReceiptStore) Put(gitSHA, artifactPath string, att types.Attestation, env *types.Envelope) (types.Receipt, error) {
	sha := strings.ToLower(strings.TrimSpace(gitSHA))
	if !gitSHAPattern.MatchString(sha) {
		return types.Receipt{}, fmt.Errorf("invalid git sha %q: want 40 hex characters", gitSHA)
	}
	absPath, err := filepath.Abs(artifactPath)
	if err != nil {
		return types.Receipt{}, fmt.Errorf("resolve artifact path: %w", err)
	}

	receipt := types.Receipt{
		ID:           uuid.NewString(),
		GitSHA:       sha,
		ArtifactPath: filepath.ToSlash(absPath),
		Attestation:  att,
		Envelope:     env,
		Version:      receiptVersion,
	}

	dir := filepath.Join(s.Root, sha)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return types.Receipt{}, fmt.Errorf("create receipt namespace: %w", err)
	}
	raw, err := json.MarshalIndent(receipt, "", "  ")
	if err != nil {
		return types.Receipt{}, fmt.Errorf("marshal receipt: %w", err)
	}
	path := filepath.Join(dir, receipt.ID+receiptSuffix)
	if err := writeFileAtomic(path, append(raw, '\n'), 0o644); err != nil {
		return types.Receipt{}, fmt.Errorf("write receipt: %w", err)
	}
	return receipt, nil
}

// BySHA returns every receipt stored under one commit, ordered by receipt ID.
func (s ReceiptStore) BySHA(gitSHA string) ([]types.Receipt, error) {
	sha := strings.ToLower(strings.TrimSpace(gitSHA))
	if !gitSHAPattern.MatchString(sha) {
		return nil, fmt.Errorf("invalid git sha %q: want 40 hex characters", gitSHA)
	}
	return s.readDir(filepath.Join(s.Root, sha))
}

// ByArtifact scans every commit namespace for receipts recorded against the
// artifact path.
func (s ReceiptStore) ByArtifact(artifactPath string) ([]types.Receipt, error) {
	absPath, err := filepath.Abs(artifactPath)
	if err != nil {
		return nil, fmt.Errorf("resolve artifact path: %w", err)
	}
	want := filepath.ToSlash(absPath)

	entries, err := os.ReadDir(s.Root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read receipt root: %w", err)
	}

	var out []types.Receipt
	for _, e := range entries {
		if !e.IsDir() || !gitSHAPattern.MatchString(e.Name()) {
			continue
		}
		receipts, err := s.readDir(filepath.Join(s.Root, e.Name()))
		if err != nil {
			return nil, err
		}
		for _, r := range receipts {
			if r.ArtifactPath == want {
				out = append(out, r)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].GitSHA == out[j].GitSHA {
			return out[i].ID < out[j].ID
		}
		return out[i].GitSHA < out[j].GitSHA
	})
	return out, nil
}

// Cleanup removes receipts older than maxAge and prunes empty commit
// namespaces. Returns the number of receipts removed. Sidecar files next to
// artifacts are never touched.
func (s ReceiptStore) Cleanup(maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		return 0, fmt.Errorf("cleanup requires a positive max age")
	}
	cutoff := time.Now().Add(-maxAge)

	entries, err := os.ReadDir(s.Root)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read receipt root: %w", err)
	}

	removed := 0
	for _, e := range entries {
		if !e.IsDir() || !gitSHAPattern.MatchString(e.Name()) {
			continue
		}
		dir := filepath.Join(s.Root, e.Name())
		files, err := os.ReadDir(dir)
		if err != nil {
			return removed, err
		}
		remaining := 0
		for _, f := range files {
			if f.IsDir() || !strings.HasSuffix(f.Name(), receiptSuffix) {
				remaining++
				continue
			}
			info, err := f.Info()
			if err != nil {
				return removed, err
			}
			if info.ModTime().Before(cutoff) {
				if err := os.Remove(filepath.Join(dir, f.Name())); err != nil {
					return removed, err
				}
				removed++
				continue
			}
			remaining++
		}
		if remaining == 0 {
			if err := os.Remove(dir); err != nil && !os.IsNotExist(err) {
				return removed, err
			}
		}
	}
	return removed, nil
}

func (s ReceiptStore) readDir(dir string) ([]types.Receipt, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read receipts %s: %w", dir, err)
	}

	names := make([]string, 0, len(files))
	for _, f := range files {
		if !f.IsDir() && strings.HasSuffix(f.Name(), receiptSuffix) {
			names = append(names, f.Name())
		}
	}
	sort.Strings(names)

	out := make([]types.Receipt, 0, len(names))
	for _, name := range names {
		raw, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		var r types.Receipt
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, &types.AttestationLoadError{Path: filepath.Join(dir, name), Err: err}
		}
		out = append(out, r)
	}
	return out, nil
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
