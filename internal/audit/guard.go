package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const guardName = "protected.sha256"

// Guard detects tampering of protected configuration files. Protect stores
// one digest per file; Verify recomputes and reports every mismatch.
// Tampering is a halt-worthy safety violation and is never auto-corrected.
type Guard struct {
	Path string
}

// NewGuard returns the guard for a workspace.
func NewGuard(workspace string) Guard {
	return Guard{Path: filepath.Join(workspace, ".overwatch", guardName)}
}

// Protect records the current digests of the given files.
func (g Guard) Protect(paths ...string) error {
	digests := make(map[string]string, len(paths))
	for _, p := range paths {
		d, err := fileDigest(p)
		if err != nil {
			return fmt.Errorf("digest %s: %w", p, err)
		}
		digests[p] = d
	}
	keys := make([]string, 0, len(digests))
	for k := range digests {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s  %s\n", digests[k], k)
	}
	if err := os.MkdirAll(filepath.Dir(g.Path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(g.Path, []byte(b.String()), 0o644)
}

// Verify recomputes digests of all protected files and returns a description
// of every mismatch. An empty slice means no tampering was detected. A
// missing guard file means nothing is protected yet and verifies clean.
func (g Guard) Verify() ([]string, error) {
	data, err := os.ReadFile(g.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var mismatches []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		want, path, ok := strings.Cut(line, "  ")
		if !ok {
			mismatches = append(mismatches, fmt.Sprintf("malformed guard line: %s", line))
			continue
		}
		got, err := fileDigest(path)
		if err != nil {
			mismatches = append(mismatches, fmt.Sprintf("%s: unreadable (%v)", path, err))
			continue
		}
		if got != want {
			mismatches = append(mismatches, fmt.Sprintf("%s: digest changed", path))
		}
	}
	return mismatches, nil
}

func fileDigest(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
