package secscan

import (
	"bufio"
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"overwatch/internal/audit"
	"overwatch/internal/config"
	"overwatch/internal/domain"
)

// Rule is one credential-shaped pattern. The rule set is ordered and
// extendable from config without touching the walk/match algorithm. This is
// a heuristic filter, not a proof of absence of secrets.
type Rule struct {
	Name    string
	Pattern *regexp.Regexp
}

func defaultRules() []Rule {
	return []Rule{
		{Name: "api-key", Pattern: regexp.MustCompile(`(?i)api[_-]?key\s*[:=]\s*["'][^"']{6,}["']`)},
		{Name: "password", Pattern: regexp.MustCompile(`(?i)(password|passwd)\s*[:=]\s*["'][^"']{4,}["']`)},
		{Name: "secret", Pattern: regexp.MustCompile(`(?i)secret\s*[:=]\s*["'][^"']{6,}["']`)},
		{Name: "token", Pattern: regexp.MustCompile(`(?i)token\s*[:=]\s*["'][^"']{8,}["']`)},
		{Name: "private-key", Pattern: regexp.MustCompile(`-----BEGIN (RSA |EC |OPENSSH )?PRIVATE KEY-----`)},
	}
}

func defaultAllowPatterns() []*regexp.Regexp {
	return []*regexp.Regexp{
		// credential reads from the environment or config are fine
		regexp.MustCompile(`os\.Getenv|getenv|viper\.Get|config\.|Config\{`),
		// obvious placeholders
		regexp.MustCompile(`(?i)example|sample|placeholder|changeme|your[_-]`),
	}
}

var defaultAllowPaths = []string{".git", ".overwatch", "node_modules", "vendor", "testdata"}

// Scanner walks text-like files under Root looking for credential-shaped
// lines, minus the allow-list.
type Scanner struct {
	Root            string
	Rules           []Rule
	Allow           []*regexp.Regexp
	AllowPaths      []string
	CredentialsFile string
	Ledger          *audit.Ledger
}

// Result of one scan. Clean() is the pass/fail answer; Findings carry the
// matching lines for operator review.
type Result struct {
	Findings  []domain.Finding `json:"findings,omitempty"`
	Corrected []string         `json:"corrected,omitempty"`
	Failures  []string         `json:"failures,omitempty"`
}

func (r Result) Clean() bool {
	return len(r.Findings) == 0 && len(r.Failures) == 0
}

// New builds a scanner for root from config. Config patterns extend the
// built-in rule set; they never replace the algorithm.
func New(root string, cfg *config.Config, ledger *audit.Ledger) (*Scanner, error) {
	s := &Scanner{
		Root:            root,
		Rules:           defaultRules(),
		Allow:           defaultAllowPatterns(),
		AllowPaths:      append(append([]string{}, defaultAllowPaths...), cfg.Scanner.AllowPaths...),
		CredentialsFile: cfg.Scanner.CredentialsFile,
		Ledger:          ledger,
	}
	for i, expr := range cfg.Scanner.ExtraPatterns {
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("scanner.extra_patterns[%d]: %w", i, err)
		}
		s.Rules = append(s.Rules, Rule{Name: fmt.Sprintf("extra-%d", i), Pattern: re})
	}
	for i, expr := range cfg.Scanner.AllowPatterns {
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("scanner.allow_patterns[%d]: %w", i, err)
		}
		s.Allow = append(s.Allow, re)
	}
	return s, nil
}

// Scan walks the tree and applies every rule to every text line. It also
// enforces credentials-file hygiene: restrictive permissions are
// auto-corrected, a credentials file visible to version control fails loudly.
func (s *Scanner) Scan() (Result, error) {
	var res Result
	err := filepath.WalkDir(s.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(s.Root, path)
		if relErr != nil {
			rel = path
		}
		if d.IsDir() {
			if s.pathAllowed(rel) && rel != "." {
				return filepath.SkipDir
			}
			return nil
		}
		if s.pathAllowed(rel) {
			return nil
		}
		if info, err := d.Info(); err != nil || info.Size() > 1<<20 {
			return nil
		}
		s.scanFile(path, rel, &res)
		return nil
	})
	if err != nil {
		return res, fmt.Errorf("walk %s: %w", s.Root, err)
	}

	s.checkCredentialsFile(&res)

	if s.Ledger != nil {
		if res.Clean() {
			_ = s.Ledger.Append(audit.TagScan, "scan clean | root=%s", s.Root)
		} else {
			_ = s.Ledger.Append(audit.TagScan, "scan found %d findings %d failures | root=%s", len(res.Findings), len(res.Failures), s.Root)
		}
	}
	return res, nil
}

func (s *Scanner) pathAllowed(rel string) bool {
	if strings.HasSuffix(rel, "_test.go") {
		return true
	}
	for _, allow := range s.AllowPaths {
		if rel == allow || strings.HasPrefix(rel, allow+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func (s *Scanner) scanFile(path, rel string, res *Result) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	head := make([]byte, 512)
	n, _ := f.Read(head)
	if bytes.IndexByte(head[:n], 0) >= 0 {
		return // binary
	}
	if _, err := f.Seek(0, 0); err != nil {
		return
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		for _, rule := range s.Rules {
			if !rule.Pattern.MatchString(line) {
				continue
			}
			if s.lineAllowed(line) {
				continue
			}
			res.Findings = append(res.Findings, domain.Finding{
				Path: rel,
				Line: lineNo,
				Text: strings.TrimSpace(line),
				Rule: rule.Name,
			})
			break
		}
	}
}

func (s *Scanner) lineAllowed(line string) bool {
	for _, allow := range s.Allow {
		if allow.MatchString(line) {
			return true
		}
	}
	return false
}

func (s *Scanner) checkCredentialsFile(res *Result) {
	if s.CredentialsFile == "" {
		return
	}
	path := filepath.Join(s.Root, s.CredentialsFile)
	info, err := os.Stat(path)
	if err != nil {
		return // absent is fine
	}
	if info.Mode().Perm()&0o077 != 0 {
		if err := os.Chmod(path, 0o600); err != nil {
			res.Failures = append(res.Failures, fmt.Sprintf("%s: permissions %o and chmod failed: %v", s.CredentialsFile, info.Mode().Perm(), err))
		} else {
			res.Corrected = append(res.Corrected, fmt.Sprintf("%s: permissions corrected to 0600", s.CredentialsFile))
		}
	}
	if _, err := os.Stat(filepath.Join(s.Root, ".git")); err != nil {
		return // not under version control
	}
	data, err := os.ReadFile(filepath.Join(s.Root, ".gitignore"))
	if err != nil || !ignoreListed(string(data), s.CredentialsFile) {
		res.Failures = append(res.Failures, fmt.Sprintf("%s exists but is not excluded from version control", s.CredentialsFile))
	}
}

func ignoreListed(gitignore, name string) bool {
	for _, line := range strings.Split(gitignore, "\n") {
		if strings.TrimSpace(line) == name {
			return true
		}
	}
	return false
}
