package integrity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"overwatch/internal/audit"
	"overwatch/internal/domain"
	"overwatch/internal/repo"
)

// anomalyMarkers flag a live response as suspect regardless of status code.
var anomalyMarkers = []string{
	"Traceback (most recent call last)",
	"Internal Server Error",
	"NaN",
	"undefined",
	"ERROR:",
}

// Validator runs the data-integrity checks: live response inspection,
// order-independent checksum drift tracking, and range/null validation of
// tabular rows.
type Validator struct {
	Repo   repo.Repo
	Ledger *audit.Ledger
	Client *http.Client
	Now    func() time.Time
}

func New(r repo.Repo, ledger *audit.Ledger) Validator {
	return Validator{
		Repo:   r,
		Ledger: ledger,
		Client: &http.Client{Timeout: 10 * time.Second},
		Now:    time.Now,
	}
}

func (v Validator) now() time.Time {
	if v.Now != nil {
		return v.Now()
	}
	return time.Now()
}

func (v Validator) log(format string, args ...any) {
	if v.Ledger != nil {
		_ = v.Ledger.Append(audit.TagDataVal, format, args...)
	}
}

// InspectEndpoint fetches url and reports whether the body looks sane.
// An unreachable endpoint is a hard failure: logged, returns false, never
// panics. A present-but-empty tabular rendering also fails.
func (v Validator) InspectEndpoint(ctx context.Context, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		v.log("inspect %s | failed: %v", url, err)
		return false
	}
	res, err := v.Client.Do(req)
	if err != nil {
		v.log("inspect %s | unreachable: %v", url, err)
		return false
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 4<<20))
	if err != nil {
		v.log("inspect %s | read body: %v", url, err)
		return false
	}
	text := string(body)
	for _, marker := range anomalyMarkers {
		if strings.Contains(text, marker) {
			v.log("inspect %s | anomaly marker %q found", url, marker)
			return false
		}
	}
	if strings.Contains(text, "<table") && !strings.Contains(text, "<td") {
		v.log("inspect %s | table present but has no data rows", url)
		return false
	}
	v.log("inspect %s | ok", url)
	return true
}

// Digest computes a stable, order-independent digest of a value set.
// Values are canonicalized and sorted before hashing so element order never
// changes the result.
func Digest(values []string) string {
	canon := make([]string, len(values))
	for i, val := range values {
		canon[i] = strings.TrimSpace(val)
	}
	sort.Strings(canon)
	sum := sha256.Sum256([]byte(strings.Join(canon, "\x1f")))
	return hex.EncodeToString(sum[:])
}

// Track checks a named data subject against its stored checksum. The first
// call for a subject stores the record. Later calls only compare: a mismatch
// is logged as a drift signal for operator review and is never
// auto-corrected, and the stored record is left untouched.
func (v Validator) Track(ctx context.Context, subject string, values []string) (drift bool, rec domain.ChecksumRecord, err error) {
	digest := Digest(values)
	stored, err := v.Repo.GetChecksum(ctx, subject)
	if err == repo.ErrNotFound {
		rec = domain.ChecksumRecord{
			Subject:    subject,
			Digest:     digest,
			RowCount:   len(values),
			RecordedAt: v.now().UTC().Format(time.RFC3339),
		}
		if err := v.Repo.UpsertChecksum(ctx, rec); err != nil {
			return false, rec, fmt.Errorf("store checksum for %s: %w", subject, err)
		}
		v.log("checksum stored | subject=%s rows=%d", subject, len(values))
		return false, rec, nil
	}
	if err != nil {
		return false, rec, err
	}
	if stored.Digest != digest {
		v.log("checksum MISMATCH | subject=%s stored_rows=%d current_rows=%d", subject, stored.RowCount, len(values))
		return true, stored, nil
	}
	v.log("checksum match | subject=%s rows=%d", subject, len(values))
	return false, stored, nil
}

// Bounds configures range/null validation for one column.
type Bounds struct {
	Min       *float64
	Max       *float64
	AllowNull bool
}

// Violation is one offending row.
type Violation struct {
	Row    int    `json:"row"`
	Reason string `json:"reason"`
}

// ValidateRange checks every row's value for column against bounds. All
// violations are accumulated before returning so the caller gets the full
// picture; the first 5 are logged with row index and reason.
func (v Validator) ValidateRange(column string, rows []map[string]any, b Bounds) ([]Violation, bool) {
	var violations []Violation
	for i, row := range rows {
		raw, present := row[column]
		if !present || raw == nil {
			if !b.AllowNull {
				violations = append(violations, Violation{Row: i, Reason: fmt.Sprintf("%s is null", column)})
			}
			continue
		}
		val, ok := asFloat(raw)
		if !ok {
			violations = append(violations, Violation{Row: i, Reason: fmt.Sprintf("%s is not numeric: %v", column, raw)})
			continue
		}
		if b.Min != nil && val < *b.Min {
			violations = append(violations, Violation{Row: i, Reason: fmt.Sprintf("%s=%v below min %v", column, val, *b.Min)})
		}
		if b.Max != nil && val > *b.Max {
			violations = append(violations, Violation{Row: i, Reason: fmt.Sprintf("%s=%v above max %v", column, val, *b.Max)})
		}
	}
	for i, viol := range violations {
		if i >= 5 {
			v.log("range check %s | ... %d more violations", column, len(violations)-5)
			break
		}
		v.log("range check %s | row %d: %s", column, viol.Row, viol.Reason)
	}
	if len(violations) == 0 {
		v.log("range check %s | ok (%d rows)", column, len(rows))
	}
	return violations, len(violations) == 0
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
