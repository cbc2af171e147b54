package server

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"overwatch/internal/audit"
	"overwatch/internal/config"
	"overwatch/internal/db"
	"overwatch/internal/domain"
	"overwatch/internal/migrate"
	"overwatch/internal/repo"
	"overwatch/internal/score"
)

const testSecret = "unit-test-signing-key"

type testServer struct {
	URL    string
	Repo   repo.Repo
	Ledger *audit.Ledger
	client *http.Client
	close  func()
}

func (s *testServer) Close() { s.close() }

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	ledger, err := audit.Open(workspace)
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	r := repo.Repo{DB: conn}
	handler, err := New(Config{
		Watchdog: "overwatch",
		Repo:     r,
		Ledger:   ledger,
		Scorer:   score.New(config.Default("overwatch"), ledger, nil),
		BasePath: "/v0",
		Auth:     AuthConfig{JWTSecret: testSecret},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	ts := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Repo:   r,
		Ledger: ledger,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	t.Cleanup(ts.Close)
	return ts
}

func signToken(t *testing.T, subject string) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func get(t *testing.T, ts *testServer, path, token string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, ts.URL+path, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res, err := ts.client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	body, err := io.ReadAll(res.Body)
	res.Body.Close()
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, body
}

func seedRun(t *testing.T, ts *testServer) domain.RunSummary {
	t.Helper()
	ctx := context.Background()
	run := domain.RunSummary{
		RunID:      "run-0001",
		Passed:     2,
		Failed:     1,
		Total:      3,
		StartedAt:  "2024-01-01T00:00:00Z",
		FinishedAt: "2024-01-01T00:05:00Z",
	}
	if err := ts.Repo.CreateRun(ctx, run); err != nil {
		t.Fatalf("create run: %v", err)
	}
	if err := ts.Repo.FinishRun(ctx, run); err != nil {
		t.Fatalf("finish run: %v", err)
	}
	outcome := domain.MissionOutcome{
		RunID:    run.RunID,
		Sequence: 1,
		Name:     "migrate-schema",
		Status:   domain.OutcomePassed,
		Signal:   domain.SignalSuccess,
	}
	if err := ts.Repo.InsertOutcome(ctx, outcome); err != nil {
		t.Fatalf("insert outcome: %v", err)
	}
	return run
}

func TestHealthNeedsNoAuth(t *testing.T) {
	ts := newTestServer(t)
	res, body := get(t, ts, "/v0/health", "")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d body = %s", res.StatusCode, body)
	}
}

func TestStatusRequiresBearerToken(t *testing.T) {
	ts := newTestServer(t)
	res, _ := get(t, ts, "/v0/status", "")
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no token: status = %d", res.StatusCode)
	}
	res, _ = get(t, ts, "/v0/status", "not-a-jwt")
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad token: status = %d", res.StatusCode)
	}
}

func TestStatusReturnsLatestRun(t *testing.T) {
	ts := newTestServer(t)
	run := seedRun(t, ts)
	token := signToken(t, "operator")

	res, body := get(t, ts, "/v0/status", token)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d body = %s", res.StatusCode, body)
	}
	var got struct {
		Watchdog string                  `json:"watchdog"`
		Run      domain.RunSummary       `json:"run"`
		Outcomes []domain.MissionOutcome `json:"outcomes"`
	}
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("unmarshal: %v\n%s", err, body)
	}
	if got.Watchdog != "overwatch" || got.Run.RunID != run.RunID {
		t.Fatalf("body = %+v", got)
	}
	if len(got.Outcomes) != 1 || got.Outcomes[0].Name != "migrate-schema" {
		t.Fatalf("outcomes = %+v", got.Outcomes)
	}
}

func TestStatusWithoutRunsIs404(t *testing.T) {
	ts := newTestServer(t)
	res, _ := get(t, ts, "/v0/status", signToken(t, "operator"))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d", res.StatusCode)
	}
}

func TestAuditTail(t *testing.T) {
	ts := newTestServer(t)
	for i := 0; i < 5; i++ {
		if err := ts.Ledger.Append(audit.TagHealth, "entry %d", i); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	res, body := get(t, ts, "/v0/audit?n=2", signToken(t, "operator"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d body = %s", res.StatusCode, body)
	}
	var got struct {
		Entries []domain.AuditEntry `json:"entries"`
	}
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(got.Entries) != 2 || got.Entries[1].Message != "entry 4" {
		t.Fatalf("entries = %+v", got.Entries)
	}
}

func TestScoreFromLedgerWindow(t *testing.T) {
	ts := newTestServer(t)
	if err := ts.Ledger.Append(audit.TagRunner, "run=a mission=m seq=1 status=passed signal=success"); err != nil {
		t.Fatalf("append: %v", err)
	}
	res, body := get(t, ts, "/v0/score", signToken(t, "operator"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d body = %s", res.StatusCode, body)
	}
	var rec domain.ScoreRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if rec.Verdict != domain.VerdictPass || len(rec.Criteria) != 7 {
		t.Fatalf("record = %+v", rec)
	}
}

func TestChecksumsList(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	rec := domain.ChecksumRecord{Subject: "users", Digest: "abc", RowCount: 3, RecordedAt: "2024-01-01T00:00:00Z"}
	if err := ts.Repo.UpsertChecksum(ctx, rec); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	res, body := get(t, ts, "/v0/checksums", signToken(t, "operator"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d body = %s", res.StatusCode, body)
	}
	var got struct {
		Records []domain.ChecksumRecord `json:"records"`
	}
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(got.Records) != 1 || got.Records[0].Subject != "users" {
		t.Fatalf("records = %+v", got.Records)
	}
}
