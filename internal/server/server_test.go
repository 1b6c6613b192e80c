package server

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/rytkhs/event-pay-sub012/internal/admindb"
	"github.com/rytkhs/event-pay-sub012/internal/clock"
	"github.com/rytkhs/event-pay-sub012/internal/config"
	connectrepo "github.com/rytkhs/event-pay-sub012/internal/connect/repository"
	eventrepo "github.com/rytkhs/event-pay-sub012/internal/event/repository"
	"github.com/rytkhs/event-pay-sub012/internal/observability"
	payoutdomain "github.com/rytkhs/event-pay-sub012/internal/payout/domain"
	payoutrepo "github.com/rytkhs/event-pay-sub012/internal/payout/repository"
	"github.com/rytkhs/event-pay-sub012/internal/scheduler"
	"github.com/rytkhs/event-pay-sub012/internal/stripeclient"
	"github.com/rytkhs/event-pay-sub012/internal/worker"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	testCronSecret = "cron-secret"
	testRelayKey   = "relay-key"
	testHookSecret = "whsec_server_test"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type payoutSvcStub struct {
	result payoutdomain.PayoutResult
	err    error
}

func (s *payoutSvcStub) ProcessPayout(ctx context.Context, req payoutdomain.PayoutRequest) (payoutdomain.PayoutResult, error) {
	if s.err != nil {
		return payoutdomain.PayoutResult{}, s.err
	}
	return s.result, nil
}

func mustNode(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	return node
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_loc=auto", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	statements := []string{
		`CREATE TABLE events (
			id INTEGER PRIMARY KEY,
			organizer_id INTEGER NOT NULL,
			title TEXT NOT NULL,
			fee INTEGER NOT NULL,
			event_date DATETIME NOT NULL,
			canceled_at DATETIME,
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE payments (
			event_id INTEGER NOT NULL,
			attendee_id INTEGER NOT NULL,
			amount INTEGER NOT NULL,
			status TEXT NOT NULL,
			refunded_amount INTEGER NOT NULL DEFAULT 0,
			paid_at DATETIME,
			refunded_at DATETIME
		)`,
		`CREATE TABLE connect_accounts (
			organizer_id INTEGER PRIMARY KEY,
			stripe_account_id TEXT NOT NULL UNIQUE,
			charges_enabled BOOLEAN NOT NULL DEFAULT 0,
			payouts_enabled BOOLEAN NOT NULL DEFAULT 0,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE payouts (
			id INTEGER PRIMARY KEY,
			event_id INTEGER NOT NULL,
			organizer_id INTEGER NOT NULL,
			gross_sales INTEGER NOT NULL,
			platform_fee INTEGER NOT NULL,
			net_amount INTEGER NOT NULL,
			status TEXT NOT NULL,
			downstream_status TEXT,
			stripe_transfer_id TEXT,
			idempotency_key TEXT NOT NULL,
			failure_reason TEXT,
			notes TEXT,
			processed_at DATETIME,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE UNIQUE INDEX uniq_payouts_open_event
			ON payouts (event_id) WHERE status <> 'failed'`,
		`CREATE TABLE scheduler_executions (
			id INTEGER PRIMARY KEY,
			run_id TEXT NOT NULL UNIQUE,
			started_at DATETIME NOT NULL,
			finished_at DATETIME NOT NULL,
			window_to DATETIME NOT NULL,
			candidate_count INTEGER NOT NULL,
			succeeded_count INTEGER NOT NULL,
			failed_count INTEGER NOT NULL,
			skipped_count INTEGER NOT NULL,
			total_transferred INTEGER NOT NULL,
			dry_run BOOLEAN NOT NULL,
			results TEXT,
			notes TEXT
		)`,
		`CREATE TABLE webhook_messages (
			id INTEGER PRIMARY KEY,
			message_id TEXT NOT NULL UNIQUE,
			event_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			result TEXT NOT NULL,
			received_at DATETIME NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("schema: %v", err)
		}
	}
	return db
}

func newTestServer(t *testing.T, payoutSvc payoutdomain.Service) (*Server, *gorm.DB) {
	t.Helper()
	db := openTestDB(t)
	node := mustNode(t)
	fakeClock := clock.NewFakeClock(time.Date(2026, 3, 20, 12, 0, 0, 0, time.UTC))
	log := zap.NewNop()

	cfg := config.Config{
		CronSecret:          testCronSecret,
		StripeWebhookSecret: testHookSecret,
		RelaySigningKey:     testRelayKey,
	}

	sched, err := scheduler.New(scheduler.Params{
		DB:          db,
		Log:         log,
		GenID:       node,
		Clock:       fakeClock,
		AdminDB:     admindb.NewFactory(admindb.Params{DB: db, Log: log}),
		PayoutSvc:   payoutSvc,
		PayoutRepo:  payoutrepo.Provide(),
		EventRepo:   eventrepo.Provide(),
		ConnectRepo: connectrepo.Provide(),
	})
	if err != nil {
		t.Fatalf("scheduler: %v", err)
	}

	reconciler := worker.New(worker.Params{
		Log:         log,
		GenID:       node,
		Clock:       fakeClock,
		Cfg:         cfg,
		AdminDB:     admindb.NewFactory(admindb.Params{DB: db, Log: log}),
		ConnectRepo: connectrepo.Provide(),
		PayoutRepo:  payoutrepo.Provide(),
	})

	srv := NewServer(ServerParams{
		Gin:        NewEngine(observability.Config{}),
		Cfg:        cfg,
		DB:         db,
		GenID:      node,
		Clock:      fakeClock,
		Log:        log,
		PayoutSvc:  payoutSvc,
		EventRepo:  eventrepo.Provide(),
		Scheduler:  sched,
		Reconciler: reconciler,
	})
	return srv, db
}

func doRequest(t *testing.T, srv *Server, method, path string, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	srv.Engine().ServeHTTP(rec, req)
	return rec
}

func relaySign(payload []byte, key string) string {
	mac := hmac.New(sha256.New, []byte(key))
	_, _ = mac.Write(payload)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func relayHeaders(payload []byte, messageID string) map[string]string {
	return map[string]string{
		"X-Relay-Signature":  relaySign(payload, testRelayKey),
		"X-Relay-Message-Id": messageID,
		"Stripe-Signature":   stripeclient.SignPayload(payload, testHookSecret, time.Now()),
	}
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t, &payoutSvcStub{})
	rec := doRequest(t, srv, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestScheduledPayoutsRequiresCronSecret(t *testing.T) {
	srv, _ := newTestServer(t, &payoutSvcStub{})

	rec := doRequest(t, srv, http.MethodPost, "/tasks/payouts", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}

	rec = doRequest(t, srv, http.MethodPost, "/tasks/payouts", "", map[string]string{
		"X-Cron-Secret": "wrong",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestScheduledPayoutsRunsWithSecret(t *testing.T) {
	srv, _ := newTestServer(t, &payoutSvcStub{})

	rec := doRequest(t, srv, http.MethodPost, "/tasks/payouts", "", map[string]string{
		"X-Cron-Secret": testCronSecret,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Message      string `json:"message"`
		UpdatesCount int    `json:"updatesCount"`
		SkippedCount int    `json:"skippedCount"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.UpdatesCount != 0 || resp.SkippedCount != 0 {
		t.Fatalf("counts = %d/%d, want 0/0 on empty db", resp.UpdatesCount, resp.SkippedCount)
	}
}

func TestWebhookBadRelaySignature(t *testing.T) {
	srv, _ := newTestServer(t, &payoutSvcStub{})
	payload := []byte(`{"id":"evt_1","type":"account.updated","data":{"object":{"id":"acct_1"}}}`)

	headers := relayHeaders(payload, "msg_1")
	headers["X-Relay-Signature"] = relaySign(payload, "other-key")
	rec := doRequest(t, srv, http.MethodPost, "/worker/webhooks", string(payload), headers)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestWebhookTerminalGetsNoRetryStatus(t *testing.T) {
	srv, _ := newTestServer(t, &payoutSvcStub{})
	// Valid envelope, but no local account matches: a retry cannot help.
	payload := []byte(`{"id":"evt_1","type":"account.updated","data":{"object":{"id":"acct_missing","payouts_enabled":true}}}`)

	rec := doRequest(t, srv, http.MethodPost, "/worker/webhooks", string(payload), relayHeaders(payload, "msg_1"))
	if rec.Code != StatusNoRetry {
		t.Fatalf("status = %d, want %d, body %s", rec.Code, StatusNoRetry, rec.Body.String())
	}
	if rec.Header().Get("X-Relay-No-Retry") != "true" {
		t.Fatalf("missing no-retry header")
	}
}

func TestWebhookProcessedReturnsNoContent(t *testing.T) {
	srv, db := newTestServer(t, &payoutSvcStub{})
	node := mustNode(t)
	err := db.Exec(
		`INSERT INTO connect_accounts (organizer_id, stripe_account_id, charges_enabled, payouts_enabled, updated_at)
		 VALUES (?, ?, 0, 0, ?)`,
		node.Generate(), "acct_ok", time.Now().UTC(),
	).Error
	if err != nil {
		t.Fatalf("seed account: %v", err)
	}

	payload := []byte(`{"id":"evt_1","type":"account.updated","data":{"object":{"id":"acct_ok","charges_enabled":true,"payouts_enabled":true}}}`)
	rec := doRequest(t, srv, http.MethodPost, "/worker/webhooks", string(payload), relayHeaders(payload, "msg_1"))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204, body %s", rec.Code, rec.Body.String())
	}
}

func TestManualPayoutReturnsReasons(t *testing.T) {
	stub := &payoutSvcStub{
		err: payoutdomain.NewBusinessRuleError([]string{payoutdomain.ReasonGracePeriodActive}),
	}
	srv, db := newTestServer(t, stub)
	node := mustNode(t)
	eventID := node.Generate()
	err := db.Exec(
		`INSERT INTO events (id, organizer_id, title, fee, event_date, created_at)
		 VALUES (?, ?, ?, 1000, ?, ?)`,
		eventID, node.Generate(), "manual test", time.Now().UTC(), time.Now().UTC(),
	).Error
	if err != nil {
		t.Fatalf("seed event: %v", err)
	}

	rec := doRequest(t, srv, http.MethodPost, "/payouts/"+eventID.String(), "", map[string]string{
		"X-Cron-Secret": testCronSecret,
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422, body %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Error struct {
			Type    string   `json:"type"`
			Reasons []string `json:"reasons"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Error.Reasons) != 1 || resp.Error.Reasons[0] != payoutdomain.ReasonGracePeriodActive {
		t.Fatalf("reasons = %v", resp.Error.Reasons)
	}
}

func TestManualPayoutSuccess(t *testing.T) {
	node := mustNode(t)
	stub := &payoutSvcStub{
		result: payoutdomain.PayoutResult{
			PayoutID:   node.Generate(),
			TransferID: "tr_manual",
			NetAmount:  9000,
		},
	}
	srv, db := newTestServer(t, stub)
	eventID := node.Generate()
	err := db.Exec(
		`INSERT INTO events (id, organizer_id, title, fee, event_date, created_at)
		 VALUES (?, ?, ?, 1000, ?, ?)`,
		eventID, node.Generate(), "manual ok", time.Now().UTC(), time.Now().UTC(),
	).Error
	if err != nil {
		t.Fatalf("seed event: %v", err)
	}

	rec := doRequest(t, srv, http.MethodPost, "/payouts/"+eventID.String(), `{"notes":"ops request"}`, map[string]string{
		"X-Cron-Secret": testCronSecret,
		"Content-Type":  "application/json",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		TransferID string `json:"transferId"`
		NetAmount  int64  `json:"netAmount"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.TransferID != "tr_manual" || resp.NetAmount != 9000 {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestManualPayoutUnknownEvent(t *testing.T) {
	srv, _ := newTestServer(t, &payoutSvcStub{})
	node := mustNode(t)

	rec := doRequest(t, srv, http.MethodPost, "/payouts/"+node.Generate().String(), "", map[string]string{
		"X-Cron-Secret": testCronSecret,
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestWebhookRetryableGetsPlainError(t *testing.T) {
	srv, _ := newTestServer(t, &payoutSvcStub{})
	srv.reconciler.Register("payout.updated", func(ctx context.Context, db *gorm.DB, event *stripeclient.Event) error {
		return fmt.Errorf("downstream unavailable")
	})

	payload := []byte(`{"id":"evt_1","type":"payout.updated","data":{"object":{"id":"po_1"}}}`)
	rec := doRequest(t, srv, http.MethodPost, "/worker/webhooks", string(payload), relayHeaders(payload, "msg_1"))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500, body %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Relay-No-Retry") != "" {
		t.Fatalf("no-retry header set on a retryable failure")
	}
}
