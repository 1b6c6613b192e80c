package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/rytkhs/event-pay-sub012/internal/admindb"
	"github.com/rytkhs/event-pay-sub012/internal/clock"
	"github.com/rytkhs/event-pay-sub012/internal/config"
	connectdomain "github.com/rytkhs/event-pay-sub012/internal/connect/domain"
	eventdomain "github.com/rytkhs/event-pay-sub012/internal/event/domain"
	obsmetrics "github.com/rytkhs/event-pay-sub012/internal/observability/metrics"
	payoutdomain "github.com/rytkhs/event-pay-sub012/internal/payout/domain"
	"github.com/rytkhs/event-pay-sub012/internal/payout/eligibility"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var ErrInvalidConfig = errors.New("scheduler: invalid configuration")

const candidateTimeout = 60 * time.Second

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Cfg         config.PayoutConfig
	AdminDB     *admindb.Factory
	PayoutSvc   payoutdomain.Service
	PayoutRepo  payoutdomain.Repository
	EventRepo   eventdomain.Repository
	ConnectRepo connectdomain.Repository
	Metrics     *obsmetrics.Metrics `optional:"true"`
}

// Scheduler walks past events without a settled payout and processes each
// one. A failing candidate never aborts the batch; the run report carries
// the per-event outcomes.
type Scheduler struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	cfg         config.PayoutConfig
	adminDB     *admindb.Factory
	validator   eligibility.Validator
	minSales    int64
	payoutSvc   payoutdomain.Service
	payoutRepo  payoutdomain.Repository
	eventRepo   eventdomain.Repository
	connectRepo connectdomain.Repository
	metrics     *obsmetrics.Metrics
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.GenID == nil || p.Clock == nil || p.AdminDB == nil || p.PayoutSvc == nil || p.PayoutRepo == nil || p.EventRepo == nil || p.ConnectRepo == nil {
		return nil, ErrInvalidConfig
	}
	cfg := p.Cfg.WithDefaults()
	ecfg := eligibility.Config{
		GracePeriodDays:        cfg.DaysAfterEvent,
		MinimumPayoutAmount:    cfg.MinimumAmount,
		PlatformFeeBasisPoints: cfg.FeeBasisPoints,
	}
	return &Scheduler{
		db:          p.DB,
		log:         p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		genID:       p.GenID,
		clock:       p.Clock,
		cfg:         cfg,
		adminDB:     p.AdminDB,
		validator:   eligibility.New(ecfg),
		minSales:    ecfg.MinimumQualifyingSales(),
		payoutSvc:   p.PayoutSvc,
		payoutRepo:  p.PayoutRepo,
		eventRepo:   p.EventRepo,
		connectRepo: p.ConnectRepo,
		metrics:     p.Metrics,
	}, nil
}

// RunReport summarizes one batch run.
type RunReport struct {
	RunID            string                     `json:"run_id"`
	StartedAt        time.Time                  `json:"started_at"`
	FinishedAt       time.Time                  `json:"finished_at"`
	CandidateCount   int                        `json:"candidate_count"`
	SucceededCount   int                        `json:"succeeded_count"`
	FailedCount      int                        `json:"failed_count"`
	SkippedCount     int                        `json:"skipped_count"`
	TotalTransferred int64                      `json:"total_transferred"`
	DryRun           bool                       `json:"dry_run"`
	Results          []payoutdomain.EventResult `json:"results"`
}

// RunOnce performs one payout sweep. The window upper bound is now minus
// the grace period; candidates are processed with bounded concurrency and
// the run is recorded even when every candidate fails.
func (s *Scheduler) RunOnce(ctx context.Context, trigger string) (RunReport, error) {
	started := s.clock.Now()
	report := RunReport{
		RunID:     uuid.NewString(),
		StartedAt: started,
		DryRun:    s.cfg.DryRun,
	}
	s.metrics.IncSchedulerRun()

	windowTo := started.AddDate(0, 0, -s.cfg.DaysAfterEvent)
	candidates, err := s.payoutRepo.FindCandidateEvents(ctx, s.db, windowTo, s.minSales, s.cfg.MaxEventsPerRun)
	if err != nil {
		report.FinishedAt = s.clock.Now()
		return report, err
	}
	report.CandidateCount = len(candidates)

	log := s.log.With(
		zap.String("run_id", report.RunID),
		zap.String("trigger", trigger),
		zap.Int("candidates", len(candidates)),
		zap.Bool("dry_run", report.DryRun),
	)
	log.Info("payout run started", zap.Time("window_to", windowTo))

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.MaxConcurrency)
	for _, candidate := range candidates {
		candidate := candidate
		g.Go(func() error {
			result := s.processCandidate(gctx, candidate)
			mu.Lock()
			report.Results = append(report.Results, result)
			mu.Unlock()
			// Candidate failures stay inside the report.
			return nil
		})
	}
	// The workers only return nil; Wait just joins them.
	_ = g.Wait()

	sort.Slice(report.Results, func(i, j int) bool {
		return report.Results[i].EventID < report.Results[j].EventID
	})
	for _, result := range report.Results {
		switch result.Status {
		case payoutdomain.EventResultCompleted:
			report.SucceededCount++
			report.TotalTransferred += result.Amount
		case payoutdomain.EventResultFailed:
			report.FailedCount++
		default:
			report.SkippedCount++
		}
	}
	report.FinishedAt = s.clock.Now()
	s.metrics.ObserveSchedulerRunDuration(report.FinishedAt.Sub(started))

	if err := s.recordExecution(ctx, windowTo, trigger, report); err != nil {
		log.Error("failed to record payout run", zap.Error(err))
	}

	summary := []zap.Field{
		zap.Int("succeeded", report.SucceededCount),
		zap.Int("failed", report.FailedCount),
		zap.Int("skipped", report.SkippedCount),
		zap.Int64("total_transferred", report.TotalTransferred),
		zap.Duration("took", report.FinishedAt.Sub(started)),
	}
	if report.FailedCount > 0 {
		log.Warn("payout run finished with failures", summary...)
	} else {
		log.Info("payout run finished", summary...)
	}
	return report, nil
}

func (s *Scheduler) processCandidate(ctx context.Context, candidate payoutdomain.CandidateEvent) payoutdomain.EventResult {
	ctx, cancel := context.WithTimeout(ctx, candidateTimeout)
	defer cancel()

	result := payoutdomain.EventResult{EventID: candidate.EventID}
	if s.cfg.DryRun {
		return s.dryRunCandidate(ctx, candidate)
	}

	payout, err := s.payoutSvc.ProcessPayout(ctx, payoutdomain.PayoutRequest{
		EventID:     candidate.EventID,
		OrganizerID: candidate.OrganizerID,
		Notes:       "scheduled run",
	})
	switch {
	case err == nil:
		result.Status = payoutdomain.EventResultCompleted
		result.PayoutID = payout.PayoutID
		result.Amount = payout.NetAmount
	case isSkip(err):
		result.Status = payoutdomain.EventResultSkipped
		result.Reason = skipReason(err)
		s.metrics.IncPayoutOutcome(obsmetrics.OutcomeSkipped)
	default:
		result.Status = payoutdomain.EventResultFailed
		result.Reason = err.Error()
		s.log.Warn("payout attempt failed",
			zap.String("event_id", candidate.EventID.String()),
			zap.String("organizer_id", candidate.OrganizerID.String()),
			zap.Error(err),
		)
	}
	return result
}

// dryRunCandidate evaluates eligibility without claiming a payout row or
// calling the payment platform.
func (s *Scheduler) dryRunCandidate(ctx context.Context, candidate payoutdomain.CandidateEvent) payoutdomain.EventResult {
	result := payoutdomain.EventResult{EventID: candidate.EventID, Status: payoutdomain.EventResultDryRun}

	event, err := s.eventRepo.FindByID(ctx, s.db, candidate.EventID)
	if err != nil || event == nil {
		result.Status = payoutdomain.EventResultFailed
		result.Reason = "event_read_failed"
		return result
	}
	account, err := s.connectRepo.FindByOrganizer(ctx, s.db, candidate.OrganizerID)
	if err != nil {
		result.Status = payoutdomain.EventResultFailed
		result.Reason = "account_read_failed"
		return result
	}
	sales, err := s.payoutRepo.AggregateSales(ctx, s.db, candidate.EventID)
	if err != nil {
		result.Status = payoutdomain.EventResultFailed
		result.Reason = "sales_read_failed"
		return result
	}

	verdict := s.validator.Check(eligibility.Input{
		Event:   *event,
		Account: account,
		Sales:   sales,
		Now:     s.clock.Now(),
	})
	if verdict.Eligible {
		result.Amount = verdict.NetAmount
	} else {
		result.Reason = joinReasons(verdict.Reasons)
	}
	return result
}

func (s *Scheduler) recordExecution(ctx context.Context, windowTo time.Time, trigger string, report RunReport) error {
	resultsJSON, err := json.Marshal(report.Results)
	if err != nil {
		return err
	}
	record := payoutdomain.SchedulerExecutionRecord{
		ID:               s.genID.Generate(),
		RunID:            report.RunID,
		StartedAt:        report.StartedAt,
		FinishedAt:       report.FinishedAt,
		WindowTo:         windowTo,
		CandidateCount:   report.CandidateCount,
		SucceededCount:   report.SucceededCount,
		FailedCount:      report.FailedCount,
		SkippedCount:     report.SkippedCount,
		TotalTransferred: report.TotalTransferred,
		DryRun:           report.DryRun,
		Results:          datatypes.JSON(resultsJSON),
		Notes:            trigger,
	}
	wdb, err := s.adminDB.Scoped(ctx, admindb.ReasonSettlement, admindb.AuditContext{Actor: "scheduler"})
	if err != nil {
		return err
	}
	return s.payoutRepo.InsertExecutionRecord(ctx, wdb, &record)
}

func isSkip(err error) bool {
	var ruleErr *payoutdomain.BusinessRuleError
	return errors.Is(err, payoutdomain.ErrPayoutExists) || errors.As(err, &ruleErr)
}

func skipReason(err error) string {
	if errors.Is(err, payoutdomain.ErrPayoutExists) {
		return payoutdomain.ReasonPayoutAlreadyExists
	}
	var ruleErr *payoutdomain.BusinessRuleError
	if errors.As(err, &ruleErr) {
		return joinReasons(ruleErr.Reasons)
	}
	return err.Error()
}

func joinReasons(reasons []string) string {
	return strings.Join(reasons, ",")
}
