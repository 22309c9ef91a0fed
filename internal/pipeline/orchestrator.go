package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/taxpoynt/platform/internal/events"
	"github.com/taxpoynt/platform/internal/tenant"
	"github.com/taxpoynt/platform/internal/transaction"
)

// pipelineVersion tags every processed transaction's meta block.
const pipelineVersion = "1.0"

// stageGrace is how long a timed-out stage gets to release its resources
// before the orchestrator abandons it.
const stageGrace = 2 * time.Second

// Gate is the tenant quota surface consulted before and after a run.
// Satisfied by an adapter over tenant.Manager.
type Gate interface {
	// AdmitInvoice checks the monthly ceiling; a hard breach returns a
	// LimitError, approaching 80% returns a warning string.
	AdmitInvoice(ctx context.Context, tenantID string) (warning string, err error)
	// RecordInvoice increments usage after a completed run.
	RecordInvoice(ctx context.Context, tenantID string) error
}

// Archive persists terminal processed transactions. Satisfied by
// database.ProcessedStore.
type Archive interface {
	SaveProcessed(ctx context.Context, out *transaction.ProcessedTransaction) error
}

// Orchestrator drives transactions through the stage DAG, applying per-stage
// timeouts, failure actions, and the per-transaction deadline.
type Orchestrator struct {
	executors map[Stage]Executor
	index     DuplicateIndex
	stats     TenantStats
	gate      Gate
	archive   Archive
	emitter   events.Emitter

	// Workers bounds the batch fan-out.
	Workers int

	logger *log.Logger
	now    func() time.Time
}

// Options configures optional orchestrator collaborators.
type Options struct {
	Index   DuplicateIndex
	Stats   TenantStats
	Matcher Matcher
	VAT     *VATSchedule
	Gate    Gate
	Archive Archive
	Emitter events.Emitter
	Workers int
}

// NewOrchestrator wires the seven stage executors with the given
// collaborators.
func NewOrchestrator(opts Options) *Orchestrator {
	if opts.Index == nil {
		opts.Index = NewMemoryDuplicateIndex()
	}
	if opts.Stats == nil {
		opts.Stats = NewMemoryStats()
	}
	if opts.Workers <= 0 {
		opts.Workers = 8
	}

	executors := map[Stage]Executor{
		StageValidation: NewValidationStage(),
		StageDuplicate:  NewDuplicateStage(opts.Index),
		StageAmount:     NewAmountStage(opts.Stats),
		StageRules:      NewRulesStage(opts.VAT),
		StagePattern:    NewPatternStage(),
		StageEnrichment: NewEnrichmentStage(opts.Matcher),
		StageFinalize:   NewFinalizeStage(),
	}

	return &Orchestrator{
		executors: executors,
		index:     opts.Index,
		stats:     opts.Stats,
		gate:      opts.Gate,
		archive:   opts.Archive,
		emitter:   opts.Emitter,
		Workers:   opts.Workers,
		logger:    log.New(log.Writer(), "[PIPELINE] ", log.LstdFlags),
		now:       time.Now,
	}
}

// Process runs one transaction through the profile's stage DAG and returns
// the terminal processed transaction. Infrastructure errors during a stage
// become failed stage results; the returned error is reserved for quota
// denial and invalid configuration.
func (o *Orchestrator) Process(ctx context.Context, tenantID string, profile *Profile, tx *transaction.UniversalTransaction) (*transaction.ProcessedTransaction, error) {
	if profile == nil {
		return nil, &ConfigError{Msg: "nil profile"}
	}

	var quotaWarning string
	if o.gate != nil {
		warning, err := o.gate.AdmitInvoice(ctx, tenantID)
		if err != nil {
			if o.emitter != nil {
				o.emitter.Emit(events.TypeQuotaRejected, "pipeline", tenantID,
					map[string]interface{}{"reason": rejectionReason(err)})
			}
			return nil, err
		}
		quotaWarning = warning
		if warning != "" && o.emitter != nil {
			o.emitter.Emit(events.TypeQuotaWarning, "pipeline", tenantID,
				map[string]interface{}{"warning": warning})
		}
	}

	started := o.now()
	run := &Run{
		TenantID:    tenantID,
		Profile:     profile,
		Tx:          tx,
		Results:     make(map[Stage]Result),
		SubmittedAt: started,
		Out: &transaction.ProcessedTransaction{
			UniversalTransaction: *tx,
			TenantID:             tenantID,
			Status:               transaction.StatusCompleted,
			Meta: transaction.ProcessingMeta{
				PipelineVersion: pipelineVersion,
				Profile:         profile.Name,
				StartedAt:       started,
				StageLatencies:  make(map[string]time.Duration),
			},
		},
	}
	if quotaWarning != "" {
		run.Out.AddNote(quotaWarning)
	}

	deadlineCtx, cancel := context.WithDeadline(ctx, started.Add(profile.MaxWallTime))
	defer cancel()

	order, err := profile.ExecutionOrder()
	if err != nil {
		return nil, err
	}

	for _, stage := range order {
		if stage == StageRawInput {
			continue
		}
		if deadlineCtx.Err() != nil {
			o.failRun(run, fmt.Sprintf("pipeline deadline exceeded before %s", stage))
			break
		}
		if !o.runStage(deadlineCtx, run, stage) {
			break
		}
	}

	out := run.Out
	out.Meta.CompletedAt = o.now()

	if out.Status == transaction.StatusCompleted || out.Status == transaction.StatusRequiresReview {
		o.commit(ctx, run)
	}
	if o.archive != nil {
		if err := o.archive.SaveProcessed(ctx, out); err != nil {
			o.logger.Printf("archive failed for %s: %v", out.ID, err)
		}
	}
	o.emit(out)
	return out, nil
}

// runStage executes one stage with its timeout and applies the configured
// failure action. Returns false when the pipeline must terminate.
func (o *Orchestrator) runStage(ctx context.Context, run *Run, stage Stage) bool {
	cfg := run.Profile.Stages[stage]
	exec := o.executors[stage]
	if exec == nil {
		run.Results[stage] = Result{Stage: stage, Outcome: OutcomeSkipped}
		return true
	}

	res := o.executeWithTimeout(ctx, run, exec, cfg.Timeout)

	if res.Outcome == OutcomeFailed && cfg.OnFailure == ActionRetry {
		for attempt := 0; attempt < cfg.Retries && res.Outcome == OutcomeFailed; attempt++ {
			if d, ok := exec.(defaulter); ok {
				d.ApplyDefaults(run)
			}
			run.Out.AddNote(fmt.Sprintf("%s retried with defaults", stage))
			res = o.executeWithTimeout(ctx, run, exec, cfg.Timeout)
		}
		if res.Outcome == OutcomeFailed {
			// Exhausted retries degrade to continue-with-warning.
			res.Outcome = OutcomeWarning
		}
	}

	// Optional stages never sink the pipeline.
	if res.Outcome == OutcomeFailed && cfg.Requirement == Optional {
		res.Outcome = OutcomeWarning
	}

	run.Results[stage] = res
	run.Out.Meta.StageLatencies[stage.String()] = res.Elapsed
	run.Out.Violations = append(run.Out.Violations, res.Violations...)
	for _, n := range res.Notes {
		run.Out.AddNote(n)
	}
	if res.DuplicateOf != "" {
		run.Out.DuplicateOf = res.DuplicateOf
	}

	if res.Outcome == OutcomeManualReview {
		run.Out.Status = transaction.StatusRequiresReview
	}
	if res.Outcome != OutcomeFailed {
		return true
	}

	if o.emitter != nil {
		o.emitter.Emit(events.TypeStageFailed, "pipeline", run.Tx.ID, map[string]interface{}{
			"tenant_id": run.TenantID,
			"stage":     stage.String(),
			"action":    string(cfg.OnFailure),
		})
	}

	switch cfg.OnFailure {
	case ActionFailPipeline:
		o.failRun(run, fmt.Sprintf("stage %s failed", stage))
		return false
	case ActionManualReview:
		run.Out.Status = transaction.StatusRequiresReview
		res.Outcome = OutcomeManualReview
		run.Results[stage] = res
		return true
	default:
		// continue-with-warning
		res.Outcome = OutcomeWarning
		run.Results[stage] = res
		run.Out.AddNote(fmt.Sprintf("%s failed, continuing with warning", stage))
		return true
	}
}

// executeWithTimeout runs the executor under the stage timeout. A stage that
// overruns gets a grace period to return after cancellation, then is
// abandoned with a timeout failure.
func (o *Orchestrator) executeWithTimeout(ctx context.Context, run *Run, exec Executor, timeout time.Duration) Result {
	if timeout <= 0 {
		timeout = defaultStageTimeout
	}
	stageCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := o.now()
	type outcome struct {
		res Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := exec.Execute(stageCtx, run)
		done <- outcome{res, err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-stageCtx.Done():
		select {
		case out = <-done:
		case <-time.After(stageGrace):
			out = outcome{err: fmt.Errorf("stage %s: %w", exec.Stage(), stageCtx.Err())}
		}
	}

	res := out.res
	res.Stage = exec.Stage()
	res.Elapsed = o.now().Sub(start)
	if out.err != nil {
		o.logger.Printf("stage %s infrastructure failure: %v", exec.Stage(), out.err)
		res.Outcome = OutcomeFailed
		res.Notes = append(res.Notes, out.err.Error())
	}
	return res
}

func (o *Orchestrator) failRun(run *Run, reason string) {
	run.Out.Status = transaction.StatusFailed
	run.Out.FailureReason = reason
	run.Out.ReadyForInvoice = false
	run.Out.Validation = transaction.Summarize(run.Out.Violations)
}

// commit registers the run's side effects after a non-failed terminal state:
// duplicate index entry, stats observation, quota usage.
func (o *Orchestrator) commit(ctx context.Context, run *Run) {
	tx := run.Tx
	fp := transaction.Fingerprint(tx, run.Profile.FuzzyWindow)
	if err := o.index.Record(ctx, run.TenantID, tx.DedupeKey(), fp, tx.ID); err != nil {
		o.logger.Printf("duplicate index record failed for %s: %v", tx.ID, err)
	}
	amount, _ := tx.Amount.Float64()
	if err := o.stats.Observe(ctx, run.TenantID, tx.AccountID, amount, tx.Timestamp); err != nil {
		o.logger.Printf("stats observe failed for %s: %v", tx.ID, err)
	}
	if o.gate != nil {
		if err := o.gate.RecordInvoice(ctx, run.TenantID); err != nil {
			o.logger.Printf("usage record failed for tenant %s: %v", run.TenantID, err)
		}
	}
}

// rejectionReason labels a gate denial for the rejection event.
func rejectionReason(err error) string {
	var limit *tenant.LimitError
	if errors.As(err, &limit) {
		return "invoice_quota"
	}
	var rl *tenant.RateLimitedError
	if errors.As(err, &rl) {
		return "rate_limit"
	}
	return "other"
}

func (o *Orchestrator) emit(out *transaction.ProcessedTransaction) {
	if o.emitter == nil {
		return
	}
	eventType := events.TypeTransactionCompleted
	if out.Status == transaction.StatusFailed {
		eventType = events.TypeTransactionFailed
	}
	latencies := make(map[string]interface{}, len(out.Meta.StageLatencies))
	for stage, d := range out.Meta.StageLatencies {
		latencies[stage] = d.Seconds()
	}
	o.emitter.Emit(eventType, "pipeline", out.ID, map[string]interface{}{
		"tenant_id":       out.TenantID,
		"connector":       string(out.Kind),
		"status":          string(out.Status),
		"confidence":      out.Meta.Confidence,
		"risk_level":      string(out.Meta.RiskLevel),
		"stage_latencies": latencies,
	})
}

// BatchResult aggregates a batch run: one result per input, no batch-wide
// abort.
type BatchResult struct {
	Total     int
	Processed int
	Failed    int
	Results   []*transaction.ProcessedTransaction
	Errors    []error
}

// ProcessBatch fans a batch out over the worker pool and fans results back
// in once every task settles. Result order matches input order.
func (o *Orchestrator) ProcessBatch(ctx context.Context, tenantID string, profile *Profile, txs []*transaction.UniversalTransaction) *BatchResult {
	batch := &BatchResult{
		Total:   len(txs),
		Results: make([]*transaction.ProcessedTransaction, len(txs)),
		Errors:  make([]error, len(txs)),
	}

	sem := make(chan struct{}, o.Workers)
	var wg sync.WaitGroup
	for i, tx := range txs {
		wg.Add(1)
		go func(i int, tx *transaction.UniversalTransaction) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			out, err := o.Process(ctx, tenantID, profile, tx)
			batch.Results[i] = out
			batch.Errors[i] = err
		}(i, tx)
	}
	wg.Wait()

	for i := range batch.Results {
		switch {
		case batch.Errors[i] != nil:
			batch.Failed++
		case batch.Results[i].Status == transaction.StatusFailed:
			batch.Failed++
		default:
			batch.Processed++
		}
	}
	return batch
}
