package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"rankpool/alert"
	"rankpool/config"
	"rankpool/extract"
	"rankpool/logging"
	"rankpool/models"
	"rankpool/normalize"
	"rankpool/services"
	"rankpool/storage"
)

// StatsStore records the latest outcome of every category.
type StatsStore interface {
	UpsertCategoryStats(ctx context.Context, st models.CategoryStats) error
}

type sourceRunner struct {
	cfg      *config.SourceConfig
	adapter  Adapter
	strategy *extract.Strategy
	norm     *normalize.Normalizer
	topN     int
}

type Orchestrator struct {
	cfg      *config.Config
	sources  map[string]*sourceRunner
	ingest   *services.IngestService
	runLog   storage.RunLog
	notifier alert.Notifier

	archiver storage.Archiver
	stats    StatsStore
	metrics  *Metrics

	loc   *time.Location
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	delay func() time.Duration

	mu      sync.Mutex
	paused  bool
	running map[string]bool
}

func NewOrchestrator(cfg *config.Config, adapters map[string]Adapter, ingest *services.IngestService, runLog storage.RunLog, notifier alert.Notifier) (*Orchestrator, error) {
	loc, err := time.LoadLocation(cfg.Scraper.Timezone)
	if err != nil {
		return nil, fmt.Errorf("rank timezone: %w", err)
	}
	if notifier == nil {
		notifier = alert.LogNotifier{}
	}

	o := &Orchestrator{
		cfg:      cfg,
		sources:  make(map[string]*sourceRunner),
		ingest:   ingest,
		runLog:   runLog,
		notifier: notifier,
		loc:      loc,
		now:      time.Now,
		sleep:    sleepCtx,
		running:  make(map[string]bool),
	}
	o.delay = o.politeDelay

	for _, id := range cfg.SourceIDs() {
		src := cfg.Sources[id]
		adapter, ok := adapters[id]
		if !ok {
			return nil, fmt.Errorf("no adapter for source %s", id)
		}
		strategy, err := extract.New(src.ExtractOptions())
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", id, err)
		}
		norm, err := normalize.New(id, src.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", id, err)
		}
		o.sources[id] = &sourceRunner{
			cfg:      src,
			adapter:  adapter,
			strategy: strategy,
			norm:     norm,
			topN:     src.EffectiveTopN(cfg.Scraper.TopN),
		}
	}
	return o, nil
}

func (o *Orchestrator) SetArchiver(a storage.Archiver) { o.archiver = a }

func (o *Orchestrator) SetStatsStore(s StatsStore) { o.stats = s }

func (o *Orchestrator) SetMetrics(m *Metrics) { o.metrics = m }

// RunAll runs every enabled source concurrently. Each source stays a
// sequential pipeline over its categories.
func (o *Orchestrator) RunAll(ctx context.Context) error {
	if o.IsPaused() {
		logging.Logf(models.LogLevelInfo, "orchestrator", "paused, skipping run")
		return nil
	}

	ids := o.SourceIDs()
	errs := make([]error, len(ids))
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			errs[i] = o.RunSource(ctx, id)
		}(i, id)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// runTotals accumulates one attempt.
type runTotals struct {
	services.CategoryResult
	Categories int
	Empty      int
	Blocked    int
	FetchErrs  int
	lastErr    error
}

// RunSource runs one source inside the retry envelope. It returns a
// *RunExhaustedError once every attempt failed.
func (o *Orchestrator) RunSource(ctx context.Context, id string) error {
	sr, ok := o.sources[id]
	if !ok {
		return fmt.Errorf("unknown source: %s", id)
	}
	if !o.acquire(id) {
		return fmt.Errorf("source %s is already running", id)
	}
	defer o.release(id)

	src := sr.cfg
	start := o.now()
	date := start.In(o.loc).Format("2006-01-02")
	run := models.NewJobRun(src.JobName, start)
	run.Metadata = map[string]any{
		"run_id":  run.ID.String(),
		"source":  id,
		"message": fmt.Sprintf("Started %s ranking crawl", src.Name),
	}
	o.appendRun(ctx, run)
	o.log(models.LogLevelInfo, id, "run %s started (rank date %s)", run.ID, date)

	maxAttempts := o.cfg.Scraper.Retries
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var (
		totals    runTotals
		attempt   int
		runErr    error
		succeeded bool
	)
	for attempt = 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			runErr = err
			attempt--
			break
		}

		totals = o.runAttempt(ctx, sr, date)
		if totals.lastErr == nil && totals.Saved > 0 {
			succeeded = true
			break
		}

		runErr = totals.lastErr
		if totals.Saved == 0 && !isFault(runErr) {
			runErr = errZeroSaved
		}
		o.log(models.LogLevelWarn, id, "attempt %d/%d failed: %v", attempt, maxAttempts, runErr)

		if attempt < maxAttempts {
			backoff := o.cfg.Scraper.BackoffBase * time.Duration(attempt)
			o.log(models.LogLevelInfo, id, "retrying in %s", backoff)
			if err := o.sleep(ctx, backoff); err != nil {
				runErr = err
				break
			}
		}
	}
	if attempt > maxAttempts {
		attempt = maxAttempts
	}

	elapsed := o.now().Sub(start)
	meta := totals.metadata(run, id, attempt, elapsed)
	o.metrics.ObserveRun(id, elapsed)

	if succeeded {
		o.appendRun(ctx, run.Terminal(models.RunStatusCompleted, o.now(), meta))
		o.metrics.IncRun(id, string(models.RunStatusCompleted))
		o.log(models.LogLevelInfo, id, "completed: %d saved, %d skipped, %d errors in %d attempt(s)",
			totals.Saved, totals.Skipped, totals.Errors, attempt)
		return nil
	}

	meta["error"] = errorString(runErr)
	o.appendRun(ctx, run.Terminal(models.RunStatusFailed, o.now(), meta))
	o.metrics.IncRun(id, string(models.RunStatusFailed))

	if errors.Is(runErr, context.Canceled) {
		o.log(models.LogLevelWarn, id, "run cancelled after %d attempt(s)", attempt)
		return runErr
	}

	exhausted := &RunExhaustedError{Source: id, Attempts: attempt, Err: runErr}
	o.metrics.IncError(id, "run_exhausted")
	o.log(models.LogLevelError, id, "%v", exhausted)
	o.notifier.Notify(context.WithoutCancel(ctx),
		fmt.Sprintf("%s failed after %d attempts", src.JobName, attempt),
		alertBody(run, id, meta, runErr))
	return exhausted
}

func isFault(err error) bool {
	return err != nil && !errors.Is(err, errZeroSaved)
}

// runAttempt walks the categories once. A panic anywhere inside is turned
// into the attempt's error.
func (o *Orchestrator) runAttempt(ctx context.Context, sr *sourceRunner, date string) (totals runTotals) {
	id := sr.cfg.ID
	defer func() {
		if r := recover(); r != nil {
			totals.lastErr = fmt.Errorf("panic: %v", r)
		}
	}()

	if s, ok := sr.adapter.(Session); ok {
		if err := s.Begin(ctx); err != nil {
			s.End()
			totals.lastErr = err
			o.metrics.IncError(id, ErrorType(err))
			return totals
		}
		defer s.End()
	}

	var lastFetchErr error
	for i, cat := range sr.cfg.Categories {
		if i > 0 {
			if err := o.sleep(ctx, o.delay()); err != nil {
				totals.lastErr = err
				return totals
			}
		}
		if err := ctx.Err(); err != nil {
			totals.lastErr = err
			return totals
		}

		res, err := o.runCategory(ctx, sr, cat, date)
		totals.Categories++
		totals.CategoryResult.Add(res)
		if err != nil {
			lastFetchErr = err
			var blocked *BlockedError
			switch {
			case errors.As(err, &blocked):
				totals.Blocked++
			case errors.Is(err, extract.ErrNoMatch):
				totals.Empty++
			default:
				totals.FetchErrs++
				totals.Errors++
			}
		}
	}

	// Only a fully failed attempt carries an error; partial category
	// failures are contained.
	if totals.Saved == 0 && lastFetchErr != nil {
		totals.lastErr = lastFetchErr
	}
	return totals
}

// runCategory does fetch → extract → finalize → ingest for one category.
// The fetch timeout is independent of run cancellation.
func (o *Orchestrator) runCategory(ctx context.Context, sr *sourceRunner, cat models.Category, date string) (services.CategoryResult, error) {
	id := sr.cfg.ID
	var res services.CategoryResult

	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.Scraper.FetchTimeout)
	page, err := sr.adapter.Fetch(fctx, cat)
	cancel()
	if err != nil {
		err = classifyError(err, 0, cat.URL)
		outcome := "error"
		var blocked *BlockedError
		if errors.As(err, &blocked) {
			outcome = "blocked"
		}
		o.metrics.IncCategory(id, outcome)
		o.metrics.IncError(id, ErrorType(err))
		o.log(models.LogLevelWarn, id, "category %s: %v", cat.Code, err)
		o.recordStats(ctx, id, cat, date, outcome, res)
		return res, err
	}

	ext, err := sr.strategy.Extract(page)
	if err != nil {
		o.metrics.IncCategory(id, "empty")
		o.metrics.IncError(id, ErrorType(err))
		o.log(models.LogLevelWarn, id, "category %s: no records extracted (status %d): %v", cat.Code, page.Status, err)
		o.archive(ctx, id, page)
		o.recordStats(ctx, id, cat, date, "empty", res)
		if !errors.Is(err, extract.ErrNoMatch) {
			err = fmt.Errorf("%w: %v", extract.ErrNoMatch, err)
		}
		return res, err
	}

	records := extract.Finalize(ext.Records, sr.topN)
	res = o.ingest.Ingest(ctx, sr.norm, records, cat, date)

	o.metrics.IncCategory(id, "ok")
	o.metrics.AddSaved(id, res.Saved)
	for i := 0; i < res.Errors; i++ {
		o.metrics.IncError(id, "persistence")
	}
	o.log(models.LogLevelInfo, id, "category %s (%s): %d saved, %d skipped, %d errors via %v",
		cat.Code, cat.Name, res.Saved, res.Skipped, res.Errors, ext.Matched)
	o.recordStats(ctx, id, cat, date, "ok", res)
	return res, nil
}

func (o *Orchestrator) archive(ctx context.Context, id string, page *models.RawPage) {
	if o.archiver == nil || page.Empty() {
		return
	}
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.Scraper.PersistTimeout)
	defer cancel()
	loc, err := o.archiver.Archive(actx, page)
	if err != nil {
		o.log(models.LogLevelWarn, id, "archive raw page: %v", err)
		return
	}
	o.log(models.LogLevelInfo, id, "raw page archived to %s", loc)
}

func (o *Orchestrator) recordStats(ctx context.Context, id string, cat models.Category, date, outcome string, res services.CategoryResult) {
	if o.stats == nil {
		return
	}
	st := models.CategoryStats{
		Source:       id,
		CategoryCode: cat.Code,
		RunDate:      date,
		Outcome:      outcome,
		Saved:        res.Saved,
		Errors:       res.Errors,
		UpdatedAt:    o.now(),
	}
	if err := o.stats.UpsertCategoryStats(context.WithoutCancel(ctx), st); err != nil {
		o.log(models.LogLevelWarn, id, "category stats: %v", err)
	}
}

func (o *Orchestrator) appendRun(ctx context.Context, run *models.JobRun) {
	if o.runLog == nil {
		return
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.Scraper.PersistTimeout)
	defer cancel()
	if err := o.runLog.AppendJobRun(rctx, run); err != nil {
		o.log(models.LogLevelWarn, "orchestrator", "job run log (%s %s): %v", run.JobName, run.Status, err)
	}
}

func (t runTotals) metadata(run *models.JobRun, id string, attempts int, elapsed time.Duration) map[string]any {
	return map[string]any{
		"run_id":           run.ID.String(),
		"source":           id,
		"attempts":         attempts,
		"categories":       t.Categories,
		"saved":            t.Saved,
		"skipped":          t.Skipped,
		"errors":           t.Errors,
		"rank_errors":      t.RankErrors,
		"empty":            t.Empty,
		"blocked":          t.Blocked,
		"duration_seconds": elapsed.Round(time.Millisecond).Seconds(),
	}
}

func alertBody(run *models.JobRun, id string, meta map[string]any, err error) string {
	data, _ := json.MarshalIndent(meta, "", "  ")
	return fmt.Sprintf("Job %s for source %s failed.\n\nLast error: %s\n\nRun metadata:\n%s\n",
		run.JobName, id, errorString(err), data)
}

func errorString(err error) string {
	if err == nil {
		return "unknown"
	}
	return err.Error()
}

func (o *Orchestrator) politeDelay() time.Duration {
	lo, hi := o.cfg.Scraper.DelayMin, o.cfg.Scraper.DelayMax
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(rand.Int63n(int64(hi-lo)))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) acquire(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running[id] {
		return false
	}
	o.running[id] = true
	return true
}

func (o *Orchestrator) release(id string) {
	o.mu.Lock()
	delete(o.running, id)
	o.mu.Unlock()
}

func (o *Orchestrator) HandleCommand(ctx context.Context, cmd *models.Command) error {
	params, err := storage.ParseCommandParams(cmd)
	if err != nil {
		return err
	}

	switch cmd.Command {
	case models.CmdScrapeAll:
		return o.RunAll(ctx)
	case models.CmdScrapeSource:
		if params.Source != "" {
			return o.RunSource(ctx, params.Source)
		}
		return o.RunAll(ctx)
	case models.CmdPause:
		o.setPaused(true)
		logging.Logf(models.LogLevelInfo, "orchestrator", "scraper paused")
	case models.CmdResume:
		o.setPaused(false)
		logging.Logf(models.LogLevelInfo, "orchestrator", "scraper resumed")
	default:
		return fmt.Errorf("unknown command %q", cmd.Command)
	}
	return nil
}

func (o *Orchestrator) setPaused(p bool) {
	o.mu.Lock()
	o.paused = p
	o.mu.Unlock()
}

func (o *Orchestrator) IsPaused() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.paused
}

func (o *Orchestrator) SourceIDs() []string {
	ids := make([]string, 0, len(o.sources))
	for id := range o.sources {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close releases every adapter.
func (o *Orchestrator) Close() {
	for _, sr := range o.sources {
		if err := sr.adapter.Close(); err != nil {
			o.log(models.LogLevelWarn, sr.cfg.ID, "close adapter: %v", err)
		}
	}
}

// Status reports the pause flag and configured sources.
func (o *Orchestrator) Status() map[string]interface{} {
	return map[string]interface{}{
		"paused":  o.IsPaused(),
		"sources": o.SourceIDs(),
	}
}

func (o *Orchestrator) log(level models.LogLevel, source, format string, args ...any) {
	logging.Logf(level, source, format, args...)
}
