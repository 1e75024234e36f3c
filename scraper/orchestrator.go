package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"audubon_monitor/config"
	"audubon_monitor/httputil"
	"audubon_monitor/logging"
	"audubon_monitor/models"
	"audubon_monitor/services"
	"audubon_monitor/storage"
	"audubon_monitor/workers"
)

// FetcherFactory builds the fetcher a source scrapes with. The returned func
// releases it once the source is done.
type FetcherFactory func(src *config.SourceConfig) (httputil.Fetcher, func())

// Orchestrator runs every enabled source, merges the results into the
// previous document and persists the next one.
type Orchestrator struct {
	cfg    *config.Config
	docs   *storage.DocumentStore
	store  *storage.SQLiteStore
	merger *services.Merger
	pool   *workers.Pool

	// Optional sinks
	pgStore  *storage.PostgresStore
	archiver *storage.S3Archiver

	logWarnOnce sync.Once

	newFetcher FetcherFactory
	now        func() time.Time
	dryRun     bool
}

// RunReport describes one finished run.
type RunReport struct {
	RunID    string
	Outcomes []*services.SourceOutcome
	Document *models.OutputDocument
	Diff     *models.RunDiff
	Written  bool
}

// SourceErrors joins the errors of every failed source, or returns nil.
func (r *RunReport) SourceErrors() error {
	var errs []error
	for _, o := range r.Outcomes {
		if o.Err != nil {
			errs = append(errs, o.Err)
		}
	}
	return errors.Join(errs...)
}

func NewOrchestrator(cfg *config.Config, docs *storage.DocumentStore, store *storage.SQLiteStore) *Orchestrator {
	o := &Orchestrator{
		cfg:    cfg,
		docs:   docs,
		store:  store,
		merger: services.NewMerger(cfg.Retention, cfg.HistoryLimit),
		pool:   workers.NewPool(cfg.Workers),
		now:    time.Now,
	}
	o.newFetcher = o.defaultFetcher
	return o
}

// SetSinks injects the optional Postgres mirror and S3 archive.
func (o *Orchestrator) SetSinks(pgStore *storage.PostgresStore, archiver *storage.S3Archiver) {
	o.pgStore = pgStore
	o.archiver = archiver
}

func (o *Orchestrator) SetDryRun(dryRun bool) {
	o.dryRun = dryRun
}

func (o *Orchestrator) SetFetcherFactory(f FetcherFactory) {
	o.newFetcher = f
}

func (o *Orchestrator) defaultFetcher(src *config.SourceConfig) (httputil.Fetcher, func()) {
	if src.Transport == config.TransportBrowser {
		bf := httputil.NewBrowserFetcher(src.RateLimit())
		return bf, bf.Close
	}
	return httputil.NewHTTPFetcher(&o.cfg.Proxy, httputil.FetcherOptions{Interval: src.RateLimit()}), func() {}
}

// Run performs one full aggregation run. The only error it returns is a
// PersistenceError; source failures are reported in the RunReport.
func (o *Orchestrator) Run(ctx context.Context) (*RunReport, error) {
	prev, err := o.docs.Load()
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	runAt := o.now().UTC()
	report := &RunReport{RunID: runID}

	match := services.NewMatchService(services.NewPriorIndex(prev), o.cfg.SimilarityThreshold)
	listings := services.NewListingService(match, func(level models.LogLevel, source, message string) {
		o.log(runID, level, source, message)
	})

	sources := o.cfg.EnabledSources()
	if len(sources) == 0 {
		o.log(runID, models.LogLevelWarn, "run", "no sources enabled")
	}

	// Tasks write into results; once the pool returns, late writes from
	// timed-out tasks are dropped and only outcomes is read.
	var mu sync.Mutex
	closed := false
	results := make([]*services.SourceOutcome, len(sources))
	runs := make([]*models.SourceRun, len(sources))
	tasks := make([]workers.Task, len(sources))

	for i, src := range sources {
		runs[i] = o.startRun(runID, src)
		tasks[i] = workers.Task{
			Name:    string(src.ID),
			Timeout: src.Timeout(o.cfg.AdapterTimeout),
			Run: func(ctx context.Context) error {
				outcome, err := o.scrapeSource(ctx, runID, src, listings)
				mu.Lock()
				if !closed {
					results[i] = outcome
				}
				mu.Unlock()
				return err
			},
		}
	}

	errs := o.pool.Run(ctx, tasks)

	mu.Lock()
	closed = true
	mu.Unlock()

	outcomes := make([]*services.SourceOutcome, len(sources))
	for i, src := range sources {
		outcome := results[i]
		if errs[i] != nil {
			failed := &services.SourceOutcome{Source: src.ID, Name: src.Name, StartedAt: runs[i].StartedAt}
			if outcome != nil {
				failed.Stats = outcome.Stats
			}
			failed.FinishedAt = o.now().UTC()
			failed.Err = asSourceError(src.ID, errs[i])
			o.logFailure(runID, src, failed.Err)
			outcome = failed
		}
		outcomes[i] = outcome
		o.finishRun(runs[i], outcome)
	}
	report.Outcomes = outcomes

	next, diff, err := o.merger.Merge(prev, outcomes, runAt, runID)
	if errors.Is(err, services.ErrNothingToMerge) {
		o.log(runID, models.LogLevelWarn, "run", "every source failed; keeping the previous document")
		return report, nil
	}
	if err != nil {
		return report, err
	}
	report.Document, report.Diff = next, diff

	o.log(runID, models.LogLevelInfo, "run", fmt.Sprintf(
		"merged: %d listings (%d active), %d added, %d price changes, %d delisted, %d relisted, %d pruned",
		len(next.Listings), next.ActiveCount(), len(diff.Added), len(diff.PriceChanges),
		diff.Delisted, diff.Relisted, diff.Pruned))

	if o.dryRun {
		o.log(runID, models.LogLevelInfo, "run", "dry run; not writing "+o.docs.Path())
		return report, nil
	}

	if err := o.docs.Save(next); err != nil {
		return report, err
	}
	report.Written = true
	o.log(runID, models.LogLevelInfo, "run", "wrote "+o.docs.Path())

	o.publish(ctx, runID, next)
	o.pruneRunLog(runID, runAt)

	return report, nil
}

// scrapeSource is one pool task: fetch, then normalize and identify.
func (o *Orchestrator) scrapeSource(ctx context.Context, runID string, src *config.SourceConfig, listings *services.ListingService) (*services.SourceOutcome, error) {
	started := o.now().UTC()
	fetcher, release := o.newFetcher(src)
	defer release()

	handler, err := NewHandler(src, fetcher)
	if err != nil {
		return nil, err
	}

	o.log(runID, models.LogLevelInfo, string(src.ID), "starting scrape for "+src.Name)
	raws, err := handler.Scrape(ctx)
	if err != nil {
		return nil, err
	}
	if len(raws) == 0 {
		return nil, ErrNoListings
	}

	outcome, err := listings.ProcessSource(src, raws)
	if outcome != nil {
		outcome.StartedAt = started
		outcome.FinishedAt = o.now().UTC()
	}
	if err != nil {
		return outcome, err
	}

	s := outcome.Stats
	o.log(runID, models.LogLevelInfo, string(src.ID), fmt.Sprintf(
		"completed: %d fetched, %d accepted, %d rejected, %d new, %d matched",
		s.Fetched, s.Accepted, s.Rejected, s.New, s.Matched()))
	return outcome, nil
}

func asSourceError(source models.Source, err error) error {
	var se *SourceError
	if errors.As(err, &se) {
		return se
	}
	return &SourceError{Source: source, Err: err}
}

func (o *Orchestrator) logFailure(runID string, src *config.SourceConfig, err error) {
	msg := fmt.Sprintf("failed: %v", err)
	if o.store != nil {
		if last, lerr := o.store.GetLastSuccess(src.ID); lerr == nil {
			msg += fmt.Sprintf(" (last success %s)", last.UTC().Format(time.RFC3339))
		}
	}
	o.log(runID, models.LogLevelError, string(src.ID), msg)
}

// publish pushes the written document to the optional sinks. Their failures
// never fail the run.
func (o *Orchestrator) publish(ctx context.Context, runID string, doc *models.OutputDocument) {
	if o.pgStore != nil {
		if err := o.pgStore.Mirror(ctx, doc); err != nil {
			o.log(runID, models.LogLevelWarn, "postgres", fmt.Sprintf("mirror failed: %v", err))
		} else {
			o.log(runID, models.LogLevelInfo, "postgres", fmt.Sprintf("mirrored %d listings", len(doc.Listings)))
		}
	}
	if o.archiver != nil {
		key, err := o.archiver.Archive(ctx, doc)
		if err != nil {
			o.log(runID, models.LogLevelWarn, "s3", fmt.Sprintf("archive failed: %v", err))
		} else {
			o.log(runID, models.LogLevelInfo, "s3", "archived "+key)
		}
	}
}

func (o *Orchestrator) pruneRunLog(runID string, runAt time.Time) {
	if o.store == nil {
		return
	}
	if err := o.store.PruneBefore(runAt.Add(-o.merger.Retention)); err != nil {
		o.log(runID, models.LogLevelWarn, "run", fmt.Sprintf("pruning run log failed: %v", err))
	}
}

func (o *Orchestrator) startRun(runID string, src *config.SourceConfig) *models.SourceRun {
	run := &models.SourceRun{
		RunID:     runID,
		Source:    src.ID,
		StartedAt: o.now().UTC(),
		Status:    models.RunStatusRunning,
	}
	if o.store != nil {
		id, err := o.store.CreateRun(run)
		if err != nil {
			log.Printf("Warning: failed to create run row for %s: %v", src.ID, err)
		}
		run.ID = id
	}
	return run
}

func (o *Orchestrator) finishRun(run *models.SourceRun, outcome *services.SourceOutcome) {
	now := o.now().UTC()
	run.FinishedAt = &now
	run.Status = models.RunStatusCompleted
	run.ListingsFound = outcome.Stats.Fetched
	run.ListingsNew = outcome.Stats.New
	run.Rejected = outcome.Stats.Rejected
	run.Ambiguous = outcome.Stats.Ambiguous
	if outcome.Err != nil {
		run.Status = models.RunStatusFailed
		run.ErrorMessage = outcome.Err.Error()
	}
	if o.store != nil && run.ID != 0 {
		if err := o.store.UpdateRun(run); err != nil {
			log.Printf("Warning: failed to update run row for %s: %v", run.Source, err)
		}
	}
}

func (o *Orchestrator) log(runID string, level models.LogLevel, source, message string) {
	log.Printf("[%s] %s: %s", level, source, message)
	if o.store == nil {
		return
	}
	if err := o.store.Log(runID, level, message, models.Source(source)); err != nil {
		o.logWarnOnce.Do(func() {
			log.Printf("Warning: failed to write run log: %v", err)
		})
	}
}

// PrintSummary renders the per-source table of a finished run.
func PrintSummary(w io.Writer, report *RunReport) {
	rows := make([]logging.SummaryRow, 0, len(report.Outcomes))
	for _, out := range report.Outcomes {
		row := logging.SummaryRow{
			Source:   string(out.Source),
			Status:   "ok",
			Fetched:  out.Stats.Fetched,
			Accepted: out.Stats.Accepted,
			Rejected: out.Stats.Rejected,
			New:      out.Stats.New,
			Matched:  out.Stats.Matched(),
		}
		if !out.FinishedAt.IsZero() && !out.StartedAt.IsZero() {
			row.Duration = out.FinishedAt.Sub(out.StartedAt).Round(time.Millisecond).String()
		}
		if out.Err != nil {
			row.Status = "failed"
			row.Error = out.Err.Error()
		}
		rows = append(rows, row)
	}
	logging.RenderSummary(w, report.RunID, rows)
}
