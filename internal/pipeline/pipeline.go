package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"pyqfetch/internal/components/assert"
	"pyqfetch/internal/components/chrono"
	"pyqfetch/internal/components/telemetry"
	"pyqfetch/internal/exams"
	"pyqfetch/internal/papers"
	"pyqfetch/internal/scrapers/testbook"
	"pyqfetch/internal/store"

	"github.com/google/uuid"
)

const (
	report_pipeline_listing        = "pipeline.listing"
	report_pipeline_download       = "pipeline.download"
	report_pipeline_download_item  = "pipeline.download-item"
	report_pipeline_download_ok    = "pipeline.download-success"
	report_pipeline_download_fail  = "pipeline.download-failed"
	report_pipeline_download_total = "pipeline.download-total"
)

// Fetcher is the upstream api as the pipeline uses it.
//
// note: fault injection point
type Fetcher interface {
	FetchListing(ctx context.Context, targetId string, from, to int, observe func(testbook.ListingProgress)) ([]papers.WorkItem, papers.YearCounts, error)
	FetchPaper(ctx context.Context, itemId string, observe testbook.BackoffObserver) (json.RawMessage, error)
	FetchAnswers(ctx context.Context, itemId string, observe testbook.BackoffObserver) (json.RawMessage, error)
}

type Options struct {
	// Throttle is waited after every downloaded item.
	Throttle time.Duration
}

// Pipeline downloads and cleans the papers of a single exam.
type Pipeline struct {
	session exams.Session
	fetcher Fetcher
	store   store.Store
	clock   chrono.API
	tel     telemetry.API
	opts    Options
}

func New(session exams.Session, fetcher Fetcher, clock chrono.API, tel telemetry.API, opts Options) *Pipeline {
	assert.NotNil(fetcher)
	assert.NotNil(clock)
	assert.NotNil(tel)
	assert.NotEmptyStr(session.BaseDir)

	return &Pipeline{
		session: session,
		fetcher: fetcher,
		store:   store.New(session.BaseDir),
		clock:   clock,
		tel:     telemetry.NewScopedAPI("pipeline", tel),
		opts:    opts,
	}
}

func (p *Pipeline) Store() store.Store {
	return p.store
}

type Listing struct {
	Items     []papers.WorkItem
	Counts    papers.YearCounts
	FromCache bool
}

// LoadListing returns the cached listing of the exam, or sweeps [from, to] and
// caches the result when there is no cache yet or refresh is set. A sweep that
// was cancelled is not cached.
func (p *Pipeline) LoadListing(ctx context.Context, from, to int, refresh bool, observe func(testbook.ListingProgress)) (Listing, error) {
	if !refresh {
		items, err := p.store.LoadListing()
		if err == nil {
			return Listing{
				Items:     items,
				Counts:    papers.CountByYear(items),
				FromCache: true,
			}, nil
		}
		if !errors.Is(err, store.ErrNoListing) {
			p.tel.ReportWarning(report_pipeline_listing, "unreadable cache, fetching again", err)
		}
	}

	items, counts, err := p.fetcher.FetchListing(ctx, p.session.Target.ID, from, to, observe)
	if err != nil {
		return Listing{}, err
	}
	err = p.store.SaveListing(items)
	if err != nil {
		return Listing{}, err
	}
	return Listing{Items: items, Counts: counts}, nil
}

// FilterByYears keeps the items of the given years in listing order. No years
// keeps everything.
func FilterByYears(items []papers.WorkItem, years []int) []papers.WorkItem {
	if len(years) == 0 {
		return items
	}
	wanted := make(map[int]struct{}, len(years))
	for _, y := range years {
		wanted[y] = struct{}{}
	}
	var out []papers.WorkItem
	for _, item := range items {
		if _, ok := wanted[item.Year]; ok {
			out = append(out, item)
		}
	}
	return out
}

type Phase string

const (
	PhasePaper   Phase = "paper"
	PhaseAnswers Phase = "answers"
	PhaseBackoff Phase = "backoff"
	PhaseDone    Phase = "done"
	PhaseFailed  Phase = "failed"
)

// Event is a progress update about one item of a batch. Index is 1-based.
type Event struct {
	Index  int
	Total  int
	Phase  Phase
	ItemID string
	Title  string
	Year   int

	// Attempt and Wait are set on PhaseBackoff.
	Attempt int
	Wait    time.Duration
	// Err is set on PhaseFailed.
	Err error
}

type Result struct {
	Success int
	Failed  int
}

// DownloadAndClean fetches, stores and cleans every item, one at a time in the
// given order. A failing item is counted and skipped. Cancellation is checked
// between items: the counts so far are returned along with ctx's error.
func (p *Pipeline) DownloadAndClean(ctx context.Context, items []papers.WorkItem, includeCorrectAnswer bool, onEvent func(Event)) (Result, error) {
	if onEvent == nil {
		onEvent = func(Event) {}
	}

	runId := uuid.NewString()
	p.tel.ReportDebug(report_pipeline_download, runId, len(items), includeCorrectAnswer)

	var result Result
	report := func() {
		p.tel.ReportCount(report_pipeline_download_ok, int64(result.Success))
		p.tel.ReportCount(report_pipeline_download_fail, int64(result.Failed))
		p.tel.ReportCount(report_pipeline_download_total, int64(len(items)))
	}

	for i, item := range items {
		if err := ctx.Err(); err != nil {
			report()
			return result, err
		}

		base := Event{
			Index:  i + 1,
			Total:  len(items),
			ItemID: item.ID,
			Title:  item.Title,
			Year:   item.Year,
		}

		err := p.downloadItem(ctx, item, includeCorrectAnswer, base, onEvent)
		if err != nil {
			result.Failed++
			failed := base
			failed.Phase = PhaseFailed
			failed.Err = err
			onEvent(failed)
			p.tel.ReportWarning(report_pipeline_download_item, runId, item.ID, err)

			if ctxErr := ctx.Err(); ctxErr != nil {
				report()
				return result, ctxErr
			}
		} else {
			result.Success++
			done := base
			done.Phase = PhaseDone
			onEvent(done)
		}

		err = p.clock.Sleep(ctx, p.opts.Throttle)
		if err != nil {
			report()
			return result, err
		}
	}

	report()
	p.tel.ReportDebug(report_pipeline_download, runId, result.Success, result.Failed)
	return result, nil
}

func (p *Pipeline) downloadItem(ctx context.Context, item papers.WorkItem, includeCorrectAnswer bool, base Event, onEvent func(Event)) error {
	backoff := func(b testbook.Backoff) {
		ev := base
		ev.Phase = PhaseBackoff
		ev.Attempt = b.Attempt
		ev.Wait = b.Wait
		onEvent(ev)
	}

	ev := base
	ev.Phase = PhasePaper
	onEvent(ev)

	paper, err := p.fetcher.FetchPaper(ctx, item.ID, backoff)
	if err != nil {
		return fmt.Errorf("fetch paper: %w", err)
	}

	ev.Phase = PhaseAnswers
	onEvent(ev)

	// a missing answer key still produces a cleaned paper
	answers, err := p.fetcher.FetchAnswers(ctx, item.ID, backoff)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("fetch answers: %w", err)
		}
		answers = nil
	}

	title := item.Title
	if title == "" {
		title = "Unknown"
	}
	safeTitle := store.SanitizeTitle(title)

	err = p.store.WriteRaw(item.Year, item.ID, safeTitle, paper, answers)
	if err != nil {
		return err
	}

	cleaned, err := papers.Merge(paper, answers, includeCorrectAnswer)
	if err != nil {
		return err
	}

	return p.store.WriteCleaned(item.Year, item.ID, safeTitle, cleaned)
}
