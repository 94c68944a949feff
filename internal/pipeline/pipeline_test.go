package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"pyqfetch/internal/components/chrono"
	"pyqfetch/internal/components/telemetry"
	"pyqfetch/internal/exams"
	"pyqfetch/internal/papers"
	"pyqfetch/internal/scrapers/testbook"
	"pyqfetch/internal/store"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

// fakeApi serves the paper endpoints by path, unknown paths are 404.
type fakeApi struct {
	mu       sync.Mutex
	routes   map[string]string
	statuses map[string]int
	calls    []string
}

func (f *fakeApi) Do(_ context.Context, raw string) (int, []byte, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return 0, nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, parsed.Path)

	if status, ok := f.statuses[parsed.Path]; ok {
		return status, nil, nil
	}
	body, ok := f.routes[parsed.Path]
	if !ok {
		return http.StatusNotFound, []byte(`{"success":false}`), nil
	}
	return http.StatusOK, []byte(body), nil
}

func paperBody(title string) string {
	return fmt.Sprintf(`{"data": {"title": %q, "sections": [{"questions": [
		{"_id": "q1", "en": {"value": "<p>Pick one</p>", "options": [{"value": "A"}, {"value": "<b>B</b>"}]}}
	]}]}}`, title)
}

const answersBody = `{"data": {"q1": {"correctOption": "2"}}}`

type harness struct {
	api   *fakeApi
	clock *chrono.FakeImpl
	tel   *telemetry.Recorder
	p     *Pipeline
}

func newHarness(t *testing.T, api *fakeApi) harness {
	clock := chrono.NewFakeImpl(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	tel := telemetry.NewRecorder()
	client := testbook.NewClientWithDoer(testbook.Options{
		ListingBaseUrl: "https://listing.example.com/target",
		PaperBaseUrl:   "https://papers.example.com/tests",
		AuthCode:       "secret",
		Throttle:       300 * time.Millisecond,
		Retry:          testbook.DefaultRetryPolicy(),
	}, api, clock, tel)

	session := exams.NewSession(exams.Target{Name: "SSC CGL", ID: "target-1", Dir: "ssc_cgl"}, t.TempDir())
	return harness{
		api:   api,
		clock: clock,
		tel:   tel,
		p:     New(session, client, clock, tel, Options{Throttle: 300 * time.Millisecond}),
	}
}

func TestDownloadAndCleanCountsFailures(t *testing.T) {
	api := &fakeApi{routes: map[string]string{
		"/tests/p1":         paperBody("First Paper"),
		"/tests/p1/answers": answersBody,
		"/tests/p3":         paperBody("Third: Paper?"),
		"/tests/p3/answers": answersBody,
	}}
	h := newHarness(t, api)

	items := []papers.WorkItem{
		{ID: "p1", Year: 2021, Title: "First Paper"},
		{ID: "p2", Year: 2021, Title: "Second Paper"},
		{ID: "p3", Year: 2022, Title: "Third: Paper?"},
	}

	var events []Event
	result, err := h.p.DownloadAndClean(context.Background(), items, true, func(e Event) {
		events = append(events, e)
	})
	require.NoError(t, err)
	require.Equal(t, Result{Success: 2, Failed: 1}, result)

	s := h.p.Store()
	for _, path := range []string{
		s.RawPaperPath(2021, "p1", "First Paper"),
		s.RawAnswersPath(2021, "p1", "First Paper"),
		s.CleanedPath(2021, "p1", "First Paper"),
		s.RawPaperPath(2022, "p3", "Third Paper"),
		s.CleanedPath(2022, "p3", "Third Paper"),
	} {
		_, err := os.Stat(path)
		require.NoError(t, err, path)
	}
	matches, err := filepath.Glob(filepath.Join(s.BaseDir(), "*", "*", "p2_*"))
	require.NoError(t, err)
	require.Empty(t, matches)

	files, err := s.ListCleaned(0)
	require.NoError(t, err)
	require.Len(t, files, 2)
	cleaned, err := s.ReadCleaned(files[0])
	require.NoError(t, err)
	answer := "B"
	expected := papers.CleanedPaper{
		Title: "First Paper",
		Questions: []papers.Question{{
			ID:            "q1",
			Question:      "Pick one",
			Options:       []string{"A", "B"},
			CorrectOption: "2",
			CorrectAnswer: &answer,
		}},
	}
	if diff := cmp.Diff(expected, cleaned); diff != "" {
		t.Fatalf("unexpected cleaned paper (-want +got):\n%s", diff)
	}

	var phases []string
	for _, e := range events {
		phases = append(phases, fmt.Sprintf("%d/%d %s %s", e.Index, e.Total, e.Phase, e.ItemID))
	}
	require.Equal(t, []string{
		"1/3 paper p1",
		"1/3 answers p1",
		"1/3 done p1",
		"2/3 paper p2",
		"2/3 failed p2",
		"3/3 paper p3",
		"3/3 answers p3",
		"3/3 done p3",
	}, phases)

	var statusErr *testbook.StatusError
	require.ErrorAs(t, events[4].Err, &statusErr)

	// the 404 is not retried, so only the per-item throttle was waited
	require.Equal(t, []time.Duration{
		300 * time.Millisecond,
		300 * time.Millisecond,
		300 * time.Millisecond,
	}, h.clock.Sleeps())

	ok, found := h.tel.LastCount(report_pipeline_download_ok)
	require.True(t, found)
	require.EqualValues(t, 2, ok)
	failed, _ := h.tel.LastCount(report_pipeline_download_fail)
	require.EqualValues(t, 1, failed)
}

func TestDownloadWithoutAnswers(t *testing.T) {
	api := &fakeApi{
		routes:   map[string]string{"/tests/p1": paperBody("Only Paper")},
		statuses: map[string]int{"/tests/p1/answers": http.StatusForbidden},
	}
	h := newHarness(t, api)

	result, err := h.p.DownloadAndClean(context.Background(), []papers.WorkItem{{ID: "p1", Year: 2020, Title: "Only Paper"}}, true, nil)
	require.NoError(t, err)
	require.Equal(t, Result{Success: 1}, result)

	s := h.p.Store()
	_, err = os.Stat(s.RawAnswersPath(2020, "p1", "Only Paper"))
	require.True(t, os.IsNotExist(err))

	files, err := s.ListCleaned(2020)
	require.NoError(t, err)
	cleaned, err := s.ReadCleaned(files[0])
	require.NoError(t, err)
	require.Equal(t, "", cleaned.Questions[0].CorrectOption)
	require.Nil(t, cleaned.Questions[0].CorrectAnswer)
}

func TestDownloadKeepsRawWhenMergeFails(t *testing.T) {
	api := &fakeApi{routes: map[string]string{
		"/tests/p1":         `{"data": {"sections": {"not": "a list"}}}`,
		"/tests/p1/answers": answersBody,
	}}
	h := newHarness(t, api)

	result, err := h.p.DownloadAndClean(context.Background(), []papers.WorkItem{{ID: "p1", Year: 2020, Title: "Broken"}}, false, nil)
	require.NoError(t, err)
	require.Equal(t, Result{Failed: 1}, result)

	s := h.p.Store()
	_, err = os.Stat(s.RawPaperPath(2020, "p1", "Broken"))
	require.NoError(t, err)
	_, err = os.Stat(s.CleanedPath(2020, "p1", "Broken"))
	require.True(t, os.IsNotExist(err))
}

func TestDownloadContinuesAfterWriteFailure(t *testing.T) {
	api := &fakeApi{routes: map[string]string{
		"/tests/p1":         paperBody("Blocked"),
		"/tests/p1/answers": answersBody,
		"/tests/p2":         paperBody("Fine"),
		"/tests/p2/answers": answersBody,
	}}
	h := newHarness(t, api)
	s := h.p.Store()

	// a regular file where the year directory should go
	require.NoError(t, os.MkdirAll(filepath.Join(s.BaseDir(), "raw"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(s.BaseDir(), "raw", "2020"), []byte("x"), 0644))

	items := []papers.WorkItem{
		{ID: "p1", Year: 2020, Title: "Blocked"},
		{ID: "p2", Year: 2021, Title: "Fine"},
	}
	var failed []Event
	result, err := h.p.DownloadAndClean(context.Background(), items, true, func(e Event) {
		if e.Phase == PhaseFailed {
			failed = append(failed, e)
		}
	})
	require.NoError(t, err)
	require.Equal(t, Result{Success: 1, Failed: 1}, result)

	require.Len(t, failed, 1)
	require.Equal(t, "p1", failed[0].ItemID)
	require.Error(t, failed[0].Err)

	for _, path := range []string{
		s.RawPaperPath(2021, "p2", "Fine"),
		s.RawAnswersPath(2021, "p2", "Fine"),
		s.CleanedPath(2021, "p2", "Fine"),
	} {
		_, err := os.Stat(path)
		require.NoError(t, err, path)
	}
	_, err = os.Stat(s.CleanedPath(2020, "p1", "Blocked"))
	require.Error(t, err)
	require.Len(t, h.clock.Sleeps(), 2)
}

func TestDownloadReportsBackoff(t *testing.T) {
	api := &fakeApi{routes: map[string]string{
		"/tests/p1/answers": answersBody,
	}}
	h := newHarness(t, api)
	calls := 0
	h.api.statuses = map[string]int{"/tests/p1": http.StatusTooManyRequests}

	var backoffs []time.Duration
	result, err := h.p.DownloadAndClean(context.Background(), []papers.WorkItem{{ID: "p1", Year: 2020, Title: "T"}}, false, func(e Event) {
		if e.Phase == PhaseBackoff {
			backoffs = append(backoffs, e.Wait)
			calls++
			if calls == 2 {
				h.api.mu.Lock()
				delete(h.api.statuses, "/tests/p1")
				h.api.routes["/tests/p1"] = paperBody("T")
				h.api.mu.Unlock()
			}
		}
	})
	require.NoError(t, err)
	require.Equal(t, Result{Success: 1}, result)
	require.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, backoffs)
}

func TestDownloadStopsOnCancel(t *testing.T) {
	api := &fakeApi{routes: map[string]string{
		"/tests/p1":         paperBody("One"),
		"/tests/p1/answers": answersBody,
		"/tests/p2":         paperBody("Two"),
	}}
	h := newHarness(t, api)

	ctx, cancel := context.WithCancel(context.Background())
	items := []papers.WorkItem{
		{ID: "p1", Year: 2020, Title: "One"},
		{ID: "p2", Year: 2020, Title: "Two"},
	}
	result, err := h.p.DownloadAndClean(ctx, items, false, func(e Event) {
		if e.Phase == PhaseDone && e.ItemID == "p1" {
			cancel()
		}
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, Result{Success: 1}, result)
	for _, call := range api.calls {
		require.False(t, strings.HasPrefix(call, "/tests/p2"))
	}
}

// listingFetcher counts listing sweeps and fails every paper fetch.
type listingFetcher struct {
	sweeps int
	items  []papers.WorkItem
}

func (f *listingFetcher) FetchListing(_ context.Context, _ string, _, _ int, _ func(testbook.ListingProgress)) ([]papers.WorkItem, papers.YearCounts, error) {
	f.sweeps++
	return f.items, papers.CountByYear(f.items), nil
}

func (f *listingFetcher) FetchPaper(context.Context, string, testbook.BackoffObserver) (json.RawMessage, error) {
	return nil, errors.New("unused")
}

func (f *listingFetcher) FetchAnswers(context.Context, string, testbook.BackoffObserver) (json.RawMessage, error) {
	return nil, errors.New("unused")
}

func TestLoadListingUsesCache(t *testing.T) {
	fetcher := &listingFetcher{items: []papers.WorkItem{
		{ID: "a", Year: 2020, Title: "A"},
		{ID: "b", Year: 2021, Title: "B"},
	}}
	session := exams.NewSession(exams.Target{Name: "X", ID: "x", Dir: "x"}, t.TempDir())
	p := New(session, fetcher, chrono.NewFakeImpl(time.Now()), telemetry.NewRecorder(), Options{})

	first, err := p.LoadListing(context.Background(), 2010, 2025, false, nil)
	require.NoError(t, err)
	require.False(t, first.FromCache)
	require.Equal(t, 1, fetcher.sweeps)

	second, err := p.LoadListing(context.Background(), 2010, 2025, false, nil)
	require.NoError(t, err)
	require.True(t, second.FromCache)
	require.Equal(t, 1, fetcher.sweeps)
	require.Equal(t, first.Items, second.Items)
	require.Equal(t, papers.YearCounts{2020: 1, 2021: 1}, second.Counts)

	_, err = p.LoadListing(context.Background(), 2010, 2025, true, nil)
	require.NoError(t, err)
	require.Equal(t, 2, fetcher.sweeps)

	cached, err := store.New(session.BaseDir).LoadListing()
	require.NoError(t, err)
	require.Equal(t, fetcher.items, cached)
}

func TestFilterByYears(t *testing.T) {
	items := []papers.WorkItem{
		{ID: "a", Year: 2024},
		{ID: "b", Year: 2023},
		{ID: "c", Year: 2024},
		{ID: "d", Year: 2022},
	}
	require.Equal(t, items, FilterByYears(items, nil))
	require.Equal(t, []papers.WorkItem{
		{ID: "a", Year: 2024},
		{ID: "b", Year: 2023},
		{ID: "c", Year: 2024},
	}, FilterByYears(items, []int{2023, 2024}))
	require.Empty(t, FilterByYears(items, []int{1999}))
}
