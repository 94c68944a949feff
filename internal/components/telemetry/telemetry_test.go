package telemetry

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/require"
)

func TestScopedAPI(t *testing.T) {
	rec := NewRecorder()
	scoped := NewScopedAPI("testbook_scraper", rec)

	scoped.ReportWarning("client.fetch-listing", 2020)
	scoped.ReportCount("client.items", 3)
	scoped.ReportCount("client.items", 5)

	warnings := rec.Find("warning", "client.fetch-listing")
	require.Len(t, warnings, 1)
	require.Equal(t, "testbook_scraper: client.fetch-listing", warnings[0].ID)
	require.Equal(t, []any{2020}, warnings[0].Params)

	count, ok := rec.LastCount("client.items")
	require.True(t, ok)
	require.EqualValues(t, 5, count)

	_, ok = rec.LastCount("missing")
	require.False(t, ok)
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	require.Equal(t, slog.LevelWarn, ParseLevel(" warn "))
	require.Equal(t, slog.LevelError, ParseLevel("error"))
	require.Equal(t, slog.LevelInfo, ParseLevel(""))
	require.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestSlogAPI(t *testing.T) {
	var buf bytes.Buffer
	previous := slog.Default()
	InitSlogTo(&buf, slog.LevelDebug)
	defer slog.SetDefault(previous)

	SlogAPI{}.ReportWarning("pipeline.download-item", "p2", "status 404")
	out := buf.String()
	require.Contains(t, out, "level=WARN")
	require.Contains(t, out, "id=pipeline.download-item")
	require.Contains(t, out, "params.0=p2")
}

func TestInstrumentRestyRedactsCredential(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	rec := NewRecorder()
	client := resty.New()
	InstrumentResty(client, rec, "test")

	res, err := client.R().Get(server.URL + "/tests/1?auth_code=topsecret")
	require.NoError(t, err)
	require.Equal(t, http.StatusTooManyRequests, res.StatusCode())

	requests := rec.Find("debug", report_resty_request)
	require.Len(t, requests, 1)
	require.Len(t, rec.Find("debug", report_resty_response), 1)

	for _, report := range append(requests, rec.Find("debug", report_resty_response)...) {
		for _, param := range report.Params {
			if s, ok := param.(string); ok {
				require.False(t, strings.Contains(s, "topsecret"), "credential leaked in %q", s)
			}
		}
	}
}
