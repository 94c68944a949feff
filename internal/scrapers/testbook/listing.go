package testbook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"pyqfetch/internal/papers"
)

// looseYear accepts a JSON number or a numeric string. Anything else, null
// included, leaves it invalid instead of failing the whole response.
type looseYear struct {
	Value int
	Valid bool
	Raw   string
}

func (y *looseYear) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	*y = looseYear{Raw: string(data)}
	text := data
	if len(data) > 0 && data[0] == '"' {
		var str string
		err := json.Unmarshal(data, &str)
		if err != nil {
			return nil
		}
		text = []byte(strings.TrimSpace(str))
	}
	parsed, err := strconv.Atoi(string(text))
	if err != nil {
		return nil
	}
	y.Value = parsed
	y.Valid = true
	return nil
}

type listingTest struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type listingYear struct {
	Year  looseYear     `json:"year"`
	Tests []listingTest `json:"tests"`
}

type listingResponse struct {
	Success bool `json:"success"`
	Data    *struct {
		YearWiseTests []listingYear `json:"yearWiseTests"`
	} `json:"data"`
}

// ListingProgress is reported after each requested year of a listing sweep.
type ListingProgress struct {
	Year  int
	Found int
	Err   error
}

// FetchListing requests the listing of targetId for every year in [from, to].
// Items are tagged with the year the payload declares, which is not always the
// year that was asked for. A year that fails is skipped with a warning, so the
// only error this returns is ctx's, alongside whatever was collected so far.
func (c *Client) FetchListing(ctx context.Context, targetId string, from, to int, observe func(ListingProgress)) ([]papers.WorkItem, papers.YearCounts, error) {
	items := []papers.WorkItem{}
	counts := papers.YearCounts{}

	for year := from; year <= to; year++ {
		if err := ctx.Err(); err != nil {
			return items, counts, err
		}

		found, err := c.fetchListingYear(ctx, targetId, year)
		if err != nil {
			c.tel.ReportWarning(report_client_fetch_listing, year, err)
		}
		found = c.dropInvalidYears(year, found)
		for _, entry := range found {
			counts[entry.Year.Value] += len(entry.Tests)
			for _, test := range entry.Tests {
				items = append(items, papers.WorkItem{
					ID:    test.ID,
					Year:  entry.Year.Value,
					Title: test.Title,
				})
			}
		}
		if observe != nil {
			total := 0
			for _, entry := range found {
				total += len(entry.Tests)
			}
			observe(ListingProgress{Year: year, Found: total, Err: err})
		}

		err = c.clock.Sleep(ctx, c.opts.Throttle)
		if err != nil {
			return items, counts, err
		}
	}

	return items, counts, nil
}

// dropInvalidYears skips the entries whose year could not be read, keeping the
// rest of the response.
func (c *Client) dropInvalidYears(requested int, found []listingYear) []listingYear {
	kept := found[:0]
	for _, entry := range found {
		if !entry.Year.Valid {
			c.tel.ReportWarning(report_client_fetch_listing, requested, fmt.Errorf("skipping %d tests with year %s", len(entry.Tests), entry.Year.Raw))
			continue
		}
		kept = append(kept, entry)
	}
	return kept
}

func (c *Client) fetchListingYear(ctx context.Context, targetId string, year int) ([]listingYear, error) {
	status, body, err := c.doer.Do(ctx, c.listingUrl(targetId, year))
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, &StatusError{Status: status}
	}

	var res listingResponse
	err = json.Unmarshal(body, &res)
	if err != nil {
		return nil, fmt.Errorf("decode listing: %w", err)
	}
	if !res.Success || res.Data == nil || res.Data.YearWiseTests == nil {
		return nil, fmt.Errorf("unrecognized listing shape (success=%v)", res.Success)
	}
	return res.Data.YearWiseTests, nil
}
