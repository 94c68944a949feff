package testbook

import (
	"context"
	"encoding/json"
)

// FetchPaper retrieves the paper payload of itemId. It returns a nil payload and
// the reason when the paper could not be retrieved.
func (c *Client) FetchPaper(ctx context.Context, itemId string, observe BackoffObserver) (json.RawMessage, error) {
	return c.fetchItem(ctx, report_client_fetch_paper, c.itemUrl(itemId, ""), itemId, observe)
}

// FetchAnswers retrieves the answer key of itemId, see FetchPaper.
func (c *Client) FetchAnswers(ctx context.Context, itemId string, observe BackoffObserver) (json.RawMessage, error) {
	return c.fetchItem(ctx, report_client_fetch_answers, c.itemUrl(itemId, "/answers"), itemId, observe)
}

func (c *Client) fetchItem(ctx context.Context, reportId, url, itemId string, observe BackoffObserver) (json.RawMessage, error) {
	payload, err := c.retry.fetch(ctx, url, func(b Backoff) {
		c.tel.ReportDebug(report_client_backoff, itemId, b.Attempt, b.Wait.String(), b.Cause)
		if observe != nil {
			observe(b)
		}
	})
	if err != nil {
		if ctx.Err() == nil {
			c.tel.ReportWarning(reportId, itemId, err)
		}
		return nil, err
	}
	return payload, nil
}
