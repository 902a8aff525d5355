// Package notify implements the optional webhook alert sink (C15): a
// condensed JSON summary POSTed to a configured URL after each run,
// alongside (not instead of) the sendmail report.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// reportExcerptLimit caps ReportExcerpt so a run with hundreds of hosts
// doesn't blow up the webhook/SMTP payload with the full report body.
const reportExcerptLimit = 2048

// RunSummary is the condensed payload POSTed to the webhook URL (and mailed
// by the SMTP alert sink).
type RunSummary struct {
	RunID           string    `json:"run_id"`
	StartedAt       time.Time `json:"started_at"`
	FinishedAt      time.Time `json:"finished_at"`
	HostsTotal      int       `json:"hosts_total"`
	HostsFailed     int       `json:"hosts_failed"`
	JobsTotal       int       `json:"jobs_total"`
	BytesSentMB     int64     `json:"bytes_sent_mb"`
	FailedHostnames []string  `json:"failed_hostnames,omitempty"`

	// DurationSeconds is FinishedAt.Sub(StartedAt) in seconds, precomputed
	// so consumers don't need to parse both timestamps just to show a
	// run length.
	DurationSeconds float64 `json:"duration_seconds"`

	// ReportExcerpt is the head of the sendmail report body, truncated to
	// reportExcerptLimit bytes, so an alert consumer gets a look at what
	// the full report says without fetching it separately.
	ReportExcerpt string `json:"report_excerpt,omitempty"`
}

// Excerpt truncates report to reportExcerptLimit bytes, for building a
// RunSummary's ReportExcerpt field from a full report.Build body.
func Excerpt(report string) string {
	if len(report) <= reportExcerptLimit {
		return report
	}
	return report[:reportExcerptLimit]
}

// Client POSTs RunSummary payloads to a webhook URL, tracking in-flight
// async deliveries so Close can drain them before the process exits.
type Client struct {
	URL        string
	HTTPClient *http.Client
	Log        *logrus.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewClient builds a webhook client with a bounded per-request timeout.
func NewClient(url string, log *logrus.Logger) *Client {
	return &Client{
		URL:        url,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		Log:        log,
	}
}

// Send fires a POST asynchronously and returns immediately. A blank URL is
// a configured no-op, not an error.
func (c *Client) Send(summary RunSummary) error {
	if c.URL == "" {
		return nil
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.New("webhook client is closed")
	}
	c.wg.Add(1)
	c.mu.Unlock()

	payload, err := json.Marshal(summary)
	if err != nil {
		c.wg.Done()
		return errors.Wrap(err, "marshal webhook payload")
	}

	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := c.post(ctx, payload); err != nil {
			c.logf("webhook delivery to %s failed: %v", c.URL, err)
		}
	}()

	return nil
}

// SendSync fires a POST and blocks for the result, for callers (tests,
// --simulate dry checks) that need to observe delivery outcome directly.
func (c *Client) SendSync(ctx context.Context, summary RunSummary) error {
	if c.URL == "" {
		return nil
	}
	payload, err := json.Marshal(summary)
	if err != nil {
		return errors.Wrap(err, "marshal webhook payload")
	}
	return c.post(ctx, payload)
}

func (c *Client) post(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, "build webhook request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "rsnap-webhook/1.0")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "do webhook request")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) logf(format string, args ...interface{}) {
	if c.Log == nil {
		return
	}
	c.Log.Warnf(format, args...)
}

// Close waits for any in-flight async deliveries to finish and rejects
// further sends.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.wg.Wait()
}
