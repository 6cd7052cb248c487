// Package usagesource fetches per-key, per-model usage buckets from the
// Anthropic Admin usage report endpoint.
package usagesource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/baroque-dev/baroque/internal/config"
	"github.com/baroque-dev/baroque/internal/persistence"
)

const (
	usageReportPath = "/organizations/usage_report/messages"
	maxBodySize     = 16 << 20 // 16 MB
	maxPages        = 1000
)

var (
	// ErrUnavailable is returned for any transport, status, or decoding
	// failure. No partial result accompanies it.
	ErrUnavailable = errors.New("usagesource: source unavailable")
	// ErrNotConfigured is returned when no admin API key is set.
	ErrNotConfigured = errors.New("usagesource: admin API key not configured")
)

// BucketWidth is the time granularity of a usage bucket.
type BucketWidth string

const (
	BucketHour BucketWidth = "1h"
	BucketDay  BucketWidth = "1d"
)

// RawRecord is one usage result inside one source bucket, tagged with the
// UTC calendar date the bucket starts on.
type RawRecord struct {
	APIKeyID    string
	Model       string
	BucketStart time.Time
	BucketDate  time.Time
	persistence.Counters
}

// Client talks to the usage report endpoint.
type Client struct {
	baseURL    string
	adminKey   string
	version    string
	timeout    time.Duration
	httpClient *http.Client
}

// NewClient creates a client from cfg. A nil httpClient uses a default one.
func NewClient(cfg config.UsageSourceConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	version := cfg.AnthropicVersion
	if version == "" {
		version = config.DefaultAnthropicVersion
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = config.DefaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		adminKey:   strings.TrimSpace(cfg.AdminAPIKey),
		version:    version,
		timeout:    timeout,
		httpClient: httpClient,
	}
}

// Configured reports whether an admin API key is set.
func (c *Client) Configured() bool {
	return c.adminKey != ""
}

// FetchUsage returns every usage result between start and end, walking all
// pages. Results are grouped by API key and model.
func (c *Client) FetchUsage(ctx context.Context, start, end time.Time, width BucketWidth) ([]RawRecord, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	var (
		records  []RawRecord
		nextPage string
	)
	for page := 1; ; page++ {
		if page > maxPages {
			return nil, fmt.Errorf("%w: more than %d pages", ErrUnavailable, maxPages)
		}

		body, err := c.get(ctx, c.buildQuery(start, end, width, nextPage))
		if err != nil {
			return nil, err
		}
		if !gjson.ValidBytes(body) {
			return nil, fmt.Errorf("%w: page %d is not valid JSON", ErrUnavailable, page)
		}

		doc := gjson.ParseBytes(body)
		buckets := doc.Get("data")
		if buckets.Exists() && !buckets.IsArray() {
			return nil, fmt.Errorf("%w: page %d has malformed data", ErrUnavailable, page)
		}

		pageRecords := parseBuckets(buckets)
		records = append(records, pageRecords...)

		log.WithFields(log.Fields{
			"page":    page,
			"buckets": len(buckets.Array()),
			"results": len(pageRecords),
		}).Debug("Fetched usage report page")

		nextPage = doc.Get("next_page").String()
		if !doc.Get("has_more").Bool() || nextPage == "" {
			break
		}
	}

	return records, nil
}

func (c *Client) buildQuery(start, end time.Time, width BucketWidth, page string) url.Values {
	q := url.Values{}
	q.Set("starting_at", start.UTC().Format(time.RFC3339))
	q.Set("ending_at", end.UTC().Format(time.RFC3339))
	q.Set("bucket_width", string(width))
	q.Add("group_by[]", "api_key_id")
	q.Add("group_by[]", "model")
	if page != "" {
		q.Set("page", page)
	}
	return q
}

// get performs an authenticated GET and returns the response body.
func (c *Client) get(ctx context.Context, query url.Values) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	endpoint := c.baseURL + usageReportPath + "?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: creating request: %v", ErrUnavailable, err)
	}
	req.Header.Set("x-api-key", c.adminKey)
	req.Header.Set("anthropic-version", c.version)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: request failed: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		log.WithFields(log.Fields{
			"status": resp.StatusCode,
			"body":   string(snippet),
		}).Warn("Usage report request rejected")
		return nil, fmt.Errorf("%w: unexpected status %d", ErrUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrUnavailable, err)
	}
	if len(body) > maxBodySize {
		return nil, fmt.Errorf("%w: response exceeds %d bytes", ErrUnavailable, maxBodySize)
	}
	return body, nil
}

// parseBuckets flattens a page of buckets into records. A bucket whose
// starting_at cannot be parsed is skipped.
func parseBuckets(buckets gjson.Result) []RawRecord {
	var records []RawRecord

	buckets.ForEach(func(_, bucket gjson.Result) bool {
		startedAt := bucket.Get("starting_at").String()
		bucketStart, err := time.Parse(time.RFC3339, startedAt)
		if err != nil {
			log.WithError(err).WithField("starting_at", startedAt).Warn("Skipping usage bucket without a valid start time")
			return true
		}
		bucketStart = bucketStart.UTC()
		bucketDate := persistence.CalendarDate(bucketStart)

		bucket.Get("results").ForEach(func(_, result gjson.Result) bool {
			records = append(records, RawRecord{
				APIKeyID:    result.Get("api_key_id").String(),
				Model:       result.Get("model").String(),
				BucketStart: bucketStart,
				BucketDate:  bucketDate,
				Counters:    parseCounters(result),
			})
			return true
		})
		return true
	})

	return records
}

// parseCounters unpacks the nested cache_creation and server_tool_use
// objects. Missing fields count as zero.
func parseCounters(result gjson.Result) persistence.Counters {
	return persistence.Counters{
		UncachedInputTokens:   result.Get("uncached_input_tokens").Int(),
		CacheReadInputTokens:  result.Get("cache_read_input_tokens").Int(),
		CacheCreation5mTokens: result.Get("cache_creation.ephemeral_5m_input_tokens").Int(),
		CacheCreation1hTokens: result.Get("cache_creation.ephemeral_1h_input_tokens").Int(),
		OutputTokens:          result.Get("output_tokens").Int(),
		WebSearchRequests:     result.Get("server_tool_use.web_search_requests").Int(),
	}
}
