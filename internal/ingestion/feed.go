package ingestion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/vost-pt/meios-dashboard/internal/metrics"
	"github.com/vost-pt/meios-dashboard/internal/models"
)

// FetchError means the upstream could not be read. It is distinct from an
// empty result, which is returned as an empty slice and a nil error.
type FetchError struct {
	Source string
	Op     string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %s: %v", e.Source, e.Op, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

func fetchErr(source, op string, err error) error {
	metrics.RecordFetchFailure(source)
	return &FetchError{Source: source, Op: op, Err: err}
}

type feedResponse struct {
	Data []models.RawRecord `json:"data"`
}

// HTTPFetcher reads the incidents API: GET <url>[?day=dd-mm-yyyy] answering
// {"data": [...]}.
type HTTPFetcher struct {
	url    string
	client *http.Client
}

func NewHTTPFetcher(feedURL string, timeout time.Duration) *HTTPFetcher {
	return &HTTPFetcher{
		url: feedURL,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, filter models.Filter) ([]models.RawRecord, error) {
	u, err := url.Parse(f.url)
	if err != nil {
		return nil, fetchErr("http", "parse url", err)
	}
	if filter.HasDay() {
		q := u.Query()
		q.Set("day", filter.DayString())
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fetchErr("http", "create request", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fetchErr("http", "do request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fetchErr("http", "status", fmt.Errorf("unexpected status code: %d - status: %s", resp.StatusCode, resp.Status))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fetchErr("http", "read body", err)
	}
	records, err := decodeFeed(body)
	if err != nil {
		return nil, fetchErr("http", "decode", err)
	}
	return records, nil
}

// FileFetcher reads a local copy of the feed. The file cannot be queried,
// so the day filter is applied to each record's date.
type FileFetcher struct {
	path string
}

func NewFileFetcher(path string) *FileFetcher {
	return &FileFetcher{path: path}
}

func (f *FileFetcher) Fetch(ctx context.Context, filter models.Filter) ([]models.RawRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, fetchErr("file", "read", err)
	}
	body, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fetchErr("file", "read", err)
	}
	records, err := decodeFeed(body)
	if err != nil {
		return nil, fetchErr("file", "decode", err)
	}
	if !filter.HasDay() {
		return records, nil
	}

	day := filter.DayString()
	out := make([]models.RawRecord, 0, len(records))
	for _, r := range records {
		if models.ToString(r["date"]) == day {
			out = append(out, r)
		}
	}
	return out, nil
}

// decodeFeed accepts the wrapped {"data": [...]} body or a bare array.
// Numbers are kept as json.Number so large ids survive intact.
func decodeFeed(body []byte) ([]models.RawRecord, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, fmt.Errorf("empty body")
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	if body[0] == '[' {
		var records []models.RawRecord
		if err := dec.Decode(&records); err != nil {
			return nil, fmt.Errorf("error decoding array body: %w", err)
		}
		return nonNil(records), nil
	}

	var data feedResponse
	if err := dec.Decode(&data); err != nil {
		return nil, fmt.Errorf("error decoding body: %w", err)
	}
	return nonNil(data.Data), nil
}

func nonNil(records []models.RawRecord) []models.RawRecord {
	if records == nil {
		return []models.RawRecord{}
	}
	return records
}
