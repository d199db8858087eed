package loki

import (
	"bytes"
	"context"
	"encoding/json"
	"io/ioutil"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"ceph-e2e/common/e2e_config"
	"ceph-e2e/common/logs"

	"github.com/go-logr/logr"
	"github.com/pkg/errors"
)

const DefaultURL = "https://logs-prod-us-central1.grafana.net"

const queryLimit = 5000

// Client pushes run markers to Loki and queries daemon logs from it.
type Client struct {
	url      string
	user     string
	password string
	runID    string
	// lines per query_range page
	limit    int
	http     *http.Client
	log      logr.Logger
}

// New returns a client for the Loki settings of cfg. It returns nil when
// Loki is not configured, a nil *Client sends nothing.
func New(cfg e2e_config.E2EConfig, log logr.Logger) *Client {
	l := cfg.Logs
	log = log.WithName("loki")
	if l.LokiUser == "" || l.LokiPassword == "" || l.LokiRunID == "" {
		// all should be defined or none
		if l.LokiUser != "" || l.LokiPassword != "" || l.LokiRunID != "" {
			var missing []string
			if l.LokiUser == "" {
				missing = append(missing, "user")
			}
			if l.LokiPassword == "" {
				missing = append(missing, "password")
			}
			if l.LokiRunID == "" {
				missing = append(missing, "loki_run_id")
			}
			log.Info("Invalid Loki config", "missing", strings.Join(missing, ", "))
		}
		return nil
	}
	u := l.LokiURL
	if u == "" {
		u = DefaultURL
	}
	return &Client{
		url:      strings.TrimSuffix(u, "/"),
		user:     l.LokiUser,
		password: l.LokiPassword,
		runID:    l.LokiRunID,
		limit:    queryLimit,
		http:     &http.Client{Timeout: 10 * time.Second},
		log:      log,
	}
}

type stream struct {
	Stream map[string]string `json:"stream"`
	Values [][2]string       `json:"values"`
}

type pushRequest struct {
	Streams []stream `json:"streams"`
}

// SendMarker records text in the run's marker stream. Failures are logged,
// markers never fail a run.
func (c *Client) SendMarker(ctx context.Context, text string) {
	if c == nil {
		return
	}
	body, err := json.Marshal(pushRequest{Streams: []stream{{
		Stream: map[string]string{"run": c.runID, "app": "marker"},
		Values: [][2]string{{strconv.FormatInt(time.Now().UnixNano(), 10), text}},
	}}})
	if err != nil {
		c.log.Info("Failed to encode Loki marker", "error", err)
		return
	}
	req, err := http.NewRequestWithContext(ctx, "POST", c.url+"/loki/api/v1/push", bytes.NewReader(body))
	if err != nil {
		c.log.Info("Failed to create Loki marker request", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.user, c.password)
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Info("Failed to send Loki marker", "error", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.log.Info("Unexpected response from Grafana / Loki", "status code", resp.StatusCode)
	}
}

type queryResponse struct {
	Status string `json:"status"`
	Data   struct {
		ResultType string   `json:"resultType"`
		Result     []stream `json:"result"`
	} `json:"data"`
}

type entry struct {
	ts   int64
	line string
}

// Selector is the LogQL stream selector for the daemon's systemd unit.
func (c *Client) Selector(q logs.Query) string {
	return `{run="` + c.runID + `", unit=~"ceph-.*@` + regexpQuote(q.Daemon()) + `\\.service"}`
}

// Lines implements logs.Source over the query_range API. Lines from all
// matching streams are merged in timestamp order. Windows holding more
// than a page of lines are read page by page.
func (c *Client) Lines(ctx context.Context, q logs.Query) ([]string, error) {
	if c == nil {
		return nil, errors.New("loki is not configured")
	}
	limit := c.limit
	if limit <= 0 {
		limit = queryLimit
	}
	selector := c.Selector(q)
	start, end := q.Start.UnixNano(), q.End.UnixNano()
	var entries []entry
	for {
		page, err := c.queryRange(ctx, selector, start, end, limit)
		if err != nil {
			return nil, err
		}
		if len(page) < limit {
			entries = append(entries, page...)
			break
		}
		// the next page restarts at the last timestamp, lines sharing it
		// may not all have fit
		last := page[len(page)-1].ts
		keep := page
		for len(keep) > 0 && keep[len(keep)-1].ts == last {
			keep = keep[:len(keep)-1]
		}
		next := last
		if len(keep) == 0 {
			c.log.Info("More Loki lines share a timestamp than fit a page, some may be missing", "ts", last, "limit", limit)
			keep, next = page, last+1
		}
		entries = append(entries, keep...)
		if next >= end {
			break
		}
		start = next
	}
	lines := make([]string, len(entries))
	for i, e := range entries {
		lines[i] = e.line
	}
	return lines, nil
}

// queryRange returns up to limit entries from [start, end) in timestamp
// order.
func (c *Client) queryRange(ctx context.Context, selector string, start, end int64, limit int) ([]entry, error) {
	params := url.Values{}
	params.Set("query", selector)
	params.Set("start", strconv.FormatInt(start, 10))
	params.Set("end", strconv.FormatInt(end, 10))
	params.Set("limit", strconv.Itoa(limit))
	params.Set("direction", "forward")

	req, err := http.NewRequestWithContext(ctx, "GET", c.url+"/loki/api/v1/query_range?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.user, c.password)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "loki query")
	}
	defer resp.Body.Close()
	body, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.Errorf("loki query failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var qr queryResponse
	if err := json.Unmarshal(body, &qr); err != nil {
		return nil, errors.Wrap(err, "decoding loki response")
	}
	if qr.Status != "success" {
		return nil, errors.Errorf("loki query status %q", qr.Status)
	}

	var entries []entry
	for _, s := range qr.Data.Result {
		for _, v := range s.Values {
			ts, err := strconv.ParseInt(v[0], 10, 64)
			if err != nil {
				return nil, errors.Wrapf(err, "bad loki timestamp %q", v[0])
			}
			entries = append(entries, entry{ts: ts, line: v[1]})
		}
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].ts < entries[j].ts })
	return entries, nil
}

// Daemon names only carry dots as regexp metacharacters. Backslashes are
// doubled for the LogQL string literal.
func regexpQuote(s string) string {
	return strings.ReplaceAll(s, ".", `\\.`)
}
