// Package loki provides a client to push log entries to Grafana Loki.
package loki

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Job is the job label attached to every stream.
const Job = "builder-claims"

// PushRequest is the Loki push API request body (v1).
type PushRequest struct {
	Streams []Stream `json:"streams"`
}

// Stream is a single stream with labels and log entries.
type Stream struct {
	Stream map[string]string `json:"stream"`
	Values [][]string        `json:"values"` // each entry is [timestamp_ns, log_line]
}

// labelSanitize replaces characters that are invalid in Loki label values.
var labelSanitize = regexp.MustCompile(`[^a-zA-Z0-9_\-:.]`)

// Client pushes to a single Loki instance.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient returns a client for baseURL (e.g. http://localhost:3100).
func NewClient(baseURL string, httpClient *http.Client) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("loki: base URL is empty")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{baseURL: strings.TrimSuffix(baseURL, "/"), http: httpClient}, nil
}

// auditFields are the audit entry fields promoted to labels. Low-cardinality values only.
type auditFields struct {
	Action    string `json:"action"`
	Resource  string `json:"resource"`
	Severity  string `json:"severity"`
	Timestamp string `json:"timestamp"`
}

// PushAuditJSON pushes one audit entry (the Kafka message value) as a log line.
// Action, resource and severity become labels; the entry timestamp becomes the line timestamp.
// If parsing fails the raw line is pushed with the current time and no extra labels.
func (c *Client) PushAuditJSON(ctx context.Context, raw []byte) error {
	labels := map[string]string{"stream": "audit"}
	ts := time.Now().UTC()
	var f auditFields
	if err := json.Unmarshal(raw, &f); err == nil {
		if f.Action != "" {
			labels["action"] = f.Action
		}
		if f.Resource != "" {
			labels["resource"] = resourceKind(f.Resource)
		}
		if f.Severity != "" {
			labels["severity"] = f.Severity
		}
		if t, err := time.Parse(time.RFC3339Nano, f.Timestamp); err == nil {
			ts = t
		}
	}
	return c.Push(ctx, ts, string(raw), labels)
}

// Push sends a single log line. Returns an error if the request fails or Loki returns non-2xx.
func (c *Client) Push(ctx context.Context, timestamp time.Time, line string, labels map[string]string) error {
	streamLabels := make(map[string]string, len(labels)+1)
	streamLabels["job"] = Job
	for k, v := range labels {
		if sanitized := labelSanitize.ReplaceAllString(strings.TrimSpace(v), "_"); sanitized != "" {
			streamLabels[k] = sanitized
		}
	}
	body := PushRequest{
		Streams: []Stream{{
			Stream: streamLabels,
			Values: [][]string{{strconv.FormatInt(timestamp.UnixNano(), 10), line}},
		}},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/loki/api/v1/push", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(err, "loki: push")
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("loki: push returned %s", resp.Status)
	}
	return nil
}

// resourceKind keeps the leading segment of a resource path ("claim/abc" -> "claim") to bound label cardinality.
func resourceKind(resource string) string {
	if i := strings.IndexAny(resource, "/:"); i > 0 {
		return resource[:i]
	}
	return resource
}
