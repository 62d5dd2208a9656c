// Package postback delivers webhook postbacks queued by automation events.
package postback

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/flowforge/automation/pkg/metrics"
	"github.com/flowforge/automation/pkg/model"
	"github.com/flowforge/automation/pkg/queue"
)

const (
	defaultTimeout = 10 * time.Second
	userAgent      = "automation-postback/1.0"
)

// HTTPDoer is satisfied by *http.Client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type Deliverer struct {
	client  HTTPDoer
	timeout time.Duration
	logger  *zap.Logger
}

func NewDeliverer(client HTTPDoer, timeout time.Duration, logger *zap.Logger) *Deliverer {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Deliverer{client: client, timeout: timeout, logger: logger}
}

// Handle is a queue.JobHandler. Server errors and network failures are
// returned so the queue retries; client errors are dropped.
func (d *Deliverer) Handle(ctx context.Context, msg *queue.Message) error {
	if msg.JobType != model.JobPostback {
		return nil
	}

	target, _ := msg.Payload["url"].(string)
	parsed, err := url.Parse(target)
	if target == "" || err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		metrics.PostbackDeliveries.WithLabelValues("invalid").Inc()
		return fmt.Errorf("%w: postback url %q", queue.ErrPermanent, target)
	}

	post, _ := msg.Payload["post"].(map[string]interface{})
	body := Encode(post)
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, parsed.String(), strings.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", queue.ErrPermanent, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", userAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		metrics.PostbackDeliveries.WithLabelValues("error").Inc()
		return fmt.Errorf("postback to %s: %w", parsed.Host, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	fields := []zap.Field{
		zap.String("job_id", msg.JobID),
		zap.Int64("company_id", msg.CompanyID),
		zap.String("host", parsed.Host),
		zap.Int("status", resp.StatusCode),
	}
	switch {
	case resp.StatusCode >= 500:
		metrics.PostbackDeliveries.WithLabelValues("server_error").Inc()
		return fmt.Errorf("postback to %s: status %d", parsed.Host, resp.StatusCode)
	case resp.StatusCode >= 400:
		metrics.PostbackDeliveries.WithLabelValues("rejected").Inc()
		d.logger.Warn("postback rejected by receiver", fields...)
		return nil
	default:
		metrics.PostbackDeliveries.WithLabelValues("delivered").Inc()
		d.logger.Debug("postback delivered", fields...)
		return nil
	}
}

// Encode form-encodes the post fields. Lists repeat the key with a []
// suffix; other values are written as their string form.
func Encode(post map[string]interface{}) string {
	values := url.Values{}
	for k, raw := range post {
		switch v := raw.(type) {
		case nil:
			values.Add(k, "")
		case string:
			values.Add(k, v)
		case []interface{}:
			for _, item := range v {
				values.Add(k+"[]", fmt.Sprint(item))
			}
		default:
			values.Add(k, fmt.Sprint(v))
		}
	}
	return values.Encode()
}
