package atlas

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/3leaps/forcedphot/pkg/photometry"
)

// JobStatus is the lifecycle state of a queued job as seen by the poller.
type JobStatus string

const (
	StatusQueued   JobStatus = "queued"
	StatusStarted  JobStatus = "started"
	StatusFinished JobStatus = "finished"
)

// Job is a handle to a submitted job.
type Job struct {
	TaskURL string
}

type queueResponse struct {
	URL string `json:"url"`
}

type throttleResponse struct {
	Detail string `json:"detail"`
}

// Submit queues a forced photometry job.
//
// A 429 reply is retried after the cooldown named in the reply, up to
// Config.MaxQueueAttempts submissions in total.
func (c *Client) Submit(ctx context.Context, token string, req photometry.FetchRequest) (*Job, error) {
	const op = "submit"

	form := queueForm(req)
	endpoint := c.cfg.BaseURL + "/queue/"

	var last *response
	for attempt := 1; attempt <= c.cfg.MaxQueueAttempts; attempt++ {
		resp, err := c.do(ctx, http.MethodPost, endpoint, token, form, c.cfg.RequestTimeout)
		if err != nil {
			return nil, transportFailure(ctx, op, ErrQueue, err)
		}

		switch resp.status {
		case http.StatusCreated:
			var qr queueResponse
			if err := json.Unmarshal(resp.body, &qr); err != nil {
				return nil, newError(op, ErrQueue, "undecodable queue response").withStatus(resp.status, resp.body).withCause(err)
			}
			if strings.TrimSpace(qr.URL) == "" {
				return nil, newError(op, ErrQueue, "queue response carried no task url").withStatus(resp.status, resp.body)
			}
			c.logger.Info("Job queued",
				zap.String("task_url", qr.URL),
				zap.Int("attempt", attempt))
			return &Job{TaskURL: qr.URL}, nil

		case http.StatusTooManyRequests:
			last = resp
			if attempt == c.cfg.MaxQueueAttempts {
				break
			}
			msg := throttleMessage(resp.body)
			wait := WaitDuration(msg, c.cfg.DefaultRateLimitWait)
			c.logger.Warn("Queue rate limited, waiting before retry",
				zap.String("detail", msg),
				zap.Duration("wait", wait),
				zap.Int("attempt", attempt))
			c.metrics.RateLimitWait(wait)
			if err := c.sleep(ctx, wait); err != nil {
				return nil, newError(op, ErrQueue, "canceled while rate limited").withCause(err)
			}

		default:
			return nil, newError(op, ErrQueue, "").withStatus(resp.status, resp.body)
		}
	}

	e := newError(op, ErrQueue, fmt.Sprintf("rate limited after %d attempts", c.cfg.MaxQueueAttempts))
	if last != nil {
		e.withStatus(last.status, last.body)
	}
	return nil, e
}

func queueForm(req photometry.FetchRequest) url.Values {
	form := url.Values{}
	form.Set("ra", formatFloat(req.RA))
	form.Set("dec", formatFloat(req.Dec))
	form.Set("mjd_min", formatFloat(req.Window.Min))
	if req.Window.Max != nil {
		form.Set("mjd_max", formatFloat(*req.Window.Max))
	}
	form.Set("send_email", "False")
	return form
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// throttleMessage returns the reply's detail field, or the raw body when it
// is not JSON.
func throttleMessage(body []byte) string {
	var tr throttleResponse
	if err := json.Unmarshal(body, &tr); err == nil && tr.Detail != "" {
		return tr.Detail
	}
	return strings.TrimSpace(string(body))
}
