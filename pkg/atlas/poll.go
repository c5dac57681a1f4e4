package atlas

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// noDataMarker in a finished task's error_msg means the job succeeded with
// nothing to report.
const noDataMarker = "No data returned"

// ResultHandle is the outcome of a finished job.
type ResultHandle struct {
	// URL is the result table location. Empty when Empty is set.
	URL string

	// Empty reports a finished job that produced no photometry.
	Empty bool

	// Strategy names the field (or "id" template) the URL came from.
	Strategy string
}

// AwaitCompletion polls job until it finishes or Config.MaxWait elapses.
//
// Transient failures (timeouts, 5xx, connection errors) are retried after
// Config.RetryInterval until the budget runs out.
func (c *Client) AwaitCompletion(ctx context.Context, token string, job *Job) (*ResultHandle, error) {
	const op = "poll"

	if job == nil || strings.TrimSpace(job.TaskURL) == "" {
		return nil, newError(op, ErrPoll, "job has no task url")
	}

	start := c.now()
	startedLogged := false
	polls := 0

	// Sleeps and request timeouts never exceed what is left of MaxWait.
	remaining := func() time.Duration { return c.cfg.MaxWait - c.now().Sub(start) }
	pause := func(d time.Duration) error {
		d = min(d, remaining())
		if d <= 0 {
			return nil
		}
		return c.pause(ctx, op, d)
	}

	for {
		left := remaining()
		if left <= 0 {
			return nil, newError(op, ErrTimeout, fmt.Sprintf("job did not finish within %s", c.cfg.MaxWait))
		}
		polls++

		resp, err := c.do(ctx, http.MethodGet, job.TaskURL, token, nil, min(c.cfg.RequestTimeout, left))
		if err != nil {
			if ctx.Err() != nil {
				return nil, transportFailure(ctx, op, ErrPoll, err)
			}
			c.logger.Warn("Status check failed, retrying",
				zap.String("task_url", job.TaskURL),
				zap.Bool("timeout", isTimeout(err)),
				zap.Error(err))
			if err := pause(c.cfg.RetryInterval); err != nil {
				return nil, err
			}
			continue
		}

		if resp.status >= http.StatusInternalServerError {
			c.logger.Warn("Status check returned server error, retrying",
				zap.String("task_url", job.TaskURL),
				zap.Int("status", resp.status))
			if err := pause(c.cfg.RetryInterval); err != nil {
				return nil, err
			}
			continue
		}
		if resp.status != http.StatusOK {
			return nil, newError(op, ErrPoll, "").withStatus(resp.status, resp.body)
		}

		var doc taskDocument
		if err := json.Unmarshal(resp.body, &doc); err != nil || doc == nil {
			return nil, newError(op, ErrPoll, "undecodable task status").withStatus(resp.status, resp.body).withCause(err)
		}

		switch doc.status() {
		case StatusQueued:
			queuedAt, _ := doc.str("timestamp")
			c.logger.Debug("Job queued",
				zap.String("queued_at", queuedAt),
				zap.Int("poll", polls))
			if err := pause(c.cfg.QueuedInterval); err != nil {
				return nil, err
			}

		case StatusStarted:
			if !startedLogged {
				startedAt, _ := doc.str("starttimestamp")
				c.logger.Info("Job started", zap.String("started_at", startedAt))
				startedLogged = true
			}
			if err := pause(c.cfg.StartedInterval); err != nil {
				return nil, err
			}

		case StatusFinished:
			return c.finish(doc, polls, c.now().Sub(start))
		}
	}
}

func (c *Client) finish(doc taskDocument, polls int, elapsed time.Duration) (*ResultHandle, error) {
	if msg, ok := doc.str("error_msg"); ok && strings.Contains(msg, noDataMarker) {
		c.logger.Info("Job finished with no data",
			zap.String("error_msg", msg),
			zap.Int("polls", polls),
			zap.Duration("elapsed", elapsed))
		return &ResultHandle{Empty: true}, nil
	}

	u, strategy, ok := locateResult(doc, c.cfg.BaseURL)
	if !ok {
		msg := fmt.Sprintf("finished job has no result location (fields: %s)", strings.Join(doc.fieldNames(), ", "))
		if em, ok := doc.str("error_msg"); ok {
			msg += "; error_msg: " + em
		}
		return nil, newError("poll", ErrPoll, msg)
	}

	c.logger.Info("Job finished",
		zap.String("result_url", u),
		zap.String("strategy", strategy),
		zap.Int("polls", polls),
		zap.Duration("elapsed", elapsed))
	return &ResultHandle{URL: u, Strategy: strategy}, nil
}

func (c *Client) pause(ctx context.Context, op string, d time.Duration) error {
	if err := c.sleep(ctx, d); err != nil {
		return newError(op, ErrPoll, "canceled").withCause(err)
	}
	return nil
}
