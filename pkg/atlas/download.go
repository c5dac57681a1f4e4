package atlas

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/3leaps/forcedphot/pkg/photometry"
)

// Download fetches the raw result table.
func (c *Client) Download(ctx context.Context, token string, handle *ResultHandle) ([]byte, error) {
	const op = "download"

	if handle == nil || handle.URL == "" {
		return nil, newError(op, ErrDownload, "no result url")
	}

	resp, err := c.do(ctx, http.MethodGet, handle.URL, token, nil, c.cfg.DownloadTimeout)
	if err != nil {
		return nil, transportFailure(ctx, op, ErrDownload, err)
	}
	if resp.status != http.StatusOK {
		return nil, newError(op, ErrDownload, "").withStatus(resp.status, resp.body)
	}

	c.logger.Debug("Downloaded result table",
		zap.String("result_url", handle.URL),
		zap.Int("bytes", len(resp.body)))
	return resp.body, nil
}

// DownloadAndParse downloads the result table and decodes its detections.
// An empty handle yields an empty result without touching the network.
func (c *Client) DownloadAndParse(ctx context.Context, token string, handle *ResultHandle, opts photometry.ParseOptions) (*photometry.ParseResult, error) {
	if handle != nil && handle.Empty {
		return &photometry.ParseResult{Records: []photometry.PhotometryRecord{}}, nil
	}

	payload, err := c.Download(ctx, token, handle)
	if err != nil {
		return nil, err
	}

	res, err := photometry.ParseTableWithOptions(payload, opts)
	if err != nil {
		return nil, newError("parse", ErrParse, "").withCause(err)
	}

	c.logger.Debug("Parsed result table",
		zap.Int("records", len(res.Records)),
		zap.Int("upper_limits", res.UpperLimits),
		zap.Int("low_signal", res.LowSignal),
		zap.Int("skipped", res.Skipped))
	return res, nil
}
