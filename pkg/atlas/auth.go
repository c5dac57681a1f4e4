package atlas

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/3leaps/forcedphot/pkg/photometry"
)

type tokenResponse struct {
	Token string `json:"token"`
}

type authRejection struct {
	NonFieldErrors []string `json:"non_field_errors"`
}

// Authenticate exchanges credentials for an API token. It never retries.
func (c *Client) Authenticate(ctx context.Context, creds photometry.Credentials) (string, error) {
	const op = "authenticate"

	if creds.Empty() {
		return "", newError(op, ErrAuth, "credentials not provided")
	}

	form := url.Values{}
	form.Set("username", creds.Username)
	form.Set("password", creds.Password)

	resp, err := c.do(ctx, http.MethodPost, c.cfg.BaseURL+"/api-token-auth/", "", form, c.cfg.AuthTimeout)
	if err != nil {
		return "", transportFailure(ctx, op, ErrAuth, err)
	}

	if resp.status != http.StatusOK {
		var rej authRejection
		if json.Unmarshal(resp.body, &rej) == nil && len(rej.NonFieldErrors) > 0 {
			e := newError(op, ErrAuth, rej.NonFieldErrors[0])
			e.StatusCode = resp.status
			return "", e
		}
		return "", newError(op, ErrAuth, "").withStatus(resp.status, resp.body)
	}

	var tr tokenResponse
	if err := json.Unmarshal(resp.body, &tr); err != nil {
		return "", newError(op, ErrAuth, "undecodable token response").withStatus(resp.status, resp.body).withCause(err)
	}
	token := strings.TrimSpace(tr.Token)
	if token == "" {
		return "", newError(op, ErrAuth, "token response carried no token").withStatus(resp.status, resp.body)
	}

	c.logger.Debug("Authenticated with photometry service")
	return token, nil
}
