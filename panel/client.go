// Package panel contains a minimal client for the team web panel API:
// member lookup by Discord id and one-shot login-code creation.
// Calls are authenticated with the static panel token and are never retried here.
package panel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// LoginCodeTTL is how long a login code stays valid after creation.
const LoginCodeTTL = 90 * time.Second

// Client talks to the panel REST API.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	// Location is used for created_at values without a zone offset. Defaults to UTC.
	Location *time.Location
}

// NewClient returns a Client with a bounded request timeout.
func NewClient(baseURL, token string, loc *time.Location) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Token:      token,
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
		Location:   loc,
	}
}

func (c *Client) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

// Member is a registered panel user as returned by the members search.
type Member struct {
	ID        MemberID `json:"id"`
	RealName  string   `json:"real_name"`
	DiscordID string   `json:"discord_id"`
}

// LoginCode is a short-lived code the member types into the panel login page.
type LoginCode struct {
	Code      string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// SearchMembers returns members whose discord_id matches. An empty slice means not registered.
func (c *Client) SearchMembers(ctx context.Context, discordID string) ([]Member, error) {
	const op = "search members"
	if discordID == "" {
		return nil, &BackendError{Op: op, Err: fmt.Errorf("discord id empty")}
	}
	q := url.Values{}
	q.Set("discord_id", discordID)
	body, err := c.do(ctx, op, http.MethodGet, "/members?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	var members []Member
	if err := json.Unmarshal(body, &members); err != nil {
		// Some deployments wrap list endpoints in a paginated envelope.
		var page struct {
			Results []Member `json:"results"`
		}
		if err2 := json.Unmarshal(body, &page); err2 != nil {
			return nil, &BackendError{Op: op, Body: truncate(body), Err: fmt.Errorf("decode members: %w", err)}
		}
		members = page.Results
	}
	if members == nil {
		members = []Member{}
	}
	return members, nil
}

// CreateLoginCode asks the panel to mint a login code for memberID.
func (c *Client) CreateLoginCode(ctx context.Context, memberID MemberID) (*LoginCode, error) {
	const op = "create login code"
	if memberID == "" {
		return nil, &BackendError{Op: op, Err: fmt.Errorf("member id empty")}
	}
	body, err := c.do(ctx, op, http.MethodPost, "/login-codes", map[string]any{"member_id": memberID})
	if err != nil {
		return nil, err
	}
	var payload struct {
		Code      string `json:"code"`
		CreatedAt string `json:"created_at"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, &BackendError{Op: op, Body: truncate(body), Err: fmt.Errorf("decode login code: %w", err)}
	}
	if payload.Code == "" || payload.CreatedAt == "" {
		return nil, &BackendError{Op: op, Body: truncate(body), Err: fmt.Errorf("login code payload missing code or created_at")}
	}
	created, err := ParseTimestamp(payload.CreatedAt, c.Location)
	if err != nil {
		return nil, &BackendError{Op: op, Body: truncate(body), Err: err}
	}
	return &LoginCode{Code: payload.Code, CreatedAt: created, ExpiresAt: created.Add(LoginCodeTTL)}, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, in any) ([]byte, error) {
	var reader io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return nil, &BackendError{Op: op, Err: err}
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return nil, &BackendError{Op: op, Err: err}
	}
	req.Header.Set("Authorization", "Token "+c.Token)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http().Do(req)
	if err != nil {
		return nil, &BackendError{Op: op, Err: err}
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &BackendError{Op: op, Status: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &BackendError{Op: op, Status: resp.StatusCode, Body: truncate(body)}
	}
	return body, nil
}

// ParseTimestamp parses an ISO-8601 timestamp as emitted by the panel.
// Values without an offset are interpreted in loc (UTC when nil).
func ParseTimestamp(v string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
		return t, nil
	}
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range []string{"2006-01-02T15:04:05.999999999", "2006-01-02 15:04:05.999999999"} {
		if t, err := time.ParseInLocation(layout, v, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", v)
}

func truncate(b []byte) string {
	const max = 512
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
