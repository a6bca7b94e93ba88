// internal/clients/dashboard_client.go
package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sony/gobreaker"

	"familymiles/internal/editsession"
	"familymiles/internal/loyalty"
	"familymiles/internal/members"
)

// StatusError is a non-2xx response from the dashboard API.
type StatusError struct {
	Code   int
	Detail string
}

func (e *StatusError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("unexpected status code: %d", e.Code)
	}
	return fmt.Sprintf("unexpected status code: %d: %s", e.Code, e.Detail)
}

// DashboardClient talks to the dashboard REST API. It implements the
// editsession Fetcher and Persister. GETs are retried with exponential
// backoff; writes are sent once. Every call goes through a circuit breaker.
type DashboardClient struct {
	baseURL  string
	http     *http.Client
	token    string
	breaker  *gobreaker.CircuitBreaker
	maxTries uint
	backoff  func() backoff.BackOff
	logger   *slog.Logger
}

// Option configures a DashboardClient.
type Option func(*DashboardClient)

func WithHTTPClient(c *http.Client) Option {
	return func(d *DashboardClient) { d.http = c }
}

func WithToken(token string) Option {
	return func(d *DashboardClient) { d.token = token }
}

func WithLogger(l *slog.Logger) Option {
	return func(d *DashboardClient) { d.logger = l }
}

// WithRetry sets the attempt limit and initial interval for GET retries.
func WithRetry(maxTries uint, initial time.Duration) Option {
	return func(d *DashboardClient) {
		d.maxTries = maxTries
		d.backoff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = initial
			return b
		}
	}
}

// WithBreaker replaces the circuit breaker settings. IsSuccessful is always
// set so client errors never trip the breaker.
func WithBreaker(st gobreaker.Settings) Option {
	return func(d *DashboardClient) { d.breaker = newBreaker(st) }
}

func newBreaker(st gobreaker.Settings) *gobreaker.CircuitBreaker {
	st.IsSuccessful = func(err error) bool {
		var se *StatusError
		return err == nil || (errors.As(err, &se) && se.Code < http.StatusInternalServerError)
	}
	return gobreaker.NewCircuitBreaker(st)
}

func NewDashboardClient(baseURL string, opts ...Option) *DashboardClient {
	c := &DashboardClient{
		baseURL:  baseURL,
		http:     &http.Client{Timeout: 10 * time.Second},
		maxTries: 4,
		backoff:  func() backoff.BackOff { return backoff.NewExponentialBackOff() },
		logger:   slog.Default(),
	}
	c.breaker = newBreaker(gobreaker.Settings{
		Name:    "dashboard",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Token returns the bearer token currently in use.
func (c *DashboardClient) Token() string {
	return c.token
}

type response struct {
	header http.Header
	body   []byte
}

func (c *DashboardClient) do(ctx context.Context, method, path string, body any, header http.Header) (response, error) {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return response{}, err
		}
	}

	out, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		for k, vs := range header {
			req.Header[k] = vs
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			se := &StatusError{Code: resp.StatusCode}
			var detail struct {
				Detail string `json:"detail"`
			}
			if json.Unmarshal(data, &detail) == nil {
				se.Detail = detail.Detail
			}
			return nil, se
		}
		return response{header: resp.Header, body: data}, nil
	})
	if err != nil {
		return response{}, err
	}
	return out.(response), nil
}

// get retries transient failures. Client errors and an open breaker end the
// retry loop immediately.
func (c *DashboardClient) get(ctx context.Context, path string) (response, error) {
	return backoff.Retry(ctx, func() (response, error) {
		resp, err := c.do(ctx, http.MethodGet, path, nil, nil)
		if err == nil {
			return resp, nil
		}
		var se *StatusError
		if (errors.As(err, &se) && se.Code < http.StatusInternalServerError) || errors.Is(err, gobreaker.ErrOpenState) {
			return response{}, backoff.Permanent(err)
		}
		return response{}, err
	},
		backoff.WithBackOff(c.backoff()),
		backoff.WithMaxTries(c.maxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.Warn("retrying request", "path", path, "err", err, "next", next)
		}),
	)
}

func (c *DashboardClient) getJSON(ctx context.Context, path string, out any) error {
	resp, err := c.get(ctx, path)
	if err != nil {
		return err
	}
	return json.Unmarshal(resp.body, out)
}

// Login exchanges the access code for a token and uses it from then on.
func (c *DashboardClient) Login(ctx context.Context, code string) (string, error) {
	resp, err := c.do(ctx, http.MethodPost, "/api/login", map[string]string{"password": code}, nil)
	if err != nil {
		return "", err
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(resp.body, &out); err != nil {
		return "", err
	}
	c.token = out.Token
	return out.Token, nil
}

func (c *DashboardClient) ListMembers(ctx context.Context) ([]loyalty.Member, error) {
	var out []loyalty.Member
	return out, c.getJSON(ctx, "/api/members", &out)
}

func (c *DashboardClient) ListCompanies(ctx context.Context) ([]loyalty.Company, error) {
	var out []loyalty.Company
	return out, c.getJSON(ctx, "/api/companies", &out)
}

func (c *DashboardClient) GlobalLog(ctx context.Context) ([]loyalty.LogEntry, error) {
	var out []loyalty.LogEntry
	return out, c.getJSON(ctx, "/api/global-log", &out)
}

func (c *DashboardClient) MemberLog(ctx context.Context, memberID string) ([]loyalty.LogEntry, error) {
	var out []loyalty.LogEntry
	return out, c.getJSON(ctx, "/api/members/"+url.PathEscape(memberID)+"/log", &out)
}

func (c *DashboardClient) Stats(ctx context.Context) (loyalty.DashboardStats, error) {
	var out loyalty.DashboardStats
	return out, c.getJSON(ctx, "/api/dashboard/stats", &out)
}

// Summary fetches the plain-text export.
func (c *DashboardClient) Summary(ctx context.Context) (string, error) {
	resp, err := c.get(ctx, "/api/export/summary")
	if err != nil {
		return "", err
	}
	return string(resp.body), nil
}

func (c *DashboardClient) CreateMember(ctx context.Context, name string) (members.CreateResult, error) {
	var out members.CreateResult
	resp, err := c.do(ctx, http.MethodPost, "/api/members", map[string]string{"name": name}, nil)
	if err != nil {
		return out, err
	}
	return out, json.Unmarshal(resp.body, &out)
}

func (c *DashboardClient) DeleteMember(ctx context.Context, memberID string) (members.CreateResult, error) {
	var out members.CreateResult
	resp, err := c.do(ctx, http.MethodDelete, "/api/members/"+url.PathEscape(memberID), nil, nil)
	if err != nil {
		return out, err
	}
	return out, json.Unmarshal(resp.body, &out)
}

// SaveProgram sends the diff with If-Match set to baseVersion. A 409 is
// reported as editsession.ErrVersionConflict.
func (c *DashboardClient) SaveProgram(ctx context.Context, key loyalty.Key, diff loyalty.Patch, baseVersion int) (editsession.Receipt, error) {
	header := http.Header{}
	if baseVersion >= 0 {
		header.Set("If-Match", strconv.Quote(strconv.Itoa(baseVersion)))
	}
	path := fmt.Sprintf("/api/members/%s/programs/%s", url.PathEscape(key.MemberID), url.PathEscape(key.CompanyID))

	resp, err := c.do(ctx, http.MethodPut, path, diff, header)
	var se *StatusError
	if errors.As(err, &se) && se.Code == http.StatusConflict {
		return editsession.Receipt{}, fmt.Errorf("%w: %s", editsession.ErrVersionConflict, se.Detail)
	}
	if err != nil {
		return editsession.Receipt{}, err
	}

	var result members.UpdateResult
	if err := json.Unmarshal(resp.body, &result); err != nil {
		return editsession.Receipt{}, err
	}
	return editsession.Receipt{Version: result.Record.Version, UpdatedAt: result.Record.LastUpdated}, nil
}
