// Package canvas is a small read-only client for the Canvas LMS REST API.
//
// It covers exactly what the notifier consumes: the current user, a course,
// its assignments, and the submissions of an assignment with their comments.
// Paginated endpoints follow the Link header until there is no "next" page.
package canvas

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	logx "commentbot/pkg/logx"
)

var ErrForeignHost = errors.New("canvas: pagination link points to a different host")

// maxPages guards against a server that never stops returning "next".
const maxPages = 10000

type Client struct {
	base    *url.URL
	token   string
	perPage int

	http    *http.Client
	limiter *rate.Limiter
	log     logx.Logger
}

func New(cfg Config, log logx.Logger) (*Client, error) {
	raw := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if raw == "" {
		return nil, errors.New("canvas: base url is required")
	}
	base, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("canvas: invalid base url %q: %w", cfg.BaseURL, err)
	}
	if !base.IsAbs() {
		return nil, fmt.Errorf("canvas: base url %q must be absolute", cfg.BaseURL)
	}
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("canvas: token is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 5
	}
	perPage := cfg.PerPage
	if perPage <= 0 {
		perPage = 100
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}

	return &Client{
		base:    base,
		token:   strings.TrimSpace(cfg.Token),
		perPage: perPage,
		http:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		log:     log.With(logx.String("comp", "canvas")),
	}, nil
}

func (c *Client) CurrentUser(ctx context.Context) (User, error) {
	var u User
	_, err := c.getJSON(ctx, c.endpoint("/api/v1/users/self", nil), &u)
	return u, err
}

func (c *Client) Course(ctx context.Context, courseID int64) (Course, error) {
	var co Course
	_, err := c.getJSON(ctx, c.endpoint(fmt.Sprintf("/api/v1/courses/%d", courseID), nil), &co)
	return co, err
}

func (c *Client) Assignments(ctx context.Context, courseID int64) ([]Assignment, error) {
	return getAll[Assignment](ctx, c, c.endpoint(fmt.Sprintf("/api/v1/courses/%d/assignments", courseID), c.pageQuery(nil)))
}

// Submissions lists every submission of an assignment, including its comments
// and user.
func (c *Client) Submissions(ctx context.Context, courseID, assignmentID int64) ([]Submission, error) {
	q := url.Values{}
	q.Add("include[]", "submission_comments")
	q.Add("include[]", "user")
	return getAll[Submission](ctx, c, c.endpoint(fmt.Sprintf("/api/v1/courses/%d/assignments/%d/submissions", courseID, assignmentID), c.pageQuery(q)))
}

func (c *Client) pageQuery(q url.Values) url.Values {
	if q == nil {
		q = url.Values{}
	}
	q.Set("per_page", strconv.Itoa(c.perPage))
	return q
}

func (c *Client) endpoint(path string, q url.Values) string {
	u := *c.base
	u.Path = strings.TrimRight(c.base.Path, "/") + path
	u.RawQuery = ""
	if len(q) > 0 {
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func getAll[T any](ctx context.Context, c *Client, first string) ([]T, error) {
	var out []T
	next := first
	for page := 0; next != ""; page++ {
		if page >= maxPages {
			return out, fmt.Errorf("canvas: too many pages for %s", first)
		}
		var items []T
		link, err := c.getJSON(ctx, next, &items)
		if err != nil {
			return out, err
		}
		out = append(out, items...)

		next, err = c.nextLink(link)
		if err != nil {
			return out, err
		}
	}
	return out, nil
}

// getJSON GETs rawURL, decodes the body into dst and returns the Link header.
func (c *Client) getJSON(ctx context.Context, rawURL string, dst any) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("canvas: GET %s: %w", redact(rawURL), err)
	}
	defer resp.Body.Close()

	c.log.Debug("canvas request",
		logx.String("url", redact(rawURL)),
		logx.Int("status", resp.StatusCode),
		logx.Duration("took", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &APIError{Method: http.MethodGet, URL: redact(rawURL), Status: resp.StatusCode, Body: string(b)}
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return "", fmt.Errorf("canvas: decode %s: %w", redact(rawURL), err)
	}
	return resp.Header.Get("Link"), nil
}

// nextLink extracts the rel="next" target from a Link header. The token is
// only ever sent to the configured host.
func (c *Client) nextLink(header string) (string, error) {
	next := parseNextLink(header)
	if next == "" {
		return "", nil
	}
	u, err := url.Parse(next)
	if err != nil {
		return "", fmt.Errorf("canvas: invalid pagination link %q: %w", next, err)
	}
	if !u.IsAbs() {
		u = c.base.ResolveReference(u)
	}
	if !strings.EqualFold(u.Host, c.base.Host) {
		return "", fmt.Errorf("%w: %s", ErrForeignHost, u.Host)
	}
	return u.String(), nil
}

func parseNextLink(header string) string {
	for _, part := range strings.Split(header, ",") {
		segs := strings.Split(part, ";")
		if len(segs) < 2 {
			continue
		}
		target := strings.TrimSpace(segs[0])
		if !strings.HasPrefix(target, "<") || !strings.HasSuffix(target, ">") {
			continue
		}
		for _, p := range segs[1:] {
			p = strings.TrimSpace(p)
			if strings.EqualFold(p, `rel="next"`) || strings.EqualFold(p, "rel=next") {
				return target[1 : len(target)-1]
			}
		}
	}
	return ""
}

// redact drops the query string; Canvas accepts access_token as a query
// parameter and that must never end up in logs.
func redact(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	u.RawQuery = ""
	return u.String()
}
