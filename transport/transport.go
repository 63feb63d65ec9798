// Package transport implements comments.Transport over the REST comment
// service.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"golang.org/x/time/rate"

	"github.com/teahouse/tearoom/comments"
)

// HeaderUserID carries the acting user on every request.
const HeaderUserID = "X-User-ID"

var (
	ErrBadRequest        = errors.New("bad request")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrNotFound          = errors.New("not found")
	ErrServer            = errors.New("server error")
	ErrMalformedResponse = errors.New("malformed response")
)

// Options configures a Client.
type Options struct {
	// BaseURL is the root of the comment service, e.g. http://localhost:8080.
	BaseURL string
	// Identity supplies the X-User-ID header. Requests are anonymous when nil.
	Identity   comments.Identity
	HTTPClient *http.Client
	Logger     *slog.Logger
	Now        func() time.Time

	Timeout   time.Duration // per request, default 10s
	RateLimit rate.Limit    // requests per second, default 10
	Burst     int           // default 20
}

// Client talks to the comment service. It is safe for concurrent use.
type Client struct {
	base     *url.URL
	identity comments.Identity
	http     *http.Client
	logger   *slog.Logger
	now      func() time.Time
	timeout  time.Duration
	limiter  *rate.Limiter
}

var _ comments.Transport = (*Client)(nil)

// New returns a Client for the service at opts.BaseURL.
func New(opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimSuffix(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url %q: missing scheme or host", opts.BaseURL)
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 10
	}
	if opts.Burst <= 0 {
		opts.Burst = 20
	}
	return &Client{
		base:     base,
		identity: opts.Identity,
		http:     opts.HTTPClient,
		logger:   opts.Logger,
		now:      opts.Now,
		timeout:  opts.Timeout,
		limiter:  rate.NewLimiter(opts.RateLimit, opts.Burst),
	}, nil
}

func statusError(code int) error {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return ErrUnauthorized
	case code == http.StatusNotFound:
		return ErrNotFound
	case code >= 500:
		return ErrServer
	default:
		return ErrBadRequest
	}
}

// do sends one request and decodes a 2xx JSON body into out, if out is not
// nil.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	u := c.base.JoinPath(path)
	u.RawQuery = query.Encode()

	var rd io.Reader
	if body != nil {
		b, err := jsoniter.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode body: %w", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), rd)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.identity != nil {
		req.Header.Set(HeaderUserID, c.identity.CurrentUser().ID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s %s: read body: %w", method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := jsoniter.Get(raw, "error").ToString()
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return fmt.Errorf("%s %s: %d %s: %w", method, path, resp.StatusCode, msg, statusError(resp.StatusCode))
	}
	if out == nil {
		return nil
	}
	if err := jsoniter.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s %s: %w: %v", method, path, ErrMalformedResponse, err)
	}
	return nil
}

// CreateComment creates a comment, or a reply when c.ParentCommentID is set.
// A response without an identifier or timestamp still counts as success; the
// missing fields are filled in locally.
func (c *Client) CreateComment(ctx context.Context, nc comments.NewComment) (comments.Created, error) {
	var res createResponse
	err := c.do(ctx, http.MethodPost, "/comments", nil, createRequest{
		PostID: nc.PostID,
		Author: wireAuthor{
			ID:          nc.Author.ID,
			DisplayName: nc.Author.DisplayName,
		},
		Content:         nc.Content,
		ParentCommentID: nc.ParentCommentID,
	}, &res)
	if err != nil {
		return comments.Created{}, err
	}

	out := comments.Created{ID: res.CommentID, CreatedAt: res.CreatedAt}
	if out.ID == "" {
		out.ID = uuid.NewString()
		c.logger.Warn("Partial success, synthesized comment id", "post_id", nc.PostID, "comment_id", out.ID)
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = c.now()
		c.logger.Warn("Partial success, synthesized timestamp", "post_id", nc.PostID, "comment_id", out.ID)
	}
	return out, nil
}

// Like likes a comment or reply as the current user.
func (c *Client) Like(ctx context.Context, targetID string) error {
	return c.do(ctx, http.MethodPost, "/comments/"+url.PathEscape(targetID)+"/like", nil, nil, nil)
}

// Unlike removes the current user's like from a comment or reply.
func (c *Client) Unlike(ctx context.Context, targetID string) error {
	return c.do(ctx, http.MethodDelete, "/comments/"+url.PathEscape(targetID)+"/like", nil, nil, nil)
}

func pageQuery(key, id string, limit, offset int) url.Values {
	return url.Values{
		key:      {id},
		"limit":  {strconv.Itoa(limit)},
		"offset": {strconv.Itoa(offset)},
	}
}

// ListComments returns a page of the top-level comments of a post.
func (c *Client) ListComments(ctx context.Context, postID string, limit, offset int) (comments.CommentPage, error) {
	var res listResponse
	if err := c.do(ctx, http.MethodGet, "/comments", pageQuery("postId", postID, limit, offset), nil, &res); err != nil {
		return comments.CommentPage{}, err
	}
	if res.Data == nil {
		return comments.CommentPage{}, fmt.Errorf("list comments: %w: no data", ErrMalformedResponse)
	}
	page := comments.CommentPage{
		Comments: make([]comments.Comment, len(*res.Data)),
		Total:    res.total(),
	}
	for i, w := range *res.Data {
		page.Comments[i] = w.comment()
		page.Comments[i].PostID = postID
	}
	return page, nil
}

// ListReplies returns a page of the replies to a comment, ordered by their
// gens field.
func (c *Client) ListReplies(ctx context.Context, commentID string, limit, offset int) (comments.ReplyPage, error) {
	var res listResponse
	if err := c.do(ctx, http.MethodGet, "/comment-logs", pageQuery("commentId", commentID, limit, offset), nil, &res); err != nil {
		return comments.ReplyPage{}, err
	}
	if res.Data == nil {
		return comments.ReplyPage{}, fmt.Errorf("list replies: %w: no data", ErrMalformedResponse)
	}
	data := *res.Data
	sort.SliceStable(data, func(i, j int) bool { return data[i].Gens < data[j].Gens })

	page := comments.ReplyPage{
		Replies: make([]comments.Reply, len(data)),
		Total:   res.total(),
	}
	for i, w := range data {
		page.Replies[i] = w.reply(commentID)
	}
	return page, nil
}
