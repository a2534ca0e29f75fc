// file: internal/backend/client.go
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dkoosis/norbert/internal/logging"
	"github.com/dkoosis/norbert/internal/schema"
	"golang.org/x/time/rate"
)

const (
	maxBodyBytes  = 1 << 20
	channelSelect = "id,channel_type,external_account_id,status,priority"
)

// TokenSource yields the session token sent as the bearer credential.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Options locates the backend endpoints.
type Options struct {
	BaseURL            string
	AnonKey            string
	ConnectFunction    string
	SendCodeFunction   string
	VerifyCodeFunction string
	ChannelsTable      string
	Timeout            time.Duration
	// ChannelPollRate and ChannelPollBurst bound ListChannels calls.
	ChannelPollRate  float64
	ChannelPollBurst int
}

// Client calls the account-linking backend.
type Client struct {
	opts       Options
	base       *url.URL
	httpClient *http.Client
	tokens     TokenSource
	validator  schema.ValidatorInterface
	limiter    *rate.Limiter
	logger     logging.Logger
}

// NewClient creates a Client. tokens may be nil, in which case the anon key
// is sent as the bearer token. validator may be nil to skip schema checks.
func NewClient(opts Options, tokens TokenSource, validator schema.ValidatorInterface, logger logging.Logger) (*Client, error) {
	if logger == nil {
		logger = logging.GetNoopLogger()
	}
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, errors.Newf("invalid backend base URL %q", opts.BaseURL)
	}
	if opts.ConnectFunction == "" {
		opts.ConnectFunction = "unipile-connect"
	}
	if opts.SendCodeFunction == "" {
		opts.SendCodeFunction = "unipile-send-code"
	}
	if opts.VerifyCodeFunction == "" {
		opts.VerifyCodeFunction = "unipile-verify-code"
	}
	if opts.ChannelsTable == "" {
		opts.ChannelsTable = "channels"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	limit := rate.Inf
	if opts.ChannelPollRate > 0 {
		limit = rate.Limit(opts.ChannelPollRate)
	}
	if opts.ChannelPollBurst <= 0 {
		opts.ChannelPollBurst = 1
	}

	return &Client{
		opts:       opts,
		base:       base,
		httpClient: &http.Client{Timeout: opts.Timeout},
		tokens:     tokens,
		validator:  validator,
		limiter:    rate.NewLimiter(limit, opts.ChannelPollBurst),
		logger:     logger.WithField("component", "backend_client"),
	}, nil
}

// Connect asks the backend to start linking provider.
func (c *Client) Connect(ctx context.Context, p Provider) (ConnectResponse, error) {
	body, err := c.post(ctx, c.opts.ConnectFunction, map[string]string{"provider": string(p)})
	if err != nil {
		return nil, err
	}
	if err := c.validate(ctx, schema.ConnectResponse, body); err != nil {
		return nil, errors.Wrap(err, "connect response failed schema validation")
	}
	resp, err := DecodeConnectResponse(body)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("Connect response decoded.", "provider", p, "kind", resp.Kind())
	return resp, nil
}

// ListChannels returns the user's linked channels ordered by priority.
// Calls are rate limited.
func (c *Client) ListChannels(ctx context.Context) ([]Channel, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, errors.Wrap(err, "channel list rate limiter")
	}

	u := c.endpoint("rest", "v1", c.opts.ChannelsTable)
	q := url.Values{}
	q.Set("select", channelSelect)
	q.Set("order", "priority.asc")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "build channel list request")
	}
	body, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := c.validate(ctx, schema.ChannelList, body); err != nil {
		return nil, errors.Wrap(err, "channel list failed schema validation")
	}

	var channels []Channel
	if err := json.Unmarshal(body, &channels); err != nil {
		return nil, errors.Wrap(err, "decode channel list")
	}
	SortByPriority(channels)
	return channels, nil
}

// SendCode asks the backend to send an SMS verification code to phone.
func (c *Client) SendCode(ctx context.Context, accountID, phone string) error {
	body, err := c.post(ctx, c.opts.SendCodeFunction, map[string]string{
		"account_id":   accountID,
		"phone_number": phone,
	})
	if err != nil {
		return err
	}
	if err := c.validate(ctx, schema.ActionResponse, body); err != nil {
		return errors.Wrap(err, "send code response failed schema validation")
	}
	return decodeActionResponse(body)
}

// VerifyCode submits the SMS code the user received.
func (c *Client) VerifyCode(ctx context.Context, accountID, code string) error {
	body, err := c.post(ctx, c.opts.VerifyCodeFunction, map[string]string{
		"account_id": accountID,
		"code":       code,
	})
	if err != nil {
		return err
	}
	if err := c.validate(ctx, schema.ActionResponse, body); err != nil {
		return errors.Wrap(err, "verify code response failed schema validation")
	}
	return decodeActionResponse(body)
}

func (c *Client) post(ctx context.Context, function string, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "encode request")
	}
	u := c.endpoint("functions", "v1", function)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrapf(err, "build %s request", function)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(ctx, req)
}

func (c *Client) do(ctx context.Context, req *http.Request) ([]byte, error) {
	bearer := c.opts.AnonKey
	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, err
		}
		bearer = token
	}
	req.Header.Set("apikey", c.opts.AnonKey)
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s", req.Method, req.URL.Path)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Warn("Error closing response body.", "path", req.URL.Path, "error", closeErr)
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, errors.Wrapf(err, "read %s response", req.URL.Path)
	}
	c.logger.Debug("Backend request complete.", "method", req.Method, "path", req.URL.Path, "status", resp.StatusCode, "duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: errorMessage(body, resp.Status)}
	}
	return body, nil
}

func (c *Client) validate(ctx context.Context, name string, body []byte) error {
	if c.validator == nil {
		return nil
	}
	return c.validator.Validate(ctx, name, body)
}

func (c *Client) endpoint(parts ...string) *url.URL {
	u := *c.base
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = url.PathEscape(p)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.Join(escaped, "/")
	return &u
}
