package steam

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"codeberg.org/mutker/serverpop/internal/errors"
	"codeberg.org/mutker/serverpop/internal/logger"
	"codeberg.org/mutker/serverpop/internal/population"
	"github.com/bytedance/sonic"
)

const (
	DefaultEndpoint = "https://api.steampowered.com/IGameServersService/GetServerList/v1/"
	DefaultAppID    = 730
	DefaultLimit    = 20000
	DefaultTimeout  = 60 * time.Second

	maxErrorBody = 512
)

// DefaultMaps are queried individually; everything else is grouped under OtherMapsQuery.
var DefaultMaps = []string{"de_dust2", "de_mirage", "de_inferno"}

type Config struct {
	Endpoint string
	APIKey   string
	Limit    int
	Timeout  time.Duration
}

func (c Config) Validate() error {
	errFactory := errors.New()

	if c.APIKey == "" {
		return errFactory.WithMessage(ErrInvalidConfig, "steam api key is empty")
	}
	if c.Limit <= 0 {
		return errFactory.WithData(ErrInvalidConfig, fmt.Sprintf("limit must be positive, got %d", c.Limit))
	}
	if _, err := url.ParseRequestURI(c.Endpoint); err != nil {
		return errFactory.Wrap(ErrInvalidConfig, err)
	}
	return nil
}

// Result is the outcome of one query: either Servers or Err is set.
type Result struct {
	Query   Query
	Servers []population.Server
	Err     error
}

func (r Result) OK() bool {
	return r.Err == nil
}

// Client queries the Steam server-list API.
type Client struct {
	cfg        Config
	httpClient *http.Client
	log        logger.Logger
}

// Option customises client instantiation.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithLogger sets the logger used for per-query diagnostics.
func WithLogger(l logger.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        logger.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// FetchAll runs the queries one after another. A failed query never stops
// the remaining ones; its Result carries the error instead.
func (c *Client) FetchAll(ctx context.Context, queries []Query) []Result {
	results := make([]Result, 0, len(queries))

	for _, q := range queries {
		res := c.FetchServers(ctx, q)
		if res.OK() {
			c.log.Debug().
				Str("query", q.Name).
				Int("servers", len(res.Servers)).
				Msg("Fetched server list")
		} else {
			c.log.Warn().
				Str("query", q.Name).
				Str("filter", q.Filter).
				Err(res.Err).
				Msg("Server list query failed, continuing without it")
		}
		results = append(results, res)
	}

	return results
}

// FetchServers issues a single filtered query.
func (c *Client) FetchServers(ctx context.Context, q Query) Result {
	errFactory := errors.New()
	res := Result{Query: q}

	params := url.Values{}
	params.Set("key", c.cfg.APIKey)
	params.Set("limit", strconv.Itoa(c.cfg.Limit))
	params.Set("filter", q.Filter)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.Endpoint+"?"+params.Encode(), nil)
	if err != nil {
		res.Err = errFactory.Wrap(ErrRequestFailed, err)
		return res
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		res.Err = errFactory.Wrap(ErrRequestFailed, redact(err, c.cfg.APIKey))
		return res
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		res.Err = errFactory.WithData(ErrBadStatus, struct {
			Status int
			Body   string
		}{
			Status: resp.StatusCode,
			Body:   strings.TrimSpace(string(body)),
		})
		return res
	}

	servers, err := parseServerList(resp.Body)
	if err != nil {
		res.Err = err
		return res
	}

	res.Servers = servers
	return res
}

type serverListResponse struct {
	Response *struct {
		Servers *[]population.Server `json:"servers"`
	} `json:"response"`
}

func parseServerList(r io.Reader) ([]population.Server, error) {
	errFactory := errors.New()

	var payload serverListResponse
	if err := sonic.ConfigStd.NewDecoder(r).Decode(&payload); err != nil {
		return nil, errFactory.Wrap(ErrMalformedResponse, err)
	}
	if payload.Response == nil {
		return nil, errFactory.WithData(ErrMalformedResponse, "missing response object")
	}
	if payload.Response.Servers == nil {
		return nil, errFactory.WithData(ErrMalformedResponse, "missing servers list")
	}

	return *payload.Response.Servers, nil
}

// LoadAPIKey reads the key from the first line of a plaintext file.
func LoadAPIKey(path string) (string, error) {
	errFactory := errors.New()

	data, err := os.ReadFile(path)
	if err != nil {
		return "", errFactory.Wrap(ErrReadAPIKey, err)
	}

	line, _, _ := strings.Cut(string(data), "\n")
	key := strings.TrimSpace(line)
	if key == "" {
		return "", errFactory.WithData(ErrReadAPIKey, fmt.Sprintf("%s: first line is empty", path))
	}

	return key, nil
}

// redact strips the api key from transport errors, which embed the request URL.
func redact(err error, key string) error {
	if key == "" {
		return err
	}
	msg := strings.ReplaceAll(err.Error(), url.QueryEscape(key), "REDACTED")
	msg = strings.ReplaceAll(msg, key, "REDACTED")
	if msg == err.Error() {
		return err
	}
	return fmt.Errorf("%s", msg)
}
