package xert

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/chinmina/xert-bridge/internal/cache"
	"github.com/chinmina/xert-bridge/internal/config"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	gobreaker "github.com/sony/gobreaker/v2"
)

const userAgent = "XertPoller/1.0"

// ErrMalformedResponse marks a 200 response whose body was not a JSON object.
var ErrMalformedResponse = errors.New("malformed response")

// detailCacheSize bounds the detail cache at ten cycles of enrichment.
const detailCacheSize = 500

// StatusError is returned when the API answers with anything other than
// 200. Body holds at most the first 200 bytes of the response.
type StatusError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.StatusCode == http.StatusUnauthorized {
		return fmt.Sprintf("xert API %s unauthorized, token may be expired", e.Endpoint)
	}
	return fmt.Sprintf("xert API %s failed: %d - %s", e.Endpoint, e.StatusCode, e.Body)
}

// Client reads training data from the Xert API. Every call is bearer
// authenticated with the token supplied by the caller. Training info, the
// activity list and activity details each pass through their own circuit
// breaker, so an outage of one endpoint group never blocks the others.
type Client struct {
	baseURL string
	client  *http.Client
	details cache.Cache[map[string]any]
	now     func() time.Time

	infoBreaker   *gobreaker.CircuitBreaker[map[string]any]
	listBreaker   *gobreaker.CircuitBreaker[map[string]any]
	detailBreaker *gobreaker.CircuitBreaker[map[string]any]
}

type Option func(*Client)

// WithHTTPClient sets the client used for API requests.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.client = client
	}
}

// WithDetailCache keeps successful activity details in the given cache.
func WithDetailCache(details cache.Cache[map[string]any]) Option {
	return func(c *Client) {
		c.details = details
	}
}

// WithClock replaces the time source used for activity windows.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

func New(cfg config.XertConfig, opts ...Option) (*Client, error) {
	if _, err := url.ParseRequestURI(cfg.APIURL); err != nil {
		return nil, fmt.Errorf("could not parse Xert API URL: %w", err)
	}

	c := &Client{
		baseURL: strings.TrimSuffix(cfg.APIURL, "/"),
		client:  http.DefaultClient,
		now:     time.Now,

		infoBreaker:   newBreaker("xert-training-info"),
		listBreaker:   newBreaker("xert-activity-list"),
		detailBreaker: newBreaker("xert-activity-detail"),
	}

	if ttl := cfg.DetailCacheTTL(); ttl > 0 {
		details, err := cache.NewMemory[map[string]any](ttl, detailCacheSize)
		if err != nil {
			return nil, fmt.Errorf("detail cache configuration failed: %w", err)
		}
		c.details = cache.NewInstrumented[map[string]any](details, "activity_detail")
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// TrainingInfo fetches the fitness signature, training status and load.
// The result is returned even when its success flag is false.
func (c *Client) TrainingInfo(ctx context.Context, token string) (map[string]any, error) {
	log.Debug().Msg("fetching training info")

	result, err := c.get(ctx, c.infoBreaker, "/training_info", token, nil)
	if err != nil {
		return nil, err
	}

	if success, _ := result["success"].(bool); success {
		log.Info().Msg("fetched training info successfully")
	} else {
		log.Warn().Msg("training info response indicates failure")
	}

	return result, nil
}

// Activities fetches the activity list for the last lookbackDays days.
func (c *Client) Activities(ctx context.Context, token string, lookbackDays int) (map[string]any, error) {
	to := c.now().Unix()
	from := to - int64(lookbackDays)*24*3600

	log.Debug().Int64("from", from).Int64("to", to).Msg("fetching activities")

	params := url.Values{}
	params.Set("from", strconv.FormatInt(from, 10))
	params.Set("to", strconv.FormatInt(to, 10))

	result, err := c.get(ctx, c.listBreaker, "/activity", token, params)
	if err != nil {
		return nil, err
	}

	activities, _ := result["activities"].([]any)
	log.Info().Int("count", len(activities)).Msg("fetched activities")

	return result, nil
}

// ActivityDetail fetches the detail record for one activity path.
func (c *Client) ActivityDetail(ctx context.Context, token string, path string) (map[string]any, error) {
	if c.details != nil {
		if detail, ok := c.details.Get(ctx, path); ok {
			log.Debug().Str("path", path).Msg("activity detail served from cache")
			return detail, nil
		}
	}

	log.Debug().Str("path", path).Msg("fetching activity details")

	result, err := c.get(ctx, c.detailBreaker, "/activity/"+url.PathEscape(path), token, nil)
	if err != nil {
		return nil, err
	}

	if success, _ := result["success"].(bool); success && c.details != nil {
		c.details.Set(ctx, path, result)
	}

	return result, nil
}

func (c *Client) get(ctx context.Context, breaker *gobreaker.CircuitBreaker[map[string]any], endpoint string, token string, params url.Values) (map[string]any, error) {
	result, err := breaker.Execute(func() (map[string]any, error) {
		return c.do(ctx, endpoint, token, params)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("xert API %s not attempted: %w", endpoint, err)
	}
	return result, err
}

func (c *Client) do(ctx context.Context, endpoint string, token string, params url.Values) (map[string]any, error) {
	u := c.baseURL + endpoint
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("could not create request for %s: %w", endpoint, err)
	}

	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("xert API %s request error: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return nil, &StatusError{
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			Body:       string(body),
		}
	}

	var decoded any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("xert API %s: %w: %w", endpoint, ErrMalformedResponse, err)
	}

	result, ok := decoded.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("xert API %s: %w: got %T, expected an object", endpoint, ErrMalformedResponse, decoded)
	}

	return result, nil
}
