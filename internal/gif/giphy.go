// Package gif proxies Giphy search and trending results with an in-process cache.
package gif

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"workplace/internal/observability"

	jsoniter "github.com/json-iterator/go"
	"go.opentelemetry.io/otel/attribute"
)

const (
	DefaultBaseURL = "https://api.giphy.com"
	resultLimit    = 20
	contentRating  = "g"
)

// ErrNotConfigured is returned when no Giphy API key is set.
var ErrNotConfigured = errors.New("gif search is not configured")

var json = jsoniter.ConfigFastest

// GIF is the trimmed result shown in the picker.
type GIF struct {
	ID         string `json:"id" msgpack:"id"`
	Title      string `json:"title" msgpack:"title"`
	URL        string `json:"url" msgpack:"url"`
	PreviewURL string `json:"preview_url" msgpack:"preview_url"`
}

// Provider fetches GIFs from an upstream source.
type Provider interface {
	Trending(ctx context.Context) ([]GIF, error)
	Search(ctx context.Context, query string) ([]GIF, error)
}

// GiphyClient talks to the Giphy v1 API.
type GiphyClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewGiphyClient(baseURL, apiKey string) *GiphyClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &GiphyClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

type giphyImage struct {
	URL string `json:"url"`
}

type giphyResponse struct {
	Data []struct {
		ID     string `json:"id"`
		Title  string `json:"title"`
		Images struct {
			FixedHeight      giphyImage `json:"fixed_height"`
			FixedHeightSmall giphyImage `json:"fixed_height_small"`
		} `json:"images"`
	} `json:"data"`
	Meta struct {
		Status int    `json:"status"`
		Msg    string `json:"msg"`
	} `json:"meta"`
}

func (c *GiphyClient) Trending(ctx context.Context) ([]GIF, error) {
	return c.fetch(ctx, "trending", nil)
}

func (c *GiphyClient) Search(ctx context.Context, query string) ([]GIF, error) {
	return c.fetch(ctx, "search", url.Values{"q": {query}})
}

func (c *GiphyClient) fetch(ctx context.Context, endpoint string, params url.Values) (gifs []GIF, err error) {
	if c.apiKey == "" {
		return nil, ErrNotConfigured
	}

	ctx, span := observability.StartClientSpan(ctx, "giphy."+endpoint, attribute.String("giphy.endpoint", endpoint))
	defer func() { observability.EndSpan(span, err) }()

	if params == nil {
		params = url.Values{}
	}
	params.Set("api_key", c.apiKey)
	params.Set("limit", strconv.Itoa(resultLimit))
	params.Set("rating", contentRating)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/gifs/"+endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("giphy %s: %w", endpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("giphy %s: unexpected status %d", endpoint, resp.StatusCode)
	}

	var body giphyResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("giphy %s: decode: %w", endpoint, err)
	}

	gifs = make([]GIF, 0, len(body.Data))
	for _, d := range body.Data {
		gifs = append(gifs, GIF{
			ID:         d.ID,
			Title:      d.Title,
			URL:        d.Images.FixedHeight.URL,
			PreviewURL: d.Images.FixedHeightSmall.URL,
		})
	}
	return gifs, nil
}
