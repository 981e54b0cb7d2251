package gif

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const giphyFixture = `{
  "data": [
    {
      "id": "abc",
      "title": "Party Parrot",
      "images": {
        "fixed_height": {"url": "https://media.giphy.com/abc/200.gif"},
        "fixed_height_small": {"url": "https://media.giphy.com/abc/100.gif"}
      }
    }
  ],
  "meta": {"status": 200, "msg": "OK"}
}`

func TestGiphyClient_SearchBuildsRequest(t *testing.T) {
	var gotPath string
	var gotQuery map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		q := r.URL.Query()
		gotQuery = map[string]string{
			"api_key": q.Get("api_key"),
			"q":       q.Get("q"),
			"limit":   q.Get("limit"),
			"rating":  q.Get("rating"),
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(giphyFixture))
	}))
	defer srv.Close()

	client := NewGiphyClient(srv.URL+"/", "key-123")
	gifs, err := client.Search(context.Background(), "high five")
	require.NoError(t, err)

	assert.Equal(t, "/v1/gifs/search", gotPath)
	assert.Equal(t, map[string]string{"api_key": "key-123", "q": "high five", "limit": "20", "rating": "g"}, gotQuery)
	require.Len(t, gifs, 1)
	assert.Equal(t, GIF{
		ID:         "abc",
		Title:      "Party Parrot",
		URL:        "https://media.giphy.com/abc/200.gif",
		PreviewURL: "https://media.giphy.com/abc/100.gif",
	}, gifs[0])
}

func TestGiphyClient_TrendingPath(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	gifs, err := NewGiphyClient(srv.URL, "k").Trending(context.Background())
	require.NoError(t, err)
	assert.Empty(t, gifs)
	assert.Equal(t, "/v1/gifs/trending", gotPath)
}

func TestGiphyClient_Errors(t *testing.T) {
	_, err := NewGiphyClient("", "").Trending(context.Background())
	assert.ErrorIs(t, err, ErrNotConfigured)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err = NewGiphyClient(srv.URL, "bad").Search(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}
