package content

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractor_Extract(t *testing.T) {
	article := `<!DOCTYPE html>
<html>
<head><title>Test Article</title></head>
<body>
	<article>
		<h1>Test Article Title</h1>
		<p>This is the main content of the article, long enough to pass the minimum length check.</p>
		<p>It has multiple paragraphs with plenty of meaningful text to extract from the page body.</p>
	</article>
</body>
</html>`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-agent/1.0", r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(article)) //nolint:errcheck
	}))
	defer srv.Close()

	e := NewExtractor(10*time.Second, 50, "test-agent/1.0")
	text, err := e.Extract(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Contains(t, text, "main content of the article")
}

func TestExtractor_ExtractTooShort(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><body><p>tiny</p></body></html>`)) //nolint:errcheck
	}))
	defer srv.Close()

	e := NewExtractor(10*time.Second, 500, "test-agent/1.0")
	_, err := e.Extract(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too short")
}

func TestExtractor_ExtractBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	e := NewExtractor(10*time.Second, 50, "test-agent/1.0")
	_, err := e.Extract(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestExtractor_ExtractTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
		w.Write([]byte("<html><body>too late</body></html>")) //nolint:errcheck
	}))
	defer srv.Close()

	e := NewExtractor(100*time.Millisecond, 10, "test-agent/1.0")
	_, err := e.Extract(context.Background(), srv.URL)
	require.Error(t, err)
}

func TestExtractor_InvalidURL(t *testing.T) {
	e := NewExtractor(time.Second, 10, "test-agent/1.0")

	tests := []string{"", "not-a-url", "relative/path"}
	for _, url := range tests {
		t.Run(url, func(t *testing.T) {
			_, err := e.Extract(context.Background(), url)
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), "invalid URL") || strings.Contains(err.Error(), "parse URL"))
		})
	}
}
