package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const modelsBody = `{"data":[
  {"id":"anthropic/claude-3.5-sonnet","name":"Claude 3.5 Sonnet","context_length":200000,"created":1718841600,
   "pricing":{"prompt":"0.000003","completion":"0.000015"}},
  {"id":"vendor/obscure-model","name":"Obscure","context_length":8192,
   "pricing":{"prompt":"not-a-number","completion":""}}
]}`

func TestClient_Models(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/models", r.URL.Path)
		assert.Equal(t, http.MethodGet, r.Method)
		w.Write([]byte(modelsBody)) //nolint:errcheck
	}))
	defer srv.Close()

	c := testClient(srv, 1, nil)
	models, err := c.Models(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 2)

	sonnet := models[0]
	assert.Equal(t, "anthropic/claude-3.5-sonnet", sonnet.ID)
	assert.Equal(t, "Claude 3.5 Sonnet", sonnet.DisplayName)
	assert.Equal(t, 200000, sonnet.ContextLength)
	assert.True(t, sonnet.IsRecommended)
	assert.InDelta(t, 0.000003, sonnet.PromptPrice, 1e-12)
	assert.InDelta(t, 0.000015, sonnet.CompletionPrice, 1e-12)
	assert.Equal(t, time.Unix(1718841600, 0).UTC(), sonnet.ReleasedAt)

	obscure := models[1]
	assert.False(t, obscure.IsRecommended)
	assert.Zero(t, obscure.PromptPrice, "malformed pricing tolerated")
	assert.Zero(t, obscure.CompletionPrice)
	assert.True(t, obscure.ReleasedAt.IsZero())
}

func TestClient_ModelsCached(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(modelsBody)) //nolint:errcheck
	}))
	defer srv.Close()

	c := testClient(srv, 1, nil)

	_, err := c.Models(context.Background())
	require.NoError(t, err)
	_, err = c.Models(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load(), "second call served from cache")

	// expire the TTL, next call refetches
	base := c.nowFn()
	c.nowFn = func() time.Time { return base.Add(modelsTTL + time.Minute) }
	_, err = c.Models(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestClient_ModelsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"bad key"}}`)) //nolint:errcheck
	}))
	defer srv.Close()

	c := testClient(srv, 1, nil)
	_, err := c.Models(context.Background())
	require.Error(t, err)
	assert.Equal(t, KindAuth, KindOf(err))
}
