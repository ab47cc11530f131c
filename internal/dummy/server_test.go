package dummy

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pageEnvelope struct {
	Status  string     `json:"status"`
	Data    *Page      `json:"data"`
	Error   *errorBody `json:"error"`
	TraceID string     `json:"trace_id"`
}

func get(t *testing.T, srv *httptest.Server, path string) (*http.Response, pageEnvelope) {
	t.Helper()
	resp, err := srv.Client().Get(srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env pageEnvelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp, env
}

func TestCachedProductsHitsDBOnce(t *testing.T) {
	s := NewServer(ServerConfig{Catalog: 50})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, env := get(t, srv, "/api/v1/products?limit=20")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "MISS", resp.Header.Get("X-Cache"))
	assert.Equal(t, "ok", env.Status)
	assert.Nil(t, env.Error)
	assert.NotEmpty(t, env.TraceID)
	require.Len(t, env.Data.Items, 20)
	assert.True(t, env.Data.HasMore)

	resp, _ = get(t, srv, "/api/v1/products?limit=20")
	assert.Equal(t, "HIT", resp.Header.Get("X-Cache"))
	assert.Equal(t, int64(1), s.DBQueries())
}

func TestCursorPagination(t *testing.T) {
	s := NewServer(ServerConfig{Catalog: 30})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	_, first := get(t, srv, "/api/v1/products/without_cache/?limit=20")
	require.NotNil(t, first.Data.NextCursor)

	_, second := get(t, srv, "/api/v1/products/without_cache/?limit=20&cursor="+*first.Data.NextCursor)
	require.Len(t, second.Data.Items, 10)
	assert.False(t, second.Data.HasMore)
	assert.Nil(t, second.Data.NextCursor)
	assert.NotEqual(t, first.Data.Items[0].ID, second.Data.Items[0].ID)
	assert.Equal(t, int64(2), s.DBQueries())
}

func TestUncachedAlwaysQueries(t *testing.T) {
	s := NewServer(ServerConfig{})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	for i := 0; i < 3; i++ {
		resp, env := get(t, srv, "/api/v1/products/without_cache/?limit=20")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Len(t, env.Data.Items, 20)
	}
	assert.Equal(t, int64(3), s.DBQueries())
}

func TestConcurrentMissesShareOneQuery(t *testing.T) {
	s := NewServer(ServerConfig{DBLatency: 100 * time.Millisecond})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := srv.Client().Get(srv.URL + "/api/v1/products?limit=5")
			if assert.NoError(t, err) {
				resp.Body.Close()
				assert.Equal(t, http.StatusOK, resp.StatusCode)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(1), s.DBQueries())
}

func TestInvalidParams(t *testing.T) {
	srv := httptest.NewServer(NewServer(ServerConfig{}).Handler())
	defer srv.Close()

	for _, path := range []string{
		"/api/v1/products?limit=0",
		"/api/v1/products?limit=101",
		"/api/v1/products?limit=abc",
		"/api/v1/products/without_cache/?cursor=bm9wZQ",
	} {
		resp, err := srv.Client().Get(srv.URL + path)
		require.NoError(t, err, path)
		var env pageEnvelope
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
		resp.Body.Close()

		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode, path)
		assert.Equal(t, "error", env.Status, path)
		require.NotNil(t, env.Error, path)
	}
}

func TestHealthEchoesTraceID(t *testing.T) {
	srv := httptest.NewServer(NewServer(ServerConfig{}).Handler())
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/v1/health", nil)
	require.NoError(t, err)
	req.Header.Set("X-Trace-ID", "trace-123")
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env struct {
		Data    map[string]string `json:"data"`
		TraceID string            `json:"trace_id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	assert.Equal(t, "healthy", env.Data["health"])
	assert.Equal(t, "trace-123", env.TraceID)
	assert.Equal(t, "trace-123", resp.Header.Get("X-Trace-ID"))
}

func TestCachedPageExpires(t *testing.T) {
	s := NewServer(ServerConfig{CacheTTL: 50 * time.Millisecond})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, _ := get(t, srv, "/api/v1/products?limit=20")
	assert.Equal(t, "MISS", resp.Header.Get("X-Cache"))
	resp, _ = get(t, srv, "/api/v1/products?limit=20")
	assert.Equal(t, "HIT", resp.Header.Get("X-Cache"))

	time.Sleep(100 * time.Millisecond)
	resp, _ = get(t, srv, "/api/v1/products?limit=20")
	assert.Equal(t, "MISS", resp.Header.Get("X-Cache"))
	assert.Equal(t, int64(2), s.DBQueries())
}
