// Package dummy is a stand-in for the products API, so the benchmarks can
// run without the real backend and its database.
package dummy

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultPort     = 8000
	DefaultCacheTTL = 15 * time.Minute
	DefaultCatalog  = 500

	defaultLimit = 20
	maxLimit     = 100
)

type ServerConfig struct {
	Port     int
	CacheTTL time.Duration
	// Every simulated query sleeps DBLatency plus up to DBJitter.
	DBLatency time.Duration
	DBJitter  time.Duration
	Catalog   int
}

func (c *ServerConfig) applyDefaults() {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = DefaultCacheTTL
	}
	if c.Catalog <= 0 {
		c.Catalog = DefaultCatalog
	}
}

type Product struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Price     int       `json:"price"`
	CreatedAt time.Time `json:"created_at"`
}

type Page struct {
	Items      []Product `json:"items"`
	NextCursor *string   `json:"next_cursor"`
	HasMore    bool      `json:"has_more"`
}

type envelope struct {
	Status  string     `json:"status"`
	Data    any        `json:"data"`
	Error   *errorBody `json:"error"`
	TraceID string     `json:"trace_id"`
}

type errorBody struct {
	Code    string `json:"code"`
	Details any    `json:"details"`
}

type Server struct {
	cfg     ServerConfig
	catalog []Product

	// pages are keyed "limit:offset"; misses for one key share a query
	cache *ttlcache.Cache[string, Page]
	group singleflight.Group

	dbQueries atomic.Int64
}

func NewServer(cfg ServerConfig) *Server {
	cfg.applyDefaults()

	ns := uuid.MustParse("9b1c6e1e-3f0a-4c1e-9d53-6f1f2b3c4d5e")
	epoch := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	catalog := make([]Product, cfg.Catalog)
	for i := range catalog {
		catalog[i] = Product{
			ID:        uuid.NewSHA1(ns, []byte(strconv.Itoa(i))).String(),
			Name:      fmt.Sprintf("Product %d", i+1),
			Price:     (i%50 + 1) * 1999,
			CreatedAt: epoch.Add(time.Duration(i) * time.Hour),
		}
	}

	return &Server{
		cfg:     cfg,
		catalog: catalog,
		cache: ttlcache.New[string, Page](
			ttlcache.WithTTL[string, Page](cfg.CacheTTL),
			ttlcache.WithDisableTouchOnHit[string, Page](),
		),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/products", s.handleCached)
	mux.HandleFunc("GET /api/v1/products/without_cache/{$}", s.handleUncached)
	mux.HandleFunc("GET /api/v1/health", s.handleHealth)
	return withTrace(mux)
}

// DBQueries is how many times the simulated database was hit.
func (s *Server) DBQueries() int64 {
	return s.dbQueries.Load()
}

// ListenAndServe blocks until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	server := &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}

	fmt.Printf("👻 Dummy products API running on http://localhost%s/api/v1\n", addr)
	fmt.Println("   Endpoints: /products, /products/without_cache/, /health")

	go s.cache.Start()
	defer s.cache.Stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) handleCached(w http.ResponseWriter, r *http.Request) {
	limit, offset, ok := s.pageParams(w, r)
	if !ok {
		return
	}

	key := fmt.Sprintf("%d:%d", limit, offset)
	miss := false
	loader := ttlcache.NewSuppressedLoader[string, Page](
		ttlcache.LoaderFunc[string, Page](func(c *ttlcache.Cache[string, Page], key string) *ttlcache.Item[string, Page] {
			miss = true
			return c.Set(key, s.query(limit, offset), ttlcache.DefaultTTL)
		}),
		&s.group,
	)
	item := s.cache.Get(key, ttlcache.WithLoader[string, Page](loader))

	if miss {
		w.Header().Set("X-Cache", "MISS")
		log.WithField("key", key).Debug("products cache miss")
	} else {
		w.Header().Set("X-Cache", "HIT")
	}
	writeOK(w, r, item.Value())
}

func (s *Server) handleUncached(w http.ResponseWriter, r *http.Request) {
	limit, offset, ok := s.pageParams(w, r)
	if !ok {
		return
	}
	writeOK(w, r, s.query(limit, offset))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeOK(w, r, map[string]string{"health": "healthy"})
}

func (s *Server) pageParams(w http.ResponseWriter, r *http.Request) (limit, offset int, ok bool) {
	q := r.URL.Query()

	limit = defaultLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxLimit {
			writeError(w, r, http.StatusUnprocessableEntity, "invalid_limit",
				fmt.Sprintf("limit must be an integer between 1 and %d", maxLimit))
			return 0, 0, false
		}
		limit = n
	}

	if raw := q.Get("cursor"); raw != "" {
		n, err := decodeCursor(raw)
		if err != nil || n < 0 || n > len(s.catalog) {
			writeError(w, r, http.StatusUnprocessableEntity, "invalid_cursor", "cursor is not valid")
			return 0, 0, false
		}
		offset = n
	}
	return limit, offset, true
}

// query simulates the database round trip.
func (s *Server) query(limit, offset int) Page {
	s.dbQueries.Add(1)

	delay := s.cfg.DBLatency
	if s.cfg.DBJitter > 0 {
		delay += time.Duration(rand.Int63n(int64(s.cfg.DBJitter)))
	}
	if delay > 0 {
		time.Sleep(delay)
	}

	end := min(offset+limit, len(s.catalog))
	page := Page{Items: append([]Product{}, s.catalog[offset:end]...)}
	if end < len(s.catalog) {
		next := encodeCursor(end)
		page.NextCursor = &next
		page.HasMore = true
	}
	return page
}

func encodeCursor(offset int) string {
	return base64.RawURLEncoding.EncodeToString([]byte(strconv.Itoa(offset)))
}

func decodeCursor(raw string) (int, error) {
	b, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(string(b))
}

type traceKey struct{}

func withTrace(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Trace-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Trace-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), traceKey{}, id)))
	})
}

func traceID(r *http.Request) string {
	id, _ := r.Context().Value(traceKey{}).(string)
	return id
}

func writeOK(w http.ResponseWriter, r *http.Request, data any) {
	writeJSON(w, http.StatusOK, envelope{Status: "ok", Data: data, TraceID: traceID(r)})
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code string, details any) {
	writeJSON(w, status, envelope{
		Status:  "error",
		Error:   &errorBody{Code: code, Details: details},
		TraceID: traceID(r),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Debug("write response")
	}
}
