// Command authclient-loadtest drives concurrent authenticated requests through
// several clients that share one Redis credential backend, starting from an
// expired access token, and reports how many refresh calls reached the
// backend.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/authclient"
	"github.com/MrEthical07/authclient/credstore"
	"github.com/MrEthical07/authclient/lock"
)

func main() {
	_ = godotenv.Load()

	var (
		clients      = flag.Int("clients", 4, "number of client instances sharing the credential backend")
		concurrency  = flag.Int("concurrency", 256, "number of concurrent workers")
		ops          = flag.Int("ops", 20000, "total requests")
		redisAddr    = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix       = flag.String("prefix", "ac-loadtest", "credential key prefix")
		baseURL      = flag.String("base-url", "", "API base URL; if empty, a local fake API is started")
		refreshDelay = flag.Duration("refresh-delay", 20*time.Millisecond, "latency of the fake refresh endpoint")
		failRate     = flag.Float64("fail-rate", 0.01, "share of fake API responses answered with 503")
		rotateEvery  = flag.Duration("rotate-every", 0, "expire the fake API token at this interval (0 = once at start)")
		verbose      = flag.Bool("v", false, "log client debug output to stderr")
	)
	flag.Parse()

	if *clients <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "clients, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		rdb     redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		addr = mr.Addr()
		rdb = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() {
			_ = rdb.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		rdb = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() { _ = rdb.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	var api *fakeAPI
	target := *baseURL
	if target == "" {
		api = newFakeAPI(*refreshDelay, *failRate)
		srv := httptest.NewServer(api)
		defer srv.Close()
		target = srv.URL
		fmt.Printf("using fake API at %s\n", target)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if *verbose {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	var logouts atomic.Int64
	pool := make([]*authclient.Client, *clients)
	for i := range pool {
		c, err := authclient.New().
			WithBaseURL(target).
			WithRetry(authclient.RetryConfig{MaxAttempts: 3, BaseDelay: 10 * time.Millisecond, MaxDelay: 200 * time.Millisecond, Jitter: true}).
			WithCredentialBackend(credstore.NewRedis(rdb, *prefix, "loadtest", 0)).
			WithRefreshLocker(lock.NewRedis(rdb, *prefix, "loadtest")).
			WithLogger(logger.With(slog.Int("client", i))).
			WithMetricsEnabled(true).
			WithLatencyHistograms(true).
			Build()
		if err != nil {
			fmt.Fprintf(os.Stderr, "build client: %v\n", err)
			os.Exit(1)
		}
		c.Subscribe(authclient.EventLogout, func(authclient.Event) { logouts.Add(1) })
		pool[i] = c
	}

	pool[0].SetCredentials(ctx, credstore.Credentials{
		AccessToken:  "expired",
		RefreshToken: "refresh-0",
		TokenType:    "bearer",
	})

	stop := make(chan struct{})
	if api != nil && *rotateEvery > 0 {
		go func() {
			t := time.NewTicker(*rotateEvery)
			defer t.Stop()
			for {
				select {
				case <-stop:
					return
				case <-t.C:
					api.expire()
				}
			}
		}()
	}

	stats := runRequests(ctx, pool, *ops, *concurrency)
	close(stop)

	fmt.Println("---- results ----")
	printStats("requests", stats)

	totals := map[authclient.MetricID]uint64{}
	for _, c := range pool {
		for id, v := range c.MetricsSnapshot().Counters {
			totals[id] += v
		}
	}
	fmt.Printf("refresh: started=%d succeeded=%d coalesced=%d skipped-stale=%d failed=%d\n",
		totals[authclient.MetricRefreshStarted],
		totals[authclient.MetricRefreshSuccess],
		totals[authclient.MetricRefreshCoalesced],
		totals[authclient.MetricRefreshSkippedStale],
		totals[authclient.MetricRefreshFailure],
	)
	fmt.Printf("retries: scheduled=%d exhausted=%d\n", totals[authclient.MetricRetryScheduled], totals[authclient.MetricRetryExhausted])
	fmt.Printf("forced logouts: %d (events seen: %d)\n", totals[authclient.MetricForcedLogout], logouts.Load())
	if api != nil {
		fmt.Printf("fake API: refresh calls=%d rotations=%d\n", api.refreshCalls.Load(), api.rotations.Load())
	}
}

func runRequests(ctx context.Context, pool []*authclient.Client, ops, concurrency int) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				c := pool[r.Intn(len(pool))]
				t0 := time.Now()
				_, err := c.Get(ctx, "/api/data")
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	total := time.Since(start)
	return computeStats(total, latencies, failures)
}

// fakeAPI accepts exactly one access token at a time and rotates it on
// refresh.
type fakeAPI struct {
	mu      sync.Mutex
	valid   string
	refresh string
	gen     int

	delay    time.Duration
	failRate float64

	refreshCalls atomic.Int64
	rotations    atomic.Int64
}

func newFakeAPI(delay time.Duration, failRate float64) *fakeAPI {
	return &fakeAPI{refresh: "refresh-0", delay: delay, failRate: failRate}
}

// expire invalidates the current access token so the next request refreshes.
func (a *fakeAPI) expire() {
	a.mu.Lock()
	a.valid = ""
	a.mu.Unlock()
}

func (a *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/auth/refresh" {
		a.serveRefresh(w, r)
		return
	}

	if a.failRate > 0 && rand.Float64() < a.failRate {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, `{"detail":"try again"}`)
		return
	}

	tok := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	a.mu.Lock()
	ok := tok != "" && tok == a.valid
	a.mu.Unlock()
	if !ok {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"detail":"Not authenticated"}`)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, `{"ok":true}`)
}

func (a *fakeAPI) serveRefresh(w http.ResponseWriter, r *http.Request) {
	a.refreshCalls.Add(1)
	if a.delay > 0 {
		time.Sleep(a.delay)
	}

	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	a.mu.Lock()
	defer a.mu.Unlock()
	if body.RefreshToken != a.refresh {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"detail":"refresh token reused"}`)
		return
	}
	a.gen++
	a.valid = fmt.Sprintf("access-%d", a.gen)
	a.refresh = fmt.Sprintf("refresh-%d", a.gen)
	a.rotations.Add(1)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"access_token":  a.valid,
		"refresh_token": a.refresh,
		"token_type":    "bearer",
		"expires_in":    900,
	})
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
