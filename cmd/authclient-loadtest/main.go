package main

import (
	"context"
	"flag"
	"fmt"
	"net/http/httptest"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/authclient"
	"github.com/MrEthical07/authclient/internal/fakeapi"
	"github.com/MrEthical07/authclient/session"
)

func main() {
	var (
		rounds      = flag.Int("rounds", 50, "number of expiry rounds")
		concurrency = flag.Int("concurrency", 256, "concurrent requests per round")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", "authclient-loadtest", "session key prefix")
		proactive   = flag.Duration("proactive-window", 0, "refresh before sending when the token expires within this window")
	)
	flag.Parse()

	if *rounds <= 0 || *concurrency <= 0 {
		fmt.Fprintln(os.Stderr, "rounds and concurrency must be > 0")
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
		rdb = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
		cleanup = func() {
			_ = rdb.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", mr.Addr())
	} else {
		rdb = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() { _ = rdb.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	api, err := fakeapi.New(fakeapi.DefaultConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "fake api: %v\n", err)
		os.Exit(1)
	}
	if _, err := api.AddUser("loadtest", "loadtest-password"); err != nil {
		fmt.Fprintf(os.Stderr, "add user: %v\n", err)
		os.Exit(1)
	}
	srv := httptest.NewServer(api)
	defer srv.Close()

	store := session.NewRedisStore(rdb, *prefix, 0)
	cfg := authclient.DefaultConfig()
	cfg.BaseURL = srv.URL
	cfg.Refresh.ProactiveWindow = *proactive
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true

	client, err := authclient.New().
		WithConfig(cfg).
		WithStore(store).
		WithHTTPClient(srv.Client()).
		Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "build client: %v\n", err)
		os.Exit(1)
	}
	defer client.Close()

	var logouts atomic.Int64
	client.OnLogout(func(authclient.LogoutEvent) { logouts.Add(1) })

	fmt.Printf("running %d rounds x %d concurrent requests...\n", *rounds, *concurrency)
	stats, err := run(ctx, client, api, store, *rounds, *concurrency)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loadtest: %v\n", err)
		os.Exit(1)
	}

	snap := client.MetricsSnapshot()
	fmt.Println("---- results ----")
	printStats("requests", stats)
	fmt.Printf("refresh calls=%d (want %d) coalesced=%d stale_replays=%d logouts=%d\n",
		api.RefreshCalls(),
		*rounds,
		snap.Counters[authclient.MetricRefreshCoalesced],
		snap.Counters[authclient.MetricStaleTokenReplay],
		logouts.Load(),
	)
	if api.RefreshCalls() != int64(*rounds) {
		os.Exit(1)
	}
}

// run expires the session once per round and fires concurrency requests at a
// protected route. Every round must cost exactly one refresh call.
func run(ctx context.Context, client *authclient.Client, api *fakeapi.Server, store session.Store, rounds, concurrency int) (phaseStats, error) {
	var (
		failures  int64
		latencies = make([]time.Duration, 0, rounds*concurrency)
		mu        sync.Mutex
	)

	start := time.Now()
	for round := 0; round < rounds; round++ {
		access, refresh, err := api.IssueExpiredSession("loadtest")
		if err != nil {
			return phaseStats{}, err
		}
		if err := store.Save(ctx, session.Session{AccessToken: access, RefreshToken: refresh}); err != nil {
			return phaseStats{}, fmt.Errorf("seed session: %w", err)
		}

		var wg sync.WaitGroup
		for w := 0; w < concurrency; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				t0 := time.Now()
				_, err := client.Get(ctx, "/orders/")
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}()
		}
		wg.Wait()
	}
	return computeStats(time.Since(start), latencies, failures), nil
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
