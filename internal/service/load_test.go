//go:build loadtest
// +build loadtest

package service

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/iotaledger/hive.go/logger"
	"github.com/iotaledger/iota.go/v3/tpkg"
	"github.com/stretchr/testify/require"

	"github.com/dueldanov/claimescrow/internal/custody"
	"github.com/dueldanov/claimescrow/internal/escrow"
)

// LoadTestConfig configures load testing
type LoadTestConfig struct {
	Workers  int
	Duration time.Duration

	// Operation mix (percentages)
	CreatePercent  int
	RedeemPercent  int
	GuessPercent   int
	CancelPercent  int
	QueryPercent   int
	ReportInterval time.Duration
}

// LoadTestResults contains load test results
type LoadTestResults struct {
	Duration           time.Duration
	TotalRequests      uint64
	AverageTPS         float64
	LatencyPercentiles map[int]time.Duration
	ErrorDistribution  map[string]uint64
	Operations         map[string]uint64
}

type openClaim struct {
	id   string
	code string
}

// LoadTester drives a service with a mix of claim operations from many
// workers and keeps enough bookkeeping to check the ledger afterwards.
type LoadTester struct {
	*logger.WrappedLogger

	env    *testEnv
	config *LoadTestConfig

	totalRequests uint64
	assetSeq      uint64

	mu         sync.Mutex
	open       []openClaim
	created    uint64
	fulfilled  map[string]string // claim ID -> claimer
	cancelled  uint64
	latencies  []time.Duration
	errorKinds map[string]uint64
	operations map[string]uint64
}

// NewLoadTester creates a new load tester
func NewLoadTester(env *testEnv, config *LoadTestConfig) *LoadTester {
	return &LoadTester{
		WrappedLogger: logger.NewWrappedLogger(logger.NewLogger("LoadTest")),
		env:           env,
		config:        config,
		fulfilled:     make(map[string]string),
		errorKinds:    make(map[string]uint64),
		operations:    make(map[string]uint64),
	}
}

// Run executes the load test until the configured duration elapsed.
func (lt *LoadTester) Run(ctx context.Context) *LoadTestResults {
	ctx, cancel := context.WithTimeout(ctx, lt.config.Duration)
	defer cancel()

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < lt.config.Workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			lt.worker(ctx, rand.New(rand.NewSource(int64(worker)+1)))
		}(i)
	}

	ticker := time.NewTicker(lt.config.ReportInterval)
	defer ticker.Stop()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	for {
		select {
		case <-ticker.C:
			lt.LogInfof("Load test progress: %d requests", atomic.LoadUint64(&lt.totalRequests))
		case <-done:
			return lt.results(time.Since(start))
		}
	}
}

func (lt *LoadTester) worker(ctx context.Context, rng *rand.Rand) {
	for ctx.Err() == nil {
		roll := rng.Intn(100)
		switch {
		case roll < lt.config.CreatePercent:
			lt.measure("create", lt.create)
		case roll < lt.config.CreatePercent+lt.config.RedeemPercent:
			lt.measure("redeem", func() error { return lt.redeem(rng) })
		case roll < lt.config.CreatePercent+lt.config.RedeemPercent+lt.config.GuessPercent:
			lt.measure("guess", func() error { return lt.guess(rng) })
		case roll < lt.config.CreatePercent+lt.config.RedeemPercent+lt.config.GuessPercent+lt.config.CancelPercent:
			lt.measure("cancel", func() error { return lt.cancel(rng) })
		default:
			lt.measure("query", lt.query)
		}
	}
}

func (lt *LoadTester) measure(operation string, fn func() error) {
	start := time.Now()
	err := fn()
	latency := time.Since(start)

	atomic.AddUint64(&lt.totalRequests, 1)

	lt.mu.Lock()
	defer lt.mu.Unlock()

	lt.latencies = append(lt.latencies, latency)
	lt.operations[operation]++
	if err != nil {
		lt.errorKinds[escrow.KindOf(err).String()]++
	}
}

func (lt *LoadTester) create() error {
	seq := atomic.AddUint64(&lt.assetSeq, 1)
	code := fmt.Sprintf("LOAD-%06d", seq)

	item := custody.Collectible{ObjectID: "load-" + code}
	if err := lt.env.custody.Mint(item, lt.env.id(lt.env.merchant)); err != nil {
		return err
	}

	claim, err := lt.env.svc.CreateClaim(context.Background(), lt.env.merchant, &CreateClaimRequest{
		RegistryID: lt.env.registry.ID,
		ClaimCode:  code,
		Asset:      item,
	})
	if err != nil {
		return err
	}

	lt.mu.Lock()
	lt.open = append(lt.open, openClaim{id: claim.ID, code: code})
	lt.created++
	lt.mu.Unlock()

	return nil
}

// pick returns a random open claim, removing it when take is set.
func (lt *LoadTester) pick(rng *rand.Rand, take bool) (openClaim, bool) {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	if len(lt.open) == 0 {
		return openClaim{}, false
	}

	i := rng.Intn(len(lt.open))
	c := lt.open[i]
	if take {
		lt.open[i] = lt.open[len(lt.open)-1]
		lt.open = lt.open[:len(lt.open)-1]
	}

	return c, true
}

func (lt *LoadTester) redeem(rng *rand.Rand) error {
	c, found := lt.pick(rng, true)
	if !found {
		return nil
	}

	ctx := context.Background()
	claimant := tpkg.RandEd25519Address()
	ticket, err := lt.env.svc.InitiateClaim(ctx, claimant, c.id, c.code, nil)
	if err != nil {
		return err
	}

	claim, err := lt.env.svc.CompleteClaim(ctx, claimant, ticket.ID)
	if err != nil {
		return err
	}

	lt.mu.Lock()
	lt.fulfilled[claim.ID] = claim.Claimer
	lt.mu.Unlock()

	return nil
}

func (lt *LoadTester) guess(rng *rand.Rand) error {
	c, found := lt.pick(rng, false)
	if !found {
		return nil
	}

	_, err := lt.env.svc.InitiateClaim(context.Background(), tpkg.RandEd25519Address(), c.id, fmt.Sprintf("GUESS-%d", rng.Int()), nil)

	return err
}

func (lt *LoadTester) cancel(rng *rand.Rand) error {
	c, found := lt.pick(rng, true)
	if !found {
		return nil
	}

	if _, err := lt.env.svc.CancelClaim(context.Background(), lt.env.merchant, c.id, "load test"); err != nil {
		return err
	}

	lt.mu.Lock()
	lt.cancelled++
	lt.mu.Unlock()

	return nil
}

func (lt *LoadTester) query() error {
	_, err := lt.env.svc.Stats(context.Background(), lt.env.registry.ID)

	return err
}

func (lt *LoadTester) results(elapsed time.Duration) *LoadTestResults {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	sorted := append([]time.Duration(nil), lt.latencies...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	percentiles := make(map[int]time.Duration)
	if len(sorted) > 0 {
		for _, p := range []int{50, 90, 95, 99} {
			percentiles[p] = sorted[(len(sorted)-1)*p/100]
		}
	}

	total := atomic.LoadUint64(&lt.totalRequests)

	return &LoadTestResults{
		Duration:           elapsed,
		TotalRequests:      total,
		AverageTPS:         float64(total) / elapsed.Seconds(),
		LatencyPercentiles: percentiles,
		ErrorDistribution:  lt.errorKinds,
		Operations:         lt.operations,
	}
}

func TestLoad_MixedClaimTraffic(t *testing.T) {
	env := newTestEnv(t)

	lt := NewLoadTester(env, &LoadTestConfig{
		Workers:        16,
		Duration:       3 * time.Second,
		CreatePercent:  35,
		RedeemPercent:  25,
		GuessPercent:   20,
		CancelPercent:  5,
		QueryPercent:   15,
		ReportInterval: time.Second,
	})
	results := lt.Run(context.Background())

	t.Logf("requests=%d tps=%.0f p50=%v p99=%v errors=%v", results.TotalRequests, results.AverageTPS,
		results.LatencyPercentiles[50], results.LatencyPercentiles[99], results.ErrorDistribution)

	require.NotZero(t, results.TotalRequests)
	require.Zero(t, results.ErrorDistribution[escrow.KindUnknown.String()])

	ctx := context.Background()
	stats, err := env.svc.Stats(ctx, env.registry.ID)
	require.NoError(t, err)
	require.EqualValues(t, lt.created, stats.Created)
	require.EqualValues(t, len(lt.fulfilled), stats.Fulfilled)

	for claimID, claimer := range lt.fulfilled {
		claim, err := env.svc.GetClaim(ctx, claimID)
		require.NoError(t, err)
		require.Equal(t, escrow.StatusClaimed, claim.Status)
		require.Equal(t, claimer, claim.Claimer)

		owner, err := env.custody.OwnerOf(claim.Asset.ID)
		require.NoError(t, err)
		require.Equal(t, claimer, owner)
	}

	// every claim still open kept its asset in escrow custody
	for _, c := range lt.open {
		claim, err := env.svc.GetClaim(ctx, c.id)
		require.NoError(t, err)

		owner, err := env.custody.OwnerOf(claim.Asset.ID)
		require.NoError(t, err)
		if claim.Status == escrow.StatusPending {
			require.Equal(t, custody.EscrowAccount(claim.ID), owner)
		}
	}
}
