package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/iotaledger/hive.go/app/configuration"
	appLogger "github.com/iotaledger/hive.go/app/logger"
	"github.com/iotaledger/hive.go/kvstore/mapdb"
	"github.com/iotaledger/hive.go/logger"
	iotago "github.com/iotaledger/iota.go/v3"
	"github.com/iotaledger/iota.go/v3/tpkg"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/dueldanov/claimescrow/internal/crypto"
	"github.com/dueldanov/claimescrow/internal/custody"
	"github.com/dueldanov/claimescrow/internal/escrow"
)

var initLoggerOnce sync.Once

// initTestLogger initializes the global logger for tests
func initTestLogger() {
	initLoggerOnce.Do(func() {
		// Ignore error - global logger may already be initialized
		_ = appLogger.InitGlobalLogger(configuration.New())
	})
}

// testClock is a manually advanced clock.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

// testEnv bundles a service with its custody store and clock.
type testEnv struct {
	svc      *Service
	custody  *custody.Store
	clock    *testClock
	merchant iotago.Address
	registry *escrow.Registry
}

// newTestEnv creates a service on an in-memory store with one registry owned
// by a random merchant.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	initTestLogger()
	crypto.PINCost = bcrypt.MinCost

	store := mapdb.NewMapDB()
	custodyStore, err := custody.NewStore(store)
	require.NoError(t, err)

	clock := newTestClock()
	svc, err := NewService(logger.NewLogger("test"), store, custodyStore, &ServiceConfig{
		DataDir:       t.TempDir(),
		NetworkPrefix: iotago.PrefixMainnet,
		Clock:         clock.Now,
	})
	require.NoError(t, err)

	merchant := tpkg.RandEd25519Address()
	registry, err := svc.CreateRegistry(context.Background(), merchant, escrow.RegistryParams{
		MerchantName:       "Corner Shop",
		MerchantID:         "merchant-42",
		DefaultExpiryHours: 24,
	})
	require.NoError(t, err)

	return &testEnv{
		svc:      svc,
		custody:  custodyStore,
		clock:    clock,
		merchant: merchant,
		registry: registry,
	}
}

func (env *testEnv) id(addr iotago.Address) string {
	return env.svc.identity(addr)
}

// mintCollectible gives the merchant a fresh collectible.
func (env *testEnv) mintCollectible(t *testing.T, objectID string) custody.Collectible {
	t.Helper()

	item := custody.Collectible{ObjectID: objectID, Collection: "tickets"}
	require.NoError(t, env.custody.Mint(item, env.id(env.merchant)))

	return item
}

// createClaim mints a collectible and escrows it under code.
func (env *testEnv) createClaim(t *testing.T, code string, mutate ...func(*CreateClaimRequest)) *escrow.ClaimEscrow {
	t.Helper()

	req := &CreateClaimRequest{
		RegistryID:         env.registry.ID,
		ClaimCode:          code,
		Asset:              env.mintCollectible(t, "nft-"+code),
		PurchaseReference:  "order-" + code,
		PurchaseAmountFiat: 5000,
		FiatCurrency:       "USD",
		Display:            escrow.Display{Name: "Gift " + code},
	}
	for _, m := range mutate {
		m(req)
	}

	claim, err := env.svc.CreateClaim(context.Background(), env.merchant, req)
	require.NoError(t, err)

	return claim
}
