package database

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/iotaledger/hive.go/app/configuration"
	appLogger "github.com/iotaledger/hive.go/app/logger"
	hivedb "github.com/iotaledger/hive.go/kvstore/database"
	"github.com/iotaledger/hive.go/logger"
	iotago "github.com/iotaledger/iota.go/v3"
	"github.com/iotaledger/iota.go/v3/tpkg"
	"github.com/stretchr/testify/require"

	"github.com/dueldanov/claimescrow/internal/custody"
	"github.com/dueldanov/claimescrow/internal/escrow"
	"github.com/dueldanov/claimescrow/internal/service"
)

var initLoggerOnce sync.Once

// initTestLogger initializes the global logger for tests
func initTestLogger() {
	initLoggerOnce.Do(func() {
		// Ignore error - global logger may already be initialized
		_ = appLogger.InitGlobalLogger(configuration.New())
	})
}

// openService starts a service on the pebble store at dir.
func openService(t *testing.T, dir string) (*service.Service, *custody.Store, func()) {
	t.Helper()

	store, engine, err := OpenStore("pebble", filepath.Join(dir, "db"))
	require.NoError(t, err)
	require.Equal(t, hivedb.EnginePebble, engine)

	custodyStore, err := custody.NewStore(store)
	require.NoError(t, err)

	svc, err := service.NewService(logger.NewLogger("test"), store, custodyStore, &service.ServiceConfig{
		DataDir:       dir,
		NetworkPrefix: iotago.PrefixMainnet,
	})
	require.NoError(t, err)

	return svc, custodyStore, func() {
		require.NoError(t, store.Flush())
		require.NoError(t, store.Close())
	}
}

func TestOpenStore_EscrowsSurviveRestart(t *testing.T) {
	initTestLogger()
	ctx := context.Background()
	dir := t.TempDir()
	merchant := tpkg.RandEd25519Address()
	merchantID := merchant.Bech32(iotago.PrefixMainnet)

	svc, custodyStore, closeStore := openService(t, dir)
	registry, err := svc.CreateRegistry(ctx, merchant, escrow.RegistryParams{MerchantName: "Corner Shop", DefaultExpiryHours: 24})
	require.NoError(t, err)

	item := custody.Collectible{ObjectID: "nft-durable"}
	require.NoError(t, custodyStore.Mint(item, merchantID))
	claim, err := svc.CreateClaim(ctx, merchant, &service.CreateClaimRequest{
		RegistryID:         registry.ID,
		ClaimCode:          "KEEP-ME",
		Asset:              item,
		PurchaseAmountFiat: 1200,
		FiatCurrency:       "EUR",
	})
	require.NoError(t, err)
	closeStore()

	svc, custodyStore, closeStore = openService(t, dir)
	defer closeStore()

	stored, err := svc.GetClaim(ctx, claim.ID)
	require.NoError(t, err)
	require.Equal(t, escrow.StatusPending, stored.Status)

	exists, err := svc.ClaimExists(ctx, registry.ID, "KEEP-ME")
	require.NoError(t, err)
	require.True(t, exists)

	stats, err := svc.Stats(ctx, registry.ID)
	require.NoError(t, err)
	require.EqualValues(t, 1, stats.Created)

	owner, err := custodyStore.OwnerOf("nft-durable")
	require.NoError(t, err)
	require.Equal(t, custody.EscrowAccount(claim.ID), owner)

	claimant := tpkg.RandEd25519Address()
	ticket, err := svc.InitiateClaim(ctx, claimant, claim.ID, "KEEP-ME", nil)
	require.NoError(t, err)
	_, err = svc.CompleteClaim(ctx, claimant, ticket.ID)
	require.NoError(t, err)
}

func TestOpenStore_Engines(t *testing.T) {
	_, _, err := OpenStore("rocksdb", t.TempDir())
	require.Error(t, err)

	_, _, err = OpenStore("", t.TempDir())
	require.Error(t, err)

	store, engine, err := OpenStore("mapdb", "")
	require.NoError(t, err)
	require.Equal(t, hivedb.EngineMapDB, engine)
	require.NoError(t, store.Close())

	// A folder created by pebble cannot be reopened as another engine
	dir := filepath.Join(t.TempDir(), "db")
	store, _, err = OpenStore("pebble", dir)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	engine, err = hivedb.CheckEngine(dir, false, hivedb.EngineAuto, append(AllowedEngines, hivedb.EngineAuto))
	require.NoError(t, err)
	require.Equal(t, hivedb.EnginePebble, engine)
}
