package service

import (
	"context"
	"testing"
	"time"

	iotago "github.com/iotaledger/iota.go/v3"
	"github.com/iotaledger/iota.go/v3/tpkg"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/dueldanov/claimescrow/internal/custody"
	"github.com/dueldanov/claimescrow/internal/escrow"
	"github.com/dueldanov/claimescrow/internal/verification"
)

// startTestGRPC serves env.svc in dev mode and returns a connected client.
func startTestGRPC(t *testing.T, env *testEnv, limiter *verification.RateLimiter) *ClaimEscrowClient {
	t.Helper()

	addr := listenTestGRPC(t)
	server, err := NewGRPCServer(env.svc, limiter, GRPCServerConfig{BindAddress: addr, DevMode: true})
	require.NoError(t, err)

	go func() {
		if err := server.Start(); err != nil {
			t.Logf("gRPC server stopped: %v", err)
		}
	}()
	t.Cleanup(server.Stop)

	// Give server time to start
	time.Sleep(100 * time.Millisecond)

	conn, err := grpc.Dial(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return NewClaimEscrowClient(conn)
}

func asCaller(env *testEnv, addr iotago.Address) context.Context {
	return metadata.AppendToOutgoingContext(context.Background(), CallerHeader, env.id(addr))
}

func TestGRPC_ClaimFlow(t *testing.T) {
	env := newTestEnv(t)
	client := startTestGRPC(t, env, nil)
	claimant := tpkg.RandEd25519Address()
	merchantCtx := asCaller(env, env.merchant)

	env.mintCollectible(t, "nft-grpc")

	created, err := client.CreateClaim(merchantCtx, &CreateClaimMessage{
		RegistryID:         env.registry.ID,
		ClaimCode:          "GRPC-1",
		AssetKind:          escrow.AssetKindCollectible,
		AssetID:            "nft-grpc",
		PurchaseAmountFiat: 2500,
		FiatCurrency:       "USD",
		Display:            escrow.Display{Name: "Concert ticket"},
	})
	require.NoError(t, err)
	require.Equal(t, escrow.StatusPending, created.Claim.Status)
	require.EqualValues(t, escrow.DefaultMaxClaimAttempts, created.Claim.RemainingAttempts)

	exists, err := client.ClaimExists(context.Background(), &ClaimExistsMessage{RegistryID: env.registry.ID, ClaimCode: "GRPC-1"})
	require.NoError(t, err)
	require.True(t, exists.Exists)

	_, err = client.InitiateClaim(asCaller(env, claimant), &InitiateClaimMessage{ClaimID: created.Claim.ID, ClaimCode: "nope"})
	require.Equal(t, codes.InvalidArgument, status.Code(err))

	ticket, err := client.InitiateClaim(asCaller(env, claimant), &InitiateClaimMessage{ClaimID: created.Claim.ID, ClaimCode: "GRPC-1"})
	require.NoError(t, err)
	require.Equal(t, created.Claim.ID, ticket.ClaimID)

	done, err := client.CompleteClaim(asCaller(env, claimant), &CompleteClaimMessage{TicketID: ticket.TicketID})
	require.NoError(t, err)
	require.Equal(t, escrow.StatusClaimed, done.Claim.Status)
	require.Equal(t, env.id(claimant), done.Claim.Claimer)

	_, err = client.CompleteClaim(asCaller(env, claimant), &CompleteClaimMessage{TicketID: ticket.TicketID})
	require.Equal(t, codes.NotFound, status.Code(err))

	stats, err := client.GetStats(context.Background(), &RegistryIDMessage{RegistryID: env.registry.ID})
	require.NoError(t, err)
	require.EqualValues(t, 1, stats.Stats.Created)
	require.EqualValues(t, 1, stats.Stats.Fulfilled)

	list, err := client.ListClaims(context.Background(), &RegistryIDMessage{RegistryID: env.registry.ID})
	require.NoError(t, err)
	require.Len(t, list.Claims, 1)

	owner, err := env.custody.OwnerOf("nft-grpc")
	require.NoError(t, err)
	require.Equal(t, env.id(claimant), owner)
}

func TestGRPC_ErrorCodes(t *testing.T) {
	env := newTestEnv(t)
	client := startTestGRPC(t, env, nil)
	stranger := tpkg.RandEd25519Address()

	// Missing identity
	_, err := client.CreateRegistry(context.Background(), &CreateRegistryMessage{MerchantName: "x", DefaultExpiryHours: 1})
	require.Equal(t, codes.Unauthenticated, status.Code(err))

	// Malformed identity
	badCtx := metadata.AppendToOutgoingContext(context.Background(), CallerHeader, "not-bech32")
	_, err = client.CreateRegistry(badCtx, &CreateRegistryMessage{MerchantName: "x", DefaultExpiryHours: 1})
	require.Equal(t, codes.Unauthenticated, status.Code(err))

	registry, err := client.CreateRegistry(asCaller(env, stranger), &CreateRegistryMessage{MerchantName: "Stall", DefaultExpiryHours: 2})
	require.NoError(t, err)
	require.Equal(t, env.id(stranger), registry.Registry.Authority)

	fetched, err := client.GetRegistry(context.Background(), &RegistryIDMessage{RegistryID: registry.Registry.ID})
	require.NoError(t, err)
	require.Equal(t, "Stall", fetched.Registry.MerchantName)

	env.mintCollectible(t, "nft-denied")
	_, err = client.CreateClaim(asCaller(env, stranger), &CreateClaimMessage{
		RegistryID:         env.registry.ID,
		ClaimCode:          "X",
		AssetKind:          escrow.AssetKindCollectible,
		AssetID:            "nft-denied",
		PurchaseAmountFiat: 1,
		FiatCurrency:       "USD",
	})
	require.Equal(t, codes.PermissionDenied, status.Code(err))

	_, err = client.CreateClaim(asCaller(env, env.merchant), &CreateClaimMessage{
		RegistryID: env.registry.ID,
		ClaimCode:  "X",
		AssetKind:  "hologram",
	})
	require.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = client.GetClaim(context.Background(), &ClaimIDMessage{ClaimID: "missing"})
	require.Equal(t, codes.NotFound, status.Code(err))

	claim := env.createClaim(t, "OLD", func(r *CreateClaimRequest) { r.CustomExpiryHours = 1 })
	env.clock.Advance(time.Hour)

	_, err = client.InitiateClaim(asCaller(env, stranger), &InitiateClaimMessage{ClaimID: claim.ID, ClaimCode: "OLD"})
	require.Equal(t, codes.FailedPrecondition, status.Code(err))

	_, err = client.ExtendClaimExpiry(asCaller(env, env.merchant), &ExtendClaimMessage{ClaimID: claim.ID, AdditionalHours: 1})
	require.Equal(t, codes.FailedPrecondition, status.Code(err))

	expired, err := client.ExpireClaim(context.Background(), &ClaimIDMessage{ClaimID: claim.ID})
	require.NoError(t, err)
	require.Equal(t, escrow.StatusExpired, expired.Claim.Status)

	_, err = client.CancelClaim(asCaller(env, env.merchant), &CancelClaimMessage{ClaimID: claim.ID, Reason: "late"})
	require.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestGRPC_AttemptsExhausted(t *testing.T) {
	env := newTestEnv(t)
	client := startTestGRPC(t, env, nil)
	claimant := tpkg.RandEd25519Address()

	claim := env.createClaim(t, "CAP")
	for i := 0; i < escrow.DefaultMaxClaimAttempts; i++ {
		_, err := client.InitiateClaim(asCaller(env, claimant), &InitiateClaimMessage{ClaimID: claim.ID, ClaimCode: "guess"})
		require.Equal(t, codes.InvalidArgument, status.Code(err))
	}

	_, err := client.InitiateClaim(asCaller(env, claimant), &InitiateClaimMessage{ClaimID: claim.ID, ClaimCode: "CAP"})
	require.Equal(t, codes.ResourceExhausted, status.Code(err))
	require.Contains(t, status.Convert(err).Message(), "maximum claim attempts")
}

func TestGRPC_RateLimitsClaimCalls(t *testing.T) {
	env := newTestEnv(t)
	limiter := verification.NewRateLimiter(&verification.RateLimiterConfig{Burst: 2, Window: time.Hour})
	client := startTestGRPC(t, env, limiter)
	sprayer := tpkg.RandEd25519Address()

	claim := env.createClaim(t, "RL")
	for i := 0; i < 2; i++ {
		_, err := client.InitiateClaim(asCaller(env, sprayer), &InitiateClaimMessage{ClaimID: claim.ID, ClaimCode: "guess"})
		require.Equal(t, codes.InvalidArgument, status.Code(err))
	}

	_, err := client.InitiateClaim(asCaller(env, sprayer), &InitiateClaimMessage{ClaimID: claim.ID, ClaimCode: "RL"})
	require.Equal(t, codes.ResourceExhausted, status.Code(err))
	require.Contains(t, status.Convert(err).Message(), "rate limit")

	// The limited call never reached the escrow
	stored, err := env.svc.GetClaim(context.Background(), claim.ID)
	require.NoError(t, err)
	require.EqualValues(t, 2, stored.ClaimAttempts)

	// Queries are not rate limited
	for i := 0; i < 5; i++ {
		_, err := client.GetClaim(asCaller(env, sprayer), &ClaimIDMessage{ClaimID: claim.ID})
		require.NoError(t, err)
	}

	// Another caller still gets through
	other := tpkg.RandEd25519Address()
	ticket, err := client.InitiateClaim(asCaller(env, other), &InitiateClaimMessage{ClaimID: claim.ID, ClaimCode: "RL"})
	require.NoError(t, err)
	_, err = client.CompleteClaim(asCaller(env, other), &CompleteClaimMessage{TicketID: ticket.TicketID})
	require.NoError(t, err)
}

func TestGRPC_RequiresTLSOutsideDevMode(t *testing.T) {
	env := newTestEnv(t)

	_, err := NewGRPCServer(env.svc, nil, GRPCServerConfig{BindAddress: "127.0.0.1:0"})
	require.Error(t, err)

	_, err = NewGRPCServer(env.svc, nil, GRPCServerConfig{
		BindAddress: "127.0.0.1:0",
		TLSEnabled:  true,
		TLSCertPath: "/nonexistent/cert.pem",
		TLSKeyPath:  "/nonexistent/key.pem",
	})
	require.Error(t, err)
}

func TestToStatus(t *testing.T) {
	tests := []struct {
		err  error
		code codes.Code
	}{
		{escrow.ErrNotAuthorized, codes.PermissionDenied},
		{escrow.ErrAlreadyExists, codes.AlreadyExists},
		{escrow.ErrInvalidMetadata, codes.InvalidArgument},
		{escrow.ErrInvalidAmount, codes.InvalidArgument},
		{escrow.ErrAttemptsExhausted, codes.ResourceExhausted},
		{escrow.ErrExpired, codes.FailedPrecondition},
		{escrow.ErrNotFound, codes.NotFound},
		{custody.ErrNotOwner, codes.Internal},
	}

	for _, tt := range tests {
		require.Equal(t, tt.code, status.Code(toStatus(tt.err)), tt.err.Error())
	}
	require.NoError(t, toStatus(nil))
}
