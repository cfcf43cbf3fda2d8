package escrow

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()

	r, err := NewRegistry("reg-1", "merchant", RegistryParams{
		MerchantName:       "Corner Shop",
		MerchantID:         "m-1",
		DefaultExpiryHours: 24,
	}, testNow)
	require.NoError(t, err)

	return r
}

func newTestClaim(t *testing.T, r *Registry, expiryHours uint32) *ClaimEscrow {
	t.Helper()

	e, err := NewClaimEscrow("claim-1", r, ClaimParams{
		ClaimHash:          "digest",
		Asset:              AssetRef{Kind: AssetKindCollectible, ID: "nft-1"},
		PurchaseReference:  "pos-42",
		PurchaseAmountFiat: 5000,
		FiatCurrency:       "USD",
		CustomExpiryHours:  expiryHours,
	}, testNow)
	require.NoError(t, err)

	return e
}

func TestNewRegistry_Validation(t *testing.T) {
	_, err := NewRegistry("r", "merchant", RegistryParams{DefaultExpiryHours: 24}, testNow)
	require.ErrorIs(t, err, ErrInvalidMetadata)

	_, err = NewRegistry("r", "merchant", RegistryParams{MerchantName: "x"}, testNow)
	require.ErrorIs(t, err, ErrInvalidMetadata)

	_, err = NewRegistry("r", "merchant", RegistryParams{
		MerchantName:             "x",
		DefaultExpiryHours:       1,
		RequireMerchantSignature: true,
		MerchantPublicKey:        []byte{1, 2, 3},
	}, testNow)
	require.ErrorIs(t, err, ErrInvalidMetadata)

	r := newTestRegistry(t)
	require.True(t, r.IsAuthority("merchant"))
	require.False(t, r.IsAuthority("someone"))
	require.False(t, r.IsAuthority(""))
}

func TestNewClaimEscrow_Defaults(t *testing.T) {
	r := newTestRegistry(t)
	e := newTestClaim(t, r, 0)

	require.Equal(t, StatusPending, e.Status)
	require.Equal(t, testNow.Add(24*time.Hour), e.ExpiresAt)
	require.EqualValues(t, DefaultMaxClaimAttempts, e.MaxClaimAttempts)
	require.Zero(t, e.ClaimAttempts)
	require.Empty(t, e.Claimer)
	require.True(t, e.ClaimedAt.IsZero())
	require.False(t, e.RequiresAdditionalVerification)

	custom := newTestClaim(t, r, 2)
	require.Equal(t, testNow.Add(2*time.Hour), custom.ExpiresAt)
}

func TestNewClaimEscrow_Validation(t *testing.T) {
	r := newTestRegistry(t)

	base := ClaimParams{
		ClaimHash:          "digest",
		Asset:              AssetRef{Kind: AssetKindFungible, ID: "coin", Amount: 10},
		PurchaseAmountFiat: 1,
		FiatCurrency:       "EUR",
	}

	p := base
	p.PurchaseAmountFiat = 0
	_, err := NewClaimEscrow("c", r, p, testNow)
	require.ErrorIs(t, err, ErrInvalidAmount)

	p = base
	p.ClaimHash = ""
	_, err = NewClaimEscrow("c", r, p, testNow)
	require.ErrorIs(t, err, ErrInvalidMetadata)

	p = base
	p.FiatCurrency = ""
	_, err = NewClaimEscrow("c", r, p, testNow)
	require.ErrorIs(t, err, ErrInvalidMetadata)

	p = base
	p.VerificationKind = VerificationPIN
	_, err = NewClaimEscrow("c", r, p, testNow)
	require.ErrorIs(t, err, ErrInvalidMetadata)

	p = base
	p.VerificationKind = VerificationMerchantSignature
	_, err = NewClaimEscrow("c", r, p, testNow)
	require.ErrorIs(t, err, ErrInvalidMetadata)

	p = base
	p.Asset.Amount = 0
	_, err = NewClaimEscrow("c", r, p, testNow)
	require.ErrorIs(t, err, ErrInvalidAmount)
}

func TestNewClaimEscrow_CopiesMerchantKey(t *testing.T) {
	r := newTestRegistry(t)

	key := make([]byte, 32)
	key[0] = 7
	e, err := NewClaimEscrow("c", r, ClaimParams{
		ClaimHash:          "digest",
		Asset:              AssetRef{Kind: AssetKindCollectible, ID: "nft-1"},
		PurchaseAmountFiat: 1,
		FiatCurrency:       "EUR",
		VerificationKind:   VerificationMerchantSignature,
		MerchantPublicKey:  key,
	}, testNow)
	require.NoError(t, err)
	require.True(t, e.RequiresAdditionalVerification)

	key[0] = 9
	require.EqualValues(t, 7, e.MerchantPublicKey[0])
}

func TestEffectiveStatus_Boundary(t *testing.T) {
	r := newTestRegistry(t)
	e := newTestClaim(t, r, 1)

	require.Equal(t, StatusPending, e.EffectiveStatus(e.ExpiresAt.Add(-time.Nanosecond)))
	require.Equal(t, StatusExpired, e.EffectiveStatus(e.ExpiresAt))

	// Stored status is untouched by the lazy check
	require.Equal(t, StatusPending, e.Status)

	err := e.RegisterAttempt(e.ExpiresAt)
	require.ErrorIs(t, err, ErrExpired)
	require.Zero(t, e.ClaimAttempts)
}

func TestRegisterAttempt_Cap(t *testing.T) {
	r := newTestRegistry(t)
	e := newTestClaim(t, r, 0)

	for i := 0; i < DefaultMaxClaimAttempts; i++ {
		require.NoError(t, e.RegisterAttempt(testNow))
	}
	require.EqualValues(t, 5, e.ClaimAttempts)
	require.Zero(t, e.RemainingAttempts())

	err := e.RegisterAttempt(testNow)
	require.ErrorIs(t, err, ErrAttemptsExhausted)
	require.Equal(t, KindInvalidAmount, KindOf(err).Family())
	require.EqualValues(t, 5, e.ClaimAttempts)
}

func TestClaim_TerminalStates(t *testing.T) {
	r := newTestRegistry(t)

	e := newTestClaim(t, r, 0)
	require.NoError(t, e.Claim("alice", testNow))
	require.Equal(t, StatusClaimed, e.Status)
	require.Equal(t, "alice", e.Claimer)
	require.Equal(t, testNow, e.ClaimedAt)

	// No resurrection and no second claim
	require.ErrorIs(t, e.Claim("bob", testNow), ErrInvalidMetadata)
	require.ErrorIs(t, e.Cancel("oops", testNow), ErrInvalidMetadata)
	require.ErrorIs(t, e.Extend(1, testNow), ErrInvalidMetadata)
	require.Equal(t, "alice", e.Claimer)

	c := newTestClaim(t, r, 0)
	require.NoError(t, c.Cancel("refund", testNow))
	require.Equal(t, StatusCancelled, c.Status)
	require.ErrorIs(t, c.Extend(1, testNow), ErrInvalidMetadata)
	require.ErrorIs(t, c.RegisterAttempt(testNow), ErrInvalidMetadata)
	require.Empty(t, c.Claimer)
}

func TestExtend(t *testing.T) {
	r := newTestRegistry(t)
	e := newTestClaim(t, r, 1)
	require.NoError(t, e.RegisterAttempt(testNow))

	require.ErrorIs(t, e.Extend(0, testNow), ErrInvalidAmount)
	require.NoError(t, e.Extend(3, testNow))
	require.Equal(t, testNow.Add(4*time.Hour), e.ExpiresAt)
	require.EqualValues(t, 1, e.ClaimAttempts)

	// Elapsed escrows cannot be revived by an extension
	require.ErrorIs(t, e.Extend(1, e.ExpiresAt), ErrExpired)
}

func TestExpire(t *testing.T) {
	r := newTestRegistry(t)
	e := newTestClaim(t, r, 1)

	require.ErrorIs(t, e.Expire(testNow), ErrInvalidMetadata)
	require.NoError(t, e.Expire(e.ExpiresAt))
	require.Equal(t, StatusExpired, e.Status)
	require.ErrorIs(t, e.Expire(e.ExpiresAt), ErrInvalidMetadata)
}

func TestTicketAuthorize(t *testing.T) {
	ticket := NewClaimTicket("t-1", "claim-1", "alice", "vh", testNow, 0)
	require.Equal(t, testNow.Add(TicketLifetime), ticket.ExpiresAt)

	require.NoError(t, ticket.Authorize("claim-1", "alice", testNow))
	require.ErrorIs(t, ticket.Authorize("claim-2", "alice", testNow), ErrInvalidMetadata)
	require.ErrorIs(t, ticket.Authorize("claim-1", "bob", testNow), ErrInvalidMetadata)
	require.ErrorIs(t, ticket.Authorize("claim-1", "alice", ticket.ExpiresAt), ErrInvalidMetadata)
}

func TestErrorKinds(t *testing.T) {
	err := Errorf(KindNotFound, "ticket %s", "x")
	require.True(t, errors.Is(err, ErrNotFound))
	require.False(t, errors.Is(err, ErrInvalidMetadata))
	require.Equal(t, KindNotFound, KindOf(err))
	require.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	require.Equal(t, KindInvalidMetadata, ErrExpired.Kind.Family())
}
