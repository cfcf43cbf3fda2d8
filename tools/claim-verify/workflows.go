package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/iotaledger/hive.go/kvstore/mapdb"
	"github.com/iotaledger/hive.go/logger"
	iotago "github.com/iotaledger/iota.go/v3"
	"github.com/iotaledger/iota.go/v3/tpkg"

	"github.com/dueldanov/claimescrow/internal/custody"
	"github.com/dueldanov/claimescrow/internal/escrow"
	"github.com/dueldanov/claimescrow/internal/service"
)

const ok = "ok"

// env is an in-process claim escrow service on an in-memory store with a
// clock the workflows can move forward.
type env struct {
	ctx      context.Context
	log      *StepLogger
	svc      *service.Service
	custody  *custody.Store
	now      time.Time
	merchant iotago.Address
	registry *escrow.Registry
	assets   int
}

func newEnv(log *StepLogger, dataDir string) (*env, error) {
	e := &env{
		ctx: context.Background(),
		log: log,
		now: time.Now().UTC(),
	}

	store := mapdb.NewMapDB()
	custodyStore, err := custody.NewStore(store)
	if err != nil {
		return nil, err
	}
	e.custody = custodyStore

	e.svc, err = service.NewService(logger.NewLogger("ClaimVerify"), store, custodyStore, &service.ServiceConfig{
		DataDir:       dataDir,
		NetworkPrefix: iotago.PrefixMainnet,
		Clock:         func() time.Time { return e.now },
	})
	if err != nil {
		return nil, err
	}

	e.merchant = tpkg.RandEd25519Address()
	output, passed := log.Expect("setup", "CreateRegistry", "Open a registry for the merchant", ok, func() (any, error) {
		return e.svc.CreateRegistry(e.ctx, e.merchant, escrow.RegistryParams{
			MerchantName:       "Verification Shop",
			MerchantID:         "verify-1",
			DefaultExpiryHours: 24,
		})
	})
	if !passed {
		return nil, fmt.Errorf("failed to create registry")
	}
	e.registry = output.(*escrow.Registry)

	return e, nil
}

func (e *env) identity(addr iotago.Address) string {
	return addr.Bech32(iotago.PrefixMainnet)
}

// newClaim mints a fresh collectible to the merchant and escrows it.
func (e *env) newClaim(workflow, code string, customize func(req *service.CreateClaimRequest)) (*escrow.ClaimEscrow, error) {
	e.assets++
	item := custody.Collectible{ObjectID: fmt.Sprintf("%s-item-%d", workflow, e.assets)}
	if err := e.custody.Mint(item, e.identity(e.merchant)); err != nil {
		return nil, err
	}

	req := &service.CreateClaimRequest{
		RegistryID:         e.registry.ID,
		ClaimCode:          code,
		Asset:              item,
		PurchaseAmountFiat: 4999,
		FiatCurrency:       "USD",
	}
	if customize != nil {
		customize(req)
	}

	output, passed := e.log.Expect(workflow, "CreateClaim", "Escrow a collectible under a claim code", ok, func() (any, error) {
		return e.svc.CreateClaim(e.ctx, e.merchant, req)
	})
	if !passed {
		return nil, fmt.Errorf("failed to create claim")
	}

	return output.(*escrow.ClaimEscrow), nil
}

func (e *env) expectOwner(workflow, assetID, owner, purpose string) {
	e.log.Expect(workflow, "OwnerOf", purpose, ok, func() (any, error) {
		current, err := e.custody.OwnerOf(assetID)
		if err != nil {
			return nil, err
		}
		if current != owner {
			return current, escrow.Errorf(escrow.KindUnknown, "asset is held by %s", current)
		}

		return current, nil
	})
}

// runRedeemWorkflow walks the two-phase handshake from purchase to transfer.
func runRedeemWorkflow(e *env) error {
	const workflow = "redeem"
	const code = "REDEEM-8841-XK"

	fmt.Println("\n  Workflow: redeem")

	claim, err := e.newClaim(workflow, code, nil)
	if err != nil {
		return err
	}
	e.expectOwner(workflow, claim.Asset.ID, custody.EscrowAccount(claim.ID), "Asset is held by escrow custody")

	e.log.Expect(workflow, "ClaimExists", "Code is registered", ok, func() (any, error) {
		return e.svc.ClaimExists(e.ctx, e.registry.ID, code)
	})
	e.log.Expect(workflow, "CreateClaim", "Codes are unique per registry", escrow.KindAlreadyExists.String(), func() (any, error) {
		return e.svc.CreateClaim(e.ctx, e.merchant, &service.CreateClaimRequest{
			RegistryID: e.registry.ID,
			ClaimCode:  code,
			Asset:      custody.Collectible{ObjectID: claim.Asset.ID},
		})
	})

	claimant := tpkg.RandEd25519Address()
	output, passed := e.log.Expect(workflow, "InitiateClaim", "Present the correct code", ok, func() (any, error) {
		return e.svc.InitiateClaim(e.ctx, claimant, claim.ID, code, nil)
	})
	if !passed {
		return fmt.Errorf("initiate claim failed")
	}
	ticket := output.(*escrow.ClaimTicket)

	e.log.Expect(workflow, "CompleteClaim", "Tickets are bound to the claimant", escrow.KindInvalidMetadata.String(), func() (any, error) {
		return e.svc.CompleteClaim(e.ctx, tpkg.RandEd25519Address(), ticket.ID)
	})
	e.log.Expect(workflow, "CompleteClaim", "Redeem the ticket", ok, func() (any, error) {
		return e.svc.CompleteClaim(e.ctx, claimant, ticket.ID)
	})
	e.log.Expect(workflow, "CompleteClaim", "Tickets are single use", escrow.KindNotFound.String(), func() (any, error) {
		return e.svc.CompleteClaim(e.ctx, claimant, ticket.ID)
	})
	e.expectOwner(workflow, claim.Asset.ID, e.identity(claimant), "Asset was transferred to the claimant")

	e.log.Expect(workflow, "InitiateClaim", "Claimed escrows cannot be claimed again", escrow.KindInvalidMetadata.String(), func() (any, error) {
		return e.svc.InitiateClaim(e.ctx, claimant, claim.ID, code, nil)
	})

	return nil
}

// runGuessingWorkflow exhausts the attempt budget with wrong codes.
func runGuessingWorkflow(e *env) error {
	const workflow = "guessing"
	const code = "GUESS-ME-1234"

	fmt.Println("\n  Workflow: guessing")

	claim, err := e.newClaim(workflow, code, nil)
	if err != nil {
		return err
	}

	attacker := tpkg.RandEd25519Address()
	for i := 1; i <= escrow.DefaultMaxClaimAttempts; i++ {
		e.log.Expect(workflow, "InitiateClaim", fmt.Sprintf("Wrong code attempt %d", i), escrow.KindInvalidMetadata.String(), func() (any, error) {
			return e.svc.InitiateClaim(e.ctx, attacker, claim.ID, fmt.Sprintf("WRONG-%d", i), nil)
		})
	}

	e.log.Expect(workflow, "InitiateClaim", "Correct code after the budget is spent", escrow.KindAttemptsExhausted.String(), func() (any, error) {
		return e.svc.InitiateClaim(e.ctx, tpkg.RandEd25519Address(), claim.ID, code, nil)
	})
	e.log.Expect(workflow, "ClaimView", "No attempts remain", ok, func() (any, error) {
		view, err := e.svc.ClaimView(e.ctx, claim.ID)
		if err != nil {
			return nil, err
		}
		if view.RemainingAttempts != 0 {
			return view, escrow.Errorf(escrow.KindUnknown, "%d attempts remain", view.RemainingAttempts)
		}

		return view, nil
	})

	return nil
}

// runPINWorkflow checks the PIN second factor.
func runPINWorkflow(e *env) error {
	const workflow = "pin"
	const code = "PIN-PROTECTED-77"
	const pin = "482913"

	fmt.Println("\n  Workflow: pin")

	claim, err := e.newClaim(workflow, code, func(req *service.CreateClaimRequest) {
		req.PIN = pin
	})
	if err != nil {
		return err
	}

	claimant := tpkg.RandEd25519Address()
	e.log.Expect(workflow, "InitiateClaim", "Correct code with the wrong PIN", escrow.KindInvalidMetadata.String(), func() (any, error) {
		return e.svc.InitiateClaim(e.ctx, claimant, claim.ID, code, []byte("000000"))
	})
	output, passed := e.log.Expect(workflow, "InitiateClaim", "Correct code with the right PIN", ok, func() (any, error) {
		return e.svc.InitiateClaim(e.ctx, claimant, claim.ID, code, []byte(pin))
	})
	if !passed {
		return fmt.Errorf("initiate claim with PIN failed")
	}

	e.log.Expect(workflow, "CompleteClaim", "Redeem the ticket", ok, func() (any, error) {
		return e.svc.CompleteClaim(e.ctx, claimant, output.(*escrow.ClaimTicket).ID)
	})

	return nil
}

// runCancelWorkflow cancels an escrow and checks the asset went back.
func runCancelWorkflow(e *env) error {
	const workflow = "cancel"

	fmt.Println("\n  Workflow: cancel")

	claim, err := e.newClaim(workflow, "CANCEL-ME-555", nil)
	if err != nil {
		return err
	}

	e.log.Expect(workflow, "CancelClaim", "Only the authority may cancel", escrow.KindNotAuthorized.String(), func() (any, error) {
		return e.svc.CancelClaim(e.ctx, tpkg.RandEd25519Address(), claim.ID, "not mine")
	})
	e.log.Expect(workflow, "CancelClaim", "Authority cancels the escrow", ok, func() (any, error) {
		return e.svc.CancelClaim(e.ctx, e.merchant, claim.ID, "order refunded")
	})
	e.expectOwner(workflow, claim.Asset.ID, e.identity(e.merchant), "Asset was returned to the authority")

	return nil
}

// runExpireWorkflow lets an escrow run past its deadline and expires it.
func runExpireWorkflow(e *env) error {
	const workflow = "expire"
	const code = "EXPIRE-SOON-42"

	fmt.Println("\n  Workflow: expire")

	claim, err := e.newClaim(workflow, code, func(req *service.CreateClaimRequest) {
		req.CustomExpiryHours = 1
	})
	if err != nil {
		return err
	}

	e.log.Expect(workflow, "ExpireClaim", "Escrows cannot expire early", escrow.KindInvalidMetadata.String(), func() (any, error) {
		return e.svc.ExpireClaim(e.ctx, claim.ID)
	})

	e.now = e.now.Add(2 * time.Hour)

	e.log.Expect(workflow, "InitiateClaim", "Elapsed escrows reject claims", escrow.KindExpired.String(), func() (any, error) {
		return e.svc.InitiateClaim(e.ctx, tpkg.RandEd25519Address(), claim.ID, code, nil)
	})
	e.log.Expect(workflow, "Sweep", "Sweeper expires elapsed escrows", ok, func() (any, error) {
		result, err := e.svc.Sweep(e.ctx)
		if err != nil {
			return nil, err
		}
		if result.Expired == 0 {
			return result, escrow.Errorf(escrow.KindUnknown, "nothing was expired")
		}

		return result, nil
	})
	e.expectOwner(workflow, claim.Asset.ID, e.identity(e.merchant), "Asset was returned to the authority")

	return nil
}

var workflows = map[string]func(e *env) error{
	"redeem":   runRedeemWorkflow,
	"guessing": runGuessingWorkflow,
	"pin":      runPINWorkflow,
	"cancel":   runCancelWorkflow,
	"expire":   runExpireWorkflow,
}

// workflowOrder keeps "all" deterministic. expire moves the clock and runs last.
var workflowOrder = []string{"redeem", "guessing", "pin", "cancel", "expire"}

func runWorkflows(log *StepLogger, names []string) error {
	dataDir, err := os.MkdirTemp("", "claim-verify")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dataDir)

	e, err := newEnv(log, dataDir)
	if err != nil {
		return err
	}

	for _, name := range names {
		if err := workflows[name](e); err != nil {
			return fmt.Errorf("workflow %s: %w", name, err)
		}
	}

	e.log.Expect("summary", "Stats", "Registry counters", ok, func() (any, error) {
		return e.svc.Stats(e.ctx, e.registry.ID)
	})

	return nil
}
