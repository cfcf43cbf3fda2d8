package service

import (
	"time"

	"github.com/iotaledger/hive.go/runtime/event"

	"github.com/dueldanov/claimescrow/internal/escrow"
)

// Operation names a state changing service call.
type Operation string

const (
	OpCreateRegistry Operation = "create_registry"
	OpUpdatePolicy   Operation = "update_policy"
	OpCreateClaim    Operation = "create_claim"
	OpInitiateClaim  Operation = "initiate_claim"
	OpCompleteClaim  Operation = "complete_claim"
	OpCancelClaim    Operation = "cancel_claim"
	OpExtendClaim    Operation = "extend_claim"
	OpExpireClaim    Operation = "expire_claim"
)

// OperationEvent describes the outcome of one operation. Claim is a snapshot
// taken after the operation and is nil when the escrow could not be loaded.
type OperationEvent struct {
	Operation  Operation
	Caller     string
	RegistryID string
	ClaimID    string
	Claim      *escrow.ClaimEscrow
	Err        error
	At         time.Time
}

// Succeeded reports whether the operation took effect.
func (e *OperationEvent) Succeeded() bool {
	return e.Err == nil
}

// Events are triggered after every state changing call, successful or not.
type Events struct {
	Operation *event.Event1[*OperationEvent]
	// Swept fires after each completed sweeper pass.
	Swept *event.Event1[*SweepResult]
}

func newEvents() *Events {
	return &Events{
		Operation: event.New1[*OperationEvent](),
		Swept:     event.New1[*SweepResult](),
	}
}
