/**
 * @description
 * Typed failure taxonomy for the settlement engine. Every operation rejects
 * with one of these before any state is mutated, so a failed call never
 * partially applies. Handlers map them onto HTTP statuses and the keeper
 * decides from them whether a relay is worth retrying.
 */

package domain

import (
	"errors"
	"fmt"
)

// Authorization failures. The middleware rejects before the engine runs.
var (
	ErrOnlyTreasuryManager = errors.New("caller is not the treasury manager")
	ErrOnlyKeeper          = errors.New("caller is not an authorized keeper")
	ErrOnlyOwner           = errors.New("caller is not the owner")
)

// State violations: the call is well-formed but the strategy or record is not
// in a state that permits it.
var (
	ErrStrategyNotActive = errors.New("strategy is not active")
	ErrTransferNotFound  = errors.New("transfer record not found")
)

// Validation failures: malformed input, rejected before side effects.
var (
	ErrZeroAmount     = errors.New("amount must be greater than zero")
	ErrEmptyPrincipal = errors.New("principal identifier must not be empty")
)

// InvalidTransferStateError reports a keeper call against a record that is
// not in the expected prior state. Replayed keeper calls land here rather
// than silently succeeding; that guard is what makes at-least-once relay
// delivery safe.
type InvalidTransferStateError struct {
	TransferID TransferID
	Expected   TransferState
	Actual     TransferState
}

func (e *InvalidTransferStateError) Error() string {
	return fmt.Sprintf("transfer %s is %s, expected %s", e.TransferID, e.Actual, e.Expected)
}

// AmountBelowMinimumError reports a deposit under the bridge provider's floor.
type AmountBelowMinimumError struct {
	Amount  int64
	Minimum int64
}

func (e *AmountBelowMinimumError) Error() string {
	return fmt.Sprintf("amount %d is below the bridge minimum %d", e.Amount, e.Minimum)
}

// InsufficientBalanceError reports a failed economic precondition.
type InsufficientBalanceError struct {
	Requested int64
	Available int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("requested %d exceeds available %d", e.Requested, e.Available)
}
