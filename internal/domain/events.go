/**
 * @description
 * Event payloads published to the message broker for off-chain indexers.
 * Field sets are stable; indexers depend on them bit-exactly. Each payload
 * additionally carries an event id and emission timestamp so consumers can
 * dedupe redelivered messages.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Routing keys for strategy events on the treasury events exchange.
const (
	EventsExchange = "treasury.events"

	RoutingKeyDepositInitiated    = "strategy.deposit.initiated"
	RoutingKeyDepositConfirmed    = "strategy.deposit.confirmed"
	RoutingKeyWithdrawalInitiated = "strategy.withdrawal.initiated"
	RoutingKeyWithdrawalCompleted = "strategy.withdrawal.completed"
	RoutingKeyRemoteValueUpdated  = "strategy.value.updated"
)

// DepositInitiatedEvent is emitted when capital leaves the home domain.
type DepositInitiatedEvent struct {
	EventID    uuid.UUID  `json:"event_id"`
	TransferID TransferID `json:"transfer_id"`
	Amount     int64      `json:"amount"`
	Timestamp  time.Time  `json:"timestamp"`
}

// DepositConfirmedEvent is emitted when a keeper reconciles a deposit.
type DepositConfirmedEvent struct {
	EventID      uuid.UUID  `json:"event_id"`
	TransferID   TransferID `json:"transfer_id"`
	Amount       int64      `json:"amount"`
	RemoteShares int64      `json:"remote_shares"`
	Timestamp    time.Time  `json:"timestamp"`
}

// WithdrawalInitiatedEvent is emitted when a withdrawal intent is recorded.
// The keeper consumes it to drive the remote redemption leg.
type WithdrawalInitiatedEvent struct {
	EventID    uuid.UUID  `json:"event_id"`
	TransferID TransferID `json:"transfer_id"`
	Amount     int64      `json:"amount"`
	Timestamp  time.Time  `json:"timestamp"`
}

// WithdrawalCompletedEvent is emitted when returned funds reach the manager.
type WithdrawalCompletedEvent struct {
	EventID    uuid.UUID  `json:"event_id"`
	TransferID TransferID `json:"transfer_id"`
	Amount     int64      `json:"amount"`
	Timestamp  time.Time  `json:"timestamp"`
}

// RemoteValueUpdatedEvent is emitted on every mark-to-market report.
type RemoteValueUpdatedEvent struct {
	EventID   uuid.UUID `json:"event_id"`
	OldValue  int64     `json:"old_value"`
	NewValue  int64     `json:"new_value"`
	Timestamp time.Time `json:"timestamp"`
}

// BridgeDeliveryEvent is the bridge provider's notification that a transfer
// reached its destination domain. The keeper consumes these and relays them
// into the engine's confirmation calls.
type BridgeDeliveryEvent struct {
	TransferID TransferID `json:"transfer_id"`
	Amount     int64      `json:"amount"`
	Direction  string     `json:"direction"` // "outbound" (home->remote) or "return"
	Timestamp  time.Time  `json:"timestamp"`
}

// Routing keys the bridge provider publishes deliveries under.
const (
	BridgeExchange                    = "bridge.events"
	RoutingKeyBridgeOutboundDelivered = "bridge.delivery.outbound"
	RoutingKeyBridgeReturnDelivered   = "bridge.delivery.return"
)
