package orders

import (
	"fmt"

	"github.com/angelmondragon/marketplace-fulfillment/pkg/db/models"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-fulfillment/pkg/errors"
)

// State is the (payment, fulfillment) pair an order is in. The two statuses
// only ever move together.
type State struct {
	Payment enums.PaymentStatus
	Order   enums.OrderStatus
}

var (
	StatePending   = State{Payment: enums.PaymentStatusNotPaid, Order: enums.OrderStatusPaymentPending}
	StatePlaced    = State{Payment: enums.PaymentStatusPaid, Order: enums.OrderStatusPlaced}
	StateDelivered = State{Payment: enums.PaymentStatusPaid, Order: enums.OrderStatusDelivered}
	StateCancelled = State{Payment: enums.PaymentStatusCancelled, Order: enums.OrderStatusCancelled}
	StateRefunded  = State{Payment: enums.PaymentStatusRefunded, Order: enums.OrderStatusCancelled}
)

func (s State) String() string {
	return fmt.Sprintf("%s/%s", s.Payment, s.Order)
}

// StateOf reads the current state of an order.
func StateOf(order *models.Order) State {
	return State{Payment: order.PaymentStatus, Order: order.OrderStatus}
}

var transitions = map[State][]State{
	StatePending:   {StatePlaced, StateCancelled},
	StatePlaced:    {StateDelivered, StateRefunded},
	StateDelivered: {StateRefunded},
}

// CanTransition reports whether from -> to is a legal lifecycle step.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CheckTransition returns InvalidState for an illegal step.
func CheckTransition(from, to State) error {
	if CanTransition(from, to) {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeInvalidState, fmt.Sprintf("order cannot move from %s to %s", from, to)).
		WithDetails(map[string]any{"from": from.String(), "to": to.String()})
}

// IsTerminal reports whether no further transition exists.
func (s State) IsTerminal() bool {
	return len(transitions[s]) == 0
}
