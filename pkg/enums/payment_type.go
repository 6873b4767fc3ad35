package enums

import "fmt"

// PaymentType classifies a ledger row.
type PaymentType string

const (
	PaymentTypeReceive        PaymentType = "receive"
	PaymentTypeRefund         PaymentType = "refund"
	PaymentTypePayoutToSeller PaymentType = "payout_to_seller"
)

var validPaymentTypes = []PaymentType{
	PaymentTypeReceive,
	PaymentTypeRefund,
	PaymentTypePayoutToSeller,
}

func (t PaymentType) String() string {
	return string(t)
}

// IsValid reports whether the value matches a known ledger type.
func (t PaymentType) IsValid() bool {
	for _, candidate := range validPaymentTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

func ParsePaymentType(value string) (PaymentType, error) {
	for _, candidate := range validPaymentTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment type %q", value)
}

// LedgerStatus is the mutable status column on a ledger row. It is the only
// column ever updated after insert.
type LedgerStatus string

const (
	LedgerStatusCompleted LedgerStatus = "completed"
	LedgerStatusRefunded  LedgerStatus = "refunded"
)

func (s LedgerStatus) IsValid() bool {
	return s == LedgerStatusCompleted || s == LedgerStatusRefunded
}
