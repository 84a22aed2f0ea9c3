package model

import (
	"fmt"
	"math"
	"time"

	"stockledger-api/pkg/apierror"
)

// MaxStock is the largest stock level or quantity any backend can hold.
const MaxStock = math.MaxInt32

// TransactionKind is the kind of a stock-changing event.
type TransactionKind string

const (
	TransactionIn         TransactionKind = "IN"
	TransactionOut        TransactionKind = "OUT"
	TransactionAdjustment TransactionKind = "ADJUSTMENT"
)

func (k TransactionKind) IsValid() bool {
	switch k {
	case TransactionIn, TransactionOut, TransactionAdjustment:
		return true
	}
	return false
}

// Apply returns the stock that results from applying quantity of kind k to previous.
// IN and OUT treat quantity as a strictly positive delta; ADJUSTMENT treats it as the
// absolute target level, which may be zero but not negative.
func (k TransactionKind) Apply(previous, quantity int) (int, error) {
	switch k {
	case TransactionIn, TransactionOut:
		if quantity <= 0 {
			return 0, apierror.InvalidInput("quantity must be positive",
				apierror.FieldError{Field: "quantity", Message: "must be greater than 0"})
		}
	case TransactionAdjustment:
		if quantity < 0 {
			return 0, apierror.InvalidInput("adjustment target cannot be negative",
				apierror.FieldError{Field: "quantity", Message: "must be 0 or greater"})
		}
	default:
		return 0, apierror.InvalidInput(fmt.Sprintf("unknown transaction type %q", k),
			apierror.FieldError{Field: "transaction_type", Message: "must be one of IN OUT ADJUSTMENT"})
	}
	if quantity > MaxStock {
		return 0, apierror.InvalidInput("quantity too large",
			apierror.FieldError{Field: "quantity", Message: fmt.Sprintf("must be at most %d", MaxStock)})
	}

	switch k {
	case TransactionIn:
		if quantity > MaxStock-previous {
			return 0, apierror.InvalidInput(
				fmt.Sprintf("stock would exceed %d: requested %d, available %d", MaxStock, quantity, previous),
				apierror.FieldError{Field: "quantity", Message: fmt.Sprintf("resulting stock must be at most %d", MaxStock)})
		}
		return previous + quantity, nil
	case TransactionOut:
		next := previous - quantity
		if next < 0 {
			return 0, apierror.InsufficientStock(
				fmt.Sprintf("insufficient stock: requested %d, available %d", quantity, previous))
		}
		return next, nil
	default:
		return quantity, nil
	}
}

// Transaction is an immutable stock-change record.
type Transaction struct {
	ID            int64           `json:"id"`
	ItemID        int64           `json:"item_id"`
	Kind          TransactionKind `json:"transaction_type"`
	Quantity      int             `json:"quantity"`
	PreviousStock int             `json:"previous_stock"`
	NewStock      int             `json:"new_stock"`
	Reason        *string         `json:"reason"`
	PerformedBy   *string         `json:"performed_by"`
	Timestamp     time.Time       `json:"timestamp"`
}

// TransactionRequest is a caller's request to change an item's stock.
type TransactionRequest struct {
	ItemID      int64           `json:"item_id"`
	Kind        TransactionKind `json:"transaction_type"`
	Quantity    int             `json:"quantity"`
	Reason      *string         `json:"reason,omitempty"`
	PerformedBy *string         `json:"performed_by,omitempty"`
}
