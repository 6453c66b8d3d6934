package domain

import "time"

// Category is one label of the fixed spending taxonomy.
type Category string

const (
	CategoryGroceries      Category = "groceries"
	CategoryTransportation Category = "transportation"
	CategoryDiningOut      Category = "dining_out"
	CategoryEntertainment  Category = "entertainment"
	CategoryShopping       Category = "shopping"
	CategoryBills          Category = "bills"
	CategoryOther          Category = "other"
	CategoryIncome         Category = "income"
	CategoryRewards        Category = "rewards"
)

// SpendCategories are the labels the oracle may choose from for outflows.
// Income and rewards are assigned by sign heuristics and never sent to the
// oracle.
var SpendCategories = []Category{
	CategoryGroceries,
	CategoryTransportation,
	CategoryDiningOut,
	CategoryEntertainment,
	CategoryShopping,
	CategoryBills,
	CategoryOther,
}

// MovementKind is the coarse movement classification derived from the
// provider's proprietary bank transaction code. It is stored alongside the
// semantic Category and never replaces it.
type MovementKind string

const (
	MovementDebit    MovementKind = "debit"
	MovementCredit   MovementKind = "credit"
	MovementCash     MovementKind = "cash"
	MovementTransfer MovementKind = "transfer"
	MovementOther    MovementKind = "other"
)

// Transaction is a normalized financial movement. TransactionID is the
// provider identifier and the dedup key; Amount is signed (negative =
// outflow, positive = inflow).
type Transaction struct {
	TransactionID         string
	AccountID             string
	Amount                float64
	Currency              string
	BookingDate           time.Time
	ValueDate             time.Time
	MerchantDescription   string
	ProprietaryCode       string
	MovementKind          MovementKind
	Category              Category
	EntryReference        string
	InternalTransactionID string
	AdditionalInformation string
	CreatedAt             time.Time
}

// EffectiveDate is the booking date when present, otherwise the value date.
func (t Transaction) EffectiveDate() time.Time {
	if !t.BookingDate.IsZero() {
		return t.BookingDate
	}
	return t.ValueDate
}
