package bankdata

// Institution is one bank selectable for account linking.
type Institution struct {
	ID                   string   `json:"id"`
	Name                 string   `json:"name"`
	BIC                  string   `json:"bic"`
	TransactionTotalDays string   `json:"transaction_total_days"`
	Countries            []string `json:"countries"`
	Logo                 string   `json:"logo"`
}

// Requisition is a consent-flow session with the provider. Link is the URL
// the end user visits to grant access; Accounts is populated once the
// session reaches status "LN".
type Requisition struct {
	ID            string   `json:"id"`
	Status        string   `json:"status"`
	InstitutionID string   `json:"institution_id"`
	Link          string   `json:"link"`
	Reference     string   `json:"reference"`
	Accounts      []string `json:"accounts"`
}

// AccountMetadata is the provider's top-level account record.
type AccountMetadata struct {
	ID            string `json:"id"`
	IBAN          string `json:"iban"`
	BBAN          string `json:"bban"`
	InstitutionID string `json:"institution_id"`
	Status        string `json:"status"`
	OwnerName     string `json:"owner_name"`
	Name          string `json:"name"`
}

// AccountDetails carries the detail fields not present in the metadata
// record, most importantly the currency.
type AccountDetails struct {
	Currency  string `json:"currency"`
	OwnerName string `json:"ownerName"`
	Name      string `json:"name"`
	Product   string `json:"product"`
}

// Balance is one balance figure reported by the provider.
type Balance struct {
	BalanceAmount Amount `json:"balanceAmount"`
	BalanceType   string `json:"balanceType"`
	ReferenceDate string `json:"referenceDate"`
}

// Amount is a decimal amount as the provider serializes it: the value is a
// string to avoid float truncation on the wire.
type Amount struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

// RawTransaction is one transaction record exactly as the provider returns
// it. Normalization into the domain type happens in the ingestor.
type RawTransaction struct {
	TransactionID                     string `json:"transactionId"`
	BookingDate                       string `json:"bookingDate"`
	ValueDate                         string `json:"valueDate"`
	TransactionAmount                 Amount `json:"transactionAmount"`
	RemittanceInformationUnstructured string `json:"remittanceInformationUnstructured"`
	ProprietaryBankTransactionCode    string `json:"proprietaryBankTransactionCode"`
	InternalTransactionID             string `json:"internalTransactionId"`
	EntryReference                    string `json:"entryReference"`
	AdditionalInformation             string `json:"additionalInformation"`
}

// TransactionFeed is the provider's two-part transaction listing: settled
// ("booked") and not-yet-settled ("pending") movements.
type TransactionFeed struct {
	Booked  []RawTransaction `json:"booked"`
	Pending []RawTransaction `json:"pending"`
}
