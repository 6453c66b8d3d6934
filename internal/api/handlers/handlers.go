package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/referlut/referlut-api/internal/api/middleware"
	"github.com/referlut/referlut-api/internal/bankdata"
	"github.com/referlut/referlut-api/internal/domain"
	"github.com/referlut/referlut-api/internal/insights"
	"github.com/referlut/referlut-api/internal/stats"
)

// BankClient is the slice of the provider client the linking and balance
// endpoints use.
type BankClient interface {
	ListInstitutions(ctx context.Context, country string) ([]bankdata.Institution, error)
	CreateRequisition(ctx context.Context, institutionID, redirectURL, reference string) (bankdata.Requisition, error)
	GetAccountBalances(ctx context.Context, accountID string) ([]bankdata.Balance, error)
}

// AccountLinker resolves a completed linking session into stored accounts.
type AccountLinker interface {
	IngestAccounts(ctx context.Context, requisitionID, userID string) ([]domain.Account, error)
}

// RequisitionStore persists linking sessions.
type RequisitionStore interface {
	InsertRequisition(ctx context.Context, r domain.Requisition) error
	UpdateRequisitionStatus(ctx context.Context, requisitionID, status string) error
	LatestRequisitionByUser(ctx context.Context, userID string) (domain.Requisition, error)
}

// AccountReader lists a user's linked accounts.
type AccountReader interface {
	ListAccountsByUser(ctx context.Context, userID string) ([]domain.Account, error)
}

// TransactionReader lists a user's stored transactions.
type TransactionReader interface {
	ListTransactionsByUser(ctx context.Context, userID string) ([]domain.Transaction, error)
}

// SnapshotStore caches aggregate statistics per user.
type SnapshotStore interface {
	UpsertStatsSnapshot(ctx context.Context, snap domain.StatsSnapshot) error
	GetStatsSnapshot(ctx context.Context, userID string) (domain.StatsSnapshot, error)
}

// FetchLimiter gates provider calls made directly from handlers.
type FetchLimiter interface {
	CanFetch(ctx context.Context, accountID string, scope domain.FetchScope) (bool, error)
	LogFetch(ctx context.Context, accountID string, scope domain.FetchScope)
}

// BankHandler handles institution listing and the account-linking flow.
type BankHandler struct {
	client       BankClient
	linker       AccountLinker
	requisitions RequisitionStore
	country      string
	log          zerolog.Logger
}

// NewBankHandler creates a new bank handler.
func NewBankHandler(client BankClient, linker AccountLinker, requisitions RequisitionStore, country string, log zerolog.Logger) *BankHandler {
	return &BankHandler{
		client:       client,
		linker:       linker,
		requisitions: requisitions,
		country:      country,
		log:          log,
	}
}

// ListInstitutions handles GET /bank/institutions
func (h *BankHandler) ListInstitutions(w http.ResponseWriter, r *http.Request) {
	country := r.URL.Query().Get("country")
	if country == "" {
		country = h.country
	}

	institutions, err := h.client.ListInstitutions(r.Context(), country)
	if err != nil {
		h.log.Error().Err(err).Str("country", country).Msg("Failed to list institutions")
		middleware.WriteError(w, http.StatusBadGateway, "Failed to list institutions")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"institutions": institutions,
		"count":        len(institutions),
	})
}

// InitiateLink handles POST /bank/link/initiate
func (h *BankHandler) InitiateLink(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r)
	if userID == "" {
		middleware.WriteError(w, http.StatusUnauthorized, "user_id is required")
		return
	}

	var req struct {
		InstitutionID string `json:"institution_id"`
		RedirectURL   string `json:"redirect_url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.InstitutionID == "" || req.RedirectURL == "" {
		middleware.WriteError(w, http.StatusBadRequest, "institution_id and redirect_url are required")
		return
	}

	ctx := r.Context()
	reference := uuid.New().String()
	requisition, err := h.client.CreateRequisition(ctx, req.InstitutionID, req.RedirectURL, reference)
	if err != nil {
		h.log.Error().Err(err).Str("institution_id", req.InstitutionID).Msg("Failed to create linking session")
		middleware.WriteError(w, http.StatusBadGateway, "Failed to create linking session")
		return
	}

	err = h.requisitions.InsertRequisition(ctx, domain.Requisition{
		RequisitionID: requisition.ID,
		UserID:        userID,
		InstitutionID: req.InstitutionID,
		Status:        "CR",
	})
	if err != nil {
		h.log.Error().Err(err).Str("requisition_id", requisition.ID).Msg("Failed to persist linking session")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to persist linking session")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]string{
		"requisition_id": requisition.ID,
		"consent_url":    requisition.Link,
	})
}

// LinkCallback handles GET /bank/link/callback
//
// Invoked after the user grants consent at the bank. Resolves the session's
// accounts, stores them and enqueues each for transaction import.
func (h *BankHandler) LinkCallback(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r)
	if userID == "" {
		middleware.WriteError(w, http.StatusUnauthorized, "user_id is required")
		return
	}

	ctx := r.Context()
	requisitionID := r.URL.Query().Get("requisition_id")
	if requisitionID == "" {
		// The provider redirect carries only the opaque reference, not the
		// requisition id, so the session being completed is the user's most
		// recently created one.
		session, err := h.requisitions.LatestRequisitionByUser(ctx, userID)
		if err != nil {
			h.log.Error().Err(err).Str("user_id", userID).Msg("No linking session for callback")
			middleware.WriteError(w, http.StatusNotFound, "No linking session found for this user")
			return
		}
		requisitionID = session.RequisitionID
	}

	accounts, err := h.linker.IngestAccounts(ctx, requisitionID, userID)
	if err != nil {
		h.log.Error().Err(err).Str("requisition_id", requisitionID).Msg("Account linking failed")
		middleware.WriteError(w, http.StatusBadGateway, "Account linking failed")
		return
	}

	if err := h.requisitions.UpdateRequisitionStatus(ctx, requisitionID, "LN"); err != nil {
		h.log.Error().Err(err).Str("requisition_id", requisitionID).Msg("Failed to mark session linked")
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"accounts": accountViews(accounts),
		"count":    len(accounts),
	})
}

// AccountsHandler handles account listing and balance lookups.
type AccountsHandler struct {
	store   AccountReader
	client  BankClient
	limiter FetchLimiter
	log     zerolog.Logger
}

// NewAccountsHandler creates a new accounts handler.
func NewAccountsHandler(store AccountReader, client BankClient, limiter FetchLimiter, log zerolog.Logger) *AccountsHandler {
	return &AccountsHandler{store: store, client: client, limiter: limiter, log: log}
}

// ListAccounts handles GET /accounts
func (h *AccountsHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r)
	if userID == "" {
		middleware.WriteError(w, http.StatusUnauthorized, "user_id is required")
		return
	}

	accounts, err := h.store.ListAccountsByUser(r.Context(), userID)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("Failed to list accounts")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list accounts")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"accounts": accountViews(accounts),
		"count":    len(accounts),
	})
}

// AccountBalances handles GET /accounts/{accountID}/balances
func (h *AccountsHandler) AccountBalances(w http.ResponseWriter, r *http.Request, accountID string) {
	userID := middleware.UserID(r)
	if userID == "" {
		middleware.WriteError(w, http.StatusUnauthorized, "user_id is required")
		return
	}

	ctx := r.Context()
	if !h.ownsAccount(ctx, userID, accountID, w) {
		return
	}

	allowed, err := h.limiter.CanFetch(ctx, accountID, domain.ScopeBalances)
	if err != nil {
		h.log.Error().Err(err).Str("account_id", accountID).Msg("Balance quota check failed")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to fetch balances")
		return
	}
	if !allowed {
		middleware.WriteError(w, http.StatusTooManyRequests, "Balance fetch quota exhausted, try again later")
		return
	}

	balances, err := h.client.GetAccountBalances(ctx, accountID)
	if err != nil {
		h.log.Error().Err(err).Str("account_id", accountID).Msg("Balance fetch failed")
		middleware.WriteError(w, http.StatusBadGateway, "Failed to fetch balances")
		return
	}
	h.limiter.LogFetch(ctx, accountID, domain.ScopeBalances)

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"account_id": accountID,
		"balances":   balances,
	})
}

// ownsAccount verifies the account belongs to the caller, writing the error
// response itself. A foreign account id must not reach the provider or
// consume that account's fetch quota.
func (h *AccountsHandler) ownsAccount(ctx context.Context, userID, accountID string, w http.ResponseWriter) bool {
	accounts, err := h.store.ListAccountsByUser(ctx, userID)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("Account ownership check failed")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to fetch balances")
		return false
	}
	for _, a := range accounts {
		if a.AccountID == accountID {
			return true
		}
	}
	middleware.WriteError(w, http.StatusNotFound, "Account not found")
	return false
}

// TransactionsHandler handles transaction listing.
type TransactionsHandler struct {
	store TransactionReader
	log   zerolog.Logger
}

// NewTransactionsHandler creates a new transactions handler.
func NewTransactionsHandler(store TransactionReader, log zerolog.Logger) *TransactionsHandler {
	return &TransactionsHandler{store: store, log: log}
}

// ListTransactions handles GET /transactions
func (h *TransactionsHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r)
	if userID == "" {
		middleware.WriteError(w, http.StatusUnauthorized, "user_id is required")
		return
	}

	transactions, err := h.store.ListTransactionsByUser(r.Context(), userID)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("Failed to list transactions")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list transactions")
		return
	}

	views := make([]transactionView, 0, len(transactions))
	for _, t := range transactions {
		views = append(views, newTransactionView(t))
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"transactions": views,
		"count":        len(views),
	})
}

// StatsHandler serves aggregate statistics. Upstream ingestion failures
// degrade responses to cached or empty data, never to a 5xx.
type StatsHandler struct {
	transactions TransactionReader
	snapshots    SnapshotStore
	aggregator   *stats.Aggregator
	log          zerolog.Logger
	now          func() time.Time
}

// NewStatsHandler creates a new statistics handler.
func NewStatsHandler(transactions TransactionReader, snapshots SnapshotStore, aggregator *stats.Aggregator, log zerolog.Logger) *StatsHandler {
	return &StatsHandler{
		transactions: transactions,
		snapshots:    snapshots,
		aggregator:   aggregator,
		log:          log,
		now:          time.Now,
	}
}

// Summary handles GET /statistics/summary
func (h *StatsHandler) Summary(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r)
	if userID == "" {
		middleware.WriteError(w, http.StatusUnauthorized, "user_id is required")
		return
	}

	statistics := h.statisticsFor(r.Context(), userID)
	middleware.WriteJSON(w, http.StatusOK, statisticsView(statistics))
}

// Chart handles GET /statistics/chart
//
// Serves the weekly spend-only series for the dashboard chart. Weekly
// buckets hold outflow magnitudes only; inflows are excluded.
func (h *StatsHandler) Chart(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r)
	if userID == "" {
		middleware.WriteError(w, http.StatusUnauthorized, "user_id is required")
		return
	}

	statistics := h.statisticsFor(r.Context(), userID)
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"weekly_spending": statistics.WeeklySpending,
	})
}

// statisticsFor recomputes the user's statistics and refreshes the stored
// snapshot. When the transaction store is unavailable it falls back to the
// last snapshot, then to empty statistics.
func (h *StatsHandler) statisticsFor(ctx context.Context, userID string) domain.Statistics {
	transactions, err := h.transactions.ListTransactionsByUser(ctx, userID)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("Transaction read failed, falling back to snapshot")
		if snap, snapErr := h.snapshots.GetStatsSnapshot(ctx, userID); snapErr == nil {
			return snap.Stats
		}
		return emptyStatistics()
	}

	statistics := h.aggregator.Aggregate(transactions)

	err = h.snapshots.UpsertStatsSnapshot(ctx, domain.StatsSnapshot{
		UserID:      userID,
		Stats:       statistics,
		LastUpdated: h.now(),
	})
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("Snapshot refresh failed")
	}
	return statistics
}

// AIHandler serves generated insights, tips and deal suggestions. The
// oracle is best-effort; responses degrade to defaults rather than failing.
type AIHandler struct {
	transactions TransactionReader
	aggregator   *stats.Aggregator
	insights     *insights.Service
	log          zerolog.Logger
}

// NewAIHandler creates a new AI handler.
func NewAIHandler(transactions TransactionReader, aggregator *stats.Aggregator, svc *insights.Service, log zerolog.Logger) *AIHandler {
	return &AIHandler{transactions: transactions, aggregator: aggregator, insights: svc, log: log}
}

// Insights handles POST /ai/insights
func (h *AIHandler) Insights(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r)
	if userID == "" {
		middleware.WriteError(w, http.StatusUnauthorized, "user_id is required")
		return
	}

	ctx := r.Context()
	transactions, err := h.transactions.ListTransactionsByUser(ctx, userID)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("Transaction read failed, serving default insights")
		transactions = nil
	}
	statistics := h.aggregator.Aggregate(transactions)

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"insights":        h.insights.SpendingInsights(ctx, statistics),
		"expert_tips":     h.insights.ExpertTips(ctx, statistics),
		"category_trends": insights.AnalyzeCategoryTrends(transactions),
	})
}

// Deals handles POST /ai/deals
func (h *AIHandler) Deals(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query string `json:"query"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Query == "" {
		middleware.WriteError(w, http.StatusBadRequest, "query is required")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]string{
		"deals": h.insights.DealSuggestions(r.Context(), req.Query),
	})
}

// Response shapes.

type accountView struct {
	AccountID     string `json:"account_id"`
	InstitutionID string `json:"institution_id"`
	IBAN          string `json:"iban,omitempty"`
	OwnerName     string `json:"owner_name,omitempty"`
	DisplayName   string `json:"display_name,omitempty"`
	Status        string `json:"status,omitempty"`
	Currency      string `json:"currency"`
}

func accountViews(accounts []domain.Account) []accountView {
	views := make([]accountView, 0, len(accounts))
	for _, a := range accounts {
		views = append(views, accountView{
			AccountID:     a.AccountID,
			InstitutionID: a.InstitutionID,
			IBAN:          a.IBAN,
			OwnerName:     a.OwnerName,
			DisplayName:   a.DisplayName,
			Status:        a.Status,
			Currency:      a.Currency,
		})
	}
	return views
}

type transactionView struct {
	TransactionID string  `json:"transaction_id"`
	AccountID     string  `json:"account_id"`
	Amount        float64 `json:"amount"`
	Currency      string  `json:"currency"`
	BookingDate   string  `json:"booking_date,omitempty"`
	ValueDate     string  `json:"value_date,omitempty"`
	Merchant      string  `json:"merchant,omitempty"`
	MovementKind  string  `json:"movement_kind"`
	Category      string  `json:"category"`
}

func newTransactionView(t domain.Transaction) transactionView {
	v := transactionView{
		TransactionID: t.TransactionID,
		AccountID:     t.AccountID,
		Amount:        t.Amount,
		Currency:      t.Currency,
		Merchant:      t.MerchantDescription,
		MovementKind:  string(t.MovementKind),
		Category:      string(t.Category),
	}
	if !t.BookingDate.IsZero() {
		v.BookingDate = t.BookingDate.Format("2006-01-02")
	}
	if !t.ValueDate.IsZero() {
		v.ValueDate = t.ValueDate.Format("2006-01-02")
	}
	return v
}

type statsView struct {
	TotalSpending    float64            `json:"total_spending"`
	TotalIncome      float64            `json:"total_income"`
	CategorySpending map[string]float64 `json:"category_spending"`
	MonthlySpending  map[string]float64 `json:"monthly_spending"`
	WeeklySpending   map[string]float64 `json:"weekly_spending"`
	TopMerchants     []merchantView     `json:"top_merchants"`
}

type merchantView struct {
	Merchant string  `json:"merchant"`
	Amount   float64 `json:"amount"`
}

func statisticsView(s domain.Statistics) statsView {
	merchants := make([]merchantView, 0, len(s.TopMerchants))
	for _, m := range s.TopMerchants {
		merchants = append(merchants, merchantView{Merchant: m.Merchant, Amount: m.Amount})
	}
	return statsView{
		TotalSpending:    s.TotalSpending,
		TotalIncome:      s.TotalIncome,
		CategorySpending: s.CategorySpending,
		MonthlySpending:  s.MonthlySpending,
		WeeklySpending:   s.WeeklySpending,
		TopMerchants:     merchants,
	}
}

func emptyStatistics() domain.Statistics {
	return domain.Statistics{
		CategorySpending: map[string]float64{},
		MonthlySpending:  map[string]float64{},
		WeeklySpending:   map[string]float64{},
		TopMerchants:     []domain.MerchantTotal{},
	}
}
