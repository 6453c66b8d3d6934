package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/referlut/referlut-api/internal/api/middleware"
	"github.com/referlut/referlut-api/internal/bankdata"
	"github.com/referlut/referlut-api/internal/domain"
	"github.com/referlut/referlut-api/internal/insights"
	"github.com/referlut/referlut-api/internal/stats"
	"github.com/referlut/referlut-api/internal/store"
)

type mockBankClient struct {
	ListInstitutionsFunc   func(ctx context.Context, country string) ([]bankdata.Institution, error)
	CreateRequisitionFunc  func(ctx context.Context, institutionID, redirectURL, reference string) (bankdata.Requisition, error)
	GetAccountBalancesFunc func(ctx context.Context, accountID string) ([]bankdata.Balance, error)
}

func (m *mockBankClient) ListInstitutions(ctx context.Context, country string) ([]bankdata.Institution, error) {
	if m.ListInstitutionsFunc != nil {
		return m.ListInstitutionsFunc(ctx, country)
	}
	return nil, nil
}

func (m *mockBankClient) CreateRequisition(ctx context.Context, institutionID, redirectURL, reference string) (bankdata.Requisition, error) {
	if m.CreateRequisitionFunc != nil {
		return m.CreateRequisitionFunc(ctx, institutionID, redirectURL, reference)
	}
	return bankdata.Requisition{}, nil
}

func (m *mockBankClient) GetAccountBalances(ctx context.Context, accountID string) ([]bankdata.Balance, error) {
	if m.GetAccountBalancesFunc != nil {
		return m.GetAccountBalancesFunc(ctx, accountID)
	}
	return nil, nil
}

type mockLinker struct {
	IngestAccountsFunc func(ctx context.Context, requisitionID, userID string) ([]domain.Account, error)
}

func (m *mockLinker) IngestAccounts(ctx context.Context, requisitionID, userID string) ([]domain.Account, error) {
	if m.IngestAccountsFunc != nil {
		return m.IngestAccountsFunc(ctx, requisitionID, userID)
	}
	return nil, nil
}

type memRequisitionStore struct {
	inserted []domain.Requisition
	statuses map[string]string
}

func newMemRequisitionStore() *memRequisitionStore {
	return &memRequisitionStore{statuses: make(map[string]string)}
}

func (m *memRequisitionStore) InsertRequisition(_ context.Context, r domain.Requisition) error {
	m.inserted = append(m.inserted, r)
	m.statuses[r.RequisitionID] = r.Status
	return nil
}

func (m *memRequisitionStore) UpdateRequisitionStatus(_ context.Context, requisitionID, status string) error {
	m.statuses[requisitionID] = status
	return nil
}

func (m *memRequisitionStore) LatestRequisitionByUser(_ context.Context, userID string) (domain.Requisition, error) {
	for i := len(m.inserted) - 1; i >= 0; i-- {
		if m.inserted[i].UserID == userID {
			return m.inserted[i], nil
		}
	}
	return domain.Requisition{}, store.ErrNotFound
}

type mockAccountReader struct {
	accounts []domain.Account
	err      error
}

func (m *mockAccountReader) ListAccountsByUser(_ context.Context, _ string) ([]domain.Account, error) {
	return m.accounts, m.err
}

type mockTransactionReader struct {
	transactions []domain.Transaction
	err          error
}

func (m *mockTransactionReader) ListTransactionsByUser(_ context.Context, _ string) ([]domain.Transaction, error) {
	return m.transactions, m.err
}

type memSnapshotStore struct {
	snapshots map[string]domain.StatsSnapshot
}

func newMemSnapshotStore() *memSnapshotStore {
	return &memSnapshotStore{snapshots: make(map[string]domain.StatsSnapshot)}
}

func (m *memSnapshotStore) UpsertStatsSnapshot(_ context.Context, snap domain.StatsSnapshot) error {
	m.snapshots[snap.UserID] = snap
	return nil
}

func (m *memSnapshotStore) GetStatsSnapshot(_ context.Context, userID string) (domain.StatsSnapshot, error) {
	snap, ok := m.snapshots[userID]
	if !ok {
		return domain.StatsSnapshot{}, store.ErrNotFound
	}
	return snap, nil
}

type mockHandlerLimiter struct {
	allow  bool
	logged int
}

func (m *mockHandlerLimiter) CanFetch(_ context.Context, _ string, _ domain.FetchScope) (bool, error) {
	return m.allow, nil
}

func (m *mockHandlerLimiter) LogFetch(_ context.Context, _ string, _ domain.FetchScope) {
	m.logged++
}

// authedRequest builds a request that has passed the auth middleware.
func authedRequest(t *testing.T, method, target, userID string, body string) *http.Request {
	t.Helper()
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		r = httptest.NewRequest(method, target, nil)
	}
	if userID != "" {
		r.Header.Set("X-User-ID", userID)
	}

	var authed *http.Request
	middleware.Auth(http.HandlerFunc(func(_ http.ResponseWriter, req *http.Request) {
		authed = req
	})).ServeHTTP(httptest.NewRecorder(), r)
	return authed
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return body
}

func TestInitiateLinkPersistsSession(t *testing.T) {
	client := &mockBankClient{
		CreateRequisitionFunc: func(_ context.Context, institutionID, redirectURL, reference string) (bankdata.Requisition, error) {
			if reference == "" {
				t.Error("reference is empty")
			}
			return bankdata.Requisition{ID: "req-1", Link: "https://bank.example/consent", InstitutionID: institutionID}, nil
		},
	}
	requisitions := newMemRequisitionStore()
	h := NewBankHandler(client, &mockLinker{}, requisitions, "GB", zerolog.Nop())

	rec := httptest.NewRecorder()
	req := authedRequest(t, http.MethodPost, "/bank/link/initiate", "user-1",
		`{"institution_id":"REVOLUT_GB","redirect_url":"https://app.example/callback"}`)
	h.InitiateLink(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["requisition_id"] != "req-1" || body["consent_url"] != "https://bank.example/consent" {
		t.Errorf("body = %v", body)
	}
	if len(requisitions.inserted) != 1 || requisitions.inserted[0].Status != "CR" {
		t.Errorf("requisition not persisted as created: %+v", requisitions.inserted)
	}
	if requisitions.inserted[0].UserID != "user-1" {
		t.Errorf("requisition user = %q, want user-1", requisitions.inserted[0].UserID)
	}
}

func TestInitiateLinkRequiresUser(t *testing.T) {
	h := NewBankHandler(&mockBankClient{}, &mockLinker{}, newMemRequisitionStore(), "GB", zerolog.Nop())

	rec := httptest.NewRecorder()
	req := authedRequest(t, http.MethodPost, "/bank/link/initiate", "", `{"institution_id":"X","redirect_url":"Y"}`)
	h.InitiateLink(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestLinkCallbackIngestsAndMarksLinked(t *testing.T) {
	linker := &mockLinker{
		IngestAccountsFunc: func(_ context.Context, requisitionID, userID string) ([]domain.Account, error) {
			if requisitionID != "req-1" || userID != "user-1" {
				t.Errorf("linker called with %q/%q", requisitionID, userID)
			}
			return []domain.Account{{AccountID: "acct-1", Currency: "GBP"}}, nil
		},
	}
	requisitions := newMemRequisitionStore()
	h := NewBankHandler(&mockBankClient{}, linker, requisitions, "GB", zerolog.Nop())

	rec := httptest.NewRecorder()
	req := authedRequest(t, http.MethodGet, "/bank/link/callback?requisition_id=req-1", "user-1", "")
	h.LinkCallback(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if requisitions.statuses["req-1"] != "LN" {
		t.Errorf("requisition status = %q, want LN", requisitions.statuses["req-1"])
	}
	body := decodeBody(t, rec)
	if body["count"].(float64) != 1 {
		t.Errorf("count = %v, want 1", body["count"])
	}
}

func TestLinkCallbackResolvesSessionFromReference(t *testing.T) {
	requisitions := newMemRequisitionStore()
	if err := requisitions.InsertRequisition(context.Background(), domain.Requisition{
		RequisitionID: "req-9",
		UserID:        "user-1",
		Status:        "CR",
	}); err != nil {
		t.Fatal(err)
	}

	var linkedID string
	linker := &mockLinker{
		IngestAccountsFunc: func(_ context.Context, requisitionID, userID string) ([]domain.Account, error) {
			linkedID = requisitionID
			return nil, nil
		},
	}
	h := NewBankHandler(&mockBankClient{}, linker, requisitions, "GB", zerolog.Nop())

	rec := httptest.NewRecorder()
	req := authedRequest(t, http.MethodGet, "/bank/link/callback?ref=4cc3ad5a-opaque-reference", "user-1", "")
	h.LinkCallback(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if linkedID != "req-9" {
		t.Errorf("linker called with %q, want the stored session req-9", linkedID)
	}
	if requisitions.statuses["req-9"] != "LN" {
		t.Errorf("requisition status = %q, want LN", requisitions.statuses["req-9"])
	}
}

func TestLinkCallbackWithoutSession(t *testing.T) {
	linker := &mockLinker{
		IngestAccountsFunc: func(_ context.Context, _, _ string) ([]domain.Account, error) {
			t.Error("linker called without a stored session")
			return nil, nil
		},
	}
	h := NewBankHandler(&mockBankClient{}, linker, newMemRequisitionStore(), "GB", zerolog.Nop())

	rec := httptest.NewRecorder()
	req := authedRequest(t, http.MethodGet, "/bank/link/callback?ref=4cc3ad5a-opaque-reference", "user-1", "")
	h.LinkCallback(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func ownedAccounts() *mockAccountReader {
	return &mockAccountReader{accounts: []domain.Account{{AccountID: "acct-1", Currency: "GBP"}}}
}

func TestAccountBalancesQuotaDenied(t *testing.T) {
	limiter := &mockHandlerLimiter{allow: false}
	h := NewAccountsHandler(ownedAccounts(), &mockBankClient{}, limiter, zerolog.Nop())

	rec := httptest.NewRecorder()
	req := authedRequest(t, http.MethodGet, "/accounts/acct-1/balances", "user-1", "")
	h.AccountBalances(rec, req, "acct-1")

	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", rec.Code)
	}
	if limiter.logged != 0 {
		t.Error("denied balance fetch was logged")
	}
}

func TestAccountBalancesLogsFetch(t *testing.T) {
	limiter := &mockHandlerLimiter{allow: true}
	client := &mockBankClient{
		GetAccountBalancesFunc: func(_ context.Context, _ string) ([]bankdata.Balance, error) {
			return []bankdata.Balance{{
				BalanceAmount: bankdata.Amount{Amount: "102.50", Currency: "GBP"},
				BalanceType:   "interimAvailable",
			}}, nil
		},
	}
	h := NewAccountsHandler(ownedAccounts(), client, limiter, zerolog.Nop())

	rec := httptest.NewRecorder()
	req := authedRequest(t, http.MethodGet, "/accounts/acct-1/balances", "user-1", "")
	h.AccountBalances(rec, req, "acct-1")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if limiter.logged != 1 {
		t.Errorf("logged = %d, want 1", limiter.logged)
	}
}

func TestAccountBalancesRejectsForeignAccount(t *testing.T) {
	limiter := &mockHandlerLimiter{allow: true}
	client := &mockBankClient{
		GetAccountBalancesFunc: func(_ context.Context, accountID string) ([]bankdata.Balance, error) {
			t.Errorf("provider called for foreign account %q", accountID)
			return nil, nil
		},
	}
	h := NewAccountsHandler(ownedAccounts(), client, limiter, zerolog.Nop())

	rec := httptest.NewRecorder()
	req := authedRequest(t, http.MethodGet, "/accounts/acct-2/balances", "user-1", "")
	h.AccountBalances(rec, req, "acct-2")

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	if limiter.logged != 0 {
		t.Error("foreign account fetch consumed the quota")
	}
}

func TestAccountBalancesRequiresUser(t *testing.T) {
	h := NewAccountsHandler(ownedAccounts(), &mockBankClient{}, &mockHandlerLimiter{allow: true}, zerolog.Nop())

	rec := httptest.NewRecorder()
	req := authedRequest(t, http.MethodGet, "/accounts/acct-1/balances", "", "")
	h.AccountBalances(rec, req, "acct-1")

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func testStatsHandler(reader TransactionReader, snapshots SnapshotStore) *StatsHandler {
	agg := stats.New(12, zerolog.Nop())
	h := NewStatsHandler(reader, snapshots, agg, zerolog.Nop())
	h.now = func() time.Time { return time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC) }
	return h
}

func TestSummaryRefreshesSnapshot(t *testing.T) {
	reader := &mockTransactionReader{transactions: []domain.Transaction{{
		TransactionID:       "t1",
		Amount:              -45.00,
		BookingDate:         time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC),
		MerchantDescription: "TESCO STORES",
		Category:            domain.CategoryGroceries,
	}}}
	snapshots := newMemSnapshotStore()
	h := testStatsHandler(reader, snapshots)

	rec := httptest.NewRecorder()
	h.Summary(rec, authedRequest(t, http.MethodGet, "/statistics/summary", "user-1", ""))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["total_spending"].(float64) != 45.00 {
		t.Errorf("total_spending = %v, want 45", body["total_spending"])
	}
	if _, ok := snapshots.snapshots["user-1"]; !ok {
		t.Error("snapshot was not refreshed")
	}
}

func TestSummaryDegradesToSnapshotOnStoreError(t *testing.T) {
	reader := &mockTransactionReader{err: errors.New("db locked")}
	snapshots := newMemSnapshotStore()
	snapshots.snapshots["user-1"] = domain.StatsSnapshot{
		UserID: "user-1",
		Stats:  domain.Statistics{TotalSpending: 99.00},
	}
	h := testStatsHandler(reader, snapshots)

	rec := httptest.NewRecorder()
	h.Summary(rec, authedRequest(t, http.MethodGet, "/statistics/summary", "user-1", ""))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (degraded), not a server error", rec.Code)
	}
	if got := decodeBody(t, rec)["total_spending"].(float64); got != 99.00 {
		t.Errorf("total_spending = %v, want the cached 99.00", got)
	}
}

func TestSummaryDegradesToEmptyWithoutSnapshot(t *testing.T) {
	h := testStatsHandler(&mockTransactionReader{err: errors.New("db locked")}, newMemSnapshotStore())

	rec := httptest.NewRecorder()
	h.Summary(rec, authedRequest(t, http.MethodGet, "/statistics/summary", "user-1", ""))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := decodeBody(t, rec)["total_spending"].(float64); got != 0 {
		t.Errorf("total_spending = %v, want 0", got)
	}
}

func TestChartServesWeeklySeriesOnly(t *testing.T) {
	reader := &mockTransactionReader{transactions: []domain.Transaction{
		{TransactionID: "t1", Amount: -30.00, BookingDate: time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC), Category: domain.CategoryGroceries},
		{TransactionID: "t2", Amount: 500.00, BookingDate: time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC), Category: domain.CategoryIncome},
	}}
	h := testStatsHandler(reader, newMemSnapshotStore())

	rec := httptest.NewRecorder()
	h.Chart(rec, authedRequest(t, http.MethodGet, "/statistics/chart", "user-1", ""))

	body := decodeBody(t, rec)
	weekly := body["weekly_spending"].(map[string]interface{})
	// 2025-06-09 is the Monday of that week; income is excluded
	if got := weekly["2025-06-09"].(float64); got != 30.00 {
		t.Errorf("weekly[2025-06-09] = %v, want 30.00", got)
	}
	if _, ok := body["monthly_spending"]; ok {
		t.Error("chart response carries the monthly series, want weekly only")
	}
}

type staticOracle struct{}

func (staticOracle) Classify(_ context.Context, _ string, _ []string) (string, error) {
	return "", errors.New("not used")
}

func (staticOracle) Generate(_ context.Context, _ string) (string, error) {
	return "generated", nil
}

func TestDealsRequiresQuery(t *testing.T) {
	svc := insights.New(staticOracle{}, zerolog.Nop())
	h := NewAIHandler(&mockTransactionReader{}, stats.New(12, zerolog.Nop()), svc, zerolog.Nop())

	rec := httptest.NewRecorder()
	h.Deals(rec, authedRequest(t, http.MethodPost, "/ai/deals", "user-1", `{}`))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.Deals(rec, authedRequest(t, http.MethodPost, "/ai/deals", "user-1", `{"query":"groceries"}`))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if got := decodeBody(t, rec)["deals"]; got != "generated" {
		t.Errorf("deals = %v, want oracle output", got)
	}
}

func TestInsightsDegradesOnStoreError(t *testing.T) {
	svc := insights.New(staticOracle{}, zerolog.Nop())
	h := NewAIHandler(&mockTransactionReader{err: errors.New("db locked")}, stats.New(12, zerolog.Nop()), svc, zerolog.Nop())

	rec := httptest.NewRecorder()
	h.Insights(rec, authedRequest(t, http.MethodPost, "/ai/insights", "user-1", ""))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (degraded)", rec.Code)
	}
	if got := decodeBody(t, rec)["insights"]; got != "generated" {
		t.Errorf("insights = %v", got)
	}
}
