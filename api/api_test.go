package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/b0ase/bsv20-treasury/ledger"
	"github.com/b0ase/bsv20-treasury/network"
	"github.com/b0ase/bsv20-treasury/payment"
	"github.com/b0ase/bsv20-treasury/transfer"
	"github.com/b0ase/bsv20-treasury/treasury"
)

const (
	testAPIKey   = "secret-key"
	treasuryAddr = "1BrbnQon4uZPSxNwt19ozwtgHPDbgvaeD1"
)

type mockIndexer struct {
	TokenInfoFn func(ctx context.Context) *network.TokenInfo
	HoldersFn   func(ctx context.Context) []network.Holder
}

func (m *mockIndexer) TokenInfo(ctx context.Context) *network.TokenInfo {
	if m.TokenInfoFn == nil {
		return nil
	}
	return m.TokenInfoFn(ctx)
}

func (m *mockIndexer) Holders(ctx context.Context) []network.Holder {
	if m.HoldersFn == nil {
		return nil
	}
	return m.HoldersFn(ctx)
}

type mockTransferer struct {
	TransferFn func(ctx context.Context, req transfer.Request) transfer.Result
}

func (m *mockTransferer) Transfer(ctx context.Context, req transfer.Request) transfer.Result {
	return m.TransferFn(ctx, req)
}

type mockVerifier struct {
	VerifyFn func(ctx context.Context, txID string, requiredSats uint64) (*payment.Receipt, error)
}

func (m *mockVerifier) Verify(ctx context.Context, txID string, requiredSats uint64) (*payment.Receipt, error) {
	return m.VerifyFn(ctx, txID, requiredSats)
}

const testPriceSats = 50

type testEnv struct {
	router   http.Handler
	ledger   *ledger.Service
	indexer  *mockIndexer
	transfer *mockTransferer
	verifier *mockVerifier
}

func newTestEnv(t *testing.T, withVerifier bool) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	env := &testEnv{
		ledger:   ledger.NewService(ledger.NewMemoryStore()),
		indexer:  &mockIndexer{},
		transfer: &mockTransferer{},
		verifier: &mockVerifier{},
	}
	deps := Deps{
		Token:    TokenConfig{Tick: "BOASE", TotalSupply: 1_000_000_000, PriceSats: testPriceSats},
		Ledger:   env.ledger,
		Treasury: treasury.NewService(treasury.Config{Address: treasuryAddr, TotalSupply: 1_000_000_000}, env.indexer, env.ledger, nil),
		Tokens:   env.indexer,
		Transfer: env.transfer,
	}
	if withVerifier {
		deps.Payments = env.verifier
	}
	env.router = New(Config{Auth: AuthConfig{APIKeys: []string{testAPIKey}}}, NewHandler(deps)).Handler()
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}, authed bool) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if authed {
		req.Header.Set("Authorization", "ApiKey "+testAPIKey)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) errorDetail {
	t.Helper()
	var resp errorResponse
	decode(t, w, &resp)
	return resp.Error
}

func (e *testEnv) holder(t *testing.T, address string, balance uint64) *ledger.Holder {
	t.Helper()
	ctx := context.Background()
	h, err := e.ledger.GetOrCreateHolder(ctx, address, ledger.ProviderYours, "", "")
	require.NoError(t, err)
	if balance > 0 {
		h, err = e.ledger.UpdateHolderBalance(ctx, h.ID, int64(balance))
		require.NoError(t, err)
	}
	return h
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t, false)

	w := env.do(t, http.MethodGet, "/health", nil, false)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	w = env.do(t, http.MethodGet, "/metrics", nil, false)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "b0ase_treasury_api_request_duration_seconds")
}

func TestGetTreasury(t *testing.T) {
	env := newTestEnv(t, false)
	env.indexer.HoldersFn = func(context.Context) []network.Holder {
		return []network.Holder{{Address: "1Alice", Balance: 400_000_000}}
	}

	w := env.do(t, http.MethodGet, "/api/v1/treasury", nil, false)
	require.Equal(t, http.StatusOK, w.Code)

	var b treasury.Balance
	decode(t, w, &b)
	assert.Equal(t, uint64(600_000_000), b.Treasury)
	assert.Equal(t, uint64(400_000_000), b.Circulating)
}

func TestGetToken_IndexerSupplyWins(t *testing.T) {
	env := newTestEnv(t, false)

	w := env.do(t, http.MethodGet, "/api/v1/token", nil, false)
	var resp tokenResponse
	decode(t, w, &resp)
	assert.Equal(t, uint64(1_000_000_000), resp.TotalSupply)
	assert.Nil(t, resp.Indexer)
	assert.Equal(t, treasuryAddr, resp.TreasuryAddress)
	assert.Equal(t, uint64(testPriceSats), resp.PriceSats)

	env.indexer.TokenInfoFn = func(context.Context) *network.TokenInfo {
		return &network.TokenInfo{Symbol: "BOASE", TotalSupply: 2_000}
	}
	w = env.do(t, http.MethodGet, "/api/v1/token", nil, false)
	decode(t, w, &resp)
	assert.Equal(t, uint64(2_000), resp.TotalSupply)
}

func TestReconcile(t *testing.T) {
	env := newTestEnv(t, false)
	env.holder(t, "1Alice", 100)
	env.indexer.HoldersFn = func(context.Context) []network.Holder {
		return []network.Holder{{Address: "1Alice", Balance: 90}, {Address: treasuryAddr, Balance: 500}}
	}

	w := env.do(t, http.MethodGet, "/api/v1/reconcile", nil, false)
	require.Equal(t, http.StatusOK, w.Code)

	var report treasury.Report
	decode(t, w, &report)
	assert.False(t, report.InSync)
	require.Len(t, report.Discrepancies, 1)
	assert.Equal(t, int64(10), report.Discrepancies[0].Difference)
}

func TestHolders(t *testing.T) {
	env := newTestEnv(t, false)
	alice := env.holder(t, "1Alice", 500)
	env.holder(t, "1Bob", 1500)

	w := env.do(t, http.MethodGet, "/api/v1/holders", nil, false)
	var list struct {
		Holders []ledger.Holder `json:"holders"`
	}
	decode(t, w, &list)
	require.Len(t, list.Holders, 2)
	assert.Equal(t, "1Bob", list.Holders[0].Address)

	w = env.do(t, http.MethodGet, "/api/v1/holders/"+alice.ID, nil, false)
	require.Equal(t, http.StatusOK, w.Code)
	var detail struct {
		ID      string         `json:"id"`
		Balance uint64         `json:"balance"`
		Stakes  []ledger.Stake `json:"stakes"`
	}
	decode(t, w, &detail)
	assert.Equal(t, alice.ID, detail.ID)
	assert.Equal(t, uint64(500), detail.Balance)
	assert.NotNil(t, detail.Stakes)

	w = env.do(t, http.MethodGet, "/api/v1/holders/missing", nil, false)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, errCodeNotFound, errorCode(t, w).Code)
}

func TestCapTableAndStats(t *testing.T) {
	env := newTestEnv(t, false)
	env.holder(t, "1Alice", 10_000_000)

	w := env.do(t, http.MethodGet, "/api/v1/cap-table", nil, false)
	var table struct {
		CapTable []ledger.CapTableEntry `json:"capTable"`
	}
	decode(t, w, &table)
	require.Len(t, table.CapTable, 1)
	assert.InDelta(t, 1.0, table.CapTable[0].Percentage, 1e-9)

	w = env.do(t, http.MethodGet, "/api/v1/stats", nil, false)
	var stats ledger.TokenStats
	decode(t, w, &stats)
	assert.Equal(t, 1, stats.TotalHolders)
	assert.Equal(t, uint64(490_000_000), stats.TreasuryBalance)
}

func TestTransfers(t *testing.T) {
	env := newTestEnv(t, false)
	var got transfer.Request
	env.transfer.TransferFn = func(_ context.Context, req transfer.Request) transfer.Result {
		got = req
		return transfer.Result{Success: true, TxID: "abc", Recipient: req.Address}
	}
	body := gin.H{"address": "1Recipient", "amount": 1000, "holderId": "h1"}

	w := env.do(t, http.MethodPost, "/api/v1/transfers", body, false)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, errCodeUnauthorized, errorCode(t, w).Code)

	w = env.do(t, http.MethodPost, "/api/v1/transfers", body, true)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, transfer.Request{Address: "1Recipient", Amount: 1000, HolderID: "h1"}, got)

	var res transfer.Result
	decode(t, w, &res)
	assert.True(t, res.Success)
	assert.Equal(t, "abc", res.TxID)
}

func TestTransfers_Failures(t *testing.T) {
	env := newTestEnv(t, false)

	tests := []struct {
		name    string
		body    interface{}
		result  transfer.Result
		status  int
		code    ErrorCode
		message string
	}{
		{"no key", gin.H{"address": "1R", "amount": 1}, transfer.Result{Error: transfer.MsgKeyNotConfigured}, http.StatusServiceUnavailable, errCodeServiceUnavailable, "Treasury private key not configured"},
		{"no utxos", gin.H{"paymail": "a@b.com", "amount": 1}, transfer.Result{Error: transfer.MsgNoUTXOs}, http.StatusBadGateway, errCodeTransferFailed, "No UTXOs available for treasury"},
		{"zero amount", gin.H{"address": "1R", "amount": 0}, transfer.Result{}, http.StatusBadRequest, errCodeValidationFailed, "Validation failed"},
		{"no recipient", gin.H{"amount": 5}, transfer.Result{}, http.StatusBadRequest, errCodeValidationFailed, "Validation failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env.transfer.TransferFn = func(context.Context, transfer.Request) transfer.Result { return tt.result }
			w := env.do(t, http.MethodPost, "/api/v1/transfers", tt.body, true)
			assert.Equal(t, tt.status, w.Code)
			detail := errorCode(t, w)
			assert.Equal(t, tt.code, detail.Code)
			assert.Equal(t, tt.message, detail.Message)
		})
	}
}

func TestPurchaseFlow(t *testing.T) {
	env := newTestEnv(t, false)

	w := env.do(t, http.MethodPost, "/api/v1/purchases", gin.H{
		"address": "1Buyer", "provider": "yours", "amount": 10_000, "priceSats": 50,
	}, false)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var p ledger.Purchase
	decode(t, w, &p)
	assert.Equal(t, uint64(500_000), p.TotalPaidSats)
	assert.Equal(t, ledger.PurchasePending, p.Status)

	w = env.do(t, http.MethodGet, "/api/v1/purchases/"+p.ID, nil, false)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodPost, "/api/v1/purchases/"+p.ID+"/confirm", gin.H{"txId": "tx1"}, false)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, http.MethodPost, "/api/v1/purchases/"+p.ID+"/confirm", gin.H{"txId": "tx1"}, true)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	decode(t, w, &p)
	assert.Equal(t, ledger.PurchaseConfirmed, p.Status)

	holder, err := env.ledger.GetHolderByID(context.Background(), p.HolderID)
	require.NoError(t, err)
	assert.Equal(t, uint64(10_000), holder.Balance)

	w = env.do(t, http.MethodPost, "/api/v1/purchases/"+p.ID+"/confirm", gin.H{"txId": "tx1"}, true)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do(t, http.MethodPost, "/api/v1/purchases", gin.H{"address": "1Buyer", "provider": "metamask", "amount": 1}, false)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreatePurchase_ServerSidePrice(t *testing.T) {
	env := newTestEnv(t, false)

	w := env.do(t, http.MethodPost, "/api/v1/purchases", gin.H{
		"address": "1Buyer", "provider": "yours", "amount": 10_000, "priceSats": 1,
	}, false)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, errCodeValidationFailed, errorCode(t, w).Code)

	holders, err := env.ledger.AllHolders(context.Background())
	require.NoError(t, err)
	assert.Empty(t, holders, "a rejected price creates nothing")

	w = env.do(t, http.MethodPost, "/api/v1/purchases", gin.H{
		"address": "1Buyer", "provider": "yours", "amount": 10_000,
	}, false)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var p ledger.Purchase
	decode(t, w, &p)
	assert.Equal(t, uint64(testPriceSats), p.PriceSats)
	assert.Equal(t, uint64(10_000*testPriceSats), p.TotalPaidSats)

	unpriced := NewHandler(Deps{Ledger: env.ledger})
	router := gin.New()
	router.POST("/purchases", unpriced.CreatePurchase)
	rec := httptest.NewRecorder()
	body := bytes.NewBufferString(`{"address":"1Buyer","provider":"yours","amount":1}`)
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/purchases", body))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestConfirmPurchase_TxIDReuseRejected(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()
	h := env.holder(t, "1Buyer", 0)
	first, err := env.ledger.CreatePurchase(ctx, h.ID, 10_000, testPriceSats)
	require.NoError(t, err)
	second, err := env.ledger.CreatePurchase(ctx, h.ID, 10_000, testPriceSats)
	require.NoError(t, err)

	w := env.do(t, http.MethodPost, "/api/v1/purchases/"+first.ID+"/confirm", gin.H{"txId": "fundingtx"}, true)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.do(t, http.MethodPost, "/api/v1/purchases/"+second.ID+"/confirm", gin.H{"txId": "fundingtx"}, true)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, errCodeConflict, errorCode(t, w).Code)

	got, err := env.ledger.GetPurchase(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.PurchasePending, got.Status)
	holder, err := env.ledger.GetHolderByID(ctx, h.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(10_000), holder.Balance)
}

func TestConfirmPurchase_Verified(t *testing.T) {
	env := newTestEnv(t, true)
	h := env.holder(t, "1Buyer", 0)
	p, err := env.ledger.CreatePurchase(context.Background(), h.ID, 100, 10)
	require.NoError(t, err)

	env.verifier.VerifyFn = func(_ context.Context, txID string, required uint64) (*payment.Receipt, error) {
		assert.Equal(t, uint64(1000), required)
		return nil, fmt.Errorf("%w: 0 confirmations", payment.ErrNotConfirmed)
	}
	w := env.do(t, http.MethodPost, "/api/v1/purchases/"+p.ID+"/confirm", gin.H{"txId": "tx1"}, true)
	assert.Equal(t, http.StatusConflict, w.Code)
	got, err := env.ledger.GetPurchase(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.PurchasePending, got.Status)

	env.verifier.VerifyFn = func(_ context.Context, txID string, _ uint64) (*payment.Receipt, error) {
		return &payment.Receipt{TxID: txID, PaidSats: 1000, Confirmations: 1}, nil
	}
	w = env.do(t, http.MethodPost, "/api/v1/purchases/"+p.ID+"/confirm", gin.H{"txId": "tx1"}, true)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestConfirmPurchase_RejectedPaymentFailsPurchase(t *testing.T) {
	env := newTestEnv(t, true)
	h := env.holder(t, "1Buyer", 0)
	p, err := env.ledger.CreatePurchase(context.Background(), h.ID, 100, 10)
	require.NoError(t, err)

	env.verifier.VerifyFn = func(context.Context, string, uint64) (*payment.Receipt, error) {
		return nil, fmt.Errorf("%w: paid 900", payment.ErrInsufficientPayment)
	}
	w := env.do(t, http.MethodPost, "/api/v1/purchases/"+p.ID+"/confirm", gin.H{"txId": "tx1"}, true)
	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.Equal(t, errCodePaymentInvalid, errorCode(t, w).Code)

	got, err := env.ledger.GetPurchase(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.PurchaseFailed, got.Status)
}

func TestStakingAndDividends(t *testing.T) {
	env := newTestEnv(t, false)
	alice := env.holder(t, "1Alice", 1000)
	bob := env.holder(t, "1Bob", 1000)

	w := env.do(t, http.MethodPost, "/api/v1/dividends", gin.H{"totalAmount": 100}, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, MsgNoStakedTokens, errorCode(t, w).Message)

	for _, path := range []string{"/stake", "/unstake", "/dividends/claim"} {
		w = env.do(t, http.MethodPost, "/api/v1/holders/"+alice.ID+path, gin.H{"amount": 1}, false)
		assert.Equal(t, http.StatusUnauthorized, w.Code, path)
	}

	w = env.do(t, http.MethodPost, "/api/v1/holders/"+alice.ID+"/stake", gin.H{"amount": 100}, true)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	w = env.do(t, http.MethodPost, "/api/v1/holders/"+bob.ID+"/stake", gin.H{"amount": 200}, true)
	require.Equal(t, http.StatusCreated, w.Code)

	w = env.do(t, http.MethodPost, "/api/v1/holders/"+alice.ID+"/stake", gin.H{"amount": 5000}, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/api/v1/dividends", gin.H{"totalAmount": 100}, false)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, http.MethodPost, "/api/v1/dividends", gin.H{"totalAmount": 100, "sourceTxId": "rev1"}, true)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var d ledger.Dividend
	decode(t, w, &d)
	assert.Equal(t, uint64(300), d.TotalStaked)

	w = env.do(t, http.MethodGet, "/api/v1/holders/"+bob.ID+"/dividends", nil, false)
	var div struct {
		Pending     uint64 `json:"pending"`
		TotalEarned uint64 `json:"totalEarned"`
	}
	decode(t, w, &div)
	assert.Equal(t, uint64(66), div.Pending)
	assert.Zero(t, div.TotalEarned)

	w = env.do(t, http.MethodPost, "/api/v1/holders/"+bob.ID+"/dividends/claim", nil, true)
	var claim struct {
		Claimed uint64 `json:"claimed"`
	}
	decode(t, w, &claim)
	assert.Equal(t, uint64(66), claim.Claimed)

	w = env.do(t, http.MethodPost, "/api/v1/holders/"+alice.ID+"/unstake", gin.H{"amount": 100}, true)
	require.Equal(t, http.StatusOK, w.Code)
	w = env.do(t, http.MethodPost, "/api/v1/holders/"+alice.ID+"/unstake", gin.H{"amount": 1}, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodGet, "/api/v1/holders/missing/dividends", nil, false)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAuthenticate(t *testing.T) {
	cfg := AuthConfig{APIKeys: []string{"", "k1"}}
	assert.NoError(t, Authenticate("ApiKey k1", cfg))
	assert.NoError(t, Authenticate("apikey k1", cfg))
	assert.Error(t, Authenticate("", cfg))
	assert.Error(t, Authenticate("ApiKey", cfg))
	assert.Error(t, Authenticate("Bearer k1", cfg))
	assert.Error(t, Authenticate("ApiKey nope", cfg))
	assert.EqualError(t, Authenticate("ApiKey k1", AuthConfig{}), "no API keys configured")
}

func TestRecovery(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(Recovery())
	router.GET("/boom", func(*gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, errCodeInternalError, errorCode(t, w).Code)
}
