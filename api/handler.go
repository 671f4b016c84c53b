package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/b0ase/bsv20-treasury/ledger"
	"github.com/b0ase/bsv20-treasury/logger"
	"github.com/b0ase/bsv20-treasury/network"
	"github.com/b0ase/bsv20-treasury/payment"
	"github.com/b0ase/bsv20-treasury/transfer"
	"github.com/b0ase/bsv20-treasury/treasury"
)

// Ledger is the ledger surface exposed over HTTP.
type Ledger interface {
	GetOrCreateHolder(ctx context.Context, address string, provider ledger.Provider, ordinalsAddress, handle string) (*ledger.Holder, error)
	GetHolderByID(ctx context.Context, id string) (*ledger.Holder, error)
	AllHolders(ctx context.Context) ([]ledger.Holder, error)
	TokenStats(ctx context.Context) (*ledger.TokenStats, error)
	CapTable(ctx context.Context) ([]ledger.CapTableEntry, error)
	CreatePurchase(ctx context.Context, holderID string, amount, priceSats uint64) (*ledger.Purchase, error)
	GetPurchase(ctx context.Context, purchaseID string) (*ledger.Purchase, error)
	ConfirmPurchase(ctx context.Context, purchaseID, txID string) (*ledger.Purchase, error)
	FailPurchase(ctx context.Context, purchaseID string) (*ledger.Purchase, error)
	StakeTokens(ctx context.Context, holderID string, amount uint64) (*ledger.Stake, error)
	UnstakeTokens(ctx context.Context, holderID string, amount uint64) error
	HolderStakes(ctx context.Context, holderID string) ([]ledger.Stake, error)
	DistributeDividends(ctx context.Context, totalAmount uint64, sourceTxID string) (*ledger.Dividend, error)
	PendingDividends(ctx context.Context, holderID string) (uint64, error)
	ClaimDividends(ctx context.Context, holderID string) (uint64, error)
	TotalDividendsEarned(ctx context.Context, holderID string) (uint64, error)
}

// Treasury reports the on-chain treasury position.
type Treasury interface {
	Address() string
	OnChainTreasuryBalance(ctx context.Context) treasury.Balance
	Reconcile(ctx context.Context) (*treasury.Report, error)
}

// TokenSource reports indexer token info, nil when unavailable.
type TokenSource interface {
	TokenInfo(ctx context.Context) *network.TokenInfo
}

// Transferer sends treasury transfers.
type Transferer interface {
	Transfer(ctx context.Context, req transfer.Request) transfer.Result
}

// PaymentVerifier checks a purchase payment on chain.
type PaymentVerifier interface {
	Verify(ctx context.Context, txID string, requiredSats uint64) (*payment.Receipt, error)
}

// TokenConfig describes the served token.
type TokenConfig struct {
	Tick        string
	ID          string
	TotalSupply uint64
	PriceSats   uint64 // sale price per token; purchases are priced from it
}

// Handler serves the REST API.
type Handler struct {
	token    TokenConfig
	ledger   Ledger
	treasury Treasury
	tokens   TokenSource
	transfer Transferer
	payments PaymentVerifier // nil disables on-chain verification
}

// Deps are the services behind the handler.
type Deps struct {
	Token    TokenConfig
	Ledger   Ledger
	Treasury Treasury
	Tokens   TokenSource
	Transfer Transferer
	Payments PaymentVerifier
}

// NewHandler creates a handler.
func NewHandler(d Deps) *Handler {
	return &Handler{
		token:    d.Token,
		ledger:   d.Ledger,
		treasury: d.Treasury,
		tokens:   d.Tokens,
		transfer: d.Transfer,
		payments: d.Payments,
	}
}

func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type tokenResponse struct {
	Tick            string             `json:"tick"`
	ID              string             `json:"id,omitempty"`
	TotalSupply     uint64             `json:"totalSupply"`
	PriceSats       uint64             `json:"priceSats"`
	TreasuryAddress string             `json:"treasuryAddress"`
	Indexer         *network.TokenInfo `json:"indexer"`
}

func (h *Handler) GetToken(c *gin.Context) {
	resp := tokenResponse{
		Tick:            h.token.Tick,
		ID:              h.token.ID,
		TotalSupply:     h.token.TotalSupply,
		PriceSats:       h.token.PriceSats,
		TreasuryAddress: h.treasury.Address(),
		Indexer:         h.tokens.TokenInfo(c.Request.Context()),
	}
	if resp.Indexer != nil && resp.Indexer.TotalSupply > 0 {
		resp.TotalSupply = resp.Indexer.TotalSupply
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) GetTreasury(c *gin.Context) {
	c.JSON(http.StatusOK, h.treasury.OnChainTreasuryBalance(c.Request.Context()))
}

func (h *Handler) Reconcile(c *gin.Context) {
	report, err := h.treasury.Reconcile(c.Request.Context())
	if err != nil {
		respondInternalError(c, err, "Reconciliation failed")
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *Handler) ListHolders(c *gin.Context) {
	holders, err := h.ledger.AllHolders(c.Request.Context())
	if err != nil {
		respondLedgerError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"holders": holders})
}

type holderResponse struct {
	*ledger.Holder
	Stakes           []ledger.Stake `json:"stakes"`
	PendingDividends uint64         `json:"pendingDividends"`
}

func (h *Handler) GetHolder(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	holder, err := h.ledger.GetHolderByID(ctx, id)
	if err != nil {
		respondLedgerError(c, err)
		return
	}
	stakes, err := h.ledger.HolderStakes(ctx, id)
	if err != nil {
		respondLedgerError(c, err)
		return
	}
	pending, err := h.ledger.PendingDividends(ctx, id)
	if err != nil {
		respondLedgerError(c, err)
		return
	}
	if stakes == nil {
		stakes = []ledger.Stake{}
	}
	c.JSON(http.StatusOK, holderResponse{Holder: holder, Stakes: stakes, PendingDividends: pending})
}

func (h *Handler) GetCapTable(c *gin.Context) {
	table, err := h.ledger.CapTable(c.Request.Context())
	if err != nil {
		respondLedgerError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"capTable": table})
}

func (h *Handler) GetStats(c *gin.Context) {
	stats, err := h.ledger.TokenStats(c.Request.Context())
	if err != nil {
		respondLedgerError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

type transferRequest struct {
	Address  string `json:"address"`
	Paymail  string `json:"paymail"`
	Amount   uint64 `json:"amount" binding:"required,gt=0"`
	HolderID string `json:"holderId"`
}

func (h *Handler) CreateTransfer(c *gin.Context) {
	var req transferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidationError(c, err.Error())
		return
	}
	if req.Address == "" && req.Paymail == "" {
		respondValidationError(c, "address or paymail is required")
		return
	}

	res := h.transfer.Transfer(c.Request.Context(), transfer.Request{
		Address:  req.Address,
		Paymail:  req.Paymail,
		Amount:   req.Amount,
		HolderID: req.HolderID,
	})
	switch {
	case res.Success:
		c.JSON(http.StatusOK, res)
	case res.Error == transfer.MsgKeyNotConfigured:
		respondWithError(c, http.StatusServiceUnavailable, errCodeServiceUnavailable, res.Error)
	default:
		respondWithError(c, http.StatusBadGateway, errCodeTransferFailed, res.Error)
	}
}

type purchaseRequest struct {
	HolderID        string `json:"holderId"`
	Address         string `json:"address"`
	Provider        string `json:"provider"`
	OrdinalsAddress string `json:"ordinalsAddress"`
	Handle          string `json:"handle"`
	Amount          uint64 `json:"amount" binding:"required,gt=0"`
	PriceSats       uint64 `json:"priceSats"` // optional; must match the configured price
}

func (h *Handler) CreatePurchase(c *gin.Context) {
	ctx := c.Request.Context()
	var req purchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidationError(c, err.Error())
		return
	}
	price := h.token.PriceSats
	if price == 0 {
		respondWithError(c, http.StatusServiceUnavailable, errCodeServiceUnavailable, "Token price not configured")
		return
	}
	if req.PriceSats != 0 && req.PriceSats != price {
		respondValidationError(c, fmt.Sprintf("priceSats must be %d", price))
		return
	}

	holderID := req.HolderID
	if holderID == "" {
		holder, err := h.ledger.GetOrCreateHolder(ctx, req.Address, ledger.Provider(req.Provider), req.OrdinalsAddress, req.Handle)
		if err != nil {
			respondLedgerError(c, err)
			return
		}
		holderID = holder.ID
	}

	p, err := h.ledger.CreatePurchase(ctx, holderID, req.Amount, price)
	if err != nil {
		respondLedgerError(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetPurchase(c *gin.Context) {
	p, err := h.ledger.GetPurchase(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondLedgerError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

type confirmRequest struct {
	TxID string `json:"txId" binding:"required"`
}

// ConfirmPurchase credits a pending purchase. With a verifier configured the
// payment must be on chain first; a payment that can never verify fails the
// purchase.
func (h *Handler) ConfirmPurchase(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	var req confirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidationError(c, err.Error())
		return
	}

	if h.payments != nil {
		p, err := h.ledger.GetPurchase(ctx, id)
		if err != nil {
			respondLedgerError(c, err)
			return
		}
		if p.Status != ledger.PurchasePending {
			respondLedgerError(c, ledger.ErrPurchaseNotPending)
			return
		}
		if _, err := h.payments.Verify(ctx, req.TxID, p.TotalPaidSats); err != nil {
			if isPaymentRejection(err) {
				if _, ferr := h.ledger.FailPurchase(ctx, id); ferr != nil {
					logger.ErrorCtx(ctx, ferr, zap.String("purchase_id", id))
				}
			}
			respondPaymentError(c, err)
			return
		}
	}

	p, err := h.ledger.ConfirmPurchase(ctx, id, req.TxID)
	if err != nil {
		respondLedgerError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

type amountRequest struct {
	Amount uint64 `json:"amount" binding:"required,gt=0"`
}

func (h *Handler) Stake(c *gin.Context) {
	var req amountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidationError(c, err.Error())
		return
	}
	stake, err := h.ledger.StakeTokens(c.Request.Context(), c.Param("id"), req.Amount)
	if err != nil {
		respondLedgerError(c, err)
		return
	}
	c.JSON(http.StatusCreated, stake)
}

func (h *Handler) Unstake(c *gin.Context) {
	var req amountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidationError(c, err.Error())
		return
	}
	if err := h.ledger.UnstakeTokens(c.Request.Context(), c.Param("id"), req.Amount); err != nil {
		respondLedgerError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unstaked": req.Amount})
}

type dividendRequest struct {
	TotalAmount uint64 `json:"totalAmount" binding:"required,gt=0"`
	SourceTxID  string `json:"sourceTxId"`
}

func (h *Handler) DistributeDividends(c *gin.Context) {
	var req dividendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidationError(c, err.Error())
		return
	}
	d, err := h.ledger.DistributeDividends(c.Request.Context(), req.TotalAmount, req.SourceTxID)
	if err != nil {
		respondLedgerError(c, err)
		return
	}
	c.JSON(http.StatusCreated, d)
}

func (h *Handler) GetDividends(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	earned, err := h.ledger.TotalDividendsEarned(ctx, id)
	if err != nil {
		respondLedgerError(c, err)
		return
	}
	pending, err := h.ledger.PendingDividends(ctx, id)
	if err != nil {
		respondLedgerError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pending": pending, "totalEarned": earned})
}

func (h *Handler) ClaimDividends(c *gin.Context) {
	claimed, err := h.ledger.ClaimDividends(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondLedgerError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"claimed": claimed})
}
