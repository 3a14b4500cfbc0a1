package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/ThorbenD/dvp-market/attributes"
	"github.com/ThorbenD/dvp-market/domain"
)

// PrincipalHeader carries the caller's identity.
const PrincipalHeader = "X-Principal"

const callerKey = "caller"

func registerRoutes(r gin.IRouter, s *server) {
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "pong",
		})
	})

	r.GET("/registry", s.getRegistry)
	r.GET("/assets/:id", s.getAsset)
	r.GET("/assets/:id/owner", s.getOwner)
	r.GET("/assets/:id/uri", s.getURI)
	r.GET("/assets/:id/metadata", s.getMetadata)
	r.GET("/accounts/:principal", s.getAccount)
	r.GET("/market", s.getMarket)
	r.GET("/listings", s.getListings)
	r.GET("/listings/:id", s.getListing)
	r.GET("/events", s.streamEvents)

	auth := r.Group("/", requireCaller)
	auth.POST("/assets", s.mint)
	auth.POST("/assets/:id/transfer", s.transfer)
	auth.POST("/assets/:id/approve", s.approve)
	auth.POST("/assets/:id/level-up", s.levelUp)
	auth.POST("/operators", s.setOperator)
	auth.POST("/deposits", s.requestTopUp)
	auth.POST("/withdrawals", s.withdraw)
	auth.POST("/listings", s.createListing)
	auth.POST("/listings/:id/buy", s.buy)
	auth.POST("/listings/:id/cancel", s.cancelListing)
	auth.PUT("/listings/:id/price", s.updatePrice)
	auth.POST("/listings/:id/invoice", s.requestInvoice)
}

func requireCaller(c *gin.Context) {
	p := domain.NewPrincipal(c.GetHeader(PrincipalHeader))
	if p.IsZero() {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing " + PrincipalHeader + " header"})
		return
	}
	c.Set(callerKey, p)
	c.Next()
}

func caller(c *gin.Context) domain.Principal {
	return c.MustGet(callerKey).(domain.Principal)
}

func idParam(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		badRequest(c, fmt.Errorf("invalid id %q", c.Param("id")))
		return 0, false
	}
	return id, true
}

type assetView struct {
	ID         uint64           `json:"id"`
	Holder     domain.Principal `json:"holder"`
	Approved   domain.Principal `json:"approved,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
	Level      uint64           `json:"level"`
	Color      string           `json:"color"`
	Descriptor descriptorView   `json:"descriptor"`
}

type descriptorView struct {
	Level    uint64 `json:"level"`
	Color    string `json:"color"`
	AgeDays  uint64 `json:"age_days"`
	Rotation uint64 `json:"rotation"`
	Size     uint64 `json:"size"`
	Label    string `json:"label"`
}

func toDescriptorView(d attributes.Descriptor) descriptorView {
	return descriptorView{Level: d.Level, Color: d.Color, AgeDays: d.AgeDays, Rotation: d.Rotation, Size: d.Size, Label: d.Label}
}

type listingView struct {
	ID        uint64               `json:"id"`
	Seller    domain.Principal     `json:"seller"`
	Contract  domain.Principal     `json:"contract"`
	AssetID   uint64               `json:"asset_id"`
	Price     decimal.Decimal      `json:"price"`
	Status    domain.ListingStatus `json:"status"`
	CreatedAt time.Time            `json:"created_at"`
	UpdatedAt time.Time            `json:"updated_at"`
}

func toListingView(l domain.Listing) listingView {
	return listingView{
		ID: l.ID, Seller: l.Seller, Contract: l.Contract, AssetID: l.AssetID,
		Price: l.Price, Status: l.Status, CreatedAt: l.CreatedAt, UpdatedAt: l.UpdatedAt,
	}
}

func toListingViews(ls []domain.Listing) []listingView {
	out := make([]listingView, 0, len(ls))
	for _, l := range ls {
		out = append(out, toListingView(l))
	}
	return out
}

func (s *server) getRegistry(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":         s.Registry.Name(),
		"symbol":       s.Registry.Symbol(),
		"address":      s.Registry.Address(),
		"total_supply": s.Registry.TotalSupply(),
		"mint_price":   s.Registry.MintPrice(),
	})
}

func (s *server) mint(c *gin.Context) {
	var req struct {
		Payment decimal.Decimal `json:"payment"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	id, err := s.Registry.Mint(caller(c), req.Payment)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (s *server) getAsset(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	a, err := s.Registry.Asset(id)
	if err != nil {
		fail(c, err)
		return
	}
	approved, err := s.Registry.GetApproved(id)
	if err != nil {
		fail(c, err)
		return
	}
	d, err := s.Registry.Render(id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, assetView{
		ID:         a.ID,
		Holder:     a.Holder,
		Approved:   approved,
		CreatedAt:  a.Attributes.CreatedAt,
		Level:      a.Attributes.Level,
		Color:      a.Attributes.Color,
		Descriptor: toDescriptorView(d),
	})
}

func (s *server) getOwner(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	owner, err := s.Registry.OwnerOf(id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"owner": owner})
}

func (s *server) getURI(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	uri, err := s.Registry.RenderURI(id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"uri": uri})
}

func (s *server) getMetadata(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	m, err := s.Registry.Metadata(id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

func (s *server) transfer(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	var req struct {
		To string `json:"to"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := s.Registry.Transfer(caller(c), id, domain.Principal(req.To)); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *server) approve(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	var req struct {
		To string `json:"to"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := s.Registry.Approve(caller(c), domain.Principal(req.To), id); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *server) levelUp(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	level, err := s.Registry.LevelUp(id, caller(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"level": level})
}

func (s *server) setOperator(c *gin.Context) {
	var req struct {
		Operator string `json:"operator" binding:"required"`
		Approved bool   `json:"approved"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := s.Registry.ApproveOperator(caller(c), domain.Principal(req.Operator), req.Approved); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *server) getAccount(c *gin.Context) {
	p := domain.NewPrincipal(c.Param("principal"))
	c.JSON(http.StatusOK, gin.H{
		"principal": p,
		"assets":    s.Registry.BalanceOf(p),
		"balance":   s.Engine.BalanceOf(p),
	})
}

// requestTopUp issues an invoice that funds the caller's balance.
func (s *server) requestTopUp(c *gin.Context) {
	if s.Checkout == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "lightning checkout not configured"})
		return
	}
	var req struct {
		Amount decimal.Decimal `json:"amount"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	inv, err := s.Checkout.RequestTopUp(c.Request.Context(), caller(c), req.Amount)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, inv)
}

func (s *server) withdraw(c *gin.Context) {
	var req struct {
		Amount decimal.Decimal `json:"amount"`
		Dest   string          `json:"dest" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	w, err := s.Engine.Withdraw(c.Request.Context(), caller(c), req.Amount, req.Dest)
	if err != nil {
		if w != nil {
			// sent, but confirmation failed
			c.JSON(http.StatusAccepted, w)
			return
		}
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, w)
}

func (s *server) getMarket(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"contract":         s.Book.Contract(),
		"active_listings":  s.Book.ActiveCount(),
		"platform_fee_bps": s.Book.PlatformFee(),
		"fee_recipient":    s.Book.FeeRecipient(),
		"payment_asset":    s.Book.Payment().Ticker,
	})
}

func (s *server) createListing(c *gin.Context) {
	var req struct {
		Contract string          `json:"contract"`
		AssetID  uint64          `json:"asset_id" binding:"required"`
		Price    decimal.Decimal `json:"price"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	contract := domain.Principal(req.Contract)
	if contract == "" {
		contract = s.Book.Contract()
	}
	id, err := s.Book.CreateListing(caller(c), contract, req.AssetID, req.Price)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

// getListings returns active listings, or with ?all=true every listing from
// ?from= on, at most ?limit= of them.
func (s *server) getListings(c *gin.Context) {
	if c.Query("all") != "true" {
		c.JSON(http.StatusOK, toListingViews(s.Book.ActiveListings()))
		return
	}
	from, err := strconv.ParseUint(c.DefaultQuery("from", "1"), 10, 64)
	if err != nil {
		badRequest(c, errors.New("invalid from"))
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil {
		badRequest(c, errors.New("invalid limit"))
		return
	}
	c.JSON(http.StatusOK, toListingViews(s.Book.Listings(from, limit)))
}

func (s *server) getListing(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	l, err := s.Book.Get(id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toListingView(l))
}

func (s *server) buy(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	var req struct {
		Payment decimal.Decimal `json:"payment"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	receipt, err := s.Engine.Buy(id, caller(c), req.Payment)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, receipt)
}

func (s *server) cancelListing(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	if err := s.Book.CancelListing(id, caller(c)); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *server) updatePrice(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	var req struct {
		Price decimal.Decimal `json:"price"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := s.Book.UpdatePrice(id, caller(c), req.Price); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *server) requestInvoice(c *gin.Context) {
	if s.Checkout == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "lightning checkout not configured"})
		return
	}
	id, ok := idParam(c)
	if !ok {
		return
	}
	inv, err := s.Checkout.RequestInvoice(c.Request.Context(), id, caller(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, inv)
}
