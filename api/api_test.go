package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ThorbenD/dvp-market/domain"
	"github.com/ThorbenD/dvp-market/events"
	"github.com/ThorbenD/dvp-market/market"
	"github.com/ThorbenD/dvp-market/registry"
	"github.com/ThorbenD/dvp-market/settlement"
	"github.com/ThorbenD/dvp-market/store"
)

const (
	alice = "0xA11CE"
	bob   = "0xb0b"
	carol = "0xc4r01"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	m.Run()
}

type grant struct{ who, amount string }

// newTestDeps builds an in-memory marketplace, crediting each grant as if
// the principal had topped up.
func newTestDeps(t *testing.T, grants ...grant) Deps {
	t.Helper()
	bus := events.NewBus(nil)
	st := store.New(store.WithPublisher(bus))
	require.NoError(t, st.Update(func(tx *store.Tx) error {
		for _, g := range grants {
			tx.Credit(domain.NewPrincipal(g.who), decimal.RequireFromString(g.amount))
		}
		return nil
	}))
	reg, err := registry.New(registry.Config{
		Name: "Dynamic SVG NFT", Symbol: "DSVG", Address: "0xnft",
		MintPrice: decimal.RequireFromString("0.001"), Treasury: "0x7ea5",
	}, st)
	require.NoError(t, err)
	book, err := market.New(market.Config{
		Contract: "0xnft", FeeBps: 250, FeeRecipient: "0xp1a7f0rm",
		Payment: domain.PaymentAsset{Ticker: "ETH", Decimals: 18},
	}, st)
	require.NoError(t, err)
	return Deps{
		Registry: reg,
		Book:     book,
		Engine:   settlement.NewEngine(settlement.Config{}, st, book),
		Bus:      bus,
	}
}

type client struct {
	t *testing.T
	h http.Handler
}

func (c client) do(method, path, who string, body any) (*httptest.ResponseRecorder, map[string]any) {
	c.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(c.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if who != "" {
		req.Header.Set(PrincipalHeader, who)
	}
	w := httptest.NewRecorder()
	c.h.ServeHTTP(w, req)

	var out map[string]any
	if strings.HasPrefix(w.Body.String(), "{") {
		require.NoError(c.t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w, out
}

func TestPing(t *testing.T) {
	c := client{t, Handler(newTestDeps(t))}
	w, out := c.do(http.MethodGet, "/ping", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pong", out["message"])
}

func TestMintListBuy(t *testing.T) {
	c := client{t, Handler(newTestDeps(t, grant{alice, "0.001"}, grant{bob, "0.01"}))}

	w, out := c.do(http.MethodPost, "/assets", alice, gin.H{"payment": "0.001"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.EqualValues(t, 1, out["id"])

	w, out = c.do(http.MethodGet, "/assets/1/owner", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "0xa11ce", out["owner"])

	w, out = c.do(http.MethodGet, "/assets/1", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, out["level"])
	assert.Regexp(t, `^#[0-9a-f]{6}$`, out["color"])

	w, out = c.do(http.MethodGet, "/assets/1/uri", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.HasPrefix(out["uri"].(string), "data:application/json;base64,"))

	w, out = c.do(http.MethodPost, "/listings", alice, gin.H{"asset_id": 1, "price": "0.01"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.EqualValues(t, 1, out["id"])

	w, out = c.do(http.MethodGet, "/market", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, out["active_listings"])
	assert.EqualValues(t, 250, out["platform_fee_bps"])

	w, out = c.do(http.MethodPost, "/listings/1/buy", bob, gin.H{"payment": "0.01"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "0.00025", out["fee"])
	assert.Equal(t, "0.00975", out["proceeds"])

	w, out = c.do(http.MethodGet, "/accounts/"+alice, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "0.00975", out["balance"])
	assert.EqualValues(t, 0, out["assets"])

	w, out = c.do(http.MethodGet, "/accounts/"+bob, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "0", out["balance"])
	assert.EqualValues(t, 1, out["assets"])

	w, out = c.do(http.MethodGet, "/listings/1", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "SOLD", out["status"])

	w, _ = c.do(http.MethodPost, "/listings/1/buy", carol, gin.H{"payment": "0.01"})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestStaleListingConflict(t *testing.T) {
	c := client{t, Handler(newTestDeps(t, grant{alice, "0.001"}, grant{bob, "0.01"}))}
	c.do(http.MethodPost, "/assets", alice, gin.H{"payment": "0.001"})
	c.do(http.MethodPost, "/listings", alice, gin.H{"asset_id": 1, "price": "0.01"})

	w, _ := c.do(http.MethodPost, "/assets/1/transfer", alice, gin.H{"to": carol})
	require.Equal(t, http.StatusNoContent, w.Code)

	w, out := c.do(http.MethodPost, "/listings/1/buy", bob, gin.H{"payment": "0.01"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, out["error"], "stale")
}

func TestErrorResponses(t *testing.T) {
	c := client{t, Handler(newTestDeps(t, grant{alice, "0.001"}))}
	c.do(http.MethodPost, "/assets", alice, gin.H{"payment": "0.001"})

	cases := []struct {
		name   string
		method string
		path   string
		who    string
		body   any
		want   int
	}{
		{"missing caller", http.MethodPost, "/assets", "", gin.H{"payment": "0.001"}, http.StatusUnauthorized},
		{"underpaid mint", http.MethodPost, "/assets", bob, gin.H{"payment": "0.0001"}, http.StatusPaymentRequired},
		{"unfunded mint", http.MethodPost, "/assets", bob, gin.H{"payment": "0.001"}, http.StatusPaymentRequired},
		{"bad id", http.MethodGet, "/assets/abc", "", nil, http.StatusBadRequest},
		{"unknown asset", http.MethodGet, "/assets/9", "", nil, http.StatusNotFound},
		{"stranger transfer", http.MethodPost, "/assets/1/transfer", bob, gin.H{"to": carol}, http.StatusForbidden},
		{"zero price listing", http.MethodPost, "/listings", alice, gin.H{"asset_id": 1, "price": "0"}, http.StatusBadRequest},
		{"malformed body", http.MethodPost, "/listings", alice, "nope", http.StatusBadRequest},
		{"no checkout", http.MethodPost, "/listings/1/invoice", bob, nil, http.StatusServiceUnavailable},
		{"no top-up", http.MethodPost, "/deposits", bob, gin.H{"amount": "0.01"}, http.StatusServiceUnavailable},
		{"no payout", http.MethodPost, "/withdrawals", alice, gin.H{"amount": "0.1", "dest": "taprt1x"}, http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w, _ := c.do(tc.method, tc.path, tc.who, tc.body)
			assert.Equal(t, tc.want, w.Code, w.Body.String())
		})
	}
}

func TestUnfundedBuy(t *testing.T) {
	c := client{t, Handler(newTestDeps(t, grant{alice, "0.001"}))}
	c.do(http.MethodPost, "/assets", alice, gin.H{"payment": "0.001"})
	c.do(http.MethodPost, "/listings", alice, gin.H{"asset_id": 1, "price": "0.01"})

	w, out := c.do(http.MethodPost, "/listings/1/buy", bob, gin.H{"payment": "1000"})
	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.Contains(t, out["error"], "insufficient funds")

	for _, who := range []string{alice, bob} {
		_, out = c.do(http.MethodGet, "/accounts/"+who, "", nil)
		assert.Equal(t, "0", out["balance"], who)
	}
	_, out = c.do(http.MethodGet, "/listings/1", "", nil)
	assert.Equal(t, "ACTIVE", out["status"])
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, statusFor(fmt.Errorf("listing 3: %w", domain.ErrNotFound)))
	assert.Equal(t, http.StatusConflict, statusFor(domain.ErrAlreadyListed))
	assert.Equal(t, http.StatusPaymentRequired, statusFor(domain.ErrInsufficientFunds))
	assert.Equal(t, http.StatusRequestEntityTooLarge, statusFor(domain.ErrTicketTooLarge))
	assert.Equal(t, http.StatusInternalServerError, statusFor(fmt.Errorf("disk full")))
}

func TestEventStream(t *testing.T) {
	deps := newTestDeps(t, grant{alice, "0.001"}, grant{bob, "0.001"})
	srv := httptest.NewServer(Handler(deps))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/events?principal=" + alice
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return deps.Bus.Subscribers() == 1 }, time.Second, 10*time.Millisecond)

	_, err = deps.Registry.Mint(bob, decimal.RequireFromString("0.001"))
	require.NoError(t, err)
	_, err = deps.Registry.Mint(alice, decimal.RequireFromString("0.001"))
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var e domain.Event
	require.NoError(t, conn.ReadJSON(&e))
	assert.Equal(t, domain.EventMint, e.Kind)
	assert.Equal(t, uint64(2), e.AssetID, "bob's mint is filtered out")
	assert.Equal(t, domain.Principal("0xa11ce"), e.To)
}
