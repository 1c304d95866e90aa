package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/uhyunpark/hlrelay/pkg/action"
	"github.com/uhyunpark/hlrelay/pkg/crypto"
	"github.com/uhyunpark/hlrelay/pkg/exchange"
	"github.com/uhyunpark/hlrelay/pkg/exchange/exchangetest"
	"github.com/uhyunpark/hlrelay/pkg/registry"
	"github.com/uhyunpark/hlrelay/pkg/signing"
	"github.com/uhyunpark/hlrelay/pkg/storage"
	"github.com/uhyunpark/hlrelay/pkg/trading"
)

type testEnv struct {
	exch        *exchangetest.Server
	reg         *registry.Registry
	server      *Server
	http        *httptest.Server
	journalPath string
	owner       *crypto.Signer
}

func newTestEnv(t *testing.T, frontend string) *testEnv {
	t.Helper()
	dir := t.TempDir()

	exch := exchangetest.NewServer(action.Testnet)
	t.Cleanup(exch.Close)

	store, err := storage.NewFileStore(filepath.Join(dir, "api-wallets.json"))
	require.NoError(t, err)
	reg := registry.New(store, zap.NewNop())

	journalPath := filepath.Join(dir, "journal.log")
	journal, err := storage.NewFileJournal(journalPath)
	require.NoError(t, err)
	t.Cleanup(func() { journal.Close() })

	client := exchange.NewClient(exch.URL)
	cfg := trading.DefaultConfig()
	cfg.Network = action.Testnet
	svc := trading.NewService(cfg, client, reg,
		exchange.NewAssetDirectory(client, time.Hour, nil),
		signing.NewSigner(signing.NewVerifier(zap.NewNop(), signing.LogOnly)))

	srv := NewServer(svc, journal, zap.NewNop(), Config{
		CORSOrigins:   []string{"http://localhost:3000"},
		FrontendBuild: frontend,
	})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go srv.Hub().Run(ctx)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	owner, err := crypto.GenerateKey()
	require.NoError(t, err)

	return &testEnv{exch: exch, reg: reg, server: srv, http: ts, journalPath: journalPath, owner: owner}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(raw)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, e.http.URL+path, rdr)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, buf.Bytes()
}

func (e *testEnv) ownerHex() string { return strings.ToLower(e.owner.Address().Hex()) }

// setupWallet creates and authorizes the owner's API wallet over HTTP.
func (e *testEnv) setupWallet(t *testing.T) CreateWalletResponse {
	t.Helper()
	resp, body := e.do(t, http.MethodPost, "/api/wallet/create", CreateWalletRequest{UserAddress: e.ownerHex()})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var created CreateWalletResponse
	require.NoError(t, json.Unmarshal(body, &created))
	require.NotNil(t, created.AuthMessage)

	td, err := action.ApproveAgentTypedData(created.AuthMessage)
	require.NoError(t, err)
	sig, err := crypto.SignTypedData(e.owner, td)
	require.NoError(t, err)

	resp, body = e.do(t, http.MethodPost, "/api/wallet/authorize", AuthorizeWalletRequest{
		UserAddress:      e.ownerHex(),
		APIWalletAddress: created.APIWalletAddress,
		SignedAction: &SignedApproval{
			Action:    created.AuthMessage,
			Nonce:     created.AuthMessage.Nonce,
			Signature: sig.Wire(crypto.Prefixed),
		},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	return created
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, "")
	resp, body := env.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var h HealthResponse
	require.NoError(t, json.Unmarshal(body, &h))
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, "Testnet", h.Network)
	assert.Zero(t, h.SignerMismatches)
}

func TestRequestIDAssignedAndEchoed(t *testing.T) {
	env := newTestEnv(t, "")

	resp, _ := env.do(t, http.MethodGet, "/health", nil)
	_, err := uuid.Parse(resp.Header.Get(RequestIDHeader))
	assert.NoError(t, err)

	id := uuid.NewString()
	req, err := http.NewRequest(http.MethodGet, env.http.URL+"/health", nil)
	require.NoError(t, err)
	req.Header.Set(RequestIDHeader, id)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, id, resp.Header.Get(RequestIDHeader))
}

func TestMarketInfoPassthrough(t *testing.T) {
	env := newTestEnv(t, "")
	resp, body := env.do(t, http.MethodGet, "/api/market/info", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var parts []json.RawMessage
	require.NoError(t, json.Unmarshal(body, &parts))
	require.Len(t, parts, 2)
	assert.Contains(t, string(parts[0]), `"BTC"`)
}

func TestWalletLifecycleOverHTTP(t *testing.T) {
	env := newTestEnv(t, "")

	resp, body := env.do(t, http.MethodGet, "/api/wallet/check/"+env.ownerHex(), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"exists":false,"authorized":false}`, string(body))

	created := env.setupWallet(t)
	assert.True(t, created.Success)
	assert.False(t, created.Exists)
	assert.True(t, created.NeedsAuthorization)
	require.NotNil(t, created.TypedData)
	assert.Equal(t, "HyperliquidTransaction:ApproveAgent", created.TypedData.PrimaryType)

	resp, body = env.do(t, http.MethodGet, "/api/wallet/check/"+env.ownerHex(), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var status WalletCheckResponse
	require.NoError(t, json.Unmarshal(body, &status))
	assert.True(t, status.Exists)
	assert.True(t, status.Authorized)
	assert.Equal(t, created.APIWalletAddress, status.APIWalletAddress)

	resp, body = env.do(t, http.MethodPost, "/api/wallet/create", CreateWalletRequest{UserAddress: env.ownerHex()})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var again CreateWalletResponse
	require.NoError(t, json.Unmarshal(body, &again))
	assert.True(t, again.Exists)
	assert.False(t, again.NeedsAuthorization)
	assert.Nil(t, again.AuthMessage)
	assert.Equal(t, created.APIWalletAddress, again.APIWalletAddress)
}

func TestPrivateKeyNeverLeaves(t *testing.T) {
	env := newTestEnv(t, "")
	env.setupWallet(t)

	rec, err := env.reg.Get(env.ownerHex())
	require.NoError(t, err)
	secret := strings.TrimPrefix(rec.APIWalletPrivateKey.Reveal(), "0x")
	require.NotEmpty(t, secret)

	for _, path := range []string{"/api/wallet/check/" + env.ownerHex(), "/health"} {
		_, body := env.do(t, http.MethodGet, path, nil)
		assert.NotContains(t, strings.ToLower(string(body)), strings.ToLower(secret), path)
	}
	_, body := env.do(t, http.MethodPost, "/api/wallet/create", CreateWalletRequest{UserAddress: env.ownerHex()})
	assert.NotContains(t, strings.ToLower(string(body)), strings.ToLower(secret))

	journal, err := os.ReadFile(env.journalPath)
	require.NoError(t, err)
	assert.NotContains(t, strings.ToLower(string(journal)), strings.ToLower(secret))
}

func TestPlaceOrderOverHTTP(t *testing.T) {
	env := newTestEnv(t, "")
	env.setupWallet(t)

	a, err := action.NewOrderAction(action.OrderIntent{Asset: 1, IsBuy: false, Size: "0.5", Price: "3400"})
	require.NoError(t, err)

	resp, body := env.do(t, http.MethodPost, "/api/trading/order", OrderRequest{UserAddress: env.ownerHex(), Action: a})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var out OrderResponse
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, "ok", out.Status)
	assert.Contains(t, string(out.Response), "resting")

	lines := journalLines(t, env.journalPath)
	last := lines[len(lines)-1]
	assert.Equal(t, "order", last.Event)
	assert.Equal(t, "ok", last.Status)
	assert.Equal(t, resp.Header.Get(RequestIDHeader), last.RequestID)
}

func TestPlaceOrderRejectionIsVerbatim(t *testing.T) {
	env := newTestEnv(t, "")
	env.setupWallet(t)
	env.exch.RespondErr("insufficient funds")

	a, err := action.NewOrderAction(action.OrderIntent{Asset: 0, IsBuy: true, Size: "1", Price: "95000"})
	require.NoError(t, err)

	resp, body := env.do(t, http.MethodPost, "/api/trading/order", OrderRequest{UserAddress: env.ownerHex(), Action: a, Nonce: 7})
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

	var out OrderResponse
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, "err", out.Status)
	assert.JSONEq(t, `"insufficient funds"`, string(out.Response))
	assert.Equal(t, "insufficient funds", out.Error)
	assert.Equal(t, "exchange_rejected", out.Kind)
}

func TestPlaceOrderErrors(t *testing.T) {
	env := newTestEnv(t, "")

	tests := []struct {
		name   string
		body   string
		status int
		kind   string
	}{
		{"malformed json", `{"action":`, http.StatusBadRequest, "validation"},
		{"missing action", `{"nonce":1}`, http.StatusBadRequest, "validation"},
		{"unauthorized owner", `{"userAddress":"` + env.ownerHex() + `","action":{"type":"order","orders":[{"a":0,"b":true,"p":"95000","s":"1","r":false,"t":{"limit":{"tif":"Gtc"}}}],"grouping":"na"}}`, http.StatusPreconditionFailed, "identity_unavailable"},
		{"wallet rejected", `{"walletError":{"code":4001,"message":"User denied"}}`, http.StatusConflict, "user_rejected"},
		{"wallet locked", `{"walletError":{"code":4100}}`, http.StatusPreconditionFailed, "identity_unavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(env.http.URL+"/api/trading/order", "application/json", strings.NewReader(tt.body))
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tt.status, resp.StatusCode)

			var e ErrorResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&e))
			assert.Equal(t, tt.kind, e.Kind)
			assert.NotEmpty(t, e.Error)
		})
	}
	assert.Empty(t, env.exch.Received())
}

func TestAuthorizeRequiresFields(t *testing.T) {
	env := newTestEnv(t, "")
	resp, body := env.do(t, http.MethodPost, "/api/wallet/authorize", AuthorizeWalletRequest{UserAddress: env.ownerHex()})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(body), "signedAction")
}

func TestCheckWalletRejectsBadAddress(t *testing.T) {
	env := newTestEnv(t, "")
	resp, body := env.do(t, http.MethodGet, "/api/wallet/check/not-an-address", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(body), `"kind":"validation"`)
}

func TestUnknownAPIRouteIsJSON404(t *testing.T) {
	env := newTestEnv(t, t.TempDir())
	resp, body := env.do(t, http.MethodGet, "/api/nope", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, string(body), `"kind":"not_found"`)
}

func TestSPAFallback(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "index.html"), []byte("<html>relay</html>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "app.js"), []byte("console.log(1)"), 0o644))
	env := newTestEnv(t, root)

	_, body := env.do(t, http.MethodGet, "/app.js", nil)
	assert.Equal(t, "console.log(1)", string(body))

	resp, body := env.do(t, http.MethodGet, "/trade/BTC", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "<html>relay</html>", string(body))

	_, body = env.do(t, http.MethodGet, "/../../etc/passwd", nil)
	assert.Equal(t, "<html>relay</html>", string(body))
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, "")
	req, err := http.NewRequest(http.MethodOptions, env.http.URL+"/api/trading/order", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "http://localhost:3000", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestWebSocketReceivesAccountEvents(t *testing.T) {
	env := newTestEnv(t, "")

	wsURL := "ws" + strings.TrimPrefix(env.http.URL, "http") + "/ws?channel=account:" + env.owner.Address().Hex()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		return env.server.Hub().ClientCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	received := make(chan WSMessage, 1)
	go func() {
		var msg WSMessage
		if err := conn.ReadJSON(&msg); err == nil {
			received <- msg
		}
	}()

	env.setupWallet(t)

	select {
	case msg := <-received:
		assert.Equal(t, "account:"+env.ownerHex(), msg.Channel)
		assert.Equal(t, trading.EventWalletCreated, msg.Type)
	case <-time.After(3 * time.Second):
		t.Fatal("no event delivered")
	}
}

func journalLines(t *testing.T, path string) []storage.JournalEntry {
	t.Helper()
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var out []storage.JournalEntry
	for _, line := range bytes.Split(bytes.TrimSpace(raw), []byte("\n")) {
		var e storage.JournalEntry
		require.NoError(t, json.Unmarshal(line, &e))
		out = append(out, e)
	}
	return out
}
