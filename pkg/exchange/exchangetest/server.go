// Package exchangetest provides an in-process stand-in for the exchange API.
//
// The stub recovers the signer of every envelope it receives using the same
// encoder the relay signs with, and rejects any (signer, nonce) pair it has
// already accepted. Like the exchange, it only accepts v of 27 or 28.
package exchangetest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hlrelay/pkg/action"
	"github.com/uhyunpark/hlrelay/pkg/crypto"
	"github.com/uhyunpark/hlrelay/pkg/exchange"
)

// Received is one envelope accepted by /exchange.
type Received struct {
	Envelope *exchange.SignedEnvelope
	Signer   common.Address
	Raw      []byte
}

type reply struct {
	status     int
	body       any
	rawPayload string
}

type nonceKey struct {
	signer common.Address
	nonce  uint64
}

type Server struct {
	*httptest.Server

	network action.Network

	mu           sync.Mutex
	used         map[nonceKey]bool
	received     []Received
	scripted     []reply
	agents       map[common.Address]common.Address
	infoFailures int
	infoCalls    int
	nextOid      int64
	meta         exchange.Meta
	assetCtxs    []json.RawMessage
}

// NewServer starts a stub for the given network with a two-asset universe.
func NewServer(network action.Network) *Server {
	s := &Server{
		network: network,
		used:    map[nonceKey]bool{},
		agents:  map[common.Address]common.Address{},
		nextOid: 1000,
		meta: exchange.Meta{Universe: []exchange.AssetMeta{
			{Name: "BTC", SzDecimals: 5, MaxLeverage: 50},
			{Name: "ETH", SzDecimals: 4, MaxLeverage: 50},
		}},
		assetCtxs: []json.RawMessage{
			json.RawMessage(`{"markPx":"97000.0","funding":"0.0000125","openInterest":"1000.0"}`),
			json.RawMessage(`{"markPx":"3400.0","funding":"0.0000100","openInterest":"9000.0"}`),
		},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/exchange", s.handleExchange)
	mux.HandleFunc("/info", s.handleInfo)
	s.Server = httptest.NewServer(mux)
	return s
}

// RespondErr queues an {"status":"err"} reply for the next accepted envelope.
func (s *Server) RespondErr(reason string) {
	s.enqueue(reply{status: http.StatusOK, body: map[string]any{"status": "err", "response": reason}})
}

// RespondOK queues an {"status":"ok"} reply carrying payload.
func (s *Server) RespondOK(payload any) {
	s.enqueue(reply{status: http.StatusOK, body: map[string]any{"status": "ok", "response": payload}})
}

// RespondHTTP queues a raw non-JSON reply with the given status code.
func (s *Server) RespondHTTP(status int, body string) {
	s.enqueue(reply{status: status, rawPayload: body})
}

// FailInfo makes the next n /info calls answer 503.
func (s *Server) FailInfo(n int) {
	s.mu.Lock()
	s.infoFailures = n
	s.mu.Unlock()
}

func (s *Server) SetUniverse(assets ...exchange.AssetMeta) {
	s.mu.Lock()
	s.meta = exchange.Meta{Universe: assets}
	s.assetCtxs = make([]json.RawMessage, len(assets))
	for i := range assets {
		s.assetCtxs[i] = json.RawMessage(`{}`)
	}
	s.mu.Unlock()
}

func (s *Server) Received() []Received {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Received(nil), s.received...)
}

func (s *Server) InfoCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.infoCalls
}

// AgentOwner reports which owner approved agent, if any.
func (s *Server) AgentOwner(agent common.Address) (common.Address, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	owner, ok := s.agents[agent]
	return owner, ok
}

func (s *Server) enqueue(r reply) {
	s.mu.Lock()
	s.scripted = append(s.scripted, r)
	s.mu.Unlock()
}

func (s *Server) handleExchange(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var env exchange.SignedEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		http.Error(w, "Failed to deserialize the JSON body into the target type", http.StatusUnprocessableEntity)
		return
	}

	signer, err := s.recover(&env)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"status": "err", "response": err.Error()})
		return
	}

	s.mu.Lock()
	key := nonceKey{signer: signer, nonce: env.Nonce}
	if s.used[key] {
		s.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{
			"status":   "err",
			"response": fmt.Sprintf("Invalid nonce: duplicate nonce %d for %s", env.Nonce, strings.ToLower(signer.Hex())),
		})
		return
	}
	s.used[key] = true
	s.received = append(s.received, Received{Envelope: &env, Signer: signer, Raw: raw})

	var next *reply
	if len(s.scripted) > 0 {
		next = &s.scripted[0]
		s.scripted = s.scripted[1:]
	}
	if next == nil {
		body := s.defaultReply(&env, signer)
		s.mu.Unlock()
		writeJSON(w, http.StatusOK, body)
		return
	}
	if approve, ok := env.Action.(*action.ApproveAgentAction); ok && isOK(next.body) {
		s.agents[common.HexToAddress(approve.AgentAddress)] = signer
	}
	s.mu.Unlock()

	if next.rawPayload != "" {
		w.WriteHeader(next.status)
		io.WriteString(w, next.rawPayload)
		return
	}
	writeJSON(w, next.status, next.body)
}

// defaultReply must be called with s.mu held.
func (s *Server) defaultReply(env *exchange.SignedEnvelope, signer common.Address) any {
	switch a := env.Action.(type) {
	case *action.ApproveAgentAction:
		s.agents[common.HexToAddress(a.AgentAddress)] = signer
		return map[string]any{"status": "ok", "response": map[string]any{"type": "default"}}
	case *action.OrderAction:
		statuses := make([]any, 0, len(a.Orders))
		for range a.Orders {
			s.nextOid++
			statuses = append(statuses, map[string]any{"resting": map[string]any{"oid": s.nextOid}})
		}
		return map[string]any{"status": "ok", "response": map[string]any{
			"type": "order",
			"data": map[string]any{"statuses": statuses},
		}}
	default:
		return map[string]any{"status": "ok", "response": map[string]any{"type": "default"}}
	}
}

func (s *Server) recover(env *exchange.SignedEnvelope) (common.Address, error) {
	td, err := action.TypedDataFor(env.Action, env.Nonce, env.Vault(), env.ExpiresAfter, s.network)
	if err != nil {
		return common.Address{}, err
	}
	if v := env.Signature.V; v != 27 && v != 28 {
		return common.Address{}, fmt.Errorf("invalid signature: v must be 27 or 28, got %d", v)
	}
	sig, err := crypto.ParseWire(env.Signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("invalid signature: %v", err)
	}
	return crypto.RecoverTypedSigner(td, sig)
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Type string `json:"type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Failed to deserialize the JSON body into the target type", http.StatusUnprocessableEntity)
		return
	}

	s.mu.Lock()
	s.infoCalls++
	if s.infoFailures > 0 {
		s.infoFailures--
		s.mu.Unlock()
		http.Error(w, "upstream unavailable", http.StatusServiceUnavailable)
		return
	}
	meta := s.meta
	ctxs := append([]json.RawMessage(nil), s.assetCtxs...)
	s.mu.Unlock()

	switch req.Type {
	case "meta":
		writeJSON(w, http.StatusOK, meta)
	case "metaAndAssetCtxs":
		writeJSON(w, http.StatusOK, []any{meta, ctxs})
	default:
		http.Error(w, "Failed to deserialize the JSON body into the target type", http.StatusUnprocessableEntity)
	}
}

func isOK(body any) bool {
	m, ok := body.(map[string]any)
	return ok && m["status"] == "ok"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
