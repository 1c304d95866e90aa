package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/hlrelay/pkg/crypto"
	"github.com/uhyunpark/hlrelay/pkg/errs"
	"github.com/uhyunpark/hlrelay/pkg/exchange"
	"github.com/uhyunpark/hlrelay/pkg/signing"
	"github.com/uhyunpark/hlrelay/pkg/storage"
	"github.com/uhyunpark/hlrelay/pkg/trading"
)

const (
	RequestIDHeader = "X-Request-ID"
	maxBodyBytes    = 1 << 20
)

type ctxKey int

const requestIDKey ctxKey = iota

type Config struct {
	CORSOrigins []string
	// FrontendBuild is the directory of the built single-page app. Static
	// serving is disabled when it is empty.
	FrontendBuild   string
	ShutdownTimeout time.Duration
}

// Server handles REST API and WebSocket connections
type Server struct {
	svc     *trading.Service
	router  *mux.Router
	hub     *Hub
	journal storage.Journal
	cfg     Config
	log     *zap.SugaredLogger
}

// NewServer builds the router and registers the WebSocket hub as a receiver
// of the service's account events.
func NewServer(svc *trading.Service, journal storage.Journal, log *zap.Logger, cfg Config) *Server {
	if journal == nil {
		journal = storage.NewNopJournal()
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	s := &Server{
		svc:     svc,
		router:  mux.NewRouter(),
		hub:     NewHub(log, cfg.CORSOrigins),
		journal: journal,
		cfg:     cfg,
		log:     log.Sugar(),
	}
	svc.AddSink(s.hub)
	s.setupRoutes()
	return s
}

func (s *Server) Hub() *Hub { return s.hub }

func (s *Server) setupRoutes() {
	s.router.Use(s.requestID)

	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/market/info", s.handleMarketInfo).Methods(http.MethodGet)

	api.HandleFunc("/trading/order", s.handlePlaceOrder).Methods(http.MethodPost)

	api.HandleFunc("/wallet/check/{address}", s.handleCheckWallet).Methods(http.MethodGet)
	api.HandleFunc("/wallet/create", s.handleCreateWallet).Methods(http.MethodPost)
	api.HandleFunc("/wallet/authorize", s.handleAuthorizeWallet).Methods(http.MethodPost)

	api.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, http.StatusNotFound, "not found", r.URL.Path, errs.KindNotFound)
	})

	s.router.Handle("/ws", s.hub)
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	if s.cfg.FrontendBuild != "" {
		s.router.PathPrefix("/").Handler(spaHandler{root: s.cfg.FrontendBuild})
	}
}

// Handler returns the router wrapped in the CORS policy.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization", RequestIDHeader},
		ExposedHeaders:   []string{RequestIDHeader},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// Start serves on addr until ctx is cancelled, then drains in-flight requests.
func (s *Server) Start(ctx context.Context, addr string) error {
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go s.hub.Run(hubCtx)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Infow("api_listening", "addr", addr, "frontend", s.cfg.FrontendBuild)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	s.log.Infow("api_shutting_down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

// ==============================
// Middleware
// ==============================

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

// RequestID returns the id assigned to the request carrying ctx.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleMarketInfo(w http.ResponseWriter, r *http.Request) {
	raw, err := s.svc.MarketInfo(r.Context())
	if err != nil {
		s.fail(w, r, "market info", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(raw)
}

func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req OrderRequest
	if !s.decode(w, r, &req) {
		return
	}

	if req.WalletError != nil {
		err := s.svc.ReportWalletError(req.UserAddress, "order", req.WalletError)
		s.record(r, storage.JournalEntry{Event: "order", Owner: req.UserAddress, Status: "wallet_error", Detail: req.WalletError.Error()})
		s.fail(w, r, "order not signed", err)
		return
	}
	if req.Action == nil {
		respondError(w, http.StatusBadRequest, "Invalid order format", "Order must include action and nonce", errs.KindValidation)
		return
	}

	res, err := s.svc.PlaceOrder(r.Context(), trading.OrderRequest{
		UserAddress:  req.UserAddress,
		Action:       req.Action,
		Nonce:        req.Nonce,
		Signature:    req.Signature,
		VaultAddress: req.VaultAddress,
		ExpiresAfter: req.ExpiresAfter,
	})
	if err != nil {
		s.record(r, storage.JournalEntry{Event: "order", Owner: req.UserAddress, Nonce: req.Nonce, Status: "err", Detail: err.Error()})
		var rejected *exchange.RejectedError
		if errors.As(err, &rejected) {
			reason, _ := json.Marshal(rejected.Reason)
			respond(w, errs.KindExchangeRejected.HTTPStatus(), OrderResponse{
				Status:   exchange.StatusErr,
				Response: reason,
				Error:    rejected.Reason,
				Kind:     errs.KindExchangeRejected.String(),
			})
			return
		}
		s.fail(w, r, "Failed to place order", err)
		return
	}

	s.record(r, storage.JournalEntry{Event: "order", Owner: req.UserAddress, Signer: res.Signer, Nonce: res.Nonce, Status: exchange.StatusOK})
	respondJSON(w, OrderResponse{Status: res.Response.Status, Response: res.Response.Payload})
}

func (s *Server) handleCheckWallet(w http.ResponseWriter, r *http.Request) {
	owner := mux.Vars(r)["address"]
	if _, err := crypto.NormalizeAddress(owner); err != nil {
		respondError(w, http.StatusBadRequest, "invalid address", err.Error(), errs.KindValidation)
		return
	}

	status, err := s.svc.CheckWallet(owner)
	if err != nil {
		s.fail(w, r, "wallet check", err)
		return
	}
	respondJSON(w, WalletCheckResponse{
		Exists:           status.Exists,
		APIWalletAddress: status.APIWalletAddress,
		Authorized:       status.Authorized,
	})
}

func (s *Server) handleCreateWallet(w http.ResponseWriter, r *http.Request) {
	var req CreateWalletRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.UserAddress == "" {
		respondError(w, http.StatusBadRequest, "userAddress is required", "", errs.KindValidation)
		return
	}

	res, err := s.svc.CreateWallet(r.Context(), req.UserAddress)
	if err != nil {
		s.fail(w, r, "wallet create", err)
		return
	}

	out := CreateWalletResponse{
		Success:            true,
		Exists:             !res.Created,
		APIWalletAddress:   res.APIWalletAddress,
		Authorized:         res.Authorized,
		NeedsAuthorization: res.NeedsAuthorization(),
		AuthMessage:        res.AuthMessage,
		TypedData:          res.TypedData,
	}
	switch {
	case res.Created:
		out.Message = "API wallet created. Please authorize it."
	case res.NeedsAuthorization():
		out.Message = "API wallet already exists. Please authorize it."
	default:
		out.Message = "API wallet already exists"
	}

	s.record(r, storage.JournalEntry{Event: "wallet_create", Owner: req.UserAddress, Signer: res.APIWalletAddress, Status: createStatus(res)})
	respondJSON(w, out)
}

func createStatus(res *trading.CreateResult) string {
	if res.Created {
		return "created"
	}
	return "exists"
}

func (s *Server) handleAuthorizeWallet(w http.ResponseWriter, r *http.Request) {
	var req AuthorizeWalletRequest
	if !s.decode(w, r, &req) {
		return
	}

	if req.WalletError != nil {
		err := s.svc.ReportWalletError(req.UserAddress, "authorize", req.WalletError)
		s.record(r, storage.JournalEntry{Event: "wallet_authorize", Owner: req.UserAddress, Status: "wallet_error", Detail: req.WalletError.Error()})
		s.fail(w, r, "authorization not signed", err)
		return
	}
	if req.UserAddress == "" || req.APIWalletAddress == "" || req.SignedAction == nil {
		respondError(w, http.StatusBadRequest, "userAddress, apiWalletAddress, and signedAction are required", "", errs.KindValidation)
		return
	}

	res, err := s.svc.AuthorizeWallet(r.Context(), trading.AuthorizeRequest{
		UserAddress:      req.UserAddress,
		APIWalletAddress: req.APIWalletAddress,
		Action:           req.SignedAction.Action,
		Nonce:            req.SignedAction.Nonce,
		Signature:        req.SignedAction.Signature,
	})
	if err != nil {
		s.record(r, storage.JournalEntry{Event: "wallet_authorize", Owner: req.UserAddress, Signer: req.APIWalletAddress, Nonce: req.SignedAction.Nonce, Status: "err", Detail: err.Error()})
		s.fail(w, r, "Failed to authorize API wallet", err)
		return
	}

	out := AuthorizeWalletResponse{Success: true, AlreadyAuthorized: res.AlreadyAuthorized}
	if res.Response != nil {
		out.Result, _ = json.Marshal(res.Response)
	}
	if res.Verification != nil {
		match := res.Verification.Match
		out.SignerVerified = &match
	}
	if res.AlreadyAuthorized {
		out.Message = "API wallet already authorized"
	} else {
		out.Message = "API wallet authorized successfully"
	}

	s.record(r, storage.JournalEntry{Event: "wallet_authorize", Owner: req.UserAddress, Signer: req.APIWalletAddress, Nonce: req.SignedAction.Nonce, Status: exchange.StatusOK})
	respondJSON(w, out)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, HealthResponse{
		Status:           "ok",
		Timestamp:        time.Now().UTC(),
		Network:          string(s.svc.Config().Network),
		SignerMismatches: s.svc.Mismatches(),
		WSClients:        s.hub.ClientCount(),
	})
}

// ==============================
// Static frontend
// ==============================

// spaHandler serves files from root and falls back to index.html so the
// frontend router can handle unknown paths.
type spaHandler struct {
	root string
}

func (h spaHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	path := filepath.Join(h.root, filepath.FromSlash(filepath.Clean("/"+r.URL.Path)))
	if fi, err := os.Stat(path); err == nil && !fi.IsDir() {
		http.ServeFile(w, r, path)
		return
	}
	http.ServeFile(w, r, filepath.Join(h.root, "index.html"))
}

// ==============================
// Helper Functions
// ==============================

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error(), errs.KindValidation)
		return false
	}
	return true
}

// fail maps err onto the error taxonomy and writes it.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, title string, err error) {
	kind := errs.KindOf(err)
	msg := err.Error()

	var we *signing.WalletError
	if errors.As(err, &we) {
		msg = we.UserMessage()
	}

	if kind == errs.KindInternal || kind == errs.KindPersistence || kind == errs.KindConfiguration {
		s.log.Errorw("request_failed", "request_id", RequestID(r.Context()), "path", r.URL.Path, "kind", kind.String(), "error", err)
	} else {
		s.log.Infow("request_failed", "request_id", RequestID(r.Context()), "path", r.URL.Path, "kind", kind.String(), "error", err)
	}
	respondError(w, kind.HTTPStatus(), title, msg, kind)
}

func (s *Server) record(r *http.Request, e storage.JournalEntry) {
	e.RequestID = RequestID(r.Context())
	e.Owner = strings.ToLower(e.Owner)
	if err := s.journal.Append(e); err != nil {
		s.log.Warnw("journal_append_failed", "request_id", e.RequestID, "event", e.Event, "error", err)
	}
}

func respondJSON(w http.ResponseWriter, data any) {
	respond(w, http.StatusOK, data)
}

func respond(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, title, message string, kind errs.Kind) {
	respond(w, status, ErrorResponse{
		Error:   title,
		Message: message,
		Kind:    kind.String(),
	})
}
