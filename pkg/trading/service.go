// Package trading ties the encoder, signer, registry and exchange gateway
// together into the operations the HTTP API exposes.
package trading

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/uhyunpark/hlrelay/pkg/action"
	"github.com/uhyunpark/hlrelay/pkg/crypto"
	"github.com/uhyunpark/hlrelay/pkg/exchange"
	"github.com/uhyunpark/hlrelay/pkg/registry"
	"github.com/uhyunpark/hlrelay/pkg/signing"
	"github.com/uhyunpark/hlrelay/pkg/util"
)

// Gateway is the subset of the exchange client the service uses.
type Gateway interface {
	Submit(ctx context.Context, env *exchange.SignedEnvelope) (*exchange.Response, error)
	MarketInfo(ctx context.Context) (json.RawMessage, error)
}

// Assets resolves per-asset trading metadata.
type Assets interface {
	Lookup(ctx context.Context, index int) (exchange.AssetMeta, error)
	Observe(meta *exchange.Meta)
}

type Config struct {
	Network          action.Network
	SignatureChainID string
	// VaultAddress is applied to orders signed by the server identity.
	VaultAddress string
	OrderStyle   crypto.PrefixStyle
	AgentStyle   crypto.PrefixStyle
}

func DefaultConfig() Config {
	return Config{
		Network:          action.Mainnet,
		SignatureChainID: action.DefaultSignatureChainID,
		OrderStyle:       crypto.Bare,
		AgentStyle:       crypto.Prefixed,
	}
}

type Service struct {
	cfg      Config
	gateway  Gateway
	registry *registry.Registry
	assets   Assets
	signer   *signing.Signer
	serverID signing.Identity
	clock    util.Clock
	events   EventSink
	log      *zap.SugaredLogger
}

type Option func(*Service)

// WithServerIdentity sets the wallet used for orders that name no owner.
func WithServerIdentity(id signing.Identity) Option { return func(s *Service) { s.serverID = id } }

func WithClock(c util.Clock) Option { return func(s *Service) { s.clock = c } }

func WithEventSink(e EventSink) Option { return func(s *Service) { s.events = e } }

func WithLogger(l *zap.Logger) Option { return func(s *Service) { s.log = l.Sugar() } }

func NewService(cfg Config, gateway Gateway, reg *registry.Registry, assets Assets, signer *signing.Signer, opts ...Option) *Service {
	s := &Service{
		cfg:      cfg,
		gateway:  gateway,
		registry: reg,
		assets:   assets,
		signer:   signer,
		clock:    util.RealClock{},
		events:   NopSink{},
		log:      zap.NewNop().Sugar(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) Config() Config { return s.cfg }

// AddSink adds another receiver for account events. It must be called
// before the service starts handling requests.
func (s *Service) AddSink(sink EventSink) {
	if _, nop := s.events.(NopSink); nop {
		s.events = sink
		return
	}
	s.events = MultiSink{s.events, sink}
}

// Mismatches is the number of signatures whose recovered signer differed
// from the expected one.
func (s *Service) Mismatches() int64 { return s.signer.Verifier().Mismatches() }

// MarketInfo passes the exchange's market snapshot through and refreshes the
// asset directory from it.
func (s *Service) MarketInfo(ctx context.Context) (json.RawMessage, error) {
	raw, err := s.gateway.MarketInfo(ctx)
	if err != nil {
		return nil, err
	}
	if meta, _, err := exchange.ParseMetaAndAssetCtxs(raw); err == nil {
		s.assets.Observe(meta)
	} else {
		s.log.Warnw("market_info_unparsed", "error", err)
	}
	return raw, nil
}

func (s *Service) nonce(n uint64) uint64 {
	if n != 0 {
		return n
	}
	return util.NonceMillis(s.clock)
}

func (s *Service) publish(typ, owner string, data any) {
	s.events.Publish(Event{Type: typ, Owner: owner, Time: s.clock.Now().UTC().Truncate(time.Millisecond), Data: data})
}
