package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/uhyunpark/hlrelay/pkg/errs"
	"github.com/uhyunpark/hlrelay/pkg/util"
)

type AssetMeta struct {
	Name         string `json:"name"`
	SzDecimals   int32  `json:"szDecimals"`
	MaxLeverage  int    `json:"maxLeverage"`
	OnlyIsolated bool   `json:"onlyIsolated,omitempty"`
	IsDelisted   bool   `json:"isDelisted,omitempty"`
}

// Meta is the perp universe; an asset's index in Universe is its asset id.
type Meta struct {
	Universe []AssetMeta `json:"universe"`
}

// ParseMetaAndAssetCtxs splits a metaAndAssetCtxs reply into the universe
// and the raw per-asset contexts.
func ParseMetaAndAssetCtxs(raw json.RawMessage) (*Meta, []json.RawMessage, error) {
	var pair []json.RawMessage
	if err := json.Unmarshal(raw, &pair); err != nil {
		return nil, nil, fmt.Errorf("decode metaAndAssetCtxs: %w", err)
	}
	if len(pair) != 2 {
		return nil, nil, fmt.Errorf("decode metaAndAssetCtxs: want 2 elements, got %d", len(pair))
	}
	var meta Meta
	if err := json.Unmarshal(pair[0], &meta); err != nil {
		return nil, nil, fmt.Errorf("decode meta: %w", err)
	}
	var ctxs []json.RawMessage
	if err := json.Unmarshal(pair[1], &ctxs); err != nil {
		return nil, nil, fmt.Errorf("decode asset contexts: %w", err)
	}
	return &meta, ctxs, nil
}

// DefaultMetaTTL is how long fetched asset metadata is trusted.
const DefaultMetaTTL = 10 * time.Minute

type metaSource interface {
	Meta(ctx context.Context) (*Meta, error)
}

// AssetDirectory resolves asset ids from exchange metadata, reloading it
// when it is older than the ttl or an unknown asset is requested.
type AssetDirectory struct {
	src   metaSource
	ttl   time.Duration
	clock util.Clock

	mu       sync.RWMutex
	assets   []AssetMeta
	byName   map[string]int
	loadedAt time.Time
}

func NewAssetDirectory(src metaSource, ttl time.Duration, clock util.Clock) *AssetDirectory {
	if clock == nil {
		clock = util.RealClock{}
	}
	return &AssetDirectory{src: src, ttl: ttl, clock: clock, byName: map[string]int{}}
}

// Refresh reloads metadata from the exchange.
func (d *AssetDirectory) Refresh(ctx context.Context) error {
	meta, err := d.src.Meta(ctx)
	if err != nil {
		return err
	}
	d.Observe(meta)
	return nil
}

// Observe installs metadata fetched elsewhere, e.g. from a market snapshot.
func (d *AssetDirectory) Observe(meta *Meta) {
	byName := make(map[string]int, len(meta.Universe))
	for i, a := range meta.Universe {
		byName[strings.ToUpper(a.Name)] = i
	}
	d.mu.Lock()
	d.assets = append([]AssetMeta(nil), meta.Universe...)
	d.byName = byName
	d.loadedAt = d.clock.Now()
	d.mu.Unlock()
}

func (d *AssetDirectory) stale() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.loadedAt.IsZero() || (d.ttl > 0 && d.clock.Now().Sub(d.loadedAt) > d.ttl)
}

func (d *AssetDirectory) Lookup(ctx context.Context, index int) (AssetMeta, error) {
	if a, ok := d.cached(index); ok && !d.stale() {
		return a, nil
	}
	if err := d.Refresh(ctx); err != nil {
		if a, ok := d.cached(index); ok {
			return a, nil
		}
		return AssetMeta{}, err
	}
	if a, ok := d.cached(index); ok {
		return a, nil
	}
	return AssetMeta{}, errs.Validation("exchange.asset", "unknown asset index %d", index)
}

// Index resolves a coin name such as "BTC" to its asset id.
func (d *AssetDirectory) Index(ctx context.Context, name string) (int, error) {
	key := strings.ToUpper(name)
	d.mu.RLock()
	i, ok := d.byName[key]
	d.mu.RUnlock()
	if ok && !d.stale() {
		return i, nil
	}
	if err := d.Refresh(ctx); err != nil {
		return 0, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if i, ok := d.byName[key]; ok {
		return i, nil
	}
	return 0, errs.Validation("exchange.asset", "unknown asset %q", name)
}

func (d *AssetDirectory) cached(index int) (AssetMeta, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if index < 0 || index >= len(d.assets) {
		return AssetMeta{}, false
	}
	return d.assets[index], true
}
