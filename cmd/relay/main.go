package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/uhyunpark/hlrelay/params"
	"github.com/uhyunpark/hlrelay/pkg/action"
	"github.com/uhyunpark/hlrelay/pkg/api"
	"github.com/uhyunpark/hlrelay/pkg/crypto"
	"github.com/uhyunpark/hlrelay/pkg/exchange"
	"github.com/uhyunpark/hlrelay/pkg/registry"
	"github.com/uhyunpark/hlrelay/pkg/signing"
	"github.com/uhyunpark/hlrelay/pkg/storage"
	"github.com/uhyunpark/hlrelay/pkg/trading"
	"github.com/uhyunpark/hlrelay/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg, err := params.LoadFromEnv("")
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := util.NewLoggerWithFile(cfg.Log.File, util.ParseLevel(cfg.Log.Level))
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	if err := run(cfg, logger); err != nil {
		sugar.Fatalw("relay_failed", "error", err)
	}
}

func run(cfg params.Config, logger *zap.Logger) error {
	sugar := logger.Sugar()

	network, err := action.ParseNetwork(cfg.Exchange.Network)
	if err != nil {
		return err
	}

	// ---- Registry ----
	backend, err := openBackend(cfg.Registry)
	if err != nil {
		return err
	}
	reg := registry.New(backend, logger)
	defer reg.Close()

	journal, err := openJournal(cfg.Server.JournalPath)
	if err != nil {
		return err
	}
	defer journal.Close()

	// ---- Exchange ----
	client := exchange.NewClient(cfg.Exchange.APIURL,
		exchange.WithTimeout(cfg.Exchange.Timeout),
		exchange.WithLogger(logger),
	)
	assets := exchange.NewAssetDirectory(client, exchange.DefaultMetaTTL, nil)

	// ---- Signing ----
	policy := signing.LogOnly
	if cfg.Signing.AbortOnMismatch {
		policy = signing.Abort
	}
	signer := signing.NewSigner(signing.NewVerifier(logger, policy))

	tcfg := trading.DefaultConfig()
	tcfg.Network = network
	tcfg.SignatureChainID = cfg.Exchange.SignatureChainID
	tcfg.VaultAddress = cfg.Exchange.VaultAddress
	tcfg.OrderStyle = prefixStyle(cfg.Signing.OrderSignaturePrefix)
	tcfg.AgentStyle = prefixStyle(cfg.Signing.AgentSignaturePrefix)

	opts := []trading.Option{trading.WithLogger(logger)}
	if cfg.Signing.ServerKey != "" {
		id, err := signing.LocalIdentityFromHex(cfg.Signing.ServerKey)
		if err != nil {
			return fmt.Errorf("API_WALLET_PRIVATE_KEY: %w", err)
		}
		opts = append(opts, trading.WithServerIdentity(id))
		sugar.Infow("server_wallet_loaded", "address", id.Address().Hex())
	} else {
		sugar.Info("server_wallet_disabled - orders must name a userAddress or carry a wallet signature")
	}

	svc := trading.NewService(tcfg, client, reg, assets, signer, opts...)

	// ---- API Server ----
	server := api.NewServer(svc, journal, logger, api.Config{
		CORSOrigins:   cfg.Server.CORSOrigins,
		FrontendBuild: cfg.Server.FrontendBuild,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	owners, err := reg.Owners()
	if err != nil {
		return err
	}
	sugar.Infow("relay_starting",
		"network", network,
		"exchange", cfg.Exchange.APIURL,
		"registry_backend", cfg.Registry.Backend,
		"registry_path", cfg.Registry.Path,
		"api_wallets", len(owners),
		"mismatch_policy", policy.String(),
	)

	if err := assets.Refresh(ctx); err != nil {
		sugar.Warnw("asset_meta_unavailable", "error", err)
	}

	return server.Start(ctx, cfg.Server.Addr)
}

func openBackend(cfg params.Registry) (registry.Backend, error) {
	switch cfg.Backend {
	case "pebble":
		return storage.NewPebbleStore(cfg.Path)
	default:
		return storage.NewFileStore(cfg.Path)
	}
}

func openJournal(path string) (storage.Journal, error) {
	if path == "" {
		return storage.NewNopJournal(), nil
	}
	return storage.NewFileJournal(path)
}

func prefixStyle(prefixed bool) crypto.PrefixStyle {
	if prefixed {
		return crypto.Prefixed
	}
	return crypto.Bare
}
