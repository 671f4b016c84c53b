package main

import (
	"context"
	"errors"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/b0ase/bsv20-treasury/config"
	"github.com/b0ase/bsv20-treasury/keystore"
	"github.com/b0ase/bsv20-treasury/ledger"
	"github.com/b0ase/bsv20-treasury/logger"
	"github.com/b0ase/bsv20-treasury/network"
	"github.com/b0ase/bsv20-treasury/payment"
	"github.com/b0ase/bsv20-treasury/paymail"
	"github.com/b0ase/bsv20-treasury/transfer"
	"github.com/b0ase/bsv20-treasury/treasury"
	"github.com/b0ase/bsv20-treasury/tx"
)

// app holds the services shared by the commands.
type app struct {
	cfg      *config.Config
	log      *zap.Logger
	store    ledger.Store
	ledger   *ledger.Service
	chain    network.BlockchainService
	indexer  *network.IndexerClient
	paymail  *paymail.Resolver
	keys     keystore.KeySource
	treasury *treasury.Service
	transfer *transfer.Service
	payments *payment.Verifier
}

// newApp wires every service from cfg. The caller must Close the app.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	log := logger.Default()
	a := &app{cfg: cfg, log: log}

	store, err := openStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	a.store = store
	a.ledger = ledger.NewService(store, ledger.WithSupply(cfg.Token.TotalSupply, cfg.Token.ForSale))

	a.chain, err = newChain(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	if node, ok := a.chain.(*network.RPCClient); ok && cfg.Treasury.Address != "" {
		if err := node.ImportAddress(ctx, cfg.Treasury.Address); err != nil {
			log.Warn("could not watch treasury address on node", zap.Error(err))
		}
	}

	a.indexer = network.NewIndexerClient(network.IndexerConfig{
		BaseURL: cfg.Indexer.URL,
		TokenID: cfg.Token.ID,
		Timeout: cfg.Chain.Timeout,
	}, log)

	paymailOpts := []paymail.Option{
		paymail.WithSenderHandle(cfg.Treasury.Paymail),
		paymail.WithLogger(log),
	}
	if cfg.Paymail.DNSSEC {
		paymailOpts = append(paymailOpts, paymail.WithDNSResolver(paymail.NewDNSSECResolver(strings.Split(cfg.Paymail.DNSServer, ",")...)))
	}
	a.paymail = paymail.NewResolver(paymailOpts...)

	a.keys = newKeySource(cfg)

	a.treasury = treasury.NewService(treasury.Config{
		Address:     cfg.Treasury.Address,
		TotalSupply: cfg.Token.TotalSupply,
	}, a.indexer, a.ledger, log)

	a.transfer = transfer.NewService(transfer.Config{
		Tick:       cfg.Token.Tick,
		MaxRetries: cfg.Transfer.MaxRetries,
	}, a.keys, a.chain,
		transfer.WithPaymailResolver(a.paymail),
		transfer.WithLedger(a.ledger),
		transfer.WithLogger(log),
	)

	if cfg.Payment.Verify {
		a.payments = payment.NewVerifier(payment.Config{
			TreasuryAddress:  cfg.Treasury.Address,
			MinConfirmations: cfg.Payment.MinConfirmations,
		}, a.chain, log)
	}
	return a, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

// openStore picks the ledger backend: postgres when a database URL is set,
// bbolt when a bolt path is set, memory otherwise.
func openStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (ledger.Store, error) {
	switch {
	case cfg.Database.URL != "":
		if err := ledger.MigrateUp(cfg.Database.URL, log); err != nil {
			return nil, err
		}
		store, err := ledger.NewPostgresStore(ctx, ledger.PostgresConfig{
			URL:      cfg.Database.URL,
			MaxConns: cfg.Database.MaxConns,
		})
		if err != nil {
			return nil, err
		}
		log.Info("ledger backend", zap.String("backend", "postgres"))
		return store, nil
	case cfg.Ledger.BoltPath != "":
		store, err := ledger.OpenBoltStore(cfg.Ledger.BoltPath)
		if err != nil {
			return nil, err
		}
		log.Info("ledger backend", zap.String("backend", "bolt"), zap.String("path", cfg.Ledger.BoltPath))
		return store, nil
	default:
		log.Warn("ledger backend is in-memory; balances are lost on exit")
		return ledger.NewMemoryStore(), nil
	}
}

func newChain(cfg *config.Config) (network.BlockchainService, error) {
	base, err := network.ExplorerBaseURL(cfg.Chain.Explorer.URL, cfg.Network)
	if err != nil && cfg.Chain.Backend != network.BackendRPC {
		return nil, err
	}
	explorer := network.ExplorerConfig{
		BaseURL: base,
		APIKey:  cfg.Chain.Explorer.APIKey,
		Timeout: cfg.Chain.Timeout,
	}

	var rpc network.RPCConfig
	if cfg.Chain.Backend == network.BackendRPC {
		resolved, err := network.ResolveRPCConfig(&network.RPCConfig{
			URL:      cfg.Chain.RPC.URL,
			User:     cfg.Chain.RPC.User,
			Password: cfg.Chain.RPC.Password,
			Timeout:  cfg.Chain.Timeout,
		}, envMap("B0ASE_RPC_URL", "B0ASE_RPC_USER", "B0ASE_RPC_PASS"), cfg.Network)
		if err != nil {
			return nil, err
		}
		rpc = *resolved
	}
	return network.NewBlockchainService(cfg.Chain.Backend, explorer, rpc)
}

// newKeySource prefers the encrypted key file and falls back to the WIF
// from the environment.
func newKeySource(cfg *config.Config) keystore.KeySource {
	var chain keystore.Chain
	if cfg.Treasury.KeyFile != "" {
		chain = append(chain, keystore.NewFileKeySource(cfg.Treasury.KeyFile, cfg.Treasury.KeyPassphrase))
	}
	return append(chain, keystore.EnvKeySource{WIF: cfg.Treasury.PrivateKey})
}

func envMap(keys ...string) map[string]string {
	env := make(map[string]string, len(keys))
	for _, k := range keys {
		if v, ok := os.LookupEnv(k); ok {
			env[k] = v
		}
	}
	return env
}

// checkTreasuryKey warns when the configured treasury address is
// not the address of the signing key.
func (a *app) checkTreasuryKey(ctx context.Context) {
	key, err := a.keys.PrivateKey(ctx)
	if err != nil {
		if errors.Is(err, keystore.ErrKeyNotConfigured) {
			a.log.Warn("treasury private key not configured; transfers are disabled")
			return
		}
		a.log.Error("treasury private key unusable", zap.Error(err))
		return
	}
	addr, err := tx.AddressFromKey(key)
	if err != nil {
		a.log.Error("derive treasury address", zap.Error(err))
		return
	}
	if addr.AddressString != a.cfg.Treasury.Address {
		a.log.Warn("signing key does not match the treasury address",
			zap.String("key_address", addr.AddressString),
			zap.String("treasury_address", a.cfg.Treasury.Address),
		)
	}
}
