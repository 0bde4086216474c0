// Command hived runs the credential-gated coordination engine: it loads an
// operator keystore, wires the credential/policy/escrow/ledger
// collaborators into an engine.Engine, and drives the orchestrator's
// scheduler for settlement, escrow expiry, revocation refresh, contract
// heartbeats and bond refunds.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/term"

	"hivecore/api"
	"hivecore/bond"
	"hivecore/config"
	"hivecore/credential"
	"hivecore/crypto"
	"hivecore/engine"
	"hivecore/escrow"
	"hivecore/identity"
	"hivecore/ledger"
	"hivecore/nodeio"
	"hivecore/obligation"
	"hivecore/observability/logging"
	"hivecore/observability/otel"
	"hivecore/orchestrator"
	"hivecore/policy"
	"hivecore/replay"
	"hivecore/schema"
)

func main() {
	configPath := flag.String("config", "./hived.toml", "path to the TOML configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "hived:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.Setup("hived", cfg.Environment, cfg.LogFile)
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	shutdownOTEL, err := otel.Init(ctx, otel.Config{
		ServiceName: "hived",
		Environment: cfg.Environment,
		Endpoint:    cfg.OTELEndpoint,
		Insecure:    cfg.OTELInsecure,
		Metrics:     true,
		Traces:      true,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTEL(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	operatorKey, err := loadOrCreateOperatorKey(cfg.KeystorePath)
	if err != nil {
		return fmt.Errorf("load operator key: %w", err)
	}
	operatorID := operatorKey.PubKey().Address(crypto.HivePrefix).String()
	logger.Info("operator identity loaded", "operator_id", operatorID)

	node, err := nodeio.NewClient(nodeio.Config{BaseURL: cfg.NodeRPCEndpoint})
	if err != nil {
		return fmt.Errorf("build node rpc client: %w", err)
	}

	receipts, err := ledger.Open(filepath.Join(cfg.DataDir, "receipts.db"))
	if err != nil {
		return fmt.Errorf("open receipt ledger: %w", err)
	}
	defer receipts.Close()

	obligations, err := obligation.Open(filepath.Join(cfg.DataDir, "obligations.db"))
	if err != nil {
		return fmt.Errorf("open obligation ledger: %w", err)
	}
	defer obligations.Close()

	if cfg.PostgresDSN != "" {
		readModel, err := obligation.OpenReadModel(cfg.PostgresDSN)
		if err != nil {
			return fmt.Errorf("open obligation read model: %w", err)
		}
		obligations = obligations.WithReadModel(readModel)
	}

	credStore := credential.NewStore()
	bondStore := bond.NewStore()
	vault := escrow.NewVault(crypto.SealKey(vaultSealKey(operatorKey)))
	escrowStore := escrow.NewStore(vault, escrow.Caps{})

	var dnsServers []string
	if cfg.IdentityTXTZone != "" {
		dnsServers = []string{cfg.IdentityTXTZone}
	}
	dnsBackend := identity.NewDNSResolver(dnsServers, 3*time.Second)
	resolver := identity.NewCachingResolver(dnsBackend, time.Hour, time.Now)

	noncePersistence, err := replay.NewLevelDBPersistence(filepath.Join(cfg.DataDir, "nonces"))
	if err != nil {
		return fmt.Errorf("open nonce persistence: %w", err)
	}
	defer noncePersistence.Close()
	replayGuard := replay.New(replay.DefaultSkew, time.Now, noncePersistence)

	preset := policy.Preset(cfg.PolicyPreset)
	polCfg, err := config.LoadPolicy(filepath.Join(cfg.DataDir, "policy.yaml"), preset)
	if err != nil {
		return fmt.Errorf("load policy config: %w", err)
	}
	if cfg.MaxDangerAutoexec != 0 {
		polCfg.MaxDangerAutoexec = cfg.MaxDangerAutoexec
	}
	if cfg.DailySpendCap != 0 {
		polCfg.DailySpendCap = cfg.DailySpendCap
	}
	if cfg.WeeklySpendCap != 0 {
		polCfg.WeeklySpendCap = cfg.WeeklySpendCap
	}
	polEngine := policy.New(*polCfg)
	confirmQueue := policy.NewConfirmationQueue(operatorKey.Bytes(), time.Now)

	translator := schema.NewTranslator(schema.DefaultMappings())

	eng := engine.New(engine.Deps{
		Resolver:       resolver,
		Credentials:    credStore,
		Replay:         replayGuard,
		Policy:         polEngine,
		Queue:          confirmQueue,
		Translator:     translator,
		Node:           node,
		Receipts:       receipts,
		Obligations:    obligations,
		Bonds:          bondStore,
		NodeKey:        operatorKey,
		NodeOperatorID: operatorID,
		NowFn:          time.Now,
	})

	registry := engine.NewContractRegistry()
	disputes := engine.NewDisputeRegistry(bondStore, obligations, 30, big.NewInt(50_000))
	settlement := &engine.SettlementAdapter{Engine: eng, Obligations: obligations, NowFn: time.Now}
	sched := orchestrator.New(orchestrator.Deps{
		Settlement: settlement,
		Escrow:     &engine.EscrowAdapter{Store: escrowStore},
		Revocation: &engine.RevocationAdapter{Engine: eng, Resolver: resolver},
		Heartbeats: &engine.HeartbeatAdapter{Registry: registry, Node: node},
		Bonds:      &engine.BondAdapter{Store: bondStore, NowFn: time.Now},
		Policy:     polEngine,
		OnTaskError: func(task string, err error) {
			logger.Error("scheduled task failed", "task", task, "error", err)
		},
	})

	apiServer := &http.Server{
		Addr:    cfg.ListenAddress,
		Handler: api.New(api.Deps{Engine: eng, Credentials: credStore, Contracts: registry, Disputes: disputes, Settlement: settlement, Escrow: escrowStore, NowFn: time.Now}),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("api server shutdown failed", "error", err)
		}
	}()
	go func() {
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server stopped unexpectedly", "error", err)
		}
	}()

	logger.Info("hived started", "listen", cfg.ListenAddress, "data_dir", cfg.DataDir)
	sched.Run(ctx)
	logger.Info("hived stopped")
	return nil
}

// loadOrCreateOperatorKey opens the operator keystore at path, prompting for
// its passphrase on a terminal, or generates and saves a fresh key behind a
// newly chosen passphrase the first time hived runs.
func loadOrCreateOperatorKey(path string) (*crypto.PrivateKey, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		passphrase, err := promptNewPassphrase()
		if err != nil {
			return nil, err
		}
		key, err := crypto.GeneratePrivateKey()
		if err != nil {
			return nil, fmt.Errorf("generate operator key: %w", err)
		}
		if err := crypto.SaveToKeystore(path, key, passphrase); err != nil {
			return nil, fmt.Errorf("save operator keystore: %w", err)
		}
		return key, nil
	}

	passphrase, err := promptExistingPassphrase()
	if err != nil {
		return nil, err
	}
	return crypto.LoadFromKeystore(path, passphrase)
}

func promptNewPassphrase() (string, error) {
	fmt.Fprint(os.Stderr, "No operator keystore found. Choose a passphrase to protect the new key: ")
	pass, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read passphrase: %w", err)
	}
	return string(pass), nil
}

func promptExistingPassphrase() (string, error) {
	fmt.Fprint(os.Stderr, "Operator keystore passphrase: ")
	pass, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read passphrase: %w", err)
	}
	return string(pass), nil
}

// vaultSealKey derives the in-process escrow vault's seal key from the
// operator key so a restart reuses the same key without persisting it
// alongside the sealed secrets it protects.
func vaultSealKey(operatorKey *crypto.PrivateKey) [32]byte {
	return crypto.Keccak256([]byte("hived-vault-seal"), operatorKey.Bytes())
}
