package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"mantleforge/internal/api"
	"mantleforge/internal/chain"
	"mantleforge/internal/common"
	"mantleforge/internal/config"
	"mantleforge/internal/eip712"
	"mantleforge/internal/history"
	"mantleforge/internal/logger"
	"mantleforge/internal/manager"
	"mantleforge/internal/mint"
	"mantleforge/internal/risk"
	"mantleforge/internal/sentinel"
	"mantleforge/internal/ws"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the ticker websocket",
	RunE:  runServe,
}

func initServer(ctx context.Context, name string, server *http.Server, done chan<- error, log *zap.Logger) {
	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("server", name), zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			done <- fmt.Errorf("%s server: %w", name, err)
			return
		}
	case <-ctx.Done():
	}

	log.Info("shutting down gracefully, press Ctrl+C again to force", zap.String("server", name))

	// The context is used to inform the server it has 5 seconds to finish
	// the request it is currently handling
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("server forced to shutdown", zap.String("server", name), zap.Error(err))
	}

	done <- nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log, err := logger.New(logger.Config{Level: cfg.LogLevel, Stage: cfg.AppEnv})
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	log.Info("starting mantleforge", zap.Any("config", cfg.Redacted()))

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ledger
	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return fmt.Errorf("dial rpc: %w", err)
	}
	defer client.Close()

	signer, err := eip712.NewSigner(cfg.AgentPK)
	if err != nil {
		return err
	}
	ledger, err := chain.NewLedger(client, ethcommon.HexToAddress(cfg.ContractAddress), signer.PrivateKey(), cfg.ChainID, log.Named("ledger"))
	if err != nil {
		return err
	}
	if err := ledger.CheckChainID(ctx); err != nil {
		return err
	}

	domain, err := eip712.BuildDomain(cfg.DomainName, cfg.DomainVersion, cfg.ChainID, cfg.ContractAddress)
	if err != nil {
		return fmt.Errorf("build EIP-712 domain: %w", err)
	}

	// risk consultant
	var consultant mint.RiskConsultant
	var riskClient *risk.Client
	if cfg.PythonSaaSURL != "" {
		riskClient = risk.NewClient(cfg.PythonSaaSURL, log.Named("risk"))
		consultant = riskClient
	}

	// mint history
	store, err := history.Open(ctx, cfg.DatabaseURL, log)
	if err != nil {
		return err
	}
	defer store.Close()
	historySvc := history.NewService(store, ledger, log.Named("history"),
		history.WithFromBlock(cfg.HistoryFromBlock),
		history.WithOracle(signer.Address()),
	)

	var recorder manager.Recorder
	if store.Available() {
		recorder = historySvc
	}

	broadcaster := common.NewBroadcaster(log.Named("ticker"))
	mgr := manager.NewManager(broadcaster, recorder, log.Named("manager"))
	flow, err := mint.NewFlow(mint.Config{
		Domain:          domain,
		RiskThreshold:   cfg.RiskRejectionThreshold,
		ConsultTimeout:  cfg.RiskConsultTimeout,
		LedgerTimeout:   cfg.LedgerTimeout,
		WaitForReceipt:  cfg.WaitForReceipt,
		DataLogEndpoint: cfg.DataLogEndpoint,
	}, signer, consultant, ledger, log.Named("mint"), mint.WithTransitionHook(mgr.Track))
	if err != nil {
		return err
	}
	mgr.SetAuthorizer(flow)

	sentinelEnabled := false
	if cfg.EnableRiskSentinel {
		if !store.Available() || riskClient == nil {
			log.Warn("risk sentinel needs DATABASE_URL and PYTHON_SAAS_URL; not starting")
		} else {
			s, err := sentinel.New(historySvc, riskClient, ledger, log.Named("sentinel"), sentinel.WithInterval(cfg.RiskCheckInterval))
			if err != nil {
				return err
			}
			s.Start()
			defer s.Stop()
			sentinelEnabled = true
		}
	}

	// create the servers
	apiServer := api.NewAPIServer(api.Config{
		Port:          cfg.Port,
		CORSOrigin:    cfg.CORSOrigin,
		MintRateLimit: cfg.MintRateLimit,
		MintRateBurst: cfg.MintRateBurst,
	}, api.Info{
		ChainID:           cfg.ChainID,
		ContractAddress:   cfg.ContractAddress,
		OracleAddress:     signer.Address().Hex(),
		RiskConsultantURL: cfg.PythonSaaSURL,
		HistoryEnabled:    store.Available(),
		SentinelEnabled:   sentinelEnabled,
	}, mgr, historySvc, ledger, log.Named("api"))
	wsServer := ws.NewWSServer(broadcaster, cfg.WSPort, cfg.CORSOrigin, log.Named("ws"))

	log.Info("oracle ready",
		zap.String("oracle_address", signer.Address().Hex()),
		zap.String("network", common.ChainID(cfg.ChainID).Name()),
		zap.String("contract", cfg.ContractAddress),
	)

	apiDone := make(chan error, 1)
	wsDone := make(chan error, 1)
	go initServer(ctx, "api", apiServer, apiDone, log)
	go initServer(ctx, "ws", wsServer, wsDone, log)

	// Wait for the graceful shutdown to complete
	var serveErr error
	for i := 0; i < 2; i++ {
		select {
		case err := <-apiDone:
			serveErr = errors.Join(serveErr, err)
		case err := <-wsDone:
			serveErr = errors.Join(serveErr, err)
		}
		// one server failing takes the other down too
		stop()
	}

	log.Info("servers down, now closing the manager")
	mgr.Close()
	log.Info("graceful shutdown complete")

	return serveErr
}
