// Command matchbot runs the order-match transaction pipeline: one
// orchestrator per configured chain, wired to a shared Postgres-backed
// match source and an operator HTTP/WS surface, following the teacher's
// main.go shape (env-driven config, background services in a WaitGroup,
// signal-driven graceful shutdown).
package main

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/outblock/match-executor/internal/api"
	"github.com/outblock/match-executor/internal/bigint"
	"github.com/outblock/match-executor/internal/broadcaster"
	"github.com/outblock/match-executor/internal/builder"
	"github.com/outblock/match-executor/internal/chainrpc"
	"github.com/outblock/match-executor/internal/config"
	"github.com/outblock/match-executor/internal/eventbus"
	"github.com/outblock/match-executor/internal/matchstore"
	"github.com/outblock/match-executor/internal/orchestrator"
	"github.com/outblock/match-executor/internal/packer"
	"github.com/outblock/match-executor/internal/validator"
	"github.com/outblock/match-executor/internal/verifier"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := os.Getenv("MATCHBOT_CONFIG")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	log.Printf("matchbot starting: %d chain(s) configured", len(cfg.Chains))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("connect to postgres: %v", err)
	}
	defer pool.Close()

	wrappedNativeGasBuffer, err := bigint.FromDecimal(cfg.Global.WrappedNativeGasBuffer)
	if err != nil {
		log.Fatalf("parse global.wrapped_native_gas_buffer: %v", err)
	}

	broadcasterTarget := os.Getenv("BROADCASTER_ADDR")
	if broadcasterTarget == "" {
		log.Fatal("BROADCASTER_ADDR is required")
	}
	bc, err := broadcaster.DialGRPC(ctx, broadcasterTarget)
	if err != nil {
		log.Fatalf("dial broadcaster: %v", err)
	}
	defer bc.Close()

	notifyChannel := os.Getenv("MATCHSTORE_NOTIFY_CHANNEL")
	registry := matchstore.NewRegistry()
	bus := eventbus.New()
	defer bus.Close()

	jwtSecret := os.Getenv("ADMIN_JWT_SECRET")
	if jwtSecret == "" {
		log.Fatal("ADMIN_JWT_SECRET is required")
	}
	apiServer := api.New(registry, bus, jwtSecret)

	var wg sync.WaitGroup
	for _, chainCfg := range cfg.Chains {
		client, err := chainrpc.Dial(chainCfg.ChainID, chainCfg.RPCEndpoints, chainCfg.RPCRateLimit)
		if err != nil {
			log.Fatalf("chain %s (%d): dial rpc: %v", chainCfg.Name, chainCfg.ChainID, err)
		}

		// Every chain gets its own order book reader and match source,
		// scoped by chain id, so one chain's orchestrator never observes
		// another chain's orders or matches.
		orderStore := matchstore.NewOrderStore(pool, chainCfg.ChainID)
		matchStore := matchstore.New(pool, notifyChannel, chainCfg.ChainID)
		registry.Register(chainCfg.ChainID, matchStore)

		orc := buildOrchestrator(chainCfg, cfg.Global, client, orderStore, matchStore, bc, bus, wrappedNativeGasBuffer.ToBig())
		apiServer.RegisterChain(orc)

		wg.Add(1)
		go func(chainName string, chainID uint64, orc *orchestrator.Orchestrator) {
			defer wg.Done()
			if err := orc.Run(ctx); err != nil && ctx.Err() == nil {
				log.Printf("[%s:%d] orchestrator stopped: %v", chainName, chainID, err)
			}
		}(chainCfg.Name, chainCfg.ChainID, orc)
	}

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.APIPort),
		Handler: apiServer.Router(),
	}
	go func() {
		log.Printf("operator API listening on :%d", cfg.APIPort)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("api server: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Println("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)

	cancel()
	wg.Wait()
}

// buildOrchestrator wires one chain's full C2-C5 pipeline plus the
// broadcaster and event bus into an Orchestrator instance.
func buildOrchestrator(
	chainCfg config.ChainConfig,
	global config.Global,
	client *chainrpc.Client,
	orderStore matchstore.OrderReader,
	matchStore matchstore.Source,
	bc *broadcaster.GRPCClient,
	bus *eventbus.Bus,
	wrappedNativeGasBuffer *big.Int,
) *orchestrator.Orchestrator {
	exchangeAddr := common.HexToAddress(chainCfg.ExchangeAddress)
	wrappedNativeAddr := common.HexToAddress(chainCfg.WrappedNativeAddress)
	signerAddr := common.HexToAddress(chainCfg.SignerAddress)

	exchange := chainrpc.NewExchange(client, exchangeAddr)
	tokens := chainrpc.NewTokens(client)

	b := builder.New(orderStore, chainCfg.ChainID, chainCfg.ExchangeAddress)
	v := verifier.New(exchange)
	a := validator.New(tokens, exchangeAddr, wrappedNativeAddr, global.PriceHeadroomNum, global.PriceHeadroomDen, wrappedNativeGasBuffer)
	p := packer.New(exchange, exchangeAddr, signerAddr, chainCfg.ChainID, global.MaxGasLimit, global.GasHeadroomNum, global.GasHeadroomDen, global.MinBundleSize, client)

	tick := time.Duration(global.TickIntervalSeconds) * time.Second
	return orchestrator.New(chainCfg.ChainID, matchStore, b, v, a, p, bc, bus, tick, global.InFlightWatermark)
}
