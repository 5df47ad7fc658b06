package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/decred/slog"
	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/sync/errgroup"

	"github.com/vglenn/cardroom/pkg/audit"
	"github.com/vglenn/cardroom/pkg/rng"
	"github.com/vglenn/cardroom/pkg/server"
	"github.com/vglenn/cardroom/pkg/wallet"
)

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	var (
		addr         string
		auditDir     string
		clickhouse   string
		chDatabase   string
		chUser       string
		chPassword   string
		kafkaBrokers string
		walletDSN    string
		walletDriver string
		tokenSecret  string
		debugLevel   string
	)
	flag.StringVar(&addr, "addr", getEnv("CARDROOM_ADDR", "127.0.0.1:8080"), "HTTP listen address")
	flag.StringVar(&auditDir, "auditdir", getEnv("CARDROOM_AUDIT_DIR", "audit-data"), "Filesystem audit store root")
	flag.StringVar(&clickhouse, "clickhouse", getEnv("CARDROOM_CLICKHOUSE", ""), "ClickHouse address for the audit store (empty = filesystem store)")
	flag.StringVar(&chDatabase, "clickhouse-db", getEnv("CARDROOM_CLICKHOUSE_DB", "cardroom"), "ClickHouse database")
	flag.StringVar(&chUser, "clickhouse-user", getEnv("CARDROOM_CLICKHOUSE_USER", "default"), "ClickHouse user")
	flag.StringVar(&chPassword, "clickhouse-pass", getEnv("CARDROOM_CLICKHOUSE_PASS", ""), "ClickHouse password")
	flag.StringVar(&kafkaBrokers, "kafka", getEnv("CARDROOM_KAFKA", ""), "Kafka broker for security alerts (empty = disabled)")
	flag.StringVar(&walletDriver, "walletdriver", getEnv("CARDROOM_WALLET_DRIVER", "sqlite"), "Wallet store: sqlite or postgres")
	flag.StringVar(&walletDSN, "walletdsn", getEnv("CARDROOM_WALLET_DSN", "cardroom-wallet.sqlite"), "Wallet DSN (file path for sqlite)")
	flag.StringVar(&tokenSecret, "tokensecret", getEnv("CARDROOM_TOKEN_SECRET", ""), "HMAC secret for session tokens")
	flag.StringVar(&debugLevel, "debuglevel", getEnv("CARDROOM_DEBUG_LEVEL", "info"), "Logging level: trace, debug, info, warn, error")
	flag.Parse()

	backend := slog.NewBackend(os.Stdout)
	level, _ := slog.LevelFromString(debugLevel)
	logger := func(tag string) slog.Logger {
		l := backend.Logger(tag)
		l.SetLevel(level)
		return l
	}
	log := logger("SRVR")

	if tokenSecret == "" {
		fmt.Fprintln(os.Stderr, "a token secret is required (-tokensecret or CARDROOM_TOKEN_SECRET)")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var sink audit.Sink
	var err error
	if clickhouse != "" {
		sink, err = audit.NewCHStore(ctx, clickhouse, chDatabase, chUser, chPassword, logger("AUDT"))
	} else {
		sink, err = audit.NewFSStore(auditDir, logger("AUDT"))
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open audit store: %v\n", err)
		os.Exit(1)
	}
	defer sink.Close()

	if kafkaBrokers != "" {
		publisher, err := audit.NewAlertPublisher([]string{kafkaBrokers}, "cardroom.security-alerts", logger("AUDT"))
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to connect kafka: %v\n", err)
			os.Exit(1)
		}
		defer publisher.Close()
		sink = audit.NewTeeAlerts(sink, publisher, logger("AUDT"))
	}

	writer := audit.NewWriter(sink, logger("AUDT"))
	defer writer.Close()

	// The backup writer needs the filesystem layout even when records go
	// to ClickHouse.
	backup, err := audit.NewFSStore(auditDir, logger("AUDT"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open backup store: %v\n", err)
		os.Exit(1)
	}
	defer backup.Close()

	var ledger wallet.Ledger
	switch walletDriver {
	case "postgres":
		ledger, err = wallet.NewPostgres(walletDSN)
	default:
		ledger, err = wallet.NewSQLite(walletDSN)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open wallet store: %v\n", err)
		os.Exit(1)
	}
	defer ledger.Close()

	src, err := rng.NewSystem()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init rng: %v\n", err)
		os.Exit(1)
	}

	srv := server.New(server.Deps{
		Dealer: rng.NewDealer(src, writer, logger("RNG ")),
		Audit:  writer,
		Sink:   sink,
		Backup: backup,
		Ledger: ledger,
		Tokens: server.NewHMACVerifier([]byte(tokenSecret)),
		Log:    logger("TABL"),
	})
	srv.Start(ctx)

	httpSrv := &http.Server{
		Addr:         addr,
		Handler:      srv.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Infof("listening on %s", addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
		return httpSrv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		// Retention sweep once a day.
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				cutoff := time.Now().Add(-audit.RetentionPeriod)
				if err := sink.Cleanup(gctx, cutoff); err != nil {
					log.Errorf("audit retention sweep: %v", err)
				}
			}
		}
	})

	if err := g.Wait(); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
	log.Infof("shutdown complete")
}
