package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"

	"ircdb/internal/admin"
	"ircdb/internal/config"
	"ircdb/internal/metrics"
	"ircdb/internal/protocol"
	"ircdb/internal/server"
	"ircdb/internal/store"
)

func main() {
	configPath := flag.String("config", "", "configuration file (toml/yaml/json)")
	listenAddr := flag.String("listen", "", "IRC listen address (overrides config)")
	adminAddr := flag.String("admin", "", "admin HTTP listen address (overrides config)")
	dbDSN := flag.String("db", "", "database DSN (overrides config)")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "err", err)
		os.Exit(1)
	}
	if *dbDSN != "" {
		cfg.Database.DSN = *dbDSN
	}
	if *debug {
		cfg.Debug = true
	}

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)

	log.Info("connecting to database", "dsn", cfg.Database.DSN)
	st, err := store.Open(cfg.Database.DSN)
	if err != nil {
		log.Error("failed to open store", "err", err)
		os.Exit(1)
	}

	// Sweep whatever the last run left behind: users still flagged as
	// connected and memberships with no watcher to serve them.
	if err := st.ResetPresence(); err != nil {
		log.Error("failed to reset presence state", "err", err)
		os.Exit(1)
	}

	ircAddr := resolveListenAddr(cfg, st, *listenAddr, log)

	m := metrics.New()

	operators := make([]protocol.Operator, 0, len(cfg.Operators))
	for _, op := range cfg.Operators {
		operators = append(operators, protocol.Operator{
			Name:         op.Name,
			PasswordHash: op.PasswordHash,
		})
	}

	srv := server.New(st, server.Options{
		Addr:       ircAddr,
		ServerName: cfg.Server.Name,
		Operators:  operators,
		PollPeriod: time.Duration(cfg.Delivery.PollMillis) * time.Millisecond,
		Logger:     log,
		Metrics:    m,
	})
	if err := srv.Start(); err != nil {
		log.Error("failed to start server", "err", err)
		os.Exit(1)
	}

	var api *admin.API
	if cfg.Admin.Enabled {
		api = admin.New(st, m, log, cfg.Server.Name, cfg.Admin.BearerTokens)
		addr := cfg.AdminListenAddress()
		if *adminAddr != "" {
			addr = *adminAddr
		}
		go func() {
			if err := api.Start(addr); err != nil {
				log.Error("admin API failed", "err", err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("shutdown signal received")

	if api != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := api.Stop(ctx); err != nil {
			log.Error("admin API shutdown failed", "err", err)
		}
	}
	if err := srv.Stop(); err != nil {
		log.Error("server shutdown failed", "err", err)
	}
	log.Info("server stopped")
}

// resolveListenAddr applies the precedence config file < settings table <
// -listen flag. The settings rows ("ip", "port") are how the original
// deployment steered the listener without touching its environment.
func resolveListenAddr(cfg *config.Config, st *store.Store, flagAddr string, log *slog.Logger) string {
	if flagAddr != "" {
		return flagAddr
	}

	host := cfg.Server.Host
	port := cfg.Server.Port
	if v, err := st.GetSetting("ip"); err == nil && v != "" {
		host = v
	}
	if v, err := st.GetSetting("port"); err == nil && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			port = n
		} else {
			log.Warn("ignoring malformed port setting", "value", v)
		}
	}
	return host + ":" + strconv.Itoa(port)
}
