package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ChayaSt/QCFractal/pkg/api"
	"github.com/ChayaSt/QCFractal/pkg/log"
	"github.com/ChayaSt/QCFractal/pkg/metrics"
	"github.com/ChayaSt/QCFractal/pkg/queue"
	"github.com/ChayaSt/QCFractal/pkg/storage"
)

// ServerConfig collects every server setting. Config-file values apply
// only where the corresponding flag was not set on the command line;
// the command line always wins.
type ServerConfig struct {
	Name           string `yaml:"name"`
	Port           int    `yaml:"port"`
	Security       string `yaml:"security"`
	DatabaseURI    string `yaml:"database_uri"`
	TLSCert        string `yaml:"tls_cert"`
	TLSKey         string `yaml:"tls_key"`
	LogPrefix      string `yaml:"log_prefix"`
	LogLevel       string `yaml:"log_level"`
	QueryLimit     int    `yaml:"query_limit"`
	MetricsPort    int    `yaml:"metrics_port"`
	AdapterProgram string `yaml:"adapter_program"`
	FireworksURI   string `yaml:"fireworks_uri"`
}

var serverCmd = &cobra.Command{
	Use:   "server NAME",
	Short: "Run a QCFractal server",
	Long: `Run the central QCFractal server: open the database, listen for
client and manager connections, and optionally run an embedded queue
manager wired directly to the store.

NAME identifies the server to its clients and, absent --database-uri,
names the database file NAME.fractal.db.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadServerConfig(cmd, args[0])
		if err != nil {
			return err
		}

		embedded := 0
		for _, flag := range []string{"dask-manager", "dask-manager-single", "fireworks-manager"} {
			if on, _ := cmd.Flags().GetBool(flag); on {
				embedded++
			}
		}
		if embedded > 1 {
			return fmt.Errorf("at most one embedded manager flag may be given")
		}
		if (cfg.TLSCert == "") != (cfg.TLSKey == "") {
			return fmt.Errorf("--tls-cert and --tls-key must be given together")
		}
		if cfg.Security != "none" && cfg.Security != "local" {
			return fmt.Errorf("unknown security mode %q (none|local)", cfg.Security)
		}

		return runServer(cmd, cfg)
	},
}

func init() {
	serverCmd.Flags().Int("port", 7777, "Port to listen on")
	serverCmd.Flags().String("security", "none", "Security mode: none (no auth) or local (verify users)")
	serverCmd.Flags().String("database-uri", "", "Database file path (default NAME.fractal.db)")
	serverCmd.Flags().String("tls-cert", "", "TLS certificate file (requires --tls-key)")
	serverCmd.Flags().String("tls-key", "", "TLS private key file (requires --tls-cert)")
	serverCmd.Flags().String("log-prefix", "", "Route logs to rotating PREFIX.log files instead of stderr")
	serverCmd.Flags().String("log-level", "info", "Log level: debug, info, warn, error")
	serverCmd.Flags().Int("query-limit", 0, "Maximum documents returned per query (0 = default)")
	serverCmd.Flags().Int("metrics-port", 0, "Serve Prometheus /metrics and /health on this port (0 = off)")
	serverCmd.Flags().String("config-file", "", "YAML config file; command-line flags override it")

	serverCmd.Flags().Bool("dask-manager", false, "Run an embedded local-pool manager")
	serverCmd.Flags().Bool("dask-manager-single", false, "Run an embedded local-pool manager with one worker")
	serverCmd.Flags().Bool("fireworks-manager", false, "Run an embedded fireworks manager (requires --fireworks-uri)")
	serverCmd.Flags().String("adapter-program", "qcengine", "Program the embedded pool manager executes")
	serverCmd.Flags().String("fireworks-uri", "", "Launchpad URL for the embedded fireworks manager")
}

// loadServerConfig resolves flags against an optional config file.
func loadServerConfig(cmd *cobra.Command, name string) (*ServerConfig, error) {
	cfg := &ServerConfig{Name: name}
	cfg.Port, _ = cmd.Flags().GetInt("port")
	cfg.Security, _ = cmd.Flags().GetString("security")
	cfg.DatabaseURI, _ = cmd.Flags().GetString("database-uri")
	cfg.TLSCert, _ = cmd.Flags().GetString("tls-cert")
	cfg.TLSKey, _ = cmd.Flags().GetString("tls-key")
	cfg.LogPrefix, _ = cmd.Flags().GetString("log-prefix")
	cfg.LogLevel, _ = cmd.Flags().GetString("log-level")
	cfg.QueryLimit, _ = cmd.Flags().GetInt("query-limit")
	cfg.MetricsPort, _ = cmd.Flags().GetInt("metrics-port")
	cfg.AdapterProgram, _ = cmd.Flags().GetString("adapter-program")
	cfg.FireworksURI, _ = cmd.Flags().GetString("fireworks-uri")

	path, _ := cmd.Flags().GetString("config-file")
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		var file ServerConfig
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
		mergeServerConfig(cmd, cfg, &file)
	}

	if cfg.DatabaseURI == "" {
		cfg.DatabaseURI = cfg.Name + ".fractal.db"
	}
	return cfg, nil
}

func mergeServerConfig(cmd *cobra.Command, cfg, file *ServerConfig) {
	changed := func(name string) bool { return cmd.Flags().Changed(name) }

	if !changed("port") && file.Port != 0 {
		cfg.Port = file.Port
	}
	if !changed("security") && file.Security != "" {
		cfg.Security = file.Security
	}
	if !changed("database-uri") && file.DatabaseURI != "" {
		cfg.DatabaseURI = file.DatabaseURI
	}
	if !changed("tls-cert") && file.TLSCert != "" {
		cfg.TLSCert = file.TLSCert
	}
	if !changed("tls-key") && file.TLSKey != "" {
		cfg.TLSKey = file.TLSKey
	}
	if !changed("log-prefix") && file.LogPrefix != "" {
		cfg.LogPrefix = file.LogPrefix
	}
	if !changed("log-level") && file.LogLevel != "" {
		cfg.LogLevel = file.LogLevel
	}
	if !changed("query-limit") && file.QueryLimit != 0 {
		cfg.QueryLimit = file.QueryLimit
	}
	if !changed("metrics-port") && file.MetricsPort != 0 {
		cfg.MetricsPort = file.MetricsPort
	}
	if !changed("adapter-program") && file.AdapterProgram != "" {
		cfg.AdapterProgram = file.AdapterProgram
	}
	if !changed("fireworks-uri") && file.FireworksURI != "" {
		cfg.FireworksURI = file.FireworksURI
	}
}

func runServer(cmd *cobra.Command, cfg *ServerConfig) error {
	log.Init(log.Config{
		Level:      log.Level(cfg.LogLevel),
		FilePrefix: cfg.LogPrefix,
	})
	metrics.SetVersion(Version)
	logger := log.WithComponent("main")

	socket, err := storage.NewBoltSocket(storage.Config{
		Path:           cfg.DatabaseURI,
		MaxLimit:       cfg.QueryLimit,
		BypassSecurity: cfg.Security == "none",
	})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	metrics.SetComponent("storage", true, "")

	apiServer := api.NewServer(socket, api.Config{
		Address: fmt.Sprintf(":%d", cfg.Port),
		Name:    cfg.Name,
		Version: Version,
	})
	if cfg.TLSCert != "" {
		if err := apiServer.SetTLSConfig(cfg.TLSCert, cfg.TLSKey); err != nil {
			socket.Close()
			return err
		}
	}
	if err := apiServer.Start(); err != nil {
		socket.Close()
		return err
	}

	var metricsServer *http.Server
	var collector *metrics.Collector
	if cfg.MetricsPort > 0 {
		metricsServer, collector = startMetricsStack(socket, fmt.Sprintf(":%d", cfg.MetricsPort), logger)
		logger.Info().Int("port", cfg.MetricsPort).Msg("Metrics server listening")
	}

	var mgr *queue.Manager
	if adapterCfg, ok, err := embeddedAdapterConfig(cmd, cfg); err != nil {
		apiServer.Stop()
		socket.Close()
		return err
	} else if ok {
		adapter, err := queue.BuildAdapter(adapterCfg)
		if err != nil {
			apiServer.Stop()
			socket.Close()
			return fmt.Errorf("failed to build embedded manager: %w", err)
		}
		mgr = queue.NewManager(socket, adapter, queue.ManagerConfig{
			Cluster: cfg.Name,
		})
		mgr.Start()
		logger.Info().Str("manager", mgr.Name()).Msg("Embedded queue manager started")
	}

	logger.Info().
		Str("name", cfg.Name).
		Int("port", cfg.Port).
		Str("security", cfg.Security).
		Str("database", cfg.DatabaseURI).
		Msg("Server is running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("Shutting down")
	if mgr != nil {
		mgr.Stop()
	}
	if collector != nil {
		collector.Stop()
	}
	if metricsServer != nil {
		metricsServer.Close()
	}
	apiServer.Stop()
	if err := socket.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// startMetricsStack serves /metrics and the health endpoints and
// starts the stats collector that keeps the document-count gauges in
// step with the store.
func startMetricsStack(socket *storage.BoltSocket, addr string, logger zerolog.Logger) (*http.Server, *metrics.Collector) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", metrics.HealthHandler())
	mux.HandleFunc("/ready", metrics.ReadyHandler())
	mux.HandleFunc("/live", metrics.LivenessHandler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("Metrics server failed")
		}
	}()

	collector := metrics.NewCollector(socket)
	collector.Start()
	return srv, collector
}

// embeddedAdapterConfig translates the embedded-manager flags into an
// adapter config. The second return is false when no embedded manager
// was requested.
func embeddedAdapterConfig(cmd *cobra.Command, cfg *ServerConfig) (queue.AdapterConfig, bool, error) {
	dask, _ := cmd.Flags().GetBool("dask-manager")
	daskSingle, _ := cmd.Flags().GetBool("dask-manager-single")
	fireworks, _ := cmd.Flags().GetBool("fireworks-manager")

	switch {
	case dask || daskSingle:
		workers := 0
		if daskSingle {
			workers = 1
		}
		return queue.AdapterConfig{
			Kind:        queue.AdapterPool,
			Workers:     workers,
			Program:     cfg.AdapterProgram,
			TaskTimeout: time.Hour,
		}, true, nil
	case fireworks:
		if cfg.FireworksURI == "" {
			return queue.AdapterConfig{}, false, fmt.Errorf("--fireworks-manager requires --fireworks-uri")
		}
		return queue.AdapterConfig{
			Kind:         queue.AdapterFireworks,
			LaunchpadURL: cfg.FireworksURI,
		}, true, nil
	}
	return queue.AdapterConfig{}, false, nil
}
