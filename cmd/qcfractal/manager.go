package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ChayaSt/QCFractal/pkg/client"
	"github.com/ChayaSt/QCFractal/pkg/log"
	"github.com/ChayaSt/QCFractal/pkg/queue"
)

// ManagerCLIConfig collects every manager setting shared across
// backends. Config-file values apply only where the corresponding flag
// was not set on the command line.
type ManagerCLIConfig struct {
	FractalURI      string `yaml:"fractal_uri"`
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	TLS             bool   `yaml:"tls"`
	NoVerify        bool   `yaml:"noverify"`
	MaxTasks        int    `yaml:"max_tasks"`
	ClusterName     string `yaml:"cluster_name"`
	QueueTag        string `yaml:"queue_tag"`
	UpdateFrequency int    `yaml:"update_frequency"`
	Rapidfire       bool   `yaml:"rapidfire"`
	LogLevel        string `yaml:"log_level"`

	// dask backend
	DaskURI      string `yaml:"dask_uri"`
	LocalCluster bool   `yaml:"local_cluster"`
	LocalWorkers int    `yaml:"local_workers"`
	Program      string `yaml:"program"`

	// fireworks backend
	FwURI string `yaml:"fw_uri"`
}

var managerCmd = &cobra.Command{
	Use:   "manager",
	Short: "Run a queue manager against a QCFractal server",
	Long: `Run a queue manager: lease tasks from a QCFractal server, hand
them to a compute backend, and report results back.

The backend is chosen by subcommand. Managers run continuously until
interrupted, or drain the queue once and exit with --rapidfire.`,
}

var managerDaskCmd = &cobra.Command{
	Use:   "dask",
	Short: "Run a manager backed by a distributed scheduler",
	Long: `Run a manager that hands tasks to a distributed (dask) scheduler
at --dask-uri, or to an in-process worker pool with --local-cluster.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadManagerConfig(cmd)
		if err != nil {
			return err
		}

		var adapterCfg queue.AdapterConfig
		switch {
		case cfg.LocalCluster:
			adapterCfg = queue.AdapterConfig{
				Kind:        queue.AdapterPool,
				Workers:     cfg.LocalWorkers,
				Program:     cfg.Program,
				TaskTimeout: time.Hour,
			}
		case cfg.DaskURI != "":
			adapterCfg = queue.AdapterConfig{
				Kind:             queue.AdapterDask,
				SchedulerAddress: cfg.DaskURI,
			}
		default:
			return fmt.Errorf("dask manager requires --dask-uri or --local-cluster")
		}
		return runManager(cfg, adapterCfg)
	},
}

var managerFireworksCmd = &cobra.Command{
	Use:   "fireworks",
	Short: "Run a manager backed by a fireworks launchpad",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadManagerConfig(cmd)
		if err != nil {
			return err
		}
		if cfg.FwURI == "" {
			return fmt.Errorf("fireworks manager requires --fw-uri")
		}
		return runManager(cfg, queue.AdapterConfig{
			Kind:         queue.AdapterFireworks,
			LaunchpadURL: cfg.FwURI,
		})
	},
}

func init() {
	managerCmd.AddCommand(managerDaskCmd)
	managerCmd.AddCommand(managerFireworksCmd)

	for _, cmd := range []*cobra.Command{managerDaskCmd, managerFireworksCmd} {
		cmd.Flags().String("fractal-uri", "localhost:7777", "Address of the QCFractal server")
		cmd.Flags().String("username", "", "Username for the server")
		cmd.Flags().String("password", "", "Password for the server")
		cmd.Flags().Bool("tls", false, "Connect to the server over TLS")
		cmd.Flags().Bool("noverify", false, "Skip TLS certificate verification (implies --tls); certificates are verified by default")
		cmd.Flags().Int("max-tasks", 1000, "Maximum tasks held locally")
		cmd.Flags().String("cluster-name", "unknown", "Cluster name reported in the manager heartbeat")
		cmd.Flags().String("queue-tag", "", "Only lease tasks carrying this tag")
		cmd.Flags().Int("update-frequency", 15, "Seconds between update cycles")
		cmd.Flags().Bool("rapidfire", false, "Drain the queue once and exit instead of running continuously")
		cmd.Flags().String("config-file", "", "YAML config file; command-line flags override it")
		cmd.Flags().String("log-level", "info", "Log level: debug, info, warn, error")
	}

	managerDaskCmd.Flags().String("dask-uri", "", "Address of the distributed scheduler")
	managerDaskCmd.Flags().Bool("local-cluster", false, "Run tasks in an in-process worker pool instead of a remote scheduler")
	managerDaskCmd.Flags().Int("local-workers", 0, "Pool size for --local-cluster (0 = CPU count)")
	managerDaskCmd.Flags().String("program", "qcengine", "Program the local pool executes")

	managerFireworksCmd.Flags().String("fw-uri", "", "Launchpad URL")
}

func loadManagerConfig(cmd *cobra.Command) (*ManagerCLIConfig, error) {
	cfg := &ManagerCLIConfig{}
	cfg.FractalURI, _ = cmd.Flags().GetString("fractal-uri")
	cfg.Username, _ = cmd.Flags().GetString("username")
	cfg.Password, _ = cmd.Flags().GetString("password")
	cfg.TLS, _ = cmd.Flags().GetBool("tls")
	cfg.NoVerify, _ = cmd.Flags().GetBool("noverify")
	cfg.MaxTasks, _ = cmd.Flags().GetInt("max-tasks")
	cfg.ClusterName, _ = cmd.Flags().GetString("cluster-name")
	cfg.QueueTag, _ = cmd.Flags().GetString("queue-tag")
	cfg.UpdateFrequency, _ = cmd.Flags().GetInt("update-frequency")
	cfg.Rapidfire, _ = cmd.Flags().GetBool("rapidfire")
	cfg.LogLevel, _ = cmd.Flags().GetString("log-level")

	if cmd.Flags().Lookup("dask-uri") != nil {
		cfg.DaskURI, _ = cmd.Flags().GetString("dask-uri")
		cfg.LocalCluster, _ = cmd.Flags().GetBool("local-cluster")
		cfg.LocalWorkers, _ = cmd.Flags().GetInt("local-workers")
		cfg.Program, _ = cmd.Flags().GetString("program")
	}
	if cmd.Flags().Lookup("fw-uri") != nil {
		cfg.FwURI, _ = cmd.Flags().GetString("fw-uri")
	}

	path, _ := cmd.Flags().GetString("config-file")
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		var file ManagerCLIConfig
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
		mergeManagerConfig(cmd, cfg, &file)
	}
	return cfg, nil
}

func mergeManagerConfig(cmd *cobra.Command, cfg, file *ManagerCLIConfig) {
	changed := func(name string) bool {
		f := cmd.Flags().Lookup(name)
		return f != nil && f.Changed
	}

	if !changed("fractal-uri") && file.FractalURI != "" {
		cfg.FractalURI = file.FractalURI
	}
	if !changed("username") && file.Username != "" {
		cfg.Username = file.Username
	}
	if !changed("password") && file.Password != "" {
		cfg.Password = file.Password
	}
	if !changed("tls") && file.TLS {
		cfg.TLS = true
	}
	if !changed("noverify") && file.NoVerify {
		cfg.NoVerify = true
	}
	if !changed("max-tasks") && file.MaxTasks != 0 {
		cfg.MaxTasks = file.MaxTasks
	}
	if !changed("cluster-name") && file.ClusterName != "" {
		cfg.ClusterName = file.ClusterName
	}
	if !changed("queue-tag") && file.QueueTag != "" {
		cfg.QueueTag = file.QueueTag
	}
	if !changed("update-frequency") && file.UpdateFrequency != 0 {
		cfg.UpdateFrequency = file.UpdateFrequency
	}
	if !changed("rapidfire") && file.Rapidfire {
		cfg.Rapidfire = true
	}
	if !changed("log-level") && file.LogLevel != "" {
		cfg.LogLevel = file.LogLevel
	}
	if !changed("dask-uri") && file.DaskURI != "" {
		cfg.DaskURI = file.DaskURI
	}
	if !changed("local-cluster") && file.LocalCluster {
		cfg.LocalCluster = true
	}
	if !changed("local-workers") && file.LocalWorkers != 0 {
		cfg.LocalWorkers = file.LocalWorkers
	}
	if !changed("program") && file.Program != "" {
		cfg.Program = file.Program
	}
	if !changed("fw-uri") && file.FwURI != "" {
		cfg.FwURI = file.FwURI
	}
}

func runManager(cfg *ManagerCLIConfig, adapterCfg queue.AdapterConfig) error {
	log.Init(log.Config{Level: log.Level(cfg.LogLevel)})
	logger := log.WithComponent("main")

	cl, err := client.NewFractalClient(client.Config{
		Address:     cfg.FractalURI,
		Username:    cfg.Username,
		Password:    cfg.Password,
		TLS:         cfg.TLS || cfg.NoVerify,
		TLSInsecure: cfg.NoVerify,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}

	adapter, err := queue.BuildAdapter(adapterCfg)
	if err != nil {
		cl.Close()
		return err
	}

	mgr := queue.NewManager(cl, adapter, queue.ManagerConfig{
		Cluster:         cfg.ClusterName,
		Tag:             cfg.QueueTag,
		MaxTasks:        cfg.MaxTasks,
		UpdateFrequency: time.Duration(cfg.UpdateFrequency) * time.Second,
	})
	mgr.AddExitCallback(func() { cl.Close() })

	if cfg.Rapidfire {
		logger.Info().Str("manager", mgr.Name()).Msg("Draining queue")
		err := mgr.AwaitResults()
		mgr.Stop()
		return err
	}

	mgr.Start()
	logger.Info().Str("manager", mgr.Name()).Msg("Manager is running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("Shutting down")
	mgr.Stop()
	return nil
}
