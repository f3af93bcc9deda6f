package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/fleetmc/fleetmc/pkg/backup"
	"github.com/fleetmc/fleetmc/pkg/events"
	"github.com/fleetmc/fleetmc/pkg/log"
	"github.com/fleetmc/fleetmc/pkg/metrics"
	"github.com/fleetmc/fleetmc/pkg/notifier"
	"github.com/fleetmc/fleetmc/pkg/probe"
	"github.com/fleetmc/fleetmc/pkg/registry"
	"github.com/fleetmc/fleetmc/pkg/sampler"
	"github.com/fleetmc/fleetmc/pkg/scheduler"
	"github.com/fleetmc/fleetmc/pkg/supervisor"
	"github.com/fleetmc/fleetmc/pkg/topology"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "fleetmcd",
	Short:   "fleetmcd is the single-host Minecraft fleet supervisor",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"fleetmcd version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("data-dir", "./data", "Directory for the server/task/webhook catalogs")
	rootCmd.PersistentFlags().String("servers-root", "./minecraft_servers", "Root directory for instance workspaces")
	rootCmd.PersistentFlags().String("backups-root", "./backups", "Root directory for backup archives")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the fleetmcd supervisor daemon",
	Long: `serve wires the registry, process supervisor, resource sampler, proxy
topology coordinator, backend probe, task scheduler, backup manager, and
notifier together and runs until SIGINT or SIGTERM.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dataDir, _ := cmd.Flags().GetString("data-dir")
		serversRoot, _ := cmd.Flags().GetString("servers-root")
		backupsRoot, _ := cmd.Flags().GetString("backups-root")
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

		bus := events.NewBus()
		bus.Start()

		reg, err := registry.New(registry.Options{
			DataRoot:    dataDir,
			ServersRoot: serversRoot,
		}, nil)
		if err != nil {
			return fmt.Errorf("create registry: %w", err)
		}
		fmt.Println("✓ Registry loaded")

		samp := sampler.New(bus)

		sup := supervisor.New(reg, bus, samp)
		reg.SetStopper(sup)
		fmt.Println("✓ Process supervisor ready")

		downloader := topology.NewHTTPDownloader(resolveArtifactURL)
		topo := topology.New(reg, downloader)
		sup.SetProxyCoordinator(topo)
		topo.SetProcessController(sup)
		fmt.Println("✓ Topology coordinator wired")

		prober := probe.New(reg, bus)
		prober.SetBackendLister(topo)
		sup.SetProber(prober)
		fmt.Println("✓ Proxy probe wired")

		backupMgr, err := backup.New(backup.Options{BackupRoot: backupsRoot}, reg, sup)
		if err != nil {
			return fmt.Errorf("create backup manager: %w", err)
		}
		fmt.Println("✓ Backup manager ready")

		sched, err := scheduler.New(scheduler.Options{DataRoot: dataDir}, sup, backupMgr)
		if err != nil {
			return fmt.Errorf("create scheduler: %w", err)
		}
		sched.Start()
		fmt.Println("✓ Scheduler started")

		notif, err := notifier.New(notifier.Options{DataRoot: dataDir}, reg, bus)
		if err != nil {
			return fmt.Errorf("create notifier: %w", err)
		}
		notif.Start()
		fmt.Println("✓ Notifier started")

		metricsCollector := metrics.NewCollector(reg, sched, samp, bus)
		metricsCollector.Start()
		fmt.Println("✓ Metrics collector started")

		metrics.SetVersion(Version)
		metrics.SetCriticalComponents("registry", "supervisor", "api")
		metrics.RegisterComponent("registry", true, "loaded")
		metrics.RegisterComponent("supervisor", true, "ready")
		metrics.RegisterComponent("api", false, "not served by fleetmcd")

		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			mux.Handle("/health", metrics.HealthHandler())
			mux.Handle("/ready", metrics.ReadyHandler())
			mux.Handle("/live", metrics.LivenessHandler())
			if err := http.ListenAndServe(metricsAddr, mux); err != nil && err != http.ErrServerClosed {
				fmt.Printf("metrics server error: %v\n", err)
			}
		}()
		fmt.Printf("✓ Metrics endpoint: http://%s/metrics\n", metricsAddr)
		fmt.Printf("✓ Health endpoints: http://%s/{health,ready,live}\n", metricsAddr)

		fmt.Println()
		fmt.Println("fleetmcd is running. Press Ctrl+C to stop.")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh
		fmt.Println("\nShutting down...")

		sup.StopAll()
		sched.StopAll()
		notif.Stop()
		metricsCollector.Stop()
		bus.Stop()

		fmt.Println("✓ Shutdown complete")
		return nil
	},
}

func init() {
	serveCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "Bind address for the metrics/health HTTP endpoints")
}
