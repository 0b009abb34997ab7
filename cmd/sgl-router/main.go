package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sgl-project/router/pkg/discovery"
	"github.com/sgl-project/router/pkg/discovery/k8s"
	"github.com/sgl-project/router/pkg/discovery/static"
	"github.com/sgl-project/router/pkg/forwarder"
	"github.com/sgl-project/router/pkg/log"
	"github.com/sgl-project/router/pkg/metrics"
	"github.com/sgl-project/router/pkg/policy"
	"github.com/sgl-project/router/pkg/registry"
	"github.com/sgl-project/router/pkg/router"
	"github.com/sgl-project/router/pkg/routerconfig"
	"github.com/sgl-project/router/pkg/tree"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
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
	Use:     "sgl-router",
	Short:   "Router for a fleet of LLM inference workers",
	Version: Version,
}

var cfg = routerconfig.Default()

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"sgl-router version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)

	flags := serveCmd.Flags()
	flags.StringVar(&cfg.Host, "host", cfg.Host, "bind address")
	flags.IntVar(&cfg.Port, "port", cfg.Port, "bind port")
	flags.StringSliceVar(&cfg.WorkerURLs, "worker-urls", cfg.WorkerURLs, "initial Ready worker set, bypasses the startup probe")
	flags.StringVar(&cfg.Policy, "policy", cfg.Policy, "random | round_robin | cache_aware")
	flags.IntVar(&cfg.WorkerStartupTimeoutSecs, "worker-startup-timeout-secs", cfg.WorkerStartupTimeoutSecs, "startup probe timeout")
	flags.IntVar(&cfg.WorkerStartupCheckInterval, "worker-startup-check-interval", cfg.WorkerStartupCheckInterval, "startup probe interval, seconds")
	flags.Float64Var(&cfg.CacheThreshold, "cache-threshold", cfg.CacheThreshold, "CacheAware match ratio threshold")
	flags.IntVar(&cfg.BalanceAbsThreshold, "balance-abs-threshold", cfg.BalanceAbsThreshold, "CacheAware absolute load imbalance threshold")
	flags.Float64Var(&cfg.BalanceRelThreshold, "balance-rel-threshold", cfg.BalanceRelThreshold, "CacheAware relative load imbalance threshold")
	flags.IntVar(&cfg.EvictionIntervalSecs, "eviction-interval-secs", cfg.EvictionIntervalSecs, "prefix tree eviction tick interval")
	flags.IntVar(&cfg.MaxTreeSize, "max-tree-size", cfg.MaxTreeSize, "prefix tree max cumulative edge character count")
	flags.IntVar(&cfg.MaxPayloadSize, "max-payload-size", cfg.MaxPayloadSize, "max inbound request body size, bytes")
	flags.BoolVar(&cfg.Verbose, "verbose", cfg.Verbose, "enable debug logging")
	flags.BoolVar(&cfg.Discovery.Enable, "discovery-enable", cfg.Discovery.Enable, "enable Kubernetes worker discovery")
	flags.StringVar(&cfg.Discovery.LabelSelector, "discovery-label-selector", cfg.Discovery.LabelSelector, "label selector for worker Endpoints")
	flags.StringVar(&cfg.Discovery.PortName, "discovery-port-name", cfg.Discovery.PortName, "named port to use, all ports if empty")
	flags.StringVar(&cfg.Discovery.Protocol, "discovery-protocol", cfg.Discovery.Protocol, "scheme for rendered worker URLs")
	flags.StringVar(&cfg.Discovery.WorkerPath, "discovery-worker-path", cfg.Discovery.WorkerPath, "path suffix for rendered worker URLs")
	flags.String("config", "", "optional YAML config file; values it sets override flags")
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	level := log.Level(logLevel)
	if cfg.Verbose {
		level = log.DebugLevel
	}
	log.Init(log.Config{
		Level:      level,
		JSONOutput: logJSON,
	})
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the router",
	RunE: func(cmd *cobra.Command, args []string) error {
		if path, _ := cmd.Flags().GetString("config"); path != "" {
			if err := routerconfig.LoadFile(&cfg, path); err != nil {
				return err
			}
		}
		routerconfig.ApplyDiscoveryEnvOverrides(&cfg)

		if err := cfg.Validate(); err != nil {
			return err
		}

		return run(cmd.Context(), cfg)
	},
}

func run(ctx context.Context, cfg routerconfig.Config) error {
	logger := log.WithComponent("main")

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	m := metrics.NewRegistry()
	prefixTree := tree.New()

	reg := registry.New(
		time.Duration(cfg.WorkerStartupCheckInterval)*time.Second,
		time.Duration(cfg.WorkerStartupTimeoutSecs)*time.Second,
		registry.WithOnRemove(prefixTree.RemoveWorker),
	)
	for _, url := range cfg.WorkerURLs {
		if err := reg.SeedReady(url); err != nil {
			return fmt.Errorf("seed worker %s: %w", url, err)
		}
	}

	pol, stopEviction := buildPolicy(cfg, reg, prefixTree, m)
	defer stopEviction()

	fwd := forwarder.New(reg, pol)
	rt := router.New(reg, fwd, m, int64(cfg.MaxPayloadSize))

	if cfg.Discovery.Enable {
		src, err := buildK8sSource(cfg)
		if err != nil {
			return err
		}
		reconciler := discovery.NewReconciler(reg, m)
		reconciler.Start(ctx)
		defer reconciler.Stop()
		go discovery.RunSupervised(ctx, src, reconciler.Commands(), discovery.DefaultBackoff)
	}

	logger.Info().Str("policy", cfg.Policy).Int("workers", reg.Len()).Msg("router starting")
	return rt.Start(ctx, fmt.Sprintf("%s:%d", cfg.Host, cfg.Port))
}

func buildPolicy(cfg routerconfig.Config, reg *registry.Registry, t *tree.Tree, m *metrics.Registry) (policy.Policy, func()) {
	roundRobin := policy.NewRoundRobin(reg, m)

	switch policy.Kind(cfg.Policy) {
	case policy.KindRandom:
		return policy.NewRandom(reg, m), func() {}
	case policy.KindCacheAware:
		cacheAware := policy.NewCacheAware(reg, t, cfg.CacheAwarePolicyConfig(), m, roundRobin)
		stop := cacheAware.(interface{ StartEviction() func() }).StartEviction()
		return cacheAware, stop
	default:
		return roundRobin, func() {}
	}
}

func buildK8sSource(cfg routerconfig.Config) (discovery.Source, error) {
	restConfig, err := rest.InClusterConfig()
	if err != nil {
		return static.New(), nil
	}
	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("build kubernetes client: %w", err)
	}
	return k8s.New(clientset, discovery.Config{
		LabelSelector: cfg.Discovery.LabelSelector,
		PortName:      cfg.Discovery.PortName,
		Protocol:      cfg.Discovery.Protocol,
		WorkerPath:    routerconfig.NormalizedWorkerPath(cfg.Discovery.WorkerPath),
	}), nil
}
