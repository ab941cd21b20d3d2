package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/opscart/cloud-cost-orchestrator/pkg/analytics"
	"github.com/opscart/cloud-cost-orchestrator/pkg/api"
	"github.com/opscart/cloud-cost-orchestrator/pkg/approval"
	"github.com/opscart/cloud-cost-orchestrator/pkg/cluster"
	"github.com/opscart/cloud-cost-orchestrator/pkg/config"
	"github.com/opscart/cloud-cost-orchestrator/pkg/datasource"
	"github.com/opscart/cloud-cost-orchestrator/pkg/discovery"
	"github.com/opscart/cloud-cost-orchestrator/pkg/engine"
	"github.com/opscart/cloud-cost-orchestrator/pkg/metrics"
	"github.com/opscart/cloud-cost-orchestrator/pkg/models"
	"github.com/opscart/cloud-cost-orchestrator/pkg/notify"
	"github.com/opscart/cloud-cost-orchestrator/pkg/orchestrator"
	"github.com/opscart/cloud-cost-orchestrator/pkg/pricing"
	"github.com/opscart/cloud-cost-orchestrator/pkg/provider"
	"github.com/opscart/cloud-cost-orchestrator/pkg/storage"
)

var (
	configFile string
	verbose    bool

	// Discover flags
	namespaces    []string
	allNamespaces bool
	outputFormat  string
	admitResults  bool
	providerFlag  string
	regionFlag    string
	windowDays    int

	cfg *config.Config
)

func logVerbose(format string, args ...interface{}) {
	if verbose {
		fmt.Printf("[DEBUG] "+format+"\n", args...)
	}
}

func main() {
	cfg = config.NewConfig()

	rootCmd := &cobra.Command{
		Use:   "optimizer",
		Short: "Cloud cost optimization lifecycle orchestrator",
		Long:  `Discovers cost optimization opportunities, routes them through human approval, and executes approved changes with verification and rollback.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if configFile != "" {
				if err := cfg.LoadFile(configFile); err != nil {
					return err
				}
			}
			if verbose {
				cfg.Verbose = true
			}
			return cfg.Validate()
		},
	}
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestrator API server",
		Run:   runServe,
	}

	discoverCmd := &cobra.Command{
		Use:   "discover",
		Short: "Run a one-shot discovery scan",
		Run:   runDiscover,
	}
	discoverCmd.Flags().StringSliceVarP(&namespaces, "namespace", "n", nil, "Namespace to scan (repeatable)")
	discoverCmd.Flags().BoolVarP(&allNamespaces, "all-namespaces", "A", false, "Scan all namespaces")
	discoverCmd.Flags().StringVarP(&outputFormat, "output", "o", "text", "Output format: text, json")
	discoverCmd.Flags().BoolVar(&admitResults, "admit", false, "Admit found opportunities into the store")
	discoverCmd.Flags().StringVar(&providerFlag, "provider", "", "Cloud provider: aws, azure, gcp (auto-detect if empty)")
	discoverCmd.Flags().StringVar(&regionFlag, "region", "", "Cloud region (e.g., eastus, us-east-1)")
	discoverCmd.Flags().IntVar(&windowDays, "window-days", 7, "Utilization lookback window in days")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(discoverCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func openStore() (storage.Store, error) {
	if cfg.StorageEnabled {
		return storage.NewPostgresStore(cfg.DatabaseURL)
	}
	fmt.Println("[INFO] Storage disabled, state is held in memory")
	return storage.NewMemoryStore(), nil
}

func approvalChannels() ([]approval.Channel, error) {
	var channels []approval.Channel
	for _, name := range cfg.ApprovalChannels {
		switch name {
		case "log":
			channels = append(channels, approval.LogChannel{})
		case "slack":
			if cfg.SlackWebhookURL == "" {
				return nil, fmt.Errorf("slack channel requires SLACK_WEBHOOK_URL")
			}
			channels = append(channels, approval.NewSlackChannel(cfg.SlackWebhookURL))
		case "teams":
			if cfg.TeamsWebhookURL == "" {
				return nil, fmt.Errorf("teams channel requires TEAMS_WEBHOOK_URL")
			}
			channels = append(channels, approval.NewTeamsChannel(cfg.TeamsWebhookURL))
		}
	}
	return channels, nil
}

func notifySinks() []notify.Sink {
	sinks := []notify.Sink{notify.LogSink{}}
	if cfg.SlackWebhookURL != "" {
		sinks = append(sinks, notify.NewSlackSink(cfg.SlackWebhookURL))
	}
	return sinks
}

// buildDiscoverer wires a utilization source and pricing to a discoverer.
// Returns nil without error when no cluster or Prometheus is reachable, in
// which case discovery is simply unavailable.
func buildDiscoverer(ctx context.Context, scanNamespaces []string) (*discovery.Discoverer, error) {
	var source datasource.Source

	if cfg.PrometheusURL != "" {
		prom, err := datasource.NewPrometheusSource(cfg.PrometheusURL)
		if err != nil {
			fmt.Printf("[WARN] Prometheus initialization failed: %v\n", err)
		} else if prom.IsAvailable(ctx) {
			fmt.Printf("[INFO] Using Prometheus at %s\n", cfg.PrometheusURL)
			source = prom
		} else {
			fmt.Println("[WARN] Prometheus not reachable, falling back to metrics-server")
		}
	}

	conn, connErr := cluster.Connect()
	if source == nil {
		if connErr != nil {
			fmt.Printf("[WARN] No metrics source available: %v\n", connErr)
			return nil, nil
		}
		source = datasource.NewMetricsServerSource(conn.Clientset, conn.MetricsClient)
		fmt.Println("[INFO] Using metrics-server (instant readings)")
	}

	detectedProvider := models.CloudProvider(providerFlag)
	detectedRegion := regionFlag
	if detectedProvider == "" {
		detectedProvider = models.ProviderAWS
		detectedRegion = "unknown"
		if connErr == nil {
			p, region, err := pricing.DetectProvider(ctx, conn.Clientset)
			if err != nil {
				fmt.Printf("[WARN] Cloud detection failed: %v, using defaults\n", err)
			} else {
				detectedProvider, detectedRegion = p, region
			}
		}
	}
	if detectedRegion == "" {
		detectedRegion = "unknown"
	}
	logVerbose("Using provider: %s, region: %s", detectedProvider, detectedRegion)

	rates := pricing.ForCloud(detectedProvider, detectedRegion, &pricing.Config{
		Provider:      string(detectedProvider),
		Region:        detectedRegion,
		DefaultCPU:    23.0,
		DefaultMemory: 3.0,
	})

	return discovery.New(source, rates, discovery.Options{
		Namespaces:    scanNamespaces,
		Window:        time.Duration(windowDays) * 24 * time.Hour,
		MinSavings:    cfg.MinSavings,
		MinConfidence: cfg.MinConfidence,
		TTL:           cfg.OpportunityTTL,
	}), nil
}

func runServe(cmd *cobra.Command, args []string) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	channels, err := approvalChannels()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	coordinator := approval.NewCoordinator(store, cfg.ApprovalTimeout, cfg.MaxEscalations, channels...)

	eng := engine.New(provider.NewRegistry(), store, engine.Options{
		StepTimeout:     cfg.StepTimeout,
		MaxRetries:      cfg.MaxStepRetries,
		RetryBackoff:    cfg.RetryBackoff,
		RollbackTimeout: cfg.RollbackTimeout,
		Verbose:         cfg.Verbose,
	})

	collector := metrics.NewCollector(prometheus.DefaultRegisterer)
	notifier := notify.NewNotifier(notifySinks()...)
	orch := orchestrator.New(store, coordinator, eng, notifier, collector)

	sweeper := orchestrator.NewSweeper(orch, store, cfg.ExpirySweepEvery)
	go sweeper.Run(ctx)

	discoverer, err := buildDiscoverer(ctx, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if discoverer == nil {
		fmt.Println("[INFO] Discovery unavailable, POST /discovery/run is disabled")
	}

	server := api.NewServer(store, orch, analytics.NewAnalyzer(store), discoverer)
	fmt.Printf("[INFO] Listening on %s\n", cfg.ListenAddr)
	if err := server.ListenAndServe(ctx, cfg.ListenAddr); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runDiscover(cmd *cobra.Command, args []string) {
	if len(namespaces) == 0 && !allNamespaces {
		fmt.Fprintln(os.Stderr, "Error: either --namespace or --all-namespaces must be specified")
		os.Exit(1)
	}
	if outputFormat != "text" && outputFormat != "json" {
		fmt.Fprintln(os.Stderr, "Error: output must be text or json")
		os.Exit(1)
	}

	ctx := context.Background()

	scanNamespaces := namespaces
	if allNamespaces {
		list, err := listNamespaces(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error listing namespaces: %v\n", err)
			os.Exit(1)
		}
		scanNamespaces = list
		fmt.Printf("[INFO] Scanning %d namespaces\n", len(scanNamespaces))
	}

	discoverer, err := buildDiscoverer(ctx, scanNamespaces)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if discoverer == nil {
		fmt.Fprintln(os.Stderr, "Error: no utilization source available")
		os.Exit(1)
	}

	found, err := discoverer.Discover(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if admitResults {
		store, err := openStore()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer store.Close()
		for _, opp := range found {
			if err := store.SaveOpportunity(ctx, opp); err != nil {
				fmt.Fprintf(os.Stderr, "[WARN] Failed to save opportunity for %s: %v\n", opp.ServiceName, err)
			}
		}
	}

	switch outputFormat {
	case "json":
		outputJSON(found)
	default:
		outputText(found)
	}
}

func listNamespaces(ctx context.Context) ([]string, error) {
	conn, err := cluster.Connect()
	if err != nil {
		return nil, err
	}
	list, err := conn.Clientset.CoreV1().Namespaces().List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to list namespaces: %w", err)
	}
	names := make([]string, 0, len(list.Items))
	for _, ns := range list.Items {
		names = append(names, ns.Name)
	}
	return names, nil
}

func outputText(found []*models.OptimizationOpportunity) {
	if len(found) == 0 {
		fmt.Println("[INFO] No optimization opportunities found")
		return
	}

	fmt.Printf("\n=== Optimization Opportunities ===\n\n")

	total := 0.0
	for i, opp := range found {
		total += opp.PotentialSavings

		fmt.Printf("%d. %s (%s)\n", i+1, opp.ServiceName, opp.Resource.Key())
		fmt.Printf("   Type: %s\n", opp.Type)
		if opp.Description != "" {
			fmt.Printf("   Reason: %s\n", opp.Description)
		}
		color.Green("   Savings: $%.2f/month", opp.PotentialSavings)
		switch opp.RiskLevel {
		case models.RiskHigh:
			color.Red("   Risk: %s", opp.RiskLevel)
		case models.RiskMedium:
			color.Yellow("   Risk: %s", opp.RiskLevel)
		default:
			fmt.Printf("   Risk: %s\n", opp.RiskLevel)
		}
		fmt.Printf("   Confidence: %.0f%%\n", opp.ConfidenceScore*100)
		for _, step := range opp.ImplementationSteps {
			fmt.Printf("   Step: %s\n", step)
		}
		fmt.Println()
	}

	color.Cyan("Total potential savings: $%.2f/month", total)
}

func outputJSON(found []*models.OptimizationOpportunity) {
	total := 0.0
	for _, opp := range found {
		total += opp.PotentialSavings
	}
	output := map[string]interface{}{
		"opportunities": found,
		"total_savings": total,
		"count":         len(found),
		"timestamp":     time.Now().Format(time.RFC3339),
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(output); err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
		os.Exit(1)
	}
}
