package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"hubctl/internal/config"
	"hubctl/internal/logx"
	"hubctl/internal/metrics"
	"hubctl/internal/poller"
	"hubctl/internal/server"
)

const usage = `hubctl - tunnel gateway control and status aggregation

Usage:
  hubctl serve --config <path> [--listen :55555]
  hubctl status --config <path>
  hubctl profiles --config <path>
  hubctl activate --config <path> --name <profile>
  hubctl delete --config <path> --name <profile>
  hubctl import --config <path> --file <path> [--name <profile>]
  hubctl usage --config <path> [--window 24h] [--path <csv>]
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cmd := os.Args[1]
	switch cmd {
	case "-h", "--help", "help":
		fmt.Print(usage)
	case "serve":
		handleServe(os.Args[2:])
	case "status":
		handleStatus(os.Args[2:])
	case "profiles":
		handleProfiles(os.Args[2:])
	case "activate":
		handleActivate(os.Args[2:])
	case "delete":
		handleDelete(os.Args[2:])
	case "import":
		handleImport(os.Args[2:])
	case "usage":
		handleUsage(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
}

func handleServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	listen := fs.String("listen", "", "listen address")
	profilesDir := fs.String("profiles-dir", "", "profile directory")
	_ = fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fatal(err)
	}
	overrideServe(&cfg, *listen, *profilesDir)

	a := mustApp(cfg)
	defer a.Close()

	p := poller.New(a.builder, poller.Options{
		Interval: cfg.PollInterval.Std(),
		UsageLog: cfg.UsageLog,
	}, a.log.Named("poller"))
	srv := server.New(server.Options{Listen: cfg.Listen, APIKey: cfg.APIKey}, p, a.activator, a.metrics, a.log.Named("server"))

	ctx, cancel := signalContext()
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.Run(ctx) })
	g.Go(func() error { return srv.ListenAndServe(ctx) })
	fatal(g.Wait())
}

func handleStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	redacted := fs.Bool("redacted", false, "print the guest view")
	_ = fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fatal(err)
	}
	a := mustApp(cfg)
	defer a.Close()

	snap := a.builder.Build(context.Background())
	if *redacted {
		snap = snap.Redacted()
	}
	printJSON(snap)
}

func handleProfiles(args []string) {
	fs := flag.NewFlagSet("profiles", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	_ = fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fatal(err)
	}
	a := mustApp(cfg)
	defer a.Close()

	names, active, err := a.activator.List()
	if err != nil {
		fatal(err)
	}
	if len(names) == 0 {
		fmt.Fprintln(os.Stdout, "no profiles")
		return
	}
	for _, name := range names {
		marker := " "
		if name == active {
			marker = "*"
		}
		fmt.Fprintf(os.Stdout, "%s %s\n", marker, name)
	}
}

func handleActivate(args []string) {
	fs := flag.NewFlagSet("activate", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	name := fs.String("name", "", "profile to activate")
	_ = fs.Parse(args)

	if *name == "" {
		fatal(errors.New("--name is required"))
	}
	cfg, err := loadConfig(*configPath)
	if err != nil {
		fatal(err)
	}
	a := mustApp(cfg)
	defer a.Close()

	ctx, cancel := signalContext()
	defer cancel()

	res, err := a.activator.Activate(ctx, *name)
	fmt.Fprintln(os.Stdout, res.Message)
	if err != nil || !res.Success {
		a.Close()
		fatal(errOrFailed(err))
	}
}

func handleDelete(args []string) {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	name := fs.String("name", "", "profile to delete")
	_ = fs.Parse(args)

	if *name == "" {
		fatal(errors.New("--name is required"))
	}
	cfg, err := loadConfig(*configPath)
	if err != nil {
		fatal(err)
	}
	a := mustApp(cfg)
	defer a.Close()

	res, err := a.activator.Delete(context.Background(), *name)
	fmt.Fprintln(os.Stdout, res.Message)
	if err != nil || !res.Success {
		a.Close()
		fatal(errOrFailed(err))
	}
}

func handleImport(args []string) {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	name := fs.String("name", "", "profile name (derived from the config when empty)")
	file := fs.String("file", "", "tunnel config file")
	_ = fs.Parse(args)

	if *file == "" {
		fatal(errors.New("--file is required"))
	}
	data, err := os.ReadFile(*file)
	if err != nil {
		fatal(err)
	}
	cfg, err := loadConfig(*configPath)
	if err != nil {
		fatal(err)
	}
	a := mustApp(cfg)
	defer a.Close()

	p, err := a.activator.Import(context.Background(), *name, data)
	if err != nil {
		a.Close()
		fatal(err)
	}
	fmt.Fprintf(os.Stdout, "imported %s\n", p.Name)
}

func handleUsage(args []string) {
	fs := flag.NewFlagSet("usage", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	window := fs.Duration("window", 24*time.Hour, "time window")
	path := fs.String("path", "", "usage CSV path override")
	_ = fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fatal(err)
	}

	usagePath := cfg.UsageLog
	if *path != "" {
		usagePath = *path
	}
	if usagePath == "" {
		fatal(errors.New("usage path required (usage_log or --path)"))
	}

	items, err := metrics.ReadCSV(usagePath)
	if err != nil {
		fatal(err)
	}

	cutoff := time.Now().UTC().Add(-*window)
	summaries := metrics.Summarize(items, cutoff)
	if len(summaries) == 0 {
		fmt.Fprintln(os.Stdout, "no samples in window")
		return
	}
	for _, s := range summaries {
		fmt.Fprintf(os.Stdout, "%s samples=%d from=%s to=%s\n", s.Source, s.Count, s.From.Format(time.RFC3339), s.To.Format(time.RFC3339))
		fmt.Fprintf(os.Stdout, "  rx=%s tx=%s peak session rx=%s tx=%s\n",
			formatBytes(s.RxBytes), formatBytes(s.TxBytes), formatBytes(s.PeakSessionRx), formatBytes(s.PeakSessionTx))
	}
}

func loadConfig(path string) (config.Config, error) {
	var cfg config.Config
	if path != "" {
		var err error
		cfg, err = config.Load(path)
		if err != nil {
			return config.Config{}, err
		}
	} else {
		if key := os.Getenv(config.EnvAPIKey); key != "" {
			cfg.APIKey = key
		}
		config.ApplyDefaults(&cfg)
	}
	if err := config.Validate(cfg); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func overrideServe(cfg *config.Config, listen, profilesDir string) {
	if listen != "" {
		cfg.Listen = listen
	}
	if profilesDir != "" {
		cfg.ProfilesDir = profilesDir
	}
}

func mustApp(cfg config.Config) *app {
	log, err := logx.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fatal(err)
	}
	a, err := newApp(cfg, log)
	if err != nil {
		log.Error("wire components", zap.Error(err))
		fatal(err)
	}
	return a
}

func printJSON(v any) {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	fatal(encoder.Encode(v))
}

func formatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%dB", n)
	}
	div, exp := uint64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func errOrFailed(err error) error {
	if err != nil {
		return err
	}
	return errors.New("operation failed")
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func fatal(err error) {
	if err == nil {
		return
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
