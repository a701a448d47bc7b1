// Command corpus runs the clinical-session corpus engine.
//
//	corpus init     create a new corpus file with its ownership identity
//	corpus serve    run the HTTP engine
//	corpus validate replay the length log and print the integrity report
//	corpus lint     run the static append-only and router-boundary checks
//	corpus export   build a signed export bundle
//	corpus verify   re-verify an export bundle on disk
//	corpus health   print the engine health summary
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/Mindburn-Labs/corpus/pkg/config"
	"github.com/Mindburn-Labs/corpus/pkg/corpus"
	"github.com/Mindburn-Labs/corpus/pkg/observability"
	"github.com/Mindburn-Labs/corpus/pkg/server"
	"github.com/Mindburn-Labs/corpus/pkg/service"
	"github.com/Mindburn-Labs/corpus/pkg/validate"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, nil)))

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "init":
		err = runInit(os.Args[2:])
	case "serve":
		err = runServe(os.Args[2:])
	case "validate":
		err = runValidate(os.Args[2:])
	case "lint":
		err = runLint(os.Args[2:])
	case "export":
		err = runExport(os.Args[2:])
	case "verify":
		err = runVerify(os.Args[2:])
	case "health":
		err = runHealth(os.Args[2:])
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		usage()
		os.Exit(2)
	}
	if err != nil {
		slog.Error("command failed", "command", os.Args[1], "error", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: corpus <init|serve|validate|lint|export|verify|health> [flags]")
}

func loadConfig(path string) (*config.Config, error) {
	return config.Load(path)
}

func runInit(args []string) error {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	cfgPath := fs.String("config", "", "configuration file")
	credential := fs.String("credential", "", "owner credential")
	salt := fs.String("salt", "", "identity salt")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *credential == "" || *salt == "" {
		return fmt.Errorf("init: -credential and -salt are required")
	}
	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}
	store, err := corpus.Init(cfg.CorpusPath, *credential, *salt)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	id, err := store.CorpusID(context.Background())
	if err != nil {
		return err
	}
	fmt.Printf("initialized corpus %s at %s\n", id, cfg.CorpusPath)
	return nil
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	cfgPath := fs.String("config", "", "configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	container := service.NewContainer(cfg)
	if err := container.Open(ctx); err != nil {
		// A tampered corpus still serves reads; log and keep going.
		if container.Store() == nil || !container.Store().ReadOnly() {
			return err
		}
		slog.Error("corpus opened read-only", "error", err)
	}
	defer func() { _ = container.Close() }()

	metrics, err := observability.New(container.Fabric().QueueDepth)
	if err != nil {
		return err
	}
	defer func() { _ = metrics.Shutdown(context.Background()) }()
	container.Instrument(metrics)

	container.Start(ctx)

	srv := server.New(cfg, container, metrics)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	slog.Info("corpus engine listening", "port", cfg.Port)

	select {
	case <-ctx.Done():
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.RequestTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func runValidate(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	cfgPath := fs.String("config", "", "configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}

	store, openErr := corpus.Open(cfg.CorpusPath)
	if store == nil {
		return openErr
	}
	defer func() { _ = store.Close() }()

	report, err := store.Validate(context.Background())
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	if !report.OK() {
		return fmt.Errorf("corpus failed validation: %d mutation(s)", len(report.Mutations))
	}
	return openErr
}

func runLint(args []string) error {
	fs := flag.NewFlagSet("lint", flag.ExitOnError)
	dir := fs.String("dir", ".", "source tree to check")
	if err := fs.Parse(args); err != nil {
		return err
	}
	violations, err := validate.CheckAll(*dir)
	if err != nil {
		return err
	}
	for _, v := range violations {
		fmt.Println(v)
	}
	if len(violations) > 0 {
		return fmt.Errorf("%d violation(s)", len(violations))
	}
	fmt.Println("ok")
	return nil
}

func runExport(args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	cfgPath := fs.String("config", "", "configuration file")
	targets := fs.String("targets", "interactions,sessions", "comma-separated groups")
	credential := fs.String("credential", "", "owner credential")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}

	ctx := context.Background()
	container := service.NewContainer(cfg)
	if err := container.Open(ctx); err != nil {
		return err
	}
	defer func() { _ = container.Close() }()

	e, err := container.Exports.Create(ctx, *credential, "cli", strings.Split(*targets, ","), "local")
	if err != nil {
		return err
	}
	fmt.Printf("export %s: %d artifact(s)\n", e.ExportID, len(e.Artifacts))
	return nil
}

func runHealth(args []string) error {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	cfgPath := fs.String("config", "", "configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}

	ctx := context.Background()
	container := service.NewContainer(cfg)
	if err := container.Open(ctx); err != nil {
		if container.Store() == nil || !container.Store().ReadOnly() {
			return err
		}
	}
	defer func() { _ = container.Close() }()

	out, err := json.MarshalIndent(container.Health(ctx), "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func runVerify(args []string) error {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	cfgPath := fs.String("config", "", "configuration file")
	id := fs.String("id", "", "export id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		return fmt.Errorf("verify: -id is required")
	}
	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}

	ctx := context.Background()
	container := service.NewContainer(cfg)
	if err := container.Open(ctx); err != nil {
		return err
	}
	defer func() { _ = container.Close() }()

	report, err := container.Exports.Verify(ctx, *id, "cli")
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	if !report.OK() {
		return fmt.Errorf("export %s failed verification", *id)
	}
	return nil
}
