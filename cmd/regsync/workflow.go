package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/regsync/internal/catalog"
	"github.com/eliteGoblin/focusd/regsync/internal/domain"
	"github.com/eliteGoblin/focusd/regsync/internal/infra"
	"github.com/eliteGoblin/focusd/regsync/internal/tasklist"
	"github.com/eliteGoblin/focusd/regsync/internal/usecase"
)

func runAddons(cmd *cobra.Command, args []string) error {
	logger := createLogger()
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	session, sel, err := openSession(ctx, logger)
	if err != nil {
		return err
	}
	if err := applySelection(sel, selectKeys); err != nil {
		return err
	}

	all := session.Catalog.Addons()
	shown := sel.Filter(all, cfg.ShowUnreleased)

	fmt.Println("\n=== Addons ===")
	for _, a := range shown {
		st, _ := session.Catalog.Status(a.Key())
		fmt.Printf("  [%s] %-40s %s\n", statusMark(st), a.DisplayName(), a.Key())
	}

	picked := session.Catalog.WithStatus(domain.StatusSelected, domain.StatusAutoSelected)
	printer.Printf("\n%d of %d addons shown, %d to register\n", len(shown), len(all), len(picked))
	if err := sel.SupportedAddonCount(picked); err != nil {
		fmt.Printf("Warning: %v\n", err)
	}
	fmt.Println("Legend: x selected, a auto-selected, R registered")
	return nil
}

func runOrder(cmd *cobra.Command, args []string) error {
	logger := createLogger()
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	_, sel, err := openSession(ctx, logger)
	if err != nil {
		return err
	}
	for _, key := range args {
		if err := sel.Toggle(key); err != nil {
			return err
		}
	}

	ordered, err := sel.Selected()
	if err != nil {
		return err
	}
	for i, a := range ordered {
		printer.Printf("%3d. %s (%s)\n", i+1, a.DisplayName(), a.Key())
	}
	return nil
}

func runReconcile(cmd *cobra.Command, args []string) error {
	logger := createLogger()
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read task list: %w", err)
	}
	tasks, err := tasklist.Decode(data)
	if err != nil {
		return err
	}

	store, err := openStore(logger)
	if err != nil {
		return err
	}
	defer store.Close()
	takeSnapshot(store, logger)

	result := usecase.NewReconciler(store, logger).Reconcile(ctx, tasks, cfg.Refresh)
	printResult(result)
	if !result.Success {
		return errors.New("some changes could not be applied")
	}
	return nil
}

func runRegister(cmd *cobra.Command, args []string) error {
	logger := createLogger()
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := openClient(logger)
	if err != nil {
		return err
	}
	session, err := newSession(ctx, client)
	if err != nil {
		return err
	}
	sel := usecase.NewSelection(session, logger)
	if err := applySelection(sel, selectKeys); err != nil {
		return err
	}

	addons, err := sel.Selected()
	if err != nil {
		return err
	}
	if err := sel.SupportedAddonCount(addons); err != nil {
		return err
	}

	var reconciler *usecase.Reconciler
	if !cfg.Automated {
		store, err := openStore(logger)
		if err != nil {
			return err
		}
		defer store.Close()
		takeSnapshot(store, logger)
		reconciler = usecase.NewReconciler(store, logger)
	}

	registrar := usecase.NewRegistrar(
		client,
		infra.NewBrowserAgent(cfg.Browsers, os.Stdout, logger),
		infra.NewHardwareProfiler(logger),
		reconciler,
		usecase.RegistrarConfig{
			ServerURL:      cfg.ServerURL,
			MaxAttempts:    cfg.MaxAttempts,
			AttemptTimeout: cfg.AttemptTimeout,
			Automated:      cfg.Automated,
			Refresh:        cfg.Refresh,
		},
		logger,
	)

	printer.Printf("Registering %d addons with %s\n", len(addons), cfg.ServerURL)
	attempt := domain.NewRegistrationAttempt()
	out := registrar.Run(ctx, attempt, usecase.RegistrationRequest{
		SessionID:   session.ID,
		Credentials: domain.Credentials{Email: email, RegCode: regCode},
		Addons:      addons,
	})

	switch out.State {
	case domain.StateDone:
		keys := make([]string, len(addons))
		for i, a := range addons {
			keys[i] = a.Key()
		}
		if err := session.Catalog.MarkRegistered(keys...); err != nil {
			logger.Warn("failed to mark addons registered", zap.Error(err))
		}
		printer.Printf("Registration successful after %d attempts.\n", attempt.Iterations)
		if out.Result != nil {
			printResult(out.Result)
			if !out.Result.Success {
				return errors.New("registered, but some source changes could not be applied")
			}
		}
		return nil

	case domain.StateNoProduct:
		fmt.Println("The server does not offer this product; nothing was registered.")
		if out.Message != "" {
			fmt.Println(out.Message)
		}
		return nil

	case domain.StateCancelled:
		fmt.Println("Registration cancelled.")
		return out.Err

	default:
		return fmt.Errorf("registration failed (%s): %w", out.State, out.Err)
	}
}

func runSources(cmd *cobra.Command, args []string) error {
	logger := createLogger()
	defer logger.Sync()

	if restore {
		snaps := infra.NewSnapshotManager(snapshotDir(), cfg.Snapshots, logger)
		snap, err := snaps.RestoreLatest(infra.SourceStorePath(cfg.DataDir))
		if err != nil {
			return err
		}
		fmt.Printf("Restored sources from %s (%s)\n", filepath.Base(snap.Path), snap.CreatedAt.Format("2006-01-02 15:04:05"))
	}

	store, err := openStore(logger)
	if err != nil {
		return err
	}
	defer store.Close()

	fmt.Println("\n=== Services ===")
	for _, name := range store.Services() {
		svc, err := store.GetService(name)
		if err != nil {
			continue
		}
		fmt.Printf("  %s  %s (autorefresh: %t)\n", svc.Name, svc.URL, svc.AutoRefresh)
		for _, alias := range sortedAliases(svc.Repos) {
			fmt.Printf("      %-30s enabled: %t\n", alias, svc.Repos[alias])
		}
	}

	fmt.Println("\n=== Repositories ===")
	for _, r := range store.Repositories() {
		fmt.Printf("  #%d %s  %s (enabled: %t)\n", r.ID, r.Alias, r.URL, r.Enabled)
	}
	return nil
}

// openClient returns the registration client. Only recorded scenarios
// can be replayed for now.
func openClient(logger *zap.Logger) (domain.RegistrationClient, error) {
	if scenarioFile == "" {
		return nil, errors.New("no registration server exchange given, use --scenario")
	}
	scenario, err := infra.LoadScenario(scenarioFile)
	if err != nil {
		return nil, err
	}
	return infra.NewScriptedClient(scenario, logger), nil
}

func newSession(ctx context.Context, client domain.RegistrationClient) (*catalog.Session, error) {
	addons, err := client.GetAddonList(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch addons: %w", err)
	}
	return catalog.NewSessionFromAddons(addons)
}

func openSession(ctx context.Context, logger *zap.Logger) (*catalog.Session, *usecase.Selection, error) {
	client, err := openClient(logger)
	if err != nil {
		return nil, nil, err
	}
	session, err := newSession(ctx, client)
	if err != nil {
		return nil, nil, err
	}
	return session, usecase.NewSelection(session, logger), nil
}

func applySelection(sel *usecase.Selection, keys []string) error {
	sel.PreselectRecommended()
	for _, key := range keys {
		if err := sel.Toggle(key); err != nil {
			return err
		}
	}
	return nil
}

func openStore(logger *zap.Logger) (*infra.EncryptedSourceStore, error) {
	key, err := infra.EnsureKey(infra.NewFileKeyProvider(cfg.DataDir))
	if err != nil {
		return nil, err
	}
	return infra.NewEncryptedSourceStore(cfg.DataDir, key, infra.NewProcessManager(), cfg.LockHolders, logger)
}

func snapshotDir() string {
	return filepath.Join(cfg.DataDir, "snapshots")
}

func takeSnapshot(store *infra.EncryptedSourceStore, logger *zap.Logger) {
	if cfg.Snapshots == 0 {
		return
	}
	snaps := infra.NewSnapshotManager(snapshotDir(), cfg.Snapshots, logger)
	if _, err := snaps.Take(store.GetStorePath()); err != nil {
		logger.Warn("failed to snapshot sources", zap.Error(err))
	}
}

func sortedAliases(repos map[string]bool) []string {
	aliases := make([]string, 0, len(repos))
	for alias := range repos {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)
	return aliases
}

func printResult(result *domain.ReconciliationResult) {
	lines := result.Summary()
	if len(lines) == 0 {
		fmt.Println("No changes to the software sources.")
	}
	for _, line := range lines {
		fmt.Println("  " + line)
	}
	for _, err := range result.Errors {
		fmt.Printf("  ! %v\n", err)
	}
	printer.Printf("%d changes, %d already in place, %d skipped\n",
		len(result.Changes), len(result.Satisfied), len(result.Skipped))
}

func statusMark(st domain.AddonStatus) string {
	switch st {
	case domain.StatusSelected:
		return "x"
	case domain.StatusAutoSelected:
		return "a"
	case domain.StatusRegistered:
		return "R"
	default:
		return " "
	}
}
