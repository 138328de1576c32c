package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dukerupert/homebase/internal/access"
	"github.com/dukerupert/homebase/internal/config"
	"github.com/dukerupert/homebase/internal/database"
	"github.com/dukerupert/homebase/internal/logging"
	"github.com/dukerupert/homebase/internal/push"
	"github.com/dukerupert/homebase/internal/store"
)

func main() {
	configPath := flag.String("config", envOr("HOMEBASE_CONFIG", "homebase.yaml"), "path to YAML config file")
	genVAPID := flag.Bool("gen-vapid", false, "print a new VAPID key pair and exit")
	once := flag.Bool("once", false, "run a single reminder sweep and exit")
	newFamily := flag.String("new-family", "", "create a family with this name, print its invite code and exit")
	creator := flag.String("creator", "", "user ID of the family creator (with -new-family)")
	flag.Parse()

	if *genVAPID {
		pub, priv, err := push.GenerateVAPIDKeys()
		if err != nil {
			fmt.Fprintf(os.Stderr, "generate VAPID keys: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("HOMEBASE_VAPID_PUBLIC_KEY=%s\nHOMEBASE_VAPID_PRIVATE_KEY=%s\n", pub, priv)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)
	opts := runOptions{once: *once, newFamily: *newFamily, creator: *creator}
	if err := run(cfg, logger, opts); err != nil {
		logger.Error("exiting", "error", err)
		os.Exit(1)
	}
}

// joinCleanupSpec is how often expired invite-join windows are dropped.
const joinCleanupSpec = "@every 5m"

type runOptions struct {
	once      bool
	newFamily string
	creator   string
}

func run(cfg *config.Config, logger *slog.Logger, opts runOptions) error {
	db, err := database.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	logger.Info("database ready", "path", cfg.DBPath)

	families := store.NewFamilyStore(db).WithLimits(cfg.Family.InviteAttempts, cfg.Family.MaxMembers)
	if opts.newFamily != "" {
		if opts.creator == "" {
			return errors.New("-new-family requires -creator")
		}
		f, err := families.Create(opts.newFamily, opts.creator, access.Settings{})
		if err != nil {
			return fmt.Errorf("create family: %w", err)
		}
		logger.Info("family created", "family_id", f.ID, "creator", f.CreatedBy)
		fmt.Printf("%s\t%s\n", f.ID, f.InviteCode)
		return nil
	}

	var notifier push.Notifier = push.LogNotifier{Logger: logger.With("component", "notifier")}
	if cfg.Push.Enabled {
		notifier = push.NewService(cfg.Push.VAPIDPublicKey, cfg.Push.VAPIDPrivateKey, cfg.Push.Subscriber)
	} else {
		logger.Warn("web push disabled, notifications will only be logged")
	}

	sched := push.NewScheduler(notifier, store.NewPushStore(db), store.NewItemStore(db),
		push.WithSpec(cfg.Push.Schedule),
		push.WithLookback(cfg.Push.Lookback),
		push.WithRetention(cfg.Push.Retention),
		push.WithLogger(logger),
		push.WithJob("join-limit-cleanup", joinCleanupSpec, families.CleanupJoins),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if opts.once {
		n, err := sched.Sweep(ctx)
		if err != nil {
			return fmt.Errorf("sweep: %w", err)
		}
		logger.Info("sweep complete", "sent", n)
		return nil
	}

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	logger.Info("homebase running", "schedule", cfg.Push.Schedule)

	<-ctx.Done()
	logger.Info("shutting down")
	sched.Stop()
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
