package main

import (
	"context"
	"flag"

	"github.com/jackc/pgx/v5/pgxpool"
	"goa.design/clue/log"

	"github.com/chimecast/chime/internal/activities"
	"github.com/chimecast/chime/internal/config"
	"github.com/chimecast/chime/internal/notify"
	"github.com/chimecast/chime/internal/orchestrate"
	"github.com/chimecast/chime/internal/resolve"
	"github.com/chimecast/chime/internal/schedule"
	"github.com/chimecast/chime/internal/secrets"
	"github.com/chimecast/chime/internal/store"
	"github.com/chimecast/chime/internal/workflows"
)

func main() {
	var (
		dbgF      = flag.Bool("debug", false, "Enable debug logs")
		noMigrate = flag.Bool("no-migrate", false, "Skip schema migrations at startup")
		rateF     = flag.Float64("dispatch-rate", 0, "Max broadcast dispatches per second (0 disables pacing)")
	)
	flag.Parse()

	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if *dbgF {
		ctx = log.Context(ctx, log.WithDebug())
		log.Debugf(ctx, "debug logs enabled")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(ctx, err)
	}
	log.Print(ctx, log.KV{K: "msg", V: "starting worker"},
		log.KV{K: "temporal", V: cfg.TemporalHostPort},
		log.KV{K: "task_queue", V: cfg.TaskQueue})

	cipher, err := secrets.NewCipher(cfg.ChannelKeyBytes())
	if err != nil {
		log.Fatal(ctx, err)
	}

	if !*noMigrate {
		if err := store.Migrate(cfg.DatabaseURL); err != nil {
			log.Fatal(ctx, err)
		}
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal(ctx, err)
	}
	defer pool.Close()
	gw := store.New(pool, cipher)

	tc, err := orchestrate.Dial(orchestrate.DialOptions{
		HostPort:  cfg.TemporalHostPort,
		Namespace: cfg.TemporalNamespace,
	})
	if err != nil {
		log.Fatal(ctx, err)
	}
	defer tc.Close()

	registry := schedule.NewRegistry(
		schedule.NewTemporalClient(tc, cfg.TaskQueue, workflows.PersonalReminderName))
	acts := activities.New(gw,
		resolve.New(gw, cfg.SMTP),
		notify.NewDriver(),
		registry,
		activities.Options{DispatchesPerSecond: *rateF})

	w := orchestrate.NewWorker(tc, acts, cfg.TaskQueue)
	if err := orchestrate.Run(ctx, w, cfg.TaskQueue); err != nil {
		log.Fatal(ctx, err)
	}
	log.Print(ctx, log.KV{K: "msg", V: "worker exited"})
}
