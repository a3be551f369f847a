// Second Brain CLI - capture thoughts, drain the queue, read digests.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/secondbrain-hq/secondbrain/internal/api"
	"github.com/secondbrain-hq/secondbrain/internal/config"
	"github.com/secondbrain-hq/secondbrain/internal/convo"
	"github.com/secondbrain-hq/secondbrain/internal/core"
	"github.com/secondbrain-hq/secondbrain/internal/digest"
	"github.com/secondbrain-hq/secondbrain/internal/logging"
	"github.com/secondbrain-hq/secondbrain/internal/pipeline"
	"github.com/secondbrain-hq/secondbrain/internal/registry"
	"github.com/secondbrain-hq/secondbrain/internal/retry"
	"github.com/secondbrain-hq/secondbrain/internal/scheduler"
	"github.com/secondbrain-hq/secondbrain/internal/storage"
)

var (
	configPath string

	version = "0.2.0"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "sb",
		Short: "Second Brain - capture everything, lose nothing",
		Long: `Second Brain captures raw thoughts, classifies them into
person / project / idea / admin records, and serves them back as
digests you can act on from chat or the command line.`,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default $SB_CONFIG_PATH, then ~/.secondbrain/config.json)")

	rootCmd.AddCommand(captureCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(digestCmd("daily", "Print and deliver the daily digest", core.DigestToday))
	rootCmd.AddCommand(digestCmd("weekly", "Print and deliver the weekly digest", core.DigestWeek))
	rootCmd.AddCommand(digestCmd("next", "Print and deliver the next-focus digest", core.DigestNext))
	rootCmd.AddCommand(updateCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app bundles everything a command needs, built once from config.
type app struct {
	cfg      *config.Config
	db       *storage.DB
	records  *storage.RecordStore
	inbox    *storage.InboxStore
	queue    *storage.QueueStore
	states   *storage.StateStore
	guard    *storage.RunStore
	notifier core.Notifier
	digests  *digest.Generator
	orch     *pipeline.Orchestrator
}

func openApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logging.SetLevel(logging.ParseLevel(cfg.LogLevel))

	db, err := registry.BuildStorage(cfg.Storage, cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	capture, err := registry.BuildCapture(cfg.Capture, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	classifier, err := registry.BuildClassifier(cfg.Classifier)
	if err != nil {
		db.Close()
		return nil, err
	}
	notifier, err := registry.BuildNotifier(cfg.Notifier, nil)
	if err != nil {
		db.Close()
		return nil, err
	}

	records := storage.NewRecordStore(db)
	inbox := storage.NewInboxStore(db)
	guard := storage.NewRunStore(db)

	orch := pipeline.New(pipeline.Options{
		Capture:    capture,
		Classifier: classifier,
		Records:    records,
		Inbox:      inbox,
		Notifier:   notifier,
		Guard:      guard,
		Threshold:  cfg.ConfidenceThreshold,
		Retry: retry.Config{
			MaxAttempts: cfg.Retry.MaxAttempts,
			BackoffBase: cfg.Retry.BackoffBase(),
			MaxBackoff:  cfg.Retry.MaxBackoff(),
		},
	})

	return &app{
		cfg:      cfg,
		db:       db,
		records:  records,
		inbox:    inbox,
		queue:    storage.NewQueueStore(db),
		states:   storage.NewStateStore(db),
		guard:    guard,
		notifier: notifier,
		digests:  digest.NewGenerator(records, cfg.Digest.ListCap),
		orch:     orch,
	}, nil
}

func (a *app) close() {
	a.db.Close()
}

func captureCmd() *cobra.Command {
	var enqueue bool
	cmd := &cobra.Command{
		Use:   "capture [text]",
		Short: "Capture a thought and file it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.TrimSpace(strings.Join(args, " "))
			if text == "" {
				return fmt.Errorf("nothing to capture")
			}

			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.close()
			ctx := cmd.Context()

			if enqueue {
				item, err := a.queue.Enqueue(ctx, text, "cli", time.Now().UTC())
				if err != nil {
					return err
				}
				fmt.Printf("Queued %s. Run 'sb run' to process.\n", item.ID)
				return nil
			}

			outcome, err := a.orch.ProcessText(ctx, "", text, "cli", "")
			if err != nil {
				return err
			}
			if outcome.Status == core.InboxFiled {
				fmt.Printf("Filed as %s: %s (%.2f).\n",
					outcome.Record.Category, outcome.Record.Title(), outcome.Entry.Confidence)
			} else {
				fmt.Printf("Needs review: '%s' (%s, %.2f). Use 'sb update' or the chat 'fix:' command.\n",
					outcome.Entry.Title, outcome.Entry.Category, outcome.Entry.Confidence)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&enqueue, "queue", false, "enqueue only; file later with 'sb run'")
	return cmd
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Drain the capture queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.close()

			summary, err := a.orch.Run(cmd.Context())
			if errors.Is(err, core.ErrRunInProgress) {
				return fmt.Errorf("another run is in progress; try again shortly")
			}
			if err != nil {
				return err
			}
			fmt.Printf("Filed %d, needs review %d, failed %d, skipped %d.\n",
				summary.Filed, summary.NeedsReview, summary.Failed, summary.Skipped)
			return nil
		},
	}
}

func digestCmd(use, short string, kind core.DigestKind) *cobra.Command {
	var deliver bool
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.close()
			ctx := cmd.Context()

			refs, err := a.digests.Build(ctx, kind, time.Now().UTC())
			if err != nil {
				return err
			}
			rendered := digest.Render(kind, refs)
			if deliver {
				return a.notifier.NotifyDigest(ctx, kind, rendered)
			}
			fmt.Println(rendered)
			return nil
		},
	}
	cmd.Flags().BoolVar(&deliver, "deliver", false, "send through the configured notifier instead of stdout")
	return cmd
}

func updateCmd() *cobra.Command {
	var (
		recordID   string
		recordName string
		sets       []string
		rawJSON    string
	)
	cmd := &cobra.Command{
		Use:   "update <category>",
		Short: "Update fields on a record",
		Long: `Updates a record selected by --id or by --name within the category.
Field changes come from repeated --set key=value flags or a --json object.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			category, ok := core.ParseCategory(args[0])
			if !ok {
				return fmt.Errorf("unknown category %q (person, project, idea, admin)", args[0])
			}
			if recordID == "" && recordName == "" {
				return fmt.Errorf("one of --id or --name is required")
			}

			changes := map[string]string{}
			if rawJSON != "" {
				if err := json.Unmarshal([]byte(rawJSON), &changes); err != nil {
					return fmt.Errorf("parse --json: %w", err)
				}
			}
			for _, pair := range sets {
				key, value, ok := strings.Cut(pair, "=")
				if !ok {
					return fmt.Errorf("malformed --set %q, want key=value", pair)
				}
				changes[strings.TrimSpace(key)] = strings.TrimSpace(value)
			}
			if len(changes) == 0 {
				return fmt.Errorf("no changes given; use --set or --json")
			}

			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.close()
			ctx := cmd.Context()

			id := recordID
			if id == "" {
				record, err := a.records.FindByName(ctx, category, recordName)
				if errors.Is(err, core.ErrRecordNotFound) {
					return fmt.Errorf("no %s record named %q", category, recordName)
				}
				if err != nil {
					return err
				}
				id = record.ID
			}

			record, err := a.records.Update(ctx, id, changes)
			if errors.Is(err, core.ErrRecordNotFound) {
				return fmt.Errorf("record %s not found", id)
			}
			if err != nil {
				return err
			}

			fmt.Printf("Updated %s: %s\n", record.Category, record.Title())
			for key := range changes {
				fmt.Printf("  %s = %s\n", key, record.Fields[key])
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&recordID, "id", "", "record id")
	cmd.Flags().StringVar(&recordName, "name", "", "record name within the category")
	cmd.Flags().StringArrayVar(&sets, "set", nil, "field change as key=value (repeatable)")
	cmd.Flags().StringVar(&rawJSON, "json", "", "field changes as a JSON object")
	return cmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook/API server with scheduled digests",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.close()

			machine := convo.NewMachine(convo.Options{
				States:  a.states,
				Records: a.records,
				Inbox:   a.inbox,
				Digests: a.digests,
				Orch:    a.orch,
				TTL:     a.cfg.StateTTL(),
				BotName: a.cfg.Server.BotName,
			})

			server := api.New(api.Options{
				Config:   a.cfg.Server,
				Machine:  machine,
				Orch:     a.orch,
				Records:  a.records,
				Inbox:    a.inbox,
				Queue:    a.queue,
				Digests:  a.digests,
				Notifier: a.notifier,
			})

			sched := scheduler.New(scheduler.Config{}, nil)
			err = scheduler.RegisterJobs(sched, scheduler.JobOptions{
				Digests:    a.digests,
				Notifier:   a.notifier,
				Orch:       a.orch,
				States:     a.states,
				DailyAt:    a.cfg.Digest.DailyAt,
				WeeklyAt:   a.cfg.Digest.WeeklyAt,
				DrainEvery: 5 * time.Minute,
			})
			if err != nil {
				return err
			}
			if err := sched.Start(); err != nil {
				return err
			}
			defer sched.Stop()

			go func() {
				sigCh := make(chan os.Signal, 1)
				signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
				<-sigCh
				logging.Info("shutting down")
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				server.Stop(ctx)
			}()

			logging.WithField("port", a.cfg.Server.Port).Info("second brain serving")
			if err := server.Start(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("sb %s\n", version)
		},
	}
}
