package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/codequest/progression/internal/application/command"
	"github.com/codequest/progression/internal/domain/achievement"
	"github.com/codequest/progression/internal/domain/leaderboard"
	"github.com/codequest/progression/internal/domain/shared"
	"github.com/codequest/progression/internal/infrastructure/catalog"
	"github.com/codequest/progression/internal/infrastructure/scheduler"
	"github.com/codequest/progression/internal/infrastructure/scheduler/jobs"
)

// ══════════════════════════════════════════════════════════════════════════════
// ROOT COMMAND
// ══════════════════════════════════════════════════════════════════════════════

// newRootCmd builds the command tree. Each subcommand wires a fresh app
// and releases it when it returns.
func newRootCmd(out io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "progressctl",
		Short:         "Operate the progression engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.SetOut(out)

	withApp := func(fn func(ctx context.Context, a *app) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd.Context(), cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer a.close()
			return fn(cmd.Context(), a)
		}
	}

	root.AddCommand(
		migrateCmd(withApp),
		seedCmd(withApp),
		completeCmd(withApp),
		triggerCmd(withApp),
		awardCmd(withApp),
		streakCmd(withApp),
		statsCmd(withApp),
		leaderboardCmd(withApp),
		heatmapCmd(withApp),
		rebuildCacheCmd(withApp),
		warmCacheCmd(withApp),
	)
	return root
}

type runner = func(fn func(ctx context.Context, a *app) error) func(*cobra.Command, []string) error

// ══════════════════════════════════════════════════════════════════════════════
// SCHEMA & CATALOG
// ══════════════════════════════════════════════════════════════════════════════

func migrateCmd(with runner) *cobra.Command {
	var status, rollback bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Args:  cobra.NoArgs,
		RunE: with(func(ctx context.Context, a *app) error {
			if a.migrator == nil {
				return errors.New("migrate needs STORAGE_DRIVER=postgres")
			}
			switch {
			case status:
				migrations, err := a.migrator.Status(ctx)
				if err != nil {
					return err
				}
				return a.print(migrations)
			case rollback:
				if err := a.migrator.Rollback(ctx); err != nil {
					return err
				}
				return a.print(map[string]string{"status": "rolled back"})
			default:
				applied, err := a.migrator.Migrate(ctx)
				if err != nil {
					return err
				}
				a.log.Info("migrations applied", "count", applied)
				return a.print(map[string]int{"applied": applied})
			}
		}),
	}
	cmd.Flags().BoolVar(&status, "status", false, "print migration status only")
	cmd.Flags().BoolVar(&rollback, "rollback", false, "roll back the last applied migration")
	cmd.MarkFlagsMutuallyExclusive("status", "rollback")
	return cmd
}

func seedCmd(with runner) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Upsert the achievement catalog",
		Args:  cobra.NoArgs,
		RunE: with(func(ctx context.Context, a *app) error {
			if file == "" {
				file = a.cfg.Catalog.Path
			}
			entries, err := loadCatalog(file)
			if err != nil {
				return err
			}
			res, err := catalog.Seed(ctx, a.catalogWriter, entries, a.registry)
			if err != nil {
				return err
			}
			for _, slug := range res.Unchecked {
				a.log.Warn("catalog entry has no registered check", "slug", slug)
			}
			for _, slug := range res.Uncatalogued {
				a.log.Warn("registered check has no catalog entry", "slug", slug)
			}
			return a.print(res)
		}),
	}
	cmd.Flags().StringVar(&file, "file", "", "YAML catalog (default: CATALOG_PATH or the built-in one)")
	return cmd
}

// ══════════════════════════════════════════════════════════════════════════════
// ENGINE OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

func completeCmd(with runner) *cobra.Command {
	var user, difficulty, challenge, at string
	cmd := &cobra.Command{
		Use:   "complete",
		Short: "Record a challenge completion",
		Args:  cobra.NoArgs,
		RunE: with(func(ctx context.Context, a *app) error {
			userID, err := shared.ParseUserID(user)
			if err != nil {
				return err
			}
			d, err := shared.ParseDifficulty(difficulty)
			if err != nil {
				return err
			}
			c := command.RecordCompletionCommand{UserID: userID, Difficulty: d, ChallengeID: challenge}
			if at != "" {
				if c.CompletedAt, err = time.Parse(time.RFC3339, at); err != nil {
					return fmt.Errorf("invalid --at: %w", err)
				}
			}

			res, err := a.engine.RecordCompletion(ctx, c)
			if err != nil {
				return err
			}
			return a.print(res)
		}),
	}
	cmd.Flags().StringVar(&user, "user", "", "user id (uuid)")
	cmd.Flags().StringVar(&difficulty, "difficulty", "", "BEGINNER, INTERMEDIATE, ADVANCED or EXPERT")
	cmd.Flags().StringVar(&challenge, "challenge", "", "challenge id, dedups repeated completions")
	cmd.Flags().StringVar(&at, "at", "", "completion time, RFC 3339 (default: now)")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("difficulty")
	return cmd
}

func triggerCmd(with runner) *cobra.Command {
	var user, trigger string
	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Record a social trigger and pay its bonus",
		Args:  cobra.NoArgs,
		RunE: with(func(ctx context.Context, a *app) error {
			userID, err := shared.ParseUserID(user)
			if err != nil {
				return err
			}
			t, err := achievement.ParseTrigger(trigger)
			if err != nil {
				return err
			}
			res, err := a.engine.RecordTrigger(ctx, userID, t)
			if err != nil {
				return err
			}
			return a.print(res)
		}),
	}
	cmd.Flags().StringVar(&user, "user", "", "user id (uuid)")
	cmd.Flags().StringVar(&trigger, "trigger", "", "challenge_publish, like_received or fork_received")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("trigger")
	return cmd
}

func awardCmd(with runner) *cobra.Command {
	var (
		user, reason string
		amount       int64
	)
	cmd := &cobra.Command{
		Use:   "award",
		Short: "Award XP directly",
		Args:  cobra.NoArgs,
		RunE: with(func(ctx context.Context, a *app) error {
			userID, err := shared.ParseUserID(user)
			if err != nil {
				return err
			}
			res, err := a.engine.AwardXPWithReason(ctx, userID, amount, reason)
			if err != nil {
				return err
			}
			return a.print(res)
		}),
	}
	cmd.Flags().StringVar(&user, "user", "", "user id (uuid)")
	cmd.Flags().Int64Var(&amount, "amount", 0, "XP to add (>= 0)")
	cmd.Flags().StringVar(&reason, "reason", "manual", "audit reason")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func streakCmd(with runner) *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "streak",
		Short: "Count today as an active day",
		Args:  cobra.NoArgs,
		RunE: with(func(ctx context.Context, a *app) error {
			userID, err := shared.ParseUserID(user)
			if err != nil {
				return err
			}
			res, err := a.engine.UpdateStreakDetailed(ctx, userID)
			if err != nil {
				return err
			}
			return a.print(res)
		}),
	}
	cmd.Flags().StringVar(&user, "user", "", "user id (uuid)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func statsCmd(with runner) *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print a user's progression card",
		Args:  cobra.NoArgs,
		RunE: with(func(ctx context.Context, a *app) error {
			userID, err := shared.ParseUserID(user)
			if err != nil {
				return err
			}
			res, err := a.engine.GetUserStats(ctx, userID)
			if err != nil {
				return err
			}
			return a.print(res)
		}),
	}
	cmd.Flags().StringVar(&user, "user", "", "user id (uuid)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func leaderboardCmd(with runner) *cobra.Command {
	var (
		by    string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "leaderboard",
		Short: "Print the leaderboard",
		Args:  cobra.NoArgs,
		RunE: with(func(ctx context.Context, a *app) error {
			sortBy, err := leaderboard.ParseSortBy(by)
			if err != nil {
				return err
			}
			entries, err := a.engine.GetLeaderboard(ctx, sortBy, limit)
			if err != nil {
				return err
			}
			return a.print(entries)
		}),
	}
	cmd.Flags().StringVar(&by, "by", string(leaderboard.SortByXP), "xp or streak")
	cmd.Flags().IntVar(&limit, "limit", 10, "number of entries")
	return cmd
}

func heatmapCmd(with runner) *cobra.Command {
	var (
		user string
		year int
	)
	cmd := &cobra.Command{
		Use:   "heatmap",
		Short: "Print a user's completion heatmap",
		Args:  cobra.NoArgs,
		RunE: with(func(ctx context.Context, a *app) error {
			userID, err := shared.ParseUserID(user)
			if err != nil {
				return err
			}
			if year == 0 {
				year = time.Now().In(a.cfg.App.Location).Year()
			}
			heatmap, err := a.engine.GetCompletionHeatmap(ctx, userID, year)
			if err != nil {
				return err
			}
			return a.print(heatmap)
		}),
	}
	cmd.Flags().StringVar(&user, "user", "", "user id (uuid)")
	cmd.Flags().IntVar(&year, "year", 0, "calendar year (default: current year in APP_TIMEZONE)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD CACHE
// ══════════════════════════════════════════════════════════════════════════════

func rebuildCacheCmd(with runner) *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild-cache",
		Short: "Rebuild the Redis leaderboard cache",
		Args:  cobra.NoArgs,
		RunE: with(func(ctx context.Context, a *app) error {
			if a.lbCache == nil {
				return errors.New("rebuild-cache needs a reachable Redis")
			}
			members, err := a.lbCache.Rebuild(ctx)
			if err != nil {
				return err
			}
			meta, err := a.lbCache.Meta(ctx)
			if err != nil {
				// Another process held the rebuild lock.
				return a.print(map[string]int{"members": members})
			}
			return a.print(meta)
		}),
	}
}

func warmCacheCmd(with runner) *cobra.Command {
	var every time.Duration
	cmd := &cobra.Command{
		Use:   "warm-cache",
		Short: "Keep the Redis leaderboard cache warm until interrupted",
		Args:  cobra.NoArgs,
		RunE: with(func(ctx context.Context, a *app) error {
			if a.lbCache == nil {
				return errors.New("warm-cache needs a reachable Redis")
			}
			ttl := a.cfg.Leaderboard.CacheTTL
			if every <= 0 {
				every = ttl / 2
			}
			if every >= ttl {
				a.log.Warn("interval is not below LEADERBOARD_CACHE_TTL, readers will see cold caches",
					"every", every.String(), "ttl", ttl.String())
			}

			job := jobs.NewRebuildLeaderboardJob(a.lbCache, a.log, jobs.DefaultRebuildLeaderboardConfig())
			s := scheduler.New(scheduler.Config{Logger: a.log, Timezone: a.cfg.App.Location})
			if err := s.Register(job, scheduler.NewIntervalSchedule(every)); err != nil {
				return err
			}

			// Warm once up front so a failure surfaces before the loop starts.
			if _, err := s.RunNow(ctx, job.Name()); err != nil {
				return err
			}
			if err := s.Start(ctx); err != nil {
				return err
			}

			<-ctx.Done()
			if err := s.Stop(); err != nil {
				return err
			}
			return a.print(s.ListJobs())
		}),
	}
	cmd.Flags().DurationVar(&every, "every", 0, "rebuild interval (default: half of LEADERBOARD_CACHE_TTL)")
	return cmd
}

// print writes v as indented JSON.
func (a *app) print(v interface{}) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
