package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"koffers/internal/domain/connection"
	"koffers/internal/domain/receipt"
	"koffers/internal/shared/auth"
)

func newMigrateCommand(newCtx contextFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := newCtx(cmd)
			defer cancel()

			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := openDB(ctx, cfg)
			if err != nil {
				return err
			}
			defer db.Close()
			log.Info("schema is up to date")
			return nil
		},
	}
}

func newAddConnectionCommand(newCtx contextFactory) *cobra.Command {
	var params connection.CreateParams

	cmd := &cobra.Command{
		Use:   "add-connection",
		Short: "Register a linked institution with its provider access token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := params.Validate(); err != nil {
				return err
			}
			ctx, cancel := newCtx(cmd)
			defer cancel()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			conn, err := a.connections.Create(ctx, params)
			if err != nil {
				return fmt.Errorf("failed to create connection: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), conn)
		},
	}
	cmd.Flags().StringVar(&params.UserID, "user-id", "", "owning user id (required)")
	cmd.Flags().StringVar(&params.ItemID, "item-id", "", "provider item id (required)")
	cmd.Flags().StringVar(&params.AccessToken, "access-token", "", "provider access token (required)")
	cmd.Flags().StringVar(&params.InstitutionID, "institution-id", "", "provider institution id")
	cmd.Flags().StringVar(&params.InstitutionName, "institution-name", "", "display name of the institution")
	return cmd
}

// Window modes accepted by the sync command.
const (
	windowNone       = ""
	windowRecent     = "recent"
	windowHistorical = "historical"
)

type syncOptions struct {
	connectionID string
	userID       string
	all          bool
	window       string
}

func (o syncOptions) validate() error {
	set := 0
	for _, b := range []bool{o.connectionID != "", o.userID != "", o.all} {
		if b {
			set++
		}
	}
	if set != 1 {
		return errors.New("specify exactly one of --connection-id, --user-id or --all")
	}
	switch o.window {
	case windowNone, windowRecent, windowHistorical:
	default:
		return fmt.Errorf("unknown --window %q (want %q or %q)", o.window, windowRecent, windowHistorical)
	}
	return nil
}

func newSyncCommand(newCtx contextFactory) *cobra.Command {
	var opts syncOptions

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync accounts and transactions from the provider",
		Long: `Runs the same cursor sync as the scheduler. With --window the
date-range reconciliation used by webhooks runs instead; it does not move
the sync cursor.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.validate(); err != nil {
				return err
			}
			ctx, cancel := newCtx(cmd)
			defer cancel()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			var conns []*connection.Connection
			switch {
			case opts.connectionID != "":
				conn, err := a.connectionRepo.GetByID(ctx, opts.connectionID)
				if err != nil {
					return err
				}
				conns = append(conns, conn)
			case opts.userID != "":
				conns, err = a.connections.ListByUserID(ctx, opts.userID)
			default:
				conns, err = a.connections.ListSyncable(ctx)
			}
			if err != nil {
				return fmt.Errorf("failed to list connections: %w", err)
			}

			start := time.Now()
			results := make([]any, 0, len(conns))
			failed := 0
			for _, conn := range conns {
				res, err := a.syncOne(ctx, conn, opts.window)
				if err != nil {
					failed++
					a.log.Error("sync failed", zap.String("connection_id", conn.ID), zap.Error(err))
				}
				results = append(results, res)
			}
			a.log.Info("sync finished",
				zap.Int("connections", len(conns)), zap.Int("failed", failed), zap.Duration("elapsed", time.Since(start)))

			if err := printJSON(cmd.OutOrStdout(), results); err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d connections failed", failed, len(conns))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.connectionID, "connection-id", "", "sync one connection")
	cmd.Flags().StringVar(&opts.userID, "user-id", "", "sync every connection of a user")
	cmd.Flags().BoolVar(&opts.all, "all", false, "sync every syncable connection")
	cmd.Flags().StringVar(&opts.window, "window", windowNone, "run a date-window reconciliation instead: recent or historical")
	return cmd
}

func (a *app) syncOne(ctx context.Context, conn *connection.Connection, window string) (any, error) {
	switch window {
	case windowRecent:
		return a.windowSync.SyncRecent(ctx, conn)
	case windowHistorical:
		return a.windowSync.SyncHistorical(ctx, conn)
	default:
		return a.connectionSync.SyncConnection(ctx, conn)
	}
}

func newMatchCommand(newCtx contextFactory) *cobra.Command {
	var (
		userID string
		all    bool
	)

	cmd := &cobra.Command{
		Use:   "match",
		Short: "Retry matching for completed receipts that have no transaction",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if (userID == "") == !all {
				return errors.New("specify exactly one of --user-id or --all")
			}
			ctx, cancel := newCtx(cmd)
			defer cancel()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			users := []string{userID}
			if all {
				users, err = a.receipts.ListUsersWithUnmatched(ctx)
				if err != nil {
					return fmt.Errorf("failed to list users: %w", err)
				}
			}

			summaries := make([]*receipt.MatchSummary, 0, len(users))
			for _, u := range users {
				s, err := a.matcher.MatchPending(ctx, u)
				if err != nil {
					return fmt.Errorf("match failed for user %s: %w", u, err)
				}
				summaries = append(summaries, s)
			}
			return printJSON(cmd.OutOrStdout(), summaries)
		},
	}
	cmd.Flags().StringVar(&userID, "user-id", "", "match one user's receipts")
	cmd.Flags().BoolVar(&all, "all", false, "match receipts of every user with unmatched files")
	return cmd
}

func newProcessReceiptCommand(newCtx contextFactory) *cobra.Command {
	var fileID string

	cmd := &cobra.Command{
		Use:   "process-receipt",
		Short: "Run extraction and matching for a pending receipt",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := newCtx(cmd)
			defer cancel()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.pipeline.Process(ctx, fileID)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVar(&fileID, "id", "", "receipt file id (required)")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func newRetryReceiptCommand(newCtx contextFactory) *cobra.Command {
	var fileID, userID string

	cmd := &cobra.Command{
		Use:   "retry-receipt",
		Short: "Move a failed receipt back to pending and process it again",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := newCtx(cmd)
			defer cancel()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.pipeline.Retry(ctx, userID, fileID)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVar(&fileID, "id", "", "receipt file id (required)")
	cmd.Flags().StringVar(&userID, "user-id", "", "owning user id (required)")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("user-id")
	return cmd
}

func newTokenCommand() *cobra.Command {
	var (
		userID, email string
		ttl           time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API bearer token for a user (development and support)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			token, err := auth.NewJWT(cfg.Auth.JWTSecret).WithTTL(ttl).Generate(userID, email)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user-id", "", "subject of the token (required)")
	cmd.Flags().StringVar(&email, "email", "", "email claim")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("user-id")
	return cmd
}
