package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ashureev/tellerbot/internal/config"
	"github.com/ashureev/tellerbot/internal/identity"
	"github.com/ashureev/tellerbot/internal/store"
)

const sessionCmdTimeout = 10 * time.Second

func newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect or clear persisted widget sessions",
	}

	cmd.AddCommand(newSessionShowCmd())
	cmd.AddCommand(newSessionClearCmd())
	cmd.AddCommand(newSessionSweepCmd())
	return cmd
}

func newSessionShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <tab-id>",
		Short: "Print the stored state of a tab as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, st store.SessionStore) error {
				tabID, err := tabArg(args[0])
				if err != nil {
					return err
				}
				state, err := st.Load(ctx, tabID)
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(state)
			})
		},
	}
}

func newSessionClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear <tab-id>",
		Short: "Delete every stored key of a tab",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, st store.SessionStore) error {
				tabID, err := tabArg(args[0])
				if err != nil {
					return err
				}
				if err := st.Clear(ctx, tabID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cleared session %s\n", tabID)
				return nil
			})
		},
	}
}

func newSessionSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Clear sessions idle for longer than SESSION_TTL",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}
			return withStoreConfig(cmd.Context(), cfg, func(ctx context.Context, st store.SessionStore) error {
				n := store.NewSweeper(st, cfg.SessionTTL, nil).SweepOnce(ctx)
				fmt.Fprintf(cmd.OutOrStdout(), "Swept %d idle sessions\n", n)
				return nil
			})
		},
	}
}

func tabArg(raw string) (string, error) {
	tabID := identity.SanitizeTabID(raw)
	if tabID == "" {
		return "", fmt.Errorf("invalid tab id %q", raw)
	}
	return tabID, nil
}

func withStore(ctx context.Context, fn func(context.Context, store.SessionStore) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	return withStoreConfig(ctx, cfg, fn)
}

func withStoreConfig(ctx context.Context, cfg *config.Config, fn func(context.Context, store.SessionStore) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, sessionCmdTimeout)
	defer cancel()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(ctx, st)
}
