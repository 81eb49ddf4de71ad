package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/huddleclaw/internal/config"
	"github.com/nextlevelbuilder/huddleclaw/internal/store"
)

func pairingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pairing",
		Short: "Manage DM pairing for unknown senders",
	}
	cmd.AddCommand(pairingListCmd())
	cmd.AddCommand(pairingApproveCmd())
	cmd.AddCommand(pairingRevokeCmd())
	return cmd
}

func withPairingStore(fn func(ctx context.Context, s store.PairingStore) error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %s\n", err)
		os.Exit(1)
	}
	s, err := openPairingStore(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pairing store: %s\n", err)
		os.Exit(1)
	}
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := fn(ctx, s); err != nil {
		fmt.Fprintln(os.Stderr, err)
		s.Close()
		os.Exit(1)
	}
}

func pairingListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List pending pairing codes and paired senders",
		Run: func(cmd *cobra.Command, args []string) {
			withPairingStore(func(ctx context.Context, s store.PairingStore) error {
				pending, err := s.ListPending(ctx)
				if err != nil {
					return err
				}
				paired, err := s.ListPaired(ctx)
				if err != nil {
					return err
				}

				fmt.Printf("Pending (%d):\n", len(pending))
				if len(pending) > 0 {
					rows := make([][]string, 0, len(pending))
					for _, p := range pending {
						rows = append(rows, []string{p.Code, p.AccountID, p.SenderID, p.SenderName, p.ExpiresAt.Local().Format(time.Kitchen)})
					}
					printTable([]string{"CODE", "ACCOUNT", "SENDER", "NAME", "EXPIRES"}, rows)
				}
				fmt.Println()
				fmt.Printf("Paired (%d):\n", len(paired))
				if len(paired) > 0 {
					rows := make([][]string, 0, len(paired))
					for _, p := range paired {
						rows = append(rows, []string{p.Channel, p.AccountID, p.SenderID, p.SenderName, p.ApprovedAt.Local().Format(time.DateTime)})
					}
					printTable([]string{"CHANNEL", "ACCOUNT", "SENDER", "NAME", "APPROVED"}, rows)
				}
				return nil
			})
		},
	}
}

func pairingApproveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "approve <code>",
		Short: "Approve a pending pairing code",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			withPairingStore(func(ctx context.Context, s store.PairingStore) error {
				p, err := s.Approve(ctx, args[0])
				if errors.Is(err, store.ErrPairingNotFound) {
					return fmt.Errorf("no pending pairing with code %q (codes expire after an hour)", args[0])
				}
				if err != nil {
					return err
				}
				name := p.SenderID
				if p.SenderName != "" {
					name = fmt.Sprintf("%s (%s)", p.SenderName, p.SenderID)
				}
				fmt.Printf("Approved %s on %s/%s\n", name, p.Channel, p.AccountID)
				return nil
			})
		},
	}
}

func pairingRevokeCmd() *cobra.Command {
	var account string
	cmd := &cobra.Command{
		Use:   "revoke <sender-id>",
		Short: "Revoke a paired sender",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			withPairingStore(func(ctx context.Context, s store.PairingStore) error {
				ok, err := s.Revoke(ctx, "huddle", account, args[0])
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("sender %s is not paired on account %s", args[0], account)
				}
				fmt.Printf("Revoked %s on huddle/%s\n", args[0], account)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&account, "account", config.DefaultAccountID, "account ID")
	return cmd
}
