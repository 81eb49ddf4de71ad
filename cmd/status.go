package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/huddleclaw/internal/channels/huddle"
	"github.com/nextlevelbuilder/huddleclaw/internal/channels/huddle/protocol"
	"github.com/nextlevelbuilder/huddleclaw/internal/config"
)

func statusCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Probe every configured Huddle account",
		Long:  "Resolves each Huddle account from config and environment and checks its token against the REST API. The realtime connection is not opened.",
		Run: func(cmd *cobra.Command, args []string) {
			runStatus(timeout)
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "per-account probe timeout")
	return cmd
}

// accountProbe is one row of the status table.
type accountProbe struct {
	ID, Enabled, Token, BaseURL, Bot, Result string
}

func runStatus(timeout time.Duration) {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %s\n", err)
		os.Exit(1)
	}
	hc := cfg.HuddleSnapshot()

	fmt.Printf("huddleclaw %s\n", Version)
	fmt.Printf("  Config:     %s\n", cfgPath)
	fmt.Printf("  Agent:      %s\n", cfg.Agent.Mode)
	if !hc.Enabled {
		fmt.Println("  Huddle:     disabled")
		return
	}
	fmt.Println()

	var rows []accountProbe
	for _, id := range hc.AccountIDs() {
		acct := huddle.ResolveAccount(hc, id, nil)
		rows = append(rows, probeAccount(acct, hc, timeout))
	}
	table := make([][]string, 0, len(rows))
	for _, r := range rows {
		table = append(table, []string{r.ID, r.Enabled, r.Token, r.BaseURL, r.Bot, r.Result})
	}
	printTable([]string{"ACCOUNT", "ENABLED", "TOKEN", "BASE URL", "BOT", "RESULT"}, table)
}

func probeAccount(acct huddle.Account, hc config.HuddleConfig, timeout time.Duration) accountProbe {
	row := accountProbe{
		ID:      acct.ID,
		Enabled: fmt.Sprint(acct.Enabled),
		Token:   string(acct.TokenSource),
		BaseURL: acct.BaseURL,
		Bot:     "-",
	}
	if err := acct.Validate(); err != nil {
		row.Result = err.Error()
		return row
	}
	if !acct.Enabled {
		row.Result = "skipped"
		return row
	}

	client := protocol.NewClient(protocol.ClientOptions{
		BaseURL: acct.BaseURL,
		Token:   acct.Token,
		Timeout: hc.Rest.Timeout(),
	})
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	me, err := client.GetMe(ctx)
	switch {
	case protocol.IsAuthError(err):
		row.Result = "token rejected"
	case err != nil:
		row.Result = err.Error()
	default:
		row.Bot = "@" + me.Username
		row.Result = "ok"
	}
	return row
}

// printTable writes left-aligned columns sized by display width, so wide characters in
// usernames keep the columns straight.
func printTable(header []string, rows [][]string) {
	all := append([][]string{header}, rows...)

	widths := make([]int, len(header))
	for _, r := range all {
		for i, cell := range r {
			if w := runewidth.StringWidth(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}
	for _, r := range all {
		var sb strings.Builder
		sb.WriteString("  ")
		for i, cell := range r {
			if i == len(r)-1 {
				sb.WriteString(cell)
				break
			}
			sb.WriteString(runewidth.FillRight(cell, widths[i]+2))
		}
		fmt.Println(strings.TrimRight(sb.String(), " "))
	}
}
