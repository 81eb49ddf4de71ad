package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/huddleclaw/internal/channels/huddle"
	"github.com/nextlevelbuilder/huddleclaw/internal/config"
)

func sendCmd() *cobra.Command {
	var (
		account string
		to      string
		text    string
		media   string
		replyTo string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a message to a Huddle channel or user",
		Example: `  huddleclaw send --to user:42 --text "deploy finished"
  huddleclaw send --to "#ops" --media ./graph.png --text "latency today"`,
		Run: func(cmd *cobra.Command, args []string) {
			if to == "" || (text == "" && media == "") {
				fmt.Fprintln(os.Stderr, "--to and one of --text or --media are required")
				os.Exit(2)
			}
			os.Exit(runSend(account, to, text, media, replyTo, timeout))
		},
	}
	cmd.Flags().StringVar(&account, "account", "", "account ID (default: the default account)")
	cmd.Flags().StringVar(&to, "to", "", `target: "user:ID", "@ID", "channel:ID", "#ID" or a channel ID`)
	cmd.Flags().StringVar(&text, "text", "", "message text (caption when --media is set)")
	cmd.Flags().StringVar(&media, "media", "", "file path or URL to upload")
	cmd.Flags().StringVar(&replyTo, "reply-to", "", "parent message ID to reply in thread")
	cmd.Flags().DurationVar(&timeout, "timeout", 60*time.Second, "overall timeout")
	return cmd
}

func runSend(account, to, text, media, replyTo string, timeout time.Duration) int {
	setupLogging()
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %s\n", err)
		return 1
	}

	ch := huddle.New(huddle.Options{
		Settings: cfg.HuddleSnapshot,
		Bindings: cfg.BindingsSnapshot,
		SendOnly: true,
	})
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	defer ch.Stop(context.Background())

	var res huddle.ActionResult
	if media != "" {
		res = ch.SendMedia(ctx, account, to, media, text, replyTo)
	} else {
		res = ch.SendText(ctx, account, to, text, replyTo)
	}

	out, _ := json.MarshalIndent(res, "", "  ")
	fmt.Println(string(out))
	if !res.OK {
		return 1
	}
	return 0
}
