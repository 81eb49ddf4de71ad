package cmd

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/huddleclaw/internal/channels/huddle"
	"github.com/nextlevelbuilder/huddleclaw/internal/config"
)

func onboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "onboard",
		Short: "Interactive setup wizard",
		Run: func(cmd *cobra.Command, args []string) {
			runOnboard()
		},
	}
}

func validateURL(s string) error {
	u, err := url.Parse(strings.TrimSpace(s))
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return errors.New("enter an http(s) URL, e.g. https://chat.example.com/api")
	}
	return nil
}

func runOnboard() {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %s\n", err)
		os.Exit(1)
	}

	hc := &cfg.Channels.Huddle
	baseURL := hc.BaseURL
	token := hc.Token
	dmPolicy := hc.DMPolicy
	if dmPolicy == "" {
		dmPolicy = "pairing"
	}
	requireMention := hc.RequireMention == nil || *hc.RequireMention
	agentMode := cfg.Agent.Mode
	agentURL := cfg.Agent.URL
	gatewayPort := strconv.Itoa(cfg.Gateway.Port)
	gatewayToken := cfg.Gateway.Token
	save := true

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("HuddleClaw setup").
				Description("Connects a Huddle bot account to your agent runtime.\nSettings are written to "+cfgPath+"."),
			huh.NewInput().
				Title("Huddle API base URL").
				Placeholder("https://chat.example.com/api").
				Value(&baseURL).
				Validate(validateURL),
			huh.NewInput().
				Title("Bot token").
				Description("Leave empty to use $"+config.EnvHuddleToken+" at runtime.").
				EchoMode(huh.EchoModePassword).
				Value(&token),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Direct messages from unknown users").
				Options(
					huh.NewOption("Pairing code, approved by you", "pairing"),
					huh.NewOption("Only users in allow_from", "allowlist"),
					huh.NewOption("Anyone", "open"),
					huh.NewOption("Nobody", "disabled"),
				).
				Value(&dmPolicy),
			huh.NewConfirm().
				Title("Require an @mention in group channels?").
				Value(&requireMention),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Agent runtime").
				Options(
					huh.NewOption("HTTP endpoint (POST per turn)", "http"),
					huh.NewOption("Agents connect to a WebSocket bridge", "gateway"),
				).
				Value(&agentMode),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Agent endpoint URL").
				Value(&agentURL).
				Validate(validateURL),
		).WithHideFunc(func() bool { return agentMode != "http" }),
		huh.NewGroup(
			huh.NewInput().
				Title("Bridge port").
				Value(&gatewayPort).
				Validate(func(s string) error {
					if n, err := strconv.Atoi(s); err != nil || n <= 0 || n > 65535 {
						return errors.New("enter a port between 1 and 65535")
					}
					return nil
				}),
			huh.NewInput().
				Title("Bridge token agents must present").
				EchoMode(huh.EchoModePassword).
				Value(&gatewayToken),
		).WithHideFunc(func() bool { return agentMode != "gateway" }),
		huh.NewGroup(
			huh.NewConfirm().
				Title("Save configuration?").
				Value(&save),
		),
	)

	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			fmt.Println("Setup cancelled.")
			return
		}
		fmt.Fprintf(os.Stderr, "onboard: %s\n", err)
		os.Exit(1)
	}
	if !save {
		fmt.Println("Nothing written.")
		return
	}

	hc.Enabled = true
	hc.BaseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	hc.Token = strings.TrimSpace(token)
	hc.DMPolicy = dmPolicy
	hc.RequireMention = &requireMention
	cfg.Agent.Mode = agentMode
	if agentMode == "http" {
		cfg.Agent.URL = strings.TrimSpace(agentURL)
	} else {
		cfg.Gateway.Port, _ = strconv.Atoi(gatewayPort)
		cfg.Gateway.Token = gatewayToken
	}

	if err := config.Save(cfgPath, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "save config: %s\n", err)
		os.Exit(1)
	}

	acct := huddle.ResolveAccount(cfg.HuddleSnapshot(), "", nil)
	fmt.Printf("Saved %s\n", cfgPath)
	fmt.Printf("  Realtime endpoint: %s\n", acct.TransportURL)
	fmt.Printf("  Token source:      %s\n", acct.TokenSource)
	fmt.Println()
	fmt.Println("Check the connection with:  huddleclaw status")
	fmt.Println("Start the connector with:   huddleclaw")
}
