package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"

	"StreamChat/internal/chatbot"
	"StreamChat/internal/config"
	"StreamChat/internal/tui"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

var (
	configPath       string
	endpoint         string
	storePath        string
	storageKey       string
	logDir           string
	logLevel         string
	debug            bool
	telemetryEnabled bool
	collapseThinking bool
	plain            bool
)

var rootCmd = &cobra.Command{
	Use:   "streamchat",
	Short: "Chat with a multi-agent service over a streaming connection",
	Long: `StreamChat sends your messages to the agent service and shows the
replies, thinking notices and session updates as they stream in.

The session issued by the service is remembered between runs.

Run without arguments to start the interactive chat interface.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if plain {
			bot, err := newBot(cmd)
			if err != nil {
				return err
			}
			return bot.Run()
		}
		return runInteractiveChat(cmd)
	},
}

var sendCmd = &cobra.Command{
	Use:   "send [message]",
	Short: "Send one message and print the streamed reply",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		bot, err := newBot(cmd)
		if err != nil {
			return err
		}
		defer bot.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()
		return bot.Send(ctx, strings.Join(args, " "))
	},
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Show the stored session and what the service knows about it",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCommand(cmd, "/session")
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check that the agent service is up",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCommand(cmd, "/health")
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "", "Path to a YAML config file")
	flags.StringVar(&endpoint, "endpoint", config.DefaultEndpoint, "Streaming chat endpoint URL")
	flags.StringVar(&storePath, "store", config.DefaultStorePath, "SQLite file holding the session id")
	flags.StringVar(&storageKey, "storage-key", config.DefaultStorageKey, "Key the session id is stored under")
	flags.StringVar(&logDir, "log-dir", config.DefaultLogDir, "Directory for log and telemetry files")
	flags.StringVar(&logLevel, "log-level", config.DefaultLogLevel, "Log level (debug|info|warn|error)")
	flags.BoolVar(&debug, "debug", false, "Enable debug logging")
	flags.BoolVar(&telemetryEnabled, "telemetry", false, "Export traces and metrics to the log directory")
	flags.BoolVar(&collapseThinking, "collapse-thinking", false, "Hide thinking notices once an answer arrives")

	rootCmd.Flags().BoolVar(&plain, "plain", false, "Use the line-oriented interface instead of the full-screen one")

	rootCmd.AddCommand(sendCmd, sessionCmd, healthCmd)
}

// loadConfig reads the config file and environment, then applies only the
// flags given on the command line
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, err
	}

	flags := cmd.Flags()
	if flags.Changed("endpoint") {
		cfg.Endpoint = endpoint
	}
	if flags.Changed("store") {
		cfg.StorePath = storePath
	}
	if flags.Changed("storage-key") {
		cfg.StorageKey = storageKey
	}
	if flags.Changed("log-dir") {
		cfg.LogDir = logDir
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if flags.Changed("debug") {
		cfg.Debug = debug
	}
	if flags.Changed("telemetry") {
		cfg.Telemetry = telemetryEnabled
	}
	if flags.Changed("collapse-thinking") {
		cfg.CollapseThinking = collapseThinking
	}
	return cfg, nil
}

func newBot(cmd *cobra.Command) (*chatbot.ChatBot, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	bot, err := chatbot.NewChatBot(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize chatbot: %w", err)
	}
	return bot, nil
}

// runInteractiveChat starts the full-screen chat interface
func runInteractiveChat(cmd *cobra.Command) error {
	bot, err := newBot(cmd)
	if err != nil {
		return err
	}
	defer bot.Close()

	model := tui.New(bot.Panel(), tui.Options{
		CollapseThinking: bot.Config().CollapseThinking,
		Commands:         bot.HandleCommand,
	})
	bot.SetListener(model.Notify)
	defer bot.SetListener(nil)

	p := tea.NewProgram(model, tea.WithAltScreen())
	_, err = p.Run()
	return err
}

func runCommand(cmd *cobra.Command, line string) error {
	bot, err := newBot(cmd)
	if err != nil {
		return err
	}
	defer bot.Close()

	out, _, err := bot.HandleCommand(cmd.Context(), line)
	if out != "" {
		fmt.Fprintln(cmd.OutOrStdout(), out)
	}
	return err
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
