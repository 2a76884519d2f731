package commands

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/MKTCOACH-eng/IASCHOOL-sub001/internal/config"
	"github.com/MKTCOACH-eng/IASCHOOL-sub001/internal/integrations/assistant"
)

var (
	cfgFile  string
	endpoint string
	verbose  bool
)

var rootCmd = &cobra.Command{
	Use:   "assistant",
	Short: "assistant - school assistant client",
	Long: `assistant talks to the school assistant service from the terminal.

  assistant chat                 Interactive chat session
  assistant history list         List earlier conversations
  assistant history show <id>    Print one conversation`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.iaschool/assistant.toml)")
	rootCmd.PersistentFlags().StringVar(&endpoint, "endpoint", "", "service base URL (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(versionCmd)
}

func Execute(ver string) error {
	version = ver
	return rootCmd.Execute()
}

var version string

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "assistant %s\n", version)
	},
}

// loadConfig applies the persistent flags on top of file and env config.
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if cfgFile != "" {
		cfg, err = config.LoadFile(cfgFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if endpoint != "" {
		cfg.Endpoint.BaseURL = endpoint
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: cfg.LogLevel()}))
}

func newClient(cfg *config.Config) (*assistant.Client, error) {
	return assistant.NewClient(cfg.Endpoint.BaseURL,
		assistant.WithToken(cfg.Endpoint.Token),
		assistant.WithHTTPClient(&http.Client{Timeout: cfg.Timeout()}),
	)
}
