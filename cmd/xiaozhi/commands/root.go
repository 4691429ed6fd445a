package commands

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tengyuan2025/xiaozhi-esp32/pkg/cli"
)

const appName = "xiaozhi"

var (
	cfgFile      string
	contextName  string
	logLevel     string
	globalConfig *cli.Config
	configErr    error
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "xiaozhi",
	Short: "Voice device simulator",
	Long: `xiaozhi simulates a voice-interaction device on the desktop.

Microphone input comes from a raw PCM file, speaker output goes to another,
and the device state machine talks to the configured dialogue service.

Configuration is stored in ~/.xiaozhi/xiaozhi/ and supports multiple contexts,
allowing you to switch between services and devices.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ~/.xiaozhi/xiaozhi/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&contextName, "context", "c", "", "context to use (default is current context)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(configCmd)
}

func initConfig() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLevel(logLevel),
	})))
	globalConfig, configErr = cli.LoadConfigWithPath(appName, cfgFile)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getConfig() (*cli.Config, error) {
	if configErr != nil {
		return nil, fmt.Errorf("load config: %w", configErr)
	}
	return globalConfig, nil
}

// getContext returns the context selected by -c or the current one.
func getContext() (*cli.Context, error) {
	cfg, err := getConfig()
	if err != nil {
		return nil, err
	}
	ctx, err := cfg.ResolveContext(contextName)
	if err != nil {
		if contextName == "" {
			return nil, fmt.Errorf("no context specified. Use -c flag or set a default context with 'xiaozhi config context use'")
		}
		return nil, err
	}
	return ctx, nil
}
