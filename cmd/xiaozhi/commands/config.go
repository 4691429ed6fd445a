package commands

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tengyuan2025/xiaozhi-esp32/pkg/cli"
	"github.com/tengyuan2025/xiaozhi-esp32/pkg/device"
	"github.com/tengyuan2025/xiaozhi-esp32/pkg/jsontime"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long: `Manage xiaozhi configuration.

Configuration is stored in ~/.xiaozhi/xiaozhi/config.yaml`,
}

var contextCmd = &cobra.Command{
	Use:   "context",
	Short: "Manage device contexts",
}

var contextAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Create or update a context",
	Long: `Create or update a context. Only flags that are given change an existing
context.

Examples:
  # Realtime dialogue service
  xiaozhi config context add lab --app-id=APPID --access-key=KEY --greeting=你好

  # Request/response HTTP service with VAD-triggered recording
  xiaozhi config context add local --protocol=http --url=http://localhost:8000/api/v1/process-voice-json --vad-trigger

  # Report state changes to MQTT
  xiaozhi config context add lab --mqtt=localhost:1883 --mqtt-scope=lab`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := getConfig()
		if err != nil {
			return err
		}
		name := args[0]
		ctx, err := cfg.GetContext(name)
		if err != nil {
			ctx = &cli.Context{Name: name}
		}
		if err := applyContextFlags(cmd, ctx); err != nil {
			return err
		}
		if err := cfg.AddContext(name, ctx); err != nil {
			return err
		}
		cli.PrintSuccess("Context %q saved", name)
		return nil
	},
}

var contextListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all contexts",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := getConfig()
		if err != nil {
			return err
		}
		names := cfg.ListContexts()
		if len(names) == 0 {
			fmt.Println("No contexts configured.")
			fmt.Println("\nCreate one with:")
			fmt.Println("  xiaozhi config context add lab --app-id=APPID --access-key=KEY")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "CURRENT\tNAME\tPROTOCOL\tDEVICE\tMQTT")
		for _, name := range names {
			ctx, _ := cfg.GetContext(name)
			current := ""
			if name == cfg.CurrentContext {
				current = "*"
			}
			broker := "-"
			if ctx.MQTT != nil && ctx.MQTT.Broker != "" {
				broker = ctx.MQTT.Broker
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", current, name, ctx.ProtocolName(), ctx.Device(), broker)
		}
		return w.Flush()
	},
}

var contextUseCmd = &cobra.Command{
	Use:   "use <name>",
	Short: "Switch to a context",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := getConfig()
		if err != nil {
			return err
		}
		if err := cfg.UseContext(args[0]); err != nil {
			return err
		}
		cli.PrintSuccess("Switched to context %q", args[0])
		return nil
	},
}

var contextShowCmd = &cobra.Command{
	Use:   "show [name]",
	Short: "Show context details",
	Long:  `Show a context with secrets masked. Without a name, shows the current context.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := getConfig()
		if err != nil {
			return err
		}
		name := contextName
		if len(args) > 0 {
			name = args[0]
		}
		ctx, err := cfg.ResolveContext(name)
		if err != nil {
			return err
		}
		asJSON, _ := cmd.Flags().GetBool("json")
		format := cli.FormatYAML
		if asJSON {
			format = cli.FormatJSON
		}
		if err := cli.Output(ctx.Masked(), cli.OutputOptions{Format: format}); err != nil {
			return err
		}
		cli.PrintInfo("Config file: %s", cfg.Path())
		return nil
	},
}

var contextDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a context",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := getConfig()
		if err != nil {
			return err
		}
		if err := cfg.DeleteContext(args[0]); err != nil {
			return err
		}
		cli.PrintSuccess("Context %q deleted", args[0])
		return nil
	},
}

func init() {
	addContextFlags(contextAddCmd)

	contextShowCmd.Flags().Bool("json", false, "output as JSON")

	contextCmd.AddCommand(contextAddCmd, contextListCmd, contextUseCmd, contextShowCmd, contextDeleteCmd)
	configCmd.AddCommand(contextCmd)
}

func addContextFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("protocol", "", "protocol: realtime, http or none")
	f.String("device-id", "", "device id used in state reports")
	f.String("url", "", "service URL (realtime or http)")
	f.String("app-id", "", "realtime app id")
	f.String("access-key", "", "realtime access key")
	f.String("resource-id", "", "realtime resource id")
	f.String("greeting", "", "greeting spoken after a wake word")
	f.String("request", "", "session request file (YAML or JSON)")
	f.Duration("timeout", 0, "connect or request timeout")
	f.String("mic", "", "microphone input file (s16le 16kHz mono)")
	f.String("speaker", "", "speaker output file (s16le mono)")
	f.Int("speaker-rate", 0, "speaker sample rate")
	f.Bool("vad-trigger", false, "start recording on detected speech instead of a wake word")
	f.Bool("wake-word-while-speaking", false, "let a wake word interrupt a reply")
	f.String("aec", "", "echo cancellation: off, device or server")
	f.String("mqtt", "", "MQTT broker for state reports")
	f.String("mqtt-user", "", "MQTT username")
	f.String("mqtt-password", "", "MQTT password")
	f.String("mqtt-scope", "", "MQTT topic scope")
	f.String("mqtt-encoding", "", "state report encoding: msgpack or json")
}

// applyContextFlags copies the changed flags of cmd into ctx.
func applyContextFlags(cmd *cobra.Command, ctx *cli.Context) error {
	f := cmd.Flags()
	str := func(name string, dst *string) {
		if f.Changed(name) {
			*dst, _ = f.GetString(name)
		}
	}
	boolean := func(name string, dst *bool) {
		if f.Changed(name) {
			*dst, _ = f.GetBool(name)
		}
	}

	str("protocol", &ctx.Protocol)
	str("device-id", &ctx.DeviceID)

	switch ctx.ProtocolName() {
	case cli.ProtocolRealtime:
		if ctx.Realtime == nil {
			ctx.Realtime = &cli.RealtimeContext{}
		}
		rt := ctx.Realtime
		str("url", &rt.URL)
		str("app-id", &rt.AppID)
		str("access-key", &rt.AccessKey)
		str("resource-id", &rt.ResourceID)
		str("greeting", &rt.Greeting)
		str("request", &rt.Request)
		if f.Changed("timeout") {
			d, _ := f.GetDuration("timeout")
			rt.HandshakeTimeout = jsontime.Duration(d)
		}
	case cli.ProtocolHTTP:
		if ctx.HTTP == nil {
			ctx.HTTP = &cli.HTTPContext{}
		}
		str("url", &ctx.HTTP.URL)
		if f.Changed("timeout") {
			d, _ := f.GetDuration("timeout")
			ctx.HTTP.Timeout = jsontime.Duration(d)
		}
	}

	if f.Changed("mic") || f.Changed("speaker") || f.Changed("speaker-rate") {
		if ctx.Audio == nil {
			ctx.Audio = &cli.AudioContext{}
		}
		str("mic", &ctx.Audio.Mic)
		str("speaker", &ctx.Audio.Speaker)
		if f.Changed("speaker-rate") {
			ctx.Audio.SpeakerRate, _ = f.GetInt("speaker-rate")
		}
	}

	if f.Changed("vad-trigger") || f.Changed("wake-word-while-speaking") || f.Changed("aec") {
		if ctx.Behavior == nil {
			ctx.Behavior = &cli.BehaviorContext{}
		}
		boolean("vad-trigger", &ctx.Behavior.VADTrigger)
		boolean("wake-word-while-speaking", &ctx.Behavior.WakeWordWhileSpeaking)
		str("aec", &ctx.Behavior.AECMode)
		if _, ok := device.ParseAECMode(ctx.Behavior.AECMode); !ok && ctx.Behavior.AECMode != "" {
			return fmt.Errorf("unknown aec mode %q (want off, device or server)", ctx.Behavior.AECMode)
		}
	}

	if f.Changed("mqtt") || ctx.MQTT != nil {
		if ctx.MQTT == nil {
			ctx.MQTT = &cli.MQTTContext{}
		}
		str("mqtt", &ctx.MQTT.Broker)
		str("mqtt-user", &ctx.MQTT.Username)
		str("mqtt-password", &ctx.MQTT.Password)
		str("mqtt-scope", &ctx.MQTT.Scope)
		str("mqtt-encoding", &ctx.MQTT.Encoding)
		if strings.TrimSpace(ctx.MQTT.Broker) == "" {
			ctx.MQTT = nil
		}
	}
	return nil
}
