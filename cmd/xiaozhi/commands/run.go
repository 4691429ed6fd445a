package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tengyuan2025/xiaozhi-esp32/pkg/capture"
	"github.com/tengyuan2025/xiaozhi-esp32/pkg/cli"
	"github.com/tengyuan2025/xiaozhi-esp32/pkg/device"
	"github.com/tengyuan2025/xiaozhi-esp32/pkg/httpaudio"
	"github.com/tengyuan2025/xiaozhi-esp32/pkg/playback"
	"github.com/tengyuan2025/xiaozhi-esp32/pkg/protocol"
	"github.com/tengyuan2025/xiaozhi-esp32/pkg/realtime"
	"github.com/tengyuan2025/xiaozhi-esp32/pkg/statereport"
)

var (
	flagMic         string
	flagSpeaker     string
	flagProtocol    string
	flagVADLevel    float64
	flagVADHangover int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a simulated device",
	Long: `Run a simulated voice device.

The microphone is a raw s16le 16kHz mono file replayed in real time (silence
when none is given), the speaker is a raw s16le file at the context's speaker
rate. Control the device by typing on stdin; type "help" for the list.

Examples:
  xiaozhi run --mic question.pcm --speaker reply.pcm
  xiaozhi -c local run --protocol http`,
	RunE: runDevice,
}

func init() {
	runCmd.Flags().StringVar(&flagMic, "mic", "", "microphone input file (overrides context)")
	runCmd.Flags().StringVar(&flagSpeaker, "speaker", "", "speaker output file (overrides context)")
	runCmd.Flags().StringVar(&flagProtocol, "protocol", "", "protocol: realtime, http or none (overrides context)")
	runCmd.Flags().Float64Var(&flagVADLevel, "vad-level", 500, "RMS level treated as speech")
	runCmd.Flags().IntVar(&flagVADHangover, "vad-hangover", 8, "blocks speech is held after the level drops")
}

func runDevice(cmd *cobra.Command, args []string) error {
	dctx, err := getContext()
	if err != nil {
		if contextName != "" {
			return err
		}
		slog.Warn("no context, running offline", "reason", err)
		dctx = &cli.Context{Name: "default", Protocol: cli.ProtocolNone}
	}
	if flagProtocol != "" {
		dctx.Protocol = flagProtocol
	}
	if err := dctx.Validate(); err != nil {
		return err
	}
	audio := cli.AudioContext{}
	if dctx.Audio != nil {
		audio = *dctx.Audio
	}
	if flagMic != "" {
		audio.Mic = flagMic
	}
	if flagSpeaker != "" {
		audio.Speaker = flagSpeaker
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	logger := slog.Default()

	proto, err := buildProtocol(dctx, logger)
	if err != nil {
		return err
	}

	mic, err := openMic(audio.Mic)
	if err != nil {
		return err
	}
	speaker, err := openSpeaker(audio.Speaker, audio.SpeakerRate)
	if err != nil {
		return err
	}
	defer speaker.Close()

	fe := capture.NewEnergyFrontend(flagVADLevel, flagVADHangover)
	pipe := capture.New(fe, capture.Config{}, capture.Callbacks{}, capture.WithLogger(logger))
	player := playback.New(speaker, playback.WithLogger(logger))

	var events device.StateEvents
	display := newConsoleDisplay(os.Stdout)
	opts := []device.Option{
		device.WithDisplay(display),
		device.WithLED(consoleLED{logger: logger}),
		device.WithBoard(consoleBoard{logger: logger, shutdown: stop}),
		device.WithStatePublisher(&events),
		device.WithMCPHandler(mcpLogger{logger: logger}),
		device.WithLogger(logger),
	}
	if proto != nil {
		opts = append(opts, device.WithProtocol(proto))
	}
	machine := device.New(pipe, player, machineConfig(dctx, speaker), opts...)

	var wg sync.WaitGroup
	spawn := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil {
				logger.Error("worker stopped", "worker", name, "error", err)
				stop()
			}
		}()
	}

	if dctx.MQTT != nil && dctx.MQTT.Broker != "" {
		reporter, closeReporter, err := buildReporter(ctx, dctx, logger)
		if err != nil {
			return err
		}
		defer closeReporter()
		detach := reporter.Attach(&events)
		defer detach()
		spawn("statereport", reporter.Run)
		cli.PrintInfo("Reporting state to %s", reporter.Topic())
	}

	if err := machine.Start(ctx); err != nil {
		logger.Error("device started without a working protocol", "error", err)
	}

	spawn("capture", pipe.Run)
	spawn("playback", player.Run)
	spawn("device", machine.Run)
	spawn("mic", func(ctx context.Context) error {
		return mic.Run(ctx, pipe.Feed)
	})

	fmt.Println(controlHelpText)
	controls := make(chan control)
	go readControls(ctx, os.Stdin, controls, func(err error) {
		cli.PrintError("%v", err)
	})

	started := time.Now()
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case c := <-controls:
			if c.kind == controlQuit {
				stop()
				break loop
			}
			handleControl(c, machine, pipe)
		}
	}
	wg.Wait()
	closeProtocol(proto)

	cli.PrintSuccess("Ran for %s, wrote %d bytes of speaker audio", time.Since(started).Round(time.Second), speaker.Written())
	return nil
}

// closeProtocol ends any open conversation once the device loop has
// stopped.
func closeProtocol(p protocol.Protocol) {
	if p == nil {
		return
	}
	p.CloseAudioChannel()
}

func handleControl(c control, m *device.Machine, pipe *capture.Pipeline) {
	switch c.kind {
	case controlToggle:
		m.ToggleChatState()
	case controlStart:
		m.StartListening()
	case controlStop:
		m.StopListening()
	case controlAbort:
		m.AbortSpeaking(protocol.AbortNone)
	case controlWakeWord:
		if !pipe.IsWakeWordDetecting() {
			cli.PrintError("wake word detection is off in state %s", m.State())
			return
		}
		pipe.NotifyWakeWord(c.arg)
	case controlQuery:
		rt, ok := m.Protocol().(*realtime.Session)
		if !ok {
			cli.PrintError("text queries need the realtime protocol")
			return
		}
		if err := rt.SendTextQuery(c.arg); err != nil {
			cli.PrintError("text query: %v", err)
		}
	case controlHelp:
		fmt.Println(controlHelpText)
	}
}

func machineConfig(dctx *cli.Context, speaker *fileSpeaker) device.Config {
	cfg := device.Config{OutputSampleRate: speaker.Format().SampleRate()}
	if b := dctx.Behavior; b != nil {
		cfg.VADTriggerRecording = b.VADTrigger
		cfg.WakeWordWhileSpeaking = b.WakeWordWhileSpeaking
		cfg.CustomMessages = b.CustomMessages
		if mode, ok := device.ParseAECMode(b.AECMode); ok {
			cfg.AECMode = mode
		}
	}
	return cfg
}

// buildProtocol returns nil for the "none" protocol.
func buildProtocol(dctx *cli.Context, logger *slog.Logger) (protocol.Protocol, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch dctx.ProtocolName() {
	case cli.ProtocolRealtime:
		rc := dctx.Realtime
		cfg := realtime.Config{
			URL:              rc.URL,
			AppID:            rc.AppID,
			AccessKey:        rc.AccessKey,
			ResourceID:       rc.ResourceID,
			AppKey:           rc.AppKey,
			Greeting:         rc.Greeting,
			HandshakeTimeout: rc.HandshakeTimeout.Duration(),
			SessionTimeout:   rc.SessionTimeout.Duration(),
			Session:          realtime.DefaultSessionConfig(),
		}
		if rc.Request != "" {
			if err := cli.LoadRequest(rc.Request, &cfg.Session); err != nil {
				return nil, fmt.Errorf("load session request: %w", err)
			}
		}
		return realtime.New(cfg, realtime.WithLogger(logger)), nil
	case cli.ProtocolHTTP:
		cfg := httpaudio.Config{
			URL:     dctx.HTTP.URL,
			Timeout: dctx.HTTP.Timeout.Duration(),
		}
		return httpaudio.New(cfg, httpaudio.WithLogger(logger)), nil
	case cli.ProtocolNone:
		return nil, nil
	}
	return nil, fmt.Errorf("unknown protocol %q", dctx.Protocol)
}

func buildReporter(ctx context.Context, dctx *cli.Context, logger *slog.Logger) (*statereport.Reporter, func(), error) {
	mc := dctx.MQTT
	enc, err := statereport.ParseEncoding(mc.Encoding)
	if err != nil {
		return nil, nil, err
	}
	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	pub, err := statereport.DialMQTT(dialCtx, statereport.MQTTConfig{
		Broker:   mc.Broker,
		Username: mc.Username,
		Password: mc.Password,
		QoS:      mc.QoS,
	}, logger)
	if err != nil {
		return nil, nil, err
	}
	opts := []statereport.Option{
		statereport.WithEncoding(enc),
		statereport.WithLogger(logger),
	}
	if mc.Scope != "" {
		opts = append(opts, statereport.WithScope(mc.Scope))
	}
	return statereport.New(pub, dctx.Device(), opts...), func() { pub.Close() }, nil
}
