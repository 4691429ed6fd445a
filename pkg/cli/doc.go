// Package cli provides common utilities for the xiaozhi command-line tools.
//
// This package includes:
//   - Device contexts (protocol endpoint, audio files, MQTT reporting)
//   - Output formatting (JSON, YAML)
//   - Session request loading (YAML/JSON)
//   - The console theme used by the simulator display
//
// Configuration is stored in ~/.xiaozhi/<app>/config.yaml and supports
// multiple contexts similar to kubectl.
//
//	cfg, err := cli.LoadConfig("xiaozhi")
//	ctx, err := cfg.ResolveContext("")
//	if err := ctx.Validate(); err != nil { ... }
package cli
