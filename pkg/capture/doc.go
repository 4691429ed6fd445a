// Package capture turns microphone samples into outbound audio.
//
// Samples are fed to an acoustic Frontend, which returns processed samples
// tagged with a voice-activity class. A worker goroutine fetches those
// results while voice processing is enabled, reports speech/silence edges,
// and regroups the samples into fixed-size frames. Depending on the
// recording mode, frames are either queued as packets for streaming, or
// collected into a recording that starts at the speech edge and is handed
// over at the following silence edge.
//
// While wake-word detection is enabled, raw samples also go to the detector
// and into a pre-roll ring so the words that woke the device can be sent
// upstream.
package capture
