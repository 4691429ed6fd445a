// Package playback moves inbound audio packets to a speaker.
//
// A Player holds a bounded queue of packets. Its worker decodes each PCM
// payload, resamples it to the speaker rate when the rates differ and
// writes it to the Speaker. Reset drops whatever is queued, which the
// device does whenever a new reply starts.
//
// The player also synthesizes the short cue sounds the device plays on its
// own (popup, success, exclamation).
package playback
