// Package audio groups the audio helpers used by the device core:
//
//   - pcm: 16-bit little-endian PCM formats and sample conversion
//   - resampler: sample-rate conversion for playback
package audio
