// Package pcm provides types and utilities for 16-bit mono PCM audio.
//
// Key types and helpers:
//   - Format: a sample rate with duration/size arithmetic
//   - Decode/Encode: bounds-checked conversion between little-endian bytes
//     and int16 samples
//   - RMS: root-mean-square level of a block of samples
//
// Example usage:
//
//	format := pcm.L16Mono16K
//
//	// Samples in one 60ms capture frame
//	n := format.SamplesInDuration(60 * time.Millisecond)
//
//	// 10ms of silence as wire bytes
//	silence := format.Silence(10 * time.Millisecond)
package pcm
