// Package resampler converts 16-bit mono PCM between sample rates using a
// pure Go polyphase resampler (github.com/tphakala/go-audio-resampling).
//
// Example usage:
//
//	r, err := resampler.New(24000, 16000)
//	if err != nil {
//	    return err
//	}
//	out, err := r.Process(samples)
package resampler
