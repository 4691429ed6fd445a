// Package httpaudio implements protocol.Protocol as buffered HTTP requests.
//
// Upstream PCM accumulates while the audio channel is open. When the buffer
// crosses a size threshold, or the channel closes, the audio is posted as a
// multipart form to the voice endpoint on a worker goroutine. A successful
// response body is either synthesized audio, played back as one packet, or
// text, which is logged and ignored.
package httpaudio
