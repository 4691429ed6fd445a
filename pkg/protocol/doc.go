// Package protocol defines the contract between the device state machine and
// a dialogue-service session.
//
// A Protocol carries microphone audio upstream and delivers three kinds of
// downstream traffic through registered callbacks: synthesized audio
// (OnIncomingAudio), structured control messages (OnIncomingMessage) and
// channel lifecycle events (OnAudioChannelOpened, OnAudioChannelClosed,
// OnNetworkError).
//
// Two implementations live in sibling packages:
//
//   - realtime: a persistent binary-framed WebSocket session
//   - httpaudio: a buffered request/response session over HTTP
//
// Implementations embed Handlers to get callback registration and dispatch.
package protocol
