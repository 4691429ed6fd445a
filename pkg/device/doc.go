// Package device implements the control core of a voice-interaction device.
//
// A Machine owns the device state and the active protocol session. Every
// trigger (buttons, wake words, voice activity, protocol callbacks) ends up
// either raising an event bit or scheduling a task; both are consumed by a
// single run loop, which is the only place the state changes and the only
// caller of protocol control methods.
//
// Usage:
//
//	m := device.New(pipeline, player, device.Config{},
//	    device.WithProtocol(session),
//	    device.WithDisplay(display),
//	)
//	go m.Run(ctx)
//	m.Start(ctx)
//	m.ToggleChatState()
//
// Collaborators that are not supplied default to no-ops. A Machine without a
// protocol runs offline: captured audio is discarded and chat actions are
// ignored.
package device
