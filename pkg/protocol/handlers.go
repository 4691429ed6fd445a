package protocol

import "sync"

// Handlers stores the callbacks of a Protocol. Sessions embed it and use the
// Emit methods to dispatch; unset callbacks are skipped.
type Handlers struct {
	mu           sync.RWMutex
	onAudio      func(*AudioStreamPacket)
	onMessage    func(*Message)
	onOpened     func()
	onClosed     func()
	onNetworkErr func(string)
}

func (h *Handlers) OnIncomingAudio(fn func(*AudioStreamPacket)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onAudio = fn
}

func (h *Handlers) OnIncomingMessage(fn func(*Message)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onMessage = fn
}

func (h *Handlers) OnAudioChannelOpened(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onOpened = fn
}

func (h *Handlers) OnAudioChannelClosed(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onClosed = fn
}

func (h *Handlers) OnNetworkError(fn func(string)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onNetworkErr = fn
}

// EmitAudio delivers a downstream audio packet.
func (h *Handlers) EmitAudio(pkt *AudioStreamPacket) {
	h.mu.RLock()
	fn := h.onAudio
	h.mu.RUnlock()
	if fn != nil {
		fn(pkt)
	}
}

// EmitMessage delivers a downstream control message.
func (h *Handlers) EmitMessage(msg *Message) {
	h.mu.RLock()
	fn := h.onMessage
	h.mu.RUnlock()
	if fn != nil {
		fn(msg)
	}
}

// EmitOpened reports that the audio channel became usable.
func (h *Handlers) EmitOpened() {
	h.mu.RLock()
	fn := h.onOpened
	h.mu.RUnlock()
	if fn != nil {
		fn()
	}
}

// EmitClosed reports that the audio channel closed.
func (h *Handlers) EmitClosed() {
	h.mu.RLock()
	fn := h.onClosed
	h.mu.RUnlock()
	if fn != nil {
		fn()
	}
}

// EmitNetworkError reports a transport or server failure.
func (h *Handlers) EmitNetworkError(msg string) {
	h.mu.RLock()
	fn := h.onNetworkErr
	h.mu.RUnlock()
	if fn != nil {
		fn(msg)
	}
}
