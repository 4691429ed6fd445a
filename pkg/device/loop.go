package device

import (
	"context"
	"slices"
	"time"

	"github.com/tengyuan2025/xiaozhi-esp32/pkg/eventbits"
	"github.com/tengyuan2025/xiaozhi-esp32/pkg/playback"
	"github.com/tengyuan2025/xiaozhi-esp32/pkg/protocol"
)

// Run is the event loop. It returns when ctx is done.
func (m *Machine) Run(ctx context.Context) error {
	m.loopCtx = ctx
	go m.runClock(ctx)
	for {
		bits, err := m.events.Wait(ctx, loopBits, eventbits.WaitOptions{Clear: true})
		if err != nil {
			return nil
		}
		m.handle(bits)
	}
}

// handle processes one wake. Tasks scheduled while the batch runs wait for
// the next wake.
func (m *Machine) handle(bits eventbits.Bits) {
	if bits.Has(bitError) {
		m.SetState(StateIdle)
		m.Alert(m.strings.Error, m.LastError(), "sad", playback.SoundExclamation)
	}
	if bits.Has(bitSendAudio) {
		m.drainSendQueue()
	}
	if bits.Has(bitWakeWord) {
		m.onWakeWordDetected()
	}
	if bits.Has(bitVADChange) && m.State() == StateListening {
		m.led.OnStateChanged(StateListening)
	}
	if bits.Has(bitSchedule) {
		m.mu.Lock()
		tasks := m.tasks
		m.tasks = nil
		m.mu.Unlock()
		for _, task := range tasks {
			task()
		}
	}
}

// drainSendQueue moves captured packets to the protocol until it declines.
// Without an open channel the packets are discarded.
func (m *Machine) drainSendQueue() {
	if m.protocol == nil || !m.protocol.IsAudioChannelOpened() {
		for {
			if _, ok := m.capture.PopSendPacket(); !ok {
				return
			}
		}
	}
	for {
		pkt, ok := m.capture.PeekSendPacket()
		if !ok {
			return
		}
		if !m.protocol.SendAudio(pkt) {
			return
		}
		m.capture.PopSendPacket()
	}
}

func (m *Machine) onWakeWordDetected() {
	if m.protocol == nil {
		return
	}
	switch m.State() {
	case StateIdle:
		m.capture.EncodeWakeWord()
		if !m.openAudioChannel() {
			m.capture.EnableWakeWordDetection(true)
			return
		}
		word := m.capture.LastWakeWord()
		m.logger.Info("wake word detected", "word", word)
		caps := m.protocol.Capabilities()
		if caps.WakeWordAudio {
			for {
				pkt, ok := m.capture.PopWakeWordPacket()
				if !ok || !m.protocol.SendAudio(pkt) {
					break
				}
			}
		}
		m.protocol.SendWakeWordDetected(word)
		m.setListeningMode(m.defaultListeningMode())
		if !caps.WakeWordAudio {
			m.playback.PlaySound(playback.SoundPopup)
		}
	case StateSpeaking:
		m.abortSpeaking(protocol.AbortWakeWordDetected)
	case StateActivating:
		m.SetState(StateIdle)
	}
}

func (m *Machine) onVADChange(speaking bool) {
	m.events.Set(bitVADChange)
	if speaking && m.vadTriggerActive() && m.State() == StateIdle {
		m.Schedule(m.onVADDetected)
	}
}

func (m *Machine) onVADDetected() {
	if m.State() != StateIdle {
		m.logger.Debug("speech detected outside idle", "state", m.State())
		return
	}
	if !m.openAudioChannel() {
		return
	}
	m.setListeningMode(protocol.AutoStop)
}

func (m *Machine) sendRecording(samples []int16) {
	if m.protocol == nil {
		return
	}
	if !m.protocol.IsAudioChannelOpened() {
		m.logger.Warn("recording complete but channel closed, dropped", "samples", len(samples))
		return
	}
	if !m.protocol.SendPCMAudio(samples) {
		m.logger.Warn("protocol declined recording", "samples", len(samples))
		return
	}
	if m.protocol.Capabilities().RequestResponse {
		m.protocol.CloseAudioChannel()
	}
}

func (m *Machine) recordingTooShort(n int) {
	if m.State() != StateListening {
		return
	}
	m.logger.Info("recording too short", "bytes", n)
	m.display.SetStatus(m.strings.RecordingTooShort)
	time.AfterFunc(m.cfg.TooShortRevertDelay, func() {
		m.Schedule(func() {
			if m.State() != StateListening {
				return
			}
			if m.protocol != nil && m.protocol.IsAudioChannelOpened() && m.protocol.Capabilities().RequestResponse {
				m.protocol.CloseAudioChannel()
			}
			m.SetState(StateIdle)
		})
	})
}

// ===== Protocol callbacks =====

func (m *Machine) registerProtocol() {
	p := m.protocol
	p.OnNetworkError(func(msg string) {
		m.mu.Lock()
		m.lastError = msg
		m.mu.Unlock()
		m.events.Set(bitError)
	})
	p.OnIncomingAudio(func(pkt *protocol.AudioStreamPacket) {
		m.Schedule(func() {
			if m.State() != StateSpeaking || m.aborted {
				return
			}
			if !m.playback.PushPacket(pkt) {
				m.logger.Debug("playback queue full, packet dropped")
			}
		})
	})
	p.OnAudioChannelOpened(func() {
		m.board.SetPowerSaveMode(false)
		if rate := p.ServerSampleRate(); rate != m.cfg.OutputSampleRate {
			m.logger.Warn("server sample rate differs from output, resampling", "server", rate, "output", m.cfg.OutputSampleRate)
		}
	})
	p.OnAudioChannelClosed(func() {
		m.board.SetPowerSaveMode(true)
		m.Schedule(func() {
			m.display.SetChatMessage("system", "")
			m.SetState(StateIdle)
		})
	})
	p.OnIncomingMessage(m.handleMessage)
}

func (m *Machine) handleMessage(msg *protocol.Message) {
	if err := msg.Validate(); err != nil {
		m.logger.Warn("drop message", "error", err)
		return
	}
	switch msg.Type {
	case protocol.TypeTTS:
		switch msg.State {
		case protocol.TTSStart:
			m.Schedule(func() {
				m.aborted = false
				if s := m.State(); s == StateIdle || s == StateListening {
					m.SetState(StateSpeaking)
				}
			})
		case protocol.TTSStop:
			m.Schedule(func() {
				if m.State() != StateSpeaking {
					return
				}
				if m.ListeningMode() == protocol.ManualStop || !m.protocol.IsAudioChannelOpened() {
					m.SetState(StateIdle)
				} else {
					m.SetState(StateListening)
				}
			})
		case protocol.TTSSentenceStart:
			m.logger.Info("<< " + msg.Text)
			m.Schedule(func() { m.display.SetChatMessage("assistant", msg.Text) })
		}
	case protocol.TypeSTT:
		m.logger.Info(">> " + msg.Text)
		m.Schedule(func() { m.display.SetChatMessage("user", msg.Text) })
	case protocol.TypeLLM:
		if msg.Emotion != "" {
			m.Schedule(func() { m.display.SetEmotion(msg.Emotion) })
		}
	case protocol.TypeMCP:
		m.mcp.HandleMessage(msg.Payload)
	case protocol.TypeSystem:
		m.logger.Info("system command", "command", msg.Command)
		if msg.Command == "reboot" {
			m.Schedule(m.Reboot)
		} else {
			m.logger.Warn("unknown system command", "command", msg.Command)
		}
	case protocol.TypeAlert:
		m.Schedule(func() { m.Alert(msg.Status, msg.Message, msg.Emotion, playback.SoundVibration) })
	case protocol.TypeCustom:
		if !m.cfg.CustomMessages {
			m.logger.Debug("custom message ignored")
			return
		}
		payload := string(msg.Payload)
		m.Schedule(func() { m.display.SetChatMessage("system", payload) })
	default:
		m.logger.Warn("unknown message type", "type", msg.Type)
	}
}

var chatStates = []State{StateListening, StateSpeaking, StateIdle}

func canStopListening(s State) bool {
	return slices.Contains(chatStates, s)
}
