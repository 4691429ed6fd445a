package device

import (
	"github.com/tengyuan2025/xiaozhi-esp32/pkg/protocol"
)

// Triggers may arrive from any goroutine and in any order. Each checks the
// state it is valid in and otherwise does nothing.

// ToggleChatState starts a turn from Idle, interrupts a reply while
// Speaking and ends the turn while Listening.
func (m *Machine) ToggleChatState() {
	switch m.State() {
	case StateActivating:
		m.scheduleIn(StateActivating, func() { m.SetState(StateIdle) })
		return
	case StateWifiConfiguring:
		m.scheduleIn(StateWifiConfiguring, m.startAudioTesting)
		return
	case StateAudioTesting:
		m.scheduleIn(StateAudioTesting, m.stopAudioTesting)
		return
	}

	if m.protocol == nil {
		m.logger.Warn("toggle chat ignored, no protocol")
		return
	}

	switch m.State() {
	case StateIdle:
		m.Schedule(func() {
			if !m.openAudioChannel() {
				return
			}
			m.setListeningMode(m.defaultListeningMode())
		})
	case StateSpeaking:
		m.Schedule(func() { m.abortSpeaking(protocol.AbortNone) })
	case StateListening:
		m.Schedule(m.protocol.CloseAudioChannel)
	}
}

// StartListening starts a push-to-talk turn.
func (m *Machine) StartListening() {
	switch m.State() {
	case StateActivating:
		m.scheduleIn(StateActivating, func() { m.SetState(StateIdle) })
		return
	case StateWifiConfiguring:
		m.scheduleIn(StateWifiConfiguring, m.startAudioTesting)
		return
	}

	if m.protocol == nil {
		m.logger.Warn("start listening ignored, no protocol")
		return
	}

	switch m.State() {
	case StateIdle:
		m.Schedule(func() {
			if !m.openAudioChannel() {
				return
			}
			m.setListeningMode(protocol.ManualStop)
		})
	case StateSpeaking:
		m.Schedule(func() {
			m.abortSpeaking(protocol.AbortNone)
			m.setListeningMode(protocol.ManualStop)
		})
	}
}

// StopListening ends a push-to-talk turn. It acts only while Listening.
func (m *Machine) StopListening() {
	if m.State() == StateAudioTesting {
		m.scheduleIn(StateAudioTesting, m.stopAudioTesting)
		return
	}
	if !canStopListening(m.State()) {
		return
	}
	m.Schedule(func() {
		if m.State() != StateListening {
			return
		}
		if m.protocol != nil {
			m.protocol.SendStopListening()
			if m.protocol.Capabilities().RequestResponse {
				m.protocol.CloseAudioChannel()
			}
		}
		m.SetState(StateIdle)
	})
}

// WakeWordInvoke acts as if word had been spoken.
func (m *Machine) WakeWordInvoke(word string) {
	switch m.State() {
	case StateIdle:
		m.ToggleChatState()
		m.Schedule(func() {
			if m.protocol != nil {
				m.protocol.SendWakeWordDetected(word)
			}
		})
	case StateSpeaking:
		m.Schedule(func() { m.abortSpeaking(protocol.AbortNone) })
	case StateListening:
		m.Schedule(func() {
			if m.protocol != nil {
				m.protocol.CloseAudioChannel()
			}
		})
	}
}

// AbortSpeaking interrupts the current reply. Incoming audio is dropped
// until the next reply starts.
func (m *Machine) AbortSpeaking(reason protocol.AbortReason) {
	m.Schedule(func() { m.abortSpeaking(reason) })
}

// SetVADTriggerRecording switches between wake-word and speech-triggered
// turns.
func (m *Machine) SetVADTriggerRecording(on bool) {
	m.vadTrigger.Store(on)
	m.logger.Info("vad trigger recording", "enabled", on)
	m.Schedule(func() {
		m.applyRecordingMode()
		if m.State() != StateIdle {
			return
		}
		active := m.vadTriggerActive()
		m.capture.EnableVoiceProcessing(active)
		m.capture.EnableWakeWordDetection(!active)
	})
}

// SetAECMode changes where echo cancellation runs. An open channel is
// closed so the next turn uses the new mode.
func (m *Machine) SetAECMode(mode AECMode) {
	m.aecMode.Store(int32(mode))
	m.Schedule(func() {
		switch mode {
		case AECOff:
			m.capture.EnableDeviceAEC(false)
			m.display.ShowNotification(m.strings.RTCModeOff)
		case AECOnServer:
			m.capture.EnableDeviceAEC(false)
			m.display.ShowNotification(m.strings.RTCModeOn)
		case AECOnDevice:
			m.capture.EnableDeviceAEC(true)
			m.display.ShowNotification(m.strings.RTCModeOn)
		}
		if m.protocol != nil && m.protocol.IsAudioChannelOpened() {
			m.protocol.CloseAudioChannel()
		}
	})
}

// SendMCPMessage forwards a tool-invocation payload to the service.
func (m *Machine) SendMCPMessage(payload string) {
	m.Schedule(func() {
		if m.protocol != nil {
			m.protocol.SendMcpMessage(payload)
		}
	})
}

// CanEnterSleepMode reports whether the device is idle with no channel open
// and no audio in flight.
func (m *Machine) CanEnterSleepMode() bool {
	if m.State() != StateIdle {
		return false
	}
	if m.protocol != nil && m.protocol.IsAudioChannelOpened() {
		return false
	}
	return m.capture.IsIdle() && m.playback.IsIdle()
}

// Alert shows a status, message and emotion and plays sound if it is set.
func (m *Machine) Alert(status, message, emotion, sound string) {
	m.logger.Warn("alert", "status", status, "message", message, "emotion", emotion)
	m.display.SetStatus(status)
	m.display.SetEmotion(emotion)
	m.display.SetChatMessage("system", message)
	if sound != "" {
		m.playback.PlaySound(sound)
	}
}

// DismissAlert restores the standby display while Idle.
func (m *Machine) DismissAlert() {
	if m.State() != StateIdle {
		return
	}
	m.display.SetStatus(m.strings.Standby)
	m.display.SetEmotion("neutral")
	m.display.SetChatMessage("system", "")
}

// Reboot restarts the board.
func (m *Machine) Reboot() {
	m.logger.Info("rebooting")
	m.board.Reboot()
}

// scheduleIn runs task on the loop if the state is still s by then.
func (m *Machine) scheduleIn(s State, task func()) {
	m.Schedule(func() {
		if m.State() == s {
			task()
		}
	})
}

func (m *Machine) startAudioTesting() {
	m.capture.EnableAudioTesting(true)
	m.SetState(StateAudioTesting)
}

// stopAudioTesting plays back what was recorded.
func (m *Machine) stopAudioTesting() {
	samples := m.capture.EnableAudioTesting(false)
	m.SetState(StateWifiConfiguring)
	if len(samples) == 0 {
		return
	}
	m.logger.Info("playing back audio test", "samples", len(samples))
	m.playback.PlayPCM(samples, captureSampleRate)
}

// captureSampleRate is the microphone rate of the capture pipeline.
const captureSampleRate = 16000
