package device

import (
	"context"
	"time"
)

func (m *Machine) runClock(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.ClockInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.onClockTick()
		}
	}
}

func (m *Machine) onClockTick() {
	ticks := m.clockTicks.Add(1)
	m.display.UpdateStatusBar(false)
	if ticks%10 == 0 {
		m.logger.Debug("clock", "state", m.State(), "ticks", ticks, "can_sleep", m.CanEnterSleepMode())
	}
}

// ClockTicks returns the ticks since the last state change.
func (m *Machine) ClockTicks() int64 {
	return m.clockTicks.Load()
}
