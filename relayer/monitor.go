package relayer

import (
	"context"
	"sync"
	"time"

	"github.com/provideplatform/mixer/common"
)

// DefaultMonitorInterval is the relayer health polling period
const DefaultMonitorInterval = time.Second * 30

// Monitor polls relayer health in the background. The result is advisory: a holder
// may withdraw directly regardless of what it reports.
type Monitor struct {
	client   *Client
	interval time.Duration

	mutex     sync.RWMutex
	health    *HealthResponse
	err       error
	checkedAt time.Time
}

// NewMonitor returns a monitor polling the client at the given interval
func NewMonitor(client *Client, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultMonitorInterval
	}
	return &Monitor{
		client:   client,
		interval: interval,
	}
}

// Run polls immediately and then on every tick until the context is done
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		m.poll(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (m *Monitor) poll(ctx context.Context) {
	health, err := m.client.Health(ctx)
	if ctx.Err() != nil {
		return
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if err != nil && m.err == nil {
		common.Log.Warningf("relayer became unhealthy; %s", err.Error())
	} else if err == nil && m.err != nil {
		common.Log.Debug("relayer recovered")
	}

	m.health = health
	m.err = err
	m.checkedAt = time.Now()
}

// Healthy is true when the last poll succeeded
func (m *Monitor) Healthy() bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.health != nil && m.err == nil
}

// Status returns the last poll result and when it was taken
func (m *Monitor) Status() (*HealthResponse, time.Time, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.health, m.checkedAt, m.err
}
