package notification

import (
	"context"
	"sync"
	"time"

	"github.com/modwatch/modlog-listener/pkg/utils"
	"github.com/sirupsen/logrus"
)

// Notifier delivers one finished display line per new mod action.
// Delivery is at-least-once; dedup happens upstream in the store.
type Notifier interface {
	Start(ctx context.Context) error
	Stop() error
	IsHealthy() bool

	Send(ctx context.Context, line string) error

	GetStats() *NotificationStats
}

// Sender is a single delivery channel implementation
type Sender interface {
	Send(ctx context.Context, line string) error
	Name() string
}

// ManagerConfig holds notification manager configuration
type ManagerConfig struct {
	Channel        string        `json:"channel"`
	MatrixServer   string        `json:"matrix_server"`
	MatrixRoomID   string        `json:"matrix_room_id"`
	MatrixToken    string        `json:"matrix_token"`
	SendTimeout    time.Duration `json:"send_timeout"`
	RetryAttempts  int           `json:"retry_attempts"`
	RetryDelay     time.Duration `json:"retry_delay"`
	MinSendSpacing time.Duration `json:"min_send_spacing"`
}

// NotificationStats provides notification statistics
type NotificationStats struct {
	TotalSent     uint64     `json:"total_sent"`
	TotalFailed   uint64     `json:"total_failed"`
	LastSentAt    *time.Time `json:"last_sent_at,omitempty"`
	LastError     *string    `json:"last_error,omitempty"`
	LastErrorTime *time.Time `json:"last_error_time,omitempty"`
}

// Manager implements Notifier. Sends are strictly sequential with an
// enforced minimum spacing between them, respecting upstream rate
// limits, and each send carries its own bounded retry.
type Manager struct {
	config *ManagerConfig
	logger *logrus.Logger
	sender Sender

	mu       sync.Mutex
	running  bool
	lastSend time.Time
	stats    NotificationStats
}

// NewManager creates a notification manager for the configured channel
func NewManager(config *ManagerConfig) (*Manager, error) {
	m := &Manager{
		config: config,
		logger: utils.GetLogger(),
	}

	switch config.Channel {
	case "matrix":
		m.sender = NewMatrixSender(config)
	case "log":
		m.sender = NewLogSender()
	default:
		return nil, utils.NewAppError(utils.ErrCodeConfiguration,
			"Unsupported notification channel", config.Channel)
	}

	return m, nil
}

// Start starts the notification manager
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return utils.NewAppError(utils.ErrCodeInternal, "Notification manager already running", "")
	}
	m.running = true
	m.logger.WithField("channel", m.sender.Name()).Info("Notification manager started")
	return nil
}

// Stop stops the notification manager
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}
	m.running = false
	m.logger.Info("Notification manager stopped")
	return nil
}

// IsHealthy returns whether the notification manager is healthy
func (m *Manager) IsHealthy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Send delivers one display line, waiting out the minimum spacing
// since the previous send and retrying failures up to the budget.
func (m *Manager) Send(ctx context.Context, line string) error {
	if err := m.waitSpacing(ctx); err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt <= m.config.RetryAttempts; attempt++ {
		if attempt > 0 {
			m.logger.WithFields(logrus.Fields{
				"attempt": attempt,
				"delay":   m.config.RetryDelay,
			}).Warn("Retrying notification send")
			select {
			case <-time.After(m.config.RetryDelay):
			case <-ctx.Done():
				return utils.NewAppError(utils.ErrCodeNotification, "Send canceled", ctx.Err().Error())
			}
		}

		lastErr = m.sender.Send(ctx, line)
		if lastErr == nil {
			m.recordSend(nil)
			return nil
		}
	}

	m.recordSend(lastErr)
	return lastErr
}

// waitSpacing blocks until the minimum inter-send spacing has elapsed
func (m *Manager) waitSpacing(ctx context.Context) error {
	m.mu.Lock()
	wait := m.config.MinSendSpacing - time.Since(m.lastSend)
	m.mu.Unlock()

	if wait <= 0 {
		return nil
	}
	select {
	case <-time.After(wait):
		return nil
	case <-ctx.Done():
		return utils.NewAppError(utils.ErrCodeNotification, "Send canceled", ctx.Err().Error())
	}
}

func (m *Manager) recordSend(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	m.lastSend = now
	if err != nil {
		m.stats.TotalFailed++
		errStr := err.Error()
		m.stats.LastError = &errStr
		m.stats.LastErrorTime = &now
		return
	}
	m.stats.TotalSent++
	m.stats.LastSentAt = &now
}

// GetStats returns notification statistics
func (m *Manager) GetStats() *NotificationStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := m.stats
	return &stats
}
