package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/skobkin/reefdash/internal/bus"
	"github.com/skobkin/reefdash/internal/config"
	"github.com/skobkin/reefdash/internal/connectors"
	"github.com/skobkin/reefdash/internal/notifications"
)

const notificationTitleRobotError = "Robot error"

// NotificationService turns error events and connection changes into operator alerts.
type NotificationService struct {
	bus           bus.MessageBus
	currentConfig func() config.AppConfig
	sender        notifications.Sender
	logger        *slog.Logger

	connStatusMu     sync.Mutex
	lastConnState    connectors.ConnectionState
	lastConnStateSet bool
}

func NewNotificationService(
	messageBus bus.MessageBus,
	currentConfig func() config.AppConfig,
	sender notifications.Sender,
	logger *slog.Logger,
) *NotificationService {
	if logger == nil {
		logger = slog.Default().With("component", "app.notifications")
	}

	return &NotificationService{
		bus:           messageBus,
		currentConfig: currentConfig,
		sender:        sender,
		logger:        logger,
	}
}

func (s *NotificationService) Start(ctx context.Context) {
	if s == nil || s.bus == nil || s.sender == nil {
		return
	}

	bus.Listen(ctx, s.bus, connectors.TopicEventReceived, s.handleEvent)
	bus.Listen(ctx, s.bus, connectors.TopicConnStatus, s.handleConnectionStatus)
}

func (s *NotificationService) handleEvent(rec connectors.EventRecord) {
	prefs := s.notificationPrefs()
	if !prefs.Enabled || !prefs.ErrorEvents || rec.Kind != connectors.EventKindError {
		return
	}

	message := strings.TrimSpace(rec.Message)
	if message == "" {
		message = "(no details)"
	}
	s.send(notifications.Payload{
		Title:   notificationTitleRobotError,
		Content: message,
		Urgent:  true,
	})
}

func (s *NotificationService) handleConnectionStatus(status connectors.ConnectionStatus) {
	if status.State == "" {
		return
	}

	s.connStatusMu.Lock()
	if s.lastConnStateSet && s.lastConnState == status.State {
		s.connStatusMu.Unlock()

		return
	}
	s.lastConnState = status.State
	s.lastConnStateSet = true
	s.connStatusMu.Unlock()

	if status.State != connectors.ConnectionStateConnected &&
		status.State != connectors.ConnectionStateDisconnected {
		return
	}
	prefs := s.notificationPrefs()
	if !prefs.Enabled || !prefs.ConnectionStatus {
		return
	}

	s.send(notifications.Payload{
		Title:   fmt.Sprintf("%s - %s", TransportLabel(status.TransportName), status.State),
		Content: DescribeConnectionStatus(status),
	})
}

func (s *NotificationService) notificationPrefs() config.NotificationConfig {
	if s.currentConfig == nil {
		return config.Default().Notifications
	}

	return s.currentConfig().Notifications
}

func (s *NotificationService) send(notification notifications.Payload) {
	title := strings.TrimSpace(notification.Title)
	content := strings.TrimSpace(notification.Content)
	if title == "" && content == "" {
		return
	}
	s.logger.Debug("sending notification", "title", title, "urgent", notification.Urgent)
	notification.Title = title
	notification.Content = content
	s.sender.Send(notification)
}
