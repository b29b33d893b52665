package notifications

import (
	"log/slog"

	"github.com/gen2brain/beeep"
)

// DesktopSender shows payloads as native desktop notifications.
type DesktopSender struct {
	logger *slog.Logger
}

func NewDesktopSender(appName string, logger *slog.Logger) *DesktopSender {
	if logger == nil {
		logger = slog.Default().With("component", "notifications")
	}
	if appName != "" {
		beeep.AppName = appName
	}

	return &DesktopSender{logger: logger}
}

func (s *DesktopSender) Send(payload Payload) {
	notify := beeep.Notify
	if payload.Urgent {
		notify = beeep.Alert
	}
	if err := notify(payload.Title, payload.Content, ""); err != nil {
		s.logger.Warn("send desktop notification", "title", payload.Title, "error", err)
	}
}
