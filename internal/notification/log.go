package notification

import (
	"context"

	"github.com/modwatch/modlog-listener/pkg/utils"
	"github.com/sirupsen/logrus"
)

// LogSender writes display lines to the application log. It is the
// default channel when no Matrix room is configured.
type LogSender struct {
	logger *logrus.Logger
}

// NewLogSender creates a new log sender
func NewLogSender() *LogSender {
	return &LogSender{logger: utils.GetLogger()}
}

// Name returns the channel name
func (ls *LogSender) Name() string {
	return "log"
}

// Send logs one display line
func (ls *LogSender) Send(ctx context.Context, line string) error {
	ls.logger.WithField("line", line).Info("New mod action")
	return nil
}
