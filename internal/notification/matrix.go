package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/modwatch/modlog-listener/pkg/utils"
	"github.com/sirupsen/logrus"
)

// matrixMessage is the m.room.message event body
type matrixMessage struct {
	MsgType string `json:"msgtype"`
	Body    string `json:"body"`
}

// MatrixSender posts display lines as m.text messages into a Matrix
// room via the client-server API.
type MatrixSender struct {
	config     *ManagerConfig
	logger     *logrus.Logger
	httpClient *http.Client
}

// NewMatrixSender creates a new Matrix sender
func NewMatrixSender(config *ManagerConfig) *MatrixSender {
	return &MatrixSender{
		config: config,
		logger: utils.GetLogger(),
		httpClient: &http.Client{
			Timeout: config.SendTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     30 * time.Second,
			},
		},
	}
}

// Name returns the channel name
func (ms *MatrixSender) Name() string {
	return "matrix"
}

// Send posts one message to the configured room
func (ms *MatrixSender) Send(ctx context.Context, line string) error {
	payload, err := json.Marshal(matrixMessage{MsgType: "m.text", Body: line})
	if err != nil {
		return utils.NewAppError(utils.ErrCodeInternal, "Failed to marshal Matrix message", err.Error())
	}

	endpoint := fmt.Sprintf("%s/_matrix/client/r0/rooms/%s/send/m.room.message?access_token=%s",
		strings.TrimRight(ms.config.MatrixServer, "/"),
		url.PathEscape(ms.config.MatrixRoomID),
		url.QueryEscape(ms.config.MatrixToken))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return utils.NewAppError(utils.ErrCodeInternal, "Failed to create Matrix request", err.Error())
	}
	req.Header.Set("Content-Type", "application/json")

	ms.logger.WithField("body", line).Info("Sending Matrix message")

	resp, err := ms.httpClient.Do(req)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeNotification, "Failed to send Matrix message", err.Error())
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return utils.NewAppError(utils.ErrCodeNotification,
			"Matrix returned non-success status", fmt.Sprintf("status: %d", resp.StatusCode))
	}
	return nil
}
