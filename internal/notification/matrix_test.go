package notification

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatrixSenderWireFormat(t *testing.T) {
	var gotPath, gotToken, gotContentType string
	var gotBody []byte

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		gotToken = r.URL.Query().Get("access_token")
		gotContentType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.Write([]byte(`{"event_id": "$abc"}`))
	}))
	defer server.Close()

	sender := NewMatrixSender(&ManagerConfig{
		Channel:      "matrix",
		MatrixServer: server.URL,
		MatrixRoomID: "!room:example.org",
		MatrixToken:  "secret-token",
		SendTimeout:  5 * time.Second,
	})

	line := "2023-03-15 12:30:45 UTC; alice; reddit testsub; remove comment by bob"
	require.NoError(t, sender.Send(context.Background(), line))

	assert.Equal(t, "/_matrix/client/r0/rooms/%21room:example.org/send/m.room.message", gotPath)
	assert.Equal(t, "secret-token", gotToken)
	assert.Equal(t, "application/json", gotContentType)

	var msg matrixMessage
	require.NoError(t, json.Unmarshal(gotBody, &msg))
	assert.Equal(t, "m.text", msg.MsgType)
	assert.Equal(t, line, msg.Body)
}

func TestMatrixSenderNonSuccessStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	sender := NewMatrixSender(&ManagerConfig{
		Channel:      "matrix",
		MatrixServer: server.URL,
		MatrixRoomID: "!room:example.org",
		MatrixToken:  "bad-token",
		SendTimeout:  5 * time.Second,
	})

	assert.Error(t, sender.Send(context.Background(), "line"))
}

func TestMatrixSenderTrimsTrailingSlash(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	sender := NewMatrixSender(&ManagerConfig{
		MatrixServer: server.URL + "/",
		MatrixRoomID: "!room:example.org",
		MatrixToken:  "tok",
		SendTimeout:  5 * time.Second,
	})

	require.NoError(t, sender.Send(context.Background(), "line"))
	assert.Equal(t, "/_matrix/client/r0/rooms/%21room:example.org/send/m.room.message", gotPath)
}
