package comfyui

import (
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/SanishKumar/comfy-service/internal/interfaces"
)

// MessageReader is the read side of a push channel. *websocket.Conn
// satisfies it.
type MessageReader interface {
	ReadMessage() (messageType int, p []byte, err error)
	SetReadDeadline(t time.Time) error
}

// WaitForCompletion reads messages until one reports that promptID finished:
// type "executing" with a null node and a matching prompt_id. Binary frames
// and messages that are not JSON are skipped. A zero deadline waits forever.
func WaitForCompletion(reader MessageReader, promptID string, deadline time.Time) error {
	if err := reader.SetReadDeadline(deadline); err != nil {
		return &WatchError{PromptID: promptID, Err: err}
	}

	for {
		messageType, data, err := reader.ReadMessage()
		if err != nil {
			return &WatchError{PromptID: promptID, Err: err}
		}
		if messageType != websocket.TextMessage {
			continue
		}
		if isCompletion(data, promptID) {
			return nil
		}
	}
}

func isCompletion(data []byte, promptID string) bool {
	var msg interfaces.PushMessage
	if err := sonic.Unmarshal(data, &msg); err != nil {
		return false
	}
	return msg.Type == "executing" &&
		msg.Data.Node == nil &&
		msg.Data.PromptID == promptID
}

// session is one push channel watching a single job
type session struct {
	clientID  string
	conn      *websocket.Conn
	logger    *logrus.Logger
	closeOnce sync.Once
	closeErr  error
}

func newSession(clientID string, conn *websocket.Conn, logger *logrus.Logger) *session {
	return &session{
		clientID: clientID,
		conn:     conn,
		logger:   logger,
	}
}

func (s *session) ClientID() string {
	return s.clientID
}

func (s *session) WaitForCompletion(promptID string, deadline time.Time) error {
	start := time.Now()
	if err := WaitForCompletion(s.conn, promptID, deadline); err != nil {
		return err
	}

	s.logger.WithFields(logrus.Fields{
		"client_id": s.clientID,
		"prompt_id": promptID,
		"duration":  time.Since(start),
	}).Debug("Prompt execution finished")
	return nil
}

func (s *session) Close() error {
	s.closeOnce.Do(func() {
		// close handshake errors are ignored
		_ = s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}
