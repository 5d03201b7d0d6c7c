package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/agentworkforce/relaytimeline/internal/timeline"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

type streamError struct {
	Code          string `json:"code"`
	Message       string `json:"message"`
	CorrelationID string `json:"correlationId"`
}

// handleStream ingests one envelope per text frame until the peer closes.
// A clean close marks the conversation closed; anything else is reported as
// a transport error.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request, conversationID, correlationID string) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket accept failed",
			zap.String("conversation_id", conversationID),
			zap.String("correlation_id", correlationID),
			zap.Error(err),
		)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "")
	conn.SetReadLimit(s.cfg.MaxBodyBytes)

	ctx := r.Context()
	s.logger.Info("stream connected",
		zap.String("conversation_id", conversationID),
		zap.String("correlation_id", correlationID),
	)
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			s.streamEnded(conversationID, correlationID, err)
			return
		}
		if typ != websocket.MessageText {
			_ = s.writeStreamError(ctx, conn, "bad_request", "envelopes must be sent as text frames", correlationID)
			continue
		}
		env, err := timeline.DecodeEnvelope(data)
		if err != nil {
			_ = s.writeStreamError(ctx, conn, "bad_request", err.Error(), correlationID)
			continue
		}
		if err := s.engine.Ingest(conversationID, env); err != nil {
			if errors.Is(err, timeline.ErrConversationClosed) {
				conn.Close(websocket.StatusPolicyViolation, "conversation closed")
				return
			}
			_ = s.writeStreamError(ctx, conn, "bad_request", err.Error(), correlationID)
		}
	}
}

func (s *Server) streamEnded(conversationID, correlationID string, err error) {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		s.logger.Info("stream closed",
			zap.String("conversation_id", conversationID),
			zap.String("correlation_id", correlationID),
		)
		if setErr := s.engine.SetStatus(conversationID, timeline.StatusClosed); setErr != nil {
			s.logger.Debug("stream close status skipped", zap.String("conversation_id", conversationID), zap.Error(setErr))
		}
	default:
		if reportErr := s.engine.ReportError(conversationID, err); reportErr != nil {
			s.logger.Debug("stream error status skipped", zap.String("conversation_id", conversationID), zap.Error(reportErr))
		}
	}
}

func (s *Server) writeStreamError(ctx context.Context, conn *websocket.Conn, code, message, correlationID string) error {
	return wsjson.Write(ctx, conn, streamError{Code: code, Message: message, CorrelationID: correlationID})
}
