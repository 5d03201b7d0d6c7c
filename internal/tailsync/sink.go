package tailsync

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"nhooyr.io/websocket"
)

// Sink delivers envelope batches to a running server.
type Sink interface {
	Send(ctx context.Context, envelopes []json.RawMessage) error
	Close() error
}

// HTTPSink posts each batch to the envelopes endpoint.
type HTTPSink struct {
	client         *HTTPClient
	conversationID string
}

func NewHTTPSink(client *HTTPClient, conversationID string) *HTTPSink {
	return &HTTPSink{client: client, conversationID: conversationID}
}

func (s *HTTPSink) Send(ctx context.Context, envelopes []json.RawMessage) error {
	_, err := s.client.PostEnvelopes(ctx, s.conversationID, envelopes)
	return err
}

func (s *HTTPSink) Close() error {
	return nil
}

// WebsocketSink writes one text frame per envelope to the stream endpoint.
type WebsocketSink struct {
	conn *websocket.Conn
}

// StreamURL turns an http(s) base URL into the conversation's ws(s) stream URL.
func StreamURL(baseURL, conversationID string) (string, error) {
	parsed, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return "", err
	}
	switch parsed.Scheme {
	case "http", "ws":
		parsed.Scheme = "ws"
	case "https", "wss":
		parsed.Scheme = "wss"
	default:
		return "", errors.New("unsupported base url scheme: " + parsed.Scheme)
	}
	return parsed.String() + conversationPath(conversationID, "stream"), nil
}

func DialWebsocketSink(ctx context.Context, client *HTTPClient, conversationID string) (*WebsocketSink, error) {
	streamURL, err := StreamURL(client.BaseURL(), conversationID)
	if err != nil {
		return nil, err
	}
	conn, _, err := websocket.Dial(ctx, streamURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization":    []string{"Bearer " + client.Token()},
			"X-Correlation-Id": []string{correlationID()},
		},
	})
	if err != nil {
		return nil, err
	}
	return &WebsocketSink{conn: conn}, nil
}

func (s *WebsocketSink) Send(ctx context.Context, envelopes []json.RawMessage) error {
	for _, env := range envelopes {
		if err := s.conn.Write(ctx, websocket.MessageText, env); err != nil {
			if websocket.CloseStatus(err) == websocket.StatusPolicyViolation {
				return ErrConversationClosed
			}
			return err
		}
	}
	return nil
}

func (s *WebsocketSink) Close() error {
	return s.conn.Close(websocket.StatusNormalClosure, "tail finished")
}
