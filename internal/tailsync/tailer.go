package tailsync

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"go.uber.org/zap"
)

type TailerOptions struct {
	ConversationID string
	// Hydrate opens the conversation before the backlog and hydrates it after.
	Hydrate   bool
	Follow    bool
	BatchSize int
	Logger    *zap.Logger
}

// Tailer replays an envelope log into a server and optionally keeps
// following it.
type Tailer struct {
	client   *HTTPClient
	follower *Follower
	sink     Sink
	opts     TailerOptions
	logger   *zap.Logger
	sent     int
}

func NewTailer(client *HTTPClient, follower *Follower, sink Sink, opts TailerOptions) (*Tailer, error) {
	opts.ConversationID = strings.TrimSpace(opts.ConversationID)
	if opts.ConversationID == "" {
		return nil, errors.New("conversation id is required")
	}
	if client == nil || follower == nil || sink == nil {
		return nil, errors.New("client, follower and sink are required")
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Tailer{client: client, follower: follower, sink: sink, opts: opts, logger: opts.Logger}, nil
}

// Sent reports how many envelopes were delivered.
func (t *Tailer) Sent() int {
	return t.sent
}

func (t *Tailer) Run(ctx context.Context) error {
	if t.opts.Hydrate {
		if _, err := t.client.OpenConversation(ctx, t.opts.ConversationID); err != nil {
			return err
		}
	}
	backlog, err := t.follower.Drain()
	if err != nil {
		return err
	}
	if err := t.send(ctx, backlog); err != nil {
		return err
	}
	t.logger.Info("envelope backlog sent",
		zap.String("conversation_id", t.opts.ConversationID),
		zap.Int("envelopes", len(backlog)),
	)
	if t.opts.Hydrate {
		state, err := t.client.Hydrate(ctx, t.opts.ConversationID)
		if err != nil {
			return err
		}
		t.logger.Info("conversation hydrated",
			zap.String("conversation_id", t.opts.ConversationID),
			zap.Int("flushed", state.Flushed),
		)
	}
	if !t.opts.Follow {
		return nil
	}
	return t.follower.Follow(ctx, func(batch []json.RawMessage) error {
		return t.send(ctx, batch)
	})
}

func (t *Tailer) send(ctx context.Context, envelopes []json.RawMessage) error {
	for start := 0; start < len(envelopes); start += t.opts.BatchSize {
		end := start + t.opts.BatchSize
		if end > len(envelopes) {
			end = len(envelopes)
		}
		if err := t.sink.Send(ctx, envelopes[start:end]); err != nil {
			return err
		}
		t.sent += end - start
		t.logger.Debug("envelope batch sent",
			zap.String("conversation_id", t.opts.ConversationID),
			zap.Int("size", end-start),
		)
	}
	return nil
}
