package services

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/openintent-protocol/openintent/pkg/database"
	"github.com/openintent-protocol/openintent/pkg/events"
	"github.com/openintent-protocol/openintent/pkg/models"
)

// ChannelService runs intent-scoped messaging. Per-channel message order is
// insertion order, tracked by a per-channel sequence; cross-channel order
// is not promised.
type ChannelService struct {
	db     *database.Client
	events *EventService
}

// NewChannelService creates a ChannelService.
func NewChannelService(db *database.Client, eventSvc *EventService) *ChannelService {
	return &ChannelService{db: db, events: eventSvc}
}

// CreateChannel opens a named channel inside an intent.
func (s *ChannelService) CreateChannel(ctx context.Context, intentID string, req models.CreateChannelRequest, actor string) (*models.Channel, error) {
	if req.Name == "" {
		return nil, NewValidationError("name", "required")
	}

	ch := &models.Channel{
		ID:        newID(),
		IntentID:  intentID,
		Name:      req.Name,
		Members:   models.StringList(req.Members),
		Status:    models.ChannelOpen,
		Options:   req.Options,
		TaskID:    req.TaskID,
		CreatedAt: now(),
	}
	if ch.Members == nil {
		ch.Members = models.StringList{}
	}
	if ch.Options == nil {
		ch.Options = models.JSONMap{}
	}

	var ev *models.IntentEvent
	err := inTx(ctx, s.db, func(tx *sqlx.Tx) error {
		if err := intentExists(ctx, tx, intentID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(
			`INSERT INTO channels (id, intent_id, name, members, status, options, message_count, task_id, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)`),
			ch.ID, ch.IntentID, ch.Name, ch.Members, ch.Status, ch.Options, ch.TaskID, ch.CreatedAt); err != nil {
			return fmt.Errorf("failed to insert channel: %w", err)
		}
		var err error
		ev, err = s.events.Log(ctx, tx, intentID, events.TypeChannelCreated, actor, models.JSONMap{
			"channel_id": ch.ID,
			"name":       ch.Name,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.events.Emit(ctx, ev)
	return ch, nil
}

// ListChannels returns the intent's channels in creation order.
func (s *ChannelService) ListChannels(ctx context.Context, intentID string) ([]*models.Channel, error) {
	if err := intentExistsDB(ctx, s.db, intentID); err != nil {
		return nil, err
	}

	channels := []*models.Channel{}
	err := s.db.SelectContext(ctx, &channels, s.db.Rebind(
		`SELECT * FROM channels WHERE intent_id = ? ORDER BY created_at, id`), intentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list channels: %w", err)
	}
	return channels, nil
}

// GetChannel loads one channel.
func (s *ChannelService) GetChannel(ctx context.Context, channelID string) (*models.Channel, error) {
	var ch models.Channel
	err := s.db.GetContext(ctx, &ch, s.db.Rebind(`SELECT * FROM channels WHERE id = ?`), channelID)
	if isNoRows(err) {
		return nil, fmt.Errorf("channel %s: %w", channelID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load channel: %w", err)
	}
	return &ch, nil
}

// CloseChannel marks the channel closed. Further sends are rejected.
func (s *ChannelService) CloseChannel(ctx context.Context, channelID, actor string) (*models.Channel, error) {
	var ch models.Channel
	var ev *models.IntentEvent
	err := inTx(ctx, s.db, func(tx *sqlx.Tx) error {
		if err := s.loadChannelTx(ctx, tx, channelID, &ch); err != nil {
			return err
		}
		if ch.Status == models.ChannelClosed {
			return fmt.Errorf("channel %s: %w", channelID, ErrChannelClosed)
		}

		if _, err := tx.ExecContext(ctx, tx.Rebind(
			`UPDATE channels SET status = ? WHERE id = ?`),
			models.ChannelClosed, channelID); err != nil {
			return fmt.Errorf("failed to close channel: %w", err)
		}
		ch.Status = models.ChannelClosed

		var err error
		ev, err = s.events.Log(ctx, tx, ch.IntentID, events.TypeChannelClosed, actor, models.JSONMap{
			"channel_id": ch.ID,
			"name":       ch.Name,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.events.Emit(ctx, ev)
	return &ch, nil
}

// SendMessage appends a message to an open channel. The channel counters
// advance in the same transaction that inserts the row.
func (s *ChannelService) SendMessage(ctx context.Context, channelID string, req models.SendMessageRequest, actor string) (*models.Message, error) {
	if err := models.MessageTypeValidator(req.MessageType); err != nil {
		return nil, NewValidationError("message_type", err.Error())
	}
	sender := req.Sender
	if sender == "" {
		sender = actor
	}

	msg := &models.Message{
		ID:          newID(),
		ChannelID:   channelID,
		Sender:      sender,
		To:          req.To,
		MessageType: req.MessageType,
		Payload:     req.Payload,
		Status:      models.MessageDelivered,
		Metadata:    req.Metadata,
		CreatedAt:   now(),
	}

	var ev *models.IntentEvent
	err := inTx(ctx, s.db, func(tx *sqlx.Tx) error {
		var err error
		ev, err = s.appendMessage(ctx, tx, msg, actor)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.events.Emit(ctx, ev)
	return msg, nil
}

// Reply appends a response correlated to an earlier message: the reply's
// correlation_id is the request's id and its recipient is the original
// sender.
func (s *ChannelService) Reply(ctx context.Context, channelID, messageID string, req models.ReplyMessageRequest, actor string) (*models.Message, error) {
	sender := req.Sender
	if sender == "" {
		sender = actor
	}

	msg := &models.Message{
		ID:          newID(),
		ChannelID:   channelID,
		Sender:      sender,
		MessageType: models.MessageResponse,
		Payload:     req.Payload,
		Status:      models.MessageDelivered,
		Metadata:    req.Metadata,
		CreatedAt:   now(),
	}

	var ev *models.IntentEvent
	err := inTx(ctx, s.db, func(tx *sqlx.Tx) error {
		var original models.Message
		err := tx.GetContext(ctx, &original, tx.Rebind(
			`SELECT * FROM messages WHERE id = ? AND channel_id = ?`), messageID, channelID)
		if isNoRows(err) {
			return fmt.Errorf("message %s: %w", messageID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to load message: %w", err)
		}

		msg.CorrelationID = &original.ID
		msg.To = &original.Sender

		ev, err = s.appendMessage(ctx, tx, msg, actor)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.events.Emit(ctx, ev)
	return msg, nil
}

// ListMessages returns channel messages in insertion order, filtered by
// recipient and since-cursor.
func (s *ChannelService) ListMessages(ctx context.Context, channelID string, filters models.MessageFilters) (*models.MessageListResponse, error) {
	if _, err := s.GetChannel(ctx, channelID); err != nil {
		return nil, err
	}

	where := "WHERE channel_id = ?"
	args := []any{channelID}
	if filters.To != "" {
		where += " AND to_agent = ?"
		args = append(args, filters.To)
	}
	if filters.SinceID != "" {
		var sinceSeq int64
		err := s.db.GetContext(ctx, &sinceSeq, s.db.Rebind(
			`SELECT seq FROM messages WHERE id = ? AND channel_id = ?`), filters.SinceID, channelID)
		if isNoRows(err) {
			return nil, NewValidationError("since", fmt.Sprintf("unknown message %s", filters.SinceID))
		}
		if err != nil {
			return nil, fmt.Errorf("failed to resolve since cursor: %w", err)
		}
		where += " AND seq > ?"
		args = append(args, sinceSeq)
	}

	var total int
	if err := s.db.GetContext(ctx, &total,
		s.db.Rebind("SELECT COUNT(*) FROM messages "+where), args...); err != nil {
		return nil, fmt.Errorf("failed to count messages: %w", err)
	}

	limit := filters.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	args = append(args, limit, filters.Offset)

	msgs := []*models.Message{}
	err := s.db.SelectContext(ctx, &msgs,
		s.db.Rebind("SELECT * FROM messages "+where+" ORDER BY seq LIMIT ? OFFSET ?"), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	return &models.MessageListResponse{ChannelID: channelID, Messages: msgs, Total: total}, nil
}

// appendMessage claims the next sequence slot and inserts the message. The
// counter update doubles as the open-channel check and, under the row lock
// it takes, serializes concurrent sends.
func (s *ChannelService) appendMessage(ctx context.Context, tx *sqlx.Tx, msg *models.Message, actor string) (*models.IntentEvent, error) {
	if msg.Payload == nil {
		msg.Payload = models.JSONMap{}
	}
	if msg.Metadata == nil {
		msg.Metadata = models.JSONMap{}
	}

	res, err := tx.ExecContext(ctx, tx.Rebind(
		`UPDATE channels SET message_count = message_count + 1, last_message_at = ?
		 WHERE id = ? AND status = ?`),
		msg.CreatedAt, msg.ChannelID, models.ChannelOpen)
	if err != nil {
		return nil, fmt.Errorf("failed to advance channel counter: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		var ch models.Channel
		if err := s.loadChannelTx(ctx, tx, msg.ChannelID, &ch); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("channel %s: %w", msg.ChannelID, ErrChannelClosed)
	}

	var intentID string
	err = tx.QueryRowxContext(ctx, tx.Rebind(
		`SELECT intent_id FROM channels WHERE id = ?`), msg.ChannelID).Scan(&intentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load channel intent: %w", err)
	}
	err = tx.QueryRowxContext(ctx, tx.Rebind(
		`SELECT message_count FROM channels WHERE id = ?`), msg.ChannelID).Scan(&msg.Seq)
	if err != nil {
		return nil, fmt.Errorf("failed to read channel counter: %w", err)
	}

	_, err = tx.ExecContext(ctx, tx.Rebind(
		`INSERT INTO messages (id, channel_id, seq, sender, to_agent, message_type, payload, status,
		                       correlation_id, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		msg.ID, msg.ChannelID, msg.Seq, msg.Sender, msg.To, msg.MessageType, msg.Payload, msg.Status,
		msg.CorrelationID, msg.Metadata, msg.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert message: %w", err)
	}

	payload := models.JSONMap{
		"channel_id":   msg.ChannelID,
		"message_id":   msg.ID,
		"message_type": string(msg.MessageType),
		"sender":       msg.Sender,
	}
	if msg.To != nil {
		payload["to"] = *msg.To
	}
	if msg.CorrelationID != nil {
		payload["correlation_id"] = *msg.CorrelationID
	}
	return s.events.Log(ctx, tx, intentID, events.TypeMessageSent, actor, payload)
}

func (s *ChannelService) loadChannelTx(ctx context.Context, tx *sqlx.Tx, channelID string, dest *models.Channel) error {
	err := tx.GetContext(ctx, dest, tx.Rebind(`SELECT * FROM channels WHERE id = ?`), channelID)
	if isNoRows(err) {
		return fmt.Errorf("channel %s: %w", channelID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to load channel: %w", err)
	}
	return nil
}
