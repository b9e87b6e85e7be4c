// Package messaging implements the kernel's inter-agent message queue:
// priority-then-FIFO ordering, at-least-once delivery (a received message
// stays pending until the caller marks it, so an unmarked message is
// received again), FOR UPDATE SKIP LOCKED so that concurrent Receive
// calls do not block on the same row, and a JSON payload codec.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-faster/jx"
	"github.com/google/uuid"

	"github.com/kubernaut-labs/agentkernel/pkg/domain"
	kerrors "github.com/kubernaut-labs/agentkernel/pkg/shared/errors"
	"github.com/kubernaut-labs/agentkernel/pkg/store"
)

// MaxPayloadBytes bounds a single message's encoded payload. The store
// schema imposes no limit of its own, so the queue enforces one at the
// boundary to keep a single oversized agent exchange from dominating
// the message table.
const MaxPayloadBytes = 256 * 1024

// Queue is the kernel's message broker.
type Queue struct {
	store *store.Store
}

// New builds a Queue backed by store.
func New(s *store.Store) *Queue {
	return &Queue{store: s}
}

// Envelope is the decoded form of a message's payload.
type Envelope struct {
	Kind string          `json:"kind"`
	Body json.RawMessage `json:"body"`
}

// EncodePayload renders an Envelope to the wire format stored in
// messages.payload. The body is marshalled with encoding/json and the
// envelope object is written with a go-faster/jx encoder.
func EncodePayload(kind string, body interface{}) ([]byte, error) {
	bodyJSON, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode message body: %w", err)
	}
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("kind")
	e.Str(kind)
	e.FieldStart("body")
	e.Raw(jx.Raw(bodyJSON))
	e.ObjEnd()
	return e.Bytes(), nil
}

// DecodePayload parses a stored payload back into an Envelope.
func DecodePayload(raw []byte) (Envelope, error) {
	var e Envelope
	d := jx.DecodeBytes(raw)
	if err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "kind":
			v, err := d.Str()
			if err != nil {
				return err
			}
			e.Kind = v
			return nil
		case "body":
			raw, err := d.Raw()
			if err != nil {
				return err
			}
			e.Body = append(json.RawMessage(nil), raw...)
			return nil
		default:
			return d.Skip()
		}
	}); err != nil {
		return Envelope{}, fmt.Errorf("decode message payload: %w", err)
	}
	return e, nil
}

// Send enqueues a message from sender (nil for system-originated
// messages) to recipient with the given priority (higher runs first)
// and optional thread grouping.
func (q *Queue) Send(ctx context.Context, sender *uuid.UUID, recipient uuid.UUID, kind string, body interface{}, priority int, threadID *string) (*domain.Message, error) {
	payload, err := EncodePayload(kind, body)
	if err != nil {
		return nil, err
	}
	if len(payload) > MaxPayloadBytes {
		return nil, kerrors.ValidationError("payload", fmt.Sprintf("encoded size %d exceeds max %d bytes", len(payload), MaxPayloadBytes))
	}
	m := &domain.Message{
		SenderID:    sender,
		RecipientID: recipient,
		Payload:     payload,
		Priority:    priority,
		Status:      domain.MessagePending,
		ThreadID:    threadID,
	}
	if err := q.store.InsertMessage(ctx, q.store.DB(), m); err != nil {
		return nil, err
	}
	return m, nil
}

// Receive returns up to limit pending messages for recipient, in
// (priority DESC, created_at ASC, id ASC) order, without advancing
// their status. FOR UPDATE SKIP LOCKED keeps two Receive calls racing
// at the same instant from returning the same row, but the caller is
// responsible for transitioning each returned message on via
// MarkDelivered (and later MarkProcessed or MarkFailed).
func (q *Queue) Receive(ctx context.Context, recipient uuid.UUID, limit int) ([]domain.Message, error) {
	return q.store.ReceiveMessages(ctx, q.store.DB(), recipient, limit)
}

// MarkDelivered transitions a pending message to delivered, recording
// that the recipient has taken ownership of it.
func (q *Queue) MarkDelivered(ctx context.Context, id int64) error {
	return q.store.UpdateMessageStatus(ctx, q.store.DB(), id, domain.MessageDelivered)
}

// MarkProcessed transitions a delivered message to processed.
func (q *Queue) MarkProcessed(ctx context.Context, id int64) error {
	return q.store.UpdateMessageStatus(ctx, q.store.DB(), id, domain.MessageProcessed)
}

// MarkFailed transitions a message to failed, e.g. after the recipient
// agent could not be reached.
func (q *Queue) MarkFailed(ctx context.Context, id int64) error {
	return q.store.UpdateMessageStatus(ctx, q.store.DB(), id, domain.MessageFailed)
}
