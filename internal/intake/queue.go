// Package intake accepts entity creations on the request path and
// materializes them in the background.
package intake

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/abdusco/linkpage/internal"
	"github.com/abdusco/linkpage/internal/kv"
	"github.com/abdusco/linkpage/internal/shard"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// PendingKey is the set of queue keys that may hold entries.
const PendingKey = "intake:pending"

const queuePrefix = "intake:"

func QueueKey(kind internal.EntityKind, userID string, shard int) string {
	return fmt.Sprintf("%s%s:%s:%d", queuePrefix, kind, userID, shard)
}

// parseQueueKey returns the owner of a queue key. User ids may contain
// colons, so the kind is cut from the front and the shard from the back.
func parseQueueKey(key string) (internal.EntityKind, string, bool) {
	rest, ok := strings.CutPrefix(key, queuePrefix)
	if !ok {
		return "", "", false
	}
	kind, rest, ok := strings.Cut(rest, ":")
	if !ok {
		return "", "", false
	}
	i := strings.LastIndex(rest, ":")
	if i <= 0 {
		return "", "", false
	}
	if _, err := strconv.Atoi(rest[i+1:]); err != nil {
		return "", "", false
	}
	parsed, err := internal.ParseEntityKind(kind)
	if err != nil {
		return "", "", false
	}
	return parsed, rest[:i], true
}

// Ticket identifies an accepted submission.
type Ticket struct {
	Queue        string `json:"queue"`
	SubmissionID string `json:"submission_id"`
}

type Queue struct {
	store  kv.Store
	router shard.Router
	now    func() time.Time
}

func NewQueue(store kv.Store, router shard.Router) *Queue {
	return &Queue{store: store, router: router, now: time.Now}
}

// Enqueue validates p and appends it to its shard queue. It never touches
// the relational store.
func (q *Queue) Enqueue(ctx context.Context, p internal.IntakePayload) (Ticket, error) {
	if err := p.Validate(); err != nil {
		return Ticket{}, err
	}
	if p.SubmissionID == "" {
		p.SubmissionID = uuid.NewString()
	}
	p.EnqueuedAt = q.now().UTC()

	payload, err := json.Marshal(p)
	if err != nil {
		return Ticket{}, fmt.Errorf("encode payload: %w", err)
	}

	key := QueueKey(p.Kind, p.UserID, q.router.Shard(p.UserID))
	if err := q.store.Push(ctx, key, payload); err != nil {
		return Ticket{}, fmt.Errorf("enqueue to %s: %w", key, err)
	}
	if err := q.store.SAdd(ctx, PendingKey, key); err != nil {
		return Ticket{}, fmt.Errorf("mark %s pending: %w", key, err)
	}

	log.Debug().
		Str("queue", key).
		Str("kind", string(p.Kind)).
		Str("submission_id", p.SubmissionID).
		Msg("creation enqueued")
	return Ticket{Queue: key, SubmissionID: p.SubmissionID}, nil
}

func decodePayload(raw []byte) (internal.IntakePayload, error) {
	var p internal.IntakePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return internal.IntakePayload{}, fmt.Errorf("%w: %v", internal.ErrInvalidPayload, err)
	}
	if err := p.Validate(); err != nil {
		return internal.IntakePayload{}, err
	}
	return p, nil
}
