// README: Group event fan-out over Redis pub/sub; fire-and-forget, failures are logged only.
package notify

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"ridepool/internal/types"
)

type Publisher struct {
	redis *redis.Client
}

func NewPublisher(rdb *redis.Client) *Publisher {
	return &Publisher{redis: rdb}
}

// Channel is the per-group pub/sub channel clients subscribe to.
func Channel(groupID types.ID) string {
	return "ridepool:group:" + string(groupID)
}

type envelope struct {
	Event   string         `json:"event"`
	GroupID string         `json:"group_id"`
	SentAt  time.Time      `json:"sent_at"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Notify publishes a group event. Delivery is best-effort: a publish failure
// never propagates to the booking or dispatch path.
func (p *Publisher) Notify(ctx context.Context, groupID types.ID, event string, payload map[string]any) {
	body, err := json.Marshal(envelope{
		Event:   event,
		GroupID: string(groupID),
		SentAt:  time.Now().UTC(),
		Payload: payload,
	})
	if err != nil {
		log.Printf("notify: marshal failed for group %s event %s: %v", groupID, event, err)
		return
	}
	if err := p.redis.Publish(ctx, Channel(groupID), body).Err(); err != nil {
		log.Printf("notify: publish failed for group %s event %s: %v", groupID, event, err)
	}
}
