package paas

import (
	"context"
	"fmt"

	"crmsync/internal/notify"
)

// Notifier forwards owner notifications to the PaaS log stream.
type Notifier struct {
	Client *Client
}

func (n Notifier) Notify(ctx context.Context, msg notify.Message) error {
	if n.Client == nil {
		return nil
	}
	details := map[string]any{"message": msg.Message, "at": msg.At}
	for k, v := range msg.Details {
		details[k] = v
	}
	return n.Client.Log(ctx, Entry{
		Action:     msg.Event,
		Level:      LevelWarn,
		EntityType: detailString(msg.Details, "entity_type"),
		EntityID:   detailString(msg.Details, "entity_id"),
		Details:    details,
	})
}

func detailString(details map[string]any, key string) string {
	v, ok := details[key]
	if !ok || v == nil {
		return ""
	}
	return fmt.Sprint(v)
}
