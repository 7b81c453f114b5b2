package external

import (
	"encoding/json"
	"fmt"

	"github.com/jwalitptl/dorm-notify/internal/model"
)

// RenderMessage turns a channel-agnostic intent payload into the plain text
// the external platform accepts.
func RenderMessage(intent *model.NotificationIntent) (string, error) {
	var payload map[string]interface{}
	if len(intent.Payload) > 0 {
		if err := json.Unmarshal(intent.Payload, &payload); err != nil {
			return "", fmt.Errorf("invalid payload for intent %s: %w", intent.ID, err)
		}
	}

	switch intent.Kind {
	case model.KindBillReady:
		if total, ok := payload["total"].(float64); ok {
			return fmt.Sprintf("Your bill is ready. Total due: %.2f", total/100), nil
		}
		return "Your bill is ready.", nil
	case model.KindPaymentConfirmed:
		return "We received your payment. Thank you!", nil
	case model.KindMaintenanceUpdate:
		if note, ok := payload["note"].(string); ok {
			return "Maintenance update: " + note, nil
		}
		return "There is an update on your maintenance request.", nil
	case model.KindAccountLinked:
		return "This account is now linked to your dormitory profile.", nil
	case model.KindAccountUnlinked:
		return "This account has been unlinked from your dormitory profile.", nil
	default:
		return "", fmt.Errorf("no message template for kind %q", intent.Kind)
	}
}
