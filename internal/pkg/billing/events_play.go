package billing

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/workpulse-hq/workpulse/app/models"
)

// Google Play real-time developer notification types.
// https://developer.android.com/google/play/billing/rtdn-reference
const (
	playNotifRecovered          = 1
	playNotifRenewed            = 2
	playNotifCanceled           = 3
	playNotifPurchased          = 4
	playNotifOnHold             = 5
	playNotifInGracePeriod      = 6
	playNotifRestarted          = 7
	playNotifPriceChangeConfirm = 8
	playNotifDeferred           = 9
	playNotifPaused             = 10
	playNotifPauseScheduleChg   = 11
	playNotifRevoked            = 12
	playNotifExpired            = 13
)

var playEventClasses = map[int]EventClass{
	playNotifRecovered:     EventRecover,
	playNotifRenewed:       EventRenewal,
	playNotifCanceled:      EventCancel,
	playNotifPurchased:     EventPurchase,
	playNotifOnHold:        EventOnHold,
	playNotifInGracePeriod: EventGrace,
	playNotifRestarted:     EventRestart,
	playNotifPaused:        EventPause,
	playNotifRevoked:       EventExpire,
	playNotifExpired:       EventExpire,
}

type pubSubPushEnvelope struct {
	Message struct {
		Data        string `json:"data"`
		MessageID   string `json:"messageId"`
		PublishTime string `json:"publishTime"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

type playDeveloperNotification struct {
	Version                  string `json:"version"`
	PackageName              string `json:"packageName"`
	EventTimeMillis          string `json:"eventTimeMillis"`
	SubscriptionNotification *struct {
		Version          string `json:"version"`
		NotificationType int    `json:"notificationType"`
		PurchaseToken    string `json:"purchaseToken"`
		SubscriptionID   string `json:"subscriptionId"`
	} `json:"subscriptionNotification"`
	TestNotification *struct {
		Version string `json:"version"`
	} `json:"testNotification"`
}

// ErrPlayTestNotification marks Play test pings; callers acknowledge them
// without further processing.
var ErrPlayTestNotification = errors.New("play test notification")

// ParsePlayPushEvent decodes a Pub/Sub push envelope carrying a Play RTDN
// payload into a NormalizedEvent. The raw body is preserved unmodified.
func ParsePlayPushEvent(body []byte) (*NormalizedEvent, error) {
	var envelope pubSubPushEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("invalid pub/sub envelope: %w", err)
	}
	if strings.TrimSpace(envelope.Message.Data) == "" {
		return nil, errors.New("pub/sub envelope missing message data")
	}

	decoded, err := base64.StdEncoding.DecodeString(envelope.Message.Data)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 message data: %w", err)
	}

	var notif playDeveloperNotification
	if err := json.Unmarshal(decoded, &notif); err != nil {
		return nil, fmt.Errorf("invalid developer notification: %w", err)
	}
	if notif.TestNotification != nil {
		return nil, ErrPlayTestNotification
	}
	if notif.SubscriptionNotification == nil {
		return nil, errors.New("notification carries no subscription payload")
	}

	sub := notif.SubscriptionNotification
	if strings.TrimSpace(sub.PurchaseToken) == "" {
		return nil, errors.New("subscription notification missing purchase token")
	}

	class, ok := playEventClasses[sub.NotificationType]
	if !ok {
		class = EventUnknown
	}

	occurredAt := time.Now()
	if millis := strings.TrimSpace(notif.EventTimeMillis); millis != "" {
		var ms int64
		if _, err := fmt.Sscanf(millis, "%d", &ms); err == nil && ms > 0 {
			occurredAt = time.UnixMilli(ms)
		}
	}

	return &NormalizedEvent{
		Provider:      models.PlanSourcePlay,
		Class:         class,
		RawType:       fmt.Sprintf("SUBSCRIPTION_NOTIFICATION_%d", sub.NotificationType),
		EventID:       strings.TrimSpace(envelope.Message.MessageID),
		PurchaseToken: strings.TrimSpace(sub.PurchaseToken),
		PackageName:   strings.TrimSpace(notif.PackageName),
		ProductRef:    strings.TrimSpace(sub.SubscriptionID),
		RawPayload:    append([]byte(nil), body...),
		OccurredAt:    occurredAt,
	}, nil
}
