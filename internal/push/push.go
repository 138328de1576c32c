package push

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/homebase/internal/model"

	webpush "github.com/SherClockHolmes/webpush-go"
)

// ErrExpired is returned when a push subscription is no longer valid (410 Gone).
var ErrExpired = errors.New("push subscription expired")

// Payload is the JSON sent to the push service.
type Payload struct {
	Title string     `json:"title"`
	Body  string     `json:"body"`
	URL   string     `json:"url,omitempty"`
	Tag   string     `json:"tag,omitempty"`
	Kind  model.Kind `json:"kind,omitempty"`

	// Lead is how long before the due time this notification fires.
	Lead time.Duration `json:"-"`
}

type delivery struct {
	ttl     int // seconds
	urgency webpush.Urgency
}

// Seconds a push service may hold a notification before dropping it.
var kindTTL = map[model.Kind]int{
	model.KindEvent:       3600,
	model.KindMeal:        3600,
	model.KindChore:       6 * 3600,
	model.KindCleaning:    6 * 3600,
	model.KindGrocery:     6 * 3600,
	model.KindReminder:    6 * 3600,
	model.KindVaccination: 86400,
}

// deliveryFor picks TTL and urgency for a payload. A "due now" notice is
// high urgency and worthless after a few minutes; advance notices for
// far-off items can wait.
func deliveryFor(p Payload) delivery {
	if p.Lead <= 0 {
		return delivery{ttl: 900, urgency: webpush.UrgencyHigh}
	}
	d := delivery{ttl: 86400, urgency: webpush.UrgencyNormal}
	if ttl, ok := kindTTL[p.Kind]; ok {
		d.ttl = ttl
	}
	if p.Lead >= 24*time.Hour {
		d.urgency = webpush.UrgencyLow
	}
	return d
}

// Service sends web push notifications signed with a VAPID key pair.
type Service struct {
	publicKey  string
	privateKey string
	subscriber string
}

// NewService creates a push service. subscriber is the contact URI sent in
// the VAPID claims, usually a mailto: address.
func NewService(publicKey, privateKey, subscriber string) *Service {
	return &Service{
		publicKey:  publicKey,
		privateKey: privateKey,
		subscriber: subscriber,
	}
}

// VAPIDPublicKey returns the VAPID public key for client-side subscription.
func (s *Service) VAPIDPublicKey() string {
	return s.publicKey
}

// Send delivers payload to one subscription, with TTL and urgency chosen
// from the item kind and how far ahead of the due time it fires.
func (s *Service) Send(sub *model.PushSubscription, payload Payload) error {
	d := deliveryFor(payload)
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	resp, err := webpush.SendNotification(data, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256dhKey,
			Auth:   sub.AuthKey,
		},
	}, &webpush.Options{
		VAPIDPublicKey:  s.publicKey,
		VAPIDPrivateKey: s.privateKey,
		Subscriber:      s.subscriber,
		TTL:             d.ttl,
		Urgency:         d.urgency,
	})
	if err != nil {
		return fmt.Errorf("send push: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound {
		return ErrExpired
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("push service returned %d", resp.StatusCode)
	}

	return nil
}

// GenerateVAPIDKeys generates a new ECDSA P-256 key pair for VAPID.
func GenerateVAPIDKeys() (publicKey, privateKey string, err error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return "", "", fmt.Errorf("generate ECDSA key: %w", err)
	}

	pub, err := key.PublicKey.ECDH()
	if err != nil {
		return "", "", fmt.Errorf("convert public key: %w", err)
	}
	priv, err := key.ECDH()
	if err != nil {
		return "", "", fmt.Errorf("convert private key: %w", err)
	}

	publicKey = base64.RawURLEncoding.EncodeToString(pub.Bytes())
	privateKey = base64.RawURLEncoding.EncodeToString(priv.Bytes())
	return publicKey, privateKey, nil
}

// LogNotifier writes notifications to a logger instead of a push service.
// It stands in for Service when no VAPID keys are configured.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) Send(sub *model.PushSubscription, payload Payload) error {
	n.Logger.Info("notification", "user_id", sub.UserID, "device", sub.DeviceName,
		"title", payload.Title, "body", payload.Body, "tag", payload.Tag)
	return nil
}
