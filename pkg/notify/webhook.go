package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

const (
	HeaderEvent     = "X-Orgkit-Event"
	HeaderDelivery  = "X-Orgkit-Delivery"
	HeaderTimestamp = "X-Orgkit-Timestamp"
	HeaderSignature = "X-Orgkit-Signature"
)

// WebhookNotifier posts messages to an HTTP endpoint (a mail relay, a chat
// bridge) signed with HMAC-SHA256 over the request body.
type WebhookNotifier struct {
	url    string
	secret string
	client *http.Client
	clock  clockwork.Clock
}

// NewWebhookNotifier creates a notifier posting to url. An empty secret
// disables signing.
func NewWebhookNotifier(url, secret string, timeout time.Duration) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{
		url:    url,
		secret: secret,
		client: &http.Client{Timeout: timeout},
		clock:  clockwork.NewRealClock(),
	}
}

type webhookPayload struct {
	ID        string    `json:"id"`
	Recipient Recipient `json:"recipient"`
	Message   Message   `json:"message"`
	SentAt    time.Time `json:"sent_at"`
}

func (n *WebhookNotifier) Notify(ctx context.Context, to Recipient, msg Message) error {
	deliveryID := uuid.NewString()
	now := n.clock.Now().UTC()

	payload, err := json.Marshal(webhookPayload{ID: deliveryID, Recipient: to, Message: msg, SentAt: now})
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, string(msg.Kind))
	req.Header.Set(HeaderDelivery, deliveryID)
	req.Header.Set(HeaderTimestamp, now.Format(time.RFC3339))
	if n.secret != "" {
		req.Header.Set(HeaderSignature, Sign(payload, n.secret))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notification endpoint returned non-2xx status: %d", resp.StatusCode)
	}
	return nil
}

// Sign returns the signature header value for payload.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a signature produced by Sign in constant time.
func VerifySignature(payload []byte, signature, secret string) bool {
	return hmac.Equal([]byte(Sign(payload, secret)), []byte(signature))
}
