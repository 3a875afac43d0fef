package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// WhatsAppNotifier sends a text message per recipient through an HTTP gateway.
type WhatsAppNotifier struct {
	GatewayURL string
	Token      string
	Recipients []string
	Client     *http.Client
}

func NewWhatsAppNotifier(url, token string, recipients []string) *WhatsAppNotifier {
	return &WhatsAppNotifier{
		GatewayURL: url,
		Token:      token,
		Recipients: recipients,
		Client:     &http.Client{Timeout: 15 * time.Second},
	}
}

type whatsAppMessage struct {
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

func (w *WhatsAppNotifier) Notify(ctx context.Context, stats Stats) error {
	if w.GatewayURL == "" || len(w.Recipients) == 0 {
		return nil
	}

	var headers map[string]string
	if w.Token != "" {
		headers = map[string]string{"Authorization": "Bearer " + w.Token}
	}
	text := "*" + Subject(stats) + "*\n\n" + Body(stats)

	var errs []error
	for _, phone := range w.Recipients {
		body, err := json.Marshal(whatsAppMessage{Phone: phone, Message: text})
		if err != nil {
			return err
		}
		if err := postJSON(ctx, w.Client, http.MethodPost, w.GatewayURL, body, headers, func(code int) bool { return code < 300 }); err != nil {
			errs = append(errs, fmt.Errorf("whatsapp %s: %w", phone, err))
		}
	}
	return errors.Join(errs...)
}
