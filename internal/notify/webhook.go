package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

type WebhookNotifier struct {
	URL      string
	Method   string
	Template string
	Headers  map[string]string
	Client   *http.Client
}

func NewWebhookNotifier(url, method, tmpl string, headers map[string]string) *WebhookNotifier {
	if method == "" {
		method = http.MethodPost
	}
	return &WebhookNotifier{
		URL:      url,
		Method:   method,
		Template: tmpl,
		Headers:  headers,
		Client:   &http.Client{Timeout: 15 * time.Second},
	}
}

type webhookPayload struct {
	Status     Status   `json:"status"`
	Operation  string   `json:"operation"`
	ClientName string   `json:"clientName"`
	RunNumber  int      `json:"runNumber"`
	Databases  []string `json:"databases"`
	Archive    string   `json:"archive"`
	Size       int64    `json:"size"`
	Duration   float64  `json:"duration"`
	Timestamp  string   `json:"timestamp,omitempty"`
	Error      string   `json:"errorMessage,omitempty"`
	Stages     any      `json:"stages,omitempty"`
}

func (n *WebhookNotifier) Notify(ctx context.Context, stats Stats) error {
	if n.URL == "" {
		return nil
	}

	var body []byte
	var err error
	if n.Template != "" {
		body, err = renderTemplate("webhook", n.Template, stats)
		if err != nil {
			return fmt.Errorf("failed to render webhook template: %w", err)
		}
	} else {
		p := webhookPayload{
			Status:     stats.Status,
			Operation:  stats.Operation,
			ClientName: stats.ClientName,
			RunNumber:  stats.RunNumber,
			Databases:  stats.Databases,
			Archive:    stats.FileName,
			Size:       stats.Size,
			Duration:   stats.Duration.Seconds(),
			Error:      stats.Error,
		}
		if !stats.Timestamp.IsZero() {
			p.Timestamp = stats.Timestamp.Format(time.RFC3339)
		}
		if len(stats.Stages) > 0 {
			p.Stages = stats.Stages
		}
		body, err = json.Marshal(p)
		if err != nil {
			return err
		}
	}

	return postJSON(ctx, n.Client, n.Method, n.URL, body, n.Headers, func(code int) bool { return code < 400 })
}
