package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"text/template"
	"time"
)

type SlackNotifier struct {
	WebhookURL string
	Template   string
	Client     *http.Client
}

func NewSlackNotifier(url, tmpl string) *SlackNotifier {
	return &SlackNotifier{WebhookURL: url, Template: tmpl, Client: &http.Client{Timeout: 15 * time.Second}}
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

type slackAttachment struct {
	Color  string       `json:"color"`
	Title  string       `json:"title"`
	Text   string       `json:"text"`
	Fields []slackField `json:"fields"`
	Footer string       `json:"footer"`
	Ts     int64        `json:"ts"`
}

type slackPayload struct {
	Text        string            `json:"text"`
	Attachments []slackAttachment `json:"attachments"`
}

func (s *SlackNotifier) Notify(ctx context.Context, stats Stats) error {
	if s.WebhookURL == "" {
		return nil
	}

	color := "#36a64f"
	title := fmt.Sprintf("✅ %s Successful", stats.Operation)
	if stats.Status == StatusError {
		color = "#ff0000"
		title = fmt.Sprintf("❌ %s Failed", stats.Operation)
	}

	attachment := slackAttachment{
		Color:  color,
		Title:  title,
		Footer: "sqlbackup",
		Ts:     time.Now().Unix(),
		Fields: []slackField{
			{Title: "Client", Value: stats.ClientName, Short: true},
			{Title: "Databases", Value: strings.Join(stats.Databases, ", "), Short: true},
			{Title: "Archive", Value: stats.FileName, Short: false},
			{Title: "Duration", Value: stats.Duration.String(), Short: true},
		},
	}
	if stats.Size > 0 {
		attachment.Fields = append(attachment.Fields, slackField{Title: "Size", Value: formatSize(stats.Size), Short: true})
	}
	if stats.Error != "" {
		attachment.Text = "*Error:* " + stats.Error
		for _, st := range stats.Stages {
			attachment.Fields = append(attachment.Fields, slackField{Title: st.Stage, Value: st.Message})
		}
	}

	var body []byte
	var err error
	if s.Template != "" {
		body, err = renderTemplate("slack", s.Template, stats)
		if err != nil {
			return fmt.Errorf("failed to render slack template: %w", err)
		}
	} else {
		body, err = json.Marshal(slackPayload{Attachments: []slackAttachment{attachment}})
		if err != nil {
			return err
		}
	}

	return postJSON(ctx, s.Client, http.MethodPost, s.WebhookURL, body, nil, func(code int) bool { return code == http.StatusOK })
}

func renderTemplate(name, text string, stats Stats) ([]byte, error) {
	tmpl, err := template.New(name).Parse(text)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	data := struct {
		Stats
		FormattedDuration string
	}{
		Stats:             stats,
		FormattedDuration: stats.Duration.Truncate(time.Second).String(),
	}
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func postJSON(ctx context.Context, client *http.Client, method, url string, body []byte, headers map[string]string, ok func(int) bool) error {
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if !ok(resp.StatusCode) {
		return fmt.Errorf("%s returned status: %s", req.URL.Host, resp.Status)
	}
	return nil
}
