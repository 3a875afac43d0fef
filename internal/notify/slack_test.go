package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lupppig/sqlbackup/internal/history"
	"github.com/stretchr/testify/assert"
)

func TestFormatSize(t *testing.T) {
	tests := []struct {
		bytes    int64
		expected string
	}{
		{500, "500 B"},
		{1024, "1.00 KB"},
		{1536, "1.50 KB"},
		{1048576, "1.00 MB"},
		{1048576 * 1024, "1.00 GB"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, formatSize(tt.bytes))
		})
	}
}

func TestSlackNotifier_Notify_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var payload slackPayload
		err := json.NewDecoder(r.Body).Decode(&payload)
		assert.NoError(t, err)

		assert.Len(t, payload.Attachments, 1)
		att := payload.Attachments[0]
		assert.Equal(t, "#36a64f", att.Color)
		assert.Equal(t, "✅ Backup Successful", att.Title)
		assert.Len(t, att.Fields, 5) // Client, Databases, Archive, Duration, Size

		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier := NewSlackNotifier(server.URL, "")
	stats := Stats{
		Status:     StatusSuccess,
		Operation:  "Backup",
		ClientName: "Loja",
		Databases:  []string{"Vendas"},
		FileName:   "Loja-1.7z",
		Duration:   5 * time.Second,
		Size:       1048576,
	}

	err := notifier.Notify(context.Background(), stats)
	assert.NoError(t, err)
}

func TestSlackNotifier_Notify_Error(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload slackPayload
		json.NewDecoder(r.Body).Decode(&payload)

		att := payload.Attachments[0]
		assert.Equal(t, "#ff0000", att.Color)
		assert.Equal(t, "❌ Backup Failed", att.Title)
		assert.Equal(t, "*Error:* ftp: connection refused", att.Text)
		assert.Equal(t, "ftp", att.Fields[len(att.Fields)-1].Title)

		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier := NewSlackNotifier(server.URL, "")
	stats := Stats{
		Status:    StatusError,
		Operation: "Backup",
		Databases: []string{"Vendas"},
		Duration:  2 * time.Second,
		Error:     "ftp: connection refused",
		Stages:    []history.StageError{{Stage: "ftp", Message: "connection refused"}},
	}

	err := notifier.Notify(context.Background(), stats)
	assert.NoError(t, err)
}

func TestSlackNotifier_Template(t *testing.T) {
	var got string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]string
		json.NewDecoder(r.Body).Decode(&payload)
		got = payload["text"]
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier := NewSlackNotifier(server.URL, `{"text": "{{.ClientName}} {{.Status}} in {{.FormattedDuration}}"}`)
	err := notifier.Notify(context.Background(), Stats{ClientName: "Loja", Status: StatusSuccess, Duration: 90500 * time.Millisecond})
	assert.NoError(t, err)
	assert.Equal(t, "Loja success in 1m30s", got)
}

func TestSlackNotifier_BadStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	err := NewSlackNotifier(server.URL, "").Notify(context.Background(), Stats{Operation: "Backup"})
	assert.Error(t, err)
}

func TestSlackNotifier_EmptyURL(t *testing.T) {
	notifier := NewSlackNotifier("", "")
	err := notifier.Notify(context.Background(), Stats{Operation: "Test"})
	assert.NoError(t, err) // Should silently return nil if no URL
}
