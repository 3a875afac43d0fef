package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"
)

// EmailNotifier delivers plain-text reports over SMTP.
type EmailNotifier struct {
	Host       string
	Port       int
	User       string
	Password   string
	From       string
	StartTLS   bool
	Recipients []string
	Timeout    time.Duration
}

func (e *EmailNotifier) Notify(ctx context.Context, stats Stats) error {
	if e.Host == "" || len(e.Recipients) == 0 {
		return nil
	}
	return e.send(ctx, e.buildMessage(stats))
}

func (e *EmailNotifier) buildMessage(stats Stats) string {
	var msg strings.Builder
	msg.WriteString(fmt.Sprintf("From: sqlbackup <%s>\r\n", e.From))
	msg.WriteString(fmt.Sprintf("To: %s\r\n", strings.Join(e.Recipients, ", ")))
	msg.WriteString(fmt.Sprintf("Subject: %s\r\n", Subject(stats)))
	msg.WriteString(fmt.Sprintf("Date: %s\r\n", time.Now().Format(time.RFC1123Z)))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(strings.ReplaceAll(Body(stats), "\n", "\r\n"))
	return msg.String()
}

func (e *EmailNotifier) send(ctx context.Context, msg string) error {
	port := e.Port
	if port == 0 {
		port = 587
	}
	timeout := e.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	addr := net.JoinHostPort(e.Host, strconv.Itoa(port))

	dialer := &net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else {
		conn.SetDeadline(time.Now().Add(timeout))
	}

	client, err := smtp.NewClient(conn, e.Host)
	if err != nil {
		return fmt.Errorf("failed to create SMTP client: %w", err)
	}
	defer client.Close()

	if e.StartTLS {
		if err := client.StartTLS(&tls.Config{ServerName: e.Host, MinVersion: tls.VersionTLS12}); err != nil {
			return fmt.Errorf("failed to start TLS: %w", err)
		}
	}
	if e.User != "" && e.Password != "" {
		if err := client.Auth(smtp.PlainAuth("", e.User, e.Password, e.Host)); err != nil {
			return fmt.Errorf("SMTP authentication failed: %w", err)
		}
	}

	if err := client.Mail(e.From); err != nil {
		return fmt.Errorf("failed to set sender: %w", err)
	}
	for _, rcpt := range e.Recipients {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("failed to add recipient %s: %w", rcpt, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("failed to open message body: %w", err)
	}
	if _, err := w.Write([]byte(msg)); err != nil {
		return fmt.Errorf("failed to write message body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return client.Quit()
}
