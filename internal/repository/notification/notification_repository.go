package notification

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type WebhookConfig struct {
	WebhookURL string
}

// WebhookRepository posts operator alerts (dead-lettered events) to a
// configured webhook. An empty URL disables delivery; alerts still land in
// the log.
type WebhookRepository struct {
	webhookConfig WebhookConfig
}

func NewWebhookRepository(cfg WebhookConfig) *WebhookRepository {
	return &WebhookRepository{
		cfg,
	}
}

type payloadAlert struct {
	Subject string `json:"subject"`
	Message string `json:"message"`
	SentAt  string `json:"sent_at"`
}

func (r WebhookRepository) Alert(subject, message string) (err error) {
	if r.webhookConfig.WebhookURL == "" {
		return nil
	}

	payload := payloadAlert{
		Subject: subject,
		Message: message,
		SentAt:  time.Now().Format(time.RFC3339),
	}

	payloadByte, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal json payload: %w", err)
	}

	client := &http.Client{Timeout: 5 * time.Second}
	req, err := http.NewRequest(http.MethodPost, r.webhookConfig.WebhookURL, strings.NewReader(string(payloadByte)))
	if err != nil {
		return err
	}
	req.Header.Add("Content-Type", "application/json")

	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode >= 200 && res.StatusCode <= 299 {
		return nil
	}
	bodyBytes, _ := io.ReadAll(res.Body)

	return fmt.Errorf("alert webhook returned negative response %v: %s", res.StatusCode, string(bodyBytes))
}
