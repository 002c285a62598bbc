package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/guichetdigital/notification-service/internal/models"
	"github.com/guichetdigital/notification-service/pkg/circuitbreaker"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// EmailProvider delivers email through the transactional-mail REST API.
type EmailProvider struct {
	baseURL    string
	apiKey     string
	from       string
	fromName   string
	httpClient *http.Client
	cb         *gobreaker.CircuitBreaker
	log        *zap.Logger
}

func NewEmailProvider(baseURL, apiKey, from, fromName string, log *zap.Logger) *EmailProvider {
	return &EmailProvider{
		baseURL:  baseURL,
		apiKey:   apiKey,
		from:     from,
		fromName: fromName,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		cb:  circuitbreaker.NewCircuitBreaker("email-provider"),
		log: log,
	}
}

func (p *EmailProvider) Channel() models.Channel { return models.ChannelEmail }

type emailRequest struct {
	From     emailAddress `json:"from"`
	To       emailAddress `json:"to"`
	Subject  string       `json:"subject"`
	HTMLBody string       `json:"html"`
}

type emailAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type emailResponse struct {
	MessageID string `json:"message_id"`
}

func (p *EmailProvider) Send(ctx context.Context, msg *Message) DispatchResult {
	if msg.To == "" {
		return failure("recipient has no email address")
	}
	body, err := json.Marshal(emailRequest{
		From:     emailAddress{Email: p.from, Name: p.fromName},
		To:       emailAddress{Email: msg.To},
		Subject:  msg.Subject,
		HTMLBody: msg.Body,
	})
	if err != nil {
		return failure(fmt.Sprintf("marshal email request: %v", err))
	}

	result, err := p.cb.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			fmt.Sprintf("%s/v3/mail/send", p.baseURL), bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+p.apiKey)

		resp, err := p.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		respBody, _ := io.ReadAll(resp.Body)
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fmt.Errorf("email api status %d: %s", resp.StatusCode, respBody)
		}

		var parsed emailResponse
		if err := json.Unmarshal(respBody, &parsed); err == nil && parsed.MessageID != "" {
			return parsed.MessageID, nil
		}
		// Some gateways return the id as a header with an empty body.
		return resp.Header.Get("X-Message-Id"), nil
	})
	if err != nil {
		p.log.Warn("email dispatch failed", zap.String("to", msg.To), zap.Error(err))
		return failure(err.Error())
	}

	p.log.Info("email dispatched", zap.String("to", msg.To))
	return DispatchResult{Success: true, MessageID: result.(string)}
}

// SendBulk delivers a batch of emails with rate-limit friendly pauses.
func (p *EmailProvider) SendBulk(ctx context.Context, msgs []*Message) []DispatchResult {
	return sendBatched(ctx, msgs, p.Send)
}
