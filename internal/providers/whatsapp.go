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

// WhatsAppProvider delivers messages through the WhatsApp business gateway.
type WhatsAppProvider struct {
	baseURL    string
	token      string
	sender     string
	httpClient *http.Client
	cb         *gobreaker.CircuitBreaker
	log        *zap.Logger
}

func NewWhatsAppProvider(baseURL, token, sender string, log *zap.Logger) *WhatsAppProvider {
	return &WhatsAppProvider{
		baseURL: baseURL,
		token:   token,
		sender:  sender,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		cb:  circuitbreaker.NewCircuitBreaker("whatsapp-provider"),
		log: log,
	}
}

func (p *WhatsAppProvider) Channel() models.Channel { return models.ChannelWhatsApp }

type whatsAppResponse struct {
	Sent      bool   `json:"sent"`
	MessageID string `json:"message_id"`
	Message   string `json:"message"`
}

func (p *WhatsAppProvider) Send(ctx context.Context, msg *Message) DispatchResult {
	if msg.To == "" {
		return failure("recipient has no phone number")
	}
	to, err := NormalizePhone(msg.To)
	if err != nil {
		return failure(err.Error())
	}

	payload := map[string]interface{}{
		"messageType": "text",
		"token":       p.token,
		"from":        p.sender,
		"to":          to,
		"text":        msg.Body,
	}
	if msg.MediaURL != "" {
		payload["messageType"] = "media"
		payload["mediaUrl"] = msg.MediaURL
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return failure(fmt.Sprintf("marshal whatsapp payload: %v", err))
	}

	result, err := p.cb.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			fmt.Sprintf("%s/api/rest/send_message", p.baseURL), bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := p.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		respBody, _ := io.ReadAll(resp.Body)
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("whatsapp api status %d: %s", resp.StatusCode, respBody)
		}

		var parsed whatsAppResponse
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return nil, fmt.Errorf("decode whatsapp response: %w", err)
		}
		if !parsed.Sent {
			return nil, fmt.Errorf("whatsapp api rejected message: %s", parsed.Message)
		}
		return parsed.MessageID, nil
	})
	if err != nil {
		p.log.Warn("whatsapp dispatch failed", zap.String("to", to), zap.Error(err))
		return failure(err.Error())
	}

	p.log.Info("whatsapp dispatched", zap.String("to", to))
	return DispatchResult{Success: true, MessageID: result.(string)}
}

// SendBulk delivers a batch of messages with rate-limit friendly pauses.
func (p *WhatsAppProvider) SendBulk(ctx context.Context, msgs []*Message) []DispatchResult {
	return sendBatched(ctx, msgs, p.Send)
}
