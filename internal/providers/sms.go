package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/guichetdigital/notification-service/internal/models"
	"github.com/guichetdigital/notification-service/pkg/circuitbreaker"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// SMSProvider delivers text messages through the SMS gateway's form API.
type SMSProvider struct {
	baseURL    string
	apiKey     string
	senderID   string
	httpClient *http.Client
	cb         *gobreaker.CircuitBreaker
	log        *zap.Logger
}

func NewSMSProvider(baseURL, apiKey, senderID string, log *zap.Logger) *SMSProvider {
	return &SMSProvider{
		baseURL:  baseURL,
		apiKey:   apiKey,
		senderID: senderID,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		cb:  circuitbreaker.NewCircuitBreaker("sms-provider"),
		log: log,
	}
}

func (p *SMSProvider) Channel() models.Channel { return models.ChannelSMS }

type smsResponse struct {
	Status    string `json:"status"`
	MessageID string `json:"message_id"`
	Reason    string `json:"reason"`
}

func (p *SMSProvider) Send(ctx context.Context, msg *Message) DispatchResult {
	if msg.To == "" {
		return failure("recipient has no phone number")
	}
	to, err := NormalizePhone(msg.To)
	if err != nil {
		return failure(err.Error())
	}

	form := url.Values{}
	form.Set("senderid", p.senderID)
	form.Set("mobile", to)
	form.Set("msg", msg.Body)
	form.Set("msgType", "text")
	form.Set("output", "json")

	result, err := p.cb.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			fmt.Sprintf("%s/api/send", p.baseURL), strings.NewReader(form.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("apikey", p.apiKey)

		resp, err := p.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("sms api status %d: %s", resp.StatusCode, body)
		}

		var parsed smsResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return nil, fmt.Errorf("decode sms response: %w", err)
		}
		if parsed.Status != "" && !strings.EqualFold(parsed.Status, "success") {
			return nil, fmt.Errorf("sms api rejected message: %s", parsed.Reason)
		}
		return parsed.MessageID, nil
	})
	if err != nil {
		p.log.Warn("sms dispatch failed", zap.String("to", to), zap.Error(err))
		return failure(err.Error())
	}

	p.log.Info("sms dispatched", zap.String("to", to))
	return DispatchResult{Success: true, MessageID: result.(string)}
}

// SendBulk delivers a batch of SMS with rate-limit friendly pauses.
func (p *SMSProvider) SendBulk(ctx context.Context, msgs []*Message) []DispatchResult {
	return sendBatched(ctx, msgs, p.Send)
}
