package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/guichetdigital/notification-service/internal/models"
	"github.com/guichetdigital/notification-service/pkg/circuitbreaker"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// PushProvider delivers push notifications through the push gateway and
// keeps the per-user device subscription registry in redis. One logical
// push fans out to every device the user has registered.
type PushProvider struct {
	baseURL    string
	apiKey     string
	rdb        *redis.Client
	httpClient *http.Client
	cb         *gobreaker.CircuitBreaker
	log        *zap.Logger
}

func NewPushProvider(baseURL, apiKey string, rdb *redis.Client, log *zap.Logger) *PushProvider {
	return &PushProvider{
		baseURL: baseURL,
		apiKey:  apiKey,
		rdb:     rdb,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		cb:  circuitbreaker.NewCircuitBreaker("push-provider"),
		log: log,
	}
}

func (p *PushProvider) Channel() models.Channel { return models.ChannelPush }

func subscriptionKey(userID string) string {
	return fmt.Sprintf("push:subs:%s", userID)
}

// Register stores a device token for a user.
func (p *PushProvider) Register(ctx context.Context, userID, deviceToken string) error {
	if deviceToken == "" {
		return fmt.Errorf("device token is required")
	}
	return p.rdb.SAdd(ctx, subscriptionKey(userID), deviceToken).Err()
}

// Unregister removes a device token for a user.
func (p *PushProvider) Unregister(ctx context.Context, userID, deviceToken string) error {
	return p.rdb.SRem(ctx, subscriptionKey(userID), deviceToken).Err()
}

// Subscriptions lists the device tokens registered for a user.
func (p *PushProvider) Subscriptions(ctx context.Context, userID string) ([]string, error) {
	return p.rdb.SMembers(ctx, subscriptionKey(userID)).Result()
}

type pushRequest struct {
	Token string            `json:"token"`
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

type pushResponse struct {
	MessageID string `json:"message_id"`
}

func (p *PushProvider) Send(ctx context.Context, msg *Message) DispatchResult {
	tokens, err := p.Subscriptions(ctx, msg.UserID)
	if err != nil {
		return failure(fmt.Sprintf("load push subscriptions: %v", err))
	}
	if len(tokens) == 0 {
		return failure("no push subscriptions registered for user")
	}

	var ids []string
	var lastErr error
	for _, token := range tokens {
		id, err := p.sendToDevice(ctx, token, msg)
		if err != nil {
			lastErr = err
			p.log.Warn("push dispatch to device failed",
				zap.String("user_id", msg.UserID), zap.Error(err))
			continue
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return failure(fmt.Sprintf("push delivery failed for all devices: %v", lastErr))
	}

	p.log.Info("push dispatched",
		zap.String("user_id", msg.UserID), zap.Int("devices", len(ids)))
	return DispatchResult{Success: true, MessageID: strings.Join(ids, ",")}
}

func (p *PushProvider) sendToDevice(ctx context.Context, token string, msg *Message) (string, error) {
	body, err := json.Marshal(pushRequest{
		Token: token,
		Title: msg.Title,
		Body:  msg.Body,
		Data:  msg.Data,
	})
	if err != nil {
		return "", err
	}

	result, err := p.cb.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			fmt.Sprintf("%s/v1/push", p.baseURL), bytes.NewReader(body))
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
			return nil, fmt.Errorf("push api status %d: %s", resp.StatusCode, respBody)
		}

		var parsed pushResponse
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return nil, fmt.Errorf("decode push response: %w", err)
		}
		return parsed.MessageID, nil
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

// SendBulk delivers a batch of pushes with rate-limit friendly pauses.
func (p *PushProvider) SendBulk(ctx context.Context, msgs []*Message) []DispatchResult {
	return sendBatched(ctx, msgs, p.Send)
}
