package notify

import (
	"time"

	"github.com/novaforge/bazaar/internal/models"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
)

// Payload is the webhook body. Type discriminates between a bare trade
// token upload and a completed-trade announcement.
type Payload struct {
	Type  string              `json:"type"`
	At    time.Time           `json:"at"`
	Token *models.TradeToken  `json:"token,omitempty"`
	Trade *models.Transaction `json:"trade,omitempty"`
}

// Payload type discriminators.
const (
	TypeTradeToken     = "trade_token"
	TypeTradeCompleted = "trade_completed"
)

// Webhook posts trade tokens and completed trades to a single external
// URL. Pushes are fire-and-forget on their own goroutine; failures are
// logged and never affect the transaction that produced them. An empty
// URL disables the sink.
type Webhook struct {
	client *resty.Client
	url    string
	log    *logrus.Entry
}

// NewWebhook creates a sink for url.
func NewWebhook(url string, log *logrus.Entry) *Webhook {
	client := resty.New().
		SetTimeout(5 * time.Second).
		SetRetryCount(1)
	return &Webhook{client: client, url: url, log: log}
}

// PushToken uploads one trade token.
func (w *Webhook) PushToken(token models.TradeToken) {
	w.push(Payload{Type: TypeTradeToken, At: time.Now(), Token: &token})
}

// PushTrade announces a completed trade.
func (w *Webhook) PushTrade(tx models.Transaction) {
	w.push(Payload{Type: TypeTradeCompleted, At: time.Now(), Trade: &tx})
}

func (w *Webhook) push(payload Payload) {
	if w.url == "" {
		return
	}
	go func() {
		resp, err := w.client.R().
			SetHeader("Content-Type", "application/json").
			SetBody(payload).
			Post(w.url)
		if err != nil {
			w.log.WithError(err).WithField("type", payload.Type).Warn("webhook push failed")
			return
		}
		if resp.IsError() {
			w.log.WithFields(logrus.Fields{
				"type":   payload.Type,
				"status": resp.StatusCode(),
			}).Warn("webhook push rejected")
		}
	}()
}
