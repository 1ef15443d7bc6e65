package market

import (
	"time"

	"github.com/novaforge/bazaar/internal/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Notifier is the external notification sink. Implementations must be
// best-effort and non-blocking: a push failure never affects the
// outcome of the transaction that produced it.
type Notifier interface {
	PushToken(token models.TradeToken)
	PushTrade(tx models.Transaction)
}

// noopNotifier drops everything. Used when no sink is configured.
type noopNotifier struct{}

func (noopNotifier) PushToken(models.TradeToken)  {}
func (noopNotifier) PushTrade(models.Transaction) {}

// TokenRecorder mirrors every purchase attempt to the notification
// sink: processing right after the lock phase, then completed or
// failed. The token stream is the manual-reconciliation record for the
// window where a crash between payment and settlement could leave the
// remote store and local ledgers divergent; it never replaces the CAS
// guarantees.
type TokenRecorder struct {
	notifier Notifier
	log      *logrus.Entry
	now      func() time.Time
}

// NewTokenRecorder creates a recorder pushing to notifier.
func NewTokenRecorder(notifier Notifier, log *logrus.Entry, now func() time.Time) *TokenRecorder {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	if now == nil {
		now = time.Now
	}
	return &TokenRecorder{notifier: notifier, log: log, now: now}
}

// Processing emits the initial token for a freshly locked listing and
// returns it so later phases can reuse the token id.
func (r *TokenRecorder) Processing(listing *models.Listing, buyer int64) models.TradeToken {
	token := models.TradeToken{
		ID:       uuid.New(),
		ItemUUID: listing.UUID,
		Buyer:    buyer,
		Seller:   listing.Seller,
		Price:    listing.Price,
		Status:   models.TokenProcessing,
		At:       r.now(),
	}
	r.push(token)
	return token
}

// Completed emits the terminal success token.
func (r *TokenRecorder) Completed(token models.TradeToken) {
	token.Status = models.TokenCompleted
	token.At = r.now()
	r.push(token)
}

// Failed emits the terminal failure token.
func (r *TokenRecorder) Failed(token models.TradeToken) {
	token.Status = models.TokenFailed
	token.At = r.now()
	r.push(token)
}

func (r *TokenRecorder) push(token models.TradeToken) {
	r.log.WithFields(logrus.Fields{
		"token":  token.ID,
		"item":   token.ItemUUID,
		"status": token.Status,
	}).Debug("trade token")
	r.notifier.PushToken(token)
}
