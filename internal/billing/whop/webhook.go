// Package whop handles billing webhooks from Whop. Successful payments
// credit the buyer's ledger balance.
package whop

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/DavidSuperwave/leadengine/internal/leads"
)

// ErrBadSignature is returned when the webhook signature does not match.
var ErrBadSignature = errors.New("whop: webhook signature mismatch")

// Actions that grant credits. Everything else is acknowledged and
// dropped.
const (
	ActionPaymentSucceeded    = "payment.succeeded"
	ActionMembershipWentValid = "membership.went_valid"
)

// Event is the webhook envelope.
type Event struct {
	Action string    `json:"action"`
	Data   EventData `json:"data"`
}

// EventData carries the purchase details we care about.
type EventData struct {
	ID       string `json:"id"`
	UserID   string `json:"user_id"`
	Metadata struct {
		Credits int64 `json:"credits"`
	} `json:"metadata"`
}

// Processor verifies webhook signatures and applies credit grants.
type Processor struct {
	secret []byte
	ledger leads.CreditLedger
	logger *zap.Logger
}

// NewProcessor constructs a Processor.
func NewProcessor(secret string, ledger leads.CreditLedger, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		secret: []byte(secret),
		ledger: ledger,
		logger: logger.Named("whop"),
	}
}

// Handle verifies the webhook body against its signature header and
// applies any credit grant it carries.
func (p *Processor) Handle(ctx context.Context, body []byte, signature string) error {
	if !p.verify(body, signature) {
		return ErrBadSignature
	}

	var event Event
	if err := json.Unmarshal(body, &event); err != nil {
		return fmt.Errorf("decode webhook event: %w", err)
	}

	switch event.Action {
	case ActionPaymentSucceeded, ActionMembershipWentValid:
	default:
		p.logger.Debug("ignoring webhook action", zap.String("action", event.Action))
		return nil
	}

	if event.Data.UserID == "" {
		return fmt.Errorf("webhook event %s has no user id", event.Data.ID)
	}
	if event.Data.Metadata.Credits <= 0 {
		p.logger.Warn("webhook event carries no credits",
			zap.String("event_id", event.Data.ID),
			zap.String("action", event.Action))
		return nil
	}

	reason := fmt.Sprintf("whop:%s:%s", event.Action, event.Data.ID)
	if err := p.ledger.Add(ctx, event.Data.UserID, event.Data.Metadata.Credits, reason); err != nil {
		return fmt.Errorf("credit purchase %s: %w", event.Data.ID, err)
	}

	p.logger.Info("credits granted",
		zap.String("user_id", event.Data.UserID),
		zap.Int64("credits", event.Data.Metadata.Credits),
		zap.String("event_id", event.Data.ID))
	return nil
}

// verify checks the hex HMAC-SHA256 of the body. The header value may
// carry a "sha256=" prefix.
func (p *Processor) verify(body []byte, signature string) bool {
	signature = strings.TrimPrefix(strings.TrimSpace(signature), "sha256=")
	if signature == "" || len(p.secret) == 0 {
		return false
	}
	mac := hmac.New(sha256.New, p.secret)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(signature)))
}
