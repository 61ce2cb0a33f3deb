package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"

	"newsroomledger/internal/pricing"
	"newsroomledger/internal/repositories"

	"github.com/google/uuid"
)

// Event kinds the processor acts on. Anything else is acknowledged and
// ignored so the provider stops redelivering it.
const (
	EventCheckoutCompleted       = "checkout_completed"
	EventInvoicePaymentSucceeded = "invoice_payment_succeeded"
	EventSubscriptionDeleted     = "subscription_deleted"
)

// billingReasonCycle marks a recurring invoice, as opposed to the first
// payment of a new subscription (which is handled by checkout_completed).
const billingReasonCycle = "subscription_cycle"

// Outcomes of processing one event.
const (
	OutcomeApplied   = "applied"
	OutcomeDuplicate = "duplicate"
	OutcomeIgnored   = "ignored"
)

// WebhookEvent is the raw provider envelope. Data's shape depends on Type and
// is decoded after dispatch; Metadata is the checkout metadata echoed back by
// the provider.
type WebhookEvent struct {
	ID       string            `json:"id"`
	Type     string            `json:"type"`
	Data     json.RawMessage   `json:"data"`
	Metadata map[string]string `json:"metadata"`
}

type checkoutCompletedData struct {
	SessionID       string `json:"session_id"`
	CustomerRef     string `json:"customer_ref"`
	SubscriptionRef string `json:"subscription_ref"`
}

type invoicePaymentData struct {
	InvoiceID       string `json:"invoice_id"`
	SubscriptionRef string `json:"subscription_ref"`
	BillingReason   string `json:"billing_reason"`
}

type subscriptionDeletedData struct {
	SubscriptionRef string `json:"subscription_ref"`
}

// ProcessResult reports what happened to one delivery.
type ProcessResult struct {
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	Outcome   string `json:"outcome"`
}

// WebhookProcessor turns at-least-once, possibly out-of-order provider
// deliveries into exactly-once ledger mutations.
type WebhookProcessor interface {
	Process(ctx context.Context, payload []byte, signature string) (*ProcessResult, error)
}

type webhookProcessor struct {
	credits    CreditService
	processed  repositories.ProcessedEventRepository
	ledger     repositories.LedgerEntryRepository
	catalog    *pricing.Catalog
	archive    PayloadArchive
	secret     []byte
	skipVerify bool
}

// NewWebhookProcessor creates the processor. skipVerify disables signature
// checking and must only be set in non-production configurations; it is an
// explicit trust-boundary decision, never a fallback. archive may be nil.
func NewWebhookProcessor(credits CreditService, processed repositories.ProcessedEventRepository, ledger repositories.LedgerEntryRepository, catalog *pricing.Catalog, archive PayloadArchive, webhookSecret string, skipVerify bool) WebhookProcessor {
	if skipVerify {
		log.Printf("WARNING: webhook signature verification is DISABLED")
	}
	return &webhookProcessor{
		credits:    credits,
		processed:  processed,
		ledger:     ledger,
		catalog:    catalog,
		archive:    archive,
		secret:     []byte(webhookSecret),
		skipVerify: skipVerify,
	}
}

// Process runs the per-event state machine: verify, deduplicate, classify,
// apply, acknowledge. Success is returned only after the atomic apply commits
// (or the event is recognized as a duplicate or irrelevant).
func (p *webhookProcessor) Process(ctx context.Context, payload []byte, signature string) (*ProcessResult, error) {
	if err := p.verifySignature(payload, signature); err != nil {
		return nil, err
	}

	var event WebhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		p.archivePayload(ctx, "unparseable", payload)
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if event.ID == "" {
		p.archivePayload(ctx, "missing-id", payload)
		return nil, fmt.Errorf("%w: event id is required", ErrMalformedEvent)
	}

	// At-least-once delivery: a replay of an already-applied event is
	// success with no mutation. The unique index behind EventStamp catches
	// the race where two deliveries pass this check together.
	seen, err := p.processed.Exists(ctx, event.ID)
	if err != nil {
		return nil, fmt.Errorf("dedup lookup failed: %w", err)
	}
	if seen {
		return &ProcessResult{EventID: event.ID, EventType: event.Type, Outcome: OutcomeDuplicate}, nil
	}

	// Second dedup witness: a ledger entry stamped with this event ref means
	// the effect committed, regardless of the processed-events row.
	entry, err := p.ledger.FindByExternalEventRef(ctx, event.ID)
	if err != nil {
		return nil, fmt.Errorf("ledger dedup lookup failed: %w", err)
	}
	if entry != nil {
		return &ProcessResult{EventID: event.ID, EventType: event.Type, Outcome: OutcomeDuplicate}, nil
	}

	result, err := p.dispatch(ctx, &event)
	if err != nil {
		if errors.Is(err, repositories.ErrDuplicateEvent) {
			// Lost a race with a concurrent delivery of the same event.
			return &ProcessResult{EventID: event.ID, EventType: event.Type, Outcome: OutcomeDuplicate}, nil
		}
		if errors.Is(err, ErrMalformedEvent) {
			p.archivePayload(ctx, "malformed", payload)
		}
		return nil, err
	}
	return result, nil
}

func (p *webhookProcessor) verifySignature(payload []byte, signature string) error {
	if p.skipVerify {
		return nil
	}
	if signature == "" {
		return fmt.Errorf("%w: missing signature header", ErrInvalidSignature)
	}
	mac := hmac.New(sha256.New, p.secret)
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	// Constant time comparison to prevent timing attacks
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return ErrInvalidSignature
	}
	return nil
}

func (p *webhookProcessor) dispatch(ctx context.Context, event *WebhookEvent) (*ProcessResult, error) {
	switch event.Type {
	case EventCheckoutCompleted:
		return p.handleCheckoutCompleted(ctx, event)
	case EventInvoicePaymentSucceeded:
		return p.handleInvoicePayment(ctx, event)
	case EventSubscriptionDeleted:
		return p.handleSubscriptionDeleted(ctx, event)
	default:
		return &ProcessResult{EventID: event.ID, EventType: event.Type, Outcome: OutcomeIgnored}, nil
	}
}

func (p *webhookProcessor) handleCheckoutCompleted(ctx context.Context, event *WebhookEvent) (*ProcessResult, error) {
	tenantID, err := tenantFromMetadata(event)
	if err != nil {
		return nil, err
	}

	var data checkoutCompletedData
	if err := json.Unmarshal(event.Data, &data); err != nil {
		return nil, fmt.Errorf("%w: bad checkout_completed data: %v", ErrMalformedEvent, err)
	}

	// The account may not exist yet; first checkout creates it.
	if _, err := p.credits.GetOrCreateAccount(ctx, tenantID); err != nil {
		return nil, fmt.Errorf("failed to load tenant account: %w", err)
	}

	stamp := &EventStamp{EventID: event.ID, EventType: event.Type}

	switch event.Metadata["type"] {
	case CheckoutModeSubscription:
		tier, ok := p.catalog.TierByID(event.Metadata["plan_id"])
		if !ok {
			return nil, fmt.Errorf("%w: unknown plan_id %q", ErrMalformedEvent, event.Metadata["plan_id"])
		}
		if _, err := p.credits.StartSubscription(ctx, tenantID, tier, data.CustomerRef, data.SubscriptionRef, stamp); err != nil {
			return nil, err
		}
		log.Printf("subscription started for tenant %s: %s plan, %d credits", tenantID, tier.ID, tier.TotalCredits())

	case CheckoutTypeTopOff:
		credits, err := p.topOffCredits(event)
		if err != nil {
			return nil, err
		}
		if _, err := p.credits.AddTopOff(ctx, tenantID, credits, stamp); err != nil {
			return nil, err
		}
		log.Printf("added %d top-off credits to tenant %s", credits, tenantID)

	default:
		return nil, fmt.Errorf("%w: checkout type must be subscription or topoff, got %q", ErrMalformedEvent, event.Metadata["type"])
	}

	return &ProcessResult{EventID: event.ID, EventType: event.Type, Outcome: OutcomeApplied}, nil
}

// topOffCredits resolves the purchased amount, preferring the catalog pack
// over the raw credits field in the metadata.
func (p *webhookProcessor) topOffCredits(event *WebhookEvent) (int64, error) {
	if pack, ok := p.catalog.PackByID(event.Metadata["pack_id"]); ok {
		return pack.CreditAmount, nil
	}
	if raw, ok := event.Metadata["credits"]; ok {
		credits, err := strconv.ParseInt(raw, 10, 64)
		if err == nil && credits > 0 {
			return credits, nil
		}
	}
	return 0, fmt.Errorf("%w: no resolvable credit amount (pack_id %q)", ErrMalformedEvent, event.Metadata["pack_id"])
}

func (p *webhookProcessor) handleInvoicePayment(ctx context.Context, event *WebhookEvent) (*ProcessResult, error) {
	var data invoicePaymentData
	if err := json.Unmarshal(event.Data, &data); err != nil {
		return nil, fmt.Errorf("%w: bad invoice data: %v", ErrMalformedEvent, err)
	}

	// The first payment of a subscription is applied by checkout_completed;
	// only recurring cycles renew.
	if data.BillingReason != billingReasonCycle {
		return &ProcessResult{EventID: event.ID, EventType: event.Type, Outcome: OutcomeIgnored}, nil
	}
	if data.SubscriptionRef == "" {
		return nil, fmt.Errorf("%w: invoice has no subscription_ref", ErrMalformedEvent)
	}

	account, err := p.credits.AccountBySubscriptionRef(ctx, data.SubscriptionRef)
	if errors.Is(err, repositories.ErrAccountNotFound) {
		// The renewal may have overtaken its own checkout event. Fail
		// retryable; the provider redelivers once the checkout has landed.
		return nil, fmt.Errorf("no account for subscription %s yet: %w", data.SubscriptionRef, err)
	}
	if err != nil {
		return nil, err
	}

	// The catalog, not the invoice, decides how many credits a cycle grants.
	tier, ok := p.catalog.TierByID(account.Plan)
	if !ok {
		return nil, fmt.Errorf("%w: account %s has unknown plan %q", ErrMalformedEvent, account.TenantID, account.Plan)
	}

	stamp := &EventStamp{EventID: event.ID, EventType: event.Type}
	if _, err := p.credits.Renew(ctx, account.TenantID, tier, stamp); err != nil {
		return nil, err
	}
	log.Printf("subscription renewed for tenant %s: %d credits", account.TenantID, tier.TotalCredits())
	return &ProcessResult{EventID: event.ID, EventType: event.Type, Outcome: OutcomeApplied}, nil
}

func (p *webhookProcessor) handleSubscriptionDeleted(ctx context.Context, event *WebhookEvent) (*ProcessResult, error) {
	var data subscriptionDeletedData
	if err := json.Unmarshal(event.Data, &data); err != nil {
		return nil, fmt.Errorf("%w: bad subscription_deleted data: %v", ErrMalformedEvent, err)
	}
	if data.SubscriptionRef == "" {
		return nil, fmt.Errorf("%w: no subscription_ref", ErrMalformedEvent)
	}

	account, err := p.credits.AccountBySubscriptionRef(ctx, data.SubscriptionRef)
	if errors.Is(err, repositories.ErrAccountNotFound) {
		// Already cancelled, or a subscription this system never saw.
		return &ProcessResult{EventID: event.ID, EventType: event.Type, Outcome: OutcomeIgnored}, nil
	}
	if err != nil {
		return nil, err
	}

	stamp := &EventStamp{EventID: event.ID, EventType: event.Type}
	if err := p.credits.Cancel(ctx, account.TenantID, stamp); err != nil {
		return nil, err
	}
	log.Printf("subscription cancelled for tenant %s", account.TenantID)
	return &ProcessResult{EventID: event.ID, EventType: event.Type, Outcome: OutcomeApplied}, nil
}

// tenantFromMetadata extracts the tenant identity stamped on the checkout
// session. An event without a parseable tenant id cannot be attributed and is
// rejected as malformed.
func tenantFromMetadata(event *WebhookEvent) (uuid.UUID, error) {
	raw, ok := event.Metadata["tenant_id"]
	if !ok || raw == "" {
		return uuid.Nil, fmt.Errorf("%w: event %s missing tenant_id metadata", ErrMalformedEvent, event.ID)
	}
	tenantID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: event %s has invalid tenant_id %q", ErrMalformedEvent, event.ID, raw)
	}
	return tenantID, nil
}

// archivePayload stores a rejected payload for later investigation. Best
// effort: archival failure never affects the webhook response.
func (p *webhookProcessor) archivePayload(ctx context.Context, reason string, payload []byte) {
	if p.archive == nil {
		return
	}
	key := fmt.Sprintf("%s/%s.json", reason, uuid.New())
	if err := p.archive.StorePayload(ctx, key, payload); err != nil {
		log.Printf("WARN: failed to archive %s webhook payload: %v", reason, err)
	}
}
