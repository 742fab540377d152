package provision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/harbourdeck/callpoint-core/internal/audit"
	"github.com/harbourdeck/callpoint-core/internal/credentials"
	"github.com/harbourdeck/callpoint-core/internal/infrastructure/logging"
	"github.com/harbourdeck/callpoint-core/internal/infrastructure/mqtt"
)

// Transport is the pub/sub surface the Coordinator needs. Satisfied by
// *mqtt.Client; tests substitute a fake.
type Transport interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	DefaultQoS() byte
}

// CredentialIssuer issues per-device broker credentials at claim time.
// Satisfied by *credentials.Issuer.
type CredentialIssuer interface {
	Issue(ctx context.Context, deviceID, deviceType string, topicGrants []string) (*credentials.Credentials, error)
}

// Config assembles the Coordinator's collaborators.
type Config struct {
	Repo      Repository
	Audit     audit.Repository
	Issuer    CredentialIssuer
	Transport Transport
	Events    EventSink
	Logger    *logging.Logger

	// Site scopes every topic the coordinator derives.
	Site string

	// AdvertiseHost/AdvertisePort are the broker endpoint embedded in
	// QR payloads.
	AdvertiseHost string
	AdvertisePort int

	// Now overrides the clock. Nil means time.Now.
	Now func() time.Time
}

// Coordinator owns the provisioning token state machine.
//
// Tokens move PENDING→CLAIMED→ACTIVE, with EXPIRED and CANCELLED
// reachable from PENDING or CLAIMED and DELETED reachable from any
// non-DELETED state. All transitions go through the repository's
// compare-and-swap methods, so racing operations against the same token
// serialize at the database row: exactly one caller observes the
// precondition status and wins.
//
// Expiry is lazy. No timer watches deadlines; instead every read path
// evaluates the deadline predicate and the first operation to observe an
// overdue PENDING token persists EXPIRED.
type Coordinator struct {
	repo      Repository
	audit     audit.Repository
	issuer    CredentialIssuer
	transport Transport
	events    EventSink
	logger    *logging.Logger
	topics    mqtt.Topics

	site          string
	advertiseHost string
	advertisePort int
	now           func() time.Time
}

// New creates a Coordinator. Events may be nil.
func New(cfg Config) *Coordinator {
	events := cfg.Events
	if events == nil {
		events = NopSink{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Coordinator{
		repo:          cfg.Repo,
		audit:         cfg.Audit,
		issuer:        cfg.Issuer,
		transport:     cfg.Transport,
		events:        events,
		logger:        logger.With("component", "provision"),
		site:          cfg.Site,
		advertiseHost: cfg.AdvertiseHost,
		advertisePort: cfg.AdvertisePort,
		now:           now,
	}
}

// Start subscribes the Coordinator to the shared provisioning request
// topic. Every pending claim arrives there; claims are demultiplexed by
// token and answered on the claimant's reply topic.
func (c *Coordinator) Start(ctx context.Context) error {
	topic := c.topics.ProvisionRequest()
	if err := c.transport.Subscribe(topic, c.transport.DefaultQoS(), c.handleClaimMessage); err != nil {
		return fmt.Errorf("subscribing to provisioning requests: %w", err)
	}
	c.logger.Info("provisioning coordinator started", "topic", topic)
	return nil
}

// Issue creates a PENDING token for a room and returns it with its
// QR-encodable payload. Nothing is published: the device learns the
// handshake parameters out-of-band from the QR scan.
//
// The payload's topic set uses a placeholder device slot; the final set
// is computed at claim time and returned in the ack.
func (c *Coordinator) Issue(ctx context.Context, room string, ttl time.Duration) (*ProvisionToken, error) {
	room = strings.TrimSpace(room)
	if room == "" {
		return nil, &ValidationError{Field: "room", Reason: "must not be empty"}
	}
	if ttl < 0 {
		return nil, &ValidationError{Field: "ttl", Reason: "must not be negative"}
	}

	value, err := newToken()
	if err != nil {
		return nil, err
	}

	now := c.now().UTC()
	token := &ProvisionToken{
		Token:     value,
		Room:      room,
		Status:    StatusPending,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
		UpdatedAt: now,
		QRPayload: QRPayload{
			Token:    value,
			MQTTHost: c.advertiseHost,
			MQTTPort: c.advertisePort,
			Topics:   c.topics.DeviceSet(c.site, room, placeholderDeviceID()),
		},
	}

	if err := c.repo.Create(ctx, token); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	c.logAction(ctx, value, audit.ActionCreated, "token issued for "+room, map[string]any{
		"room":       room,
		"ttl_second": int(ttl.Seconds()),
		"expires_at": token.ExpiresAt.Format(time.RFC3339),
	})
	c.emit(EventTokenIssued, token)

	return token, nil
}

// Claim processes one claim message against the token store and, on
// success, issues credentials and returns the ack.
//
// Replayed claims are permanently rejected: once a token leaves PENDING
// every later claim gets ErrAlreadyClaimed, however long ago the first
// claim happened. A bad claim attempt never changes the token.
func (c *Coordinator) Claim(ctx context.Context, msg ClaimMessage) (*AckMessage, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}

	token, err := c.repo.GetByToken(ctx, msg.Token)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	if token, err = c.expireIfNeeded(ctx, token); err != nil {
		return nil, err
	}
	if token.Status == StatusExpired {
		c.logRejected(ctx, token.Token, ReasonExpired, msg)
		return nil, ErrExpired
	}
	if token.Status != StatusPending {
		c.logRejected(ctx, token.Token, ReasonAlreadyClaimed, msg)
		return nil, ErrAlreadyClaimed
	}

	deviceID := deviceIDFor(msg.DeviceType)
	won, err := c.repo.MarkClaimed(ctx, token.Token, deviceID, c.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if !won {
		// Lost the race: some other transition got there first.
		current, err := c.repo.GetByToken(ctx, token.Token)
		if err == nil && current.Status == StatusExpired {
			c.logRejected(ctx, token.Token, ReasonExpired, msg)
			return nil, ErrExpired
		}
		c.logRejected(ctx, token.Token, ReasonAlreadyClaimed, msg)
		return nil, ErrAlreadyClaimed
	}

	topicSet := c.topics.DeviceSet(c.site, token.Room, deviceID)
	creds, err := c.issuer.Issue(ctx, deviceID, msg.DeviceType, topicGrants(topicSet))
	if err != nil {
		// Back out the claim so the token stays usable; the device
		// will retry on the at-least-once transport.
		if _, releaseErr := c.repo.ReleaseClaim(ctx, token.Token); releaseErr != nil {
			c.logger.Error("failed to release claim after credential failure",
				"token", token.Token, "error", releaseErr)
		}
		return nil, fmt.Errorf("%w: issuing credentials: %v", ErrPersistence, err)
	}

	c.logAction(ctx, token.Token, audit.ActionClaimed, "claimed by "+deviceID, map[string]any{
		"device_id":   deviceID,
		"device_type": msg.DeviceType,
		"ip_address":  msg.IPAddress,
		"battery":     msg.Battery,
		"signal":      msg.Signal,
	})
	token.Status = StatusClaimed
	token.DeviceID = deviceID
	c.emit(EventTokenClaimed, token)

	return &AckMessage{
		Token:    token.Token,
		Status:   ReplyStatusAck,
		DeviceID: deviceID,
		ClientID: creds.ClientID,
		Username: creds.Username,
		Password: creds.Password,
		Topics:   topicSet,
	}, nil
}

// ConfirmActive transitions a CLAIMED token to ACTIVE. It is a separate
// step from Claim, fired when the device's first telemetry publish is
// observed on its assigned topic: credentials issued and device
// confirmed reachable are different facts.
func (c *Coordinator) ConfirmActive(ctx context.Context, tokenValue string) error {
	token, err := c.repo.GetByToken(ctx, tokenValue)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	ok, err := c.repo.UpdateStatus(ctx, tokenValue, StatusClaimed, StatusActive)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if !ok {
		current, err := c.repo.GetByToken(ctx, tokenValue)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrPersistence, err)
		}
		return &InvalidStateError{Op: "activate", Status: current.Status}
	}

	c.logAction(ctx, tokenValue, audit.ActionActivated,
		"first telemetry observed from "+token.DeviceID,
		map[string]any{"device_id": token.DeviceID})
	token.Status = StatusActive
	c.emit(EventTokenActivated, token)

	return nil
}

// ActivateDevice confirms the token bound to a device, keyed by the
// device identity a telemetry observer sees on the wire. Already-ACTIVE
// tokens are a no-op so observers can call this on every telemetry tick
// without tracking which devices they have seen.
func (c *Coordinator) ActivateDevice(ctx context.Context, deviceID string) error {
	token, err := c.repo.GetByDeviceID(ctx, deviceID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	switch token.Status {
	case StatusActive:
		return nil
	case StatusClaimed:
		return c.ConfirmActive(ctx, token.Token)
	default:
		return &InvalidStateError{Op: "activate", Status: token.Status}
	}
}

// Cancel transitions a PENDING or CLAIMED token to CANCELLED. From any
// other status it fails with InvalidStateError naming the blocking
// status. A cancelled token is un-claimable forever.
func (c *Coordinator) Cancel(ctx context.Context, tokenValue string) (*ProvisionToken, error) {
	token, err := c.repo.GetByToken(ctx, tokenValue)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	if token, err = c.expireIfNeeded(ctx, token); err != nil {
		return nil, err
	}

	for _, from := range []TokenStatus{StatusPending, StatusClaimed} {
		ok, err := c.repo.UpdateStatus(ctx, tokenValue, from, StatusCancelled)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
		}
		if ok {
			c.logAction(ctx, tokenValue, audit.ActionCancelled, "cancelled by operator", nil)
			token.Status = StatusCancelled
			c.emit(EventTokenCancelled, token)
			return token, nil
		}
	}

	current, err := c.repo.GetByToken(ctx, tokenValue)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return nil, &InvalidStateError{Op: "cancel", Status: current.Status}
}

// SoftDelete marks a token DELETED from any non-DELETED state, recording
// who asked. The row and all of its provision log entries survive.
func (c *Coordinator) SoftDelete(ctx context.Context, tokenValue, requesterID string) error {
	if strings.TrimSpace(requesterID) == "" {
		return &ValidationError{Field: "requesterId", Reason: "must not be empty"}
	}

	token, err := c.repo.GetByToken(ctx, tokenValue)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	ok, err := c.repo.SoftDelete(ctx, tokenValue)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if !ok {
		return &InvalidStateError{Op: "delete", Status: StatusDeleted}
	}

	c.logAction(ctx, tokenValue, audit.ActionDeleted, "deleted by "+requesterID,
		map[string]any{"requester_id": requesterID})
	token.Status = StatusDeleted
	c.emit(EventTokenDeleted, token)

	return nil
}

// GetToken returns one token, applying lazy expiry on the way out.
func (c *Coordinator) GetToken(ctx context.Context, tokenValue string) (*ProvisionToken, error) {
	token, err := c.repo.GetByToken(ctx, tokenValue)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return c.expireIfNeeded(ctx, token)
}

// ListHistory returns tokens matching the filter. PENDING tokens whose
// deadline has passed are persisted as EXPIRED before the result is
// returned, so a listing never shows a claimable token that is not.
func (c *Coordinator) ListHistory(ctx context.Context, filter ListFilter) (*ListResult, error) {
	result, err := c.repo.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	now := c.now().UTC()
	for i := range result.Tokens {
		if !result.Tokens[i].Expired(now) {
			continue
		}
		updated, err := c.expireIfNeeded(ctx, &result.Tokens[i])
		if err != nil {
			return nil, err
		}
		result.Tokens[i] = *updated
	}

	return result, nil
}

// History returns the append-only provision log for a token.
func (c *Coordinator) History(ctx context.Context, tokenValue string) ([]audit.Entry, error) {
	if _, err := c.repo.GetByToken(ctx, tokenValue); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	entries, err := c.audit.ListByToken(ctx, tokenValue)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return entries, nil
}

// expireIfNeeded persists EXPIRED for an overdue PENDING token. The CAS
// means only the first observer records the transition; later observers
// just see the already-expired row.
func (c *Coordinator) expireIfNeeded(ctx context.Context, token *ProvisionToken) (*ProvisionToken, error) {
	if !token.Expired(c.now().UTC()) {
		return token, nil
	}

	ok, err := c.repo.UpdateStatus(ctx, token.Token, StatusPending, StatusExpired)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if ok {
		c.logAction(ctx, token.Token, audit.ActionExpired, "deadline passed", map[string]any{
			"expires_at": token.ExpiresAt.Format(time.RFC3339),
		})
		token.Status = StatusExpired
		c.emit(EventTokenExpired, token)
		return token, nil
	}

	// Someone else transitioned it first; re-read for the truth.
	current, err := c.repo.GetByToken(ctx, token.Token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return current, nil
}

// handleClaimMessage is the subscription handler for the shared request
// topic. It maps claim outcomes onto the wire protocol: ack or reject on
// the claimant's reply topic. Internal failures produce no reply at all;
// the transport is at-least-once, so the device retries.
func (c *Coordinator) handleClaimMessage(topic string, payload []byte) error {
	var msg ClaimMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		c.logger.Warn("discarding malformed claim payload", "error", err)
		return nil
	}

	ack, err := c.Claim(context.Background(), msg)
	if err == nil {
		return c.reply(msg.ReplyTopic, ack)
	}

	reason := rejectReason(err)
	if reason == "" {
		c.logger.Error("claim failed", "token", msg.Token, "error", err)
		return nil
	}
	if msg.ReplyTopic == "" || strings.ContainsAny(msg.ReplyTopic, "+#") {
		c.logger.Warn("rejecting claim with no usable reply topic",
			"token", msg.Token, "reason", reason)
		return nil
	}

	c.logger.Info("claim rejected", "token", msg.Token, "reason", reason)
	return c.reply(msg.ReplyTopic, RejectMessage{
		Token:  msg.Token,
		Status: ReplyStatusReject,
		Reason: reason,
	})
}

func (c *Coordinator) reply(topic string, msg any) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshalling claim reply: %w", err)
	}
	if err := c.transport.Publish(topic, payload, c.transport.DefaultQoS(), false); err != nil {
		return fmt.Errorf("publishing claim reply: %w", err)
	}
	return nil
}

// rejectReason maps a claim error to its wire reason code. Empty means
// the error is internal and must not be echoed to the claimant.
func rejectReason(err error) string {
	var vErr *ValidationError
	switch {
	case errors.Is(err, ErrNotFound):
		return ReasonNotFound
	case errors.Is(err, ErrExpired):
		return ReasonExpired
	case errors.Is(err, ErrAlreadyClaimed):
		return ReasonAlreadyClaimed
	case errors.As(err, &vErr):
		return ReasonInvalid
	}
	return ""
}

// logRejected records a failed claim attempt against an existing token.
// Attempts against unknown tokens have no row to attach an entry to, so
// ReasonNotFound rejections leave no trail beyond the reject reply.
func (c *Coordinator) logRejected(ctx context.Context, token, reason string, msg ClaimMessage) {
	c.logAction(ctx, token, audit.ActionRejected, "claim rejected: "+reason, map[string]any{
		"reason":      reason,
		"device_type": msg.DeviceType,
		"ip_address":  msg.IPAddress,
	})
}

func (c *Coordinator) logAction(ctx context.Context, token, action, message string, metadata map[string]any) {
	entry := &audit.Entry{
		Token:    token,
		Action:   action,
		Message:  message,
		Metadata: metadata,
	}
	if err := c.audit.Append(ctx, entry); err != nil {
		// The provision log is best-effort relative to the transition
		// itself, which has already committed.
		c.logger.Error("failed to append provision log", "token", token,
			"action", action, "error", err)
	}
}

func (c *Coordinator) emit(eventType EventType, token *ProvisionToken) {
	c.events.Emit(Event{
		Type:      eventType,
		Token:     token.Token,
		Room:      token.Room,
		DeviceID:  token.DeviceID,
		Status:    token.Status,
		Timestamp: c.now().UTC(),
	})
}
