// Package notifier delivers availability alerts: when a tracked domain
// transitions from registered to available, the pipeline enqueues an Event
// here and moves on. Delivery is asynchronous and best-effort — an in-app
// notification row, a websocket broadcast, an ntfy push, and optionally an
// email. A full queue drops events rather than blocking a batch flush; the
// next scheduled scan re-detects the state.
package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/piowaw/domainalert/internal/db"
	"github.com/piowaw/domainalert/internal/metrics"
	"github.com/piowaw/domainalert/internal/repositories"
	"github.com/piowaw/domainalert/internal/ws"
)

// defaultQueueSize bounds the event backlog between flush and delivery.
const defaultQueueSize = 1024

// Event is one observed registered→available transition.
type Event struct {
	DomainID   int64
	Name       string
	UserID     uuid.UUID // domain owner; uuid.Nil when the owner is unknown
	ObservedAt time.Time
}

// NtfyConfig holds the push channel configuration. Empty values disable it.
type NtfyConfig struct {
	Server string
	Topic  string
}

// Config assembles a notifier Service.
type Config struct {
	NotifRepo repositories.NotificationRepository
	UserRepo  repositories.UserRepository
	Hub       *ws.Hub
	Ntfy      NtfyConfig
	SMTP      SMTPConfig
	Logger    *zap.Logger

	// QueueSize overrides the event backlog capacity; 0 means the default.
	QueueSize int
}

// Service consumes availability events and fans them out to all channels.
type Service struct {
	events    chan Event
	notifRepo repositories.NotificationRepository
	userRepo  repositories.UserRepository
	hub       *ws.Hub
	ntfy      *ntfySender
	email     *emailSender
	logger    *zap.Logger
}

// NewService wires the senders from static configuration. Call Run in a
// goroutine to start delivery.
func NewService(cfg Config) *Service {
	size := cfg.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}
	return &Service{
		events:    make(chan Event, size),
		notifRepo: cfg.NotifRepo,
		userRepo:  cfg.UserRepo,
		hub:       cfg.Hub,
		ntfy:      newNtfySender(cfg.Ntfy.Server, cfg.Ntfy.Topic),
		email:     newEmailSender(cfg.SMTP),
		logger:    cfg.Logger.Named("notifier"),
	}
}

// Enqueue hands an event to the delivery loop without blocking. When the
// backlog is full the event is dropped and counted; the flush that produced
// it must never stall on notification delivery.
func (s *Service) Enqueue(ev Event) {
	select {
	case s.events <- ev:
	default:
		metrics.NotificationSends.WithLabelValues("queue", "dropped").Inc()
		s.logger.Warn("notification backlog full, dropping event",
			zap.String("name", ev.Name))
	}
}

// Run consumes the event queue until ctx is cancelled. Events still queued
// at shutdown are abandoned; the next scan re-detects their state.
func (s *Service) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.events:
			s.deliver(ctx, ev)
		}
	}
}

// deliver fans one event out to every channel. Channels are independent:
// one failing is logged and counted without suppressing the others.
func (s *Service) deliver(ctx context.Context, ev Event) {
	title := fmt.Sprintf("Domain available: %s", ev.Name)
	body := fmt.Sprintf("%s is no longer registered as of %s and may be available for registration.",
		ev.Name, ev.ObservedAt.UTC().Format(time.RFC3339))

	s.hub.Publish("availability", ws.Message{
		Type:  ws.MsgAvailability,
		Topic: "availability",
		Payload: map[string]any{
			"domain_id":   ev.DomainID,
			"name":        ev.Name,
			"observed_at": ev.ObservedAt.UTC().Format(time.RFC3339),
		},
	})

	if ev.UserID != uuid.Nil {
		s.persistInApp(ctx, ev, title, body)
	}

	if err := s.ntfy.Send(ctx, title, ev.Name); err != nil {
		if err != ErrNotConfigured {
			metrics.NotificationSends.WithLabelValues("ntfy", "error").Inc()
			s.logger.Warn("ntfy delivery failed",
				zap.String("name", ev.Name),
				zap.Error(err))
		}
	} else {
		metrics.NotificationSends.WithLabelValues("ntfy", "ok").Inc()
	}

	s.sendEmail(ctx, ev, title, body)
}

func (s *Service) persistInApp(ctx context.Context, ev Event, title, body string) {
	payload, err := json.Marshal(map[string]any{
		"domain_id": ev.DomainID,
		"name":      ev.Name,
	})
	if err != nil {
		s.logger.Error("failed to marshal notification payload", zap.Error(err))
		return
	}

	n := &db.Notification{
		UserID:  ev.UserID,
		Type:    "domain_available",
		Title:   title,
		Body:    body,
		Payload: string(payload),
	}
	if err := s.notifRepo.Create(ctx, n); err != nil {
		metrics.NotificationSends.WithLabelValues("inapp", "error").Inc()
		s.logger.Error("failed to persist notification",
			zap.String("user_id", ev.UserID.String()),
			zap.String("name", ev.Name),
			zap.Error(err))
		return
	}
	metrics.NotificationSends.WithLabelValues("inapp", "ok").Inc()

	topic := fmt.Sprintf("notifications:%s", ev.UserID)
	s.hub.Publish(topic, ws.Message{
		Type:  ws.MsgNotification,
		Topic: topic,
		Payload: map[string]any{
			"id":         n.ID.String(),
			"type":       n.Type,
			"title":      n.Title,
			"body":       n.Body,
			"created_at": n.CreatedAt.UTC().Format(time.RFC3339),
		},
	})
}

func (s *Service) sendEmail(ctx context.Context, ev Event, title, body string) {
	if ev.UserID == uuid.Nil {
		return
	}
	user, err := s.userRepo.GetByID(ctx, ev.UserID)
	if err != nil {
		// The owner may have been deleted since the domain was added.
		s.logger.Debug("skipping email, owner not resolvable",
			zap.String("user_id", ev.UserID.String()),
			zap.Error(err))
		return
	}

	if err := s.email.Send([]string{user.Email}, title, body); err != nil {
		if err != ErrNotConfigured {
			metrics.NotificationSends.WithLabelValues("email", "error").Inc()
			s.logger.Warn("email delivery failed",
				zap.String("name", ev.Name),
				zap.Error(err))
		}
		return
	}
	metrics.NotificationSends.WithLabelValues("email", "ok").Inc()
}
