package notifier

import (
	"context"
	"fmt"
	"regexp"
	"time"

	firebase "firebase.google.com/go"
	"firebase.google.com/go/messaging"
	"google.golang.org/api/option"

	"github.com/remindly/core/internal/domain/entities"
	"github.com/remindly/core/internal/infrastructure/config"
	"github.com/remindly/core/internal/infrastructure/logger"
	"github.com/remindly/core/internal/ports"
)

var topicUnsafe = regexp.MustCompile(`[^a-zA-Z0-9\-_.~%]`)

type messageSender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// FCM pushes reminders through Firebase Cloud Messaging. Each owner's
// devices subscribe to the owner's topic.
type FCM struct {
	client      messageSender
	topicPrefix string
	logger      *logger.Logger
}

// NewFCM initializes a Firebase app from the configured service account
func NewFCM(ctx context.Context, cfg config.NotifierConfig, logger *logger.Logger) (*FCM, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	var fbConfig *firebase.Config
	if cfg.ProjectID != "" {
		fbConfig = &firebase.Config{ProjectID: cfg.ProjectID}
	}

	app, err := firebase.NewApp(ctx, fbConfig, opts...)
	if err != nil {
		return nil, fmt.Errorf("error initializing firebase app: %w", err)
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting messaging client: %w", err)
	}

	return newFCM(client, cfg.TopicPrefix, logger), nil
}

func newFCM(client messageSender, topicPrefix string, logger *logger.Logger) *FCM {
	return &FCM{
		client:      client,
		topicPrefix: topicPrefix,
		logger:      logger.WithComponent("fcm"),
	}
}

func (n *FCM) Deliver(ctx context.Context, occ *entities.Occurrence) error {
	msg := n.message(occ)

	id, err := n.client.Send(ctx, msg)
	if err != nil {
		return classifyFCM(err)
	}

	n.logger.Debugw("Push sent", "occurrence_id", occ.ID, "message_id", id, "topic", msg.Topic)
	return nil
}

// Topic returns the FCM topic an owner's devices subscribe to
func (n *FCM) Topic(ownerID string) string {
	return n.topicPrefix + topicUnsafe.ReplaceAllString(ownerID, "_")
}

func (n *FCM) message(occ *entities.Occurrence) *messaging.Message {
	ttl := time.Hour
	return &messaging.Message{
		Topic: n.Topic(occ.OwnerID),
		Notification: &messaging.Notification{
			Title: "Reminder",
			Body:  occ.Title,
		},
		Data: map[string]string{
			"occurrence_id": occ.ID.String(),
			"reminder_id":   occ.ReminderID.String(),
			"scheduled_at":  occ.ScheduledAt.UTC().Format(time.RFC3339),
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
			TTL:      &ttl,
		},
	}
}

func classifyFCM(err error) error {
	switch {
	case messaging.IsInvalidArgument(err),
		messaging.IsMismatchedCredential(err),
		messaging.IsRegistrationTokenNotRegistered(err),
		messaging.IsInvalidAPNSCredentials(err):
		return entities.Permanent("deliver", err)
	default:
		// Unavailable, internal, quota and transport errors.
		return entities.Transient("deliver", err)
	}
}

var _ ports.Notifier = (*FCM)(nil)
