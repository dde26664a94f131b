package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"github.com/rs/zerolog"

	"github.com/airpulse/airpulse/internal/airquality"
)

// Job types accepted on the refresh subscription.
const (
	JobTypeRefresh     = "aq_refresh"
	JobTypeHealthCheck = "health_check"
)

// PubSubHandler triggers refresh runs from Pub/Sub messages.
type PubSubHandler struct {
	client           *pubsub.Client
	subscriber       *pubsub.Subscriber
	subscriptionName string
	refreshJob       *RefreshJob
	logger           zerolog.Logger
}

// PubSubConfig holds configuration for the Pub/Sub handler.
type PubSubConfig struct {
	ProjectID        string
	SubscriptionName string
	RefreshJob       *RefreshJob
	Logger           zerolog.Logger
}

// RefreshMessage is the payload of a refresh trigger.
type RefreshMessage struct {
	JobType string `json:"job_type"`

	// Points restricts the run to these coordinates. Empty refreshes every
	// configured target.
	Points []MessagePoint `json:"points,omitempty"`
}

// MessagePoint is a coordinate in a RefreshMessage.
type MessagePoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// NewPubSubHandler creates a new Pub/Sub handler.
func NewPubSubHandler(ctx context.Context, cfg PubSubConfig) (*PubSubHandler, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	subscriber := client.Subscriber(cfg.SubscriptionName)
	subscriber.ReceiveSettings.MaxOutstandingMessages = 10
	subscriber.ReceiveSettings.MaxExtension = 10 * time.Minute

	return &PubSubHandler{
		client:           client,
		subscriber:       subscriber,
		subscriptionName: cfg.SubscriptionName,
		refreshJob:       cfg.RefreshJob,
		logger:           cfg.Logger,
	}, nil
}

// Start processes messages until ctx is done.
func (h *PubSubHandler) Start(ctx context.Context) error {
	h.logger.Info().
		Str("subscription", h.subscriptionName).
		Msg("starting pubsub handler")

	return h.subscriber.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		logger := h.logger.With().
			Str("message_id", msg.ID).
			Str("publish_time", msg.PublishTime.Format(time.RFC3339)).
			Logger()

		if err := HandleMessage(ctx, h.refreshJob, logger, msg.Data); err != nil {
			logger.Error().Err(err).Msg("job failed")
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

// Close closes the Pub/Sub client.
func (h *PubSubHandler) Close() error {
	return h.client.Close()
}

// HandleMessage runs the job described by data. Unknown job types are
// logged and acknowledged; malformed payloads and mostly failed runs
// return an error so the message is redelivered.
func HandleMessage(ctx context.Context, job *RefreshJob, logger zerolog.Logger, data []byte) error {
	startTime := time.Now()

	var msg RefreshMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("parse message: %w", err)
	}

	var result *RefreshResult
	switch msg.JobType {
	case JobTypeRefresh:
		points := make([]airquality.Coordinate, 0, len(msg.Points))
		for _, p := range msg.Points {
			c := airquality.Coordinate{Lat: p.Lat, Lon: p.Lon}
			if err := c.Validate(); err != nil {
				logger.Warn().Float64("lat", p.Lat).Float64("lon", p.Lon).Msg("skipping invalid point")
				continue
			}
			points = append(points, c)
		}
		if len(msg.Points) > 0 {
			result = job.RunPoints(ctx, points)
		} else {
			result = job.Run(ctx)
		}
	case JobTypeHealthCheck:
		// a single point is enough to probe the providers
		probe := job.config.AllPoints()
		if len(probe) > 0 {
			probe = probe[:1]
		}
		result = job.RunPoints(ctx, probe)
	default:
		logger.Warn().Str("job_type", msg.JobType).Msg("unknown job type")
		return nil
	}

	if result.Failed > result.Successful {
		return fmt.Errorf("too many refresh failures: %d/%d", result.Failed, result.TotalPoints)
	}

	logger.Info().
		Str("job_type", msg.JobType).
		Dur("duration", time.Since(startTime)).
		Int("degraded", result.Degraded).
		Msg("job completed successfully")
	return nil
}
