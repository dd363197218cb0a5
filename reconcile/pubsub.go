package reconcile

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/billing_backend/config"
	"bitbucket.org/mmdatafocus/billing_backend/models"
	"bitbucket.org/mmdatafocus/billing_backend/utils"
	"github.com/gin-gonic/gin"
)

// SweepPubSubPayload is the message body for scheduler-driven sweeps.
type SweepPubSubPayload struct {
	SweepType   string    `json:"sweepType"`
	TriggeredBy string    `json:"triggeredBy,omitempty"`
	RequestedAt time.Time `json:"requestedAt"`
}

type PubSubPushEnvelope struct {
	Message struct {
		Data      []byte `json:"data"`
		MessageId string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

func sweepTopicName() string {
	topicName := strings.TrimSpace(os.Getenv("BILLING_SWEEP_TOPIC"))
	if topicName == "" {
		topicName = "billing-sweep"
	}
	return topicName
}

// PublishSweep enqueues a sweep request for the push subscriber. Used by
// the scheduler job so triggers survive service restarts.
func PublishSweep(ctx context.Context, sweepType string, triggeredBy string) error {
	payload := SweepPubSubPayload{
		SweepType:   sweepType,
		TriggeredBy: triggeredBy,
		RequestedAt: time.Now().UTC(),
	}
	_, err := config.PublishJSON(ctx, sweepTopicName(), payload)
	return err
}

// PubSubPushHandler accepts Cloud Pub/Sub push deliveries of sweep
// requests. Always 204: a non-2xx would make Pub/Sub redeliver, and a
// malformed message never becomes valid.
func PubSubPushHandler(engine *Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !envBoolDefault("ENABLE_BILLING_PUBSUB_PUSH_ENDPOINT", true) {
			c.Status(204)
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.Status(204)
			return
		}

		var envelope PubSubPushEnvelope
		if err := json.Unmarshal(body, &envelope); err != nil {
			c.Status(204)
			return
		}

		var payload SweepPubSubPayload
		if err := json.Unmarshal(envelope.Message.Data, &payload); err != nil {
			c.Status(204)
			return
		}

		ctx := utils.SetSweepTypeInContext(c.Request.Context(), payload.SweepType)
		if payload.TriggeredBy != "" {
			ctx = utils.SetTriggeredByInContext(ctx, payload.TriggeredBy)
		}

		switch payload.SweepType {
		case models.SyncRunTypeFullReconciliation:
			if _, err := engine.RunFullReconciliation(ctx); err != nil && engine.Logger != nil {
				config.LogError(engine.Logger, "reconcile", "PubSubPushHandler", "full reconciliation sweep", payload, err)
			}
		case models.SyncRunTypeWebhookRecovery:
			if _, err := engine.RunWebhookRecovery(ctx); err != nil && engine.Logger != nil {
				config.LogError(engine.Logger, "reconcile", "PubSubPushHandler", "webhook recovery sweep", payload, err)
			}
		}
		c.Status(204)
	}
}

func envBoolDefault(key string, def bool) bool {
	val := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch val {
	case "true", "1", "yes", "y", "on":
		return true
	case "false", "0", "no", "n", "off":
		return false
	default:
		return def
	}
}
