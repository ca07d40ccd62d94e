package daemon

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/herald-labs/herald/pkg/bus"
	"github.com/herald-labs/herald/pkg/intent"
)

// webhookEnvelope is the normalized payload the Email Provider Service
// posts for inbox activity. Field presence varies by event type.
type webhookEnvelope struct {
	Type             string `json:"type"`
	SenderEmail      string `json:"sender_email"`
	RecipientEmail   string `json:"recipient_email"`
	MessageContent   string `json:"message_content"`
	MessageID        string `json:"message_id"`
	ThreadID         string `json:"thread_id"`
	Subject          string `json:"subject"`
	CampaignID       string `json:"campaign_id"`
	RequiresResponse bool   `json:"requires_response"`
}

// webhookResponse is the JSON reply for /v1/webhook.
type webhookResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// handleWebhook routes provider events. Unknown event types are accepted
// and ignored so the provider never retries them.
func (d *Daemon) handleWebhook(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		json.NewEncoder(w).Encode(webhookResponse{Success: false, Message: "method not allowed"})
		return
	}

	var env webhookEnvelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(webhookResponse{Success: false, Message: fmt.Sprintf("invalid payload: %v", err)})
		return
	}

	ctx := r.Context()
	var resp webhookResponse

	switch env.Type {
	case "email_received":
		if !env.RequiresResponse {
			resp = webhookResponse{Success: true, Message: "received, no response required"}
			break
		}
		if env.ThreadID == "" || env.SenderEmail == "" {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(webhookResponse{Success: false, Message: "email_received requires thread_id and sender_email"})
			return
		}
		outcome, err := d.pipeline.Process(ctx, Inbound{
			MessageID:  env.MessageID,
			ThreadID:   env.ThreadID,
			Sender:     env.SenderEmail,
			Subject:    env.Subject,
			Content:    env.MessageContent,
			CampaignID: env.CampaignID,
		})
		if err != nil {
			slog.Error("webhook pipeline error", "thread", env.ThreadID, "error", err)
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(webhookResponse{Success: false, Message: "processing failed"})
			return
		}
		resp = webhookResponse{
			Success: true,
			Message: fmt.Sprintf("processed: %s", outcome.Action),
			Details: outcome,
		}

	case "email_reply":
		sentiment := intent.Classify(env.MessageContent)
		if env.CampaignID != "" {
			if err := d.campaigns.RecordReply(ctx, env.CampaignID, env.SenderEmail, string(sentiment)); err != nil {
				slog.Warn("record campaign reply", "campaign", env.CampaignID, "error", err)
			}
		}
		d.events.Publish(bus.Event{
			Type:    bus.EventStatus,
			Message: fmt.Sprintf("campaign reply recorded: campaign=%s sentiment=%s", env.CampaignID, sentiment),
		})
		resp = webhookResponse{
			Success: true,
			Message: "reply recorded",
			Details: map[string]string{"sentiment": string(sentiment)},
		}

	case "email_opened":
		if env.CampaignID != "" {
			if err := d.campaigns.RecordOpen(ctx, env.CampaignID); err != nil {
				slog.Warn("record campaign open", "campaign", env.CampaignID, "error", err)
			}
		}
		resp = webhookResponse{Success: true, Message: "open recorded"}

	default:
		slog.Debug("ignoring webhook event", "type", env.Type)
		resp = webhookResponse{Success: true, Message: fmt.Sprintf("ignored event type %q", env.Type)}
	}

	json.NewEncoder(w).Encode(resp)
}
