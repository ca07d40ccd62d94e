// Package notify pushes escalation alerts to a Matrix room so a
// coordinator sees needs-attention conversations without tailing logs.
// It is a pure bus subscriber; the pipeline never blocks on it.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/id"

	"github.com/herald-labs/herald/pkg/bus"
)

// Config holds Matrix notifier settings.
type Config struct {
	Homeserver string // e.g., https://matrix.example.com
	UserID     string // full user id, e.g., @herald:matrix.example.com
	Password   string
	RoomID     string // room receiving escalation alerts
}

// MatrixNotifier forwards escalation outcomes to a Matrix room.
type MatrixNotifier struct {
	config Config
	client *mautrix.Client
}

// NewMatrix creates a notifier. Login happens in Run so a slow homeserver
// cannot delay daemon startup.
func NewMatrix(cfg Config) *MatrixNotifier {
	return &MatrixNotifier{config: cfg}
}

// Run subscribes to the bus and relays escalations until ctx is
// cancelled. Send failures are logged and skipped — alerting is best
// effort, the escalation itself is already recorded in thread state.
func (n *MatrixNotifier) Run(ctx context.Context, b *bus.Bus) error {
	if err := n.login(ctx); err != nil {
		return err
	}

	events, done := b.Subscribe()
	defer b.Unsubscribe(done)

	slog.Info("matrix notifier running", "room", n.config.RoomID)
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-events:
			if !ok {
				return nil
			}
			if e.Type != bus.EventOutcome || e.Outcome == nil {
				continue
			}
			if e.Outcome.Action != "escalate" && e.Outcome.Action != "failed" {
				continue
			}
			n.send(ctx, formatAlert(e.Outcome))
		}
	}
}

func (n *MatrixNotifier) login(ctx context.Context) error {
	client, err := mautrix.NewClient(n.config.Homeserver, id.UserID(n.config.UserID), "")
	if err != nil {
		return fmt.Errorf("create matrix client: %w", err)
	}
	n.client = client

	_, err = client.Login(ctx, &mautrix.ReqLogin{
		Type: mautrix.AuthTypePassword,
		Identifier: mautrix.UserIdentifier{
			Type: mautrix.IdentifierTypeUser,
			User: n.config.UserID,
		},
		Password:         n.config.Password,
		StoreCredentials: true,
	})
	if err != nil {
		return fmt.Errorf("matrix login: %w", err)
	}
	slog.Info("matrix notifier logged in", "user", n.config.UserID)
	return nil
}

func (n *MatrixNotifier) send(ctx context.Context, text string) {
	_, err := n.client.SendText(ctx, id.RoomID(n.config.RoomID), text)
	if err != nil {
		slog.Warn("matrix alert send failed", "room", n.config.RoomID, "error", err)
	}
}

func formatAlert(o *bus.Outcome) string {
	switch o.Action {
	case "failed":
		return fmt.Sprintf("⚠️ delivery failed on thread %s: %s", o.ThreadID, o.Reason)
	default:
		return fmt.Sprintf("🔔 thread %s needs attention (%s) — message %s, intent %s",
			o.ThreadID, o.Reason, o.MessageID, o.Intent)
	}
}
