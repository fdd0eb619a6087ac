package notification

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/SubhanAlom009/clinic-queue-engine/internal/appointment"
)

// ETANotifier turns propagation ETA shifts into outbox messages. It is the
// glue between the propagation engine and the durable outbox.
type ETANotifier struct {
	repo        Repository
	channel     Channel
	maxAttempts int
	now         func() time.Time
}

func NewETANotifier(repo Repository, channel Channel, maxAttempts int) *ETANotifier {
	return &ETANotifier{
		repo:        repo,
		channel:     channel,
		maxAttempts: maxAttempts,
		now:         time.Now,
	}
}

func (n *ETANotifier) NotifyETAChange(ctx context.Context, c appointment.ETAChange) error {
	now := n.now()
	m := &Message{
		ID:            uuid.New(),
		AppointmentID: c.AppointmentID,
		PatientID:     c.PatientID,
		Type:          TypeETAUpdate,
		Channel:       n.channel,
		Template:      ETAUpdateTemplate,
		Variables: map[string]string{
			"old_eta":       c.OldETA.Format("15:04"),
			"new_eta":       c.NewETA.Format("15:04"),
			"delay_minutes": strconv.Itoa(int(c.Delay.Round(time.Minute) / time.Minute)),
		},
		ScheduledFor:   now,
		DeliveryStatus: StatusPending,
		MaxAttempts:    n.maxAttempts,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := n.repo.Enqueue(ctx, m); err != nil {
		return fmt.Errorf("enqueue eta update: %w", err)
	}
	return nil
}
