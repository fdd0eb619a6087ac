package notification

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type DeliveryStatus string

const (
	StatusPending    DeliveryStatus = "PENDING"
	StatusProcessing DeliveryStatus = "PROCESSING"
	StatusSent       DeliveryStatus = "SENT"
	StatusFailed     DeliveryStatus = "FAILED"
)

type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

const (
	TypeETAUpdate = "ETA_UPDATE"
)

// ETAUpdateTemplate is the outbound message for a significant ETA shift.
const ETAUpdateTemplate = "Hello {{patient_name}}, the estimated start of your appointment moved from {{old_eta}} to {{new_eta}} (about {{delay_minutes}} minutes). Sorry for the wait."

type Message struct {
	ID            uuid.UUID
	AppointmentID uuid.UUID
	PatientID     uuid.UUID

	Type      string
	Channel   Channel
	Template  string
	Variables map[string]string

	ScheduledFor   time.Time
	DeliveryStatus DeliveryStatus
	Attempts       int
	MaxAttempts    int
	LastError      *string
	RenderedBody   *string
	SentAt         *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Render substitutes {{name}} placeholders in the template with the
// message's variables. Unknown placeholders are left as-is.
func (m *Message) Render() string {
	body := m.Template
	for name, value := range m.Variables {
		body = strings.ReplaceAll(body, "{{"+name+"}}", value)
	}
	return body
}
