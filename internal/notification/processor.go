package notification

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/SubhanAlom009/clinic-queue-engine/internal/appointment"
)

// ContactDirectory resolves a patient's delivery addresses.
type ContactDirectory interface {
	GetPatientByID(ctx context.Context, id uuid.UUID) (*appointment.Patient, error)
}

// Processor drains the outbox: claims due messages, renders them and hands
// them to the channel's sender, recording the outcome. Multiple processors
// may run concurrently; claim exclusivity comes from the repository.
type Processor struct {
	repo         Repository
	contacts     ContactDirectory
	senders      map[Channel]Sender
	pollInterval time.Duration
	batchSize    int
	retryDelay   time.Duration
}

func NewProcessor(repo Repository, contacts ContactDirectory, senders map[Channel]Sender, pollInterval time.Duration, batchSize int) *Processor {
	return &Processor{
		repo:         repo,
		contacts:     contacts,
		senders:      senders,
		pollInterval: pollInterval,
		batchSize:    batchSize,
		retryDelay:   time.Minute,
	}
}

// Run polls until the context is canceled.
func (p *Processor) Run(ctx context.Context) {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	log.Printf("notification processor started interval=%s batch=%d", p.pollInterval, p.batchSize)

	for {
		select {
		case <-ctx.Done():
			log.Println("notification processor stopping")
			return
		case <-ticker.C:
			p.processBatch(ctx)
		}
	}
}

func (p *Processor) processBatch(ctx context.Context) {
	claimed, err := p.repo.ClaimPending(ctx, p.batchSize)
	if err != nil {
		log.Printf("claim notification messages: %v", err)
		return
	}

	for i := range claimed {
		p.deliver(ctx, &claimed[i])
	}
}

func (p *Processor) deliver(ctx context.Context, m *Message) {
	recipient, err := p.recipient(ctx, m)
	if err != nil {
		p.fail(ctx, m, err.Error())
		return
	}

	sender, ok := p.senders[m.Channel]
	if !ok {
		p.fail(ctx, m, fmt.Sprintf("no sender configured for channel %q", m.Channel))
		return
	}

	body := m.Render()
	if err := sender.Send(ctx, recipient, "Appointment update", body); err != nil {
		p.fail(ctx, m, err.Error())
		return
	}

	if err := p.repo.MarkSent(ctx, m.ID, body); err != nil {
		log.Printf("mark message %s sent: %v", m.ID, err)
		return
	}
	log.Printf("notification %s type=%s channel=%s sent", m.ID, m.Type, m.Channel)
}

// recipient resolves the patient contact for the message's channel and fills
// in the patient-facing variables the enqueuer could not know.
func (p *Processor) recipient(ctx context.Context, m *Message) (string, error) {
	patient, err := p.contacts.GetPatientByID(ctx, m.PatientID)
	if err != nil {
		return "", fmt.Errorf("resolve patient %s: %w", m.PatientID, err)
	}

	if m.Variables == nil {
		m.Variables = make(map[string]string)
	}
	if _, ok := m.Variables["patient_name"]; !ok {
		m.Variables["patient_name"] = patient.Name
	}

	switch m.Channel {
	case ChannelEmail:
		if patient.Email == nil || *patient.Email == "" {
			return "", fmt.Errorf("patient %s has no email address", m.PatientID)
		}
		return *patient.Email, nil
	case ChannelSMS:
		if patient.Phone == nil || *patient.Phone == "" {
			return "", fmt.Errorf("patient %s has no phone number", m.PatientID)
		}
		return *patient.Phone, nil
	default:
		return "", fmt.Errorf("unknown channel %q", m.Channel)
	}
}

func (p *Processor) fail(ctx context.Context, m *Message, msg string) {
	if err := p.repo.MarkFailed(ctx, m.ID, msg, p.retryDelay); err != nil {
		log.Printf("mark message %s failed: %v", m.ID, err)
		return
	}
	if m.Attempts+1 >= m.MaxAttempts {
		log.Printf("notification %s failed permanently after %d attempts: %s", m.ID, m.Attempts+1, msg)
	} else {
		log.Printf("notification %s failed (attempt %d/%d): %s", m.ID, m.Attempts+1, m.MaxAttempts, msg)
	}
}
