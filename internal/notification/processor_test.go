package notification

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SubhanAlom009/clinic-queue-engine/internal/appointment"
)

type fakeDirectory struct {
	patients map[uuid.UUID]*appointment.Patient
}

func (f *fakeDirectory) GetPatientByID(_ context.Context, id uuid.UUID) (*appointment.Patient, error) {
	p, ok := f.patients[id]
	if !ok {
		return nil, appointment.ErrPatientNotFound
	}
	return p, nil
}

type fakeSender struct {
	recipients []string
	bodies     []string
	err        error
}

func (f *fakeSender) Send(_ context.Context, recipient, _ string, body string) error {
	if f.err != nil {
		return f.err
	}
	f.recipients = append(f.recipients, recipient)
	f.bodies = append(f.bodies, body)
	return nil
}

func strPtr(s string) *string { return &s }

func etaMessage(patientID uuid.UUID, channel Channel) *Message {
	now := time.Now().Add(-time.Minute)
	return &Message{
		ID:            uuid.New(),
		AppointmentID: uuid.New(),
		PatientID:     patientID,
		Type:          TypeETAUpdate,
		Channel:       channel,
		Template:      ETAUpdateTemplate,
		Variables: map[string]string{
			"old_eta":       "09:15",
			"new_eta":       "09:30",
			"delay_minutes": "15",
		},
		ScheduledFor:   now,
		DeliveryStatus: StatusPending,
		MaxAttempts:    3,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func TestMessage_Render(t *testing.T) {
	t.Parallel()

	m := &Message{
		Template: ETAUpdateTemplate,
		Variables: map[string]string{
			"patient_name":  "Asha Verma",
			"old_eta":       "09:15",
			"new_eta":       "09:30",
			"delay_minutes": "15",
		},
	}

	body := m.Render()
	assert.Equal(t, "Hello Asha Verma, the estimated start of your appointment moved from 09:15 to 09:30 (about 15 minutes). Sorry for the wait.", body)
}

func TestMessage_RenderLeavesUnknownPlaceholders(t *testing.T) {
	t.Parallel()

	m := &Message{Template: "Hi {{patient_name}}", Variables: map[string]string{}}
	assert.Equal(t, "Hi {{patient_name}}", m.Render())
}

func TestETANotifier(t *testing.T) {
	t.Parallel()

	repo := NewMemoryRepository()
	notifier := NewETANotifier(repo, ChannelSMS, 3)

	change := appointment.ETAChange{
		AppointmentID: uuid.New(),
		PatientID:     uuid.New(),
		OldETA:        time.Date(2026, 3, 2, 9, 15, 0, 0, time.UTC),
		NewETA:        time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC),
		Delay:         15 * time.Minute,
	}
	require.NoError(t, notifier.NotifyETAChange(context.Background(), change))

	all := repo.All()
	require.Len(t, all, 1)
	m := all[0]
	assert.Equal(t, TypeETAUpdate, m.Type)
	assert.Equal(t, ChannelSMS, m.Channel)
	assert.Equal(t, StatusPending, m.DeliveryStatus)
	assert.Equal(t, 3, m.MaxAttempts)
	assert.Equal(t, "09:15", m.Variables["old_eta"])
	assert.Equal(t, "09:30", m.Variables["new_eta"])
	assert.Equal(t, "15", m.Variables["delay_minutes"])
}

func TestProcessor_DeliversEmail(t *testing.T) {
	t.Parallel()

	repo := NewMemoryRepository()
	patientID := uuid.New()
	directory := &fakeDirectory{patients: map[uuid.UUID]*appointment.Patient{
		patientID: {ID: patientID, Name: "Asha Verma", Email: strPtr("asha@example.com")},
	}}
	sender := &fakeSender{}

	p := NewProcessor(repo, directory, map[Channel]Sender{ChannelEmail: sender}, time.Minute, 10)

	m := etaMessage(patientID, ChannelEmail)
	require.NoError(t, repo.Enqueue(context.Background(), m))

	p.processBatch(context.Background())

	require.Len(t, sender.recipients, 1)
	assert.Equal(t, "asha@example.com", sender.recipients[0])
	assert.Contains(t, sender.bodies[0], "Asha Verma")
	assert.Contains(t, sender.bodies[0], "09:30")

	stored, _ := repo.Get(m.ID)
	assert.Equal(t, StatusSent, stored.DeliveryStatus)
	assert.Equal(t, 1, stored.Attempts)
	require.NotNil(t, stored.SentAt)
	require.NotNil(t, stored.RenderedBody)
}

func TestProcessor_SendFailureRetriesThenFails(t *testing.T) {
	t.Parallel()

	repo := NewMemoryRepository()
	clock := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	repo.SetClock(func() time.Time { return clock })

	patientID := uuid.New()
	directory := &fakeDirectory{patients: map[uuid.UUID]*appointment.Patient{
		patientID: {ID: patientID, Name: "Asha Verma", Phone: strPtr("+15550100")},
	}}
	sender := &fakeSender{err: errors.New("gateway unreachable")}

	p := NewProcessor(repo, directory, map[Channel]Sender{ChannelSMS: sender}, time.Minute, 10)

	m := etaMessage(patientID, ChannelSMS)
	m.ScheduledFor = clock.Add(-time.Minute)
	require.NoError(t, repo.Enqueue(context.Background(), m))

	// First two attempts go back to PENDING with a delay.
	for attempt := 1; attempt < m.MaxAttempts; attempt++ {
		p.processBatch(context.Background())

		stored, _ := repo.Get(m.ID)
		assert.Equal(t, StatusPending, stored.DeliveryStatus)
		assert.Equal(t, attempt, stored.Attempts)
		require.NotNil(t, stored.LastError)

		clock = clock.Add(5 * time.Minute)
	}

	// The last attempt pins the message FAILED.
	p.processBatch(context.Background())

	stored, _ := repo.Get(m.ID)
	assert.Equal(t, StatusFailed, stored.DeliveryStatus)
	assert.Equal(t, m.MaxAttempts, stored.Attempts)

	// Exhausted messages are not claimed again.
	claimed, err := repo.ClaimPending(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, claimed)
}

func TestProcessor_MissingContactFails(t *testing.T) {
	t.Parallel()

	repo := NewMemoryRepository()
	patientID := uuid.New()
	directory := &fakeDirectory{patients: map[uuid.UUID]*appointment.Patient{
		patientID: {ID: patientID, Name: "Asha Verma"}, // no email on file
	}}
	sender := &fakeSender{}

	p := NewProcessor(repo, directory, map[Channel]Sender{ChannelEmail: sender}, time.Minute, 10)

	m := etaMessage(patientID, ChannelEmail)
	require.NoError(t, repo.Enqueue(context.Background(), m))

	p.processBatch(context.Background())

	assert.Empty(t, sender.recipients)
	stored, _ := repo.Get(m.ID)
	assert.Equal(t, 1, stored.Attempts)
	require.NotNil(t, stored.LastError)
	assert.Contains(t, *stored.LastError, "no email address")
}

func TestProcessor_UnknownPatientFails(t *testing.T) {
	t.Parallel()

	repo := NewMemoryRepository()
	directory := &fakeDirectory{patients: map[uuid.UUID]*appointment.Patient{}}
	p := NewProcessor(repo, directory, map[Channel]Sender{ChannelEmail: &fakeSender{}}, time.Minute, 10)

	m := etaMessage(uuid.New(), ChannelEmail)
	require.NoError(t, repo.Enqueue(context.Background(), m))

	p.processBatch(context.Background())

	stored, _ := repo.Get(m.ID)
	require.NotNil(t, stored.LastError)
	assert.Contains(t, *stored.LastError, "resolve patient")
}

func TestMemoryRepository_PurgeTerminal(t *testing.T) {
	t.Parallel()

	repo := NewMemoryRepository()
	clock := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	repo.SetClock(func() time.Time { return clock })

	sent := etaMessage(uuid.New(), ChannelEmail)
	require.NoError(t, repo.Enqueue(context.Background(), sent))
	require.NoError(t, repo.MarkSent(context.Background(), sent.ID, "body"))

	pending := etaMessage(uuid.New(), ChannelEmail)
	require.NoError(t, repo.Enqueue(context.Background(), pending))

	n, err := repo.PurgeTerminal(context.Background(), clock.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, ok := repo.Get(sent.ID)
	assert.False(t, ok)
	_, ok = repo.Get(pending.ID)
	assert.True(t, ok, "pending messages survive the purge")
}
