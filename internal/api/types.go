package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/SubhanAlom009/clinic-queue-engine/internal/appointment"
	"github.com/SubhanAlom009/clinic-queue-engine/internal/job"
)

// Response is the envelope every endpoint returns.
type Response struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorBody `json:"error,omitempty"`
}

type ErrorBody struct {
	Code    string `json:"code"`
	Details string `json:"details,omitempty"`
}

type CreateAppointmentRequest struct {
	DoctorID        string  `json:"doctor_id"`
	PatientID       string  `json:"patient_id"`
	Start           string  `json:"start"` // RFC 3339
	ExpectedMinutes int     `json:"expected_minutes"`
	Notes           *string `json:"notes,omitempty"`
}

type EmergencyRequest struct {
	DoctorID  string `json:"doctor_id"`
	PatientID string `json:"patient_id"`
	Start     string `json:"start"` // RFC 3339
	Reason    string `json:"reason"`
}

type CompleteRequest struct {
	Diagnosis    *string `json:"diagnosis,omitempty"`
	Prescription *string `json:"prescription,omitempty"`
	Notes        *string `json:"notes,omitempty"`
}

type CancelRequest struct {
	Reason *string `json:"reason,omitempty"`
}

type CreateBreakRequest struct {
	Start  string  `json:"start"` // RFC 3339
	End    string  `json:"end"`   // RFC 3339
	Reason *string `json:"reason,omitempty"`
}

type BreakResponse struct {
	ID         uuid.UUID `json:"id"`
	DoctorID   uuid.UUID `json:"doctor_id"`
	ServiceDay string    `json:"service_day"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	Reason     *string   `json:"reason,omitempty"`
}

func toBreakResponse(b *appointment.DoctorBreak) BreakResponse {
	return BreakResponse{
		ID:         b.ID,
		DoctorID:   b.DoctorID,
		ServiceDay: b.ServiceDay.Format("2006-01-02"),
		Start:      b.StartTime,
		End:        b.EndTime,
		Reason:     b.Reason,
	}
}

type DelayRequest struct {
	ServiceDay string  `json:"service_day"` // YYYY-MM-DD
	Minutes    int     `json:"minutes"`
	Reason     *string `json:"reason,omitempty"`
}

type AppointmentResponse struct {
	ID              uuid.UUID  `json:"id"`
	DoctorID        uuid.UUID  `json:"doctor_id"`
	PatientID       uuid.UUID  `json:"patient_id"`
	ServiceDay      string     `json:"service_day"`
	ScheduledStart  time.Time  `json:"scheduled_start"`
	EstimatedStart  time.Time  `json:"estimated_start"`
	ActualStart     *time.Time `json:"actual_start,omitempty"`
	ActualEnd       *time.Time `json:"actual_end,omitempty"`
	ExpectedMinutes int        `json:"expected_minutes"`
	ActualMinutes   *int       `json:"actual_minutes,omitempty"`
	QueuePosition   int        `json:"queue_position"`
	Status          string     `json:"status"`
	Emergency       bool       `json:"emergency"`
	DelayMinutes    int        `json:"delay_minutes"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:              a.ID,
		DoctorID:        a.DoctorID,
		PatientID:       a.PatientID,
		ServiceDay:      a.ServiceDay.Format("2006-01-02"),
		ScheduledStart:  a.ScheduledStart,
		EstimatedStart:  a.EstimatedStart,
		ActualStart:     a.ActualStart,
		ActualEnd:       a.ActualEnd,
		ExpectedMinutes: a.ExpectedMinutes,
		ActualMinutes:   a.ActualMinutes,
		QueuePosition:   a.QueuePosition,
		Status:          string(a.Status),
		Emergency:       a.Emergency,
		DelayMinutes:    a.DelayMinutes,
	}
}

type DelayResponse struct {
	Shifted int `json:"shifted"`
}

type FailedJobResponse struct {
	ID         uuid.UUID `json:"id"`
	Type       string    `json:"type"`
	Priority   int       `json:"priority"`
	RetryCount int       `json:"retry_count"`
	MaxRetries int       `json:"max_retries"`
	LastError  *string   `json:"last_error,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func toFailedJobResponse(j job.Job) FailedJobResponse {
	return FailedJobResponse{
		ID:         j.ID,
		Type:       j.Type,
		Priority:   j.Priority,
		RetryCount: j.RetryCount,
		MaxRetries: j.MaxRetries,
		LastError:  j.LastError,
		UpdatedAt:  j.UpdatedAt,
	}
}
