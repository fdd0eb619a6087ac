package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/SubhanAlom009/clinic-queue-engine/internal/appointment"
	"github.com/SubhanAlom009/clinic-queue-engine/internal/job"
)

// Handler exposes the queue operations over HTTP. It owns no domain logic:
// every endpoint parses, delegates to the service and maps errors to status
// codes.
type Handler struct {
	svc  *appointment.Service
	jobs job.Repository
}

func NewHandler(svc *appointment.Service, jobs job.Repository) *Handler {
	return &Handler{svc: svc, jobs: jobs}
}

func (h *Handler) CreateAppointment(w http.ResponseWriter, r *http.Request) {
	var req CreateAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "request body must be valid JSON")
		return
	}

	doctorID, err := uuid.Parse(req.DoctorID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_DOCTOR_ID", "doctor_id must be a UUID")
		return
	}
	patientID, err := uuid.Parse(req.PatientID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_PATIENT_ID", "patient_id must be a UUID")
		return
	}
	start, err := time.Parse(time.RFC3339, req.Start)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_START", "start must be RFC 3339")
		return
	}

	a, err := h.svc.Create(r.Context(), appointment.CreateInput{
		DoctorID:        doctorID,
		PatientID:       patientID,
		Start:           start,
		ExpectedMinutes: req.ExpectedMinutes,
		Notes:           req.Notes,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toAppointmentResponse(a))
}

func (h *Handler) CreateEmergency(w http.ResponseWriter, r *http.Request) {
	var req EmergencyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "request body must be valid JSON")
		return
	}

	doctorID, err := uuid.Parse(req.DoctorID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_DOCTOR_ID", "doctor_id must be a UUID")
		return
	}
	patientID, err := uuid.Parse(req.PatientID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_PATIENT_ID", "patient_id must be a UUID")
		return
	}
	start, err := time.Parse(time.RFC3339, req.Start)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_START", "start must be RFC 3339")
		return
	}
	if req.Reason == "" {
		writeError(w, http.StatusBadRequest, "MISSING_REASON", "emergency insertions require a reason")
		return
	}

	a, err := h.svc.CreateEmergency(r.Context(), doctorID, patientID, start, req.Reason)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toAppointmentResponse(a))
}

func (h *Handler) GetAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := h.appointmentID(w, r)
	if !ok {
		return
	}

	a, err := h.svc.Get(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toAppointmentResponse(a))
}

func (h *Handler) CheckIn(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(id uuid.UUID) (*appointment.Appointment, error) {
		return h.svc.CheckIn(r.Context(), id)
	})
}

func (h *Handler) StartAppointment(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(id uuid.UUID) (*appointment.Appointment, error) {
		return h.svc.Start(r.Context(), id)
	})
}

func (h *Handler) CompleteAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := h.appointmentID(w, r)
	if !ok {
		return
	}

	var req CompleteRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", "request body must be valid JSON")
			return
		}
	}

	a, err := h.svc.Complete(r.Context(), id, appointment.CompletionInput{
		Diagnosis:    req.Diagnosis,
		Prescription: req.Prescription,
		Notes:        req.Notes,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toAppointmentResponse(a))
}

func (h *Handler) CancelAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := h.appointmentID(w, r)
	if !ok {
		return
	}

	var req CancelRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", "request body must be valid JSON")
			return
		}
	}

	a, err := h.svc.Cancel(r.Context(), id, req.Reason)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toAppointmentResponse(a))
}

func (h *Handler) MarkNoShow(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(id uuid.UUID) (*appointment.Appointment, error) {
		return h.svc.MarkNoShow(r.Context(), id)
	})
}

func (h *Handler) ReinstateAppointment(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(id uuid.UUID) (*appointment.Appointment, error) {
		return h.svc.Reinstate(r.Context(), id)
	})
}

func (h *Handler) ApplyDelay(w http.ResponseWriter, r *http.Request) {
	doctorID, err := uuid.Parse(chi.URLParam(r, "doctorID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_DOCTOR_ID", "doctor id must be a UUID")
		return
	}

	var req DelayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "request body must be valid JSON")
		return
	}
	day, err := time.Parse("2006-01-02", req.ServiceDay)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_SERVICE_DAY", "service_day must be YYYY-MM-DD")
		return
	}

	shifted, err := h.svc.ApplyDelay(r.Context(), doctorID, day, req.Minutes, req.Reason)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, DelayResponse{Shifted: shifted})
}

func (h *Handler) CreateBreak(w http.ResponseWriter, r *http.Request) {
	doctorID, err := uuid.Parse(chi.URLParam(r, "doctorID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_DOCTOR_ID", "doctor id must be a UUID")
		return
	}

	var req CreateBreakRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "request body must be valid JSON")
		return
	}
	start, err := time.Parse(time.RFC3339, req.Start)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_START", "start must be RFC 3339")
		return
	}
	end, err := time.Parse(time.RFC3339, req.End)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_END", "end must be RFC 3339")
		return
	}

	b, err := h.svc.AddBreak(r.Context(), doctorID, start, end, req.Reason)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toBreakResponse(b))
}

func (h *Handler) GetQueue(w http.ResponseWriter, r *http.Request) {
	doctorID, err := uuid.Parse(chi.URLParam(r, "doctorID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_DOCTOR_ID", "doctor id must be a UUID")
		return
	}

	day := time.Now().UTC()
	if raw := r.URL.Query().Get("day"); raw != "" {
		day, err = time.Parse("2006-01-02", raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_DAY", "day must be YYYY-MM-DD")
			return
		}
	}

	queue, err := h.svc.Queue(r.Context(), doctorID, day)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	out := make([]AppointmentResponse, 0, len(queue))
	for i := range queue {
		out = append(out, toAppointmentResponse(&queue[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) ListFailedJobs(w http.ResponseWriter, r *http.Request) {
	failed, err := h.jobs.ListExhausted(r.Context(), 100)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	out := make([]FailedJobResponse, 0, len(failed))
	for _, j := range failed {
		out = append(out, toFailedJobResponse(j))
	}
	writeJSON(w, http.StatusOK, out)
}

// CancelJob withdraws a job that is still waiting to be claimed. Claimed,
// finished, or unknown jobs all report not found.
func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JOB_ID", "job id must be a UUID")
		return
	}

	if err := h.jobs.CancelPending(r.Context(), id); err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "JOB_NOT_FOUND", "no pending job with that id")
			return
		}
		h.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"id": id.String(), "status": string(job.StatusCancelled)})
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, op func(uuid.UUID) (*appointment.Appointment, error)) {
	id, ok := h.appointmentID(w, r)
	if !ok {
		return
	}

	a, err := op(id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toAppointmentResponse(a))
}

func (h *Handler) appointmentID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "appointmentID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_APPOINTMENT_ID", "appointment id must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, appointment.ErrDoctorNotFound):
		writeError(w, http.StatusNotFound, "DOCTOR_NOT_FOUND", err.Error())
	case errors.Is(err, appointment.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "PATIENT_NOT_FOUND", err.Error())
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "APPOINTMENT_NOT_FOUND", err.Error())
	case errors.Is(err, appointment.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "INVALID_TRANSITION", err.Error())
	case errors.Is(err, appointment.ErrConflict):
		writeError(w, http.StatusConflict, "CONFLICT", err.Error())
	case errors.Is(err, appointment.ErrDataIntegrity):
		writeError(w, http.StatusUnprocessableEntity, "DATA_INTEGRITY", err.Error())
	case errors.Is(err, appointment.ErrInvalidDelay):
		writeError(w, http.StatusBadRequest, "INVALID_DELAY", err.Error())
	case errors.Is(err, appointment.ErrInvalidBreak):
		writeError(w, http.StatusBadRequest, "INVALID_BREAK", err.Error())
	default:
		log.Printf("[%s] %s %s: %v", GetRequestID(r.Context()), r.Method, r.URL.Path, err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "internal server error")
	}
}
