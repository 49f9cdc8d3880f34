package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking/internal/appointment"
)

// bookingRecord is what the double-booking check needs to know about an
// appointment.
type bookingRecord struct {
	ID             uuid.UUID
	ProfessionalID uuid.UUID
	SlotID         uuid.UUID
	ScheduledAt    time.Time
	Status         appointment.AppointmentStatus
}

// Client is the surface the simulator drives, either in process or over HTTP.
type Client interface {
	Book(ctx context.Context, in appointment.CreateAppointmentInput) (uuid.UUID, outcome)
	Confirm(ctx context.Context, id uuid.UUID) outcome
	Cancel(ctx context.Context, id uuid.UUID, reason string) outcome
	ListByPatient(ctx context.Context, patientID uuid.UUID) outcome
	AppointmentsByProfessional(ctx context.Context, professionalID uuid.UUID) ([]bookingRecord, error)
}

type serviceClient struct {
	svc *appointment.Service
}

var conflictErrors = []error{
	appointment.ErrSlotUnavailable,
	appointment.ErrSlotAlreadyBooked,
	appointment.ErrSlotBeingBooked,
	appointment.ErrInvalidStatusTransition,
}

func classify(err error) outcome {
	if err == nil {
		return outcomeOK
	}
	for _, target := range conflictErrors {
		if errors.Is(err, target) {
			return outcomeConflict
		}
	}
	return outcomeError
}

func (c serviceClient) Book(ctx context.Context, in appointment.CreateAppointmentInput) (uuid.UUID, outcome) {
	appt, err := c.svc.CreateAppointment(ctx, in)
	if err != nil {
		return uuid.Nil, classify(err)
	}
	return appt.ID, outcomeOK
}

func (c serviceClient) Confirm(ctx context.Context, id uuid.UUID) outcome {
	_, err := c.svc.UpdateAppointmentStatus(ctx, id, appointment.StatusConfirmed)
	return classify(err)
}

func (c serviceClient) Cancel(ctx context.Context, id uuid.UUID, reason string) outcome {
	_, err := c.svc.CancelAppointment(ctx, id, reason)
	return classify(err)
}

func (c serviceClient) ListByPatient(ctx context.Context, patientID uuid.UUID) outcome {
	_, err := c.svc.ListAppointmentsByPatient(ctx, patientID)
	return classify(err)
}

func (c serviceClient) AppointmentsByProfessional(ctx context.Context, professionalID uuid.UUID) ([]bookingRecord, error) {
	list, err := c.svc.ListAppointmentsByProfessional(ctx, professionalID)
	if err != nil {
		return nil, err
	}
	out := make([]bookingRecord, 0, len(list))
	for _, a := range list {
		out = append(out, bookingRecord{
			ID:             a.ID,
			ProfessionalID: a.ProfessionalID,
			SlotID:         a.SlotID,
			ScheduledAt:    a.ScheduledAt,
			Status:         a.Status,
		})
	}
	return out, nil
}

type httpClient struct {
	baseURL string
	client  *http.Client
}

func newHTTPClient(baseURL string) *httpClient {
	return &httpClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// do sends body as JSON and decodes a 2xx response into out when non-nil.
func (c *httpClient) do(ctx context.Context, method, path string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode/100 == 2 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode %s %s: %w", method, path, err)
		}
	} else {
		_, _ = io.Copy(io.Discard, resp.Body)
	}
	return resp.StatusCode, nil
}

func statusOutcome(code int, err error, want int) outcome {
	switch {
	case err != nil:
		return outcomeError
	case code == want:
		return outcomeOK
	case code == http.StatusConflict:
		return outcomeConflict
	default:
		return outcomeError
	}
}

func (c *httpClient) Book(ctx context.Context, in appointment.CreateAppointmentInput) (uuid.UUID, outcome) {
	body := map[string]string{
		"slot_id":         in.SlotID.String(),
		"professional_id": in.ProfessionalID.String(),
		"patient_id":      in.PatientID.String(),
		"treatment_id":    in.TreatmentID.String(),
	}
	if in.Date != nil {
		body["date"] = in.Date.Format(time.DateOnly)
	}

	var created struct {
		ID uuid.UUID `json:"id"`
	}
	code, err := c.do(ctx, http.MethodPost, "/appointments", body, &created)
	o := statusOutcome(code, err, http.StatusCreated)
	if o != outcomeOK {
		return uuid.Nil, o
	}
	return created.ID, o
}

func (c *httpClient) Confirm(ctx context.Context, id uuid.UUID) outcome {
	code, err := c.do(ctx, http.MethodPut, "/appointments/"+id.String()+"/status",
		map[string]string{"status": string(appointment.StatusConfirmed)}, nil)
	return statusOutcome(code, err, http.StatusOK)
}

func (c *httpClient) Cancel(ctx context.Context, id uuid.UUID, reason string) outcome {
	path := "/appointments/" + id.String() + "/cancel?reason=" + url.QueryEscape(reason)
	code, err := c.do(ctx, http.MethodPut, path, nil, nil)
	return statusOutcome(code, err, http.StatusOK)
}

func (c *httpClient) ListByPatient(ctx context.Context, patientID uuid.UUID) outcome {
	code, err := c.do(ctx, http.MethodGet, "/appointments?patient_id="+patientID.String(), nil, nil)
	return statusOutcome(code, err, http.StatusOK)
}

func (c *httpClient) AppointmentsByProfessional(ctx context.Context, professionalID uuid.UUID) ([]bookingRecord, error) {
	var list []struct {
		ID             uuid.UUID `json:"id"`
		ProfessionalID uuid.UUID `json:"professional_id"`
		SlotID         uuid.UUID `json:"slot_id"`
		ScheduledAt    string    `json:"scheduled_at"`
		Status         string    `json:"status"`
	}
	code, err := c.do(ctx, http.MethodGet, "/appointments?professional_id="+professionalID.String(), nil, &list)
	if err != nil {
		return nil, err
	}
	if code != http.StatusOK {
		return nil, fmt.Errorf("list appointments: unexpected status %d", code)
	}

	out := make([]bookingRecord, 0, len(list))
	for _, a := range list {
		at, err := time.Parse("2006-01-02T15:04:05", a.ScheduledAt)
		if err != nil {
			return nil, fmt.Errorf("parse scheduled_at %q: %w", a.ScheduledAt, err)
		}
		out = append(out, bookingRecord{
			ID:             a.ID,
			ProfessionalID: a.ProfessionalID,
			SlotID:         a.SlotID,
			ScheduledAt:    at,
			Status:         appointment.AppointmentStatus(a.Status),
		})
	}
	return out, nil
}
