package scheduling

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/agis/agenda/internal/apiclient"
	"github.com/agis/agenda/internal/contract"
	"github.com/agis/agenda/internal/validate"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	AppointmentsPath  = "/appointment"
	PatientsPath      = "/patients"
	ProfessionalsPath = "/professionals"

	CodeInvalidRange = "INVALID_DATE_RANGE"
)

// Gateway is the part of the API client the operations use.
type Gateway interface {
	Get(ctx context.Context, path string, opts ...apiclient.RequestOption) (apiclient.Envelope, error)
	Post(ctx context.Context, path string, body any, opts ...apiclient.RequestOption) (apiclient.Envelope, error)
	Put(ctx context.Context, path string, body any, opts ...apiclient.RequestOption) (apiclient.Envelope, error)
	Patch(ctx context.Context, path string, body any, opts ...apiclient.RequestOption) (apiclient.Envelope, error)
	Delete(ctx context.Context, path string, opts ...apiclient.RequestOption) (apiclient.Envelope, error)
}

// Identity exposes the logged-in user; the session manager satisfies it.
type Identity interface {
	Snapshot() contract.Session
}

// Outcome is what an operation produced. Expected rejections (invalid input,
// a detected conflict) come back with Accepted=false and a nil error.
type Outcome struct {
	Accepted    bool                   `json:"accepted"`
	Code        string                 `json:"messageCode"`
	Details     []contract.FieldDetail `json:"details,omitempty"`
	Appointment *contract.Appointment  `json:"appointment,omitempty"`
	Conflicts   []contract.Appointment `json:"conflicts,omitempty"`
}

// Draft is an appointment that has not been created yet.
type Draft struct {
	PatientID      string    `json:"patientId"`
	ProfessionalID string    `json:"professionalId"`
	Start          time.Time `json:"startDate"`
	End            time.Time `json:"endDate"`
	Notes          string    `json:"notes,omitempty"`
}

type appointmentPayload struct {
	StartDate      time.Time `json:"startDate"`
	EndDate        time.Time `json:"endDate"`
	PatientID      string    `json:"patientId"`
	ProfessionalID string    `json:"professionalId"`
	Notes          string    `json:"notes"`
}

type statusPayload struct {
	Status contract.AppointmentStatus `json:"status"`
}

type notesPayload struct {
	Notes             string  `json:"notes"`
	ProfessionalNotes *string `json:"professionalNotes,omitempty"`
}

type Service struct {
	api     Gateway
	who     Identity
	log     *logrus.Logger
	refresh func(context.Context) error
	now     func() time.Time
	newKey  func() string

	mu    sync.Mutex
	alert contract.Alert
}

type Option func(*Service)

func WithIdentity(who Identity) Option {
	return func(s *Service) { s.who = who }
}

func WithLogger(l *logrus.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithRefresh installs the callback run after every successful mutation.
func WithRefresh(fn func(context.Context) error) Option {
	return func(s *Service) { s.refresh = fn }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithKeyFunc replaces the idempotency key generator.
func WithKeyFunc(fn func() string) Option {
	return func(s *Service) { s.newKey = fn }
}

func NewService(api Gateway, opts ...Option) *Service {
	s := &Service{
		api:    api,
		now:    time.Now,
		newKey: uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logrus.New()
		s.log.SetLevel(logrus.PanicLevel)
	}
	ResetAlert(&s.alert)
	return s
}

// Alert returns a copy of the current alert.
func (s *Service) Alert() contract.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.alert
	if a.Details != nil {
		a.Details = append([]contract.FieldDetail(nil), a.Details...)
	}
	return a
}

func (s *Service) ResetAlert() {
	s.mu.Lock()
	ResetAlert(&s.alert)
	s.mu.Unlock()
}

func (s *Service) withAlert(fn func(*contract.Alert)) {
	s.mu.Lock()
	fn(&s.alert)
	s.mu.Unlock()
}

func (s *Service) profileID() string {
	if s.who == nil {
		return ""
	}
	snap := s.who.Snapshot()
	if snap.User == nil {
		return ""
	}
	return snap.User.ProfileID
}

// SaveAppointment books on behalf of any patient and professional.
func (s *Service) SaveAppointment(ctx context.Context, d Draft) (Outcome, error) {
	if out, ok := s.checkDraft(d); !ok {
		return out, nil
	}
	return s.create(ctx, d)
}

// SaveAppointmentOwnPatient books for the logged-in patient. The patient id
// defaults to the session profile, and the patient's existing appointments are
// checked for overlaps before anything is sent.
func (s *Service) SaveAppointmentOwnPatient(ctx context.Context, d Draft) (Outcome, error) {
	if d.PatientID == "" {
		d.PatientID = s.profileID()
	}
	if out, ok := s.checkDraft(d); !ok {
		return out, nil
	}
	existing, err := s.FetchAppointments(ctx)
	if err != nil {
		s.withAlert(func(a *contract.Alert) { ShowError(a, err) })
		return Outcome{Code: codeOf(err)}, err
	}
	if conflicts := FindPatientConflicts(d.PatientID, d.Start, d.End, existing); len(conflicts) > 0 {
		s.withAlert(func(a *contract.Alert) {
			*a = contract.Alert{
				Show:        true,
				Type:        contract.MessageError,
				MessageCode: contract.MsgAppointmentConflict,
				Params:      map[string]any{"count": len(conflicts)},
			}
		})
		return Outcome{Code: contract.MsgAppointmentConflict, Conflicts: conflicts}, nil
	}
	return s.create(ctx, d)
}

// SaveAppointmentProfessional books from a professional's calendar; the
// professional id defaults to the session profile.
func (s *Service) SaveAppointmentProfessional(ctx context.Context, d Draft) (Outcome, error) {
	if d.ProfessionalID == "" {
		d.ProfessionalID = s.profileID()
	}
	if out, ok := s.checkDraft(d); !ok {
		return out, nil
	}
	return s.create(ctx, d)
}

func (s *Service) checkDraft(d Draft) (Outcome, bool) {
	var details []contract.FieldDetail
	if d.PatientID == "" {
		details = append(details, contract.FieldDetail{Field: "patientId", Code: validate.CodeRequired})
	}
	if d.ProfessionalID == "" {
		details = append(details, contract.FieldDetail{Field: "professionalId", Code: validate.CodeRequired})
	}
	if d.Start.IsZero() {
		details = append(details, contract.FieldDetail{Field: "startDate", Code: validate.CodeRequired})
	}
	if d.End.IsZero() {
		details = append(details, contract.FieldDetail{Field: "endDate", Code: validate.CodeRequired})
	}
	if !d.Start.IsZero() && !d.End.IsZero() && !d.Start.Before(d.End) {
		details = append(details, contract.FieldDetail{Field: "endDate", Code: CodeInvalidRange})
	}
	if len(details) == 0 {
		return Outcome{}, true
	}
	s.withAlert(func(a *contract.Alert) { ShowValidationErrors(a, details...) })
	return Outcome{Code: contract.MsgValidationFailed, Details: details}, false
}

func (s *Service) create(ctx context.Context, d Draft, opts ...apiclient.RequestOption) (Outcome, error) {
	env, err := s.api.Post(ctx, AppointmentsPath, appointmentPayload{
		StartDate:      d.Start,
		EndDate:        d.End,
		PatientID:      d.PatientID,
		ProfessionalID: d.ProfessionalID,
		Notes:          d.Notes,
	}, opts...)
	return s.finish(ctx, env, err)
}

// finish records the result of a mutation in the alert and runs the refresh
// callback after a success. A failed refresh does not undo the mutation.
func (s *Service) finish(ctx context.Context, env apiclient.Envelope, err error) (Outcome, error) {
	if err != nil {
		s.withAlert(func(a *contract.Alert) { ShowError(a, err) })
		return Outcome{Code: codeOf(err)}, err
	}
	out := Outcome{Accepted: true, Code: env.MessageCode}
	var appt contract.Appointment
	if decodeErr := env.Decode(&appt); decodeErr == nil && appt.ID != "" {
		out.Appointment = &appt
	}
	s.withAlert(func(a *contract.Alert) { ShowSuccess(a, env) })
	if s.refresh != nil {
		if rerr := s.refresh(ctx); rerr != nil {
			s.log.WithError(rerr).Warn("refresh after mutation failed")
		}
	}
	return out, nil
}

// CancelAppointment marks the appointment cancelled. The record is kept.
func (s *Service) CancelAppointment(ctx context.Context, id string) (Outcome, error) {
	if id == "" {
		details := []contract.FieldDetail{{Field: "id", Code: validate.CodeRequired}}
		s.withAlert(func(a *contract.Alert) { ShowValidationErrors(a, details...) })
		return Outcome{Code: contract.MsgValidationFailed, Details: details}, nil
	}
	ts := s.now().UTC()
	env, err := s.api.Put(ctx, appointmentPath(id), statusPayload{
		Status: contract.AppointmentStatus{Cancelled: true, Timestamp: &ts},
	})
	return s.finish(ctx, env, err)
}

// RestoreAppointment clears the cancelled flag of an appointment.
func (s *Service) RestoreAppointment(ctx context.Context, id string) (Outcome, error) {
	if id == "" {
		details := []contract.FieldDetail{{Field: "id", Code: validate.CodeRequired}}
		s.withAlert(func(a *contract.Alert) { ShowValidationErrors(a, details...) })
		return Outcome{Code: contract.MsgValidationFailed, Details: details}, nil
	}
	env, err := s.restore(ctx, id)
	return s.finish(ctx, env, err)
}

func (s *Service) restore(ctx context.Context, id string) (apiclient.Envelope, error) {
	return s.api.Put(ctx, appointmentPath(id), statusPayload{
		Status: contract.AppointmentStatus{Cancelled: false},
	})
}

var ErrMissingID = errors.New("invalid appointment id")

// CancelAppointmentByID is the bare cancel call: no alert, no refresh.
func (s *Service) CancelAppointmentByID(ctx context.Context, id string) (apiclient.Envelope, error) {
	if id == "" {
		return apiclient.Envelope{}, ErrMissingID
	}
	return s.api.Put(ctx, appointmentPath(id), statusPayload{
		Status: contract.AppointmentStatus{Cancelled: true},
	})
}

// UpdateNotes changes the patient-visible notes only.
func (s *Service) UpdateNotes(ctx context.Context, id, notes string) (Outcome, error) {
	if id == "" {
		s.withAlert(func(a *contract.Alert) { ShowErrorMessage(a, "no appointment selected") })
		return Outcome{Code: contract.MsgOperationError}, nil
	}
	env, err := s.api.Patch(ctx, notesPath(id), notesPayload{Notes: notes})
	if err != nil {
		s.withAlert(func(a *contract.Alert) { ShowError(a, err) })
		return Outcome{Code: codeOf(err)}, err
	}
	s.withAlert(func(a *contract.Alert) { ShowSuccess(a, env) })
	return Outcome{Accepted: true, Code: env.MessageCode}, nil
}

// UpdateNotesProfessional changes both note fields and refreshes.
func (s *Service) UpdateNotesProfessional(ctx context.Context, id, notes, professionalNotes string) (Outcome, error) {
	if id == "" {
		s.withAlert(func(a *contract.Alert) { ShowErrorMessage(a, "no appointment selected") })
		return Outcome{Code: contract.MsgOperationError}, nil
	}
	env, err := s.api.Patch(ctx, notesPath(id), notesPayload{Notes: notes, ProfessionalNotes: &professionalNotes})
	return s.finish(ctx, env, err)
}

func appointmentPath(id string) string {
	return AppointmentsPath + "/" + url.PathEscape(id)
}

func notesPath(id string) string {
	return appointmentPath(id) + "/notes"
}

func codeOf(err error) string {
	var re *RescheduleError
	if errors.As(err, &re) && re.Stranded {
		return contract.MsgReschedulePartial
	}
	if ae, ok := apiclient.AsError(err); ok {
		return ae.MessageCode
	}
	return contract.MsgInternalServerError
}

func describe(d Draft) string {
	return fmt.Sprintf("patient=%s professional=%s %s..%s", d.PatientID, d.ProfessionalID, d.Start.Format(time.RFC3339), d.End.Format(time.RFC3339))
}
