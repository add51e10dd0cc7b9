package contract

import (
	"encoding/json"
	"strings"
	"time"
)

const SchemaVersion = "v1"

type ErrorCode string

const (
	ErrGeneric            ErrorCode = "GENERIC_FAILURE"
	ErrInvalidUsage       ErrorCode = "INVALID_USAGE"
	ErrUnauthenticated    ErrorCode = "UNAUTHENTICATED"
	ErrPermissionDenied   ErrorCode = "PERMISSION_DENIED"
	ErrNotFound           ErrorCode = "NOT_FOUND"
	ErrConflict           ErrorCode = "CONFLICT"
	ErrBackendUnavailable ErrorCode = "BACKEND_UNAVAILABLE"
)

// Message codes exchanged with the backend and surfaced in alerts.
const (
	MsgOperationSuccess        = "OPERATION_SUCCESS"
	MsgOperationError          = "OPERATION_ERROR"
	MsgNetworkError            = "NETWORK_ERROR"
	MsgInvalidToken            = "INVALID_TOKEN"
	MsgInsufficientPermissions = "INSUFFICIENT_PERMISSIONS"
	MsgValidationFailed        = "VALIDATION_FAILED"
	MsgInternalServerError     = "INTERNAL_SERVER_ERROR"
	MsgAPIError                = "API_ERROR"
	MsgInvalidCredentials      = "INVALID_CREDENTIALS"
	MsgLoginFailed             = "LOGIN_FAILED"
	MsgAppointmentConflict     = "APPOINTMENT_CONFLICT"
	MsgReschedulePartial       = "RESCHEDULE_PARTIALLY_APPLIED"
)

type MessageType string

const (
	MessageSuccess MessageType = "success"
	MessageError   MessageType = "error"
)

type ErrorEnvelope struct {
	SchemaVersion string         `json:"schema_version"`
	Error         ErrorBody      `json:"error"`
	Meta          map[string]any `json:"meta,omitempty"`
}

type ErrorBody struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Hint    string    `json:"hint,omitempty"`
}

type SuccessEnvelope struct {
	SchemaVersion string         `json:"schema_version"`
	Command       string         `json:"command"`
	GeneratedAt   time.Time      `json:"generated_at"`
	Data          any            `json:"data"`
	Meta          map[string]any `json:"meta"`
	Warnings      []string       `json:"warnings"`
}

// Role is the capability carried by an authenticated user.
type Role string

const (
	RoleAdmin        Role = "admin"
	RoleProfessional Role = "professional"
	RolePatient      Role = "patient"
)

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleProfessional, RolePatient:
		return true
	}
	return false
}

func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	return r, r.Valid()
}

type User struct {
	ID        string `json:"id"`
	ProfileID string `json:"profileId,omitempty"`
	Role      Role   `json:"role"`
	Email     string `json:"email,omitempty"`
	Name      string `json:"name,omitempty"`
}

func (u *User) UnmarshalJSON(b []byte) error {
	type plain User
	var aux struct {
		plain
		MongoID string `json:"_id"`
	}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	*u = User(aux.plain)
	if u.ID == "" {
		u.ID = aux.MongoID
	}
	return nil
}

// Session is the client-side authentication state. Role always mirrors User.Role.
type Session struct {
	Token     string `json:"token,omitempty"`
	User      *User  `json:"user,omitempty"`
	Role      Role   `json:"role,omitempty"`
	Loading   bool   `json:"loading"`
	LastError string `json:"last_error,omitempty"`
}

type FieldDetail struct {
	Field string `json:"field"`
	Code  string `json:"code"`
}

type AppointmentStatus struct {
	Cancelled bool       `json:"cancelled"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

type Appointment struct {
	ID                string            `json:"id"`
	PatientID         string            `json:"patientId"`
	ProfessionalID    string            `json:"professionalId"`
	StartDate         time.Time         `json:"startDate"`
	EndDate           time.Time         `json:"endDate"`
	Notes             string            `json:"notes"`
	ProfessionalNotes string            `json:"professionalNotes,omitempty"`
	Status            AppointmentStatus `json:"status"`
}

// UnmarshalJSON accepts the backend's "_id" as well as "id".
func (a *Appointment) UnmarshalJSON(b []byte) error {
	type plain Appointment
	var aux struct {
		plain
		MongoID string `json:"_id"`
	}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	*a = Appointment(aux.plain)
	if a.ID == "" {
		a.ID = aux.MongoID
	}
	return nil
}

type Patient struct {
	ID      string `json:"id"`
	UserID  string `json:"userId,omitempty"`
	Name    string `json:"name"`
	Surname string `json:"surname,omitempty"`
	Email   string `json:"email,omitempty"`
	Phone   string `json:"phone,omitempty"`
	DNI     string `json:"dni,omitempty"`
}

func (p *Patient) UnmarshalJSON(b []byte) error {
	type plain Patient
	var aux struct {
		plain
		MongoID string `json:"_id"`
	}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	*p = Patient(aux.plain)
	if p.ID == "" {
		p.ID = aux.MongoID
	}
	return nil
}

type Professional struct {
	ID        string `json:"id"`
	UserID    string `json:"userId,omitempty"`
	Name      string `json:"name"`
	Surname   string `json:"surname,omitempty"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
	DNI       string `json:"dni,omitempty"`
	Specialty string `json:"specialty,omitempty"`
}

func (p *Professional) UnmarshalJSON(b []byte) error {
	type plain Professional
	var aux struct {
		plain
		MongoID string `json:"_id"`
	}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	*p = Professional(aux.plain)
	if p.ID == "" {
		p.ID = aux.MongoID
	}
	return nil
}

// Alert is the transient notification shown after an operation.
type Alert struct {
	Show        bool           `json:"show"`
	Type        MessageType    `json:"type"`
	MessageCode string         `json:"messageCode"`
	Message     string         `json:"message,omitempty"`
	Details     []FieldDetail  `json:"details"`
	Params      map[string]any `json:"params"`
}
