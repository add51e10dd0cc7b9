package scheduling

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/agis/agenda/internal/apiclient"
	"github.com/agis/agenda/internal/contract"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"
)

type seenRequest struct {
	Method         string
	Path           string
	IdempotencyKey string
	Body           map[string]any
}

// fakeBackend is an in-memory appointment API. Fail hooks let a test reject a
// given method/path with a status and message code.
type fakeBackend struct {
	mu       sync.Mutex
	appts    map[string]contract.Appointment
	patients []contract.Patient
	nextID   int
	seen     []seenRequest
	fail     map[string]failure
}

type failure struct {
	status int
	code   string
	skip   int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{appts: map[string]contract.Appointment{}, fail: map[string]failure{}}
}

// failOn rejects the next matching request once.
func (b *fakeBackend) failOn(method, tmpl string, status int, code string) {
	b.failAfter(method, tmpl, 0, status, code)
}

// failAfter lets skip matching requests through, then rejects one.
func (b *fakeBackend) failAfter(method, tmpl string, skip, status int, code string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fail[method+" "+tmpl] = failure{status: status, code: code, skip: skip}
}

func (b *fakeBackend) seed(a contract.Appointment) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.appts[a.ID] = a
}

func (b *fakeBackend) get(id string) contract.Appointment {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.appts[id]
}

func (b *fakeBackend) requests() []seenRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]seenRequest(nil), b.seen...)
}

func (b *fakeBackend) router() http.Handler {
	r := mux.NewRouter()
	r.Use(b.record)
	r.HandleFunc("/appointment", b.listAppointments).Methods(http.MethodGet)
	r.HandleFunc("/appointment", b.createAppointment).Methods(http.MethodPost)
	r.HandleFunc("/appointment/{id}", b.putAppointment).Methods(http.MethodPut)
	r.HandleFunc("/appointment/{id}/notes", b.patchNotes).Methods(http.MethodPatch)
	r.HandleFunc("/patients", b.listPatients).Methods(http.MethodGet)
	r.HandleFunc("/patients", b.ok("PATIENT_CREATED")).Methods(http.MethodPost)
	r.HandleFunc("/patients/{id}", b.ok("PATIENT_UPDATED")).Methods(http.MethodPut)
	r.HandleFunc("/patients/{id}", b.noContent).Methods(http.MethodDelete)
	r.HandleFunc("/professionals", b.emptyData).Methods(http.MethodGet)
	r.HandleFunc("/professionals", b.ok("PROFESSIONAL_CREATED")).Methods(http.MethodPost)
	return r
}

func (b *fakeBackend) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		raw, _ := io.ReadAll(req.Body)
		var body map[string]any
		_ = json.Unmarshal(raw, &body)
		tmpl := req.URL.Path
		if route := mux.CurrentRoute(req); route != nil {
			if t, err := route.GetPathTemplate(); err == nil {
				tmpl = t
			}
		}
		b.mu.Lock()
		b.seen = append(b.seen, seenRequest{Method: req.Method, Path: req.URL.Path, IdempotencyKey: req.Header.Get("Idempotency-Key"), Body: body})
		key := req.Method + " " + tmpl
		f, failing := b.fail[key]
		if failing {
			if f.skip > 0 {
				f.skip--
				b.fail[key] = f
				failing = false
			} else {
				delete(b.fail, key)
			}
		}
		b.mu.Unlock()
		if failing {
			writeJSON(w, f.status, map[string]any{"success": false, "messageCode": f.code, "message": "rejected"})
			return
		}
		req.Body = io.NopCloser(bytes.NewReader(raw))
		next.ServeHTTP(w, req)
	})
}

func (b *fakeBackend) listAppointments(w http.ResponseWriter, _ *http.Request) {
	b.mu.Lock()
	out := make([]contract.Appointment, 0, len(b.appts))
	for _, a := range b.appts {
		out = append(out, a)
	}
	b.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	// Bare array, the legacy shape.
	writeJSON(w, http.StatusOK, out)
}

func (b *fakeBackend) createAppointment(w http.ResponseWriter, req *http.Request) {
	var a contract.Appointment
	if err := json.NewDecoder(req.Body).Decode(&a); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"messageCode": "VALIDATION_FAILED"})
		return
	}
	b.mu.Lock()
	b.nextID++
	a.ID = fmt.Sprintf("new-%d", b.nextID)
	b.appts[a.ID] = a
	b.mu.Unlock()
	writeJSON(w, http.StatusCreated, map[string]any{
		"success":     true,
		"messageCode": "APPOINTMENT_CREATED",
		"data": map[string]any{
			"_id":            a.ID,
			"patientId":      a.PatientID,
			"professionalId": a.ProfessionalID,
			"startDate":      a.StartDate,
			"endDate":        a.EndDate,
			"notes":          a.Notes,
		},
	})
}

func (b *fakeBackend) putAppointment(w http.ResponseWriter, req *http.Request) {
	id := mux.Vars(req)["id"]
	var body struct {
		Status contract.AppointmentStatus `json:"status"`
	}
	_ = json.NewDecoder(req.Body).Decode(&body)
	b.mu.Lock()
	a, ok := b.appts[id]
	if ok {
		a.Status = body.Status
		b.appts[id] = a
	}
	b.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"messageCode": "APPOINTMENT_NOT_FOUND"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "messageCode": "APPOINTMENT_UPDATED"})
}

func (b *fakeBackend) patchNotes(w http.ResponseWriter, req *http.Request) {
	id := mux.Vars(req)["id"]
	var body struct {
		Notes             string  `json:"notes"`
		ProfessionalNotes *string `json:"professionalNotes"`
	}
	_ = json.NewDecoder(req.Body).Decode(&body)
	b.mu.Lock()
	a := b.appts[id]
	a.Notes = body.Notes
	if body.ProfessionalNotes != nil {
		a.ProfessionalNotes = *body.ProfessionalNotes
	}
	b.appts[id] = a
	b.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "messageCode": "NOTES_UPDATED"})
}

func (b *fakeBackend) listPatients(w http.ResponseWriter, _ *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "messageCode": "PATIENTS_FETCHED", "data": b.patients})
}

func (b *fakeBackend) emptyData(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "messageCode": "PROFESSIONALS_FETCHED"})
}

func (b *fakeBackend) ok(code string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "messageCode": code})
	}
}

func (b *fakeBackend) noContent(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type staticIdentity struct{ user *contract.User }

func (s staticIdentity) Snapshot() contract.Session {
	if s.user == nil {
		return contract.Session{}
	}
	return contract.Session{Token: "t", User: s.user, Role: s.user.Role}
}

func newTestService(t *testing.T, b *fakeBackend, opts ...Option) *Service {
	t.Helper()
	srv := httptest.NewServer(b.router())
	t.Cleanup(srv.Close)
	api, err := apiclient.New(apiclient.Options{BaseURL: srv.URL, Timeout: 2 * time.Second})
	require.NoError(t, err)
	fixed := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	base := []Option{WithClock(func() time.Time { return fixed }), WithKeyFunc(func() string { return "key-1" })}
	return NewService(api, append(base, opts...)...)
}
