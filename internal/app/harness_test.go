package app

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/agis/agenda/internal/contract"
	"github.com/agis/agenda/internal/storage"
	"github.com/gorilla/mux"
)

const (
	testEmail    = "ana@clinic.es"
	testPassword = "Secret-123"
)

// fakeAPI is an in-memory clinic backend served over httptest.
type fakeAPI struct {
	mu            sync.Mutex
	appts         map[string]contract.Appointment
	patients      []contract.Patient
	professionals []contract.Professional
	loginUser     contract.User
	nextID        int
	calls         []string
	fail          map[string]apiFailure
}

type apiFailure struct {
	status int
	code   string
	skip   int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{appts: map[string]contract.Appointment{}, fail: map[string]apiFailure{}}
}

func (f *fakeAPI) seed(items ...contract.Appointment) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range items {
		f.appts[a.ID] = a
	}
}

func (f *fakeAPI) appointment(id string) (contract.Appointment, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.appts[id]
	return a, ok
}

// failOn rejects the next request matching the route template once.
func (f *fakeAPI) failOn(method, tmpl string, status int, code string) {
	f.failAfter(method, tmpl, 0, status, code)
}

// failAfter lets skip matching requests through before rejecting one.
func (f *fakeAPI) failAfter(method, tmpl string, skip, status int, code string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[method+" "+tmpl] = apiFailure{status: status, code: code, skip: skip}
}

func (f *fakeAPI) seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeAPI) router() http.Handler {
	r := mux.NewRouter()
	r.Use(f.intercept)
	r.HandleFunc("/auth/login", f.login).Methods(http.MethodPost)
	r.HandleFunc("/auth/logout", f.reply(http.StatusOK, "LOGOUT_SUCCESS")).Methods(http.MethodPost)
	r.HandleFunc("/appointment", f.listAppointments).Methods(http.MethodGet)
	r.HandleFunc("/appointment", f.createAppointment).Methods(http.MethodPost)
	r.HandleFunc("/appointment/{id}", f.setStatus).Methods(http.MethodPut)
	r.HandleFunc("/appointment/{id}/notes", f.setNotes).Methods(http.MethodPatch)
	r.HandleFunc("/patients", f.listPatients).Methods(http.MethodGet)
	r.HandleFunc("/patients", f.reply(http.StatusCreated, "PATIENT_CREATED")).Methods(http.MethodPost)
	r.HandleFunc("/patients/{id}", f.reply(http.StatusOK, "PATIENT_UPDATED")).Methods(http.MethodPut)
	r.HandleFunc("/patients/{id}", f.reply(http.StatusOK, "PATIENT_DELETED")).Methods(http.MethodDelete)
	r.HandleFunc("/professionals", f.listProfessionals).Methods(http.MethodGet)
	r.HandleFunc("/professionals", f.reply(http.StatusCreated, "PROFESSIONAL_CREATED")).Methods(http.MethodPost)
	r.HandleFunc("/professionals/{id}", f.reply(http.StatusOK, "PROFESSIONAL_UPDATED")).Methods(http.MethodPut)
	r.HandleFunc("/professionals/{id}", f.reply(http.StatusOK, "PROFESSIONAL_DELETED")).Methods(http.MethodDelete)
	return r
}

func (f *fakeAPI) intercept(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		tmpl := req.URL.Path
		if route := mux.CurrentRoute(req); route != nil {
			if t, err := route.GetPathTemplate(); err == nil {
				tmpl = t
			}
		}
		key := req.Method + " " + tmpl
		f.mu.Lock()
		f.calls = append(f.calls, req.Method+" "+req.URL.Path)
		fail, failing := f.fail[key]
		if failing {
			if fail.skip > 0 {
				fail.skip--
				f.fail[key] = fail
				failing = false
			} else {
				delete(f.fail, key)
			}
		}
		f.mu.Unlock()
		if failing {
			apiJSON(w, fail.status, map[string]any{"success": false, "messageCode": fail.code, "messageType": "error"})
			return
		}
		if tmpl != "/auth/login" && req.Header.Get("Authorization") == "" {
			apiJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "messageCode": contract.MsgInvalidToken})
			return
		}
		next.ServeHTTP(w, req)
	})
}

func (f *fakeAPI) login(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	_ = json.NewDecoder(req.Body).Decode(&body)
	if body.Email != testEmail || body.Password != testPassword {
		apiJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "messageCode": contract.MsgInvalidCredentials})
		return
	}
	f.mu.Lock()
	u := f.loginUser
	f.mu.Unlock()
	apiJSON(w, http.StatusOK, map[string]any{"success": true, "messageCode": "LOGIN_SUCCESS", "data": map[string]any{"token": "tok-login", "user": u}})
}

func (f *fakeAPI) listAppointments(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	out := make([]contract.Appointment, 0, len(f.appts))
	for _, a := range f.appts {
		out = append(out, a)
	}
	f.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	apiJSON(w, http.StatusOK, map[string]any{"success": true, "messageCode": "APPOINTMENTS_FETCHED", "data": out})
}

func (f *fakeAPI) createAppointment(w http.ResponseWriter, req *http.Request) {
	var a contract.Appointment
	if err := json.NewDecoder(req.Body).Decode(&a); err != nil {
		apiJSON(w, http.StatusBadRequest, map[string]any{"success": false, "messageCode": contract.MsgValidationFailed})
		return
	}
	f.mu.Lock()
	f.nextID++
	a.ID = fmt.Sprintf("appt-%d", f.nextID)
	f.appts[a.ID] = a
	f.mu.Unlock()
	apiJSON(w, http.StatusCreated, map[string]any{"success": true, "messageCode": "APPOINTMENT_CREATED", "messageType": "success", "data": a})
}

func (f *fakeAPI) setStatus(w http.ResponseWriter, req *http.Request) {
	id := mux.Vars(req)["id"]
	var body struct {
		Status contract.AppointmentStatus `json:"status"`
	}
	_ = json.NewDecoder(req.Body).Decode(&body)
	f.mu.Lock()
	a, ok := f.appts[id]
	if ok {
		a.Status = body.Status
		f.appts[id] = a
	}
	f.mu.Unlock()
	if !ok {
		apiJSON(w, http.StatusNotFound, map[string]any{"success": false, "messageCode": "APPOINTMENT_NOT_FOUND"})
		return
	}
	apiJSON(w, http.StatusOK, map[string]any{"success": true, "messageCode": "APPOINTMENT_UPDATED", "data": a})
}

func (f *fakeAPI) setNotes(w http.ResponseWriter, req *http.Request) {
	id := mux.Vars(req)["id"]
	var body struct {
		Notes             string  `json:"notes"`
		ProfessionalNotes *string `json:"professionalNotes"`
	}
	_ = json.NewDecoder(req.Body).Decode(&body)
	f.mu.Lock()
	a := f.appts[id]
	a.Notes = body.Notes
	if body.ProfessionalNotes != nil {
		a.ProfessionalNotes = *body.ProfessionalNotes
	}
	f.appts[id] = a
	f.mu.Unlock()
	apiJSON(w, http.StatusOK, map[string]any{"success": true, "messageCode": "NOTES_UPDATED"})
}

func (f *fakeAPI) listPatients(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	apiJSON(w, http.StatusOK, map[string]any{"success": true, "data": f.patients})
}

func (f *fakeAPI) listProfessionals(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	apiJSON(w, http.StatusOK, map[string]any{"success": true, "data": f.professionals})
}

func (f *fakeAPI) reply(status int, code string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		apiJSON(w, status, map[string]any{"success": true, "messageCode": code, "messageType": "success"})
	}
}

func apiJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// keepOpen lets one memory store outlive the Close of each command run.
type keepOpen struct{ storage.Store }

func (keepOpen) Close() error { return nil }

type cli struct {
	t     *testing.T
	api   *fakeAPI
	url   string
	store *storage.Memory
	stdin string
}

// newCLI starts a fake backend and an isolated config home. A non-empty role
// seeds a logged-in session for user u1 with profile prof-<role>.
func newCLI(t *testing.T, role contract.Role) *cli {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", home)
	t.Setenv("AGENDA_PASSWORD", "")

	api := newFakeAPI()
	srv := httptest.NewServer(api.router())
	t.Cleanup(srv.Close)

	store := storage.NewMemory()
	orig := storeFactory
	storeFactory = func(string) (storage.Store, error) { return keepOpen{store}, nil }
	t.Cleanup(func() { storeFactory = orig })

	c := &cli{t: t, api: api, url: srv.URL, store: store}
	if role != "" {
		c.loginAs(contract.User{ID: "u1", ProfileID: "prof-" + string(role), Role: role, Email: testEmail})
	}
	return c
}

func (c *cli) loginAs(u contract.User) {
	c.t.Helper()
	raw, err := json.Marshal(u)
	if err != nil {
		c.t.Fatalf("marshal user: %v", err)
	}
	if err := c.store.Set(storage.KeyAuthToken, "tok-seeded"); err != nil {
		c.t.Fatalf("seed token: %v", err)
	}
	if err := c.store.Set(storage.KeyUser, string(raw)); err != nil {
		c.t.Fatalf("seed user: %v", err)
	}
}

type cliResult struct {
	stdout string
	stderr string
	err    error
	code   int
}

func (c *cli) run(args ...string) cliResult {
	c.t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(c.stdin))
	cmd.SetArgs(append([]string{"--base-url", c.url, "--tz", "UTC", "--timeout", "5s"}, args...))
	err := cmd.Execute()
	return cliResult{stdout: out.String(), stderr: errOut.String(), err: err, code: ExitCode(err)}
}

type successDoc struct {
	Command  string          `json:"command"`
	Data     json.RawMessage `json:"data"`
	Meta     map[string]any  `json:"meta"`
	Warnings []string        `json:"warnings"`
}

func (r cliResult) success(t *testing.T) successDoc {
	t.Helper()
	if r.err != nil {
		t.Fatalf("command failed (exit %d): %v\nstderr: %s", r.code, r.err, r.stderr)
	}
	var doc successDoc
	if err := json.Unmarshal([]byte(r.stdout), &doc); err != nil {
		t.Fatalf("decode success envelope: %v\n%s", err, r.stdout)
	}
	return doc
}

func (r cliResult) failure(t *testing.T, wantCode int) contract.ErrorEnvelope {
	t.Helper()
	if r.err == nil {
		t.Fatalf("expected failure, got success: %s", r.stdout)
	}
	if r.code != wantCode {
		t.Fatalf("exit code = %d, want %d (err=%v, stderr=%s)", r.code, wantCode, r.err, r.stderr)
	}
	// Log lines share stderr with the envelope; keep the value carrying an error.
	dec := json.NewDecoder(strings.NewReader(r.stderr))
	for {
		var env contract.ErrorEnvelope
		if err := dec.Decode(&env); err != nil {
			t.Fatalf("no error envelope on stderr: %v\n%s", err, r.stderr)
		}
		if env.Error.Code != "" {
			return env
		}
	}
}

func decodeData[T any](t *testing.T, doc successDoc) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(doc.Data, &v); err != nil {
		t.Fatalf("decode data: %v\n%s", err, doc.Data)
	}
	return v
}

// slot returns a fixed future time so range filters and "now" never interfere.
func slot(day, hour, minute int) time.Time {
	return time.Date(2031, 3, day, hour, minute, 0, 0, time.UTC)
}
