package app

import (
	"net/http"
	"testing"

	"github.com/agis/agenda/internal/contract"
	"github.com/agis/agenda/internal/scheduling"
)

func seedWeek(c *cli) {
	c.api.seed(
		contract.Appointment{ID: "a2", PatientID: "pat-1", ProfessionalID: "pro-1", StartDate: slot(4, 10, 0), EndDate: slot(4, 10, 30)},
		contract.Appointment{ID: "a1", PatientID: "pat-2", ProfessionalID: "pro-2", StartDate: slot(3, 9, 0), EndDate: slot(3, 9, 30)},
		contract.Appointment{ID: "a3", PatientID: "pat-1", ProfessionalID: "pro-1", StartDate: slot(5, 9, 0), EndDate: slot(5, 9, 30), Status: contract.AppointmentStatus{Cancelled: true}},
	)
}

func TestAppointmentsListSortsAndHidesCancelled(t *testing.T) {
	c := newCLI(t, contract.RoleAdmin)
	seedWeek(c)

	doc := c.run("appointments", "list", "--json").success(t)
	items := decodeData[[]contract.Appointment](t, doc)
	if len(items) != 2 || items[0].ID != "a1" || items[1].ID != "a2" {
		t.Fatalf("unexpected list: %+v", items)
	}

	doc = c.run("appointments", "list", "--include-cancelled", "--professional", "pro-1", "--json").success(t)
	items = decodeData[[]contract.Appointment](t, doc)
	if len(items) != 2 || items[1].ID != "a3" {
		t.Fatalf("unexpected filtered list: %+v", items)
	}
}

func TestAppointmentsListRange(t *testing.T) {
	c := newCLI(t, contract.RoleAdmin)
	seedWeek(c)
	doc := c.run("appointments", "list", "--from", "2031-03-04", "--to", "2031-03-04", "--json").success(t)
	items := decodeData[[]contract.Appointment](t, doc)
	if len(items) != 1 || items[0].ID != "a2" {
		t.Fatalf("expected only a2 inside the day, got %+v", items)
	}
}

func TestAppointmentsRequireSession(t *testing.T) {
	c := newCLI(t, "")
	env := c.run("appointments", "list", "--json").failure(t, exitAuth)
	if env.Error.Code != contract.ErrUnauthenticated {
		t.Fatalf("unexpected error code: %s", env.Error.Code)
	}
	if len(c.api.seen()) != 0 {
		t.Fatalf("no request should reach the backend: %v", c.api.seen())
	}
}

func TestAppointmentsBookAsPatientUsesOwnProfile(t *testing.T) {
	c := newCLI(t, contract.RolePatient)
	doc := c.run("appointments", "book", "--professional", "pro-1", "--start", "2031-03-03T09:00", "--duration", "30m", "--notes", "first visit", "--json").success(t)
	out := decodeData[scheduling.Outcome](t, doc)
	if !out.Accepted || out.Appointment == nil {
		t.Fatalf("expected accepted booking: %+v", out)
	}
	got, ok := c.api.appointment(out.Appointment.ID)
	if !ok {
		t.Fatalf("appointment %s not stored", out.Appointment.ID)
	}
	if got.PatientID != "prof-patient" || got.ProfessionalID != "pro-1" || got.Notes != "first visit" {
		t.Fatalf("unexpected stored appointment: %+v", got)
	}
	if !got.EndDate.Equal(slot(3, 9, 30)) {
		t.Fatalf("unexpected end: %s", got.EndDate)
	}
	if doc.Meta["synced_appointments"] != float64(1) {
		t.Fatalf("expected refreshed list size in meta, got %v", doc.Meta)
	}

	entries, err := readHistory("default")
	if err != nil || len(entries) != 1 || entries[0].Type != historyBook {
		t.Fatalf("expected one book entry, got %+v (err=%v)", entries, err)
	}
}

func TestAppointmentsBookPatientConflict(t *testing.T) {
	c := newCLI(t, contract.RolePatient)
	c.api.seed(contract.Appointment{ID: "busy", PatientID: "prof-patient", ProfessionalID: "pro-9", StartDate: slot(3, 9, 15), EndDate: slot(3, 9, 45)})

	env := c.run("appointments", "book", "--professional", "pro-1", "--start", "2031-03-03T09:00", "--duration", "30m", "--json").failure(t, exitConflict)
	if env.Error.Code != contract.ErrConflict {
		t.Fatalf("unexpected error code: %s", env.Error.Code)
	}
	ids, _ := env.Meta["conflicts"].([]any)
	if len(ids) != 1 || ids[0] != "busy" {
		t.Fatalf("expected conflict ids in meta, got %v", env.Meta)
	}
	for _, call := range c.api.seen() {
		if call == http.MethodPost+" /appointment" {
			t.Fatalf("conflicting booking must not be sent")
		}
	}
}

func TestAppointmentsBookRepeatSharesTransaction(t *testing.T) {
	c := newCLI(t, contract.RoleAdmin)
	doc := c.run("appointments", "book", "--patient", "pat-1", "--professional", "pro-1", "--start", "2031-03-03T09:00", "--end", "2031-03-03T09:45", "--repeat", "weekly*3", "--json").success(t)
	outs := decodeData[[]scheduling.Outcome](t, doc)
	if len(outs) != 3 {
		t.Fatalf("expected 3 bookings, got %d", len(outs))
	}
	if !outs[2].Appointment.StartDate.Equal(slot(17, 9, 0)) {
		t.Fatalf("unexpected third start: %s", outs[2].Appointment.StartDate)
	}
	entries, _ := readHistory("default")
	if len(entries) != 3 || entries[0].TxID == "" || entries[0].TxID != entries[2].TxID {
		t.Fatalf("expected shared tx id, got %+v", entries)
	}
}

func TestAppointmentsBookDryRunSendsNothing(t *testing.T) {
	c := newCLI(t, contract.RoleAdmin)
	doc := c.run("appointments", "book", "--patient", "pat-1", "--professional", "pro-1", "--start", "2031-03-03T09:00", "--duration", "30", "--repeat", "daily*2", "--dry-run", "--json").success(t)
	drafts := decodeData[[]map[string]any](t, doc)
	if len(drafts) != 2 || doc.Meta["dry_run"] != true {
		t.Fatalf("unexpected dry run: %+v %v", drafts, doc.Meta)
	}
	if len(c.api.seen()) != 0 {
		t.Fatalf("dry run reached the backend: %v", c.api.seen())
	}
}

func TestAppointmentsBookRoleChecks(t *testing.T) {
	c := newCLI(t, contract.RolePatient)
	c.run("appointments", "book", "--as", "admin", "--patient", "p", "--professional", "q", "--start", "2031-03-03T09:00", "--duration", "30m", "--json").failure(t, exitPermission)
	c.run("appointments", "book", "--as", "nurse", "--professional", "q", "--start", "2031-03-03T09:00", "--duration", "30m", "--json").failure(t, exitUsage)
}

func TestAppointmentsBookMissingFieldsIsUsage(t *testing.T) {
	c := newCLI(t, contract.RoleAdmin)
	env := c.run("appointments", "book", "--professional", "pro-1", "--start", "2031-03-03T09:00", "--duration", "30m", "--json").failure(t, exitUsage)
	if env.Meta["messageCode"] != contract.MsgValidationFailed {
		t.Fatalf("expected validation failure, got %v", env.Meta)
	}
}

func TestAppointmentsCancelNeedsConfirmation(t *testing.T) {
	c := newCLI(t, contract.RoleAdmin)
	seedWeek(c)
	c.run("--no-input", "appointments", "cancel", "a1", "--json").failure(t, exitUsage)
	if a, _ := c.api.appointment("a1"); a.Status.Cancelled {
		t.Fatalf("unconfirmed cancel went through")
	}

	c.run("appointments", "cancel", "a1", "--confirm", "a1", "--json").success(t)
	a, _ := c.api.appointment("a1")
	if !a.Status.Cancelled || a.Status.Timestamp == nil {
		t.Fatalf("expected cancelled with timestamp: %+v", a.Status)
	}
}

func TestAppointmentsCancelUnknownIsNotFound(t *testing.T) {
	c := newCLI(t, contract.RoleAdmin)
	c.run("appointments", "cancel", "nope", "--yes", "--json").failure(t, exitNotFound)
}

func TestAppointmentsMoveKeepsLength(t *testing.T) {
	c := newCLI(t, contract.RoleAdmin)
	seedWeek(c)
	doc := c.run("appointments", "move", "a2", "--start", "2031-03-06T11:00", "--json").success(t)
	out := decodeData[scheduling.Outcome](t, doc)
	if out.Appointment == nil {
		t.Fatalf("expected replacement appointment")
	}
	moved, _ := c.api.appointment(out.Appointment.ID)
	if !moved.StartDate.Equal(slot(6, 11, 0)) || !moved.EndDate.Equal(slot(6, 11, 30)) {
		t.Fatalf("unexpected replacement range: %s-%s", moved.StartDate, moved.EndDate)
	}
	if moved.PatientID != "pat-1" || moved.ProfessionalID != "pro-1" {
		t.Fatalf("replacement lost participants: %+v", moved)
	}
	if old, _ := c.api.appointment("a2"); !old.Status.Cancelled {
		t.Fatalf("original should be cancelled")
	}
	entries, _ := readHistory("default")
	if len(entries) != 1 || entries[0].Type != historyMove || entries[0].Prev == nil || entries[0].Next == nil {
		t.Fatalf("unexpected journal: %+v", entries)
	}
}

func TestAppointmentsMoveRestoresOriginalOnFailure(t *testing.T) {
	c := newCLI(t, contract.RoleAdmin)
	seedWeek(c)
	c.api.failOn(http.MethodPost, "/appointment", http.StatusInternalServerError, contract.MsgInternalServerError)

	env := c.run("appointments", "move", "a2", "--start", "2031-03-06T11:00", "--json").failure(t, exitGeneric)
	if env.Meta["restored"] != true {
		t.Fatalf("expected restored=true, got %v", env.Meta)
	}
	if a, _ := c.api.appointment("a2"); a.Status.Cancelled {
		t.Fatalf("original should have been restored")
	}
}

func TestAppointmentsMoveStrandedIsJournalled(t *testing.T) {
	c := newCLI(t, contract.RoleAdmin)
	seedWeek(c)
	c.api.failOn(http.MethodPost, "/appointment", http.StatusInternalServerError, contract.MsgInternalServerError)
	c.api.failAfter(http.MethodPut, "/appointment/{id}", 1, http.StatusInternalServerError, contract.MsgInternalServerError)

	env := c.run("appointments", "move", "a2", "--start", "2031-03-06T11:00", "--json").failure(t, exitGeneric)
	if env.Meta["stranded"] != true {
		t.Fatalf("expected stranded meta, got %v", env.Meta)
	}
	if a, _ := c.api.appointment("a2"); !a.Status.Cancelled {
		t.Fatalf("stranded original should still be cancelled")
	}

	doc := c.run("history", "list", "--stranded", "--json").success(t)
	entries := decodeData[[]historyEntry](t, doc)
	if len(entries) != 1 || !entries[0].Stranded {
		t.Fatalf("expected one stranded entry, got %+v", entries)
	}

	c.run("history", "undo", "--json").success(t)
	if a, _ := c.api.appointment("a2"); a.Status.Cancelled {
		t.Fatalf("undo should restore the stranded original")
	}
}

func TestAppointmentsMoveUnknownID(t *testing.T) {
	c := newCLI(t, contract.RoleAdmin)
	seedWeek(c)
	c.run("appointments", "move", "zzz", "--start", "2031-03-06T11:00", "--json").failure(t, exitNotFound)
}

func TestAppointmentsNotes(t *testing.T) {
	c := newCLI(t, contract.RolePatient)
	seedWeek(c)
	c.run("appointments", "notes", "a1", "--professional-notes", "x", "--json").failure(t, exitPermission)
	c.run("appointments", "notes", "a1", "--json").failure(t, exitUsage)

	c.run("appointments", "notes", "a1", "--notes", "bring results", "--json").success(t)
	if a, _ := c.api.appointment("a1"); a.Notes != "bring results" {
		t.Fatalf("notes not updated: %+v", a)
	}

	c.loginAs(contract.User{ID: "u2", ProfileID: "pro-2", Role: contract.RoleProfessional})
	c.run("appointments", "notes", "a1", "--notes", "bring results", "--professional-notes", "check bp", "--json").success(t)
	if a, _ := c.api.appointment("a1"); a.ProfessionalNotes != "check bp" {
		t.Fatalf("professional notes not updated: %+v", a)
	}
}

func TestAppointmentsConflicts(t *testing.T) {
	c := newCLI(t, contract.RoleProfessional)
	seedWeek(c)
	doc := c.run("appointments", "conflicts", "--person", "pro-1", "--start", "2031-03-04T10:15", "--duration", "30m", "--json").success(t)
	rep := decodeData[conflictReport](t, doc)
	if rep.Available || len(rep.Conflicts) != 1 || rep.Conflicts[0].ID != "a2" {
		t.Fatalf("expected a2 conflict: %+v", rep)
	}

	doc = c.run("appointments", "conflicts", "--person", "pro-1", "--start", "2031-03-04T10:15", "--duration", "30m", "--exclude", "a2", "--json").success(t)
	if rep = decodeData[conflictReport](t, doc); !rep.Available {
		t.Fatalf("excluded appointment still conflicts: %+v", rep)
	}

	// Touching ranges do not overlap.
	doc = c.run("appointments", "conflicts", "--person", "pro-1", "--kind", "professional", "--start", "2031-03-04T10:30", "--duration", "15m", "--json").success(t)
	if rep = decodeData[conflictReport](t, doc); !rep.Available {
		t.Fatalf("adjacent range reported as conflict: %+v", rep)
	}

	c.run("appointments", "conflicts", "--person", "pro-1", "--kind", "nurse", "--start", "2031-03-04T10:30", "--duration", "15m", "--json").failure(t, exitUsage)
}

func TestAppointmentFilterLimit(t *testing.T) {
	items := []contract.Appointment{
		{ID: "b", StartDate: slot(3, 9, 0), EndDate: slot(3, 10, 0)},
		{ID: "a", StartDate: slot(3, 9, 0), EndDate: slot(3, 10, 0)},
		{ID: "c", StartDate: slot(2, 9, 0), EndDate: slot(2, 10, 0)},
	}
	got := appointmentFilter{Limit: 2}.apply(items)
	if len(got) != 2 || got[0].ID != "c" || got[1].ID != "a" {
		t.Fatalf("unexpected order: %+v", got)
	}
}
