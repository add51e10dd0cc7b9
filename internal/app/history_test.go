package app

import (
	"context"
	"testing"
	"time"

	"github.com/agis/agenda/internal/contract"
)

func TestHistoryAppendRead(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	if err := appendHistory("default", historyEntry{At: time.Now().UTC(), Type: historyCancel, AppointmentID: "a1"}); err != nil {
		t.Fatalf("appendHistory failed: %v", err)
	}
	entries, err := readHistory("default")
	if err != nil {
		t.Fatalf("readHistory failed: %v", err)
	}
	if len(entries) != 1 || entries[0].AppointmentID != "a1" || entries[0].OpID == "" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
	if other, _ := readHistory("work"); len(other) != 0 {
		t.Fatalf("profiles must not share a journal: %+v", other)
	}
}

func TestHistoryPageReadsNewest(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	for _, id := range []string{"a1", "a2", "a3"} {
		if err := appendHistory("default", historyEntry{Type: historyCancel, AppointmentID: id}); err != nil {
			t.Fatal(err)
		}
	}
	page, more, err := readHistoryPage("default", 2, 0)
	if err != nil {
		t.Fatalf("readHistoryPage failed: %v", err)
	}
	if len(page) != 2 || !more || page[0].AppointmentID != "a2" || page[1].AppointmentID != "a3" {
		t.Fatalf("unexpected page: %+v more=%t", page, more)
	}
}

func TestUndoSkipsEntriesItCannotRevert(t *testing.T) {
	c := newCLI(t, contract.RoleAdmin)
	seedWeek(c)
	c.run("appointments", "cancel", "a1", "--yes", "--json").success(t)
	if err := appendHistory("default", historyEntry{Type: historyPatientAdd}); err != nil {
		t.Fatal(err)
	}

	doc := c.run("history", "undo", "--json").success(t)
	if doc.Meta["undone"] != true || doc.Meta["appointment_id"] != "a1" {
		t.Fatalf("unexpected undo meta: %v", doc.Meta)
	}
	if a, _ := c.api.appointment("a1"); a.Status.Cancelled {
		t.Fatalf("cancel was not undone")
	}
	entries, _ := readHistory("default")
	if len(entries) != 1 || entries[0].Type != historyPatientAdd {
		t.Fatalf("only the undone entry should be removed: %+v", entries)
	}
	c.run("history", "undo", "--json").failure(t, exitGeneric)
}

func TestUndoBookCancelsIt(t *testing.T) {
	c := newCLI(t, contract.RoleAdmin)
	doc := c.run("appointments", "book", "--patient", "pat-1", "--professional", "pro-1", "--start", "2031-03-03T09:00", "--duration", "30m", "--json").success(t)
	id := decodeData[struct {
		Appointment contract.Appointment `json:"appointment"`
	}](t, doc).Appointment.ID

	entry, meta, err := undoLastHistory(context.Background(), nil, "default", true)
	if err != nil || meta["dry_run"] != true || entry.Next == nil || entry.Next.ID != id {
		t.Fatalf("unexpected dry run: %+v %v %v", entry, meta, err)
	}

	c.run("history", "undo", "--json").success(t)
	if a, _ := c.api.appointment(id); !a.Status.Cancelled {
		t.Fatalf("booking should be cancelled by undo")
	}
}

func TestHistoryListRejectsBadLimit(t *testing.T) {
	c := newCLI(t, "")
	c.run("history", "list", "--limit", "0", "--json").failure(t, exitUsage)
}
