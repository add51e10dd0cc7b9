package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/agis/agenda/internal/contract"
	"github.com/agis/agenda/internal/scheduling"
	"github.com/google/uuid"
)

// Journal entry types.
const (
	historyBook          = "book"
	historyCancel        = "cancel"
	historyMove          = "move"
	historyNotes         = "notes"
	historyPatientAdd    = "patient.add"
	historyPatientUpdate = "patient.update"
	historyPatientDelete = "patient.delete"
	historyProAdd        = "professional.add"
	historyProUpdate     = "professional.update"
	historyProDelete     = "professional.delete"
)

type historyEntry struct {
	At            time.Time             `json:"at"`
	Type          string                `json:"type"`
	TxID          string                `json:"tx_id,omitempty"`
	OpID          string                `json:"op_id,omitempty"`
	AppointmentID string                `json:"appointment_id,omitempty"`
	RecordID      string                `json:"record_id,omitempty"`
	MessageCode   string                `json:"message_code,omitempty"`
	Stranded      bool                  `json:"stranded,omitempty"`
	Prev          *contract.Appointment `json:"prev,omitempty"`
	Next          *contract.Appointment `json:"next,omitempty"`
}

func historyFilePath(profile string) string {
	dir := configDir()
	if strings.TrimSpace(dir) == "" {
		return ""
	}
	return filepath.Join(dir, "history", profile+".jsonl")
}

func appendHistory(profile string, entry historyEntry) error {
	path := historyFilePath(profile)
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	if entry.At.IsZero() {
		entry.At = time.Now().UTC()
	}
	if entry.OpID == "" {
		entry.OpID = uuid.NewString()
	}
	b, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(append(b, '\n'))
	return err
}

func readHistory(profile string) ([]historyEntry, error) {
	path := historyFilePath(profile)
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	out := make([]historyEntry, 0, len(lines))
	for _, line := range lines {
		s := strings.TrimSpace(line)
		if s == "" {
			continue
		}
		var e historyEntry
		if err := json.Unmarshal([]byte(s), &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// readHistoryPage reads the newest entries from the end of the file without
// loading all of it. Entries come back oldest first.
func readHistoryPage(profile string, limit, offset int) ([]historyEntry, bool, error) {
	if limit <= 0 {
		limit = 10
	}
	if offset < 0 {
		return nil, false, fmt.Errorf("offset must be >= 0")
	}
	path := historyFilePath(profile)
	if path == "" {
		return nil, false, nil
	}
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, false, err
	}
	if info.Size() == 0 {
		return nil, false, nil
	}

	need := limit + offset + 1
	desc := make([]historyEntry, 0, need)
	pos := info.Size()
	remainder := ""
	buf := make([]byte, 8192)
	for pos > 0 && len(desc) < need {
		n := int64(len(buf))
		if n > pos {
			n = pos
		}
		pos -= n
		if _, err := f.ReadAt(buf[:n], pos); err != nil && err != io.EOF {
			return nil, false, err
		}
		chunk := string(buf[:n]) + remainder
		parts := strings.Split(chunk, "\n")
		remainder = parts[0]
		for i := len(parts) - 1; i >= 1 && len(desc) < need; i-- {
			s := strings.TrimSpace(parts[i])
			if s == "" {
				continue
			}
			var e historyEntry
			if err := json.Unmarshal([]byte(s), &e); err != nil {
				continue
			}
			desc = append(desc, e)
		}
	}
	if pos == 0 {
		s := strings.TrimSpace(remainder)
		if s != "" && len(desc) < need {
			var e historyEntry
			if err := json.Unmarshal([]byte(s), &e); err == nil {
				desc = append(desc, e)
			}
		}
	}

	if len(desc) <= offset {
		return nil, false, nil
	}
	end := offset + limit
	if end > len(desc) {
		end = len(desc)
	}
	slice := desc[offset:end]
	out := make([]historyEntry, 0, len(slice))
	for i := len(slice) - 1; i >= 0; i-- {
		out = append(out, slice[i])
	}
	hasMore := len(desc) > end
	return out, hasMore, nil
}

func writeHistory(profile string, entries []historyEntry) error {
	path := historyFilePath(profile)
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	var b strings.Builder
	for _, e := range entries {
		line, err := json.Marshal(e)
		if err != nil {
			return err
		}
		b.Write(line)
		b.WriteByte('\n')
	}
	return os.WriteFile(path, []byte(b.String()), 0o600)
}

func undoable(kind string) bool {
	return kind == historyBook || kind == historyCancel || kind == historyMove
}

// undoLastHistory reverts the newest appointment entry, skipping directory
// and notes entries. A stranded move is undone by restoring the cancelled
// original.
func undoLastHistory(ctx context.Context, svc *scheduling.Service, profile string, dryRun bool) (historyEntry, map[string]any, error) {
	entries, err := readHistory(profile)
	if err != nil {
		return historyEntry{}, nil, err
	}
	idx := -1
	for i := len(entries) - 1; i >= 0; i-- {
		if undoable(entries[i].Type) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return historyEntry{}, nil, fmt.Errorf("no undoable appointment entry in history")
	}
	last := entries[idx]
	meta := map[string]any{"type": last.Type, "appointment_id": last.AppointmentID}
	if dryRun {
		meta["dry_run"] = true
		return last, meta, nil
	}

	var steps []func() (scheduling.Outcome, error)
	cancel := func(id string) func() (scheduling.Outcome, error) {
		return func() (scheduling.Outcome, error) { return svc.CancelAppointment(ctx, id) }
	}
	restore := func(id string) func() (scheduling.Outcome, error) {
		return func() (scheduling.Outcome, error) { return svc.RestoreAppointment(ctx, id) }
	}
	switch last.Type {
	case historyBook:
		if last.Next == nil || last.Next.ID == "" {
			return historyEntry{}, nil, fmt.Errorf("invalid book history entry")
		}
		steps = append(steps, cancel(last.Next.ID))
	case historyCancel:
		if last.AppointmentID == "" {
			return historyEntry{}, nil, fmt.Errorf("invalid cancel history entry")
		}
		steps = append(steps, restore(last.AppointmentID))
	case historyMove:
		if last.Prev == nil || last.Prev.ID == "" {
			return historyEntry{}, nil, fmt.Errorf("invalid move history entry")
		}
		if !last.Stranded {
			if last.Next == nil || last.Next.ID == "" {
				return historyEntry{}, nil, fmt.Errorf("move history entry has no replacement")
			}
			steps = append(steps, cancel(last.Next.ID))
		}
		steps = append(steps, restore(last.Prev.ID))
	default:
		return historyEntry{}, nil, fmt.Errorf("unsupported history type: %s", last.Type)
	}

	for _, step := range steps {
		out, err := step()
		if err != nil {
			return historyEntry{}, nil, err
		}
		if !out.Accepted {
			return historyEntry{}, nil, fmt.Errorf("undo rejected: %s", out.Code)
		}
	}
	kept := append(entries[:idx:idx], entries[idx+1:]...)
	if err := writeHistory(profile, kept); err != nil {
		return historyEntry{}, nil, err
	}
	meta["undone"] = true
	return last, meta, nil
}
