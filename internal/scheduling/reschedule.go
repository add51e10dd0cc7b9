package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/agis/agenda/internal/apiclient"
	"github.com/agis/agenda/internal/contract"
)

// EventDrop describes an appointment dragged to a new time range. Revert, if
// set, undoes the move in whatever view triggered it.
type EventDrop struct {
	Appointment contract.Appointment
	NewStart    time.Time
	NewEnd      time.Time
	Revert      func()
}

// RescheduleError is returned when a move did not complete. With Stranded set
// the old appointment stayed cancelled and no replacement exists.
type RescheduleError struct {
	AppointmentID string
	Stranded      bool
	Err           error
	RollbackErr   error
}

func (e *RescheduleError) Error() string {
	if e.Stranded {
		return fmt.Sprintf("appointment %s was cancelled but its replacement could not be created (%v) and restoring it failed: %v", e.AppointmentID, e.Err, e.RollbackErr)
	}
	return fmt.Sprintf("reschedule of %s failed, original kept: %v", e.AppointmentID, e.Err)
}

func (e *RescheduleError) Unwrap() error { return e.Err }

// Reschedule cancels the dropped appointment and books a copy at the new time.
// The backend has no atomic move, so a failed create is compensated by
// un-cancelling the original. The create carries an idempotency key so a
// retried request cannot double-book.
func (s *Service) Reschedule(ctx context.Context, drop EventDrop) (Outcome, error) {
	old := drop.Appointment
	d := Draft{
		PatientID:      old.PatientID,
		ProfessionalID: old.ProfessionalID,
		Start:          drop.NewStart,
		End:            drop.NewEnd,
		Notes:          old.Notes,
	}
	if old.ID == "" {
		revert(drop)
		s.withAlert(func(a *contract.Alert) { ShowErrorMessage(a, ErrMissingID.Error()) })
		return Outcome{Code: contract.MsgOperationError}, nil
	}
	if out, ok := s.checkDraft(d); !ok {
		revert(drop)
		return out, nil
	}

	log := s.log.WithField("appointment_id", old.ID)
	if _, err := s.CancelAppointmentByID(ctx, old.ID); err != nil {
		revert(drop)
		s.withAlert(func(a *contract.Alert) { ShowError(a, err) })
		return Outcome{Code: codeOf(err)}, err
	}

	key := s.newKey()
	env, err := s.api.Post(ctx, AppointmentsPath, appointmentPayload{
		StartDate:      d.Start,
		EndDate:        d.End,
		PatientID:      d.PatientID,
		ProfessionalID: d.ProfessionalID,
		Notes:          d.Notes,
	}, apiclient.WithIdempotencyKey(key))
	if err != nil {
		log.WithError(err).WithField("idempotency_key", key).Warn("replacement create failed, restoring original")
		rerr := &RescheduleError{AppointmentID: old.ID, Err: err}
		if _, rbErr := s.restore(ctx, old.ID); rbErr != nil {
			rerr.Stranded = true
			rerr.RollbackErr = rbErr
			log.WithError(rbErr).Error("restore failed: " + describe(d))
		}
		revert(drop)
		s.withAlert(func(a *contract.Alert) { ShowError(a, rerr) })
		return Outcome{Code: codeOf(rerr)}, rerr
	}
	return s.finish(ctx, env, nil)
}

func revert(drop EventDrop) {
	if drop.Revert != nil {
		drop.Revert()
	}
}
