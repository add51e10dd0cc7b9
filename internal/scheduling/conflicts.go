// Package scheduling holds the appointment rules and the operations that
// create, cancel, move and annotate appointments through the backend.
package scheduling

import (
	"time"

	"github.com/agis/agenda/internal/contract"
)

// PersonKind selects which side of an appointment a person id is matched on.
type PersonKind string

const (
	PersonPatient      PersonKind = "patient"
	PersonProfessional PersonKind = "professional"
)

func ParsePersonKind(s string) (PersonKind, bool) {
	switch PersonKind(s) {
	case PersonPatient:
		return PersonPatient, true
	case PersonProfessional:
		return PersonProfessional, true
	}
	return "", false
}

// HasTimeOverlap treats both ranges as half-open, so ranges that only touch
// do not overlap.
func HasTimeOverlap(startA, endA, startB, endB time.Time) bool {
	return startA.Before(endB) && endA.After(startB)
}

// FindConflicts returns the non-cancelled appointments of personID that
// overlap [start, end). Any kind other than PersonPatient matches on the
// professional.
func FindConflicts(personID string, start, end time.Time, appts []contract.Appointment, kind PersonKind) []contract.Appointment {
	var out []contract.Appointment
	for _, a := range appts {
		if a.Status.Cancelled {
			continue
		}
		owner := a.ProfessionalID
		if kind == PersonPatient {
			owner = a.PatientID
		}
		if owner != personID {
			continue
		}
		if HasTimeOverlap(start, end, a.StartDate, a.EndDate) {
			out = append(out, a)
		}
	}
	return out
}

func FindPatientConflicts(patientID string, start, end time.Time, appts []contract.Appointment) []contract.Appointment {
	return FindConflicts(patientID, start, end, appts, PersonPatient)
}

func FindProfessionalConflicts(professionalID string, start, end time.Time, appts []contract.Appointment) []contract.Appointment {
	return FindConflicts(professionalID, start, end, appts, PersonProfessional)
}

func IsPersonAvailable(personID string, start, end time.Time, appts []contract.Appointment, kind PersonKind) bool {
	return len(FindConflicts(personID, start, end, appts, kind)) == 0
}
