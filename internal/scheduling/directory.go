package scheduling

import (
	"context"
	"fmt"
	"net/url"

	"github.com/agis/agenda/internal/apiclient"
	"github.com/agis/agenda/internal/contract"
	"github.com/agis/agenda/internal/validate"
)

func (s *Service) FetchAppointments(ctx context.Context) ([]contract.Appointment, error) {
	return fetchList[contract.Appointment](ctx, s.api, AppointmentsPath)
}

func (s *Service) FetchPatients(ctx context.Context) ([]contract.Patient, error) {
	return fetchList[contract.Patient](ctx, s.api, PatientsPath)
}

func (s *Service) FetchProfessionals(ctx context.Context) ([]contract.Professional, error) {
	return fetchList[contract.Professional](ctx, s.api, ProfessionalsPath)
}

// fetchList never returns a nil slice on success; a response without data is
// an empty list.
func fetchList[T any](ctx context.Context, api Gateway, path string) ([]T, error) {
	env, err := api.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	out := []T{}
	if err := env.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return out, nil
}

// Person is the editable part of a patient or professional record.
type Person struct {
	Name      string
	Surname   string
	Email     string
	Phone     string
	DNI       string
	Specialty string
	Password  string
}

func (p Person) payload(withSpecialty bool) map[string]any {
	m := map[string]any{
		"name":     p.Name,
		"surname":  p.Surname,
		"email":    p.Email,
		"phone":    p.Phone,
		"dni":      p.DNI,
		"password": p.Password,
	}
	if withSpecialty {
		m["specialty"] = p.Specialty
	}
	return validate.CleanEmpty(m)
}

func (p Person) createFields() []validate.Field {
	return []validate.Field{
		{Name: "name", Value: p.Name, Rules: []validate.Rule{validate.Required, validate.AcceptedLength(3, 50)}},
		{Name: "surname", Value: p.Surname, Rules: []validate.Rule{validate.Required, validate.AcceptedLength(3, 50)}},
		{Name: "email", Value: p.Email, Rules: []validate.Rule{validate.Email}},
		{Name: "phone", Value: p.Phone, Rules: []validate.Rule{validate.Optional(validate.Phone)}},
		{Name: "dni", Value: p.DNI, Rules: []validate.Rule{validate.DNI}},
		{Name: "password", Value: p.Password, Rules: []validate.Rule{validate.Optional(validate.Password(validate.MinPasswordLength))}},
	}
}

// updateFields only checks the fields that were filled in.
func (p Person) updateFields() []validate.Field {
	return []validate.Field{
		{Name: "name", Value: p.Name, Rules: []validate.Rule{validate.AcceptedLength(3, 50)}},
		{Name: "surname", Value: p.Surname, Rules: []validate.Rule{validate.AcceptedLength(3, 50)}},
		{Name: "email", Value: p.Email, Rules: []validate.Rule{validate.Optional(validate.Email)}},
		{Name: "phone", Value: p.Phone, Rules: []validate.Rule{validate.Optional(validate.Phone)}},
		{Name: "dni", Value: p.DNI, Rules: []validate.Rule{validate.Optional(validate.DNI)}},
		{Name: "password", Value: p.Password, Rules: []validate.Rule{validate.Optional(validate.Password(validate.MinPasswordLength))}},
	}
}

func (s *Service) CreatePatient(ctx context.Context, p Person) (Outcome, error) {
	return s.savePerson(ctx, PatientsPath, "", p, false)
}

func (s *Service) UpdatePatient(ctx context.Context, id string, p Person) (Outcome, error) {
	return s.savePerson(ctx, PatientsPath, id, p, false)
}

func (s *Service) DeletePatient(ctx context.Context, id string) (Outcome, error) {
	return s.deleteRecord(ctx, PatientsPath, id)
}

func (s *Service) CreateProfessional(ctx context.Context, p Person) (Outcome, error) {
	return s.savePerson(ctx, ProfessionalsPath, "", p, true)
}

func (s *Service) UpdateProfessional(ctx context.Context, id string, p Person) (Outcome, error) {
	return s.savePerson(ctx, ProfessionalsPath, id, p, true)
}

func (s *Service) DeleteProfessional(ctx context.Context, id string) (Outcome, error) {
	return s.deleteRecord(ctx, ProfessionalsPath, id)
}

func (s *Service) savePerson(ctx context.Context, base, id string, p Person, professional bool) (Outcome, error) {
	fields := p.createFields()
	if id != "" {
		fields = p.updateFields()
	}
	if issues := validate.Check(fields...); len(issues) > 0 {
		details := issueDetails(issues)
		s.withAlert(func(a *contract.Alert) { ShowValidationErrors(a, details...) })
		return Outcome{Code: contract.MsgValidationFailed, Details: details}, nil
	}
	body := p.payload(professional)
	var (
		env apiclient.Envelope
		err error
	)
	if id == "" {
		env, err = s.api.Post(ctx, base, body)
	} else {
		if len(body) == 0 {
			details := []contract.FieldDetail{{Field: "*", Code: validate.CodeRequired}}
			s.withAlert(func(a *contract.Alert) { ShowValidationErrors(a, details...) })
			return Outcome{Code: contract.MsgValidationFailed, Details: details}, nil
		}
		env, err = s.api.Put(ctx, base+"/"+url.PathEscape(id), body)
	}
	return s.finishRecord(env, err)
}

func (s *Service) deleteRecord(ctx context.Context, base, id string) (Outcome, error) {
	if id == "" {
		details := []contract.FieldDetail{{Field: "id", Code: validate.CodeRequired}}
		s.withAlert(func(a *contract.Alert) { ShowValidationErrors(a, details...) })
		return Outcome{Code: contract.MsgValidationFailed, Details: details}, nil
	}
	env, err := s.api.Delete(ctx, base+"/"+url.PathEscape(id))
	return s.finishRecord(env, err)
}

// finishRecord is finish without the appointment refresh.
func (s *Service) finishRecord(env apiclient.Envelope, err error) (Outcome, error) {
	if err != nil {
		s.withAlert(func(a *contract.Alert) { ShowError(a, err) })
		return Outcome{Code: codeOf(err)}, err
	}
	s.withAlert(func(a *contract.Alert) { ShowSuccess(a, env) })
	return Outcome{Accepted: true, Code: env.MessageCode}, nil
}
