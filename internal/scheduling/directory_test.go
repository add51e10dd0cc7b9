package scheduling

import (
	"context"
	"net/http"
	"testing"

	"github.com/agis/agenda/internal/contract"
	"github.com/agis/agenda/internal/validate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchAppointmentsFromBareArray(t *testing.T) {
	b := newFakeBackend()
	b.seed(contract.Appointment{ID: "a1", PatientID: "p", ProfessionalID: "q", StartDate: at(9, 0), EndDate: at(10, 0)})
	svc := newTestService(t, b)

	got, err := svc.FetchAppointments(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a1", got[0].ID)
}

func TestFetchWithoutDataIsEmptyList(t *testing.T) {
	svc := newTestService(t, newFakeBackend())
	got, err := svc.FetchProfessionals(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestFetchPatientsReadsEnvelopeData(t *testing.T) {
	b := newFakeBackend()
	b.patients = []contract.Patient{{ID: "p1", Name: "Ana"}}
	svc := newTestService(t, b)
	got, err := svc.FetchPatients(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []contract.Patient{{ID: "p1", Name: "Ana"}}, got)
}

func TestFetchPropagatesErrors(t *testing.T) {
	b := newFakeBackend()
	b.failOn(http.MethodGet, "/patients", http.StatusForbidden, "")
	svc := newTestService(t, b)
	_, err := svc.FetchPatients(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), contract.MsgInsufficientPermissions)
}

func TestCreatePatientValidatesBeforeSending(t *testing.T) {
	b := newFakeBackend()
	svc := newTestService(t, b)
	out, err := svc.CreatePatient(context.Background(), Person{Name: "Ana", Surname: "López", Email: "nope", DNI: "12345678Z"})
	require.NoError(t, err)
	assert.False(t, out.Accepted)
	assert.Equal(t, []contract.FieldDetail{{Field: "email", Code: validate.CodeEmailFormat}}, out.Details)
	assert.Empty(t, b.requests())
}

func TestCreatePatientDropsEmptyFields(t *testing.T) {
	b := newFakeBackend()
	svc := newTestService(t, b)
	out, err := svc.CreatePatient(context.Background(), Person{Name: "Ana", Surname: "López", Email: "ana@clinic.es", DNI: "12345678Z"})
	require.NoError(t, err)
	assert.True(t, out.Accepted)
	assert.Equal(t, "PATIENT_CREATED", out.Code)
	body := b.requests()[0].Body
	assert.Equal(t, map[string]any{"name": "Ana", "surname": "López", "email": "ana@clinic.es", "dni": "12345678Z"}, body)
}

func TestUpdatePatientSendsPartialBody(t *testing.T) {
	b := newFakeBackend()
	svc := newTestService(t, b)
	out, err := svc.UpdatePatient(context.Background(), "p1", Person{Phone: "+34600111222"})
	require.NoError(t, err)
	assert.True(t, out.Accepted)
	req := b.requests()[0]
	assert.Equal(t, http.MethodPut, req.Method)
	assert.Equal(t, "/patients/p1", req.Path)
	assert.Equal(t, map[string]any{"phone": "+34600111222"}, req.Body)

	out, err = svc.UpdatePatient(context.Background(), "p1", Person{})
	require.NoError(t, err)
	assert.False(t, out.Accepted)
	assert.Len(t, b.requests(), 1)
}

func TestDeletePatientNoContent(t *testing.T) {
	b := newFakeBackend()
	svc := newTestService(t, b)
	out, err := svc.DeletePatient(context.Background(), "p1")
	require.NoError(t, err)
	assert.True(t, out.Accepted)
	assert.Equal(t, contract.MsgOperationSuccess, out.Code)
}

func TestCreateProfessionalCarriesSpecialty(t *testing.T) {
	b := newFakeBackend()
	svc := newTestService(t, b)
	_, err := svc.CreateProfessional(context.Background(), Person{Name: "Luis", Surname: "Mora", Email: "luis@clinic.es", DNI: "X1234567L", Specialty: "dermatology"})
	require.NoError(t, err)
	assert.Equal(t, "dermatology", b.requests()[0].Body["specialty"])
}
