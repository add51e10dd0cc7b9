package scheduling

import (
	"errors"

	"github.com/agis/agenda/internal/apiclient"
	"github.com/agis/agenda/internal/contract"
	"github.com/agis/agenda/internal/validate"
)

// ShowSuccess fills the alert from a successful response. A nil alert is ignored.
func ShowSuccess(alert *contract.Alert, env apiclient.Envelope) {
	if alert == nil {
		return
	}
	code := env.MessageCode
	if code == "" {
		code = contract.MsgOperationSuccess
	}
	*alert = contract.Alert{
		Show:        true,
		Type:        contract.MessageSuccess,
		MessageCode: code,
		Message:     env.Message,
		Details:     env.Details,
		Params:      paramsOrEmpty(env.Params),
	}
}

// ShowError fills the alert from a failure. Structured errors keep their code
// and details; anything else is reported as INTERNAL_SERVER_ERROR.
func ShowError(alert *contract.Alert, err error) {
	if alert == nil {
		return
	}
	next := contract.Alert{
		Show:        true,
		Type:        contract.MessageError,
		MessageCode: contract.MsgInternalServerError,
		Params:      map[string]any{},
	}
	var re *RescheduleError
	var ve *validate.Error
	switch {
	case err == nil:
	case errors.As(err, &re) && re.Stranded:
		next.MessageCode = contract.MsgReschedulePartial
		next.Message = re.Error()
		next.Params = map[string]any{"appointmentId": re.AppointmentID}
	case errors.As(err, &ve):
		next.MessageCode = contract.MsgValidationFailed
		next.Details = issueDetails(ve.Issues)
	default:
		if ae, ok := apiclient.AsError(err); ok {
			next.MessageCode = ae.MessageCode
			next.Message = ae.Message
			next.Details = ae.Details
		} else {
			next.Message = err.Error()
		}
	}
	*alert = next
}

// ShowErrorMessage reports a local failure that has no structured code.
func ShowErrorMessage(alert *contract.Alert, msg string) {
	if alert == nil {
		return
	}
	*alert = contract.Alert{
		Show:        true,
		Type:        contract.MessageError,
		MessageCode: contract.MsgOperationError,
		Message:     msg,
		Params:      map[string]any{},
	}
}

func ShowValidationErrors(alert *contract.Alert, details ...contract.FieldDetail) {
	if alert == nil {
		return
	}
	*alert = contract.Alert{
		Show:        true,
		Type:        contract.MessageError,
		MessageCode: contract.MsgValidationFailed,
		Details:     details,
		Params:      map[string]any{},
	}
}

func ResetAlert(alert *contract.Alert) {
	if alert == nil {
		return
	}
	*alert = contract.Alert{Type: contract.MessageSuccess, Params: map[string]any{}}
}

func paramsOrEmpty(p map[string]any) map[string]any {
	if p == nil {
		return map[string]any{}
	}
	return p
}

func issueDetails(issues []validate.Issue) []contract.FieldDetail {
	if len(issues) == 0 {
		return nil
	}
	out := make([]contract.FieldDetail, 0, len(issues))
	for _, is := range issues {
		out = append(out, contract.FieldDetail{Field: is.Field, Code: is.Code})
	}
	return out
}
