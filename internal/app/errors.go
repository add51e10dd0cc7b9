package app

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/agis/agenda/internal/apiclient"
	"github.com/agis/agenda/internal/contract"
	"github.com/agis/agenda/internal/output"
	"github.com/agis/agenda/internal/scheduling"
)

const (
	exitOK         = 0
	exitGeneric    = 1
	exitUsage      = 2
	exitAuth       = 3
	exitNotFound   = 4
	exitPermission = 5
	exitNetwork    = 6
	exitConflict   = 7
)

type AppError struct {
	Code    int
	Err     error
	Printed bool
}

func (e AppError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit code %d", e.Code)
	}
	return e.Err.Error()
}

func (e AppError) Unwrap() error { return e.Err }

func Wrap(code int, err error) error {
	if err == nil {
		return nil
	}
	return AppError{Code: code, Err: err}
}

func WrapPrinted(code int, err error) error {
	if err == nil {
		return nil
	}
	return AppError{Code: code, Err: err, Printed: true}
}

func ExitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var e AppError
	if errors.As(err, &e) {
		return e.Code
	}
	return exitGeneric
}

func failWithHint(p output.Printer, code contract.ErrorCode, err error, hint string, exit int) error {
	if err == nil {
		err = errors.New("unknown error")
	}
	_ = p.Error(code, err.Error(), hint)
	return WrapPrinted(exit, err)
}

// exitForMessage maps a backend message code, or failing that the HTTP
// status, to a process exit code.
func exitForMessage(code string, status int) int {
	switch code {
	case contract.MsgInvalidToken, contract.MsgInvalidCredentials, contract.MsgLoginFailed:
		return exitAuth
	case contract.MsgInsufficientPermissions:
		return exitPermission
	case contract.MsgNetworkError:
		return exitNetwork
	case contract.MsgAppointmentConflict:
		return exitConflict
	case contract.MsgValidationFailed:
		return exitUsage
	}
	switch status {
	case http.StatusUnauthorized:
		return exitAuth
	case http.StatusForbidden:
		return exitPermission
	case http.StatusNotFound:
		return exitNotFound
	case http.StatusConflict:
		return exitConflict
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return exitUsage
	}
	return exitGeneric
}

func hintForExit(code int) string {
	switch code {
	case exitAuth:
		return "Run `agenda login` to start a new session"
	case exitPermission:
		return "Your role does not allow this operation"
	case exitNetwork:
		return "Check --base-url and that the backend is reachable"
	case exitConflict:
		return "Pick another time; `agenda slots` lists free ones"
	case exitNotFound:
		return "Run `agenda appointments list` to see valid ids"
	}
	return ""
}

// failRequest prints a failed backend call and returns the matching exit.
// extra is merged into the error metadata.
func failRequest(p output.Printer, err error, extra map[string]any) error {
	exit := exitGeneric
	if ae, ok := apiclient.AsError(err); ok {
		exit = exitForMessage(ae.MessageCode, ae.StatusCode)
	}
	meta := requestErrorMeta(err)
	if len(extra) > 0 {
		if meta == nil {
			meta = map[string]any{}
		}
		for k, v := range extra {
			meta[k] = v
		}
	}
	_ = p.ErrorWithMeta(errorCodeForExit(exit), err.Error(), hintForExit(exit), meta)
	return WrapPrinted(exit, err)
}

// failError routes backend failures through failRequest and everything else
// through failWithHint.
func failError(p output.Printer, err error, hint string) error {
	if _, ok := apiclient.AsError(err); ok {
		return failRequest(p, err, nil)
	}
	return failWithHint(p, contract.ErrGeneric, err, hint, exitGeneric)
}

// failOutcome prints an operation that was rejected without a transport
// fault: invalid input or a detected conflict.
func failOutcome(p output.Printer, out scheduling.Outcome, extra map[string]any) error {
	exit := exitForMessage(out.Code, 0)
	if exit == exitGeneric {
		exit = exitUsage
	}
	msg := out.Code
	for i, d := range out.Details {
		if i == 0 {
			msg += ": "
		} else {
			msg += ", "
		}
		msg += d.Field + " " + d.Code
	}
	meta := map[string]any{"messageCode": out.Code}
	if len(out.Details) > 0 {
		meta["details"] = out.Details
	}
	if len(out.Conflicts) > 0 {
		ids := make([]string, 0, len(out.Conflicts))
		for _, c := range out.Conflicts {
			ids = append(ids, c.ID)
		}
		meta["conflicts"] = ids
		msg += fmt.Sprintf(": overlaps %d existing appointment(s)", len(ids))
	}
	for k, v := range extra {
		meta[k] = v
	}
	err := errors.New(msg)
	_ = p.ErrorWithMeta(errorCodeForExit(exit), msg, hintForExit(exit), meta)
	return WrapPrinted(exit, err)
}
