package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/agis/agenda/internal/apiclient"
)

type requestContextError struct {
	Phase    string
	Kind     string
	Deadline *time.Time
	Err      error
}

func (e *requestContextError) Error() string {
	if e == nil {
		return "request error"
	}
	switch e.Kind {
	case "timeout":
		if e.Deadline != nil {
			return fmt.Sprintf("%s timed out after deadline %s: %v", e.Phase, e.Deadline.Format(time.RFC3339), e.Err)
		}
		return fmt.Sprintf("%s timed out: %v", e.Phase, e.Err)
	case "canceled":
		return fmt.Sprintf("%s canceled: %v", e.Phase, e.Err)
	default:
		return e.Err.Error()
	}
}

func (e *requestContextError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func annotateRequestError(ctx context.Context, phase string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		var dl *time.Time
		if deadline, ok := ctx.Deadline(); ok {
			deadline = deadline.UTC()
			dl = &deadline
		}
		return &requestContextError{
			Phase:    phase,
			Kind:     "timeout",
			Deadline: dl,
			Err:      err,
		}
	}
	if errors.Is(err, context.Canceled) {
		return &requestContextError{
			Phase: phase,
			Kind:  "canceled",
			Err:   err,
		}
	}
	return err
}

func requestErrorMeta(err error) map[string]any {
	meta := map[string]any{}
	var re *requestContextError
	if errors.As(err, &re) && re != nil {
		meta["phase"] = re.Phase
		meta["kind"] = re.Kind
		if re.Deadline != nil {
			meta["deadline"] = re.Deadline.Format(time.RFC3339)
		}
	}
	if ae, ok := apiclient.AsError(err); ok {
		meta["messageCode"] = ae.MessageCode
		if ae.StatusCode != 0 {
			meta["status"] = ae.StatusCode
		}
		if len(ae.Details) > 0 {
			meta["details"] = ae.Details
		}
	}
	if len(meta) == 0 {
		return nil
	}
	return meta
}
