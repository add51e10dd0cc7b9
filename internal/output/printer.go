package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/agis/agenda/internal/contract"
	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
)

type Mode string

const (
	ModeAuto  Mode = "auto"
	ModeJSON  Mode = "json"
	ModeJSONL Mode = "jsonl"
	ModePlain Mode = "plain"
)

type Printer struct {
	Mode          Mode
	Command       string
	Fields        []string
	Quiet         bool
	NoColor       bool
	SchemaVersion string

	Out io.Writer
	Err io.Writer
	Now func() time.Time
}

func (p Printer) out() io.Writer {
	if p.Out == nil {
		return os.Stdout
	}
	return p.Out
}

func (p Printer) err() io.Writer {
	if p.Err == nil {
		return os.Stderr
	}
	return p.Err
}

func (p Printer) now() time.Time {
	if p.Now == nil {
		return time.Now()
	}
	return p.Now()
}

// EffectiveSuccessMode resolves auto: plain on a terminal, JSON when piped.
func (p Printer) EffectiveSuccessMode() Mode {
	if p.Mode != ModeAuto && p.Mode != "" {
		return p.Mode
	}
	if isTerminal(p.out()) {
		return ModePlain
	}
	return ModeJSON
}

func (p Printer) Structured() bool {
	m := p.EffectiveSuccessMode()
	return m == ModeJSON || m == ModeJSONL
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (p Printer) Success(data any, meta map[string]any, warnings []string) error {
	if warnings == nil {
		warnings = []string{}
	}
	if meta == nil {
		meta = map[string]any{}
	}
	switch p.EffectiveSuccessMode() {
	case ModeJSON:
		env := contract.SuccessEnvelope{
			SchemaVersion: p.schemaVersion(),
			Command:       p.Command,
			GeneratedAt:   p.now().UTC(),
			Data:          data,
			Meta:          meta,
			Warnings:      warnings,
		}
		enc := json.NewEncoder(p.out())
		enc.SetIndent("", "  ")
		return enc.Encode(env)
	case ModeJSONL:
		v := reflect.ValueOf(data)
		if v.IsValid() && v.Kind() == reflect.Slice {
			enc := json.NewEncoder(p.out())
			for i := 0; i < v.Len(); i++ {
				if err := enc.Encode(v.Index(i).Interface()); err != nil {
					return err
				}
			}
			return nil
		}
		return json.NewEncoder(p.out()).Encode(data)
	default:
		for _, w := range warnings {
			_, _ = fmt.Fprintf(p.err(), "%s %s\n", p.paint("warning:", colorYellow), w)
		}
		return p.printPlain(data)
	}
}

func (p Printer) Error(code contract.ErrorCode, message, hint string) error {
	return p.ErrorWithMeta(code, message, hint, nil)
}

func (p Printer) ErrorWithMeta(code contract.ErrorCode, message, hint string, meta map[string]any) error {
	if p.Structured() {
		env := contract.ErrorEnvelope{
			SchemaVersion: p.schemaVersion(),
			Error:         contract.ErrorBody{Code: code, Message: message, Hint: hint},
			Meta:          meta,
		}
		enc := json.NewEncoder(p.err())
		enc.SetIndent("", "  ")
		return enc.Encode(env)
	}
	_, _ = fmt.Fprintf(p.err(), "%s %s\n", p.paint("error:", colorRed), message)
	if hint != "" {
		_, _ = fmt.Fprintf(p.err(), "hint: %s\n", hint)
	}
	return nil
}

// Alert renders the operation result banner in plain mode. Structured modes
// carry the alert inside the success envelope instead.
func (p Printer) Alert(a contract.Alert) {
	if !a.Show || p.Quiet || p.Structured() {
		return
	}
	label, color := "ok:", colorGreen
	if a.Type == contract.MessageError {
		label, color = "failed:", colorRed
	}
	line := a.MessageCode
	if a.Message != "" {
		line += " (" + a.Message + ")"
	}
	_, _ = fmt.Fprintf(p.err(), "%s %s\n", p.paint(label, color), line)
	for _, d := range a.Details {
		_, _ = fmt.Fprintf(p.err(), "  %s: %s\n", d.Field, d.Code)
	}
}

func (p Printer) schemaVersion() string {
	if p.SchemaVersion == "" {
		return contract.SchemaVersion
	}
	return p.SchemaVersion
}

const (
	colorRed    = "31"
	colorGreen  = "32"
	colorYellow = "33"
)

func (p Printer) paint(s, color string) string {
	if p.NoColor || os.Getenv("NO_COLOR") != "" || !isTerminal(p.err()) {
		return s
	}
	return "\x1b[" + color + "m" + s + "\x1b[0m"
}

func (p Printer) printPlain(data any) error {
	v := reflect.ValueOf(data)
	if v.IsValid() && v.Kind() == reflect.Pointer && !v.IsNil() {
		v = v.Elem()
		data = v.Interface()
	}
	if !v.IsValid() || (v.Kind() == reflect.Slice && v.Len() == 0) {
		if !p.Quiet {
			_, _ = fmt.Fprintln(p.out(), "no results")
		}
		return nil
	}
	if v.Kind() == reflect.Slice {
		for i := 0; i < v.Len(); i++ {
			if _, err := fmt.Fprintln(p.out(), p.flatten(v.Index(i).Interface())); err != nil {
				return err
			}
		}
		return nil
	}
	_, err := fmt.Fprintln(p.out(), p.flatten(data))
	return err
}

func (p Printer) flatten(v any) string {
	return flattenAt(v, p.Fields, p.now())
}

func flatten(v any, fields []string) string {
	return flattenAt(v, fields, time.Time{})
}

// flattenAt renders the selected fields tab-separated. Time fields gain a
// relative suffix ("in 2 hours") when now is set.
func flattenAt(v any, fields []string, now time.Time) string {
	if len(fields) == 0 {
		b, _ := json.Marshal(v)
		return string(b)
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		b, _ := json.Marshal(v)
		return string(b)
	}
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		fv := rv.FieldByNameFunc(func(name string) bool {
			return strings.EqualFold(name, strings.ReplaceAll(f, "_", "")) || strings.EqualFold(name, f)
		})
		if !fv.IsValid() {
			parts = append(parts, "")
			continue
		}
		parts = append(parts, formatValue(fv.Interface(), now))
	}
	return strings.Join(parts, "\t")
}

func formatValue(v any, now time.Time) string {
	switch t := v.(type) {
	case time.Time:
		if t.IsZero() {
			return ""
		}
		s := t.Format("2006-01-02 15:04")
		if !now.IsZero() {
			s += " (" + humanize.RelTime(t, now, "ago", "from now") + ")"
		}
		return s
	case contract.AppointmentStatus:
		if t.Cancelled {
			return "cancelled"
		}
		return "active"
	default:
		return fmt.Sprint(v)
	}
}

// Relative is the humanized distance between t and now.
func Relative(t, now time.Time) string {
	return humanize.RelTime(t, now, "ago", "from now")
}
