package app

import (
	"context"
	"strings"

	"github.com/agis/agenda/internal/contract"
	"github.com/agis/agenda/internal/output"
	"github.com/agis/agenda/internal/scheduling"
	"github.com/spf13/cobra"
)

// directoryKind describes one of the two person collections. The commands
// are identical apart from the service calls and the specialty field.
type directoryKind struct {
	name      string
	plural    string
	specialty bool
	fields    []string
	hist      struct{ add, update, del string }
	list      func(*scheduling.Service, context.Context) (any, int, error)
	create    func(*scheduling.Service, context.Context, scheduling.Person) (scheduling.Outcome, error)
	update    func(*scheduling.Service, context.Context, string, scheduling.Person) (scheduling.Outcome, error)
	remove    func(*scheduling.Service, context.Context, string) (scheduling.Outcome, error)
}

var patientsKind = directoryKind{
	name:   "patient",
	plural: "patients",
	fields: []string{"id", "name", "surname", "email", "phone", "dni"},
	hist:   struct{ add, update, del string }{historyPatientAdd, historyPatientUpdate, historyPatientDelete},
	list: func(s *scheduling.Service, ctx context.Context) (any, int, error) {
		items, err := s.FetchPatients(ctx)
		return items, len(items), err
	},
	create: (*scheduling.Service).CreatePatient,
	update: (*scheduling.Service).UpdatePatient,
	remove: (*scheduling.Service).DeletePatient,
}

var professionalsKind = directoryKind{
	name:      "professional",
	plural:    "professionals",
	specialty: true,
	fields:    []string{"id", "name", "surname", "specialty", "email", "phone"},
	hist:      struct{ add, update, del string }{historyProAdd, historyProUpdate, historyProDelete},
	list: func(s *scheduling.Service, ctx context.Context) (any, int, error) {
		items, err := s.FetchProfessionals(ctx)
		return items, len(items), err
	},
	create: (*scheduling.Service).CreateProfessional,
	update: (*scheduling.Service).UpdateProfessional,
	remove: (*scheduling.Service).DeleteProfessional,
}

func newPatientsCmd(opts *globalOptions) *cobra.Command {
	return newDirectoryCmd(opts, patientsKind)
}

func newProfessionalsCmd(opts *globalOptions) *cobra.Command {
	return newDirectoryCmd(opts, professionalsKind)
}

func newDirectoryCmd(opts *globalOptions, k directoryKind) *cobra.Command {
	cmd := &cobra.Command{
		Use:   k.plural,
		Short: "List and manage " + k.plural,
	}
	cmd.AddCommand(newDirectoryListCmd(opts, k))
	cmd.AddCommand(newDirectoryAddCmd(opts, k))
	cmd.AddCommand(newDirectoryUpdateCmd(opts, k))
	cmd.AddCommand(newDirectoryDeleteCmd(opts, k))
	return cmd
}

func newDirectoryListCmd(opts *globalOptions, k directoryKind) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List " + k.plural,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, rt, ro, err := buildContext(cmd, opts, k.plural+".list")
			if err != nil {
				return err
			}
			defer rt.Close()
			if err := rt.requireRole(p); err != nil {
				return err
			}
			ctx, cancel := commandContext(ro)
			defer cancel()
			items, n, err := k.list(rt.sched, ctx)
			if err != nil {
				return failRequest(p, err, nil)
			}
			plainFields(&p, k.fields)
			return successWithMeta(ctx, p, ro, items, map[string]any{"count": n}, nil)
		},
	}
}

type personFlags struct {
	person        scheduling.Person
	passwordStdin bool
}

func (f *personFlags) bind(cmd *cobra.Command, k directoryKind) {
	cmd.Flags().StringVar(&f.person.Name, "name", "", "First name")
	cmd.Flags().StringVar(&f.person.Surname, "surname", "", "Surname")
	cmd.Flags().StringVar(&f.person.Email, "email", "", "Email address")
	cmd.Flags().StringVar(&f.person.Phone, "phone", "", "Phone number")
	cmd.Flags().StringVar(&f.person.DNI, "dni", "", "National id (DNI/NIE)")
	if k.specialty {
		cmd.Flags().StringVar(&f.person.Specialty, "specialty", "", "Medical specialty")
	}
	cmd.Flags().BoolVar(&f.passwordStdin, "password-stdin", false, "Read an account password from stdin")
}

func (f *personFlags) resolve(cmd *cobra.Command) (scheduling.Person, error) {
	out := f.person
	out.Name = strings.TrimSpace(out.Name)
	out.Surname = strings.TrimSpace(out.Surname)
	out.Email = strings.TrimSpace(out.Email)
	if f.passwordStdin {
		pw, err := readPassword(cmd.InOrStdin(), true)
		if err != nil {
			return out, err
		}
		out.Password = pw
	}
	return out, nil
}

func newDirectoryAddCmd(opts *globalOptions, k directoryKind) *cobra.Command {
	var flags personFlags
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a " + k.name + " (admin only)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, rt, ro, err := buildContext(cmd, opts, k.plural+".add")
			if err != nil {
				return err
			}
			defer rt.Close()
			if err := rt.requireRole(p, contract.RoleAdmin); err != nil {
				return err
			}
			person, err := flags.resolve(cmd)
			if err != nil {
				return failWithHint(p, contract.ErrInvalidUsage, err, "Pipe the password on stdin", exitUsage)
			}
			ctx, cancel := commandContext(ro)
			defer cancel()
			out, err := k.create(rt.sched, ctx, person)
			return finishDirectoryWrite(ctx, p, rt, ro, out, err, historyEntry{Type: k.hist.add}, "")
		},
	}
	flags.bind(cmd, k)
	return cmd
}

func newDirectoryUpdateCmd(opts *globalOptions, k directoryKind) *cobra.Command {
	var flags personFlags
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Change fields of a " + k.name + " (admin only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, rt, ro, err := buildContext(cmd, opts, k.plural+".update")
			if err != nil {
				return err
			}
			defer rt.Close()
			if err := rt.requireRole(p, contract.RoleAdmin); err != nil {
				return err
			}
			person, err := flags.resolve(cmd)
			if err != nil {
				return failWithHint(p, contract.ErrInvalidUsage, err, "Pipe the password on stdin", exitUsage)
			}
			ctx, cancel := commandContext(ro)
			defer cancel()
			out, err := k.update(rt.sched, ctx, args[0], person)
			return finishDirectoryWrite(ctx, p, rt, ro, out, err, historyEntry{Type: k.hist.update, RecordID: args[0]}, args[0])
		},
	}
	flags.bind(cmd, k)
	return cmd
}

func newDirectoryDeleteCmd(opts *globalOptions, k directoryKind) *cobra.Command {
	var yes bool
	var confirm string
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a " + k.name + " (admin only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, rt, ro, err := buildContext(cmd, opts, k.plural+".delete")
			if err != nil {
				return err
			}
			defer rt.Close()
			if err := rt.requireRole(p, contract.RoleAdmin); err != nil {
				return err
			}
			if err := confirmDestructive(cmd, p, ro, k.name, args[0], yes, confirm); err != nil {
				return err
			}
			ctx, cancel := commandContext(ro)
			defer cancel()
			out, err := k.remove(rt.sched, ctx, args[0])
			return finishDirectoryWrite(ctx, p, rt, ro, out, err, historyEntry{Type: k.hist.del, RecordID: args[0]}, args[0])
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Delete without confirmation")
	cmd.Flags().StringVar(&confirm, "confirm", "", "Confirm exact id")
	return cmd
}

func finishDirectoryWrite(ctx context.Context, p output.Printer, rt *runtime, ro *globalOptions, out scheduling.Outcome, err error, entry historyEntry, id string) error {
	if err != nil {
		return failRequest(p, err, nil)
	}
	if !out.Accepted {
		return failOutcome(p, out, nil)
	}
	var warnings []string
	entry.MessageCode = out.Code
	if herr := appendHistory(ro.Profile, entry); herr != nil {
		warnings = append(warnings, "journal write failed: "+herr.Error())
	}
	p.Alert(rt.sched.Alert())
	meta := rt.mutationMeta()
	if id != "" {
		meta["id"] = id
	}
	return successWithMeta(ctx, p, ro, out, meta, warnings)
}
