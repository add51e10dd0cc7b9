package app

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/agis/agenda/internal/apiclient"
	"github.com/agis/agenda/internal/contract"
	"github.com/agis/agenda/internal/logging"
	"github.com/agis/agenda/internal/output"
	"github.com/agis/agenda/internal/scheduling"
	"github.com/agis/agenda/internal/session"
	"github.com/agis/agenda/internal/storage"
	"github.com/sirupsen/logrus"
)

// storeFactory opens the session store of a profile. Tests swap it for an
// in-memory store.
var storeFactory = openProfileStore

func openProfileStore(profile string) (storage.Store, error) {
	path := stateDBPath(profile)
	if path == "" {
		return storage.NewMemory(), nil
	}
	return storage.OpenSQLite(path)
}

// runtime is everything one command invocation talks to.
type runtime struct {
	store   storage.Store
	api     timedGateway
	session *session.Manager
	sched   *scheduling.Service
	log     *logrus.Logger

	nextView string
	synced   int
}

func openRuntime(ro *globalOptions, structured bool, logOut io.Writer) (*runtime, error) {
	level := ro.LogLevel
	if ro.Verbose {
		level = "debug"
	}
	log := logging.New(logOut, level, structured)

	store, err := storeFactory(ro.Profile)
	if err != nil {
		return nil, err
	}
	client, err := apiclient.New(apiclient.Options{
		BaseURL:     ro.BaseURL,
		Credentials: storage.Credentials{Store: store},
		Timeout:     ro.Timeout,
		RateLimit:   ro.RateLimit,
		Burst:       2,
		UserAgent:   userAgent(),
		Logger:      log,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	rt := &runtime{store: store, api: timedGateway{api: client}, log: log, synced: -1}
	rt.session = session.NewManager(store, rt.api,
		session.WithLogger(log),
		session.WithNavigator(func(view string) { rt.nextView = view }),
	)
	client.SetUnauthorizedHook(rt.session.Expire)
	if err := rt.session.Initialize(); err != nil {
		_ = store.Close()
		return nil, err
	}
	rt.sched = scheduling.NewService(rt.api,
		scheduling.WithIdentity(rt.session),
		scheduling.WithLogger(log),
		scheduling.WithRefresh(rt.refresh),
	)
	return rt, nil
}

// refresh reloads the appointment list after a mutation, the way a calendar
// view would.
func (rt *runtime) refresh(ctx context.Context) error {
	appts, err := rt.sched.FetchAppointments(ctx)
	if err != nil {
		return err
	}
	rt.synced = len(appts)
	return nil
}

func (rt *runtime) Close() error {
	if rt == nil || rt.store == nil {
		return nil
	}
	return rt.store.Close()
}

var errNotLoggedIn = errors.New("not logged in")

// requireRole fails unless a session exists and satisfies one of roles. With
// no roles any authenticated user passes.
func (rt *runtime) requireRole(p output.Printer, roles ...contract.Role) error {
	if !rt.session.IsAuthenticated() {
		return failWithHint(p, contract.ErrUnauthenticated, errNotLoggedIn, "Run `agenda login --email <address>`", exitAuth)
	}
	if len(roles) == 0 || rt.session.HasPermission(roles...) {
		return nil
	}
	snap := rt.session.Snapshot()
	err := errors.New(contract.MsgInsufficientPermissions + ": role " + string(snap.Role) + " cannot run this command")
	return failWithHint(p, contract.ErrPermissionDenied, err, hintForExit(exitPermission), exitPermission)
}

// mutationMeta carries the operation alert and the size of the refreshed
// appointment list into structured output.
func (rt *runtime) mutationMeta() map[string]any {
	meta := map[string]any{}
	if a := rt.sched.Alert(); a.Show {
		meta["alert"] = a
	}
	if rt.synced >= 0 {
		meta["synced_appointments"] = rt.synced
	}
	return meta
}

// timedGateway records per-request timings and tags context failures with the
// request that hit them. It satisfies both scheduling.Gateway and
// session.Poster.
type timedGateway struct {
	api *apiclient.Client
}

func (g timedGateway) Get(ctx context.Context, path string, opts ...apiclient.RequestOption) (apiclient.Envelope, error) {
	return g.do(ctx, http.MethodGet, path, nil, opts)
}

func (g timedGateway) Post(ctx context.Context, path string, body any, opts ...apiclient.RequestOption) (apiclient.Envelope, error) {
	return g.do(ctx, http.MethodPost, path, body, opts)
}

func (g timedGateway) Put(ctx context.Context, path string, body any, opts ...apiclient.RequestOption) (apiclient.Envelope, error) {
	return g.do(ctx, http.MethodPut, path, body, opts)
}

func (g timedGateway) Patch(ctx context.Context, path string, body any, opts ...apiclient.RequestOption) (apiclient.Envelope, error) {
	return g.do(ctx, http.MethodPatch, path, body, opts)
}

func (g timedGateway) Delete(ctx context.Context, path string, opts ...apiclient.RequestOption) (apiclient.Envelope, error) {
	return g.do(ctx, http.MethodDelete, path, nil, opts)
}

func (g timedGateway) do(ctx context.Context, method, path string, body any, opts []apiclient.RequestOption) (apiclient.Envelope, error) {
	phase := "api." + method + " " + path
	start := time.Now()
	env, err := g.api.Do(ctx, method, path, body, opts...)
	recordTiming(ctx, phase, time.Since(start))
	return env, annotateRequestError(ctx, phase, err)
}
