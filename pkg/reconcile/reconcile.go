// Package reconcile repairs drift between stored integration credentials and the
// vendor: it refreshes tokens nearing expiry and back-fills missing account ids.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	shared "github.com/fitglue/workoutsync/pkg"
	httputil "github.com/fitglue/workoutsync/pkg/infrastructure/http"
	"github.com/fitglue/workoutsync/pkg/infrastructure/metrics"
	"github.com/fitglue/workoutsync/pkg/infrastructure/oauth"
	"github.com/fitglue/workoutsync/pkg/infrastructure/sentry"
	"github.com/fitglue/workoutsync/pkg/integrations"
	"github.com/fitglue/workoutsync/pkg/types"
)

const (
	DefaultNearExpiry = 60 * time.Second
	DefaultPause      = 300 * time.Millisecond
)

type Options struct {
	// NearExpiry is the short refresh window applied to every provider.
	NearExpiry time.Duration
	// LookAhead is the longer window. Zero uses the adapter's RefreshPolicy, if any.
	LookAhead time.Duration
	// Pause spaces users apart.
	Pause  time.Duration
	Logger *slog.Logger
	Now    func() time.Time
}

// UserError is one user's failure during a pass.
type UserError struct {
	UserID string
	Stage  string
	Err    error
	// Status is the vendor's HTTP status, 0 when none was received.
	Status int
	// Transient marks failures worth retrying on the next pass.
	Transient bool
}

func (e UserError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.UserID, e.Stage, e.Err)
}

func (e UserError) MarshalJSON() ([]byte, error) {
	out := map[string]interface{}{
		"user_id":   e.UserID,
		"stage":     e.Stage,
		"error":     e.Err.Error(),
		"transient": e.Transient,
	}
	if e.Status != 0 {
		out["status"] = e.Status
	}
	return json.Marshal(out)
}

type Report struct {
	Provider  types.Provider `json:"provider"`
	Checked   int            `json:"checked"`
	Fixed     int            `json:"fixed"`
	Refreshed int            `json:"refreshed"`
	Errors    []UserError    `json:"errors"`
}

type Reconciler struct {
	adapter integrations.Adapter
	store   shared.CredentialStore
	opts    Options
	limiter *rate.Limiter
}

func New(adapter integrations.Adapter, store shared.CredentialStore, opts Options) *Reconciler {
	if opts.NearExpiry == 0 {
		opts.NearExpiry = DefaultNearExpiry
	}
	if opts.LookAhead == 0 {
		if p, ok := adapter.(integrations.RefreshPolicy); ok {
			opts.LookAhead = p.RefreshLookAhead()
		}
	}
	if opts.Pause == 0 {
		opts.Pause = DefaultPause
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Reconciler{
		adapter: adapter,
		store:   store,
		opts:    opts,
		limiter: rate.NewLimiter(rate.Every(opts.Pause), 1),
	}
}

func (r *Reconciler) window() time.Duration {
	if r.opts.LookAhead > r.opts.NearExpiry {
		return r.opts.LookAhead
	}
	return r.opts.NearExpiry
}

// Run visits every linked user once. Per-user failures are collected in the
// report; the error return is reserved for failing to list users.
func (r *Reconciler) Run(ctx context.Context) (Report, error) {
	provider := r.adapter.ProviderID()
	report := Report{Provider: provider, Errors: []UserError{}}
	logger := r.opts.Logger.With("component", "reconcile", "provider", provider)

	users, err := r.store.ListLinkedUsers(ctx, provider)
	if err != nil {
		return report, fmt.Errorf("list linked %s users: %w", provider, err)
	}
	logger.Info("Starting reconciliation", "users", len(users))

	for i, userID := range users {
		if err := r.limiter.Wait(ctx); err != nil {
			report.Errors = append(report.Errors, UserError{
				Stage: "cancelled",
				Err:   fmt.Errorf("%d users not checked: %w", len(users)-i, err),
			})
			break
		}
		r.check(ctx, userID, &report, logger)
	}

	metrics.RecordReconcileRun(provider.String(), r.opts.Now())
	logger.Info("Reconciliation finished",
		"checked", report.Checked,
		"refreshed", report.Refreshed,
		"fixed", report.Fixed,
		"errors", len(report.Errors),
	)
	return report, nil
}

func (r *Reconciler) check(ctx context.Context, userID string, report *Report, logger *slog.Logger) {
	provider := r.adapter.ProviderID()
	fail := func(stage string, err error) {
		ue := UserError{
			UserID:    userID,
			Stage:     stage,
			Err:       err,
			Status:    httputil.StatusCode(err),
			Transient: integrations.IsTransient(err),
		}
		report.Errors = append(report.Errors, ue)
		metrics.RecordReconcileOutcome(provider.String(), "error")
		logger.Warn("Reconciliation failed for user", "user_id", userID, "stage", stage, "transient", ue.Transient, "error", err)
		sentry.CaptureException(err, map[string]string{
			"provider":  provider.String(),
			"user_id":   userID,
			"stage":     stage,
			"transient": strconv.FormatBool(ue.Transient),
		}, nil, logger)
	}

	rec, err := r.store.GetCredential(ctx, userID, provider)
	if errors.Is(err, shared.ErrCredentialNotFound) {
		// Disconnected since the listing.
		return
	}
	if err != nil {
		fail("load", err)
		return
	}
	report.Checked++

	if oauth.NeedsRefresh(rec, r.opts.Now(), r.window()) {
		if !r.adapter.RefreshToken(ctx, userID) {
			fail("refresh", errors.New("token refresh failed"))
			return
		}
		report.Refreshed++
		metrics.RecordReconcileOutcome(provider.String(), "refreshed")
		return
	}

	if rec.ExternalAccountID != "" {
		metrics.RecordReconcileOutcome(provider.String(), "ok")
		return
	}
	resolver, ok := r.adapter.(integrations.AccountResolver)
	if !ok {
		metrics.RecordReconcileOutcome(provider.String(), "ok")
		return
	}

	accountID, err := resolver.ResolveAccountID(ctx, userID)
	if err != nil {
		fail("resolve_account", err)
		return
	}
	if err := r.saveAccountID(ctx, userID, accountID); err != nil {
		fail("save", err)
		return
	}
	report.Fixed++
	metrics.RecordReconcileOutcome(provider.String(), "fixed")
	logger.Info("Back-filled external account id", "user_id", userID)
}

// saveAccountID stores the resolved id. Adapters that can update under their refresh
// lock do so; otherwise the record is re-read just before the write.
func (r *Reconciler) saveAccountID(ctx context.Context, userID, accountID string) error {
	if u, ok := r.adapter.(integrations.CredentialUpdater); ok {
		return u.UpdateCredential(ctx, userID, func(rec *types.CredentialRecord) {
			rec.ExternalAccountID = accountID
		})
	}
	rec, err := r.store.GetCredential(ctx, userID, r.adapter.ProviderID())
	if err != nil {
		return err
	}
	rec.ExternalAccountID = accountID
	return r.store.UpsertCredential(ctx, rec)
}
