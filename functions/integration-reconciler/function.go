package integrationreconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	cloudevents "github.com/cloudevents/sdk-go/v2"

	shared "github.com/fitglue/workoutsync/pkg"
	"github.com/fitglue/workoutsync/pkg/bootstrap"
	"github.com/fitglue/workoutsync/pkg/framework"
	"github.com/fitglue/workoutsync/pkg/infrastructure/pubsub"
	"github.com/fitglue/workoutsync/pkg/integrations"
	"github.com/fitglue/workoutsync/pkg/reconcile"
	"github.com/fitglue/workoutsync/pkg/types"
)

const (
	serviceName = "integration-reconciler"
	source      = "/functions/integration-reconciler"
)

var (
	svc     *bootstrap.Service
	svcOnce sync.Once
	svcErr  error
)

func init() {
	functions.CloudEvent("ReconcileIntegrations", ReconcileIntegrations)
}

func initService(ctx context.Context) (*bootstrap.Service, error) {
	svcOnce.Do(func() {
		svc, svcErr = bootstrap.NewService(ctx, serviceName)
		if svcErr != nil {
			slog.Error("Failed to initialize service", "error", svcErr)
		}
	})
	return svc, svcErr
}

// ReconcileIntegrations is the entry point, usually fired by Cloud Scheduler.
func ReconcileIntegrations(ctx context.Context, e cloudevents.Event) error {
	svc, err := initService(ctx)
	if err != nil {
		return fmt.Errorf("service init failed: %w", err)
	}
	return framework.WrapCloudEvent(serviceName, svc, reconcileHandler(reconcile.Options{}))(ctx, e)
}

func reconcileHandler(opts reconcile.Options) framework.HandlerFunc {
	return func(ctx context.Context, e cloudevents.Event, fwCtx *framework.FrameworkContext) (interface{}, error) {
		var req types.ReconcileRequest
		if len(e.Data()) > 0 {
			if err := framework.DecodePayload(e, &req); err != nil {
				return nil, fmt.Errorf("decode reconcile request: %w", err)
			}
		}

		adapters, err := selectAdapters(fwCtx.Service.Registry, req.Provider)
		if err != nil {
			return nil, err
		}

		runOpts := opts
		runOpts.Logger = fwCtx.Logger
		var (
			reports []reconcile.Report
			errs    []error
		)
		for _, a := range adapters {
			report, err := reconcile.New(a, fwCtx.Service.Credentials, runOpts).Run(ctx)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			reports = append(reports, report)
			publishReport(ctx, fwCtx, report)
		}

		return map[string]interface{}{"status": "success", "reports": reports}, errors.Join(errs...)
	}
}

func selectAdapters(reg *integrations.Registry, provider types.Provider) ([]integrations.Adapter, error) {
	if provider == "" {
		return reg.All(), nil
	}
	a, ok := reg.Get(provider)
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", provider)
	}
	return []integrations.Adapter{a}, nil
}

// publishReport announces the outcome for dashboards and alerting. Best-effort.
func publishReport(ctx context.Context, fwCtx *framework.FrameworkContext, report reconcile.Report) {
	ev, err := pubsub.NewCloudEvent(source, shared.EventTypeReconciled, report)
	if err == nil {
		ev.SetSubject(report.Provider.String())
		_, err = fwCtx.Service.Pub.PublishCloudEvent(ctx, shared.TopicIntegrationHealth, ev)
	}
	if err != nil {
		fwCtx.Logger.Warn("Failed to publish reconcile report", "provider", report.Provider, "error", err)
	}
}
