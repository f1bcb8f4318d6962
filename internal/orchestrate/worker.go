package orchestrate

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.temporal.io/sdk/client"
	temporalotel "go.temporal.io/sdk/contrib/opentelemetry"
	"go.temporal.io/sdk/interceptor"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
	"goa.design/clue/log"

	"github.com/chimecast/chime/internal/activities"
	"github.com/chimecast/chime/internal/workflows"
)

// DialOptions configure the Temporal client connection. OTEL tracing and
// metrics are installed by default; set the Disable flags to opt out.
type DialOptions struct {
	HostPort  string
	Namespace string

	DisableTracing bool
	DisableMetrics bool
	TracerOptions  temporalotel.TracerOptions
	MetricsOptions temporalotel.MetricsHandlerOptions
}

// Dial connects to the Temporal frontend with instrumentation applied.
func Dial(opts DialOptions) (client.Client, error) {
	copts := client.Options{
		HostPort:  opts.HostPort,
		Namespace: opts.Namespace,
	}
	inst, err := configureInstrumentation(opts)
	if err != nil {
		return nil, err
	}
	applyClientInstrumentation(&copts, inst)
	c, err := client.Dial(copts)
	if err != nil {
		return nil, fmt.Errorf("orchestrate: dial temporal: %w", err)
	}
	return c, nil
}

// NewWorker builds the worker with every workflow and activity registered.
// Activity method names are the registered activity names.
func NewWorker(c client.Client, acts *activities.Activities, taskQueue string) worker.Worker {
	w := worker.New(c, taskQueue, worker.Options{})
	w.RegisterWorkflowWithOptions(workflows.EventLifecycle, workflow.RegisterOptions{Name: workflows.EventLifecycleName})
	w.RegisterWorkflowWithOptions(workflows.PersonalReminder, workflow.RegisterOptions{Name: workflows.PersonalReminderName})
	w.RegisterActivity(acts)
	return w
}

// Run blocks serving the task queue until interrupted.
func Run(ctx context.Context, w worker.Worker, taskQueue string) error {
	log.Info(ctx, log.KV{K: "msg", V: "worker running"}, log.KV{K: "task_queue", V: taskQueue})
	if err := w.Run(worker.InterruptCh()); err != nil {
		return fmt.Errorf("orchestrate: worker: %w", err)
	}
	return nil
}

type instrumentation struct {
	tracer  interceptor.Interceptor
	metrics client.MetricsHandler
}

func configureInstrumentation(opts DialOptions) (*instrumentation, error) {
	inst := &instrumentation{}
	if !opts.DisableTracing {
		if opts.TracerOptions.Tracer == nil {
			opts.TracerOptions.Tracer = otel.Tracer("chime")
		}
		tracer, err := temporalotel.NewTracingInterceptor(opts.TracerOptions)
		if err != nil {
			return nil, fmt.Errorf("orchestrate: configure tracing interceptor: %w", err)
		}
		inst.tracer = tracer
	}
	if !opts.DisableMetrics {
		inst.metrics = temporalotel.NewMetricsHandler(opts.MetricsOptions)
	}
	if inst.tracer == nil && inst.metrics == nil {
		return nil, nil
	}
	return inst, nil
}

func applyClientInstrumentation(opts *client.Options, inst *instrumentation) {
	if inst == nil {
		return
	}
	if inst.tracer != nil {
		opts.Interceptors = append(opts.Interceptors, inst.tracer)
	}
	if inst.metrics != nil && opts.MetricsHandler == nil {
		opts.MetricsHandler = inst.metrics
	}
}
