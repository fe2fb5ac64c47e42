package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"chargeslots/backend/services/slot-scheduler/internal/clock"
)

const (
	tracerName      = "chargeslots/slot-scheduler/jobs"
	observerTimeout = 5 * time.Second
)

// Runner executes jobs one run at a time and fans the report out to observers.
type Runner struct {
	clock     clock.Clock
	logger    *zap.Logger
	tracer    trace.Tracer
	timeout   time.Duration
	mu        sync.RWMutex
	observers []Observer
}

// NewRunner returns a runner. A zero timeout leaves runs unbounded.
func NewRunner(clk clock.Clock, logger *zap.Logger, timeout time.Duration, observers ...Observer) *Runner {
	return &Runner{
		clock:     clk,
		logger:    logger,
		tracer:    otel.Tracer(tracerName),
		timeout:   timeout,
		observers: observers,
	}
}

// AddObserver registers o for subsequent runs.
func (r *Runner) AddObserver(o Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, o)
}

// Execute runs job once. The run is detached from ctx cancellation so a shutdown lets
// in-flight store work finish; it is still bounded by the runner timeout.
func (r *Runner) Execute(ctx context.Context, job Job) (report Report, err error) {
	runCtx := context.WithoutCancel(ctx)
	if r.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, r.timeout)
		defer cancel()
	}

	runCtx, span := r.tracer.Start(runCtx, "job."+job.Name(), trace.WithAttributes(
		attribute.String("job.name", job.Name()),
	))
	defer span.End()

	started := r.clock.Now()
	report, err = r.run(runCtx, job)
	report.Job = job.Name()
	report.StartedAt = started
	report.FinishedAt = r.clock.Now()
	if err != nil {
		report.Error = err.Error()
	}

	for _, k := range report.Keys() {
		span.SetAttributes(attribute.Int64("job.count."+k, report.Counts[k]))
	}
	fields := []zap.Field{
		zap.String("job", report.Job),
		zap.Duration("duration", report.Duration()),
		zap.Any("counts", report.Counts),
	}
	if report.Skipped {
		fields = append(fields, zap.Bool("skipped", true))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.logger.Error("job run failed", append(fields, zap.Error(err))...)
	} else {
		r.logger.Info("job run finished", fields...)
	}

	r.notify(ctx, report)
	return report, err
}

func (r *Runner) run(ctx context.Context, job Job) (report Report, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("job %s panicked: %v", job.Name(), p)
		}
	}()
	return job.Run(ctx)
}

func (r *Runner) notify(ctx context.Context, report Report) {
	r.mu.RLock()
	observers := append([]Observer(nil), r.observers...)
	r.mu.RUnlock()
	if len(observers) == 0 {
		return
	}

	obsCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), observerTimeout)
	defer cancel()
	for _, o := range observers {
		o.ObserveRun(obsCtx, report)
	}
}
