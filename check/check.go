package check

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/poundifdef/queuecheck/models"
)

// Evaluate maps a queue depth onto a status. CRITICAL is checked first, so the
// result stays deterministic even if warning is above critical.
func Evaluate(count int, t models.Thresholds) models.Status {
	switch {
	case count >= t.Critical:
		return models.StatusCritical
	case count >= t.Warning:
		return models.StatusWarning
	default:
		return models.StatusOK
	}
}

// Report builds the result line for a counted queue.
func Report(queue string, count int, t models.Thresholds, verboseOK bool) models.Result {
	status := Evaluate(count, t)
	rc := models.Result{
		Status: status,
		Count:  count,
	}

	if status != models.StatusOK || verboseOK {
		rc.Message = fmt.Sprintf("%s size is: %d", queue, count)
	}

	return rc
}

type Probe struct {
	broker     models.Broker
	thresholds models.Thresholds
	timeout    time.Duration
	verboseOK  bool
}

func NewProbe(broker models.Broker, thresholds models.Thresholds, timeout time.Duration, verboseOK bool) *Probe {
	return &Probe{
		broker:     broker,
		thresholds: thresholds,
		timeout:    timeout,
		verboseOK:  verboseOK,
	}
}

// Run connects, counts, writes exactly one status line to out and only then
// releases the session. Cleanup errors are logged and never change the result.
func (p *Probe) Run(ctx context.Context, queue string, out io.Writer) models.Result {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	started := time.Now()

	session, err := p.broker.Connect(ctx)
	if err != nil {
		log.Error().Err(err).Str("queue", queue).Msg("Unable to connect to broker")
		return Emit(out, models.Unknown(p.describe(ctx, "connect", err)))
	}

	defer func() {
		if err := session.Close(); err != nil {
			log.Warn().Err(err).Str("queue", queue).Msg("Unable to close broker session")
		}
	}()

	count, err := session.Count(ctx, queue)
	if err != nil {
		log.Error().Err(err).Str("queue", queue).Msg("Unable to browse queue")
		return Emit(out, models.Unknown(p.describe(ctx, "browse", err)))
	}

	log.Debug().
		Str("queue", queue).
		Int("count", count).
		Dur("elapsed", time.Since(started)).
		Msg("Counted queue")

	return Emit(out, Report(queue, count, p.thresholds, p.verboseOK))
}

func (p *Probe) describe(ctx context.Context, step string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s timed out after %s: %w", step, p.timeout, err)
	}
	return err
}

// Emit writes the status line. A failed write is logged; there is nowhere else
// to report it.
func Emit(out io.Writer, r models.Result) models.Result {
	if _, err := fmt.Fprintln(out, r.Line()); err != nil {
		log.Error().Err(err).Msg("Unable to write status line")
	}
	return r
}
