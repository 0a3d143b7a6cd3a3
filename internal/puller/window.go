package puller

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/micom7/fleet-server/internal/models"
)

// Window-splitting policy: spans over maxSpan are pre-split into hourStep
// windows so the remote side never builds more than an hour of rows per call.
// A window the remote reports as truncated is re-split into fineStep pieces;
// that is backpressure signaled by the producer, not a client-side guess.
const (
	maxSpan  = 24 * time.Hour
	hourStep = time.Hour
	fineStep = 10 * time.Minute
	// Below minSpan a still-truncated window is accepted as-is; splitting
	// further would hammer the vehicle for rows it caps anyway.
	minSpan = time.Second
)

type window struct {
	from, to time.Time
}

// splitWindow cuts [from, to) into consecutive step-sized pieces, the last
// one possibly shorter. No gaps, no overlaps.
func splitWindow(from, to time.Time, step time.Duration) []window {
	var windows []window
	for cur := from; cur.Before(to); {
		next := cur.Add(step)
		if next.After(to) {
			next = to
		}
		windows = append(windows, window{from: cur, to: next})
		cur = next
	}
	return windows
}

// Data pulls all measurement rows in [from, to), applying the splitting
// policy. Implemented as an explicit worklist rather than recursion so the
// depth bound stays visible; every split strictly shrinks the window, so the
// loop terminates with single non-truncated sub-windows.
func (p *VehiclePuller) Data(ctx context.Context, from, to time.Time) ([]models.DataRow, error) {
	var queue []window
	if to.Sub(from) > maxSpan {
		queue = splitWindow(from, to, hourStep)
	} else {
		queue = []window{{from: from, to: to}}
	}

	var rows []models.DataRow
	for len(queue) > 0 {
		w := queue[0]
		queue = queue[1:]

		body, err := p.fetchDataWindow(ctx, w.from, w.to)
		if err != nil {
			return nil, err
		}
		if !body.Truncated {
			rows = append(rows, body.Rows...)
			continue
		}

		span := w.to.Sub(w.from)
		if span <= minSpan {
			p.logger.Warn("window truncated below minimum span, accepting partial rows",
				zap.String("vehicle", p.name),
				zap.Time("from", w.from), zap.Time("to", w.to))
			rows = append(rows, body.Rows...)
			continue
		}

		step := fineStep
		if span <= fineStep {
			// Already at the fine step: halve instead so the window still
			// strictly shrinks.
			step = span / 2
		}
		p.logger.Debug("window truncated, splitting",
			zap.String("vehicle", p.name),
			zap.Time("from", w.from), zap.Time("to", w.to),
			zap.Duration("step", step))
		// Prepend so rows stay in chronological order.
		queue = append(splitWindow(w.from, w.to, step), queue...)
	}
	return rows, nil
}
