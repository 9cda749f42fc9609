package alerting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// MultiAlerter fans each alert out to several channels concurrently.
type MultiAlerter struct {
	alerters []Alerter
	logger   *slog.Logger
}

// NewMultiAlerter creates a new multi-channel alerter.
func NewMultiAlerter(logger *slog.Logger, alerters ...Alerter) *MultiAlerter {
	if logger == nil {
		logger = slog.Default()
	}
	return &MultiAlerter{alerters: alerters, logger: logger}
}

func (m *MultiAlerter) Name() string {
	return "multi"
}

// Send delivers to every channel and joins the failures, each prefixed with
// the channel name. One slow or failing channel does not block the others.
func (m *MultiAlerter) Send(ctx context.Context, a Alert) error {
	errs := make([]error, len(m.alerters))

	var wg sync.WaitGroup
	for i, alerter := range m.alerters {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := alerter.Send(ctx, a); err != nil {
				m.logger.Error("alert channel failed",
					"alerter", alerter.Name(),
					"event", string(a.Event),
					"err", err,
				)
				errs[i] = fmt.Errorf("%s: %w", alerter.Name(), err)
			}
		}()
	}
	wg.Wait()

	return errors.Join(errs...)
}
