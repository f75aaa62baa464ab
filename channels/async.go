package channels

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

type multi []Notifier

// Multi fans a digest out to every notifier and joins their errors. One
// failing destination does not stop the others.
func Multi(ns ...Notifier) Notifier {
	return multi(ns)
}

func (m multi) Notify(ctx context.Context, d Digest) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, d); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Async delivers digests in the background with a bounded timeout and no
// retry. Notify always returns nil; failures are logged.
type Async struct {
	next    Notifier
	timeout time.Duration
	logger  *slog.Logger
	wg      sync.WaitGroup
}

// NewAsync wraps next. A zero timeout means 10s.
func NewAsync(next Notifier, timeout time.Duration, logger *slog.Logger) *Async {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Async{next: next, timeout: timeout, logger: logger}
}

// Notify starts delivery and returns immediately. The delivery outlives the
// caller's cancellation but keeps its values (trace id).
func (a *Async) Notify(ctx context.Context, d Digest) error {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
		defer cancel()
		if err := a.next.Notify(sendCtx, d); err != nil {
			attrs := []any{"subject", d.Subject, "error", err}
			var de *DeliveryError
			if errors.As(err, &de) && de.Status != 0 {
				attrs = append(attrs, "status", de.Status)
			}
			a.logger.Warn("channels: digest delivery failed", attrs...)
		}
	}()
	return nil
}

// Wait blocks until every in-flight delivery has finished.
func (a *Async) Wait() {
	a.wg.Wait()
}
