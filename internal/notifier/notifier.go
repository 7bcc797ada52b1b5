// Package notifier delivers alert notifications to the alert channel.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fow830/tgator/pkg/logger"
	"golang.org/x/time/rate"
)

// ErrNoDestination means no alert channel is configured.
var ErrNoDestination = errors.New("notifier: alert channel is not configured")

// DeliveryError wraps any failure to deliver a notification.
type DeliveryError struct {
	Target string
	Err    error
}

func (e *DeliveryError) Error() string {
	if e.Target == "" {
		return fmt.Sprintf("delivery failed: %v", e.Err)
	}
	return fmt.Sprintf("delivery to %s failed: %v", e.Target, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// TextSender sends an HTML message to a chat given as "@username" or
// numeric id.
type TextSender interface {
	SendText(ctx context.Context, target, text string) error
}

// Notifier sends notifications to a single destination chat, throttled so
// bursts of matches do not trip the Bot API flood limits.
type Notifier struct {
	sender  TextSender
	target  string
	limiter *rate.Limiter
}

// NewNotifier creates a notifier for target allowing perMinute messages
// per minute. A non-positive perMinute disables throttling.
func NewNotifier(sender TextSender, target string, perMinute int) *Notifier {
	limiter := rate.NewLimiter(rate.Inf, 0)
	if perMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), min(perMinute, 5))
	}
	return &Notifier{
		sender:  sender,
		target:  strings.TrimSpace(target),
		limiter: limiter,
	}
}

// Target returns the configured destination.
func (n *Notifier) Target() string {
	return n.target
}

// Send delivers text to the destination. Every failure is a *DeliveryError.
func (n *Notifier) Send(ctx context.Context, text string) error {
	if n.target == "" {
		return &DeliveryError{Err: ErrNoDestination}
	}
	if err := n.limiter.Wait(ctx); err != nil {
		return &DeliveryError{Target: n.target, Err: err}
	}
	if err := n.sender.SendText(ctx, n.target, text); err != nil {
		return &DeliveryError{Target: n.target, Err: err}
	}

	logger.Debug().Str("target", n.target).Msg("Notification delivered")
	return nil
}
