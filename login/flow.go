// Package login implements the login-code flow behind the "generate login
// code" button: cooldown, member lookup, code creation and DM delivery.
package login

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/team7636/robomania-bot/panel"
	"github.com/team7636/robomania-bot/telemetry"
)

// Backend is the subset of the panel API the flow needs.
type Backend interface {
	SearchMembers(ctx context.Context, discordID string) ([]panel.Member, error)
	CreateLoginCode(ctx context.Context, memberID panel.MemberID) (*panel.LoginCode, error)
}

// DeliveryResult classifies a DM attempt.
type DeliveryResult int

const (
	Delivered DeliveryResult = iota
	Forbidden
	OtherFailure
)

func (r DeliveryResult) String() string {
	switch r {
	case Delivered:
		return "delivered"
	case Forbidden:
		return "forbidden"
	default:
		return "other_failure"
	}
}

// Deliverer sends a login code to a user privately. err carries detail for
// Forbidden and OtherFailure and is nil for Delivered.
type Deliverer interface {
	DeliverLoginCode(ctx context.Context, userID string, code panel.LoginCode) (DeliveryResult, error)
}

// Kind is the user-visible result of a Generate call.
type Kind int

const (
	OutcomeSent Kind = iota
	OutcomeRateLimited
	OutcomeNotRegistered
	OutcomeDeliveryForbidden
	OutcomeFailed
)

func (k Kind) String() string {
	switch k {
	case OutcomeSent:
		return "sent"
	case OutcomeRateLimited:
		return "rate_limited"
	case OutcomeNotRegistered:
		return "not_registered"
	case OutcomeDeliveryForbidden:
		return "delivery_forbidden"
	default:
		return "failed"
	}
}

// Outcome of one request. Err is nil only for OutcomeSent.
type Outcome struct {
	Kind Kind
	Code *panel.LoginCode
	Err  error
}

// RetryAfter is the cooldown left for OutcomeRateLimited, zero otherwise.
func (o Outcome) RetryAfter() time.Duration {
	var rl *RateLimitedError
	if errors.As(o.Err, &rl) {
		return rl.RetryAfter
	}
	return 0
}

// Flow runs login-code requests. It is safe for concurrent use.
type Flow struct {
	Backend   Backend
	Deliverer Deliverer
	Limiter   *Limiter
	Now       func() time.Time
}

// NewFlow returns a Flow with a cooldown of the given period per user.
func NewFlow(b Backend, d Deliverer, cooldown time.Duration) *Flow {
	return &Flow{Backend: b, Deliverer: d, Limiter: NewLimiter(cooldown), Now: time.Now}
}

// Generate handles one button press by userID. It never returns an error;
// every failure is folded into the Outcome.
func (f *Flow) Generate(ctx context.Context, userID string) Outcome {
	ctx, span := telemetry.StartSpan(ctx, "login", "login.generate", telemetry.DiscordUserAttr(userID))
	defer span.End()

	var out Outcome
	telemetry.TimeFunc(telemetry.LoginCodeDuration, func() { out = f.generate(ctx, userID) })
	telemetry.IncLabel(telemetry.LoginCodeRequests, out.Kind.String())

	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "login"), slog.String("user_id", userID))
	switch out.Kind {
	case OutcomeSent:
		telemetry.SetSpanSuccess(span)
		log.Info("login code delivered")
	case OutcomeFailed:
		telemetry.RecordError(span, out.Err)
		log.Error("login code request failed", slog.Any("err", out.Err))
	default:
		log.Info("login code request refused", slog.String("outcome", out.Kind.String()))
	}
	return out
}

func (f *Flow) generate(ctx context.Context, userID string) Outcome {
	now := time.Now()
	if f.Now != nil {
		now = f.Now()
	}
	if ok, wait := f.Limiter.Take(userID, now); !ok {
		return Outcome{Kind: OutcomeRateLimited, Err: &RateLimitedError{RetryAfter: wait}}
	}

	members, err := f.Backend.SearchMembers(ctx, userID)
	if err != nil {
		return Outcome{Kind: OutcomeFailed, Err: fmt.Errorf("search members: %w", err)}
	}
	if len(members) == 0 {
		return Outcome{Kind: OutcomeNotRegistered, Err: ErrNotRegistered}
	}

	code, err := f.Backend.CreateLoginCode(ctx, members[0].ID)
	if err != nil {
		return Outcome{Kind: OutcomeFailed, Err: fmt.Errorf("create login code: %w", err)}
	}

	res, err := f.Deliverer.DeliverLoginCode(ctx, userID, *code)
	switch res {
	case Delivered:
		return Outcome{Kind: OutcomeSent, Code: code}
	case Forbidden:
		if err != nil {
			err = fmt.Errorf("%w: %w", ErrDeliveryForbidden, err)
		} else {
			err = ErrDeliveryForbidden
		}
		return Outcome{Kind: OutcomeDeliveryForbidden, Code: code, Err: err}
	default:
		if err == nil {
			err = errors.New("delivery failed")
		}
		return Outcome{Kind: OutcomeFailed, Code: code, Err: fmt.Errorf("deliver login code: %w", err)}
	}
}
