package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// EventNewLogin is sent by the panel whenever somebody signs in to a member's account.
const EventNewLogin = "auth.new_login"

// Envelope is one decoded frame: its type tag plus the raw object for typed decoding.
type Envelope struct {
	Type string
	Raw  json.RawMessage
}

// UnmarshalJSON requires a JSON object; the "type" field may be absent.
func (e *Envelope) UnmarshalJSON(b []byte) error {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(b, &head); err != nil {
		return err
	}
	e.Type = head.Type
	e.Raw = append(e.Raw[:0], b...)
	return nil
}

// NewLogin is the payload of an auth.new_login event.
type NewLogin struct {
	IP              string `json:"ip"`
	UserAgent       string `json:"user_agent"`
	Method          string `json:"method"`
	MemberDiscordID ID     `json:"member_discord_id"`
}

// Notifier delivers new-login notices to the affected member.
type Notifier interface {
	NotifyNewLogin(ctx context.Context, ev NewLogin, at time.Time) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, ev NewLogin, at time.Time) error

func (f NotifierFunc) NotifyNewLogin(ctx context.Context, ev NewLogin, at time.Time) error {
	return f(ctx, ev, at)
}

// ID is a Discord snowflake. It is accepted as a JSON string or number; numbers are
// kept as their literal text so 64-bit ids are not rounded through float64.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*id = ""
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
	default:
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("snowflake: %w", err)
		}
		*id = ID(n.String())
	}
	return nil
}

func decodeNewLogin(env Envelope) (NewLogin, error) {
	var ev NewLogin
	if err := json.Unmarshal(env.Raw, &ev); err != nil {
		return ev, fmt.Errorf("decode %s: %w", EventNewLogin, err)
	}
	if ev.MemberDiscordID == "" {
		return ev, fmt.Errorf("decode %s: member_discord_id missing", EventNewLogin)
	}
	return ev, nil
}
