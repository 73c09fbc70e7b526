package presence

import (
	"context"
	"errors"
	"time"
)

// Direction of a voice presence change.
type Direction string

const (
	Join  Direction = "join"
	Leave Direction = "leave"
)

// verb is the wording used in the day log.
func (d Direction) verb() string {
	if d == Join {
		return "加入"
	}
	return "離開"
}

// Entry is one journaled voice presence change.
type Entry struct {
	Time        time.Time
	Direction   Direction
	UserID      string
	Username    string
	DisplayName string
	ChannelID   string
	ChannelName string
}

// Journal records entries durably.
type Journal interface {
	Append(ctx context.Context, e Entry) error
}

// MultiJournal appends to every journal in order and joins their errors.
type MultiJournal []Journal

func (m MultiJournal) Append(ctx context.Context, e Entry) error {
	var errs []error
	for _, j := range m {
		if j == nil {
			continue
		}
		if err := j.Append(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
