// Package presence announces voice channel joins and leaves and journals
// them to a daily log file.
package presence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/team7636/robomania-bot/panel"
	"github.com/team7636/robomania-bot/telemetry"
)

// AnnounceTTL is how long an announcement stays in the channel.
const AnnounceTTL = 12 * time.Hour

const (
	joinEmoji  = "<:join:1208779348438683668>"
	leaveEmoji = "<:left:1208779447440777226>"
)

// Channel identifies a voice channel.
type Channel struct {
	ID   string
	Name string
}

// Change is a voice state update for one member. A nil Before means the
// member joined voice; a nil After means they left.
type Change struct {
	UserID   string
	Username string
	Nick     string
	Bot      bool
	Before   *Channel
	After    *Channel
}

// Announcer posts a message to a channel and removes it after ttl.
type Announcer interface {
	Announce(ctx context.Context, channelID, content string, ttl time.Duration) error
}

// MemberSearcher looks up panel members by Discord id.
type MemberSearcher interface {
	SearchMembers(ctx context.Context, discordID string) ([]panel.Member, error)
}

// Logger turns voice state updates into announcements and journal entries.
type Logger struct {
	Announcer Announcer
	Members   MemberSearcher // optional
	Journal   Journal
	Now       func() time.Time
}

// HandleVoiceChange processes one update. Bots and updates that stay in the
// same channel are ignored. A switch yields a leave followed by a join.
// Announcement and journal errors are collected; one failing does not skip
// the others.
func (l *Logger) HandleVoiceChange(ctx context.Context, c Change) error {
	if c.Bot || !moved(c) {
		return nil
	}
	now := time.Now()
	if l.Now != nil {
		now = l.Now()
	}
	name := l.displayName(ctx, c)

	var errs []error
	if c.Before != nil {
		errs = append(errs, l.record(ctx, c, name, Leave, *c.Before, now)...)
	}
	if c.After != nil {
		errs = append(errs, l.record(ctx, c, name, Join, *c.After, now)...)
	}
	return errors.Join(errs...)
}

func moved(c Change) bool {
	switch {
	case c.Before == nil && c.After == nil:
		return false
	case c.Before == nil || c.After == nil:
		return true
	default:
		return c.Before.ID != c.After.ID
	}
}

func (l *Logger) record(ctx context.Context, c Change, name string, dir Direction, ch Channel, now time.Time) []error {
	telemetry.IncLabel(telemetry.VoiceEvents, string(dir))
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "presence"), slog.String("user_id", c.UserID), slog.String("channel_id", ch.ID))

	var errs []error
	if l.Announcer != nil {
		if err := l.Announcer.Announce(ctx, ch.ID, Announcement(dir, name, ch.ID, now), AnnounceTTL); err != nil {
			telemetry.Inc(telemetry.AnnounceFailures)
			log.Warn("voice announcement failed", slog.String("direction", string(dir)), slog.Any("err", err))
			errs = append(errs, fmt.Errorf("announce %s: %w", dir, err))
		}
	}
	if l.Journal != nil {
		e := Entry{
			Time:        now,
			Direction:   dir,
			UserID:      c.UserID,
			Username:    c.Username,
			DisplayName: name,
			ChannelID:   ch.ID,
			ChannelName: ch.Name,
		}
		if err := l.Journal.Append(ctx, e); err != nil {
			log.Error("voice journal append failed", slog.Any("err", err))
			errs = append(errs, fmt.Errorf("journal %s: %w", dir, err))
		}
	}
	return errs
}

// displayName prefers the panel real name, then "nick (username)", then username.
func (l *Logger) displayName(ctx context.Context, c Change) string {
	if l.Members != nil {
		members, err := l.Members.SearchMembers(ctx, c.UserID)
		if err != nil {
			telemetry.LoggerWithCorr(ctx).Warn("member lookup failed; using discord name",
				slog.String("component", "presence"), slog.String("user_id", c.UserID), slog.Any("err", err))
		} else if len(members) > 0 && members[0].RealName != "" {
			return members[0].RealName
		}
	}
	return FallbackName(c.Nick, c.Username)
}

// FallbackName formats a Discord member without a panel record.
func FallbackName(nick, username string) string {
	if nick == "" {
		return username
	}
	return nick + " (" + username + ")"
}

// Announcement renders the channel message for a presence change.
func Announcement(dir Direction, name, channelID string, at time.Time) string {
	emoji, verb := joinEmoji, "加入"
	if dir == Leave {
		emoji, verb = leaveEmoji, "離開"
	}
	return fmt.Sprintf("%s **%s** 在 <t:%d:T> %s <#%s>。", emoji, name, at.Unix(), verb, channelID)
}
