package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/team7636/robomania-bot/login"
	"github.com/team7636/robomania-bot/panel"
	"github.com/team7636/robomania-bot/stream"
)

// restAPI is the part of *discordgo.Session the bot calls. Tests supply a fake.
type restAPI interface {
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageDelete(channelID, messageID string, options ...discordgo.RequestOption) error
	ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error)
	ChannelMessagesBulkDelete(channelID string, messages []string, options ...discordgo.RequestOption) error
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	FollowupMessageCreate(interaction *discordgo.Interaction, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
	UpdateStatusComplex(usd discordgo.UpdateStatusData) error
}

// IsDMForbidden reports whether err is Discord refusing a direct message (50007).
func IsDMForbidden(err error) bool {
	var rest *discordgo.RESTError
	return errors.As(err, &rest) && rest.Message != nil && rest.Message.Code == discordgo.ErrCodeCannotSendMessagesToThisUser
}

// Messenger sends the bot's DMs and channel announcements. It implements
// stream.Notifier, login.Deliverer and presence.Announcer.
type Messenger struct {
	api          restAPI
	loginPageURL string
	loc          *time.Location

	mu      sync.Mutex
	pending map[*time.Timer]struct{}
	closed  bool
}

// NewMessenger returns a Messenger. Timestamps in DMs are shown in loc.
func NewMessenger(api restAPI, loginPageURL string, loc *time.Location) *Messenger {
	if loc == nil {
		loc = time.UTC
	}
	return &Messenger{api: api, loginPageURL: loginPageURL, loc: loc, pending: make(map[*time.Timer]struct{})}
}

func (m *Messenger) sendDM(ctx context.Context, userID string, msg *discordgo.MessageSend) error {
	ch, err := m.api.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("open dm with %s: %w", userID, err)
	}
	if _, err := m.api.ChannelMessageSendComplex(ch.ID, msg, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("send dm to %s: %w", userID, err)
	}
	return nil
}

// NotifyNewLogin DMs the affected member about a new panel sign-in.
func (m *Messenger) NotifyNewLogin(ctx context.Context, ev stream.NewLogin, at time.Time) error {
	return m.sendDM(ctx, string(ev.MemberDiscordID), &discordgo.MessageSend{
		Embeds: []*discordgo.MessageEmbed{NewLoginEmbed(ev, at.In(m.loc))},
	})
}

// DeliverLoginCode DMs a login code with a link to the login page.
func (m *Messenger) DeliverLoginCode(ctx context.Context, userID string, code panel.LoginCode) (login.DeliveryResult, error) {
	err := m.sendDM(ctx, userID, &discordgo.MessageSend{
		Embeds:     []*discordgo.MessageEmbed{LoginCodeEmbed(code)},
		Components: LoginPageButton(m.loginPageURL),
	})
	switch {
	case err == nil:
		return login.Delivered, nil
	case IsDMForbidden(err):
		return login.Forbidden, err
	default:
		return login.OtherFailure, err
	}
}

// Announce posts content in channelID and deletes it after ttl. Pending
// deletions are dropped by Close.
func (m *Messenger) Announce(ctx context.Context, channelID, content string, ttl time.Duration) error {
	msg, err := m.api.ChannelMessageSend(channelID, content, discordgo.WithContext(ctx))
	if err != nil {
		return err
	}
	m.deleteAfter(msg.ChannelID, msg.ID, ttl)
	return nil
}

func (m *Messenger) deleteAfter(channelID, messageID string, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	var t *time.Timer
	t = time.AfterFunc(ttl, func() {
		m.mu.Lock()
		delete(m.pending, t)
		m.mu.Unlock()
		if err := m.api.ChannelMessageDelete(channelID, messageID); err != nil {
			slog.Warn("failed to delete expired message", slog.String("channel_id", channelID),
				slog.String("message_id", messageID), slog.Any("err", err), slog.String("component", "discord"))
		}
	})
	m.pending[t] = struct{}{}
}

// Pending reports how many deletions are scheduled.
func (m *Messenger) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Close cancels scheduled deletions.
func (m *Messenger) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	for t := range m.pending {
		t.Stop()
	}
	m.pending = map[*time.Timer]struct{}{}
}
