// Package discord adapts the bot's flows to the Discord gateway and REST API
// using discordgo: slash commands, the login-code button, voice state
// updates and direct messages.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"

	"github.com/team7636/robomania-bot/admin"
	"github.com/team7636/robomania-bot/config"
	"github.com/team7636/robomania-bot/login"
	"github.com/team7636/robomania-bot/presence"
	"github.com/team7636/robomania-bot/telemetry"
)

// NewSession builds a session with the intents the bot needs. It does not connect.
func NewSession(token string) (*discordgo.Session, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates | discordgo.IntentsGuildMessages
	return s, nil
}

// Handlers are the flows the bot routes Discord events to.
type Handlers struct {
	Messenger *Messenger
	Flow      *login.Flow
	Presence  *presence.Logger
	Shell     *admin.Shell
	Updater   *admin.Updater
}

// Bot owns the gateway session and routes its events.
type Bot struct {
	cfg     *config.Config
	session *discordgo.Session
	api     restAPI
	h       Handlers
	now     func() time.Time

	// channelName resolves a channel id for log lines.
	channelName func(id string) string

	ctx      context.Context
	removers []func()

	ownersMu sync.RWMutex
	owners   map[string]bool
}

// NewBot wires a session to the handlers. Call Open to connect.
func NewBot(s *discordgo.Session, cfg *config.Config, h Handlers) *Bot {
	b := newBot(s, cfg, h)
	b.session = s
	b.channelName = func(id string) string {
		if ch, err := s.State.Channel(id); err == nil {
			return ch.Name
		}
		if ch, err := s.Channel(id); err == nil {
			return ch.Name
		}
		return id
	}
	return b
}

func newBot(api restAPI, cfg *config.Config, h Handlers) *Bot {
	return &Bot{
		cfg:         cfg,
		api:         api,
		h:           h,
		now:         time.Now,
		channelName: func(id string) string { return id },
		ctx:         context.Background(),
		owners:      make(map[string]bool),
	}
}

// Open registers event handlers and connects to the gateway. Handlers run
// with contexts derived from ctx.
func (b *Bot) Open(ctx context.Context) error {
	b.ctx = ctx
	b.removers = append(b.removers,
		b.session.AddHandler(b.onReady),
		b.session.AddHandler(func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
			b.HandleInteraction(b.ctx, i.Interaction)
		}),
		b.session.AddHandler(func(_ *discordgo.Session, v *discordgo.VoiceStateUpdate) {
			b.HandleVoiceState(b.ctx, v)
		}),
	)
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("open discord gateway: %w", err)
	}
	return nil
}

// Close disconnects and drops pending message deletions.
func (b *Bot) Close() error {
	for _, rm := range b.removers {
		rm()
	}
	b.removers = nil
	if b.h.Messenger != nil {
		b.h.Messenger.Close()
	}
	return b.session.Close()
}

func (b *Bot) onReady(s *discordgo.Session, r *discordgo.Ready) {
	log := slog.With(slog.String("component", "discord"))
	log.Info("discord gateway ready", slog.String("user", r.User.Username), slog.Int("guilds", len(r.Guilds)))

	cmds, err := s.ApplicationCommandBulkOverwrite(r.User.ID, b.cfg.DiscordGuildID, Commands())
	if err != nil {
		log.Error("failed to register slash commands", slog.Any("err", err))
	} else {
		log.Info("slash commands registered", slog.Int("count", len(cmds)), slog.String("guild_id", b.cfg.DiscordGuildID))
	}

	if len(b.cfg.OwnerIDs) > 0 {
		return
	}
	app, err := s.Application("@me")
	if err != nil {
		log.Warn("could not resolve application owner; owner commands disabled", slog.Any("err", err))
		return
	}
	var ids []string
	if app.Owner != nil {
		ids = append(ids, app.Owner.ID)
	}
	if app.Team != nil {
		for _, m := range app.Team.Members {
			if m.User != nil {
				ids = append(ids, m.User.ID)
			}
		}
	}
	b.setOwners(ids)
	log.Info("owners resolved from application", slog.Int("count", len(ids)))
}

func (b *Bot) setOwners(ids []string) {
	b.ownersMu.Lock()
	defer b.ownersMu.Unlock()
	for _, id := range ids {
		b.owners[id] = true
	}
}

func (b *Bot) isOwner(id string) bool {
	if b.cfg.IsOwner(id) {
		return true
	}
	b.ownersMu.RLock()
	defer b.ownersMu.RUnlock()
	return b.owners[id]
}

func interactionUser(i *discordgo.Interaction) *discordgo.User {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User
	}
	return i.User
}

// HandleInteraction routes one slash command or button press.
func (b *Bot) HandleInteraction(ctx context.Context, i *discordgo.Interaction) {
	ctx = telemetry.WithCorrelation(ctx, uuid.New().String())
	user := interactionUser(i)
	if user == nil {
		return
	}
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "discord"), slog.String("user_id", user.ID))

	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		data := i.ApplicationCommandData()
		telemetry.IncLabel(telemetry.CommandInvocations, data.Name)
		log.Info("slash command", slog.String("command", data.Name), slog.String("channel_id", i.ChannelID))
		switch data.Name {
		case cmdClear:
			b.handleClear(ctx, i, data)
		case cmdShell:
			b.ownerOnly(ctx, i, user, func() { b.handleShell(ctx, i, data) })
		case cmdUpdate:
			b.ownerOnly(ctx, i, user, func() { b.handleUpdate(ctx, i) })
		case cmdLoginButton:
			b.ownerOnly(ctx, i, user, func() { b.handleCreateLoginButton(ctx, i) })
		default:
			log.Warn("unknown slash command", slog.String("command", data.Name))
		}
	case discordgo.InteractionMessageComponent:
		if i.MessageComponentData().CustomID == LoginButtonID {
			telemetry.IncLabel(telemetry.CommandInvocations, LoginButtonID)
			b.handleLoginButton(ctx, i, user)
		}
	}
}

func (b *Bot) ownerOnly(ctx context.Context, i *discordgo.Interaction, user *discordgo.User, fn func()) {
	if !b.isOwner(user.ID) {
		b.respond(ctx, i, embed("錯誤", "只有機器人擁有者可以使用此指令。", ColorError), true)
		return
	}
	fn()
}

func (b *Bot) respond(ctx context.Context, i *discordgo.Interaction, e *discordgo.MessageEmbed, ephemeral bool) {
	data := &discordgo.InteractionResponseData{Embeds: []*discordgo.MessageEmbed{e}}
	if ephemeral {
		data.Flags = discordgo.MessageFlagsEphemeral
	}
	err := b.api.InteractionRespond(i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: data,
	}, discordgo.WithContext(ctx))
	if err != nil {
		telemetry.LoggerWithCorr(ctx).Warn("interaction response failed", slog.Any("err", err), slog.String("component", "discord"))
	}
}

func (b *Bot) deferReply(ctx context.Context, i *discordgo.Interaction, ephemeral bool) error {
	resp := &discordgo.InteractionResponse{Type: discordgo.InteractionResponseDeferredChannelMessageWithSource}
	if ephemeral {
		resp.Data = &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral}
	}
	if err := b.api.InteractionRespond(i, resp, discordgo.WithContext(ctx)); err != nil {
		telemetry.LoggerWithCorr(ctx).Warn("defer interaction failed", slog.Any("err", err), slog.String("component", "discord"))
		return err
	}
	return nil
}

func (b *Bot) followup(ctx context.Context, i *discordgo.Interaction, params *discordgo.WebhookParams, ephemeral bool) {
	if ephemeral {
		params.Flags = discordgo.MessageFlagsEphemeral
	}
	if _, err := b.api.FollowupMessageCreate(i, true, params, discordgo.WithContext(ctx)); err != nil {
		telemetry.LoggerWithCorr(ctx).Warn("follow-up message failed", slog.Any("err", err), slog.String("component", "discord"))
	}
}

func (b *Bot) followupEmbed(ctx context.Context, i *discordgo.Interaction, e *discordgo.MessageEmbed, ephemeral bool) {
	b.followup(ctx, i, &discordgo.WebhookParams{Embeds: []*discordgo.MessageEmbed{e}}, ephemeral)
}

func (b *Bot) handleLoginButton(ctx context.Context, i *discordgo.Interaction, user *discordgo.User) {
	if err := b.deferReply(ctx, i, true); err != nil {
		return
	}
	out := b.h.Flow.Generate(ctx, user.ID)
	b.followupEmbed(ctx, i, OutcomeEmbed(out, b.cfg.LoginCodeCooldown), true)
}

func (b *Bot) handleCreateLoginButton(ctx context.Context, i *discordgo.Interaction) {
	if err := b.deferReply(ctx, i, true); err != nil {
		return
	}
	_, err := b.api.ChannelMessageSendComplex(i.ChannelID, &discordgo.MessageSend{
		Embeds:     []*discordgo.MessageEmbed{embed("產生登入代碼", "按下下方的按鈕，以產生你的登入代碼。", ColorDefault)},
		Components: GenerateCodeButton(),
	}, discordgo.WithContext(ctx))
	if err != nil {
		b.followupEmbed(ctx, i, errorEmbed("錯誤", "發生未知錯誤。", err), true)
		return
	}
	b.followupEmbed(ctx, i, embed("成功", "已在目前頻道建立「產生登入代碼」的按鈕。", ColorDefault), true)
}

func (b *Bot) handleClear(ctx context.Context, i *discordgo.Interaction, data discordgo.ApplicationCommandInteractionData) {
	if i.Member == nil || !hasRole(i.Member.Roles, b.cfg.ClearRoleID) {
		b.respond(ctx, i, embed("錯誤", "你沒有權限使用此指令。", ColorError), true)
		return
	}
	var count int
	if o, ok := options(data)[optCount]; ok {
		count = int(o.IntValue())
	}
	if err := admin.ValidatePurgeCount(count); err != nil {
		b.respond(ctx, i, errorEmbed("錯誤", "刪除訊息數必須介於 1 到 50 之間。", err), true)
		return
	}
	if err := b.deferReply(ctx, i, true); err != nil {
		return
	}

	deleted, err := b.purge(ctx, i.ChannelID, count)
	if err != nil {
		b.followupEmbed(ctx, i, errorEmbed("錯誤", "發生未知錯誤。", err), true)
		return
	}
	done := embed("已清除訊息", fmt.Sprintf("已成功清除 <#%s> 中的 `%d` 則訊息。", i.ChannelID, deleted), ColorDefault)
	if msg, err := b.api.ChannelMessageSendComplex(i.ChannelID, &discordgo.MessageSend{Embeds: []*discordgo.MessageEmbed{done}}, discordgo.WithContext(ctx)); err == nil && b.h.Messenger != nil {
		b.h.Messenger.deleteAfter(msg.ChannelID, msg.ID, 5*time.Second)
	}
	b.followupEmbed(ctx, i, done, true)
}

func (b *Bot) purge(ctx context.Context, channelID string, count int) (int, error) {
	msgs, err := b.api.ChannelMessages(channelID, count, "", "", "", discordgo.WithContext(ctx))
	if err != nil {
		return 0, fmt.Errorf("list messages: %w", err)
	}
	candidates := make([]admin.Message, 0, len(msgs))
	for _, m := range msgs {
		candidates = append(candidates, admin.Message{ID: m.ID, Timestamp: m.Timestamp})
	}
	plan := admin.PlanPurge(candidates, b.now())
	if len(plan.Bulk) > 0 {
		if err := b.api.ChannelMessagesBulkDelete(channelID, plan.Bulk, discordgo.WithContext(ctx)); err != nil {
			return 0, fmt.Errorf("bulk delete: %w", err)
		}
	}
	deleted := len(plan.Bulk)
	for _, id := range plan.Single {
		if err := b.api.ChannelMessageDelete(channelID, id, discordgo.WithContext(ctx)); err != nil {
			return deleted, fmt.Errorf("delete message %s: %w", id, err)
		}
		deleted++
	}
	return deleted, nil
}

func hasRole(roles []string, want string) bool {
	for _, r := range roles {
		if r == want {
			return true
		}
	}
	return false
}

func (b *Bot) handleShell(ctx context.Context, i *discordgo.Interaction, data discordgo.ApplicationCommandInteractionData) {
	opts := options(data)
	private := false
	if o, ok := opts[optPrivate]; ok {
		private = o.BoolValue()
	}
	backend := admin.BackendSubprocess
	if o, ok := opts[optBackend]; ok {
		backend = admin.Backend(o.StringValue())
	}
	var line string
	if o, ok := opts[optCommand]; ok {
		line = o.StringValue()
	}
	if err := b.deferReply(ctx, i, private); err != nil {
		return
	}

	out, err := b.h.Shell.Run(ctx, line, backend)
	switch {
	case errors.Is(err, admin.ErrForbiddenCommand):
		b.followupEmbed(ctx, i, embed("錯誤", "基於安全原因，你不能執行這個指令。", ColorError), private)
		return
	case err != nil:
		b.followupEmbed(ctx, i, embed("錯誤", fmt.Sprintf("發生錯誤：`%v`", err), ColorError), private)
		return
	}
	if e, fits := ShellResultEmbed(out); fits {
		b.followupEmbed(ctx, i, e, private)
		return
	}
	b.followup(ctx, i, &discordgo.WebhookParams{
		Content: "由於訊息長度過長，因此改以文字檔方式呈現。",
		Files:   []*discordgo.File{{Name: "full_msg.txt", ContentType: "text/plain; charset=utf-8", Reader: strings.NewReader(out)}},
	}, private)
}

func (b *Bot) handleUpdate(ctx context.Context, i *discordgo.Interaction) {
	b.respond(ctx, i, embed("更新中", "更新流程啟動。", ColorDefault), false)
	err := b.api.UpdateStatusComplex(discordgo.UpdateStatusData{
		Status:     string(discordgo.StatusIdle),
		Activities: []*discordgo.Activity{{Name: "更新中...", Type: discordgo.ActivityTypeGame}},
	})
	if err != nil {
		telemetry.LoggerWithCorr(ctx).Warn("failed to set presence", slog.Any("err", err), slog.String("component", "discord"))
	}

	steps, err := b.h.Updater.Update(ctx)
	var sb strings.Builder
	for _, s := range steps {
		status := "OK"
		if s.Err != nil {
			status = "失敗"
		}
		fmt.Fprintf(&sb, "`git %s`：%s\n", strings.Join(s.Args, " "), status)
	}
	if err != nil {
		telemetry.LoggerWithCorr(ctx).Error("self-update failed", slog.Any("err", err), slog.String("component", "discord"))
		b.followupEmbed(ctx, i, errorEmbed("錯誤：更新失敗", sb.String(), err), false)
		return
	}
	telemetry.LoggerWithCorr(ctx).Info("self-update finished", slog.String("component", "discord"))
	b.followupEmbed(ctx, i, embed("更新完成", sb.String(), ColorDefault), false)
}

// HandleVoiceState forwards a voice state update to the presence logger.
func (b *Bot) HandleVoiceState(ctx context.Context, v *discordgo.VoiceStateUpdate) {
	if b.h.Presence == nil || v.VoiceState == nil {
		return
	}
	c := VoiceChange(v, b.channelName)
	if err := b.h.Presence.HandleVoiceChange(ctx, c); err != nil {
		slog.Warn("voice presence handling incomplete", slog.String("user_id", c.UserID), slog.Any("err", err), slog.String("component", "discord"))
	}
}

// VoiceChange converts a gateway voice update. BeforeUpdate is only present
// when the state cache saw the member's previous voice state.
func VoiceChange(v *discordgo.VoiceStateUpdate, channelName func(string) string) presence.Change {
	c := presence.Change{UserID: v.UserID, Username: v.UserID}
	if m := v.Member; m != nil {
		c.Nick = m.Nick
		if m.User != nil {
			c.Username = m.User.Username
			c.Bot = m.User.Bot
		}
	}
	if v.BeforeUpdate != nil && v.BeforeUpdate.ChannelID != "" {
		c.Before = &presence.Channel{ID: v.BeforeUpdate.ChannelID, Name: channelName(v.BeforeUpdate.ChannelID)}
	}
	if v.ChannelID != "" {
		c.After = &presence.Channel{ID: v.ChannelID, Name: channelName(v.ChannelID)}
	}
	return c
}
