package discord

import (
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"

	"github.com/team7636/robomania-bot/login"
	"github.com/team7636/robomania-bot/stream"
)

func TestOutcomeEmbed(t *testing.T) {
	tests := []struct {
		name      string
		out       login.Outcome
		wantTitle string
		wantText  string
		wantColor int
	}{
		{"sent", login.Outcome{Kind: login.OutcomeSent}, "成功產生登入代碼", "已透過私人訊息傳送你的登入代碼。", ColorDefault},
		{"rate limited", login.Outcome{Kind: login.OutcomeRateLimited, Err: &login.RateLimitedError{RetryAfter: 60 * time.Second}}, "錯誤：冷卻中", "請稍等 60 秒後再試。", ColorError},
		{"not registered", login.Outcome{Kind: login.OutcomeNotRegistered, Err: login.ErrNotRegistered}, "錯誤：成員不存在", "/執行新版驗證", ColorError},
		{"forbidden", login.Outcome{Kind: login.OutcomeDeliveryForbidden, Err: login.ErrDeliveryForbidden}, "錯誤：無法傳送私人訊息", "隱私設定", ColorError},
		{"failed", login.Outcome{Kind: login.OutcomeFailed, Err: errors.New("boom")}, "錯誤：無法產生登入代碼", "發生未知錯誤", ColorError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := OutcomeEmbed(tt.out, 90*time.Second)
			if e.Title != tt.wantTitle || e.Color != tt.wantColor {
				t.Errorf("title/color = %q/%#x", e.Title, e.Color)
			}
			if !strings.Contains(e.Description, tt.wantText) {
				t.Errorf("description = %q, want it to contain %q", e.Description, tt.wantText)
			}
		})
	}
}

func TestOutcomeEmbed_FailureShowsError(t *testing.T) {
	e := OutcomeEmbed(login.Outcome{Kind: login.OutcomeFailed, Err: errors.New("panel 500")}, time.Minute)
	if len(e.Fields) != 1 || !strings.Contains(e.Fields[0].Value, "panel 500") {
		t.Errorf("fields = %+v", e.Fields)
	}
}

func TestShellResultEmbed(t *testing.T) {
	e, fits := ShellResultEmbed("ok\n")
	if !fits || e.Description != "```ok\n```" || e.Title != "執行結果" {
		t.Errorf("embed = %+v fits = %v", e, fits)
	}
	if _, fits := ShellResultEmbed(strings.Repeat("字", 4091)); fits {
		t.Error("4096+ characters including fences must not fit")
	}
	if _, fits := ShellResultEmbed(strings.Repeat("字", 4090)); !fits {
		t.Error("exactly 4096 characters should fit")
	}
}

func TestEmbedFieldsStayWithinLimit(t *testing.T) {
	long := strings.Repeat("字", 5000)
	ev := stream.NewLogin{IP: "1.2.3.4", UserAgent: long, Method: long, MemberDiscordID: "42"}
	embeds := map[string]*discordgo.MessageEmbed{
		"new login":    NewLoginEmbed(ev, time.Unix(0, 0)),
		"update error": errorEmbed("錯誤：更新失敗", "", errors.New("git pull: "+long)),
	}
	for name, e := range embeds {
		for _, f := range e.Fields {
			if n := utf8.RuneCountInString(f.Value); n > maxEmbedFieldValue {
				t.Errorf("%s: field %q has %d characters", name, f.Name, n)
			}
		}
	}
	ua := NewLoginEmbed(ev, time.Unix(0, 0)).Fields[1].Value
	if !strings.HasPrefix(ua, "```字") || !strings.HasSuffix(ua, "…```") {
		t.Errorf("clipped user agent = %q...", ua[:20])
	}
	if got := NewLoginEmbed(stream.NewLogin{IP: "1.2.3.4", UserAgent: "UA"}, time.Unix(0, 0)).Fields[1].Value; got != "```UA```" {
		t.Errorf("short value changed: %q", got)
	}
}
