package discord

import (
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"

	"github.com/team7636/robomania-bot/admin"
	"github.com/team7636/robomania-bot/login"
	"github.com/team7636/robomania-bot/panel"
	"github.com/team7636/robomania-bot/stream"
)

const (
	ColorDefault = 0x012a5e
	ColorError   = 0xF1411C

	// maxEmbedDescription is Discord's limit on embed descriptions, in characters.
	maxEmbedDescription = 4096
	// maxEmbedFieldValue is the limit on a single embed field value.
	maxEmbedFieldValue = 1024

	LoginButtonID = "generate_login_code_button"
)

func embed(title, desc string, color int) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{Title: title, Description: desc, Color: color}
}

func errorEmbed(title, desc string, err error) *discordgo.MessageEmbed {
	e := embed(title, desc, ColorError)
	if err != nil {
		e.Fields = []*discordgo.MessageEmbedField{codeBlockField("錯誤訊息", err.Error())}
	}
	return e
}

// clip shortens s to at most n runes, marking the cut with an ellipsis.
func clip(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n-1]) + "…"
}

func codeBlockField(name, body string) *discordgo.MessageEmbedField {
	return &discordgo.MessageEmbedField{Name: name, Value: "```" + clip(body, maxEmbedFieldValue-6) + "```"}
}

// NewLoginEmbed is the DM sent when someone signs in to a member's panel account.
func NewLoginEmbed(ev stream.NewLogin, at time.Time) *discordgo.MessageEmbed {
	e := embed("新的登入通知",
		"有人在隊務管理面板登入了你的帳號。請確認是否為你本人所進行的操作。\n"+
			"如果你懷疑你的帳號遭到盜用，請立即更換密碼，並告知管理員。",
		ColorDefault)
	e.Fields = []*discordgo.MessageEmbedField{
		{Name: "IP 位址", Value: "`" + clip(ev.IP, maxEmbedFieldValue-2) + "`"},
		codeBlockField("使用者代理", ev.UserAgent),
		{Name: "登入方式", Value: clip(orDash(ev.Method), maxEmbedFieldValue)},
	}
	e.Timestamp = at.Format(time.RFC3339)
	return e
}

// LoginCodeEmbed is the DM carrying a freshly created login code.
func LoginCodeEmbed(code panel.LoginCode) *discordgo.MessageEmbed {
	created := code.CreatedAt.Unix()
	e := embed("成功產生登入代碼",
		fmt.Sprintf("你的代碼已顯示於下方。\n請妥善保管，並於 <t:%d:R> 使用此代碼。", code.ExpiresAt.Unix()),
		ColorDefault)
	e.Fields = []*discordgo.MessageEmbedField{
		{Name: "登入代碼", Value: "`" + code.Code + "`"},
		{Name: "建立時間", Value: fmt.Sprintf("<t:%d:F>", created)},
	}
	return e
}

// LoginPageButton links to the panel login page.
func LoginPageButton(url string) []discordgo.MessageComponent {
	return []discordgo.MessageComponent{discordgo.ActionsRow{Components: []discordgo.MessageComponent{
		discordgo.Button{Label: "前往登入頁面", Style: discordgo.LinkButton, URL: url},
	}}}
}

// GenerateCodeButton is the persistent button that starts the login-code flow.
func GenerateCodeButton() []discordgo.MessageComponent {
	return []discordgo.MessageComponent{discordgo.ActionsRow{Components: []discordgo.MessageComponent{
		discordgo.Button{
			Label:    "產生登入代碼",
			Style:    discordgo.SuccessButton,
			CustomID: LoginButtonID,
			Emoji:    &discordgo.ComponentEmoji{Name: "🗝️"},
		},
	}}}
}

// OutcomeEmbed renders a login-code outcome for the requester.
func OutcomeEmbed(o login.Outcome, cooldown time.Duration) *discordgo.MessageEmbed {
	switch o.Kind {
	case login.OutcomeSent:
		return embed("成功產生登入代碼", "已透過私人訊息傳送你的登入代碼。", ColorDefault)
	case login.OutcomeRateLimited:
		secs := int(o.RetryAfter() / time.Second)
		return embed("錯誤：冷卻中",
			fmt.Sprintf("每次操作需要間隔至少 %d 秒。請稍等 %d 秒後再試。", int(cooldown/time.Second), secs),
			ColorError)
	case login.OutcomeNotRegistered:
		return embed("錯誤：成員不存在",
			"你的 Discord ID 尚未註冊至資料庫中，因此無法產生登入代碼。\n請先使用 `/執行新版驗證` 指令進行驗證。",
			ColorError)
	case login.OutcomeDeliveryForbidden:
		return errorEmbed("錯誤：無法傳送私人訊息",
			"請前往此伺服器的隱私設定，確認你的帳號允許來自此伺服器的私訊，然後再試一次。", o.Err)
	default:
		return errorEmbed("錯誤：無法產生登入代碼", "發生未知錯誤，請稍後再試。", o.Err)
	}
}

// ShellResultEmbed renders command stdout. fits is false when the output
// is too long for an embed and must be sent as a file.
func ShellResultEmbed(out string) (e *discordgo.MessageEmbed, fits bool) {
	desc := admin.Display(out)
	if desc != admin.NoOutput {
		desc = "```" + desc + "```"
	}
	if utf8.RuneCountInString(desc) > maxEmbedDescription {
		return nil, false
	}
	return embed("執行結果", desc, ColorDefault), true
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
