package discord

import "github.com/bwmarrin/discordgo"

const (
	cmdClear       = "clear"
	cmdShell       = "cmd"
	cmdUpdate      = "update"
	cmdLoginButton = "建立登入代碼按鈕"

	optCount   = "刪除訊息數"
	optCommand = "指令"
	optBackend = "執行模組"
	optPrivate = "私人訊息"
)

// Commands are the slash commands the bot registers.
func Commands() []*discordgo.ApplicationCommand {
	minPurge := 1.0
	return []*discordgo.ApplicationCommand{
		{
			Name:        cmdClear,
			Description: "清除目前頻道中的訊息。",
			Options: []*discordgo.ApplicationCommandOption{{
				Type:        discordgo.ApplicationCommandOptionInteger,
				Name:        optCount,
				Description: "要刪除的訊息數量",
				Required:    true,
				MinValue:    &minPurge,
				MaxValue:    50,
			}},
		},
		{
			Name:        cmdShell,
			Description: "在伺服器端執行指令並傳回結果。",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        optCommand,
					Description: "要執行的指令",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        optBackend,
					Description: "執行指令的模組",
					Choices: []*discordgo.ApplicationCommandOptionChoice{
						{Name: "subprocess", Value: "subprocess"},
						{Name: "os", Value: "os"},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionBoolean,
					Name:        optPrivate,
					Description: "是否以私人訊息回應",
				},
			},
		},
		{
			Name:        cmdUpdate,
			Description: "更新機器人程式碼。",
		},
		{
			Name:        cmdLoginButton,
			Description: "在目前頻道建立「產生登入代碼」的按鈕。",
		},
	}
}

// options indexes command options by name.
func options(data discordgo.ApplicationCommandInteractionData) map[string]*discordgo.ApplicationCommandInteractionDataOption {
	m := make(map[string]*discordgo.ApplicationCommandInteractionDataOption, len(data.Options))
	for _, o := range data.Options {
		m[o.Name] = o
	}
	return m
}
