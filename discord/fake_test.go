package discord

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/bwmarrin/discordgo"
)

// fakeAPI records REST calls in memory.
type fakeAPI struct {
	mu sync.Mutex

	dmErr       error
	sendErr     error
	history     []*discordgo.Message
	nextID      int
	sent        []*discordgo.MessageSend
	plain       []string
	deleted     []string
	bulkDeleted [][]string
	responses   []*discordgo.InteractionResponse
	followups   []*discordgo.WebhookParams
	files       map[string]string
	statuses    []discordgo.UpdateStatusData
}

func newFakeAPI() *fakeAPI { return &fakeAPI{files: map[string]string{}} }

func (f *fakeAPI) UserChannelCreate(recipientID string, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	if f.dmErr != nil {
		return nil, f.dmErr
	}
	return &discordgo.Channel{ID: "dm-" + recipientID, Type: discordgo.ChannelTypeDM}, nil
}

func (f *fakeAPI) message(channelID string) *discordgo.Message {
	f.nextID++
	return &discordgo.Message{ID: fmt.Sprintf("m%d", f.nextID), ChannelID: channelID}
}

func (f *fakeAPI) ChannelMessageSend(channelID, content string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.plain = append(f.plain, channelID+"|"+content)
	return f.message(channelID), nil
}

func (f *fakeAPI) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sent = append(f.sent, data)
	return f.message(channelID), nil
}

func (f *fakeAPI) ChannelMessageDelete(channelID, messageID string, _ ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, messageID)
	return nil
}

func (f *fakeAPI) ChannelMessages(channelID string, limit int, _, _, _ string, _ ...discordgo.RequestOption) ([]*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if limit > len(f.history) {
		limit = len(f.history)
	}
	return f.history[:limit], nil
}

func (f *fakeAPI) ChannelMessagesBulkDelete(channelID string, messages []string, _ ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(messages) < 2 {
		return errors.New("bulk delete needs at least 2 messages")
	}
	f.bulkDeleted = append(f.bulkDeleted, messages)
	return nil
}

func (f *fakeAPI) InteractionRespond(_ *discordgo.Interaction, resp *discordgo.InteractionResponse, _ ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = append(f.responses, resp)
	return nil
}

func (f *fakeAPI) FollowupMessageCreate(_ *discordgo.Interaction, _ bool, data *discordgo.WebhookParams, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.followups = append(f.followups, data)
	for _, file := range data.Files {
		b, _ := io.ReadAll(file.Reader)
		f.files[file.Name] = string(b)
	}
	return &discordgo.Message{ID: "followup"}, nil
}

func (f *fakeAPI) UpdateStatusComplex(usd discordgo.UpdateStatusData) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, usd)
	return nil
}

func (f *fakeAPI) lastFollowup() *discordgo.WebhookParams {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.followups) == 0 {
		return nil
	}
	return f.followups[len(f.followups)-1]
}

func (f *fakeAPI) deletedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}
