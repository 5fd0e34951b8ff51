package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// DiscordAPI is the slice of the Discord REST surface the channel
// orchestrator needs. Every operation talks to a rate-limited,
// occasionally-unavailable system; callers must treat each call as
// individually fallible.
type DiscordAPI interface {
	CreateCategory(ctx context.Context, name string) (string, error)
	CreateTextChannel(ctx context.Context, name, parentID, topic string) (string, error)
	CreateVoiceChannel(ctx context.Context, name, parentID string, userLimit int) (string, error)
	PostMessage(ctx context.Context, channelID, content string) error
	MoveMember(ctx context.Context, memberID, voiceChannelID string) error
	DeleteChannel(ctx context.Context, channelID string) error
}

// ErrMemberNotInVoice marks a move attempt for a member with no active
// voice presence. The orchestrator treats it as a no-op, not a failure.
var ErrMemberNotInVoice = errors.New("member is not connected to voice")

// Discord error code for "target user is not connected to voice".
const discordCodeTargetNotInVoice = 40032

const (
	discordChannelTypeText     = 0
	discordChannelTypeVoice    = 2
	discordChannelTypeCategory = 4
)

// DiscordClient is a thin REST client for the Discord bot API.
type DiscordClient struct {
	rest    *resty.Client
	guildID string
}

func NewDiscordClient(botToken, guildID string) *DiscordClient {
	rest := resty.New().
		SetBaseURL("https://discord.com/api/v10").
		SetTimeout(10 * time.Second).
		SetHeader("Authorization", "Bot "+botToken).
		SetHeader("Content-Type", "application/json")
	return &DiscordClient{rest: rest, guildID: guildID}
}

// discordErrorResponse describes the JSON Discord responds with when an
// API call fails.
type discordErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func toErrorFromResponse(resp *resty.Response) error {
	var errResp discordErrorResponse
	if err := json.Unmarshal(resp.Body(), &errResp); err != nil {
		return fmt.Errorf("discord api (HTTP %d): unable to parse error response: %w",
			resp.StatusCode(), err)
	}
	if errResp.Code == discordCodeTargetNotInVoice {
		return ErrMemberNotInVoice
	}
	return fmt.Errorf("discord api (HTTP %d): code %d: %s",
		resp.StatusCode(), errResp.Code, errResp.Message)
}

type createChannelRequest struct {
	Name      string `json:"name"`
	Type      int    `json:"type"`
	ParentID  string `json:"parent_id,omitempty"`
	Topic     string `json:"topic,omitempty"`
	UserLimit int    `json:"user_limit,omitempty"`
}

type channelResponse struct {
	ID string `json:"id"`
}

func (d *DiscordClient) createChannel(ctx context.Context, body createChannelRequest) (string, error) {
	var channel channelResponse
	resp, err := d.rest.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&channel).
		Post(fmt.Sprintf("/guilds/%s/channels", d.guildID))
	if err != nil {
		return "", err
	}
	if resp.IsError() {
		return "", toErrorFromResponse(resp)
	}
	return channel.ID, nil
}

func (d *DiscordClient) CreateCategory(ctx context.Context, name string) (string, error) {
	return d.createChannel(ctx, createChannelRequest{
		Name: name,
		Type: discordChannelTypeCategory,
	})
}

func (d *DiscordClient) CreateTextChannel(ctx context.Context, name, parentID, topic string) (string, error) {
	return d.createChannel(ctx, createChannelRequest{
		Name:     name,
		Type:     discordChannelTypeText,
		ParentID: parentID,
		Topic:    topic,
	})
}

func (d *DiscordClient) CreateVoiceChannel(ctx context.Context, name, parentID string, userLimit int) (string, error) {
	return d.createChannel(ctx, createChannelRequest{
		Name:      name,
		Type:      discordChannelTypeVoice,
		ParentID:  parentID,
		UserLimit: userLimit,
	})
}

func (d *DiscordClient) PostMessage(ctx context.Context, channelID, content string) error {
	resp, err := d.rest.R().
		SetContext(ctx).
		SetBody(map[string]string{"content": content}).
		Post(fmt.Sprintf("/channels/%s/messages", channelID))
	if err != nil {
		return err
	}
	if resp.IsError() {
		return toErrorFromResponse(resp)
	}
	return nil
}

func (d *DiscordClient) MoveMember(ctx context.Context, memberID, voiceChannelID string) error {
	resp, err := d.rest.R().
		SetContext(ctx).
		SetBody(map[string]string{"channel_id": voiceChannelID}).
		Patch(fmt.Sprintf("/guilds/%s/members/%s", d.guildID, memberID))
	if err != nil {
		return err
	}
	if resp.IsError() {
		return toErrorFromResponse(resp)
	}
	return nil
}

func (d *DiscordClient) DeleteChannel(ctx context.Context, channelID string) error {
	resp, err := d.rest.R().
		SetContext(ctx).
		Delete(fmt.Sprintf("/channels/%s", channelID))
	if err != nil {
		return err
	}
	// A channel that is already gone counts as deleted.
	if resp.StatusCode() == 404 {
		return nil
	}
	if resp.IsError() {
		return toErrorFromResponse(resp)
	}
	return nil
}
