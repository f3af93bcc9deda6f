package notifier

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fleetmc/fleetmc/pkg/events"
	"github.com/fleetmc/fleetmc/pkg/types"
)

// eventTitles maps a WebhookEventKind to the title/color a Discord embed
// uses for it. Colors are standard Discord decimal RGB.
var eventTitles = map[types.WebhookEventKind]struct {
	title string
	color int
}{
	types.EventCrash:          {"🔴 Server Crashed", 0xE74C3C},
	types.EventStart:          {"🟢 Server Started", 0x2ECC71},
	types.EventStop:           {"⚪ Server Stopped", 0x95A5A6},
	types.EventPlayerJoin:     {"➡️ Player Joined", 0x3498DB},
	types.EventPlayerLeave:    {"⬅️ Player Left", 0x3498DB},
	types.EventBackupComplete: {"💾 Backup Complete", 0x2ECC71},
	types.EventBackupFailed:   {"❌ Backup Failed", 0xE74C3C},
}

// discordEmbed is the subset of Discord's webhook embed schema fleetmc
// populates.
type discordEmbed struct {
	Content string         `json:"content,omitempty"`
	Embeds  []discordField `json:"embeds"`
}

type discordField struct {
	Title       string            `json:"title"`
	Description string            `json:"description,omitempty"`
	Color       int               `json:"color"`
	Timestamp   string            `json:"timestamp"`
	Fields      []discordKeyValue `json:"fields,omitempty"`
}

type discordKeyValue struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// genericEnvelope is the generic-dialect JSON payload, per spec §4.10.
type genericEnvelope struct {
	Event     string        `json:"event"`
	Server    genericServer `json:"server"`
	Timestamp time.Time     `json:"timestamp"`
	Data      genericData   `json:"data,omitempty"`
}

type genericServer struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
}

type genericData struct {
	Player string `json:"player,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// buildPayload renders ie into the JSON body dialect expects.
func buildPayload(dialect types.WebhookDialect, ie events.InstanceEvent, name, kind string) ([]byte, error) {
	switch dialect {
	case types.DialectDiscord:
		return buildDiscordPayload(ie, name, kind)
	case types.DialectGeneric:
		return buildGenericPayload(ie, name, kind)
	default:
		return nil, fmt.Errorf("unsupported webhook dialect %q", dialect)
	}
}

func buildDiscordPayload(ie events.InstanceEvent, name, kind string) ([]byte, error) {
	meta, ok := eventTitles[types.WebhookEventKind(ie.Kind)]
	if !ok {
		meta = struct {
			title string
			color int
		}{title: ie.Kind, color: 0x95A5A6}
	}

	fields := []discordKeyValue{
		{Name: "Server", Value: name, Inline: true},
		{Name: "Kind", Value: kind, Inline: true},
	}
	if ie.Player != "" {
		fields = append(fields, discordKeyValue{Name: "Player", Value: ie.Player, Inline: true})
	}

	embed := discordEmbed{
		Embeds: []discordField{{
			Title:       meta.title,
			Description: ie.Detail,
			Color:       meta.color,
			Timestamp:   time.Now().UTC().Format(time.RFC3339),
			Fields:      fields,
		}},
	}
	return json.Marshal(embed)
}

func buildGenericPayload(ie events.InstanceEvent, name, kind string) ([]byte, error) {
	env := genericEnvelope{
		Event:     ie.Kind,
		Server:    genericServer{Name: name, Kind: kind},
		Timestamp: time.Now().UTC(),
		Data:      genericData{Player: ie.Player, Detail: ie.Detail},
	}
	return json.Marshal(env)
}
