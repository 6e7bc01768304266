// Package slackbot posts escalation notices to a Slack channel.
package slackbot

import (
	"context"
	"fmt"
	"strings"

	"github.com/slack-go/slack"
	"go.uber.org/zap"

	"agentdesk/internal/domain"
)

// Poster is the part of *slack.Client the notifier needs.
type Poster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

type Notifier struct {
	api        Poster
	channel    string
	systemName string
	logger     *zap.Logger
}

// New builds a notifier for channel. systemName is the display name of the
// configured ticketing system.
func New(api Poster, channel, systemName string, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{api: api, channel: channel, systemName: systemName, logger: logger}
}

// NewFromToken builds a notifier with a slack-go client.
func NewFromToken(token, channel, systemName string, logger *zap.Logger, opts ...slack.Option) *Notifier {
	return New(slack.New(token, opts...), channel, systemName, logger)
}

// Notify posts escalations only; self-healed interactions are not announced.
func (n *Notifier) Notify(ctx context.Context, note domain.Notification) error {
	if note.Kind != domain.NotificationEscalated {
		return nil
	}
	text := note.Message(n.systemName)
	_, ts, err := n.api.PostMessageContext(ctx, n.channel,
		slack.MsgOptionText(text, false),
		slack.MsgOptionBlocks(escalationBlocks(note, text)...),
	)
	if err != nil {
		return fmt.Errorf("posting escalation for %s to slack: %w", note.Interaction.ID, err)
	}
	n.logger.Info("escalation posted to slack",
		zap.String("interaction_id", note.Interaction.ID),
		zap.String("channel", n.channel),
		zap.String("ts", ts),
	)
	return nil
}

func escalationBlocks(note domain.Notification, text string) []slack.Block {
	in := note.Interaction
	blocks := []slack.Block{
		slack.NewHeaderBlock(slack.NewTextBlockObject(slack.PlainTextType, "Customer interaction escalated", false, false)),
		slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, text, false, false), nil, nil),
	}

	intent := in.DetectedIntent
	if intent == "" {
		intent = domain.IntentUnknown
	}
	fields := []*slack.TextBlockObject{
		slack.NewTextBlockObject(slack.MarkdownType, "*Channel*\n"+string(in.Channel), false, false),
		slack.NewTextBlockObject(slack.MarkdownType, "*Intent*\n"+intent, false, false),
	}
	if in.DetectedDevice != "" {
		fields = append(fields, slack.NewTextBlockObject(slack.MarkdownType, "*Device*\n"+in.DetectedDevice, false, false))
	}
	if t := note.Outcome.Ticket; t != nil && t.URL != "" {
		fields = append(fields, slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("*Ticket*\n<%s|%s>", t.URL, t.TicketID), false, false))
	}
	blocks = append(blocks, slack.NewSectionBlock(nil, fields, nil))

	if quote := quoteText(in.Text); quote != "" {
		blocks = append(blocks, slack.NewContextBlock("",
			slack.NewTextBlockObject(slack.MarkdownType, quote, false, false)))
	}
	return blocks
}

func quoteText(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return ""
	}
	if r := []rune(text); len(r) > 280 {
		text = string(r[:277]) + "..."
	}
	return "> " + text
}
