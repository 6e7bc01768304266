package genesys

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"agentdesk/internal/domain"
)

// ResolutionNotifier writes outcomes back onto the originating conversation:
// every outcome is attached as a note, and a self-healed chat or email
// conversation also gets the resolution sent to the customer.
type ResolutionNotifier struct {
	client     *Client
	systemName string
	logger     *zap.Logger
}

func NewResolutionNotifier(client *Client, systemName string, logger *zap.Logger) *ResolutionNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResolutionNotifier{client: client, systemName: systemName, logger: logger}
}

func (n *ResolutionNotifier) Notify(ctx context.Context, note domain.Notification) error {
	id := note.Interaction.ID
	if strings.HasPrefix(id, "sim-") {
		return nil
	}

	err := n.client.AttachResolution(ctx, id, note.Message(n.systemName))
	var gwErr *domain.GatewayError
	if errors.As(err, &gwErr) && gwErr.Status == http.StatusNotFound {
		// Interaction did not come from the contact center.
		n.logger.Debug("no conversation for interaction", zap.String("interaction_id", id))
		return nil
	}
	if err != nil {
		return fmt.Errorf("attaching resolution to conversation %s: %w", id, err)
	}

	if note.Kind != domain.NotificationCompleted || note.Interaction.Channel == domain.ChannelVoice || note.Outcome.Summary == "" {
		return nil
	}
	if _, err := n.client.SendMessage(ctx, id, note.Outcome.Summary); err != nil {
		return fmt.Errorf("sending resolution to conversation %s: %w", id, err)
	}
	n.logger.Info("resolution sent to customer", zap.String("interaction_id", id))
	return nil
}
