package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rickgao/forum-chat/internal/auth"
	"github.com/rickgao/forum-chat/internal/model"
)

// MessagesPath is the history endpoint relative to the base URL.
const MessagesPath = "/messages"

// GetMessages fetches the chat history snapshot, oldest first. Records
// without a usable timestamp are stamped with the time the response arrived.
func (c *Client) GetMessages(ctx context.Context, cred auth.Credential) ([]model.ChatMessage, error) {
	if cred.IsZero() {
		return nil, auth.ErrMissingToken
	}

	body, err := c.doWithRetry(ctx, http.MethodGet, MessagesPath, cred.BearerHeader(), nil)
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}

	msgs, skipped, err := model.DecodeHistory(body, c.now())
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	if skipped > 0 {
		c.logger.Warn("skipped malformed history records", "skipped", skipped, "kept", len(msgs))
	}

	return msgs, nil
}
