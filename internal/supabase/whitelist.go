package supabase

import (
	"context"
	"fmt"

	"github.com/supabase-community/supabase-go"
)

const whitelistTable = "user_whitelist"

// WhitelistClient answers allow/deny questions from the user_whitelist table
// through PostgREST, so it works without a direct database connection.
type WhitelistClient struct {
	client *supabase.Client
}

func NewWhitelistClient(client *supabase.Client) *WhitelistClient {
	return &WhitelistClient{client: client}
}

func (w *WhitelistClient) IsAllowed(ctx context.Context, userID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	var rows []struct {
		UserID string `json:"user_id"`
	}
	_, err := w.client.From(whitelistTable).
		Select("user_id", "", false).
		Eq("user_id", userID).
		ExecuteTo(&rows)
	if err != nil {
		return false, fmt.Errorf("failed to check whitelist: %w", err)
	}
	return len(rows) > 0, nil
}
