package twitch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nicklaw5/helix/v2"
)

// UnknownCategory is used when Helix reports no game for a live stream.
const UnknownCategory = "Unknown"

// LiveInfo describes one live stream.
type LiveInfo struct {
	UserID      string    `json:"user_id"`
	Login       string    `json:"login"`
	DisplayName string    `json:"display_name"`
	Title       string    `json:"title"`
	Category    string    `json:"category"`
	ViewerCount int       `json:"viewer_count"`
	StartedAt   time.Time `json:"started_at"`
}

// Snapshot maps user id to LiveInfo for the ids that are live right now.
// Ids absent from the map are offline.
type Snapshot map[string]LiveInfo

type Poller struct {
	api *API
}

func NewPoller(api *API) *Poller { return &Poller{api: api} }

// Poll issues a single /streams request for all ids. More than MaxBatch ids is
// rejected rather than truncated.
func (p *Poller) Poll(ctx context.Context, ids []string) (Snapshot, error) {
	if len(ids) == 0 {
		return Snapshot{}, nil
	}
	if len(ids) > MaxBatch {
		return nil, fmt.Errorf("%w: %d ids (max %d)", ErrBatchTooLarge, len(ids), MaxBatch)
	}

	wanted := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}

	streams, err := call(ctx, p.api, "get streams", func(c *helix.Client) ([]helix.Stream, helix.ResponseCommon, error) {
		resp, err := c.GetStreams(&helix.StreamsParams{UserIDs: ids, First: MaxBatch})
		if err != nil {
			return nil, helix.ResponseCommon{}, err
		}
		return resp.Data.Streams, resp.ResponseCommon, nil
	})
	if err != nil {
		return nil, err
	}

	snap := make(Snapshot, len(streams))
	for _, s := range streams {
		if _, ok := wanted[s.UserID]; !ok {
			continue
		}
		if s.Type != "" && s.Type != "live" {
			continue
		}
		category := strings.TrimSpace(s.GameName)
		if category == "" {
			category = UnknownCategory
		}
		snap[s.UserID] = LiveInfo{
			UserID:      s.UserID,
			Login:       strings.ToLower(s.UserLogin),
			DisplayName: s.UserName,
			Title:       s.Title,
			Category:    category,
			ViewerCount: s.ViewerCount,
			StartedAt:   s.StartedAt,
		}
	}
	return snap, nil
}
