package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ldtteam/rewardsync/pkg/metrics"
)

// ErrRateLimited marks a 429 from the directory; the caller backs off and
// retries.
var ErrRateLimited = errors.New("directory rate limited")

type DirectoryConfig struct {
	BaseURL  string
	BotToken string
}

// DirectoryRepository talks to the chat platform's guild member role API.
// Role membership is treated as desired state: a grant for a role already
// held and a revoke for a role already absent are both success.
type DirectoryRepository struct {
	directoryConfig DirectoryConfig
	client          *http.Client
}

func NewDirectoryRepository(cfg DirectoryConfig) *DirectoryRepository {
	return &DirectoryRepository{
		directoryConfig: cfg,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (r *DirectoryRepository) AddRole(ctx context.Context, guildID, memberID, roleID string) error {
	return r.roleCall(ctx, http.MethodPut, "add", guildID, memberID, roleID)
}

func (r *DirectoryRepository) RemoveRole(ctx context.Context, guildID, memberID, roleID string) error {
	return r.roleCall(ctx, http.MethodDelete, "remove", guildID, memberID, roleID)
}

func (r *DirectoryRepository) roleCall(ctx context.Context, method, action, guildID, memberID, roleID string) error {
	url := fmt.Sprintf("%s/guilds/%s/members/%s/roles/%s",
		r.directoryConfig.BaseURL, guildID, memberID, roleID)

	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return err
	}
	req.Header.Add("Authorization", "Bot "+r.directoryConfig.BotToken)

	res, err := r.client.Do(req)
	if err != nil {
		metrics.DirectoryCalls.WithLabelValues(action, "error").Inc()
		return fmt.Errorf("directory call failed: %w", err)
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode >= 200 && res.StatusCode < 300:
		metrics.DirectoryCalls.WithLabelValues(action, "ok").Inc()
		return nil

	case res.StatusCode == http.StatusNotFound && action == "remove":
		// Role already absent, the desired end state is already true.
		metrics.DirectoryCalls.WithLabelValues(action, "noop").Inc()
		return nil

	case res.StatusCode == http.StatusTooManyRequests:
		metrics.DirectoryCalls.WithLabelValues(action, "error").Inc()
		return ErrRateLimited

	default:
		metrics.DirectoryCalls.WithLabelValues(action, "error").Inc()
		return fmt.Errorf("directory returned status %d for %s", res.StatusCode, action)
	}
}
