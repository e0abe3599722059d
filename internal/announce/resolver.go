package announce

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"herald/internal/storage"
	"herald/internal/types"
)

// Resolver decides which broadcasts qualify for announcement and which
// recipient configs are still waiting on one.
type Resolver struct {
	store  storage.Store
	logger *slog.Logger
}

func NewResolver(store storage.Store, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{store: store, logger: logger}
}

// Qualifies reports whether a live observation passes the channel's title
// filter. No filter, or a disabled one, means every live broadcast
// qualifies. The filter matches as a case-insensitive substring, or as a
// regular expression when the channel is flagged for it; a filter that
// fails to compile as a regex falls back to substring matching.
func (r *Resolver) Qualifies(channel types.ChannelTarget, obs types.Observation) bool {
	if !obs.Live {
		return false
	}

	filter := strings.TrimSpace(channel.TitleFilter)
	if !channel.TitleFilterEnabled || filter == "" {
		return true
	}

	if channel.TitleFilterIsRegex {
		re, err := regexp.Compile("(?i)" + filter)
		if err == nil {
			if re.MatchString(obs.Title) {
				return true
			}
			r.logNoMatch(channel, obs)
			return false
		}
		r.logger.Warn("invalid title filter regex, falling back to substring match",
			"channel", channel.ID, "filter", filter, "error", err)
	}

	if strings.Contains(strings.ToLower(obs.Title), strings.ToLower(filter)) {
		return true
	}

	r.logNoMatch(channel, obs)
	return false
}

func (r *Resolver) logNoMatch(channel types.ChannelTarget, obs types.Observation) {
	r.logger.Info("live broadcast title does not match filter, skipping",
		"channel", channel.ID,
		"title", obs.Title,
		"filter", channel.TitleFilter)
}

// PendingConfigs returns every pending, enabled config for the content
// item in a single batch read.
func (r *Resolver) PendingConfigs(ctx context.Context, contentItemID int64) ([]types.AnnouncementConfig, error) {
	configs, err := r.store.Configs().ListPendingEnabled(ctx, contentItemID)
	if err != nil {
		return nil, types.E(types.KindStorage, "list pending configs", err)
	}
	return configs, nil
}

// RecordBroadcastURL writes the canonical watch URL back onto the content
// item the first time a qualifying broadcast is seen.
func (r *Resolver) RecordBroadcastURL(ctx context.Context, contentItemID int64, url string) error {
	if url == "" {
		return nil
	}
	if err := r.store.Items().SetURLIfEmpty(ctx, contentItemID, url); err != nil {
		return types.E(types.KindStorage, "record broadcast url", err)
	}
	return nil
}

// CreateConfigsForContentItem creates one pending config per recipient
// that does not already have one. Existing configs are resolved in a
// single fetch keyed by recipient, so calling this twice for the same
// item and recipient set yields exactly one config per recipient.
func (r *Resolver) CreateConfigsForContentItem(ctx context.Context, contentItemID int64, recipientIDs []int64) ([]types.AnnouncementConfig, error) {
	if len(recipientIDs) == 0 {
		return nil, nil
	}

	existing, err := r.store.Configs().FetchByRecipients(ctx, contentItemID, recipientIDs)
	if err != nil {
		return nil, types.E(types.KindStorage, "batch fetch existing configs", err)
	}

	var missing []types.AnnouncementConfig
	for _, recipientID := range recipientIDs {
		if _, ok := existing[recipientID]; ok {
			continue
		}
		missing = append(missing, types.AnnouncementConfig{
			ContentItemID: contentItemID,
			RecipientID:   recipientID,
			Enabled:       true,
			IncludeLink:   true,
			Status:        types.StatusPending,
		})
	}

	if len(missing) > 0 {
		if err := r.store.Configs().CreateBatch(ctx, missing); err != nil {
			return nil, types.E(types.KindStorage, "create configs", err)
		}
		r.logger.Info("created announcement configs",
			"content_item", contentItemID, "created", len(missing), "existing", len(existing))
	}

	all, err := r.store.Configs().FetchByRecipients(ctx, contentItemID, recipientIDs)
	if err != nil {
		return nil, types.E(types.KindStorage, "re-fetch configs", err)
	}

	configs := make([]types.AnnouncementConfig, 0, len(all))
	for _, recipientID := range recipientIDs {
		cfg, ok := all[recipientID]
		if !ok {
			return nil, types.E(types.KindStorage, "create configs",
				fmt.Errorf("config for recipient %d missing after creation", recipientID))
		}
		configs = append(configs, cfg)
	}

	return configs, nil
}
