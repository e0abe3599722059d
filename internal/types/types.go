package types

import (
	"time"
)

// ChannelTarget is one polling unit: an external streaming channel tied to
// a content item. Rows are managed by the configuration surface; the
// scheduler only reads them.
type ChannelTarget struct {
	ID                 string
	Name               string
	ContentItemID      int64
	Enabled            bool
	TitleFilter        string
	TitleFilterEnabled bool
	TitleFilterIsRegex bool
}

// Observation is the ephemeral result of probing a single channel. It is
// produced fresh every cycle and never persisted.
type Observation struct {
	Live        bool
	BroadcastID string
	URL         string
	Title       string
	Elapsed     time.Duration
	Err         error
}

// ContentItem is the logical unit a broadcast corresponds to (an episode,
// a show). It owns the announcement configs.
type ContentItem struct {
	ID    int64
	Title string
	URL   string
}

// Announcement config statuses. Both posted and failed are terminal;
// nothing here retries a failed config.
const (
	StatusPending = "pending"
	StatusPosted  = "posted"
	StatusFailed  = "failed"
)

// AnnouncementConfig is the unit of work for the posting pipeline: one
// pending announcement for one recipient of one content item.
type AnnouncementConfig struct {
	ID            int64
	ContentItemID int64
	RecipientID   int64
	Enabled       bool
	IncludeLink   bool
	Status        string
	CustomText    string
	GeneratedText string
	ErrorMessage  string
	PublishedURL  string
	RetryCount    int
	PostedAt      *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ConfigRef identifies an announcement config by its natural key.
type ConfigRef struct {
	ContentItemID int64
	RecipientID   int64
}

// PostLogEntry is the append-only audit record written on every
// successful publish.
type PostLogEntry struct {
	ID             int64
	RecipientID    int64
	ContentItemID  int64
	PublishedURL   string
	PostedText     string
	ResponseTimeMS int64
	CreatedAt      time.Time
}

// Reason codes returned by the posting pipeline. Eligibility reasons are
// not errors; they describe why a config was skipped.
type Reason string

const (
	ReasonPosted        Reason = "posted"
	ReasonNotFound      Reason = "not_found"
	ReasonNotPending    Reason = "not_pending"
	ReasonDisabled      Reason = "disabled"
	ReasonGenerateError Reason = "generate_error"
	ReasonPublishError  Reason = "publish_error"
	ReasonStorageError  Reason = "storage_error"
)

// Result is what PostForRecipient hands back to both the scheduler and
// the manual trigger. Message is always safe to show to an end user; the
// raw error only ever reaches the log and the correlation store.
type Result struct {
	Success       bool
	Reason        Reason
	URL           string
	Message       string
	CorrelationID string
}

// CheckResult summarizes one channel's outcome within a scheduled check.
type CheckResult struct {
	ChannelID   string
	ChannelName string
	Live        bool
	URL         string
	Title       string
	Posted      int
	Errors      []string
}
