package types

import "time"

// Clip is one archived clip in a channel's catalog.
//
// (Channel, ClipID) and (Channel, Seq) are both unique. Seq is assigned in
// fetch order during ingestion and is only guaranteed chronological after
// finalization has resequenced the channel.
type Clip struct {
	ID            int64     `json:"-" db:"id"`
	Channel       string    `json:"channel" db:"channel"`
	ClipID        string    `json:"clip_id" db:"clip_id"`
	Seq           int       `json:"seq" db:"seq"`
	Title         string    `json:"title" db:"title"`
	Duration      float64   `json:"duration_seconds" db:"duration_seconds"`
	ClipCreatedAt time.Time `json:"clip_created_at" db:"clip_created_at"`
	ViewCount     int       `json:"view_count" db:"view_count"`
	GameID        string    `json:"game_id,omitempty" db:"game_id"`
	CreatorName   string    `json:"creator_name,omitempty" db:"creator_name"`
	ThumbnailURL  string    `json:"thumbnail_url,omitempty" db:"thumbnail_url"`
	VideoURL      string    `json:"video_url,omitempty" db:"video_url"`
	Suppressed    bool      `json:"suppressed" db:"suppressed"`
	FirstSeenAt   time.Time `json:"first_seen_at" db:"first_seen_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// ClipRecord is a clip as returned by the upstream API, before it has been
// assigned a catalog sequence number.
type ClipRecord struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Duration      float64   `json:"duration"`
	CreatedAt     time.Time `json:"created_at"`
	ViewCount     int       `json:"view_count"`
	GameID        string    `json:"game_id"`
	CreatorName   string    `json:"creator_name"`
	ThumbnailURL  string    `json:"thumbnail_url"`
	VideoURL      string    `json:"url"`
	BroadcasterID string    `json:"broadcaster_id"`
}

// ArchiveJob is the per-channel ledger row: the single source of truth for
// pipeline progress and resumption. One row per channel; never deleted.
type ArchiveJob struct {
	ID            int64     `json:"-" db:"id"`
	Channel       string    `json:"channel" db:"channel"`
	BroadcasterID string    `json:"broadcaster_id" db:"broadcaster_id"`
	Status        JobStatus `json:"status" db:"status"`

	// Checkpoint state. CurrentWindow is the index of the next window to
	// process; it never exceeds TotalWindows.
	TotalWindows  int `json:"total_windows" db:"total_windows"`
	CurrentWindow int `json:"current_window" db:"current_window"`
	ClipsSeen     int `json:"clips_seen" db:"clips_seen"`
	ClipsInserted int `json:"clips_inserted" db:"clips_inserted"`

	RangeStart time.Time `json:"range_start" db:"range_start"`
	LastError  string    `json:"last_error,omitempty" db:"last_error"`

	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
	CheckpointedAt *time.Time `json:"checkpointed_at,omitempty" db:"checkpointed_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	LastRefreshAt  *time.Time `json:"last_refresh_at,omitempty" db:"last_refresh_at"`
}

// ProgressPercent returns catalog-build progress in whole percent. A job
// with no windows (brand-new channel archived at creation time) reports 100
// once complete.
func (j *ArchiveJob) ProgressPercent() int {
	if j.Status == JobComplete {
		return 100
	}
	if j.TotalWindows == 0 {
		return 0
	}
	return j.CurrentWindow * 100 / j.TotalWindows
}

// Broadcaster is the upstream identity of a channel: its numeric id and the
// account creation time that anchors the full-history window plan.
type Broadcaster struct {
	ID          string    `json:"id"`
	Login       string    `json:"login"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
}

// Game is a cached secondary-metadata row mapping an upstream category id to
// its display name. Absence means "not yet resolved".
type Game struct {
	GameID     string    `json:"game_id" db:"game_id"`
	Name       string    `json:"name" db:"name"`
	BoxArtURL  string    `json:"box_art_url,omitempty" db:"box_art_url"`
	ResolvedAt time.Time `json:"resolved_at" db:"resolved_at"`
}

// Window is one fixed-length slice of a channel's history, used to bound a
// single fetch-and-upsert unit.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// StartResult is the response of the start operation.
type StartResult struct {
	Status StartStatus `json:"status"`
	Job    *ArchiveJob `json:"job,omitempty"`
}
