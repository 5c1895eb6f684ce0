/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"strings"
	"time"
)

// ProgramType enumerates lineup slot kinds.
type ProgramType string

const (
	ProgramContent  ProgramType = "content"
	ProgramCustom   ProgramType = "custom"
	ProgramRedirect ProgramType = "redirect"
	ProgramFlex     ProgramType = "flex"
	ProgramError    ProgramType = "error"
)

// SourceType identifies an external media backend.
type SourceType string

const (
	SourcePlex     SourceType = "plex"
	SourceJellyfin SourceType = "jellyfin"
	SourceFile     SourceType = "file"
)

// Channel is a linear TV channel with a cyclically repeating lineup.
type Channel struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	Number    int    `gorm:"uniqueIndex"`
	Name      string `gorm:"index"`
	StartTime time.Time
	Stealth   bool

	// Transcode configuration applied to every program on the channel.
	TargetResolution  string `gorm:"type:varchar(16)"`
	VideoBitrateKbps  int
	AudioOnly         bool
	WatermarkURL      string
	WatermarkPosition string `gorm:"type:varchar(16)"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Program is one slot in a channel lineup. Programs are immutable once
// scheduled; only their resolution at a point in time is computed per request.
type Program struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	ChannelID string `gorm:"type:uuid;index"`
	Position  int    `gorm:"index"`
	Type      ProgramType `gorm:"type:varchar(16)"`
	Duration  time.Duration
	Title     string

	// content/custom
	SourceType  SourceType `gorm:"type:varchar(16)"`
	SourceName  string
	ExternalKey string
	FilePath    string

	// redirect
	RedirectChannelID string `gorm:"type:uuid"`

	// error
	ErrorMessage string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// MediaSource holds connection settings for an external media backend.
type MediaSource struct {
	ID          string     `gorm:"type:uuid;primaryKey"`
	Type        SourceType `gorm:"type:varchar(16);index:idx_source_type_name"`
	Name        string     `gorm:"index:idx_source_type_name"`
	URI         string
	AccessToken string
	Enabled     bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ItemKind tags the fully resolved playable unit.
type ItemKind string

const (
	ItemFile     ItemKind = "file"
	ItemPlex     ItemKind = "plex"
	ItemJellyfin ItemKind = "jellyfin"
	ItemOffline  ItemKind = "offline"
	ItemError    ItemKind = "error"
)

// PlayableItem is the unit the player actually streams. Derived per request,
// never persisted; cached by (channel, timestamp) for cross-request
// consistency.
type PlayableItem struct {
	Kind  ItemKind `json:"kind"`
	Title string   `json:"title"`

	// Seek is the offset into the source where playback begins.
	Seek time.Duration `json:"seek"`

	// Duration caps how long the item may stream from the seek point.
	// Zero means unbounded (run to natural end).
	Duration time.Duration `json:"duration"`

	// BeginningOffset is how far into the slot the item was resolved,
	// used when unwinding redirect bounds.
	BeginningOffset time.Duration `json:"beginning_offset"`

	SourceType  SourceType `json:"source_type,omitempty"`
	SourceName  string     `json:"source_name,omitempty"`
	ExternalKey string     `json:"external_key,omitempty"`
	FilePath    string     `json:"file_path,omitempty"`

	ErrorMessage string `json:"error_message,omitempty"`
}

// StreamDetails describes the negotiated media, used to pick transcode
// arguments and to guard duration caps against overrun.
type StreamDetails struct {
	Container  string        `json:"container,omitempty"`
	VideoCodec string        `json:"video_codec,omitempty"`
	AudioCodec string        `json:"audio_codec,omitempty"`
	Duration   time.Duration `json:"duration,omitempty"`
}

// IsError reports whether the item is a synthetic error slate.
func (p PlayableItem) IsError() bool { return p.Kind == ItemError }

// KindForSource maps a program source type to the playable item kind.
func KindForSource(st SourceType) ItemKind {
	switch st {
	case SourcePlex:
		return ItemPlex
	case SourceJellyfin:
		return ItemJellyfin
	default:
		return ItemFile
	}
}

// ErrorItem builds a synthetic error item with the given message and cap.
func ErrorItem(message string, d time.Duration) PlayableItem {
	return PlayableItem{
		Kind:         ItemError,
		Title:        "Error",
		Duration:     d,
		ErrorMessage: message,
	}
}

// CycleMessage renders a redirect cycle chain for error items.
func CycleMessage(visited []string) string {
	return "redirect loop detected: " + strings.Join(visited, " -> ")
}
