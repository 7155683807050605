package models

import (
	"time"
)

// BandRole enumerates membership roles within a band.
type BandRole string

const (
	RoleLeader BandRole = "leader"
	RoleMember BandRole = "member"
)

// User represents an authenticated account.
type User struct {
	ID          string `gorm:"type:uuid;primaryKey"`
	Email       string `gorm:"uniqueIndex"`
	Password    string
	DisplayName string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Band groups members around a shared repertoire.
type Band struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	Name      string `gorm:"index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// BandMember is the join between users and bands, carrying the role.
type BandMember struct {
	BandID    string   `gorm:"type:uuid;primaryKey"`
	UserID    string   `gorm:"type:uuid;primaryKey"`
	Role      BandRole `gorm:"type:varchar(16)"`
	CreatedAt time.Time
}

// Invitation is a short-lived join code for a band.
type Invitation struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	BandID    string `gorm:"type:uuid;index"`
	Code      string `gorm:"uniqueIndex;type:varchar(16)"`
	CreatedBy string `gorm:"type:uuid"`
	ExpiresAt time.Time
	UsedBy    string `gorm:"type:uuid"`
	UsedAt    *time.Time
	CreatedAt time.Time
}

// Expired reports whether the invitation can no longer be accepted.
func (i Invitation) Expired(now time.Time) bool {
	return now.After(i.ExpiresAt)
}

// SongStatus tracks whether a song is still a wishlist candidate or part of
// the active repertoire.
type SongStatus string

const (
	SongWishlist SongStatus = "wishlist"
	SongActive   SongStatus = "active"
)

// Song is one piece of a band's repertoire.
type Song struct {
	ID              string     `gorm:"type:uuid;primaryKey"`
	BandID          string     `gorm:"type:uuid;index"`
	Title           string     `gorm:"index"`
	Artist          string     `gorm:"index"`
	Status          SongStatus `gorm:"type:varchar(16)"`
	DurationSeconds int
	SpotifyTrackID  string `gorm:"type:varchar(64)"`
	SpotifyAlbumArt string
	SuggestedBy     string `gorm:"type:uuid"`
	LastRehearsedOn *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ProgressStage enumerates a member's learning stage for one song.
type ProgressStage string

const (
	StageToListen   ProgressStage = "to_listen"
	StageInPractice ProgressStage = "in_practice"
	StageReady      ProgressStage = "ready_for_rehearsal"
	StageMastered   ProgressStage = "mastered"
)

// Ready reports whether the stage counts toward the readiness ratio.
func (s ProgressStage) Ready() bool {
	return s == StageReady || s == StageMastered
}

// SongProgress records one member's stage on one song. A user holds at most
// one row per song.
type SongProgress struct {
	SongID    string        `gorm:"type:uuid;primaryKey"`
	UserID    string        `gorm:"type:uuid;primaryKey"`
	Stage     ProgressStage `gorm:"type:varchar(32)"`
	UpdatedAt time.Time
}

// Vote marks a member's support for promoting a wishlist song. One vote per
// user per song.
type Vote struct {
	SongID    string `gorm:"type:uuid;primaryKey"`
	UserID    string `gorm:"type:uuid;primaryKey"`
	CreatedAt time.Time
}

// SetlistPreferences stores a band's planner tuning, one row per band.
// Zero-valued fields fall back to planner defaults at read time.
type SetlistPreferences struct {
	BandID                string `gorm:"type:uuid;primaryKey"`
	LearningRatio         float64
	NewSongBufferPct      float64
	LearnedSongBufferPct  float64
	BreakThresholdMinutes float64
	BreakDurationMinutes  float64
	TimeClusterMinutes    int
	MinSessionMinutes     int
	MaxSessionMinutes     int
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// SongAttachment references an uploaded chart, tab, or recording for a song.
type SongAttachment struct {
	ID         string `gorm:"type:uuid;primaryKey"`
	SongID     string `gorm:"type:uuid;index"`
	UploadedBy string `gorm:"type:uuid"`
	Filename   string
	StorageKey string
	MimeType   string `gorm:"type:varchar(128)"`
	SizeBytes  int64
	CreatedAt  time.Time
}
