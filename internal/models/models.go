package models

import (
	"time"
)

// Song is an immutable catalog entry owned by the library.
type Song struct {
	ID           string `gorm:"primaryKey"` // external catalog identifier
	Title        string `gorm:"index"`
	Artist       string `gorm:"index"`
	ArtistID     string `gorm:"index"`
	Album        string
	AlbumID      string
	Duration     time.Duration
	ThumbnailURL string
	Genres       GenreList `gorm:"type:text;serializer:json"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// GenreList is the set of genre tags attached to a song.
type GenreList []string

// ArtistKey returns the identifier used for artist-gap comparisons. Falls back
// to the display name when the catalog did not supply an artist ID.
func (s *Song) ArtistKey() string {
	if s.ArtistID != "" {
		return s.ArtistID
	}
	return s.Artist
}

// Feedback enumerates explicit user reactions to a song.
type Feedback string

const (
	FeedbackNone    Feedback = ""
	FeedbackLike    Feedback = "like"
	FeedbackDislike Feedback = "dislike"
)

// Valid reports whether f is a recognized feedback value.
func (f Feedback) Valid() bool {
	return f == FeedbackNone || f == FeedbackLike || f == FeedbackDislike
}

// UserSong links a user to a song in their library, carrying feedback and the
// play record. The pair (UserID, SongID) is unique.
type UserSong struct {
	ID         string   `gorm:"type:uuid;primaryKey"`
	UserID     string   `gorm:"index:idx_user_song,unique"`
	SongID     string   `gorm:"index:idx_user_song,unique"`
	Song       *Song    `gorm:"foreignKey:SongID"`
	Source     string   `gorm:"type:varchar(32)"` // import, feedback
	Feedback   Feedback `gorm:"type:varchar(16)"`
	FeedbackAt *time.Time
	Score      float64
	PlayCount  int
	LastPlayed *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// PlayHistory records a confirmed play start for analytics and constraint context.
type PlayHistory struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	UserID    string `gorm:"index"`
	SongID    string `gorm:"index"`
	Artist    string
	ArtistID  string
	Genres    GenreList `gorm:"type:text;serializer:json"`
	StartedAt time.Time `gorm:"index"`
}

// UnavailableReason classifies why a song could not be resolved.
type UnavailableReason string

const (
	ReasonUnavailable  UnavailableReason = "unavailable"   // removed, region-blocked, not embeddable
	ReasonBotDetection UnavailableReason = "bot_detection" // resolver throttled, retry later
	ReasonOther        UnavailableReason = "other"
)

// UnavailableTrack quarantines a song after a permanent resolution failure.
// Entries with a RetryAfter in the past are eligible for another attempt.
type UnavailableTrack struct {
	SongID       string            `gorm:"primaryKey"`
	Reason       UnavailableReason `gorm:"type:varchar(32)"`
	ErrorMessage string            `gorm:"type:text"`
	FailedAt     time.Time
	RetryAfter   *time.Time
}
