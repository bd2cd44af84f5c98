// Package domain defines the persistence models for the site: blog posts
// and their tags, portfolio projects, the flight log, uploaded media, and
// the operational tables (sessions, site events, query metrics). These types
// are mapped with GORM and form the core data layer of the application.
package domain

import (
	"time"

	"gorm.io/gorm"
)

// Post represents a single blog entry. Posts are addressed by slug in the
// public API and carry a full-text search shadow table (posts_fts) that is
// maintained by raw SQL alongside the GORM schema.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - Slug: URL-safe unique identifier used in public routes.
//   - Title / Summary / Body: content fields; Body is the full markdown.
//   - Published: draft flag; unpublished posts never appear in public lists.
//   - PublishedAt: moment the post went public (null while draft).
//   - CreatedAt / UpdatedAt: timestamps managed by GORM.
//   - DeletedAt: soft deletion marker (retains row for audit/history).
type Post struct {
	ID          string         `json:"id"           gorm:"type:char(36);primaryKey"`
	Slug        string         `json:"slug"         gorm:"type:varchar(160);not null;uniqueIndex"`
	Title       string         `json:"title"        gorm:"type:varchar(255);not null"`
	Summary     string         `json:"summary"      gorm:"type:varchar(512)"`
	Body        string         `json:"body"         gorm:"type:text;not null"`
	Published   bool           `json:"published"    gorm:"not null;default:false;index"`
	PublishedAt *time.Time     `json:"published_at,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `json:"-"            gorm:"index"`
}

// TableName returns the database table name for Post.
func (Post) TableName() string { return "posts" }

// Tag is a label attached to posts through the post_tags join table.
type Tag struct {
	ID        string    `json:"id"   gorm:"type:char(36);primaryKey"`
	Name      string    `json:"name" gorm:"type:varchar(64);not null;uniqueIndex"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for Tag.
func (Tag) TableName() string { return "tags" }

// PostTag links one post to one tag. Rows referencing deleted parents are
// reaped by the daily maintenance tier rather than by FK cascade, so the
// join table carries no association constraints.
type PostTag struct {
	PostID string `json:"post_id" gorm:"type:char(36);primaryKey"`
	TagID  string `json:"tag_id"  gorm:"type:char(36);primaryKey"`
}

// TableName returns the database table name for PostTag.
func (PostTag) TableName() string { return "post_tags" }

// Project represents one portfolio entry.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - Slug: URL-safe unique identifier.
//   - Name / Description: display content.
//   - URL / RepoURL: live link and source link; either may be empty.
//   - Featured: featured projects sort before the rest.
//   - SortOrder: manual ordering within the featured/non-featured groups.
type Project struct {
	ID          string         `json:"id"          gorm:"type:char(36);primaryKey"`
	Slug        string         `json:"slug"        gorm:"type:varchar(160);not null;uniqueIndex"`
	Name        string         `json:"name"        gorm:"type:varchar(255);not null"`
	Description string         `json:"description" gorm:"type:text"`
	URL         string         `json:"url"         gorm:"type:varchar(512)"`
	RepoURL     string         `json:"repo_url"    gorm:"type:varchar(512)"`
	Featured    bool           `json:"featured"    gorm:"not null;default:false;index"`
	SortOrder   int            `json:"sort_order"  gorm:"not null;default:0"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `json:"-"           gorm:"index"`
}

// TableName returns the database table name for Project.
func (Project) TableName() string { return "projects" }

// Flight is one logbook entry. Origin and destination are ICAO codes;
// durations are kept in whole minutes to match how paper logbooks are
// totalled.
type Flight struct {
	ID              string         `json:"id"               gorm:"type:char(36);primaryKey"`
	Date            time.Time      `json:"date"             gorm:"not null;index"`
	Origin          string         `json:"origin"           gorm:"type:char(4);not null"`
	Destination     string         `json:"destination"      gorm:"type:char(4);not null"`
	AircraftType    string         `json:"aircraft_type"    gorm:"type:varchar(32);not null"`
	Registration    string         `json:"registration"     gorm:"type:varchar(16);not null;index"`
	DurationMinutes int            `json:"duration_minutes" gorm:"not null;check:duration_minutes > 0"`
	DistanceNM      int            `json:"distance_nm"      gorm:"not null;default:0"`
	Notes           string         `json:"notes,omitempty"  gorm:"type:text"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	DeletedAt       gorm.DeletedAt `json:"-"                gorm:"index"`
}

// TableName returns the database table name for Flight.
func (Flight) TableName() string { return "flights" }

// Media is an uploaded asset, optionally attached to a post. Assets whose
// post has been deleted are reaped by the monthly maintenance tier once they
// are older than the grace period.
type Media struct {
	ID        string    `json:"id"                gorm:"type:char(36);primaryKey"`
	PostID    *string   `json:"post_id,omitempty" gorm:"type:char(36);index"`
	Path      string    `json:"path"              gorm:"type:varchar(512);not null"`
	MimeType  string    `json:"mime_type"         gorm:"type:varchar(128);not null"`
	SizeBytes int64     `json:"size_bytes"        gorm:"not null;default:0"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for Media.
func (Media) TableName() string { return "media" }

// Session is an admin login session. Sessions are never deleted on logout;
// they expire and are purged by the daily maintenance tier.
type Session struct {
	ID        string    `json:"id"         gorm:"type:char(36);primaryKey"`
	TokenHash string    `json:"-"          gorm:"type:char(64);not null;uniqueIndex"`
	ExpiresAt time.Time `json:"expires_at" gorm:"not null;index"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for Session.
func (Session) TableName() string { return "sessions" }

// SiteEvent is one row of the general analytics log (page views, searches,
// downloads). Retained for 90 days by default.
type SiteEvent struct {
	ID        string    `json:"id"        gorm:"type:char(36);primaryKey"`
	Kind      string    `json:"kind"      gorm:"type:varchar(32);not null;index"`
	Path      string    `json:"path"      gorm:"type:varchar(512)"`
	Referrer  string    `json:"referrer"  gorm:"type:varchar(512)"`
	CreatedAt time.Time `json:"created_at" gorm:"index"`
}

// TableName returns the database table name for SiteEvent.
func (SiteEvent) TableName() string { return "site_events" }

// QueryMetric is one executed statement's telemetry, written by the
// performance recorder and read by the analytics and maintenance layers.
// The table is bounded by the 7-day retention purge, not by row count.
type QueryMetric struct {
	ID           string    `json:"id"            gorm:"type:char(36);primaryKey"`
	QueryHash    string    `json:"query_hash"    gorm:"type:char(64);index"`
	QueryType    string    `json:"query_type"    gorm:"type:varchar(16);not null;index"`
	Table        string    `json:"table_name"    gorm:"column:table_name;type:varchar(64);index"`
	DurationMs   int64     `json:"duration_ms"   gorm:"not null;default:0"`
	RowsReturned int64     `json:"rows_returned" gorm:"not null;default:0"`
	CacheHit     bool      `json:"cache_hit"     gorm:"not null;default:false"`
	Success      bool      `json:"success"       gorm:"not null;default:true"`
	CreatedAt    time.Time `json:"created_at"    gorm:"index"`
}

// TableName returns the database table name for QueryMetric.
func (QueryMetric) TableName() string { return "query_metrics" }
