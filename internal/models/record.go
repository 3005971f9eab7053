package models

import (
	"fmt"
	"strings"
	"time"
)

// Kind is the media type of a [Record].
type Kind string

const (
	KindMovie   Kind = "movie"
	KindShow    Kind = "show"
	KindEpisode Kind = "episode"
)

// ParseKind maps loose type labels ("movie", "tvSeries", "tvEpisode", "shows") onto a [Kind].
func ParseKind(s string) (Kind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "movie", "movies", "tvmovie", "video", "short", "tvspecial", "tvshort", "videogame":
		return KindMovie, true
	case "show", "shows", "tvseries", "tvminiseries", "tv series", "tv mini series":
		return KindShow, true
	case "episode", "episodes", "tvepisode", "tv episode":
		return KindEpisode, true
	default:
		return "", false
	}
}

// Plural returns the bulk API bucket name for the kind (movies, shows, episodes).
func (k Kind) Plural() string { return string(k) + "s" }

// Category is one of the four synchronized record categories.
type Category string

const (
	Ratings   Category = "ratings"
	Watchlist Category = "watchlist"
	History   Category = "history"
	Reviews   Category = "reviews"
)

// Categories lists every category in dispatch order.
var Categories = []Category{Watchlist, Ratings, Reviews, History}

// Label returns a display label ("watch history" for [History]).
func (c Category) Label() string {
	if c == History {
		return "watch history"
	}
	return string(c)
}

// Service identifies one side of the sync.
type Service string

const (
	Primary   Service = "trakt"
	Secondary Service = "imdb"
)

// DisplayName returns the human-facing service name.
func (s Service) DisplayName() string {
	switch s {
	case Primary:
		return "Trakt"
	case Secondary:
		return "IMDb"
	default:
		return string(s)
	}
}

// Review is the free-text payload of a review record.
type Review struct {
	Text    string `json:"text,omitempty"`
	Spoiler bool   `json:"spoiler,omitempty"`
}

// Value is the category-specific payload of a [Record].
//
// Only the field matching the record's category is meaningful: Rating for ratings,
// Review for reviews, WatchedAt for history. Watchlist records carry no value.
type Value struct {
	Rating    int       `json:"rating,omitempty"`
	Review    Review    `json:"review,omitzero"`
	WatchedAt time.Time `json:"watched_at,omitzero"`
}

// Record is one media item observed on one service.
type Record struct {
	ExternalID    string    `json:"external_id"`
	Kind          Kind      `json:"kind"`
	SeasonNumber  int       `json:"season,omitempty"`
	EpisodeNumber int       `json:"episode,omitempty"`
	Title         string    `json:"title"`
	Year          int       `json:"year,omitempty"` // zero when unknown
	Value         Value     `json:"value,omitzero"`
	AddedAt       time.Time `json:"added_at"`
}

// Resolvable reports whether the record carries an ExternalID and can be matched across services.
func (r Record) Resolvable() bool {
	return strings.TrimSpace(r.ExternalID) != ""
}

// IsEpisode reports whether the record is an episode with season/episode numbers.
func (r Record) IsEpisode() bool {
	return r.Kind == KindEpisode && r.SeasonNumber > 0 && r.EpisodeNumber > 0
}

// DisplayTitle renders "[S01E02] Title (Year)", omitting the parts that are unknown.
func (r Record) DisplayTitle() string {
	var b strings.Builder
	if r.IsEpisode() {
		fmt.Fprintf(&b, "[S%02dE%02d] ", r.SeasonNumber, r.EpisodeNumber)
	}
	b.WriteString(r.Title)
	if r.Year > 0 {
		fmt.Fprintf(&b, " (%d)", r.Year)
	}
	return b.String()
}

// SameDay reports whether two timestamps fall on the same UTC calendar day.
func SameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}
