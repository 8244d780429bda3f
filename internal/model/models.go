package model

import "time"

// Rating is the content rating of a post.
type Rating string

const (
	RatingSafe         Rating = "safe"
	RatingQuestionable Rating = "questionable"
	RatingExplicit     Rating = "explicit"

	// RatingAny is only meaningful in queries; it is never stored on a post.
	RatingAny Rating = "any"
)

// Valid reports whether r is one of the stored ratings or the query wildcard.
func (r Rating) Valid() bool {
	switch r {
	case RatingSafe, RatingQuestionable, RatingExplicit, RatingAny:
		return true
	}
	return false
}

// Post is one media item from the remote image board, keyed by its remote ID.
type Post struct {
	ID           int64    `json:"id"`
	Source       string   `json:"source"`
	Directory    string   `json:"directory"` // "<outer>/<inner>" shard path
	Hash         string   `json:"hash"`
	Width        int      `json:"width"`
	Height       int      `json:"height"`
	Owner        string   `json:"owner"`
	ParentID     *int64   `json:"parent_id,omitempty"`
	Rating       Rating   `json:"rating"`
	Sample       bool     `json:"sample"`
	SampleWidth  int      `json:"sample_width"`
	SampleHeight int      `json:"sample_height"`
	Score        int64    `json:"score"`
	Tags         []string `json:"tags"`
	FileURL      string   `json:"file_url"`
	CreatedAt    int64    `json:"created_at"` // seconds since epoch
	Image        string   `json:"image"`
	Extension    string   `json:"extension"`

	// Local state. Only these survive a re-fetch from the remote API.
	Blacklisted  bool  `json:"blacklisted,omitempty"`
	Downloaded   bool  `json:"downloaded,omitempty"`
	DownloadedAt int64 `json:"downloaded_at,omitempty"` // 0 until downloaded
	ViewCount    int64 `json:"view_count,omitempty"`

	// Selected is UI state and is reset on every write from the API or an import.
	Selected bool `json:"selected,omitempty"`
}

// HasTag reports whether the post carries tag.
func (p *Post) HasTag(tag string) bool {
	for _, t := range p.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// FavoritesNode is one folder of the favorites tree.
// Parent/child links are kept as key arrays; the root has key 0 and is its own parent.
type FavoritesNode struct {
	Key       int64   `json:"key"`
	Title     string  `json:"title"`
	ParentKey int64   `json:"parent_key"`
	ChildKeys []int64 `json:"child_keys"`
	PostIDs   []int64 `json:"post_ids"`
}

// TreeView is the materialized, nested form of a favorites node handed to callers.
type TreeView struct {
	Title    string      `json:"title"`
	Key      string      `json:"key"`
	Children []*TreeView `json:"children"`
	PostIDs  []int64     `json:"postIds"`
}

// SavedSearch is a stored tag query. Two searches are the same search when their
// tag sets and excluded-tag sets match exactly.
type SavedSearch struct {
	ID           int64          `json:"id"`
	Tags         []string       `json:"tags"`
	ExcludedTags []string       `json:"excluded_tags"`
	Rating       Rating         `json:"rating"`
	Previews     []PreviewImage `json:"previews"`
}

// PreviewImage is a cached thumbnail of a saved search result.
// Data is raw image bytes; it is base64 text once encoded as JSON.
type PreviewImage struct {
	PostID int64  `json:"post_id"`
	Data   []byte `json:"data"`
}

// Task records one mutating CLI operation.
type Task struct {
	ID         int64      `json:"id"`
	Operation  string     `json:"operation"`
	Parameters string     `json:"parameters"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Status     string     `json:"status"`
}
