package ib

import (
	"context"

	"ib-go/internal/model"
)

// Database is the embedded store shared by every component.
// All reads and writes go through a transaction; fn's error is returned unchanged
// and an Update whose fn fails is rolled back.
type Database interface {
	// View runs fn in a read-only transaction.
	View(ctx context.Context, fn func(Tx) error) error

	// Update runs fn in a read-write transaction and commits if fn returns nil.
	Update(ctx context.Context, fn func(Tx) error) error

	// Migrate brings the schema to the latest version.
	Migrate() error

	// CheckMigrations verifies the schema is up to date.
	CheckMigrations() error

	// BackupTo writes a consistent copy of the database to a new file at destPath.
	BackupTo(ctx context.Context, destPath string) error

	// Close closes the database.
	Close() error
}

// PostQuery selects posts by local state. The zero value selects every post.
// Results are ordered by ID unless Viewed is set.
type PostQuery struct {
	Downloaded  bool         // only downloaded posts
	Blacklisted bool         // only blacklisted posts
	Rating      model.Rating // "" or RatingAny for every rating
	Viewed      bool         // only posts with ViewCount > 0, most viewed first
	Limit       int          // 0 for no limit
}

// Tx is the set of primitives a storage backend offers inside one transaction.
// Find* methods return nil and no error when a record does not exist.
type Tx interface {
	// Posts

	FindPost(id int64) (*model.Post, error)

	// FindPosts returns the posts for ids in the order given, skipping missing ids.
	FindPosts(ids []int64) ([]*model.Post, error)

	ListPosts(q PostQuery) ([]*model.Post, error)
	CountPosts(q PostQuery) (int, error)

	// FindPostIDsByTag returns the IDs of posts carrying tag, ascending.
	FindPostIDsByTag(tag string) ([]int64, error)

	// PutPost inserts or replaces a post and its tag index entries.
	PutPost(post *model.Post) error

	ClearPosts() error

	// Favorites

	FindNode(key int64) (*model.FavoritesNode, error)

	// ListNodes returns every node, including unreachable ones, ordered by key.
	ListNodes() ([]*model.FavoritesNode, error)

	// InsertNode stores node under a newly assigned key, sets node.Key and returns it.
	InsertNode(node *model.FavoritesNode) (int64, error)

	// PutNode inserts or replaces the node stored under node.Key.
	PutNode(node *model.FavoritesNode) error

	DeleteNode(key int64) error
	ClearNodes() error

	// Saved searches

	FindSavedSearch(id int64) (*model.SavedSearch, error)
	ListSavedSearches() ([]*model.SavedSearch, error)
	InsertSavedSearch(search *model.SavedSearch) (int64, error)
	PutSavedSearch(search *model.SavedSearch) error
	DeleteSavedSearch(id int64) error
	ClearSavedSearches() error

	// Tasks

	InsertTask(task *model.Task) (int64, error)
	PutTask(task *model.Task) error

	// ListTasks returns the most recent tasks first; limit <= 0 returns all.
	ListTasks(limit int) ([]*model.Task, error)

	ClearTasks() error
}
