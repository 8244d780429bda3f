package ib

import (
	"context"
	"fmt"
	"sort"

	"ib-go/internal/model"
)

// SavedSearches stores tag queries and their cached preview images.
type SavedSearches struct {
	db     Database
	posts  *PostStore
	logger Logger
}

// NewSavedSearches creates a SavedSearches backed by db; Run queries go through posts.
func NewSavedSearches(db Database, posts *PostStore, logger Logger) *SavedSearches {
	return &SavedSearches{db: db, posts: posts, logger: logger}
}

// Add stores a search unless one with the same tag and excluded-tag sets exists,
// in which case the existing search is returned.
func (s *SavedSearches) Add(ctx context.Context, tags, excludedTags []string, rating model.Rating) (*model.SavedSearch, error) {
	if rating == "" {
		rating = model.RatingAny
	}
	if !rating.Valid() {
		return nil, fmt.Errorf("invalid rating: %q", rating)
	}

	var search *model.SavedSearch
	created := false
	err := s.db.Update(ctx, func(tx Tx) error {
		all, err := tx.ListSavedSearches()
		if err != nil {
			return fmt.Errorf("listing saved searches: %w", err)
		}
		for _, existing := range all {
			if sameTagSet(existing.Tags, tags) && sameTagSet(existing.ExcludedTags, excludedTags) {
				search = existing
				return nil
			}
		}

		search = &model.SavedSearch{
			Tags:         append([]string{}, tags...),
			ExcludedTags: append([]string{}, excludedTags...),
			Rating:       rating,
			Previews:     []model.PreviewImage{},
		}
		if _, err := tx.InsertSavedSearch(search); err != nil {
			return fmt.Errorf("inserting saved search: %w", err)
		}
		created = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if created {
		s.logger.Info("search saved", "id", search.ID, "tags", tags, "excluded", excludedTags)
	}
	return search, nil
}

// Get returns one saved search or a *NotFoundError.
func (s *SavedSearches) Get(ctx context.Context, id int64) (*model.SavedSearch, error) {
	var search *model.SavedSearch
	err := s.db.View(ctx, func(tx Tx) error {
		var err error
		search, err = findSavedSearch(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return search, nil
}

// List returns every saved search ordered by ID.
func (s *SavedSearches) List(ctx context.Context) ([]*model.SavedSearch, error) {
	var searches []*model.SavedSearch
	err := s.db.View(ctx, func(tx Tx) error {
		var err error
		searches, err = tx.ListSavedSearches()
		if err != nil {
			return fmt.Errorf("listing saved searches: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return searches, nil
}

// Delete removes a saved search.
func (s *SavedSearches) Delete(ctx context.Context, id int64) error {
	err := s.db.Update(ctx, func(tx Tx) error {
		if _, err := findSavedSearch(tx, id); err != nil {
			return err
		}
		if err := tx.DeleteSavedSearch(id); err != nil {
			return fmt.Errorf("deleting saved search %d: %w", id, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("saved search deleted", "id", id)
	return nil
}

// AddPreview attaches a preview image to a saved search, replacing any earlier
// preview of the same post.
func (s *SavedSearches) AddPreview(ctx context.Context, id int64, postID int64, data []byte) error {
	return s.db.Update(ctx, func(tx Tx) error {
		search, err := findSavedSearch(tx, id)
		if err != nil {
			return err
		}

		previews := make([]model.PreviewImage, 0, len(search.Previews)+1)
		for _, p := range search.Previews {
			if p.PostID != postID {
				previews = append(previews, p)
			}
		}
		search.Previews = append(previews, model.PreviewImage{PostID: postID, Data: data})

		if err := tx.PutSavedSearch(search); err != nil {
			return fmt.Errorf("updating saved search %d: %w", id, err)
		}
		return nil
	})
}

// Run executes a saved search. The search's rating overrides opts.Rating.
func (s *SavedSearches) Run(ctx context.Context, id int64, opts FilterOptions) ([]*model.Post, error) {
	search, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	opts.Rating = search.Rating
	return s.posts.GetForTagsWithOptions(ctx, opts, search.Tags, search.ExcludedTags)
}

func findSavedSearch(tx Tx, id int64) (*model.SavedSearch, error) {
	search, err := tx.FindSavedSearch(id)
	if err != nil {
		return nil, fmt.Errorf("finding saved search %d: %w", id, err)
	}
	if search == nil {
		return nil, &NotFoundError{Role: RoleSavedSearch, Key: id}
	}
	return search, nil
}

// sameTagSet compares two tag lists as sets.
func sameTagSet(a, b []string) bool {
	x, y := tagSet(a), tagSet(b)
	if len(x) != len(y) {
		return false
	}
	for i := range x {
		if x[i] != y[i] {
			return false
		}
	}
	return true
}

func tagSet(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	set := make([]string, 0, len(tags))
	for _, t := range tags {
		if !seen[t] {
			seen[t] = true
			set = append(set, t)
		}
	}
	sort.Strings(set)
	return set
}
