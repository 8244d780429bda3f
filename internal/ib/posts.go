package ib

import (
	"context"
	"fmt"

	"ib-go/internal/model"
)

// DefaultMostViewedLimit is used by GetMostViewed when no positive limit is given.
const DefaultMostViewedLimit = 20

// PostStore persists posts and serves filtered, sorted and paginated views of them.
type PostStore struct {
	db     Database
	files  ImageFiles
	logger Logger
	clock  Clock
}

// NewPostStore creates a PostStore backed by db. files may be nil when ForgetImage is not used.
func NewPostStore(db Database, files ImageFiles, logger Logger, clock Clock) *PostStore {
	return &PostStore{
		db:     db,
		files:  files,
		logger: logger,
		clock:  clock,
	}
}

// mergeLocalState carries the local flags of existing onto incoming.
func mergeLocalState(incoming, existing *model.Post) {
	incoming.Selected = false
	if existing == nil {
		return
	}
	incoming.Blacklisted = existing.Blacklisted
	incoming.Downloaded = existing.Downloaded
	incoming.DownloadedAt = existing.DownloadedAt
	incoming.ViewCount = existing.ViewCount
}

// SaveOrUpdateFromAPI stores a post fetched from the remote API, keeping the local
// flags of any stored post with the same ID. It returns the stored record.
func (s *PostStore) SaveOrUpdateFromAPI(ctx context.Context, post *model.Post) (*model.Post, error) {
	merged := *post
	err := s.db.Update(ctx, func(tx Tx) error {
		existing, err := tx.FindPost(post.ID)
		if err != nil {
			return fmt.Errorf("finding post %d: %w", post.ID, err)
		}
		mergeLocalState(&merged, existing)
		if err := tx.PutPost(&merged); err != nil {
			return fmt.Errorf("saving post %d: %w", post.ID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("post saved from api", "id", post.ID)
	return &merged, nil
}

// BulkUpdateFromAPI is the vectorized SaveOrUpdateFromAPI.
func (s *PostStore) BulkUpdateFromAPI(ctx context.Context, posts []*model.Post) ([]*model.Post, error) {
	result := make([]*model.Post, len(posts))
	err := s.db.Update(ctx, func(tx Tx) error {
		ids := make([]int64, len(posts))
		for i, p := range posts {
			ids[i] = p.ID
		}
		existing, err := tx.FindPosts(ids)
		if err != nil {
			return fmt.Errorf("finding existing posts: %w", err)
		}
		byID := make(map[int64]*model.Post, len(existing))
		for _, p := range existing {
			byID[p.ID] = p
		}

		for i, p := range posts {
			merged := *p
			mergeLocalState(&merged, byID[p.ID])
			if err := tx.PutPost(&merged); err != nil {
				return fmt.Errorf("saving post %d: %w", p.ID, err)
			}
			// Later duplicates of the same ID merge against this write.
			byID[p.ID] = &merged
			result[i] = &merged
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("posts updated from api", "count", len(posts))
	return result, nil
}

// BulkSave overwrites posts as given, without merging local flags.
func (s *PostStore) BulkSave(ctx context.Context, posts []*model.Post) error {
	err := s.db.Update(ctx, func(tx Tx) error {
		for _, p := range posts {
			record := *p
			record.Selected = false
			if err := tx.PutPost(&record); err != nil {
				return fmt.Errorf("saving post %d: %w", p.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("posts saved", "count", len(posts))
	return nil
}

// Get returns one post or a *NotFoundError.
func (s *PostStore) Get(ctx context.Context, id int64) (*model.Post, error) {
	var post *model.Post
	err := s.db.View(ctx, func(tx Tx) error {
		var err error
		post, err = findPost(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return post, nil
}

// GetAll returns every stored post ordered by ID.
func (s *PostStore) GetAll(ctx context.Context) ([]*model.Post, error) {
	return s.list(ctx, PostQuery{})
}

// GetBulk returns the posts for ids, skipping ids that are not stored.
func (s *PostStore) GetBulk(ctx context.Context, ids []int64) ([]*model.Post, error) {
	var posts []*model.Post
	err := s.db.View(ctx, func(tx Tx) error {
		var err error
		posts, err = tx.FindPosts(ids)
		if err != nil {
			return fmt.Errorf("finding posts: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return posts, nil
}

// GetAllDownloaded returns every downloaded post.
func (s *PostStore) GetAllDownloaded(ctx context.Context) ([]*model.Post, error) {
	return s.list(ctx, PostQuery{Downloaded: true})
}

// GetAllBlacklisted returns every blacklisted post.
func (s *PostStore) GetAllBlacklisted(ctx context.Context) ([]*model.Post, error) {
	return s.list(ctx, PostQuery{Blacklisted: true})
}

// GetMostViewed returns viewed posts, most viewed first, capped at limit.
func (s *PostStore) GetMostViewed(ctx context.Context, limit int) ([]*model.Post, error) {
	if limit <= 0 {
		limit = DefaultMostViewedLimit
	}
	return s.list(ctx, PostQuery{Viewed: true, Limit: limit})
}

func (s *PostStore) list(ctx context.Context, q PostQuery) ([]*model.Post, error) {
	var posts []*model.Post
	err := s.db.View(ctx, func(tx Tx) error {
		var err error
		posts, err = tx.ListPosts(q)
		if err != nil {
			return fmt.Errorf("listing posts: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return posts, nil
}

// DownloadedCount returns the number of downloaded posts.
func (s *PostStore) DownloadedCount(ctx context.Context) (int, error) {
	return s.count(ctx, PostQuery{Downloaded: true})
}

// BlacklistedCount returns the number of blacklisted posts.
func (s *PostStore) BlacklistedCount(ctx context.Context) (int, error) {
	return s.count(ctx, PostQuery{Blacklisted: true})
}

// CountForRating returns the number of posts with rating; RatingAny counts every post.
func (s *PostStore) CountForRating(ctx context.Context, rating model.Rating) (int, error) {
	return s.count(ctx, PostQuery{Rating: rating})
}

func (s *PostStore) count(ctx context.Context, q PostQuery) (int, error) {
	var n int
	err := s.db.View(ctx, func(tx Tx) error {
		var err error
		n, err = tx.CountPosts(q)
		if err != nil {
			return fmt.Errorf("counting posts: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// GetAllWithOptions runs the full query pipeline over every stored post.
// With ShowFavorites off, posts referenced anywhere in the favorites tree are dropped first.
func (s *PostStore) GetAllWithOptions(ctx context.Context, opts FilterOptions) ([]*model.Post, error) {
	var posts []*model.Post
	err := s.db.View(ctx, func(tx Tx) error {
		all, err := tx.ListPosts(PostQuery{})
		if err != nil {
			return fmt.Errorf("listing posts: %w", err)
		}
		if !opts.ShowFavorites {
			favorites, err := favoritePostIDs(tx)
			if err != nil {
				return err
			}
			all = ExcludeIDs(all, favorites)
		}
		posts = ApplyOptions(opts, all)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("posts queried", "count", len(posts), "offset", opts.Offset, "limit", opts.Limit)
	return posts, nil
}

// GetForTagsWithOptions returns the posts carrying every tag in tags and none of
// excludedTags, run through the query pipeline. No tags yields no posts.
func (s *PostStore) GetForTagsWithOptions(ctx context.Context, opts FilterOptions, tags []string, excludedTags []string) ([]*model.Post, error) {
	if len(tags) == 0 {
		return []*model.Post{}, nil
	}

	var posts []*model.Post
	err := s.db.View(ctx, func(tx Tx) error {
		sets := make([][]int64, len(tags))
		for i, tag := range tags {
			ids, err := tx.FindPostIDsByTag(tag)
			if err != nil {
				return fmt.Errorf("finding posts for tag %q: %w", tag, err)
			}
			sets[i] = ids
		}

		candidates, err := tx.FindPosts(IntersectIDs(sets...))
		if err != nil {
			return fmt.Errorf("loading tagged posts: %w", err)
		}
		candidates = ExcludeTags(candidates, excludedTags)
		posts = ApplyOptions(opts, candidates)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("tag query", "tags", tags, "excluded", excludedTags, "count", len(posts))
	return posts, nil
}

// MarkDownloaded records that a post's files are on disk now.
func (s *PostStore) MarkDownloaded(ctx context.Context, id int64) (*model.Post, error) {
	return s.updateLocal(ctx, id, "post downloaded", func(p *model.Post) {
		p.Downloaded = true
		p.DownloadedAt = s.clock.Now().Unix()
		p.Blacklisted = false
	})
}

// MarkBlacklisted hides a post from the library.
func (s *PostStore) MarkBlacklisted(ctx context.Context, id int64) (*model.Post, error) {
	return s.updateLocal(ctx, id, "post blacklisted", func(p *model.Post) {
		p.Blacklisted = true
		p.Downloaded = false
		p.DownloadedAt = 0
	})
}

// IncrementViewCount counts one more view of a post.
func (s *PostStore) IncrementViewCount(ctx context.Context, id int64) (*model.Post, error) {
	return s.updateLocal(ctx, id, "post viewed", func(p *model.Post) {
		p.ViewCount++
	})
}

// ForgetImage clears a post's downloaded state and deletes its files.
// The record is updated before the files go so a failed removal never leaves a
// post marked downloaded without files.
func (s *PostStore) ForgetImage(ctx context.Context, id int64) error {
	post, err := s.updateLocal(ctx, id, "post image forgotten", func(p *model.Post) {
		p.Downloaded = false
		p.DownloadedAt = 0
	})
	if err != nil {
		return err
	}
	if s.files == nil {
		return nil
	}
	if err := s.files.Remove(post); err != nil {
		return fmt.Errorf("removing files of post %d: %w", id, err)
	}
	return nil
}

func (s *PostStore) updateLocal(ctx context.Context, id int64, msg string, fn func(*model.Post)) (*model.Post, error) {
	var post *model.Post
	err := s.db.Update(ctx, func(tx Tx) error {
		var err error
		post, err = findPost(tx, id)
		if err != nil {
			return err
		}
		fn(post)
		if err := tx.PutPost(post); err != nil {
			return fmt.Errorf("saving post %d: %w", id, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info(msg, "id", id)
	return post, nil
}

func findPost(tx Tx, id int64) (*model.Post, error) {
	post, err := tx.FindPost(id)
	if err != nil {
		return nil, fmt.Errorf("finding post %d: %w", id, err)
	}
	if post == nil {
		return nil, &NotFoundError{Role: RolePost, Key: id}
	}
	return post, nil
}
