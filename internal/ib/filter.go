package ib

import (
	"sort"
	"strings"

	"ib-go/internal/model"
)

// SortKey selects the field posts are ordered by.
type SortKey string

const (
	SortDateUploaded   SortKey = "date-uploaded"   // post creation timestamp
	SortDateDownloaded SortKey = "date-downloaded" // local download timestamp, 0 if missing
	SortRating         SortKey = "rating"
	SortNone           SortKey = "none"
)

// SortOrder is the direction of a sort.
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// FilterOptions controls a single post query.
type FilterOptions struct {
	Blacklisted    bool // include blacklisted posts
	NonBlacklisted bool // include downloaded posts
	Offset         int
	Limit          int
	Rating         model.Rating
	Sort           SortKey
	SortOrder      SortOrder
	ShowVideos     bool
	ShowGifs       bool
	ShowImages     bool
	ShowFavorites  bool // false excludes posts referenced anywhere in the favorites tree
}

// DefaultFilterOptions returns options that show every local post, newest first.
func DefaultFilterOptions() FilterOptions {
	return FilterOptions{
		Blacklisted:    true,
		NonBlacklisted: true,
		Offset:         0,
		Limit:          100,
		Rating:         model.RatingAny,
		Sort:           SortDateUploaded,
		SortOrder:      SortDesc,
		ShowVideos:     true,
		ShowGifs:       true,
		ShowImages:     true,
		ShowFavorites:  true,
	}
}

var videoExtensions = map[string]bool{
	"mp4":  true,
	"webm": true,
}

// IsVideo reports whether the post is a video file.
func IsVideo(p *model.Post) bool {
	return videoExtensions[strings.ToLower(p.Extension)]
}

// IsGif reports whether the post is a gif.
func IsGif(p *model.Post) bool {
	return strings.ToLower(p.Extension) == "gif"
}

// ratingOrdinal orders ratings the way comparing their first letters does: e < q < s.
var ratingOrdinal = map[model.Rating]int{
	model.RatingExplicit:     0,
	model.RatingQuestionable: 1,
	model.RatingSafe:         2,
}

func ratingRank(r model.Rating) int {
	if n, ok := ratingOrdinal[r]; ok {
		return n
	}
	return len(ratingOrdinal)
}

// ApplyOptions runs the full pipeline: status filter, sort, media-type filter, pagination.
// The order matters: pages are cut from the media-filtered list.
func ApplyOptions(opts FilterOptions, posts []*model.Post) []*model.Post {
	posts = FilterByStatus(opts, posts)
	posts = SortPosts(opts, posts)
	posts = FilterByMediaType(opts, posts)
	return Paginate(opts, posts)
}

// FilterByStatus keeps posts matching the rating filter that are blacklisted
// (when opts.Blacklisted) or downloaded (when opts.NonBlacklisted).
func FilterByStatus(opts FilterOptions, posts []*model.Post) []*model.Post {
	result := make([]*model.Post, 0, len(posts))
	for _, p := range posts {
		if opts.Rating != "" && opts.Rating != model.RatingAny && p.Rating != opts.Rating {
			continue
		}
		if (opts.Blacklisted && p.Blacklisted) || (opts.NonBlacklisted && p.Downloaded) {
			result = append(result, p)
		}
	}
	return result
}

// SortPosts returns a sorted copy of posts. The sort is stable and SortNone keeps input order.
func SortPosts(opts FilterOptions, posts []*model.Post) []*model.Post {
	sorted := make([]*model.Post, len(posts))
	copy(sorted, posts)

	var key func(p *model.Post) int64
	switch opts.Sort {
	case SortDateUploaded:
		key = func(p *model.Post) int64 { return p.CreatedAt }
	case SortDateDownloaded:
		key = func(p *model.Post) int64 { return p.DownloadedAt }
	case SortRating:
		key = func(p *model.Post) int64 { return int64(ratingRank(p.Rating)) }
	default:
		return sorted
	}

	desc := opts.SortOrder == SortDesc
	sort.SliceStable(sorted, func(i, j int) bool {
		if desc {
			return key(sorted[i]) > key(sorted[j])
		}
		return key(sorted[i]) < key(sorted[j])
	})
	return sorted
}

// FilterByMediaType applies the three media toggles to each post independently.
// With ShowImages off only gifs and videos can pass.
func FilterByMediaType(opts FilterOptions, posts []*model.Post) []*model.Post {
	result := make([]*model.Post, 0, len(posts))
	for _, p := range posts {
		gif, video := IsGif(p), IsVideo(p)
		if gif && !opts.ShowGifs {
			continue
		}
		if video && !opts.ShowVideos {
			continue
		}
		if !opts.ShowImages && !gif && !video {
			continue
		}
		result = append(result, p)
	}
	return result
}

// Paginate returns posts[Offset:Offset+Limit], clamped to the slice bounds.
func Paginate(opts FilterOptions, posts []*model.Post) []*model.Post {
	start := opts.Offset
	if start < 0 {
		start = 0
	}
	if start > len(posts) {
		start = len(posts)
	}
	end := start + opts.Limit
	if opts.Limit < 0 || end < start {
		end = start
	}
	if end > len(posts) {
		end = len(posts)
	}
	return posts[start:end]
}

// ExcludeIDs drops posts whose ID is in ids.
func ExcludeIDs(posts []*model.Post, ids []int64) []*model.Post {
	if len(ids) == 0 {
		return posts
	}
	skip := make(map[int64]bool, len(ids))
	for _, id := range ids {
		skip[id] = true
	}
	result := make([]*model.Post, 0, len(posts))
	for _, p := range posts {
		if !skip[p.ID] {
			result = append(result, p)
		}
	}
	return result
}

// ExcludeTags drops posts carrying any of tags.
func ExcludeTags(posts []*model.Post, tags []string) []*model.Post {
	if len(tags) == 0 {
		return posts
	}
	result := make([]*model.Post, 0, len(posts))
outer:
	for _, p := range posts {
		for _, t := range tags {
			if p.HasTag(t) {
				continue outer
			}
		}
		result = append(result, p)
	}
	return result
}

// IntersectIDs returns the IDs present in every set, ascending.
// No sets yields no IDs.
func IntersectIDs(sets ...[]int64) []int64 {
	if len(sets) == 0 {
		return []int64{}
	}
	counts := make(map[int64]int)
	for _, set := range sets {
		seen := make(map[int64]bool, len(set))
		for _, id := range set {
			if seen[id] {
				continue
			}
			seen[id] = true
			counts[id]++
		}
	}
	result := make([]int64, 0)
	for id, n := range counts {
		if n == len(sets) {
			result = append(result, id)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
	return result
}
