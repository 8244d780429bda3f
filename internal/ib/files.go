package ib

import (
	"strings"

	"ib-go/internal/model"
)

// ImagePaths are the on-disk locations of a post's files.
type ImagePaths struct {
	Image     string
	Thumbnail string
}

// ImageFiles locates and removes the downloaded files of a post.
type ImageFiles interface {
	// Paths returns where the post's image and thumbnail are stored.
	Paths(post *model.Post) ImagePaths

	// Remove deletes the post's image and thumbnail. Missing files are not an error.
	Remove(post *model.Post) error
}

// ShardDirs splits a post's directory field into its outer and inner shard.
// A directory without a separator yields an empty inner shard.
func ShardDirs(directory string) (outer, inner string) {
	parts := strings.SplitN(directory, "/", 3)
	outer = parts[0]
	if len(parts) > 1 {
		inner = parts[1]
	}
	return outer, inner
}
