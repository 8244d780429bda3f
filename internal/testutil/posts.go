package testutil

import "ib-go/internal/model"

// NewPost returns a downloaded, safe, static-image post whose fields derive from id.
// Tests override what they care about.
func NewPost(id int64, tags ...string) *model.Post {
	if tags == nil {
		tags = []string{}
	}
	return &model.Post{
		ID:         id,
		Directory:  "ab/cd",
		Hash:       "hash",
		Rating:     model.RatingSafe,
		Tags:       tags,
		CreatedAt:  1700000000 + id,
		Image:      "image.png",
		Extension:  "png",
		Downloaded: true,
	}
}

// PostIDs returns the IDs of posts in order.
func PostIDs(posts []*model.Post) []int64 {
	ids := make([]int64, len(posts))
	for i, p := range posts {
		ids[i] = p.ID
	}
	return ids
}
