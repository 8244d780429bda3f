package testutil

import (
	"sync"

	"ib-go/internal/ib"
	"ib-go/internal/model"
)

// MemoryImageFiles is an ib.ImageFiles that records removals instead of touching disk.
type MemoryImageFiles struct {
	mu      sync.Mutex
	removed []int64

	// RemoveErr, when set, is returned by every Remove call.
	RemoveErr error
}

var _ ib.ImageFiles = (*MemoryImageFiles)(nil)

func NewMemoryImageFiles() *MemoryImageFiles {
	return &MemoryImageFiles{}
}

func (m *MemoryImageFiles) Paths(post *model.Post) ib.ImagePaths {
	outer, inner := ib.ShardDirs(post.Directory)
	return ib.ImagePaths{
		Image:     "/images/" + outer + "/" + inner + "/" + post.Image,
		Thumbnail: "/thumbnails/" + outer + "/" + inner + "/thumbnail_" + post.Hash + ".jpg",
	}
}

func (m *MemoryImageFiles) Remove(post *model.Post) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.RemoveErr != nil {
		return m.RemoveErr
	}
	m.removed = append(m.removed, post.ID)
	return nil
}

// Removed returns the IDs of posts whose files were removed, in call order.
func (m *MemoryImageFiles) Removed() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int64(nil), m.removed...)
}
