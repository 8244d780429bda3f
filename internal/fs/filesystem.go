package fs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"ib-go/internal/ib"
	"ib-go/internal/model"
)

// OSImageFiles locates downloaded post files on the real filesystem:
//
//	<base>/
//	  images/<outer>/<inner>/<image>
//	  thumbnails/<outer>/<inner>/thumbnail_<hash>.jpg
type OSImageFiles struct {
	base string
}

var _ ib.ImageFiles = (*OSImageFiles)(nil)

// NewOSImageFiles creates an OSImageFiles rooted at base.
func NewOSImageFiles(base string) *OSImageFiles {
	return &OSImageFiles{base: base}
}

// Paths returns where the post's image and thumbnail live.
func (f *OSImageFiles) Paths(post *model.Post) ib.ImagePaths {
	outer, inner := ib.ShardDirs(post.Directory)
	return ib.ImagePaths{
		Image:     filepath.Join(f.base, "images", outer, inner, post.Image),
		Thumbnail: filepath.Join(f.base, "thumbnails", outer, inner, "thumbnail_"+post.Hash+".jpg"),
	}
}

// Exists reports which of the post's files are on disk.
func (f *OSImageFiles) Exists(post *model.Post) (image, thumbnail bool) {
	paths := f.Paths(post)
	return fileExists(paths.Image), fileExists(paths.Thumbnail)
}

// Remove deletes the post's image and thumbnail. Missing files are ignored;
// both removals are attempted even if the first fails.
func (f *OSImageFiles) Remove(post *model.Post) error {
	paths := f.Paths(post)
	var errs []error
	for _, path := range []string{paths.Image, paths.Thumbnail} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			errs = append(errs, fmt.Errorf("removing %s: %w", path, err))
		}
	}
	return errors.Join(errs...)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
