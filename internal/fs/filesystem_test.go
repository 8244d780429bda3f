package fs

import (
	"os"
	"path/filepath"
	"testing"

	"ib-go/internal/model"
)

func TestOSImageFiles_Paths(t *testing.T) {
	files := NewOSImageFiles("/data")

	tests := []struct {
		name      string
		post      *model.Post
		image     string
		thumbnail string
	}{
		{
			name:      "sharded directory",
			post:      &model.Post{Directory: "ab/cd", Image: "abcdef.png", Hash: "abcdef"},
			image:     "/data/images/ab/cd/abcdef.png",
			thumbnail: "/data/thumbnails/ab/cd/thumbnail_abcdef.jpg",
		},
		{
			name:      "single level directory",
			post:      &model.Post{Directory: "ab", Image: "x.webm", Hash: "x"},
			image:     "/data/images/ab/x.webm",
			thumbnail: "/data/thumbnails/ab/thumbnail_x.jpg",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := files.Paths(tt.post)
			if got.Image != tt.image {
				t.Errorf("Image = %q, want %q", got.Image, tt.image)
			}
			if got.Thumbnail != tt.thumbnail {
				t.Errorf("Thumbnail = %q, want %q", got.Thumbnail, tt.thumbnail)
			}
		})
	}
}

func TestOSImageFiles_Remove(t *testing.T) {
	base := t.TempDir()
	files := NewOSImageFiles(base)
	post := &model.Post{Directory: "ab/cd", Image: "abcdef.png", Hash: "abcdef"}

	paths := files.Paths(post)
	for _, p := range []string{paths.Image, paths.Thumbnail} {
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatalf("MkdirAll() error = %v", err)
		}
		if err := os.WriteFile(p, []byte("data"), 0644); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}
	}

	image, thumb := files.Exists(post)
	if !image || !thumb {
		t.Fatalf("Exists() = %v, %v before Remove, want true, true", image, thumb)
	}

	if err := files.Remove(post); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	image, thumb = files.Exists(post)
	if image || thumb {
		t.Errorf("Exists() = %v, %v after Remove, want false, false", image, thumb)
	}

	t.Run("missing files are not an error", func(t *testing.T) {
		if err := files.Remove(post); err != nil {
			t.Errorf("second Remove() error = %v", err)
		}
	})
}
