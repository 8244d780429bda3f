package database

import (
	"context"
	"reflect"
	"testing"
	"time"

	"ib-go/internal/ib"
	"ib-go/internal/model"
)

// runBackendTests exercises the ib.Tx contract against one storage backend.
func runBackendTests(t *testing.T, open func(t *testing.T) ib.Database) {
	ctx := context.Background()

	update := func(t *testing.T, db ib.Database, fn func(ib.Tx) error) {
		t.Helper()
		if err := db.Update(ctx, fn); err != nil {
			t.Fatalf("Update() error = %v", err)
		}
	}
	view := func(t *testing.T, db ib.Database, fn func(ib.Tx) error) {
		t.Helper()
		if err := db.View(ctx, fn); err != nil {
			t.Fatalf("View() error = %v", err)
		}
	}

	t.Run("migrated database passes check", func(t *testing.T) {
		db := open(t)
		if err := db.CheckMigrations(); err != nil {
			t.Errorf("CheckMigrations() error = %v", err)
		}
		if err := db.Migrate(); err != nil {
			t.Errorf("second Migrate() error = %v", err)
		}
	})

	t.Run("post round trip", func(t *testing.T) {
		db := open(t)
		parent := int64(7)
		want := &model.Post{
			ID: 42, Source: "https://example.org", Directory: "ab/cd", Hash: "abcdef",
			Width: 800, Height: 600, Owner: "alice", ParentID: &parent, Rating: model.RatingSafe,
			Sample: true, SampleWidth: 400, SampleHeight: 300, Score: 12,
			Tags: []string{"cat", "sky"}, FileURL: "https://example.org/a.png", CreatedAt: 1700000000,
			Image: "abcdef.png", Extension: "png", Downloaded: true, DownloadedAt: 1700000100, ViewCount: 3,
		}
		update(t, db, func(tx ib.Tx) error { return tx.PutPost(want) })

		view(t, db, func(tx ib.Tx) error {
			got, err := tx.FindPost(42)
			if err != nil {
				t.Fatalf("FindPost() error = %v", err)
			}
			if !reflect.DeepEqual(got, want) {
				t.Errorf("FindPost() = %+v, want %+v", got, want)
			}

			missing, err := tx.FindPost(43)
			if err != nil {
				t.Fatalf("FindPost(missing) error = %v", err)
			}
			if missing != nil {
				t.Errorf("FindPost(missing) = %+v, want nil", missing)
			}
			return nil
		})
	})

	t.Run("post without tags reads back empty tags", func(t *testing.T) {
		db := open(t)
		update(t, db, func(tx ib.Tx) error { return tx.PutPost(&model.Post{ID: 1, Rating: model.RatingSafe}) })

		view(t, db, func(tx ib.Tx) error {
			got, err := tx.FindPost(1)
			if err != nil {
				t.Fatalf("FindPost() error = %v", err)
			}
			if got.Tags == nil || len(got.Tags) != 0 {
				t.Errorf("Tags = %#v, want empty slice", got.Tags)
			}
			return nil
		})
	})

	t.Run("find posts keeps input order and skips missing", func(t *testing.T) {
		db := open(t)
		update(t, db, func(tx ib.Tx) error {
			for _, id := range []int64{1, 2, 3} {
				if err := tx.PutPost(&model.Post{ID: id}); err != nil {
					return err
				}
			}
			return nil
		})

		view(t, db, func(tx ib.Tx) error {
			posts, err := tx.FindPosts([]int64{3, 99, 1})
			if err != nil {
				t.Fatalf("FindPosts() error = %v", err)
			}
			if got := postIDs(posts); !reflect.DeepEqual(got, []int64{3, 1}) {
				t.Errorf("FindPosts() ids = %v, want [3 1]", got)
			}
			return nil
		})
	})

	t.Run("list and count by query", func(t *testing.T) {
		db := open(t)
		update(t, db, func(tx ib.Tx) error {
			posts := []*model.Post{
				{ID: 1, Rating: model.RatingSafe, Downloaded: true, ViewCount: 1},
				{ID: 2, Rating: model.RatingExplicit, Blacklisted: true},
				{ID: 3, Rating: model.RatingSafe, Downloaded: true, ViewCount: 5},
				{ID: 4, Rating: model.RatingQuestionable, ViewCount: 5},
			}
			for _, p := range posts {
				if err := tx.PutPost(p); err != nil {
					return err
				}
			}
			return nil
		})

		tests := []struct {
			name string
			q    ib.PostQuery
			want []int64
		}{
			{"all", ib.PostQuery{}, []int64{1, 2, 3, 4}},
			{"downloaded", ib.PostQuery{Downloaded: true}, []int64{1, 3}},
			{"blacklisted", ib.PostQuery{Blacklisted: true}, []int64{2}},
			{"rating", ib.PostQuery{Rating: model.RatingSafe}, []int64{1, 3}},
			{"any rating", ib.PostQuery{Rating: model.RatingAny}, []int64{1, 2, 3, 4}},
			{"viewed most first", ib.PostQuery{Viewed: true}, []int64{3, 4, 1}},
			{"viewed limited", ib.PostQuery{Viewed: true, Limit: 2}, []int64{3, 4}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				view(t, db, func(tx ib.Tx) error {
					posts, err := tx.ListPosts(tt.q)
					if err != nil {
						t.Fatalf("ListPosts() error = %v", err)
					}
					if got := postIDs(posts); !reflect.DeepEqual(got, tt.want) {
						t.Errorf("ListPosts() ids = %v, want %v", got, tt.want)
					}
					n, err := tx.CountPosts(tt.q)
					if err != nil {
						t.Fatalf("CountPosts() error = %v", err)
					}
					if n != len(tt.want) {
						t.Errorf("CountPosts() = %d, want %d", n, len(tt.want))
					}
					return nil
				})
			})
		}
	})

	t.Run("tag index follows rewrites", func(t *testing.T) {
		db := open(t)
		update(t, db, func(tx ib.Tx) error {
			if err := tx.PutPost(&model.Post{ID: 2, Tags: []string{"cat", "dog"}}); err != nil {
				return err
			}
			if err := tx.PutPost(&model.Post{ID: 1, Tags: []string{"cat", "cat"}}); err != nil {
				return err
			}
			return tx.PutPost(&model.Post{ID: 2, Tags: []string{"dog"}})
		})

		view(t, db, func(tx ib.Tx) error {
			for tag, want := range map[string][]int64{
				"cat":  {1},
				"dog":  {2},
				"bird": {},
			} {
				got, err := tx.FindPostIDsByTag(tag)
				if err != nil {
					t.Fatalf("FindPostIDsByTag(%q) error = %v", tag, err)
				}
				if !reflect.DeepEqual(got, want) {
					t.Errorf("FindPostIDsByTag(%q) = %v, want %v", tag, got, want)
				}
			}
			return nil
		})
	})

	t.Run("empty tag is indexed like any other", func(t *testing.T) {
		db := open(t)
		update(t, db, func(tx ib.Tx) error {
			return tx.PutPost(&model.Post{ID: 1, Tags: []string{"", "cat"}})
		})
		update(t, db, func(tx ib.Tx) error {
			return tx.PutPost(&model.Post{ID: 2, Tags: []string{""}})
		})
		view(t, db, func(tx ib.Tx) error {
			ids, err := tx.FindPostIDsByTag("")
			if err != nil {
				t.Fatalf("FindPostIDsByTag() error = %v", err)
			}
			if !reflect.DeepEqual(ids, []int64{1, 2}) {
				t.Errorf("FindPostIDsByTag(\"\") = %v, want [1 2]", ids)
			}
			return nil
		})

		update(t, db, func(tx ib.Tx) error {
			return tx.PutPost(&model.Post{ID: 1, Tags: []string{"cat"}})
		})
		view(t, db, func(tx ib.Tx) error {
			ids, _ := tx.FindPostIDsByTag("")
			if !reflect.DeepEqual(ids, []int64{2}) {
				t.Errorf("FindPostIDsByTag(\"\") after retag = %v, want [2]", ids)
			}
			return nil
		})
	})

	t.Run("clear posts empties the tag index", func(t *testing.T) {
		db := open(t)
		update(t, db, func(tx ib.Tx) error {
			if err := tx.PutPost(&model.Post{ID: 1, Tags: []string{"cat"}}); err != nil {
				return err
			}
			return tx.ClearPosts()
		})

		view(t, db, func(tx ib.Tx) error {
			ids, err := tx.FindPostIDsByTag("cat")
			if err != nil {
				t.Fatalf("FindPostIDsByTag() error = %v", err)
			}
			if len(ids) != 0 {
				t.Errorf("FindPostIDsByTag() = %v, want none", ids)
			}
			n, err := tx.CountPosts(ib.PostQuery{})
			if err != nil {
				t.Fatalf("CountPosts() error = %v", err)
			}
			if n != 0 {
				t.Errorf("CountPosts() = %d, want 0", n)
			}
			return nil
		})
	})

	t.Run("node keys start after the root", func(t *testing.T) {
		db := open(t)
		var first, second int64
		update(t, db, func(tx ib.Tx) error {
			root := &model.FavoritesNode{Key: 0, Title: "root", ChildKeys: []int64{}, PostIDs: []int64{}}
			if err := tx.PutNode(root); err != nil {
				return err
			}
			var err error
			if first, err = tx.InsertNode(&model.FavoritesNode{Title: "a"}); err != nil {
				return err
			}
			second, err = tx.InsertNode(&model.FavoritesNode{Title: "b"})
			return err
		})

		if first != 1 || second != 2 {
			t.Errorf("assigned keys = %d, %d; want 1, 2", first, second)
		}

		view(t, db, func(tx ib.Tx) error {
			nodes, err := tx.ListNodes()
			if err != nil {
				t.Fatalf("ListNodes() error = %v", err)
			}
			want := []*model.FavoritesNode{
				{Key: 0, Title: "root", ChildKeys: []int64{}, PostIDs: []int64{}},
				{Key: 1, Title: "a", ChildKeys: []int64{}, PostIDs: []int64{}},
				{Key: 2, Title: "b", ChildKeys: []int64{}, PostIDs: []int64{}},
			}
			if !reflect.DeepEqual(nodes, want) {
				t.Errorf("ListNodes() = %+v, want %+v", nodes, want)
			}
			return nil
		})
	})

	t.Run("explicit node keys are never reassigned", func(t *testing.T) {
		db := open(t)
		var key int64
		update(t, db, func(tx ib.Tx) error {
			if err := tx.PutNode(&model.FavoritesNode{Key: 10, Title: "imported"}); err != nil {
				return err
			}
			var err error
			key, err = tx.InsertNode(&model.FavoritesNode{Title: "new"})
			return err
		})
		if key <= 10 {
			t.Errorf("InsertNode() key = %d, want > 10", key)
		}
	})

	t.Run("node update and delete", func(t *testing.T) {
		db := open(t)
		update(t, db, func(tx ib.Tx) error {
			return tx.PutNode(&model.FavoritesNode{Key: 3, Title: "a", ParentKey: 0, ChildKeys: []int64{5, 4}, PostIDs: []int64{9, 8}})
		})
		update(t, db, func(tx ib.Tx) error {
			n, err := tx.FindNode(3)
			if err != nil {
				return err
			}
			n.Title = "b"
			n.PostIDs = append(n.PostIDs, 7)
			return tx.PutNode(n)
		})

		view(t, db, func(tx ib.Tx) error {
			n, err := tx.FindNode(3)
			if err != nil {
				t.Fatalf("FindNode() error = %v", err)
			}
			want := &model.FavoritesNode{Key: 3, Title: "b", ChildKeys: []int64{5, 4}, PostIDs: []int64{9, 8, 7}}
			if !reflect.DeepEqual(n, want) {
				t.Errorf("FindNode() = %+v, want %+v", n, want)
			}
			return nil
		})

		update(t, db, func(tx ib.Tx) error { return tx.DeleteNode(3) })
		view(t, db, func(tx ib.Tx) error {
			n, err := tx.FindNode(3)
			if err != nil {
				t.Fatalf("FindNode() error = %v", err)
			}
			if n != nil {
				t.Errorf("FindNode() after delete = %+v, want nil", n)
			}
			return nil
		})
	})

	t.Run("failed update rolls back", func(t *testing.T) {
		db := open(t)
		err := db.Update(ctx, func(tx ib.Tx) error {
			if err := tx.PutPost(&model.Post{ID: 1}); err != nil {
				return err
			}
			return ib.ErrRootNode
		})
		if err != ib.ErrRootNode {
			t.Fatalf("Update() error = %v, want %v", err, ib.ErrRootNode)
		}

		view(t, db, func(tx ib.Tx) error {
			p, err := tx.FindPost(1)
			if err != nil {
				t.Fatalf("FindPost() error = %v", err)
			}
			if p != nil {
				t.Error("post written by a failed update is visible")
			}
			return nil
		})
	})

	t.Run("saved search round trip", func(t *testing.T) {
		db := open(t)
		search := &model.SavedSearch{
			Tags:         []string{"cat"},
			ExcludedTags: []string{"dog"},
			Rating:       model.RatingAny,
			Previews:     []model.PreviewImage{{PostID: 1, Data: []byte{0xff, 0xd8}}},
		}
		update(t, db, func(tx ib.Tx) error {
			_, err := tx.InsertSavedSearch(search)
			return err
		})
		if search.ID == 0 {
			t.Fatal("InsertSavedSearch() did not assign an id")
		}

		view(t, db, func(tx ib.Tx) error {
			got, err := tx.FindSavedSearch(search.ID)
			if err != nil {
				t.Fatalf("FindSavedSearch() error = %v", err)
			}
			if !reflect.DeepEqual(got, search) {
				t.Errorf("FindSavedSearch() = %+v, want %+v", got, search)
			}
			return nil
		})

		update(t, db, func(tx ib.Tx) error { return tx.DeleteSavedSearch(search.ID) })
		view(t, db, func(tx ib.Tx) error {
			all, err := tx.ListSavedSearches()
			if err != nil {
				t.Fatalf("ListSavedSearches() error = %v", err)
			}
			if len(all) != 0 {
				t.Errorf("ListSavedSearches() = %d searches, want 0", len(all))
			}
			return nil
		})
	})

	t.Run("tasks list newest first", func(t *testing.T) {
		db := open(t)
		started := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
		update(t, db, func(tx ib.Tx) error {
			for i, op := range []string{"post import", "fav add", "snapshot backup"} {
				task := &model.Task{Operation: op, StartedAt: started.Add(time.Duration(i) * time.Minute), Status: "running"}
				if _, err := tx.InsertTask(task); err != nil {
					return err
				}
				if i == 0 {
					finished := task.StartedAt.Add(time.Second)
					task.FinishedAt = &finished
					task.Status = "success"
					if err := tx.PutTask(task); err != nil {
						return err
					}
				}
			}
			return nil
		})

		view(t, db, func(tx ib.Tx) error {
			tasks, err := tx.ListTasks(2)
			if err != nil {
				t.Fatalf("ListTasks() error = %v", err)
			}
			if len(tasks) != 2 {
				t.Fatalf("ListTasks(2) returned %d tasks", len(tasks))
			}
			if tasks[0].Operation != "snapshot backup" || tasks[1].Operation != "fav add" {
				t.Errorf("ListTasks(2) = %q, %q", tasks[0].Operation, tasks[1].Operation)
			}

			all, err := tx.ListTasks(0)
			if err != nil {
				t.Fatalf("ListTasks(0) error = %v", err)
			}
			oldest := all[len(all)-1]
			if oldest.Status != "success" || oldest.FinishedAt == nil {
				t.Fatalf("oldest task = %+v, want finished", oldest)
			}
			if !oldest.FinishedAt.Equal(started.Add(time.Second)) {
				t.Errorf("FinishedAt = %v, want %v", oldest.FinishedAt, started.Add(time.Second))
			}
			if !oldest.StartedAt.Equal(started) {
				t.Errorf("StartedAt = %v, want %v", oldest.StartedAt, started)
			}
			return nil
		})
	})
}

func postIDs(posts []*model.Post) []int64 {
	ids := make([]int64, len(posts))
	for i, p := range posts {
		ids[i] = p.ID
	}
	return ids
}
