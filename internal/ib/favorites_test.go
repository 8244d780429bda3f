package ib_test

import (
	"context"
	"errors"
	"reflect"
	"sort"
	"strconv"
	"testing"

	"ib-go/internal/ib"
	"ib-go/internal/model"
	"ib-go/internal/testutil"
)

func newTree(t *testing.T, db ib.Database) *ib.FavoritesTree {
	t.Helper()
	tree := ib.NewFavoritesTree(db, ib.NewNopLogger())
	if err := tree.EnsureRoot(context.Background()); err != nil {
		t.Fatalf("EnsureRoot() error = %v", err)
	}
	return tree
}

func mustAddChild(t *testing.T, tree *ib.FavoritesTree, parent int64, title string) int64 {
	t.Helper()
	key, err := tree.AddChild(context.Background(), parent, title)
	if err != nil {
		t.Fatalf("AddChild(%d, %q) error = %v", parent, title, err)
	}
	return key
}

func mustAddPosts(t *testing.T, tree *ib.FavoritesTree, key int64, postIDs ...int64) {
	t.Helper()
	if err := tree.AddPostsToNode(context.Background(), key, postIDs); err != nil {
		t.Fatalf("AddPostsToNode(%d, %v) error = %v", key, postIDs, err)
	}
}

func TestFavoritesTree_EnsureRoot(t *testing.T) {
	testutil.ForEachBackend(t, func(t *testing.T, db ib.Database) {
		ctx := context.Background()
		tree := newTree(t, db)

		// A second call must not reset the root.
		mustAddChild(t, tree, ib.RootKey, "art")
		if err := tree.EnsureRoot(ctx); err != nil {
			t.Fatalf("EnsureRoot() error = %v", err)
		}

		view, err := tree.GetCompleteTree(ctx)
		if err != nil {
			t.Fatalf("GetCompleteTree() error = %v", err)
		}
		if view.Key != "0" || view.Title != ib.RootTitle {
			t.Errorf("root = (%q, %q), want (\"0\", %q)", view.Key, view.Title, ib.RootTitle)
		}
		if len(view.Children) != 1 {
			t.Errorf("root has %d children, want 1", len(view.Children))
		}
	})
}

func TestFavoritesTree_AddChild(t *testing.T) {
	testutil.ForEachBackend(t, func(t *testing.T, db ib.Database) {
		ctx := context.Background()
		tree := newTree(t, db)

		art := mustAddChild(t, tree, ib.RootKey, "art")
		photos := mustAddChild(t, tree, ib.RootKey, "photos")
		sketches := mustAddChild(t, tree, art, "sketches")

		if art == ib.RootKey || art == photos || sketches == art {
			t.Fatalf("keys not unique: art=%d photos=%d sketches=%d", art, photos, sketches)
		}

		roots, err := tree.GetTreeRoots(ctx)
		if err != nil {
			t.Fatalf("GetTreeRoots() error = %v", err)
		}
		var titles []string
		for _, n := range roots {
			titles = append(titles, n.Title)
		}
		if !reflect.DeepEqual(titles, []string{"art", "photos"}) {
			t.Errorf("GetTreeRoots() titles = %v, want [art photos]", titles)
		}

		children, err := tree.GetChildrenNodes(ctx, art)
		if err != nil {
			t.Fatalf("GetChildrenNodes() error = %v", err)
		}
		if len(children) != 1 || children[0].Key != sketches || children[0].ParentKey != art {
			t.Errorf("GetChildrenNodes(art) = %+v, want one child %d", children, sketches)
		}

		t.Run("missing parent", func(t *testing.T) {
			_, err := tree.AddChild(ctx, 999, "orphan")
			var nf *ib.NotFoundError
			if !errors.As(err, &nf) {
				t.Fatalf("AddChild() error = %v, want *NotFoundError", err)
			}
			if nf.Role != ib.RoleParent || nf.Key != 999 {
				t.Errorf("NotFoundError = %+v, want parent 999", nf)
			}

			keys, _ := tree.GetAllKeys(ctx)
			if len(keys) != 4 {
				t.Errorf("GetAllKeys() = %v, want 4 keys after failed add", keys)
			}
		})
	})
}

func TestFavoritesTree_ChangeTitle(t *testing.T) {
	testutil.ForEachBackend(t, func(t *testing.T, db ib.Database) {
		ctx := context.Background()
		tree := newTree(t, db)
		key := mustAddChild(t, tree, ib.RootKey, "art")

		if err := tree.ChangeTitle(ctx, key, "drawings"); err != nil {
			t.Fatalf("ChangeTitle() error = %v", err)
		}
		view, err := tree.GetNodeWithoutChildren(ctx, key)
		if err != nil {
			t.Fatalf("GetNodeWithoutChildren() error = %v", err)
		}
		if view.Title != "drawings" {
			t.Errorf("Title = %q, want %q", view.Title, "drawings")
		}

		err = tree.ChangeTitle(ctx, 42, "x")
		if !errors.Is(err, ib.ErrNotFound) {
			t.Errorf("ChangeTitle(missing) error = %v, want ErrNotFound", err)
		}
	})
}

func TestFavoritesTree_DeleteNodeAndChildren(t *testing.T) {
	testutil.ForEachBackend(t, func(t *testing.T, db ib.Database) {
		ctx := context.Background()
		tree := newTree(t, db)

		a := mustAddChild(t, tree, ib.RootKey, "a")
		b := mustAddChild(t, tree, ib.RootKey, "b")
		a1 := mustAddChild(t, tree, a, "a1")
		mustAddChild(t, tree, a1, "a1x")

		if err := tree.DeleteNodeAndChildren(ctx, a); err != nil {
			t.Fatalf("DeleteNodeAndChildren() error = %v", err)
		}

		keys, err := tree.GetAllKeys(ctx)
		if err != nil {
			t.Fatalf("GetAllKeys() error = %v", err)
		}
		sort.Strings(keys)
		want := []string{"0", itoa(b)}
		sort.Strings(want)
		if !reflect.DeepEqual(keys, want) {
			t.Errorf("GetAllKeys() = %v, want %v", keys, want)
		}

		view, err := tree.GetCompleteTree(ctx)
		if err != nil {
			t.Fatalf("GetCompleteTree() error = %v", err)
		}
		if len(view.Children) != 1 || view.Children[0].Title != "b" {
			t.Errorf("root children = %+v, want only b", view.Children)
		}
	})
}

func TestFavoritesTree_DeleteNodeAndChildren_Errors(t *testing.T) {
	testutil.ForEachBackend(t, func(t *testing.T, db ib.Database) {
		ctx := context.Background()
		tree := newTree(t, db)

		if err := tree.DeleteNodeAndChildren(ctx, ib.RootKey); !errors.Is(err, ib.ErrRootNode) {
			t.Errorf("deleting root error = %v, want ErrRootNode", err)
		}
		if err := tree.DeleteNodeAndChildren(ctx, 77); !errors.Is(err, ib.ErrNotFound) {
			t.Errorf("deleting missing node error = %v, want ErrNotFound", err)
		}
	})
}

func TestFavoritesTree_DeleteSkipsDanglingChildren(t *testing.T) {
	testutil.ForEachBackend(t, func(t *testing.T, db ib.Database) {
		ctx := context.Background()
		tree := newTree(t, db)

		// Nodes 1 and 2 under the root; node 1 also lists a child 11 that was never stored.
		err := db.Update(ctx, func(tx ib.Tx) error {
			root, _ := tx.FindNode(ib.RootKey)
			root.ChildKeys = []int64{1, 2}
			if err := tx.PutNode(root); err != nil {
				return err
			}
			if err := tx.PutNode(&model.FavoritesNode{Key: 1, Title: "one", ParentKey: 0, ChildKeys: []int64{11}, PostIDs: []int64{}}); err != nil {
				return err
			}
			return tx.PutNode(&model.FavoritesNode{Key: 2, Title: "two", ParentKey: 0, ChildKeys: []int64{}, PostIDs: []int64{}})
		})
		if err != nil {
			t.Fatalf("seeding nodes: %v", err)
		}

		if err := tree.DeleteNodeAndChildren(ctx, 1); err != nil {
			t.Fatalf("DeleteNodeAndChildren() error = %v", err)
		}

		keys, _ := tree.GetAllKeys(ctx)
		if !reflect.DeepEqual(keys, []string{"0", "2"}) {
			t.Errorf("GetAllKeys() = %v, want [0 2]", keys)
		}
		roots, _ := tree.GetTreeRoots(ctx)
		if len(roots) != 1 || roots[0].Key != 2 {
			t.Errorf("GetTreeRoots() = %+v, want only node 2", roots)
		}
	})
}

func TestFavoritesTree_GetCompleteTree_MissingChild(t *testing.T) {
	testutil.ForEachBackend(t, func(t *testing.T, db ib.Database) {
		ctx := context.Background()
		tree := newTree(t, db)

		err := db.Update(ctx, func(tx ib.Tx) error {
			root, _ := tx.FindNode(ib.RootKey)
			root.ChildKeys = []int64{5}
			return tx.PutNode(root)
		})
		if err != nil {
			t.Fatalf("seeding root: %v", err)
		}

		_, err = tree.GetCompleteTree(ctx)
		var nf *ib.NotFoundError
		if !errors.As(err, &nf) || nf.Role != ib.RoleChild || nf.Key != 5 {
			t.Errorf("GetCompleteTree() error = %v, want missing child 5", err)
		}
	})
}

func TestFavoritesTree_GetCompleteTree_MissingRoot(t *testing.T) {
	testutil.ForEachBackend(t, func(t *testing.T, db ib.Database) {
		tree := ib.NewFavoritesTree(db, ib.NewNopLogger())

		_, err := tree.GetCompleteTree(context.Background())
		var nf *ib.NotFoundError
		if !errors.As(err, &nf) || nf.Role != ib.RoleMasterRoot {
			t.Errorf("GetCompleteTree() error = %v, want missing master root", err)
		}
	})
}

func TestFavoritesTree_Posts(t *testing.T) {
	testutil.ForEachBackend(t, func(t *testing.T, db ib.Database) {
		ctx := context.Background()
		tree := newTree(t, db)
		key := mustAddChild(t, tree, ib.RootKey, "art")

		if err := tree.AddPostToNode(ctx, key, 10); err != nil {
			t.Fatalf("AddPostToNode() error = %v", err)
		}

		err := tree.AddPostToNode(ctx, key, 10)
		var conflict *ib.ConflictError
		if !errors.As(err, &conflict) || conflict.PostID != 10 || conflict.Key != key {
			t.Errorf("AddPostToNode(duplicate) error = %v, want ConflictError", err)
		}
		if !errors.Is(err, ib.ErrAlreadyExists) {
			t.Errorf("ConflictError does not match ErrAlreadyExists")
		}

		if err := tree.AddPostsToNode(ctx, key, []int64{11, 10, 12, 11}); err != nil {
			t.Fatalf("AddPostsToNode() error = %v", err)
		}
		view, _ := tree.GetNodeWithoutChildren(ctx, key)
		if !reflect.DeepEqual(view.PostIDs, []int64{10, 11, 12}) {
			t.Errorf("PostIDs = %v, want [10 11 12]", view.PostIDs)
		}

		if err := tree.RemovePostsFromNode(ctx, key, []int64{11, 99}); err != nil {
			t.Fatalf("RemovePostsFromNode() error = %v", err)
		}
		view, _ = tree.GetNodeWithoutChildren(ctx, key)
		if !reflect.DeepEqual(view.PostIDs, []int64{10, 12}) {
			t.Errorf("PostIDs = %v, want [10 12]", view.PostIDs)
		}
		if len(view.Children) != 0 || view.Children == nil {
			t.Errorf("GetNodeWithoutChildren() children = %v, want empty list", view.Children)
		}

		if err := tree.AddPostsToNode(ctx, 404, []int64{1}); !errors.Is(err, ib.ErrNotFound) {
			t.Errorf("AddPostsToNode(missing) error = %v, want ErrNotFound", err)
		}
	})
}

func TestFavoritesTree_GetAllPostIDs(t *testing.T) {
	testutil.ForEachBackend(t, func(t *testing.T, db ib.Database) {
		ctx := context.Background()
		tree := newTree(t, db)
		a := mustAddChild(t, tree, ib.RootKey, "a")
		b := mustAddChild(t, tree, ib.RootKey, "b")

		mustAddPosts(t, tree, a, 1, 2)
		mustAddPosts(t, tree, b, 2, 3)

		ids, err := tree.GetAllPostIDs(ctx)
		if err != nil {
			t.Fatalf("GetAllPostIDs() error = %v", err)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		if !reflect.DeepEqual(ids, []int64{1, 2, 3}) {
			t.Errorf("GetAllPostIDs() = %v, want [1 2 3]", ids)
		}
	})
}

func TestFavoritesTree_GetAllFavoriteTagsWithCounts(t *testing.T) {
	testutil.ForEachBackend(t, func(t *testing.T, db ib.Database) {
		ctx := context.Background()
		tree := newTree(t, db)
		posts := ib.NewPostStore(db, nil, ib.NewNopLogger(), testutil.FixedClock())

		err := posts.BulkSave(ctx, []*model.Post{
			testutil.NewPost(1, "cat", "cute"),
			testutil.NewPost(2, "cat"),
			testutil.NewPost(3, "dog"),
		})
		if err != nil {
			t.Fatalf("BulkSave() error = %v", err)
		}

		a := mustAddChild(t, tree, ib.RootKey, "a")
		b := mustAddChild(t, tree, ib.RootKey, "b")
		mustAddPosts(t, tree, a, 1, 2, 404)
		mustAddPosts(t, tree, b, 1)

		counts, err := tree.GetAllFavoriteTagsWithCounts(ctx)
		if err != nil {
			t.Fatalf("GetAllFavoriteTagsWithCounts() error = %v", err)
		}
		want := map[string]int{"cat": 2, "cute": 1}
		if !reflect.DeepEqual(counts, want) {
			t.Errorf("GetAllFavoriteTagsWithCounts() = %v, want %v", counts, want)
		}
	})
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}

// assertTreeShape checks that every stored node is reachable from the root
// exactly once, through the parent it records.
func assertTreeShape(t *testing.T, db ib.Database) {
	t.Helper()
	var nodes []*model.FavoritesNode
	err := db.View(context.Background(), func(tx ib.Tx) error {
		var err error
		nodes, err = tx.ListNodes()
		return err
	})
	if err != nil {
		t.Fatalf("ListNodes() error = %v", err)
	}

	byKey := make(map[int64]*model.FavoritesNode, len(nodes))
	for _, n := range nodes {
		byKey[n.Key] = n
	}

	seen := make(map[int64]int)
	var walk func(key int64)
	walk = func(key int64) {
		seen[key]++
		if seen[key] > 1 {
			return
		}
		for _, child := range byKey[key].ChildKeys {
			c, ok := byKey[child]
			if !ok {
				t.Errorf("node %d lists missing child %d", key, child)
				continue
			}
			if c.ParentKey != key {
				t.Errorf("node %d is listed by %d but records parent %d", child, key, c.ParentKey)
			}
			walk(child)
		}
	}
	if _, ok := byKey[ib.RootKey]; !ok {
		t.Fatal("root node missing")
	}
	walk(ib.RootKey)

	for _, n := range nodes {
		switch seen[n.Key] {
		case 0:
			t.Errorf("node %d (%q) is unreachable from the root", n.Key, n.Title)
		case 1:
		default:
			t.Errorf("node %d reached %d times", n.Key, seen[n.Key])
		}
	}
}

func TestFavoritesTree_ShapeAfterEdits(t *testing.T) {
	testutil.ForEachBackend(t, func(t *testing.T, db ib.Database) {
		ctx := context.Background()
		tree := newTree(t, db)

		a := mustAddChild(t, tree, ib.RootKey, "a")
		b := mustAddChild(t, tree, ib.RootKey, "b")
		c := mustAddChild(t, tree, a, "c")
		d := mustAddChild(t, tree, c, "d")
		mustAddChild(t, tree, d, "e")
		f := mustAddChild(t, tree, b, "f")
		mustAddPosts(t, tree, c, 1, 2)
		mustAddPosts(t, tree, f, 3)
		assertTreeShape(t, db)

		if err := tree.DeleteNodeAndChildren(ctx, c); err != nil {
			t.Fatalf("DeleteNodeAndChildren(%d) error = %v", c, err)
		}
		assertTreeShape(t, db)

		g := mustAddChild(t, tree, a, "g")
		mustAddChild(t, tree, g, "h")
		if err := tree.ChangeTitle(ctx, b, "renamed"); err != nil {
			t.Fatalf("ChangeTitle() error = %v", err)
		}
		if err := tree.DeleteNodeAndChildren(ctx, f); err != nil {
			t.Fatalf("DeleteNodeAndChildren(%d) error = %v", f, err)
		}
		assertTreeShape(t, db)

		ids, err := tree.GetAllPostIDs(ctx)
		if err != nil {
			t.Fatalf("GetAllPostIDs() error = %v", err)
		}
		if len(ids) != 0 {
			t.Errorf("GetAllPostIDs() = %v, want none after deleting their folders", ids)
		}
	})
}
