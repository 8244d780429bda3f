package ib

import (
	"context"
	"fmt"
	"strconv"

	"ib-go/internal/model"
)

// RootKey is the reserved key of the favorites root.
const RootKey int64 = 0

// RootTitle is the title given to a freshly created root.
const RootTitle = "root"

// FavoritesTree maintains the favorites folder hierarchy and the posts in each folder.
// Nodes are stored flat by key; parent/child structure lives in each node's key arrays.
type FavoritesTree struct {
	db     Database
	logger Logger
}

// NewFavoritesTree creates a FavoritesTree backed by db.
func NewFavoritesTree(db Database, logger Logger) *FavoritesTree {
	return &FavoritesTree{db: db, logger: logger}
}

// EnsureRoot creates the root node if it is missing.
func (f *FavoritesTree) EnsureRoot(ctx context.Context) error {
	return f.db.Update(ctx, func(tx Tx) error {
		return ensureRoot(tx, f.logger)
	})
}

func ensureRoot(tx Tx, logger Logger) error {
	root, err := tx.FindNode(RootKey)
	if err != nil {
		return fmt.Errorf("finding root: %w", err)
	}
	if root != nil {
		return nil
	}
	err = tx.PutNode(&model.FavoritesNode{
		Key:       RootKey,
		Title:     RootTitle,
		ParentKey: RootKey,
		ChildKeys: []int64{},
		PostIDs:   []int64{},
	})
	if err != nil {
		return fmt.Errorf("creating root: %w", err)
	}
	logger.Info("favorites root created")
	return nil
}

// AddChild creates an empty node titled title under parentKey and returns its key.
// The insert and the parent update share one transaction.
func (f *FavoritesTree) AddChild(ctx context.Context, parentKey int64, title string) (int64, error) {
	var key int64
	err := f.db.Update(ctx, func(tx Tx) error {
		parent, err := tx.FindNode(parentKey)
		if err != nil {
			return fmt.Errorf("finding parent: %w", err)
		}
		if parent == nil {
			return &NotFoundError{Role: RoleParent, Key: parentKey}
		}

		key, err = tx.InsertNode(&model.FavoritesNode{
			Title:     title,
			ParentKey: parentKey,
			ChildKeys: []int64{},
			PostIDs:   []int64{},
		})
		if err != nil {
			return fmt.Errorf("inserting node: %w", err)
		}

		parent.ChildKeys = append(parent.ChildKeys, key)
		if err := tx.PutNode(parent); err != nil {
			return fmt.Errorf("updating parent: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	f.logger.Info("favorites node added", "key", key, "parent", parentKey, "title", title)
	return key, nil
}

// ChangeTitle renames a node.
func (f *FavoritesTree) ChangeTitle(ctx context.Context, key int64, title string) error {
	return f.db.Update(ctx, func(tx Tx) error {
		node, err := findNode(tx, key, nodeRole(key))
		if err != nil {
			return err
		}
		node.Title = title
		if err := tx.PutNode(node); err != nil {
			return fmt.Errorf("updating node: %w", err)
		}
		return nil
	})
}

// DeleteNodeAndChildren detaches key from its parent and then deletes its whole subtree.
// Detaching first means no reader can reach a deleted node through a live parent.
func (f *FavoritesTree) DeleteNodeAndChildren(ctx context.Context, key int64) error {
	if key == RootKey {
		return fmt.Errorf("deleting node %d: %w", key, ErrRootNode)
	}

	var deleted int
	err := f.db.Update(ctx, func(tx Tx) error {
		node, err := findNode(tx, key, nodeRole(key))
		if err != nil {
			return err
		}
		parent, err := findNode(tx, node.ParentKey, RoleParent)
		if err != nil {
			return err
		}

		parent.ChildKeys = removeKey(parent.ChildKeys, key)
		if err := tx.PutNode(parent); err != nil {
			return fmt.Errorf("detaching from parent: %w", err)
		}

		deleted, err = deleteSubtree(tx, key, make(map[int64]bool))
		return err
	})
	if err != nil {
		return err
	}

	f.logger.Info("favorites subtree deleted", "key", key, "nodes", deleted)
	return nil
}

// deleteSubtree removes key and everything below it, depth-first.
// Child keys that no longer resolve are skipped.
func deleteSubtree(tx Tx, key int64, visited map[int64]bool) (int, error) {
	if visited[key] {
		return 0, nil
	}
	visited[key] = true

	node, err := tx.FindNode(key)
	if err != nil {
		return 0, fmt.Errorf("finding node %d: %w", key, err)
	}
	if node == nil {
		return 0, nil
	}

	count := 0
	for _, child := range node.ChildKeys {
		n, err := deleteSubtree(tx, child, visited)
		if err != nil {
			return count, err
		}
		count += n
	}

	if err := tx.DeleteNode(key); err != nil {
		return count, fmt.Errorf("deleting node %d: %w", key, err)
	}
	return count + 1, nil
}

// GetChildrenNodes returns the direct children of key in their stored order.
func (f *FavoritesTree) GetChildrenNodes(ctx context.Context, key int64) ([]*model.FavoritesNode, error) {
	var children []*model.FavoritesNode
	err := f.db.View(ctx, func(tx Tx) error {
		node, err := findNode(tx, key, nodeRole(key))
		if err != nil {
			return err
		}

		children = make([]*model.FavoritesNode, 0, len(node.ChildKeys))
		for _, childKey := range node.ChildKeys {
			child, err := findNode(tx, childKey, RoleChild)
			if err != nil {
				return err
			}
			children = append(children, child)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return children, nil
}

// GetTreeRoots returns the top-level folders.
func (f *FavoritesTree) GetTreeRoots(ctx context.Context) ([]*model.FavoritesNode, error) {
	return f.GetChildrenNodes(ctx, RootKey)
}

// GetCompleteTree materializes the whole tree starting at the root.
func (f *FavoritesTree) GetCompleteTree(ctx context.Context) (*model.TreeView, error) {
	var view *model.TreeView
	err := f.db.View(ctx, func(tx Tx) error {
		root, err := findNode(tx, RootKey, RoleMasterRoot)
		if err != nil {
			return err
		}
		view, err = buildView(tx, root, map[int64]bool{RootKey: true})
		return err
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

func buildView(tx Tx, node *model.FavoritesNode, visited map[int64]bool) (*model.TreeView, error) {
	view := newView(node)
	for _, childKey := range node.ChildKeys {
		if visited[childKey] {
			return nil, fmt.Errorf("favorites tree has a cycle at node %d", childKey)
		}
		visited[childKey] = true

		child, err := findNode(tx, childKey, RoleChild)
		if err != nil {
			return nil, err
		}
		childView, err := buildView(tx, child, visited)
		if err != nil {
			return nil, err
		}
		view.Children = append(view.Children, childView)
	}
	return view, nil
}

func newView(node *model.FavoritesNode) *model.TreeView {
	postIDs := make([]int64, len(node.PostIDs))
	copy(postIDs, node.PostIDs)
	return &model.TreeView{
		Title:    node.Title,
		Key:      strconv.FormatInt(node.Key, 10),
		Children: []*model.TreeView{},
		PostIDs:  postIDs,
	}
}

// GetNodeWithoutChildren returns a single node's view with an empty children list.
func (f *FavoritesTree) GetNodeWithoutChildren(ctx context.Context, key int64) (*model.TreeView, error) {
	var view *model.TreeView
	err := f.db.View(ctx, func(tx Tx) error {
		node, err := findNode(tx, key, nodeRole(key))
		if err != nil {
			return err
		}
		view = newView(node)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// AddPostToNode adds one post to a node. Adding a post that is already there
// fails with a *ConflictError and leaves the node unchanged.
func (f *FavoritesTree) AddPostToNode(ctx context.Context, key int64, postID int64) error {
	return f.db.Update(ctx, func(tx Tx) error {
		node, err := findNode(tx, key, nodeRole(key))
		if err != nil {
			return err
		}
		if containsKey(node.PostIDs, postID) {
			return &ConflictError{Key: key, PostID: postID}
		}
		node.PostIDs = append(node.PostIDs, postID)
		if err := tx.PutNode(node); err != nil {
			return fmt.Errorf("updating node: %w", err)
		}
		return nil
	})
}

// AddPostsToNode adds posts to a node, skipping any that are already members.
func (f *FavoritesTree) AddPostsToNode(ctx context.Context, key int64, postIDs []int64) error {
	return f.db.Update(ctx, func(tx Tx) error {
		node, err := findNode(tx, key, nodeRole(key))
		if err != nil {
			return err
		}

		present := make(map[int64]bool, len(node.PostIDs)+len(postIDs))
		for _, id := range node.PostIDs {
			present[id] = true
		}
		for _, id := range postIDs {
			if present[id] {
				continue
			}
			present[id] = true
			node.PostIDs = append(node.PostIDs, id)
		}

		if err := tx.PutNode(node); err != nil {
			return fmt.Errorf("updating node: %w", err)
		}
		return nil
	})
}

// RemovePostsFromNode removes posts from a node. IDs that are not members are ignored.
func (f *FavoritesTree) RemovePostsFromNode(ctx context.Context, key int64, postIDs []int64) error {
	return f.db.Update(ctx, func(tx Tx) error {
		node, err := findNode(tx, key, nodeRole(key))
		if err != nil {
			return err
		}

		remove := make(map[int64]bool, len(postIDs))
		for _, id := range postIDs {
			remove[id] = true
		}
		kept := make([]int64, 0, len(node.PostIDs))
		for _, id := range node.PostIDs {
			if !remove[id] {
				kept = append(kept, id)
			}
		}
		node.PostIDs = kept

		if err := tx.PutNode(node); err != nil {
			return fmt.Errorf("updating node: %w", err)
		}
		return nil
	})
}

// GetAllKeys returns the key of every stored node.
func (f *FavoritesTree) GetAllKeys(ctx context.Context) ([]string, error) {
	var keys []string
	err := f.db.View(ctx, func(tx Tx) error {
		nodes, err := tx.ListNodes()
		if err != nil {
			return fmt.Errorf("listing nodes: %w", err)
		}
		keys = make([]string, len(nodes))
		for i, n := range nodes {
			keys[i] = strconv.FormatInt(n.Key, 10)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// GetAllPostIDs returns every post ID referenced by any node, each once.
func (f *FavoritesTree) GetAllPostIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := f.db.View(ctx, func(tx Tx) error {
		var err error
		ids, err = favoritePostIDs(tx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// GetAllFavoriteTagsWithCounts counts tag occurrences over every post referenced by
// the tree. Each post counts once however many nodes reference it; posts that no
// longer exist are skipped.
func (f *FavoritesTree) GetAllFavoriteTagsWithCounts(ctx context.Context) (map[string]int, error) {
	counts := make(map[string]int)
	err := f.db.View(ctx, func(tx Tx) error {
		ids, err := favoritePostIDs(tx)
		if err != nil {
			return err
		}
		posts, err := tx.FindPosts(ids)
		if err != nil {
			return fmt.Errorf("loading favorite posts: %w", err)
		}
		for _, p := range posts {
			for _, tag := range p.Tags {
				counts[tag]++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return counts, nil
}

// favoritePostIDs collects the distinct post IDs of all nodes in key order.
func favoritePostIDs(tx Tx) ([]int64, error) {
	nodes, err := tx.ListNodes()
	if err != nil {
		return nil, fmt.Errorf("listing nodes: %w", err)
	}

	seen := make(map[int64]bool)
	ids := make([]int64, 0)
	for _, n := range nodes {
		for _, id := range n.PostIDs {
			if seen[id] {
				continue
			}
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func findNode(tx Tx, key int64, role string) (*model.FavoritesNode, error) {
	node, err := tx.FindNode(key)
	if err != nil {
		return nil, fmt.Errorf("finding %s %d: %w", role, key, err)
	}
	if node == nil {
		return nil, &NotFoundError{Role: role, Key: key}
	}
	return node, nil
}

func containsKey(keys []int64, key int64) bool {
	for _, k := range keys {
		if k == key {
			return true
		}
	}
	return false
}

func removeKey(keys []int64, key int64) []int64 {
	result := make([]int64, 0, len(keys))
	for _, k := range keys {
		if k != key {
			result = append(result, k)
		}
	}
	return result
}
