package database

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/boltdb/bolt"

	"ib-go/internal/ib"
	"ib-go/internal/model"
)

// boltSchemaVersion is bumped whenever the bucket layout changes.
const boltSchemaVersion = 1

var (
	bucketMeta          = []byte("meta")
	bucketPosts         = []byte("posts")
	bucketPostTags      = []byte("post_tags")
	bucketFavorites     = []byte("favorites")
	bucketSavedSearches = []byte("saved_searches")
	bucketTasks         = []byte("tasks")

	dataBuckets = [][]byte{bucketPosts, bucketPostTags, bucketFavorites, bucketSavedSearches, bucketTasks}

	keySchemaVersion = []byte("schema_version")
)

// BoltDatabase implements ib.Database on a single bolt file. Records are stored
// as JSON under 8-byte big-endian keys so cursors iterate in key order.
// post_tags holds one nested bucket per tag whose keys are the tagged post IDs.
// Tag bucket names carry a one-byte prefix because bolt rejects empty names.
type BoltDatabase struct {
	db *bolt.DB
}

// NewBoltDatabase opens or creates the bolt file at path.
func NewBoltDatabase(path string) (*BoltDatabase, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database: %w", err)
	}
	return &BoltDatabase{db: db}, nil
}

// View runs fn in a read-only bolt transaction.
func (b *BoltDatabase) View(ctx context.Context, fn func(ib.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.View(func(tx *bolt.Tx) error {
		return fn(&boltTx{tx: tx})
	})
}

// Update runs fn in a read-write bolt transaction.
func (b *BoltDatabase) Update(ctx context.Context, fn func(ib.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		return fn(&boltTx{tx: tx})
	})
}

// Migrate creates any missing bucket and records the layout version.
func (b *BoltDatabase) Migrate() error {
	return b.db.Update(func(tx *bolt.Tx) error {
		meta, err := tx.CreateBucketIfNotExists(bucketMeta)
		if err != nil {
			return fmt.Errorf("creating meta bucket: %w", err)
		}
		for _, name := range dataBuckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("creating %s bucket: %w", name, err)
			}
		}
		return meta.Put(keySchemaVersion, []byte(strconv.Itoa(boltSchemaVersion)))
	})
}

// CheckMigrations verifies that every bucket exists at the current layout version.
func (b *BoltDatabase) CheckMigrations() error {
	return b.db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		if meta == nil {
			return fmt.Errorf("database has no schema version (needs migration)")
		}
		version, err := strconv.Atoi(string(meta.Get(keySchemaVersion)))
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
		if version < boltSchemaVersion {
			return fmt.Errorf("database is at version %d but latest is %d", version, boltSchemaVersion)
		}
		if version > boltSchemaVersion {
			return fmt.Errorf("database version %d is ahead of binary version %d (binary needs update)",
				version, boltSchemaVersion)
		}
		for _, name := range dataBuckets {
			if tx.Bucket(name) == nil {
				return fmt.Errorf("bucket %s is missing (needs migration)", name)
			}
		}
		return nil
	})
}

// BackupTo copies the bolt file to destPath inside a read transaction, so
// concurrent writers do not tear the copy. An existing destPath is an error.
func (b *BoltDatabase) BackupTo(ctx context.Context, destPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := os.Stat(destPath); err == nil {
		return fmt.Errorf("backing up database: %s already exists", destPath)
	}
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.CopyFile(destPath, 0600)
	})
	if err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}
	return nil
}

// Close closes the bolt file.
func (b *BoltDatabase) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

// tagBucketPrefix is prepended to every tag bucket name in post_tags.
const tagBucketPrefix = '#'

func tagBucketName(tag string) []byte {
	name := make([]byte, 0, len(tag)+1)
	name = append(name, tagBucketPrefix)
	return append(name, tag...)
}

func itob(v int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(v))
	return buf
}

func btoi(b []byte) int64 {
	return int64(binary.BigEndian.Uint64(b))
}

// boltTx implements ib.Tx on a *bolt.Tx.
type boltTx struct {
	tx *bolt.Tx
}

func (t *boltTx) bucket(name []byte) (*bolt.Bucket, error) {
	b := t.tx.Bucket(name)
	if b == nil {
		return nil, fmt.Errorf("bucket %s is missing (needs migration)", name)
	}
	return b, nil
}

// resetBucket drops and recreates a bucket, which also resets its sequence.
func (t *boltTx) resetBucket(name []byte) error {
	if err := t.tx.DeleteBucket(name); err != nil && err != bolt.ErrBucketNotFound {
		return fmt.Errorf("deleting %s bucket: %w", name, err)
	}
	if _, err := t.tx.CreateBucket(name); err != nil {
		return fmt.Errorf("creating %s bucket: %w", name, err)
	}
	return nil
}

func getJSON(b *bolt.Bucket, key []byte, v any) (bool, error) {
	data := b.Get(key)
	if data == nil {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("decoding %s record %d: %w", bucketNameOf(v), btoi(key), err)
	}
	return true, nil
}

func putJSON(b *bolt.Bucket, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s record: %w", bucketNameOf(v), err)
	}
	return b.Put(key, data)
}

func bucketNameOf(v any) string {
	switch v.(type) {
	case *model.Post:
		return "post"
	case *model.FavoritesNode:
		return "node"
	case *model.SavedSearch:
		return "saved search"
	case *model.Task:
		return "task"
	}
	return "unknown"
}

// bumpSequence keeps a bucket's sequence at or above key so NextSequence
// never hands out a key that was stored explicitly.
func bumpSequence(b *bolt.Bucket, key int64) error {
	if key > 0 && uint64(key) > b.Sequence() {
		return b.SetSequence(uint64(key))
	}
	return nil
}

// Posts

func normalizePost(p *model.Post) {
	if p.Tags == nil {
		p.Tags = []string{}
	}
}

func (t *boltTx) FindPost(id int64) (*model.Post, error) {
	b, err := t.bucket(bucketPosts)
	if err != nil {
		return nil, err
	}
	var p model.Post
	ok, err := getJSON(b, itob(id), &p)
	if err != nil || !ok {
		return nil, err
	}
	normalizePost(&p)
	return &p, nil
}

func (t *boltTx) FindPosts(ids []int64) ([]*model.Post, error) {
	posts := make([]*model.Post, 0, len(ids))
	for _, id := range ids {
		p, err := t.FindPost(id)
		if err != nil {
			return nil, err
		}
		if p != nil {
			posts = append(posts, p)
		}
	}
	return posts, nil
}

func matchesQuery(p *model.Post, q ib.PostQuery) bool {
	if q.Downloaded && !p.Downloaded {
		return false
	}
	if q.Blacklisted && !p.Blacklisted {
		return false
	}
	if q.Rating != "" && q.Rating != model.RatingAny && p.Rating != q.Rating {
		return false
	}
	if q.Viewed && p.ViewCount <= 0 {
		return false
	}
	return true
}

func (t *boltTx) ListPosts(q ib.PostQuery) ([]*model.Post, error) {
	b, err := t.bucket(bucketPosts)
	if err != nil {
		return nil, err
	}

	posts := make([]*model.Post, 0)
	err = b.ForEach(func(k, v []byte) error {
		var p model.Post
		if err := json.Unmarshal(v, &p); err != nil {
			return fmt.Errorf("decoding post %d: %w", btoi(k), err)
		}
		if matchesQuery(&p, q) {
			normalizePost(&p)
			posts = append(posts, &p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if q.Viewed {
		// Cursor order is ID order, so a stable sort keeps ties ascending by ID.
		sort.SliceStable(posts, func(i, j int) bool {
			return posts[i].ViewCount > posts[j].ViewCount
		})
	}
	if q.Limit > 0 && len(posts) > q.Limit {
		posts = posts[:q.Limit]
	}
	return posts, nil
}

func (t *boltTx) CountPosts(q ib.PostQuery) (int, error) {
	posts, err := t.ListPosts(q)
	if err != nil {
		return 0, err
	}
	return len(posts), nil
}

func (t *boltTx) FindPostIDsByTag(tag string) ([]int64, error) {
	index, err := t.bucket(bucketPostTags)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0)
	tagged := index.Bucket(tagBucketName(tag))
	if tagged == nil {
		return ids, nil
	}
	err = tagged.ForEach(func(k, _ []byte) error {
		ids = append(ids, btoi(k))
		return nil
	})
	return ids, err
}

func (t *boltTx) PutPost(p *model.Post) error {
	posts, err := t.bucket(bucketPosts)
	if err != nil {
		return err
	}
	index, err := t.bucket(bucketPostTags)
	if err != nil {
		return err
	}

	key := itob(p.ID)
	var old model.Post
	found, err := getJSON(posts, key, &old)
	if err != nil {
		return err
	}
	if found {
		for _, tag := range old.Tags {
			if tagged := index.Bucket(tagBucketName(tag)); tagged != nil {
				if err := tagged.Delete(key); err != nil {
					return fmt.Errorf("unindexing tag %q: %w", tag, err)
				}
			}
		}
	}

	for _, tag := range p.Tags {
		tagged, err := index.CreateBucketIfNotExists(tagBucketName(tag))
		if err != nil {
			return fmt.Errorf("indexing tag %q: %w", tag, err)
		}
		if err := tagged.Put(key, []byte{}); err != nil {
			return fmt.Errorf("indexing tag %q: %w", tag, err)
		}
	}

	return putJSON(posts, key, p)
}

func (t *boltTx) ClearPosts() error {
	if err := t.resetBucket(bucketPostTags); err != nil {
		return err
	}
	return t.resetBucket(bucketPosts)
}

// Favorites

func normalizeNode(n *model.FavoritesNode) {
	if n.ChildKeys == nil {
		n.ChildKeys = []int64{}
	}
	if n.PostIDs == nil {
		n.PostIDs = []int64{}
	}
}

func (t *boltTx) FindNode(key int64) (*model.FavoritesNode, error) {
	b, err := t.bucket(bucketFavorites)
	if err != nil {
		return nil, err
	}
	var n model.FavoritesNode
	ok, err := getJSON(b, itob(key), &n)
	if err != nil || !ok {
		return nil, err
	}
	n.Key = key
	normalizeNode(&n)
	return &n, nil
}

func (t *boltTx) ListNodes() ([]*model.FavoritesNode, error) {
	b, err := t.bucket(bucketFavorites)
	if err != nil {
		return nil, err
	}
	nodes := make([]*model.FavoritesNode, 0)
	err = b.ForEach(func(k, v []byte) error {
		var n model.FavoritesNode
		if err := json.Unmarshal(v, &n); err != nil {
			return fmt.Errorf("decoding node %d: %w", btoi(k), err)
		}
		n.Key = btoi(k)
		normalizeNode(&n)
		nodes = append(nodes, &n)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return nodes, nil
}

func (t *boltTx) InsertNode(n *model.FavoritesNode) (int64, error) {
	b, err := t.bucket(bucketFavorites)
	if err != nil {
		return 0, err
	}
	seq, err := b.NextSequence()
	if err != nil {
		return 0, fmt.Errorf("allocating node key: %w", err)
	}
	n.Key = int64(seq)
	if err := putJSON(b, itob(n.Key), n); err != nil {
		return 0, err
	}
	return n.Key, nil
}

func (t *boltTx) PutNode(n *model.FavoritesNode) error {
	b, err := t.bucket(bucketFavorites)
	if err != nil {
		return err
	}
	if err := bumpSequence(b, n.Key); err != nil {
		return err
	}
	return putJSON(b, itob(n.Key), n)
}

func (t *boltTx) DeleteNode(key int64) error {
	b, err := t.bucket(bucketFavorites)
	if err != nil {
		return err
	}
	return b.Delete(itob(key))
}

func (t *boltTx) ClearNodes() error {
	return t.resetBucket(bucketFavorites)
}

// Saved searches

func normalizeSavedSearch(s *model.SavedSearch) {
	if s.Tags == nil {
		s.Tags = []string{}
	}
	if s.ExcludedTags == nil {
		s.ExcludedTags = []string{}
	}
	if s.Previews == nil {
		s.Previews = []model.PreviewImage{}
	}
}

func (t *boltTx) FindSavedSearch(id int64) (*model.SavedSearch, error) {
	b, err := t.bucket(bucketSavedSearches)
	if err != nil {
		return nil, err
	}
	var s model.SavedSearch
	ok, err := getJSON(b, itob(id), &s)
	if err != nil || !ok {
		return nil, err
	}
	normalizeSavedSearch(&s)
	return &s, nil
}

func (t *boltTx) ListSavedSearches() ([]*model.SavedSearch, error) {
	b, err := t.bucket(bucketSavedSearches)
	if err != nil {
		return nil, err
	}
	searches := make([]*model.SavedSearch, 0)
	err = b.ForEach(func(k, v []byte) error {
		var s model.SavedSearch
		if err := json.Unmarshal(v, &s); err != nil {
			return fmt.Errorf("decoding saved search %d: %w", btoi(k), err)
		}
		normalizeSavedSearch(&s)
		searches = append(searches, &s)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return searches, nil
}

func (t *boltTx) InsertSavedSearch(s *model.SavedSearch) (int64, error) {
	b, err := t.bucket(bucketSavedSearches)
	if err != nil {
		return 0, err
	}
	seq, err := b.NextSequence()
	if err != nil {
		return 0, fmt.Errorf("allocating saved search id: %w", err)
	}
	s.ID = int64(seq)
	if err := putJSON(b, itob(s.ID), s); err != nil {
		return 0, err
	}
	return s.ID, nil
}

func (t *boltTx) PutSavedSearch(s *model.SavedSearch) error {
	b, err := t.bucket(bucketSavedSearches)
	if err != nil {
		return err
	}
	if err := bumpSequence(b, s.ID); err != nil {
		return err
	}
	return putJSON(b, itob(s.ID), s)
}

func (t *boltTx) DeleteSavedSearch(id int64) error {
	b, err := t.bucket(bucketSavedSearches)
	if err != nil {
		return err
	}
	return b.Delete(itob(id))
}

func (t *boltTx) ClearSavedSearches() error {
	return t.resetBucket(bucketSavedSearches)
}

// Tasks

func (t *boltTx) InsertTask(task *model.Task) (int64, error) {
	b, err := t.bucket(bucketTasks)
	if err != nil {
		return 0, err
	}
	seq, err := b.NextSequence()
	if err != nil {
		return 0, fmt.Errorf("allocating task id: %w", err)
	}
	task.ID = int64(seq)
	if err := putJSON(b, itob(task.ID), task); err != nil {
		return 0, err
	}
	return task.ID, nil
}

func (t *boltTx) PutTask(task *model.Task) error {
	b, err := t.bucket(bucketTasks)
	if err != nil {
		return err
	}
	if err := bumpSequence(b, task.ID); err != nil {
		return err
	}
	return putJSON(b, itob(task.ID), task)
}

func (t *boltTx) ListTasks(limit int) ([]*model.Task, error) {
	b, err := t.bucket(bucketTasks)
	if err != nil {
		return nil, err
	}
	tasks := make([]*model.Task, 0)
	c := b.Cursor()
	for k, v := c.Last(); k != nil; k, v = c.Prev() {
		if limit > 0 && len(tasks) >= limit {
			break
		}
		var task model.Task
		if err := json.Unmarshal(v, &task); err != nil {
			return nil, fmt.Errorf("decoding task %d: %w", btoi(k), err)
		}
		tasks = append(tasks, &task)
	}
	return tasks, nil
}

func (t *boltTx) ClearTasks() error {
	return t.resetBucket(bucketTasks)
}

// Compile-time check that BoltDatabase implements ib.Database
var _ ib.Database = (*BoltDatabase)(nil)
