package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"ib-go/internal/database/migrations"
	"ib-go/internal/ib"
	"ib-go/internal/model"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// maxInParams bounds the number of IDs bound into a single IN clause.
const maxInParams = 500

// SQLiteDatabase implements ib.Database using SQLite.
type SQLiteDatabase struct {
	db *sql.DB
}

// NewSQLiteDatabase opens a SQLite database.
// path can be a file path or ":memory:" for an in-memory database.
func NewSQLiteDatabase(path string) (*SQLiteDatabase, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	return &SQLiteDatabase{db: db}, nil
}

// OpenConnection opens and configures a SQLite connection pool.
func OpenConnection(path string) (*sql.DB, error) {
	// Connection parameters apply to every pooled connection, unlike a one-off PRAGMA.
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Every connection to :memory: opens its own empty database.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return db, nil
}

// View runs fn in a transaction that is always rolled back.
func (s *SQLiteDatabase) View(ctx context.Context, fn func(ib.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	return fn(&sqliteTx{ctx: ctx, tx: tx})
}

// Update runs fn in a transaction and commits it if fn succeeds.
func (s *SQLiteDatabase) Update(ctx context.Context, fn func(ib.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&sqliteTx{ctx: ctx, tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Migrate applies pending schema migrations.
func (s *SQLiteDatabase) Migrate() error {
	return migrations.MigrateUp(s.db)
}

// CheckMigrations verifies the database schema is up-to-date.
func (s *SQLiteDatabase) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db)
}

// BackupTo writes a consistent copy of the database to destPath using VACUUM INTO.
// SQLite refuses to overwrite an existing non-empty file.
func (s *SQLiteDatabase) BackupTo(ctx context.Context, destPath string) error {
	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// sqliteTx implements ib.Tx on top of a *sql.Tx.
type sqliteTx struct {
	ctx context.Context
	tx  *sql.Tx
}

func (t *sqliteTx) exec(b sq.Sqlizer) error {
	query, args, err := b.ToSql()
	if err != nil {
		return fmt.Errorf("building query: %w", err)
	}
	_, err = t.tx.ExecContext(t.ctx, query, args...)
	return err
}

func (t *sqliteTx) query(b sq.Sqlizer) (*sql.Rows, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}
	return t.tx.QueryContext(t.ctx, query, args...)
}

func (t *sqliteTx) queryRow(b sq.Sqlizer) (*sql.Row, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}
	return t.tx.QueryRowContext(t.ctx, query, args...), nil
}

func (t *sqliteTx) insert(b sq.InsertBuilder) (int64, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return 0, fmt.Errorf("building query: %w", err)
	}
	res, err := t.tx.ExecContext(t.ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// Posts

var postColumns = []string{
	"id", "source", "directory", "hash", "width", "height", "owner", "parent_id",
	"rating", "sample", "sample_width", "sample_height", "score", "tags", "file_url",
	"created_at", "image", "extension", "blacklisted", "downloaded", "downloaded_at",
	"view_count", "selected",
}

// upsertSuffix turns an INSERT over columns into an upsert keyed on id.
func upsertSuffix(columns []string) string {
	sets := make([]string, 0, len(columns)-1)
	for _, c := range columns {
		if c != "id" {
			sets = append(sets, c+" = excluded."+c)
		}
	}
	return "ON CONFLICT(id) DO UPDATE SET " + strings.Join(sets, ", ")
}

func scanPost(rows *sql.Rows) (*model.Post, error) {
	var (
		p        model.Post
		parentID sql.NullInt64
		tags     string
	)
	err := rows.Scan(
		&p.ID, &p.Source, &p.Directory, &p.Hash, &p.Width, &p.Height, &p.Owner, &parentID,
		&p.Rating, &p.Sample, &p.SampleWidth, &p.SampleHeight, &p.Score, &tags, &p.FileURL,
		&p.CreatedAt, &p.Image, &p.Extension, &p.Blacklisted, &p.Downloaded, &p.DownloadedAt,
		&p.ViewCount, &p.Selected,
	)
	if err != nil {
		return nil, fmt.Errorf("scanning post: %w", err)
	}
	if parentID.Valid {
		id := parentID.Int64
		p.ParentID = &id
	}
	if p.Tags, err = unmarshalList[string](tags); err != nil {
		return nil, fmt.Errorf("decoding tags of post %d: %w", p.ID, err)
	}
	return &p, nil
}

func (t *sqliteTx) selectPosts(b sq.SelectBuilder) ([]*model.Post, error) {
	rows, err := t.query(b)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	posts := make([]*model.Post, 0)
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

func (t *sqliteTx) FindPost(id int64) (*model.Post, error) {
	posts, err := t.selectPosts(sq.Select(postColumns...).From("posts").Where(sq.Eq{"id": id}))
	if err != nil {
		return nil, fmt.Errorf("finding post: %w", err)
	}
	if len(posts) == 0 {
		return nil, nil
	}
	return posts[0], nil
}

func (t *sqliteTx) FindPosts(ids []int64) ([]*model.Post, error) {
	byID := make(map[int64]*model.Post, len(ids))
	for start := 0; start < len(ids); start += maxInParams {
		end := min(start+maxInParams, len(ids))
		posts, err := t.selectPosts(
			sq.Select(postColumns...).From("posts").Where(sq.Eq{"id": ids[start:end]}),
		)
		if err != nil {
			return nil, fmt.Errorf("finding posts: %w", err)
		}
		for _, p := range posts {
			byID[p.ID] = p
		}
	}

	result := make([]*model.Post, 0, len(byID))
	for _, id := range ids {
		if p, ok := byID[id]; ok {
			result = append(result, p)
		}
	}
	return result, nil
}

func postQueryWhere(b sq.SelectBuilder, q ib.PostQuery) sq.SelectBuilder {
	if q.Downloaded {
		b = b.Where(sq.Eq{"downloaded": true})
	}
	if q.Blacklisted {
		b = b.Where(sq.Eq{"blacklisted": true})
	}
	if q.Rating != "" && q.Rating != model.RatingAny {
		b = b.Where(sq.Eq{"rating": string(q.Rating)})
	}
	if q.Viewed {
		b = b.Where(sq.Gt{"view_count": 0})
	}
	return b
}

func (t *sqliteTx) ListPosts(q ib.PostQuery) ([]*model.Post, error) {
	b := postQueryWhere(sq.Select(postColumns...).From("posts"), q)
	if q.Viewed {
		b = b.OrderBy("view_count DESC", "id ASC")
	} else {
		b = b.OrderBy("id ASC")
	}
	if q.Limit > 0 {
		b = b.Limit(uint64(q.Limit))
	}

	posts, err := t.selectPosts(b)
	if err != nil {
		return nil, fmt.Errorf("listing posts: %w", err)
	}
	return posts, nil
}

func (t *sqliteTx) CountPosts(q ib.PostQuery) (int, error) {
	row, err := t.queryRow(postQueryWhere(sq.Select("COUNT(*)").From("posts"), q))
	if err != nil {
		return 0, err
	}
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("counting posts: %w", err)
	}
	if q.Limit > 0 && n > q.Limit {
		n = q.Limit
	}
	return n, nil
}

func (t *sqliteTx) FindPostIDsByTag(tag string) ([]int64, error) {
	rows, err := t.query(
		sq.Select("post_id").From("post_tags").Where(sq.Eq{"tag": tag}).OrderBy("post_id ASC"),
	)
	if err != nil {
		return nil, fmt.Errorf("finding posts by tag: %w", err)
	}
	defer rows.Close()

	ids := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning post id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (t *sqliteTx) PutPost(p *model.Post) error {
	tags, err := marshalList(p.Tags)
	if err != nil {
		return fmt.Errorf("encoding tags: %w", err)
	}
	var parentID sql.NullInt64
	if p.ParentID != nil {
		parentID = sql.NullInt64{Int64: *p.ParentID, Valid: true}
	}

	err = t.exec(sq.Insert("posts").
		Columns(postColumns...).
		Values(
			p.ID, p.Source, p.Directory, p.Hash, p.Width, p.Height, p.Owner, parentID,
			string(p.Rating), p.Sample, p.SampleWidth, p.SampleHeight, p.Score, tags, p.FileURL,
			p.CreatedAt, p.Image, p.Extension, p.Blacklisted, p.Downloaded, p.DownloadedAt,
			p.ViewCount, p.Selected,
		).
		Suffix(upsertSuffix(postColumns)))
	if err != nil {
		return fmt.Errorf("upserting post: %w", err)
	}

	if err := t.exec(sq.Delete("post_tags").Where(sq.Eq{"post_id": p.ID})); err != nil {
		return fmt.Errorf("clearing tag index: %w", err)
	}
	if len(p.Tags) == 0 {
		return nil
	}

	ins := sq.Insert("post_tags").Columns("post_id", "tag")
	seen := make(map[string]bool, len(p.Tags))
	for _, tag := range p.Tags {
		if seen[tag] {
			continue
		}
		seen[tag] = true
		ins = ins.Values(p.ID, tag)
	}
	if err := t.exec(ins); err != nil {
		return fmt.Errorf("indexing tags: %w", err)
	}
	return nil
}

func (t *sqliteTx) ClearPosts() error {
	if err := t.exec(sq.Delete("post_tags")); err != nil {
		return fmt.Errorf("clearing tag index: %w", err)
	}
	if err := t.exec(sq.Delete("posts")); err != nil {
		return fmt.Errorf("clearing posts: %w", err)
	}
	return nil
}

// Favorites

var nodeColumns = []string{"id", "title", "parent_key", "child_keys", "post_ids"}

func (t *sqliteTx) selectNodes(b sq.SelectBuilder) ([]*model.FavoritesNode, error) {
	rows, err := t.query(b)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	nodes := make([]*model.FavoritesNode, 0)
	for rows.Next() {
		var (
			n                model.FavoritesNode
			childKeys, posts string
		)
		if err := rows.Scan(&n.Key, &n.Title, &n.ParentKey, &childKeys, &posts); err != nil {
			return nil, fmt.Errorf("scanning node: %w", err)
		}
		if n.ChildKeys, err = unmarshalList[int64](childKeys); err != nil {
			return nil, fmt.Errorf("decoding child keys of node %d: %w", n.Key, err)
		}
		if n.PostIDs, err = unmarshalList[int64](posts); err != nil {
			return nil, fmt.Errorf("decoding post ids of node %d: %w", n.Key, err)
		}
		nodes = append(nodes, &n)
	}
	return nodes, rows.Err()
}

func (t *sqliteTx) FindNode(key int64) (*model.FavoritesNode, error) {
	nodes, err := t.selectNodes(sq.Select(nodeColumns...).From("favorites").Where(sq.Eq{"id": key}))
	if err != nil {
		return nil, fmt.Errorf("finding node: %w", err)
	}
	if len(nodes) == 0 {
		return nil, nil
	}
	return nodes[0], nil
}

func (t *sqliteTx) ListNodes() ([]*model.FavoritesNode, error) {
	nodes, err := t.selectNodes(sq.Select(nodeColumns...).From("favorites").OrderBy("id ASC"))
	if err != nil {
		return nil, fmt.Errorf("listing nodes: %w", err)
	}
	return nodes, nil
}

func nodeValues(n *model.FavoritesNode) (childKeys, postIDs string, err error) {
	if childKeys, err = marshalList(n.ChildKeys); err != nil {
		return "", "", fmt.Errorf("encoding child keys: %w", err)
	}
	if postIDs, err = marshalList(n.PostIDs); err != nil {
		return "", "", fmt.Errorf("encoding post ids: %w", err)
	}
	return childKeys, postIDs, nil
}

func (t *sqliteTx) InsertNode(n *model.FavoritesNode) (int64, error) {
	childKeys, postIDs, err := nodeValues(n)
	if err != nil {
		return 0, err
	}
	key, err := t.insert(sq.Insert("favorites").
		Columns("title", "parent_key", "child_keys", "post_ids").
		Values(n.Title, n.ParentKey, childKeys, postIDs))
	if err != nil {
		return 0, fmt.Errorf("inserting node: %w", err)
	}
	n.Key = key
	return key, nil
}

func (t *sqliteTx) PutNode(n *model.FavoritesNode) error {
	childKeys, postIDs, err := nodeValues(n)
	if err != nil {
		return err
	}
	err = t.exec(sq.Insert("favorites").
		Columns(nodeColumns...).
		Values(n.Key, n.Title, n.ParentKey, childKeys, postIDs).
		Suffix(upsertSuffix(nodeColumns)))
	if err != nil {
		return fmt.Errorf("upserting node: %w", err)
	}
	return nil
}

func (t *sqliteTx) DeleteNode(key int64) error {
	if err := t.exec(sq.Delete("favorites").Where(sq.Eq{"id": key})); err != nil {
		return fmt.Errorf("deleting node: %w", err)
	}
	return nil
}

func (t *sqliteTx) ClearNodes() error {
	if err := t.exec(sq.Delete("favorites")); err != nil {
		return fmt.Errorf("clearing nodes: %w", err)
	}
	return nil
}

// Saved searches

var savedSearchColumns = []string{"id", "tags", "excluded_tags", "rating", "previews"}

func (t *sqliteTx) selectSavedSearches(b sq.SelectBuilder) ([]*model.SavedSearch, error) {
	rows, err := t.query(b)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	searches := make([]*model.SavedSearch, 0)
	for rows.Next() {
		var (
			s                        model.SavedSearch
			tags, excluded, previews string
		)
		if err := rows.Scan(&s.ID, &tags, &excluded, &s.Rating, &previews); err != nil {
			return nil, fmt.Errorf("scanning saved search: %w", err)
		}
		if s.Tags, err = unmarshalList[string](tags); err != nil {
			return nil, fmt.Errorf("decoding tags of saved search %d: %w", s.ID, err)
		}
		if s.ExcludedTags, err = unmarshalList[string](excluded); err != nil {
			return nil, fmt.Errorf("decoding excluded tags of saved search %d: %w", s.ID, err)
		}
		if s.Previews, err = unmarshalList[model.PreviewImage](previews); err != nil {
			return nil, fmt.Errorf("decoding previews of saved search %d: %w", s.ID, err)
		}
		searches = append(searches, &s)
	}
	return searches, rows.Err()
}

func (t *sqliteTx) FindSavedSearch(id int64) (*model.SavedSearch, error) {
	searches, err := t.selectSavedSearches(
		sq.Select(savedSearchColumns...).From("saved_searches").Where(sq.Eq{"id": id}),
	)
	if err != nil {
		return nil, fmt.Errorf("finding saved search: %w", err)
	}
	if len(searches) == 0 {
		return nil, nil
	}
	return searches[0], nil
}

func (t *sqliteTx) ListSavedSearches() ([]*model.SavedSearch, error) {
	searches, err := t.selectSavedSearches(
		sq.Select(savedSearchColumns...).From("saved_searches").OrderBy("id ASC"),
	)
	if err != nil {
		return nil, fmt.Errorf("listing saved searches: %w", err)
	}
	return searches, nil
}

func savedSearchValues(s *model.SavedSearch) (tags, excluded, previews string, err error) {
	if tags, err = marshalList(s.Tags); err != nil {
		return "", "", "", fmt.Errorf("encoding tags: %w", err)
	}
	if excluded, err = marshalList(s.ExcludedTags); err != nil {
		return "", "", "", fmt.Errorf("encoding excluded tags: %w", err)
	}
	if previews, err = marshalList(s.Previews); err != nil {
		return "", "", "", fmt.Errorf("encoding previews: %w", err)
	}
	return tags, excluded, previews, nil
}

func (t *sqliteTx) InsertSavedSearch(s *model.SavedSearch) (int64, error) {
	tags, excluded, previews, err := savedSearchValues(s)
	if err != nil {
		return 0, err
	}
	id, err := t.insert(sq.Insert("saved_searches").
		Columns("tags", "excluded_tags", "rating", "previews").
		Values(tags, excluded, string(s.Rating), previews))
	if err != nil {
		return 0, fmt.Errorf("inserting saved search: %w", err)
	}
	s.ID = id
	return id, nil
}

func (t *sqliteTx) PutSavedSearch(s *model.SavedSearch) error {
	tags, excluded, previews, err := savedSearchValues(s)
	if err != nil {
		return err
	}
	err = t.exec(sq.Insert("saved_searches").
		Columns(savedSearchColumns...).
		Values(s.ID, tags, excluded, string(s.Rating), previews).
		Suffix(upsertSuffix(savedSearchColumns)))
	if err != nil {
		return fmt.Errorf("upserting saved search: %w", err)
	}
	return nil
}

func (t *sqliteTx) DeleteSavedSearch(id int64) error {
	if err := t.exec(sq.Delete("saved_searches").Where(sq.Eq{"id": id})); err != nil {
		return fmt.Errorf("deleting saved search: %w", err)
	}
	return nil
}

func (t *sqliteTx) ClearSavedSearches() error {
	if err := t.exec(sq.Delete("saved_searches")); err != nil {
		return fmt.Errorf("clearing saved searches: %w", err)
	}
	return nil
}

// Tasks

var taskColumns = []string{"id", "operation", "parameters", "started_at", "finished_at", "status"}

func finishedAt(task *model.Task) sql.NullTime {
	if task.FinishedAt == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *task.FinishedAt, Valid: true}
}

func (t *sqliteTx) InsertTask(task *model.Task) (int64, error) {
	id, err := t.insert(sq.Insert("tasks").
		Columns("operation", "parameters", "started_at", "finished_at", "status").
		Values(task.Operation, task.Parameters, task.StartedAt, finishedAt(task), task.Status))
	if err != nil {
		return 0, fmt.Errorf("inserting task: %w", err)
	}
	task.ID = id
	return id, nil
}

func (t *sqliteTx) PutTask(task *model.Task) error {
	err := t.exec(sq.Insert("tasks").
		Columns(taskColumns...).
		Values(task.ID, task.Operation, task.Parameters, task.StartedAt, finishedAt(task), task.Status).
		Suffix(upsertSuffix(taskColumns)))
	if err != nil {
		return fmt.Errorf("upserting task: %w", err)
	}
	return nil
}

func (t *sqliteTx) ListTasks(limit int) ([]*model.Task, error) {
	b := sq.Select(taskColumns...).From("tasks").OrderBy("id DESC")
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	rows, err := t.query(b)
	if err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	defer rows.Close()

	tasks := make([]*model.Task, 0)
	for rows.Next() {
		var (
			task     model.Task
			finished sql.NullTime
		)
		if err := rows.Scan(&task.ID, &task.Operation, &task.Parameters, &task.StartedAt, &finished, &task.Status); err != nil {
			return nil, fmt.Errorf("scanning task: %w", err)
		}
		if finished.Valid {
			at := finished.Time
			task.FinishedAt = &at
		}
		tasks = append(tasks, &task)
	}
	return tasks, rows.Err()
}

func (t *sqliteTx) ClearTasks() error {
	if err := t.exec(sq.Delete("tasks")); err != nil {
		return fmt.Errorf("clearing tasks: %w", err)
	}
	return nil
}

// marshalList encodes a list column. A nil list is stored as [].
func marshalList[T any](v []T) (string, error) {
	if v == nil {
		v = []T{}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// unmarshalList decodes a list column, never returning a nil slice.
func unmarshalList[T any](s string) ([]T, error) {
	var v []T
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, err
	}
	if v == nil {
		v = []T{}
	}
	return v, nil
}

// Compile-time check that SQLiteDatabase implements ib.Database
var _ ib.Database = (*SQLiteDatabase)(nil)
