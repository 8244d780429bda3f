package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"ib-go/internal/config"
	"ib-go/internal/database"
	"ib-go/internal/encryption"
	"ib-go/internal/fs"
	"ib-go/internal/ib"
	"ib-go/internal/model"
	"ib-go/internal/vault"
)

// IBApp is the application layer between the CLI and the ib stores.
// It constructs all dependencies from config, exposes high-level operations
// that accept raw CLI values, and manages the DB lifecycle on Close.
type IBApp struct {
	cfg       *config.Config
	db        ib.Database
	files     *fs.OSImageFiles
	vault     ib.Vault
	encryptor ib.Encryptor
	logger    ib.Logger

	posts     *ib.PostStore
	favorites *ib.FavoritesTree
	searches  *ib.SavedSearches
	snapshots *ib.Snapshotter
	tasks     *ib.TaskLog

	op      *Operation
	logFile *os.File
}

// Options tunes NewIBApp beyond what the config file says.
type Options struct {
	// Stderr receives warnings and errors in addition to the log file. Nil disables it.
	Stderr io.Writer

	// Migrate applies pending schema migrations instead of failing on them.
	Migrate bool
}

// NewIBApp creates a fully wired IBApp from the given config.
// operation identifies the CLI command being run (e.g. "post import", "fav add")
// and parameters its arguments. The caller must call Close when done.
func NewIBApp(ctx context.Context, cfg *config.Config, operation, parameters string, opts Options) (*IBApp, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	v, err := vault.NewVaultFromConfig(cfg.Vault, cfg.InstanceID)
	if err != nil {
		return nil, fmt.Errorf("creating vault: %w", err)
	}

	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}

	db, err := database.NewDatabaseFromConfig(cfg.Database, cfg.InstanceID)
	if err != nil {
		return nil, fmt.Errorf("creating database: %w", err)
	}

	// An in-memory database starts empty on every run and always needs its schema.
	if opts.Migrate || cfg.Database.Type == "memory" {
		err = db.Migrate()
	} else {
		err = db.CheckMigrations()
	}
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("database schema out of date: %w", err)
	}

	opID := time.Now().UTC().Format("20060102T150405Z")
	slogger, logFile, err := newLogger(cfg.LogDir, opID, opts.Stderr)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: slogger}

	files := fs.NewOSImageFiles(cfg.Files.BasePath)
	clock := ib.RealClock{}
	posts := ib.NewPostStore(db, files, logger, clock)

	a := &IBApp{
		cfg:       cfg,
		db:        db,
		files:     files,
		vault:     v,
		encryptor: enc,
		logger:    logger,
		posts:     posts,
		favorites: ib.NewFavoritesTree(db, logger),
		searches:  ib.NewSavedSearches(db, posts, logger),
		snapshots: ib.NewSnapshotter(db, v, enc, logger, clock, ib.UUIDGenerator{}, cfg.InstanceID),
		tasks:     ib.NewTaskLog(db, clock),
		op:        NewOperation(operation, parameters),
		logFile:   logFile,
	}

	if err := a.favorites.EnsureRoot(ctx); err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("preparing favorites: %w", err)
	}
	return a, nil
}

// persistOperation records the operation as a running task.
// This should only be called for DB-mutating commands.
func (a *IBApp) persistOperation(ctx context.Context) error {
	if a.op.Persisted() {
		return nil
	}
	task, err := a.tasks.Start(ctx, a.op.Name, a.op.Parameters)
	if err != nil {
		return fmt.Errorf("recording operation: %w", err)
	}
	a.op.task = task
	return nil
}

// mutate records the operation and then runs fn, marking the operation failed if fn fails.
func (a *IBApp) mutate(ctx context.Context, fn func() error) error {
	if err := a.persistOperation(ctx); err != nil {
		return err
	}
	return a.op.Fail(fn())
}

// FilterOptions returns the query defaults from the config.
func (a *IBApp) FilterOptions() ib.FilterOptions {
	opts := ib.DefaultFilterOptions()
	q := a.cfg.Query
	if q.Limit > 0 {
		opts.Limit = q.Limit
	}
	if q.Sort != "" {
		opts.Sort = ib.SortKey(q.Sort)
	}
	if q.SortOrder != "" {
		opts.SortOrder = ib.SortOrder(q.SortOrder)
	}
	opts.ShowFavorites = q.ShowFavorites
	return opts
}

// ImportPosts reads a JSON array of posts as returned by the remote API and
// merges them into the library. Returns the number of posts stored.
func (a *IBApp) ImportPosts(ctx context.Context, r io.Reader) (int, error) {
	var incoming []*model.Post
	if err := json.NewDecoder(r).Decode(&incoming); err != nil {
		return 0, fmt.Errorf("decoding posts: %w", err)
	}

	var stored []*model.Post
	err := a.mutate(ctx, func() error {
		var err error
		stored, err = a.posts.BulkUpdateFromAPI(ctx, incoming)
		return err
	})
	if err != nil {
		return 0, err
	}
	return len(stored), nil
}

// ListPosts runs the query pipeline over every post.
func (a *IBApp) ListPosts(ctx context.Context, opts ib.FilterOptions) ([]*model.Post, error) {
	return a.posts.GetAllWithOptions(ctx, opts)
}

// SearchPosts returns posts carrying every tag in tags and none of excluded.
func (a *IBApp) SearchPosts(ctx context.Context, opts ib.FilterOptions, tags, excluded []string) ([]*model.Post, error) {
	return a.posts.GetForTagsWithOptions(ctx, opts, tags, excluded)
}

// GetPost returns one post together with the on-disk locations of its files.
func (a *IBApp) GetPost(ctx context.Context, id int64) (*model.Post, ib.ImagePaths, error) {
	post, err := a.posts.Get(ctx, id)
	if err != nil {
		return nil, ib.ImagePaths{}, err
	}
	return post, a.files.Paths(post), nil
}

// MarkDownloaded records that a post's files are on disk. It fails if the image is missing.
func (a *IBApp) MarkDownloaded(ctx context.Context, id int64) (*model.Post, error) {
	var post *model.Post
	err := a.mutate(ctx, func() error {
		existing, err := a.posts.Get(ctx, id)
		if err != nil {
			return err
		}
		if image, _ := a.files.Exists(existing); !image {
			return fmt.Errorf("image of post %d not found at %s", id, a.files.Paths(existing).Image)
		}
		post, err = a.posts.MarkDownloaded(ctx, id)
		return err
	})
	return post, err
}

// MarkBlacklisted hides a post from the library.
func (a *IBApp) MarkBlacklisted(ctx context.Context, id int64) (*model.Post, error) {
	var post *model.Post
	err := a.mutate(ctx, func() error {
		var err error
		post, err = a.posts.MarkBlacklisted(ctx, id)
		return err
	})
	return post, err
}

// ViewPost counts a view of a post.
func (a *IBApp) ViewPost(ctx context.Context, id int64) (*model.Post, error) {
	var post *model.Post
	err := a.mutate(ctx, func() error {
		var err error
		post, err = a.posts.IncrementViewCount(ctx, id)
		return err
	})
	return post, err
}

// ForgetPost deletes a post's files and clears its downloaded state.
func (a *IBApp) ForgetPost(ctx context.Context, id int64) error {
	return a.mutate(ctx, func() error {
		return a.posts.ForgetImage(ctx, id)
	})
}

// Stats summarizes the library.
type Stats struct {
	Total       int
	Downloaded  int
	Blacklisted int
	ByRating    map[model.Rating]int
}

// GetStats counts posts by local state and rating.
func (a *IBApp) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{ByRating: make(map[model.Rating]int)}
	var err error

	if stats.Total, err = a.posts.CountForRating(ctx, model.RatingAny); err != nil {
		return nil, err
	}
	if stats.Downloaded, err = a.posts.DownloadedCount(ctx); err != nil {
		return nil, err
	}
	if stats.Blacklisted, err = a.posts.BlacklistedCount(ctx); err != nil {
		return nil, err
	}
	for _, r := range []model.Rating{model.RatingSafe, model.RatingQuestionable, model.RatingExplicit} {
		n, err := a.posts.CountForRating(ctx, r)
		if err != nil {
			return nil, err
		}
		stats.ByRating[r] = n
	}
	return stats, nil
}

// TopPosts returns the most viewed posts.
func (a *IBApp) TopPosts(ctx context.Context, limit int) ([]*model.Post, error) {
	return a.posts.GetMostViewed(ctx, limit)
}

// FavoritesTree returns the whole favorites tree.
func (a *IBApp) FavoritesTree(ctx context.Context) (*model.TreeView, error) {
	return a.favorites.GetCompleteTree(ctx)
}

// AddFolder creates a favorites folder under parent and returns its key.
func (a *IBApp) AddFolder(ctx context.Context, parent int64, title string) (int64, error) {
	var key int64
	err := a.mutate(ctx, func() error {
		var err error
		key, err = a.favorites.AddChild(ctx, parent, title)
		return err
	})
	return key, err
}

// RenameFolder changes a folder's title.
func (a *IBApp) RenameFolder(ctx context.Context, key int64, title string) error {
	return a.mutate(ctx, func() error {
		return a.favorites.ChangeTitle(ctx, key, title)
	})
}

// DeleteFolder removes a folder and everything below it.
func (a *IBApp) DeleteFolder(ctx context.Context, key int64) error {
	return a.mutate(ctx, func() error {
		return a.favorites.DeleteNodeAndChildren(ctx, key)
	})
}

// AddFavorites puts posts into a folder. A single post that is already there is an error;
// several posts are added skipping the ones already present.
func (a *IBApp) AddFavorites(ctx context.Context, key int64, postIDs []int64) error {
	return a.mutate(ctx, func() error {
		if len(postIDs) == 1 {
			return a.favorites.AddPostToNode(ctx, key, postIDs[0])
		}
		return a.favorites.AddPostsToNode(ctx, key, postIDs)
	})
}

// RemoveFavorites takes posts out of a folder.
func (a *IBApp) RemoveFavorites(ctx context.Context, key int64, postIDs []int64) error {
	return a.mutate(ctx, func() error {
		return a.favorites.RemovePostsFromNode(ctx, key, postIDs)
	})
}

// FavoriteTags counts the tags of every favorited post.
func (a *IBApp) FavoriteTags(ctx context.Context) (map[string]int, error) {
	return a.favorites.GetAllFavoriteTagsWithCounts(ctx)
}

// FavoriteIDs returns every favorited post ID.
func (a *IBApp) FavoriteIDs(ctx context.Context) ([]int64, error) {
	return a.favorites.GetAllPostIDs(ctx)
}

// SaveSearch stores a tag query, or returns the existing one with the same tag sets.
func (a *IBApp) SaveSearch(ctx context.Context, tags, excluded []string, rating model.Rating) (*model.SavedSearch, error) {
	var search *model.SavedSearch
	err := a.mutate(ctx, func() error {
		var err error
		search, err = a.searches.Add(ctx, tags, excluded, rating)
		return err
	})
	return search, err
}

// ListSearches returns every saved search.
func (a *IBApp) ListSearches(ctx context.Context) ([]*model.SavedSearch, error) {
	return a.searches.List(ctx)
}

// RunSearch executes a saved search.
func (a *IBApp) RunSearch(ctx context.Context, id int64, opts ib.FilterOptions) ([]*model.Post, error) {
	return a.searches.Run(ctx, id, opts)
}

// DeleteSearch removes a saved search.
func (a *IBApp) DeleteSearch(ctx context.Context, id int64) error {
	return a.mutate(ctx, func() error {
		return a.searches.Delete(ctx, id)
	})
}

// EncryptionConfigured reports whether snapshot keys exist.
func (a *IBApp) EncryptionConfigured() bool {
	return a.encryptor.IsConfigured()
}

// SetupEncryption creates the snapshot key pair protected by passphrase and checks
// that the vault is reachable.
func (a *IBApp) SetupEncryption(passphrase string) error {
	if err := a.encryptor.Setup(passphrase); err != nil {
		return fmt.Errorf("setting up encryption: %w", err)
	}
	if err := a.vault.ValidateSetup(); err != nil {
		return fmt.Errorf("validating vault: %w", err)
	}
	return nil
}

// PublicKey returns the recipient snapshots are encrypted to, or "" when the
// configured encryptor has no public key.
func (a *IBApp) PublicKey() (string, error) {
	pk, ok := a.encryptor.(interface{ PublicKey() (string, error) })
	if !ok {
		return "", nil
	}
	return pk.PublicKey()
}

// BackupDatabase writes an unencrypted copy of the database file to destPath,
// which must not exist yet. It reads only and records no operation.
func (a *IBApp) BackupDatabase(ctx context.Context, destPath string) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0700); err != nil {
		return fmt.Errorf("creating backup directory: %w", err)
	}
	if err := a.db.BackupTo(ctx, destPath); err != nil {
		return err
	}
	a.logger.Info("database copied", "dest", destPath)
	return nil
}

// Backup stores an encrypted snapshot of the whole library in the vault.
func (a *IBApp) Backup(ctx context.Context) (string, error) {
	if !a.encryptor.IsConfigured() {
		return "", fmt.Errorf("encryption keys not found: run 'ib snapshot init' first")
	}
	var name string
	err := a.mutate(ctx, func() error {
		var err error
		name, err = a.snapshots.Backup(ctx)
		return err
	})
	return name, err
}

// Restore replaces the library with a snapshot from the vault.
// The operation is recorded after the import so the restored history keeps it.
func (a *IBApp) Restore(ctx context.Context, name, passphrase string) error {
	dc, err := a.encryptor.Unlock(passphrase)
	if err != nil {
		return fmt.Errorf("unlocking private key: %w", err)
	}

	restoreErr := a.op.Fail(a.snapshots.Restore(ctx, name, dc))
	if err := a.persistOperation(ctx); err != nil && restoreErr == nil {
		return err
	}
	return restoreErr
}

// ListBackups returns the names of the snapshots in the vault, oldest first.
func (a *IBApp) ListBackups() ([]string, error) {
	return a.snapshots.ListBackups()
}

// GetHistory returns the most recent operations.
func (a *IBApp) GetHistory(ctx context.Context, limit int) ([]*model.Task, error) {
	return a.tasks.List(ctx, limit)
}

// Close finalizes the operation and closes all resources.
// A recorded operation is stamped with its final status before the database closes.
func (a *IBApp) Close(ctx context.Context) error {
	var firstErr error

	if a.op.Persisted() {
		if err := a.tasks.Finish(ctx, a.op.task, a.op.Status); err != nil {
			firstErr = fmt.Errorf("finishing operation: %w", err)
		}
	}

	if err := a.db.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("closing database: %w", err)
	}

	if a.logFile != nil {
		a.logFile.Close()
	}

	return firstErr
}
