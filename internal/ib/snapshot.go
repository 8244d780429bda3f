package ib

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ulikunitz/xz"

	"ib-go/internal/model"
)

// SnapshotVersion is the format version written by Export.
const SnapshotVersion = 1

// Snapshot is a whole-database copy: posts, the favorites tree, saved searches and tasks.
type Snapshot struct {
	Version       int                    `json:"version"`
	InstanceID    string                 `json:"instance_id"`
	CreatedAt     time.Time              `json:"created_at"`
	Posts         []*model.Post          `json:"posts"`
	Favorites     []*model.FavoritesNode `json:"favorites"`
	SavedSearches []*model.SavedSearch   `json:"saved_searches"`
	Tasks         []*model.Task          `json:"tasks"`
}

// ErrInvalidSnapshot is matched by errors from Import for malformed snapshots.
var ErrInvalidSnapshot = errors.New("invalid snapshot")

// validate rejects snapshots Import cannot apply without writing a partial library.
func (snap *Snapshot) validate() error {
	if snap == nil {
		return fmt.Errorf("%w: no snapshot", ErrInvalidSnapshot)
	}
	if snap.Version != SnapshotVersion {
		return fmt.Errorf("%w: unsupported version %d (want %d)", ErrInvalidSnapshot, snap.Version, SnapshotVersion)
	}
	for i, p := range snap.Posts {
		if p == nil {
			return fmt.Errorf("%w: post entry %d is null", ErrInvalidSnapshot, i)
		}
	}
	for i, n := range snap.Favorites {
		if n == nil {
			return fmt.Errorf("%w: favorites entry %d is null", ErrInvalidSnapshot, i)
		}
	}
	for i, ss := range snap.SavedSearches {
		if ss == nil {
			return fmt.Errorf("%w: saved search entry %d is null", ErrInvalidSnapshot, i)
		}
	}
	for i, t := range snap.Tasks {
		if t == nil {
			return fmt.Errorf("%w: task entry %d is null", ErrInvalidSnapshot, i)
		}
	}
	return nil
}

// Snapshotter exports and imports whole-database snapshots and keeps encrypted,
// compressed copies of them in a vault.
type Snapshotter struct {
	db         Database
	vault      Vault
	encryptor  Encryptor
	logger     Logger
	clock      Clock
	idgen      IDGenerator
	instanceID string
}

// NewSnapshotter creates a Snapshotter. vault and encryptor may be nil when only
// Export and Import are used.
func NewSnapshotter(db Database, vault Vault, encryptor Encryptor, logger Logger, clock Clock, idgen IDGenerator, instanceID string) *Snapshotter {
	return &Snapshotter{
		db:         db,
		vault:      vault,
		encryptor:  encryptor,
		logger:     logger,
		clock:      clock,
		idgen:      idgen,
		instanceID: instanceID,
	}
}

// Export reads every table in one transaction.
func (s *Snapshotter) Export(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{
		Version:    SnapshotVersion,
		InstanceID: s.instanceID,
		CreatedAt:  s.clock.Now().UTC(),
	}
	err := s.db.View(ctx, func(tx Tx) error {
		var err error
		if snap.Posts, err = tx.ListPosts(PostQuery{}); err != nil {
			return fmt.Errorf("exporting posts: %w", err)
		}
		if snap.Favorites, err = tx.ListNodes(); err != nil {
			return fmt.Errorf("exporting favorites: %w", err)
		}
		if snap.SavedSearches, err = tx.ListSavedSearches(); err != nil {
			return fmt.Errorf("exporting saved searches: %w", err)
		}
		if snap.Tasks, err = tx.ListTasks(0); err != nil {
			return fmt.Errorf("exporting tasks: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// Import replaces the contents of every table with snap in one transaction.
// The favorites root is re-created if the snapshot lacks one.
func (s *Snapshotter) Import(ctx context.Context, snap *Snapshot) error {
	if err := snap.validate(); err != nil {
		return err
	}

	err := s.db.Update(ctx, func(tx Tx) error {
		if err := tx.ClearPosts(); err != nil {
			return fmt.Errorf("clearing posts: %w", err)
		}
		if err := tx.ClearNodes(); err != nil {
			return fmt.Errorf("clearing favorites: %w", err)
		}
		if err := tx.ClearSavedSearches(); err != nil {
			return fmt.Errorf("clearing saved searches: %w", err)
		}
		if err := tx.ClearTasks(); err != nil {
			return fmt.Errorf("clearing tasks: %w", err)
		}

		for _, p := range snap.Posts {
			p.Selected = false
			if err := tx.PutPost(p); err != nil {
				return fmt.Errorf("importing post %d: %w", p.ID, err)
			}
		}
		for _, n := range snap.Favorites {
			if err := tx.PutNode(n); err != nil {
				return fmt.Errorf("importing favorites node %d: %w", n.Key, err)
			}
		}
		for _, ss := range snap.SavedSearches {
			if err := tx.PutSavedSearch(ss); err != nil {
				return fmt.Errorf("importing saved search %d: %w", ss.ID, err)
			}
		}
		for _, t := range snap.Tasks {
			if err := tx.PutTask(t); err != nil {
				return fmt.Errorf("importing task %d: %w", t.ID, err)
			}
		}
		return ensureRoot(tx, s.logger)
	})
	if err != nil {
		return err
	}

	s.logger.Info("snapshot imported",
		"posts", len(snap.Posts),
		"favorites", len(snap.Favorites),
		"saved_searches", len(snap.SavedSearches),
	)
	return nil
}

// WriteSnapshot writes snap as xz-compressed JSON.
func WriteSnapshot(w io.Writer, snap *Snapshot) error {
	xw, err := xz.NewWriter(w)
	if err != nil {
		return fmt.Errorf("creating xz writer: %w", err)
	}
	if err := json.NewEncoder(xw).Encode(snap); err != nil {
		xw.Close()
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	if err := xw.Close(); err != nil {
		return fmt.Errorf("finalizing compression: %w", err)
	}
	return nil
}

// ReadSnapshot reads a snapshot written by WriteSnapshot.
func ReadSnapshot(r io.Reader) (*Snapshot, error) {
	xr, err := xz.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("creating xz reader: %w", err)
	}
	var snap Snapshot
	if err := json.NewDecoder(xr).Decode(&snap); err != nil {
		return nil, fmt.Errorf("decoding snapshot: %w", err)
	}
	return &snap, nil
}

// Backup exports the database and stores it, compressed and encrypted, in the vault.
// It returns the name the snapshot was stored under.
func (s *Snapshotter) Backup(ctx context.Context) (string, error) {
	if s.vault == nil || s.encryptor == nil {
		return "", fmt.Errorf("snapshot backup requires a vault and an encryptor")
	}

	snap, err := s.Export(ctx)
	if err != nil {
		return "", err
	}

	var plain bytes.Buffer
	if err := WriteSnapshot(&plain, snap); err != nil {
		return "", err
	}

	var sealed bytes.Buffer
	if err := s.encryptor.Encrypt(&plain, &sealed); err != nil {
		return "", fmt.Errorf("encrypting snapshot: %w", err)
	}

	name := fmt.Sprintf("%s-%s.ibsnap", snap.CreatedAt.Format("20060102T150405Z"), s.idgen.New())
	size := int64(sealed.Len())
	if err := s.vault.PutSnapshot(name, &sealed, size); err != nil {
		return "", fmt.Errorf("storing snapshot: %w", err)
	}

	s.logger.Info("snapshot stored", "name", name, "size", size, "posts", len(snap.Posts))
	return name, nil
}

// Restore fetches a snapshot from the vault, decrypts it with dc and imports it.
func (s *Snapshotter) Restore(ctx context.Context, name string, dc DecryptionContext) error {
	if s.vault == nil {
		return fmt.Errorf("snapshot restore requires a vault")
	}

	var sealed bytes.Buffer
	if err := s.vault.GetSnapshot(name, &sealed); err != nil {
		return fmt.Errorf("fetching snapshot %s: %w", name, err)
	}

	var plain bytes.Buffer
	if err := dc.Decrypt(&sealed, &plain); err != nil {
		return fmt.Errorf("decrypting snapshot %s: %w", name, err)
	}

	snap, err := ReadSnapshot(&plain)
	if err != nil {
		return fmt.Errorf("reading snapshot %s: %w", name, err)
	}
	return s.Import(ctx, snap)
}

// ListBackups returns the names of the snapshots stored in the vault.
func (s *Snapshotter) ListBackups() ([]string, error) {
	if s.vault == nil {
		return nil, fmt.Errorf("listing snapshots requires a vault")
	}
	names, err := s.vault.ListSnapshots()
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}
	return names, nil
}
