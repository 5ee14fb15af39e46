// Package nodestore persists storage nodes in a bbolt database.
//
// Every write goes through a bbolt read-write transaction, and bbolt allows
// a single writer at a time. Put additionally checks the version stamp the
// caller read, so a health snapshot computed from a stale copy cannot
// overwrite a concurrent quota update. Mutate performs read-modify-write
// inside one transaction and never conflicts.
package nodestore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"nodebroker/pkg/models"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

const (
	nodesBucket     = "nodes"
	defaultFileMode = 0o600
	openTimeout     = time.Second
)

// Store is the bbolt-backed node store.
type Store struct {
	db *bbolt.DB
}

// Open opens (or creates) the node database at path.
func Open(path string) (*Store, error) {
	database, err := bbolt.Open(path, os.FileMode(defaultFileMode), &bbolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open database: %w", ErrDatabaseError, err)
	}

	err = database.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(nodesBucket))
		return err
	})
	if err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("%w: failed to create bucket: %w", ErrDatabaseError, err)
	}

	return &Store{db: database}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Create stores a new node. An empty id is replaced with a generated one.
// Names are unique per owner; the check and the insert share one transaction.
func (s *Store) Create(ctx context.Context, node *models.Node) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if node.ID == "" {
		node.ID = uuid.NewString()
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(nodesBucket))
		if bucket.Get([]byte(node.ID)) != nil {
			return ErrNodeExists
		}
		if err := checkNameFree(bucket, node.UserID, node.Name); err != nil {
			return err
		}

		node.Version = 1
		return putNode(bucket, node)
	})
}

// Get returns the node with the given id.
func (s *Store) Get(ctx context.Context, id string) (*models.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var node *models.Node
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		node, err = getNode(tx.Bucket([]byte(nodesBucket)), id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return node, nil
}

// Put replaces the node by id and returns the number of modified records.
// The node's Version must match the stored version; on success it is
// advanced in place.
func (s *Store) Put(ctx context.Context, node *models.Node) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(nodesBucket))
		stored, err := getNode(bucket, node.ID)
		if err != nil {
			return err
		}
		if stored.Version != node.Version {
			return fmt.Errorf("%w: node %s at version %d, write based on %d",
				ErrVersionConflict, node.ID, stored.Version, node.Version)
		}
		if err := checkAppendOnly(stored, node); err != nil {
			return err
		}

		next := node.Clone()
		next.Version = stored.Version + 1
		if err := putNode(bucket, next); err != nil {
			return err
		}
		node.Version = next.Version
		return nil
	})
	if err != nil {
		return 0, err
	}
	return 1, nil
}

// Mutate applies fn to the current node and stores the result atomically.
// fn runs inside the write transaction and must not block on I/O. If fn
// returns an error nothing is written.
func (s *Store) Mutate(ctx context.Context, id string, fn func(node *models.Node) error) (*models.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var updated *models.Node
	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(nodesBucket))
		stored, err := getNode(bucket, id)
		if err != nil {
			return err
		}

		working := stored.Clone()
		if err := fn(working); err != nil {
			return err
		}
		working.ID = stored.ID
		if err := checkAppendOnly(stored, working); err != nil {
			return err
		}

		working.Version = stored.Version + 1
		if err := putNode(bucket, working); err != nil {
			return err
		}
		updated = working
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Delete removes the node with the given id.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(nodesBucket))
		if bucket.Get([]byte(id)) == nil {
			return ErrNodeNotFound
		}
		if err := bucket.Delete([]byte(id)); err != nil {
			return fmt.Errorf("%w: %w", ErrDatabaseError, err)
		}
		return nil
	})
}

// ListByOwner returns the nodes owned by userID, ordered by name.
func (s *Store) ListByOwner(ctx context.Context, userID string) ([]*models.Node, error) {
	return s.list(ctx, func(node *models.Node) bool { return node.UserID == userID })
}

// ListAll returns every node, ordered by name.
func (s *Store) ListAll(ctx context.Context) ([]*models.Node, error) {
	return s.list(ctx, func(*models.Node) bool { return true })
}

func (s *Store) list(ctx context.Context, keep func(*models.Node) bool) ([]*models.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var nodes []*models.Node
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(nodesBucket)).ForEach(func(_, value []byte) error {
			var node models.Node
			if err := json.Unmarshal(value, &node); err != nil {
				return fmt.Errorf("%w: failed to decode node: %w", ErrDatabaseError, err)
			}
			if keep(&node) {
				nodes = append(nodes, &node)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].Name != nodes[j].Name {
			return nodes[i].Name < nodes[j].Name
		}
		return nodes[i].ID < nodes[j].ID
	})
	return nodes, nil
}

func getNode(bucket *bbolt.Bucket, id string) (*models.Node, error) {
	value := bucket.Get([]byte(id))
	if value == nil {
		return nil, ErrNodeNotFound
	}

	var node models.Node
	if err := json.Unmarshal(value, &node); err != nil {
		return nil, fmt.Errorf("%w: failed to decode node %s: %w", ErrDatabaseError, id, err)
	}
	return &node, nil
}

func checkNameFree(bucket *bbolt.Bucket, userID, name string) error {
	if name == "" {
		return nil
	}

	return bucket.ForEach(func(_, value []byte) error {
		var existing models.Node
		if err := json.Unmarshal(value, &existing); err != nil {
			return fmt.Errorf("%w: failed to decode node: %w", ErrDatabaseError, err)
		}
		if existing.UserID == userID && existing.Name == name {
			return ErrNodeNameTaken
		}
		return nil
	})
}

func putNode(bucket *bbolt.Bucket, node *models.Node) error {
	value, err := json.Marshal(node)
	if err != nil {
		return fmt.Errorf("%w: failed to encode node: %w", ErrDatabaseError, err)
	}
	if err := bucket.Put([]byte(node.ID), value); err != nil {
		return fmt.Errorf("%w: %w", ErrDatabaseError, err)
	}
	return nil
}

func checkAppendOnly(stored, next *models.Node) error {
	if len(next.Uptime) < len(stored.Uptime) || len(next.Downtime) < len(stored.Downtime) {
		return fmt.Errorf("%w: node %s", ErrHistoryTruncated, stored.ID)
	}
	return nil
}
