// Package placement decides which node stores a file and keeps the file
// index and quota counters consistent with the remote node.
package placement

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"nodebroker/pkg/index"
	"nodebroker/pkg/log"
	"nodebroker/pkg/models"
	"nodebroker/pkg/nodeclient"
	"nodebroker/pkg/nodestore"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
)

const (
	defaultTransferTimeout = 2 * time.Minute
	defaultMimeType        = "application/octet-stream"
)

// NodeStore is the node persistence the orchestrator needs.
type NodeStore interface {
	Get(ctx context.Context, id string) (*models.Node, error)
	ListAll(ctx context.Context) ([]*models.Node, error)
	Mutate(ctx context.Context, id string, fn func(node *models.Node) error) (*models.Node, error)
}

// FileIndex stores file records and their shares.
type FileIndex interface {
	CreateFile(ctx context.Context, record *models.FileRecord) error
	GetFile(ctx context.Context, fileID string) (*models.FileRecord, error)
	DeleteFile(ctx context.Context, fileID string) error
	ListByOwner(ctx context.Context, userID string) ([]models.FileRecord, error)
	ListSharedWith(ctx context.Context, userID string) ([]models.FileRecord, error)
	SearchFiles(ctx context.Context, userID, query string) ([]models.FileRecord, error)
	RenameFile(ctx context.Context, fileID, filename string) error
	ShareFile(ctx context.Context, fileID, userID string) error
	RevokeShare(ctx context.Context, fileID, userID string) error
}

// UserStore holds user quota accounts. IncrementUsedStorage must be atomic.
type UserStore interface {
	GetUser(ctx context.Context, userID string) (*models.User, error)
	IncrementUsedStorage(ctx context.Context, userID string, delta int64) error
}

// Transfer moves objects to and from nodes.
type Transfer interface {
	Put(ctx context.Context, endpoint, token, objectID string, data []byte) error
	Get(ctx context.Context, endpoint, token, objectID string) ([]byte, error)
	Delete(ctx context.Context, endpoint, token, objectID string) error
}

// HealthChecker confirms a node is online before writes.
type HealthChecker interface {
	EnsureOnline(ctx context.Context, nodeID string) bool
}

// PayloadCipher encrypts file contents at rest on nodes.
type PayloadCipher interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(data []byte) ([]byte, error)
}

// Dependencies groups the orchestrator collaborators.
type Dependencies struct {
	Nodes    NodeStore
	Files    FileIndex
	Users    UserStore
	Transfer Transfer
	Health   HealthChecker
	Cipher   PayloadCipher
	Selector *Selector
}

// Orchestrator runs upload, read and delete against the selected node.
type Orchestrator struct {
	nodes           NodeStore
	files           FileIndex
	users           UserStore
	transfer        Transfer
	health          HealthChecker
	cipher          PayloadCipher
	selector        *Selector
	transferTimeout time.Duration
	now             func() time.Time
}

// NewOrchestrator creates an orchestrator. transferTimeout bounds each
// remote write; it applies even when the originating request is cancelled.
func NewOrchestrator(deps Dependencies, transferTimeout time.Duration) *Orchestrator {
	if transferTimeout <= 0 {
		transferTimeout = defaultTransferTimeout
	}
	if deps.Selector == nil {
		deps.Selector = NewSelector()
	}

	return &Orchestrator{
		nodes:           deps.Nodes,
		files:           deps.Files,
		users:           deps.Users,
		transfer:        deps.Transfer,
		health:          deps.Health,
		cipher:          deps.Cipher,
		selector:        deps.Selector,
		transferTimeout: transferTimeout,
		now:             time.Now,
	}
}

// Upload stores data on a randomly selected live node. Quota counters are
// only changed after the node confirmed the transfer. The node allocation
// is committed first and the user is charged last; if any step after the
// record was created fails, the remote object and the record are removed
// again and the upload fails.
func (o *Orchestrator) Upload(ctx context.Context, userID, filename string, data []byte) (models.OperationResult, error) {
	filename = strings.TrimSpace(filename)
	if filename == "" {
		return failed("filename is required"), ErrInvalidRequest
	}
	size := int64(len(data))

	user, err := o.users.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, index.ErrUserNotFound) {
			return failed("user not found"), ErrNotFound
		}
		return failed("failed to load user"), err
	}

	nodes, err := o.nodes.ListAll(ctx)
	if err != nil {
		return failed("failed to load nodes"), err
	}

	target := o.selector.Select(nodes)
	if target == nil {
		return failed("no available nodes"), ErrNodeUnavailable
	}
	if !o.health.EnsureOnline(ctx, target.ID) {
		return failed("node offline"), ErrNodeUnavailable
	}

	// Health checks may have changed the node; use the stored copy.
	node, err := o.nodes.Get(ctx, target.ID)
	if err != nil {
		return failed("failed to load node"), err
	}

	if node.AllocatedFileStorage.Available < size {
		return failed("not enough storage on node"), ErrCapacityExceeded
	}
	if user.Remaining() < size {
		return failed("user storage quota exceeded"), ErrCapacityExceeded
	}

	sealed, err := o.cipher.Encrypt(data)
	if err != nil {
		return failed("failed to encrypt file"), err
	}

	record := &models.FileRecord{
		UserID:   userID,
		Filename: filename,
		NodeID:   node.ID,
		Size:     size,
		MimeType: mimeTypeOf(filename),
	}
	if err := o.files.CreateFile(ctx, record); err != nil {
		return failed("failed to create file record"), err
	}

	logger := log.Logger.With().
		Str("file_id", record.ID).
		Str("node_id", node.ID).
		Str("user_id", userID).
		Str("size", humanize.IBytes(uint64(size))).
		Logger()

	// The transfer is not tied to the request so the record and the remote
	// object cannot diverge when the client goes away mid-upload.
	detached := context.WithoutCancel(ctx)
	transferCtx, cancel := context.WithTimeout(detached, o.transferTimeout)
	err = o.transfer.Put(transferCtx, node.Endpoint, node.Token, record.ID, sealed)
	cancel()

	if err != nil {
		logger.Warn().Err(err).Msg("Transfer to node failed, rolling back file record")
		o.discardRecord(detached, logger, record.ID)
		return failed("failed to upload file to node"), fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}

	// Concurrent uploads pass the early capacity check against the same
	// snapshot, so it is repeated inside the commit.
	now := o.now().UTC()
	_, err = o.nodes.Mutate(detached, node.ID, func(current *models.Node) error {
		if current.AllocatedFileStorage.Available < size {
			return ErrCapacityExceeded
		}
		current.AllocatedFileStorage.Consume(size)
		current.Uptime = append(current.Uptime, now)
		return nil
	})
	if err != nil {
		logger.Warn().Err(err).Msg("Node allocation commit failed, rolling back upload")
		o.discardObject(detached, logger, node, record.ID)
		o.discardRecord(detached, logger, record.ID)

		switch {
		case errors.Is(err, ErrCapacityExceeded):
			return failed("not enough storage on node"), ErrCapacityExceeded
		case errors.Is(err, nodestore.ErrNodeNotFound):
			return failed("node removed during upload"),
				fmt.Errorf("%w: node %s was removed", ErrNodeUnavailable, node.ID)
		default:
			return failed("failed to update node storage"), fmt.Errorf("%w: %w", ErrTransferFailed, err)
		}
	}

	if err := o.users.IncrementUsedStorage(detached, userID, size); err != nil {
		logger.Warn().Err(err).Msg("User storage update failed, rolling back upload")
		o.releaseNode(detached, logger, node.ID, size)
		o.discardObject(detached, logger, node, record.ID)
		o.discardRecord(detached, logger, record.ID)
		return failed("failed to update user storage usage"), fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}

	logger.Info().Msg("File uploaded")
	return models.OperationResult{Success: true, Message: "file uploaded", FileID: record.ID}, nil
}

// Delete removes the owner's file from its node and then from the index.
// Quotas are released only after both succeeded.
func (o *Orchestrator) Delete(ctx context.Context, userID, fileID string) error {
	record, err := o.ownedFile(ctx, userID, fileID)
	if err != nil {
		return err
	}

	node, err := o.nodes.Get(ctx, record.NodeID)
	if err != nil {
		if errors.Is(err, nodestore.ErrNodeNotFound) {
			return fmt.Errorf("%w: node %s is not registered", ErrNodeUnavailable, record.NodeID)
		}
		return err
	}
	if !o.health.EnsureOnline(ctx, node.ID) {
		return fmt.Errorf("%w: node %s is offline", ErrNodeUnavailable, node.ID)
	}

	if err := o.transfer.Delete(ctx, node.Endpoint, node.Token, record.ID); err != nil {
		log.Warn().Err(err).Str("file_id", record.ID).Str("node_id", node.ID).Msg("Remote delete failed")
		return fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}

	detached := context.WithoutCancel(ctx)
	if err := o.files.DeleteFile(detached, record.ID); err != nil {
		if errors.Is(err, index.ErrFileNotFound) {
			return ErrNotFound
		}
		return err
	}

	if err := o.users.IncrementUsedStorage(detached, userID, -record.Size); err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to update user storage usage")
	}
	_, err = o.nodes.Mutate(detached, node.ID, func(current *models.Node) error {
		current.AllocatedFileStorage.Release(record.Size)
		return nil
	})
	if err != nil {
		log.Error().Err(err).Str("node_id", node.ID).Msg("Failed to update node storage allocation")
	}

	log.Info().
		Str("file_id", record.ID).
		Str("node_id", node.ID).
		Str("size", humanize.IBytes(uint64(record.Size))).
		Msg("File deleted")
	return nil
}

// View returns the decrypted file for inline display.
func (o *Orchestrator) View(ctx context.Context, userID, fileID string) (*models.FileContent, error) {
	return o.fetch(ctx, userID, fileID)
}

// Download returns the decrypted file as an attachment.
func (o *Orchestrator) Download(ctx context.Context, userID, fileID string) (*models.FileContent, error) {
	return o.fetch(ctx, userID, fileID)
}

// Details returns the file record for the owner or a user it is shared with.
func (o *Orchestrator) Details(ctx context.Context, userID, fileID string) (*models.FileRecord, error) {
	return o.readableFile(ctx, userID, fileID)
}

// List returns the files owned by userID.
func (o *Orchestrator) List(ctx context.Context, userID string) ([]models.FileRecord, error) {
	return o.files.ListByOwner(ctx, userID)
}

// ListShared returns the files other users shared with userID.
func (o *Orchestrator) ListShared(ctx context.Context, userID string) ([]models.FileRecord, error) {
	return o.files.ListSharedWith(ctx, userID)
}

// Search returns the owner's files whose name contains query.
func (o *Orchestrator) Search(ctx context.Context, userID, query string) ([]models.FileRecord, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: empty search query", ErrInvalidRequest)
	}
	return o.files.SearchFiles(ctx, userID, query)
}

// Share grants targetUserID read access to the owner's file.
func (o *Orchestrator) Share(ctx context.Context, userID, fileID, targetUserID string) error {
	targetUserID = strings.TrimSpace(targetUserID)
	if targetUserID == "" || targetUserID == userID {
		return fmt.Errorf("%w: invalid share target", ErrInvalidRequest)
	}
	if _, err := o.ownedFile(ctx, userID, fileID); err != nil {
		return err
	}
	return notFoundAs(o.files.ShareFile(ctx, fileID, targetUserID))
}

// Revoke removes targetUserID from the owner's file shares.
func (o *Orchestrator) Revoke(ctx context.Context, userID, fileID, targetUserID string) error {
	if _, err := o.ownedFile(ctx, userID, fileID); err != nil {
		return err
	}
	return notFoundAs(o.files.RevokeShare(ctx, fileID, targetUserID))
}

// Rename changes the display name of the owner's file. The remote object
// name is the record id and is unaffected.
func (o *Orchestrator) Rename(ctx context.Context, userID, fileID, filename string) error {
	filename = strings.TrimSpace(filename)
	if filename == "" {
		return fmt.Errorf("%w: filename is required", ErrInvalidRequest)
	}
	if _, err := o.ownedFile(ctx, userID, fileID); err != nil {
		return err
	}
	return notFoundAs(o.files.RenameFile(ctx, fileID, filename))
}

// fetch uses a reachability check instead of a full probe cycle.
func (o *Orchestrator) fetch(ctx context.Context, userID, fileID string) (*models.FileContent, error) {
	record, err := o.readableFile(ctx, userID, fileID)
	if err != nil {
		return nil, err
	}

	node, err := o.nodes.Get(ctx, record.NodeID)
	if err != nil {
		if errors.Is(err, nodestore.ErrNodeNotFound) {
			return nil, ErrNodeUnavailable
		}
		return nil, err
	}
	if !node.Reachable() {
		return nil, ErrNodeUnavailable
	}

	sealed, err := o.transfer.Get(ctx, node.Endpoint, node.Token, record.ID)
	if err != nil {
		if errors.Is(err, nodeclient.ErrObjectNotFound) {
			log.Warn().Str("file_id", record.ID).Str("node_id", node.ID).Msg("Object missing on node")
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}

	content, err := o.cipher.Decrypt(sealed)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}

	return &models.FileContent{
		Filename: record.Filename,
		MimeType: record.MimeType,
		Content:  content,
	}, nil
}

// discardRecord removes a record whose upload did not complete. A failure
// leaves an orphaned record and is logged at error level.
func (o *Orchestrator) discardRecord(ctx context.Context, logger zerolog.Logger, fileID string) {
	if err := o.files.DeleteFile(ctx, fileID); err != nil {
		logger.Error().Err(err).Msg("Rollback failed, file record is orphaned")
	}
}

func (o *Orchestrator) discardObject(ctx context.Context, logger zerolog.Logger, node *models.Node, objectID string) {
	deleteCtx, cancel := context.WithTimeout(ctx, o.transferTimeout)
	defer cancel()

	if err := o.transfer.Delete(deleteCtx, node.Endpoint, node.Token, objectID); err != nil {
		logger.Error().Err(err).Msg("Rollback failed, object is orphaned on node")
	}
}

func (o *Orchestrator) releaseNode(ctx context.Context, logger zerolog.Logger, nodeID string, size int64) {
	_, err := o.nodes.Mutate(ctx, nodeID, func(current *models.Node) error {
		current.AllocatedFileStorage.Release(size)
		return nil
	})
	if err != nil {
		logger.Error().Err(err).Msg("Rollback failed, node allocation not released")
	}
}

func (o *Orchestrator) ownedFile(ctx context.Context, userID, fileID string) (*models.FileRecord, error) {
	record, err := o.files.GetFile(ctx, fileID)
	if err != nil {
		return nil, notFoundAs(err)
	}
	if record.UserID != userID {
		return nil, ErrNotFound
	}
	return record, nil
}

func (o *Orchestrator) readableFile(ctx context.Context, userID, fileID string) (*models.FileRecord, error) {
	record, err := o.files.GetFile(ctx, fileID)
	if err != nil {
		return nil, notFoundAs(err)
	}
	if !record.CanRead(userID) {
		return nil, ErrNotFound
	}
	return record, nil
}

func notFoundAs(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, index.ErrFileNotFound), errors.Is(err, index.ErrNotShared):
		return ErrNotFound
	case errors.Is(err, index.ErrInvalidFilename):
		return ErrInvalidRequest
	default:
		return err
	}
}

func mimeTypeOf(filename string) string {
	if mimeType := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename))); mimeType != "" {
		return mimeType
	}
	return defaultMimeType
}

func failed(message string) models.OperationResult {
	return models.OperationResult{Success: false, Message: message}
}
