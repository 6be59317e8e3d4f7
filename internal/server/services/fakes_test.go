package services

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"

	"github.com/dmitrijs2005/cipherdrive/internal/dbx"
	"github.com/dmitrijs2005/cipherdrive/internal/logging"
	"github.com/dmitrijs2005/cipherdrive/internal/metrics"
	"github.com/dmitrijs2005/cipherdrive/internal/server/models"
	"github.com/dmitrijs2005/cipherdrive/internal/server/repositories/chunks"
	"github.com/dmitrijs2005/cipherdrive/internal/server/repositories/files"
	"github.com/dmitrijs2005/cipherdrive/internal/server/repositories/folders"
	"github.com/prometheus/client_golang/prometheus"
)

// fakeRepoManager hands out the same fake repositories regardless of the
// DBTX, so service logic can be exercised without SQL.
type fakeRepoManager struct {
	folderRepo folders.Repository
	fileRepo   files.Repository
	chunkRepo  chunks.Repository
}

func (m *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error { return nil }
func (m *fakeRepoManager) Folders(dbx.DBTX) folders.Repository          { return m.folderRepo }
func (m *fakeRepoManager) Files(dbx.DBTX) files.Repository              { return m.fileRepo }
func (m *fakeRepoManager) Chunks(dbx.DBTX) chunks.Repository            { return m.chunkRepo }

// fakeFolderRepo overrides only the methods a test wires up; anything else
// panics through the embedded nil interface.
type fakeFolderRepo struct {
	folders.Repository
	createFn             func(ctx context.Context, f *models.Folder) error
	getFn                func(ctx context.Context, id uuid.UUID) (*models.Folder, error)
	insertEdgeFn         func(ctx context.Context, e *models.FolderAccess) error
	upsertShareEdgeFn    func(ctx context.Context, e *models.FolderAccess) error
	getEdgeFn            func(ctx context.Context, folderID uuid.UUID, userID string) (*models.FolderAccess, error)
	getEdgeForUpdateFn   func(ctx context.Context, folderID uuid.UUID, userID string) (*models.FolderAccess, error)
	updateMetadataFn     func(ctx context.Context, id uuid.UUID, meta []byte) error
	moveFn               func(ctx context.Context, id uuid.UUID, parentID *uuid.UUID) error
	setEdgeRootAnchorFn  func(ctx context.Context, folderID uuid.UUID, userID string, anchored bool) error
	isInSubtreeFn        func(ctx context.Context, rootID, candidate uuid.UUID) (bool, error)
	subtreeFn            func(ctx context.Context, rootID uuid.UUID) ([]uuid.UUID, error)
	acceptRootEdgeFn     func(ctx context.Context, folderID uuid.UUID, userID string) error
	acceptSubtreeFn      func(ctx context.Context, rootID uuid.UUID, userID string) (int64, error)
	setSubtreeDeletedFn  func(ctx context.Context, rootID uuid.UUID, userID string, deleted bool) (int64, error)
	deleteSubtreeFn      func(ctx context.Context, rootID uuid.UUID, userID string) (int64, error)
	deleteSubtreeExcFn   func(ctx context.Context, rootID uuid.UUID, keepUserID string) (int64, error)
	restoreAncestorsFn   func(ctx context.Context, folderID uuid.UUID, userID string) error
	deleteTrashedFn      func(ctx context.Context, userID string) (int64, error)
	deleteOrphanedFn     func(ctx context.Context) (int64, error)
	listTrashedFn        func(ctx context.Context, userID string) ([]*models.ListedFolder, error)
	countTrashedFn       func(ctx context.Context, userID string) (int64, error)
	countOwnedFn         func(ctx context.Context, userID string) (int64, error)
}

func (f *fakeFolderRepo) Create(ctx context.Context, folder *models.Folder) error {
	return f.createFn(ctx, folder)
}
func (f *fakeFolderRepo) Get(ctx context.Context, id uuid.UUID) (*models.Folder, error) {
	return f.getFn(ctx, id)
}
func (f *fakeFolderRepo) InsertEdge(ctx context.Context, e *models.FolderAccess) error {
	return f.insertEdgeFn(ctx, e)
}
func (f *fakeFolderRepo) UpsertShareEdge(ctx context.Context, e *models.FolderAccess) error {
	return f.upsertShareEdgeFn(ctx, e)
}
func (f *fakeFolderRepo) GetEdge(ctx context.Context, folderID uuid.UUID, userID string) (*models.FolderAccess, error) {
	return f.getEdgeFn(ctx, folderID, userID)
}
func (f *fakeFolderRepo) GetEdgeForUpdate(ctx context.Context, folderID uuid.UUID, userID string) (*models.FolderAccess, error) {
	return f.getEdgeForUpdateFn(ctx, folderID, userID)
}
func (f *fakeFolderRepo) UpdateMetadata(ctx context.Context, id uuid.UUID, meta []byte) error {
	return f.updateMetadataFn(ctx, id, meta)
}
func (f *fakeFolderRepo) Move(ctx context.Context, id uuid.UUID, parentID *uuid.UUID) error {
	return f.moveFn(ctx, id, parentID)
}
func (f *fakeFolderRepo) SetEdgeRootAnchor(ctx context.Context, folderID uuid.UUID, userID string, anchored bool) error {
	return f.setEdgeRootAnchorFn(ctx, folderID, userID, anchored)
}
func (f *fakeFolderRepo) IsInSubtree(ctx context.Context, rootID, candidate uuid.UUID) (bool, error) {
	return f.isInSubtreeFn(ctx, rootID, candidate)
}
func (f *fakeFolderRepo) Subtree(ctx context.Context, rootID uuid.UUID) ([]uuid.UUID, error) {
	return f.subtreeFn(ctx, rootID)
}
func (f *fakeFolderRepo) AcceptRootEdge(ctx context.Context, folderID uuid.UUID, userID string) error {
	return f.acceptRootEdgeFn(ctx, folderID, userID)
}
func (f *fakeFolderRepo) AcceptSubtreeEdges(ctx context.Context, rootID uuid.UUID, userID string) (int64, error) {
	return f.acceptSubtreeFn(ctx, rootID, userID)
}
func (f *fakeFolderRepo) SetSubtreeEdgesDeleted(ctx context.Context, rootID uuid.UUID, userID string, deleted bool) (int64, error) {
	return f.setSubtreeDeletedFn(ctx, rootID, userID, deleted)
}
func (f *fakeFolderRepo) DeleteSubtreeEdges(ctx context.Context, rootID uuid.UUID, userID string) (int64, error) {
	return f.deleteSubtreeFn(ctx, rootID, userID)
}
func (f *fakeFolderRepo) DeleteSubtreeEdgesExcept(ctx context.Context, rootID uuid.UUID, keepUserID string) (int64, error) {
	return f.deleteSubtreeExcFn(ctx, rootID, keepUserID)
}
func (f *fakeFolderRepo) RestoreAncestorEdges(ctx context.Context, folderID uuid.UUID, userID string) error {
	return f.restoreAncestorsFn(ctx, folderID, userID)
}
func (f *fakeFolderRepo) DeleteTrashedEdges(ctx context.Context, userID string) (int64, error) {
	return f.deleteTrashedFn(ctx, userID)
}
func (f *fakeFolderRepo) DeleteOrphaned(ctx context.Context) (int64, error) {
	return f.deleteOrphanedFn(ctx)
}
func (f *fakeFolderRepo) ListTrashed(ctx context.Context, userID string) ([]*models.ListedFolder, error) {
	return f.listTrashedFn(ctx, userID)
}
func (f *fakeFolderRepo) CountTrashed(ctx context.Context, userID string) (int64, error) {
	return f.countTrashedFn(ctx, userID)
}
func (f *fakeFolderRepo) CountOwned(ctx context.Context, userID string) (int64, error) {
	return f.countOwnedFn(ctx, userID)
}

type fakeFileRepo struct {
	files.Repository
	createFn             func(ctx context.Context, f *models.File) error
	getFn                func(ctx context.Context, id uuid.UUID) (*models.File, error)
	addSizeFn            func(ctx context.Context, id uuid.UUID, delta int64) error
	finalizeFn           func(ctx context.Context, id uuid.UUID) error
	setDeletedFn         func(ctx context.Context, id uuid.UUID, deleted bool) error
	deleteFn             func(ctx context.Context, id uuid.UUID) error
	insertEdgeFn         func(ctx context.Context, e *models.FileAccess) error
	upsertShareEdgeFn    func(ctx context.Context, e *models.FileAccess) error
	getEdgeFn            func(ctx context.Context, fileID uuid.UUID, userID string) (*models.FileAccess, error)
	getEdgeForUpdateFn   func(ctx context.Context, fileID uuid.UUID, userID string) (*models.FileAccess, error)
	deleteEdgeFn         func(ctx context.Context, fileID uuid.UUID, userID string) error
	deleteEdgesExcFn     func(ctx context.Context, fileID uuid.UUID, keepUserID string) (int64, error)
	countEdgesFn         func(ctx context.Context, fileID uuid.UUID) (int64, error)
	ownerFn              func(ctx context.Context, fileID uuid.UUID) (string, error)
	acceptEdgeFn         func(ctx context.Context, fileID uuid.UUID, userID string, anchorID *uuid.UUID) error
	setEdgeAnchorFn      func(ctx context.Context, fileID uuid.UUID, userID string, anchorID *uuid.UUID) error
	acceptInSubtreeFn    func(ctx context.Context, rootID uuid.UUID, userID string) (int64, error)
	setEdgeDeletedFn     func(ctx context.Context, fileID uuid.UUID, userID string, deleted bool) error
	setEdgesDeletedFn    func(ctx context.Context, rootID uuid.UUID, userID string, deleted bool) (int64, error)
	setDeletedSubtreeFn  func(ctx context.Context, rootID uuid.UUID, userID string, deleted bool) (int64, error)
	deleteInSubtreeFn    func(ctx context.Context, rootID uuid.UUID, userID string) (int64, error)
	deleteInSubtreeExcFn func(ctx context.Context, rootID uuid.UUID, keepUserID string) (int64, error)
	usageStatsFn         func(ctx context.Context, userID string) (int64, int64, error)
	trashStatsFn         func(ctx context.Context, userID string) (int64, int64, error)
	listTrashedPurgeFn   func(ctx context.Context, userID string) ([]*models.ListedFile, error)
	listUnfinalizedFn    func(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error)
}

func (f *fakeFileRepo) Create(ctx context.Context, file *models.File) error {
	return f.createFn(ctx, file)
}
func (f *fakeFileRepo) Get(ctx context.Context, id uuid.UUID) (*models.File, error) {
	return f.getFn(ctx, id)
}
func (f *fakeFileRepo) AddSize(ctx context.Context, id uuid.UUID, delta int64) error {
	return f.addSizeFn(ctx, id, delta)
}
func (f *fakeFileRepo) Finalize(ctx context.Context, id uuid.UUID) error {
	return f.finalizeFn(ctx, id)
}
func (f *fakeFileRepo) SetDeleted(ctx context.Context, id uuid.UUID, deleted bool) error {
	return f.setDeletedFn(ctx, id, deleted)
}
func (f *fakeFileRepo) Delete(ctx context.Context, id uuid.UUID) error {
	return f.deleteFn(ctx, id)
}
func (f *fakeFileRepo) InsertEdge(ctx context.Context, e *models.FileAccess) error {
	return f.insertEdgeFn(ctx, e)
}
func (f *fakeFileRepo) UpsertShareEdge(ctx context.Context, e *models.FileAccess) error {
	return f.upsertShareEdgeFn(ctx, e)
}
func (f *fakeFileRepo) GetEdge(ctx context.Context, fileID uuid.UUID, userID string) (*models.FileAccess, error) {
	return f.getEdgeFn(ctx, fileID, userID)
}
func (f *fakeFileRepo) GetEdgeForUpdate(ctx context.Context, fileID uuid.UUID, userID string) (*models.FileAccess, error) {
	return f.getEdgeForUpdateFn(ctx, fileID, userID)
}
func (f *fakeFileRepo) DeleteEdge(ctx context.Context, fileID uuid.UUID, userID string) error {
	return f.deleteEdgeFn(ctx, fileID, userID)
}
func (f *fakeFileRepo) DeleteEdgesExcept(ctx context.Context, fileID uuid.UUID, keepUserID string) (int64, error) {
	return f.deleteEdgesExcFn(ctx, fileID, keepUserID)
}
func (f *fakeFileRepo) CountEdges(ctx context.Context, fileID uuid.UUID) (int64, error) {
	return f.countEdgesFn(ctx, fileID)
}
func (f *fakeFileRepo) Owner(ctx context.Context, fileID uuid.UUID) (string, error) {
	return f.ownerFn(ctx, fileID)
}
func (f *fakeFileRepo) AcceptEdge(ctx context.Context, fileID uuid.UUID, userID string, anchorID *uuid.UUID) error {
	return f.acceptEdgeFn(ctx, fileID, userID, anchorID)
}
func (f *fakeFileRepo) SetEdgeAnchor(ctx context.Context, fileID uuid.UUID, userID string, anchorID *uuid.UUID) error {
	return f.setEdgeAnchorFn(ctx, fileID, userID, anchorID)
}
func (f *fakeFileRepo) AcceptEdgesInSubtree(ctx context.Context, rootID uuid.UUID, userID string) (int64, error) {
	return f.acceptInSubtreeFn(ctx, rootID, userID)
}
func (f *fakeFileRepo) SetEdgeDeleted(ctx context.Context, fileID uuid.UUID, userID string, deleted bool) error {
	return f.setEdgeDeletedFn(ctx, fileID, userID, deleted)
}
func (f *fakeFileRepo) SetEdgesDeletedInSubtree(ctx context.Context, rootID uuid.UUID, userID string, deleted bool) (int64, error) {
	return f.setEdgesDeletedFn(ctx, rootID, userID, deleted)
}
func (f *fakeFileRepo) SetDeletedInSubtree(ctx context.Context, rootID uuid.UUID, userID string, deleted bool) (int64, error) {
	return f.setDeletedSubtreeFn(ctx, rootID, userID, deleted)
}
func (f *fakeFileRepo) DeleteEdgesInSubtree(ctx context.Context, rootID uuid.UUID, userID string) (int64, error) {
	return f.deleteInSubtreeFn(ctx, rootID, userID)
}
func (f *fakeFileRepo) DeleteEdgesInSubtreeExcept(ctx context.Context, rootID uuid.UUID, keepUserID string) (int64, error) {
	return f.deleteInSubtreeExcFn(ctx, rootID, keepUserID)
}
func (f *fakeFileRepo) UsageStats(ctx context.Context, userID string) (int64, int64, error) {
	return f.usageStatsFn(ctx, userID)
}
func (f *fakeFileRepo) TrashStats(ctx context.Context, userID string) (int64, int64, error) {
	return f.trashStatsFn(ctx, userID)
}
func (f *fakeFileRepo) ListTrashedForPurge(ctx context.Context, userID string) ([]*models.ListedFile, error) {
	return f.listTrashedPurgeFn(ctx, userID)
}
func (f *fakeFileRepo) ListUnfinalizedOlderThan(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	return f.listUnfinalizedFn(ctx, cutoff)
}

type fakeChunkRepo struct {
	chunks.Repository
	insertFn       func(ctx context.Context, c *models.Chunk) error
	getByIndexFn   func(ctx context.Context, fileID uuid.UUID, index int32) (*models.Chunk, error)
	listByFileFn   func(ctx context.Context, fileID uuid.UUID) ([]*models.Chunk, error)
	deleteByFileFn func(ctx context.Context, fileID uuid.UUID) (int64, error)
}

func (f *fakeChunkRepo) Insert(ctx context.Context, c *models.Chunk) error {
	return f.insertFn(ctx, c)
}
func (f *fakeChunkRepo) GetByIndex(ctx context.Context, fileID uuid.UUID, index int32) (*models.Chunk, error) {
	return f.getByIndexFn(ctx, fileID, index)
}
func (f *fakeChunkRepo) ListByFile(ctx context.Context, fileID uuid.UUID) ([]*models.Chunk, error) {
	return f.listByFileFn(ctx, fileID)
}
func (f *fakeChunkRepo) DeleteByFile(ctx context.Context, fileID uuid.UUID) (int64, error) {
	return f.deleteByFileFn(ctx, fileID)
}

// fakeBlob is an in-memory BlobStore.
type fakeBlob struct {
	mu          sync.Mutex
	objects     map[string][]byte
	uploadErr   error
	downloadErr map[string]error
}

func newFakeBlob() *fakeBlob {
	return &fakeBlob{objects: map[string][]byte{}, downloadErr: map[string]error{}}
}

func (b *fakeBlob) Upload(_ context.Context, key string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.uploadErr != nil {
		return b.uploadErr
	}
	b.objects[key] = append([]byte(nil), data...)
	return nil
}

func (b *fakeBlob) Download(_ context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.downloadErr[key]; err != nil {
		return nil, err
	}
	return b.objects[key], nil
}

func (b *fakeBlob) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, key)
	return nil
}

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return db, mock
}

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func testMetrics() *metrics.Metrics {
	return metrics.New(prometheus.NewRegistry())
}
