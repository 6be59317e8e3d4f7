package services

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/cipherdrive/internal/common"
	"github.com/dmitrijs2005/cipherdrive/internal/server/admission"
	sc "github.com/dmitrijs2005/cipherdrive/internal/server/config"
	"github.com/dmitrijs2005/cipherdrive/internal/server/models"
)

func ownerFileEdge(fileID uuid.UUID, userID string) *models.FileAccess {
	return &models.FileAccess{
		ID:          uuid.New(),
		FileID:      fileID,
		UserID:      userID,
		AccessLevel: models.AccessOwner,
		IsAccepted:  true,
	}
}

func TestUploadChunk_RejectedWhenFull(t *testing.T) {
	db, _ := newMockDB(t)
	defer db.Close()

	adm := admission.New(1)
	if err := adm.Acquire(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	svc := NewUploadService(db, &fakeRepoManager{}, &sc.Config{}, newFakeBlob(), adm, testMetrics(), testLogger())
	_, err := svc.UploadChunk(context.Background(), "u1", uuid.New(), 0, []byte("data"))
	if !errors.Is(err, common.ErrBusy) {
		t.Fatalf("want ErrBusy, got %v", err)
	}
}

func TestUploadChunk_QuotaExceeded(t *testing.T) {
	db, _ := newMockDB(t)
	defer db.Close()

	fileID := uuid.New()
	fileRepo := &fakeFileRepo{
		getEdgeFn: func(_ context.Context, id uuid.UUID, userID string) (*models.FileAccess, error) {
			return ownerFileEdge(id, userID), nil
		},
		getFn: func(_ context.Context, id uuid.UUID) (*models.File, error) {
			return &models.File{ID: id}, nil
		},
		usageStatsFn: func(_ context.Context, userID string) (int64, int64, error) { return 95, 1, nil },
	}

	svc := NewUploadService(db, &fakeRepoManager{fileRepo: fileRepo},
		&sc.Config{StorageLimitBytes: 100}, newFakeBlob(), admission.New(1), testMetrics(), testLogger())
	_, err := svc.UploadChunk(context.Background(), "u1", fileID, 0, []byte("ten bytes!"))
	if !errors.Is(err, common.ErrQuotaExceeded) {
		t.Fatalf("want ErrQuotaExceeded, got %v", err)
	}
}

func TestUploadChunk_ChargesOwnerQuota(t *testing.T) {
	db, _ := newMockDB(t)
	defer db.Close()

	fileID := uuid.New()
	var quotaUser string
	fileRepo := &fakeFileRepo{
		getEdgeFn: func(_ context.Context, id uuid.UUID, userID string) (*models.FileAccess, error) {
			e := ownerFileEdge(id, userID)
			e.AccessLevel = models.AccessEditor
			return e, nil
		},
		getFn: func(_ context.Context, id uuid.UUID) (*models.File, error) {
			return &models.File{ID: id}, nil
		},
		ownerFn: func(_ context.Context, id uuid.UUID) (string, error) { return "owner", nil },
		usageStatsFn: func(_ context.Context, userID string) (int64, int64, error) {
			quotaUser = userID
			return 95, 1, nil
		},
	}

	svc := NewUploadService(db, &fakeRepoManager{fileRepo: fileRepo},
		&sc.Config{StorageLimitBytes: 100}, newFakeBlob(), admission.New(1), testMetrics(), testLogger())
	_, err := svc.UploadChunk(context.Background(), "editor", fileID, 0, []byte("ten bytes!"))
	if !errors.Is(err, common.ErrQuotaExceeded) {
		t.Fatalf("want ErrQuotaExceeded, got %v", err)
	}
	if quotaUser != "owner" {
		t.Fatalf("an editor's upload must count against the owner, charged %q", quotaUser)
	}
}

func TestUploadChunk_FinalizedFileRejected(t *testing.T) {
	db, _ := newMockDB(t)
	defer db.Close()

	fileRepo := &fakeFileRepo{
		getEdgeFn: func(_ context.Context, id uuid.UUID, userID string) (*models.FileAccess, error) {
			return ownerFileEdge(id, userID), nil
		},
		getFn: func(_ context.Context, id uuid.UUID) (*models.File, error) {
			return &models.File{ID: id, IsFullyUploaded: true}, nil
		},
	}

	svc := NewUploadService(db, &fakeRepoManager{fileRepo: fileRepo},
		&sc.Config{StorageLimitBytes: 1 << 30}, newFakeBlob(), admission.New(1), testMetrics(), testLogger())
	_, err := svc.UploadChunk(context.Background(), "u1", uuid.New(), 0, []byte("data"))
	if !errors.Is(err, common.ErrConflict) {
		t.Fatalf("want ErrConflict, got %v", err)
	}
}

func TestUploadChunk_StoresObjectAndRow(t *testing.T) {
	db, mock := newMockDB(t)
	defer db.Close()
	mock.ExpectBegin()
	mock.ExpectCommit()

	fileID := uuid.New()
	blob := newFakeBlob()

	var inserted *models.Chunk
	var sizeDelta int64
	fileRepo := &fakeFileRepo{
		getEdgeFn: func(_ context.Context, id uuid.UUID, userID string) (*models.FileAccess, error) {
			return ownerFileEdge(id, userID), nil
		},
		getFn: func(_ context.Context, id uuid.UUID) (*models.File, error) {
			return &models.File{ID: id}, nil
		},
		usageStatsFn: func(_ context.Context, userID string) (int64, int64, error) { return 0, 0, nil },
		addSizeFn: func(_ context.Context, id uuid.UUID, delta int64) error {
			sizeDelta = delta
			return nil
		},
	}
	chunkRepo := &fakeChunkRepo{
		insertFn: func(_ context.Context, c *models.Chunk) error { inserted = c; return nil },
	}

	svc := NewUploadService(db, &fakeRepoManager{fileRepo: fileRepo, chunkRepo: chunkRepo},
		&sc.Config{StorageLimitBytes: 1 << 30}, blob, admission.New(1), testMetrics(), testLogger())

	chunkID, err := svc.UploadChunk(context.Background(), "u1", fileID, 4, []byte("payload"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inserted == nil || inserted.ID != chunkID || inserted.Index != 4 {
		t.Fatalf("unexpected chunk row: %+v", inserted)
	}
	if sizeDelta != int64(len("payload")) {
		t.Fatalf("want size delta 7, got %d", sizeDelta)
	}
	if got := blob.objects[inserted.ObjectKey]; string(got) != "payload" {
		t.Fatalf("object not stored under %q", inserted.ObjectKey)
	}
}

func TestUploadChunk_RowFailureRemovesObject(t *testing.T) {
	db, mock := newMockDB(t)
	defer db.Close()
	mock.ExpectBegin()
	mock.ExpectRollback()

	blob := newFakeBlob()
	fileRepo := &fakeFileRepo{
		getEdgeFn: func(_ context.Context, id uuid.UUID, userID string) (*models.FileAccess, error) {
			return ownerFileEdge(id, userID), nil
		},
		getFn: func(_ context.Context, id uuid.UUID) (*models.File, error) {
			return &models.File{ID: id}, nil
		},
		usageStatsFn: func(_ context.Context, userID string) (int64, int64, error) { return 0, 0, nil },
	}
	chunkRepo := &fakeChunkRepo{
		insertFn: func(_ context.Context, c *models.Chunk) error { return errors.New("insert failed") },
	}

	svc := NewUploadService(db, &fakeRepoManager{fileRepo: fileRepo, chunkRepo: chunkRepo},
		&sc.Config{StorageLimitBytes: 1 << 30}, blob, admission.New(1), testMetrics(), testLogger())

	_, err := svc.UploadChunk(context.Background(), "u1", uuid.New(), 0, []byte("data"))
	if err == nil {
		t.Fatal("want error")
	}
	if len(blob.objects) != 0 {
		t.Fatal("orphaned object must be removed after row failure")
	}
}

func TestFinalizeUpload_Twice(t *testing.T) {
	db, mock := newMockDB(t)
	defer db.Close()
	mock.ExpectBegin()
	mock.ExpectRollback()

	fileRepo := &fakeFileRepo{
		getEdgeFn: func(_ context.Context, id uuid.UUID, userID string) (*models.FileAccess, error) {
			return ownerFileEdge(id, userID), nil
		},
		getFn: func(_ context.Context, id uuid.UUID) (*models.File, error) {
			return &models.File{ID: id, IsFullyUploaded: true}, nil
		},
	}

	svc := NewUploadService(db, &fakeRepoManager{fileRepo: fileRepo}, &sc.Config{},
		newFakeBlob(), admission.New(1), testMetrics(), testLogger())
	err := svc.FinalizeUpload(context.Background(), "u1", uuid.New())
	if !errors.Is(err, common.ErrConflict) {
		t.Fatalf("want ErrConflict, got %v", err)
	}
}

func TestAbortUpload_PurgesEverything(t *testing.T) {
	db, mock := newMockDB(t)
	defer db.Close()
	mock.ExpectBegin()
	mock.ExpectCommit()

	fileID := uuid.New()
	blob := newFakeBlob()
	blob.objects["files/a/1"] = []byte("x")
	blob.objects["files/a/2"] = []byte("y")

	rowsDeleted := false
	fileDeleted := false
	fileRepo := &fakeFileRepo{
		getEdgeFn: func(_ context.Context, id uuid.UUID, userID string) (*models.FileAccess, error) {
			return ownerFileEdge(id, userID), nil
		},
		getFn: func(_ context.Context, id uuid.UUID) (*models.File, error) {
			return &models.File{ID: id}, nil
		},
		countEdgesFn: func(_ context.Context, id uuid.UUID) (int64, error) { return 1, nil },
		deleteFn:     func(_ context.Context, id uuid.UUID) error { fileDeleted = true; return nil },
	}
	chunkRepo := &fakeChunkRepo{
		listByFileFn: func(_ context.Context, id uuid.UUID) ([]*models.Chunk, error) {
			return []*models.Chunk{
				{FileID: id, Index: 0, ObjectKey: "files/a/1"},
				{FileID: id, Index: 1, ObjectKey: "files/a/2"},
			}, nil
		},
		deleteByFileFn: func(_ context.Context, id uuid.UUID) (int64, error) { rowsDeleted = true; return 2, nil },
	}

	svc := NewUploadService(db, &fakeRepoManager{fileRepo: fileRepo, chunkRepo: chunkRepo},
		&sc.Config{}, blob, admission.New(1), testMetrics(), testLogger())

	if err := svc.AbortUpload(context.Background(), "u1", fileID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(blob.objects) != 0 {
		t.Fatal("chunk objects must be deleted")
	}
	if !rowsDeleted || !fileDeleted {
		t.Fatal("chunk rows and file row must be deleted")
	}
}

func TestAbortUpload_OtherHoldersKeepFile(t *testing.T) {
	db, _ := newMockDB(t)
	defer db.Close()

	fileID := uuid.New()
	blob := newFakeBlob()
	blob.objects["files/a/1"] = []byte("x")

	edgeDropped := false
	fileRepo := &fakeFileRepo{
		getEdgeFn: func(_ context.Context, id uuid.UUID, userID string) (*models.FileAccess, error) {
			return ownerFileEdge(id, userID), nil
		},
		getFn: func(_ context.Context, id uuid.UUID) (*models.File, error) {
			return &models.File{ID: id}, nil
		},
		countEdgesFn: func(_ context.Context, id uuid.UUID) (int64, error) { return 2, nil },
		deleteEdgeFn: func(_ context.Context, id uuid.UUID, userID string) error { edgeDropped = true; return nil },
	}

	svc := NewUploadService(db, &fakeRepoManager{fileRepo: fileRepo}, &sc.Config{},
		blob, admission.New(1), testMetrics(), testLogger())

	if err := svc.AbortUpload(context.Background(), "u1", fileID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !edgeDropped {
		t.Fatal("the caller's edge must be dropped")
	}
	if len(blob.objects) != 1 {
		t.Fatal("objects must survive while other users hold edges")
	}
}
