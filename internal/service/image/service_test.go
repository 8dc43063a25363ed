package image

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/textproto"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/manupriyaaa/tracelens/internal/model"
	imagerepo "github.com/manupriyaaa/tracelens/internal/repository/image"
)

// fakeRepo is an in-memory record store with injectable failures.
type fakeRepo struct {
	mu        sync.Mutex
	records   map[uuid.UUID]model.ImageRecord
	createErr error
	getErr    error
	updateErr map[uuid.UUID]error
	listTotal int
	stats     model.OwnerStats
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		records:   make(map[uuid.UUID]model.ImageRecord),
		updateErr: make(map[uuid.UUID]error),
	}
}

func (r *fakeRepo) Create(_ context.Context, rec model.ImageRecord) (uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.createErr != nil {
		return uuid.Nil, r.createErr
	}

	rec.ID = uuid.New()
	r.records[rec.ID] = rec
	return rec.ID, nil
}

func (r *fakeRepo) GetByIDAndOwner(_ context.Context, id, ownerID uuid.UUID) (model.ImageRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.getErr != nil {
		return model.ImageRecord{}, r.getErr
	}

	rec, ok := r.records[id]
	if !ok || rec.OwnerID != ownerID {
		return model.ImageRecord{}, imagerepo.ErrImageNotFound
	}
	return rec, nil
}

func (r *fakeRepo) UpdateDetectionResult(_ context.Context, id uuid.UUID, res model.DetectionResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.updateErr[id]; err != nil {
		return err
	}

	rec, ok := r.records[id]
	if !ok {
		return imagerepo.ErrImageNotFound
	}

	rec.Processed = true
	rec.Detection = &res
	r.records[id] = rec
	return nil
}

func (r *fakeRepo) DeleteByIDAndOwner(_ context.Context, id, ownerID uuid.UUID) (model.ImageRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok || rec.OwnerID != ownerID {
		return model.ImageRecord{}, imagerepo.ErrImageNotFound
	}

	delete(r.records, id)
	return rec, nil
}

func (r *fakeRepo) ListByOwner(_ context.Context, ownerID uuid.UUID, _ model.ListFilter) ([]model.ImageRecord, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []model.ImageRecord
	for _, rec := range r.records {
		if rec.OwnerID == ownerID {
			out = append(out, rec)
		}
	}

	total := r.listTotal
	if total == 0 {
		total = len(out)
	}
	return out, total, nil
}

func (r *fakeRepo) StatsByOwner(_ context.Context, _ uuid.UUID) (model.OwnerStats, error) {
	return r.stats, nil
}

func (r *fakeRepo) seed(ownerID uuid.UUID, path string) uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := uuid.New()
	r.records[id] = model.ImageRecord{ID: id, OwnerID: ownerID, Path: path, MimeType: "image/jpeg"}
	return id
}

// fakeStorage keeps objects in a map.
type fakeStorage struct {
	mu        sync.Mutex
	objects   map[string][]byte
	saveErr   error
	existsErr error
	loadErr   error
	deleteErr error
	deleted   []string
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{objects: make(map[string][]byte)}
}

func (s *fakeStorage) Save(_ context.Context, subdir, filename string, src io.Reader, _ int64, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.saveErr != nil {
		return "", s.saveErr
	}

	data, err := io.ReadAll(src)
	if err != nil {
		return "", err
	}

	path := subdir + "/" + filename
	s.objects[path] = data
	return path, nil
}

func (s *fakeStorage) Load(_ context.Context, path string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loadErr != nil {
		return nil, s.loadErr
	}

	data, ok := s.objects[path]
	if !ok {
		return nil, fmt.Errorf("object %q not found", path)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *fakeStorage) Exists(_ context.Context, path string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.existsErr != nil {
		return false, s.existsErr
	}

	_, ok := s.objects[path]
	return ok, nil
}

func (s *fakeStorage) Delete(_ context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.deleteErr != nil {
		return s.deleteErr
	}

	delete(s.objects, path)
	s.deleted = append(s.deleted, path)
	return nil
}

func (s *fakeStorage) put(path string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[path] = data
}

// stubDetector returns a fixed result, failing when the image bytes spell
// "corrupt".
type stubDetector struct {
	result model.DetectionResult
	calls  int
}

func (d *stubDetector) Detect(_ context.Context, r io.Reader) (model.DetectionResult, error) {
	d.calls++

	data, err := io.ReadAll(r)
	if err != nil {
		return model.DetectionResult{}, err
	}
	if string(data) == "corrupt" {
		return model.DetectionResult{}, errors.New("decode failure")
	}

	return d.result, nil
}

func (d *stubDetector) Provider() string { return "stub" }

// fakeProducer records published events.
type fakeProducer struct {
	mu     sync.Mutex
	events []model.ImageEvent
	err    error
}

func (p *fakeProducer) Publish(_ context.Context, ev model.ImageEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, ev)
	return nil
}

func (p *fakeProducer) ofType(eventType string) []model.ImageEvent {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []model.ImageEvent
	for _, ev := range p.events {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

func defaultResult() model.DetectionResult {
	return model.DetectionResult{
		Faces: []model.FaceDetection{
			{BoundingBox: model.BoundingBox{X: 10, Y: 10, Width: 100, Height: 130}, Confidence: 0.91},
			{BoundingBox: model.BoundingBox{X: 200, Y: 50, Width: 90, Height: 110}, Confidence: 0.84},
		},
		ImageWidth:  800,
		ImageHeight: 600,
		Provider:    "stub",
	}
}

type fixture struct {
	repo     *fakeRepo
	storage  *fakeStorage
	detector *stubDetector
	producer *fakeProducer
	svc      *Service
	owner    uuid.UUID
}

func newFixture() *fixture {
	f := &fixture{
		repo:     newFakeRepo(),
		storage:  newFakeStorage(),
		detector: &stubDetector{result: defaultResult()},
		producer: &fakeProducer{},
		owner:    uuid.New(),
	}
	f.svc = NewService(f.repo, f.storage, f.detector, f.producer,
		UploadPolicy{
			MaxFileSize:  1024,
			MaxFiles:     3,
			AllowedTypes: []string{"image/jpeg", "image/png"},
		},
		DetectPolicy{MaxBatchSize: 10},
	)
	return f
}

// seedStored registers a record and its backing object.
func (f *fixture) seedStored(t *testing.T, content string) uuid.UUID {
	t.Helper()

	path := "original/" + uuid.New().String() + ".jpg"
	f.storage.put(path, []byte(content))
	return f.repo.seed(f.owner, path)
}

// makeFileHeaders builds multipart file headers the way an HTTP request
// would deliver them.
func makeFileHeaders(t *testing.T, files ...[3]string) []*multipart.FileHeader {
	t.Helper()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for _, f := range files {
		name, contentType, content := f[0], f[1], f[2]

		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="images"; filename="%s"`, name))
		h.Set("Content-Type", contentType)

		part, err := w.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	form, err := multipart.NewReader(&buf, w.Boundary()).ReadForm(32 << 20)
	require.NoError(t, err)
	t.Cleanup(func() { _ = form.RemoveAll() })

	return form.File["images"]
}

func TestUploadImages_AcceptsValidFiles(t *testing.T) {
	f := newFixture()

	headers := makeFileHeaders(t,
		[3]string{"cat.jpg", "image/jpeg", "jpegdata"},
		[3]string{"dog.png", "image/png", "pngdata"},
	)

	report, err := f.svc.UploadImages(context.Background(), f.owner, headers)
	require.NoError(t, err)
	require.Len(t, report.Images, 2)
	require.Empty(t, report.Rejected)

	for _, rec := range report.Images {
		require.NotEqual(t, uuid.Nil, rec.ID)
		require.Equal(t, f.owner, rec.OwnerID)
		require.NotEmpty(t, rec.Path)

		exists, err := f.storage.Exists(context.Background(), rec.Path)
		require.NoError(t, err)
		require.True(t, exists)
	}

	require.Equal(t, "cat.jpg", report.Images[0].OriginalName)
	require.Equal(t, "dog.png", report.Images[1].OriginalName)

	uploaded := f.producer.ofType(model.EventImageUploaded)
	require.Len(t, uploaded, 2)
}

func TestUploadImages_NoFiles(t *testing.T) {
	f := newFixture()

	_, err := f.svc.UploadImages(context.Background(), f.owner, nil)
	require.ErrorIs(t, err, ErrNoFiles)
}

func TestUploadImages_TooManyFilesRejectsWholeRequest(t *testing.T) {
	f := newFixture()

	headers := makeFileHeaders(t,
		[3]string{"a.jpg", "image/jpeg", "x"},
		[3]string{"b.jpg", "image/jpeg", "x"},
		[3]string{"c.jpg", "image/jpeg", "x"},
		[3]string{"d.jpg", "image/jpeg", "x"},
	)

	_, err := f.svc.UploadImages(context.Background(), f.owner, headers)
	require.ErrorIs(t, err, ErrTooManyFiles)

	// Nothing may be stored, not even the files that would have passed.
	require.Empty(t, f.storage.objects)
	require.Empty(t, f.repo.records)
}

func TestUploadImages_PerFileRejection(t *testing.T) {
	f := newFixture()

	big := string(bytes.Repeat([]byte("x"), 2048))
	headers := makeFileHeaders(t,
		[3]string{"fine.jpg", "image/jpeg", "ok"},
		[3]string{"huge.jpg", "image/jpeg", big},
		[3]string{"notes.txt", "text/plain", "hello"},
	)

	report, err := f.svc.UploadImages(context.Background(), f.owner, headers)
	require.NoError(t, err)
	require.Len(t, report.Images, 1)
	require.Equal(t, "fine.jpg", report.Images[0].OriginalName)

	require.Len(t, report.Rejected, 2)
	require.Equal(t, "huge.jpg", report.Rejected[0].Name)
	require.Equal(t, "notes.txt", report.Rejected[1].Name)
}

func TestUploadImages_OrphanCleanupOnPersistFailure(t *testing.T) {
	f := newFixture()
	f.repo.createErr = errors.New("db down")

	headers := makeFileHeaders(t, [3]string{"cat.jpg", "image/jpeg", "jpegdata"})

	report, err := f.svc.UploadImages(context.Background(), f.owner, headers)
	require.NoError(t, err)
	require.Empty(t, report.Images)
	require.Len(t, report.Rejected, 1)

	// The stored object must have been taken back out.
	require.Empty(t, f.storage.objects)
	require.Len(t, f.storage.deleted, 1)
}

func TestDetectFaces_HappyPath(t *testing.T) {
	f := newFixture()

	id1 := f.seedStored(t, "image-one")
	id2 := f.seedStored(t, "image-two")

	report, err := f.svc.DetectFaces(context.Background(), f.owner, []string{id1.String(), id2.String()})
	require.NoError(t, err)
	require.Equal(t, 2, report.Succeeded)
	require.Equal(t, 0, report.Failed)
	require.Len(t, report.Outcomes, 2)

	require.Equal(t, id1.String(), report.Outcomes[0].ImageID)
	require.Equal(t, id2.String(), report.Outcomes[1].ImageID)

	for _, o := range report.Outcomes {
		require.True(t, o.OK)
		require.NotNil(t, o.Result)
		require.Equal(t, 2, o.Result.FaceCount)
		require.InDelta(t, 0.88, o.Result.Confidence, 0.001)
		require.Equal(t, "stub", o.Result.Provider)
	}

	// Both records must now carry the result.
	for _, id := range []uuid.UUID{id1, id2} {
		rec, err := f.repo.GetByIDAndOwner(context.Background(), id, f.owner)
		require.NoError(t, err)
		require.True(t, rec.Processed)
		require.NotNil(t, rec.Detection)
	}

	processed := f.producer.ofType(model.EventImageProcessed)
	require.Len(t, processed, 2)
	require.Equal(t, 2, processed[0].FaceCount)
}

func TestDetectFaces_MixedOutcomesPreserveOrder(t *testing.T) {
	f := newFixture()

	okID := f.seedStored(t, "good")
	corruptID := f.seedStored(t, "corrupt")
	missingFileID := f.repo.seed(f.owner, "original/gone.jpg")
	persistID := f.seedStored(t, "fine")
	f.repo.updateErr[persistID] = errors.New("constraint violation")

	ids := []string{
		okID.String(),
		"not-a-uuid",
		uuid.New().String(), // never existed
		corruptID.String(),
		missingFileID.String(),
		persistID.String(),
	}

	report, err := f.svc.DetectFaces(context.Background(), f.owner, ids)
	require.NoError(t, err)
	require.Len(t, report.Outcomes, len(ids))
	require.Equal(t, 1, report.Succeeded)
	require.Equal(t, 5, report.Failed)

	for i, o := range report.Outcomes {
		require.Equal(t, ids[i], o.ImageID, "outcome order must match input order")
	}

	require.True(t, report.Outcomes[0].OK)
	require.Equal(t, model.OutcomeNotFound, report.Outcomes[1].Code)
	require.Equal(t, model.OutcomeNotFound, report.Outcomes[2].Code)
	require.Equal(t, model.OutcomeDetectionFailed, report.Outcomes[3].Code)
	require.Equal(t, model.OutcomeFileMissing, report.Outcomes[4].Code)
	require.Equal(t, model.OutcomePersistFailed, report.Outcomes[5].Code)

	// The successful item must be persisted despite the failures around it.
	rec, err := f.repo.GetByIDAndOwner(context.Background(), okID, f.owner)
	require.NoError(t, err)
	require.True(t, rec.Processed)

	// A failed persist leaves the record untouched.
	rec, err = f.repo.GetByIDAndOwner(context.Background(), persistID, f.owner)
	require.NoError(t, err)
	require.False(t, rec.Processed)
}

func TestDetectFaces_CrossTenantReadsAsNotFound(t *testing.T) {
	f := newFixture()

	otherOwner := uuid.New()
	foreignID := f.repo.seed(otherOwner, "original/foreign.jpg")
	f.storage.put("original/foreign.jpg", []byte("data"))

	report, err := f.svc.DetectFaces(context.Background(), f.owner, []string{foreignID.String()})
	require.NoError(t, err)
	require.Equal(t, model.OutcomeNotFound, report.Outcomes[0].Code)

	// The foreign record must not have been touched.
	rec, err := f.repo.GetByIDAndOwner(context.Background(), foreignID, otherOwner)
	require.NoError(t, err)
	require.False(t, rec.Processed)
}

func TestDetectFaces_InvalidBatch(t *testing.T) {
	f := newFixture()

	_, err := f.svc.DetectFaces(context.Background(), f.owner, nil)
	require.ErrorIs(t, err, ErrInvalidBatch)

	ids := make([]string, 11)
	for i := range ids {
		ids[i] = uuid.New().String()
	}
	_, err = f.svc.DetectFaces(context.Background(), f.owner, ids)
	require.ErrorIs(t, err, ErrInvalidBatch)
	require.Zero(t, f.detector.calls)
}

func TestDetectFaces_MaxSizeBatchAllFailing(t *testing.T) {
	f := newFixture()

	// A batch at the exact ceiling is accepted even when every item fails.
	ids := make([]string, 10)
	for i := range ids {
		ids[i] = uuid.New().String()
	}

	report, err := f.svc.DetectFaces(context.Background(), f.owner, ids)
	require.NoError(t, err)
	require.Len(t, report.Outcomes, len(ids))
	require.Equal(t, 0, report.Succeeded)
	require.Equal(t, len(ids), report.Failed)

	for i, o := range report.Outcomes {
		require.Equal(t, ids[i], o.ImageID)
		require.False(t, o.OK)
		require.Equal(t, model.OutcomeNotFound, o.Code)
	}
}

func TestDetectFaces_SystemFaultFailsWholeCall(t *testing.T) {
	f := newFixture()
	id := f.seedStored(t, "good")
	f.repo.getErr = errors.New("connection refused")

	_, err := f.svc.DetectFaces(context.Background(), f.owner, []string{id.String()})
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrInvalidBatch)
}

func TestDetectFaces_RerunOverwritesResult(t *testing.T) {
	f := newFixture()
	id := f.seedStored(t, "good")

	_, err := f.svc.DetectFaces(context.Background(), f.owner, []string{id.String()})
	require.NoError(t, err)

	f.detector.result = model.DetectionResult{
		Faces:       []model.FaceDetection{{BoundingBox: model.BoundingBox{X: 1, Y: 1, Width: 50, Height: 60}, Confidence: 0.75}},
		ImageWidth:  800,
		ImageHeight: 600,
		Provider:    "stub",
	}

	report, err := f.svc.DetectFaces(context.Background(), f.owner, []string{id.String()})
	require.NoError(t, err)
	require.True(t, report.Outcomes[0].OK)

	rec, err := f.repo.GetByIDAndOwner(context.Background(), id, f.owner)
	require.NoError(t, err)
	require.Equal(t, 1, rec.Detection.FaceCount)
}

func TestDeleteImage_RemovesRecordAndFile(t *testing.T) {
	f := newFixture()
	id := f.seedStored(t, "data")

	res, err := f.svc.DeleteImage(context.Background(), f.owner, id)
	require.NoError(t, err)
	require.True(t, res.FileRemoved)

	_, err = f.svc.GetImage(context.Background(), f.owner, id)
	require.ErrorIs(t, err, imagerepo.ErrImageNotFound)
	require.Empty(t, f.storage.objects)
}

func TestDeleteImage_MissingFileStillDeletesRecord(t *testing.T) {
	f := newFixture()
	id := f.repo.seed(f.owner, "original/never-written.jpg")

	res, err := f.svc.DeleteImage(context.Background(), f.owner, id)
	require.NoError(t, err)
	require.False(t, res.FileRemoved)

	_, err = f.svc.GetImage(context.Background(), f.owner, id)
	require.ErrorIs(t, err, imagerepo.ErrImageNotFound)
}

func TestDeleteImage_NotFound(t *testing.T) {
	f := newFixture()

	_, err := f.svc.DeleteImage(context.Background(), f.owner, uuid.New())
	require.ErrorIs(t, err, imagerepo.ErrImageNotFound)
}

func TestBulkDelete_SkipsBadIDs(t *testing.T) {
	f := newFixture()
	id1 := f.seedStored(t, "one")
	id2 := f.seedStored(t, "two")

	deleted, filesRemoved := f.svc.BulkDelete(context.Background(), f.owner,
		[]string{id1.String(), "garbage", uuid.New().String(), id2.String()})

	require.Equal(t, 2, deleted)
	require.Equal(t, 2, filesRemoved)
}

func TestListImages_Pagination(t *testing.T) {
	f := newFixture()
	for i := 0; i < 3; i++ {
		f.seedStored(t, fmt.Sprintf("img-%d", i))
	}
	f.repo.listTotal = 45

	_, p, err := f.svc.ListImages(context.Background(), f.owner, model.ListFilter{Page: 2, Limit: 20})
	require.NoError(t, err)
	require.Equal(t, 2, p.Page)
	require.Equal(t, 20, p.Limit)
	require.Equal(t, 45, p.Total)
	require.Equal(t, 3, p.Pages)
}

func TestUploadImages_ProducerFailureDoesNotFailUpload(t *testing.T) {
	f := newFixture()
	f.producer.err = errors.New("broker unreachable")

	headers := makeFileHeaders(t, [3]string{"cat.jpg", "image/jpeg", "data"})

	report, err := f.svc.UploadImages(context.Background(), f.owner, headers)
	require.NoError(t, err)
	require.Len(t, report.Images, 1)
}
