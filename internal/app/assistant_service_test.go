package app

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lexchat/internal/ai"
	"lexchat/internal/model"
)

type fakeAssistantAPI struct {
	totalCalls int

	masterFiles     []ai.VectorStoreFile
	deadMasterFiles map[string]bool
	createdStores   []string

	uploadedFiles []string
	batchedFiles  [][]string

	createAssistantErrs []error
	createdAssistants   []ai.AssistantRequest

	runStatuses      []string
	retrieveRunCalls int
	threadMessages   []ai.ThreadMessage

	storeFiles        []ai.VectorStoreFile
	detachedFiles     []string
	deletedFiles      []string
	deletedStores     []string
	deletedAssistants []string

	failDetach     bool
	failDeleteFile bool
	failStore      bool
}

func (f *fakeAssistantAPI) UploadFile(_ context.Context, filename string, r io.Reader, _ string) (ai.File, error) {
	f.totalCalls++
	_, _ = io.ReadAll(r)
	f.uploadedFiles = append(f.uploadedFiles, filename)
	return ai.File{ID: "file_" + filename}, nil
}

func (f *fakeAssistantAPI) RetrieveFile(_ context.Context, fileID string) (ai.File, error) {
	f.totalCalls++
	if f.deadMasterFiles[fileID] {
		return ai.File{}, &ai.APIError{StatusCode: http.StatusNotFound, Message: "No such file"}
	}
	return ai.File{ID: fileID}, nil
}

func (f *fakeAssistantAPI) DeleteFile(_ context.Context, fileID string) error {
	f.totalCalls++
	if f.failDeleteFile {
		return errors.New("delete file refused")
	}
	f.deletedFiles = append(f.deletedFiles, fileID)
	return nil
}

func (f *fakeAssistantAPI) CreateVectorStore(_ context.Context, name string) (ai.VectorStore, error) {
	f.totalCalls++
	id := "vs_" + name
	f.createdStores = append(f.createdStores, id)
	return ai.VectorStore{ID: id, Name: name}, nil
}

func (f *fakeAssistantAPI) DeleteVectorStore(_ context.Context, storeID string) error {
	f.totalCalls++
	if f.failStore {
		return errors.New("delete store refused")
	}
	f.deletedStores = append(f.deletedStores, storeID)
	return nil
}

func (f *fakeAssistantAPI) ListVectorStoreFiles(_ context.Context, storeID string) ([]ai.VectorStoreFile, error) {
	f.totalCalls++
	if storeID == "vs_master" {
		return f.masterFiles, nil
	}
	return f.storeFiles, nil
}

func (f *fakeAssistantAPI) DetachVectorStoreFile(_ context.Context, _, fileID string) error {
	f.totalCalls++
	if f.failDetach {
		return errors.New("detach refused")
	}
	f.detachedFiles = append(f.detachedFiles, fileID)
	return nil
}

func (f *fakeAssistantAPI) CreateFileBatch(_ context.Context, _ string, fileIDs []string) (ai.FileBatch, error) {
	f.totalCalls++
	f.batchedFiles = append(f.batchedFiles, fileIDs)
	return ai.FileBatch{ID: "batch_1", Status: ai.StatusCompleted}, nil
}

func (f *fakeAssistantAPI) RetrieveFileBatch(_ context.Context, _, batchID string) (ai.FileBatch, error) {
	f.totalCalls++
	return ai.FileBatch{ID: batchID, Status: ai.StatusCompleted}, nil
}

func (f *fakeAssistantAPI) CreateAssistant(_ context.Context, req ai.AssistantRequest) (ai.Assistant, error) {
	f.totalCalls++
	if len(f.createAssistantErrs) > 0 {
		err := f.createAssistantErrs[0]
		f.createAssistantErrs = f.createAssistantErrs[1:]
		if err != nil {
			return ai.Assistant{}, err
		}
	}
	f.createdAssistants = append(f.createdAssistants, req)
	return ai.Assistant{ID: "asst_" + req.Name, Name: req.Name}, nil
}

func (f *fakeAssistantAPI) DeleteAssistant(_ context.Context, assistantID string) error {
	f.totalCalls++
	f.deletedAssistants = append(f.deletedAssistants, assistantID)
	return nil
}

func (f *fakeAssistantAPI) CreateThread(_ context.Context) (ai.Thread, error) {
	f.totalCalls++
	return ai.Thread{ID: "thread_1"}, nil
}

func (f *fakeAssistantAPI) CreateThreadMessage(_ context.Context, _, _, _ string) error {
	f.totalCalls++
	return nil
}

func (f *fakeAssistantAPI) CreateRun(_ context.Context, _, _ string) (ai.Run, error) {
	f.totalCalls++
	return ai.Run{ID: "run_1", Status: ai.StatusQueued}, nil
}

func (f *fakeAssistantAPI) RetrieveRun(_ context.Context, _, runID string) (ai.Run, error) {
	f.totalCalls++
	status := ai.StatusInProgress
	if f.retrieveRunCalls < len(f.runStatuses) {
		status = f.runStatuses[f.retrieveRunCalls]
	}
	f.retrieveRunCalls++
	return ai.Run{ID: runID, Status: status}, nil
}

func (f *fakeAssistantAPI) ListThreadMessages(_ context.Context, _ string, _ int) ([]ai.ThreadMessage, error) {
	f.totalCalls++
	return f.threadMessages, nil
}

type fakeUserStore struct {
	user          *model.User
	storeIDWrites []*string
}

func (s *fakeUserStore) GetByID(id uint) (*model.User, error) {
	if s.user != nil && s.user.ID == id {
		return s.user, nil
	}
	return nil, nil
}

func (s *fakeUserStore) SetVectorStoreID(_ uint, storeID *string) error {
	s.storeIDWrites = append(s.storeIDWrites, storeID)
	s.user.VectorStoreID = storeID
	return nil
}

type fakeUserFileStore struct {
	records []model.UserFile
	purged  bool
}

func (s *fakeUserFileStore) Create(file *model.UserFile) error {
	s.records = append(s.records, *file)
	return nil
}

func (s *fakeUserFileStore) ListByUserID(userID uint) ([]model.UserFile, error) {
	return s.records, nil
}

func (s *fakeUserFileStore) DeleteByUserID(_ uint) error {
	s.purged = true
	s.records = nil
	return nil
}

func (s *fakeUserFileStore) CountByUserID(_ uint) (int64, error) {
	return int64(len(s.records)), nil
}

func newTestService(api *fakeAssistantAPI, users *fakeUserStore, files *fakeUserFileStore) *AssistantService {
	return NewAssistantService(api, users, files, AssistantOptions{
		Model:               "gpt-test",
		MasterVectorStoreID: "vs_master",
		PollInterval:        time.Millisecond,
		MaxPolls:            10,
		RetryDelay:          time.Millisecond,
	})
}

func testUser() *model.User {
	return &model.User{ID: 7, Username: "alice", Email: "alice@example.com"}
}

func assistantTextMessage(text string) ai.ThreadMessage {
	var part ai.MessagePart
	part.Type = "text"
	part.Text.Value = text
	return ai.ThreadMessage{Role: model.RoleAssistant, Content: []ai.MessagePart{part}}
}

func stagedFile(t *testing.T, name string) UploadedFile {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "staged-*.pdf")
	require.NoError(t, err)
	_, err = f.WriteString("%PDF-1.4 test content")
	require.NoError(t, err)
	require.NoError(t, f.Close())
	return UploadedFile{
		Path:         f.Name(),
		OriginalName: name,
		MimeType:     "application/pdf",
		Size:         21,
	}
}

func TestEnsureVectorStoreReturnsExistingWithoutRemoteCalls(t *testing.T) {
	existing := "vs_already_there"
	users := &fakeUserStore{user: testUser()}
	users.user.VectorStoreID = &existing
	api := &fakeAssistantAPI{}

	svc := newTestService(api, users, &fakeUserFileStore{})
	storeID, err := svc.EnsureVectorStore(context.Background(), 7, "alice")

	require.NoError(t, err)
	assert.Equal(t, existing, storeID)
	assert.Zero(t, api.totalCalls)
}

func TestEnsureVectorStoreSeedsOnlyLiveMasterFiles(t *testing.T) {
	users := &fakeUserStore{user: testUser()}
	api := &fakeAssistantAPI{
		masterFiles: []ai.VectorStoreFile{
			{ID: "file_a"}, {ID: "file_b"}, {ID: "file_c"},
		},
		deadMasterFiles: map[string]bool{"file_b": true},
	}

	svc := newTestService(api, users, &fakeUserFileStore{})
	storeID, err := svc.EnsureVectorStore(context.Background(), 7, "alice")

	require.NoError(t, err)
	assert.Equal(t, "vs_alice_documents", storeID)
	require.Len(t, api.batchedFiles, 1)
	assert.Equal(t, []string{"file_a", "file_c"}, api.batchedFiles[0])
	require.NotNil(t, users.user.VectorStoreID)
	assert.Equal(t, storeID, *users.user.VectorStoreID)
}

func TestEnsureSessionFallsBackOnStaleStore(t *testing.T) {
	stale := "vs_gone"
	users := &fakeUserStore{user: testUser()}
	users.user.VectorStoreID = &stale
	api := &fakeAssistantAPI{
		createAssistantErrs: []error{
			&ai.APIError{StatusCode: http.StatusNotFound, Message: "Vector store vs_gone not found"},
		},
	}

	svc := newTestService(api, users, &fakeUserFileStore{})
	session, err := svc.EnsureSession(context.Background(), 7, "alice", false)

	require.NoError(t, err)
	assert.True(t, session.Fallback)
	assert.Equal(t, "vs_master", session.VectorStoreID)
	require.Len(t, api.createdAssistants, 1)
	assert.Equal(t, "File-Assistant-alice-Fallback", api.createdAssistants[0].Name)

	// The stale reference must be cleared so the next provisioning starts
	// from scratch.
	require.NotEmpty(t, users.storeIDWrites)
	assert.Nil(t, users.storeIDWrites[len(users.storeIDWrites)-1])
}

func TestEnsureSessionCachesPerUser(t *testing.T) {
	existing := "vs_cached"
	users := &fakeUserStore{user: testUser()}
	users.user.VectorStoreID = &existing
	api := &fakeAssistantAPI{}

	svc := newTestService(api, users, &fakeUserFileStore{})
	first, err := svc.EnsureSession(context.Background(), 7, "alice", false)
	require.NoError(t, err)

	callsAfterFirst := api.totalCalls
	second, err := svc.EnsureSession(context.Background(), 7, "alice", false)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, callsAfterFirst, api.totalCalls)
}

func TestAttachDocumentsRejectsNonPDFWithoutRemoteCalls(t *testing.T) {
	users := &fakeUserStore{user: testUser()}
	api := &fakeAssistantAPI{}
	file := stagedFile(t, "notes.txt")
	file.MimeType = "text/plain"

	svc := newTestService(api, users, &fakeUserFileStore{})
	_, err := svc.AttachDocuments(context.Background(), 7, "alice", []UploadedFile{file})

	require.ErrorIs(t, err, ErrInvalidInput)
	assert.Zero(t, api.totalCalls)
	_, statErr := os.Stat(file.Path)
	assert.True(t, os.IsNotExist(statErr), "staged file must be removed on rejection")
}

func TestAttachDocumentsUploadsBatchesAndRecords(t *testing.T) {
	existing := "vs_alice"
	users := &fakeUserStore{user: testUser()}
	users.user.VectorStoreID = &existing
	api := &fakeAssistantAPI{}
	files := &fakeUserFileStore{}
	a := stagedFile(t, "contract.pdf")
	b := stagedFile(t, "lease.pdf")

	svc := newTestService(api, users, files)
	result, err := svc.AttachDocuments(context.Background(), 7, "alice", []UploadedFile{a, b})

	require.NoError(t, err)
	assert.Equal(t, 2, result.AcceptedCount)
	assert.Equal(t, "vs_alice", result.VectorStoreID)
	assert.Equal(t, []string{"contract.pdf", "lease.pdf"}, api.uploadedFiles)
	require.Len(t, api.batchedFiles, 1)
	assert.Equal(t, []string{"file_contract.pdf", "file_lease.pdf"}, api.batchedFiles[0])
	require.Len(t, files.records, 2)
	assert.Equal(t, "contract.pdf", files.records[0].OriginalName)

	for _, f := range []UploadedFile{a, b} {
		_, statErr := os.Stat(f.Path)
		assert.True(t, os.IsNotExist(statErr), "staged file must be removed after success")
	}
}

func TestAskPollsUntilCompletedAndStripsCitations(t *testing.T) {
	existing := "vs_alice"
	users := &fakeUserStore{user: testUser()}
	users.user.VectorStoreID = &existing
	api := &fakeAssistantAPI{
		runStatuses: []string{ai.StatusInProgress, ai.StatusInProgress, ai.StatusCompleted},
		threadMessages: []ai.ThreadMessage{
			assistantTextMessage("Article 12 applies here【4:0†source】."),
		},
	}

	svc := newTestService(api, users, &fakeUserFileStore{})
	session, err := svc.EnsureSession(context.Background(), 7, "alice", false)
	require.NoError(t, err)

	result, err := svc.Ask(context.Background(), session, "What article applies?")
	require.NoError(t, err)
	assert.Equal(t, "Article 12 applies here.", result.Reply)
	assert.Equal(t, 3, api.retrieveRunCalls)
}

func TestAskFailedRunReturnsErrRunFailed(t *testing.T) {
	existing := "vs_alice"
	users := &fakeUserStore{user: testUser()}
	users.user.VectorStoreID = &existing
	api := &fakeAssistantAPI{
		runStatuses: []string{ai.StatusFailed},
	}

	svc := newTestService(api, users, &fakeUserFileStore{})
	session, err := svc.EnsureSession(context.Background(), 7, "alice", false)
	require.NoError(t, err)

	_, err = svc.Ask(context.Background(), session, "hello")
	require.ErrorIs(t, err, ErrRunFailed)
}

func TestAskTimesOutAfterPollBudget(t *testing.T) {
	existing := "vs_alice"
	users := &fakeUserStore{user: testUser()}
	users.user.VectorStoreID = &existing
	api := &fakeAssistantAPI{} // RetrieveRun keeps answering in_progress

	svc := NewAssistantService(api, users, &fakeUserFileStore{}, AssistantOptions{
		Model:               "gpt-test",
		MasterVectorStoreID: "vs_master",
		PollInterval:        time.Millisecond,
		MaxPolls:            3,
		RetryDelay:          time.Millisecond,
	})
	session, err := svc.EnsureSession(context.Background(), 7, "alice", false)
	require.NoError(t, err)

	_, err = svc.Ask(context.Background(), session, "hello")
	require.ErrorIs(t, err, ErrCompletionTimeout)
	assert.Equal(t, 3, api.retrieveRunCalls)
}

func TestAskPrefixesFallbackNotice(t *testing.T) {
	stale := "vs_gone"
	users := &fakeUserStore{user: testUser()}
	users.user.VectorStoreID = &stale
	api := &fakeAssistantAPI{
		createAssistantErrs: []error{
			&ai.APIError{StatusCode: http.StatusNotFound, Message: "Vector store vs_gone not found"},
		},
		runStatuses: []string{ai.StatusCompleted},
	}

	svc := newTestService(api, users, &fakeUserFileStore{})
	session, err := svc.EnsureSession(context.Background(), 7, "alice", false)
	require.NoError(t, err)
	require.True(t, session.Fallback)

	result, err := svc.Ask(context.Background(), session, "hello")
	require.NoError(t, err)
	assert.True(t, result.Fallback)
	assert.Equal(t, FallbackNotice+NoResponseText, result.Reply)
}

func TestClearSessionRemovesEverything(t *testing.T) {
	existing := "vs_alice"
	users := &fakeUserStore{user: testUser()}
	users.user.VectorStoreID = &existing
	api := &fakeAssistantAPI{
		storeFiles: []ai.VectorStoreFile{{ID: "file_1"}, {ID: "file_2"}, {ID: "file_3"}},
	}
	files := &fakeUserFileStore{records: []model.UserFile{{UserID: 7}}}

	svc := newTestService(api, users, files)
	session, err := svc.EnsureSession(context.Background(), 7, "alice", false)
	require.NoError(t, err)

	err = svc.ClearSession(context.Background(), 7)
	require.NoError(t, err)

	assert.Equal(t, []string{"file_1", "file_2", "file_3"}, api.detachedFiles)
	assert.Equal(t, []string{"file_1", "file_2", "file_3"}, api.deletedFiles)
	assert.Equal(t, []string{"vs_alice"}, api.deletedStores)
	assert.Equal(t, []string{session.AssistantID}, api.deletedAssistants)
	assert.True(t, files.purged)
	assert.Nil(t, users.user.VectorStoreID)
}

func TestClearSessionPurgesLocallyDespiteRemoteFailures(t *testing.T) {
	existing := "vs_alice"
	users := &fakeUserStore{user: testUser()}
	users.user.VectorStoreID = &existing
	api := &fakeAssistantAPI{
		storeFiles:     []ai.VectorStoreFile{{ID: "file_1"}},
		failDetach:     true,
		failDeleteFile: true,
		failStore:      true,
	}
	files := &fakeUserFileStore{records: []model.UserFile{{UserID: 7}}}

	svc := newTestService(api, users, files)
	err := svc.ClearSession(context.Background(), 7)

	require.ErrorIs(t, err, ErrPartialCleanup)
	assert.True(t, files.purged)
	assert.Nil(t, users.user.VectorStoreID)
}

func TestClearSessionWithoutStore(t *testing.T) {
	users := &fakeUserStore{user: testUser()}
	svc := newTestService(&fakeAssistantAPI{}, users, &fakeUserFileStore{})

	err := svc.ClearSession(context.Background(), 7)
	require.ErrorIs(t, err, ErrNoUserStore)
}

func TestHasUserDocuments(t *testing.T) {
	users := &fakeUserStore{user: testUser()}
	files := &fakeUserFileStore{}
	svc := newTestService(&fakeAssistantAPI{}, users, files)

	has, err := svc.HasUserDocuments(7)
	require.NoError(t, err)
	assert.False(t, has)

	files.records = append(files.records, model.UserFile{UserID: 7})
	has, err = svc.HasUserDocuments(7)
	require.NoError(t, err)
	assert.True(t, has)
}

func TestStripCitationMarkers(t *testing.T) {
	in := "Per article 5【12:3†corpus】 and article 9【1:0†source】, yes."
	assert.Equal(t, "Per article 5 and article 9, yes.", StripCitationMarkers(in))
	assert.Equal(t, "untouched", StripCitationMarkers("untouched"))
}
