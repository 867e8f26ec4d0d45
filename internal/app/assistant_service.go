package app

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"lexchat/internal/ai"
	"lexchat/internal/model"
)

const (
	userAssistantInstructions = "You are a legal assistant that can access both the master law corpus and the user's uploaded documents. " +
		"When answering questions, prioritize information from the user's documents when relevant, " +
		"but also consult the master law corpus for comprehensive legal context. " +
		"Always cite your sources and specify whether information comes from user documents or the law corpus. " +
		"Respond in French and provide article numbers and law titles when applicable."

	masterAssistantInstructions = "Réponds aux questions en te basant sur le contenu du fichier enregistré. " +
		"À la fin, spécifie le numéro du titre de loi ainsi que le numéro de l'article."

	fallbackAssistantInstructions = "You are a legal assistant specializing in the law corpus. " +
		"Provide comprehensive answers based on the legal corpus. " +
		"Always cite your sources, including article numbers and law titles when applicable. " +
		"Respond in French and be precise in your legal explanations."

	// FallbackNotice is prepended to replies produced by a fallback session.
	FallbackNotice = "Note: Using standard law corpus (your documents were not found).\n\n"
	// NoResponseText stands in when a succeeded run left no assistant message.
	NoResponseText = "No response from the assistant."

	pdfMimeType = "application/pdf"

	retryAttempts = 3
)

// citationMarkerRe matches the bracketed provenance annotations the
// retrieval mechanism embeds in answers, e.g. 【4:0†source】.
var citationMarkerRe = regexp.MustCompile(`【[^】]*】`)

// AssistantAPI is the remote indexing/completion service surface the
// lifecycle manager depends on. *ai.Client satisfies it; tests inject fakes.
type AssistantAPI interface {
	UploadFile(ctx context.Context, filename string, r io.Reader, purpose string) (ai.File, error)
	RetrieveFile(ctx context.Context, fileID string) (ai.File, error)
	DeleteFile(ctx context.Context, fileID string) error
	CreateVectorStore(ctx context.Context, name string) (ai.VectorStore, error)
	DeleteVectorStore(ctx context.Context, storeID string) error
	ListVectorStoreFiles(ctx context.Context, storeID string) ([]ai.VectorStoreFile, error)
	DetachVectorStoreFile(ctx context.Context, storeID, fileID string) error
	CreateFileBatch(ctx context.Context, storeID string, fileIDs []string) (ai.FileBatch, error)
	RetrieveFileBatch(ctx context.Context, storeID, batchID string) (ai.FileBatch, error)
	CreateAssistant(ctx context.Context, req ai.AssistantRequest) (ai.Assistant, error)
	DeleteAssistant(ctx context.Context, assistantID string) error
	CreateThread(ctx context.Context) (ai.Thread, error)
	CreateThreadMessage(ctx context.Context, threadID, role, content string) error
	CreateRun(ctx context.Context, threadID, assistantID string) (ai.Run, error)
	RetrieveRun(ctx context.Context, threadID, runID string) (ai.Run, error)
	ListThreadMessages(ctx context.Context, threadID string, limit int) ([]ai.ThreadMessage, error)
}

// UserStore is the slice of the user repository the lifecycle manager needs.
type UserStore interface {
	GetByID(id uint) (*model.User, error)
	SetVectorStoreID(userID uint, storeID *string) error
}

// UserFileStore persists uploaded-document metadata.
type UserFileStore interface {
	Create(file *model.UserFile) error
	ListByUserID(userID uint) ([]model.UserFile, error)
	DeleteByUserID(userID uint) error
	CountByUserID(userID uint) (int64, error)
}

// RetrievalSession is the cached per-user handle onto the remote service:
// the assistant, its thread and the vector store it is bound to. Sessions
// are process-local; a restart re-provisions from the durable store ID.
type RetrievalSession struct {
	UserID        uint
	AssistantID   string
	ThreadID      string
	VectorStoreID string
	MasterOnly    bool
	Fallback      bool
}

// sessionCache holds active sessions and a lock per user so that two
// concurrent first requests cannot race the check-then-create sequence into
// duplicate remote stores or assistants.
type sessionCache struct {
	mu       sync.Mutex
	sessions map[uint]*RetrievalSession
	locks    map[uint]*sync.Mutex
}

func newSessionCache() *sessionCache {
	return &sessionCache{
		sessions: make(map[uint]*RetrievalSession),
		locks:    make(map[uint]*sync.Mutex),
	}
}

func (c *sessionCache) userLock(userID uint) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	lock, ok := c.locks[userID]
	if !ok {
		lock = &sync.Mutex{}
		c.locks[userID] = lock
	}
	return lock
}

func (c *sessionCache) get(userID uint) *RetrievalSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessions[userID]
}

func (c *sessionCache) put(session *RetrievalSession) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions[session.UserID] = session
}

func (c *sessionCache) delete(userID uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, userID)
}

// AssistantOptions configures the lifecycle manager.
type AssistantOptions struct {
	Model               string
	MasterVectorStoreID string
	PollInterval        time.Duration
	MaxPolls            int
	RetryDelay          time.Duration
}

// AssistantService owns the per-user retrieval-session lifecycle: lazy
// vector-store provisioning seeded from the master corpus, document
// attachment, the grounded-completion polling protocol, and teardown.
type AssistantService struct {
	api   AssistantAPI
	users UserStore
	files UserFileStore
	opts  AssistantOptions
	cache *sessionCache
}

func NewAssistantService(api AssistantAPI, users UserStore, files UserFileStore, opts AssistantOptions) *AssistantService {
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.MaxPolls <= 0 {
		opts.MaxPolls = 120
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Second
	}
	return &AssistantService{
		api:   api,
		users: users,
		files: files,
		opts:  opts,
		cache: newSessionCache(),
	}
}

// EnsureVectorStore returns the user's durable vector store ID, creating and
// seeding the store on first need.
func (s *AssistantService) EnsureVectorStore(ctx context.Context, userID uint, username string) (string, error) {
	lock := s.cache.userLock(userID)
	lock.Lock()
	defer lock.Unlock()
	return s.ensureVectorStoreLocked(ctx, userID, username)
}

func (s *AssistantService) ensureVectorStoreLocked(ctx context.Context, userID uint, username string) (string, error) {
	user, err := s.users.GetByID(userID)
	if err != nil {
		return "", err
	}
	if user == nil {
		return "", ErrUserNotFound
	}
	if user.VectorStoreID != nil && *user.VectorStoreID != "" {
		return *user.VectorStoreID, nil
	}

	store, err := s.api.CreateVectorStore(ctx, username+"_documents")
	if err != nil {
		return "", fmt.Errorf("create vector store failed: %w", err)
	}

	// Seeding from the master corpus is best-effort: a user with an empty
	// store can still upload their own documents.
	if err := s.seedFromMaster(ctx, store.ID); err != nil {
		log.Printf("copy master corpus to store %s for user %s failed: %v", store.ID, username, err)
	}

	if err := s.users.SetVectorStoreID(userID, &store.ID); err != nil {
		return "", fmt.Errorf("persist vector store id failed: %w", err)
	}

	log.Printf("created vector store %s for user %s", store.ID, username)
	return store.ID, nil
}

// seedFromMaster copies references to the confirmed-live master corpus files
// into the given store and waits for the batch to settle.
func (s *AssistantService) seedFromMaster(ctx context.Context, storeID string) error {
	if s.opts.MasterVectorStoreID == "" {
		return nil
	}

	masterFiles, err := s.api.ListVectorStoreFiles(ctx, s.opts.MasterVectorStoreID)
	if err != nil {
		return fmt.Errorf("list master corpus files failed: %w", err)
	}
	if len(masterFiles) == 0 {
		return nil
	}

	// A file can be deleted server-side while its store reference lingers;
	// keep only the ones that still resolve.
	liveIDs := make([]string, 0, len(masterFiles))
	for _, ref := range masterFiles {
		if _, err := s.api.RetrieveFile(ctx, ref.ID); err != nil {
			log.Printf("master file %s no longer exists, skipping: %v", ref.ID, err)
			continue
		}
		liveIDs = append(liveIDs, ref.ID)
	}
	if len(liveIDs) == 0 {
		log.Printf("no live master corpus files to copy into store %s", storeID)
		return nil
	}

	batch, err := s.api.CreateFileBatch(ctx, storeID, liveIDs)
	if err != nil {
		return fmt.Errorf("attach master corpus batch failed: %w", err)
	}
	if err := s.waitForBatch(ctx, storeID, batch); err != nil {
		return err
	}

	log.Printf("copied %d master corpus files into store %s", len(liveIDs), storeID)
	return nil
}

// EnsureSession returns the user's cached retrieval session, provisioning
// one if needed. With masterOnly the session is bound straight to the master
// corpus. A stale stored vector store is recovered by clearing the reference
// and falling back to the master corpus; the session is flagged so callers
// can surface the notice.
func (s *AssistantService) EnsureSession(ctx context.Context, userID uint, username string, masterOnly bool) (*RetrievalSession, error) {
	lock := s.cache.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	if session := s.cache.get(userID); session != nil {
		return session, nil
	}

	var (
		storeID      string
		instructions string
		name         string
	)
	if masterOnly {
		storeID = s.opts.MasterVectorStoreID
		instructions = masterAssistantInstructions
		name = "File Query Assistant"
	} else {
		var err error
		storeID, err = s.ensureVectorStoreLocked(ctx, userID, username)
		if err != nil {
			return nil, err
		}
		instructions = userAssistantInstructions
		name = "File-Assistant-" + username
	}

	fallback := false
	assistant, err := s.api.CreateAssistant(ctx, ai.AssistantRequest{
		Name:           name,
		Instructions:   instructions,
		Model:          s.opts.Model,
		VectorStoreIDs: []string{storeID},
	})
	if err != nil {
		if masterOnly || !ai.IsStaleVectorStore(err) {
			return nil, fmt.Errorf("create assistant failed: %w", err)
		}

		// The stored reference points at a store the remote side no longer
		// knows. Clear it so the next provisioning starts clean, and serve
		// this turn from the master corpus.
		log.Printf("vector store %s for user %s not found, falling back to master corpus", storeID, username)
		if dbErr := s.users.SetVectorStoreID(userID, nil); dbErr != nil {
			log.Printf("reset stale vector store id for user %s failed: %v", username, dbErr)
		}

		assistant, err = s.api.CreateAssistant(ctx, ai.AssistantRequest{
			Name:           "File-Assistant-" + username + "-Fallback",
			Instructions:   fallbackAssistantInstructions,
			Model:          s.opts.Model,
			VectorStoreIDs: []string{s.opts.MasterVectorStoreID},
		})
		if err != nil {
			return nil, fmt.Errorf("create fallback assistant failed: %w", err)
		}
		storeID = s.opts.MasterVectorStoreID
		fallback = true
	}

	thread, err := s.api.CreateThread(ctx)
	if err != nil {
		return nil, fmt.Errorf("create thread failed: %w", err)
	}

	session := &RetrievalSession{
		UserID:        userID,
		AssistantID:   assistant.ID,
		ThreadID:      thread.ID,
		VectorStoreID: storeID,
		MasterOnly:    masterOnly,
		Fallback:      fallback,
	}
	s.cache.put(session)
	return session, nil
}

// UploadedFile describes one file already staged on local disk by the
// transport layer.
type UploadedFile struct {
	Path         string
	OriginalName string
	MimeType     string
	Size         int64
}

type AttachedFile struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

type AttachResult struct {
	VectorStoreID string         `json:"vector_store_id"`
	AcceptedCount int            `json:"accepted_count"`
	Files         []AttachedFile `json:"files"`
}

// AttachDocuments uploads the staged files to the remote service, attaches
// them to the user's vector store in one batch, and records the metadata.
// Unlike master-corpus seeding, any per-file failure aborts the whole call.
// Local temp copies are removed on every exit path.
func (s *AssistantService) AttachDocuments(ctx context.Context, userID uint, username string, files []UploadedFile) (_ *AttachResult, err error) {
	defer func() {
		for _, f := range files {
			if rmErr := os.Remove(f.Path); rmErr != nil && !os.IsNotExist(rmErr) {
				log.Printf("remove temp file %s failed: %v", f.Path, rmErr)
			}
		}
	}()

	if len(files) == 0 {
		return nil, ErrInvalidInput
	}
	accepted := make([]UploadedFile, 0, len(files))
	for _, f := range files {
		if f.MimeType == pdfMimeType {
			accepted = append(accepted, f)
		}
	}
	if len(accepted) == 0 {
		return nil, ErrInvalidInput
	}

	lock := s.cache.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	storeID, err := s.ensureVectorStoreLocked(ctx, userID, username)
	if err != nil {
		return nil, err
	}

	remoteIDs := make([]string, 0, len(accepted))
	for i := range accepted {
		remoteID, uploadErr := s.uploadOne(ctx, accepted[i])
		if uploadErr != nil {
			return nil, fmt.Errorf("upload %s failed: %w", accepted[i].OriginalName, uploadErr)
		}
		remoteIDs = append(remoteIDs, remoteID)
	}

	batch, err := s.api.CreateFileBatch(ctx, storeID, remoteIDs)
	if err != nil {
		return nil, fmt.Errorf("attach file batch failed: %w", err)
	}
	if err := s.waitForBatch(ctx, storeID, batch); err != nil {
		return nil, err
	}

	result := &AttachResult{
		VectorStoreID: storeID,
		AcceptedCount: len(accepted),
		Files:         make([]AttachedFile, 0, len(accepted)),
	}
	for i, f := range accepted {
		record := &model.UserFile{
			UserID:       userID,
			StoredPath:   f.Path,
			OriginalName: f.OriginalName,
			RemoteFileID: remoteIDs[i],
			FileSize:     f.Size,
		}
		if err := s.files.Create(record); err != nil {
			return nil, err
		}
		result.Files = append(result.Files, AttachedFile{Name: f.OriginalName, Size: f.Size})
	}

	return result, nil
}

func (s *AssistantService) uploadOne(ctx context.Context, f UploadedFile) (string, error) {
	reader, err := os.Open(f.Path)
	if err != nil {
		return "", fmt.Errorf("open staged file failed: %w", err)
	}
	defer reader.Close()

	remote, err := s.api.UploadFile(ctx, f.OriginalName, reader, "assistants")
	if err != nil {
		return "", err
	}
	return remote.ID, nil
}

// waitForBatch polls a file batch until it settles, bounded by the same poll
// budget as completion runs.
func (s *AssistantService) waitForBatch(ctx context.Context, storeID string, batch ai.FileBatch) error {
	for polls := 0; !batch.Terminal(); polls++ {
		if polls >= s.opts.MaxPolls {
			return ErrCompletionTimeout
		}
		if err := sleepCtx(ctx, s.opts.PollInterval); err != nil {
			return err
		}
		var err error
		err = s.retry(ctx, func() error {
			var callErr error
			batch, callErr = s.api.RetrieveFileBatch(ctx, storeID, batch.ID)
			return callErr
		})
		if err != nil {
			return fmt.Errorf("poll file batch failed: %w", err)
		}
	}
	if batch.Status != ai.StatusCompleted {
		return fmt.Errorf("file batch ended with status %s", batch.Status)
	}
	return nil
}

// AskResult carries the answer plus the session flags the route layer needs
// to shape its response.
type AskResult struct {
	Reply      string
	Fallback   bool
	MasterOnly bool
}

// Ask appends the user text to the session thread, starts a completion run
// and polls it to a terminal state, then extracts the newest assistant
// message. Citation markers are stripped before the text leaves this layer;
// fallback sessions get the notice prefixed.
func (s *AssistantService) Ask(ctx context.Context, session *RetrievalSession, text string) (*AskResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrMessageEmpty
	}

	state := RunIdle

	err := s.retry(ctx, func() error {
		return s.api.CreateThreadMessage(ctx, session.ThreadID, model.RoleUser, text)
	})
	if err != nil {
		return nil, fmt.Errorf("queue thread message failed: %w", err)
	}
	state = RunMessageQueued

	var run ai.Run
	err = s.retry(ctx, func() error {
		var callErr error
		run, callErr = s.api.CreateRun(ctx, session.ThreadID, session.AssistantID)
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("start run failed: %w", err)
	}
	state = RunJobRunning

	for polls := 0; !state.Terminal(); polls++ {
		if polls >= s.opts.MaxPolls {
			return nil, ErrCompletionTimeout
		}
		if err := sleepCtx(ctx, s.opts.PollInterval); err != nil {
			return nil, err
		}
		err = s.retry(ctx, func() error {
			var callErr error
			run, callErr = s.api.RetrieveRun(ctx, session.ThreadID, run.ID)
			return callErr
		})
		if err != nil {
			return nil, fmt.Errorf("poll run failed: %w", err)
		}
		state = NextRunState(state, run.Status)
	}

	if state == RunJobFailed {
		return nil, ErrRunFailed
	}

	var messages []ai.ThreadMessage
	err = s.retry(ctx, func() error {
		var callErr error
		messages, callErr = s.api.ListThreadMessages(ctx, session.ThreadID, 20)
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("list thread messages failed: %w", err)
	}

	reply := NoResponseText
	for _, msg := range messages {
		if msg.Role == model.RoleAssistant {
			reply = StripCitationMarkers(msg.Text())
			break
		}
	}
	if session.Fallback {
		reply = FallbackNotice + reply
	}

	return &AskResult{
		Reply:      reply,
		Fallback:   session.Fallback,
		MasterOnly: session.MasterOnly,
	}, nil
}

// ClearSession tears down everything the user owns remotely and purges local
// references. Remote failures do not stop the local purge; they downgrade
// the outcome to ErrPartialCleanup.
func (s *AssistantService) ClearSession(ctx context.Context, userID uint) error {
	lock := s.cache.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	user, err := s.users.GetByID(userID)
	if err != nil {
		return err
	}
	if user == nil {
		return ErrUserNotFound
	}
	if user.VectorStoreID == nil || *user.VectorStoreID == "" {
		return ErrNoUserStore
	}
	storeID := *user.VectorStoreID

	remoteFailed := false

	refs, err := s.api.ListVectorStoreFiles(ctx, storeID)
	if err != nil {
		log.Printf("list store files during teardown failed: %v", err)
		remoteFailed = true
	}
	for _, ref := range refs {
		// Detach first, then delete: the store holds references, the file
		// is a separate object.
		if err := s.api.DetachVectorStoreFile(ctx, storeID, ref.ID); err != nil {
			log.Printf("detach file %s during teardown failed: %v", ref.ID, err)
			remoteFailed = true
		}
		if err := s.api.DeleteFile(ctx, ref.ID); err != nil {
			log.Printf("delete file %s during teardown failed: %v", ref.ID, err)
			remoteFailed = true
		}
	}

	if err := s.api.DeleteVectorStore(ctx, storeID); err != nil {
		log.Printf("delete vector store %s during teardown failed: %v", storeID, err)
		remoteFailed = true
	}

	if session := s.cache.get(userID); session != nil {
		if err := s.api.DeleteAssistant(ctx, session.AssistantID); err != nil {
			log.Printf("delete assistant %s during teardown failed: %v", session.AssistantID, err)
			remoteFailed = true
		}
		s.cache.delete(userID)
	}

	// Local state must never keep pointing at resources the user can no
	// longer reach, even if remote garbage is left behind.
	if err := s.files.DeleteByUserID(userID); err != nil {
		return err
	}
	if err := s.users.SetVectorStoreID(userID, nil); err != nil {
		return err
	}

	if remoteFailed {
		return ErrPartialCleanup
	}
	return nil
}

// DropSession removes the cached session without touching remote state.
func (s *AssistantService) DropSession(userID uint) {
	s.cache.delete(userID)
}

// HasUserDocuments reports whether the user has any provisioned store or
// uploaded files; without either, grounded questions run master-only.
func (s *AssistantService) HasUserDocuments(userID uint) (bool, error) {
	user, err := s.users.GetByID(userID)
	if err != nil {
		return false, err
	}
	if user == nil {
		return false, ErrUserNotFound
	}
	if user.VectorStoreID != nil && *user.VectorStoreID != "" {
		return true, nil
	}
	count, err := s.files.CountByUserID(userID)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// StripCitationMarkers removes the internal provenance annotations from text
// destined for the end user.
func StripCitationMarkers(text string) string {
	return citationMarkerRe.ReplaceAllString(text, "")
}

// retry runs op up to retryAttempts times with a fixed delay; the final
// attempt's error is returned as-is.
func (s *AssistantService) retry(ctx context.Context, op func() error) error {
	var err error
	for attempt := 1; attempt <= retryAttempts; attempt++ {
		if err = op(); err == nil {
			return nil
		}
		log.Printf("remote call failed (attempt %d/%d): %v", attempt, retryAttempts, err)
		if attempt == retryAttempts {
			break
		}
		if sleepErr := sleepCtx(ctx, s.opts.RetryDelay); sleepErr != nil {
			return sleepErr
		}
	}
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
