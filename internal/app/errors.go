package app

import "errors"

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrUserNotFound      = errors.New("user not found")
	ErrUsernameExists    = errors.New("username already exists")
	ErrEmailExists       = errors.New("email already exists")
	ErrInvalidCredential = errors.New("invalid email or password")

	ErrConversationNotFound = errors.New("conversation not found")
	ErrMessageEmpty         = errors.New("message content is empty")
	ErrMessageEnqueue       = errors.New("message enqueue failed")

	// ErrNoUserStore signals teardown on a user who has no vector store; a
	// no-op for orchestration, distinct from a real failure.
	ErrNoUserStore = errors.New("no user vector store")
	// ErrPartialCleanup means local state was purged but some remote
	// resources could not be removed.
	ErrPartialCleanup = errors.New("remote cleanup incomplete")
	// ErrRunFailed means the completion run reached terminal failed status.
	ErrRunFailed = errors.New("assistant run failed")
	// ErrCompletionTimeout means the run did not reach a terminal status
	// within the configured poll budget.
	ErrCompletionTimeout = errors.New("assistant run timed out")

	ErrNothingToExport = errors.New("no conversations found")
	ErrSelfDemotion    = errors.New("cannot change your own admin status")
	ErrSelfDeletion    = errors.New("cannot delete your own account")
	ErrAdminExists     = errors.New("admin already exists")
)
