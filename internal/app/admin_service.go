package app

import (
	"context"
	"errors"
	"log"
	"time"

	"lexchat/internal/model"
	"lexchat/internal/repository"
)

// SessionCleaner is the teardown surface of the retrieval lifecycle used
// when an account is removed. *AssistantService satisfies it.
type SessionCleaner interface {
	ClearSession(ctx context.Context, userID uint) error
}

type AdminService struct {
	userRepo         *repository.UserRepository
	conversationRepo *repository.ConversationRepository
	messageRepo      *repository.MessageRepository
	fileRepo         *repository.UserFileRepository
	cleaner          SessionCleaner
}

func NewAdminService(
	userRepo *repository.UserRepository,
	conversationRepo *repository.ConversationRepository,
	messageRepo *repository.MessageRepository,
	fileRepo *repository.UserFileRepository,
	cleaner SessionCleaner,
) *AdminService {
	return &AdminService{
		userRepo:         userRepo,
		conversationRepo: conversationRepo,
		messageRepo:      messageRepo,
		fileRepo:         fileRepo,
		cleaner:          cleaner,
	}
}

type UserSummary struct {
	ID                uint      `json:"id"`
	Username          string    `json:"username"`
	Email             string    `json:"email"`
	IsAdmin           bool      `json:"is_admin"`
	RequestCount      int       `json:"request_count"`
	ConversationCount int64     `json:"conversation_count"`
	HasVectorStore    bool      `json:"has_vector_store"`
	CreatedAt         time.Time `json:"created_at"`
}

type UserDetail struct {
	UserSummary
	MessageCount  int64 `json:"message_count"`
	FileCount     int64 `json:"file_count"`
	FileTotalSize int64 `json:"file_total_size"`
}

type PlatformStats struct {
	TotalUsers         int64 `json:"total_users"`
	TotalAdmins        int64 `json:"total_admins"`
	TotalConversations int64 `json:"total_conversations"`
	TotalMessages      int64 `json:"total_messages"`
	TotalFiles         int64 `json:"total_files"`
	TotalFileSize      int64 `json:"total_file_size"`
	UsersWithStore     int64 `json:"users_with_store"`
	NewUsersLast7Days  int64 `json:"new_users_last_7_days"`
	ActiveUsersLast7D  int64 `json:"active_users_last_7_days"`
}

func (s *AdminService) ListUsers() ([]UserSummary, error) {
	users, err := s.userRepo.ListAll()
	if err != nil {
		return nil, err
	}

	summaries := make([]UserSummary, 0, len(users))
	for _, u := range users {
		count, err := s.conversationRepo.CountByUserID(u.ID)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, summarizeUser(&u, count))
	}
	return summaries, nil
}

func (s *AdminService) GetUserDetail(userID uint) (*UserDetail, error) {
	user, err := s.userRepo.GetByID(userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}

	conversations, err := s.conversationRepo.CountByUserID(userID)
	if err != nil {
		return nil, err
	}
	messages, err := s.messageRepo.CountByUserID(userID)
	if err != nil {
		return nil, err
	}
	files, err := s.fileRepo.CountByUserID(userID)
	if err != nil {
		return nil, err
	}
	fileSize, err := s.fileRepo.TotalSizeByUserID(userID)
	if err != nil {
		return nil, err
	}

	return &UserDetail{
		UserSummary:   summarizeUser(user, conversations),
		MessageCount:  messages,
		FileCount:     files,
		FileTotalSize: fileSize,
	}, nil
}

// SetAdmin grants or revokes the admin flag. Admins cannot change their own
// flag so the platform can never lock itself out by accident.
func (s *AdminService) SetAdmin(actorID, targetID uint, isAdmin bool) (*model.User, error) {
	if actorID == targetID {
		return nil, ErrSelfDemotion
	}
	user, err := s.userRepo.SetAdmin(targetID, isAdmin)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// DeleteUser removes an account and everything it owns. Remote retrieval
// resources are torn down best-effort first; a partial remote cleanup does
// not block the local deletion.
func (s *AdminService) DeleteUser(ctx context.Context, actorID, targetID uint) error {
	if actorID == targetID {
		return ErrSelfDeletion
	}
	user, err := s.userRepo.GetByID(targetID)
	if err != nil {
		return err
	}
	if user == nil {
		return ErrUserNotFound
	}

	if s.cleaner != nil {
		if err := s.cleaner.ClearSession(ctx, targetID); err != nil &&
			!errors.Is(err, ErrNoUserStore) {
			log.Printf("remote cleanup for deleted user %d incomplete: %v", targetID, err)
		}
	}

	conversations, err := s.conversationRepo.ListByUserID(targetID)
	if err != nil {
		return err
	}
	for _, c := range conversations {
		if err := s.messageRepo.DeleteByConversationID(c.ID); err != nil {
			return err
		}
	}
	if err := s.conversationRepo.DeleteByUserID(targetID); err != nil {
		return err
	}
	if err := s.fileRepo.DeleteByUserID(targetID); err != nil {
		return err
	}
	return s.userRepo.Delete(targetID)
}

func (s *AdminService) Stats() (*PlatformStats, error) {
	stats := &PlatformStats{}
	var err error

	if stats.TotalUsers, err = s.userRepo.Count(); err != nil {
		return nil, err
	}
	if stats.TotalAdmins, err = s.userRepo.CountAdmins(); err != nil {
		return nil, err
	}
	if stats.TotalConversations, err = s.conversationRepo.Count(); err != nil {
		return nil, err
	}
	if stats.TotalMessages, err = s.messageRepo.Count(); err != nil {
		return nil, err
	}
	if stats.TotalFiles, err = s.fileRepo.Count(); err != nil {
		return nil, err
	}
	if stats.TotalFileSize, err = s.fileRepo.TotalSize(); err != nil {
		return nil, err
	}
	if stats.UsersWithStore, err = s.userRepo.CountWithVectorStore(); err != nil {
		return nil, err
	}

	weekAgo := time.Now().AddDate(0, 0, -7)
	if stats.NewUsersLast7Days, err = s.userRepo.CountCreatedSince(weekAgo); err != nil {
		return nil, err
	}
	if stats.ActiveUsersLast7D, err = s.conversationRepo.CountActiveUsersSince(weekAgo); err != nil {
		return nil, err
	}
	return stats, nil
}

// PromoteFirstAdmin grants admin to the given user only while the platform
// has no admin at all, for bootstrapping a fresh deployment.
func (s *AdminService) PromoteFirstAdmin(userID uint) (*model.User, error) {
	admins, err := s.userRepo.CountAdmins()
	if err != nil {
		return nil, err
	}
	if admins > 0 {
		return nil, ErrAdminExists
	}
	user, err := s.userRepo.SetAdmin(userID, true)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

func summarizeUser(u *model.User, conversationCount int64) UserSummary {
	return UserSummary{
		ID:                u.ID,
		Username:          u.Username,
		Email:             u.Email,
		IsAdmin:           u.IsAdmin,
		RequestCount:      u.RequestCount,
		ConversationCount: conversationCount,
		HasVectorStore:    u.VectorStoreID != nil && *u.VectorStoreID != "",
		CreatedAt:         u.CreatedAt,
	}
}
