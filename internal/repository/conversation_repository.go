package repository

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"lexchat/internal/model"
)

type ConversationRepository struct {
	db *gorm.DB
}

func NewConversationRepository(db *gorm.DB) *ConversationRepository {
	return &ConversationRepository{db: db}
}

func (r *ConversationRepository) Create(conversation *model.Conversation) error {
	if err := r.db.Create(conversation).Error; err != nil {
		return fmt.Errorf("create conversation failed: %w", err)
	}
	return nil
}

func (r *ConversationRepository) ListByUserID(userID uint) ([]model.Conversation, error) {
	var conversations []model.Conversation
	if err := r.db.Where("user_id = ?", userID).Order("updated_at DESC").Find(&conversations).Error; err != nil {
		return nil, fmt.Errorf("list conversations failed: %w", err)
	}
	return conversations, nil
}

func (r *ConversationRepository) ListAll() ([]model.Conversation, error) {
	var conversations []model.Conversation
	if err := r.db.Order("updated_at DESC").Find(&conversations).Error; err != nil {
		return nil, fmt.Errorf("list all conversations failed: %w", err)
	}
	return conversations, nil
}

func (r *ConversationRepository) GetByIDAndUserID(conversationID, userID uint) (*model.Conversation, error) {
	var conversation model.Conversation
	if err := r.db.Where("id = ? AND user_id = ?", conversationID, userID).First(&conversation).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get conversation failed: %w", err)
	}
	return &conversation, nil
}

func (r *ConversationRepository) DeleteByIDAndUserID(conversationID, userID uint) (bool, error) {
	result := r.db.Where("id = ? AND user_id = ?", conversationID, userID).Delete(&model.Conversation{})
	if result.Error != nil {
		return false, fmt.Errorf("delete conversation failed: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (r *ConversationRepository) DeleteByUserID(userID uint) error {
	if err := r.db.Where("user_id = ?", userID).Delete(&model.Conversation{}).Error; err != nil {
		return fmt.Errorf("delete conversations by user failed: %w", err)
	}
	return nil
}

func (r *ConversationRepository) UpdateTitle(conversationID uint, title string) error {
	if err := r.db.Model(&model.Conversation{}).
		Where("id = ?", conversationID).
		Update("title", title).Error; err != nil {
		return fmt.Errorf("update conversation title failed: %w", err)
	}
	return nil
}

// Touch bumps updated_at after a new message lands in the conversation.
func (r *ConversationRepository) Touch(conversationID uint) error {
	if err := r.db.Model(&model.Conversation{}).
		Where("id = ?", conversationID).
		Update("updated_at", time.Now()).Error; err != nil {
		return fmt.Errorf("touch conversation failed: %w", err)
	}
	return nil
}

func (r *ConversationRepository) CountByUserID(userID uint) (int64, error) {
	var count int64
	if err := r.db.Model(&model.Conversation{}).Where("user_id = ?", userID).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count conversations failed: %w", err)
	}
	return count, nil
}

func (r *ConversationRepository) Count() (int64, error) {
	var count int64
	if err := r.db.Model(&model.Conversation{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count conversations failed: %w", err)
	}
	return count, nil
}

// CountActiveUsersSince counts distinct users whose conversations were
// updated after the given time.
func (r *ConversationRepository) CountActiveUsersSince(since time.Time) (int64, error) {
	var count int64
	if err := r.db.Model(&model.Conversation{}).
		Where("updated_at >= ?", since).
		Distinct("user_id").
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count active users failed: %w", err)
	}
	return count, nil
}
