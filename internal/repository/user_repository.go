package repository

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"lexchat/internal/model"
)

type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Create(user *model.User) error {
	if err := r.db.Create(user).Error; err != nil {
		return fmt.Errorf("create user failed: %w", err)
	}
	return nil
}

func (r *UserRepository) GetByID(id uint) (*model.User, error) {
	var user model.User
	if err := r.db.First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("query user by id failed: %w", err)
	}
	return &user, nil
}

func (r *UserRepository) GetByUsername(username string) (*model.User, error) {
	var user model.User
	if err := r.db.Where("username = ?", username).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("query user by username failed: %w", err)
	}
	return &user, nil
}

func (r *UserRepository) GetByEmail(email string) (*model.User, error) {
	var user model.User
	if err := r.db.Where("email = ?", email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("query user by email failed: %w", err)
	}
	return &user, nil
}

// UsernameTakenByOther reports whether another user already holds the username.
func (r *UserRepository) UsernameTakenByOther(username string, userID uint) (bool, error) {
	var count int64
	if err := r.db.Model(&model.User{}).
		Where("username = ? AND id != ?", username, userID).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("check username conflict failed: %w", err)
	}
	return count > 0, nil
}

func (r *UserRepository) EmailTakenByOther(email string, userID uint) (bool, error) {
	var count int64
	if err := r.db.Model(&model.User{}).
		Where("email = ? AND id != ?", email, userID).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("check email conflict failed: %w", err)
	}
	return count > 0, nil
}

func (r *UserRepository) UpdateFields(userID uint, fields map[string]interface{}) error {
	if err := r.db.Model(&model.User{}).Where("id = ?", userID).Updates(fields).Error; err != nil {
		return fmt.Errorf("update user failed: %w", err)
	}
	return nil
}

// SetVectorStoreID persists the user's remote index identifier; pass nil to
// clear a stale reference.
func (r *UserRepository) SetVectorStoreID(userID uint, storeID *string) error {
	if err := r.db.Model(&model.User{}).
		Where("id = ?", userID).
		Update("vector_store_id", storeID).Error; err != nil {
		return fmt.Errorf("set vector store id failed: %w", err)
	}
	return nil
}

func (r *UserRepository) IncrementRequestCount(userID uint) error {
	if err := r.db.Model(&model.User{}).
		Where("id = ?", userID).
		UpdateColumn("request_count", gorm.Expr("request_count + 1")).Error; err != nil {
		return fmt.Errorf("increment request count failed: %w", err)
	}
	return nil
}

func (r *UserRepository) SetAdmin(userID uint, isAdmin bool) (*model.User, error) {
	result := r.db.Model(&model.User{}).Where("id = ?", userID).Update("is_admin", isAdmin)
	if result.Error != nil {
		return nil, fmt.Errorf("set admin flag failed: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return r.GetByID(userID)
}

func (r *UserRepository) Delete(userID uint) error {
	if err := r.db.Delete(&model.User{}, userID).Error; err != nil {
		return fmt.Errorf("delete user failed: %w", err)
	}
	return nil
}

func (r *UserRepository) ListAll() ([]model.User, error) {
	var users []model.User
	if err := r.db.Order("created_at DESC").Find(&users).Error; err != nil {
		return nil, fmt.Errorf("list users failed: %w", err)
	}
	return users, nil
}

func (r *UserRepository) Count() (int64, error) {
	var count int64
	if err := r.db.Model(&model.User{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count users failed: %w", err)
	}
	return count, nil
}

func (r *UserRepository) CountAdmins() (int64, error) {
	var count int64
	if err := r.db.Model(&model.User{}).Where("is_admin = ?", true).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count admin users failed: %w", err)
	}
	return count, nil
}

func (r *UserRepository) CountWithVectorStore() (int64, error) {
	var count int64
	if err := r.db.Model(&model.User{}).
		Where("vector_store_id IS NOT NULL").
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count users with vector store failed: %w", err)
	}
	return count, nil
}

func (r *UserRepository) CountCreatedSince(since time.Time) (int64, error) {
	var count int64
	if err := r.db.Model(&model.User{}).
		Where("created_at >= ?", since).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count recent users failed: %w", err)
	}
	return count, nil
}
