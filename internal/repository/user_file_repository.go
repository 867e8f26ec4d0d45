package repository

import (
	"fmt"

	"gorm.io/gorm"

	"lexchat/internal/model"
)

type UserFileRepository struct {
	db *gorm.DB
}

func NewUserFileRepository(db *gorm.DB) *UserFileRepository {
	return &UserFileRepository{db: db}
}

func (r *UserFileRepository) Create(file *model.UserFile) error {
	if err := r.db.Create(file).Error; err != nil {
		return fmt.Errorf("create user file failed: %w", err)
	}
	return nil
}

func (r *UserFileRepository) ListByUserID(userID uint) ([]model.UserFile, error) {
	var files []model.UserFile
	if err := r.db.Where("user_id = ?", userID).Order("uploaded_at DESC").Find(&files).Error; err != nil {
		return nil, fmt.Errorf("list user files failed: %w", err)
	}
	return files, nil
}

func (r *UserFileRepository) DeleteByUserID(userID uint) error {
	if err := r.db.Where("user_id = ?", userID).Delete(&model.UserFile{}).Error; err != nil {
		return fmt.Errorf("delete user files failed: %w", err)
	}
	return nil
}

func (r *UserFileRepository) CountByUserID(userID uint) (int64, error) {
	var count int64
	if err := r.db.Model(&model.UserFile{}).Where("user_id = ?", userID).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count user files failed: %w", err)
	}
	return count, nil
}

func (r *UserFileRepository) Count() (int64, error) {
	var count int64
	if err := r.db.Model(&model.UserFile{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count files failed: %w", err)
	}
	return count, nil
}

func (r *UserFileRepository) TotalSizeByUserID(userID uint) (int64, error) {
	var total int64
	if err := r.db.Model(&model.UserFile{}).
		Where("user_id = ?", userID).
		Select("COALESCE(SUM(file_size), 0)").
		Scan(&total).Error; err != nil {
		return 0, fmt.Errorf("sum user file sizes failed: %w", err)
	}
	return total, nil
}

func (r *UserFileRepository) TotalSize() (int64, error) {
	var total int64
	if err := r.db.Model(&model.UserFile{}).
		Select("COALESCE(SUM(file_size), 0)").
		Scan(&total).Error; err != nil {
		return 0, fmt.Errorf("sum file sizes failed: %w", err)
	}
	return total, nil
}
