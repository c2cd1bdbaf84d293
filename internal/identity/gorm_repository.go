package identity

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

type userRecord struct {
	ID        string `gorm:"primaryKey;size:36"`
	Phone     string `gorm:"size:32;not null;uniqueIndex"`
	Tier      string `gorm:"size:16;not null"`
	PINHash   []byte `gorm:"not null"`
	DeviceID  string `gorm:"size:128;not null;default:''"`
	CreatedAt time.Time
}

func (userRecord) TableName() string {
	return "users"
}

func (r userRecord) toUser() User {
	return User{
		ID:        r.ID,
		Phone:     r.Phone,
		Tier:      r.Tier,
		PINHash:   r.PINHash,
		DeviceID:  r.DeviceID,
		CreatedAt: r.CreatedAt.UTC(),
	}
}

// GormRepository stores users through gorm, for the sqlite and mysql drivers.
type GormRepository struct {
	db *gorm.DB
}

// NewGormRepository builds a gorm-backed identity repository.
func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

// Migrate creates the users table when missing.
func (r *GormRepository) Migrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&userRecord{})
}

func (r *GormRepository) Create(ctx context.Context, user User) error {
	err := r.db.WithContext(ctx).Create(&userRecord{
		ID:        user.ID,
		Phone:     user.Phone,
		Tier:      user.Tier,
		PINHash:   user.PINHash,
		DeviceID:  user.DeviceID,
		CreatedAt: user.CreatedAt.UTC(),
	}).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrUserExists
	}
	return err
}

func (r *GormRepository) FindByPhone(ctx context.Context, phone string) (User, error) {
	return r.first(ctx, "phone = ?", phone)
}

func (r *GormRepository) FindByID(ctx context.Context, id string) (User, error) {
	return r.first(ctx, "id = ?", id)
}

func (r *GormRepository) UpdateDevice(ctx context.Context, id, deviceID string) error {
	res := r.db.WithContext(ctx).Model(&userRecord{}).Where("id = ?", id).Update("device_id", deviceID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *GormRepository) first(ctx context.Context, query string, arg any) (User, error) {
	var rec userRecord
	err := r.db.WithContext(ctx).Where(query, arg).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, err
	}
	return rec.toUser(), nil
}
