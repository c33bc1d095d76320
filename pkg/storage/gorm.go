package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/dkalashnik/doctor-ai-bot/pkg/logging"
	"github.com/dkalashnik/doctor-ai-bot/pkg/models"
)

// GormStore implements Store, ProfileStore and ConsultationStore.
type GormStore struct {
	db  *gorm.DB
	log *slog.Logger
}

var (
	_ Store             = (*GormStore)(nil)
	_ ProfileStore      = (*GormStore)(nil)
	_ ConsultationStore = (*GormStore)(nil)
)

// Open connects to Postgres for postgres:// URLs and key=value DSNs, and to
// SQLite for everything else.
func Open(dsn string, log *slog.Logger) (*GormStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("storage: empty dsn")
	}
	log = logging.Or(log).With("component", "store")

	var dialector gorm.Dialector
	useSQLite := !IsPostgresDSN(dsn)
	if useSQLite {
		dialector = sqlite.Open(strings.TrimPrefix(dsn, "sqlite://"))
	} else {
		dialector = postgres.Open(dsn)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:  logging.NewGormLogger(log),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("storage: open: %w", err)
	}

	if useSQLite {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("storage: sql handle: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	log.Info("database opened", "driver", db.Dialector.Name())
	return &GormStore{db: db, log: log}, nil
}

// IsPostgresDSN reports whether dsn addresses a Postgres server.
func IsPostgresDSN(dsn string) bool {
	lower := strings.ToLower(strings.TrimSpace(dsn))
	return strings.HasPrefix(lower, "postgres://") ||
		strings.HasPrefix(lower, "postgresql://") ||
		strings.Contains(lower, "host=")
}

func (s *GormStore) Profiles() ProfileStore           { return s }
func (s *GormStore) Consultations() ConsultationStore { return s }

func (s *GormStore) Transaction(ctx context.Context, fn func(Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx, log: s.log})
	})
}

func (s *GormStore) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&models.UserProfile{}, &models.Consultation{}); err != nil {
		return fmt.Errorf("storage: migrate: %w", err)
	}
	return nil
}

func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("storage: sql handle: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("storage: sql handle: %w", err)
	}
	return sqlDB.Close()
}

func (s *GormStore) EnsureProfile(ctx context.Context, userID int64) (*models.UserProfile, error) {
	p := models.UserProfile{UserID: userID}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}).
		Create(&p).Error
	if err != nil {
		return nil, fmt.Errorf("storage: ensure profile %d: %w", userID, err)
	}
	return s.GetProfile(ctx, userID)
}

func (s *GormStore) TouchProfile(ctx context.Context, id models.Identity, now time.Time) (*models.UserProfile, error) {
	seen := now.UTC()
	p := models.UserProfile{
		UserID:       id.UserID,
		FirstName:    id.FirstName,
		LastName:     id.LastName,
		Username:     id.Username,
		LanguageCode: id.LanguageCode,
		LastActive:   &seen,
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"first_name", "last_name", "username", "language_code", "last_active"}),
		}).
		Create(&p).Error
	if err != nil {
		return nil, fmt.Errorf("storage: touch profile %d: %w", id.UserID, err)
	}
	return s.GetProfile(ctx, id.UserID)
}

func (s *GormStore) GetProfile(ctx context.Context, userID int64) (*models.UserProfile, error) {
	var p models.UserProfile
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Take(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get profile %d: %w", userID, err)
	}
	return &p, nil
}

func (s *GormStore) SetPhoneNumber(ctx context.Context, userID int64, phone string) error {
	res := s.db.WithContext(ctx).Model(&models.UserProfile{}).
		Where("user_id = ?", userID).
		Update("phone_number", phone)
	if res.Error != nil {
		return fmt.Errorf("storage: set phone %d: %w", userID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) ResetDailyCount(ctx context.Context, userID int64, dayStart time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.UserProfile{}).
		Where("user_id = ?", userID).
		Where("last_consultation_date IS NULL OR last_consultation_date < ?", dayStart.UTC()).
		Where("daily_consultation_count <> 0").
		Update("daily_consultation_count", 0)
	if res.Error != nil {
		return false, fmt.Errorf("storage: reset daily count %d: %w", userID, res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (s *GormStore) IncrementConsultations(ctx context.Context, userID int64, now time.Time) error {
	at := now.UTC()
	res := s.db.WithContext(ctx).Model(&models.UserProfile{}).
		Where("user_id = ?", userID).
		Updates(map[string]any{
			"consultation_count":       gorm.Expr("consultation_count + 1"),
			"daily_consultation_count": gorm.Expr("daily_consultation_count + 1"),
			"last_consultation_date":   at,
			"last_active":              at,
		})
	if res.Error != nil {
		return fmt.Errorf("storage: increment consultations %d: %w", userID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) FoldFeedback(ctx context.Context, userID int64, score int) error {
	res := s.db.WithContext(ctx).Model(&models.UserProfile{}).
		Where("user_id = ?", userID).
		Updates(map[string]any{
			"feedback_score": gorm.Expr("(feedback_score * feedback_count + ?) / (feedback_count + 1)", float64(score)),
			"feedback_count": gorm.Expr("feedback_count + 1"),
		})
	if res.Error != nil {
		return fmt.Errorf("storage: fold feedback %d: %w", userID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) CreateConsultation(ctx context.Context, c *models.Consultation) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	c.CreatedAt = c.CreatedAt.UTC()
	if err := s.db.WithContext(ctx).Create(c).Error; err != nil {
		return fmt.Errorf("storage: create consultation for %d: %w", c.UserID, err)
	}
	return nil
}

func (s *GormStore) GetConsultation(ctx context.Context, id uint) (*models.Consultation, error) {
	var c models.Consultation
	err := s.db.WithContext(ctx).Take(&c, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get consultation %d: %w", id, err)
	}
	return &c, nil
}

func (s *GormStore) ResolveConsultation(ctx context.Context, userID int64, id uint, score int, now time.Time) error {
	db := s.db.WithContext(ctx)
	res := db.Model(&models.Consultation{}).
		Where("id = ? AND user_id = ? AND is_resolved = ?", id, userID, false).
		Updates(map[string]any{
			"is_resolved":    true,
			"feedback_score": score,
			"resolved_at":    now.UTC(),
		})
	if res.Error != nil {
		return fmt.Errorf("storage: resolve consultation %d: %w", id, res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}

	var existing models.Consultation
	err := db.Where("id = ? AND user_id = ?", id, userID).Take(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("storage: lookup consultation %d: %w", id, err)
	}
	return ErrAlreadyResolved
}

func (s *GormStore) CategoryCounts(ctx context.Context, userID int64) ([]CategoryCount, error) {
	var rows []CategoryCount
	err := s.db.WithContext(ctx).Model(&models.Consultation{}).
		Select("category, COUNT(*) AS count, MIN(id) AS first_id").
		Where("user_id = ?", userID).
		Group("category").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("storage: category counts %d: %w", userID, err)
	}
	return rows, nil
}

func (s *GormStore) CreatedSince(ctx context.Context, userID int64, since time.Time) ([]time.Time, error) {
	var found []models.Consultation
	err := s.db.WithContext(ctx).
		Select("id", "created_at").
		Where("user_id = ? AND created_at >= ?", userID, since.UTC()).
		Order("created_at").
		Find(&found).Error
	if err != nil {
		return nil, fmt.Errorf("storage: created since %d: %w", userID, err)
	}
	out := make([]time.Time, 0, len(found))
	for _, c := range found {
		out = append(out, c.CreatedAt)
	}
	return out, nil
}

func (s *GormStore) FeedbackCounts(ctx context.Context, userID int64) ([]ScoreCount, error) {
	var rows []ScoreCount
	err := s.db.WithContext(ctx).Model(&models.Consultation{}).
		Select("feedback_score AS score, COUNT(*) AS count").
		Where("user_id = ? AND feedback_score IS NOT NULL", userID).
		Group("feedback_score").
		Order("feedback_score").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("storage: feedback counts %d: %w", userID, err)
	}
	return rows, nil
}

func (s *GormStore) RecentConsultations(ctx context.Context, userID int64, limit int) ([]models.Consultation, error) {
	if limit <= 0 {
		return nil, nil
	}
	var out []models.Consultation
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("storage: recent consultations %d: %w", userID, err)
	}
	return out, nil
}
