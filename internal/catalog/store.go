package catalog

import (
	"context"
	"errors"

	"github.com/flowyoga/coach-backend/internal/shared"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Migrate() error {
	return s.db.AutoMigrate(&YogaSession{})
}

// launchSessions is the catalog shipped at launch. Seed upserts by slug so
// redeploys never duplicate rows or clobber later edits to other columns.
func launchSessions() []YogaSession {
	return []YogaSession{
		{
			Slug:        "morning-flow",
			Title:       "Morning Flow",
			Description: "Start your day with energy.",
			DurationMin: 15,
			Level:       LevelBeginner,
			Focus:       FocusRelaxation,
			PoseProgram: shared.StringSlice{"Mountain Pose", "Sun Salutation", "Downward Dog", "Child's Pose"},
		},
		{
			Slug:        "power-vinyasa",
			Title:       "Power Vinyasa",
			Description: "A dynamic, challenging practice.",
			DurationMin: 45,
			Level:       LevelIntermediate,
			Focus:       FocusStrength,
			PoseProgram: shared.StringSlice{"Warrior I", "Warrior II", "Chair Pose", "Crow Pose", "Plank Pose"},
		},
		{
			Slug:        "deep-stretch",
			Title:       "Deep Stretch",
			Description: "Increase your flexibility.",
			DurationMin: 30,
			Level:       LevelAllLevels,
			Focus:       FocusFlexibility,
			PoseProgram: shared.StringSlice{"Seated Forward Fold", "Pigeon Pose", "Lizard Pose", "Butterfly Pose"},
		},
		{
			Slug:        "evening-unwind",
			Title:       "Evening Unwind",
			Description: "Relax and release tension.",
			DurationMin: 20,
			Level:       LevelBeginner,
			Focus:       FocusRelaxation,
			PoseProgram: shared.StringSlice{"Cat-Cow", "Child's Pose", "Legs Up the Wall", "Corpse Pose"},
		},
		{
			Slug:        "core-strength",
			Title:       "Core Strength",
			Description: "Build a strong and stable core.",
			DurationMin: 25,
			Level:       LevelIntermediate,
			Focus:       FocusStrength,
			PoseProgram: shared.StringSlice{"Boat Pose", "Plank Pose", "Side Plank", "Bird Dog"},
		},
		{
			Slug:        "mindful-hips",
			Title:       "Mindful Hips",
			Description: "Open your hips and find release.",
			DurationMin: 35,
			Level:       LevelAllLevels,
			Focus:       FocusFlexibility,
			PoseProgram: shared.StringSlice{"Low Lunge", "Pigeon Pose", "Happy Baby", "Garland Pose"},
		},
	}
}

func (s *Store) Seed(ctx context.Context) error {
	for _, sess := range launchSessions() {
		sess.ID = shared.NewID("yoga_")
		err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "slug"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"title", "description", "duration_min", "level", "focus", "pose_program",
			}),
		}).Create(&sess).Error
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) GetBySlug(ctx context.Context, slug string) (*YogaSession, error) {
	var sess YogaSession
	err := s.db.WithContext(ctx).Where("slug = ?", slug).First(&sess).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, shared.ErrNotFound
	}
	return &sess, err
}

// ListFilter narrows List results. Zero values mean no filtering.
type ListFilter struct {
	Level Level
	Focus Focus
}

func (s *Store) List(ctx context.Context, filter ListFilter) ([]YogaSession, error) {
	q := s.db.WithContext(ctx).Order("duration_min asc")
	if filter.Level != "" {
		q = q.Where("level = ?", filter.Level)
	}
	if filter.Focus != "" {
		q = q.Where("focus = ?", filter.Focus)
	}

	var sessions []YogaSession
	if err := q.Find(&sessions).Error; err != nil {
		return nil, err
	}
	return sessions, nil
}
