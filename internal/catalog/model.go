package catalog

import (
	"time"

	"github.com/flowyoga/coach-backend/internal/shared"
)

type Level string

const (
	LevelBeginner     Level = "Beginner"
	LevelIntermediate Level = "Intermediate"
	LevelAdvanced     Level = "Advanced"
	LevelAllLevels    Level = "All Levels"
)

type Focus string

const (
	FocusFlexibility Focus = "Flexibility"
	FocusStrength    Focus = "Strength"
	FocusRelaxation  Focus = "Relaxation"
)

// YogaSession is one entry in the practice catalog. PoseProgram is the
// ordered list of pose names the live coach cycles through; empty means
// the coach falls back to its default sequence.
type YogaSession struct {
	ID          string             `json:"id" gorm:"primaryKey"`
	Slug        string             `json:"slug" gorm:"uniqueIndex"`
	Title       string             `json:"title"`
	Description string             `json:"description"`
	DurationMin int                `json:"duration" gorm:"column:duration_min"`
	Level       Level              `json:"level"`
	Focus       Focus              `json:"focus"`
	PoseProgram shared.StringSlice `json:"pose_program" gorm:"type:text"`
	VideoURL    string             `json:"video_url,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

func (YogaSession) TableName() string {
	return "yoga_sessions"
}

// HasPoseProgram reports whether the session carries its own pose sequence.
func (s *YogaSession) HasPoseProgram() bool {
	return len(s.PoseProgram) > 0
}
