package characters

import (
	"time"

	"gorm.io/datatypes"
)

// Character captures a rendered persona: the uploaded portrait, the
// chosen voice, and the media produced by the generation workflow.
type Character struct {
	ID            uint64         `gorm:"primaryKey" json:"id"`
	Name          string         `gorm:"size:100;not null" json:"name"`
	Description   *string        `gorm:"type:text" json:"description,omitempty"`
	VoiceID       *string        `gorm:"size:100" json:"voice_id,omitempty"`
	ImageAssetID  string         `gorm:"size:100;not null" json:"image_id"`
	VideoAssetID  *string        `gorm:"size:100" json:"video_id,omitempty"`
	IdleVideoURL  *string        `gorm:"size:512" json:"idle_video_url,omitempty"`
	RenderOptions datatypes.JSON `gorm:"type:json" json:"render_options,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// TableName pins the storage table for Character rows.
func (Character) TableName() string {
	return "characters"
}
