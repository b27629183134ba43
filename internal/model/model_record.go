package model

import (
	"time"

	"gorm.io/datatypes"
)

const ModelTypeScheduling = "scheduling"

// ModelRecord 管理端训练并发布的共享模型，每种 model_type 至多一条激活记录
type ModelRecord struct {
	BaseModel
	ModelType    string         `gorm:"size:50;index;not null" json:"modelType"`
	IsActive     bool           `gorm:"index;default:false" json:"isActive"`
	ModelVersion int            `gorm:"not null" json:"modelVersion"`
	Weights      datatypes.JSON `gorm:"type:json" json:"weights"`      // [{data, shape}]
	Architecture datatypes.JSON `gorm:"type:json" json:"architecture"` // {layers: [...]}
	Accuracy     float64        `json:"accuracy"`
	TrainedAt    time.Time      `json:"trainedAt"`
}

func (ModelRecord) TableName() string {
	return "ai_models"
}
