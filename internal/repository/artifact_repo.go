package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/qs3c/melody_go_server/internal/model"
)

// ArtifactRepository 生成结果只插入不修改
type ArtifactRepository struct {
	db *gorm.DB
}

func NewArtifactRepository(db *gorm.DB) *ArtifactRepository {
	return &ArtifactRepository{db: db}
}

func (r *ArtifactRepository) WithTx(tx *gorm.DB) *ArtifactRepository {
	return &ArtifactRepository{db: tx}
}

func (r *ArtifactRepository) Create(ctx context.Context, artifact *model.GeneratedArtifact) error {
	return r.db.WithContext(ctx).Create(artifact).Error
}

func (r *ArtifactRepository) GetByID(ctx context.Context, id string) (*model.GeneratedArtifact, error) {
	var artifact model.GeneratedArtifact
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&artifact).Error
	if err != nil {
		return nil, err
	}
	return &artifact, nil
}

// GetByIDs 批量加载，用于列表页
func (r *ArtifactRepository) GetByIDs(ctx context.Context, ids []string) (map[string]*model.GeneratedArtifact, error) {
	out := make(map[string]*model.GeneratedArtifact, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var artifacts []*model.GeneratedArtifact
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&artifacts).Error; err != nil {
		return nil, err
	}
	for _, a := range artifacts {
		out[a.ID] = a
	}
	return out, nil
}
