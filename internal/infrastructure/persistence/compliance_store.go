package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/govcon/shredder/internal/domain/compliance"
	"github.com/govcon/shredder/internal/domain/shared"
	"github.com/govcon/shredder/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const ingestBatchSize = 200

// GormComplianceStore implements compliance.Store using GORM
type GormComplianceStore struct {
	db *gorm.DB
}

// NewGormComplianceStore creates a new GormComplianceStore
func NewGormComplianceStore(db *gorm.DB) *GormComplianceStore {
	return &GormComplianceStore{db: db}
}

// Ingest writes one run's output in a single transaction
func (s *GormComplianceStore) Ingest(
	ctx context.Context,
	opp *compliance.Opportunity,
	sections []compliance.SectionRecord,
	reqs []*compliance.Requirement,
) (compliance.IngestResult, error) {
	var result compliance.IngestResult

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := upsertOpportunity(tx, opp); err != nil {
			return err
		}

		if err := tx.Where("opportunity_id = ?", opp.ID).Delete(&models.SectionModel{}).Error; err != nil {
			return fmt.Errorf("clear sections: %w", err)
		}
		if len(sections) > 0 {
			rows := make([]models.SectionModel, len(sections))
			for i, sec := range sections {
				rows[i] = models.SectionModelFromDomain(sec)
				rows[i].OpportunityID = opp.ID
			}
			if err := tx.CreateInBatches(rows, ingestBatchSize).Error; err != nil {
				return fmt.Errorf("insert sections: %w", err)
			}
		}

		var existingRows []models.RequirementModel
		if err := tx.Where("opportunity_id = ?", opp.ID).Find(&existingRows).Error; err != nil {
			return fmt.Errorf("load requirements: %w", err)
		}
		existing := make(map[uuid.UUID]*compliance.Requirement, len(existingRows))
		for i := range existingRows {
			existing[existingRows[i].ID] = existingRows[i].ToDomain()
		}

		var inserts []*models.RequirementModel
		now := time.Now()
		for _, req := range reqs {
			if req.OpportunityID != opp.ID {
				return shared.NewDomainError(compliance.CodeRequirementMismatch,
					fmt.Sprintf("Requirement %s belongs to opportunity %s", req.ID, req.OpportunityID))
			}
			prev, ok := existing[req.ID]
			if !ok {
				inserts = append(inserts, models.RequirementModelFromDomain(req))
				result.Inserted++
				continue
			}
			if prev.ClassificationEquals(req) {
				result.Unchanged++
				continue
			}
			row := models.RequirementModelFromDomain(req)
			row.UpdatedAt = now
			if err := tx.Model(row).Select(models.RequirementClassificationColumns).Updates(row).Error; err != nil {
				return fmt.Errorf("update requirement %s: %w", req.ID, err)
			}
			result.Updated++
		}

		if len(inserts) > 0 {
			if err := tx.CreateInBatches(inserts, ingestBatchSize).Error; err != nil {
				return fmt.Errorf("insert requirements: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return compliance.IngestResult{}, err
	}
	return result, nil
}

// upsertOpportunity creates the opportunity row or refreshes its mutable columns
func upsertOpportunity(tx *gorm.DB, opp *compliance.Opportunity) error {
	row := models.OpportunityModelFromDomain(opp)
	res := tx.Model(&models.OpportunityModel{}).
		Where("id = ?", opp.ID).
		Updates(map[string]any{
			"solicitation_number": row.SolicitationNumber,
			"title":               row.Title,
			"status":              row.Status,
			"degraded":            row.Degraded,
			"last_run_at":         row.LastRunAt,
			"version":             row.Version,
			"updated_at":          row.UpdatedAt,
		})
	if res.Error != nil {
		return fmt.Errorf("update opportunity: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}
	if err := tx.Omit(clause.Associations).Create(row).Error; err != nil {
		return fmt.Errorf("create opportunity: %w", err)
	}
	return nil
}

// EnsureOpportunity creates the opportunity if absent and returns the stored row
func (s *GormComplianceStore) EnsureOpportunity(ctx context.Context, opp *compliance.Opportunity) (*compliance.Opportunity, error) {
	row := models.OpportunityModelFromDomain(opp)
	if err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Omit(clause.Associations).
		Create(row).Error; err != nil {
		return nil, fmt.Errorf("ensure opportunity: %w", err)
	}
	return s.Get(ctx, opp.ID)
}

// SaveOpportunity persists status and title changes
func (s *GormComplianceStore) SaveOpportunity(ctx context.Context, opp *compliance.Opportunity) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.OpportunityModel{}).Where("id = ?", opp.ID).Count(&count).Error; err != nil {
			return fmt.Errorf("save opportunity: %w", err)
		}
		if count == 0 {
			return shared.ErrNotFound
		}
		return upsertOpportunity(tx, opp)
	})
}

// Get returns an opportunity by id
func (s *GormComplianceStore) Get(ctx context.Context, id uuid.UUID) (*compliance.Opportunity, error) {
	var model models.OpportunityModel
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindBySolicitationNumber returns an opportunity by its normalized solicitation number
func (s *GormComplianceStore) FindBySolicitationNumber(ctx context.Context, number string) (*compliance.Opportunity, error) {
	number = compliance.NormalizeSolicitationNumber(number)
	if number == "" {
		return nil, shared.ErrNotFound
	}
	var model models.OpportunityModel
	if err := s.db.WithContext(ctx).
		Where("solicitation_number = ?", number).
		Order("created_at ASC").
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// ListOpportunities returns a page of opportunities and the total count
func (s *GormComplianceStore) ListOpportunities(ctx context.Context, filter shared.Filter) ([]compliance.Opportunity, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.OpportunityModel{})

	if search := strings.TrimSpace(filter.Search); search != "" {
		like := "%" + strings.ToLower(search) + "%"
		query = query.Where("LOWER(title) LIKE ? OR LOWER(solicitation_number) LIKE ?", like, like)
	}
	if status, ok := filter.Filters["status"]; ok && status != "" {
		query = query.Where("status = ?", status)
	}
	if degraded, ok := filter.Filters["degraded"].(bool); ok {
		query = query.Where("degraded = ?", degraded)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	query = query.
		Order(opportunitySortColumns.orderBy(filter.OrderBy, filter.OrderDir, "created_at")).
		Order("id ASC")

	if filter.PageSize > 0 {
		query = query.Offset(filter.Offset()).Limit(filter.PageSize)
	}

	var rows []models.OpportunityModel
	if err := query.Find(&rows).Error; err != nil {
		return nil, 0, err
	}

	out := make([]compliance.Opportunity, len(rows))
	for i := range rows {
		out[i] = *rows[i].ToDomain()
	}
	return out, total, nil
}

// ListRequirements returns all requirements of an opportunity ordered by section label then sequence
func (s *GormComplianceStore) ListRequirements(ctx context.Context, opportunityID uuid.UUID) ([]compliance.Requirement, error) {
	var rows []models.RequirementModel
	if err := s.db.WithContext(ctx).
		Where("opportunity_id = ?", opportunityID).
		Order("section_label ASC, sequence ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]compliance.Requirement, len(rows))
	for i := range rows {
		out[i] = *rows[i].ToDomain()
	}
	return out, nil
}

// ListSections returns the section metadata of the latest ingest
func (s *GormComplianceStore) ListSections(ctx context.Context, opportunityID uuid.UUID) ([]compliance.SectionRecord, error) {
	var rows []models.SectionModel
	if err := s.db.WithContext(ctx).
		Where("opportunity_id = ?", opportunityID).
		Order("ordinal ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]compliance.SectionRecord, len(rows))
	for i := range rows {
		out[i] = rows[i].ToDomain()
	}
	return out, nil
}

// UpdateTracking applies a tracking update to one requirement. Only tracking
// columns are written.
func (s *GormComplianceStore) UpdateTracking(
	ctx context.Context,
	opportunityID, requirementID uuid.UUID,
	update compliance.TrackingUpdate,
) (*compliance.Requirement, error) {
	var updated *compliance.Requirement
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row models.RequirementModel
		if err := tx.Where("id = ? AND opportunity_id = ?", requirementID, opportunityID).First(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return shared.ErrNotFound
			}
			return err
		}

		req := row.ToDomain()
		if err := req.ApplyTracking(update); err != nil {
			return err
		}

		out := models.RequirementModelFromDomain(req)
		if err := tx.Model(out).Select(models.RequirementTrackingColumns).Updates(out).Error; err != nil {
			return fmt.Errorf("update tracking: %w", err)
		}
		updated = req
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Delete removes an opportunity with all its sections and requirements
func (s *GormComplianceStore) Delete(ctx context.Context, id uuid.UUID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("opportunity_id = ?", id).Delete(&models.RequirementModel{}).Error; err != nil {
			return fmt.Errorf("delete requirements: %w", err)
		}
		if err := tx.Where("opportunity_id = ?", id).Delete(&models.SectionModel{}).Error; err != nil {
			return fmt.Errorf("delete sections: %w", err)
		}
		res := tx.Where("id = ?", id).Delete(&models.OpportunityModel{})
		if res.Error != nil {
			return fmt.Errorf("delete opportunity: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return shared.ErrNotFound
		}
		return nil
	})
}

// Compile-time interface compliance check
var _ compliance.Store = (*GormComplianceStore)(nil)
