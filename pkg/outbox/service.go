package outbox

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

var errNoTransaction = errors.New("outbox emit needs the caller's transaction")

// Service records domain events in the outbox table.
type Service struct {
	repo *Repository
	logg *logger.Logger
}

func NewService(repo *Repository, logg *logger.Logger) *Service {
	return &Service{repo: repo, logg: logg}
}

// Emit stages event on tx. The row commits or rolls back with the state
// change that produced it; the publisher picks it up after commit.
func (s *Service) Emit(ctx context.Context, tx *gorm.DB, event DomainEvent) error {
	if tx == nil {
		return errNoTransaction
	}
	row, eventID, err := event.row()
	if err != nil {
		return err
	}
	if err := s.repo.Insert(tx.WithContext(ctx), row); err != nil {
		return err
	}
	if s.logg != nil {
		ctx = s.logg.WithFields(ctx, map[string]any{
			"event_id":     eventID,
			"event_type":   string(row.EventType),
			"aggregate_id": row.AggregateID.String(),
		})
		s.logg.Debug(ctx, "outbox event staged")
	}
	return nil
}
