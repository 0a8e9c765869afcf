package orders

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/pagination"
)

// Repository defines persistence operations for the orders and order_lines tables.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	LockByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	List(ctx context.Context, filters Filters, limit int, cursor *pagination.Cursor) ([]models.Order, error)
	Search(ctx context.Context, query string, limit int, cursor *pagination.Cursor) ([]models.Order, error)
	ListForFulfillment(ctx context.Context, query FulfillmentQuery) ([]models.Order, error)
	Update(ctx context.Context, id uuid.UUID, updates map[string]any) error
	Stats(ctx context.Context, userID *uuid.UUID) (*Stats, error)
}
