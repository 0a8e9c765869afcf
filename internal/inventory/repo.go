package inventory

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/pagination"
)

// Repository persists product stock and the adjustment log.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindProduct(ctx context.Context, id uuid.UUID) (*models.Product, error)
	LockProduct(ctx context.Context, id uuid.UUID) (*models.Product, error)
	DecrementIfAvailable(ctx context.Context, id uuid.UUID, quantity int) (bool, error)
	Increment(ctx context.Context, id uuid.UUID, quantity int) (bool, error)
	SetInventory(ctx context.Context, id uuid.UUID, inventory int) error
	InsertAdjustment(ctx context.Context, adjustment *models.InventoryAdjustment) error
	ListAdjustments(ctx context.Context, filters HistoryFilters, limit int, cursor *pagination.Cursor) ([]models.InventoryAdjustment, error)
	Summary(ctx context.Context, lowStockThreshold int) (*Summary, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository binds the inventory repository to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindProduct(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	var product models.Product
	if err := r.db.WithContext(ctx).Where("id = ?", id).Take(&product).Error; err != nil {
		return nil, err
	}
	return &product, nil
}

// LockProduct reads the product row FOR UPDATE. Must run inside a transaction.
func (r *repository) LockProduct(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	var product models.Product
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		Take(&product).Error; err != nil {
		return nil, err
	}
	return &product, nil
}

// DecrementIfAvailable subtracts quantity only when enough stock remains.
// It reports false when the guard rejected the update or the product is absent.
func (r *repository) DecrementIfAvailable(ctx context.Context, id uuid.UUID, quantity int) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Product{}).
		Where("id = ? AND inventory >= ?", id, quantity).
		Updates(map[string]any{
			"inventory":  gorm.Expr("inventory - ?", quantity),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) Increment(ctx context.Context, id uuid.UUID, quantity int) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Product{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"inventory":  gorm.Expr("inventory + ?", quantity),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) SetInventory(ctx context.Context, id uuid.UUID, inventory int) error {
	return r.db.WithContext(ctx).
		Model(&models.Product{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"inventory":  inventory,
			"updated_at": time.Now().UTC(),
		}).Error
}

func (r *repository) InsertAdjustment(ctx context.Context, adjustment *models.InventoryAdjustment) error {
	return r.db.WithContext(ctx).Create(adjustment).Error
}

func (r *repository) ListAdjustments(ctx context.Context, filters HistoryFilters, limit int, cursor *pagination.Cursor) ([]models.InventoryAdjustment, error) {
	query := r.db.WithContext(ctx).Model(&models.InventoryAdjustment{})
	if filters.ProductID != nil {
		query = query.Where("product_id = ?", *filters.ProductID)
	}
	if filters.ChangeType != nil {
		query = query.Where("change_type = ?", *filters.ChangeType)
	}
	if filters.DateFrom != nil {
		query = query.Where("created_at >= ?", filters.DateFrom.UTC())
	}
	if filters.DateTo != nil {
		query = query.Where("created_at <= ?", filters.DateTo.UTC())
	}

	var rows []models.InventoryAdjustment
	if err := query.
		Scopes(pagination.Newest(cursor)).
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) Summary(ctx context.Context, lowStockThreshold int) (*Summary, error) {
	lowStock := "inventory > 0 AND inventory <= low_stock_threshold"
	args := []any{}
	if lowStockThreshold > 0 {
		lowStock = "inventory > 0 AND inventory <= ?"
		args = append(args, lowStockThreshold)
	}

	query := `
SELECT
	COUNT(*) AS total_products,
	COALESCE(SUM(CASE WHEN ` + lowStock + ` THEN 1 ELSE 0 END), 0) AS low_stock_products,
	COALESCE(SUM(CASE WHEN inventory = 0 THEN 1 ELSE 0 END), 0) AS out_of_stock_products,
	COALESCE(SUM(inventory), 0) AS total_units_in_stock
FROM products
WHERE is_active = ?`
	args = append(args, true)

	var summary Summary
	if err := r.db.WithContext(ctx).Raw(query, args...).Scan(&summary).Error; err != nil {
		return nil, err
	}
	return &summary, nil
}
