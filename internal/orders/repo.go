package orders

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/pagination"
)

type repository struct {
	db *gorm.DB
}

// NewRepository builds an orders repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

// withLines preloads lines in checkout order plus the product name and
// category, one query per relation regardless of page size.
func withLines(db *gorm.DB) *gorm.DB {
	return db.
		Preload("Lines", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC")
		}).
		Preload("Lines.Product", func(db *gorm.DB) *gorm.DB {
			return db.Select("id", "sku", "name", "category")
		})
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := withLines(r.db.WithContext(ctx)).Where("id = ?", id).Take(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) LockByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		Take(&order).Error
	if err != nil {
		return nil, err
	}
	var lines []models.OrderLine
	if err := r.db.WithContext(ctx).Where("order_id = ?", id).Order("position ASC").Find(&lines).Error; err != nil {
		return nil, err
	}
	order.Lines = lines
	return &order, nil
}

func (r *repository) List(ctx context.Context, filters Filters, limit int, cursor *pagination.Cursor) ([]models.Order, error) {
	query := r.db.WithContext(ctx).Model(&models.Order{})
	if filters.Status != nil {
		query = query.Where("status = ?", *filters.Status)
	}
	if filters.UserID != nil {
		query = query.Where("user_id = ?", *filters.UserID)
	}
	if email := strings.TrimSpace(filters.GuestEmail); email != "" {
		query = query.Where("LOWER(guest_email) = ?", strings.ToLower(email))
	}
	if filters.DateFrom != nil {
		query = query.Where("created_at >= ?", filters.DateFrom.UTC())
	}
	if filters.DateTo != nil {
		query = query.Where("created_at <= ?", filters.DateTo.UTC())
	}
	return r.page(query, limit, cursor)
}

func (r *repository) Search(ctx context.Context, term string, limit int, cursor *pagination.Cursor) ([]models.Order, error) {
	needle := strings.ToLower(strings.TrimSpace(term))
	contains := "%" + escapeLike(needle) + "%"
	prefix := escapeLike(needle) + "%"

	query := r.db.WithContext(ctx).Model(&models.Order{}).Where(
		r.db.Where("LOWER(CAST(id AS TEXT)) LIKE ? ESCAPE '\\'", prefix).
			Or("LOWER(tracking_number) LIKE ? ESCAPE '\\'", contains).
			Or("LOWER(guest_email) LIKE ? ESCAPE '\\'", contains).
			Or("LOWER(guest_name) LIKE ? ESCAPE '\\'", contains).
			Or("LOWER(payment_reference) LIKE ? ESCAPE '\\'", contains),
	)
	return r.page(query, limit, cursor)
}

func (r *repository) page(query *gorm.DB, limit int, cursor *pagination.Cursor) ([]models.Order, error) {
	var rows []models.Order
	err := withLines(query).
		Scopes(pagination.Newest(cursor)).
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *repository) ListForFulfillment(ctx context.Context, q FulfillmentQuery) ([]models.Order, error) {
	query := r.db.WithContext(ctx).Model(&models.Order{}).Where("status = ?", q.Status)
	if q.UpdatedBefore != nil {
		query = query.Where("updated_at < ?", q.UpdatedBefore.UTC())
	}
	var rows []models.Order
	err := query.
		Scopes(pagination.Oldest(q.After)).
		Limit(q.Limit).
		Find(&rows).Error
	return rows, err
}

func (r *repository) Update(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	return r.db.WithContext(ctx).Model(&models.Order{}).Where("id = ?", id).Updates(updates).Error
}

func (r *repository) Stats(ctx context.Context, userID *uuid.UUID) (*Stats, error) {
	type statusRow struct {
		Status enums.OrderStatus
		Orders int64
		Amount decimal.Decimal
	}

	query := r.db.WithContext(ctx).Model(&models.Order{}).
		Select("status, COUNT(*) AS orders, COALESCE(SUM(total), 0) AS amount")
	if userID != nil {
		query = query.Where("user_id = ?", *userID)
	}
	var rows []statusRow
	if err := query.Group("status").Scan(&rows).Error; err != nil {
		return nil, err
	}

	stats := &Stats{
		TotalRevenue:      decimal.Zero,
		AverageOrderValue: decimal.Zero,
		CountsByStatus:    make(map[enums.OrderStatus]int64, len(enums.OrderStatuses())),
	}
	for _, status := range enums.OrderStatuses() {
		stats.CountsByStatus[status] = 0
	}

	var revenueOrders int64
	for _, row := range rows {
		stats.TotalOrders += row.Orders
		stats.CountsByStatus[row.Status] = row.Orders
		if !countsTowardRevenue(row.Status) {
			continue
		}
		revenueOrders += row.Orders
		stats.TotalRevenue = stats.TotalRevenue.Add(row.Amount)
	}
	stats.TotalRevenue = stats.TotalRevenue.Round(2)
	if revenueOrders > 0 {
		stats.AverageOrderValue = stats.TotalRevenue.Div(decimal.NewFromInt(revenueOrders)).Round(2)
	}
	return stats, nil
}

func countsTowardRevenue(status enums.OrderStatus) bool {
	return status != enums.OrderStatusCancelled && status != enums.OrderStatusRefunded
}

func escapeLike(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(value)
}
