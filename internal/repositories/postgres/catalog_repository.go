package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	domain "github.com/op17/storefront-api/internal/domain"
	ppostgres "github.com/op17/storefront-api/internal/platform/postgres"
	"github.com/op17/storefront-api/internal/repositories"
)

const catalogLineSelect = `
SELECT v.id, v.product_id, v.sku, v.name, v.size, v.color, v.stock, v.price_eur, v.backorder_policy,
       p.id, p.name, p.slug, p.base_price_eur, p.backorder_policy, p.collection_id,
       c.id, c.name, c.backorder_policy
FROM variants v
JOIN products p ON p.id = v.product_id
LEFT JOIN collections c ON c.id = p.collection_id`

// CatalogRepository reads variants with their product and collection.
type CatalogRepository struct {
	db *ppostgres.DB
}

// NewCatalogRepository constructs a Postgres-backed catalog reader.
func NewCatalogRepository(db *ppostgres.DB) (*CatalogRepository, error) {
	if db == nil {
		return nil, errors.New("catalog repository requires database")
	}
	return &CatalogRepository{db: db}, nil
}

var _ repositories.CatalogRepository = (*CatalogRepository)(nil)

func (r *CatalogRepository) GetVariantLine(ctx context.Context, variantID string) (domain.CatalogLine, error) {
	row := r.db.Conn(ctx).QueryRow(ctx, catalogLineSelect+` WHERE v.id = $1`, variantID)
	line, err := scanCatalogLine(row)
	if err != nil {
		return domain.CatalogLine{}, ppostgres.WrapError("catalog.variant", err)
	}
	return line, nil
}

func (r *CatalogRepository) GetVariantLines(ctx context.Context, variantIDs []string) (map[string]domain.CatalogLine, error) {
	out := make(map[string]domain.CatalogLine, len(variantIDs))
	if len(variantIDs) == 0 {
		return out, nil
	}
	rows, err := r.db.Conn(ctx).Query(ctx, catalogLineSelect+` WHERE v.id = ANY($1)`, variantIDs)
	if err != nil {
		return nil, ppostgres.WrapError("catalog.variants", err)
	}
	defer rows.Close()
	for rows.Next() {
		line, err := scanCatalogLine(rows)
		if err != nil {
			return nil, ppostgres.WrapError("catalog.variants", err)
		}
		out[line.Variant.ID] = line
	}
	if err := rows.Err(); err != nil {
		return nil, ppostgres.WrapError("catalog.variants", err)
	}
	return out, nil
}

func scanCatalogLine(row pgx.Row) (domain.CatalogLine, error) {
	var (
		line                                    domain.CatalogLine
		variantPolicy, productPolicy            *string
		collectionID, collectionName, colPolicy *string
	)
	err := row.Scan(
		&line.Variant.ID, &line.Variant.ProductID, &line.Variant.SKU, &line.Variant.Name,
		&line.Variant.Size, &line.Variant.Color, &line.Variant.Stock, &line.Variant.PriceEur, &variantPolicy,
		&line.Product.ID, &line.Product.Name, &line.Product.Slug, &line.Product.BasePriceEur, &productPolicy,
		&line.Product.CollectionID,
		&collectionID, &collectionName, &colPolicy,
	)
	if err != nil {
		return domain.CatalogLine{}, err
	}
	line.Variant.BackorderPolicy = policyPtr(variantPolicy)
	line.Product.BackorderPolicy = policyPtr(productPolicy)
	if collectionID != nil {
		line.Collection = &domain.Collection{
			ID:              *collectionID,
			Name:            deref(collectionName),
			BackorderPolicy: policyPtr(colPolicy),
		}
		line.Product.Collection = line.Collection
	}
	return line, nil
}

func policyPtr(value *string) *domain.BackorderPolicy {
	if value == nil || *value == "" {
		return nil
	}
	policy := domain.BackorderPolicy(*value)
	return &policy
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func nullable(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
