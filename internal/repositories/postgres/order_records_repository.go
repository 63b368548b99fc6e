package postgres

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"

	domain "github.com/op17/storefront-api/internal/domain"
	ppostgres "github.com/op17/storefront-api/internal/platform/postgres"
	"github.com/op17/storefront-api/internal/repositories"
)

// AddressRepository persists order shipping addresses.
type AddressRepository struct {
	db *ppostgres.DB
}

// NewAddressRepository constructs a Postgres-backed address repository.
func NewAddressRepository(db *ppostgres.DB) (*AddressRepository, error) {
	if db == nil {
		return nil, errors.New("address repository requires database")
	}
	return &AddressRepository{db: db}, nil
}

var _ repositories.AddressRepository = (*AddressRepository)(nil)

func (r *AddressRepository) Insert(ctx context.Context, a domain.Address) error {
	_, err := r.db.Conn(ctx).Exec(ctx, `
		INSERT INTO addresses (id, name, phone, country, region, city, postal_code, street1, street2,
			nova_post_office_id, nova_post_office_name, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		a.ID, a.Name, a.Phone, a.Country, a.Region, a.City, a.PostalCode, a.Street1, a.Street2,
		a.NovaPostOfficeID, a.NovaPostOfficeName, a.CreatedAt)
	return ppostgres.WrapError("addresses.insert", err)
}

func (r *AddressRepository) FindByID(ctx context.Context, addressID string) (domain.Address, error) {
	var a domain.Address
	err := r.db.Conn(ctx).QueryRow(ctx, `
		SELECT id, name, phone, country, region, city, postal_code, street1, street2,
			nova_post_office_id, nova_post_office_name, created_at
		FROM addresses WHERE id = $1`, addressID).
		Scan(&a.ID, &a.Name, &a.Phone, &a.Country, &a.Region, &a.City, &a.PostalCode, &a.Street1, &a.Street2,
			&a.NovaPostOfficeID, &a.NovaPostOfficeName, &a.CreatedAt)
	if err != nil {
		return domain.Address{}, ppostgres.WrapError("addresses.find", err)
	}
	return a, nil
}

// OrderEventRepository appends to the order audit log.
type OrderEventRepository struct {
	db *ppostgres.DB
}

// NewOrderEventRepository constructs a Postgres-backed order event repository.
func NewOrderEventRepository(db *ppostgres.DB) (*OrderEventRepository, error) {
	if db == nil {
		return nil, errors.New("order event repository requires database")
	}
	return &OrderEventRepository{db: db}, nil
}

var _ repositories.OrderEventRepository = (*OrderEventRepository)(nil)

func (r *OrderEventRepository) Append(ctx context.Context, events ...domain.OrderEvent) error {
	for _, event := range events {
		var metadata []byte
		if len(event.Metadata) > 0 {
			encoded, err := json.Marshal(event.Metadata)
			if err != nil {
				return ppostgres.WrapError("order_events.append", err)
			}
			metadata = encoded
		}
		if _, err := r.db.Conn(ctx).Exec(ctx, `
			INSERT INTO order_events (id, order_id, type, message, metadata, created_by_id, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			event.ID, event.OrderID, string(event.Type), event.Message, metadata, event.CreatedByID, event.CreatedAt); err != nil {
			return ppostgres.WrapError("order_events.append", err)
		}
	}
	return nil
}

func (r *OrderEventRepository) List(ctx context.Context, orderID string) ([]domain.OrderEvent, error) {
	rows, err := r.db.Conn(ctx).Query(ctx, `
		SELECT id, order_id, type, message, metadata, created_by_id, created_at
		FROM order_events WHERE order_id = $1
		ORDER BY created_at DESC, id DESC`, orderID)
	if err != nil {
		return nil, ppostgres.WrapError("order_events.list", err)
	}
	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.OrderEvent, error) {
		var (
			event     domain.OrderEvent
			eventType string
			metadata  []byte
		)
		if err := row.Scan(&event.ID, &event.OrderID, &eventType, &event.Message, &metadata, &event.CreatedByID, &event.CreatedAt); err != nil {
			return event, err
		}
		event.Type = domain.OrderEventType(eventType)
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &event.Metadata); err != nil {
				return event, err
			}
		}
		return event, nil
	})
	if err != nil {
		return nil, ppostgres.WrapError("order_events.list", err)
	}
	return events, nil
}

// OrderShipmentRepository persists shipments.
type OrderShipmentRepository struct {
	db *ppostgres.DB
}

// NewOrderShipmentRepository constructs a Postgres-backed shipment repository.
func NewOrderShipmentRepository(db *ppostgres.DB) (*OrderShipmentRepository, error) {
	if db == nil {
		return nil, errors.New("shipment repository requires database")
	}
	return &OrderShipmentRepository{db: db}, nil
}

var _ repositories.OrderShipmentRepository = (*OrderShipmentRepository)(nil)

func (r *OrderShipmentRepository) Insert(ctx context.Context, s domain.Shipment) error {
	_, err := r.db.Conn(ctx).Exec(ctx, `
		INSERT INTO shipments (id, order_id, carrier, method, status, tracking_number, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		s.ID, s.OrderID, string(s.Carrier), string(s.Method), string(s.Status), s.TrackingNumber, s.CreatedAt, s.UpdatedAt)
	return ppostgres.WrapError("shipments.insert", err)
}

func (r *OrderShipmentRepository) Update(ctx context.Context, s domain.Shipment) error {
	tag, err := r.db.Conn(ctx).Exec(ctx, `
		UPDATE shipments SET status = $2, tracking_number = $3, updated_at = $4 WHERE id = $1`,
		s.ID, string(s.Status), s.TrackingNumber, s.UpdatedAt)
	if err != nil {
		return ppostgres.WrapError("shipments.update", err)
	}
	if tag.RowsAffected() == 0 {
		return ppostgres.NotFound("shipments.update")
	}
	return nil
}

func (r *OrderShipmentRepository) List(ctx context.Context, orderID string) ([]domain.Shipment, error) {
	rows, err := r.db.Conn(ctx).Query(ctx, `
		SELECT id, order_id, carrier, method, status, tracking_number, created_at, updated_at
		FROM shipments WHERE order_id = $1 ORDER BY created_at, id`, orderID)
	if err != nil {
		return nil, ppostgres.WrapError("shipments.list", err)
	}
	shipments, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Shipment, error) {
		var (
			s                       domain.Shipment
			carrier, method, status string
		)
		err := row.Scan(&s.ID, &s.OrderID, &carrier, &method, &status, &s.TrackingNumber, &s.CreatedAt, &s.UpdatedAt)
		s.Carrier = domain.ShippingCarrier(carrier)
		s.Method = domain.ShippingMethod(method)
		s.Status = domain.ShipmentStatus(status)
		return s, err
	})
	if err != nil {
		return nil, ppostgres.WrapError("shipments.list", err)
	}
	return shipments, nil
}
