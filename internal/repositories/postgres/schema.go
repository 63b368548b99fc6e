package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EnsureSchema creates the storefront tables when they are missing.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, schemaSQL)
	return err
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS collections (
  id text PRIMARY KEY,
  name text NOT NULL,
  backorder_policy text CHECK (backorder_policy IN ('DISALLOW','ALLOW'))
);

CREATE TABLE IF NOT EXISTS products (
  id text PRIMARY KEY,
  name text NOT NULL,
  slug text NOT NULL UNIQUE,
  base_price_eur bigint NOT NULL CHECK (base_price_eur >= 0),
  backorder_policy text CHECK (backorder_policy IN ('DISALLOW','ALLOW')),
  collection_id text REFERENCES collections(id)
);

CREATE TABLE IF NOT EXISTS variants (
  id text PRIMARY KEY,
  product_id text NOT NULL REFERENCES products(id),
  sku text NOT NULL UNIQUE,
  name text NOT NULL DEFAULT '',
  size text NOT NULL DEFAULT '',
  color text NOT NULL DEFAULT '',
  stock bigint NOT NULL DEFAULT 0,
  price_eur bigint CHECK (price_eur >= 0),
  backorder_policy text CHECK (backorder_policy IN ('DISALLOW','ALLOW'))
);

CREATE TABLE IF NOT EXISTS carts (
  id text PRIMARY KEY,
  user_id text UNIQUE,
  session_token text UNIQUE,
  created_at timestamptz NOT NULL,
  updated_at timestamptz NOT NULL,
  CONSTRAINT carts_single_owner CHECK ((user_id IS NULL) <> (session_token IS NULL))
);

CREATE TABLE IF NOT EXISTS cart_items (
  id text PRIMARY KEY,
  cart_id text NOT NULL REFERENCES carts(id) ON DELETE CASCADE,
  variant_id text NOT NULL REFERENCES variants(id),
  quantity bigint NOT NULL CHECK (quantity > 0),
  unit_price_eur bigint NOT NULL,
  created_at timestamptz NOT NULL,
  updated_at timestamptz NOT NULL,
  CONSTRAINT cart_items_cart_variant_key UNIQUE (cart_id, variant_id)
);

CREATE TABLE IF NOT EXISTS addresses (
  id text PRIMARY KEY,
  name text NOT NULL,
  phone text NOT NULL DEFAULT '',
  country text NOT NULL,
  region text NOT NULL DEFAULT '',
  city text NOT NULL,
  postal_code text NOT NULL DEFAULT '',
  street1 text NOT NULL DEFAULT '',
  street2 text NOT NULL DEFAULT '',
  nova_post_office_id text NOT NULL DEFAULT '',
  nova_post_office_name text NOT NULL DEFAULT '',
  created_at timestamptz NOT NULL
);

CREATE TABLE IF NOT EXISTS orders (
  id text PRIMARY KEY,
  order_number text NOT NULL,
  user_id text,
  email text NOT NULL,
  phone text NOT NULL DEFAULT '',
  status text NOT NULL,
  currency text NOT NULL,
  subtotal_eur bigint NOT NULL,
  discount_eur bigint NOT NULL DEFAULT 0,
  shipping_eur bigint NOT NULL DEFAULT 0,
  total_eur bigint NOT NULL,
  total_minor bigint NOT NULL,
  fx_rate numeric,
  shipping_method text NOT NULL,
  shipping_address_id text NOT NULL UNIQUE REFERENCES addresses(id),
  created_at timestamptz NOT NULL,
  updated_at timestamptz NOT NULL,
  CONSTRAINT orders_order_number_key UNIQUE (order_number)
);
CREATE INDEX IF NOT EXISTS orders_created_at_idx ON orders (created_at DESC);

CREATE TABLE IF NOT EXISTS order_items (
  id text PRIMARY KEY,
  order_id text NOT NULL REFERENCES orders(id),
  product_id text NOT NULL,
  variant_id text NOT NULL,
  product_name text NOT NULL,
  variant_name text NOT NULL DEFAULT '',
  sku text NOT NULL,
  quantity bigint NOT NULL CHECK (quantity > 0),
  unit_price_eur bigint NOT NULL,
  total_eur bigint NOT NULL,
  attributes jsonb NOT NULL DEFAULT '{}',
  created_at timestamptz NOT NULL
);

CREATE TABLE IF NOT EXISTS payments (
  id text PRIMARY KEY,
  order_id text NOT NULL REFERENCES orders(id),
  provider text NOT NULL,
  status text NOT NULL,
  amount_minor bigint NOT NULL,
  currency text NOT NULL,
  provider_payment_id text,
  provider_invoice_id text,
  raw jsonb,
  created_at timestamptz NOT NULL,
  updated_at timestamptz NOT NULL,
  CONSTRAINT payments_order_provider_key UNIQUE (order_id, provider)
);
CREATE INDEX IF NOT EXISTS payments_provider_payment_idx ON payments (provider, provider_payment_id);
CREATE INDEX IF NOT EXISTS payments_provider_invoice_idx ON payments (provider, provider_invoice_id);

CREATE TABLE IF NOT EXISTS refunds (
  id text PRIMARY KEY,
  payment_id text NOT NULL REFERENCES payments(id),
  amount_minor bigint NOT NULL CHECK (amount_minor > 0),
  status text NOT NULL,
  reason text NOT NULL DEFAULT '',
  created_at timestamptz NOT NULL,
  updated_at timestamptz NOT NULL
);

CREATE TABLE IF NOT EXISTS shipments (
  id text PRIMARY KEY,
  order_id text NOT NULL REFERENCES orders(id),
  carrier text NOT NULL,
  method text NOT NULL,
  status text NOT NULL,
  tracking_number text NOT NULL DEFAULT '',
  created_at timestamptz NOT NULL,
  updated_at timestamptz NOT NULL
);

CREATE TABLE IF NOT EXISTS order_events (
  id text PRIMARY KEY,
  order_id text NOT NULL REFERENCES orders(id),
  type text NOT NULL,
  message text NOT NULL,
  metadata jsonb,
  created_by_id text,
  created_at timestamptz NOT NULL
);
CREATE INDEX IF NOT EXISTS order_events_order_idx ON order_events (order_id, created_at DESC);

CREATE TABLE IF NOT EXISTS fx_rates (
  base text NOT NULL,
  quote text NOT NULL,
  rate numeric NOT NULL CHECK (rate > 0),
  source text NOT NULL,
  as_of timestamptz NOT NULL,
  updated_at timestamptz NOT NULL,
  PRIMARY KEY (base, quote)
);
`
