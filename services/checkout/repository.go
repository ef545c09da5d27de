package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgUniqueViolation = "23505"

// Repository define a interface para operações de banco de dados do checkout
type Repository interface {
	OrderRepository
	PaymentRepository
	ShipmentRepository
	OutboxRepository
}

type OrderRepository interface {
	// GetProducts busca os produtos do catálogo pelos IDs
	GetProducts(ctx context.Context, productIDs []string) (map[string]Product, error)

	// CreateOrder grava pedido, itens, tentativa de pagamento e evento numa única transação
	CreateOrder(ctx context.Context, order *Order, items []OrderItem, attempt *PaymentAttempt) error

	GetOrder(ctx context.Context, orderID string) (*Order, error)
	GetOrderItems(ctx context.Context, orderID string) ([]OrderItem, error)
}

type PaymentRepository interface {
	CreatePaymentAttempt(ctx context.Context, attempt *PaymentAttempt) error
	GetPaymentAttempt(ctx context.Context, orderID, providerOrderID string) (*PaymentAttempt, error)
	HasVerifiedPayment(ctx context.Context, orderID string) (bool, error)
	MarkPaymentAttemptFailed(ctx context.Context, attemptID, paymentID, signature, reason string) error

	// MarkOrderPaid verifica a tentativa e move o pedido de pending para paid.
	// Retorna false quando o pedido já estava pago (nenhuma alteração feita).
	MarkOrderPaid(ctx context.Context, orderID, attemptID, paymentID, signature string) (bool, error)
}

type ShipmentRepository interface {
	// AnchorShipment cria (ou reaproveita) a linha única por pedido antes de qualquer chamada externa
	AnchorShipment(ctx context.Context, orderID, provider string) (*Shipment, error)
	GetShipment(ctx context.Context, orderID string) (*Shipment, error)

	// ClaimShipment adquire o lease da saga; false quando outro chamador o detém ou a saga terminou.
	// O shipment devolvido carrega o LeaseID que autoriza as escritas seguintes.
	ClaimShipment(ctx context.Context, orderID string, lease time.Duration) (*Shipment, bool, error)
	// RenewShipment estende o lease; ErrShipmentLeaseLost se outro chamador o assumiu
	RenewShipment(ctx context.Context, shipment *Shipment, lease time.Duration) error
	UpdateShipment(ctx context.Context, shipment *Shipment, step string, entry DiagnosticEntry) error

	// CompleteShipment marca pickup_scheduled e move o pedido para shipping_pending na mesma transação
	CompleteShipment(ctx context.Context, shipment *Shipment, entry DiagnosticEntry) error
	ReleaseShipment(ctx context.Context, shipment *Shipment) error
}

type OutboxRepository interface {
	GetUnprocessedEvents(ctx context.Context, limit int) ([]OutboxEvent, error)
	MarkEventAsProcessed(ctx context.Context, eventID string) error
}

// PostgresRepository implementa Repository usando PostgreSQL
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository cria uma nova instância de PostgresRepository
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetProducts busca os produtos do catálogo pelos IDs
func (r *PostgresRepository) GetProducts(ctx context.Context, productIDs []string) (map[string]Product, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, name, sku, price_minor, active
		FROM products
		WHERE id = ANY($1)
	`, productIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	products := make(map[string]Product, len(productIDs))
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.Name, &p.SKU, &p.PriceMinor, &p.Active); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate products: %w", err)
	}
	return products, nil
}

// CreateOrder grava pedido, itens, tentativa de pagamento e evento numa única transação
func (r *PostgresRepository) CreateOrder(ctx context.Context, order *Order, items []OrderItem, attempt *PaymentAttempt) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO orders (
			id, status, currency, total_amount,
			customer_name, customer_email, customer_phone,
			address_line1, address_line2, city, state, pincode, country,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`,
		order.ID, order.Status, order.Currency, order.TotalAmount,
		order.Customer.Name, order.Customer.Email, order.Customer.Phone,
		order.Address.Line1, order.Address.Line2, order.Address.City, order.Address.State,
		order.Address.Pincode, order.Address.Country,
		order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}

	for i := range items {
		err := tx.QueryRow(ctx, `
			INSERT INTO order_items (order_id, product_id, product_name, sku, quantity, size_selector, unit_price)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id
		`, order.ID, items[i].ProductID, items[i].ProductName, items[i].SKU, items[i].Quantity,
			nullIfEmpty(items[i].SizeSelector), items[i].UnitPrice,
		).Scan(&items[i].ID)
		if err != nil {
			return fmt.Errorf("failed to insert order item: %w", err)
		}
	}

	if attempt != nil {
		if err := insertPaymentAttempt(ctx, tx, attempt); err != nil {
			return err
		}
	}

	if err := insertOutboxEvent(ctx, tx, order.ID, EventOrderCreated, map[string]any{
		"order_id":     order.ID,
		"total_amount": order.TotalAmount,
		"currency":     order.Currency,
		"items":        len(items),
	}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit order: %w", err)
	}
	return nil
}

// GetOrder busca um pedido pelo ID
func (r *PostgresRepository) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	if _, err := uuid.Parse(orderID); err != nil {
		return nil, ErrOrderNotFound
	}

	var order Order
	err := r.db.QueryRow(ctx, `
		SELECT id, status, currency, total_amount,
		       customer_name, customer_email, customer_phone,
		       address_line1, address_line2, city, state, pincode, country,
		       COALESCE(payment_id, ''), created_at, updated_at
		FROM orders WHERE id = $1
	`, orderID).Scan(
		&order.ID, &order.Status, &order.Currency, &order.TotalAmount,
		&order.Customer.Name, &order.Customer.Email, &order.Customer.Phone,
		&order.Address.Line1, &order.Address.Line2, &order.Address.City, &order.Address.State,
		&order.Address.Pincode, &order.Address.Country,
		&order.PaymentID, &order.CreatedAt, &order.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return &order, nil
}

// GetOrderItems busca as linhas de um pedido
func (r *PostgresRepository) GetOrderItems(ctx context.Context, orderID string) ([]OrderItem, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, order_id, product_id, product_name, sku, quantity, COALESCE(size_selector, ''), unit_price
		FROM order_items
		WHERE order_id = $1
		ORDER BY id
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to query order items: %w", err)
	}
	defer rows.Close()

	var items []OrderItem
	for rows.Next() {
		var item OrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.ProductName, &item.SKU,
			&item.Quantity, &item.SizeSelector, &item.UnitPrice); err != nil {
			return nil, fmt.Errorf("failed to scan order item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// CreatePaymentAttempt registra uma nova tentativa de pagamento
func (r *PostgresRepository) CreatePaymentAttempt(ctx context.Context, attempt *PaymentAttempt) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := insertPaymentAttempt(ctx, tx, attempt); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// GetPaymentAttempt busca a tentativa ligada ao pedido e ao pedido remoto informado
func (r *PostgresRepository) GetPaymentAttempt(ctx context.Context, orderID, providerOrderID string) (*PaymentAttempt, error) {
	var a PaymentAttempt
	err := r.db.QueryRow(ctx, `
		SELECT id, order_id, provider, provider_order_id, amount,
		       COALESCE(provider_payment_id, ''), COALESCE(provider_signature, ''),
		       status, COALESCE(failure_reason, ''), created_at, updated_at
		FROM payment_attempts
		WHERE order_id = $1 AND provider_order_id = $2
	`, orderID, providerOrderID).Scan(
		&a.ID, &a.OrderID, &a.Provider, &a.ProviderOrderID, &a.Amount,
		&a.ProviderPaymentID, &a.ProviderSignature,
		&a.Status, &a.FailureReason, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProviderOrderMismatch
		}
		return nil, fmt.Errorf("failed to get payment attempt: %w", err)
	}
	return &a, nil
}

// HasVerifiedPayment verifica se o pedido possui uma tentativa verificada
func (r *PostgresRepository) HasVerifiedPayment(ctx context.Context, orderID string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM payment_attempts WHERE order_id = $1 AND status = 'verified')
	`, orderID).Scan(&exists)
	return exists, err
}

// MarkPaymentAttemptFailed registra a falha de autenticação para auditoria; tentativas verificadas não mudam
func (r *PostgresRepository) MarkPaymentAttemptFailed(ctx context.Context, attemptID, paymentID, signature, reason string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE payment_attempts
		SET status = 'failed',
		    provider_payment_id = $2,
		    provider_signature = $3,
		    failure_reason = $4,
		    updated_at = NOW()
		WHERE id = $1 AND status <> 'verified'
	`, attemptID, nullIfEmpty(paymentID), nullIfEmpty(signature), reason)
	if err != nil {
		return fmt.Errorf("failed to mark payment attempt failed: %w", err)
	}
	return nil
}

// MarkOrderPaid verifica a tentativa e move o pedido de pending para paid com lock pessimista
func (r *PostgresRepository) MarkOrderPaid(ctx context.Context, orderID, attemptID, paymentID, signature string) (bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// SELECT FOR UPDATE serializa confirmações concorrentes do mesmo pedido
	var status OrderStatus
	err = tx.QueryRow(ctx, `SELECT status FROM orders WHERE id = $1 FOR UPDATE`, orderID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, ErrOrderNotFound
		}
		return false, fmt.Errorf("failed to lock order: %w", err)
	}

	if status.IsPaid() {
		return false, tx.Commit(ctx)
	}
	if !status.CanTransitionTo(OrderStatusPaid) {
		return false, fmt.Errorf("%w: cannot move %s order to paid", ErrInvalidState, status)
	}

	_, err = tx.Exec(ctx, `
		UPDATE payment_attempts
		SET status = 'verified',
		    provider_payment_id = $2,
		    provider_signature = $3,
		    failure_reason = NULL,
		    updated_at = NOW()
		WHERE id = $1 AND status <> 'verified'
	`, attemptID, paymentID, signature)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return false, fmt.Errorf("%w: order already has a verified payment", ErrInvalidState)
		}
		return false, fmt.Errorf("failed to verify payment attempt: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE orders
		SET status = 'paid', payment_id = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`, orderID, paymentID)
	if err != nil {
		return false, fmt.Errorf("failed to mark order paid: %w", err)
	}

	if err := insertOutboxEvent(ctx, tx, orderID, EventOrderPaid, map[string]any{
		"order_id":   orderID,
		"payment_id": paymentID,
	}); err != nil {
		return false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit payment: %w", err)
	}
	return true, nil
}

const shipmentColumns = `
	id, order_id, provider,
	COALESCE(provider_order_id, ''), COALESCE(provider_shipment_id, ''),
	COALESCE(awb_code, ''), COALESCE(courier_name, ''), COALESCE(pickup_token, ''),
	pickup_scheduled_at, status, diagnostics, COALESCE(last_error, ''),
	attempts, locked_until, COALESCE(lease_id::text, ''), created_at, updated_at`

// AnchorShipment cria (ou reaproveita) a linha única por pedido antes de qualquer chamada externa
func (r *PostgresRepository) AnchorShipment(ctx context.Context, orderID, provider string) (*Shipment, error) {
	// ON CONFLICT garante uma única linha mesmo com chamadas concorrentes
	_, err := r.db.Exec(ctx, `
		INSERT INTO shipments (id, order_id, provider, status)
		VALUES ($1, $2, $3, 'created')
		ON CONFLICT (order_id) DO NOTHING
	`, uuid.New().String(), orderID, provider)
	if err != nil {
		return nil, fmt.Errorf("failed to anchor shipment: %w", err)
	}
	return r.GetShipment(ctx, orderID)
}

// GetShipment busca o shipment de um pedido
func (r *PostgresRepository) GetShipment(ctx context.Context, orderID string) (*Shipment, error) {
	if _, err := uuid.Parse(orderID); err != nil {
		return nil, ErrShipmentNotFound
	}
	row := r.db.QueryRow(ctx, `SELECT `+shipmentColumns+` FROM shipments WHERE order_id = $1`, orderID)
	shipment, err := scanShipment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrShipmentNotFound
		}
		return nil, fmt.Errorf("failed to get shipment: %w", err)
	}
	return shipment, nil
}

// ClaimShipment adquire o lease da saga
func (r *PostgresRepository) ClaimShipment(ctx context.Context, orderID string, lease time.Duration) (*Shipment, bool, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE shipments
		SET locked_until = NOW() + make_interval(secs => $2::double precision),
		    lease_id = $3,
		    attempts = attempts + 1,
		    updated_at = NOW()
		WHERE order_id = $1
		  AND status <> 'pickup_scheduled'
		  AND (locked_until IS NULL OR locked_until < NOW())
		RETURNING `+shipmentColumns, orderID, lease.Seconds(), uuid.New().String())

	shipment, err := scanShipment(row)
	if err == nil {
		return shipment, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("failed to claim shipment: %w", err)
	}

	current, err := r.GetShipment(ctx, orderID)
	if err != nil {
		return nil, false, err
	}
	return current, false, nil
}

// RenewShipment estende o lease de quem ainda é dono dele
func (r *PostgresRepository) RenewShipment(ctx context.Context, shipment *Shipment, lease time.Duration) error {
	row := r.db.QueryRow(ctx, `
		UPDATE shipments
		SET locked_until = NOW() + make_interval(secs => $3::double precision)
		WHERE order_id = $1 AND lease_id = $2
		RETURNING locked_until
	`, shipment.OrderID, shipment.LeaseID, lease.Seconds())

	if err := row.Scan(&shipment.LockedUntil); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrShipmentLeaseLost
		}
		return fmt.Errorf("failed to renew shipment lease: %w", err)
	}
	return nil
}

// UpdateShipment grava os identificadores e o diagnóstico da etapa executada
func (r *PostgresRepository) UpdateShipment(ctx context.Context, shipment *Shipment, step string, entry DiagnosticEntry) error {
	return updateShipment(ctx, r.db, shipment, step, entry, false)
}

// CompleteShipment marca pickup_scheduled e move o pedido para shipping_pending na mesma transação
func (r *PostgresRepository) CompleteShipment(ctx context.Context, shipment *Shipment, entry DiagnosticEntry) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	shipment.Status = ShipmentStatusPickupScheduled
	shipment.LastError = ""
	if err := updateShipment(ctx, tx, shipment, StepSchedulePickup, entry, true); err != nil {
		return err
	}

	tag, err := tx.Exec(ctx, `
		UPDATE orders
		SET status = 'shipping_pending', updated_at = NOW()
		WHERE id = $1 AND status = 'paid'
	`, shipment.OrderID)
	if err != nil {
		return fmt.Errorf("failed to mark order shipping_pending: %w", err)
	}

	if tag.RowsAffected() == 1 {
		if err := insertOutboxEvent(ctx, tx, shipment.OrderID, EventOrderShippingPending, map[string]any{
			"order_id":     shipment.OrderID,
			"awb_code":     shipment.AWBCode,
			"courier_name": shipment.CourierName,
		}); err != nil {
			return err
		}
	} else {
		var status OrderStatus
		if err := tx.QueryRow(ctx, `SELECT status FROM orders WHERE id = $1`, shipment.OrderID).Scan(&status); err != nil {
			return fmt.Errorf("failed to read order status: %w", err)
		}
		if status != OrderStatusShippingPending {
			return fmt.Errorf("%w: cannot move %s order to shipping_pending", ErrInvalidState, status)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit shipment: %w", err)
	}
	return nil
}

// ReleaseShipment libera o lease da saga; não faz nada se outro chamador já o assumiu
func (r *PostgresRepository) ReleaseShipment(ctx context.Context, shipment *Shipment) error {
	_, err := r.db.Exec(ctx, `
		UPDATE shipments SET locked_until = NULL, lease_id = NULL
		WHERE order_id = $1 AND lease_id = $2
	`, shipment.OrderID, shipment.LeaseID)
	if err != nil {
		return fmt.Errorf("failed to release shipment: %w", err)
	}
	return nil
}

// GetUnprocessedEvents busca eventos do outbox ainda não publicados
func (r *PostgresRepository) GetUnprocessedEvents(ctx context.Context, limit int) ([]OutboxEvent, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, aggregate_id, event_type, payload, created_at
		FROM outbox_events
		WHERE processed_at IS NULL
		ORDER BY created_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query outbox: %w", err)
	}
	defer rows.Close()

	var events []OutboxEvent
	for rows.Next() {
		var e OutboxEvent
		if err := rows.Scan(&e.ID, &e.AggregateID, &e.EventType, &e.Payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan outbox event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// MarkEventAsProcessed marca o evento como publicado
func (r *PostgresRepository) MarkEventAsProcessed(ctx context.Context, eventID string) error {
	_, err := r.db.Exec(ctx, `UPDATE outbox_events SET processed_at = NOW() WHERE id = $1`, eventID)
	return err
}

// dbExecutor is satisfied by both *pgxpool.Pool and pgx.Tx.
type dbExecutor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func updateShipment(ctx context.Context, db dbExecutor, s *Shipment, step string, entry DiagnosticEntry, release bool) error {
	diagnostic, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode shipment diagnostic: %w", err)
	}

	tag, err := db.Exec(ctx, `
		UPDATE shipments
		SET provider_order_id = $2,
		    provider_shipment_id = $3,
		    awb_code = $4,
		    courier_name = $5,
		    pickup_token = $6,
		    pickup_scheduled_at = $7,
		    status = $8,
		    last_error = $9,
		    diagnostics = diagnostics || jsonb_build_object($10::text, $11::jsonb),
		    locked_until = CASE WHEN $12::boolean THEN NULL ELSE locked_until END,
		    lease_id = CASE WHEN $12::boolean THEN NULL ELSE lease_id END,
		    updated_at = NOW()
		WHERE order_id = $1 AND lease_id = $13
	`,
		s.OrderID,
		nullIfEmpty(s.ProviderOrderID), nullIfEmpty(s.ProviderShipmentID),
		nullIfEmpty(s.AWBCode), nullIfEmpty(s.CourierName), nullIfEmpty(s.PickupToken),
		s.PickupScheduledAt, s.Status, nullIfEmpty(s.LastError),
		step, string(diagnostic), release, s.LeaseID,
	)
	if err != nil {
		return fmt.Errorf("failed to update shipment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrShipmentLeaseLost
	}

	if s.Diagnostics == nil {
		s.Diagnostics = make(map[string]DiagnosticEntry)
	}
	s.Diagnostics[step] = entry
	return nil
}

func scanShipment(row pgx.Row) (*Shipment, error) {
	var s Shipment
	var diagnostics []byte
	err := row.Scan(
		&s.ID, &s.OrderID, &s.Provider,
		&s.ProviderOrderID, &s.ProviderShipmentID,
		&s.AWBCode, &s.CourierName, &s.PickupToken,
		&s.PickupScheduledAt, &s.Status, &diagnostics, &s.LastError,
		&s.Attempts, &s.LockedUntil, &s.LeaseID, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(diagnostics) > 0 {
		if err := json.Unmarshal(diagnostics, &s.Diagnostics); err != nil {
			return nil, fmt.Errorf("failed to decode shipment diagnostics: %w", err)
		}
	}
	return &s, nil
}

func insertPaymentAttempt(ctx context.Context, tx pgx.Tx, a *PaymentAttempt) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO payment_attempts (id, order_id, provider, provider_order_id, amount, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, a.ID, a.OrderID, a.Provider, a.ProviderOrderID, a.Amount, a.Status, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return fmt.Errorf("%w: provider order %s already bound", ErrInvalidState, a.ProviderOrderID)
		}
		return fmt.Errorf("failed to insert payment attempt: %w", err)
	}
	return nil
}

func insertOutboxEvent(ctx context.Context, tx pgx.Tx, aggregateID, eventType string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode outbox payload: %w", err)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO outbox_events (id, aggregate_id, event_type, payload)
		VALUES ($1, $2, $3, $4)
	`, uuid.New().String(), aggregateID, eventType, body)
	if err != nil {
		return fmt.Errorf("failed to insert outbox event: %w", err)
	}
	return nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
