package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memoryRepository é um Repository em memória com as mesmas garantias de estado do Postgres
type memoryRepository struct {
	mu        sync.Mutex
	products  map[string]Product
	orders    map[string]Order
	items     map[string][]OrderItem
	attempts  map[string]PaymentAttempt
	shipments map[string]Shipment
	events    []OutboxEvent
	nextItem  int64

	createOrderErr error
	updateErr      error
}

func newMemoryRepository(products ...Product) *memoryRepository {
	r := &memoryRepository{
		products:  make(map[string]Product),
		orders:    make(map[string]Order),
		items:     make(map[string][]OrderItem),
		attempts:  make(map[string]PaymentAttempt),
		shipments: make(map[string]Shipment),
	}
	for _, p := range products {
		r.products[p.ID] = p
	}
	return r
}

func (r *memoryRepository) GetProducts(_ context.Context, productIDs []string) (map[string]Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]Product)
	for _, id := range productIDs {
		if p, ok := r.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (r *memoryRepository) CreateOrder(_ context.Context, order *Order, items []OrderItem, attempt *PaymentAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createOrderErr != nil {
		return r.createOrderErr
	}
	if attempt != nil {
		for _, a := range r.attempts {
			if a.ProviderOrderID == attempt.ProviderOrderID {
				return fmt.Errorf("%w: provider order %s already bound", ErrInvalidState, a.ProviderOrderID)
			}
		}
	}

	r.orders[order.ID] = *order
	stored := make([]OrderItem, len(items))
	for i := range items {
		r.nextItem++
		items[i].ID = r.nextItem
		stored[i] = items[i]
	}
	r.items[order.ID] = stored
	if attempt != nil {
		r.attempts[attempt.ID] = *attempt
	}
	r.addEvent(order.ID, EventOrderCreated)
	return nil
}

func (r *memoryRepository) GetOrder(_ context.Context, orderID string) (*Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[orderID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return &order, nil
}

func (r *memoryRepository) GetOrderItems(_ context.Context, orderID string) ([]OrderItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]OrderItem(nil), r.items[orderID]...), nil
}

func (r *memoryRepository) CreatePaymentAttempt(_ context.Context, attempt *PaymentAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.attempts {
		if a.ProviderOrderID == attempt.ProviderOrderID {
			return fmt.Errorf("%w: provider order %s already bound", ErrInvalidState, a.ProviderOrderID)
		}
	}
	r.attempts[attempt.ID] = *attempt
	return nil
}

func (r *memoryRepository) GetPaymentAttempt(_ context.Context, orderID, providerOrderID string) (*PaymentAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.attempts {
		if a.OrderID == orderID && a.ProviderOrderID == providerOrderID {
			return &a, nil
		}
	}
	return nil, ErrProviderOrderMismatch
}

func (r *memoryRepository) HasVerifiedPayment(_ context.Context, orderID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.verifiedAttempt(orderID) != "", nil
}

func (r *memoryRepository) MarkPaymentAttemptFailed(_ context.Context, attemptID, paymentID, signature, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.attempts[attemptID]
	if !ok || a.Status == PaymentAttemptVerified {
		return nil
	}
	a.Status = PaymentAttemptFailed
	a.ProviderPaymentID = paymentID
	a.ProviderSignature = signature
	a.FailureReason = reason
	a.UpdatedAt = time.Now().UTC()
	r.attempts[attemptID] = a
	return nil
}

func (r *memoryRepository) MarkOrderPaid(_ context.Context, orderID, attemptID, paymentID, signature string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[orderID]
	if !ok {
		return false, ErrOrderNotFound
	}
	if order.Status.IsPaid() {
		return false, nil
	}
	if !order.Status.CanTransitionTo(OrderStatusPaid) {
		return false, fmt.Errorf("%w: cannot move %s order to paid", ErrInvalidState, order.Status)
	}
	if id := r.verifiedAttempt(orderID); id != "" && id != attemptID {
		return false, fmt.Errorf("%w: order already has a verified payment", ErrInvalidState)
	}

	a := r.attempts[attemptID]
	a.Status = PaymentAttemptVerified
	a.ProviderPaymentID = paymentID
	a.ProviderSignature = signature
	a.FailureReason = ""
	r.attempts[attemptID] = a

	order.Status = OrderStatusPaid
	order.PaymentID = paymentID
	order.UpdatedAt = time.Now().UTC()
	r.orders[orderID] = order
	r.addEvent(orderID, EventOrderPaid)
	return true, nil
}

func (r *memoryRepository) AnchorShipment(_ context.Context, orderID, provider string) (*Shipment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.shipments[orderID]; !ok {
		now := time.Now().UTC()
		r.shipments[orderID] = Shipment{
			ID:          uuid.New().String(),
			OrderID:     orderID,
			Provider:    provider,
			Status:      ShipmentStatusCreated,
			Diagnostics: map[string]DiagnosticEntry{},
			CreatedAt:   now,
			UpdatedAt:   now,
		}
	}
	s := copyShipment(r.shipments[orderID])
	return &s, nil
}

func (r *memoryRepository) GetShipment(_ context.Context, orderID string) (*Shipment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.shipments[orderID]
	if !ok {
		return nil, ErrShipmentNotFound
	}
	s = copyShipment(s)
	return &s, nil
}

func (r *memoryRepository) ClaimShipment(_ context.Context, orderID string, lease time.Duration) (*Shipment, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.shipments[orderID]
	if !ok {
		return nil, false, ErrShipmentNotFound
	}
	now := time.Now()
	if s.IsComplete() || (s.LockedUntil != nil && s.LockedUntil.After(now)) {
		out := copyShipment(s)
		return &out, false, nil
	}
	until := now.Add(lease)
	s.LockedUntil = &until
	s.LeaseID = uuid.New().String()
	s.Attempts++
	r.shipments[orderID] = s
	out := copyShipment(s)
	return &out, true, nil
}

func (r *memoryRepository) RenewShipment(_ context.Context, shipment *Shipment, lease time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.shipments[shipment.OrderID]
	if !ok || s.LeaseID == "" || s.LeaseID != shipment.LeaseID {
		return ErrShipmentLeaseLost
	}
	until := time.Now().Add(lease)
	s.LockedUntil = &until
	r.shipments[shipment.OrderID] = s
	shipment.LockedUntil = &until
	return nil
}

func (r *memoryRepository) UpdateShipment(_ context.Context, shipment *Shipment, step string, entry DiagnosticEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updateErr != nil {
		return r.updateErr
	}
	if !r.ownsLease(shipment) {
		return ErrShipmentLeaseLost
	}
	r.storeShipment(shipment, step, entry, false)
	return nil
}

func (r *memoryRepository) CompleteShipment(_ context.Context, shipment *Shipment, entry DiagnosticEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.ownsLease(shipment) {
		return ErrShipmentLeaseLost
	}
	order, ok := r.orders[shipment.OrderID]
	if !ok {
		return ErrOrderNotFound
	}
	switch order.Status {
	case OrderStatusPaid:
		order.Status = OrderStatusShippingPending
		order.UpdatedAt = time.Now().UTC()
		r.orders[order.ID] = order
		r.addEvent(order.ID, EventOrderShippingPending)
	case OrderStatusShippingPending:
	default:
		return fmt.Errorf("%w: cannot move %s order to shipping_pending", ErrInvalidState, order.Status)
	}

	shipment.Status = ShipmentStatusPickupScheduled
	shipment.LastError = ""
	r.storeShipment(shipment, StepSchedulePickup, entry, true)
	return nil
}

func (r *memoryRepository) ReleaseShipment(_ context.Context, shipment *Shipment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ownsLease(shipment) {
		s := r.shipments[shipment.OrderID]
		s.LockedUntil = nil
		s.LeaseID = ""
		r.shipments[shipment.OrderID] = s
	}
	return nil
}

func (r *memoryRepository) ownsLease(shipment *Shipment) bool {
	s, ok := r.shipments[shipment.OrderID]
	return ok && s.LeaseID != "" && s.LeaseID == shipment.LeaseID
}

// expireLease simula o fim do lease sem que o dono o libere
func (r *memoryRepository) expireLease(orderID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.shipments[orderID]
	past := time.Now().Add(-time.Second)
	s.LockedUntil = &past
	r.shipments[orderID] = s
}

func (r *memoryRepository) GetUnprocessedEvents(_ context.Context, limit int) ([]OutboxEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []OutboxEvent
	for _, e := range r.events {
		if e.ProcessedAt == nil && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *memoryRepository) MarkEventAsProcessed(_ context.Context, eventID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.events {
		if r.events[i].ID == eventID {
			now := time.Now().UTC()
			r.events[i].ProcessedAt = &now
		}
	}
	return nil
}

// helpers de inspeção usados pelos testes

func (r *memoryRepository) order(id string) Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.orders[id]
}

func (r *memoryRepository) attemptsFor(orderID string) []PaymentAttempt {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []PaymentAttempt
	for _, a := range r.attempts {
		if a.OrderID == orderID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (r *memoryRepository) eventTypes(orderID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		if e.AggregateID == orderID {
			out = append(out, e.EventType)
		}
	}
	return out
}

func (r *memoryRepository) orderCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.orders)
}

func (r *memoryRepository) verifiedAttempt(orderID string) string {
	for id, a := range r.attempts {
		if a.OrderID == orderID && a.Status == PaymentAttemptVerified {
			return id
		}
	}
	return ""
}

func (r *memoryRepository) storeShipment(s *Shipment, step string, entry DiagnosticEntry, release bool) {
	current := r.shipments[s.OrderID]
	diagnostics := make(map[string]DiagnosticEntry, len(current.Diagnostics)+1)
	for k, v := range current.Diagnostics {
		diagnostics[k] = v
	}
	diagnostics[step] = entry

	updated := copyShipment(*s)
	updated.Diagnostics = diagnostics
	updated.Attempts = current.Attempts
	updated.LockedUntil = current.LockedUntil
	updated.LeaseID = current.LeaseID
	if release {
		updated.LockedUntil = nil
		updated.LeaseID = ""
	}
	updated.UpdatedAt = time.Now().UTC()
	r.shipments[s.OrderID] = updated

	if s.Diagnostics == nil {
		s.Diagnostics = make(map[string]DiagnosticEntry)
	}
	s.Diagnostics[step] = entry
}

func (r *memoryRepository) addEvent(orderID, eventType string) {
	payload, _ := json.Marshal(map[string]string{"order_id": orderID})
	r.events = append(r.events, OutboxEvent{
		ID:          uuid.New().String(),
		AggregateID: orderID,
		EventType:   eventType,
		Payload:     payload,
		CreatedAt:   time.Now().UTC(),
	})
}

func copyShipment(s Shipment) Shipment {
	out := s
	if s.Diagnostics != nil {
		out.Diagnostics = make(map[string]DiagnosticEntry, len(s.Diagnostics))
		for k, v := range s.Diagnostics {
			out.Diagnostics[k] = v
		}
	}
	if s.PickupScheduledAt != nil {
		t := *s.PickupScheduledAt
		out.PickupScheduledAt = &t
	}
	if s.LockedUntil != nil {
		t := *s.LockedUntil
		out.LockedUntil = &t
	}
	return out
}
