// Package events carries inventory events from the stores that produce them to the
// cart, which evicts the affected products.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event types.
const (
	TypeProductSold     = "inventory.ProductSold"
	TypeProductUnlisted = "inventory.ProductUnlisted"
)

// Event is routed by Type; Key names the product it concerns.
type Event interface {
	ID() string
	Type() string
	Key() string
}

// ProductRemovedEvent reports that a product left the available inventory,
// either sold (TransactionID set) or unlisted by its seller.
type ProductRemovedEvent struct {
	EventID       string    `json:"event_id"`
	Kind          string    `json:"kind"`
	ProductID     string    `json:"product_id"`
	TransactionID string    `json:"transaction_id,omitempty"`
	RemovedAt     time.Time `json:"removed_at"`
}

func removed(kind, productID, transactionID string) ProductRemovedEvent {
	return ProductRemovedEvent{
		EventID:       uuid.NewString(),
		Kind:          kind,
		ProductID:     productID,
		TransactionID: transactionID,
		RemovedAt:     time.Now().UTC(),
	}
}

func NewProductSold(productID, transactionID string) ProductRemovedEvent {
	return removed(TypeProductSold, productID, transactionID)
}

func NewProductUnlisted(productID string) ProductRemovedEvent {
	return removed(TypeProductUnlisted, productID, "")
}

func (e ProductRemovedEvent) ID() string   { return e.EventID }
func (e ProductRemovedEvent) Type() string { return e.Kind }
func (e ProductRemovedEvent) Key() string  { return e.ProductID }

// Publisher publishes events.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Handler handles a specific type of event.
type Handler interface {
	Handle(ctx context.Context, event Event) error
}

// HandlerFunc is an adapter to use ordinary functions as event handlers.
type HandlerFunc func(ctx context.Context, event Event) error

func (f HandlerFunc) Handle(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Subscriber subscribes to events.
type Subscriber interface {
	Subscribe(eventType string, handler Handler) error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
