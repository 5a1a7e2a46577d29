package domain

import "time"

// Category is the closed set of advisory topics. The classifier always
// produces exactly one of these.
type Category string

const (
	CategoryPest     Category = "pest"
	CategoryWeather  Category = "weather"
	CategoryResource Category = "resource"
	CategoryMarket   Category = "market"
	CategoryGeneral  Category = "general"
)

// Categories lists all valid categories in classification priority order.
// Ties between keyword scores resolve to the earlier entry.
var Categories = []Category{
	CategoryPest,
	CategoryWeather,
	CategoryResource,
	CategoryMarket,
	CategoryGeneral,
}

// Valid reports whether c is a member of the closed category set.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// Query is a single farmer question entering the pipeline. Immutable after
// creation except for Category and Urgency, which the classifier assigns once.
type Query struct {
	ID        string
	Text      string
	Language  string // ISO 639-1 code, may be empty when unknown
	SessionID string
	Channel   string // channel the query arrived on
	ChatID    string
	Timestamp time.Time

	Category Category // assigned by the classifier
	Urgency  int      // 0-5, assigned by the classifier
}

// CategoryResult is the classifier's verdict for one Query.
type CategoryResult struct {
	Category   Category
	Confidence float64 // in [0, 1]
}

// QueryState tracks one query's position in its lifecycle.
// No state is ever revisited.
type QueryState string

const (
	StateReceived       QueryState = "received"
	StateClassified     QueryState = "classified"
	StatePrompted       QueryState = "prompted"
	StateInferring      QueryState = "inferring"
	StateSucceeded      QueryState = "succeeded"
	StateTimedOut       QueryState = "timed_out"
	StateFailed         QueryState = "failed"
	StateFormatted      QueryState = "formatted"
	StateDispatched     QueryState = "dispatched"
	StateDelivered      QueryState = "delivered"
	StateDeliveryFailed QueryState = "delivery_failed"
)

// Terminal reports whether s is one of the two terminal states.
func (s QueryState) Terminal() bool {
	return s == StateDelivered || s == StateDeliveryFailed
}

// OutgoingMessage is the user-facing artifact produced by the formatter.
// QueryID and Urgency ride along for correlation; Urgent is the routing
// decision that sends a copy to the alert channel.
type OutgoingMessage struct {
	QueryID  string
	Text     string
	Language string
	Channel  string
	ChatID   string
	Urgent   bool
	Urgency  int
}

// DeliveryResult is the terminal outcome of dispatching one OutgoingMessage.
type DeliveryResult struct {
	Delivered bool
	Channel   string
	Err       error // *DeliveryError when Delivered is false
}

// Advisory is the complete record of one processed query: what was asked,
// how it was classified, what the provider said, and how it was delivered.
type Advisory struct {
	Query            Query
	Category         CategoryResult
	Status           Status // inference outcome
	Message          OutgoingMessage
	Delivery         DeliveryResult
	State            QueryState // terminal state reached
	Latency          time.Duration
	InferenceLatency time.Duration
}
