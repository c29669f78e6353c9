package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Opportunity is a profitable conversion cycle found by the detector.
type Opportunity struct {
	ID string `json:"id"`
	// Route lists the assets visited, first == last.
	Route []string `json:"route"`
	// Symbols lists the trading pair used for each leg, len(Route)-1 entries.
	Symbols             []string                   `json:"symbols"`
	ProfitPercentage    float64                    `json:"profit_pct"`
	NetProfitPercentage float64                    `json:"net_profit_pct"`
	Prices              map[string]decimal.Decimal `json:"prices"`
	DetectedAt          time.Time                  `json:"detected_at"`
	LastSeenAt          time.Time                  `json:"last_seen_at"`
	Hits                int                        `json:"hits"`
}

// RouteKey identifies the cycle independent of when it was seen. Two
// opportunities over the same assets but different pairs have different keys.
func (o Opportunity) RouteKey() string {
	return strings.Join(o.Route, ">") + "|" + strings.Join(o.Symbols, ",")
}

// RouteString renders the route for logs and notifications.
func (o Opportunity) RouteString() string {
	return strings.Join(o.Route, " -> ")
}

// Legs returns the number of conversions in the cycle.
func (o Opportunity) Legs() int {
	if len(o.Route) == 0 {
		return 0
	}
	return len(o.Route) - 1
}

// OpportunityStats summarises a set of opportunities.
type OpportunityStats struct {
	Total        int64     `json:"total"`
	Retained     int       `json:"retained"`
	AvgProfitPct float64   `json:"avg_profit_pct"`
	MaxProfitPct float64   `json:"max_profit_pct"`
	BestRoute    string    `json:"best_route,omitempty"`
	Since        time.Time `json:"since,omitempty"`
}
