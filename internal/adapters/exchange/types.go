package exchange

import "encoding/json"

// Raw DTOs of the exchange API. Only used inside this package; conversion to
// domain types lives in mapping.go.

const (
	statusSuccess = "SUCCESS"
	pageSize      = 1000
)

// --- session ---

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type sessionResponse struct {
	Token  string `json:"token"`
	Status string `json:"status"`
	Error  string `json:"error"`
}

// --- orders ---

type currentOrdersRequest struct {
	MarketIDs   []string `json:"marketIds,omitempty"`
	FromRecord  int      `json:"fromRecord"`
	RecordCount int      `json:"recordCount"`
}

type currentOrdersResponse struct {
	Orders        []currentOrder `json:"currentOrders"`
	MoreAvailable bool           `json:"moreAvailable"`
}

type currentOrder struct {
	BetID               string      `json:"betId"`
	MarketID            string      `json:"marketId"`
	SelectionID         json.Number `json:"selectionId"`
	EventID             string      `json:"eventId"`
	Side                string      `json:"side"`
	PriceSize           priceSize   `json:"priceSize"`
	SizeMatched         float64     `json:"sizeMatched"`
	SizeRemaining       float64     `json:"sizeRemaining"`
	AveragePriceMatched float64     `json:"averagePriceMatched"`
	Status              string      `json:"status"`
	PlacedDate          string      `json:"placedDate"`
	CustomerStrategyRef string      `json:"customerStrategyRef"`
}

type dateRange struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type clearedOrdersRequest struct {
	BetStatus        string    `json:"betStatus"`
	SettledDateRange dateRange `json:"settledDateRange"`
	FromRecord       int       `json:"fromRecord"`
	RecordCount      int       `json:"recordCount"`
}

type clearedOrdersResponse struct {
	Orders        []clearedOrder `json:"clearedOrders"`
	MoreAvailable bool           `json:"moreAvailable"`
}

type clearedOrder struct {
	BetID               string      `json:"betId"`
	EventID             string      `json:"eventId"`
	MarketID            string      `json:"marketId"`
	SelectionID         json.Number `json:"selectionId"`
	Side                string      `json:"side"`
	PriceMatched        float64     `json:"priceMatched"`
	SizeSettled         float64     `json:"sizeSettled"`
	Profit              float64     `json:"profit"`
	Commission          float64     `json:"commission"`
	BetOutcome          string      `json:"betOutcome"`
	PlacedDate          string      `json:"placedDate"`
	SettledDate         string      `json:"settledDate"`
	CustomerStrategyRef string      `json:"customerStrategyRef"`
}

type placeRequest struct {
	MarketID            string             `json:"marketId"`
	CustomerRef         string             `json:"customerRef"`
	CustomerStrategyRef string             `json:"customerStrategyRef"`
	Instructions        []placeInstruction `json:"instructions"`
}

type placeInstruction struct {
	SelectionID json.Number `json:"selectionId"`
	Side        string      `json:"side"`
	OrderType   string      `json:"orderType"`
	LimitOrder  limitOrder  `json:"limitOrder"`
}

type limitOrder struct {
	Size            float64 `json:"size"`
	Price           float64 `json:"price"`
	PersistenceType string  `json:"persistenceType"`
}

type placeResponse struct {
	Status             string              `json:"status"`
	ErrorCode          string              `json:"errorCode"`
	InstructionReports []instructionReport `json:"instructionReports"`
}

type instructionReport struct {
	Status              string  `json:"status"`
	ErrorCode           string  `json:"errorCode"`
	BetID               string  `json:"betId"`
	SizeMatched         float64 `json:"sizeMatched"`
	AveragePriceMatched float64 `json:"averagePriceMatched"`
}

type cancelRequest struct {
	MarketID     string              `json:"marketId,omitempty"`
	Instructions []cancelInstruction `json:"instructions,omitempty"`
}

type cancelInstruction struct {
	BetID string `json:"betId"`
}

type cancelResponse struct {
	Status    string `json:"status"`
	ErrorCode string `json:"errorCode"`
}

// --- markets ---

type bookRequest struct {
	MarketIDs []string `json:"marketIds"`
}

type marketBook struct {
	MarketID string         `json:"marketId"`
	Status   string         `json:"status"`
	InPlay   bool           `json:"inplay"`
	Runners  []runnerRecord `json:"runners"`
}

type runnerRecord struct {
	SelectionID     json.Number  `json:"selectionId"`
	Status          string       `json:"status"`
	LastPriceTraded float64      `json:"lastPriceTraded"`
	Ex              exchangeBook `json:"ex"`
}

type exchangeBook struct {
	AvailableToBack []priceSize `json:"availableToBack"`
	AvailableToLay  []priceSize `json:"availableToLay"`
}

type priceSize struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}
