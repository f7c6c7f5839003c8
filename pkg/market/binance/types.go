package market

// Kline represents a single futures candlestick.
type Kline struct {
	Symbol    string
	Interval  string
	OpenTime  int64 // ms
	CloseTime int64 // ms
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	Closed    bool // final update of the interval
}

// BookTicker holds best bid/ask.
type BookTicker struct {
	Symbol   string
	BidPrice float64
	BidQty   float64
	AskPrice float64
	AskQty   float64
	Time     int64
}

// UserEventType enumerates the user-data events the bot consumes.
type UserEventType string

const (
	UserEventAccountUpdate    UserEventType = "ACCOUNT_UPDATE"
	UserEventOrderTradeUpdate UserEventType = "ORDER_TRADE_UPDATE"
	UserEventListenKeyExpired UserEventType = "listenKeyExpired"
)

// PositionUpdate is one position row pushed in ACCOUNT_UPDATE.
type PositionUpdate struct {
	Symbol     string
	Amount     float64
	EntryPrice float64
}

// OrderUpdate is the order part of ORDER_TRADE_UPDATE.
type OrderUpdate struct {
	Symbol        string
	ClientOrderID string
	OrderID       int64
	Side          string
	Type          string
	Status        string
	ExecutionType string
	AvgPrice      float64
	LastPrice     float64
	FilledQty     float64
	RealizedPnL   float64
	ReduceOnly    bool
}

// UserEvent is a decoded user-data stream message.
type UserEvent struct {
	Type      UserEventType
	Time      int64
	Positions []PositionUpdate // ACCOUNT_UPDATE
	Order     *OrderUpdate     // ORDER_TRADE_UPDATE
}
