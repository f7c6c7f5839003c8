package common

// Side denotes order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the side that closes a position opened with s.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType denotes the futures order types the bot submits.
type OrderType string

const (
	OrderTypeMarket           OrderType = "MARKET"
	OrderTypeLimit            OrderType = "LIMIT"
	OrderTypeStopMarket       OrderType = "STOP_MARKET"
	OrderTypeTakeProfitMarket OrderType = "TAKE_PROFIT_MARKET"
)

// TimeInForce captures TIF semantics.
type TimeInForce string

const (
	TIFGTC TimeInForce = "GTC" // Good Till Cancelled
	TIFIOC TimeInForce = "IOC" // Immediate Or Cancel
	TIFFOK TimeInForce = "FOK" // Fill Or Kill
	TIFGTX TimeInForce = "GTX" // Post Only
)

// OrderStatus normalizes exchange status into a small set.
type OrderStatus string

const (
	StatusNew      OrderStatus = "NEW"
	StatusPartial  OrderStatus = "PARTIAL"
	StatusFilled   OrderStatus = "FILLED"
	StatusCanceled OrderStatus = "CANCELED"
	StatusRejected OrderStatus = "REJECTED"
	StatusExpired  OrderStatus = "EXPIRED"
	StatusUnknown  OrderStatus = "UNKNOWN"
)

// MarginType is the futures margin mode for a symbol.
type MarginType string

const (
	MarginCross    MarginType = "CROSSED"
	MarginIsolated MarginType = "ISOLATED"
)

// WorkingTypeMarkPrice makes conditional orders trigger on the mark price.
const WorkingTypeMarkPrice = "MARK_PRICE"

// OrderRequest captures an order intent. Quantity and prices are already
// rendered at the instrument's precision.
type OrderRequest struct {
	Symbol        string
	Side          Side
	Type          OrderType
	Quantity      string
	Price         string // LIMIT only
	StopPrice     string // STOP_MARKET / TAKE_PROFIT_MARKET
	TimeInForce   TimeInForce
	ClientID      string
	ReduceOnly    bool
	ClosePosition bool
	WorkingType   string
}

// OrderResult returns the exchange ack.
type OrderResult struct {
	ExchangeOrderID string
	ClientID        string
	Status          OrderStatus
	AvgPrice        float64
	ExecutedQty     float64
}

// Instrument is the immutable trading metadata for one symbol.
type Instrument struct {
	Symbol            string
	StepSize          float64
	TickSize          float64
	QuantityPrecision int
	PricePrecision    int
	MinQty            float64
	MaxQty            float64
}

// VenuePosition is one row of the venue's position snapshot.
type VenuePosition struct {
	Symbol     string
	Amount     float64 // signed; negative means short
	EntryPrice float64
	MarkPrice  float64
	Leverage   int
}
