package common

import "context"

// Gateway abstracts the futures venue REST surface used by the bot.
type Gateway interface {
	Ping(ctx context.Context) error
	Instruments(ctx context.Context) (map[string]Instrument, error)
	SubmitOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	CancelAllOpenOrders(ctx context.Context, symbol string) error
	Positions(ctx context.Context) ([]VenuePosition, error)
	TickerPrice(ctx context.Context, symbol string) (float64, error)
	SetLeverage(ctx context.Context, symbol string, leverage int) error
	SetMarginType(ctx context.Context, symbol string, marginType MarginType) error
}
