package futures_usdt

import (
	"strings"

	"github.com/grisha2077/vortex-trader-pro/pkg/exchanges/common"
)

type orderResp struct {
	Symbol        string `json:"symbol"`
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Status        string `json:"status"`
	AvgPrice      string `json:"avgPrice"`
	ExecutedQty   string `json:"executedQty"`
}

// PositionRisk is one row of /fapi/v2/positionRisk.
type PositionRisk struct {
	Symbol           string `json:"symbol"`
	PositionSide     string `json:"positionSide"`
	PositionAmt      string `json:"positionAmt"`
	EntryPrice       string `json:"entryPrice"`
	MarkPrice        string `json:"markPrice"`
	UnRealizedProfit string `json:"unRealizedProfit"`
	Leverage         string `json:"leverage"`
}

func (p PositionRisk) toVenue() common.VenuePosition {
	return common.VenuePosition{
		Symbol:     p.Symbol,
		Amount:     parseFloat(p.PositionAmt),
		EntryPrice: parseFloat(p.EntryPrice),
		MarkPrice:  parseFloat(p.MarkPrice),
		Leverage:   int(parseFloat(p.Leverage)),
	}
}

type exchangeInfo struct {
	Symbols []symbolInfo `json:"symbols"`
}

type symbolInfo struct {
	Symbol            string         `json:"symbol"`
	Status            string         `json:"status"`
	PricePrecision    int            `json:"pricePrecision"`
	QuantityPrecision int            `json:"quantityPrecision"`
	Filters           []symbolFilter `json:"filters"`
}

type symbolFilter struct {
	FilterType string `json:"filterType"`
	StepSize   string `json:"stepSize"`
	TickSize   string `json:"tickSize"`
	MinQty     string `json:"minQty"`
	MaxQty     string `json:"maxQty"`
}

func (s symbolInfo) toInstrument() common.Instrument {
	inst := common.Instrument{
		Symbol:            strings.ToUpper(s.Symbol),
		PricePrecision:    s.PricePrecision,
		QuantityPrecision: s.QuantityPrecision,
	}
	for _, f := range s.Filters {
		switch f.FilterType {
		case "LOT_SIZE":
			inst.StepSize = parseFloat(f.StepSize)
			inst.MinQty = parseFloat(f.MinQty)
			inst.MaxQty = parseFloat(f.MaxQty)
		case "PRICE_FILTER":
			inst.TickSize = parseFloat(f.TickSize)
		}
	}
	return inst
}
