package market

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ParseCombined splits a combined-stream envelope into stream name and payload.
// Raw single-stream messages are returned with an empty stream name.
func ParseCombined(msg []byte) (string, json.RawMessage, error) {
	var env struct {
		Stream string          `json:"stream"`
		Data   json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(msg, &env); err != nil {
		return "", nil, err
	}
	if env.Stream == "" || len(env.Data) == 0 {
		return "", msg, nil
	}
	return env.Stream, env.Data, nil
}

// ParseKline decodes a kline event payload.
func ParseKline(data []byte) (Kline, error) {
	var raw struct {
		Event string `json:"e"`
		Data  struct {
			StartTime int64       `json:"t"`
			CloseTime int64       `json:"T"`
			Symbol    string      `json:"s"`
			Interval  string      `json:"i"`
			Open      interface{} `json:"o"`
			Close     interface{} `json:"c"`
			High      interface{} `json:"h"`
			Low       interface{} `json:"l"`
			Volume    interface{} `json:"v"`
			Final     bool        `json:"x"`
		} `json:"k"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Kline{}, err
	}
	if raw.Data.Symbol == "" {
		return Kline{}, fmt.Errorf("not a kline payload")
	}
	return Kline{
		Symbol:    raw.Data.Symbol,
		Interval:  raw.Data.Interval,
		OpenTime:  raw.Data.StartTime,
		CloseTime: raw.Data.CloseTime,
		Open:      toFloat(raw.Data.Open),
		Close:     toFloat(raw.Data.Close),
		High:      toFloat(raw.Data.High),
		Low:       toFloat(raw.Data.Low),
		Volume:    toFloat(raw.Data.Volume),
		Closed:    raw.Data.Final,
	}, nil
}

// ParseBookTicker decodes a bookTicker event payload.
func ParseBookTicker(data []byte) (BookTicker, error) {
	var raw struct {
		Symbol string      `json:"s"`
		Bid    interface{} `json:"b"`
		BidQty interface{} `json:"B"`
		Ask    interface{} `json:"a"`
		AskQty interface{} `json:"A"`
		Time   interface{} `json:"T"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return BookTicker{}, err
	}
	if raw.Symbol == "" {
		return BookTicker{}, fmt.Errorf("not a bookTicker payload")
	}
	return BookTicker{
		Symbol:   raw.Symbol,
		BidPrice: toFloat(raw.Bid),
		BidQty:   toFloat(raw.BidQty),
		AskPrice: toFloat(raw.Ask),
		AskQty:   toFloat(raw.AskQty),
		Time:     toInt64(raw.Time),
	}, nil
}

// ParseUserEvent decodes a futures user-data message. Unknown events are
// returned with only Type set.
func ParseUserEvent(data []byte) (UserEvent, error) {
	var head struct {
		Event string      `json:"e"`
		Time  interface{} `json:"E"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return UserEvent{}, err
	}
	ev := UserEvent{Type: UserEventType(head.Event), Time: toInt64(head.Time)}

	switch ev.Type {
	case UserEventAccountUpdate:
		var raw struct {
			Account struct {
				Positions []struct {
					Symbol     string      `json:"s"`
					Amount     interface{} `json:"pa"`
					EntryPrice interface{} `json:"ep"`
				} `json:"P"`
			} `json:"a"`
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return ev, err
		}
		for _, p := range raw.Account.Positions {
			ev.Positions = append(ev.Positions, PositionUpdate{
				Symbol:     p.Symbol,
				Amount:     toFloat(p.Amount),
				EntryPrice: toFloat(p.EntryPrice),
			})
		}
	case UserEventOrderTradeUpdate:
		var raw struct {
			Order struct {
				Symbol        string      `json:"s"`
				ClientOrderID string      `json:"c"`
				OrderID       int64       `json:"i"`
				Side          string      `json:"S"`
				Type          string      `json:"o"`
				Status        string      `json:"X"`
				ExecutionType string      `json:"x"`
				AvgPrice      interface{} `json:"ap"`
				LastPrice     interface{} `json:"L"`
				CumQty        interface{} `json:"z"`
				RealizedPnL   interface{} `json:"rp"`
				ReduceOnly    bool        `json:"R"`
			} `json:"o"`
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return ev, err
		}
		o := raw.Order
		ev.Order = &OrderUpdate{
			Symbol:        o.Symbol,
			ClientOrderID: o.ClientOrderID,
			OrderID:       o.OrderID,
			Side:          strings.ToUpper(o.Side),
			Type:          strings.ToUpper(o.Type),
			Status:        strings.ToUpper(o.Status),
			ExecutionType: strings.ToUpper(o.ExecutionType),
			AvgPrice:      toFloat(o.AvgPrice),
			LastPrice:     toFloat(o.LastPrice),
			FilledQty:     toFloat(o.CumQty),
			RealizedPnL:   toFloat(o.RealizedPnL),
			ReduceOnly:    o.ReduceOnly,
		}
	}
	return ev, nil
}

func toFloat(v interface{}) float64 {
	switch t := v.(type) {
	case string:
		f, _ := strconv.ParseFloat(t, 64)
		return f
	case float64:
		return t
	case json.Number:
		f, _ := t.Float64()
		return f
	default:
		return 0
	}
}

func toInt64(v interface{}) int64 {
	switch t := v.(type) {
	case float64:
		return int64(t)
	case string:
		i, _ := strconv.ParseInt(t, 10, 64)
		return i
	case json.Number:
		i, _ := t.Int64()
		return i
	default:
		return 0
	}
}
