package order

import (
	"fmt"
	"math"
	"strconv"
	"sync"

	exchange "github.com/grisha2077/vortex-trader-pro/pkg/exchanges/common"
)

// stepEpsilon absorbs binary rounding so that an already aligned quantity
// such as 0.3 / 0.1 does not floor one step too low.
const stepEpsilon = 1e-9

// InstrumentCache holds venue precision metadata for the process lifetime.
type InstrumentCache struct {
	mu    sync.RWMutex
	items map[string]exchange.Instrument
}

func NewInstrumentCache() *InstrumentCache {
	return &InstrumentCache{items: make(map[string]exchange.Instrument)}
}

// Put stores metadata for one symbol. Entries are never replaced once set.
func (c *InstrumentCache) Put(inst exchange.Instrument) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.items[inst.Symbol]; ok {
		return
	}
	c.items[inst.Symbol] = inst
}

// Get returns the metadata of symbol.
func (c *InstrumentCache) Get(symbol string) (exchange.Instrument, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	inst, ok := c.items[symbol]
	return inst, ok
}

// Has reports whether metadata for symbol was loaded.
func (c *InstrumentCache) Has(symbol string) bool {
	_, ok := c.Get(symbol)
	return ok
}

func (c *InstrumentCache) lookup(symbol, field string) (exchange.Instrument, error) {
	inst, ok := c.Get(symbol)
	if !ok {
		return exchange.Instrument{}, &exchange.ConfigurationError{Symbol: symbol, Field: field, Err: exchange.ErrUnknownInstrument}
	}
	return inst, nil
}

// FormatQuantity floors qty to the step size and renders it at the
// quantity precision. It returns the rendered text and its numeric value.
func (c *InstrumentCache) FormatQuantity(symbol string, qty float64) (string, float64, error) {
	inst, err := c.lookup(symbol, "quantity")
	if err != nil {
		return "", 0, err
	}
	floored := FloorToStep(qty, inst.StepSize)
	text := strconv.FormatFloat(floored, 'f', inst.QuantityPrecision, 64)
	v, _ := strconv.ParseFloat(text, 64)
	return text, v, nil
}

// FormatPrice renders price at the instrument's price precision.
func (c *InstrumentCache) FormatPrice(symbol string, price float64) (string, float64, error) {
	inst, err := c.lookup(symbol, "price")
	if err != nil {
		return "", 0, err
	}
	text := strconv.FormatFloat(price, 'f', inst.PricePrecision, 64)
	v, _ := strconv.ParseFloat(text, 64)
	return text, v, nil
}

// CheckQuantity rejects quantities outside the instrument's bounds.
func (c *InstrumentCache) CheckQuantity(symbol string, qty float64) error {
	inst, err := c.lookup(symbol, "quantity")
	if err != nil {
		return err
	}
	if qty <= 0 || (inst.MinQty > 0 && qty < inst.MinQty) {
		return &exchange.ConfigurationError{Symbol: symbol, Field: "quantity",
			Err: fmt.Errorf("quantity %v below minimum %v", qty, inst.MinQty)}
	}
	if inst.MaxQty > 0 && qty > inst.MaxQty {
		return &exchange.ConfigurationError{Symbol: symbol, Field: "quantity",
			Err: fmt.Errorf("quantity %v above maximum %v", qty, inst.MaxQty)}
	}
	return nil
}

// FloorToStep floors v to the nearest multiple of step. A non-positive step leaves v unchanged.
func FloorToStep(v, step float64) float64 {
	if step <= 0 {
		return v
	}
	n := math.Floor(v/step + stepEpsilon)
	return n * step
}

// PositionQuantity converts a USD notional into a raw contract quantity.
func PositionQuantity(sizeUSD, price float64, leverage int) float64 {
	if price <= 0 {
		return 0
	}
	return sizeUSD / price * float64(leverage)
}
