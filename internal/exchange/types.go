package exchange

// Kline represents a candlestick
type Kline struct {
	OpenTime         int64
	Open             float64
	High             float64
	Low              float64
	Close            float64
	Volume           float64
	CloseTime        int64
	QuoteAssetVolume float64
	NumberOfTrades   int
}

// Ticker24h represents 24hr ticker price change statistics
type Ticker24h struct {
	Symbol             string  `json:"symbol"`
	PriceChange        float64 `json:"priceChange,string"`
	PriceChangePercent float64 `json:"priceChangePercent,string"`
	WeightedAvgPrice   float64 `json:"weightedAvgPrice,string"`
	LastPrice          float64 `json:"lastPrice,string"`
	HighPrice          float64 `json:"highPrice,string"`
	LowPrice           float64 `json:"lowPrice,string"`
	Volume             float64 `json:"volume,string"`
	QuoteVolume        float64 `json:"quoteVolume,string"`
	OpenTime           int64   `json:"openTime"`
	CloseTime          int64   `json:"closeTime"`
	FirstId            int64   `json:"firstId"`
	LastId             int64   `json:"lastId"`
	Count              int64   `json:"count"`
}

// SymbolPrice is the current mark of one symbol
type SymbolPrice struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price,string"`
}

// TickerEvent is one row of the all-market ticker stream. Field tags follow
// the exchange's compact wire shape.
type TickerEvent struct {
	EventType          string  `json:"e"`
	EventTime          int64   `json:"E"`
	Symbol             string  `json:"s"`
	PriceChange        float64 `json:"p,string"`
	PriceChangePercent float64 `json:"P,string"`
	WeightedAvgPrice   float64 `json:"w,string"`
	LastPrice          float64 `json:"c,string"`
	LastQuantity       float64 `json:"Q,string"`
	OpenPrice          float64 `json:"o,string"`
	HighPrice          float64 `json:"h,string"`
	LowPrice           float64 `json:"l,string"`
	BaseVolume         float64 `json:"v,string"`
	QuoteVolume        float64 `json:"q,string"`
	StatsOpenTime      int64   `json:"O"`
	StatsCloseTime     int64   `json:"C"`
	FirstTradeID       int64   `json:"F"`
	LastTradeID        int64   `json:"L"`
	TradeCount         int64   `json:"n"`
}

// Supported kline intervals
var KlineIntervals = map[string]bool{
	"1w": true, "1d": true, "4h": true, "1h": true,
	"15m": true, "5m": true, "1m": true,
}
