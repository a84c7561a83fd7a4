package ingest

import (
	"fmt"
	"strings"
	"time"

	"perps-control-plane/internal/database"
	"perps-control-plane/internal/exchange"
)

// FilterQuoteAsset keeps only events whose symbol trades against the
// configured quote asset.
func FilterQuoteAsset(events []exchange.TickerEvent, quoteAsset string) []exchange.TickerEvent {
	out := make([]exchange.TickerEvent, 0, len(events))
	for _, ev := range events {
		if ev.Symbol != "" && strings.HasSuffix(ev.Symbol, quoteAsset) {
			out = append(out, ev)
		}
	}
	return out
}

// DedupeBatch collapses a micro-batch to one event per symbol, keeping
// the event with the largest stats close time.
func DedupeBatch(events []exchange.TickerEvent) []exchange.TickerEvent {
	best := make(map[string]int, len(events))
	order := make([]string, 0, len(events))

	for i, ev := range events {
		if j, ok := best[ev.Symbol]; ok {
			if ev.StatsCloseTime > events[j].StatsCloseTime {
				best[ev.Symbol] = i
			}
			continue
		}
		best[ev.Symbol] = i
		order = append(order, ev.Symbol)
	}

	out := make([]exchange.TickerEvent, 0, len(order))
	for _, sym := range order {
		out = append(out, events[best[sym]])
	}
	return out
}

// BuildTickerRows converts deduplicated ticker events into wide-store
// rows. Inbound open price fields are discarded: open_price and
// update_price_date are owned by the price-refresh worker, so the
// stored reference pair is carried into the new row instead. Session
// change fields derive from the stored reference, never from the
// exchange's own 24h open.
func BuildTickerRows(events []exchange.TickerEvent, refs map[string]database.OpenPriceRef) []*database.Ticker {
	rows := make([]*database.Ticker, 0, len(events))
	for _, ev := range events {
		row := &database.Ticker{
			Symbol:         ev.Symbol,
			EventTime:      time.UnixMilli(ev.EventTime),
			LastPrice:      ev.LastPrice,
			High24h:        ev.HighPrice,
			Low24h:         ev.LowPrice,
			BaseVolume:     ev.BaseVolume,
			QuoteVolume:    ev.QuoteVolume,
			StatsOpenTime:  ev.StatsOpenTime,
			StatsCloseTime: ev.StatsCloseTime,
			FirstTradeID:   ev.FirstTradeID,
			LastTradeID:    ev.LastTradeID,
			TradeCount:     ev.TradeCount,
		}

		ref := refs[ev.Symbol]
		DeriveSessionChange(row, ref, ev.LastPrice)
		rows = append(rows, row)
	}
	return rows
}

// DeriveSessionChange fills the reference pair and the derived change
// fields of a ticker row from the stored open-price reference.
func DeriveSessionChange(row *database.Ticker, ref database.OpenPriceRef, lastPrice float64) {
	if ref.OpenPrice > 0 && lastPrice > 0 {
		pct := (lastPrice - ref.OpenPrice) / ref.OpenPrice * 100
		row.OpenPrice = ref.OpenPrice
		row.UpdatePriceDate = ref.UpdatePriceDate
		row.PriceChange = lastPrice - ref.OpenPrice
		row.PriceChangePercent = pct
		row.Side = sideFor(pct)
		row.ChangePercentText = fmt.Sprintf("%.2f%%", pct)
		return
	}

	row.OpenPrice = 0
	row.UpdatePriceDate = ref.UpdatePriceDate
	row.PriceChange = 0
	row.PriceChangePercent = 0
	row.Side = ""
	row.ChangePercentText = ""
}

func sideFor(pct float64) string {
	if pct >= 0 {
		return database.SideGainer
	}
	return database.SideLoser
}
