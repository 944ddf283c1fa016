package models

import "time"

// Sample is a single fetched bar. Only Time, Close and Volume are required;
// Open, High and Low fall back to Close when a source does not provide them.
type Sample struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open,omitempty"`
	High   float64   `json:"high,omitempty"`
	Low    float64   `json:"low,omitempty"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// OpenOrClose returns Open, or Close when the source did not report an open.
func (s Sample) OpenOrClose() float64 {
	if s.Open == 0 {
		return s.Close
	}
	return s.Open
}

// HighOrClose returns High, or Close when the source did not report a high.
func (s Sample) HighOrClose() float64 {
	if s.High == 0 {
		return s.Close
	}
	return s.High
}

// LowOrClose returns Low, or Close when the source did not report a low.
func (s Sample) LowOrClose() float64 {
	if s.Low == 0 {
		return s.Close
	}
	return s.Low
}

// UpperShadow returns the upper wick relative to the candle body.
func (s Sample) UpperShadow() float64 {
	open := s.OpenOrClose()
	body := s.Close - open
	if body < 0 {
		body = -body
	}
	top := open
	if s.Close > top {
		top = s.Close
	}
	return (s.HighOrClose() - top) / (body + 1e-9)
}

// Bullish reports whether the bar closed above its open.
func (s Sample) Bullish() bool {
	return s.Close > s.OpenOrClose()
}

// Ticker is a 24h rolling ticker snapshot, optionally carrying top of book.
type Ticker struct {
	Symbol             string    `json:"symbol"`
	LastPrice          float64   `json:"last_price"`
	PriceChangePercent float64   `json:"price_change_percent"`
	QuoteVolume        float64   `json:"quote_volume"`
	BidPrice           float64   `json:"bid_price,omitempty"`
	AskPrice           float64   `json:"ask_price,omitempty"`
	Timestamp          time.Time `json:"timestamp"`
}

// SpreadPercent returns the bid/ask spread relative to the mid price and
// false when the ticker carries no book data.
func (t Ticker) SpreadPercent() (float64, bool) {
	if t.BidPrice <= 0 || t.AskPrice <= 0 || t.AskPrice < t.BidPrice {
		return 0, false
	}
	mid := (t.BidPrice + t.AskPrice) / 2
	return (t.AskPrice - t.BidPrice) / mid * 100, true
}

// Trade is one print from a trade stream.
type Trade struct {
	Symbol   string    `json:"symbol"`
	Price    float64   `json:"price"`
	Quantity float64   `json:"quantity"`
	Time     time.Time `json:"time"`
}

// CandleFromTrades folds a batch of trades into one bar. It returns false
// for an empty batch.
func CandleFromTrades(trades []Trade) (Sample, bool) {
	if len(trades) == 0 {
		return Sample{}, false
	}
	c := Sample{
		Time:  trades[len(trades)-1].Time,
		Open:  trades[0].Price,
		High:  trades[0].Price,
		Low:   trades[0].Price,
		Close: trades[len(trades)-1].Price,
	}
	for _, t := range trades {
		if t.Price > c.High {
			c.High = t.Price
		}
		if t.Price < c.Low {
			c.Low = t.Price
		}
		c.Volume += t.Quantity
	}
	return c, true
}
