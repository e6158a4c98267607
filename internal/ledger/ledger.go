// Package ledger holds the in-memory account state shared by every monitor
// loop of one trading account: available cash, holdings and pending T+1
// settlements. Every mutation runs under a single mutex, and trades are
// exposed only as atomic check-and-commit operations so that two symbols
// buying at the same moment can never both spend the same cash.
package ledger

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/smartmonitor/internal/domain"
)

// Calendar is the subset of the trading calendar the ledger needs to date
// and mature settlements.
type Calendar interface {
	NextTradingDay(t time.Time) time.Time
	Matured(sellableOn, now time.Time) bool
}

// Ledger is the account-wide cash, holdings and settlement book.
type Ledger struct {
	mu        sync.Mutex
	accountID string
	live      bool
	cal       Calendar
	cash      decimal.Decimal
	holdings  map[string]*domain.Holding
	pending   []domain.SettlementEntry
	seq       uint64
}

// New creates a Ledger seeded with cash.
func New(accountID string, live bool, cash decimal.Decimal, cal Calendar) *Ledger {
	return &Ledger{
		accountID: accountID,
		live:      live,
		cal:       cal,
		cash:      cash,
		holdings:  make(map[string]*domain.Holding),
	}
}

// BuyRequest describes a lot to be bought.
type BuyRequest struct {
	Symbol        string
	Name          string
	Quantity      int64
	Price         decimal.Decimal
	StopLossPct   float64
	TakeProfitPct float64
	At            time.Time
}

// BuyReceipt records what TryBuy committed so that RevertBuy can undo it.
type BuyReceipt struct {
	Symbol     string
	Quantity   int64
	Cost       decimal.Decimal
	Holding    domain.Holding
	SellableOn time.Time

	settlement uint64
}

// SellReceipt records shares reserved by TrySell. Cash is only credited by
// ConfirmSell once the brokerage has accepted the order.
type SellReceipt struct {
	Symbol      string
	Quantity    int64
	Proceeds    decimal.Decimal
	RealizedPnL decimal.Decimal
	Closed      bool
	Remaining   domain.Holding

	prev domain.Holding
}

// TryBuy checks that the symbol is not already held and that the account
// can pay for the lot, and in the same critical section deducts the cost,
// books the shares as not yet sellable and enqueues a settlement entry dated
// the next trading day. An existing position is never averaged into.
func (l *Ledger) TryBuy(req BuyRequest) (BuyReceipt, error) {
	if req.Quantity <= 0 || req.Quantity%domain.LotSize != 0 {
		return BuyReceipt{}, fmt.Errorf("ledger: buy %s x%d: %w", req.Symbol, req.Quantity, domain.ErrInvalidQuantity)
	}
	if !req.Price.IsPositive() {
		return BuyReceipt{}, fmt.Errorf("ledger: buy %s: %w", req.Symbol, domain.ErrInvalidPrice)
	}
	cost := req.Price.Mul(decimal.NewFromInt(req.Quantity))

	l.mu.Lock()
	defer l.mu.Unlock()

	l.matureLocked(req.At)

	if h, ok := l.holdings[req.Symbol]; ok && h.Quantity > 0 {
		return BuyReceipt{}, fmt.Errorf("ledger: buy %s: %w", req.Symbol, domain.ErrPositionExists)
	}
	if l.cash.LessThan(cost) {
		return BuyReceipt{}, fmt.Errorf("ledger: buy %s cost %s, cash %s: %w",
			req.Symbol, cost.StringFixed(2), l.cash.StringFixed(2), domain.ErrInsufficientFunds)
	}
	l.cash = l.cash.Sub(cost)

	r := BuyReceipt{Symbol: req.Symbol, Quantity: req.Quantity, Cost: cost}

	h := &domain.Holding{
		Symbol:          req.Symbol,
		Name:            req.Name,
		Quantity:        req.Quantity,
		CostBasis:       req.Price,
		LastPrice:       req.Price,
		OpenDate:        req.At,
		StopLossPrice:   pctOffset(req.Price, -req.StopLossPct),
		TakeProfitPrice: pctOffset(req.Price, req.TakeProfitPct),
	}
	l.holdings[req.Symbol] = h

	l.seq++
	r.settlement = l.seq
	r.SellableOn = l.cal.NextTradingDay(req.At)
	l.pending = append(l.pending, domain.SettlementEntry{
		Seq:        l.seq,
		Symbol:     req.Symbol,
		Quantity:   req.Quantity,
		SellableOn: r.SellableOn,
	})
	r.Holding = *h
	return r, nil
}

// RevertBuy undoes a TryBuy whose order the brokerage refused.
func (l *Ledger) RevertBuy(r BuyReceipt) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.cash = l.cash.Add(r.Cost)

	for i, e := range l.pending {
		if e.Seq == r.settlement {
			l.pending = append(l.pending[:i], l.pending[i+1:]...)
			break
		}
	}
	delete(l.holdings, r.Symbol)
}

// TrySell reserves qty sellable shares of symbol. It never sells more than
// the sellable quantity; a larger request is rejected outright.
func (l *Ledger) TrySell(symbol string, qty int64, price decimal.Decimal, at time.Time) (SellReceipt, error) {
	if qty <= 0 {
		return SellReceipt{}, fmt.Errorf("ledger: sell %s x%d: %w", symbol, qty, domain.ErrInvalidQuantity)
	}
	if !price.IsPositive() {
		return SellReceipt{}, fmt.Errorf("ledger: sell %s: %w", symbol, domain.ErrInvalidPrice)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.matureLocked(at)

	h, ok := l.holdings[symbol]
	if !ok || h.Quantity <= 0 {
		return SellReceipt{}, fmt.Errorf("ledger: sell %s: %w", symbol, domain.ErrNoPosition)
	}
	if h.SellableQuantity <= 0 {
		return SellReceipt{}, fmt.Errorf("ledger: sell %s: %w", symbol, domain.ErrSettlementLocked)
	}
	if qty > h.SellableQuantity {
		return SellReceipt{}, fmt.Errorf("ledger: sell %s x%d, sellable %d: %w",
			symbol, qty, h.SellableQuantity, domain.ErrExceedsSellable)
	}

	q := decimal.NewFromInt(qty)
	r := SellReceipt{
		Symbol:      symbol,
		Quantity:    qty,
		Proceeds:    price.Mul(q),
		RealizedPnL: price.Sub(h.CostBasis).Mul(q),
		prev:        *h,
	}

	h.Quantity -= qty
	h.SellableQuantity -= qty
	h.LastPrice = price
	if h.Quantity == 0 {
		delete(l.holdings, symbol)
		r.Closed = true
	} else {
		r.Remaining = *h
	}
	return r, nil
}

// ConfirmSell credits the proceeds of an accepted sell.
func (l *Ledger) ConfirmSell(r SellReceipt) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cash = l.cash.Add(r.Proceeds)
}

// RevertSell returns reserved shares after the brokerage refused the order.
func (l *Ledger) RevertSell(r SellReceipt) {
	l.mu.Lock()
	defer l.mu.Unlock()

	h, ok := l.holdings[r.Symbol]
	if !ok {
		restored := r.prev
		l.holdings[r.Symbol] = &restored
		return
	}
	h.Quantity += r.Quantity
	h.SellableQuantity += r.Quantity
}

// Mature folds every settlement whose date has arrived into the holding's
// sellable quantity and returns how many entries matured.
func (l *Ledger) Mature(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.matureLocked(now)
}

func (l *Ledger) matureLocked(now time.Time) int {
	if len(l.pending) == 0 {
		return 0
	}
	matured := 0
	kept := l.pending[:0]
	for _, e := range l.pending {
		if !l.cal.Matured(e.SellableOn, now) {
			kept = append(kept, e)
			continue
		}
		matured++
		if h, ok := l.holdings[e.Symbol]; ok {
			h.SellableQuantity += e.Quantity
			if h.SellableQuantity > h.Quantity {
				h.SellableQuantity = h.Quantity
			}
		}
	}
	l.pending = kept
	return matured
}

// Adopt registers a holding known from outside the ledger, such as an
// operator preset or a brokerage position, when the ledger has none for
// that symbol. It reports whether the holding was added.
func (l *Ledger) Adopt(h domain.Holding) bool {
	if h.Symbol == "" || h.Quantity <= 0 {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.holdings[h.Symbol]; ok {
		return false
	}
	if h.SellableQuantity > h.Quantity {
		h.SellableQuantity = h.Quantity
	}
	if h.SellableQuantity < 0 {
		h.SellableQuantity = 0
	}
	l.holdings[h.Symbol] = &h
	return true
}

// MarkPrice records the last observed price for symbol.
func (l *Ledger) MarkPrice(symbol string, price decimal.Decimal) {
	if !price.IsPositive() {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if h, ok := l.holdings[symbol]; ok {
		h.LastPrice = price
	}
}

// Holding returns a copy of the holding for symbol after maturing any due
// settlements.
func (l *Ledger) Holding(symbol string, now time.Time) (domain.Holding, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.matureLocked(now)
	h, ok := l.holdings[symbol]
	if !ok {
		return domain.Holding{}, false
	}
	return *h, true
}

// Holdings returns copies of all holdings sorted by symbol.
func (l *Ledger) Holdings(now time.Time) []domain.Holding {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.matureLocked(now)
	out := make([]domain.Holding, 0, len(l.holdings))
	for _, h := range l.holdings {
		out = append(out, *h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Pending returns a copy of the unmatured settlement entries.
func (l *Ledger) Pending() []domain.SettlementEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.SettlementEntry, len(l.pending))
	copy(out, l.pending)
	return out
}

// Cash returns the available cash.
func (l *Ledger) Cash() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cash
}

// Snapshot summarises the account. TotalValue is cash plus every holding
// marked at its last known price.
func (l *Ledger) Snapshot(now time.Time) domain.AccountSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.matureLocked(now)

	mv := decimal.Zero
	upnl := decimal.Zero
	for _, h := range l.holdings {
		mv = mv.Add(h.MarketValue())
		upnl = upnl.Add(h.UnrealizedPnL())
	}
	return domain.AccountSnapshot{
		AccountID:     l.accountID,
		Live:          l.live,
		AvailableCash: l.cash,
		MarketValue:   mv,
		TotalValue:    l.cash.Add(mv),
		UnrealizedPnL: upnl,
		Holdings:      len(l.holdings),
		PendingLots:   len(l.pending),
		AsOf:          now,
	}
}

// pctOffset returns price × (1 + pct/100).
func pctOffset(price decimal.Decimal, pct float64) decimal.Decimal {
	factor := decimal.NewFromInt(1).Add(decimal.NewFromFloat(pct).Div(decimal.NewFromInt(100)))
	return price.Mul(factor).Round(4)
}
