package store

import (
	"time"

	"github.com/bytedance/sonic"

	"intraday/internal/schema"
)

// BarModel is one persisted bar. (symbol, timeframe, ts) is unique.
type BarModel struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement"`
	Symbol    string    `gorm:"type:varchar(16);not null;uniqueIndex:ux_bar_key,priority:1"`
	Timeframe string    `gorm:"type:varchar(8);not null;uniqueIndex:ux_bar_key,priority:2"`
	Ts        time.Time `gorm:"not null;uniqueIndex:ux_bar_key,priority:3"`
	Open      float64   `gorm:"not null"`
	High      float64   `gorm:"not null"`
	Low       float64   `gorm:"not null"`
	Close     float64   `gorm:"not null"`
	Volume    float64   `gorm:"not null"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (BarModel) TableName() string {
	return "bars"
}

// NewsModel is one persisted headline, unique per symbol and dedupe key.
type NewsModel struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement"`
	Symbol    string    `gorm:"type:varchar(16);not null;uniqueIndex:ux_news_key,priority:1"`
	DedupeKey string    `gorm:"type:varchar(64);not null;uniqueIndex:ux_news_key,priority:2"`
	Source    string    `gorm:"type:varchar(64)"`
	Headline  string    `gorm:"type:text"`
	URL       string    `gorm:"type:text"`
	Ts        time.Time `gorm:"not null;index"`
	Sentiment *float64
	Meta      string    `gorm:"type:text"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (NewsModel) TableName() string {
	return "news_events"
}

// TradeModel mirrors schema.Trade.
type TradeModel struct {
	ID          string  `gorm:"primaryKey;type:varchar(36)"`
	Symbol      string  `gorm:"type:varchar(16);not null;index"`
	Side        uint16  `gorm:"not null"`
	Qty         int64   `gorm:"not null"`
	InitialQty  int64   `gorm:"not null"`
	EntryPrice  float64 `gorm:"not null"`
	ExitPrice   float64
	Status      string    `gorm:"type:varchar(16);not null;index"`
	OpenedAt    time.Time `gorm:"index"`
	ClosedAt    *time.Time
	Stop        float64
	ScaleTarget float64
	Target      float64
	TrailMode   string  `gorm:"type:varchar(16)"`
	Tags        string  `gorm:"type:text"`
	RealizedPnL float64 `gorm:"column:realized_pnl"`
	LastBarTs   *time.Time
	LastPrice   float64
	CloseReason string    `gorm:"type:varchar(32)"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime"`
}

func (TradeModel) TableName() string {
	return "trades"
}

// PositionModel is the open exposure of one symbol.
type PositionModel struct {
	Symbol    string    `gorm:"primaryKey;type:varchar(16)"`
	Qty       int64     `gorm:"not null"`
	AvgPrice  float64   `gorm:"not null"`
	OpenedAt  time.Time `gorm:"not null"`
	Stop      float64
	TrailMode string    `gorm:"type:varchar(16)"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (PositionModel) TableName() string {
	return "positions"
}

// StateModel is the single orchestrator state row.
type StateModel struct {
	ID            uint   `gorm:"primaryKey"`
	SessionDate   string `gorm:"type:varchar(10);not null"`
	TradeCount    int    `gorm:"not null"`
	Equity        float64
	DDStartEquity float64   `gorm:"column:dd_start_equity"`
	DDLowEquity   float64   `gorm:"column:dd_low_equity"`
	Halted        bool      `gorm:"not null"`
	Flattened     bool      `gorm:"not null"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime"`
}

func (StateModel) TableName() string {
	return "orchestrator_state"
}

// ProvenanceModel is an append-only sentiment audit row.
type ProvenanceModel struct {
	ID      uint64    `gorm:"primaryKey;autoIncrement"`
	Symbol  string    `gorm:"type:varchar(16);not null;index"`
	RunTs   time.Time `gorm:"not null;index"`
	RawText string    `gorm:"type:text"`
	Model   string    `gorm:"type:varchar(64)"`
	Score   float64
	Gate    string `gorm:"type:varchar(16)"`
	Reasons string `gorm:"type:text"`
}

func (ProvenanceModel) TableName() string {
	return "ai_provenance"
}

// CycleRunModel records one cycle.
type CycleRunModel struct {
	ID         string    `gorm:"primaryKey;type:varchar(36)"`
	Timeframe  string    `gorm:"type:varchar(8)"`
	Kind       string    `gorm:"type:varchar(16)"`
	StartedAt  time.Time `gorm:"not null;index"`
	FinishedAt *time.Time
	Watchlist  int
	Evaluated  int
	Placed     int
	Errors     int
	Notes      string `gorm:"type:text"`
}

func (CycleRunModel) TableName() string {
	return "cycle_runs"
}

// SignalModel persists a ranked candidate for provenance.
type SignalModel struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	RunID     string `gorm:"type:varchar(36);not null;index"`
	Symbol    string `gorm:"type:varchar(16);not null;index"`
	Technical float64
	Catalyst  float64
	Sentiment *float64
	Composite float64
	Decision  string    `gorm:"type:varchar(16)"`
	Gate      string    `gorm:"type:varchar(16)"`
	Reasons   string    `gorm:"type:text"`
	BarTs     time.Time `gorm:"index"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (SignalModel) TableName() string {
	return "signals"
}

// MetricModel stores one named value per cycle.
type MetricModel struct {
	ID    uint64    `gorm:"primaryKey;autoIncrement"`
	RunID string    `gorm:"type:varchar(36);not null;index"`
	Name  string    `gorm:"type:varchar(64);not null"`
	Value float64   `gorm:"not null"`
	Ts    time.Time `gorm:"not null"`
}

func (MetricModel) TableName() string {
	return "metrics"
}

// FillModel is one simulated execution. Positions are the signed sum of the
// fills of their open trade.
type FillModel struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement"`
	TradeID   string    `gorm:"type:varchar(36);not null;index"`
	Symbol    string    `gorm:"type:varchar(16);not null;index"`
	Side      uint16    `gorm:"not null"`
	Price     float64   `gorm:"not null"`
	Qty       int64     `gorm:"not null"`
	Ts        time.Time `gorm:"not null"`
	Reason    string    `gorm:"type:varchar(32)"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (FillModel) TableName() string {
	return "fills"
}

// FeatureModel is the latest indicator vector of a symbol per bar.
type FeatureModel struct {
	ID            uint64    `gorm:"primaryKey;autoIncrement"`
	RunID         string    `gorm:"type:varchar(36);not null;index"`
	Symbol        string    `gorm:"type:varchar(16);not null;uniqueIndex:ux_feature_key,priority:1"`
	Timeframe     string    `gorm:"type:varchar(8);not null;uniqueIndex:ux_feature_key,priority:2"`
	BarTs         time.Time `gorm:"not null;uniqueIndex:ux_feature_key,priority:3"`
	Close         float64
	EMAFast       *float64
	EMASlow       *float64
	VWAP          *float64 `gorm:"column:vwap"`
	ATR           *float64 `gorm:"column:atr"`
	RSI           *float64 `gorm:"column:rsi"`
	VolumeSpike   *float64
	Consolidation *float64
	Gap           bool
	CreatedAt     time.Time `gorm:"autoCreateTime"`
}

func (FeatureModel) TableName() string {
	return "intraday_features"
}

// WatchlistRunModel is the watchlist of one session.
type WatchlistRunModel struct {
	ID        string    `gorm:"primaryKey;type:varchar(36)"`
	RunDate   string    `gorm:"type:varchar(10);not null;index"`
	Source    string    `gorm:"type:text"`
	Count     int       `gorm:"not null"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (WatchlistRunModel) TableName() string {
	return "watchlist_runs"
}

// WatchlistItemModel is one symbol of a watchlist run.
type WatchlistItemModel struct {
	ID     uint64 `gorm:"primaryKey;autoIncrement"`
	RunID  string `gorm:"type:varchar(36);not null;uniqueIndex:ux_watchlist_item,priority:1"`
	Symbol string `gorm:"type:varchar(16);not null;uniqueIndex:ux_watchlist_item,priority:2"`
	Rank   int    `gorm:"column:item_rank;not null"`
}

func (WatchlistItemModel) TableName() string {
	return "watchlist_items"
}

func allModels() []any {
	return []any{
		&BarModel{},
		&NewsModel{},
		&TradeModel{},
		&PositionModel{},
		&StateModel{},
		&ProvenanceModel{},
		&CycleRunModel{},
		&SignalModel{},
		&MetricModel{},
		&FillModel{},
		&FeatureModel{},
		&WatchlistRunModel{},
		&WatchlistItemModel{},
	}
}

const stateRowID = 1

func encodeJSON(v any) string {
	data, err := sonic.ConfigFastest.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}

func decodeStrings(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	if err := sonic.ConfigFastest.UnmarshalFromString(raw, &out); err != nil {
		return nil
	}
	return out
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func timeVal(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

func toBarModel(b schema.Bar) BarModel {
	return BarModel{
		Symbol:    b.Symbol,
		Timeframe: string(b.Timeframe),
		Ts:        b.Ts.UTC(),
		Open:      b.Open,
		High:      b.High,
		Low:       b.Low,
		Close:     b.Close,
		Volume:    b.Volume,
	}
}

func (m BarModel) toSchema() schema.Bar {
	return schema.Bar{
		Symbol:    m.Symbol,
		Timeframe: schema.Timeframe(m.Timeframe),
		Ts:        m.Ts.UTC(),
		Open:      m.Open,
		High:      m.High,
		Low:       m.Low,
		Close:     m.Close,
		Volume:    m.Volume,
	}
}

func toTradeModel(t schema.Trade) TradeModel {
	return TradeModel{
		ID:          t.ID,
		Symbol:      t.Symbol,
		Side:        uint16(t.Side),
		Qty:         t.Qty,
		InitialQty:  t.InitialQty,
		EntryPrice:  t.EntryPrice,
		ExitPrice:   t.ExitPrice,
		Status:      t.Status.String(),
		OpenedAt:    t.OpenedAt.UTC(),
		ClosedAt:    timePtr(t.ClosedAt.UTC()),
		Stop:        t.Stop,
		ScaleTarget: t.ScaleTarget,
		Target:      t.Target,
		TrailMode:   string(t.TrailMode),
		Tags:        encodeJSON(t.Tags),
		RealizedPnL: t.RealizedPnL,
		LastBarTs:   timePtr(t.LastBarTs.UTC()),
		LastPrice:   t.LastPrice,
		CloseReason: t.CloseReason,
	}
}

func (m TradeModel) toSchema() schema.Trade {
	return schema.Trade{
		ID:          m.ID,
		Symbol:      m.Symbol,
		Side:        schema.Side(m.Side),
		Qty:         m.Qty,
		InitialQty:  m.InitialQty,
		EntryPrice:  m.EntryPrice,
		ExitPrice:   m.ExitPrice,
		Status:      parseStatus(m.Status),
		OpenedAt:    m.OpenedAt.UTC(),
		ClosedAt:    timeVal(m.ClosedAt).UTC(),
		Stop:        m.Stop,
		ScaleTarget: m.ScaleTarget,
		Target:      m.Target,
		TrailMode:   schema.TrailMode(m.TrailMode),
		Tags:        decodeStrings(m.Tags),
		RealizedPnL: m.RealizedPnL,
		LastBarTs:   timeVal(m.LastBarTs).UTC(),
		LastPrice:   m.LastPrice,
		CloseReason: m.CloseReason,
	}
}

func parseStatus(s string) schema.TradeStatus {
	for _, st := range []schema.TradeStatus{
		schema.TradeStatusPending,
		schema.TradeStatusOpen,
		schema.TradeStatusScaling,
		schema.TradeStatusClosed,
		schema.TradeStatusCancelled,
	} {
		if st.String() == s {
			return st
		}
	}
	return schema.TradeStatusUnknown
}

func toPositionModel(p schema.Position) PositionModel {
	return PositionModel{
		Symbol:    p.Symbol,
		Qty:       p.Qty,
		AvgPrice:  p.AvgPrice,
		OpenedAt:  p.OpenedAt.UTC(),
		Stop:      p.Stop,
		TrailMode: string(p.TrailMode),
	}
}

func (m PositionModel) toSchema() schema.Position {
	return schema.Position{
		Symbol:    m.Symbol,
		Qty:       m.Qty,
		AvgPrice:  m.AvgPrice,
		OpenedAt:  m.OpenedAt.UTC(),
		Stop:      m.Stop,
		TrailMode: schema.TrailMode(m.TrailMode),
	}
}

func (m StateModel) toSchema() schema.OrchestratorState {
	return schema.OrchestratorState{
		SessionDate:   m.SessionDate,
		TradeCount:    m.TradeCount,
		Equity:        m.Equity,
		DDStartEquity: m.DDStartEquity,
		DDLowEquity:   m.DDLowEquity,
		Halted:        m.Halted,
		Flattened:     m.Flattened,
	}
}

func toFillModel(f schema.Fill) FillModel {
	return FillModel{
		TradeID: f.TradeID,
		Symbol:  f.Symbol,
		Side:    uint16(f.Side),
		Price:   f.Price,
		Qty:     f.Qty,
		Ts:      f.Ts.UTC(),
		Reason:  f.Reason,
	}
}

func (m FillModel) toSchema() schema.Fill {
	return schema.Fill{
		TradeID: m.TradeID,
		Symbol:  m.Symbol,
		Side:    schema.FillSide(m.Side),
		Price:   m.Price,
		Qty:     m.Qty,
		Ts:      m.Ts.UTC(),
		Reason:  m.Reason,
	}
}

func toFeatureModel(runID string, f schema.FeatureRow) FeatureModel {
	return FeatureModel{
		RunID:         runID,
		Symbol:        f.Symbol,
		Timeframe:     string(f.Timeframe),
		BarTs:         f.BarTs.UTC(),
		Close:         f.Close,
		EMAFast:       f.EMAFast,
		EMASlow:       f.EMASlow,
		VWAP:          f.VWAP,
		ATR:           f.ATR,
		RSI:           f.RSI,
		VolumeSpike:   f.VolumeSpike,
		Consolidation: f.Consolidation,
		Gap:           f.Gap,
	}
}

func (m FeatureModel) toSchema() schema.FeatureRow {
	return schema.FeatureRow{
		Symbol:        m.Symbol,
		Timeframe:     schema.Timeframe(m.Timeframe),
		BarTs:         m.BarTs.UTC(),
		Close:         m.Close,
		EMAFast:       m.EMAFast,
		EMASlow:       m.EMASlow,
		VWAP:          m.VWAP,
		ATR:           m.ATR,
		RSI:           m.RSI,
		VolumeSpike:   m.VolumeSpike,
		Consolidation: m.Consolidation,
		Gap:           m.Gap,
	}
}
