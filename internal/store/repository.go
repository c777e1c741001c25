package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"intraday/internal/errors"
	"intraday/internal/schema"
	"intraday/pkg/exception"
)

// Repository is the gorm backed storage collaborator.
type Repository struct {
	db *gorm.DB
}

// New creates a repository over an open connection.
func New(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Migrate creates or updates every table.
func (r *Repository) Migrate(ctx context.Context) error {
	if r == nil || r.db == nil {
		return exception.ErrNilInstance
	}
	return r.wrap(r.db.WithContext(ctx).AutoMigrate(allModels()...), "migrate")
}

// UpsertBars inserts bars, ignoring ones already stored.
func (r *Repository) UpsertBars(ctx context.Context, bars []schema.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	rows := make([]BarModel, len(bars))
	for i, b := range bars {
		rows[i] = toBarModel(b)
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "symbol"}, {Name: "timeframe"}, {Name: "ts"}},
			DoNothing: true,
		}).
		CreateInBatches(&rows, 500).Error
	return r.wrap(err, "upsert bars")
}

// Bars returns stored bars at or after since, oldest first.
func (r *Repository) Bars(ctx context.Context, symbol string, tf schema.Timeframe, since time.Time) ([]schema.Bar, error) {
	var rows []BarModel
	err := r.db.WithContext(ctx).
		Where("symbol = ? AND timeframe = ? AND ts >= ?", symbol, string(tf), since.UTC()).
		Order("ts ASC").
		Find(&rows).Error
	if err != nil {
		return nil, r.wrap(err, "load bars")
	}
	out := make([]schema.Bar, len(rows))
	for i, row := range rows {
		out[i] = row.toSchema()
	}
	return out, nil
}

// NewsDedupeKey hashes the dedupe key of an event to a fixed width.
func NewsDedupeKey(n schema.NewsEvent) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(n.Key())).String()
}

// UpsertNews inserts headlines, ignoring duplicates per symbol.
func (r *Repository) UpsertNews(ctx context.Context, news []schema.NewsEvent) error {
	if len(news) == 0 {
		return nil
	}
	rows := make([]NewsModel, 0, len(news))
	for _, n := range news {
		if n.Key() == "" {
			continue
		}
		rows = append(rows, NewsModel{
			Symbol:    n.Symbol,
			DedupeKey: NewsDedupeKey(n),
			Source:    n.Source,
			Headline:  n.Headline,
			URL:       n.URL,
			Ts:        n.Ts.UTC(),
			Sentiment: n.Sentiment,
			Meta:      encodeJSON(n.Meta),
		})
	}
	if len(rows) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "symbol"}, {Name: "dedupe_key"}},
			DoNothing: true,
		}).
		Create(&rows).Error
	return r.wrap(err, "upsert news")
}

// CountNews returns the number of stored headlines for a symbol.
func (r *Repository) CountNews(ctx context.Context, symbol string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&NewsModel{}).Where("symbol = ?", symbol).Count(&n).Error
	return n, r.wrap(err, "count news")
}

// AppendProvenance stores sentiment audit rows.
func (r *Repository) AppendProvenance(ctx context.Context, recs []schema.AIProvenance) error {
	if len(recs) == 0 {
		return nil
	}
	rows := make([]ProvenanceModel, len(recs))
	for i, rec := range recs {
		rows[i] = ProvenanceModel{
			Symbol:  rec.Symbol,
			RunTs:   rec.RunTs.UTC(),
			RawText: encodeJSON(rec.RawText),
			Model:   rec.Model,
			Score:   rec.Score,
			Gate:    string(rec.Gate),
			Reasons: encodeJSON(rec.Reasons),
		}
	}
	return r.wrap(r.db.WithContext(ctx).Create(&rows).Error, "append provenance")
}

// Provenance returns the audit rows of a symbol, oldest first.
func (r *Repository) Provenance(ctx context.Context, symbol string) ([]schema.AIProvenance, error) {
	var rows []ProvenanceModel
	if err := r.db.WithContext(ctx).Where("symbol = ?", symbol).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, r.wrap(err, "load provenance")
	}
	out := make([]schema.AIProvenance, len(rows))
	for i, row := range rows {
		out[i] = schema.AIProvenance{
			Symbol:  row.Symbol,
			RunTs:   row.RunTs.UTC(),
			RawText: decodeStrings(row.RawText),
			Model:   row.Model,
			Score:   row.Score,
			Gate:    schema.Gate(row.Gate),
			Reasons: decodeStrings(row.Reasons),
		}
	}
	return out, nil
}

// SaveSignals stores the ranked candidates of a cycle.
func (r *Repository) SaveSignals(ctx context.Context, runID string, cands []schema.Candidate) error {
	if len(cands) == 0 {
		return nil
	}
	rows := make([]SignalModel, len(cands))
	for i, c := range cands {
		rows[i] = SignalModel{
			RunID:     runID,
			Symbol:    c.Symbol,
			Technical: c.Technical,
			Catalyst:  c.Catalyst,
			Sentiment: c.Sentiment,
			Composite: c.Composite,
			Decision:  string(c.Decision),
			Gate:      string(c.Gate),
			Reasons:   encodeJSON(c.Reasons),
			BarTs:     c.BarTs.UTC(),
		}
	}
	return r.wrap(r.db.WithContext(ctx).Create(&rows).Error, "save signals")
}

// Signals returns the stored candidates of a run in rank order.
func (r *Repository) Signals(ctx context.Context, runID string) ([]SignalModel, error) {
	var rows []SignalModel
	err := r.db.WithContext(ctx).Where("run_id = ?", runID).Order("id ASC").Find(&rows).Error
	return rows, r.wrap(err, "load signals")
}

// StartCycle opens a cycle run record.
func (r *Repository) StartCycle(ctx context.Context, run schema.CycleRun) error {
	row := CycleRunModel{
		ID:        run.ID,
		Timeframe: string(run.Timeframe),
		Kind:      run.Kind,
		StartedAt: run.StartedAt.UTC(),
		Watchlist: run.Watchlist,
	}
	return r.wrap(r.db.WithContext(ctx).Create(&row).Error, "start cycle")
}

// FinishCycle closes a cycle run record with its counters.
func (r *Repository) FinishCycle(ctx context.Context, run schema.CycleRun) error {
	err := r.db.WithContext(ctx).Model(&CycleRunModel{ID: run.ID}).Updates(map[string]any{
		"finished_at": run.FinishedAt.UTC(),
		"watchlist":   run.Watchlist,
		"evaluated":   run.Evaluated,
		"placed":      run.Placed,
		"errors":      run.Errors,
		"notes":       encodeJSON(run.Notes),
	}).Error
	return r.wrap(err, "finish cycle")
}

// CycleRun loads a cycle run record.
func (r *Repository) CycleRun(ctx context.Context, id string) (schema.CycleRun, error) {
	var row CycleRunModel
	if err := r.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return schema.CycleRun{}, r.wrap(err, "load cycle")
	}
	return schema.CycleRun{
		ID:         row.ID,
		Timeframe:  schema.Timeframe(row.Timeframe),
		Kind:       row.Kind,
		StartedAt:  row.StartedAt.UTC(),
		FinishedAt: timeVal(row.FinishedAt).UTC(),
		Watchlist:  row.Watchlist,
		Evaluated:  row.Evaluated,
		Placed:     row.Placed,
		Errors:     row.Errors,
		Notes:      decodeStrings(row.Notes),
	}, nil
}

// RecordMetrics stores named values for a run.
func (r *Repository) RecordMetrics(ctx context.Context, runID string, ts time.Time, values map[string]float64) error {
	if len(values) == 0 {
		return nil
	}
	rows := make([]MetricModel, 0, len(values))
	for name, v := range values {
		rows = append(rows, MetricModel{RunID: runID, Name: name, Value: v, Ts: ts.UTC()})
	}
	return r.wrap(r.db.WithContext(ctx).Create(&rows).Error, "record metrics")
}

// CommitSymbol writes one symbol's trades, fills and position together with
// its trade count and realized P&L on the session row, in a single transaction.
// A nil position deletes the stored row. The session row must already exist.
func (r *Repository) CommitSymbol(ctx context.Context, c schema.SymbolCommit) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, t := range c.Trades {
			if t.Symbol != c.Symbol {
				return errors.Wrapf(exception.ErrInvalidArgument, "trade %s belongs to %s", t.ID, t.Symbol)
			}
			row := toTradeModel(t)
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "id"}},
				UpdateAll: true,
			}).Create(&row).Error; err != nil {
				return err
			}
		}
		if len(c.Fills) > 0 {
			fills := make([]FillModel, len(c.Fills))
			for i, f := range c.Fills {
				if f.Symbol != c.Symbol {
					return errors.Wrapf(exception.ErrInvalidArgument, "fill of %s belongs to %s", f.TradeID, f.Symbol)
				}
				fills[i] = toFillModel(f)
			}
			if err := tx.Create(&fills).Error; err != nil {
				return err
			}
		}

		if c.Position == nil || c.Position.Qty == 0 {
			if err := tx.Where("symbol = ?", c.Symbol).Delete(&PositionModel{}).Error; err != nil {
				return err
			}
		} else {
			row := toPositionModel(*c.Position)
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "symbol"}},
				UpdateAll: true,
			}).Create(&row).Error; err != nil {
				return err
			}
		}

		if c.Placed == 0 && c.Realized == 0 {
			return nil
		}
		res := tx.Model(&StateModel{}).
			Where("id = ? AND session_date = ?", stateRowID, c.Session).
			Updates(map[string]any{
				"trade_count": gorm.Expr("trade_count + ?", c.Placed),
				"equity":      gorm.Expr("equity + ?", c.Realized),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errors.Wrapf(exception.ErrDataUnavailable, "no session row for %s", c.Session)
		}
		return nil
	})
	return r.wrap(err, "commit "+c.Symbol)
}

// Fills returns the stored fills of a trade in execution order.
func (r *Repository) Fills(ctx context.Context, tradeID string) ([]schema.Fill, error) {
	var rows []FillModel
	if err := r.db.WithContext(ctx).Where("trade_id = ?", tradeID).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, r.wrap(err, "load fills")
	}
	out := make([]schema.Fill, len(rows))
	for i, row := range rows {
		out[i] = row.toSchema()
	}
	return out, nil
}

// SaveFeatures stores the indicator readings of a cycle. A bar already stored
// for a symbol keeps its first row.
func (r *Repository) SaveFeatures(ctx context.Context, runID string, rows []schema.FeatureRow) error {
	if len(rows) == 0 {
		return nil
	}
	models := make([]FeatureModel, len(rows))
	for i, f := range rows {
		models[i] = toFeatureModel(runID, f)
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "symbol"}, {Name: "timeframe"}, {Name: "bar_ts"}},
			DoNothing: true,
		}).
		Create(&models).Error
	return r.wrap(err, "save features")
}

// Features returns the stored readings of a symbol, oldest bar first.
func (r *Repository) Features(ctx context.Context, symbol string, tf schema.Timeframe) ([]schema.FeatureRow, error) {
	var rows []FeatureModel
	err := r.db.WithContext(ctx).
		Where("symbol = ? AND timeframe = ?", symbol, string(tf)).
		Order("bar_ts ASC").
		Find(&rows).Error
	if err != nil {
		return nil, r.wrap(err, "load features")
	}
	out := make([]schema.FeatureRow, len(rows))
	for i, row := range rows {
		out[i] = row.toSchema()
	}
	return out, nil
}

// WatchlistRunID is the stable id of a session's watchlist from source.
func WatchlistRunID(runDate, source string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(runDate+"|"+source)).String()
}

// SaveWatchlist stores the watchlist of a session once.
func (r *Repository) SaveWatchlist(ctx context.Context, run schema.WatchlistRun) error {
	id := WatchlistRunID(run.RunDate, run.Source)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := WatchlistRunModel{ID: id, RunDate: run.RunDate, Source: run.Source, Count: len(run.Symbols)}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
			return err
		}
		if len(run.Symbols) == 0 {
			return nil
		}
		items := make([]WatchlistItemModel, len(run.Symbols))
		for i, symbol := range run.Symbols {
			items[i] = WatchlistItemModel{RunID: id, Symbol: symbol, Rank: i + 1}
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "run_id"}, {Name: "symbol"}},
			DoNothing: true,
		}).Create(&items).Error
	})
	return r.wrap(err, "save watchlist")
}

// Watchlist loads the symbols stored for a session in rank order.
func (r *Repository) Watchlist(ctx context.Context, runDate, source string) ([]string, error) {
	var items []WatchlistItemModel
	err := r.db.WithContext(ctx).
		Where("run_id = ?", WatchlistRunID(runDate, source)).
		Order("item_rank ASC").
		Find(&items).Error
	if err != nil {
		return nil, r.wrap(err, "load watchlist")
	}
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = item.Symbol
	}
	return out, nil
}

// OpenTrades returns every non-terminal trade.
func (r *Repository) OpenTrades(ctx context.Context) ([]schema.Trade, error) {
	var rows []TradeModel
	err := r.db.WithContext(ctx).
		Where("status IN ?", []string{
			schema.TradeStatusPending.String(),
			schema.TradeStatusOpen.String(),
			schema.TradeStatusScaling.String(),
		}).
		Order("symbol ASC").
		Find(&rows).Error
	if err != nil {
		return nil, r.wrap(err, "load open trades")
	}
	out := make([]schema.Trade, len(rows))
	for i, row := range rows {
		out[i] = row.toSchema()
	}
	return out, nil
}

// Trades returns every stored trade ordered by symbol and id.
func (r *Repository) Trades(ctx context.Context) ([]schema.Trade, error) {
	var rows []TradeModel
	if err := r.db.WithContext(ctx).Order("symbol ASC, id ASC").Find(&rows).Error; err != nil {
		return nil, r.wrap(err, "load trades")
	}
	out := make([]schema.Trade, len(rows))
	for i, row := range rows {
		out[i] = row.toSchema()
	}
	return out, nil
}

// Positions returns every stored position.
func (r *Repository) Positions(ctx context.Context) ([]schema.Position, error) {
	var rows []PositionModel
	if err := r.db.WithContext(ctx).Order("symbol ASC").Find(&rows).Error; err != nil {
		return nil, r.wrap(err, "load positions")
	}
	out := make([]schema.Position, len(rows))
	for i, row := range rows {
		out[i] = row.toSchema()
	}
	return out, nil
}

// LoadState returns the orchestrator row, if one was saved.
func (r *Repository) LoadState(ctx context.Context) (schema.OrchestratorState, bool, error) {
	var row StateModel
	err := r.db.WithContext(ctx).First(&row, stateRowID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return schema.OrchestratorState{}, false, nil
	}
	if err != nil {
		return schema.OrchestratorState{}, false, r.wrap(err, "load state")
	}
	return row.toSchema(), true, nil
}

// SaveState writes the orchestrator row.
func (r *Repository) SaveState(ctx context.Context, st schema.OrchestratorState) error {
	row := StateModel{
		ID:            stateRowID,
		SessionDate:   st.SessionDate,
		TradeCount:    st.TradeCount,
		Equity:        st.Equity,
		DDStartEquity: st.DDStartEquity,
		DDLowEquity:   st.DDLowEquity,
		Halted:        st.Halted,
		Flattened:     st.Flattened,
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&row).Error
	return r.wrap(err, "save state")
}

func (r *Repository) wrap(err error, op string) error {
	if err == nil {
		return nil
	}
	return errors.Mark(errors.Wrap(err, op), exception.ErrPersistence)
}
