package db

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"index-options-bot/internal/interfaces"
	"index-options-bot/internal/types"
)

// Config holds the Postgres connection parameters.
type Config struct {
	Host     string
	Port     string
	Name     string
	User     string
	Password string
}

// Repository is the Postgres-backed trade store. Rows are append-mostly and
// keyed by run/position identifiers; concurrent writers from parallel
// backtest runs are safe because runs never share position IDs.
type Repository struct {
	db *gorm.DB
}

var _ interfaces.TradeStore = (*Repository)(nil)

// Open connects and migrates the schema.
func Open(cfg Config) (*Repository, error) {
	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name)
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)

	if err := gdb.AutoMigrate(&RunRow{}, &PositionRow{}, &SLTransitionRow{}, &AttributionTickRow{}); err != nil {
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	return &Repository{db: gdb}, nil
}

// Close releases the underlying connection pool.
func (r *Repository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// CreateRun registers a run before its first position is written.
func (r *Repository) CreateRun(ctx context.Context, run RunRow) error {
	return r.db.WithContext(ctx).Create(&run).Error
}

// FinishRun stamps the run's completion time.
func (r *Repository) FinishRun(ctx context.Context, runID string) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&RunRow{}).
		Where("id = ?", runID).
		Update("finished_at", &now).Error
}

func (r *Repository) SavePosition(ctx context.Context, pos *types.Position) error {
	row := ToPositionRow(pos)
	return r.db.WithContext(ctx).Create(&row).Error
}

func (r *Repository) UpdatePosition(ctx context.Context, pos *types.Position) error {
	row := ToPositionRow(pos)
	return r.db.WithContext(ctx).Save(&row).Error
}

func (r *Repository) SaveSLTransition(ctx context.Context, tr types.SLTransition) error {
	row := ToTransitionRow(tr)
	return r.db.WithContext(ctx).Create(&row).Error
}

func (r *Repository) SaveAttribution(ctx context.Context, rec types.AttributionRecord) error {
	row := ToTickRow(rec)
	return r.db.WithContext(ctx).Create(&row).Error
}

// BackfillTickPnL writes the realized outcome into every tick row of a
// closed position. The outcome column is the only mutable field of a tick.
func (r *Repository) BackfillTickPnL(ctx context.Context, positionID string, pnl float64) error {
	return r.db.WithContext(ctx).Model(&AttributionTickRow{}).
		Where("position_id = ?", positionID).
		Update("resulting_pnl", pnl).Error
}

func (r *Repository) TicksForPosition(ctx context.Context, positionID string) ([]types.AttributionRecord, error) {
	var rows []AttributionTickRow
	err := r.db.WithContext(ctx).
		Where("position_id = ?", positionID).
		Order("at asc").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]types.AttributionRecord, len(rows))
	for i, row := range rows {
		out[i] = FromTickRow(row)
	}
	return out, nil
}

func (r *Repository) ClosedPositionsForRun(ctx context.Context, runID string) ([]types.Position, error) {
	var rows []PositionRow
	err := r.db.WithContext(ctx).
		Where("run_id = ? AND status = ?", runID, string(types.StatusClosed)).
		Order("entry_time asc").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]types.Position, len(rows))
	for i, row := range rows {
		out[i] = FromPositionRow(row)
	}
	return out, nil
}
