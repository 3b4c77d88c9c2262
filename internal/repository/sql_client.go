package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"vibe-trader/internal/domain"
)

// Dialect selects placeholder syntax. Queries are written with $N
// placeholders and rebound for SQLite.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

var placeholderRe = regexp.MustCompile(`\$(\d+)`)

// sqlitePragmas are applied to every SQLite connection unless the DSN sets
// the same pragma itself.
var sqlitePragmas = []struct{ name, value string }{
	{"journal_mode", "WAL"},
	{"busy_timeout", "5000"},
}

// SQLClient implements the quota, ledger and leaderboard contracts on a
// relational database.
type SQLClient struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

func NewSQL(db *sql.DB, dialect Dialect) (*SQLClient, error) {
	if db == nil {
		return nil, errors.New("repository: db must not be nil")
	}
	if dialect != Postgres && dialect != SQLite {
		return nil, fmt.Errorf("repository: unsupported dialect %q", dialect)
	}
	return &SQLClient{db: db, dialect: dialect, now: time.Now}, nil
}

// OpenSQL opens a postgres://, sqlite:// or file: connection string. SQLite
// DSNs may carry their own query parameters.
func OpenSQL(dsn string) (*SQLClient, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("repository: parse database url: %w", err)
	}
	var (
		db      *sql.DB
		dialect Dialect
	)
	switch u.Scheme {
	case "postgres", "postgresql":
		dialect = Postgres
		db, err = sql.Open("postgres", dsn)
	case "sqlite", "file":
		dialect = SQLite
		db, err = sql.Open("sqlite", sqliteDSN(dsn))
		if err == nil {
			db.SetMaxOpenConns(1)
		}
	default:
		return nil, fmt.Errorf("repository: unsupported database scheme %q", u.Scheme)
	}
	if err != nil {
		return nil, fmt.Errorf("repository: open %s: %w", dialect, err)
	}
	return NewSQL(db, dialect)
}

// sqliteDSN converts a sqlite:// or file: URL into a driver DSN. file: URLs
// are passed through as SQLite URI filenames.
func sqliteDSN(dsn string) string {
	out := strings.TrimPrefix(dsn, "sqlite://")
	for _, p := range sqlitePragmas {
		if strings.Contains(out, "_pragma="+p.name+"(") {
			continue
		}
		sep := "&"
		if !strings.Contains(out, "?") {
			sep = "?"
		}
		out += sep + "_pragma=" + p.name + "(" + p.value + ")"
	}
	return out
}

func (c *SQLClient) Close() error {
	return c.db.Close()
}

func (c *SQLClient) rebind(q string) string {
	if c.dialect == SQLite {
		return placeholderRe.ReplaceAllString(q, "?$1")
	}
	return q
}

func (c *SQLClient) exec(ctx context.Context, q string, args ...any) (sql.Result, error) {
	return c.db.ExecContext(ctx, c.rebind(q), args...)
}

func (c *SQLClient) query(ctx context.Context, q string, args ...any) (*sql.Rows, error) {
	return c.db.QueryContext(ctx, c.rebind(q), args...)
}

func (c *SQLClient) queryRow(ctx context.Context, q string, args ...any) *sql.Row {
	return c.db.QueryRowContext(ctx, c.rebind(q), args...)
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS rate_limits (
		id TEXT PRIMARY KEY,
		identifier TEXT NOT NULL,
		identifier_type TEXT NOT NULL,
		date TEXT NOT NULL,
		interaction_count INTEGER NOT NULL DEFAULT 0,
		updated_at TEXT NOT NULL,
		UNIQUE (identifier, date)
	)`,
	`CREATE TABLE IF NOT EXISTS purchases (
		id TEXT PRIMARY KEY,
		token_address TEXT NOT NULL,
		token_symbol TEXT,
		amount_sol DOUBLE PRECISION NOT NULL,
		amount_token DOUBLE PRECISION NOT NULL,
		price_per_token DOUBLE PRECISION NOT NULL,
		reasoning TEXT NOT NULL,
		tx_signature TEXT NOT NULL UNIQUE,
		timestamp TEXT NOT NULL,
		user_id TEXT,
		user_type TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS leaderboard_cache (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL UNIQUE,
		user_type TEXT NOT NULL,
		total_trades INTEGER NOT NULL DEFAULT 0,
		total_invested_sol DOUBLE PRECISION NOT NULL DEFAULT 0,
		total_current_value_usd DOUBLE PRECISION NOT NULL DEFAULT 0,
		total_pnl_usd DOUBLE PRECISION NOT NULL DEFAULT 0,
		win_count INTEGER NOT NULL DEFAULT 0,
		win_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
		last_updated TEXT
	)`,
}

// EnsureSchema creates the tables when they do not exist yet. Deployments
// with an externally managed schema can skip it.
func (c *SQLClient) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("repository: EnsureSchema: %w", err)
		}
	}
	return nil
}

func (c *SQLClient) QuotaCount(ctx context.Context, identity, day string) (int, error) {
	var n int
	err := c.queryRow(ctx,
		`SELECT interaction_count FROM rate_limits WHERE identifier = $1 AND date = $2`,
		identity, day,
	).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("repository: QuotaCount: %w", err)
	}
	return n, nil
}

func (c *SQLClient) IncrementQuota(ctx context.Context, identity string, class domain.IdentityClass, day string) (int, error) {
	var n int
	err := c.queryRow(ctx,
		`INSERT INTO rate_limits (id, identifier, identifier_type, date, interaction_count, updated_at)
		 VALUES ($1, $2, $3, $4, 1, $5)
		 ON CONFLICT (identifier, date)
		 DO UPDATE SET
		   interaction_count = rate_limits.interaction_count + 1,
		   updated_at = excluded.updated_at
		 RETURNING interaction_count`,
		uuid.NewString(), identity, string(class), day, c.now().UTC().Format(time.RFC3339),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("repository: IncrementQuota: %w", err)
	}
	return n, nil
}

func (c *SQLClient) ResetQuota(ctx context.Context, identity, day string) error {
	if _, err := c.exec(ctx, `DELETE FROM rate_limits WHERE identifier = $1 AND date = $2`, identity, day); err != nil {
		return fmt.Errorf("repository: ResetQuota: %w", err)
	}
	return nil
}

func (c *SQLClient) AppendTrade(ctx context.Context, rec domain.TradeRecord) error {
	if rec.TxSignature == "" {
		return errors.New("repository: AppendTrade: tx signature is required")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.TokenSymbol == "" {
		rec.TokenSymbol = domain.UnknownSymbol
	}
	res, err := c.exec(ctx,
		`INSERT INTO purchases
		   (id, token_address, token_symbol, amount_sol, amount_token, price_per_token, reasoning, tx_signature, timestamp, user_id, user_type)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (tx_signature) DO NOTHING`,
		rec.ID, rec.TokenAddress, rec.TokenSymbol, rec.AmountSol, rec.AmountToken, rec.PricePerToken,
		rec.Reasoning, rec.TxSignature, rec.Timestamp, nullString(rec.UserID), nullString(rec.UserType),
	)
	if err != nil {
		return fmt.Errorf("repository: AppendTrade: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("repository: AppendTrade rows affected: %w", err)
	}
	if n == 0 {
		return ErrDuplicateTrade
	}
	return nil
}

func (c *SQLClient) ListTrades(ctx context.Context) ([]domain.TradeRecord, error) {
	rows, err := c.query(ctx,
		`SELECT id, token_address, token_symbol, amount_sol, amount_token, price_per_token,
		        reasoning, tx_signature, timestamp, user_id, user_type
		 FROM purchases
		 ORDER BY timestamp DESC`)
	if err != nil {
		return nil, fmt.Errorf("repository: ListTrades: %w", err)
	}
	defer rows.Close()

	trades := []domain.TradeRecord{}
	for rows.Next() {
		var (
			rec                      domain.TradeRecord
			symbol, userID, userType sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.TokenAddress, &symbol, &rec.AmountSol, &rec.AmountToken, &rec.PricePerToken,
			&rec.Reasoning, &rec.TxSignature, &rec.Timestamp, &userID, &userType); err != nil {
			return nil, fmt.Errorf("repository: ListTrades scan: %w", err)
		}
		rec.TokenSymbol = symbol.String
		if rec.TokenSymbol == "" {
			rec.TokenSymbol = domain.UnknownSymbol
		}
		rec.UserID = userID.String
		rec.UserType = userType.String
		trades = append(trades, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: ListTrades rows: %w", err)
	}
	return trades, nil
}

func (c *SQLClient) UpdateTradeSymbol(ctx context.Context, txSignature, symbol string) error {
	_, err := c.exec(ctx,
		`UPDATE purchases SET token_symbol = $1
		 WHERE tx_signature = $2 AND (token_symbol IS NULL OR token_symbol = $3)`,
		symbol, txSignature, domain.UnknownSymbol,
	)
	if err != nil {
		return fmt.Errorf("repository: UpdateTradeSymbol: %w", err)
	}
	return nil
}

func (c *SQLClient) ActiveTokens(ctx context.Context) ([]string, error) {
	rows, err := c.query(ctx, `SELECT DISTINCT token_address FROM purchases`)
	if err != nil {
		return nil, fmt.Errorf("repository: ActiveTokens: %w", err)
	}
	defer rows.Close()

	tokens := []string{}
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			return nil, fmt.Errorf("repository: ActiveTokens scan: %w", err)
		}
		tokens = append(tokens, addr)
	}
	return tokens, rows.Err()
}

var orderColumns = map[domain.LeaderboardSort]string{
	domain.SortByPnL:     "total_pnl_usd",
	domain.SortByTrades:  "total_trades",
	domain.SortByWinRate: "win_rate",
}

func (c *SQLClient) Leaderboard(ctx context.Context, by domain.LeaderboardSort, limit, offset int) ([]domain.LeaderboardEntry, error) {
	col, ok := orderColumns[by]
	if !ok {
		return nil, fmt.Errorf("repository: Leaderboard: unknown sort %q", by)
	}
	rows, err := c.query(ctx,
		`SELECT user_id, user_type, total_trades, total_invested_sol, total_pnl_usd, win_rate
		 FROM leaderboard_cache
		 WHERE total_trades > 0
		 ORDER BY `+col+` DESC
		 LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("repository: Leaderboard: %w", err)
	}
	defer rows.Close()

	entries := []domain.LeaderboardEntry{}
	for rows.Next() {
		var e domain.LeaderboardEntry
		if err := rows.Scan(&e.UserID, &e.UserType, &e.TotalTrades, &e.TotalInvestedSol, &e.TotalPnlUSD, &e.WinRate); err != nil {
			return nil, fmt.Errorf("repository: Leaderboard scan: %w", err)
		}
		e.Rank = offset + len(entries) + 1
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: Leaderboard rows: %w", err)
	}
	return entries, nil
}

func (c *SQLClient) GlobalStats(ctx context.Context) (domain.GlobalStats, error) {
	stats := domain.GlobalStats{TopTokens: []domain.TopToken{}}
	err := c.queryRow(ctx,
		`SELECT COUNT(*), COUNT(DISTINCT user_id), COALESCE(SUM(amount_sol), 0)
		 FROM purchases
		 WHERE user_id IS NOT NULL`,
	).Scan(&stats.TotalTrades, &stats.TotalUsersTraded, &stats.TotalVolumeSOL)
	if err != nil {
		return stats, fmt.Errorf("repository: GlobalStats totals: %w", err)
	}

	rows, err := c.query(ctx,
		`SELECT token_address, token_symbol, COUNT(*) AS trade_count
		 FROM purchases
		 GROUP BY token_address, token_symbol
		 ORDER BY trade_count DESC
		 LIMIT $1`,
		topTokenCount,
	)
	if err != nil {
		return stats, fmt.Errorf("repository: GlobalStats top tokens: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			tok    domain.TopToken
			symbol sql.NullString
		)
		if err := rows.Scan(&tok.Address, &symbol, &tok.TradeCount); err != nil {
			return stats, fmt.Errorf("repository: GlobalStats scan: %w", err)
		}
		tok.Symbol = symbol.String
		if tok.Symbol == "" {
			tok.Symbol = domain.UnknownSymbol
		}
		stats.TopTokens = append(stats.TopTokens, tok)
	}
	if err := rows.Err(); err != nil {
		return stats, fmt.Errorf("repository: GlobalStats rows: %w", err)
	}

	err = c.queryRow(ctx,
		`SELECT CASE WHEN SUM(total_trades) > 0
		          THEN CAST(SUM(win_count) AS DOUBLE PRECISION) / SUM(total_trades) * 100
		          ELSE 0
		        END
		 FROM leaderboard_cache`,
	).Scan(&stats.OverallWinRate)
	if err != nil {
		return stats, fmt.Errorf("repository: GlobalStats win rate: %w", err)
	}
	return stats, nil
}

func (c *SQLClient) UserStats(ctx context.Context, userID string) (*domain.UserStats, error) {
	var (
		stats   domain.UserStats
		updated sql.NullString
	)
	err := c.queryRow(ctx,
		`SELECT total_trades, total_invested_sol, total_pnl_usd, win_rate, last_updated
		 FROM leaderboard_cache
		 WHERE user_id = $1`,
		userID,
	).Scan(&stats.TotalTrades, &stats.TotalInvestedSol, &stats.TotalPnlUSD, &stats.WinRate, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("repository: UserStats: %w", err)
	}
	stats.LastUpdated = updated.String

	var rank int
	err = c.queryRow(ctx,
		`SELECT COUNT(*) + 1 FROM leaderboard_cache WHERE total_pnl_usd > $1`,
		stats.TotalPnlUSD,
	).Scan(&rank)
	if err != nil {
		return nil, fmt.Errorf("repository: UserStats rank: %w", err)
	}
	stats.Rank = &rank
	return &stats, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
