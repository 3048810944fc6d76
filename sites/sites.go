// Package sites reads the site records that are mirrored to.
package sites

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	// Register the postgres driver.
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"constellation-sync/config"
	"constellation-sync/models"
)

// DriverName is the database/sql driver used by Open.
const DriverName = "postgres"

// Repository runs the site query over a single database connection.
type Repository struct {
	db            *sql.DB
	query         string
	addressColumn string
	queryTimeout  time.Duration
}

// New wraps an already open connection. ListSites is unbounded unless
// WithQueryTimeout is set.
func New(db *sql.DB, query, addressColumn string) *Repository {
	return &Repository{
		db:            db,
		query:         query,
		addressColumn: addressColumn,
	}
}

// WithQueryTimeout bounds ListSites. Zero disables the limit.
func (r *Repository) WithQueryTimeout(timeout time.Duration) *Repository {
	r.queryTimeout = timeout
	return r
}

// Open connects to PostgreSQL with the given credentials and checks the
// connection before returning.
func Open(ctx context.Context, dbCfg config.Database, syncCfg config.Sync) (*Repository, error) {
	dsn := DSN(dbCfg, syncCfg)
	db, err := sql.Open(DriverName, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}
	// One connection for the one query.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pingCtx, cancel := withTimeout(ctx, syncCfg.ConnectTimeout)
	defer cancel()

	log.WithFields(log.Fields{
		"host":     config.Value(dbCfg.Host),
		"port":     syncCfg.Port,
		"database": config.Value(dbCfg.DB),
	}).Debug("Connecting to database")

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "connect to %s:%d", config.Value(dbCfg.Host), syncCfg.Port)
	}

	return New(db, syncCfg.Query, syncCfg.AddressColumn).WithQueryTimeout(syncCfg.QueryTimeout), nil
}

// ListSites runs the query and returns every row, in the order the database
// returned them.
func (r *Repository) ListSites(ctx context.Context) ([]models.Site, error) {
	ctx, cancel := withTimeout(ctx, r.queryTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, r.query)
	if err != nil {
		return nil, errors.Wrap(err, "query sites")
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, errors.Wrap(err, "read columns")
	}

	addressIdx := -1
	for i, col := range columns {
		if col == r.addressColumn {
			addressIdx = i
			break
		}
	}
	if addressIdx == -1 {
		available := append([]string(nil), columns...)
		sort.Strings(available)
		return nil, &ColumnNotFoundError{Column: r.addressColumn, Available: available}
	}

	var sites []models.Site
	for rows.Next() {
		values := make([]any, len(columns))
		dest := make([]any, len(columns))
		for i := range values {
			dest[i] = &values[i]
		}

		if err := rows.Scan(dest...); err != nil {
			return nil, errors.Wrap(err, "scan row")
		}

		site := models.Site{Columns: make(map[string]any, len(columns))}
		for i, col := range columns {
			site.Columns[col] = normalize(values[i])
		}
		site.Address = text(site.Columns[r.addressColumn])
		sites = append(sites, site)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate rows")
	}

	log.WithField("count", len(sites)).Debug("Fetched sites")
	return sites, nil
}

// Close releases the database connection.
func (r *Repository) Close() error {
	return r.db.Close()
}

// DSN builds a lib/pq key/value connection string.
func DSN(dbCfg config.Database, syncCfg config.Sync) string {
	params := []string{
		"host=" + quote(config.Value(dbCfg.Host)),
		fmt.Sprintf("port=%d", syncCfg.Port),
		"user=" + quote(config.Value(dbCfg.User)),
		"password=" + quote(config.Value(dbCfg.Pass)),
		"dbname=" + quote(config.Value(dbCfg.DB)),
	}
	if syncCfg.SSLMode != "" {
		params = append(params, "sslmode="+quote(syncCfg.SSLMode))
	}
	if secs := int(syncCfg.ConnectTimeout / time.Second); secs > 0 {
		params = append(params, fmt.Sprintf("connect_timeout=%d", secs))
	}
	return strings.Join(params, " ")
}

func quote(val string) string {
	val = strings.ReplaceAll(val, `\`, `\\`)
	val = strings.ReplaceAll(val, `'`, `\'`)
	return "'" + val + "'"
}

// The driver hands back text columns it doesn't recognise as []byte.
func normalize(val any) any {
	if b, ok := val.([]byte); ok {
		return string(b)
	}
	return val
}

func text(val any) string {
	switch v := val.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
