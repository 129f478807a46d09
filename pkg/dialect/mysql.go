package dialect

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	gomysql "github.com/go-sql-driver/mysql"
	"github.com/pingcap/parser/mysql"

	"github.com/sahithikokkula/verdict-aqe/pkg/config"
	"github.com/sahithikokkula/verdict-aqe/pkg/errdefs"
)

// MySQL speaks the server's dialect natively; only metadata placement and the
// scramble expressions differ from SQLite.
type MySQL struct {
	cfg *gomysql.Config
}

const mysqlMetaSchema = "verdictdbmeta"

func NewMySQL(b config.Backend) *MySQL {
	cfg := gomysql.NewConfig()
	cfg.User = b.User
	cfg.Passwd = b.Password
	cfg.Net = "tcp"
	cfg.Addr = fmt.Sprintf("%s:%d", b.Host, b.Port)
	cfg.DBName = b.Database
	cfg.Timeout = 10 * time.Second
	return &MySQL{cfg: cfg}
}

func (d *MySQL) Name() string       { return string(config.KindMySQL) }
func (d *MySQL) DriverName() string { return "mysql" }
func (d *MySQL) DSN() string        { return d.cfg.FormatDSN() }

func (d *MySQL) Init(ctx context.Context, db *sql.DB) error {
	db.SetConnMaxIdleTime(60 * time.Second)
	db.SetMaxIdleConns(4)
	db.SetMaxOpenConns(16)
	return nil
}

func (d *MySQL) Translate(ctx context.Context, q Querier, stmt string) ([]Step, error) {
	return single(Normalize(stmt)), nil
}

// Classify maps server error numbers; network failures become connection errors.
func (d *MySQL) Classify(err error) error {
	if err == nil || errdefs.Kind(err) != nil {
		return err
	}
	var myErr *gomysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case mysql.ErrNoSuchTable, mysql.ErrBadDB, mysql.ErrBadTable, mysql.ErrBadField, mysql.ErrDBDropExists:
			return errdefs.Wrap(errdefs.ErrObjectNotFound, err)
		case mysql.ErrTableExists, mysql.ErrDBCreateExists:
			return errdefs.Wrap(errdefs.ErrObjectAlreadyExists, err)
		case mysql.ErrParse, mysql.ErrSyntax:
			return errdefs.Wrap(errdefs.ErrSyntax, err)
		case mysql.ErrAccessDenied, mysql.ErrConCount:
			return errdefs.Wrap(errdefs.ErrConnection, err)
		}
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, gomysql.ErrInvalidConn) ||
		errors.Is(err, sql.ErrConnDone) ||
		strings.Contains(err.Error(), "database is closed") {
		return errdefs.Wrap(errdefs.ErrConnection, err)
	}
	return err
}

func (d *MySQL) QuoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func (d *MySQL) QuoteString(s string) string {
	return quoteString(strings.ReplaceAll(s, `\`, `\\`))
}

// ShuffleKey takes 60 bits of the MD5 of the value.
func (d *MySQL) ShuffleKey(expr string) string {
	return fmt.Sprintf("CAST(CONV(LEFT(MD5(%s), 15), 16, 10) AS UNSIGNED)", expr)
}

func (d *MySQL) BlockIDExpr(blockSize int64, order string) string {
	return fmt.Sprintf("((ROW_NUMBER() OVER (ORDER BY %s)) - 1) DIV %d", order, blockSize)
}

func (d *MySQL) SamplePredicate(ratio float64) string {
	return fmt.Sprintf("RAND() < %s", formatRatio(ratio))
}

func (d *MySQL) TableExists(ctx context.Context, q Querier, schema, table string) (bool, error) {
	query := "SELECT count(*) FROM information_schema.tables WHERE table_schema = ? AND table_name = ?"
	args := []any{schema, table}
	if schema == "" {
		query = "SELECT count(*) FROM information_schema.tables WHERE table_schema = DATABASE() AND table_name = ?"
		args = []any{table}
	}
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return false, d.Classify(err)
	}
	defer rows.Close()
	var n int64
	if rows.Next() {
		if err := rows.Scan(&n); err != nil {
			return false, err
		}
	}
	return n > 0, rows.Err()
}

func (d *MySQL) MetaTable(name string) string {
	return d.QuoteIdent(mysqlMetaSchema) + "." + d.QuoteIdent(name)
}

func (d *MySQL) MetaSchemaDDL() []string {
	return []string{"CREATE SCHEMA IF NOT EXISTS " + d.QuoteIdent(mysqlMetaSchema)}
}

func (d *MySQL) KeyType() string  { return "VARCHAR(255)" }
func (d *MySQL) BlobType() string { return "LONGBLOB" }
