// Package verdict is the session entry point. A Context owns one backend
// connection and routes each statement to the scramble builder, the
// approximate executor or the exact store.
package verdict

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/sahithikokkula/verdict-aqe/pkg/config"
	"github.com/sahithikokkula/verdict-aqe/pkg/dialect"
	"github.com/sahithikokkula/verdict-aqe/pkg/errdefs"
	"github.com/sahithikokkula/verdict-aqe/pkg/executor"
	"github.com/sahithikokkula/verdict-aqe/pkg/result"
	"github.com/sahithikokkula/verdict-aqe/pkg/scramble"
	"github.com/sahithikokkula/verdict-aqe/pkg/sqlast"
	"github.com/sahithikokkula/verdict-aqe/pkg/storage"
	"github.com/sahithikokkula/verdict-aqe/pkg/store"
)

// Context is not safe for concurrent use; statements run one at a time.
type Context struct {
	store    *store.Store
	meta     storage.MetaStore
	builder  *scramble.Builder
	executor *executor.Executor
	opts     config.Options
}

// Open connects to b and prepares the scramble metadata store.
func Open(ctx context.Context, b config.Backend, opts config.Options) (*Context, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	st, err := store.Open(ctx, b)
	if err != nil {
		return nil, err
	}
	meta, err := storage.Open(ctx, opts, st.DB(), st.Dialect())
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to open metadata store: %w", err)
	}
	return &Context{
		store:    st,
		meta:     meta,
		builder:  scramble.NewBuilder(st, meta, opts),
		executor: executor.New(st, meta, opts),
		opts:     opts,
	}, nil
}

func NewSQLiteContext(path string, opts config.Options) (*Context, error) {
	return Open(context.Background(), config.SQLite(path), opts)
}

func NewMySQLContext(host, user, password string, opts config.Options) (*Context, error) {
	return Open(context.Background(), config.MySQL(host, 0, user, password, ""), opts)
}

func (c *Context) Store() *store.Store          { return c.store }
func (c *Context) Meta() storage.MetaStore      { return c.meta }
func (c *Context) Builder() *scramble.Builder   { return c.builder }
func (c *Context) Executor() *executor.Executor { return c.executor }
func (c *Context) Options() config.Options      { return c.opts }
func (c *Context) Backend() config.Backend      { return c.store.Backend() }

// SQL runs one statement. Aggregate queries over scrambled tables are
// answered approximately; when the query cannot be rewritten it runs exactly.
func (c *Context) SQL(ctx context.Context, sql string) (*result.Result, error) {
	stmt, err := sqlast.Parse(sql)
	if err != nil {
		return nil, err
	}
	switch st := stmt.(type) {
	case *sqlast.Bypass:
		log.WithField("sql", st.SQL).Debug("bypass")
		res, err := c.executor.ExecuteBypass(ctx, sql)
		return res, c.afterExact(ctx, st.SQL, err)
	case *sqlast.CreateScramble:
		m, err := c.builder.Create(ctx, scramble.FromStatement(st))
		if err != nil {
			return nil, err
		}
		return scramble.Table([]*storage.ScrambleMeta{m}), nil
	case *sqlast.DropScramble:
		if err := c.builder.Drop(ctx, st.Name, st.IfExists); err != nil {
			return nil, err
		}
		return result.Empty(), nil
	case *sqlast.ShowScrambles:
		ms, err := c.builder.List(ctx)
		if err != nil {
			return nil, err
		}
		return scramble.Table(ms), nil
	case *sqlast.Select:
		if st.IsAggregate() {
			res, err := c.executor.ExecuteSelect(ctx, st, sql)
			if !errdefs.IsUnsupported(err) {
				return res, err
			}
			log.WithError(err).Debug("running exactly")
		}
	}
	return c.Exact(ctx, sql)
}

// Exact runs sql on the backend without consulting scrambles.
func (c *Context) Exact(ctx context.Context, sql string) (*result.Result, error) {
	res, err := c.store.Execute(ctx, sql)
	return res, c.afterExact(ctx, sql, err)
}

// afterExact forgets scrambles whose tables a successful DROP removed.
func (c *Context) afterExact(ctx context.Context, sql string, err error) error {
	if err != nil || !dialect.IsDrop(sql) {
		return err
	}
	_, err = c.builder.Prune(ctx)
	return err
}

// Approx runs sql approximately and fails instead of falling back.
func (c *Context) Approx(ctx context.Context, sql string) (*result.Result, error) {
	return c.executor.ExecuteApprox(ctx, sql)
}

func (c *Context) Close() error {
	metaErr := c.meta.Close()
	if err := c.store.Close(); err != nil {
		return err
	}
	return metaErr
}
