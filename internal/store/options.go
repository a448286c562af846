package store

// PGOption configures a PostgresClient at construction time.
type PGOption func(*PostgresClient) error

// Logger is the subset of the slipway server's logger the store uses for
// query tracing and background errors.
type Logger interface {
	Debug(string, ...any)
	Error(error, string, ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any)        { /*no-op*/ }
func (nopLogger) Error(error, string, ...any) { /*no-op*/ }

// WithLog attaches the server's logger to the store.  Passing nil keeps the
// default no-op logger.
func WithLog(l Logger) PGOption {
	return func(c *PostgresClient) error {
		if l == nil {
			l = nopLogger{}
		}
		c.log = l
		return nil
	}
}
