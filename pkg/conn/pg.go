package conn

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

const (
	defaultPostgresHost    = "localhost"
	defaultPostgresPort    = 5432
	defaultPostgresSSLMode = "disable"
	defaultSQLitePath      = "file::memory:?cache=shared"
	defaultMaxOpenConns    = 10
)

// Option defines connection options. Driver defaults to postgres.
type Option struct {
	Driver       string
	Host         string
	Port         int
	User         string
	Password     string
	Database     string
	SSLMode      string
	Params       map[string]string
	ConnString   string
	Path         string
	MaxOpenConns int
	Config       *gorm.Config
}

// FromURL builds options from DATABASE_URL style strings. sqlite:// and
// file: prefixes select sqlite; anything else is passed to postgres.
func FromURL(raw string) Option {
	switch {
	case strings.HasPrefix(raw, "sqlite://"):
		return Option{Driver: DriverSQLite, Path: strings.TrimPrefix(raw, "sqlite://")}
	case strings.HasPrefix(raw, "file:"):
		return Option{Driver: DriverSQLite, Path: raw}
	default:
		return Option{Driver: DriverPostgres, ConnString: raw}
	}
}

// Client wraps a database connection pool.
type Client struct {
	opt Option
	db  *gorm.DB
}

// New creates a client from the provided options.
func New(option Option) (*Client, error) {
	config := option.Config
	if config == nil {
		config = &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
	}

	var dialector gorm.Dialector
	switch option.Driver {
	case DriverSQLite:
		path := option.Path
		if path == "" {
			path = defaultSQLitePath
		}
		dialector = sqlite.Open(path)
	case "", DriverPostgres:
		connString, err := option.dsn()
		if err != nil {
			return nil, err
		}
		dialector = postgres.Open(connString)
	default:
		return nil, fmt.Errorf("unsupported driver %q", option.Driver)
	}

	db, err := gorm.Open(dialector, config)
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	maxOpen := option.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = defaultMaxOpenConns
	}
	if option.Driver == DriverSQLite {
		// sqlite serializes writers; one connection avoids SQLITE_BUSY between symbol commits.
		maxOpen = 1
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)

	return &Client{opt: option, db: db}, nil
}

// DB returns the underlying gorm.DB instance.
func (c *Client) DB() *gorm.DB {
	if c == nil {
		return nil
	}
	return c.db
}

// Driver returns the configured driver name.
func (c *Client) Driver() string {
	if c == nil || c.opt.Driver == "" {
		return DriverPostgres
	}
	return c.opt.Driver
}

// Close closes the underlying connection pool.
func (c *Client) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (opt Option) dsn() (string, error) {
	if opt.ConnString != "" {
		return opt.ConnString, nil
	}

	host := opt.Host
	if host == "" {
		host = defaultPostgresHost
	}

	port := opt.Port
	if port == 0 {
		port = defaultPostgresPort
	}

	sslMode := opt.SSLMode
	if sslMode == "" {
		sslMode = defaultPostgresSSLMode
	}

	u := &url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", host, port),
	}

	if opt.User != "" {
		if opt.Password != "" {
			u.User = url.UserPassword(opt.User, opt.Password)
		} else {
			u.User = url.User(opt.User)
		}
	}

	if opt.Database == "" {
		return "", fmt.Errorf("postgres database name is empty")
	}
	u.Path = "/" + opt.Database

	query := url.Values{}
	query.Set("sslmode", sslMode)
	for key, value := range opt.Params {
		if key == "" {
			continue
		}
		query.Set(key, value)
	}
	u.RawQuery = query.Encode()

	return u.String(), nil
}
