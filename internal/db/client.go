// Package db stores brieflow blobs in SurrealDB over a reconnecting WebSocket.
package db

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/surrealdb/surrealdb.go"
	"github.com/surrealdb/surrealdb.go/contrib/rews"
	"github.com/surrealdb/surrealdb.go/pkg/connection"
	"github.com/surrealdb/surrealdb.go/pkg/connection/gorillaws"
	"github.com/surrealdb/surrealdb.go/pkg/logger"
	"github.com/surrealdb/surrealdb.go/surrealcbor"
)

const (
	dialTimeout     = 5 * time.Second
	retryFirstDelay = time.Second
	retryMaxDelay   = 30 * time.Second
	retryMax        = 10
)

func init() {
	// WSS upgrades must negotiate HTTP/1.1; HTTP/2 via ALPN breaks the handshake.
	gorillaws.DefaultDialer.TLSClientConfig = &tls.Config{
		NextProtos: []string{"http/1.1"},
	}
}

// Config selects the SurrealDB instance, namespace and credentials.
type Config struct {
	URL       string
	Namespace string
	Database  string
	Username  string
	Password  string
	AuthLevel string // "root" or "database"
}

// Client is an authenticated connection scoped to one namespace and database.
type Client struct {
	conn   *rews.Connection[*gorillaws.Connection]
	db     *surrealdb.DB
	logger *slog.Logger
}

// NewClient connects, signs in and selects cfg's namespace and database.
func NewClient(ctx context.Context, cfg Config, log *slog.Logger) (*Client, error) {
	if log == nil {
		log = slog.Default()
	}
	conn := dial(cfg.URL, logger.New(log.Handler()))
	if err := conn.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.URL, err)
	}

	db, err := surrealdb.FromConnection(ctx, conn)
	if err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("from connection: %w", err)
	}
	if err := signIn(ctx, db, cfg); err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("signin as %s: %w", cfg.Username, err)
	}
	if err := db.Use(ctx, cfg.Namespace, cfg.Database); err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("use %s/%s: %w", cfg.Namespace, cfg.Database, err)
	}

	log.Info("connected to SurrealDB", "url", cfg.URL, "namespace", cfg.Namespace, "database", cfg.Database)
	return &Client{conn: conn, db: db, logger: log}, nil
}

// dial builds a WebSocket connection that reconnects with exponential backoff.
// gorillaws appends /rpc itself, so a trailing /rpc in the URL is dropped.
func dial(rawURL string, sdkLogger logger.Logger) *rews.Connection[*gorillaws.Connection] {
	codec := surrealcbor.New()
	baseURL := strings.TrimSuffix(rawURL, "/rpc")

	conn := rews.New(
		func(context.Context) (*gorillaws.Connection, error) {
			return gorillaws.New(&connection.Config{
				BaseURL:     baseURL,
				Marshaler:   codec,
				Unmarshaler: codec,
				Logger:      sdkLogger,
			}), nil
		},
		dialTimeout,
		codec,
		sdkLogger,
	)

	retryer := rews.NewExponentialBackoffRetryer()
	retryer.InitialDelay = retryFirstDelay
	retryer.MaxDelay = retryMaxDelay
	retryer.Multiplier = 2.0
	retryer.MaxRetries = retryMax
	conn.Retryer = retryer
	return conn
}

func signIn(ctx context.Context, db *surrealdb.DB, cfg Config) error {
	auth := surrealdb.Auth{Username: cfg.Username, Password: cfg.Password}
	if cfg.AuthLevel == "database" {
		auth.Namespace = cfg.Namespace
		auth.Database = cfg.Database
	}
	_, err := db.SignIn(ctx, auth)
	return err
}

// Close closes the connection.
func (c *Client) Close(ctx context.Context) error {
	c.logger.Debug("closing SurrealDB connection")
	return c.conn.Close(ctx)
}

// InitSchema defines the blob table. It is idempotent.
func (c *Client) InitSchema(ctx context.Context) error {
	if err := exec(ctx, c, SchemaSQL, nil); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	c.logger.Debug("schema ready", "table", blobTable)
	return nil
}

// exec runs statements whose results are not needed.
func exec(ctx context.Context, c *Client, sql string, vars map[string]any) error {
	_, err := surrealdb.Query[any](ctx, c.db, sql, vars)
	return wrapQueryError(err)
}

// rows runs sql and decodes the result of its first statement.
func rows[T any](ctx context.Context, c *Client, sql string, vars map[string]any) ([]T, error) {
	results, err := surrealdb.Query[[]T](ctx, c.db, sql, vars)
	if err != nil {
		return nil, wrapQueryError(err)
	}
	if results == nil || len(*results) == 0 {
		return nil, nil
	}
	return (*results)[0].Result, nil
}
