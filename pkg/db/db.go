package db

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"transcript-summaries/pkg/config"
)

// conn is the part of *mongo.Client the Manager depends on.
type conn interface {
	Ping(ctx context.Context, rp *readpref.ReadPref) error
	Disconnect(ctx context.Context) error
	Database(name string, opts ...*options.DatabaseOptions) *mongo.Database
}

type dialFunc func(ctx context.Context, opts *options.ClientOptions) (conn, error)

func mongoDial(ctx context.Context, opts *options.ClientOptions) (conn, error) {
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// Manager owns the MongoDB client shared by every invocation in the process.
//
// The client is created on first use. Each Collection call pings the server;
// a cached client that fails the ping is disconnected and recreated once, and
// a second failure is returned to the caller.
type Manager struct {
	cfg    config.MongoConfig
	logger *slog.Logger
	dial   dialFunc

	mu     sync.Mutex
	client conn
}

// NewManager creates a Manager. No connection is made until first use.
func NewManager(cfg config.MongoConfig, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:    cfg,
		logger: logger,
		dial:   mongoDial,
	}
}

// Collection returns the summaries collection on a verified connection.
func (m *Manager) Collection(ctx context.Context) (*mongo.Collection, error) {
	client, err := m.acquire(ctx)
	if err != nil {
		return nil, err
	}
	return client.Database(m.cfg.Database).Collection(m.cfg.Collection), nil
}

// Close disconnects the cached client, if any.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.client == nil {
		return nil
	}
	err := m.client.Disconnect(ctx)
	m.client = nil
	return err
}

func (m *Manager) acquire(ctx context.Context) (conn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.client == nil {
		if err := m.connectLocked(ctx); err != nil {
			return nil, err
		}
		if err := m.client.Ping(ctx, readpref.Primary()); err != nil {
			m.dropLocked(ctx)
			return nil, fmt.Errorf("ping mongo: %w", err)
		}
		return m.client, nil
	}

	err := m.client.Ping(ctx, readpref.Primary())
	if err == nil {
		return m.client, nil
	}

	m.logger.Warn("cached mongo client failed ping, recreating", "error", err)
	m.dropLocked(ctx)

	if err := m.connectLocked(ctx); err != nil {
		return nil, err
	}
	if err := m.client.Ping(ctx, readpref.Primary()); err != nil {
		m.dropLocked(ctx)
		return nil, fmt.Errorf("ping mongo after reconnect: %w", err)
	}
	return m.client, nil
}

func (m *Manager) connectLocked(ctx context.Context) error {
	opts, err := m.clientOptions()
	if err != nil {
		return err
	}

	client, err := m.dial(ctx, opts)
	if err != nil {
		return fmt.Errorf("connect mongo: %w", err)
	}

	m.logger.Info("mongo client created",
		"database", m.cfg.Database,
		"collection", m.cfg.Collection,
		"max_pool_size", m.cfg.MaxPoolSize,
	)
	m.client = client
	return nil
}

func (m *Manager) dropLocked(ctx context.Context) {
	if m.client == nil {
		return
	}
	if err := m.client.Disconnect(ctx); err != nil {
		m.logger.Debug("disconnect stale mongo client", "error", err)
	}
	m.client = nil
}

func (m *Manager) clientOptions() (*options.ClientOptions, error) {
	opts := options.Client().
		ApplyURI(m.cfg.URI).
		SetMaxPoolSize(m.cfg.MaxPoolSize).
		SetConnectTimeout(m.cfg.ConnectTimeout).
		SetSocketTimeout(m.cfg.SocketTimeout).
		SetServerSelectionTimeout(m.cfg.ServerSelectionTimeout).
		SetRetryWrites(false)

	if m.cfg.TLSCAFile == "" && !m.cfg.TLSInsecure {
		return opts, nil
	}

	tlsCfg := &tls.Config{InsecureSkipVerify: m.cfg.TLSInsecure}
	if m.cfg.TLSCAFile != "" {
		pem, err := os.ReadFile(m.cfg.TLSCAFile)
		if err != nil {
			return nil, fmt.Errorf("read mongo CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", m.cfg.TLSCAFile)
		}
		tlsCfg.RootCAs = pool
	}
	return opts.SetTLSConfig(tlsCfg), nil
}
