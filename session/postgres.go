package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists the session as one row of <schema>.client_sessions,
// keyed by namespace.
type PostgresStore struct {
	pool      *pgxpool.Pool
	schema    string
	namespace string
}

// PostgresOption configures PostgresStore.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by the store (default: "authclient").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("empty schema")
		}
		s.schema = schema
		return nil
	}
}

// WithNamespace selects the row used by this client (default: "default").
func WithNamespace(namespace string) PostgresOption {
	return func(s *PostgresStore) error {
		namespace = strings.TrimSpace(namespace)
		if namespace == "" {
			return errors.New("empty namespace")
		}
		s.namespace = namespace
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{pool: pool, schema: "authclient", namespace: "default"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("postgres pool required")
	}
	return st, nil
}

// EnsureSchema creates the schema and table if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	schema := pgx.Identifier{s.schema}.Sanitize()
	table := s.table()
	_, err := s.pool.Exec(ctx, `CREATE SCHEMA IF NOT EXISTS `+schema)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	_, err = s.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS `+table+` (
		namespace     text PRIMARY KEY,
		access_token  text NOT NULL,
		refresh_token text,
		user_payload  jsonb,
		updated_at    timestamptz NOT NULL DEFAULT now()
	)`)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Load returns the namespace row, or an empty session when there is none.
func (s *PostgresStore) Load(ctx context.Context) (Session, error) {
	var (
		access  string
		refresh *string
		user    []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT access_token, refresh_token, user_payload FROM `+s.table()+` WHERE namespace = $1`,
		s.namespace,
	).Scan(&access, &refresh, &user)
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, nil
	}
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	out := Session{AccessToken: access}
	if refresh != nil {
		out.RefreshToken = *refresh
	}
	if len(user) > 0 {
		out.User = json.RawMessage(user)
	}
	return out, nil
}

// Save upserts the namespace row. An empty session deletes it.
func (s *PostgresStore) Save(ctx context.Context, sess Session) error {
	if !sess.Valid() {
		return ErrInvalidSession
	}
	if sess.Empty() {
		return s.Clear(ctx)
	}

	var refresh *string
	if sess.RefreshToken != "" {
		refresh = &sess.RefreshToken
	}
	var user []byte
	if len(sess.User) > 0 {
		user = sess.User
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.table()+` (namespace, access_token, refresh_token, user_payload, updated_at)
		 VALUES ($1, $2, $3, $4, now())
		 ON CONFLICT (namespace) DO UPDATE
		 SET access_token = EXCLUDED.access_token,
		     refresh_token = EXCLUDED.refresh_token,
		     user_payload = EXCLUDED.user_payload,
		     updated_at = EXCLUDED.updated_at`,
		s.namespace, sess.AccessToken, refresh, user,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Clear deletes the namespace row.
func (s *PostgresStore) Clear(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM `+s.table()+` WHERE namespace = $1`, s.namespace); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *PostgresStore) table() string {
	return pgx.Identifier{s.schema, "client_sessions"}.Sanitize()
}

var _ Store = (*PostgresStore)(nil)
