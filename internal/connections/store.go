package connections

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docingest/internal/config"
)

// Key prefixes for the different record types.
const (
	connPrefix   = "conn:"
	tenantPrefix = "tenant:"
	statePrefix  = "state:"
)

func connKey(id string) []byte { return []byte(connPrefix + id) }

// tenantKey is a composite index key: tenant:{tenant}:{connection_id}.
func tenantKey(tenantName, id string) []byte {
	return []byte(tenantPrefix + tenantName + ":" + id)
}

func stateKey(token string) []byte { return []byte(statePrefix + token) }

// storedConnection is the on-disk shape. Token fields are ciphertext.
type storedConnection struct {
	ID               string    `json:"id"`
	Tenant           string    `json:"tenant"`
	SiteID           string    `json:"site_id"`
	UserEmail        string    `json:"user_email"`
	RefreshEncrypted string    `json:"refresh_token_encrypted"`
	AccessEncrypted  string    `json:"access_token_encrypted"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	Status           Status    `json:"status"`
	CreatedAt        time.Time `json:"created_at"`
	LastUsedAt       time.Time `json:"last_used_at"`
	Scopes           []string  `json:"scopes"`
}

// Store is the durable, tenant-indexed table of connections and short-lived
// authorization states, backed by BadgerDB.
type Store struct {
	db     *badger.DB
	cipher *Cipher
	logger *zap.Logger
}

// badgerLoggerAdapter adapts zap to badger.Logger.
type badgerLoggerAdapter struct {
	logger *zap.SugaredLogger
}

var _ badger.Logger = (*badgerLoggerAdapter)(nil)

func (bl *badgerLoggerAdapter) Errorf(msg string, items ...any)   { bl.logger.Errorf(msg, items...) }
func (bl *badgerLoggerAdapter) Warningf(msg string, items ...any) { bl.logger.Warnf(msg, items...) }
func (bl *badgerLoggerAdapter) Infof(msg string, items ...any)    { bl.logger.Debugf(msg, items...) }
func (bl *badgerLoggerAdapter) Debugf(msg string, items ...any)   { bl.logger.Debugf(msg, items...) }

// Open opens the store at cfg.Path, creating the directory and the at-rest
// encryption key on first use.
func Open(cfg config.StorageConfig, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	key, err := LoadOrCreateKey(cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("loading encryption key: %w", err)
	}
	cipher, err := NewCipher(key)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.Path, 0o700); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}
	opts := badger.DefaultOptions(cfg.Path)
	opts.Logger = &badgerLoggerAdapter{logger: logger.Named("badger").Sugar()}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening connection store: %w", err)
	}
	return &Store{db: db, cipher: cipher, logger: logger}, nil
}

// OpenInMemory opens an in-memory store with a fresh random key. Test use.
func OpenInMemory(logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generating key: %w", err)
	}
	cipher, err := NewCipher(key)
	if err != nil {
		return nil, err
	}
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = &badgerLoggerAdapter{logger: logger.Named("badger").Sugar()}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening in-memory store: %w", err)
	}
	return &Store{db: db, cipher: cipher, logger: logger}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// UpsertConnection writes a connection, encrypting credential fields. The
// tenant of an existing row is immutable.
func (s *Store) UpsertConnection(conn *Connection) error {
	if conn.ID == "" || conn.Tenant == "" {
		return fmt.Errorf("%w: id and tenant required", ErrInvalidRecord)
	}

	refreshEnc, err := s.cipher.Encrypt(conn.RefreshToken)
	if err != nil {
		return fmt.Errorf("encrypting refresh token: %w", err)
	}
	accessEnc, err := s.cipher.Encrypt(conn.AccessToken)
	if err != nil {
		return fmt.Errorf("encrypting access token: %w", err)
	}

	rec := storedConnection{
		ID:               conn.ID,
		Tenant:           conn.Tenant,
		SiteID:           conn.SiteID,
		UserEmail:        conn.UserEmail,
		RefreshEncrypted: refreshEnc,
		AccessEncrypted:  accessEnc,
		AccessExpiresAt:  conn.AccessExpiresAt,
		Status:           conn.Status,
		CreatedAt:        conn.CreatedAt,
		LastUsedAt:       conn.LastUsedAt,
		Scopes:           conn.Scopes,
	}

	return s.db.Update(func(txn *badger.Txn) error {
		if item, err := txn.Get(connKey(conn.ID)); err == nil {
			var existing storedConnection
			if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &existing) }); err != nil {
				return fmt.Errorf("decoding existing connection: %w", err)
			}
			if existing.Tenant != conn.Tenant {
				return ErrTenantMismatch
			}
		} else if err != badger.ErrKeyNotFound {
			return err
		}

		buf, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encoding connection: %w", err)
		}
		if err := txn.Set(connKey(conn.ID), buf); err != nil {
			return err
		}
		return txn.Set(tenantKey(conn.Tenant, conn.ID), []byte(conn.ID))
	})
}

// GetConnection returns an active connection with decrypted credentials.
// Revoked and missing connections both return ErrNotFound; revocation makes a
// connection invisible, not merely flagged.
func (s *Store) GetConnection(id string) (*Connection, error) {
	var rec storedConnection
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(connKey(id))
		if err == badger.ErrKeyNotFound {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error { return json.Unmarshal(val, &rec) })
	})
	if err != nil {
		return nil, err
	}
	if rec.Status != StatusActive {
		return nil, ErrNotFound
	}

	refresh, err := s.cipher.Decrypt(rec.RefreshEncrypted)
	if err != nil {
		return nil, err
	}
	access, err := s.cipher.Decrypt(rec.AccessEncrypted)
	if err != nil {
		return nil, err
	}
	return &Connection{
		ID:              rec.ID,
		Tenant:          rec.Tenant,
		SiteID:          rec.SiteID,
		UserEmail:       rec.UserEmail,
		RefreshToken:    refresh,
		AccessToken:     access,
		AccessExpiresAt: rec.AccessExpiresAt,
		Status:          rec.Status,
		CreatedAt:       rec.CreatedAt,
		LastUsedAt:      rec.LastUsedAt,
		Scopes:          rec.Scopes,
	}, nil
}

// UpdateAccessToken stores a refreshed access credential and its expiry, and
// bumps last_used_at.
func (s *Store) UpdateAccessToken(id, accessToken string, expiresAt time.Time) error {
	accessEnc, err := s.cipher.Encrypt(accessToken)
	if err != nil {
		return fmt.Errorf("encrypting access token: %w", err)
	}
	return s.mutate(id, func(rec *storedConnection) error {
		rec.AccessEncrypted = accessEnc
		rec.AccessExpiresAt = expiresAt
		rec.LastUsedAt = time.Now().UTC()
		return nil
	})
}

// Revoke marks a connection revoked. The transition is irreversible.
func (s *Store) Revoke(id string) error {
	return s.mutate(id, func(rec *storedConnection) error {
		rec.Status = StatusRevoked
		return nil
	})
}

// mutate applies fn to a stored connection inside one transaction.
func (s *Store) mutate(id string, fn func(*storedConnection) error) error {
	return s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(connKey(id))
		if err == badger.ErrKeyNotFound {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		var rec storedConnection
		if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &rec) }); err != nil {
			return fmt.Errorf("decoding connection: %w", err)
		}
		if err := fn(&rec); err != nil {
			return err
		}
		buf, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encoding connection: %w", err)
		}
		return txn.Set(connKey(id), buf)
	})
}

// ListByTenant returns a tenant's active connections ordered by creation
// time, newest first. Credential fields are left empty; listing is a
// metadata operation.
func (s *Store) ListByTenant(tenantName string) ([]*Connection, error) {
	var out []*Connection
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		prefix := []byte(tenantPrefix + tenantName + ":")
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var id string
			if err := it.Item().Value(func(val []byte) error {
				id = string(val)
				return nil
			}); err != nil {
				return err
			}

			item, err := txn.Get(connKey(id))
			if err == badger.ErrKeyNotFound {
				continue // index entry outlived the row
			}
			if err != nil {
				return err
			}
			var rec storedConnection
			if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &rec) }); err != nil {
				return err
			}
			if rec.Status != StatusActive {
				continue
			}
			out = append(out, &Connection{
				ID:              rec.ID,
				Tenant:          rec.Tenant,
				SiteID:          rec.SiteID,
				UserEmail:       rec.UserEmail,
				AccessExpiresAt: rec.AccessExpiresAt,
				Status:          rec.Status,
				CreatedAt:       rec.CreatedAt,
				LastUsedAt:      rec.LastUsedAt,
				Scopes:          rec.Scopes,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// StoreState persists an authorization state row keyed by its token.
func (s *Store) StoreState(st *AuthState) error {
	if st.Token == "" {
		return fmt.Errorf("%w: state token required", ErrInvalidRecord)
	}
	buf, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encoding state: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(stateKey(st.Token), buf)
	})
}

// GetState returns a stored authorization state. Expired states are treated
// as absent.
func (s *Store) GetState(token string) (*AuthState, error) {
	var st AuthState
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(stateKey(token))
		if err == badger.ErrKeyNotFound {
			return ErrStateNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error { return json.Unmarshal(val, &st) })
	})
	if err != nil {
		return nil, err
	}
	if st.Expired(time.Now()) {
		return nil, ErrStateNotFound
	}
	return &st, nil
}

// SweepExpiredStates deletes expired authorization states and returns how
// many were removed.
func (s *Store) SweepExpiredStates() (int, error) {
	now := time.Now()
	var expired []string

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		prefix := []byte(statePrefix)
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var st AuthState
			if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &st) }); err != nil {
				return err
			}
			if st.Expired(now) {
				expired = append(expired, strings.TrimPrefix(string(it.Item().Key()), statePrefix))
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	for _, token := range expired {
		if err := s.db.Update(func(txn *badger.Txn) error {
			return txn.Delete(stateKey(token))
		}); err != nil {
			return 0, err
		}
	}
	if len(expired) > 0 {
		s.logger.Info("swept expired authorization states", zap.Int("count", len(expired)))
	}
	return len(expired), nil
}
