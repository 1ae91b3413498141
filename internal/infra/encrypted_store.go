package infra

import (
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	sqlcipher "github.com/mutecomm/go-sqlcipher/v4"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/regsync/internal/domain"
)

// Ensure sqlcipher driver is registered.
var _ = sqlcipher.ErrBusy

const (
	sourcesDBName = "sources.db"
	schemaVersion = "1"
)

// EncryptedSourceStore implements domain.RepositoryStore on a SQLCipher
// encrypted SQLite database. Services are edited in an in-memory working
// set and written on save; standalone repositories are written at once.
type EncryptedSourceStore struct {
	db             *sql.DB
	dbPath         string
	processManager domain.ProcessManager
	lockHolders    []string
	logger         *zap.Logger

	loaded   bool
	services map[string]*domain.Service
	dirty    map[string]bool
	removed  map[string]bool
	repos    map[string]*domain.Repository
}

// SourceStorePath returns where the source database lives in dataDir.
func SourceStorePath(dataDir string) string {
	return filepath.Join(dataDir, sourcesDBName)
}

// NewEncryptedSourceStore opens (or creates) the encrypted source database
// and loads it. lockHolders are process names that hold the package
// manager lock while running.
func NewEncryptedSourceStore(dataDir string, key []byte, pm domain.ProcessManager, lockHolders []string, logger *zap.Logger) (*EncryptedSourceStore, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := SourceStorePath(dataDir)
	keyHex := hex.EncodeToString(key)

	dsn := fmt.Sprintf("%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096", dbPath, keyHex)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open encrypted database: %w", err)
	}

	// A wrong key only shows up on first access.
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to encrypted database: %w", err)
	}

	s := &EncryptedSourceStore{
		db:             db,
		dbPath:         dbPath,
		processManager: pm,
		lockHolders:    lockHolders,
		logger:         logger,
	}

	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	if err := s.load(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load sources: %w", err)
	}

	return s, nil
}

func (s *EncryptedSourceStore) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS services (
		name TEXT PRIMARY KEY,
		url TEXT NOT NULL,
		enabled INTEGER NOT NULL,
		autorefresh INTEGER NOT NULL,
		refreshed_at INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS service_repos (
		service TEXT NOT NULL,
		alias TEXT NOT NULL,
		enabled INTEGER NOT NULL,
		PRIMARY KEY (service, alias)
	);

	CREATE TABLE IF NOT EXISTS repositories (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		alias TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		url TEXT NOT NULL,
		enabled INTEGER NOT NULL,
		autorefresh INTEGER NOT NULL,
		refreshed_at INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	_, err := s.db.Exec(`INSERT OR IGNORE INTO meta (key, value) VALUES ('schema_version', ?)`, schemaVersion)
	return err
}

// load replaces the working set with the persisted state.
func (s *EncryptedSourceStore) load() error {
	services := make(map[string]*domain.Service)

	rows, err := s.db.Query(`SELECT name, url, enabled, autorefresh, refreshed_at FROM services`)
	if err != nil {
		return err
	}
	for rows.Next() {
		var svc domain.Service
		var refreshed int64
		if err := rows.Scan(&svc.Name, &svc.URL, &svc.Enabled, &svc.AutoRefresh, &refreshed); err != nil {
			rows.Close()
			return err
		}
		svc.RefreshedAt = unixTime(refreshed)
		svc.Repos = make(map[string]bool)
		services[svc.Name] = &svc
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = s.db.Query(`SELECT service, alias, enabled FROM service_repos`)
	if err != nil {
		return err
	}
	for rows.Next() {
		var service, alias string
		var enabled bool
		if err := rows.Scan(&service, &alias, &enabled); err != nil {
			rows.Close()
			return err
		}
		if svc, ok := services[service]; ok {
			svc.Repos[alias] = enabled
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	repos := make(map[string]*domain.Repository)
	rows, err = s.db.Query(`SELECT id, alias, name, url, enabled, autorefresh, refreshed_at FROM repositories`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var r domain.Repository
		var refreshed int64
		if err := rows.Scan(&r.ID, &r.Alias, &r.Name, &r.URL, &r.Enabled, &r.AutoRefresh, &refreshed); err != nil {
			return err
		}
		r.RefreshedAt = unixTime(refreshed)
		repos[r.Alias] = &r
	}
	if err := rows.Err(); err != nil {
		return err
	}

	s.services = services
	s.repos = repos
	s.dirty = make(map[string]bool)
	s.removed = make(map[string]bool)
	s.loaded = true
	return nil
}

// --- services ---

// AddService adds a service to the working set.
func (s *EncryptedSourceStore) AddService(name, url string) error {
	if !s.loaded {
		return domain.ErrSourcesNotLoaded
	}
	if _, ok := s.services[name]; ok {
		return fmt.Errorf("%w: service %s", domain.ErrAlreadyExists, name)
	}
	s.services[name] = &domain.Service{
		Name:    name,
		URL:     url,
		Enabled: true,
		Repos:   make(map[string]bool),
	}
	s.dirty[name] = true
	delete(s.removed, name)
	return nil
}

// DeleteService drops a service from the working set.
func (s *EncryptedSourceStore) DeleteService(name string) error {
	if !s.loaded {
		return domain.ErrSourcesNotLoaded
	}
	if _, ok := s.services[name]; !ok {
		return fmt.Errorf("%w: service %s", domain.ErrNotFound, name)
	}
	delete(s.services, name)
	delete(s.dirty, name)
	s.removed[name] = true
	return nil
}

// GetService returns a copy of a service.
func (s *EncryptedSourceStore) GetService(name string) (*domain.Service, error) {
	if !s.loaded {
		return nil, domain.ErrSourcesNotLoaded
	}
	svc, ok := s.services[name]
	if !ok {
		return nil, fmt.Errorf("%w: service %s", domain.ErrNotFound, name)
	}
	return copyService(svc), nil
}

// SetService replaces the properties of a loaded service.
func (s *EncryptedSourceStore) SetService(name string, svc *domain.Service) error {
	if !s.loaded {
		return domain.ErrSourcesNotLoaded
	}
	if _, ok := s.services[name]; !ok {
		return fmt.Errorf("%w: service %s", domain.ErrNotFound, name)
	}
	cp := copyService(svc)
	cp.Name = name
	s.services[name] = cp
	s.dirty[name] = true
	return nil
}

// SaveService writes one service and its repositories.
func (s *EncryptedSourceStore) SaveService(name string) error {
	if !s.loaded {
		return domain.ErrSourcesNotLoaded
	}
	svc, ok := s.services[name]
	if !ok {
		return fmt.Errorf("%w: service %s", domain.ErrNotFound, name)
	}
	if err := s.withTx(func(tx *sql.Tx) error { return writeService(tx, svc) }); err != nil {
		return err
	}
	delete(s.dirty, name)
	return nil
}

// RefreshService applies the pending enable/disable lists as one batch.
// Aliases the service did not list yet are created. The result is
// written immediately.
func (s *EncryptedSourceStore) RefreshService(name string) error {
	if !s.loaded {
		return domain.ErrSourcesNotLoaded
	}
	svc, ok := s.services[name]
	if !ok {
		return fmt.Errorf("%w: service %s", domain.ErrNotFound, name)
	}
	applyPending(svc)
	svc.RefreshedAt = time.Now()
	if err := s.withTx(func(tx *sql.Tx) error { return writeService(tx, svc) }); err != nil {
		return err
	}
	delete(s.dirty, name)
	return nil
}

// Services returns the loaded service names, sorted.
func (s *EncryptedSourceStore) Services() []string {
	names := make([]string, 0, len(s.services))
	for name := range s.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// --- standalone repositories ---

// AddRepository inserts a standalone repository and returns its id.
func (s *EncryptedSourceStore) AddRepository(desc domain.RepositoryDescriptor) (int64, error) {
	if !s.loaded {
		return 0, domain.ErrSourcesNotLoaded
	}
	if _, ok := s.repos[desc.Alias]; ok {
		return 0, fmt.Errorf("%w: repository %s", domain.ErrAlreadyExists, desc.Alias)
	}
	name := desc.Name
	if name == "" {
		name = desc.Alias
	}
	result, err := s.db.Exec(`
		INSERT INTO repositories (alias, name, url, enabled, autorefresh)
		VALUES (?, ?, ?, ?, ?)`,
		desc.Alias, name, desc.URL, desc.Enabled, desc.AutoRefresh,
	)
	if err != nil {
		return 0, err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, err
	}
	s.repos[desc.Alias] = &domain.Repository{
		ID:          id,
		Alias:       desc.Alias,
		Name:        name,
		URL:         desc.URL,
		Enabled:     desc.Enabled,
		AutoRefresh: desc.AutoRefresh,
	}
	return id, nil
}

// DeleteRepository removes a standalone repository.
func (s *EncryptedSourceStore) DeleteRepository(id int64) error {
	if !s.loaded {
		return domain.ErrSourcesNotLoaded
	}
	for alias, r := range s.repos {
		if r.ID != id {
			continue
		}
		if _, err := s.db.Exec(`DELETE FROM repositories WHERE id = ?`, id); err != nil {
			return err
		}
		delete(s.repos, alias)
		return nil
	}
	return fmt.Errorf("%w: repository #%d", domain.ErrNotFound, id)
}

// FindRepository looks a standalone repository up by alias.
func (s *EncryptedSourceStore) FindRepository(alias string) (*domain.Repository, error) {
	if !s.loaded {
		return nil, domain.ErrSourcesNotLoaded
	}
	r, ok := s.repos[alias]
	if !ok {
		return nil, fmt.Errorf("%w: repository %s", domain.ErrNotFound, alias)
	}
	cp := *r
	return &cp, nil
}

// Repositories returns the standalone repositories ordered by id.
func (s *EncryptedSourceStore) Repositories() []domain.Repository {
	out := make([]domain.Repository, 0, len(s.repos))
	for _, r := range s.repos {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// --- lifecycle ---

// SaveAll writes every changed or removed service.
func (s *EncryptedSourceStore) SaveAll() error {
	if !s.loaded {
		return domain.ErrSourcesNotLoaded
	}
	err := s.withTx(func(tx *sql.Tx) error {
		for name := range s.removed {
			if _, err := tx.Exec(`DELETE FROM service_repos WHERE service = ?`, name); err != nil {
				return err
			}
			if _, err := tx.Exec(`DELETE FROM services WHERE name = ?`, name); err != nil {
				return err
			}
		}
		for name := range s.dirty {
			if err := writeService(tx, s.services[name]); err != nil {
				return err
			}
		}
		_, err := tx.Exec(`INSERT OR REPLACE INTO meta (key, value) VALUES ('saved_at', ?)`,
			fmt.Sprint(time.Now().Unix()))
		return err
	})
	if err != nil {
		return err
	}
	s.dirty = make(map[string]bool)
	s.removed = make(map[string]bool)
	return nil
}

// RefreshAll refreshes every service and repository once.
func (s *EncryptedSourceStore) RefreshAll() error {
	if !s.loaded {
		return domain.ErrSourcesNotLoaded
	}
	now := time.Now()
	err := s.withTx(func(tx *sql.Tx) error {
		for _, svc := range s.services {
			applyPending(svc)
			svc.RefreshedAt = now
			if err := writeService(tx, svc); err != nil {
				return err
			}
		}
		_, err := tx.Exec(`UPDATE repositories SET refreshed_at = ?`, now.Unix())
		return err
	})
	if err != nil {
		return err
	}
	for _, r := range s.repos {
		r.RefreshedAt = now
	}
	s.dirty = make(map[string]bool)
	return nil
}

// FinishAll unloads the working set. Unsaved changes are lost.
func (s *EncryptedSourceStore) FinishAll() error {
	if n := len(s.dirty) + len(s.removed); n > 0 {
		s.logger.Warn("unloading sources with unsaved changes", zap.Int("count", n))
	}
	s.services = nil
	s.repos = nil
	s.dirty = nil
	s.removed = nil
	s.loaded = false
	return nil
}

// RestartManager reloads the working set from disk. Without force it
// refuses while a configured lock holder process is running; an
// unloaded store still gets its saved state back so the instance stays
// usable, and ErrSourceManagerBusy is returned.
func (s *EncryptedSourceStore) RestartManager(force bool) error {
	if !force {
		if holders := s.runningLockHolders(); len(holders) > 0 {
			s.logger.Warn("package manager lock held", zap.Strings("holders", holders))
			busy := fmt.Errorf("%w: held by %s", domain.ErrSourceManagerBusy, strings.Join(holders, ", "))
			if !s.loaded {
				if err := s.load(); err != nil {
					return errors.Join(busy, fmt.Errorf("%w: %w", domain.ErrSourceManager, err))
				}
			}
			return busy
		}
	}
	if err := s.load(); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrSourceManager, err)
	}
	s.logger.Debug("source manager restarted",
		zap.Int("services", len(s.services)),
		zap.Int("repositories", len(s.repos)))
	return nil
}

func (s *EncryptedSourceStore) runningLockHolders() []string {
	self := s.processManager.GetCurrentPID()
	var holders []string
	for _, name := range s.lockHolders {
		pids, err := s.processManager.FindByName(name)
		if err != nil {
			s.logger.Warn("failed to look up lock holder", zap.String("name", name), zap.Error(err))
			continue
		}
		for _, pid := range pids {
			// Skip ourselves and processes that exited since the listing.
			if pid != self && s.processManager.IsRunning(pid) {
				holders = append(holders, fmt.Sprintf("%s (pid %d)", name, pid))
			}
		}
	}
	return holders
}

// GetStorePath returns the database file path.
func (s *EncryptedSourceStore) GetStorePath() string {
	return s.dbPath
}

// Close releases the database connection.
func (s *EncryptedSourceStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *EncryptedSourceStore) withTx(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, rbErr)
		}
		return err
	}
	return tx.Commit()
}

func writeService(tx *sql.Tx, svc *domain.Service) error {
	_, err := tx.Exec(`
		INSERT OR REPLACE INTO services (name, url, enabled, autorefresh, refreshed_at)
		VALUES (?, ?, ?, ?, ?)`,
		svc.Name, svc.URL, svc.Enabled, svc.AutoRefresh, timeUnix(svc.RefreshedAt),
	)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM service_repos WHERE service = ?`, svc.Name); err != nil {
		return err
	}
	for alias, enabled := range svc.Repos {
		if _, err := tx.Exec(`INSERT INTO service_repos (service, alias, enabled) VALUES (?, ?, ?)`,
			svc.Name, alias, enabled); err != nil {
			return err
		}
	}
	return nil
}

// applyPending applies the enable list, then the disable list. Callers
// keep an alias in at most one of them.
func applyPending(svc *domain.Service) {
	if svc.Repos == nil {
		svc.Repos = make(map[string]bool)
	}
	for _, alias := range svc.ReposToEnable {
		svc.Repos[alias] = true
	}
	for _, alias := range svc.ReposToDisable {
		svc.Repos[alias] = false
	}
	svc.ReposToEnable = nil
	svc.ReposToDisable = nil
}

func copyService(svc *domain.Service) *domain.Service {
	cp := *svc
	cp.Repos = make(map[string]bool, len(svc.Repos))
	for k, v := range svc.Repos {
		cp.Repos[k] = v
	}
	cp.ReposToEnable = append([]string(nil), svc.ReposToEnable...)
	cp.ReposToDisable = append([]string(nil), svc.ReposToDisable...)
	return &cp
}

func unixTime(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0)
}

func timeUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

// Ensure EncryptedSourceStore implements domain.RepositoryStore.
var _ domain.RepositoryStore = (*EncryptedSourceStore)(nil)
