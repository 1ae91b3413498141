package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/eliteGoblin/focusd/regsync/internal/domain"
)

// mockStore implements domain.RepositoryStore in memory for testing
type mockStore struct {
	services map[string]*domain.Service
	repos    map[string]domain.Repository
	nextID   int64

	// failOn makes the named operation return an error.
	failOn map[string]error

	calls map[string]int
	added [][2]string
}

func newMockStore() *mockStore {
	return &mockStore{
		services: make(map[string]*domain.Service),
		repos:    make(map[string]domain.Repository),
		failOn:   make(map[string]error),
		calls:    make(map[string]int),
	}
}

func (m *mockStore) record(op string) error {
	m.calls[op]++
	return m.failOn[op]
}

func (m *mockStore) AddService(name, url string) error {
	if err := m.record("AddService"); err != nil {
		return err
	}
	if _, ok := m.services[name]; ok {
		return domain.ErrAlreadyExists
	}
	m.added = append(m.added, [2]string{name, url})
	m.services[name] = &domain.Service{Name: name, URL: url, Enabled: true, Repos: map[string]bool{}}
	return nil
}

func (m *mockStore) DeleteService(name string) error {
	if err := m.record("DeleteService"); err != nil {
		return err
	}
	if _, ok := m.services[name]; !ok {
		return domain.ErrNotFound
	}
	delete(m.services, name)
	return nil
}

func (m *mockStore) GetService(name string) (*domain.Service, error) {
	m.calls["GetService"]++
	svc, ok := m.services[name]
	if !ok {
		return nil, fmt.Errorf("%w: service %s", domain.ErrNotFound, name)
	}
	cp := *svc
	cp.Repos = make(map[string]bool, len(svc.Repos))
	for k, v := range svc.Repos {
		cp.Repos[k] = v
	}
	cp.ReposToEnable = append([]string(nil), svc.ReposToEnable...)
	cp.ReposToDisable = append([]string(nil), svc.ReposToDisable...)
	return &cp, nil
}

func (m *mockStore) SetService(name string, svc *domain.Service) error {
	if err := m.record("SetService"); err != nil {
		return err
	}
	if _, ok := m.services[name]; !ok {
		return domain.ErrNotFound
	}
	cp := *svc
	m.services[name] = &cp
	return nil
}

func (m *mockStore) SaveService(name string) error {
	return m.record("SaveService")
}

func (m *mockStore) RefreshService(name string) error {
	if err := m.record("RefreshService"); err != nil {
		return err
	}
	svc, ok := m.services[name]
	if !ok {
		return domain.ErrNotFound
	}
	if svc.Repos == nil {
		svc.Repos = map[string]bool{}
	}
	for _, alias := range svc.ReposToEnable {
		svc.Repos[alias] = true
	}
	for _, alias := range svc.ReposToDisable {
		svc.Repos[alias] = false
	}
	svc.ReposToEnable = nil
	svc.ReposToDisable = nil
	return nil
}

func (m *mockStore) AddRepository(desc domain.RepositoryDescriptor) (int64, error) {
	if err := m.record("AddRepository"); err != nil {
		return 0, err
	}
	m.nextID++
	m.repos[desc.Alias] = domain.Repository{
		ID:          m.nextID,
		Alias:       desc.Alias,
		Name:        desc.Name,
		URL:         desc.URL,
		Enabled:     desc.Enabled,
		AutoRefresh: desc.AutoRefresh,
	}
	return m.nextID, nil
}

func (m *mockStore) DeleteRepository(id int64) error {
	if err := m.record("DeleteRepository"); err != nil {
		return err
	}
	for alias, r := range m.repos {
		if r.ID == id {
			delete(m.repos, alias)
			return nil
		}
	}
	return domain.ErrNotFound
}

func (m *mockStore) FindRepository(alias string) (*domain.Repository, error) {
	m.calls["FindRepository"]++
	r, ok := m.repos[alias]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &r, nil
}

func (m *mockStore) Services() []string {
	names := make([]string, 0, len(m.services))
	for n := range m.services {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (m *mockStore) Repositories() []domain.Repository {
	out := make([]domain.Repository, 0, len(m.repos))
	for _, r := range m.repos {
		out = append(out, r)
	}
	return out
}

func (m *mockStore) SaveAll() error { return m.record("SaveAll") }

func (m *mockStore) RefreshAll() error { return m.record("RefreshAll") }

func (m *mockStore) FinishAll() error { return m.record("FinishAll") }

func (m *mockStore) RestartManager(bool) error { return m.record("RestartManager") }

// mockClient implements domain.RegistrationClient with scripted codes
type mockClient struct {
	codes    []domain.StatusCode
	messages map[int]string
	urls     map[int]string

	initErr     error
	registerErr error
	tasks       []domain.Task
	tasksErr    error

	// block makes Register wait until the context is done.
	block bool

	initCalls     int
	initContexts  []domain.SessionContext
	registerCalls int
	hardwareSeen  []*domain.HardwareProfile
	taskListCalls int
}

func (m *mockClient) Init(_ context.Context, sc domain.SessionContext) error {
	m.initCalls++
	m.initContexts = append(m.initContexts, sc)
	return m.initErr
}

func (m *mockClient) Register(ctx context.Context, _ domain.Credentials, _ []domain.Addon, hw *domain.HardwareProfile) (domain.RegisterResponse, error) {
	i := m.registerCalls
	m.registerCalls++
	m.hardwareSeen = append(m.hardwareSeen, hw)

	if m.block {
		<-ctx.Done()
		return domain.RegisterResponse{}, ctx.Err()
	}
	if m.registerErr != nil {
		return domain.RegisterResponse{}, m.registerErr
	}
	if i >= len(m.codes) {
		return domain.RegisterResponse{}, errors.New("no scripted response left")
	}
	return domain.RegisterResponse{
		Code:    m.codes[i],
		Message: m.messages[i],
		URL:     m.urls[i],
	}, nil
}

func (m *mockClient) GetTaskList(context.Context) ([]domain.Task, error) {
	m.taskListCalls++
	return m.tasks, m.tasksErr
}

func (m *mockClient) GetAddonList(context.Context) ([]domain.Addon, error) {
	return nil, nil
}

// mockAgent implements domain.InteractionAgent for testing
type mockAgent struct {
	err   error
	calls []string
}

func (m *mockAgent) Interact(_ context.Context, url, _ string) error {
	m.calls = append(m.calls, url)
	return m.err
}

// mockProfiler implements domain.HardwareProfiler for testing
type mockProfiler struct {
	err   error
	calls int
}

func (m *mockProfiler) Profile() (*domain.HardwareProfile, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return &domain.HardwareProfile{Hostname: "test-host", CPUs: 4, MemoryBytes: 8 << 30}, nil
}
