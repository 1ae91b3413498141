package infra

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.yaml.in/yaml/v3"

	"github.com/eliteGoblin/focusd/regsync/internal/domain"
	"github.com/eliteGoblin/focusd/regsync/internal/tasklist"
)

// Scenario is a recorded registration server exchange.
type Scenario struct {
	Addons    []domain.Addon     `yaml:"addons"`
	Responses []ScenarioResponse `yaml:"responses"`
	// Tasks is the task-list document served after success.
	Tasks     yaml.Node `yaml:"tasks"`
	InitError string    `yaml:"init_error,omitempty"`
}

// ScenarioResponse is one scripted answer to a register call.
type ScenarioResponse struct {
	Code    int    `yaml:"code"`
	Message string `yaml:"message,omitempty"`
	URL     string `yaml:"url,omitempty"`
	// Error fails the call instead of answering.
	Error string `yaml:"error,omitempty"`
}

// ScriptedClient implements domain.RegistrationClient by replaying a
// Scenario. Register calls past the end of the script keep returning
// the last response.
type ScriptedClient struct {
	scenario *Scenario
	logger   *zap.Logger

	calls      int
	registered map[string]bool
	sessions   []domain.SessionContext
}

// LoadScenario reads a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes a YAML scenario.
func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse scenario: %w", err)
	}
	if len(s.Responses) == 0 {
		return nil, errors.New("scenario has no responses")
	}
	return &s, nil
}

// NewScriptedClient creates a client replaying scenario.
func NewScriptedClient(scenario *Scenario, logger *zap.Logger) *ScriptedClient {
	return &ScriptedClient{
		scenario:   scenario,
		logger:     logger,
		registered: make(map[string]bool),
	}
}

// Init records the session context.
func (c *ScriptedClient) Init(ctx context.Context, sc domain.SessionContext) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.sessions = append(c.sessions, sc)
	if c.scenario.InitError != "" {
		return errors.New(c.scenario.InitError)
	}
	c.logger.Debug("scripted session initialized",
		zap.String("session", sc.SessionID),
		zap.Bool("hardware", sc.HardwareForced))
	return nil
}

// Register returns the next scripted response.
func (c *ScriptedClient) Register(ctx context.Context, _ domain.Credentials, addons []domain.Addon, hw *domain.HardwareProfile) (domain.RegisterResponse, error) {
	if err := ctx.Err(); err != nil {
		return domain.RegisterResponse{}, err
	}

	i := c.calls
	if i >= len(c.scenario.Responses) {
		i = len(c.scenario.Responses) - 1
	}
	c.calls++
	r := c.scenario.Responses[i]

	c.logger.Debug("scripted register",
		zap.Int("call", c.calls),
		zap.Int("code", r.Code),
		zap.Int("addons", len(addons)),
		zap.Bool("hardware", hw != nil))

	if r.Error != "" {
		return domain.RegisterResponse{}, errors.New(r.Error)
	}
	if domain.StatusCode(r.Code) == domain.CodeSuccess {
		for _, a := range addons {
			c.registered[a.Key()] = true
		}
	}
	return domain.RegisterResponse{
		Code:    domain.StatusCode(r.Code),
		Message: r.Message,
		URL:     r.URL,
	}, nil
}

// GetTaskList decodes the scripted task list.
func (c *ScriptedClient) GetTaskList(ctx context.Context) ([]domain.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.scenario.Tasks.Kind == 0 {
		return nil, nil
	}
	data, err := yaml.Marshal(&c.scenario.Tasks)
	if err != nil {
		return nil, fmt.Errorf("failed to encode scripted task list: %w", err)
	}
	return tasklist.Decode(data)
}

// GetAddonList returns the scripted addons, marking those registered by
// a successful call.
func (c *ScriptedClient) GetAddonList(ctx context.Context) ([]domain.Addon, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]domain.Addon, len(c.scenario.Addons))
	for i, a := range c.scenario.Addons {
		if c.registered[a.Key()] {
			a.Registered = true
		}
		out[i] = a
	}
	return out, nil
}

// Calls returns how many register calls were made.
func (c *ScriptedClient) Calls() int {
	return c.calls
}

// Sessions returns the contexts passed to Init, in order.
func (c *ScriptedClient) Sessions() []domain.SessionContext {
	return c.sessions
}

// Ensure ScriptedClient implements domain.RegistrationClient.
var _ domain.RegistrationClient = (*ScriptedClient)(nil)
