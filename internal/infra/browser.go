package infra

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/regsync/internal/domain"
)

// DefaultBrowsers are tried in order when none are configured.
var DefaultBrowsers = []string{"w3m", "lynx", "links", "xdg-open"}

// BrowserAgent implements domain.InteractionAgent by running the first
// installed browser on the step URL and waiting for it to exit.
type BrowserAgent struct {
	browsers []string
	out      io.Writer
	logger   *zap.Logger

	lookPath func(file string) (string, error)
	command  func(ctx context.Context, name string, args ...string) *exec.Cmd
}

// NewBrowserAgent creates an agent. Step instructions are written to out.
func NewBrowserAgent(browsers []string, out io.Writer, logger *zap.Logger) *BrowserAgent {
	if len(browsers) == 0 {
		browsers = DefaultBrowsers
	}
	return &BrowserAgent{
		browsers: browsers,
		out:      out,
		logger:   logger,
		lookPath: exec.LookPath,
		command:  exec.CommandContext,
	}
}

// Interact shows text, opens url and blocks until the browser exits.
func (a *BrowserAgent) Interact(ctx context.Context, url, text string) error {
	path, name := a.find()
	if path == "" {
		a.logger.Warn("no browser found", zap.Strings("tried", a.browsers))
		return fmt.Errorf("%w: tried %s", domain.ErrNoAgent, strings.Join(a.browsers, ", "))
	}

	if text != "" {
		fmt.Fprintln(a.out, text)
	}
	if url != "" {
		fmt.Fprintf(a.out, "Opening %s with %s\n", url, name)
	}

	cmd := a.command(ctx, path, url)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	a.logger.Info("starting browser", zap.String("browser", name), zap.String("url", url))
	err := cmd.Run()
	switch {
	case ctx.Err() != nil:
		return fmt.Errorf("%w: %w", domain.ErrCancelled, ctx.Err())
	case err == nil:
		return nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		a.logger.Warn("browser exited with error",
			zap.String("browser", name),
			zap.Int("code", exitErr.ExitCode()),
			zap.String("stderr", strings.TrimSpace(stderr.String())))
		return fmt.Errorf("browser %s exited: %w", name, err)
	}
	return fmt.Errorf("%w: starting %s: %w", domain.ErrNoAgent, name, err)
}

func (a *BrowserAgent) find() (path, name string) {
	for _, b := range a.browsers {
		if p, err := a.lookPath(b); err == nil {
			return p, b
		}
	}
	return "", ""
}

// Ensure BrowserAgent implements domain.InteractionAgent.
var _ domain.InteractionAgent = (*BrowserAgent)(nil)
