package usecase

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/regsync/internal/domain"
)

// Reconciler applies a server task list to the repository store.
// One failing task never aborts the rest; failures are aggregated into
// the result and clear its success flag.
type Reconciler struct {
	store  domain.RepositoryStore
	logger *zap.Logger
}

// NewReconciler creates a reconciler for the given store.
func NewReconciler(store domain.RepositoryStore, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		store:  store,
		logger: logger,
	}
}

// Reconcile applies tasks in the order given. Add targets that already
// exist and delete targets that are already gone count as satisfied, so
// running the same list twice changes nothing the second time.
// With refresh set, every source is refreshed once after saving.
func (r *Reconciler) Reconcile(ctx context.Context, tasks []domain.Task, refresh bool) *domain.ReconciliationResult {
	result := domain.NewReconciliationResult()

	for _, task := range tasks {
		if err := ctx.Err(); err != nil {
			r.logger.Warn("reconciliation interrupted, applied changes are kept",
				zap.Int("applied", len(result.Changes)),
				zap.Error(err))
			result.Fail(fmt.Errorf("reconciliation interrupted: %w", err))
			break
		}
		r.apply(task, result)
	}

	r.finish(result, refresh)

	r.logger.Info("reconciliation finished",
		zap.Int("changes", len(result.Changes)),
		zap.Int("satisfied", len(result.Satisfied)),
		zap.Int("skipped", len(result.Skipped)),
		zap.Bool("success", result.Success))
	return result
}

func (r *Reconciler) apply(task domain.Task, result *domain.ReconciliationResult) {
	if err := task.Validate(); err != nil {
		r.skip(task.Target, err, result)
		return
	}

	switch task.Type {
	case domain.SourceManaged:
		r.applyService(task, result)
	case domain.SourceLegacy:
		r.applyRepository(task, result)
	}
}

func (r *Reconciler) applyService(task domain.Task, result *domain.ReconciliationResult) {
	name := task.Target

	switch task.Action {
	case domain.ActionAdd:
		added := false
		_, err := r.store.GetService(name)
		switch {
		case err == nil:
			r.logger.Debug("service already present", zap.String("service", name))
			result.Satisfied = append(result.Satisfied, name)
		case errors.Is(err, domain.ErrNotFound):
			if err := r.store.AddService(name, task.URL); err != nil {
				r.storeFailed(result, "add service", name, err)
				return
			}
			added = true
			result.Changes = append(result.Changes, domain.Change{Kind: domain.ChangeAddedService, Target: name})
			r.logger.Info("added service", zap.String("service", name), zap.String("url", task.URL))
			if err := r.enableAutoRefresh(name); err != nil {
				r.storeFailed(result, "enable autorefresh", name, err)
			}
		default:
			r.storeFailed(result, "look up service", name, err)
			return
		}
		changed := r.applyCatalogs(task, result)
		if added || changed {
			r.saveAndRefresh(name, result)
		}

	case domain.ActionDelete:
		_, err := r.store.GetService(name)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			r.logger.Debug("service already absent", zap.String("service", name))
			result.Satisfied = append(result.Satisfied, name)
		case err != nil:
			r.storeFailed(result, "look up service", name, err)
		default:
			if err := r.store.DeleteService(name); err != nil {
				r.storeFailed(result, "delete service", name, err)
				return
			}
			result.Changes = append(result.Changes, domain.Change{Kind: domain.ChangeDeletedService, Target: name})
			r.logger.Info("deleted service", zap.String("service", name))
		}

	case domain.ActionLeaveEnabled:
		if _, err := r.store.GetService(name); err != nil {
			r.storeFailed(result, "look up service", name, err)
			return
		}
		if r.applyCatalogs(task, result) {
			r.saveAndRefresh(name, result)
		}

	case domain.ActionLeaveDisabled:
		r.logger.Info("leaving service disabled", zap.String("service", name))
	}
}

// applyCatalogs turns the nested catalog tasks into one enable list and
// one disable list and hands both to the service in a single update.
// Returns whether the service was changed.
func (r *Reconciler) applyCatalogs(task domain.Task, result *domain.ReconciliationResult) bool {
	if len(task.Catalogs) == 0 {
		return false
	}
	name := task.Target

	svc, err := r.store.GetService(name)
	if err != nil {
		r.storeFailed(result, "look up service", name, err)
		return false
	}

	// The last action named for an alias wins.
	var aliases []string
	want := make(map[string]domain.TaskAction)
	for _, cat := range task.Catalogs {
		if err := cat.Validate(); err != nil {
			r.skip(name+"/"+orUnnamed(cat.Target), err, result)
			continue
		}
		if _, seen := want[cat.Target]; !seen {
			aliases = append(aliases, cat.Target)
		} else {
			r.logger.Debug("catalog named twice, last action wins",
				zap.String("service", name),
				zap.String("catalog", cat.Target))
		}
		want[cat.Target] = cat.Action
	}

	var enable, disable []string
	var changes []domain.Change
	for _, alias := range aliases {
		enabled, known := svc.RepoEnabled(alias)

		switch want[alias] {
		case domain.ActionAdd:
			if known && enabled {
				result.Satisfied = append(result.Satisfied, name+"/"+alias)
				continue
			}
			enable = append(enable, alias)
			changes = append(changes, domain.Change{Kind: domain.ChangeEnabledRepository, Target: alias, Service: name})
		case domain.ActionDelete:
			if known && !enabled {
				result.Satisfied = append(result.Satisfied, name+"/"+alias)
				continue
			}
			disable = append(disable, alias)
			changes = append(changes, domain.Change{Kind: domain.ChangeDisabledRepository, Target: alias, Service: name})
		case domain.ActionLeaveEnabled, domain.ActionLeaveDisabled:
			r.logger.Debug("catalog left as is",
				zap.String("service", name),
				zap.String("catalog", alias))
		}
	}

	if len(enable) == 0 && len(disable) == 0 {
		return false
	}

	// A pending opposite request for the same alias is superseded.
	svc.ReposToEnable = append(without(svc.ReposToEnable, disable), enable...)
	svc.ReposToDisable = append(without(svc.ReposToDisable, enable), disable...)
	if err := r.store.SetService(name, svc); err != nil {
		r.storeFailed(result, "update catalogs of", name, err)
		return false
	}

	result.Changes = append(result.Changes, changes...)
	r.logger.Info("updated service catalogs",
		zap.String("service", name),
		zap.Strings("enable", enable),
		zap.Strings("disable", disable))
	return true
}

func (r *Reconciler) applyRepository(task domain.Task, result *domain.ReconciliationResult) {
	alias := task.Target

	switch task.Action {
	case domain.ActionAdd:
		_, err := r.store.FindRepository(alias)
		switch {
		case err == nil:
			r.logger.Debug("repository already present", zap.String("repository", alias))
			result.Satisfied = append(result.Satisfied, alias)
		case errors.Is(err, domain.ErrNotFound):
			id, err := r.store.AddRepository(domain.RepositoryDescriptor{
				Alias:       alias,
				Name:        alias,
				URL:         task.URL,
				Enabled:     true,
				AutoRefresh: true,
			})
			if err != nil {
				r.storeFailed(result, "add repository", alias, err)
				return
			}
			result.Changes = append(result.Changes, domain.Change{Kind: domain.ChangeAddedRepository, Target: alias})
			r.logger.Info("added repository", zap.String("repository", alias), zap.Int64("id", id))
		default:
			r.storeFailed(result, "look up repository", alias, err)
		}

	case domain.ActionDelete:
		repo, err := r.store.FindRepository(alias)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			r.logger.Debug("repository already absent", zap.String("repository", alias))
			result.Satisfied = append(result.Satisfied, alias)
		case err != nil:
			r.storeFailed(result, "look up repository", alias, err)
		default:
			if err := r.store.DeleteRepository(repo.ID); err != nil {
				r.storeFailed(result, "delete repository", alias, err)
				return
			}
			result.Changes = append(result.Changes, domain.Change{Kind: domain.ChangeDeletedRepository, Target: alias})
			r.logger.Info("deleted repository", zap.String("repository", alias))
		}

	case domain.ActionLeaveEnabled, domain.ActionLeaveDisabled:
		r.logger.Debug("repository left as is", zap.String("repository", alias))
	}
}

func (r *Reconciler) enableAutoRefresh(name string) error {
	svc, err := r.store.GetService(name)
	if err != nil {
		return err
	}
	svc.AutoRefresh = true
	return r.store.SetService(name, svc)
}

func (r *Reconciler) saveAndRefresh(name string, result *domain.ReconciliationResult) {
	if err := r.store.SaveService(name); err != nil {
		r.logger.Warn("failed to save service", zap.String("service", name), zap.Error(err))
		result.Fail(fmt.Errorf("%w: service %s: %w", domain.ErrPersistFailed, name, err))
	}
	if err := r.store.RefreshService(name); err != nil {
		r.logger.Warn("failed to refresh service", zap.String("service", name), zap.Error(err))
		result.Fail(fmt.Errorf("%w: service %s: %w", domain.ErrRefreshFailed, name, err))
	}
}

// finish persists pending changes and restarts the source manager so
// later consumers see the post-registration state.
func (r *Reconciler) finish(result *domain.ReconciliationResult, refresh bool) {
	if result.Changed() {
		if err := r.store.SaveAll(); err != nil {
			r.logger.Warn("failed to save sources", zap.Error(err))
			result.Fail(fmt.Errorf("%w: %w", domain.ErrPersistFailed, err))
		}
		if refresh {
			if err := r.store.RefreshAll(); err != nil {
				r.logger.Warn("failed to refresh sources", zap.Error(err))
				result.Fail(fmt.Errorf("%w: %w", domain.ErrRefreshFailed, err))
			}
		}
	}

	if err := r.store.FinishAll(); err != nil {
		r.storeFailed(result, "finish", "sources", err)
	}
	if err := r.store.RestartManager(false); err != nil {
		r.storeFailed(result, "restart", "source manager", err)
	}
}

func (r *Reconciler) skip(target string, err error, result *domain.ReconciliationResult) {
	target = orUnnamed(target)
	r.logger.Warn("skipping malformed task", zap.String("target", target), zap.Error(err))
	result.Skipped = append(result.Skipped, target)
	result.Fail(err)
}

func without(list, drop []string) []string {
	if len(drop) == 0 {
		return list
	}
	out := make([]string, 0, len(list))
	for _, v := range list {
		if !slices.Contains(drop, v) {
			out = append(out, v)
		}
	}
	return out
}

func orUnnamed(target string) string {
	if target == "" {
		return "<unnamed>"
	}
	return target
}

func (r *Reconciler) storeFailed(result *domain.ReconciliationResult, op, target string, err error) {
	r.logger.Warn("store operation failed",
		zap.String("operation", op),
		zap.String("target", target),
		zap.Error(err))
	result.Fail(fmt.Errorf("%w: %s %s: %w", domain.ErrStoreOperationFailed, op, target, err))
}
