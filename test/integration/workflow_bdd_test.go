//go:build integration

package integration

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/regsync/internal/catalog"
	"github.com/eliteGoblin/focusd/regsync/internal/domain"
	"github.com/eliteGoblin/focusd/regsync/internal/infra"
	"github.com/eliteGoblin/focusd/regsync/internal/usecase"
	"github.com/eliteGoblin/focusd/regsync/test/fixtures"
)

var _ = Describe("Registration workflow", func() {
	var (
		tmpDir    string
		dataDir   string
		scenarios *fixtures.ScenarioDir
		key       []byte
		logger    *zap.Logger
		ctx       context.Context
	)

	openStore := func(lockHolders ...string) *infra.EncryptedSourceStore {
		store, err := infra.NewEncryptedSourceStore(dataDir, key, infra.NewProcessManager(), lockHolders, logger)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(store.Close)
		return store
	}

	loadClient := func(codes ...int) *infra.ScriptedClient {
		s, err := fixtures.NewScenario(fixtures.SampleAddons(), fixtures.SampleTaskList, codes...)
		Expect(err).NotTo(HaveOccurred())
		path, err := scenarios.Write("scenario.yaml", s)
		Expect(err).NotTo(HaveOccurred())

		loaded, err := infra.LoadScenario(path)
		Expect(err).NotTo(HaveOccurred())
		return infra.NewScriptedClient(loaded, logger)
	}

	selectedAddons := func(client domain.RegistrationClient) (*catalog.Session, []domain.Addon) {
		addons, err := client.GetAddonList(ctx)
		Expect(err).NotTo(HaveOccurred())
		session, err := catalog.NewSessionFromAddons(addons)
		Expect(err).NotTo(HaveOccurred())

		sel := usecase.NewSelection(session, logger)
		sel.PreselectRecommended()
		Expect(sel.Toggle(addons[1].Key())).To(Succeed())

		ordered, err := sel.Selected()
		Expect(err).NotTo(HaveOccurred())
		return session, ordered
	}

	run := func(client domain.RegistrationClient, agent domain.InteractionAgent, store domain.RepositoryStore) (*domain.RegistrationAttempt, *usecase.Outcome) {
		session, addons := selectedAddons(client)
		registrar := usecase.NewRegistrar(
			client,
			agent,
			infra.NewHardwareProfiler(logger),
			usecase.NewReconciler(store, logger),
			usecase.RegistrarConfig{ServerURL: "https://scc.example.com", MaxAttempts: 5, Refresh: true},
			logger,
		)
		attempt := domain.NewRegistrationAttempt()
		out := registrar.Run(ctx, attempt, usecase.RegistrationRequest{
			SessionID:   session.ID,
			Credentials: domain.Credentials{Email: "admin@example.com", RegCode: "REG-123"},
			Addons:      addons,
		})
		return attempt, out
	}

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "regsync-integration-*")
		Expect(err).NotTo(HaveOccurred())

		dataDir = filepath.Join(tmpDir, "data")
		scenarios = fixtures.NewScenarioDir(filepath.Join(tmpDir, "scenarios"))
		key, err = infra.EnsureKey(infra.NewFileKeyProvider(dataDir))
		Expect(err).NotTo(HaveOccurred())

		logger = zap.NewNop()
		ctx = context.Background()
	})

	AfterEach(func() {
		os.RemoveAll(tmpDir)
	})

	Describe("Run", func() {
		Context("when the server asks to retry and then reports a data conflict", func() {
			It("should submit hardware data, register and apply the task list", func() {
				store := openStore()
				client := loadClient(1, 3, 0)

				attempt, out := run(client, infra.NewBrowserAgent(nil, GinkgoWriter, logger), store)

				Expect(out.State).To(Equal(domain.StateDone))
				Expect(out.Err).NotTo(HaveOccurred())
				Expect(attempt.HardwareForced).To(BeTrue())
				Expect(attempt.Hardware).NotTo(BeNil())
				Expect(attempt.Generation).To(Equal(2))
				Expect(client.Calls()).To(Equal(3))
				Expect(client.Sessions()).To(HaveLen(2))
				Expect(client.Sessions()[1].HardwareForced).To(BeTrue())

				Expect(out.Result).NotTo(BeNil())
				Expect(out.Result.Success).To(BeTrue())
				Expect(out.Result.Satisfied).To(ContainElement("old-service"))

				svc, err := store.GetService("SLES_15")
				Expect(err).NotTo(HaveOccurred())
				Expect(svc.AutoRefresh).To(BeTrue())
				Expect(svc.Repos).To(HaveKeyWithValue("SLES15-Pool", true))
				Expect(svc.Repos).To(HaveKeyWithValue("SLES15-Updates", true))
				Expect(svc.Repos).To(HaveKeyWithValue("SLES15-Debuginfo", false))

				repo, err := store.FindRepository("legacy-tools")
				Expect(err).NotTo(HaveOccurred())
				Expect(repo.Enabled).To(BeTrue())
			})

			It("should report the selected addons as registered afterwards", func() {
				store := openStore()
				client := loadClient(0)

				_, out := run(client, infra.NewBrowserAgent(nil, GinkgoWriter, logger), store)
				Expect(out.State).To(Equal(domain.StateDone))

				addons, err := client.GetAddonList(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(addons[0].Registered).To(BeTrue())
				Expect(addons[1].Registered).To(BeTrue())
				Expect(addons[2].Registered).To(BeFalse())
			})
		})

		Context("when a manual step is required but no browser can be started", func() {
			It("should stop in no-browser and leave the sources alone", func() {
				store := openStore()
				client := loadClient(4)
				agent := infra.NewBrowserAgent([]string{"regsync-no-such-browser"}, GinkgoWriter, logger)

				attempt, out := run(client, agent, store)

				Expect(out.State).To(Equal(domain.StateNoBrowser))
				Expect(out.Err).To(MatchError(domain.ErrNoAgent))
				Expect(out.State.Fatal()).To(BeTrue())
				Expect(attempt.History).To(ContainElement(domain.StateManualInteraction))
				Expect(store.Services()).To(BeEmpty())
			})
		})

		Context("when the server does not offer the product", func() {
			It("should end in no-product without touching the sources", func() {
				store := openStore()
				client := loadClient(100)

				_, out := run(client, infra.NewBrowserAgent(nil, GinkgoWriter, logger), store)

				Expect(out.State).To(Equal(domain.StateNoProduct))
				Expect(out.State.Fatal()).To(BeFalse())
				Expect(out.Result).To(BeNil())
				Expect(store.Services()).To(BeEmpty())
			})
		})
	})

	Describe("Reconcile", func() {
		Context("when the same task list is applied twice", func() {
			It("should change nothing the second time", func() {
				store := openStore()
				client := loadClient(0)
				tasks, err := client.GetTaskList(ctx)
				Expect(err).NotTo(HaveOccurred())

				reconciler := usecase.NewReconciler(store, logger)
				first := reconciler.Reconcile(ctx, tasks, true)
				Expect(first.Success).To(BeTrue())
				Expect(first.Changes).NotTo(BeEmpty())

				second := reconciler.Reconcile(ctx, tasks, true)
				Expect(second.Success).To(BeTrue())
				Expect(second.Changes).To(BeEmpty())
				Expect(second.Satisfied).To(ContainElements("SLES_15", "legacy-tools", "old-service"))
			})
		})

		Context("when the sources survive a reopen", func() {
			It("should read them back with the same key", func() {
				store := openStore()
				client := loadClient(0)
				tasks, err := client.GetTaskList(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(usecase.NewReconciler(store, logger).Reconcile(ctx, tasks, false).Success).To(BeTrue())
				Expect(store.Close()).To(Succeed())

				reopened := openStore()
				Expect(reopened.Services()).To(Equal([]string{"SLES_15"}))
				Expect(reopened.Repositories()).To(HaveLen(1))
			})
		})

		Context("when a package manager lock holder is running", func() {
			It("should apply the changes but report the busy source manager", func() {
				holder := exec.Command("sleep", "30")
				Expect(holder.Start()).To(Succeed())
				DeferCleanup(func() {
					holder.Process.Kill()
					holder.Wait()
				})

				store := openStore("sleep")
				client := loadClient(0)
				tasks, err := client.GetTaskList(ctx)
				Expect(err).NotTo(HaveOccurred())

				result := usecase.NewReconciler(store, logger).Reconcile(ctx, tasks, false)
				Expect(result.Success).To(BeFalse())
				Expect(result.Changes).NotTo(BeEmpty())
				Expect(result.Errors).To(ContainElement(MatchError(domain.ErrSourceManagerBusy)))
				Expect(store.Services()).To(ContainElement("SLES_15"))

				Expect(store.RestartManager(true)).To(Succeed())
				Expect(store.Services()).To(ContainElement("SLES_15"))
			})
		})
	})

	Describe("Snapshots", func() {
		It("should restore the sources saved before a reconciliation", func() {
			store := openStore()
			snaps := infra.NewSnapshotManager(filepath.Join(dataDir, "snapshots"), 2, logger)
			_, err := snaps.Take(store.GetStorePath())
			Expect(err).NotTo(HaveOccurred())

			client := loadClient(0)
			tasks, err := client.GetTaskList(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(usecase.NewReconciler(store, logger).Reconcile(ctx, tasks, false).Success).To(BeTrue())
			Expect(store.Close()).To(Succeed())

			_, err = snaps.RestoreLatest(infra.SourceStorePath(dataDir))
			Expect(err).NotTo(HaveOccurred())

			restored := openStore()
			Expect(restored.Services()).To(BeEmpty())
		})
	})
})
