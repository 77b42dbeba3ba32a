//go:build integration

package integration

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/websocket"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/eliteGoblin/devreload/internal/daemon"
	"github.com/eliteGoblin/devreload/internal/domain"
	"github.com/eliteGoblin/devreload/internal/infra"
	"github.com/eliteGoblin/devreload/internal/livereload"
	"github.com/eliteGoblin/devreload/internal/policy"
	"github.com/eliteGoblin/devreload/internal/supervisor"
	"github.com/eliteGoblin/devreload/test/fixtures"
)

var _ = Describe("Dev server", func() {
	var (
		tmpDir  string
		project *fixtures.FakeProject
		cfg     domain.Config
		pm      domain.ProcessManager
		cancel  context.CancelFunc
		done    chan error
	)

	auxURL := func(path string) string {
		return fmt.Sprintf("http://127.0.0.1:%d%s", cfg.AuxPort, path)
	}

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "devreload-integration-*")
		Expect(err).NotTo(HaveOccurred())

		project = fixtures.NewFakeProject(tmpDir)
		Expect(project.Create()).To(Succeed())

		cfg = domain.DefaultConfig()
		cfg.AppPath = project.AppPath()
		cfg.StaticDir = project.StaticDir()
		cfg.StopTimeout = 2 * time.Second
		cfg.MainPort, err = fixtures.FreePort()
		Expect(err).NotTo(HaveOccurred())
		cfg.AuxPort, err = fixtures.FreePort()
		Expect(err).NotTo(HaveOccurred())

		logger := zap.NewNop()
		fs := infra.NewFileSystemManager()
		pm = infra.NewProcessManager()

		factory, codeRoot, err := infra.NewCommandLoader(fs).Resolve(cfg.AppPath)
		Expect(err).NotTo(HaveOccurred())

		watcher, err := infra.NewNotifyWatcher(fs, logger)
		Expect(err).NotTo(HaveOccurred())

		policies := policy.NewRegistryFromConfig(cfg)
		codePolicy, _ := policies.ForClass(domain.ClassCode)
		codeFilter, err := policy.ToFilter(codePolicy, logger)
		Expect(err).NotTo(HaveOccurred())
		Expect(watcher.Watch(codeRoot, codeFilter)).To(Succeed())

		assetPolicy, _ := policies.ForClass(domain.ClassAsset)
		assetFilter, err := policy.ToFilter(assetPolicy, logger)
		Expect(err).NotTo(HaveOccurred())
		Expect(watcher.Watch(cfg.StaticRoot(), assetFilter)).To(Succeed())

		sup := supervisor.New(
			supervisor.Config{StopTimeout: cfg.StopTimeout},
			infra.NewCommandSpawner(factory, cfg, logger),
			pm,
			logger,
		)
		registry := livereload.NewRegistry(cfg.StaticRoot(), cfg.StaticURL, logger)
		server := daemon.NewDevServer(daemon.NewDevServerConfig(cfg), watcher, sup, registry, fs, logger)

		var ctx context.Context
		ctx, cancel = context.WithCancel(context.Background())
		done = make(chan error, 1)
		go func() { done <- server.Run(ctx) }()

		Eventually(project.PIDs, 5*time.Second, 50*time.Millisecond).Should(HaveLen(1))
	})

	AfterEach(func() {
		cancel()
		Eventually(done, 10*time.Second).Should(Receive(BeNil()))
		os.RemoveAll(tmpDir)
	})

	Describe("code changes", func() {
		It("should restart the application", func() {
			first := project.PIDs()[0]

			Expect(project.TouchCode("package main\n\n// changed\nfunc main() {}\n")).To(Succeed())

			Eventually(project.PIDs, 10*time.Second, 50*time.Millisecond).Should(HaveLen(2))
			Eventually(func() bool { return pm.IsRunning(first) }, 5*time.Second).Should(BeFalse())
			Expect(pm.IsRunning(project.PIDs()[1])).To(BeTrue())
		})
	})

	Describe("asset changes", func() {
		It("should tell connected browsers to reload the asset", func() {
			conn, _, err := websocket.DefaultDialer.Dial(
				fmt.Sprintf("ws://127.0.0.1:%d/livereload", cfg.AuxPort), nil)
			Expect(err).NotTo(HaveOccurred())
			defer conn.Close()

			Expect(conn.WriteJSON(domain.ReloadCommand{
				Command:   domain.CommandHello,
				Protocols: []string{domain.ProtocolOfficial7},
			})).To(Succeed())

			var hello domain.ReloadCommand
			Expect(conn.ReadJSON(&hello)).To(Succeed())
			Expect(hello.ServerName).To(Equal(domain.ServerName))

			Expect(project.TouchAsset("style.css", "body { color: red; }\n")).To(Succeed())

			_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
			var reload domain.ReloadCommand
			Expect(conn.ReadJSON(&reload)).To(Succeed())
			Expect(reload.Command).To(Equal(domain.CommandReload))
			Expect(reload.Path).To(Equal("/static/style.css"))

			Expect(project.PIDs()).To(HaveLen(1), "assets never restart the app")
		})
	})

	Describe("auxiliary endpoints", func() {
		It("should serve the live-reload client and static files", func() {
			resp, err := http.Get(auxURL("/livereload.js"))
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("application/javascript"))

			resp, err = http.Get(auxURL("/static/"))
			Expect(err).NotTo(HaveOccurred())
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			Expect(string(body)).To(ContainSubstring("hi"))
		})
	})

	Describe("shutdown", func() {
		It("should stop the application", func() {
			pid := project.PIDs()[0]
			cancel()
			Eventually(done, 10*time.Second).Should(Receive(BeNil()))
			Expect(pm.IsRunning(pid)).To(BeFalse())

			// AfterEach cancels again and waits on done
			done <- nil
		})
	})
})
