//go:build integration

package integration

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/errwatch/internal/daemon"
	"github.com/eliteGoblin/focusd/errwatch/internal/domain"
	"github.com/eliteGoblin/focusd/errwatch/internal/infra"
	"github.com/eliteGoblin/focusd/errwatch/internal/pattern"
	"github.com/eliteGoblin/focusd/errwatch/internal/usecase"
	"github.com/eliteGoblin/focusd/errwatch/test/fixtures"
)

const sshdFailure = "sshd[812]: Failed password for root from 10.0.0.1 port 22"

var _ = Describe("Monitor", func() {
	var (
		tmpDir     string
		bot        *fixtures.FakeBotAPI
		source     *fixtures.ScriptedSource
		processes  *fixtures.StaticProcesses
		secrets    *infra.EncryptedSecretStore
		ignorePath string
		logger     *zap.Logger

		cancel context.CancelFunc
		done   chan error
	)

	startMonitor := func(sources ...domain.LogSource) {
		ignores, err := infra.NewFileIgnoreStore(ignorePath, logger)
		Expect(err).NotTo(HaveOccurred())

		telegram := infra.NewTelegram(infra.TelegramConfig{
			Token:       "123:abc",
			ChatID:      strconv.FormatInt(bot.ChatID, 10),
			APIEndpoint: bot.Endpoint(),
			PollTimeout: 1,
		}, logger)

		router := usecase.NewRouter(ignores, processes, logger)
		pipeline := usecase.NewPipeline(
			infra.NewCompositeSource(append([]domain.LogSource{source}, sources...)...),
			usecase.NewClassifier(pattern.Default()),
			usecase.NewRecentHistory(usecase.DefaultHistorySize),
			router,
			telegram,
			"testbox",
			time.Now(),
			logger,
		)

		cfg := daemon.DefaultMonitorConfig()
		cfg.PollInterval = 20 * time.Millisecond
		cfg.CommandRetry = 20 * time.Millisecond
		cfg.ChatID = strconv.FormatInt(bot.ChatID, 10)

		monitor := daemon.NewMonitor(cfg, pipeline, router, telegram, telegram, secrets, "testbox", logger)

		var ctx context.Context
		ctx, cancel = context.WithCancel(context.Background())
		done = make(chan error, 1)
		go func() { done <- monitor.Run(ctx) }()
	}

	stopMonitor := func() {
		if cancel == nil {
			return
		}
		cancel()
		Eventually(done).Should(Receive())
		cancel = nil
	}

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "errwatch-integration-*")
		Expect(err).NotTo(HaveOccurred())

		logger = zap.NewNop()
		bot = fixtures.NewFakeBotAPI(42)
		source = fixtures.NewScriptedSource()
		processes = fixtures.NewStaticProcesses("kernel", "sshd", "waybar")
		ignorePath = filepath.Join(tmpDir, infra.IgnoreFileName)

		secrets, err = infra.OpenSecretStore(&infra.Paths{DataDir: tmpDir})
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		stopMonitor()
		Expect(secrets.Close()).To(Succeed())
		bot.Close()
		os.RemoveAll(tmpDir)
	})

	Describe("startup", func() {
		It("should announce itself with command buttons before any alert", func() {
			source.Push(sshdFailure)
			startMonitor()

			Eventually(func() int { return len(bot.Sent()) }).Should(BeNumerically(">=", 2))

			first := bot.Sent()[0]
			Expect(first.Text).To(ContainSubstring("Error monitor started"))
			Expect(first.Text).To(ContainSubstring("testbox"))
			Expect(first.ParseMode).To(Equal("HTML"))
			Expect(first.ReplyMarkup).To(ContainSubstring(`"callback_data":"/packages"`))
			Expect(first.ReplyMarkup).To(ContainSubstring(`"callback_data":"/alive"`))
		})
	})

	Describe("alerting", func() {
		Context("when the same batch is replayed", func() {
			It("should report the error once", func() {
				startMonitor()
				source.Push(sshdFailure, "systemd[1]: Started session 4.")
				Eventually(func() []fixtures.SentMessage { return bot.SentContaining("Failed password") }).Should(HaveLen(1))

				source.Push(sshdFailure, "systemd[1]: Started session 4.")
				Eventually(source.Calls).Should(BeNumerically(">=", 5))
				Consistently(func() []fixtures.SentMessage { return bot.SentContaining("Failed password") }, 200*time.Millisecond).Should(HaveLen(1))

				alert := bot.SentContaining("Failed password")[0]
				fp := usecase.Fingerprint(domain.ErrorEvent{Process: "sshd", Message: sshdFailure})
				Expect(alert.Text).To(ContainSubstring(fp.String()))
				Expect(alert.Text).To(ContainSubstring("<code>sshd</code>"))
				Expect(alert.ReplyMarkup).To(ContainSubstring("/ignore " + fp.String()))
			})
		})

		Context("when lines are appended to a tailed file", func() {
			It("should report them under the file's label", func() {
				logPath := filepath.Join(tmpDir, "hyprland.log")
				Expect(os.WriteFile(logPath, []byte("old error before start\n"), 0644)).To(Succeed())

				files := infra.NewFileSource([]string{logPath}, logger)
				Expect(files.Start(context.Background())).To(Succeed())
				defer files.Close()

				startMonitor(files)

				f, err := os.OpenFile(logPath, os.O_APPEND|os.O_WRONLY, 0644)
				Expect(err).NotTo(HaveOccurred())
				_, err = f.WriteString("Failed to create EGL context\n")
				Expect(err).NotTo(HaveOccurred())
				Expect(f.Close()).To(Succeed())

				Eventually(func() []fixtures.SentMessage { return bot.SentContaining("EGL context") }).Should(HaveLen(1))
				Expect(bot.SentContaining("EGL context")[0].Text).To(ContainSubstring("<code>hyprland</code>"))
				Expect(bot.SentContaining("old error")).To(BeEmpty())
			})
		})
	})

	Describe("ignore commands", func() {
		It("should suppress an error after the ignore button is pressed", func() {
			fp := usecase.Fingerprint(domain.ErrorEvent{Process: "sshd", Message: sshdFailure})
			startMonitor()

			source.Push(sshdFailure)
			Eventually(func() []fixtures.SentMessage { return bot.SentContaining("Failed password") }).Should(HaveLen(1))

			callbackID := bot.Press("/ignore " + fp.String())
			Eventually(bot.Callbacks).Should(ContainElement(callbackID))
			Eventually(func() []fixtures.SentMessage { return bot.SentContaining("Ignoring") }).Should(HaveLen(1))

			data, err := os.ReadFile(ignorePath)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(ContainSubstring(string(fp)))

			bot.Type(42, "/ignoring")
			Eventually(func() []fixtures.SentMessage { return bot.SentContaining("Ignoring 1 error") }).Should(HaveLen(1))

			bot.Type(42, "/unignore #"+string(fp))
			Eventually(func() []fixtures.SentMessage { return bot.SentContaining("again") }).Should(HaveLen(1))
		})

		It("should keep the ignore list across restarts", func() {
			fp := usecase.Fingerprint(domain.ErrorEvent{Process: "sshd", Message: sshdFailure})
			startMonitor()
			bot.Type(42, "/ignore "+string(fp))
			Eventually(func() []fixtures.SentMessage { return bot.SentContaining("Ignoring") }).Should(HaveLen(1))
			stopMonitor()

			startMonitor()
			source.Push(sshdFailure)
			Eventually(source.Calls).Should(BeNumerically(">=", 4))
			Consistently(func() []fixtures.SentMessage { return bot.SentContaining("Failed password") }, 200*time.Millisecond).Should(BeEmpty())
		})
	})

	Describe("mode commands", func() {
		It("should only report watched processes in scoped mode", func() {
			startMonitor()

			bot.Type(42, "/packages")
			Eventually(func() []fixtures.SentMessage { return bot.SentContaining("Running processes") }).Should(HaveLen(1))
			Expect(bot.SentContaining("Running processes")[0].Text).To(ContainSubstring("3</code> waybar"))

			bot.Type(42, "/pm 3")
			Eventually(func() []fixtures.SentMessage { return bot.SentContaining("Only reporting errors from") }).Should(HaveLen(1))

			source.Push(sshdFailure, "waybar: error loading module")
			Eventually(func() []fixtures.SentMessage { return bot.SentContaining("error loading module") }).Should(HaveLen(1))
			Expect(bot.SentContaining("Failed password")).To(BeEmpty())

			bot.Type(42, "/nm")
			Eventually(func() []fixtures.SentMessage { return bot.SentContaining("every process") }).Should(HaveLen(1))

			source.Push("sshd[900]: Failed publickey for op")
			Eventually(func() []fixtures.SentMessage { return bot.SentContaining("Failed publickey") }).Should(HaveLen(1))
		})

		It("should reject unknown package IDs without changing mode", func() {
			startMonitor()
			bot.Type(42, "/pm 99")
			Eventually(func() []fixtures.SentMessage { return bot.SentContaining("None of those package IDs") }).Should(HaveLen(1))

			source.Push(sshdFailure)
			Eventually(func() []fixtures.SentMessage { return bot.SentContaining("Failed password") }).Should(HaveLen(1))
		})
	})

	Describe("command channel", func() {
		It("should ignore traffic from other chats and plain text", func() {
			startMonitor()
			Eventually(func() []fixtures.SentMessage { return bot.SentContaining("Error monitor started") }).Should(HaveLen(1))

			bot.Type(7, "/alive")
			bot.Type(42, "good morning")
			bot.Type(42, "/alive")

			Eventually(func() []fixtures.SentMessage { return bot.SentContaining("<b>Alive</b>") }).Should(HaveLen(1))
			Consistently(func() int { return len(bot.Sent()) }, 200*time.Millisecond).Should(Equal(2))
		})

		It("should resume after the last handled update when restarted", func() {
			startMonitor()
			bot.Type(42, "/alive")
			Eventually(func() []fixtures.SentMessage { return bot.SentContaining("<b>Alive</b>") }).Should(HaveLen(1))

			Eventually(func() (string, error) {
				return secrets.GetSecret(domain.SecretUpdateOffset)
			}).Should(Equal("102"))
			stopMonitor()

			startMonitor()
			Eventually(bot.Offsets).Should(ContainElement(102))
			Consistently(func() []fixtures.SentMessage { return bot.SentContaining("<b>Alive</b>") }, 300*time.Millisecond).Should(HaveLen(1))
		})
	})
})
