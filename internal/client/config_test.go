package client_test

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/oceanomics/seqtrack/internal/client"
)

var _ = Describe("client config", func() {
	var dir string

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
	})

	It("round trips through the config file", func() {
		path := filepath.Join(dir, "nested", "client.yaml")
		Expect(client.WriteConfig(path, "http://analysis.local:8000")).To(Succeed())

		cfg, err := client.ParseConfigFile(path)
		Expect(err).To(BeNil())
		Expect(cfg.Service.Server).To(Equal("http://analysis.local:8000"))
		Expect(cfg.Equal(&client.Config{Service: client.Service{Server: "http://analysis.local:8000"}})).To(BeTrue())
	})

	It("reads durations", func() {
		path := filepath.Join(dir, "client.yaml")
		content := "service:\n  server: http://analysis.local:8000\n  timeout: 90s\nstream:\n  retryAttempts: 5\n  retryInterval: 3s\n"
		Expect(os.WriteFile(path, []byte(content), 0600)).To(Succeed())

		cfg, err := client.ParseConfigFile(path)
		Expect(err).To(BeNil())
		Expect(cfg.Service.Timeout.Duration).To(Equal(90 * time.Second))
		Expect(cfg.Stream.RetryAttempts).To(Equal(5))
		Expect(cfg.Stream.RetryInterval.Duration).To(Equal(3 * time.Second))
	})

	It("reports every validation problem", func() {
		cfg := &client.Config{
			Service: client.Service{Server: "not a url"},
			Stream:  client.Stream{RetryAttempts: -1},
		}
		err := cfg.Validate()
		Expect(err).NotTo(BeNil())
		Expect(err.Error()).To(ContainSubstring("no hostname"))
		Expect(err.Error()).To(ContainSubstring("retryAttempts"))
	})

	It("requires a server", func() {
		Expect(client.NewDefault().Validate()).To(MatchError(ContainSubstring("no server found")))
	})

	It("places the default file under the home directory", func() {
		Expect(client.DefaultClientConfigPath()).To(HaveSuffix(filepath.Join(".seqtrack", "client.yaml")))
	})
})
