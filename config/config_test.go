package config_test

import (
	"os"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/ddevcap/sso-adapter/config"
)

var _ = Describe("Load", func() {
	var envKeys = []string{
		"SSO_ADAPTER_DIFY_URL", "SSO_ADAPTER_SSO_URL", "SSO_ADAPTER_CONFIG_PATH",
		"SSO_ADAPTER_USE_MODE", "SSO_ADAPTER_DIFY_HOST", "SSO_ADAPTER_SELF_HOST",
		"SSO_ADAPTER_AUDIT_DB_PATH", "SSO_ADAPTER_METRICS_ADDR", "SSO_ADAPTER_LISTEN_ADDR",
	}

	var saved map[string]string

	BeforeEach(func() {
		saved = make(map[string]string, len(envKeys))
		for _, k := range envKeys {
			saved[k] = os.Getenv(k)
			Expect(os.Unsetenv(k)).To(Succeed())
		}
	})

	AfterEach(func() {
		for k, v := range saved {
			if v == "" {
				Expect(os.Unsetenv(k)).To(Succeed())
			} else {
				Expect(os.Setenv(k, v)).To(Succeed())
			}
		}
	})

	It("defaults to Proxy mode and fails without a Dify host", func() {
		Expect(os.Setenv("SSO_ADAPTER_DIFY_URL", "http://dify.internal")).To(Succeed())

		_, err := config.Load()
		Expect(err).To(HaveOccurred())
	})

	It("loads successfully in Proxy mode with dify_url and dify_host set", func() {
		Expect(os.Setenv("SSO_ADAPTER_DIFY_URL", "http://dify.internal")).To(Succeed())
		Expect(os.Setenv("SSO_ADAPTER_DIFY_HOST", "dify.example.com")).To(Succeed())

		cfg, err := config.Load()
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Mode).To(Equal(config.ModeProxy))
		Expect(cfg.DifyURL).To(Equal("http://dify.internal"))
		Expect(cfg.DifyHost).To(Equal("dify.example.com"))
		Expect(cfg.ConfigPath).To(Equal("config.yaml"))
		Expect(cfg.ListenAddr).To(Equal("0.0.0.0:8080"))
	})

	It("requires an SSO URL in Normal mode", func() {
		Expect(os.Setenv("SSO_ADAPTER_DIFY_URL", "http://dify.internal")).To(Succeed())
		Expect(os.Setenv("SSO_ADAPTER_USE_MODE", "normal")).To(Succeed())

		_, err := config.Load()
		Expect(err).To(HaveOccurred())
	})

	It("loads successfully in Normal mode with sso_url set", func() {
		Expect(os.Setenv("SSO_ADAPTER_DIFY_URL", "http://dify.internal")).To(Succeed())
		Expect(os.Setenv("SSO_ADAPTER_USE_MODE", "normal")).To(Succeed())
		Expect(os.Setenv("SSO_ADAPTER_SSO_URL", "http://sso.internal")).To(Succeed())

		cfg, err := config.Load()
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Mode).To(Equal(config.ModeNormal))
		Expect(cfg.SSOURL).To(Equal("http://sso.internal"))
	})

	It("rejects an unknown use_mode", func() {
		Expect(os.Setenv("SSO_ADAPTER_DIFY_URL", "http://dify.internal")).To(Succeed())
		Expect(os.Setenv("SSO_ADAPTER_USE_MODE", "sideways")).To(Succeed())

		_, err := config.Load()
		Expect(err).To(HaveOccurred())
	})

	It("always requires a Dify URL regardless of mode", func() {
		Expect(os.Setenv("SSO_ADAPTER_DIFY_HOST", "dify.example.com")).To(Succeed())

		_, err := config.Load()
		Expect(err).To(HaveOccurred())
	})

	It("reads overridden string values from env vars", func() {
		Expect(os.Setenv("SSO_ADAPTER_DIFY_URL", "http://dify.internal")).To(Succeed())
		Expect(os.Setenv("SSO_ADAPTER_DIFY_HOST", "dify.example.com")).To(Succeed())
		Expect(os.Setenv("SSO_ADAPTER_CONFIG_PATH", "/etc/sso-adapter/rules.yaml")).To(Succeed())
		Expect(os.Setenv("SSO_ADAPTER_SELF_HOST", "adapter.example.com")).To(Succeed())
		Expect(os.Setenv("SSO_ADAPTER_LISTEN_ADDR", ":9999")).To(Succeed())

		cfg, err := config.Load()
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.ConfigPath).To(Equal("/etc/sso-adapter/rules.yaml"))
		Expect(cfg.SelfHost).To(Equal("adapter.example.com"))
		Expect(cfg.ListenAddr).To(Equal(":9999"))
	})
})
