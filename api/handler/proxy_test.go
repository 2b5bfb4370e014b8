package handler_test

import (
	"net/http"
	"net/http/httptest"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/gin-gonic/gin"

	"github.com/ddevcap/sso-adapter/api/handler"
	"github.com/ddevcap/sso-adapter/config"
	"github.com/ddevcap/sso-adapter/forward"
)

func newTestRouter(settings config.AppSettings, rules config.RuleSet) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	p := handler.New(settings, func() config.RuleSet { return rules }, forward.New(), nil)
	r.NoRoute(p.Handle)
	r.NoMethod(p.Handle)
	return r
}

var _ = Describe("Proxy.Handle", func() {
	var upstream *httptest.Server

	AfterEach(func() {
		if upstream != nil {
			upstream.Close()
			upstream = nil
		}
	})

	It("forwards a matched path, rewriting a header into the body via mix_mappings", func() {
		var receivedBody string
		var receivedHeader string
		upstream = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			receivedHeader = r.Header.Get("X-Token")
			buf := make([]byte, 1024)
			n, _ := r.Body.Read(buf)
			receivedBody = string(buf[:n])
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		}))

		settings := config.AppSettings{
			DifyURL:  upstream.URL,
			DifyHost: "dify.example.com",
			Mode:     config.ModeProxy,
		}
		rules := config.RuleSet{
			"/api/chat": config.PathConfig{
				Request: config.SideConfig{
					MixMappings: []config.MixMapping{{
						Source: config.Ref{Namespace: config.NamespaceHeader, Key: "X-Token"},
						Target: config.Ref{Namespace: config.NamespaceBodyField, Key: "token"},
						Action: config.Action{Kind: config.ActionMove},
					}},
				},
			},
		}

		router := newTestRouter(settings, rules)

		req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"msg":"hi"}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Token", "secret-token")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(receivedHeader).To(Equal(""))
		Expect(receivedBody).To(ContainSubstring(`"token":"secret-token"`))
	})

	It("rejects a matched POST whose declared JSON body does not parse", func() {
		settings := config.AppSettings{DifyURL: "http://unused", DifyHost: "dify.example.com", Mode: config.ModeProxy}
		rules := config.RuleSet{
			"/api/chat": config.PathConfig{Request: config.SideConfig{}},
		}
		router := newTestRouter(settings, rules)

		req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"msg": truncated`))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		Expect(w.Code).To(Equal(http.StatusBadRequest))
	})

	It("rejects a POST with no Content-Type as malformed", func() {
		settings := config.AppSettings{DifyURL: "http://unused", DifyHost: "dify.example.com", Mode: config.ModeProxy}
		router := newTestRouter(settings, config.RuleSet{})

		req := httptest.NewRequest(http.MethodPost, "/anything", strings.NewReader("x"))
		req.Host = "dify.example.com"
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		Expect(w.Code).To(Equal(http.StatusBadRequest))
	})

	It("issues a 302 redirect with an empty body for a Redirect target", func() {
		settings := config.AppSettings{DifyURL: "http://unused", DifyHost: "dify.example.com", Mode: config.ModeProxy}
		ts := config.TargetService{Kind: config.TargetRedirect}
		rules := config.RuleSet{
			"/login": config.PathConfig{Request: config.SideConfig{TargetService: &ts}},
		}
		router := newTestRouter(settings, rules)

		req := httptest.NewRequest(http.MethodGet, "http://dify.example.com/login?a=1", nil)
		req.Host = "dify.example.com"
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		Expect(w.Code).To(Equal(http.StatusFound))
		Expect(w.Body.Len()).To(Equal(0))
		Expect(w.Header().Get("Location")).To(ContainSubstring("/login"))
	})

	It("returns 404 for an unmatched path in Normal mode", func() {
		settings := config.AppSettings{DifyURL: "http://unused", SSOURL: "http://unused-sso", Mode: config.ModeNormal}
		router := newTestRouter(settings, config.RuleSet{})

		req := httptest.NewRequest(http.MethodGet, "/nope", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		Expect(w.Code).To(Equal(http.StatusNotFound))
	})

	It("passes an unmatched outbound GET through verbatim in Proxy mode", func() {
		var hit bool
		upstream = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hit = true
			w.WriteHeader(http.StatusNoContent)
		}))
		settings := config.AppSettings{DifyURL: "http://unused", DifyHost: "dify.example.com", Mode: config.ModeProxy}
		router := newTestRouter(settings, config.RuleSet{})

		req := httptest.NewRequest(http.MethodGet, upstream.URL+"/passthrough", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		Expect(hit).To(BeTrue())
		Expect(w.Code).To(Equal(http.StatusNoContent))
	})
})
