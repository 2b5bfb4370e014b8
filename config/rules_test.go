package config_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gopkg.in/yaml.v3"

	"github.com/ddevcap/sso-adapter/config"
)

var _ = Describe("RuleSet YAML parsing", func() {
	It("parses a bare scalar target_service", func() {
		var pc config.PathConfig
		Expect(yaml.Unmarshal([]byte(`
request:
  target_service: dify
  mix_mappings: []
response:
  mix_mappings: []
`), &pc)).To(Succeed())
		Expect(pc.Request.TargetService.Kind).To(Equal(config.TargetDify))
	})

	It("parses a single-key map target_service for sse with its selector", func() {
		var pc config.PathConfig
		Expect(yaml.Unmarshal([]byte(`
request:
  target_service:
    sse: bodyfield-stream
  mix_mappings: []
response:
  mix_mappings: []
`), &pc)).To(Succeed())
		Expect(pc.Request.TargetService.Kind).To(Equal(config.TargetSSE))
		Expect(pc.Request.TargetService.Selector).To(Equal("bodyfield-stream"))
	})

	It("parses source/target refs and actions including addtarget's literal", func() {
		var pc config.PathConfig
		Expect(yaml.Unmarshal([]byte(`
request:
  mix_mappings:
    - source:
        header: X-Old
      target:
        header: X-New
      action: move
    - source:
        header: X-Unused
      target:
        bodyfield: injected
      action:
        addtarget: literal-value
response:
  mix_mappings: []
`), &pc)).To(Succeed())

		Expect(pc.Request.MixMappings).To(HaveLen(2))
		first := pc.Request.MixMappings[0]
		Expect(first.Source).To(Equal(config.Ref{Namespace: config.NamespaceHeader, Key: "X-Old"}))
		Expect(first.Target).To(Equal(config.Ref{Namespace: config.NamespaceHeader, Key: "X-New"}))
		Expect(first.Action.Kind).To(Equal(config.ActionMove))

		second := pc.Request.MixMappings[1]
		Expect(second.Action.Kind).To(Equal(config.ActionAddTarget))
		Expect(second.Action.Literal).To(Equal("literal-value"))
	})

	It("parses a transformation pipeline with typed fields per stage", func() {
		var pc config.PathConfig
		Expect(yaml.Unmarshal([]byte(`
request:
  mix_mappings:
    - source:
        header: X-Token
      target:
        header: Authorization
      action: move
      transformations:
        - type: format
          format: "Bearer "
        - type: split
          separator: ","
          index: 0
response:
  mix_mappings: []
`), &pc)).To(Succeed())

		stages := pc.Request.MixMappings[0].Transformations
		Expect(stages).To(HaveLen(2))
		Expect(stages[0].Kind).To(Equal(config.TransformFormat))
		Expect(stages[0].Format).To(Equal("Bearer "))
		Expect(stages[1].Kind).To(Equal(config.TransformSplit))
		Expect(stages[1].Separator).To(Equal(","))
		Expect(stages[1].Index).To(Equal(0))
	})

	It("rejects an unknown target_service scalar", func() {
		var pc config.PathConfig
		err := yaml.Unmarshal([]byte(`
request:
  target_service: bogus
  mix_mappings: []
response:
  mix_mappings: []
`), &pc)
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("LoadRules", func() {
	It("reads and parses a rule file keyed by exact path", func() {
		dir := GinkgoT().TempDir()
		path := filepath.Join(dir, "rules.yaml")
		Expect(os.WriteFile(path, []byte(`
/api/chat:
  request:
    target_service: dify
    mix_mappings: []
  response:
    mix_mappings: []
`), 0o644)).To(Succeed())

		rules, err := config.LoadRules(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(rules).To(HaveKey("/api/chat"))
	})

	It("returns a RuleFileParse error for a missing file", func() {
		_, err := config.LoadRules(filepath.Join(GinkgoT().TempDir(), "missing.yaml"))
		Expect(err).To(HaveOccurred())
	})

	It("returns a RuleFileParse error for malformed YAML", func() {
		dir := GinkgoT().TempDir()
		path := filepath.Join(dir, "bad.yaml")
		Expect(os.WriteFile(path, []byte("not: [valid: yaml"), 0o644)).To(Succeed())

		_, err := config.LoadRules(path)
		Expect(err).To(HaveOccurred())
	})
})
