package audit_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/ddevcap/sso-adapter/audit"
)

func TestAudit(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Audit Suite")
}

var _ = Describe("Log", func() {
	var (
		log  *audit.Log
		path string
	)

	BeforeEach(func() {
		path = filepath.Join(GinkgoT().TempDir(), "audit.db")
		var err error
		log, err = audit.Open(path)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		Expect(log.Close()).To(Succeed())
	})

	It("opens the database and creates the exchanges table idempotently", func() {
		reopened, err := audit.Open(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(reopened.Close()).To(Succeed())
	})

	It("records an exchange without error", func() {
		err := log.Record(context.Background(), audit.Entry{
			Method:     "GET",
			Path:       "/api/chat",
			Matched:    true,
			Target:     "dify",
			Status:     200,
			Latency:    42 * time.Millisecond,
			OccurredAt: time.Now(),
		})
		Expect(err).NotTo(HaveOccurred())
	})

	It("tolerates a nil Log", func() {
		var nilLog *audit.Log
		Expect(nilLog.Record(context.Background(), audit.Entry{})).To(Succeed())
		Expect(nilLog.Close()).To(Succeed())
	})
})
