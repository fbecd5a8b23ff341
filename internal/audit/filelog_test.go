package audit_test

import (
	"os"
	"path/filepath"

	"github.com/frahmantamala/familyguard/internal/audit"
	"github.com/frahmantamala/familyguard/pkg/logger"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("NewFileLogger", func() {
	It("appends JSON lines to the file", func() {
		path := filepath.Join(GinkgoT().TempDir(), "nested", "audit.log")
		lg, closer := audit.NewFileLogger(path, logger.Discard())
		lg.Info("audit event", "audit_id", "a-1")
		Expect(closer.Close()).To(Succeed())

		data, err := os.ReadFile(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(ContainSubstring(`"audit_id":"a-1"`))
	})

	It("falls back to stdout when the path cannot be created", func() {
		blocker := filepath.Join(GinkgoT().TempDir(), "file")
		Expect(os.WriteFile(blocker, []byte("x"), 0o600)).To(Succeed())

		lg, closer := audit.NewFileLogger(filepath.Join(blocker, "audit.log"), logger.Discard())
		Expect(lg).NotTo(BeNil())
		Expect(closer.Close()).To(Succeed())
	})
})
