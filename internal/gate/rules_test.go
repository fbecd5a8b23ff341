package gate_test

import (
	"github.com/frahmantamala/familyguard/internal"
	"github.com/frahmantamala/familyguard/internal/gate"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("RuleTable", func() {
	var table *gate.RuleTable

	BeforeEach(func() {
		var err error
		table, err = gate.NewRuleTable(gate.DefaultRules(), nil, nil)
		Expect(err).NotTo(HaveOccurred())
	})

	It("ships delete_user as a critical rule needing approval", func() {
		rule, ok := table.Lookup("delete_user")
		Expect(ok).To(BeTrue())
		Expect(rule.Risk).To(Equal(gate.RiskCritical))
		Expect(rule.RequireApproval).To(BeTrue())
	})

	It("defaults unknown operations to monitored MEDIUM", func() {
		rule, ok := table.Lookup("paint_fence")
		Expect(ok).To(BeFalse())
		Expect(rule.Risk).To(Equal(gate.RiskMedium))
		Expect(rule.Monitor).To(BeTrue())
	})

	It("rejects invalid rules", func() {
		err := table.Set(gate.OperationRule{Operation: "x", Risk: "EXTREME"})
		Expect(internal.KindOf(err)).To(Equal(internal.ErrorTypeValidation))

		err = table.Set(gate.OperationRule{Operation: "has space", Risk: gate.RiskLow})
		Expect(internal.KindOf(err)).To(Equal(internal.ErrorTypeValidation))
	})

	It("reports missing rules on remove", func() {
		Expect(table.Remove("nope")).To(MatchError(internal.ErrRuleNotFound))
	})

	It("moves an operation from whitelist to blacklist", func() {
		Expect(table.AddToWhitelist("virus_scan")).To(Succeed())
		Expect(table.AddToBlacklist("virus_scan")).To(Succeed())
		Expect(table.IsWhitelisted("virus_scan")).To(BeFalse())
		Expect(table.IsBlacklisted("virus_scan")).To(BeTrue())
	})

	It("refuses to whitelist a blacklisted operation", func() {
		Expect(table.AddToBlacklist("bulk_delete")).To(Succeed())
		err := table.AddToWhitelist("bulk_delete")
		Expect(internal.KindOf(err)).To(Equal(internal.ErrorTypeConflict))
	})

	It("round-trips through export and import", func() {
		Expect(table.AddToBlacklist("format_disk")).To(Succeed())
		Expect(table.AddToWhitelist("read_data")).To(Succeed())
		data, err := table.Export()
		Expect(err).NotTo(HaveOccurred())

		restored, err := gate.NewRuleTable(nil, nil, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(restored.Import(data)).To(Succeed())
		Expect(restored.Rules()).To(Equal(table.Rules()))
		Expect(restored.Blacklist()).To(ConsistOf("format_disk"))
		Expect(restored.Whitelist()).To(ConsistOf("read_data"))
	})

	It("parses risk tiers case-insensitively", func() {
		r, err := gate.ParseRiskTier("high")
		Expect(err).NotTo(HaveOccurred())
		Expect(r).To(Equal(gate.RiskHigh))
	})
})
