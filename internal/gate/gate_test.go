package gate_test

import (
	"context"
	"errors"
	"time"

	"github.com/frahmantamala/familyguard/internal"
	"github.com/frahmantamala/familyguard/internal/audit"
	"github.com/frahmantamala/familyguard/internal/gate"
	"github.com/frahmantamala/familyguard/pkg/logger"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Gate", func() {
	var (
		ctx      context.Context
		clock    *fakeClock
		recorder *recordingRecorder
		table    *gate.RuleTable
		g        *gate.Gate
		policy   gate.Policy
		perMin   int
	)

	noop := func(ctx context.Context, params map[string]any) (any, error) {
		return "done", nil
	}

	build := func() {
		g = gate.New(table, logger.Discard(),
			gate.WithClock(clock.Now),
			gate.WithRecorder(recorder),
			gate.WithPolicy(policy),
			gate.WithMaxOperationsPerMinute(perMin),
			gate.WithMaxSecurityEvents(50),
			gate.WithMaxUserHistory(5),
		)
	}

	BeforeEach(func() {
		ctx = context.Background()
		clock = newFakeClock()
		recorder = &recordingRecorder{}
		policy = gate.Policy{RequireApprovalForCritical: true, AutoBlockHighRisk: true, OperationTimeout: time.Second}
		perMin = 60
		var err error
		table, err = gate.NewRuleTable(gate.DefaultRules(), []string{"format_disk"}, []string{"read_data"})
		Expect(err).NotTo(HaveOccurred())
		build()
	})

	Describe("ValidateOperation", func() {
		It("denies blacklisted operations for every user", func() {
			for _, user := range []string{"admin", "parent", "guest"} {
				d := g.ValidateOperation(ctx, "format_disk", user, nil)
				Expect(d.Allowed).To(BeFalse())
				Expect(d.Risk).To(Equal(gate.RiskCritical))
				Expect(internal.KindOf(d.Err)).To(Equal(internal.ErrorTypeOperationBlocked))
			}
		})

		It("allows whitelisted operations at LOW risk", func() {
			d := g.ValidateOperation(ctx, "read_data", "guest", nil)
			Expect(d.Allowed).To(BeTrue())
			Expect(d.Risk).To(Equal(gate.RiskLow))
		})

		It("requires approval for delete_user even for the admin", func() {
			d := g.ValidateOperation(ctx, "delete_user", "admin", nil)
			Expect(d.Allowed).To(BeFalse())
			Expect(d.Risk).To(Equal(gate.RiskCritical))
			Expect(d.Message).To(Equal("operation delete_user requires approval"))
			Expect(internal.KindOf(d.Err)).To(Equal(internal.ErrorTypeOperationBlocked))
		})

		It("lets delete_user through when the approval policy is off", func() {
			policy.RequireApprovalForCritical = false
			build()
			d := g.ValidateOperation(ctx, "delete_user", "admin", nil)
			Expect(d.Allowed).To(BeTrue())
			Expect(d.Risk).To(Equal(gate.RiskCritical))
		})

		It("auto-blocks flagged rules", func() {
			d := g.ValidateOperation(ctx, "bulk_delete", "admin", nil)
			Expect(d.Allowed).To(BeFalse())
			Expect(d.Message).To(ContainSubstring("automatically blocked"))
		})

		It("gives unknown operations MEDIUM risk", func() {
			d := g.ValidateOperation(ctx, "water_plants", "parent", nil)
			Expect(d.Allowed).To(BeTrue())
			Expect(d.Risk).To(Equal(gate.RiskMedium))
		})

		It("rejects malformed input as a validation error", func() {
			d := g.ValidateOperation(ctx, "", "parent", nil)
			Expect(d.Allowed).To(BeFalse())
			Expect(internal.KindOf(d.Err)).To(Equal(internal.ErrorTypeValidation))
		})

		It("is idempotent and does not consume rate-limit slots", func() {
			perMin = 2
			build()
			first := g.ValidateOperation(ctx, "vpn_connect", "parent", nil)
			for i := 0; i < 5; i++ {
				d := g.ValidateOperation(ctx, "vpn_connect", "parent", nil)
				Expect(d.Allowed).To(Equal(first.Allowed))
				Expect(d.Risk).To(Equal(first.Risk))
				Expect(d.Message).To(Equal(first.Message))
			}
			Expect(g.Limiter().Count("parent")).To(BeZero())
		})

		It("records one security event and one audit event per call", func() {
			g.ValidateOperation(ctx, "vpn_connect", "parent", nil)
			g.ValidateOperation(ctx, "format_disk", "parent", nil)
			g.ValidateOperation(ctx, "", "parent", nil)

			Expect(g.SecurityEvents(0)).To(HaveLen(3))
			entries := recorder.Entries()
			Expect(entries).To(HaveLen(3))
			Expect(entries[0].Level).To(Equal(audit.LevelInfo))
			Expect(entries[1].Level).To(Equal(audit.LevelError))
			Expect(entries[0].Type).To(Equal(audit.TypeValidation))
		})
	})

	Describe("Deny", func() {
		It("records an early refusal as one blocked event and one ERROR entry", func() {
			cause := internal.NewSessionExpiredError("session expired")
			d := g.Deny(ctx, gate.KindExecution, "delete_user", "parent", map[string]any{"id": 7}, cause)

			Expect(d.Allowed).To(BeFalse())
			Expect(d.Risk).To(Equal(gate.RiskCritical))
			Expect(d.Err).To(MatchError(cause))

			Expect(recorder.Count()).To(Equal(1))
			Expect(recorder.Last().Level).To(Equal(audit.LevelError))
			Expect(recorder.Last().Type).To(Equal(audit.TypeOperation))

			activity := g.UserActivity("parent")
			Expect(activity).To(HaveLen(1))
			Expect(activity[0].ID).To(Equal(d.EventID))
			Expect(activity[0].Blocked).To(BeTrue())
		})

		It("keeps anonymous refusals out of user histories", func() {
			g.Deny(ctx, gate.KindValidation, "virus_scan", "", nil, internal.ErrSessionNotFound)
			Expect(g.SecurityEvents(0)).To(HaveLen(1))
			Expect(recorder.Last().Type).To(Equal(audit.TypeValidation))
		})
	})

	Describe("ExecuteWithProtection", func() {
		It("runs allowed operations and returns their value", func() {
			res := g.ExecuteWithProtection(ctx, "virus_scan", "parent", map[string]any{"path": "/home"}, noop)
			Expect(res.Success).To(BeTrue())
			Expect(res.Value).To(Equal("done"))
			Expect(res.Err).NotTo(HaveOccurred())

			last := recorder.Last()
			Expect(last.Level).To(Equal(audit.LevelInfo))
			Expect(last.Success).To(BeTrue())
			Expect(last.Details["param_keys"]).To(Equal([]string{"path"}))
		})

		It("never invokes fn for a denied operation", func() {
			called := false
			res := g.ExecuteWithProtection(ctx, "format_disk", "admin", nil, func(ctx context.Context, params map[string]any) (any, error) {
				called = true
				return nil, nil
			})
			Expect(called).To(BeFalse())
			Expect(res.Success).To(BeFalse())
			Expect(recorder.Last().Level).To(Equal(audit.LevelError))

			events := g.SecurityEvents(1)
			Expect(events[0].Blocked).To(BeTrue())
		})

		It("rate limits the K+1th call for that user only", func() {
			perMin = 3
			build()
			for i := 0; i < 3; i++ {
				Expect(g.ExecuteWithProtection(ctx, "virus_scan", "alice", nil, noop).Success).To(BeTrue())
			}
			res := g.ExecuteWithProtection(ctx, "virus_scan", "alice", nil, noop)
			Expect(res.Success).To(BeFalse())
			Expect(internal.KindOf(res.Err)).To(Equal(internal.ErrorTypeRateLimitExceeded))

			Expect(g.ExecuteWithProtection(ctx, "virus_scan", "bob", nil, noop).Success).To(BeTrue())

			clock.Advance(61 * time.Second)
			Expect(g.ExecuteWithProtection(ctx, "virus_scan", "alice", nil, noop).Success).To(BeTrue())
		})

		It("emits exactly M audit events for M calls", func() {
			failing := func(ctx context.Context, params map[string]any) (any, error) {
				return nil, errors.New("disk full")
			}
			g.ExecuteWithProtection(ctx, "virus_scan", "alice", nil, noop)
			g.ExecuteWithProtection(ctx, "virus_scan", "alice", nil, failing)
			g.ExecuteWithProtection(ctx, "format_disk", "alice", nil, noop)
			g.ExecuteWithProtection(ctx, "delete_user", "alice", nil, noop)
			g.ExecuteWithProtection(ctx, "virus_scan", "alice", nil, nil)

			Expect(recorder.Count()).To(Equal(5))
			Expect(g.SecurityEvents(0)).To(HaveLen(5))
		})

		It("maps operation errors to execution errors", func() {
			res := g.ExecuteWithProtection(ctx, "virus_scan", "alice", nil, func(ctx context.Context, params map[string]any) (any, error) {
				return nil, errors.New("disk full")
			})
			Expect(res.Success).To(BeFalse())
			Expect(internal.KindOf(res.Err)).To(Equal(internal.ErrorTypeExecution))
			Expect(res.Message).To(ContainSubstring("disk full"))
			Expect(recorder.Last().Level).To(Equal(audit.LevelError))
		})

		It("recovers from panics", func() {
			res := g.ExecuteWithProtection(ctx, "virus_scan", "alice", nil, func(ctx context.Context, params map[string]any) (any, error) {
				panic("boom")
			})
			Expect(res.Success).To(BeFalse())
			appErr, ok := internal.IsAppError(res.Err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Code).To(Equal(internal.ErrCodeExecutionPanic))
		})

		It("times out slow operations", func() {
			policy.OperationTimeout = 20 * time.Millisecond
			build()
			res := g.ExecuteWithProtection(ctx, "virus_scan", "alice", nil, func(ctx context.Context, params map[string]any) (any, error) {
				<-ctx.Done()
				return nil, ctx.Err()
			})
			Expect(res.Success).To(BeFalse())
			appErr, ok := internal.IsAppError(res.Err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Code).To(Equal(internal.ErrCodeExecutionTimeout))
		})

		It("hands the operation a copy of params", func() {
			params := map[string]any{"path": "/home"}
			g.ExecuteWithProtection(ctx, "virus_scan", "alice", params, func(ctx context.Context, p map[string]any) (any, error) {
				p["path"] = "/tmp"
				return nil, nil
			})
			Expect(params["path"]).To(Equal("/home"))
		})
	})

	Describe("approvals", func() {
		It("grants one execution after an approval", func() {
			denied := g.ExecuteWithProtection(ctx, "delete_user", "parent", nil, noop)
			Expect(denied.Success).To(BeFalse())

			pending := g.PendingApprovals()
			Expect(pending).To(HaveLen(1))

			ev, err := g.ApproveOperation(ctx, denied.EventID, "admin")
			Expect(err).NotTo(HaveOccurred())
			Expect(ev.Approved).To(BeTrue())
			Expect(ev.ReviewedBy).To(Equal("admin"))
			Expect(g.PendingGrants("delete_user", "parent")).To(Equal(1))

			Expect(g.ValidateOperation(ctx, "delete_user", "parent", nil).Allowed).To(BeTrue())
			Expect(g.PendingGrants("delete_user", "parent")).To(Equal(1))

			Expect(g.ExecuteWithProtection(ctx, "delete_user", "parent", nil, noop).Success).To(BeTrue())
			Expect(g.ExecuteWithProtection(ctx, "delete_user", "parent", nil, noop).Success).To(BeFalse())
			Expect(g.ExecuteWithProtection(ctx, "delete_user", "other", nil, noop).Success).To(BeFalse())
		})

		It("stores a reviewed copy and refuses a second review", func() {
			denied := g.ExecuteWithProtection(ctx, "delete_user", "parent", nil, noop)
			before, err := g.SecurityEvent(denied.EventID)
			Expect(err).NotTo(HaveOccurred())

			_, err = g.BlockOperation(ctx, denied.EventID, "admin", "not today")
			Expect(err).NotTo(HaveOccurred())

			Expect(before.ReviewedBy).To(BeEmpty())
			after, _ := g.SecurityEvent(denied.EventID)
			Expect(after.Blocked).To(BeTrue())
			Expect(after.Reason).To(Equal("not today"))
			Expect(g.UserActivity("parent")[0].ReviewedBy).To(Equal("admin"))

			_, err = g.ApproveOperation(ctx, denied.EventID, "admin")
			Expect(internal.KindOf(err)).To(Equal(internal.ErrorTypeConflict))
			Expect(g.PendingGrants("delete_user", "parent")).To(BeZero())
		})

		It("never approves a blacklisted operation", func() {
			denied := g.ExecuteWithProtection(ctx, "format_disk", "parent", nil, noop)
			_, err := g.ApproveOperation(ctx, denied.EventID, "admin")
			Expect(internal.KindOf(err)).To(Equal(internal.ErrorTypeOperationBlocked))
			Expect(g.ExecuteWithProtection(ctx, "format_disk", "parent", nil, noop).Success).To(BeFalse())
		})

		It("refuses to let a user approve their own request", func() {
			denied := g.ExecuteWithProtection(ctx, "delete_user", "parent", nil, noop)
			_, err := g.ApproveOperation(ctx, denied.EventID, "parent")
			Expect(internal.KindOf(err)).To(Equal(internal.ErrorTypePermissionDenied))
			Expect(g.PendingGrants("delete_user", "parent")).To(BeZero())

			ev, err := g.SecurityEvent(denied.EventID)
			Expect(err).NotTo(HaveOccurred())
			Expect(ev.Reviewed()).To(BeFalse())

			_, err = g.ApproveOperation(ctx, denied.EventID, "admin")
			Expect(err).NotTo(HaveOccurred())
		})

		It("reports unknown events", func() {
			_, err := g.ApproveOperation(ctx, "missing", "admin")
			Expect(err).To(MatchError(internal.ErrEventNotFound))
		})
	})

	Describe("administration and queries", func() {
		It("audits rule changes", func() {
			Expect(g.AddRule(ctx, "admin", gate.OperationRule{Operation: "wipe_phone", Risk: gate.RiskCritical, AutoBlock: true})).To(Succeed())
			Expect(recorder.Last().Type).To(Equal(audit.TypeRuleChange))
			Expect(g.ValidateOperation(ctx, "wipe_phone", "admin", nil).Allowed).To(BeFalse())

			Expect(g.RemoveRule(ctx, "admin", "wipe_phone")).To(Succeed())
			Expect(g.ValidateOperation(ctx, "wipe_phone", "admin", nil).Risk).To(Equal(gate.RiskMedium))
			Expect(g.RemoveRule(ctx, "admin", "wipe_phone")).To(MatchError(internal.ErrRuleNotFound))
		})

		It("applies list changes immediately", func() {
			Expect(g.AddToBlacklist(ctx, "admin", "vpn_connect")).To(Succeed())
			Expect(g.ValidateOperation(ctx, "vpn_connect", "parent", nil).Allowed).To(BeFalse())
			Expect(g.RemoveFromBlacklist(ctx, "admin", "vpn_connect")).To(BeTrue())
			Expect(g.AddToWhitelist(ctx, "admin", "bulk_delete")).To(Succeed())
			Expect(g.ValidateOperation(ctx, "bulk_delete", "parent", nil).Risk).To(Equal(gate.RiskLow))
			Expect(g.RemoveFromWhitelist(ctx, "admin", "bulk_delete")).To(BeTrue())
			Expect(g.RemoveFromWhitelist(ctx, "admin", "bulk_delete")).To(BeFalse())
		})

		It("bounds per-user history and returns it newest first", func() {
			for i := 0; i < 8; i++ {
				clock.Advance(time.Second)
				g.ValidateOperation(ctx, "vpn_connect", "parent", nil)
			}
			activity := g.UserActivity("parent")
			Expect(activity).To(HaveLen(5))
			Expect(activity[0].Timestamp.After(activity[4].Timestamp)).To(BeTrue())
			Expect(g.UserActivity("nobody")).To(BeEmpty())
		})

		It("limits security event listings", func() {
			for i := 0; i < 4; i++ {
				g.ValidateOperation(ctx, "vpn_connect", "parent", nil)
			}
			Expect(g.SecurityEvents(2)).To(HaveLen(2))
		})

		It("round-trips events and grants through export and import", func() {
			denied := g.ExecuteWithProtection(ctx, "delete_user", "parent", nil, noop)
			_, err := g.ApproveOperation(ctx, denied.EventID, "admin")
			Expect(err).NotTo(HaveOccurred())

			data, err := g.Export()
			Expect(err).NotTo(HaveOccurred())

			restored := gate.New(table, logger.Discard(), gate.WithClock(clock.Now))
			Expect(restored.Import(data)).To(Succeed())
			Expect(restored.SecurityEvents(0)).To(HaveLen(1))
			Expect(restored.UserActivity("parent")).To(HaveLen(1))
			Expect(restored.PendingGrants("delete_user", "parent")).To(Equal(1))
		})
	})
})
