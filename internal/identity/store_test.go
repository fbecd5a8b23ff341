package identity_test

import (
	"context"

	"github.com/frahmantamala/familyguard/internal"
	"github.com/frahmantamala/familyguard/internal/audit"
	"github.com/frahmantamala/familyguard/internal/identity"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"golang.org/x/crypto/bcrypt"
)

var _ = Describe("RoleTable", func() {
	It("grants DELETE_DATA to ADMIN and not to MONITOR", func() {
		roles := identity.NewRoleTable()
		Expect(roles.HasPermission(identity.RoleAdmin, identity.PermDeleteData)).To(BeTrue())
		Expect(roles.HasPermission(identity.RoleMonitor, identity.PermDeleteData)).To(BeFalse())
	})

	It("hands out copies of permission sets", func() {
		roles := identity.NewRoleTable()
		perms := roles.Permissions(identity.RoleGuest)
		perms[identity.PermDeleteData] = struct{}{}
		Expect(roles.HasPermission(identity.RoleGuest, identity.PermDeleteData)).To(BeFalse())
	})

	It("round-trips through export and import", func() {
		roles := identity.NewRoleTable()
		Expect(roles.SetRolePermissions(identity.RoleGuest, identity.PermViewAudit)).To(Succeed())
		data, err := roles.Export()
		Expect(err).NotTo(HaveOccurred())

		restored := identity.NewRoleTable()
		Expect(restored.Import(data)).To(Succeed())
		Expect(restored.Permissions(identity.RoleGuest).Slice()).To(Equal([]identity.Permission{identity.PermViewAudit}))
	})

	It("rejects unknown roles", func() {
		_, err := identity.ParseRole("ROOT")
		Expect(internal.KindOf(err)).To(Equal(internal.ErrorTypeValidation))
	})
})

var _ = Describe("Store", func() {
	var store *identity.Store

	BeforeEach(func() {
		store = identity.NewStore(identity.NewRoleTable())
	})

	It("creates active users and refuses duplicate usernames", func() {
		u, err := store.Create("parent", identity.RoleParent)
		Expect(err).NotTo(HaveOccurred())
		Expect(u.Active).To(BeTrue())
		Expect(u.ID).NotTo(BeEmpty())

		_, err = store.Create("parent", identity.RoleGuest)
		Expect(internal.KindOf(err)).To(Equal(internal.ErrorTypeConflict))
	})

	It("validates usernames", func() {
		_, err := store.Create("bad name!", identity.RoleGuest)
		Expect(internal.KindOf(err)).To(Equal(internal.ErrorTypeValidation))
	})

	It("returns copies that cannot mutate stored state", func() {
		u, _ := store.Create("guest", identity.RoleGuest)
		u.Role = identity.RoleAdmin

		stored, err := store.Get(u.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(stored.Role).To(Equal(identity.RoleGuest))
	})

	It("archives instead of deleting", func() {
		u, _ := store.Create("guest", identity.RoleGuest)
		archived, err := store.Archive(u.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(archived.Archived).To(BeTrue())
		Expect(archived.Active).To(BeFalse())
		Expect(store.List()).To(HaveLen(1))
	})

	It("restores users from an export", func() {
		u, _ := store.Create("monitor", identity.RoleMonitor)
		data, err := store.Export()
		Expect(err).NotTo(HaveOccurred())

		restored := identity.NewStore(identity.NewRoleTable())
		Expect(restored.Import(data)).To(Succeed())
		got, err := restored.GetByUsername("monitor")
		Expect(err).NotTo(HaveOccurred())
		Expect(got.ID).To(Equal(u.ID))
	})
})

var _ = Describe("Admin", func() {
	var (
		ctx      context.Context
		store    *identity.Store
		lockout  *identity.LockoutTracker
		verifier *identity.BcryptVerifier
		recorder *recordingRecorder
		admin    *identity.Admin
	)

	BeforeEach(func() {
		ctx = context.Background()
		store = identity.NewStore(identity.NewRoleTable())
		lockout = identity.NewLockoutTracker(store, identity.WithMaxAttempts(1))
		verifier = identity.NewBcryptVerifier(bcrypt.MinCost)
		recorder = &recordingRecorder{}
		admin = identity.NewAdmin(store, lockout, verifier, recorder)
	})

	It("provisions users with credentials and audits the change", func() {
		u, err := admin.CreateUser(ctx, "root", "kid", identity.RoleGuest, "pw")
		Expect(err).NotTo(HaveOccurred())
		Expect(verifier.Verify(ctx, u.ID, "pw")).To(Succeed())

		last := recorder.Last()
		Expect(last.Type).To(Equal(audit.TypeUserAdmin))
		Expect(last.Operation).To(Equal("create_user"))
		Expect(last.User).To(Equal("root"))
	})

	It("changes roles", func() {
		u, _ := admin.CreateUser(ctx, "root", "kid", identity.RoleGuest, "")
		changed, err := admin.ChangeRole(ctx, "root", u.ID, identity.RoleParent)
		Expect(err).NotTo(HaveOccurred())
		Expect(changed.Role).To(Equal(identity.RoleParent))
		Expect(recorder.Last().Details).To(HaveKeyWithValue("from", identity.RoleGuest))
	})

	It("unlocks a locked account", func() {
		u, _ := admin.CreateUser(ctx, "root", "kid", identity.RoleGuest, "")
		_, err := lockout.RecordFailure(u.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(lockout.IsLocked(u.ID)).To(BeTrue())

		Expect(admin.Unlock(ctx, "root", u.ID)).To(Succeed())
		Expect(lockout.IsLocked(u.ID)).To(BeFalse())
	})
})
