package identity_test

import (
	"context"
	"time"

	"github.com/frahmantamala/familyguard/internal"
	"github.com/frahmantamala/familyguard/internal/audit"
	"github.com/frahmantamala/familyguard/internal/identity"
	"github.com/frahmantamala/familyguard/pkg/logger"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"golang.org/x/crypto/bcrypt"
)

var _ = Describe("Authenticator", func() {
	var (
		ctx      context.Context
		clock    *fakeClock
		store    *identity.Store
		lockout  *identity.LockoutTracker
		verifier *identity.BcryptVerifier
		recorder *recordingRecorder
		auth     *identity.Authenticator
		analyst  *identity.User
	)

	build := func(filter *identity.IPFilter) {
		auth = identity.NewAuthenticator(store, lockout, verifier, logger.Discard(),
			identity.WithAuthClock(clock.Now),
			identity.WithIPFilter(filter),
			identity.WithAuditRecorder(recorder),
		)
	}

	BeforeEach(func() {
		ctx = context.Background()
		clock = newFakeClock()
		store = identity.NewStore(identity.NewRoleTable(), identity.WithStoreClock(clock.Now))
		lockout = identity.NewLockoutTracker(store,
			identity.WithMaxAttempts(5),
			identity.WithLockoutDuration(15*time.Minute),
			identity.WithLockoutClock(clock.Now),
		)
		verifier = identity.NewBcryptVerifier(bcrypt.MinCost)
		recorder = &recordingRecorder{}

		var err error
		analyst, err = store.Create("analyst", identity.RoleAnalyst)
		Expect(err).NotTo(HaveOccurred())
		Expect(verifier.SetPassword(analyst.ID, "s3cret")).To(Succeed())

		build(nil)
	})

	It("authenticates with the right password and records the login", func() {
		u, err := auth.Authenticate(ctx, "analyst", "s3cret", "10.0.0.5")
		Expect(err).NotTo(HaveOccurred())
		Expect(u.Username).To(Equal("analyst"))
		Expect(u.LastLogin).To(Equal(clock.Now()))

		last := recorder.Last()
		Expect(last.Type).To(Equal(audit.TypeAuthentication))
		Expect(last.Level).To(Equal(audit.LevelInfo))
		Expect(last.Success).To(BeTrue())
	})

	It("rejects unknown users without revealing which part was wrong", func() {
		_, err := auth.Authenticate(ctx, "nobody", "s3cret", "10.0.0.5")
		Expect(err).To(MatchError(internal.ErrInvalidCredentials))
	})

	It("rejects archived users before looking at credentials", func() {
		_, err := store.Archive(analyst.ID)
		Expect(err).NotTo(HaveOccurred())

		_, err = auth.Authenticate(ctx, "analyst", "s3cret", "10.0.0.5")
		Expect(err).To(MatchError(internal.ErrUserInactive))
	})

	It("requires both username and password", func() {
		_, err := auth.Authenticate(ctx, "analyst", "", "10.0.0.5")
		Expect(internal.KindOf(err)).To(Equal(internal.ErrorTypeValidation))
	})

	Describe("lockout", func() {
		failFiveTimes := func() {
			for i := 0; i < 4; i++ {
				_, err := auth.Authenticate(ctx, "analyst", "wrong", "10.0.0.5")
				Expect(err).To(MatchError(internal.ErrInvalidCredentials))
			}
			_, err := auth.Authenticate(ctx, "analyst", "wrong", "10.0.0.5")
			Expect(internal.KindOf(err)).To(Equal(internal.ErrorTypeLockedAccount))
		}

		It("locks after five failures and rejects the correct password while locked", func() {
			failFiveTimes()
			Expect(auth.IsLocked("analyst")).To(BeTrue())

			_, err := auth.Authenticate(ctx, "analyst", "s3cret", "10.0.0.5")
			Expect(internal.KindOf(err)).To(Equal(internal.ErrorTypeLockedAccount))
			Expect(err.Error()).To(ContainSubstring("account locked until"))
		})

		It("records the lock as a security event", func() {
			failFiveTimes()
			last := recorder.Last()
			Expect(last.Level).To(Equal(audit.LevelSecurity))
			Expect(last.Details).To(HaveKeyWithValue("failed_attempts", 5))
		})

		It("does not extend the window for attempts made while locked", func() {
			failFiveTimes()
			locked, _ := store.GetByUsername("analyst")
			until := locked.LockedUntil

			clock.Advance(time.Minute)
			_, _ = auth.Authenticate(ctx, "analyst", "wrong", "10.0.0.5")

			after, _ := store.GetByUsername("analyst")
			Expect(after.LockedUntil).To(Equal(until))
		})

		It("lets the correct password through once the window elapses", func() {
			failFiveTimes()
			clock.Advance(15 * time.Minute)

			u, err := auth.Authenticate(ctx, "analyst", "s3cret", "10.0.0.5")
			Expect(err).NotTo(HaveOccurred())
			Expect(u.FailedAttempts).To(BeZero())
			Expect(u.LockedUntil.IsZero()).To(BeTrue())
			Expect(auth.IsLocked("analyst")).To(BeFalse())
		})

		It("resets the counter after a successful login", func() {
			for i := 0; i < 4; i++ {
				_, _ = auth.Authenticate(ctx, "analyst", "wrong", "10.0.0.5")
			}
			_, err := auth.Authenticate(ctx, "analyst", "s3cret", "10.0.0.5")
			Expect(err).NotTo(HaveOccurred())

			_, err = auth.Authenticate(ctx, "analyst", "wrong", "10.0.0.5")
			Expect(err).To(MatchError(internal.ErrInvalidCredentials))
			Expect(auth.IsLocked("analyst")).To(BeFalse())
		})
	})

	Describe("ip filtering", func() {
		It("rejects blacklisted addresses, including CIDR ranges", func() {
			filter, err := identity.NewIPFilter([]string{"203.0.113.0/24"}, nil)
			Expect(err).NotTo(HaveOccurred())
			build(filter)

			_, err = auth.Authenticate(ctx, "analyst", "s3cret", "203.0.113.9")
			Expect(internal.KindOf(err)).To(Equal(internal.ErrorTypePermissionDenied))
			Expect(err.Error()).To(ContainSubstring("blacklisted"))
		})

		It("admits only whitelisted addresses when a whitelist is set", func() {
			filter, err := identity.NewIPFilter(nil, []string{"10.0.0.0/8"})
			Expect(err).NotTo(HaveOccurred())
			build(filter)

			_, err = auth.Authenticate(ctx, "analyst", "s3cret", "192.168.1.1")
			Expect(err.Error()).To(ContainSubstring("not whitelisted"))

			_, err = auth.Authenticate(ctx, "analyst", "s3cret", "10.1.2.3:5555")
			Expect(err).NotTo(HaveOccurred())
		})

		It("does not count ip rejections toward the lockout", func() {
			filter, _ := identity.NewIPFilter([]string{"198.51.100.7"}, nil)
			build(filter)
			for i := 0; i < 6; i++ {
				_, _ = auth.Authenticate(ctx, "analyst", "wrong", "198.51.100.7")
			}
			Expect(auth.IsLocked("analyst")).To(BeFalse())
		})
	})

	It("rejects malformed ip list entries", func() {
		_, err := identity.NewIPFilter([]string{"not-an-ip"}, nil)
		Expect(err).To(HaveOccurred())
	})
})
