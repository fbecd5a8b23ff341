package session_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/frahmantamala/familyguard/internal"
	"github.com/frahmantamala/familyguard/internal/identity"
	"github.com/frahmantamala/familyguard/internal/session"
	"github.com/frahmantamala/familyguard/pkg/logger"
	"github.com/go-chi/chi"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type stubAuthenticator struct {
	user *identity.User
	err  error
}

func (s *stubAuthenticator) Authenticate(ctx context.Context, username, password, ip string) (*identity.User, error) {
	return s.user, s.err
}

var _ = Describe("Handler", func() {
	var (
		roles   *identity.RoleTable
		manager *session.Manager
		stub    *stubAuthenticator
		router  chi.Router
	)

	BeforeEach(func() {
		roles = identity.NewRoleTable()
		store := identity.NewStore(roles)
		parent, err := store.Create("parent", identity.RoleParent)
		Expect(err).NotTo(HaveOccurred())

		manager = session.NewManager(roles, logger.Discard())
		stub = &stubAuthenticator{user: parent}
		h := session.NewHandler(stub, manager, roles, logger.Discard())

		router = chi.NewRouter()
		router.Post("/auth/login", h.Login)
		router.Post("/auth/logout", h.Logout)
		router.Get("/sessions/current", h.Current)
		router.Get("/sessions/current/permissions/{permission}", h.CheckPermission)
	})

	login := func() string {
		req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"username":"parent","password":"pw"}`))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		Expect(rec.Code).To(Equal(http.StatusOK))

		var resp session.LoginResponse
		Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
		Expect(resp.User.Username).To(Equal("parent"))
		return resp.SessionID
	}

	It("logs in and reports the current session", func() {
		id := login()

		req := httptest.NewRequest(http.MethodGet, "/sessions/current", nil)
		req.Header.Set("Authorization", "Bearer "+id)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(ContainSubstring(`"username":"parent"`))
		Expect(rec.Body.String()).NotTo(ContainSubstring(id))
	})

	It("answers permission checks from the snapshot", func() {
		id := login()

		req := httptest.NewRequest(http.MethodGet, "/sessions/current/permissions/APPROVE_OPERATIONS", nil)
		req.Header.Set("Authorization", "Bearer "+id)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		var resp session.PermissionResponse
		Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
		Expect(resp.Granted).To(BeTrue())
	})

	It("maps authentication errors to their status", func() {
		stub.err = internal.NewLockedAccountError("account locked until later")
		stub.user = nil

		req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"username":"parent","password":"pw"}`))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		Expect(rec.Code).To(Equal(http.StatusLocked))
		Expect(rec.Body.String()).To(ContainSubstring("LOCKED_ACCOUNT"))
	})

	It("logs out", func() {
		id := login()

		req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
		req.Header.Set("Authorization", "Bearer "+id)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		Expect(rec.Code).To(Equal(http.StatusNoContent))

		req = httptest.NewRequest(http.MethodGet, "/sessions/current", nil)
		req.Header.Set("Authorization", "Bearer "+id)
		rec = httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		Expect(rec.Code).To(Equal(http.StatusUnauthorized))
	})
})
