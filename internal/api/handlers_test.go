package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/pankajsagvekar/meal-mitra/internal/app"
	"github.com/pankajsagvekar/meal-mitra/internal/domain"
	"github.com/pankajsagvekar/meal-mitra/internal/store"
)

const testSecret = "test-session-secret"

type apiFixture struct {
	repo   *store.MemoryRepository
	router http.Handler
	donor  domain.Principal
	ngo    domain.Principal
}

func newAPIFixture(t *testing.T, opts app.Options) *apiFixture {
	t.Helper()
	opts.CodeHashCost = bcrypt.MinCost
	repo := store.NewMemoryRepository()
	service := app.NewService(repo, nil, nil, opts)

	f := &apiFixture{
		repo:   repo,
		router: NewRouter(NewHandlers(service), testSecret, []string{"*"}),
	}
	f.donor = f.addPrincipal(domain.PrincipalUser, domain.VerificationApproved)
	f.ngo = f.addPrincipal(domain.PrincipalNGO, domain.VerificationApproved)
	return f
}

func (f *apiFixture) addPrincipal(kind domain.PrincipalKind, status domain.VerificationStatus) domain.Principal {
	id := uuid.New()
	p := domain.Principal{
		ID:           id,
		Kind:         kind,
		Email:        id.String()[:8] + "@example.org",
		DisplayName:  "principal " + id.String()[:8],
		Verification: status,
	}
	f.repo.PutPrincipal(p)
	return p
}

func signToken(t *testing.T, secret string, p domain.Principal) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  p.ID.String(),
		"kind": string(p.Kind),
		"exp":  time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func (f *apiFixture) do(t *testing.T, method, path string, as *domain.Principal, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if as != nil {
		req.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, *as))
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeErrorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode error body %q: %v", rec.Body.String(), err)
	}
	return body.Code
}

func (f *apiFixture) createDonation(t *testing.T, text string, ngoOnly bool) uuid.UUID {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/donations", &f.donor, map[string]interface{}{
		"text":        text,
		"is_ngo_only": ngoOnly,
		"price":       50,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp domain.CreateDonationResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode create response: %v", err)
	}
	return resp.DonationID
}

func TestAuthRequired(t *testing.T) {
	f := newAPIFixture(t, app.Options{})

	rec := f.do(t, http.MethodGet, "/donations", nil, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/donations", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "wrong-secret", f.donor))
	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with foreign signature, got %d", rec.Code)
	}

	ghost := domain.Principal{ID: uuid.New(), Kind: domain.PrincipalUser}
	if rec := f.do(t, http.MethodGet, "/donations", &ghost, nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unknown principal, got %d", rec.Code)
	}

	health := httptest.NewRecorder()
	f.router.ServeHTTP(health, httptest.NewRequest(http.MethodGet, "/health", nil))
	if health.Code != http.StatusOK {
		t.Fatalf("expected health to be public, got %d", health.Code)
	}
}

func TestHandoverFlow(t *testing.T) {
	f := newAPIFixture(t, app.Options{})
	id := f.createDonation(t, "office mein 10 kg chawal bacha hai", true)

	rec := f.do(t, http.MethodPost, "/donations/"+id.String()+"/claim", &f.ngo, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected claim 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var claim struct {
		Code  string  `json:"handover_code"`
		Price float64 `json:"price"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &claim); err != nil {
		t.Fatalf("failed to decode claim response: %v", err)
	}
	if claim.Code == "" || claim.Price != 0 {
		t.Fatalf("unexpected claim response: %s", rec.Body.String())
	}

	rec = f.do(t, http.MethodPost, "/donations/"+id.String()+"/claim", &f.ngo, nil)
	if rec.Code != http.StatusConflict || decodeErrorCode(t, rec) != "invalid_state" {
		t.Fatalf("expected 409 invalid_state on second claim, got %d: %s", rec.Code, rec.Body.String())
	}

	wrong := "000000"
	if wrong == claim.Code {
		wrong = "999999"
	}
	rec = f.do(t, http.MethodPost, "/donations/"+id.String()+"/verify", &f.donor, map[string]string{"code": wrong})
	if rec.Code != http.StatusUnprocessableEntity || decodeErrorCode(t, rec) != "code_mismatch" {
		t.Fatalf("expected 422 code_mismatch, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = f.do(t, http.MethodPost, "/donations/"+id.String()+"/verify", &f.ngo, map[string]string{"code": claim.Code})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected claimant to be forbidden from verifying, got %d", rec.Code)
	}

	rec = f.do(t, http.MethodPost, "/donations/"+id.String()+"/verify", &f.donor, map[string]string{"code": claim.Code})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected verify 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var completed domain.Donation
	if err := json.Unmarshal(rec.Body.Bytes(), &completed); err != nil {
		t.Fatalf("failed to decode donation: %v", err)
	}
	if completed.Status != domain.StatusCompleted {
		t.Fatalf("expected Completed, got %s", completed.Status)
	}
	if strings.Contains(rec.Body.String(), "code_hash") {
		t.Fatalf("code hash must never be serialised")
	}

	rec = f.do(t, http.MethodPost, "/donations/"+id.String()+"/verify", &f.donor, map[string]string{"code": claim.Code})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 after completion, got %d", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/dashboard", &f.donor, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected dashboard 200, got %d", rec.Code)
	}
	var dashboard domain.Dashboard
	if err := json.Unmarshal(rec.Body.Bytes(), &dashboard); err != nil {
		t.Fatalf("failed to decode dashboard: %v", err)
	}
	if dashboard.Impact.MassSavedKg != 10 || dashboard.Impact.MealsEquivalent != 20 {
		t.Fatalf("unexpected impact %+v", dashboard.Impact)
	}
}

func TestClaimRejections(t *testing.T) {
	f := newAPIFixture(t, app.Options{})
	id := f.createDonation(t, "10 kg rice", true)

	pending := f.addPrincipal(domain.PrincipalNGO, domain.VerificationApplied)
	rec := f.do(t, http.MethodPost, "/donations/"+id.String()+"/claim", &pending, nil)
	if rec.Code != http.StatusForbidden || decodeErrorCode(t, rec) != "forbidden" {
		t.Fatalf("expected 403 for unapproved organization, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = f.do(t, http.MethodPost, "/donations/"+uuid.New().String()+"/claim", &f.ngo, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	rec = f.do(t, http.MethodPost, "/donations/not-a-uuid/claim", &f.ngo, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed id, got %d", rec.Code)
	}
}

func TestVerifyRateLimited(t *testing.T) {
	f := newAPIFixture(t, app.Options{VerifyLimitPerMinute: 2})
	id := f.createDonation(t, "2 kg dal", false)

	if rec := f.do(t, http.MethodPost, "/donations/"+id.String()+"/claim", &f.ngo, nil); rec.Code != http.StatusOK {
		t.Fatalf("expected claim 200, got %d", rec.Code)
	}

	for i := 0; i < 2; i++ {
		rec := f.do(t, http.MethodPost, "/donations/"+id.String()+"/verify", &f.donor, map[string]string{"code": "abcdef"})
		if rec.Code != http.StatusUnprocessableEntity {
			t.Fatalf("attempt %d: expected 422, got %d", i, rec.Code)
		}
	}
	rec := f.do(t, http.MethodPost, "/donations/"+id.String()+"/verify", &f.donor, map[string]string{"code": "abcdef"})
	if rec.Code != http.StatusTooManyRequests || decodeErrorCode(t, rec) != "rate_limited" {
		t.Fatalf("expected 429, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
}

func TestCreateDonationValidation(t *testing.T) {
	f := newAPIFixture(t, app.Options{})

	rec := f.do(t, http.MethodPost, "/donations", &f.donor, map[string]string{"text": "  "})
	if rec.Code != http.StatusBadRequest || decodeErrorCode(t, rec) != "validation_error" {
		t.Fatalf("expected 400 validation_error, got %d: %s", rec.Code, rec.Body.String())
	}

	req := httptest.NewRequest(http.MethodPost, "/donations", strings.NewReader("{not json"))
	req.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, f.donor))
	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed body, got %d", rec.Code)
	}
}

func TestListingVisibility(t *testing.T) {
	f := newAPIFixture(t, app.Options{})
	f.createDonation(t, "10 kg rice", true)
	f.createDonation(t, "2 kg dal", false)

	individual := f.addPrincipal(domain.PrincipalUser, domain.VerificationApproved)
	var listed []domain.Donation

	rec := f.do(t, http.MethodGet, "/donations", &individual, nil)
	if err := json.Unmarshal(rec.Body.Bytes(), &listed); err != nil {
		t.Fatalf("failed to decode list: %v", err)
	}
	if len(listed) != 1 {
		t.Fatalf("expected individuals to see 1 listing, got %d", len(listed))
	}

	rec = f.do(t, http.MethodGet, "/donations", &f.ngo, nil)
	if err := json.Unmarshal(rec.Body.Bytes(), &listed); err != nil {
		t.Fatalf("failed to decode list: %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("expected organizations to see 2 listings, got %d", len(listed))
	}
}

func TestCertificateAndAdminRoutes(t *testing.T) {
	f := newAPIFixture(t, app.Options{})
	id := f.createDonation(t, "2 kg dal", false)

	rec := f.do(t, http.MethodGet, "/impact/certificate", &f.donor, nil)
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "application/pdf" {
		t.Fatalf("expected pdf, got %d %q", rec.Code, rec.Header().Get("Content-Type"))
	}

	if rec := f.do(t, http.MethodDelete, "/admin/donations/"+id.String(), &f.donor, nil); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-admin, got %d", rec.Code)
	}

	admin := f.addPrincipal(domain.PrincipalUser, domain.VerificationApproved)
	admin.IsAdmin = true
	f.repo.PutPrincipal(admin)
	if rec := f.do(t, http.MethodDelete, "/admin/donations/"+id.String(), &admin, nil); rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/donations/"+id.String(), &f.donor, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected deleted donation to be gone, got %d", rec.Code)
	}
}
