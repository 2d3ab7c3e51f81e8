package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"math/rand"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"contacts-api/model"
	"contacts-api/storage"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const testSecret = "test-secret"

type sentMail struct {
	to    string
	token string
}

// mailRecorder stands in for the SMTP mailer so tests can observe
// the async verification sends
type mailRecorder struct {
	mu   sync.Mutex
	sent []sentMail
}

func (m *mailRecorder) SendVerification(to, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMail{to: to, token: token})
	return nil
}

func (m *mailRecorder) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func (m *mailRecorder) last() sentMail {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sent[len(m.sent)-1]
}

type testAPI struct {
	*API
	mails     *mailRecorder
	avatarDir string
	tmpDir    string
	ip        string
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	tmpDir := filepath.Join(t.TempDir(), "tmp")
	avatarDir := filepath.Join(t.TempDir(), "avatars")

	viper.Set("jwt.secret", testSecret)
	viper.Set("storage.tmp_dir", tmpDir)
	viper.Set("upload.max_size", int64(10<<20))

	database, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")))
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(model.User{}, model.RevokedToken{}))

	st, err := storage.NewLocal(avatarDir, "")
	require.NoError(t, err)

	mails := &mailRecorder{}

	a, err := NewRouterWith(database, st, mails)
	require.NoError(t, err)

	// A fresh IP per router keeps the rate limiter state isolated
	// between tests
	ip := fmt.Sprintf("10.0.%d.%d", rand.Intn(255), rand.Intn(255))

	return &testAPI{API: a, mails: mails, avatarDir: avatarDir, tmpDir: tmpDir, ip: ip}
}

func (a *testAPI) doJSON(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, rd)
	req.RemoteAddr = a.ip + ":12345"
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	a.Router.ServeHTTP(w, req)
	return w
}

func (a *testAPI) doUpload(t *testing.T, token string, data []byte, contentType string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="avatar"; filename="avatar.png"`)
	h.Set("Content-Type", contentType)

	part, err := mw.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPatch, "/avatars", &buf)
	req.RemoteAddr = a.ip + ":12345"
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	a.Router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func makePNG(t *testing.T, w, h int) []byte {
	t.Helper()

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))))
	return buf.Bytes()
}

func (a *testAPI) signup(t *testing.T, email, password string) {
	t.Helper()

	w := a.doJSON(t, http.MethodPost, "/signup", "", gin.H{"email": email, "password": password})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func (a *testAPI) verify(t *testing.T, email string) {
	t.Helper()

	var user model.User
	require.NoError(t, a.DB.Where("email = ?", email).First(&user).Error)

	w := a.doJSON(t, http.MethodGet, "/verify/"+user.VerificationToken, "", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func (a *testAPI) login(t *testing.T, email, password string) string {
	t.Helper()

	w := a.doJSON(t, http.MethodPost, "/login", "", gin.H{"email": email, "password": password})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	token, ok := decodeBody(t, w)["token"].(string)
	require.True(t, ok)
	require.NotEmpty(t, token)
	return token
}

func TestFullAccountLifecycle(t *testing.T) {
	a := newTestAPI(t)

	// Signup
	w := a.doJSON(t, http.MethodPost, "/signup", "", gin.H{"email": "a@x.com", "password": "secret1"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	body := decodeBody(t, w)
	assert.Equal(t, "a@x.com", body["email"])
	assert.Equal(t, "starter", body["subscription"])
	assert.Contains(t, body["avatarURL"], "gravatar.com")

	var user model.User
	require.NoError(t, a.DB.Where("email = ?", "a@x.com").First(&user).Error)
	assert.False(t, user.Verified)
	assert.NotEmpty(t, user.VerificationToken)

	// The verification mail goes out asynchronously
	require.Eventually(t, func() bool { return a.mails.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "a@x.com", a.mails.last().to)
	assert.Equal(t, user.VerificationToken, a.mails.last().token)

	// Login before verification fails and re-sends the mail
	w = a.doJSON(t, http.MethodPost, "/login", "", gin.H{"email": "a@x.com", "password": "secret1"})
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "not_verified", decodeBody(t, w)["error"])
	require.Eventually(t, func() bool { return a.mails.count() == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, user.VerificationToken, a.mails.last().token)

	// Verify via the mailed token
	w = a.doJSON(t, http.MethodGet, "/verify/"+user.VerificationToken, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decodeBody(t, w)["verified"])

	// Replaying the link fails, the token is single use
	w = a.doJSON(t, http.MethodGet, "/verify/"+user.VerificationToken, "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Login now succeeds
	token := a.login(t, "a@x.com", "secret1")

	// The principal resolves
	w = a.doJSON(t, http.MethodGet, "/current", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body = decodeBody(t, w)
	assert.Equal(t, "a@x.com", body["email"])
	assert.Equal(t, "starter", body["subscription"])

	// Logout revokes the token
	w = a.doJSON(t, http.MethodGet, "/logout", token, nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = a.doJSON(t, http.MethodGet, "/current", token, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "not_authorized", decodeBody(t, w)["error"])
}

func TestSignupDuplicateEmailAnyCase(t *testing.T) {
	a := newTestAPI(t)
	a.signup(t, "a@x.com", "secret1")

	w := a.doJSON(t, http.MethodPost, "/signup", "", gin.H{"email": "A@X.COM", "password": "other-secret"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "email_in_use", decodeBody(t, w)["error"])
}

func TestSignupValidation(t *testing.T) {
	a := newTestAPI(t)

	w := a.doJSON(t, http.MethodPost, "/signup", "", gin.H{"email": "not-an-email", "password": "secret1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = a.doJSON(t, http.MethodPost, "/signup", "", gin.H{"email": "a@x.com", "password": "short"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLoginFailuresAreUniform(t *testing.T) {
	a := newTestAPI(t)
	a.signup(t, "a@x.com", "secret1")
	a.verify(t, "a@x.com")

	// Unknown email and wrong password look exactly the same
	w1 := a.doJSON(t, http.MethodPost, "/login", "", gin.H{"email": "nobody@x.com", "password": "secret1"})
	w2 := a.doJSON(t, http.MethodPost, "/login", "", gin.H{"email": "a@x.com", "password": "wrong-password"})

	assert.Equal(t, http.StatusUnauthorized, w1.Code)
	assert.Equal(t, http.StatusUnauthorized, w2.Code)
	assert.Equal(t, decodeBody(t, w1)["error"], decodeBody(t, w2)["error"])
	assert.Equal(t, decodeBody(t, w1)["message"], decodeBody(t, w2)["message"])
}

func TestAuthGatewayUniform401(t *testing.T) {
	a := newTestAPI(t)

	// No header
	w := a.doJSON(t, http.MethodGet, "/current", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "not_authorized", decodeBody(t, w)["error"])

	// Garbage token
	w = a.doJSON(t, http.MethodGet, "/current", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "not_authorized", decodeBody(t, w)["error"])

	// Expired token, signed with the right secret
	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user123",
		"iat": time.Now().Add(-2 * time.Hour).Unix(),
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
	raw, err := expired.SignedString([]byte(testSecret))
	require.NoError(t, err)

	w = a.doJSON(t, http.MethodGet, "/current", raw, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "not_authorized", decodeBody(t, w)["error"])

	// Valid signature but unknown subject
	unknown := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "no-such-user",
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	raw, err = unknown.SignedString([]byte(testSecret))
	require.NoError(t, err)

	w = a.doJSON(t, http.MethodGet, "/current", raw, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "not_authorized", decodeBody(t, w)["error"])
}

func TestLogoutRevokesImmediately(t *testing.T) {
	a := newTestAPI(t)
	a.signup(t, "a@x.com", "secret1")
	a.verify(t, "a@x.com")
	token := a.login(t, "a@x.com", "secret1")

	w := a.doJSON(t, http.MethodGet, "/logout", token, nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	// The token was nowhere near its natural expiry
	for range 3 {
		w = a.doJSON(t, http.MethodGet, "/current", token, nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	}
}

func TestVerifyResend(t *testing.T) {
	a := newTestAPI(t)
	a.signup(t, "a@x.com", "secret1")
	require.Eventually(t, func() bool { return a.mails.count() == 1 }, 2*time.Second, 10*time.Millisecond)

	var user model.User
	require.NoError(t, a.DB.Where("email = ?", "a@x.com").First(&user).Error)

	// Missing email field
	w := a.doJSON(t, http.MethodPost, "/verify", "", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Unknown account
	w = a.doJSON(t, http.MethodPost, "/verify", "", gin.H{"email": "nobody@x.com"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Re-send uses the stored token without rotating it
	w = a.doJSON(t, http.MethodPost, "/verify", "", gin.H{"email": "a@x.com"})
	require.Equal(t, http.StatusOK, w.Code)
	require.Eventually(t, func() bool { return a.mails.count() == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, user.VerificationToken, a.mails.last().token)

	// Already verified accounts can't re-request
	a.verify(t, "a@x.com")
	w = a.doJSON(t, http.MethodPost, "/verify", "", gin.H{"email": "a@x.com"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "already_verified", decodeBody(t, w)["error"])
}

func TestAvatarUploadAndServe(t *testing.T) {
	a := newTestAPI(t)
	a.signup(t, "a@x.com", "secret1")
	a.verify(t, "a@x.com")
	token := a.login(t, "a@x.com", "secret1")

	w := a.doUpload(t, token, makePNG(t, 120, 90), "image/png")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	avatarURL, ok := decodeBody(t, w)["avatarURL"].(string)
	require.True(t, ok)
	require.NotEmpty(t, avatarURL)

	var user model.User
	require.NoError(t, a.DB.Where("email = ?", "a@x.com").First(&user).Error)
	assert.Equal(t, avatarURL, user.AvatarURL)

	// The stored object is the canonical 250x250 square
	entries, err := os.ReadDir(a.avatarDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	f, err := os.Open(filepath.Join(a.avatarDir, entries[0].Name()))
	require.NoError(t, err)
	defer f.Close()

	img, err := jpeg.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, 250, img.Bounds().Dx())
	assert.Equal(t, 250, img.Bounds().Dy())

	// No temp or staged leftovers
	leftovers, err := os.ReadDir(a.tmpDir)
	require.NoError(t, err)
	assert.Empty(t, leftovers)

	// And it can be fetched back
	w = a.doJSON(t, http.MethodGet, "/avatars/"+entries[0].Name(), "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	img, err = jpeg.Decode(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 250, img.Bounds().Dx())
}

func TestAvatarUploadRejectsNonImages(t *testing.T) {
	a := newTestAPI(t)
	a.signup(t, "a@x.com", "secret1")
	a.verify(t, "a@x.com")
	token := a.login(t, "a@x.com", "secret1")

	// Claims to be a PNG but the bytes say otherwise
	w := a.doUpload(t, token, []byte("definitely not an image"), "image/png")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var user model.User
	require.NoError(t, a.DB.Where("email = ?", "a@x.com").First(&user).Error)
	assert.Contains(t, user.AvatarURL, "gravatar.com")
}

func TestAvatarUploadRequiresAuth(t *testing.T) {
	a := newTestAPI(t)

	w := a.doUpload(t, "", makePNG(t, 50, 50), "image/png")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
