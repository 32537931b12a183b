package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"io"
	"io/fs"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/disintegration/imaging"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"labweb/models"
	"labweb/pkg/config"
	"labweb/pkg/photo"
	"labweb/pkg/storage"
	"labweb/pkg/store"
)

// helper to perform requests with auth token
func performRequest(r http.Handler, method, path string, body io.Reader, token string, contentType string) *httptest.ResponseRecorder {
	req, _ := http.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

// newMockServer wires the package globals to a sqlmock-backed store and a
// temporary media directory.
func newMockServer(t *testing.T) (*gin.Engine, sqlmock.Sqlmock) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg = config.Config{
		AppEnv:           "test",
		PhotoMaxBytes:    1 << 20,
		DocumentMaxBytes: 1 << 20,
		AccessTokenTTL:   time.Hour,
		RefreshTokenTTL:  24 * time.Hour,
	}
	jwtSecret = []byte("test-secret")
	logger = zaptest.NewLogger(t)

	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	db, err = gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{Logger: gormlogger.Discard})
	require.NoError(t, err)

	media, err = storage.NewLocal(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, photo.EnsureDefault(media))
	photos = photo.NewManager(media, logger)
	st = store.New(db, photos, logger)

	r := gin.New()
	setupRoutes(r)
	return r, mock
}

func tokenFor(t *testing.T, uid uint, staff models.StaffStatus) string {
	t.Helper()
	tok, err := issueAccessToken(&models.User{ID: uid, Username: "ada"}, staff, time.Hour)
	require.NoError(t, err)
	return tok
}

func userRows(id uint, username, first, last string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "username", "first_name", "last_name", "is_active"}).
		AddRow(id, username, first, last, true)
}

func profileRows(id, userID uint, photoRef string, staff models.StaffStatus) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "user_id", "photo", "bio", "staff_status", "title"}).
		AddRow(id, userID, photoRef, "", string(staff), "--")
}

func encodeImage(t *testing.T, name string, img image.Image) []byte {
	t.Helper()
	format, err := imaging.FormatFromFilename(name)
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, img, format))
	return buf.Bytes()
}

func multipartBody(t *testing.T, fields map[string]string, fileField, fileName string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if fileField != "" {
		w, err := mw.CreateFormFile(fileField, fileName)
		require.NoError(t, err)
		_, err = w.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return buf, mw.FormDataContentType()
}

func errorOf(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	msg, _ := body["error"].(string)
	return msg
}

func TestAccessTokenRoundTrip(t *testing.T) {
	jwtSecret = []byte("test-secret")
	tok, err := issueAccessToken(&models.User{ID: 9, Username: "ada"}, models.StaffModerator, time.Minute)
	require.NoError(t, err)

	claims, err := parseAccessToken(tok)
	require.NoError(t, err)
	assert.Equal(t, uint(9), claims.UserID)
	assert.Equal(t, "ada", claims.Username)
	assert.Equal(t, "Moderator", claims.Staff)
}

func TestAccessTokenRejected(t *testing.T) {
	jwtSecret = []byte("test-secret")

	expired, err := issueAccessToken(&models.User{ID: 9}, models.StaffUser, -time.Minute)
	require.NoError(t, err)
	_, err = parseAccessToken(expired)
	assert.Error(t, err)

	other := jwt.NewWithClaims(jwt.SigningMethodHS512, accessClaims{
		UserID:           9,
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	})
	s, err := other.SignedString(jwtSecret)
	require.NoError(t, err)
	_, err = parseAccessToken(s)
	assert.Error(t, err, "only HS256 is accepted")

	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, accessClaims{
		UserID:           9,
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}).SignedString([]byte("someone-else"))
	require.NoError(t, err)
	_, err = parseAccessToken(forged)
	assert.Error(t, err)
}

func TestProtectedRoutesNeedToken(t *testing.T) {
	r, mock := newMockServer(t)
	for _, tc := range []struct{ method, path, token string }{
		{http.MethodGet, "/me", ""},
		{http.MethodPost, "/profile", ""},
		{http.MethodPost, "/profile/crop", "garbage"},
		{http.MethodDelete, "/account", ""},
		{http.MethodPost, "/papers", ""},
	} {
		rec := performRequest(r, tc.method, tc.path, nil, tc.token, "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "%s %s", tc.method, tc.path)
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCropRejectsInvalidForm(t *testing.T) {
	r, mock := newMockServer(t)
	tok := tokenFor(t, 7, models.StaffUser)
	for _, body := range []string{
		`{"x":-1,"y":0,"width":10,"height":10}`,
		`{"x":0,"y":0,"width":0,"height":10}`,
		`{"x":0,"y":0,"width":10}`,
		`not json`,
	} {
		rec := performRequest(r, http.MethodPost, "/profile/crop", bytes.NewBufferString(body), tok, "application/json")
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.Equal(t, "Invalid form entry.", errorOf(t, rec), body)
	}
	// rejected before any query
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCropDefaultPhotoRefused(t *testing.T) {
	r, mock := newMockServer(t)
	mock.ExpectQuery(`SELECT \* FROM "profiles" WHERE user_id = \$1`).
		WillReturnRows(profileRows(3, 7, models.DefaultPhoto, models.StaffUser))
	before, err := media.Open(models.DefaultPhoto)
	require.NoError(t, err)
	want, _ := io.ReadAll(before)
	before.Close()

	rec := performRequest(r, http.MethodPost, "/profile/crop",
		bytes.NewBufferString(`{"x":0,"y":0,"width":10,"height":10}`), tokenFor(t, 7, models.StaffUser), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	after, err := media.Open(models.DefaultPhoto)
	require.NoError(t, err)
	got, _ := io.ReadAll(after)
	after.Close()
	assert.Equal(t, want, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCropStoredPhoto(t *testing.T) {
	r, mock := newMockServer(t)
	require.NoError(t, media.Write("photos/me.png",
		bytes.NewReader(encodeImage(t, "me.png", imaging.New(photo.Size, photo.Size, color.NRGBA{B: 255, A: 255})))))

	mock.ExpectQuery(`SELECT \* FROM "profiles" WHERE user_id = \$1`).
		WillReturnRows(profileRows(3, 7, "photos/me.png", models.StaffUser))
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "profiles" SET`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	rec := performRequest(r, http.MethodPost, "/profile/crop",
		bytes.NewBufferString(`{"x":10,"y":20,"width":120,"height":80}`), tokenFor(t, 7, models.StaffUser), "application/json")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "Image successfully cropped!")

	w, h, err := photo.Dimensions(media, "photos/me.png")
	require.NoError(t, err)
	assert.Equal(t, [2]int{120, 80}, [2]int{w, h})
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEditProfileRejectsLargePhoto(t *testing.T) {
	r, mock := newMockServer(t)
	cfg.PhotoMaxBytes = 16
	body, ct := multipartBody(t, map[string]string{"bio": "hi"}, "photo", "me.png", bytes.Repeat([]byte{1}, 64))

	rec := performRequest(r, http.MethodPost, "/profile", body, tokenFor(t, 7, models.StaffUser), ct)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "File size is too big.", errorOf(t, rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEditProfileRejectsUnsupportedFormat(t *testing.T) {
	r, mock := newMockServer(t)
	body, ct := multipartBody(t, nil, "photo", "me.pdf", []byte("%PDF-1.4"))

	rec := performRequest(r, http.MethodPost, "/profile", body, tokenFor(t, 7, models.StaffUser), ct)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEditProfileRejectsOversizedImageHeader(t *testing.T) {
	r, mock := newMockServer(t)
	mock.ExpectQuery(`SELECT \* FROM "users"`).WillReturnRows(userRows(7, "ada", "", ""))

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 1, 1))))
	bomb := buf.Bytes()
	binary.BigEndian.PutUint32(bomb[16:], 30000)
	binary.BigEndian.PutUint32(bomb[20:], 30000)
	binary.BigEndian.PutUint32(bomb[29:], crc32.ChecksumIEEE(bomb[12:29]))

	body, ct := multipartBody(t, nil, "photo", "me.png", bomb)
	rec := performRequest(r, http.MethodPost, "/profile", body, tokenFor(t, 7, models.StaffUser), ct)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid image file.", errorOf(t, rec))
	entries, _ := os.ReadDir(filepath.Join(media.Base(), "photos"))
	assert.Empty(t, entries)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEditProfileReplacesPhoto(t *testing.T) {
	r, mock := newMockServer(t)
	require.NoError(t, media.Write("photos/old.png",
		bytes.NewReader(encodeImage(t, "old.png", imaging.New(photo.Size, photo.Size, color.NRGBA{R: 255, A: 255})))))

	mock.ExpectQuery(`SELECT \* FROM "users"`).WillReturnRows(userRows(7, "ada", "", ""))
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "profiles" WHERE user_id = \$1.*FOR UPDATE`).
		WillReturnRows(profileRows(3, 7, "photos/old.png", models.StaffUser))
	mock.ExpectExec(`UPDATE "profiles" SET`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "users" SET`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	landscape := encodeImage(t, "new.png", imaging.New(800, 400, color.NRGBA{G: 255, A: 255}))
	body, ct := multipartBody(t, map[string]string{"first_name": "Ada", "last_name": "Lovelace", "bio": "analyst"},
		"photo", "holiday.PNG", landscape)
	rec := performRequest(r, http.MethodPost, "/profile", body, tokenFor(t, 7, models.StaffUser), ct)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Message string     `json:"message"`
		Profile personView `json:"profile"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Your profile was successfully updated!", resp.Message)
	assert.Equal(t, "Ada Lovelace", resp.Profile.FullName)

	assert.False(t, media.Exists("photos/old.png"), "replaced photo is removed")
	ref := storage.Clean(resp.Profile.PhotoURL[len("/media/"):])
	assert.Regexp(t, `^photos/[0-9a-v]{20}\.png$`, ref)
	w, h, err := photo.Dimensions(media, ref)
	require.NoError(t, err)
	assert.Equal(t, [2]int{photo.Size, photo.Size}, [2]int{w, h})
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEditProfileRemovesUploadWhenSaveFails(t *testing.T) {
	r, mock := newMockServer(t)
	mock.ExpectQuery(`SELECT \* FROM "users"`).WillReturnRows(userRows(7, "ada", "", ""))
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "profiles"`).WillReturnError(gorm.ErrInvalidDB)
	mock.ExpectRollback()

	body, ct := multipartBody(t, nil, "photo", "me.png", encodeImage(t, "me.png", imaging.New(20, 20, color.White)))
	rec := performRequest(r, http.MethodPost, "/profile", body, tokenFor(t, 7, models.StaffUser), ct)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	// only the placeholder is left
	var files []string
	require.NoError(t, filepath.WalkDir(media.Base(), func(path string, d fs.DirEntry, err error) error {
		if err == nil && d.Type().IsRegular() {
			files = append(files, d.Name())
		}
		return err
	}))
	assert.Equal(t, []string{models.DefaultPhoto}, files)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// brokenEncoder fails every post-save step, as a full disk would.
type brokenEncoder struct{ *photo.Manager }

func (brokenEncoder) AfterProfileSave(context.Context, *models.Profile) error {
	return errors.New("encode photo: disk full")
}

func TestEditProfileKeepsCommittedPhotoWhenNormalizeFails(t *testing.T) {
	r, mock := newMockServer(t)
	st = store.New(db, brokenEncoder{photos}, logger)
	require.NoError(t, media.Write("photos/old.png",
		bytes.NewReader(encodeImage(t, "old.png", imaging.New(photo.Size, photo.Size, color.NRGBA{R: 255, A: 255})))))

	mock.ExpectQuery(`SELECT \* FROM "users"`).WillReturnRows(userRows(7, "ada", "", ""))
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "profiles" WHERE user_id = \$1.*FOR UPDATE`).
		WillReturnRows(profileRows(3, 7, "photos/old.png", models.StaffUser))
	mock.ExpectExec(`UPDATE "profiles" SET`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "users" SET`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	body, ct := multipartBody(t, map[string]string{"first_name": "Ada"}, "photo", "me.png",
		encodeImage(t, "me.png", imaging.New(800, 400, color.NRGBA{G: 255, A: 255})))
	rec := performRequest(r, http.MethodPost, "/profile", body, tokenFor(t, 7, models.StaffUser), ct)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Profile personView `json:"profile"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	ref := storage.Clean(resp.Profile.PhotoURL[len("/media/"):])
	assert.False(t, media.Exists("photos/old.png"))
	require.True(t, media.Exists(ref), "the committed row still has its file")
	w, h, err := photo.Dimensions(media, ref)
	require.NoError(t, err)
	assert.Equal(t, [2]int{800, 400}, [2]int{w, h})
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetRoleReadsProfileInsideTransaction(t *testing.T) {
	r, mock := newMockServer(t)
	mock.ExpectQuery(`SELECT \* FROM "profiles" WHERE user_id = \$1`).
		WillReturnRows(profileRows(1, 1, models.DefaultPhoto, models.StaffAdmin))
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "profiles" WHERE user_id = \$1.*FOR UPDATE`).
		WillReturnRows(profileRows(4, 9, models.DefaultPhoto, models.StaffUser))
	mock.ExpectExec(`UPDATE "profiles" SET`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	rec := performRequest(r, http.MethodPut, "/people/9/role",
		bytes.NewBufferString(`{"staff_status":"moderator","title":"Dr."}`), tokenFor(t, 1, models.StaffAdmin), "application/json")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"staff_status":"MODERATOR","title":"Dr."}`, rec.Body.String())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetRoleUnknownUser(t *testing.T) {
	r, mock := newMockServer(t)
	mock.ExpectQuery(`SELECT \* FROM "profiles" WHERE user_id = \$1`).
		WillReturnRows(profileRows(1, 1, models.DefaultPhoto, models.StaffAdmin))
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "profiles" WHERE user_id = \$1.*FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	rec := performRequest(r, http.MethodPut, "/people/9/role",
		bytes.NewBufferString(`{"staff_status":"user"}`), tokenFor(t, 1, models.StaffAdmin), "application/json")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPapersAreListedNewestFirst(t *testing.T) {
	r, mock := newMockServer(t)
	mock.ExpectQuery(`SELECT \* FROM "papers" ORDER BY year desc,id desc`).WillReturnRows(
		sqlmock.NewRows([]string{"id", "title", "author", "year"}).
			AddRow(2, "B", "Y", 2021).
			AddRow(1, "A", "X", 2019))

	rec := performRequest(r, http.MethodGet, "/papers", nil, "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var papers []models.Paper
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &papers))
	require.Len(t, papers, 2)
	assert.Equal(t, 2021, papers[0].Year)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaperIDMustBeNumeric(t *testing.T) {
	r, _ := newMockServer(t)
	rec := performRequest(r, http.MethodGet, "/papers/abc", nil, "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPaperWritesNeedStaff(t *testing.T) {
	r, mock := newMockServer(t)
	mock.ExpectQuery(`SELECT \* FROM "profiles" WHERE user_id = \$1`).
		WillReturnRows(profileRows(3, 7, models.DefaultPhoto, models.StaffUser))

	// a stale Moderator claim does not help once the profile says otherwise
	rec := performRequest(r, http.MethodDelete, "/papers/1", nil, tokenFor(t, 7, models.StaffModerator), "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeletePaperRemovesDocument(t *testing.T) {
	r, mock := newMockServer(t)
	require.NoError(t, media.Write("papers/x.pdf", bytes.NewBufferString("%PDF")))
	mock.ExpectQuery(`SELECT \* FROM "profiles" WHERE user_id = \$1`).
		WillReturnRows(profileRows(3, 7, models.DefaultPhoto, models.StaffModerator))
	mock.ExpectQuery(`SELECT \* FROM "papers" WHERE "papers"\."id" = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "document"}).AddRow(1, "A", "papers/x.pdf"))
	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM "papers"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	rec := performRequest(r, http.MethodDelete, "/papers/1", nil, tokenFor(t, 7, models.StaffModerator), "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.False(t, media.Exists("papers/x.pdf"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPeopleListing(t *testing.T) {
	r, mock := newMockServer(t)
	mock.ExpectQuery(`SELECT \* FROM "users" ORDER BY last_name,first_name,id`).WillReturnRows(
		sqlmock.NewRows([]string{"id", "username", "first_name", "last_name", "is_active"}).
			AddRow(2, "grace", "Grace", "Hopper", true).
			AddRow(1, "ada", "Ada", "Lovelace", true))
	mock.ExpectQuery(`SELECT \* FROM "profiles" WHERE "profiles"\."user_id" IN`).WillReturnRows(
		sqlmock.NewRows([]string{"id", "user_id", "photo", "staff_status", "title"}).
			AddRow(1, 1, "photos/ada.png", "Admin", "Dr.").
			AddRow(2, 2, models.DefaultPhoto, "User", "--"))

	rec := performRequest(r, http.MethodGet, "/people", nil, "", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var people []personView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &people))
	require.Len(t, people, 2)
	assert.Equal(t, "Grace Hopper", people[0].FullName)
	assert.Equal(t, "/media/defaultuser.png", people[0].PhotoURL)
	assert.Equal(t, "ADMIN", people[1].StaffStatus)
	assert.Equal(t, "Dr.", people[1].Title)
	assert.Equal(t, "/media/photos/ada.png", people[1].PhotoURL)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewPersonViewWithoutProfile(t *testing.T) {
	v := newPersonView(&models.User{ID: 1, Username: "ada"}, nil)
	assert.Equal(t, "ada", v.FullName)
	assert.Equal(t, "USER", v.StaffStatus)
	assert.Equal(t, "/media/defaultuser.png", v.PhotoURL)
	assert.Nil(t, v.Crop)
}
