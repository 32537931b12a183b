package main

import (
	"errors"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/xid"
	"go.uber.org/zap"

	"labweb/models"
	"labweb/pkg/photo"
	"labweb/pkg/storage"
	"labweb/pkg/store"
)

func setupRoutes(r *gin.Engine) {
	r.POST("/register", registerHandler)
	r.POST("/login", loginHandler)
	r.POST("/refresh", refreshHandler)
	r.POST("/revoke_refresh", revokeRefreshHandler)
	r.GET("/people", listPeopleHandler)
	r.GET("/papers", listPapersHandler)
	r.GET("/papers/:id", getPaperHandler)
	r.GET("/papers/:id/document", downloadPaperHandler)
	if media != nil {
		r.StaticFS("/media", gin.Dir(media.Base(), false))
	}

	authGroup := r.Group("")
	authGroup.Use(jwtAuthMiddleware())
	authGroup.GET("/me", meHandler)
	authGroup.GET("/profile", getProfileHandler)
	authGroup.POST("/profile", editProfileHandler)
	authGroup.POST("/profile/crop", cropPhotoHandler)
	authGroup.DELETE("/account", deleteAccountHandler)

	staff := authGroup.Group("")
	staff.Use(requireProfile(func(p *models.Profile) bool { return p.CanManagePapers() }))
	staff.POST("/papers", createPaperHandler)
	staff.PUT("/papers/:id", updatePaperHandler)
	staff.DELETE("/papers/:id", deletePaperHandler)

	admin := authGroup.Group("")
	admin.Use(requireProfile(func(p *models.Profile) bool { return p.IsAdmin() }))
	admin.PUT("/people/:id/role", setRoleHandler)
}

func jwtAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if len(authHeader) < 8 || authHeader[:7] != "Bearer " {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid Authorization header"})
			return
		}
		claims, err := parseAccessToken(authHeader[7:])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set("username", claims.Username)
		c.Set("uid", claims.UserID)
		if claims.Staff != "" {
			c.Set("staff", claims.Staff)
		}
		c.Next()
	}
}

// requireProfile lets the request through when allow accepts the caller's
// current profile. The staff claim in the token may be stale, so the row is
// read again.
func requireProfile(allow func(p *models.Profile) bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid := c.GetUint("uid")
		p, err := st.ProfileByUserID(c.Request.Context(), uid)
		if err != nil || !allow(p) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}

// getUserFromContext fetches the currently authenticated user using the id set by jwtAuthMiddleware
func getUserFromContext(c *gin.Context) (*models.User, bool) {
	uid := c.GetUint("uid")
	if uid == 0 {
		return nil, false
	}
	user, err := st.UserByID(c.Request.Context(), uid)
	if err != nil {
		return nil, false
	}
	return user, true
}

type cropView struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

type personView struct {
	ID          uint      `json:"id"`
	Username    string    `json:"username"`
	FirstName   string    `json:"first_name"`
	LastName    string    `json:"last_name"`
	FullName    string    `json:"full_name"`
	Title       string    `json:"title,omitempty"`
	StaffStatus string    `json:"staff_status"`
	Bio         string    `json:"bio"`
	PhotoURL    string    `json:"photo_url"`
	Crop        *cropView `json:"crop,omitempty"`
}

func newPersonView(u *models.User, p *models.Profile) personView {
	v := personView{
		ID:        u.ID,
		Username:  u.Username,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		FullName:  u.FullName(),
		PhotoURL:  "/media/" + models.DefaultPhoto,
	}
	if p == nil {
		v.StaffStatus = models.StaffUser.Label()
		return v
	}
	v.Title = p.Title.Prefix()
	v.StaffStatus = p.StaffStatus.Label()
	v.Bio = p.Bio
	if p.Photo != "" {
		v.PhotoURL = "/media/" + storage.Clean(p.Photo)
	}
	if p.CropWidth > 0 && p.CropHeight > 0 {
		v.Crop = &cropView{X: p.CropX, Y: p.CropY, Width: p.CropWidth, Height: p.CropHeight}
	}
	return v
}

func registerHandler(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	user, err := RegisterUser(c.Request.Context(), req.Username, req.Password)
	switch {
	case errors.Is(err, errInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case errors.Is(err, store.ErrUserExists):
		c.JSON(http.StatusConflict, gin.H{"error": "user already exists"})
		return
	case err != nil:
		logger.Error("register failed", zap.String("username", req.Username), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "registration failed"})
		return
	}
	token, refreshToken, err := issueTokens(c.Request.Context(), user)
	if err != nil {
		logger.Error("issue tokens failed", zap.Uint("uid", user.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "user registered successfully", "token": token, "refresh_token": refreshToken})
}

func loginHandler(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	user, err := Authenticate(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	token, refreshToken, err := issueTokens(c.Request.Context(), user)
	if err != nil {
		logger.Error("issue tokens failed", zap.Uint("uid", user.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "login successful", "token": token, "refresh_token": refreshToken})
}

// refreshHandler exchanges a refresh token for a new access token and rotates the refresh token
func refreshHandler(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()
	rt, err := st.FindRefreshToken(ctx, req.RefreshToken)
	if err != nil || !rt.Usable(time.Now()) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired refresh token"})
		return
	}
	user, err := st.UserByID(ctx, rt.UserID)
	if err != nil || !user.IsActive {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	staff := models.StaffUser
	if p, err := st.ProfileByUserID(ctx, user.ID); err == nil {
		staff = p.StaffStatus
	}
	token, err := issueAccessToken(user, staff, cfg.AccessTokenTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
		return
	}
	newRT, err := st.RotateRefreshToken(ctx, rt, cfg.RefreshTokenTTL)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "failed to rotate refresh token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "refresh_token": newRT})
}

// revokeRefreshHandler revokes a given refresh token (useful on logout)
func revokeRefreshHandler(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rt, err := st.FindRefreshToken(c.Request.Context(), req.RefreshToken)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "refresh token not found"})
		return
	}
	if err := st.RevokeRefreshToken(c.Request.Context(), rt); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to revoke token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "refresh token revoked"})
}

func meHandler(c *gin.Context) {
	user, ok := getUserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	p, _ := st.ProfileByUserID(c.Request.Context(), user.ID)
	c.JSON(http.StatusOK, gin.H{"username": user.Username, "person": newPersonView(user, p)})
}

func getProfileHandler(c *gin.Context) {
	user, ok := getUserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	p, err := st.ProfileByUserID(c.Request.Context(), user.ID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "profile not found"})
		return
	}
	c.JSON(http.StatusOK, newPersonView(user, p))
}

// editProfileHandler updates names, bio and optionally the photo. A new photo
// is written under photos/ first; the store then swaps the reference, removes
// the previous file and normalizes the new one.
func editProfileHandler(c *gin.Context) {
	var req struct {
		FirstName string `form:"first_name" binding:"max=150"`
		LastName  string `form:"last_name" binding:"max=150"`
		Bio       string `form:"bio" binding:"max=1000"`
	}
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid form entry."})
		return
	}
	var upload *multipart.FileHeader
	if fh, err := c.FormFile("photo"); err == nil {
		if fh.Size > cfg.PhotoMaxBytes {
			c.JSON(http.StatusBadRequest, gin.H{"error": "File size is too big."})
			return
		}
		if err := photo.CheckExtension(fh.Filename); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Unsupported image format."})
			return
		}
		upload = fh
	}

	user, ok := getUserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	ctx := c.Request.Context()
	newRef := ""
	if upload != nil {
		var err error
		newRef, err = saveUpload(upload, "photos")
		if err != nil {
			logger.Error("photo upload failed", zap.Uint("uid", user.ID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "save failed"})
			return
		}
		if _, _, err := photo.Dimensions(media, newRef); err != nil {
			discardUpload(newRef)
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid image file."})
			return
		}
	}
	profile, err := st.UpdateProfile(ctx, user.ID, func(p *models.Profile) error {
		if newRef != "" {
			p.Photo = newRef
		}
		p.Bio = strings.TrimSpace(req.Bio)
		return nil
	})
	switch {
	case errors.Is(err, store.ErrNotNormalized):
		// committed: the row already points at newRef
		logger.Warn("photo stored without normalizing", zap.Uint("uid", user.ID), zap.Error(err))
	case err != nil:
		if newRef != "" {
			discardUpload(newRef)
		}
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "profile not found"})
			return
		}
		logger.Error("profile save failed", zap.Uint("uid", user.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update profile"})
		return
	}
	user.FirstName = strings.TrimSpace(req.FirstName)
	user.LastName = strings.TrimSpace(req.LastName)
	if err := st.UpdateUserNames(ctx, user); err != nil {
		logger.Error("name update failed", zap.Uint("uid", user.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update profile"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Your profile was successfully updated!", "profile": newPersonView(user, profile)})
}

// cropPhotoHandler crops the caller's stored photo in place.
func cropPhotoHandler(c *gin.Context) {
	var req struct {
		X      float64 `json:"x" binding:"min=0"`
		Y      float64 `json:"y" binding:"min=0"`
		Width  float64 `json:"width" binding:"gt=0"`
		Height float64 `json:"height" binding:"gt=0"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid form entry."})
		return
	}
	uid := c.GetUint("uid")
	ctx := c.Request.Context()
	rect := photo.Rect{X: req.X, Y: req.Y, Width: req.Width, Height: req.Height}
	p, err := st.ModifyPhoto(ctx, uid, func(p *models.Profile) error {
		return photos.Crop(ctx, p, rect)
	})
	switch {
	case errors.Is(err, photo.ErrDefaultPhoto):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Upload a photo before cropping."})
		return
	case errors.Is(err, photo.ErrEmptyCrop):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Crop area lies outside the photo."})
		return
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "profile not found"})
		return
	case err != nil:
		logger.Error("crop failed", zap.Uint("uid", uid), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "crop failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Image successfully cropped!", "photo_url": "/media/" + storage.Clean(p.Photo)})
}

func deleteAccountHandler(c *gin.Context) {
	uid := c.GetUint("uid")
	if err := st.DeleteUser(c.Request.Context(), uid); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		logger.Error("account deletion failed", zap.Uint("uid", uid), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete account"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "account deleted"})
}

// listPeopleHandler returns every lab member sorted by last name.
func listPeopleHandler(c *gin.Context) {
	users, err := st.ListPeople(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	people := make([]personView, 0, len(users))
	for i := range users {
		people = append(people, newPersonView(&users[i], users[i].Profile))
	}
	c.JSON(http.StatusOK, people)
}

func setRoleHandler(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	var req struct {
		StaffStatus string `json:"staff_status" binding:"required"`
		Title       string `json:"title"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	status, err := models.ParseStaffStatus(req.StaffStatus)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	title, err := models.ParseTitle(req.Title)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	p, err := st.UpdateProfile(c.Request.Context(), uint(id), func(p *models.Profile) error {
		p.StaffStatus, p.Title = status, title
		return nil
	})
	switch {
	case errors.Is(err, store.ErrNotNormalized):
		logger.Warn("role saved, photo not processed", zap.Uint64("user_id", id), zap.Error(err))
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "profile not found"})
		return
	case err != nil:
		logger.Error("role update failed", zap.Uint64("user_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update role"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"staff_status": p.StaffStatus.Label(), "title": p.Title.Prefix()})
}

// saveUpload stores fh under dir with a fresh unique name and returns its reference.
func saveUpload(fh *multipart.FileHeader, dir string) (string, error) {
	src, err := fh.Open()
	if err != nil {
		return "", err
	}
	defer src.Close()
	ref := dir + "/" + xid.New().String() + strings.ToLower(filepath.Ext(fh.Filename))
	if err := media.Write(ref, src); err != nil {
		return "", err
	}
	return ref, nil
}

func discardUpload(ref string) {
	if err := media.Remove(ref); err != nil {
		logger.Warn("failed to remove upload", zap.String("ref", ref), zap.Error(err))
	}
}
