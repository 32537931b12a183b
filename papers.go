package main

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"labweb/models"
	"labweb/pkg/store"
)

type paperForm struct {
	Author    string `form:"author" binding:"required,max=250"`
	Title     string `form:"title" binding:"required,max=250"`
	Year      int    `form:"year" binding:"required,min=1900,max=2100"`
	Publisher string `form:"publisher" binding:"max=250"`
	Link      string `form:"link" binding:"omitempty,url,max=1000"`
}

func (f paperForm) apply(p *models.Paper) {
	p.Author = strings.TrimSpace(f.Author)
	p.Title = strings.TrimSpace(f.Title)
	p.Year = f.Year
	p.Publisher = strings.TrimSpace(f.Publisher)
	p.Link = strings.TrimSpace(f.Link)
}

func paperID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return uint(id), true
}

// documentUpload returns the optional "document" file, rejecting oversized ones.
func documentUpload(c *gin.Context) (*multipart.FileHeader, bool) {
	fh, err := c.FormFile("document")
	if err != nil {
		return nil, true
	}
	if fh.Size > cfg.DocumentMaxBytes {
		c.JSON(http.StatusBadRequest, gin.H{"error": "File size is too big."})
		return nil, false
	}
	return fh, true
}

func listPapersHandler(c *gin.Context) {
	papers, err := st.ListPapers(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	if papers == nil {
		papers = []models.Paper{}
	}
	c.JSON(http.StatusOK, papers)
}

func getPaperHandler(c *gin.Context) {
	id, ok := paperID(c)
	if !ok {
		return
	}
	p, err := st.PaperByID(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.JSON(http.StatusOK, p)
}

// downloadPaperHandler streams the stored document under its original name.
func downloadPaperHandler(c *gin.Context) {
	id, ok := paperID(c)
	if !ok {
		return
	}
	p, err := st.PaperByID(c.Request.Context(), id)
	if err != nil || p.Document == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	rc, err := media.Open(p.Document)
	if err != nil {
		logger.Warn("paper document missing", zap.Uint("paper_id", p.ID), zap.String("document", p.Document), zap.Error(err))
		c.JSON(http.StatusNotFound, gin.H{"error": "document missing"})
		return
	}
	defer rc.Close()
	name := p.DocumentName
	if name == "" {
		name = p.Document[strings.LastIndex(p.Document, "/")+1:]
	}
	c.Header("Content-Disposition", `attachment; filename="`+strings.ReplaceAll(name, `"`, "")+`"`)
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, rc); err != nil {
		logger.Warn("document download interrupted", zap.Uint("paper_id", p.ID), zap.Error(err))
	}
}

func createPaperHandler(c *gin.Context) {
	var form paperForm
	if err := c.ShouldBind(&form); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	fh, ok := documentUpload(c)
	if !ok {
		return
	}
	var p models.Paper
	form.apply(&p)
	if fh != nil {
		ref, err := saveUpload(fh, "papers")
		if err != nil {
			logger.Error("document upload failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "save failed"})
			return
		}
		p.Document, p.DocumentName = ref, fh.Filename
	}
	if err := st.CreatePaper(c.Request.Context(), &p); err != nil {
		if p.Document != "" {
			discardUpload(p.Document)
		}
		logger.Error("create paper failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create failed"})
		return
	}
	logger.Info("paper created", zap.Uint("paper_id", p.ID), zap.String("paper", p.String()), zap.Uint("by", c.GetUint("uid")))
	c.JSON(http.StatusOK, p)
}

// updatePaperHandler replaces the metadata and, when a new document is sent,
// the stored file. The old file goes only after the row points at the new one.
func updatePaperHandler(c *gin.Context) {
	id, ok := paperID(c)
	if !ok {
		return
	}
	var form paperForm
	if err := c.ShouldBind(&form); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	fh, ok := documentUpload(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	p, err := st.PaperByID(ctx, id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	form.apply(p)
	oldDoc := p.Document
	if fh != nil {
		ref, err := saveUpload(fh, "papers")
		if err != nil {
			logger.Error("document upload failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "save failed"})
			return
		}
		p.Document, p.DocumentName = ref, fh.Filename
	}
	if err := st.UpdatePaper(ctx, p); err != nil {
		if fh != nil {
			discardUpload(p.Document)
		}
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		logger.Error("update paper failed", zap.Uint("paper_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update failed"})
		return
	}
	if fh != nil && oldDoc != "" {
		discardUpload(oldDoc)
	}
	c.JSON(http.StatusOK, p)
}

func deletePaperHandler(c *gin.Context) {
	id, ok := paperID(c)
	if !ok {
		return
	}
	p, err := st.DeletePaper(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		logger.Error("delete paper failed", zap.Uint("paper_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete failed"})
		return
	}
	if p.Document != "" {
		discardUpload(p.Document)
	}
	logger.Info("paper deleted", zap.Uint("paper_id", id), zap.Uint("by", c.GetUint("uid")))
	c.JSON(http.StatusOK, gin.H{"message": "paper deleted"})
}
