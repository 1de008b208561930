package apihandlers

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"adforge/internal/campaign"
	"adforge/internal/models"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// CampaignService is the part of the campaign controller the API exposes.
type CampaignService interface {
	SubmitAsync(images []models.ReferenceImage, guidance string) error
	Limits() campaign.IntakeLimits
	RetryJob(id string) error
	RetryFailed() (int, error)
	Reset() error
	Status() campaign.Status
	Snapshot() []models.Job
	Job(id string) (models.Job, error)
}

type APIHandler struct {
	Campaign CampaignService
}

// NewAPIHandler creates a handler over svc.
func NewAPIHandler(svc CampaignService) *APIHandler {
	return &APIHandler{Campaign: svc}
}

// JobView is a job as returned by the API; the artifact is referenced by URL.
type JobView struct {
	ID        string           `json:"id"`
	Index     int              `json:"index"`
	Prompt    string           `json:"prompt"`
	Status    models.JobStatus `json:"status"`
	Attempts  int              `json:"attempts"`
	Error     string           `json:"error,omitempty"`
	ImageURL  string           `json:"imageUrl,omitempty"`
	MIMEType  string           `json:"mimeType,omitempty"`
	UpdatedAt time.Time        `json:"updatedAt"`
}

// CampaignResponse is the body of GET /campaign.
type CampaignResponse struct {
	Campaign campaign.Status `json:"campaign"`
	Jobs     []JobView       `json:"jobs"`
}

// RegisterRoutes mounts the API under /api/v1 plus /health.
func (h *APIHandler) RegisterRoutes(router gin.IRouter) {
	v1 := router.Group("/api/v1")
	{
		campaignGroup := v1.Group("/campaign")
		{
			campaignGroup.POST("", h.CreateCampaignHandler)
			campaignGroup.GET("", h.GetCampaignHandler)
			campaignGroup.POST("/reset", h.ResetCampaignHandler)
		}

		jobGroup := v1.Group("/jobs")
		{
			jobGroup.POST("/retry", h.RetryFailedHandler)
			jobGroup.POST("/:id/retry", h.RetryJobHandler)
			jobGroup.GET("/:id/image", h.JobImageHandler)
		}
	}

	router.GET("/health", h.HealthHandler)
}

// CreateCampaignHandler accepts multipart "images" files and an optional
// "guidance" field, then starts the analysis in the background.
func (h *APIHandler) CreateCampaignHandler(c *gin.Context) {
	limits := h.Campaign.Limits()
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, uploadBodyLimit(limits))

	images, guidance, err := parseCampaignForm(c, limits.MaxImageBytes)
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			JSONError(c, http.StatusRequestEntityTooLarge, "payload_too_large",
				fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit))
		case errors.Is(err, models.ErrImageTooLarge):
			writeError(c, err)
		default:
			BadRequest(c, "Invalid upload: "+err.Error())
		}
		return
	}

	if err := h.Campaign.SubmitAsync(images, guidance); err != nil {
		writeError(c, err)
		return
	}

	st := h.Campaign.Status()
	log.WithField("run_id", st.RunID).Infof("API: campaign started with %d reference image(s)", len(images))
	c.JSON(http.StatusAccepted, gin.H{"data": st})
}

func (h *APIHandler) GetCampaignHandler(c *gin.Context) {
	jobs := h.Campaign.Snapshot()
	views := make([]JobView, 0, len(jobs))
	for _, j := range jobs {
		views = append(views, toJobView(j))
	}
	c.JSON(http.StatusOK, gin.H{"data": CampaignResponse{Campaign: h.Campaign.Status(), Jobs: views}})
}

func (h *APIHandler) ResetCampaignHandler(c *gin.Context) {
	if err := h.Campaign.Reset(); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": h.Campaign.Status()})
}

func (h *APIHandler) RetryJobHandler(c *gin.Context) {
	if err := h.Campaign.RetryJob(c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"data": h.Campaign.Status()})
}

func (h *APIHandler) RetryFailedHandler(c *gin.Context) {
	n, err := h.Campaign.RetryFailed()
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"data": gin.H{"requeued": n, "campaign": h.Campaign.Status()}})
}

// JobImageHandler serves the artifact bytes of a completed job.
func (h *APIHandler) JobImageHandler(c *gin.Context) {
	j, err := h.Campaign.Job(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	if j.Status != models.JobStatusCompleted || j.Artifact == nil {
		NotFound(c, fmt.Sprintf("job %s has no image (status %s)", j.ID, j.Status))
		return
	}
	c.Data(http.StatusOK, j.Artifact.MIMEType, j.Artifact.Data)
}

func (h *APIHandler) HealthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "state": h.Campaign.Status().State})
}

func toJobView(j models.Job) JobView {
	v := JobView{
		ID:        j.ID,
		Index:     j.Index,
		Prompt:    j.Prompt,
		Status:    j.Status,
		Attempts:  j.Attempts,
		Error:     j.Error,
		UpdatedAt: j.UpdatedAt,
	}
	if j.Status == models.JobStatusCompleted && j.Artifact != nil {
		v.ImageURL = "/api/v1/jobs/" + j.ID + "/image"
		v.MIMEType = j.Artifact.MIMEType
	}
	return v
}

// uploadBodyLimit allows every image at its maximum size plus room for the
// multipart framing and the guidance field.
func uploadBodyLimit(l campaign.IntakeLimits) int64 {
	return int64(l.MaxImages)*l.MaxImageBytes + 1<<20
}

// parseCampaignForm reads the uploaded files. Both "images" and "images[]"
// field names are accepted. A file larger than maxBytes is rejected before it
// is read.
func parseCampaignForm(c *gin.Context, maxBytes int64) ([]models.ReferenceImage, string, error) {
	form, err := c.MultipartForm()
	if err != nil {
		return nil, "", err
	}
	headers := append(form.File["images"], form.File["images[]"]...)

	images := make([]models.ReferenceImage, 0, len(headers))
	for _, fh := range headers {
		if fh.Size > maxBytes {
			return nil, "", fmt.Errorf("%w: %s is %d bytes, limit is %d", models.ErrImageTooLarge, fh.Filename, fh.Size, maxBytes)
		}
		data, err := readFormFile(fh)
		if err != nil {
			return nil, "", fmt.Errorf("read %s: %w", fh.Filename, err)
		}
		images = append(images, models.ReferenceImage{
			Name:     fh.Filename,
			MIMEType: fh.Header.Get("Content-Type"),
			Data:     data,
		})
	}
	return images, c.PostForm("guidance"), nil
}

func readFormFile(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// writeError maps domain errors to HTTP status codes.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, models.ErrNoImages),
		errors.Is(err, models.ErrTooManyImages),
		errors.Is(err, models.ErrNotAnImage),
		errors.Is(err, models.ErrImageTooLarge),
		errors.Is(err, models.ErrNoMaterial):
		BadRequest(c, err.Error())
	case errors.Is(err, models.ErrJobNotFound):
		NotFound(c, err.Error())
	case errors.Is(err, models.ErrInvalidState), errors.Is(err, models.ErrBusy):
		Conflict(c, err.Error())
	default:
		log.Errorf("API: unexpected error: %v", err)
		Internal(c, err.Error())
	}
}
