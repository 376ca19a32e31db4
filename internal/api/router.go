package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/attend/internal/api/handlers"
	"github.com/your-org/attend/internal/api/ws"
	"github.com/your-org/attend/internal/auth"
	"github.com/your-org/attend/internal/enrollment"
)

// Store is everything the admin API reads from the durable store.
type Store interface {
	handlers.IdentityStore
	handlers.ScheduleStore
	handlers.AttendanceStore
}

type RouterConfig struct {
	APIKey     string
	Kiosk      handlers.Kiosk
	Enrollment *enrollment.Controller
	Store      Store
	Gallery    handlers.IdentityGallery
	Window     handlers.WindowChecker
	Days       handlers.DayStates
	Hub        *ws.Hub
	Checks     map[string]handlers.Check

	// Optional.
	Extractor handlers.FaceExtractor
	Faces     handlers.FaceStore
	Notifier  handlers.ChangeNotifier
	Recorded  handlers.RecordedCache
	Camera    handlers.CameraStatus
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware(), LoggingMiddleware())
	r.Use(cors.New(corsConfig()))

	// System endpoints (no auth)
	systemH := handlers.NewSystemHandler(cfg.Checks)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 (with auth)
	v1 := r.Group("/v1")
	v1.Use(auth.APIKeyMiddleware(cfg.APIKey))

	if cfg.Hub != nil {
		v1.GET("/ws", cfg.Hub.HandleWS)
	}

	// Kiosk state and enrollment
	kioskH := handlers.NewKioskHandler(cfg.Kiosk, cfg.Enrollment)
	v1.GET("/status", kioskH.Status)
	v1.POST("/recognition/pause", kioskH.Pause)
	v1.POST("/recognition/resume", kioskH.Resume)
	v1.GET("/settings", kioskH.GetSettings)
	v1.PUT("/settings", kioskH.UpdateSettings)
	v1.GET("/enrollment/candidate", kioskH.Candidate)
	v1.GET("/enrollment/candidate/crop", kioskH.CandidateCrop)
	v1.POST("/enrollment/approve", kioskH.Approve)
	v1.POST("/enrollment/reject", kioskH.Reject)
	v1.POST("/gallery/reload", kioskH.Reload)

	// Identities
	identityH := handlers.NewIdentityHandler(cfg.Store, cfg.Gallery, cfg.Extractor, cfg.Faces, cfg.Notifier)
	v1.GET("/identities", identityH.List)
	v1.GET("/identities/:id", identityH.Get)
	v1.PUT("/identities/:id", identityH.Update)
	v1.POST("/identities/:id/signatures", identityH.AddSignature)
	v1.POST("/identities/:id/disable", identityH.Disable)
	v1.GET("/identities/:id/faces", identityH.Faces)
	v1.GET("/identities/:id/faces/:face", identityH.FaceImage)
	v1.POST("/search", identityH.Search)

	// Schedules
	scheduleH := handlers.NewScheduleHandler(cfg.Store, cfg.Window)
	v1.GET("/schedules", scheduleH.List)
	v1.GET("/schedules/window", scheduleH.Window)
	v1.GET("/schedules/:id", scheduleH.Get)
	v1.POST("/schedules", scheduleH.Create)
	v1.PUT("/schedules/:id", scheduleH.Update)
	v1.DELETE("/schedules/:id", scheduleH.Delete)

	// Attendance
	attendanceH := handlers.NewAttendanceHandler(cfg.Store, cfg.Days, cfg.Recorded)
	v1.GET("/attendance", attendanceH.List)
	v1.GET("/attendance/state", attendanceH.State)
	v1.DELETE("/attendance/:id", attendanceH.Delete)

	// Camera
	if cfg.Camera != nil {
		cameraH := handlers.NewCameraHandler(cfg.Camera, cfg.Kiosk)
		v1.GET("/camera", cameraH.Status)
		v1.POST("/camera/start", cameraH.Start)
		v1.POST("/camera/stop", cameraH.Stop)
	}

	return r
}

func corsConfig() cors.Config {
	cfg := cors.DefaultConfig()
	cfg.AllowAllOrigins = true
	cfg.AllowHeaders = append(cfg.AllowHeaders, "X-API-Key")
	return cfg
}
