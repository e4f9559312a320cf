package dashboard

import (
	"net/http"
	"sort"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/postpilot/postpilot/internal/coordinator"
	"github.com/postpilot/postpilot/internal/session"
)

// registerRoutes sets up all dashboard routes on the Gin router.
func registerRoutes(router *gin.Engine, coord *coordinator.Coordinator, db *gorm.DB) {
	api := router.Group("/api")
	api.GET("/status", handleStatus(coord))
	api.GET("/health", handleHealth(coord))
	api.GET("/sessions", handleSessions(coord))
	api.GET("/sessions/:account", handleSessionDetail(coord))
	api.GET("/jobs", handleJobs(db))
	api.GET("/accounts", handleAccounts(db))
	api.GET("/events", handleEvents(coord))
	api.GET("/stream", handleStream(coord))
}

func handleStatus(coord *coordinator.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, coord.GetStatus())
	}
}

func handleHealth(coord *coordinator.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := coord.GetHealth()
		code := http.StatusOK
		if !h.Healthy {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, h)
	}
}

// sessionView is a Snapshot shaped for JSON clients.
type sessionView struct {
	ID             string `json:"id"`
	AccountID      string `json:"account_id"`
	State          string `json:"state"`
	StateReason    string `json:"state_reason,omitempty"`
	ChallengeType  string `json:"challenge_type,omitempty"`
	ProfileID      string `json:"profile_id,omitempty"`
	QueueDepth     int    `json:"queue_depth"`
	TasksCompleted int    `json:"tasks_completed"`
	TasksFailed    int    `json:"tasks_failed"`
	ConsecFailures int    `json:"consec_failures"`
	HealthScore    int    `json:"health_score"`
	StartedAt      string `json:"started_at"`
	LastActivity   string `json:"last_activity,omitempty"`
}

func viewOf(snap session.Snapshot) sessionView {
	v := sessionView{
		ID:             snap.ID,
		AccountID:      snap.AccountID,
		State:          string(snap.State),
		StateReason:    snap.StateReason,
		ChallengeType:  snap.ChallengeType,
		ProfileID:      snap.ProfileID,
		QueueDepth:     snap.QueueDepth,
		TasksCompleted: snap.TasksCompleted,
		TasksFailed:    snap.TasksFailed,
		ConsecFailures: snap.ConsecFailures,
		HealthScore:    snap.HealthScore,
		StartedAt:      snap.StartedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
	if !snap.LastActivity.IsZero() {
		v.LastActivity = snap.LastActivity.UTC().Format("2006-01-02T15:04:05Z07:00")
	}
	return v
}

func handleSessions(coord *coordinator.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		views := []sessionView{}
		for _, sess := range coord.Running() {
			views = append(views, viewOf(sess.Snapshot()))
		}
		sort.Slice(views, func(i, j int) bool { return views[i].AccountID < views[j].AccountID })
		c.JSON(http.StatusOK, gin.H{"sessions": views})
	}
}

func handleSessionDetail(coord *coordinator.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := coord.Session(c.Param("account"))
		if sess == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "no session for account"})
			return
		}
		c.JSON(http.StatusOK, viewOf(sess.Snapshot()))
	}
}

func handleJobs(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.Query("limit"))
		jobs, err := JobList(db, JobFilters{
			AccountID: c.Query("account"),
			Status:    c.Query("status"),
			Limit:     limit,
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"jobs": jobs})
	}
}

func handleAccounts(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		accounts, err := AccountList(db)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"accounts": accounts})
	}
}

func handleEvents(coord *coordinator.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		n, _ := strconv.Atoi(c.Query("n"))
		if n <= 0 || n > 500 {
			n = 100
		}
		c.JSON(http.StatusOK, gin.H{"events": coord.Bus().Recent(n)})
	}
}
