package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/alem-hub/streak-engine/internal/application/command"
	"github.com/alem-hub/streak-engine/internal/domain/attendance"
	"github.com/alem-hub/streak-engine/internal/domain/microtask"
	"github.com/alem-hub/streak-engine/internal/domain/shared"
	"github.com/alem-hub/streak-engine/internal/domain/streak"
)

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST & RESPONSE BODIES
// ══════════════════════════════════════════════════════════════════════════════

type updateStreakRequest struct {
	Track         string `json:"track" binding:"required"`
	Date          string `json:"date"`
	Success       *bool  `json:"success" binding:"required"`
	GraceConsumed bool   `json:"grace_consumed"`
}

type consumeGraceRequest struct {
	Date string `json:"date"`
}

type missedClassRequest struct {
	ClassRef    string     `json:"class_ref" binding:"required"`
	ClassTitle  string     `json:"class_title"`
	ScheduledAt *time.Time `json:"scheduled_at"`
}

type completeMicroTaskRequest struct {
	UserID string `json:"user_id"`
}

// OutcomeResponse describes what a streak update changed.
type OutcomeResponse struct {
	Track          string         `json:"track"`
	Duplicate      bool           `json:"duplicate"`
	Incremented    bool           `json:"incremented"`
	Broken         bool           `json:"broken"`
	GracePreserved bool           `json:"grace_preserved"`
	PointsAwarded  int            `json:"points_awarded"`
	NewBadges      []streak.Badge `json:"new_badges,omitempty"`
}

// RestorationResponse describes a restoration attempt.
type RestorationResponse struct {
	Applied         bool           `json:"applied"`
	Qualifying      int            `json:"qualifying"`
	PreviousCurrent int            `json:"previous_current"`
	RestoredTo      int            `json:"restored_to"`
	BonusPoints     int            `json:"bonus_points"`
	Consumed        []string       `json:"consumed,omitempty"`
	NewBadges       []streak.Badge `json:"new_badges,omitempty"`
	Ledger          *streak.Ledger `json:"ledger,omitempty"`
}

// MissedClassResponse combines the streak effect and the issued task.
type MissedClassResponse struct {
	Ledger        *streak.Ledger       `json:"ledger"`
	Duplicate     bool                 `json:"duplicate"`
	GraceConsumed bool                 `json:"grace_consumed"`
	StreakBroken  bool                 `json:"streak_broken"`
	Task          *microtask.MicroTask `json:"task,omitempty"`
	TaskCreated   bool                 `json:"task_created"`
}

func toOutcome(o streak.Outcome) OutcomeResponse {
	return OutcomeResponse{
		Track:          o.Track.String(),
		Duplicate:      o.Duplicate,
		Incremented:    o.Incremented,
		Broken:         o.Broken,
		GracePreserved: o.GracePreserved,
		PointsAwarded:  o.PointsAwarded,
		NewBadges:      o.NewBadges,
	}
}

func toRestoration(res *command.RestoreStreakResult) *RestorationResponse {
	if res == nil {
		return nil
	}
	r := res.Restoration
	return &RestorationResponse{
		Applied:         res.Applied,
		Qualifying:      r.Qualifying,
		PreviousCurrent: r.PreviousCurrent,
		RestoredTo:      r.RestoredTo,
		BonusPoints:     r.BonusPoints,
		Consumed:        r.Consumed,
		NewBadges:       r.NewBadges,
		Ledger:          res.Ledger,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleHealth(c *gin.Context) {
	status := s.deps.Health.Check(c.Request.Context())
	if !status.Healthy {
		respond(c, http.StatusServiceUnavailable, status)
		return
	}
	respond(c, http.StatusOK, status)
}

// ══════════════════════════════════════════════════════════════════════════════
// LEDGER & STREAKS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleGetLedger(c *gin.Context) {
	userID, ok := s.userParam(c)
	if !ok {
		return
	}
	ledger, err := s.deps.Engine.GetLedger(c.Request.Context(), userID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	respond(c, http.StatusOK, ledger)
}

func (s *Server) handleUpdateStreak(c *gin.Context) {
	userID, ok := s.userParam(c)
	if !ok {
		return
	}
	var req updateStreakRequest
	if !s.bind(c, &req) {
		return
	}
	track, err := streak.ParseTrack(req.Track)
	if err != nil {
		s.writeError(c, err)
		return
	}
	day, ok := s.dateOrToday(c, req.Date)
	if !ok {
		return
	}

	res, err := s.deps.Engine.UpdateStreak(c.Request.Context(), command.UpdateStreakCommand{
		UserID:        userID,
		Track:         track,
		OccurredOn:    day,
		Success:       *req.Success,
		GraceConsumed: req.GraceConsumed,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"ledger": res.Ledger, "outcome": toOutcome(res.Outcome)})
}

// ══════════════════════════════════════════════════════════════════════════════
// GRACE
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleConsumeGrace(c *gin.Context) {
	userID, ok := s.userParam(c)
	if !ok {
		return
	}
	var req consumeGraceRequest
	if c.Request.ContentLength > 0 && !s.bind(c, &req) {
		return
	}
	day, ok := s.dateOrToday(c, req.Date)
	if !ok {
		return
	}

	consumed, err := s.deps.Engine.TryConsumeGrace(c.Request.Context(), userID, day)
	if err != nil {
		s.writeError(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"consumed": consumed, "date": day})
}

func (s *Server) handleResetGrace(c *gin.Context) {
	n, err := s.deps.Engine.ResetWeeklyGrace(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"users_reset": n})
}

// ══════════════════════════════════════════════════════════════════════════════
// MISSED CLASSES & MICRO-TASKS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleMissedClass(c *gin.Context) {
	userID, ok := s.userParam(c)
	if !ok {
		return
	}
	var req missedClassRequest
	if !s.bind(c, &req) {
		return
	}
	at := s.deps.Clock.Now()
	if req.ScheduledAt != nil {
		at = *req.ScheduledAt
	}

	res, err := s.deps.Engine.HandleMissedClass(c.Request.Context(), attendance.MissedClass{
		UserID:      userID,
		ClassRef:    req.ClassRef,
		ClassTitle:  req.ClassTitle,
		ScheduledAt: at,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}

	out := MissedClassResponse{}
	if res.Attendance != nil {
		out.Ledger = res.Attendance.Ledger
		out.Duplicate = res.Attendance.Duplicate
		out.GraceConsumed = res.Attendance.GraceConsumed
		out.StreakBroken = res.Attendance.Outcome.Broken
	}
	status := http.StatusOK
	if res.Task != nil {
		out.Task = res.Task.Task
		out.TaskCreated = res.Task.Created
		if res.Task.Created {
			status = http.StatusCreated
		}
	}
	respond(c, status, out)
}

func (s *Server) handleListMicroTasks(c *gin.Context) {
	userID, ok := s.userParam(c)
	if !ok {
		return
	}
	pending, _ := strconv.ParseBool(c.DefaultQuery("pending", "false"))

	tasks, err := s.deps.Engine.ListMicroTasks(c.Request.Context(), userID, pending)
	if err != nil {
		s.writeError(c, err)
		return
	}
	respond(c, http.StatusOK, tasks)
}

func (s *Server) handleCompleteMicroTask(c *gin.Context) {
	taskID := c.Param("id")
	var req completeMicroTaskRequest
	if c.Request.ContentLength > 0 && !s.bind(c, &req) {
		return
	}

	res, err := s.deps.Engine.CompleteMicroTask(c.Request.Context(), taskID, shared.UserID(req.UserID))
	if err != nil {
		s.writeError(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"task": res.Task, "restoration": toRestoration(res.Restoration)})
}

func (s *Server) handleRestore(c *gin.Context) {
	userID, ok := s.userParam(c)
	if !ok {
		return
	}
	res, err := s.deps.Engine.RestoreStreakWithMicroTasks(c.Request.Context(), userID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	respond(c, http.StatusOK, toRestoration(res))
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) userParam(c *gin.Context) (shared.UserID, bool) {
	id, err := shared.NewUserID(c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return "", false
	}
	return id, true
}

func (s *Server) bind(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		s.writeError(c, shared.WrapError("http", "Bind", shared.ErrInvalidInput, "invalid request body", err))
		return false
	}
	return true
}

// dateOrToday parses YYYY-MM-DD or falls back to today in the engine timezone.
func (s *Server) dateOrToday(c *gin.Context, raw string) (shared.Date, bool) {
	if raw == "" {
		return shared.DateOf(s.deps.Clock.Now(), s.deps.Location), true
	}
	d, err := shared.ParseDate(raw)
	if err != nil {
		s.writeError(c, err)
		return shared.Date{}, false
	}
	return d, true
}
