package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"blastd/internal/storage"
)

// --- projects ---

type projectRequest struct {
	Name        string `json:"name" validate:"required,min=1,max=128"`
	Description string `json:"description" validate:"max=1024"`
	Owner       string `json:"owner" validate:"max=128"`
}

type projectResponse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Status      string    `json:"status"`
	Owner       string    `json:"owner,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func toProjectResponse(p storage.Project) projectResponse {
	return projectResponse{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Status:      p.Status,
		Owner:       p.Owner,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

func (s *Server) createProject(c echo.Context) error {
	var req projectRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	now := time.Now()
	p := storage.Project{
		ID:          uuid.NewString(),
		Name:        req.Name,
		Description: req.Description,
		Owner:       req.Owner,
		Status:      storage.ProjectStopped,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateProject(c.Request().Context(), p); err != nil {
		return err
	}
	return JSON(c, http.StatusCreated, toProjectResponse(p))
}

func (s *Server) listProjects(c echo.Context) error {
	projects, err := s.store.ListProjects(c.Request().Context())
	if err != nil {
		return err
	}
	out := make([]projectResponse, 0, len(projects))
	for _, p := range projects {
		out = append(out, toProjectResponse(p))
	}
	return JSON(c, http.StatusOK, out)
}

func (s *Server) getProject(c echo.Context) error {
	p, err := s.store.GetProject(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, toProjectResponse(p))
}

func (s *Server) updateProject(c echo.Context) error {
	var req projectRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	ctx := c.Request().Context()
	p, err := s.store.GetProject(ctx, c.Param("id"))
	if err != nil {
		return err
	}
	p.Name = req.Name
	p.Description = req.Description
	p.Owner = req.Owner
	p.UpdatedAt = time.Now()
	if err := s.store.UpdateProject(ctx, p); err != nil {
		return err
	}
	return JSON(c, http.StatusOK, toProjectResponse(p))
}

func (s *Server) deleteProject(c echo.Context) error {
	if err := s.store.DeleteProject(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// --- run control ---

type launchRequest struct {
	StartedBy string `json:"started_by" validate:"max=128"`
}

type launchResponse struct {
	RunID string `json:"run_id"`
	Jobs  int    `json:"jobs"`
}

func (s *Server) launchRun(c echo.Context) error {
	var req launchRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	runID, jobs, err := s.disp.LaunchRun(c.Request().Context(), c.Param("id"), req.StartedBy)
	if err != nil {
		return err
	}
	return JSON(c, http.StatusAccepted, launchResponse{RunID: runID, Jobs: jobs})
}

type stopResponse struct {
	DroppedJobs int `json:"dropped_jobs"`
}

func (s *Server) stopRun(c echo.Context) error {
	dropped, err := s.disp.StopRun(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, stopResponse{DroppedJobs: dropped})
}

type runStatusResponse struct {
	Project projectResponse  `json:"project"`
	Run     *runResponse     `json:"run,omitempty"`
	Stats   storage.RunStats `json:"stats"`
}

type runResponse struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	StartedBy string    `json:"started_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (s *Server) runStatus(c echo.Context) error {
	st, err := s.disp.RunStatus(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	resp := runStatusResponse{Project: toProjectResponse(st.Project), Stats: st.Stats}
	if st.Run != nil {
		resp.Run = &runResponse{
			ID:        st.Run.ID,
			Status:    st.Run.Status,
			StartedBy: st.Run.StartedBy,
			CreatedAt: st.Run.CreatedAt,
			UpdatedAt: st.Run.UpdatedAt,
		}
	}
	return JSON(c, http.StatusOK, resp)
}

// --- project wiring ---

type idListRequest struct {
	IDs []string `json:"ids" validate:"required,dive,required"`
}

func (s *Server) setProjectChannels(c echo.Context) error {
	var req idListRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	ctx := c.Request().Context()
	if _, err := s.store.GetProject(ctx, c.Param("id")); err != nil {
		return err
	}
	if err := s.store.SetProjectChannels(ctx, c.Param("id"), req.IDs); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) listProjectChannels(c echo.Context) error {
	channels, err := s.store.ListProjectChannels(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	out := make([]channelResponse, 0, len(channels))
	for _, ch := range channels {
		out = append(out, toChannelResponse(ch))
	}
	return JSON(c, http.StatusOK, out)
}

func (s *Server) setProjectSessions(c echo.Context) error {
	var req idListRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	ctx := c.Request().Context()
	if _, err := s.store.GetProject(ctx, c.Param("id")); err != nil {
		return err
	}
	if err := s.store.SetProjectSessions(ctx, c.Param("id"), req.IDs); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) listProjectSessions(c echo.Context) error {
	sessions, err := s.store.ListProjectSessions(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	out := make([]sessionResponse, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, toSessionResponse(sess))
	}
	return JSON(c, http.StatusOK, out)
}

type messageRequest struct {
	Type       string `json:"type" validate:"required,oneof=text photo video"`
	ContentRef string `json:"content_ref" validate:"required"`
	Caption    string `json:"caption" validate:"max=1024"`
}

type messageResponse struct {
	ID         string `json:"id"`
	ProjectID  string `json:"project_id"`
	Type       string `json:"type"`
	ContentRef string `json:"content_ref"`
	Caption    string `json:"caption,omitempty"`
}

func (s *Server) createProjectMessage(c echo.Context) error {
	var req messageRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	ctx := c.Request().Context()
	if _, err := s.store.GetProject(ctx, c.Param("id")); err != nil {
		return err
	}
	// The referenced file must exist before a message can point at it.
	if _, err := s.store.GetFile(ctx, req.ContentRef); err != nil {
		return err
	}
	m := storage.ProjectMessage{
		ID:         uuid.NewString(),
		ProjectID:  c.Param("id"),
		Type:       req.Type,
		ContentRef: req.ContentRef,
		Caption:    req.Caption,
	}
	if err := s.store.CreateProjectMessage(ctx, m); err != nil {
		return err
	}
	return JSON(c, http.StatusCreated, messageResponse{
		ID: m.ID, ProjectID: m.ProjectID, Type: m.Type, ContentRef: m.ContentRef, Caption: m.Caption,
	})
}

func (s *Server) listProjectMessages(c echo.Context) error {
	messages, err := s.store.ListProjectMessages(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	out := make([]messageResponse, 0, len(messages))
	for _, m := range messages {
		out = append(out, messageResponse{
			ID: m.ID, ProjectID: m.ProjectID, Type: m.Type, ContentRef: m.ContentRef, Caption: m.Caption,
		})
	}
	return JSON(c, http.StatusOK, out)
}

func (s *Server) deleteProjectMessage(c echo.Context) error {
	if err := s.store.DeleteProjectMessage(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

type delayRequest struct {
	BetweenChannelsMS int64 `json:"between_channels_ms" validate:"min=0"`
}

func (s *Server) setDelay(c echo.Context) error {
	var req delayRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	ctx := c.Request().Context()
	if _, err := s.store.GetProject(ctx, c.Param("id")); err != nil {
		return err
	}
	d := time.Duration(req.BetweenChannelsMS) * time.Millisecond
	if err := s.store.SetDelay(ctx, c.Param("id"), d); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// --- sessions ---

type sessionRequest struct {
	Name          string `json:"name" validate:"required,min=1,max=128"`
	SessionString string `json:"session_string" validate:"required"`
}

type sessionResponse struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Status     string    `json:"status,omitempty"`
	LastUsedAt time.Time `json:"last_used_at,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

func toSessionResponse(sess storage.Session) sessionResponse {
	// The session string never leaves the server.
	return sessionResponse{
		ID:         sess.ID,
		Name:       sess.Name,
		Status:     sess.Status,
		LastUsedAt: sess.LastUsedAt,
		CreatedAt:  sess.CreatedAt,
	}
}

func (s *Server) createSession(c echo.Context) error {
	var req sessionRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	sess := storage.Session{
		ID:            uuid.NewString(),
		Name:          req.Name,
		SessionString: req.SessionString,
		Status:        "active",
		CreatedAt:     time.Now(),
	}
	if err := s.store.CreateSession(c.Request().Context(), sess); err != nil {
		return err
	}
	return JSON(c, http.StatusCreated, toSessionResponse(sess))
}

func (s *Server) listSessions(c echo.Context) error {
	sessions, err := s.store.ListSessions(c.Request().Context())
	if err != nil {
		return err
	}
	out := make([]sessionResponse, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, toSessionResponse(sess))
	}
	return JSON(c, http.StatusOK, out)
}

func (s *Server) deleteSession(c echo.Context) error {
	if err := s.store.DeleteSession(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// --- channels / categories ---

type channelRequest struct {
	Username   string `json:"username" validate:"required,min=1,max=128"`
	Title      string `json:"title" validate:"max=256"`
	CategoryID string `json:"category_id"`
}

type channelResponse struct {
	ID         string    `json:"id"`
	Username   string    `json:"username"`
	Title      string    `json:"title,omitempty"`
	CategoryID string    `json:"category_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

func toChannelResponse(ch storage.Channel) channelResponse {
	return channelResponse{
		ID:         ch.ID,
		Username:   ch.Username,
		Title:      ch.Title,
		CategoryID: ch.CategoryID,
		CreatedAt:  ch.CreatedAt,
	}
}

func (s *Server) createChannel(c echo.Context) error {
	var req channelRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	ch := storage.Channel{
		ID:         uuid.NewString(),
		Username:   req.Username,
		Title:      req.Title,
		CategoryID: req.CategoryID,
		CreatedAt:  time.Now(),
	}
	if err := s.store.CreateChannel(c.Request().Context(), ch); err != nil {
		return err
	}
	return JSON(c, http.StatusCreated, toChannelResponse(ch))
}

func (s *Server) listChannels(c echo.Context) error {
	channels, err := s.store.ListChannels(c.Request().Context())
	if err != nil {
		return err
	}
	out := make([]channelResponse, 0, len(channels))
	for _, ch := range channels {
		out = append(out, toChannelResponse(ch))
	}
	return JSON(c, http.StatusOK, out)
}

func (s *Server) deleteChannel(c echo.Context) error {
	if err := s.store.DeleteChannel(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

type categoryRequest struct {
	Name string `json:"name" validate:"required,min=1,max=128"`
}

type categoryResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (s *Server) createCategory(c echo.Context) error {
	var req categoryRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	cat := storage.Category{ID: uuid.NewString(), Name: req.Name}
	if err := s.store.CreateCategory(c.Request().Context(), cat); err != nil {
		return err
	}
	return JSON(c, http.StatusCreated, categoryResponse{ID: cat.ID, Name: cat.Name})
}

func (s *Server) listCategories(c echo.Context) error {
	cats, err := s.store.ListCategories(c.Request().Context())
	if err != nil {
		return err
	}
	out := make([]categoryResponse, 0, len(cats))
	for _, cat := range cats {
		out = append(out, categoryResponse{ID: cat.ID, Name: cat.Name})
	}
	return JSON(c, http.StatusOK, out)
}

func (s *Server) deleteCategory(c echo.Context) error {
	if err := s.store.DeleteCategory(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// --- files ---

type fileRequest struct {
	Path string `json:"path" validate:"required"`
	Kind string `json:"kind" validate:"required,oneof=text photo video"`
}

type fileResponse struct {
	ID        string    `json:"id"`
	Path      string    `json:"path"`
	Kind      string    `json:"kind"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Server) createFile(c echo.Context) error {
	var req fileRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	f := storage.File{
		ID:        uuid.NewString(),
		Path:      req.Path,
		Kind:      req.Kind,
		CreatedAt: time.Now(),
	}
	if err := s.store.CreateFile(c.Request().Context(), f); err != nil {
		return err
	}
	return JSON(c, http.StatusCreated, fileResponse{ID: f.ID, Path: f.Path, Kind: f.Kind, CreatedAt: f.CreatedAt})
}

func (s *Server) getFile(c echo.Context) error {
	f, err := s.store.GetFile(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, fileResponse{ID: f.ID, Path: f.Path, Kind: f.Kind, CreatedAt: f.CreatedAt})
}

// --- runs / health ---

type runDetailResponse struct {
	Run   runResponse      `json:"run"`
	Stats storage.RunStats `json:"stats"`
}

// getRun serves run status + stats by run id for UI polling.
func (s *Server) getRun(c echo.Context) error {
	run, err := s.store.GetRun(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	stats, _ := storage.DecodeRunStats(run.StatsJSON)
	return JSON(c, http.StatusOK, runDetailResponse{
		Run: runResponse{
			ID:        run.ID,
			Status:    run.Status,
			StartedBy: run.StartedBy,
			CreatedAt: run.CreatedAt,
			UpdatedAt: run.UpdatedAt,
		},
		Stats: stats,
	})
}

type runLogResponse struct {
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Server) listRunLogs(c echo.Context) error {
	limit := 100
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 1000 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be between 1 and 1000")
		}
		limit = n
	}
	ctx := c.Request().Context()
	if _, err := s.store.GetRun(ctx, c.Param("id")); err != nil {
		return err
	}
	logs, err := s.store.ListRunLogs(ctx, c.Param("id"), limit)
	if err != nil {
		return err
	}
	out := make([]runLogResponse, 0, len(logs))
	for _, l := range logs {
		out = append(out, runLogResponse{Level: l.Level, Message: l.Message, CreatedAt: l.CreatedAt})
	}
	return JSON(c, http.StatusOK, out)
}

type healthResponse struct {
	Status          string `json:"status"`
	RunningProjects int    `json:"running_projects"`
	RunningRuns     int    `json:"running_runs"`
}

func (s *Server) health(c echo.Context) error {
	counts, err := s.store.CountRunning(c.Request().Context())
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, healthResponse{
		Status:          "ok",
		RunningProjects: counts.RunningProjects,
		RunningRuns:     counts.RunningRuns,
	})
}
