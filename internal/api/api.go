package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/predikto/predikto/internal/domain"
	"github.com/predikto/predikto/internal/errors"
	"github.com/predikto/predikto/internal/event"
	"github.com/predikto/predikto/internal/flow"
	"github.com/predikto/predikto/internal/leaderboard"
	"github.com/predikto/predikto/internal/score"
	"github.com/predikto/predikto/internal/structure"
	"github.com/predikto/predikto/internal/team"
	"github.com/predikto/predikto/internal/template"
)

type Config struct {
	Engine       *gin.Engine
	EventBus     *event.Bus
	Flow         *flow.Service
	Score        *score.Service
	Leaderboard  *leaderboard.Service
	Team         *team.Service
	Template     *template.Store
	Redis        Redis
	PubsubPrefix string
}

type Redis interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

type API struct {
	fs *flow.Service
	ss *score.Service
	ls *leaderboard.Service
	ts *team.Service
	tp *template.Store

	redis  Redis
	prefix string
}

func New(c Config) *API {
	a := &API{
		fs:     c.Flow,
		ss:     c.Score,
		ls:     c.Leaderboard,
		ts:     c.Team,
		tp:     c.Template,
		redis:  c.Redis,
		prefix: c.PubsubPrefix,
	}

	a.routes(c.Engine)

	c.EventBus.Subscribe(domain.EventNameLeaderboardUpdated, func(ctx context.Context, e event.Event) error {
		return a.PublishLeaderboardUpdated(ctx, e.(domain.EventLeaderboardUpdated))
	})

	return a
}

func (a *API) routes(e *gin.Engine) {
	v1 := e.Group("/v1")

	v1.POST("/flows", a.StartFlow)
	v1.GET("/flows/:token", a.GetFlow)
	v1.POST("/flows/:token/template", a.ChooseTemplate)
	v1.POST("/flows/:token/teams", a.SelectTeams)
	v1.POST("/flows/:token/post", a.CreatePost)
	v1.POST("/flows/:token/abandon", a.AbandonFlow)

	v1.POST("/predictions/:prediction_id/official", a.PublishOfficial)
	v1.GET("/predictions/:prediction_id/leaderboard", a.GetLeaderboard)

	v1.POST("/teams", a.CreateTeam)
	v1.GET("/teams", a.SearchTeams)

	v1.POST("/templates", a.CreateTemplate)
	v1.GET("/templates", a.ListTemplates)

	e.POST("/internal/flows/sweep", a.SweepFlows)
}

func fail(c *gin.Context, err error) {
	e := errors.Convert(err)
	c.JSON(e.HTTPStatusCode(), gin.H{"error": e})
}

type StartFlowRequest struct {
	UserID       int64       `json:"user_id" binding:"required"`
	Kind         domain.Kind `json:"kind" binding:"required"`
	PredictionID int64       `json:"prediction_id"`
}

func (a *API) StartFlow(c *gin.Context) {
	var req StartFlowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	f, err := a.fs.Start(c.Request.Context(), flow.StartRequest{
		UserID:       req.UserID,
		Kind:         req.Kind,
		PredictionID: req.PredictionID,
	})
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"flow": f})
}

func (a *API) GetFlow(c *gin.Context) {
	f, err := a.fs.Get(c.Request.Context(), c.Param("token"))
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"flow": f})
}

type ChooseTemplateRequest struct {
	TemplateID int64 `json:"template_id" binding:"required"`
}

func (a *API) ChooseTemplate(c *gin.Context) {
	var req ChooseTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	f, err := a.fs.ChooseTemplate(c.Request.Context(), flow.ChooseTemplateRequest{
		Token:      c.Param("token"),
		TemplateID: req.TemplateID,
	})
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"flow": f})
}

type SelectTeamsRequest struct {
	TeamIDs        []int64 `json:"team_ids" binding:"required"`
	CreatedTeamIDs []int64 `json:"created_team_ids"`
}

func (a *API) SelectTeams(c *gin.Context) {
	var req SelectTeamsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	f, err := a.fs.SelectTeams(c.Request.Context(), flow.SelectTeamsRequest{
		Token:          c.Param("token"),
		TeamIDs:        req.TeamIDs,
		CreatedTeamIDs: req.CreatedTeamIDs,
	})
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"flow": f})
}

type CreatePostRequest struct {
	Assignments []Assignment  `json:"assignments"`
	Winners     []Advancement `json:"winners"`
	SaveAsDraft bool          `json:"save_as_draft"`
}

// Assignment binds one team to one directly assignable slot.
type Assignment struct {
	Slot   structure.SlotRef `json:"slot"`
	TeamID int64             `json:"team_id"`
}

// Advancement declares the winning child of one internal bracket node.
// Advancements apply in order, so earlier rounds must come first.
type Advancement struct {
	Node   int `json:"node"`
	Winner int `json:"winner"`
}

func (a *API) CreatePost(c *gin.Context) {
	var req CreatePostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	f, err := a.fs.Get(c.Request.Context(), c.Param("token"))
	if err != nil {
		fail(c, err)
		return
	}

	st, err := buildStructure(f.Shape, req)
	if err != nil {
		fail(c, err)
		return
	}

	resp, err := a.fs.CreatePost(c.Request.Context(), flow.CreatePostRequest{
		Token:       c.Param("token"),
		Structure:   st,
		SaveAsDraft: req.SaveAsDraft,
	})
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"flow": resp.Flow, "post": resp.Post})
}

// buildStructure materializes the caller's slot assignments and declared
// winners into a populated structure of the flow's shape.
func buildStructure(shape domain.Shape, req CreatePostRequest) (*domain.Structure, error) {
	st, err := structure.Build(shape)
	if err != nil {
		return nil, err
	}

	for _, as := range req.Assignments {
		if err := structure.Assign(st, as.Slot, as.TeamID); err != nil {
			return nil, err
		}
	}

	for _, adv := range req.Winners {
		if st.Kind != domain.KindTournament {
			return nil, errors.New(errors.CodeInvalidArgument,
				errors.WithMessagef("api: winners only apply to tournament structures"),
			)
		}
		if err := st.Bracket.AdvanceWinner(adv.Node, adv.Winner); err != nil {
			return nil, err
		}
	}

	return st, nil
}

type AbandonFlowRequest struct {
	Reason string `json:"reason"`
}

func (a *API) AbandonFlow(c *gin.Context) {
	var req AbandonFlowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	f, err := a.fs.Abandon(c.Request.Context(), flow.AbandonRequest{
		Token:  c.Param("token"),
		Reason: req.Reason,
	})
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"flow": f})
}

type PublishOfficialRequest struct {
	PostID int64 `json:"post_id" binding:"required"`
}

func (a *API) PublishOfficial(c *gin.Context) {
	predictionID, err := strconv.ParseInt(c.Param("prediction_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid prediction id"})
		return
	}

	var req PublishOfficialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := a.ss.PublishOfficial(c.Request.Context(), score.PublishOfficialRequest{
		PredictionID: predictionID,
		PostID:       req.PostID,
	})
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"official": resp.Official, "scored": resp.Scored})
}

func (a *API) GetLeaderboard(c *gin.Context) {
	predictionID, err := strconv.ParseInt(c.Param("prediction_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid prediction id"})
		return
	}

	l, err := a.ls.GetLeaderboard(c.Request.Context(), leaderboard.GetLeaderboardRequest{
		PredictionID: predictionID,
	})
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, leaderboardJSON(l))
}

type CreateTeamRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
	PhotoURL    string `json:"photo_url"`
	UserID      int64  `json:"user_id" binding:"required"`
}

func (a *API) CreateTeam(c *gin.Context) {
	var req CreateTeamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	t, err := a.ts.CreateTeam(c.Request.Context(), team.CreateTeamRequest{
		Name:        req.Name,
		Description: req.Description,
		PhotoURL:    req.PhotoURL,
		CreatedBy:   req.UserID,
	})
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"team": t})
}

func (a *API) SearchTeams(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	teams, err := a.ts.SearchTeams(c.Request.Context(), team.SearchTeamsRequest{
		Query: c.Query("q"),
		Limit: limit,
	})
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"teams": teams})
}

type CreateTemplateRequest struct {
	Name   string       `json:"name" binding:"required"`
	Shape  domain.Shape `json:"shape" binding:"required"`
	UserID int64        `json:"user_id"`
}

func (a *API) CreateTemplate(c *gin.Context) {
	var req CreateTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tpl, err := a.tp.CreateTemplate(c.Request.Context(), template.CreateTemplateRequest{
		Name:      req.Name,
		Shape:     req.Shape,
		CreatedBy: req.UserID,
	})
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"template": tpl})
}

func (a *API) ListTemplates(c *gin.Context) {
	templates, err := a.tp.ListTemplates(c.Request.Context(), domain.Kind(c.Query("kind")))
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"templates": templates})
}

func (a *API) SweepFlows(c *gin.Context) {
	swept, err := a.fs.SweepExpired(c.Request.Context(), time.Now())
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"swept": swept})
}
