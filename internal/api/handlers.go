package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-playground/validator"
	"github.com/labstack/echo/v4"

	"github.com/MrWong99/questweaver/internal/auth"
	"github.com/MrWong99/questweaver/internal/campaign"
	"github.com/MrWong99/questweaver/internal/entity"
	"github.com/MrWong99/questweaver/internal/mcp/tools"
	"github.com/MrWong99/questweaver/internal/observe"
)

type messageResponse struct {
	Message string `json:"message"`
}

// authMiddleware resolves the bearer token and stores the user in the
// request context.
func (s *Server) authMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		header := c.Request().Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") || s.deps.Auth == nil {
			return c.JSON(http.StatusUnauthorized, messageResponse{Message: "Unauthorized"})
		}
		user, err := s.deps.Auth.Resolve(c.Request().Context(), header)
		if err != nil {
			return c.JSON(http.StatusUnauthorized, messageResponse{Message: "Unauthorized"})
		}
		ctx := auth.WithUser(c.Request().Context(), user)
		attrs := []slog.Attr{slog.String("user_id", user)}
		if id := c.Param("id"); id != "" {
			attrs = append(attrs, slog.String("campaign_id", id))
		}
		c.SetRequest(c.Request().WithContext(observe.WithLogAttrs(ctx, attrs...)))
		return next(c)
	}
}

func userOf(c echo.Context) string {
	user, _ := auth.UserFrom(c.Request().Context())
	return user
}

// statusFor maps an error kind to an HTTP status.
func statusFor(err error) int {
	switch entity.Kind(err) {
	case entity.ErrValidation:
		return http.StatusBadRequest
	case entity.ErrNotFound:
		return http.StatusNotFound
	case entity.ErrUnauthorized:
		return http.StatusForbidden
	case entity.ErrConflict:
		return http.StatusConflict
	case entity.ErrDependency:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func statusForCode(code tools.Code) int {
	switch code {
	case tools.CodeValidation:
		return http.StatusBadRequest
	case tools.CodeNotFound:
		return http.StatusNotFound
	case tools.CodeUnauthorized:
		return http.StatusForbidden
	case tools.CodeConflict:
		return http.StatusConflict
	case tools.CodeDependency:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func fail(c echo.Context, err error) error {
	status := statusFor(err)
	msg := err.Error()
	switch status {
	case http.StatusInternalServerError:
		observe.Logger(c.Request().Context()).Error("api: request failed",
			slog.String("path", c.Path()), slog.Any("err", err))
		msg = "Internal server error"
	case http.StatusForbidden:
		msg = "Forbidden"
	}
	return c.JSON(status, messageResponse{Message: msg})
}

// bind decodes and validates the body into v.
func bind(c echo.Context, v any) error {
	if err := c.Bind(v); err != nil {
		return entity.Validationf("invalid request body")
	}
	if err := c.Validate(v); err != nil {
		var ves validator.ValidationErrors
		if errors.As(err, &ves) && len(ves) > 0 {
			return entity.Validationf("invalid request body: %s failed %q", ves[0].Field(), ves[0].Tag())
		}
		return entity.Validationf("invalid request body")
	}
	return nil
}

func (s *Server) createCampaign(c echo.Context) error {
	body := new(campaign.CreateInput)
	if err := bind(c, body); err != nil {
		return fail(c, err)
	}
	created, err := s.deps.Campaigns.Create(c.Request().Context(), userOf(c), *body)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, created)
}

func (s *Server) listCampaigns(c echo.Context) error {
	cs, err := s.deps.Campaigns.List(c.Request().Context(), userOf(c))
	if err != nil {
		return fail(c, err)
	}
	if cs == nil {
		cs = []entity.Campaign{}
	}
	return c.JSON(http.StatusOK, cs)
}

func (s *Server) getCampaign(c echo.Context) error {
	got, err := s.deps.Campaigns.Get(c.Request().Context(), userOf(c), c.Param("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, got)
}

type updateCampaignBody struct {
	Name        *string         `json:"name" validate:"omitempty,min=1,max=200"`
	Description *string         `json:"description" validate:"omitempty,max=20000"`
	Metadata    entity.Metadata `json:"metadata"`
}

func (s *Server) updateCampaign(c echo.Context) error {
	body := new(updateCampaignBody)
	if err := bind(c, body); err != nil {
		return fail(c, err)
	}
	updated, err := s.deps.Campaigns.Update(c.Request().Context(), userOf(c), c.Param("id"), entity.CampaignPatch{
		Name:        body.Name,
		Description: body.Description,
		Metadata:    body.Metadata,
	})
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, updated)
}

func (s *Server) deleteCampaign(c echo.Context) error {
	if err := s.deps.Campaigns.Delete(c.Request().Context(), userOf(c), c.Param("id")); err != nil {
		return fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

type planningBody struct {
	ID   string `json:"id" validate:"required,max=200"`
	Text string `json:"text" validate:"required,max=20000"`
}

func (s *Server) indexPlanningContext(c echo.Context) error {
	ctx := c.Request().Context()
	body := new(planningBody)
	if err := bind(c, body); err != nil {
		return fail(c, err)
	}
	if _, err := s.deps.Campaigns.Authorize(ctx, userOf(c), c.Param("id")); err != nil {
		return fail(c, err)
	}
	if s.deps.Planning == nil {
		return c.JSON(http.StatusServiceUnavailable, messageResponse{Message: "No embedding provider configured"})
	}
	if err := s.deps.Planning.IndexPlanningContext(ctx, c.Param("id"), body.ID, body.Text); err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusAccepted, messageResponse{Message: "Planning note indexed"})
}

func (s *Server) listTools(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"tools":  s.deps.Tools.Tools(),
		"health": s.deps.Tools.Health(),
	})
}

// callTool runs a tool with the raw request body as arguments. The response
// is always the envelope.
func (s *Server) callTool(c echo.Context) error {
	raw, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, tools.Envelope{Message: "invalid request body", Code: tools.CodeValidation})
	}
	env, err := s.deps.Tools.Execute(c.Request().Context(), c.Param("name"), json.RawMessage(raw))
	if err != nil {
		return c.JSON(statusFor(err), tools.Envelope{Message: err.Error(), Code: tools.CodeFor(err)})
	}
	if !env.Success {
		return c.JSON(statusForCode(env.Code), env)
	}
	return c.JSON(http.StatusOK, env)
}
