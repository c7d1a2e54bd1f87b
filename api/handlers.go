package api

import (
	"context"
	"errors"
	"iter"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/papercomputeco/ctxstore/pkg/chatctx"
	"github.com/papercomputeco/ctxstore/pkg/storage"
	"github.com/papercomputeco/ctxstore/pkg/turn"
	"github.com/papercomputeco/ctxstore/pkg/value"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ContextResponse describes a stored context without its turn values.
type ContextResponse struct {
	ID            string    `json:"id"`
	TurnID        int       `json:"turn_id"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	Misc          value.Bag `json:"misc"`
	FrameworkData value.Bag `json:"framework_data"`

	// Keys lists the turn ids present in each field.
	Keys map[storage.Field][]int `json:"keys"`

	LastLabel *turn.Label `json:"last_label,omitempty"`
}

// TurnResponse is one turn of a context.
type TurnResponse struct {
	ID       int           `json:"id"`
	Label    *turn.Label   `json:"label,omitempty"`
	Request  *turn.Message `json:"request,omitempty"`
	Response *turn.Message `json:"response,omitempty"`
}

// TurnsResponse lists the turns of a context in [from, to).
type TurnsResponse struct {
	ContextID string         `json:"context_id"`
	From      int            `json:"from"`
	To        int            `json:"to"`
	Turns     []TurnResponse `json:"turns"`
}

// NewContextResponse describes cc. The caller holds the context's lock; the
// response shares no maps with cc and may be encoded after it is released.
func NewContextResponse(ctx context.Context, cc *chatctx.Context) ContextResponse {
	resp := ContextResponse{
		ID:            cc.ID(),
		TurnID:        cc.TurnID(),
		CreatedAt:     cc.CreatedAt().UTC(),
		UpdatedAt:     cc.UpdatedAt().UTC(),
		Misc:          cc.Misc().Clone(),
		FrameworkData: cc.FrameworkData().Clone(),
		Keys: map[storage.Field][]int{
			storage.LabelsField:    collectKeys(cc.Labels().Keys()),
			storage.RequestsField:  collectKeys(cc.Requests().Keys()),
			storage.ResponsesField: collectKeys(cc.Responses().Keys()),
		},
	}
	if l, err := cc.LastLabel(ctx); err == nil {
		resp.LastLabel = &l
	}
	return resp
}

// NewTurnResponses converts turns to their wire form, copying every message
// so the result outlives the context's lock.
func NewTurnResponses(turns []turn.Turn) []TurnResponse {
	out := make([]TurnResponse, len(turns))
	for i, t := range turns {
		out[i] = TurnResponse{ID: t.ID, Label: t.Label, Request: cloneMessage(t.Request), Response: cloneMessage(t.Response)}
	}
	return out
}

func cloneMessage(m *turn.Message) *turn.Message {
	if m == nil {
		return nil
	}
	c := m.Clone()
	return &c
}

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *fiber.Ctx) error {
	return c.JSON("pong")
}

// handleGetContext returns the scalar record and key index of a context.
func (s *Server) handleGetContext(c *fiber.Ctx) error {
	id := c.Params("id")

	var resp ContextResponse
	err := s.manager.View(c.UserContext(), id, func(ctx context.Context, cc *chatctx.Context) error {
		resp = NewContextResponse(ctx, cc)
		return nil
	})
	if err != nil {
		return s.errorResponse(c, id, err)
	}

	return c.JSON(resp)
}

// handleGetTurns returns the turns of a context.
// Query parameters:
//   - from (optional, default 0): first turn id
//   - to (optional, default current turn id + 1): turn id after the last one
func (s *Server) handleGetTurns(c *fiber.Ctx) error {
	id := c.Params("id")

	from, err := queryInt(c, "from")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: err.Error()})
	}
	to, err := queryInt(c, "to")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: err.Error()})
	}

	resp := TurnsResponse{ContextID: id}
	err = s.manager.View(c.UserContext(), id, func(ctx context.Context, cc *chatctx.Context) error {
		resp.From = 0
		if from != nil {
			resp.From = *from
		}
		resp.To = cc.TurnID() + 1
		if to != nil {
			resp.To = *to
		}
		if resp.From > resp.To {
			return errBadRange
		}

		turns, err := cc.Turns(ctx, resp.From, resp.To)
		if err != nil {
			return err
		}
		resp.Turns = NewTurnResponses(turns)
		return nil
	})
	if err != nil {
		return s.errorResponse(c, id, err)
	}

	return c.JSON(resp)
}

// handleDeleteContext removes a context from storage.
func (s *Server) handleDeleteContext(c *fiber.Ctx) error {
	id := c.Params("id")

	if err := s.manager.DeleteContext(c.UserContext(), id); err != nil {
		return s.errorResponse(c, id, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

var errBadRange = errors.New("from must not be greater than to")

// errorResponse maps storage errors to status codes.
func (s *Server) errorResponse(c *fiber.Ctx, id string, err error) error {
	switch {
	case errors.Is(err, errBadRange):
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: err.Error()})
	case errors.Is(err, storage.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Error: "context not found"})
	case errors.Is(err, storage.ErrBackendUnavailable):
		s.logger.Warn("storage unavailable", "context_id", id, "error", err)
		return c.Status(fiber.StatusServiceUnavailable).JSON(ErrorResponse{Error: "storage unavailable"})
	default:
		s.logger.Error("request failed", "context_id", id, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: err.Error()})
	}
}

func queryInt(c *fiber.Ctx, name string) (*int, error) {
	raw := c.Query(name)
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return nil, errors.New(name + " must be a non-negative integer")
	}
	return &n, nil
}

func collectKeys(seq iter.Seq[int]) []int {
	keys := []int{}
	for k := range seq {
		keys = append(keys, k)
	}
	return keys
}
