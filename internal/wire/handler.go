package wire

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/matthewbaird/canalworks/internal/errors"
	"github.com/matthewbaird/canalworks/internal/hierarchy"
	"github.com/matthewbaird/canalworks/internal/session"
	"github.com/matthewbaird/canalworks/internal/types"
	"github.com/matthewbaird/canalworks/internal/workflow"
)

// GatewayFunc returns the gateway a session submits through, bound to the
// session's audit identity.
type GatewayFunc func(audit types.Audit) workflow.Gateway

// Handler manages WebSocket connections for form sessions.
type Handler struct {
	sessions  *session.Manager
	reducer   *workflow.Reducer
	loader    hierarchy.Loader
	gateway   GatewayFunc
	observers []workflow.Observer
	origins   []string
	logger    *zap.Logger
}

// NewHandler creates a WebSocket handler with all dependencies.
func NewHandler(
	sessions *session.Manager,
	reducer *workflow.Reducer,
	loader hierarchy.Loader,
	gateway GatewayFunc,
	logger *zap.Logger,
	observers ...workflow.Observer,
) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		sessions:  sessions,
		reducer:   reducer,
		loader:    loader,
		gateway:   gateway,
		observers: observers,
		logger:    logger.Named("wire"),
	}
}

// AllowOrigins sets the host patterns, in path.Match syntax, that
// cross-origin browsers may upgrade from. With none set only same-origin
// upgrades and clients that send no Origin header are accepted.
func (h *Handler) AllowOrigins(patterns ...string) *Handler {
	h.origins = patterns
	return h
}

// actorOf reads the editing identity from the X-Actor header, or from the
// actor query parameter for browsers that cannot set headers on an upgrade.
func actorOf(r *http.Request) string {
	if a := r.Header.Get("X-Actor"); a != "" {
		return a
	}
	return r.URL.Query().Get("actor")
}

// ServeHTTP upgrades to WebSocket and runs the message loop. A session query
// parameter naming a live session of the same actor resumes it.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	actor := actorOf(r)
	if actor == "" {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{
			"code":  string(apperrors.CodeMissingActor),
			"error": "X-Actor header or actor parameter is required",
		})
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.origins,
	})
	if err != nil {
		h.logger.Warn("websocket accept", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	sess, resumed := h.attach(ctx, actor, r.URL.Query().Get("session"))
	log := h.logger.With(zap.String("session", sess.ID), zap.String("actor", actor))

	h.send(ctx, conn, ServerMessage{
		Type: "session",
		Data: SessionData{SessionID: sess.ID, Actor: actor, Resumed: resumed},
	})
	h.send(ctx, conn, ServerMessage{Type: "state", Data: StateData{State: sess.State()}})

	for {
		var msg ClientMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			if status := websocket.CloseStatus(err); status != -1 {
				log.Debug("connection closed", zap.Int("status", int(status)))
			}
			return
		}
		sess.Touch()

		switch msg.Type {
		case "event":
			h.handleEvent(ctx, conn, sess, msg)
		case "submit":
			h.handleSubmit(ctx, conn, sess, msg, log)
		case "ping":
			h.send(ctx, conn, ServerMessage{Type: "pong", RequestID: msg.ID})
		default:
			h.sendError(ctx, conn, msg.ID, "unknown_type", fmt.Sprintf("unknown message type: %s", msg.Type))
		}
	}
}

// attach resumes the named session when it is live and owned by actor, and
// otherwise creates one with the root options loaded.
func (h *Handler) attach(ctx context.Context, actor, id string) (*session.Session, bool) {
	if id != "" {
		if s := h.sessions.Get(id); s != nil && s.Actor == actor {
			return s, true
		}
	}
	sess := h.sessions.Create(actor, workflow.NewState(types.NewForm()))
	h.loadRoots(ctx, sess)
	return sess, false
}

func (h *Handler) loadRoots(ctx context.Context, sess *session.Session) {
	roots, err := hierarchy.NewResolver(h.loader).Roots(ctx)
	sess.Update(func(s workflow.State) workflow.State {
		if err != nil {
			s.Banner = "Could not load the location and catalog lists: " + apperrors.BannerFor(err)
			return s
		}
		for level, opts := range roots {
			s, _ = h.reducer.Reduce(s, workflow.OptionsLoaded{Level: level, Options: opts})
		}
		return s
	})
	if err != nil {
		h.logger.Warn("loading root options", zap.Error(err))
	}
}

func (h *Handler) orchestrator(audit types.Audit) *workflow.Orchestrator {
	var gw workflow.Gateway
	if h.gateway != nil {
		gw = h.gateway(audit)
	}
	return workflow.NewOrchestrator(h.reducer, gw, h.loader, h.logger, h.observers...)
}

func toEvent(d EventData) (workflow.Event, error) {
	switch d.Kind {
	case KindFieldChanged:
		if d.Field == "" {
			return nil, fmt.Errorf("field is required")
		}
		return workflow.FieldChanged{Section: d.Section, Row: d.Row, Field: d.Field, Value: d.Value}, nil
	case KindAncestorCleared:
		return workflow.AncestorCleared{Field: d.Field}, nil
	case KindRowAdded:
		return workflow.RowAdded{Section: d.Section}, nil
	case KindRowRemoved:
		return workflow.RowRemoved{Section: d.Section, Row: d.Row}, nil
	case KindReset:
		return workflow.Reset{}, nil
	}
	return nil, fmt.Errorf("unknown event kind %q", d.Kind)
}

func (h *Handler) handleEvent(ctx context.Context, conn *websocket.Conn, sess *session.Session, msg ClientMessage) {
	var data EventData
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		h.sendError(ctx, conn, msg.ID, "invalid_data", "invalid event data")
		return
	}
	ev, err := toEvent(data)
	if err != nil {
		h.sendError(ctx, conn, msg.ID, "invalid_event", err.Error())
		return
	}

	// Edits only load options; no gateway is needed.
	start, ok := sess.Begin()
	if !ok {
		h.sendError(ctx, conn, msg.ID, "busy", "the session is busy with another request")
		return
	}
	state := h.orchestrator(types.Audit{}).Dispatch(ctx, start, ev, nil)
	sess.End(state)
	if _, reset := ev.(workflow.Reset); reset {
		h.loadRoots(ctx, sess)
		state = sess.State()
	}
	h.send(ctx, conn, ServerMessage{Type: "state", RequestID: msg.ID, Data: StateData{State: state}})
}

func (h *Handler) handleSubmit(ctx context.Context, conn *websocket.Conn, sess *session.Session, msg ClientMessage, log *zap.Logger) {
	correlation := uuid.New().String()
	audit := types.Audit{
		CreatedBy:     sess.Actor,
		UpdatedBy:     sess.Actor,
		Source:        "user",
		CorrelationID: &correlation,
	}
	start, ok := sess.Begin()
	if !ok {
		h.sendError(ctx, conn, msg.ID, "busy", "a submission is in progress for this session")
		return
	}
	log.Info("submission started", zap.String("correlation_id", correlation))

	// The dispatch runs outside the session lock; each intermediate state is
	// published so resumed connections and the janitor see the step in
	// flight.
	last := start.Phase
	state := h.orchestrator(audit).Dispatch(ctx, start, workflow.SubmitRequested{}, func(next workflow.State) {
		sess.Set(next)
		if next.Phase != last && next.Phase.InFlight() {
			h.send(ctx, conn, ServerMessage{
				Type:      "step",
				RequestID: msg.ID,
				Data:      StepData{Phase: next.Phase, WorkID: next.WorkID},
			})
		}
		last = next.Phase
	})
	sess.End(state)

	h.send(ctx, conn, ServerMessage{Type: "state", RequestID: msg.ID, Data: StateData{State: state}})
	result := ResultData{Phase: state.Phase, WorkID: state.WorkID, Banner: state.Banner, Failure: state.Failure}
	if err := state.Err(); err != nil {
		result.Code = string(apperrors.CodeOf(err))
	}
	h.send(ctx, conn, ServerMessage{Type: "result", RequestID: msg.ID, Data: result})
}

func (h *Handler) send(ctx context.Context, conn *websocket.Conn, msg ServerMessage) {
	if err := wsjson.Write(ctx, conn, msg); err != nil {
		h.logger.Debug("write error", zap.Error(err))
	}
}

func (h *Handler) sendError(ctx context.Context, conn *websocket.Conn, requestID, code, message string) {
	h.send(ctx, conn, ServerMessage{
		Type:      "error",
		RequestID: requestID,
		Data: ErrorData{
			Code:    code,
			Message: message,
		},
	})
}
