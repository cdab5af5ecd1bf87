package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"flood-duel/internal/game"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// maxBodyBytes caps request bodies; commands are tiny.
const maxBodyBytes = 16 << 10

type joinRequest struct {
	Name string `json:"name"`
	Host bool   `json:"host"`
}

type joinResponse struct {
	PlayerID  int    `json:"playerId"`
	Name      string `json:"name"`
	SessionID string `json:"sessionId"`
	Token     string `json:"token"`
}

type phaseRequest struct {
	Phase game.Phase `json:"phase"`
}

func (h *routerHandlers) handleGetState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ctrl.Snapshot())
}

func (h *routerHandlers) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	history, err := h.ctrl.History(ctx)
	if err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": history})
}

func (h *routerHandlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := h.ctrl.Snapshot()
	if err := h.ctrl.Health(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "unavailable",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"sessionId": snap.SessionID,
		"phase":     snap.Phase,
		"version":   snap.Version,
	})
}

// handleJoin admits a player and hands back a seat token for every later
// command. Reclaiming a dropped seat needs that seat's previous token; a
// bare name never does.
func (h *routerHandlers) handleJoin(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var (
		id  int
		err error
	)
	if tok := bearerToken(r); tok != "" {
		prior, verr := h.seats.Verify(tok)
		if verr == nil && prior.SessionID != h.ctrl.Snapshot().SessionID {
			verr = fmt.Errorf("%w: seat belongs to another session", ErrTokenInvalid)
		}
		if verr != nil {
			RecordConnectionRejected("unauthorized")
			writeError(w, http.StatusUnauthorized, verr.Error())
			return
		}
		id, err = h.ctrl.Rejoin(ctx, prior.PlayerID, prior.Name)
	} else {
		id, err = h.ctrl.Join(ctx, req.Name, req.Host)
	}
	if err != nil {
		RecordCommand("connect", err)
		writeCommandError(w, err)
		return
	}
	RecordCommand("connect", nil)

	snap := h.ctrl.Snapshot()
	name := req.Name
	if p, ok := snap.Player(id); ok {
		name = p.Name
	}
	token, err := h.seats.Issue(Seat{SessionID: snap.SessionID, PlayerID: id, Name: name})
	if err != nil {
		h.logger.Error("issue seat token", zap.Int("player", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not issue seat token")
		return
	}

	writeJSON(w, http.StatusCreated, joinResponse{
		PlayerID:  id,
		Name:      name,
		SessionID: snap.SessionID,
		Token:     token,
	})
}

func (h *routerHandlers) handleLeave(w http.ResponseWriter, r *http.Request) {
	seat, _ := SeatFromContext(r.Context())

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	err := h.ctrl.Disconnect(ctx, seat.PlayerID)
	RecordCommand("disconnect", err)
	if err != nil {
		writeCommandError(w, err)
		return
	}
	h.commands.Forget(seat.PlayerID)
	w.WriteHeader(http.StatusNoContent)
}

// handleCommand decodes the command arguments from the body. The issuer
// always comes from the seat token, never from the payload.
func (h *routerHandlers) handleCommand(kind game.CommandKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		seat, _ := SeatFromContext(r.Context())

		var cmd game.Command
		if err := decodeJSON(w, r, &cmd); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		cmd.Kind = kind
		cmd.Issuer = seat.PlayerID

		if !h.commands.Allow(seat.PlayerID) {
			RecordCommand(kind.String(), errThrottled)
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, errThrottled.Error())
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
		defer cancel()

		err := h.ctrl.Execute(ctx, cmd)
		RecordCommand(kind.String(), err)
		if err != nil {
			writeCommandError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, h.ctrl.Snapshot())
	}
}

func (h *routerHandlers) handleReset(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	if err := h.ctrl.Reset(ctx); err != nil {
		writeCommandError(w, err)
		return
	}
	h.logger.Info("session reset", zap.String("remote", GetClientIP(r)))
	writeJSON(w, http.StatusOK, h.ctrl.Snapshot())
}

func (h *routerHandlers) handleForcePhase(w http.ResponseWriter, r *http.Request) {
	var req phaseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	if err := h.ctrl.ForcePhase(ctx, req.Phase); err != nil {
		writeCommandError(w, err)
		return
	}
	h.logger.Warn("phase forced over http",
		zap.String("to", req.Phase.String()),
		zap.String("remote", GetClientIP(r)),
	)
	writeJSON(w, http.StatusOK, h.ctrl.Snapshot())
}

// =============================================================================
// HELPERS
// =============================================================================

var errThrottled = errors.New("too many commands")

func playerIDParam(r *http.Request) (int, error) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid player id %q", chi.URLParam(r, "id"))
	}
	return id, nil
}

// decodeJSON reads a bounded JSON body. An empty body leaves v untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, game.ErrUnknownPlayer):
		return http.StatusNotFound
	case errors.Is(err, game.ErrInvalidCommand):
		return http.StatusBadRequest
	case errors.Is(err, game.ErrCapacityExceeded),
		errors.Is(err, game.ErrInvalidTransition),
		errors.Is(err, game.ErrAlreadyDeclared):
		return http.StatusConflict
	case errors.Is(err, game.ErrEngineStopped):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	}
	return http.StatusInternalServerError
}

func writeCommandError(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err.Error())
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
