package api

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	// SeatTokenTTL bounds how long a seat token stays valid.
	SeatTokenTTL = 24 * time.Hour

	seatSecretSize = 32
)

var (
	ErrUnauthorized  = errors.New("unauthorized")
	ErrTokenMissing  = fmt.Errorf("%w: token missing", ErrUnauthorized)
	ErrTokenInvalid  = fmt.Errorf("%w: token invalid", ErrUnauthorized)
	ErrTokenExpired  = fmt.Errorf("%w: token expired", ErrUnauthorized)
	ErrSeatForbidden = errors.New("token does not own this seat")
)

// Seat is what a seat token asserts: the bearer holds player PlayerID in
// session SessionID under display name Name.
type Seat struct {
	SessionID string `json:"sid"`
	PlayerID  int    `json:"pid"`
	Name      string `json:"name"`
	ExpiresAt int64  `json:"exp"`
}

// SeatSigner issues and verifies HMAC-signed seat tokens. Tokens are
// "<payload>.<signature>", both base64url without padding.
type SeatSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSeatSigner creates a signer. An empty secret is replaced with random
// bytes, so tokens die with the process.
func NewSeatSigner(secret string) (*SeatSigner, error) {
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, seatSecretSize)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generate seat secret: %w", err)
		}
	}
	return &SeatSigner{secret: key, ttl: SeatTokenTTL, now: time.Now}, nil
}

// Issue returns a token for seat. ExpiresAt is filled in by the signer.
func (s *SeatSigner) Issue(seat Seat) (string, error) {
	seat.ExpiresAt = s.now().Add(s.ttl).Unix()
	payload, err := json.Marshal(seat)
	if err != nil {
		return "", fmt.Errorf("encode seat: %w", err)
	}
	body := base64.RawURLEncoding.EncodeToString(payload)
	return body + "." + s.sign(body), nil
}

// Verify checks a token's signature and expiry and returns its seat.
func (s *SeatSigner) Verify(token string) (Seat, error) {
	if token == "" {
		return Seat{}, ErrTokenMissing
	}
	body, sig, ok := strings.Cut(token, ".")
	if !ok || !hmac.Equal([]byte(sig), []byte(s.sign(body))) {
		return Seat{}, ErrTokenInvalid
	}

	payload, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil {
		return Seat{}, ErrTokenInvalid
	}
	var seat Seat
	if err := json.Unmarshal(payload, &seat); err != nil {
		return Seat{}, ErrTokenInvalid
	}
	if s.now().Unix() >= seat.ExpiresAt {
		return Seat{}, ErrTokenExpired
	}
	return seat, nil
}

func (s *SeatSigner) sign(body string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(body))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// bearerToken reads "Authorization: Bearer <token>", falling back to the
// token query parameter browsers must use for WebSocket upgrades.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if tok, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(tok)
		}
	}
	return r.URL.Query().Get("token")
}

type seatCtxKey struct{}

func withSeat(ctx context.Context, seat Seat) context.Context {
	return context.WithValue(ctx, seatCtxKey{}, seat)
}

// SeatFromContext returns the seat an authenticated request acts for.
func SeatFromContext(ctx context.Context) (Seat, bool) {
	seat, ok := ctx.Value(seatCtxKey{}).(Seat)
	return seat, ok
}

// authorizeSeat verifies token and checks that it still names a live
// player of the running session.
func (h *routerHandlers) authorizeSeat(token string) (Seat, error) {
	seat, err := h.seats.Verify(token)
	if err != nil {
		return Seat{}, err
	}
	if err := h.seatHeld(seat); err != nil {
		return Seat{}, err
	}
	return seat, nil
}

// seatHeld reports whether seat still names a live player. A seat is lost
// once the session changes or its id is reused by someone else.
func (h *routerHandlers) seatHeld(seat Seat) error {
	snap := h.ctrl.Snapshot()
	if seat.SessionID != snap.SessionID {
		return fmt.Errorf("%w: seat belongs to another session", ErrTokenInvalid)
	}
	p, ok := snap.Player(seat.PlayerID)
	if !ok || p.Name != seat.Name {
		return fmt.Errorf("%w: seat no longer held", ErrTokenInvalid)
	}
	return nil
}

// SeatMiddleware requires a seat token whose player id matches {id}.
func (h *routerHandlers) SeatMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := playerIDParam(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		seat, err := h.authorizeSeat(bearerToken(r))
		if err != nil {
			RecordConnectionRejected("unauthorized")
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		if seat.PlayerID != id {
			RecordConnectionRejected("forbidden")
			writeError(w, http.StatusForbidden, ErrSeatForbidden.Error())
			return
		}

		next.ServeHTTP(w, r.WithContext(withSeat(r.Context(), seat)))
	})
}

// AdminAuthMiddleware guards session control routes with a static bearer
// token. An empty token leaves the routes open.
func AdminAuthMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !hmac.Equal([]byte(bearerToken(r)), []byte(token)) {
				RecordConnectionRejected("admin_auth")
				writeError(w, http.StatusUnauthorized, "admin token required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
