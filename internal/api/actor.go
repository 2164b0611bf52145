package api

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"rentmarket/internal/models"

	"github.com/golang-jwt/jwt/v5"
)

const (
	headerAuthorization = "authorization"
	headerActorID       = "x-actor-id"
	headerActorRole     = "x-actor-role"
)

var errUnauthenticated = errors.New("unauthenticated")

// actorClaims is the token body: sub carries the user id.
type actorClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// ActorResolver turns request headers into a models.Actor. With a secret it
// trusts only HS256 bearer tokens; without one it trusts the gateway headers.
type ActorResolver struct {
	secret []byte
}

func NewActorResolver(secret string) *ActorResolver {
	return &ActorResolver{secret: []byte(secret)}
}

// Resolve reads the actor using get to look headers up by lower-case name.
func (a *ActorResolver) Resolve(get func(name string) string) (models.Actor, error) {
	if len(a.secret) > 0 {
		raw := strings.TrimSpace(get(headerAuthorization))
		token, ok := strings.CutPrefix(raw, "Bearer ")
		if !ok || token == "" {
			return models.Actor{}, fmt.Errorf("%w: bearer token required", errUnauthenticated)
		}
		return a.parseToken(strings.TrimSpace(token))
	}
	return actorFromValues(get(headerActorID), get(headerActorRole))
}

func (a *ActorResolver) parseToken(token string) (models.Actor, error) {
	claims := &actorClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return models.Actor{}, fmt.Errorf("%w: %v", errUnauthenticated, err)
	}
	return actorFromValues(claims.Subject, claims.Role)
}

// SignActorToken issues a token Resolve accepts.
func SignActorToken(secret string, actor models.Actor, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := actorClaims{
		Role: string(actor.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(actor.UserID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func actorFromValues(rawID, rawRole string) (models.Actor, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(rawID), 10, 64)
	if err != nil || id <= 0 {
		return models.Actor{}, fmt.Errorf("%w: invalid actor id", errUnauthenticated)
	}
	role := models.Role(strings.ToLower(strings.TrimSpace(rawRole)))
	if !role.Valid() {
		return models.Actor{}, fmt.Errorf("%w: invalid actor role %q", errUnauthenticated, rawRole)
	}
	return models.Actor{UserID: id, Role: role}, nil
}

type actorKey struct{}

func withActor(ctx context.Context, actor models.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

func actorFromContext(ctx context.Context) (models.Actor, bool) {
	actor, ok := ctx.Value(actorKey{}).(models.Actor)
	return actor, ok
}
