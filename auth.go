package main

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

type account struct {
	ID       string
	Username string
	Role     Role
	AvatarID string
	passHash [sha256.Size]byte
}

// AuthService owns user accounts and session tokens. It implements
// TokenVerifier for the arena; the HTTP surface below is what clients use to
// obtain tokens in the first place.
type AuthService struct {
	secret []byte
	ttl    time.Duration

	mu     sync.RWMutex
	byName map[string]*account
	byID   map[string]*account
}

type sessionClaims struct {
	jwt.RegisteredClaims
	Role Role `json:"role"`
}

func newAuthService(secret string, ttl time.Duration) *AuthService {
	return &AuthService{
		secret: []byte(secret),
		ttl:    ttl,
		byName: make(map[string]*account),
		byID:   make(map[string]*account),
	}
}

func (s *AuthService) Signup(username, password string, role Role) (string, error) {
	if role != RoleAdmin {
		role = RoleUser
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byName[username]; taken {
		return "", ErrUsernameTaken
	}

	acct := &account{
		ID:       uuid.NewString(),
		Username: username,
		Role:     role,
		passHash: sha256.Sum256([]byte(password)),
	}
	s.byName[username] = acct
	s.byID[acct.ID] = acct
	return acct.ID, nil
}

func (s *AuthService) Signin(username, password string) (string, error) {
	s.mu.RLock()
	acct, ok := s.byName[username]
	s.mu.RUnlock()

	if !ok {
		return "", ErrBadCredentials
	}
	digest := sha256.Sum256([]byte(password))
	if subtle.ConstantTimeCompare(digest[:], acct.passHash[:]) != 1 {
		return "", ErrBadCredentials
	}

	now := time.Now()
	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   acct.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
		Role: acct.Role,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// VerifyToken validates a session token and returns the user it belongs to.
func (s *AuthService) VerifyToken(token string) (string, error) {
	var claims sessionClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return "", ErrBadToken
	}

	s.mu.RLock()
	_, known := s.byID[claims.Subject]
	s.mu.RUnlock()
	if !known {
		return "", ErrBadToken
	}
	return claims.Subject, nil
}

func (s *AuthService) lookup(userID string) (*account, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acct, ok := s.byID[userID]
	return acct, ok
}

func (s *AuthService) setAvatar(userID, avatarID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if acct, ok := s.byID[userID]; ok {
		acct.AvatarID = avatarID
	}
}

// authedHandle is an httprouter.Handle that has already passed bearer auth.
type authedHandle func(w http.ResponseWriter, r *http.Request, ps httprouter.Params, acct *account)

// authenticate enforces a valid bearer token and resolves the account.
func (s *AuthService) authenticate(next authedHandle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		header := r.Header.Get("Authorization")
		token, found := strings.CutPrefix(header, "Bearer ")
		if !found || token == "" {
			writeJSON(w, http.StatusForbidden, map[string]string{"message": "Unauthorized"})
			return
		}

		userID, err := s.VerifyToken(token)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Unauthorized"})
			return
		}
		acct, ok := s.lookup(userID)
		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Unauthorized"})
			return
		}
		next(w, r, ps, acct)
	}
}

// adminOnly additionally requires the admin role.
func (s *AuthService) adminOnly(next authedHandle) httprouter.Handle {
	return s.authenticate(func(w http.ResponseWriter, r *http.Request, ps httprouter.Params, acct *account) {
		if acct.Role != RoleAdmin {
			writeJSON(w, http.StatusForbidden, map[string]string{"message": "Forbidden"})
			return
		}
		next(w, r, ps, acct)
	})
}

func handleSignup(cfg *Config, s *AuthService) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		var req struct {
			Username string `json:"username"`
			Password string `json:"password"`
			Type     string `json:"type"`
		}
		if err := readJSON(r, &req); err != nil || req.Username == "" || req.Password == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": "username and password are required"})
			return
		}

		userID, err := s.Signup(req.Username, req.Password, Role(req.Type))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
			return
		}

		logf(cfg, "AUTH: Signed up %q as %s", req.Username, userID)
		writeJSON(w, http.StatusCreated, map[string]string{"userId": userID})
	}
}

func handleSignin(cfg *Config, s *AuthService) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		var req struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if err := readJSON(r, &req); err != nil || req.Username == "" || req.Password == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": "username and password are required"})
			return
		}

		token, err := s.Signin(req.Username, req.Password)
		if err != nil {
			writeJSON(w, http.StatusForbidden, map[string]string{"message": "invalid credentials"})
			return
		}

		logf(cfg, "AUTH: Signed in %q", req.Username)
		writeJSON(w, http.StatusOK, map[string]string{"token": token})
	}
}

func handleUpdateMetadata(s *AuthService, catalog *Catalog) authedHandle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params, acct *account) {
		var req struct {
			AvatarID string `json:"avatarId"`
		}
		if err := readJSON(r, &req); err != nil || req.AvatarID == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": "avatarId is required"})
			return
		}
		if !catalog.HasAvatar(req.AvatarID) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": ErrUnknownAvatar.Error()})
			return
		}

		s.setAvatar(acct.ID, req.AvatarID)
		writeJSON(w, http.StatusOK, map[string]string{"message": "metadata updated"})
	}
}

// handleMetadataBulk serves avatar info for a bracketed id list:
// GET /api/v1/user/metadata/bulk?ids=[id1,id2]
func handleMetadataBulk(s *AuthService, catalog *Catalog) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		raw := strings.Trim(r.URL.Query().Get("ids"), "[]")

		type userAvatar struct {
			UserID   string `json:"userId"`
			AvatarID string `json:"avatarId,omitempty"`
			ImageURL string `json:"imageUrl,omitempty"`
		}
		avatars := make([]userAvatar, 0)

		for _, id := range strings.Split(raw, ",") {
			id = strings.Trim(strings.TrimSpace(id), `"`)
			if id == "" {
				continue
			}
			acct, ok := s.lookup(id)
			if !ok {
				continue
			}
			entry := userAvatar{UserID: acct.ID, AvatarID: acct.AvatarID}
			if av, ok := catalog.Avatar(acct.AvatarID); ok {
				entry.ImageURL = av.ImageURL
			}
			avatars = append(avatars, entry)
		}

		writeJSON(w, http.StatusOK, map[string]any{"avatars": avatars})
	}
}

func registerAuth(cfg *Config, mux *httprouter.Router, s *AuthService, catalog *Catalog) {
	mux.POST(cfg.prefix+"/api/v1/signup", handleSignup(cfg, s))
	mux.POST(cfg.prefix+"/api/v1/signin", handleSignin(cfg, s))
	mux.POST(cfg.prefix+"/api/v1/user/metadata", s.authenticate(handleUpdateMetadata(s, catalog)))
	mux.GET(cfg.prefix+"/api/v1/user/metadata/bulk", handleMetadataBulk(s, catalog))
}
