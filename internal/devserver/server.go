package devserver

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"parentlink-client/internal/models"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// upgrader accepts any origin; the devserver only ever runs locally.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Server is the local stand-in for the real backend: just enough REST and
// realtime surface for the messaging client to run against.
type Server struct {
	store       *Store
	hub         *Hub
	engine      *gin.Engine
	jwtSecret   string
	tokenMaxAge time.Duration
}

func New(jwtSecret string, tokenMaxAge time.Duration) *Server {
	s := &Server{
		store:       NewStore(),
		hub:         nil,
		jwtSecret:   jwtSecret,
		tokenMaxAge: tokenMaxAge,
	}
	s.hub = NewHub(s.store)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", "Upgrade", "Connection"}
	r.Use(cors.New(corsConfig))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "UP"})
	})

	r.GET("/ws", s.handleWebSocket)

	apiV1 := r.Group("/api/v1")
	{
		apiV1.POST("/auth/register", s.register)
		apiV1.POST("/auth/login", s.login)

		protected := apiV1.Group("/")
		protected.Use(AuthRequired(jwtSecret))
		{
			protected.GET("/auth/me", s.getMe)
			protected.GET("/users", s.searchUsers)
			protected.GET("/chats", s.getChats)
			protected.POST("/chats", s.createChat)
			protected.GET("/messages", s.getMessages)
		}
	}

	s.engine = r
	return s
}

// Handler exposes the full HTTP surface, usable directly with http.Server or
// httptest.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) register(c *gin.Context) {
	var req models.CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request data", "details": err.Error()})
		return
	}

	hashed, err := HashPassword(req.Password)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process registration"})
		return
	}

	user := &models.User{
		ID:             uuid.New(),
		Username:       req.Username,
		Email:          req.Email,
		HashedPassword: hashed,
		CreatedAt:      time.Now(),
	}
	if err := s.store.CreateUser(user); err != nil {
		switch {
		case errors.Is(err, ErrEmailExists):
			c.JSON(http.StatusConflict, gin.H{"error": "Email already exists"})
		case errors.Is(err, ErrUsernameExists):
			c.JSON(http.StatusConflict, gin.H{"error": "Username already exists"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to register user"})
		}
		return
	}

	token, err := GenerateToken(user.ID, s.jwtSecret, s.tokenMaxAge)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Registration successful, but failed to generate token"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"token": token, "user": user.ToPublicUser()})
}

func (s *Server) login(c *gin.Context) {
	var req models.LoginUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request data", "details": err.Error()})
		return
	}

	user, err := s.store.GetUserByEmail(req.Email)
	if err != nil || !CheckPasswordHash(req.Password, user.HashedPassword) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid email or password"})
		return
	}

	token, err := GenerateToken(user.ID, s.jwtSecret, s.tokenMaxAge)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Login successful, but failed to generate token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token, "user": user.ToPublicUser()})
}

func (s *Server) getMe(c *gin.Context) {
	userID, err := currentUserID(c)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Invalid user session"})
		return
	}
	user, err := s.store.GetUserByID(userID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}
	c.JSON(http.StatusOK, user.ToPublicUser())
}

func (s *Server) searchUsers(c *gin.Context) {
	query := c.Query("q")
	users := s.store.SearchUsers(query, 20)
	c.JSON(http.StatusOK, users)
}

func (s *Server) getChats(c *gin.Context) {
	userID, err := currentUserID(c)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Invalid user session"})
		return
	}
	c.JSON(http.StatusOK, s.store.ChatsForUser(userID))
}

// createChat is find-or-create keyed by the participant set; the caller is
// always included.
func (s *Server) createChat(c *gin.Context) {
	userID, err := currentUserID(c)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Invalid user session"})
		return
	}

	var req models.CreateChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request data", "details": err.Error()})
		return
	}

	participants := []uuid.UUID{userID}
	for _, id := range req.ParticipantIDs {
		if id == userID {
			continue
		}
		if _, err := s.store.GetUserByID(id); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Participant not found"})
			return
		}
		participants = append(participants, id)
	}
	if len(participants) < 2 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "A chat needs at least one other participant"})
		return
	}

	chat, created := s.store.FindOrCreateChat(participants)
	summary := &models.Chat{ID: chat.ID, CreatedAt: chat.CreatedAt}
	for _, p := range chat.Participants {
		if p == userID {
			continue
		}
		if u, err := s.store.GetUserByID(p); err == nil {
			summary.OtherParticipants = append(summary.OtherParticipants, u.ToPublicUser())
		}
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, summary)
}

func (s *Server) getMessages(c *gin.Context) {
	userID, err := currentUserID(c)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Invalid user session"})
		return
	}

	chatID, err := uuid.Parse(c.Query("chatId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid chatId format"})
		return
	}
	if !s.store.IsParticipant(chatID, userID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Not a participant of this chat"})
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit <= 0 || limit > 100 {
		limit = 20
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		offset = 0
	}

	c.JSON(http.StatusOK, s.store.MessagesPage(chatID, limit, offset))
}

// handleWebSocket authenticates the upgrade request and hands the connection
// to the hub. The token is accepted from either the query string or the
// Authorization header, matching the two ways the client transmits it.
func (s *Server) handleWebSocket(c *gin.Context) {
	tokenString := c.Query("token")
	if tokenString == "" {
		authHeader := c.GetHeader("Authorization")
		fields := strings.Fields(authHeader)
		if len(fields) == 2 && strings.EqualFold(fields[0], "bearer") {
			tokenString = fields[1]
		}
	}
	if tokenString == "" {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	claims, err := ValidateToken(tokenString, s.jwtSecret)
	if err != nil {
		log.Printf("Devserver: websocket auth failed: %v", err)
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("Devserver: upgrade failed for user %s: %v", userID, err)
		return
	}

	wc := newWSConn(s.hub, conn, userID)
	s.hub.register(wc)
	go wc.writePump()
	go wc.readPump()
}
