package server

import (
	"errors"
	"net/http"
	"net/url"
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"tankbattle-server/internal/catalog"
	"tankbattle-server/internal/game"
)

// Config is the transport part of the server configuration
type Config struct {
	AllowedOrigins []string // "*" allows every origin
	CommandsPerSec float64
}

// Server exposes the battle coordinator over HTTP and websockets
type Server struct {
	coord    *game.Coordinator
	hub      *Hub
	auth     *Auth
	cfg      Config
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

func New(coord *game.Coordinator, hub *Hub, auth *Auth, cfg Config, log zerolog.Logger) *Server {
	s := &Server{
		coord: coord,
		hub:   hub,
		auth:  auth,
		cfg:   cfg,
		log:   log,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *Server) allowAllOrigins() bool {
	return slices.Contains(s.cfg.AllowedOrigins, "*")
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || s.allowAllOrigins() {
		return true // Non-browser clients don't send Origin
	}
	if slices.Contains(s.cfg.AllowedOrigins, origin) {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return u.Host == r.Host
}

// Router builds the gin engine with every route
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	corsCfg := cors.Config{
		AllowMethods: []string{"GET", "OPTIONS"},
		AllowHeaders: []string{
			"Content-Type",
			"Authorization",
			"Upgrade",
			"Connection",
			"Sec-WebSocket-Key",
			"Sec-WebSocket-Version",
			"Sec-WebSocket-Extensions",
			"Sec-WebSocket-Protocol",
		},
		MaxAge: 12 * time.Hour,
	}
	if s.allowAllOrigins() {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = s.cfg.AllowedOrigins
	}
	r.Use(cors.New(corsCfg))

	r.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok", "clients": s.hub.ClientCount()})
	})
	r.GET("/battles", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, s.coord.Sessions())
	})
	r.GET("/ws/battle/:battle_id", s.serveBattle)
	return r
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()
		ctx.Next()
		s.log.Debug().
			Str("method", ctx.Request.Method).
			Str("path", ctx.Request.URL.Path).
			Int("status", ctx.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	}
}

// serveBattle joins the caller to a battle and upgrades to a websocket.
// The join happens first so failures are reported as plain HTTP errors.
func (s *Server) serveBattle(ctx *gin.Context) {
	battleID := ctx.Param("battle_id")
	if _, err := uuid.Parse(battleID); err != nil {
		ctx.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid battle id"})
		return
	}
	playerID, err := s.auth.PlayerID(ctx.Query("token"))
	if err != nil {
		s.log.Debug().Err(err).Str("ip", ctx.ClientIP()).Msg("rejected token")
		ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	codec, err := CodecByName(ctx.Query("codec"))
	if err != nil {
		ctx.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ip := ctx.ClientIP()
	if !s.hub.TryConnect(ip) {
		ctx.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "too many connections"})
		return
	}

	log := s.log.With().Str("battle", battleID).Str("player", playerID).Logger()
	burst := int(s.cfg.CommandsPerSec)
	if burst < 1 {
		burst = 1
	}
	client := NewClient(s.hub, ip, codec, rate.NewLimiter(rate.Limit(s.cfg.CommandsPerSec), burst), log)

	handle, err := s.coord.Join(ctx.Request.Context(), battleID, playerID, client)
	if err != nil {
		s.hub.TrackDisconnect(ip)
		status := joinStatus(err)
		if status == http.StatusInternalServerError {
			log.Error().Err(err).Msg("join failed")
		}
		ctx.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
		return
	}

	conn, err := s.upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		log.Warn().Err(err).Msg("upgrade error")
		s.hub.TrackDisconnect(ip)
		client.close()
		handle.Leave()
		return
	}

	client.attach(conn, handle)
	s.hub.add(client)
	log.Info().Str("codec", codec.Name()).Msg("player connected")

	go client.WritePump()
	go client.ReadPump()
}

func joinStatus(err error) int {
	switch {
	case errors.Is(err, game.ErrSessionNotFound), errors.Is(err, catalog.ErrBattleNotFound):
		return http.StatusNotFound
	case errors.Is(err, game.ErrSessionInactive), errors.Is(err, catalog.ErrBattleInactive):
		return http.StatusGone
	case errors.Is(err, game.ErrAlreadyJoined), errors.Is(err, game.ErrNoSpawnAvailable):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}
