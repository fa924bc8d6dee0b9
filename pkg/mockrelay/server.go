// Package mockrelay implements an in-process push relay bridge that
// speaks the same REST interface as the production relay service. It
// backs the integration tests and the CLI's local development mode.
package mockrelay

import (
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

// Delivery is one encrypted message accepted on a channel endpoint.
type Delivery struct {
	Body            []byte
	ContentEncoding string
	Encryption      string
	CryptoKey       string
}

type channel struct {
	channelID string
	key       string
	pushToken string
}

type registration struct {
	uaid       string
	senderID   string
	bridgeType string
	token      string
	channels   map[string]*channel
}

// Server holds the relay's in-memory state behind an echo router.
type Server struct {
	echo *echo.Echo
	log  *zap.Logger

	mu            sync.Mutex
	registrations map[string]*registration
	pushTokens    map[string]*channel
	deliveries    map[string][]Delivery
}

// NewServer creates a mock relay.
func NewServer(log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	e := echo.New()
	e.Logger.SetOutput(io.Discard)
	e.HideBanner = true
	e.Use(middleware.Recover())

	s := &Server{
		echo:          e,
		log:           log,
		registrations: make(map[string]*registration),
		pushTokens:    make(map[string]*channel),
		deliveries:    make(map[string][]Delivery),
	}
	s.setupRoutes()
	return s
}

// Handler exposes the router for httptest or a real listener.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves on the given address until the process exits.
func (s *Server) Start(address string) error {
	return s.echo.Start(address)
}

func (s *Server) setupRoutes() {
	s.echo.POST("/registration", s.handleRegister)
	s.echo.POST("/registration/:uaid/subscription", s.handleSubscribe)
	s.echo.DELETE("/registration/:uaid/subscription/:chid", s.handleDeleteChannel)
	s.echo.DELETE("/registration/:uaid", s.handleDeleteRegistration)
	s.echo.PUT("/registration/:uaid", s.handleUpdateToken)
	s.echo.GET("/registration/:uaid/channels", s.handleListChannels)
	s.echo.POST("/push/:token", s.handlePush)
}

func (s *Server) handleRegister(c echo.Context) error {
	var req struct {
		SenderID   string `json:"sender_id"`
		BridgeType string `json:"bridge_type"`
		Token      string `json:"token"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.SenderID == "" || req.BridgeType == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "sender_id and bridge_type are required"})
	}

	reg := &registration{
		uaid:       uuid.NewString(),
		senderID:   req.SenderID,
		bridgeType: req.BridgeType,
		token:      req.Token,
		channels:   make(map[string]*channel),
	}

	s.mu.Lock()
	s.registrations[reg.uaid] = reg
	s.mu.Unlock()

	s.log.Debug("registered instance", zap.String("uaid", reg.uaid))
	return c.JSON(http.StatusOK, map[string]string{"uaid": reg.uaid})
}

func (s *Server) handleSubscribe(c echo.Context) error {
	var req struct {
		ChannelID string `json:"channel_id"`
		Key       string `json:"key,omitempty"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.ChannelID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "channel_id is required"})
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	reg, ok := s.registrations[c.Param("uaid")]
	if !ok {
		return c.JSON(http.StatusGone, map[string]string{"error": "unknown uaid"})
	}

	ch, ok := reg.channels[req.ChannelID]
	if !ok {
		ch = &channel{
			channelID: req.ChannelID,
			key:       req.Key,
			pushToken: uuid.NewString(),
		}
		reg.channels[req.ChannelID] = ch
		s.pushTokens[ch.pushToken] = ch
	}

	endpoint := fmt.Sprintf("%s://%s/push/%s", c.Scheme(), c.Request().Host, ch.pushToken)
	return c.JSON(http.StatusOK, map[string]string{
		"channel_id": ch.channelID,
		"endpoint":   endpoint,
	})
}

func (s *Server) handleDeleteChannel(c echo.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	reg, ok := s.registrations[c.Param("uaid")]
	if !ok {
		return c.JSON(http.StatusGone, map[string]string{"error": "unknown uaid"})
	}
	ch, ok := reg.channels[c.Param("chid")]
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "unknown channel"})
	}
	delete(reg.channels, ch.channelID)
	delete(s.pushTokens, ch.pushToken)
	return c.JSON(http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleDeleteRegistration(c echo.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	reg, ok := s.registrations[c.Param("uaid")]
	if !ok {
		return c.JSON(http.StatusGone, map[string]string{"error": "unknown uaid"})
	}
	for _, ch := range reg.channels {
		delete(s.pushTokens, ch.pushToken)
	}
	delete(s.registrations, reg.uaid)
	return c.JSON(http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleUpdateToken(c echo.Context) error {
	var req struct {
		Token string `json:"token"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	reg, ok := s.registrations[c.Param("uaid")]
	if !ok {
		return c.JSON(http.StatusGone, map[string]string{"error": "unknown uaid"})
	}
	reg.token = req.Token
	return c.JSON(http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleListChannels(c echo.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	reg, ok := s.registrations[c.Param("uaid")]
	if !ok {
		return c.JSON(http.StatusGone, map[string]string{"error": "unknown uaid"})
	}
	channelIDs := make([]string, 0, len(reg.channels))
	for channelID := range reg.channels {
		channelIDs = append(channelIDs, channelID)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"uaid":        reg.uaid,
		"channel_ids": channelIDs,
	})
}

// handlePush accepts an encrypted message on a channel endpoint, as an
// application server (e.g. webpush-go) would deliver it.
func (s *Server) handlePush(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "unreadable body"})
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.pushTokens[c.Param("token")]
	if !ok {
		return c.JSON(http.StatusGone, map[string]string{"error": "unknown push token"})
	}
	s.deliveries[ch.channelID] = append(s.deliveries[ch.channelID], Delivery{
		Body:            body,
		ContentEncoding: c.Request().Header.Get("Content-Encoding"),
		Encryption:      c.Request().Header.Get("Encryption"),
		CryptoKey:       c.Request().Header.Get("Crypto-Key"),
	})
	s.log.Debug("accepted push message", zap.String("channel_id", ch.channelID))
	return c.NoContent(http.StatusCreated)
}

// Deliveries returns the messages accepted for a channel.
func (s *Server) Deliveries(channelID string) []Delivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Delivery(nil), s.deliveries[channelID]...)
}

// DropRegistration forgets an instance server-side, simulating relay
// state loss for reconciliation tests.
func (s *Server) DropRegistration(uaid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, ok := s.registrations[uaid]
	if !ok {
		return
	}
	for _, ch := range reg.channels {
		delete(s.pushTokens, ch.pushToken)
	}
	delete(s.registrations, uaid)
}

// DropChannel forgets a single channel server-side.
func (s *Server) DropChannel(uaid, channelID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, ok := s.registrations[uaid]
	if !ok {
		return
	}
	if ch, ok := reg.channels[channelID]; ok {
		delete(reg.channels, channelID)
		delete(s.pushTokens, ch.pushToken)
	}
}

// AddChannel plants a channel server-side without a local record,
// simulating a server-side orphan.
func (s *Server) AddChannel(uaid, channelID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, ok := s.registrations[uaid]
	if !ok {
		return
	}
	ch := &channel{channelID: channelID, pushToken: uuid.NewString()}
	reg.channels[channelID] = ch
	s.pushTokens[ch.pushToken] = ch
}

// UAIDs returns the currently registered instance ids.
func (s *Server) UAIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.registrations))
	for uaid := range s.registrations {
		out = append(out, uaid)
	}
	return out
}
