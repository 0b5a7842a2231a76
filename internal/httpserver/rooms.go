package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/wilsonzlin/aero/proxy/teleop-rtc/internal/orchestrator"
	"github.com/wilsonzlin/aero/proxy/teleop-rtc/internal/room"
	"github.com/wilsonzlin/aero/proxy/teleop-rtc/internal/rtcclient"
)

// Rooms is the room registry the operator routes act on.
type Rooms interface {
	Names() []string
	Get(name string) (room.Controller, bool)
	Restart(ctx context.Context, name string) error
}

var _ Rooms = (*orchestrator.Orchestrator)(nil)

type participantView struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Type           string `json:"type,omitempty"`
	Connected      bool   `json:"connected"`
	InCall         bool   `json:"inCall"`
	HasStream      bool   `json:"hasStream"`
	HasDataChannel bool   `json:"hasDataChannel"`
}

type roomView struct {
	Name         string `json:"name"`
	RoomID       string `json:"roomId"`
	RoomName     string `json:"roomName"`
	RoomType     string `json:"roomType"`
	SessionID    string `json:"sessionId,omitempty"`
	Active       bool   `json:"active"`
	InCall       bool   `json:"inCall"`
	Participants int    `json:"participants"`
	InCallCount  int    `json:"inCallCount"`

	ParticipantList []participantView `json:"participantList,omitempty"`

	// Stream rooms.
	StreamStatus  *room.StreamStatus `json:"streamStatus,omitempty"`
	CanSendStream bool               `json:"canSendStream,omitempty"`

	// Data rooms.
	RobotStatus   *room.RobotStatus  `json:"robotStatus,omitempty"`
	RobotMessages int                `json:"robotMessages,omitempty"`
	LastMessage   *room.RobotMessage `json:"lastRobotMessage,omitempty"`
}

func viewRoom(name string, c room.Controller, detail bool) roomView {
	sess := c.Session()
	v := roomView{
		Name:         name,
		RoomID:       sess.RoomID,
		RoomName:     sess.RoomName,
		RoomType:     sess.RoomType,
		SessionID:    sess.SessionID,
		Active:       sess.Active,
		InCall:       sess.InCall,
		Participants: sess.Participants,
		InCallCount:  sess.InCallCount,
	}
	if !detail {
		return v
	}
	for _, p := range sess.ParticipantList {
		v.ParticipantList = append(v.ParticipantList, participantView{
			ID:             p.ID,
			Name:           p.Name,
			Type:           p.Type,
			Connected:      p.Connected,
			InCall:         p.InCall,
			HasStream:      p.Stream != nil,
			HasDataChannel: p.DataChannel != nil,
		})
	}
	switch c := c.(type) {
	case *room.StreamController:
		st := c.Status()
		v.StreamStatus = &st
		v.CanSendStream = c.CanSendStream()
	case *room.DataController:
		v.RobotStatus = c.RobotStatus()
		v.LastMessage, v.RobotMessages = c.LastMessage()
	}
	return v
}

func (s *Server) lookup(c *gin.Context) (string, room.Controller, bool) {
	name := c.Param("name")
	if s.rooms == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return name, nil, false
	}
	rc, ok := s.rooms.Get(name)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return name, nil, false
	}
	return name, rc, true
}

func (s *Server) lookupData(c *gin.Context) (*room.DataController, bool) {
	_, rc, ok := s.lookup(c)
	if !ok {
		return nil, false
	}
	dc, ok := rc.(*room.DataController)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "room has no data channel"})
		return nil, false
	}
	return dc, true
}

func (s *Server) lookupStream(c *gin.Context) (*room.StreamController, bool) {
	_, rc, ok := s.lookup(c)
	if !ok {
		return nil, false
	}
	sc, ok := rc.(*room.StreamController)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "room carries no media"})
		return nil, false
	}
	return sc, true
}

// writeRoomError maps controller errors to status codes.
func writeRoomError(c *gin.Context, err error) {
	status := http.StatusBadGateway
	switch {
	case errors.Is(err, orchestrator.ErrUnknownRoom):
		status = http.StatusNotFound
	case errors.Is(err, room.ErrNotStarted),
		errors.Is(err, room.ErrAlreadyStarted),
		errors.Is(err, rtcclient.ErrNotConnected),
		errors.Is(err, rtcclient.ErrClosed):
		status = http.StatusConflict
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func (s *Server) listRooms(c *gin.Context) {
	views := []roomView{}
	if s.rooms != nil {
		for _, name := range s.rooms.Names() {
			if rc, ok := s.rooms.Get(name); ok {
				views = append(views, viewRoom(name, rc, false))
			}
		}
	}
	c.JSON(http.StatusOK, gin.H{"rooms": views})
}

func (s *Server) getRoom(c *gin.Context) {
	name, rc, ok := s.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, viewRoom(name, rc, true))
}

func (s *Server) callRoom(c *gin.Context) {
	_, rc, ok := s.lookup(c)
	if !ok {
		return
	}
	if err := rc.CallAll(); err != nil {
		writeRoomError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) hangUpRoom(c *gin.Context) {
	_, rc, ok := s.lookup(c)
	if !ok {
		return
	}
	if err := rc.HangUpAll(); err != nil {
		writeRoomError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) restartRoom(c *gin.Context) {
	name, _, ok := s.lookup(c)
	if !ok {
		return
	}
	if err := s.rooms.Restart(c.Request.Context(), name); err != nil {
		writeRoomError(c, err)
		return
	}
	s.log.Info("room restarted by operator", "room", name, "request_id", c.GetHeader(requestIDHeader))
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

type sendRequest struct {
	// Message is sent as is when it is a JSON string and as JSON text
	// otherwise.
	Message json.RawMessage `json:"message" binding:"required"`
}

func (s *Server) sendToRoom(c *gin.Context) {
	dc, ok := s.lookupData(c)
	if !ok {
		return
	}
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var payload any = req.Message
	var text string
	if err := json.Unmarshal(req.Message, &text); err == nil {
		payload = text
	}
	n, err := dc.Send(payload)
	if err != nil {
		writeRoomError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sent": n})
}

func (s *Server) startTeleop(c *gin.Context) {
	dc, ok := s.lookupData(c)
	if !ok {
		return
	}
	if err := dc.StartTeleop(); err != nil {
		writeRoomError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"teleop": true})
}

func (s *Server) stopTeleop(c *gin.Context) {
	dc, ok := s.lookupData(c)
	if !ok {
		return
	}
	if err := dc.StopTeleop(); err != nil {
		writeRoomError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"teleop": false})
}

type muteRequest struct {
	RemoteAudio *bool `json:"remoteAudio"`
	LocalAudio  *bool `json:"localAudio"`
}

func (s *Server) muteRoom(c *gin.Context) {
	sc, ok := s.lookupStream(c)
	if !ok {
		return
	}
	var req muteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.RemoteAudio == nil && req.LocalAudio == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "remoteAudio or localAudio is required"})
		return
	}
	if req.RemoteAudio != nil {
		if err := sc.SetRemoteAudioMuted(*req.RemoteAudio); err != nil {
			writeRoomError(c, err)
			return
		}
	}
	if req.LocalAudio != nil {
		if err := sc.SetLocalAudioMuted(*req.LocalAudio); err != nil {
			writeRoomError(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) toggleCamera(c *gin.Context) {
	sc, ok := s.lookupStream(c)
	if !ok {
		return
	}
	sc.ToggleCamera()
	c.JSON(http.StatusOK, sc.Status())
}

func (s *Server) updateStreamStatus(c *gin.Context) {
	sc, ok := s.lookupStream(c)
	if !ok {
		return
	}
	var st room.StreamStatus
	if err := c.ShouldBindJSON(&st); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sc.UpdateStatus(st)
	c.JSON(http.StatusOK, sc.Status())
}
