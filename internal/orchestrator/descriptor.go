package orchestrator

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/pion/webrtc/v4"
	"gopkg.in/yaml.v3"

	"github.com/wilsonzlin/aero/proxy/teleop-rtc/internal/config"
)

// RoomData describes one room advertised by a robot service.
type RoomData struct {
	RoomID   string `yaml:"room_id" json:"room_id"`
	RoomName string `yaml:"room_name" json:"room_name"`
	RoomType string `yaml:"room_type" json:"room_type"`
	MaxUsers int    `yaml:"max_users" json:"max_users"`
	Role     string `yaml:"role,omitempty" json:"role,omitempty"`
}

// NamedRoom is a room under the name the robot advertises it by.
type NamedRoom struct {
	Name string
	Data RoomData
}

// Rooms keeps the advertised order. In a descriptor it is either a mapping of
// room name to room data or a sequence of room data. Room data may also be a
// JSON string, in which case its room_name names the room.
type Rooms []NamedRoom

func (r *Rooms) UnmarshalYAML(node *yaml.Node) error {
	var out Rooms
	switch node.Kind {
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			name := node.Content[i].Value
			data, encoded, err := decodeRoom(node.Content[i+1])
			if err != nil {
				return fmt.Errorf("room %q: %w", name, err)
			}
			if encoded {
				name = data.RoomName
			}
			out = append(out, NamedRoom{Name: name, Data: data})
		}
	case yaml.SequenceNode:
		for i, n := range node.Content {
			data, _, err := decodeRoom(n)
			if err != nil {
				return fmt.Errorf("room %d: %w", i, err)
			}
			out = append(out, NamedRoom{Name: data.RoomName, Data: data})
		}
	case yaml.ScalarNode:
		if node.Tag == "!!null" {
			*r = nil
			return nil
		}
		return fmt.Errorf("line %d: rooms must be a mapping or a sequence", node.Line)
	default:
		return fmt.Errorf("line %d: rooms must be a mapping or a sequence", node.Line)
	}
	*r = out
	return nil
}

// decodeRoom decodes room data, reporting whether it was a JSON string.
func decodeRoom(n *yaml.Node) (RoomData, bool, error) {
	var d RoomData
	if n.Kind == yaml.ScalarNode {
		if err := json.Unmarshal([]byte(n.Value), &d); err != nil {
			return RoomData{}, false, fmt.Errorf("line %d: decode room json: %w", n.Line, err)
		}
		return d, true, nil
	}
	if err := n.Decode(&d); err != nil {
		return RoomData{}, false, err
	}
	return d, false, nil
}

type Camera struct {
	ID   string `yaml:"camera_id"`
	Name string `yaml:"camera_name"`
	Type string `yaml:"camera_type,omitempty"`
	URL  string `yaml:"camera_url,omitempty"`
}

// Robot is the descriptor of one robot and its active service.
type Robot struct {
	ID            string             `yaml:"id"`
	Name          string             `yaml:"name"`
	Type          string             `yaml:"type"`
	Service       string             `yaml:"service"`
	ServiceStatus string             `yaml:"service_status,omitempty"`
	Token         string             `yaml:"token"`
	Status        string             `yaml:"status"`
	ICEServers    []webrtc.ICEServer `yaml:"iceServers"`
	Rooms         Rooms              `yaml:"rooms"`

	// Control names this console in every room it joins.
	Control string `yaml:"control"`

	Cameras      []Camera `yaml:"camera,omitempty"`
	PCLSupport   bool     `yaml:"pcl_support"`
	AudioSupport bool     `yaml:"audio_support"`

	// FilterRooms drops rooms the robot cannot serve: audio without
	// audio_support, point_cloud without pcl_support and video rooms without
	// a camera of the same name.
	FilterRooms bool `yaml:"filter_rooms"`
}

const pointCloudRoom = "point_cloud"

// ParseRobot decodes a YAML (or JSON) robot descriptor.
func ParseRobot(data []byte) (Robot, error) {
	var r Robot
	if err := yaml.Unmarshal(data, &r); err != nil {
		return Robot{}, fmt.Errorf("parse robot descriptor: %w", err)
	}
	if err := config.ValidateICEServers(r.ICEServers); err != nil {
		return Robot{}, fmt.Errorf("parse robot descriptor: %w", err)
	}
	r.Status = strings.ToLower(r.Status)
	if r.ServiceStatus != "" && r.ServiceStatus != "active" {
		r.Status = "stopped"
	}
	if r.FilterRooms {
		r.Rooms = r.availableRooms()
	}
	return r, nil
}

func LoadRobotFile(path string) (Robot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Robot{}, fmt.Errorf("read robot descriptor: %w", err)
	}
	return ParseRobot(data)
}

func (r Robot) availableRooms() Rooms {
	cameras := make(map[string]bool, len(r.Cameras))
	for _, c := range r.Cameras {
		if c.Name != "" {
			cameras[c.Name] = true
		}
	}
	var out Rooms
	for _, room := range r.Rooms {
		switch {
		case room.Data.RoomType == "audio" && !r.AudioSupport:
		case room.Data.RoomName == pointCloudRoom && !r.PCLSupport:
		case room.Data.RoomType == "video" && !cameras[room.Data.RoomName]:
		default:
			out = append(out, room)
		}
	}
	return out
}
