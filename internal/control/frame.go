package control

import (
	"fmt"

	"github.com/bytedance/sonic"

	"github.com/GriffinCanCode/AgentOS/apprun/internal/properties"
	"github.com/GriffinCanCode/AgentOS/apprun/internal/work"
)

// Environment variables handed to child units.
const (
	EnvURL        = "APPRUN_CONTROL_URL"
	EnvProperties = "APPRUN_PROPERTIES"
)

// Kind discriminates frames on the control connection.
type Kind string

const (
	KindWork   Kind = "work"
	KindResult Kind = "result"
)

// Frame is one websocket text message.
type Frame struct {
	Kind     Kind           `json:"kind"`
	Envelope *work.Envelope `json:"envelope,omitempty"`
	Result   *work.Result   `json:"result,omitempty"`
}

// MarshalFrame encodes f.
func MarshalFrame(f Frame) ([]byte, error) {
	return sonic.Marshal(f)
}

// UnmarshalFrame decodes a frame and checks that it carries its payload.
func UnmarshalFrame(data []byte) (Frame, error) {
	var f Frame
	if err := sonic.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	switch f.Kind {
	case KindWork:
		if f.Envelope == nil {
			return Frame{}, fmt.Errorf("work frame without envelope")
		}
	case KindResult:
		if f.Result == nil {
			return Frame{}, fmt.Errorf("result frame without result")
		}
	default:
		return Frame{}, fmt.Errorf("unknown frame kind %q", f.Kind)
	}
	return f, nil
}

// EncodeProperties renders props as a JSON list of [key, value] pairs so
// that order survives the trip through the environment.
func EncodeProperties(props *properties.Properties) (string, error) {
	pairs := make([][2]string, 0, props.Len())
	for _, e := range props.Entries() {
		pairs = append(pairs, [2]string{e.Key, e.Value})
	}
	data, err := sonic.Marshal(pairs)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DecodeProperties parses the output of EncodeProperties.
func DecodeProperties(s string) (*properties.Properties, error) {
	props := properties.New()
	if s == "" {
		return props, nil
	}

	var pairs [][2]string
	if err := sonic.UnmarshalString(s, &pairs); err != nil {
		return nil, fmt.Errorf("decode properties: %w", err)
	}
	for _, p := range pairs {
		props.Set(p[0], p[1])
	}
	return props, nil
}
