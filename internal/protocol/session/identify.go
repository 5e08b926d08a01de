package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

const (
	DefaultUserAgent = "nsqwire/0.1"
	// UnknownHostname stands in when the host name cannot be read.
	UnknownHostname = "unknown"
)

var ErrInvalidIdentify = errors.New("session: invalid identify")

var osHostname = os.Hostname

// Identify is the JSON body of the IDENTIFY handshake command.
type Identify struct {
	ClientID           string `json:"client_id"`
	Hostname           string `json:"hostname"`
	UserAgent          string `json:"user_agent"`
	FeatureNegotiation bool   `json:"feature_negotiation"`
}

// NewIdentify builds handshake metadata from cfg, falling back to the local
// hostname, then the client id, then UnknownHostname. Feature negotiation
// stays off so the server answers with a bare OK.
func NewIdentify(cfg Config) Identify {
	clientID := strings.TrimSpace(cfg.ClientID)
	hostname := strings.TrimSpace(cfg.Hostname)
	if hostname == "" {
		if h, err := osHostname(); err == nil {
			hostname = strings.TrimSpace(h)
		}
	}
	if hostname == "" {
		hostname = clientID
	}
	if hostname == "" {
		hostname = UnknownHostname
	}
	if clientID == "" {
		clientID, _, _ = strings.Cut(hostname, ".")
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	return Identify{
		ClientID:  clientID,
		Hostname:  hostname,
		UserAgent: userAgent,
	}
}

func (i Identify) Validate() error {
	if strings.TrimSpace(i.ClientID) == "" {
		return fmt.Errorf("%w: missing client_id", ErrInvalidIdentify)
	}
	if strings.TrimSpace(i.Hostname) == "" {
		return fmt.Errorf("%w: missing hostname", ErrInvalidIdentify)
	}
	if i.FeatureNegotiation {
		return fmt.Errorf("%w: feature negotiation is not supported", ErrInvalidIdentify)
	}
	return nil
}

func (i Identify) Encode() ([]byte, error) {
	if err := i.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(i)
}

func DecodeIdentify(body []byte) (Identify, error) {
	var out Identify
	if err := json.Unmarshal(body, &out); err != nil {
		return Identify{}, fmt.Errorf("%w: %v", ErrInvalidIdentify, err)
	}
	return out, nil
}
