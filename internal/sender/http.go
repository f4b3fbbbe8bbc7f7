package sender

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"blastd/pkg/logx"
)

// SidecarConfig configures the HTTP sidecar sender. The sidecar owns the
// actual userbot sessions; we hand it the session string per request.
type SidecarConfig struct {
	BaseURL string
	Secret  string // shared secret, sent as x-internal-secret
	Timeout time.Duration
}

// Sidecar posts deliveries to an out-of-process sender service.
type Sidecar struct {
	cfg  SidecarConfig
	log  logx.Logger
	http *http.Client
}

func NewSidecar(cfg SidecarConfig, log logx.Logger) *Sidecar {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Sidecar{
		cfg:  cfg,
		log:  log.With(logx.String("component", "sender.sidecar")),
		http: &http.Client{Timeout: timeout},
	}
}

type sidecarRequest struct {
	SessionString string `json:"session_string"`
	Channel       string `json:"channel"`
	Type          string `json:"type"`
	Body          string `json:"body,omitempty"`
	Media         string `json:"media,omitempty"`
}

type sidecarResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

func (s *Sidecar) Send(ctx context.Context, req Request) error {
	typ := req.Message.Type
	if typ == "" {
		typ = TypeText
	}
	switch typ {
	case TypeText, TypePhoto, TypeVideo:
	default:
		return ErrUnsupportedType
	}

	body, err := json.Marshal(sidecarRequest{
		SessionString: req.SessionString,
		Channel:       req.Channel,
		Type:          typ,
		Body:          req.Message.Body,
		Media:         req.Message.Media,
	})
	if err != nil {
		return err
	}

	url := strings.TrimRight(s.cfg.BaseURL, "/") + "/send"
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	hreq.Header.Set("Content-Type", "application/json")
	hreq.Header.Set("x-internal-secret", s.cfg.Secret)

	resp, err := s.http.Do(hreq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var out sidecarResponse
	_ = json.NewDecoder(resp.Body).Decode(&out)

	if resp.StatusCode/100 != 2 || !out.OK {
		if out.Error != "" {
			return fmt.Errorf("sidecar send failed: %s (http=%d)", out.Error, resp.StatusCode)
		}
		return fmt.Errorf("sidecar send failed: http=%d", resp.StatusCode)
	}
	return nil
}
