package risk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/arklim/authguard/internal/core/domain"
	"github.com/arklim/authguard/internal/core/port"
	"github.com/arklim/authguard/internal/infra/config"
)

var (
	// ErrMissingToken is returned when the client supplied no challenge token.
	ErrMissingToken = errors.New("risk: missing challenge token")
	// ErrVerificationFailed is returned when the provider rejects the token.
	ErrVerificationFailed = errors.New("risk: verification failed")
)

const maxResponseBytes = 64 << 10

// RecaptchaScorer scores requests with a reCAPTCHA v3 style siteverify endpoint.
type RecaptchaScorer struct {
	client    *http.Client
	verifyURL string
	secret    string
	logger    *zap.Logger
}

type verifyResponse struct {
	Success    bool     `json:"success"`
	Score      float64  `json:"score"`
	Action     string   `json:"action"`
	Hostname   string   `json:"hostname"`
	ErrorCodes []string `json:"error-codes"`
}

// NewRecaptchaScorer builds a scorer with its own HTTP client bounded by cfg.Timeout.
func NewRecaptchaScorer(cfg config.RiskSettings, log *zap.Logger) (*RecaptchaScorer, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Secret == "" {
		return nil, errors.New("risk: recaptcha secret is required")
	}
	if cfg.VerifyURL == "" {
		return nil, errors.New("risk: recaptcha verify url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &RecaptchaScorer{
		client:    &http.Client{Timeout: timeout},
		verifyURL: cfg.VerifyURL,
		secret:    cfg.Secret,
		logger:    log,
	}, nil
}

// Score returns the provider score in [0,1]. An action mismatch counts as a failed verification.
func (s *RecaptchaScorer) Score(ctx context.Context, req domain.RiskRequest) (float64, error) {
	if strings.TrimSpace(req.Token) == "" {
		return 0, ErrMissingToken
	}

	form := url.Values{}
	form.Set("secret", s.secret)
	form.Set("response", req.Token)
	if req.IP != "" {
		form.Set("remoteip", req.IP)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.verifyURL, strings.NewReader(form.Encode()))
	if err != nil {
		return 0, fmt.Errorf("build verify request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return 0, fmt.Errorf("call verify endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("verify endpoint returned status %d", resp.StatusCode)
	}

	var body verifyResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&body); err != nil {
		return 0, fmt.Errorf("decode verify response: %w", err)
	}

	if !body.Success {
		s.logger.Debug("risk verification rejected", zap.Strings("error_codes", body.ErrorCodes))
		return 0, ErrVerificationFailed
	}
	if req.Action != "" && body.Action != "" && body.Action != req.Action {
		s.logger.Debug("risk action mismatch", zap.String("expected", req.Action), zap.String("got", body.Action))
		return 0, ErrVerificationFailed
	}

	return clamp(body.Score), nil
}

func clamp(score float64) float64 {
	switch {
	case score < 0:
		return 0
	case score > 1:
		return 1
	default:
		return score
	}
}

// StaticScorer returns the same score for every request. Used in development and tests.
type StaticScorer struct {
	score float64
}

func NewStaticScorer(score float64) StaticScorer {
	return StaticScorer{score: clamp(score)}
}

func (s StaticScorer) Score(context.Context, domain.RiskRequest) (float64, error) {
	return s.score, nil
}

// NewScorer selects the scorer named by cfg.Provider.
func NewScorer(cfg config.RiskSettings, log *zap.Logger) (port.RiskScorer, error) {
	switch cfg.Provider {
	case "recaptcha":
		return NewRecaptchaScorer(cfg, log)
	case "static", "":
		return NewStaticScorer(cfg.StaticScore), nil
	default:
		return nil, fmt.Errorf("risk: unknown provider %q", cfg.Provider)
	}
}

var (
	_ port.RiskScorer = (*RecaptchaScorer)(nil)
	_ port.RiskScorer = StaticScorer{}
)
