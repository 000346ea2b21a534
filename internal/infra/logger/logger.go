package logger

import (
	"context"
	"fmt"
	"net/netip"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/arklim/authguard/internal/infra/config"
)

const productionEnv = "production"

// New builds the service logger. Production uses the JSON encoder, every other env the
// colored console encoder. Every entry carries the service name.
func New(settings config.AppSettings) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if settings.Env != productionEnv {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	if settings.LogLevel != "" {
		level, err := zapcore.ParseLevel(settings.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("parse log level %q: %w", settings.LogLevel, err)
		}
		cfg.Level = zap.NewAtomicLevelAt(level)
	}

	log, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	if settings.Name != "" {
		log = log.With(zap.String("service", settings.Name))
	}
	return log, nil
}

type requestIDKey struct{}

// ContextWithRequestID stores the request correlation id on ctx.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the correlation id stored by ContextWithRequestID, or "".
func RequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// MaskEmail keeps up to three leading characters of the local part and the domain.
// Example: john.doe@example.com -> joh***@example.com
func MaskEmail(email string) string {
	if email == "" {
		return ""
	}
	local, domain, ok := strings.Cut(email, "@")
	if !ok || domain == "" {
		return "***"
	}
	runes := []rune(local)
	if len(runes) > 3 {
		runes = runes[:3]
	}
	return string(runes) + "***@" + domain
}

// MaskIP reduces a client address to its network: /16 for IPv4, /64 for IPv6.
// Example: 192.168.1.100 -> 192.168.*.*
func MaskIP(ip string) string {
	if ip == "" {
		return ""
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return "***"
	}
	addr = addr.Unmap()
	if addr.Is4() {
		octets := addr.As4()
		return fmt.Sprintf("%d.%d.*.*", octets[0], octets[1])
	}
	prefix, err := addr.Prefix(64)
	if err != nil {
		return "***"
	}
	return prefix.String()
}
