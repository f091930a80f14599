package webfront

import (
	"time"

	"github.com/redis/go-redis/v9"

	internalaudit "github.com/webfront-go/webfront/internal/audit"
	"github.com/webfront-go/webfront/internal/rate"
	"github.com/webfront-go/webfront/token"
)

// Builder assembles a [Service]. A master key and a login service are
// required; everything else has defaults.
type Builder struct {
	cfg           Config
	cfgSet        bool
	masterKey     []byte
	login         LoginService
	impersonation ImpersonationService
	directAllow   DirectLoginAllowService
	redis         redis.UniversalClient
	auditSink     AuditSink
}

// New starts a builder with [DefaultConfig].
func New() *Builder {
	return &Builder{}
}

// WithConfig replaces the default configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.cfg = cloneConfig(cfg)
	b.cfgSet = true
	return b
}

// WithMasterKey sets the token protection key. At least 32 bytes.
func (b *Builder) WithMasterKey(key []byte) *Builder {
	b.masterKey = cloneBytes(key)
	return b
}

// WithLoginService sets the identity backend. Required.
func (b *Builder) WithLoginService(login LoginService) *Builder {
	b.login = login
	return b
}

// WithImpersonationService enables the impersonate endpoint.
func (b *Builder) WithImpersonationService(svc ImpersonationService) *Builder {
	b.impersonation = svc
	return b
}

// WithDirectLoginAllowService enables the unsafeDirectLogin endpoint.
func (b *Builder) WithDirectLoginAllowService(svc DirectLoginAllowService) *Builder {
	b.directAllow = svc
	return b
}

// WithRedis supplies the client backing the login/refresh throttles.
// Without it the throttles stay disabled whatever the configuration.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithAuditSink sets the audit event consumer.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// Build validates the configuration and assembles the Service.
func (b *Builder) Build() (*Service, error) {
	cfg := b.cfg
	if !b.cfgSet {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.login == nil {
		return nil, ErrLoginServiceRequired
	}
	if len(b.masterKey) == 0 {
		return nil, ErrMasterKeyRequired
	}

	protector, err := token.NewProtector(b.masterKey)
	if err != nil {
		return nil, err
	}

	var limiter *rate.Limiter
	if b.redis != nil {
		limiter = rate.New(b.redis, rate.Config{
			EnableLoginThrottle:   cfg.Security.EnableLoginThrottle,
			EnableRefreshThrottle: cfg.Security.EnableRefreshThrottle,
			MaxLoginAttempts:      cfg.Security.MaxLoginAttempts,
			LoginCooldown:         cfg.Security.LoginCooldown,
			MaxRefreshAttempts:    cfg.Security.MaxRefreshAttempts,
			RefreshCooldown:       cfg.Security.RefreshCooldown,
		})
	}

	dispatcher := internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, b.auditSink)

	return &Service{
		cfg:           cfg,
		protector:     protector,
		login:         b.login,
		impersonation: b.impersonation,
		directAllow:   b.directAllow,
		limiter:       limiter,
		audit:         dispatcher,
		metrics:       NewMetrics(cfg.Metrics),
		now:           time.Now,
	}, nil
}
