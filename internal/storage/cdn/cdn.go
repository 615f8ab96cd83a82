package cdn

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
	cldconfig "github.com/cloudinary/cloudinary-go/v2/config"

	"github.com/agrikart/catalog/internal/storage"
	"github.com/agrikart/catalog/pkg/httpclient"
)

const (
	backendName  = "cdn"
	resourceType = "image"
)

// Config holds Cloudinary backend settings.
type Config struct {
	// Endpoint is the API prefix, for example https://api.cloudinary.com.
	Endpoint  string
	CloudName string
	APIKey    string
	APISecret string

	// Folder groups uploaded assets on the CDN. Optional.
	Folder string

	// Timeout bounds each call. Expiry is reported as ErrBackendUnavailable.
	Timeout time.Duration

	MaxUploadBytes int64

	CircuitBreaker httpclient.CircuitBreakerConfig
}

func (c Config) validate() error {
	var missing []string
	if c.Endpoint == "" {
		missing = append(missing, "endpoint")
	}
	if c.CloudName == "" {
		missing = append(missing, "cloud name")
	}
	if c.APIKey == "" {
		missing = append(missing, "api key")
	}
	if c.APISecret == "" {
		missing = append(missing, "api secret")
	}
	if len(missing) > 0 {
		return fmt.Errorf("cdn config: missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// Storage implements storage.AssetStore on Cloudinary. References are the
// secure delivery URLs returned by the upload API.
type Storage struct {
	cfg      Config
	uploader *uploader.API
	delivery *http.Client
	breaker  *httpclient.BreakerTransport
	health   *http.Client
	logger   *slog.Logger
	now      func() time.Time
}

var _ storage.AssetStore = (*Storage)(nil)

// New creates a Cloudinary-backed asset store. Upload, destroy and delivery
// calls share one circuit breaker and are never retried.
func New(cfg Config, logger *slog.Logger) (*Storage, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.CircuitBreaker.Name == "" {
		cfg.CircuitBreaker = httpclient.DefaultCircuitBreakerConfig("asset-cdn")
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")

	conf, err := cldconfig.NewFromParams(cfg.CloudName, cfg.APIKey, cfg.APISecret)
	if err != nil {
		return nil, fmt.Errorf("cdn config: %w", err)
	}
	conf.API.UploadPrefix = cfg.Endpoint

	cld, err := cloudinary.NewFromConfiguration(*conf)
	if err != nil {
		return nil, fmt.Errorf("cdn client: %w", err)
	}

	httpCfg := httpclient.DefaultConfig()
	httpCfg.Timeout = cfg.Timeout

	breaker := httpclient.NewBreakerTransport(httpclient.NewTransport(httpCfg), cfg.CircuitBreaker, logger)
	delivery := httpclient.New(httpCfg, breaker)
	cld.Upload.Client = *delivery

	return &Storage{
		cfg:      cfg,
		uploader: &cld.Upload,
		delivery: delivery,
		breaker:  breaker,
		health:   httpclient.New(httpCfg, nil),
		logger:   logger,
		now:      time.Now,
	}, nil
}

// Backend returns "cdn".
func (s *Storage) Backend() string { return backendName }

// Store uploads the payload under a generated public id.
func (s *Storage) Store(ctx context.Context, upload *storage.Upload) (string, error) {
	if err := storage.CheckUpload(upload, s.cfg.MaxUploadBytes); err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	res, err := s.uploader.Upload(ctx, bytes.NewReader(upload.Data), uploader.UploadParams{
		PublicID:     storage.GenerateID("product", s.now()),
		Folder:       s.cfg.Folder,
		ResourceType: resourceType,
		Overwrite:    api.Bool(false),
	})
	if err != nil {
		return "", classify(err)
	}
	if res.Error.Message != "" {
		return "", fmt.Errorf("%w: %s", storage.ErrBackendRejected, res.Error.Message)
	}
	if res.SecureURL == "" {
		return "", fmt.Errorf("%w: upload response carried no url", storage.ErrBackendUnavailable)
	}

	s.logger.DebugContext(ctx, "asset uploaded to cdn",
		slog.String("public_id", res.PublicID),
		slog.Int64("size", upload.Size()),
	)
	return res.SecureURL, nil
}

// Delete destroys the asset behind a delivery URL and invalidates cached
// copies. URLs that do not belong to this cloud resolve to ErrAssetNotFound.
func (s *Storage) Delete(ctx context.Context, ref string) error {
	publicID, ok := s.publicID(ref)
	if !ok {
		return fmt.Errorf("%w: %s", storage.ErrAssetNotFound, ref)
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	res, err := s.uploader.Destroy(ctx, uploader.DestroyParams{
		PublicID:     publicID,
		ResourceType: resourceType,
		Invalidate:   api.Bool(true),
	})
	if err != nil {
		return classify(err)
	}
	if res.Error.Message != "" {
		return fmt.Errorf("%w: %s", storage.ErrBackendRejected, res.Error.Message)
	}

	switch res.Result {
	case "ok":
		return nil
	case "not found":
		return fmt.Errorf("%w: %s", storage.ErrAssetNotFound, ref)
	default:
		return fmt.Errorf("%w: destroy returned %q", storage.ErrBackendRejected, res.Result)
	}
}

// Fetch downloads the asset from its delivery URL.
func (s *Storage) Fetch(ctx context.Context, ref string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", storage.ErrAssetNotFound, ref)
	}

	resp, err := s.delivery.Do(req)
	if err != nil {
		var statusErr *httpclient.StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", storage.ErrAssetNotFound, ref)
		}
		return nil, classify(err)
	}
	defer func() { _ = resp.Body.Close() }()

	limit := s.cfg.MaxUploadBytes
	if limit <= 0 {
		limit = storage.DefaultMaxUploadBytes
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read asset: %w", storage.ErrBackendUnavailable, err)
	}
	return data, nil
}

// Ping checks that the API endpoint is reachable. Any HTTP response counts.
// It bypasses the circuit breaker so health checks do not skew its counts.
func (s *Storage) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, s.cfg.Endpoint, http.NoBody)
	if err != nil {
		return fmt.Errorf("create ping request: %w", err)
	}
	resp, err := s.health.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", storage.ErrBackendUnavailable, err)
	}
	_ = resp.Body.Close()
	return nil
}

// classify maps transport and status errors onto the storage error kinds.
// Credential problems are an operator fault, not a property of the upload,
// so they count as unavailable.
func classify(err error) error {
	var statusErr *httpclient.StatusError
	if errors.As(err, &statusErr) &&
		httpclient.IsClientError(statusErr.StatusCode) &&
		!httpclient.IsAuthError(statusErr.StatusCode) &&
		statusErr.StatusCode != http.StatusTooManyRequests &&
		statusErr.StatusCode != http.StatusRequestTimeout {
		return fmt.Errorf("%w: %w", storage.ErrBackendRejected, err)
	}
	return fmt.Errorf("%w: %w", storage.ErrBackendUnavailable, err)
}

var versionSegment = regexp.MustCompile(`^v\d+$`)

// publicID extracts the public id from a delivery URL of the form
// https://<host>/<cloud>/image/upload/[<transformations>/][v<version>/]<public id>.<ext>.
func (s *Storage) publicID(ref string) (string, bool) {
	u, err := url.Parse(ref)
	if err != nil || u.Host == "" {
		return "", false
	}

	marker := "/" + s.cfg.CloudName + "/image/upload/"
	_, rest, ok := strings.Cut(u.Path, marker)
	if !ok || rest == "" {
		return "", false
	}

	segments := strings.Split(rest, "/")
	for i, seg := range segments {
		if versionSegment.MatchString(seg) {
			segments = segments[i+1:]
			break
		}
	}
	if len(segments) == 0 {
		return "", false
	}

	id := strings.Join(segments, "/")
	if dot := strings.LastIndexByte(id, '.'); dot > strings.LastIndexByte(id, '/') {
		id = id[:dot]
	}
	if id == "" {
		return "", false
	}
	return id, true
}
