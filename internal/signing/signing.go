package signing

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/marminbh/partner-sync-svc/internal/config"
)

// Signed-call parameter names expected by the partner.
const (
	ParamAPIID     = "_apiId"
	ParamTimestamp = "_timestamp"
	ParamVersion   = "_version"
	ParamSign      = "_sign"
)

// ErrAPIIdentityUnset means the partner API identity is missing from
// configuration. This is fatal: every signed call would be rejected, so
// callers must not retry until an operator fixes the config.
var ErrAPIIdentityUnset = errors.New("partner API identity is not configured")

// SignedURI is the ephemeral result of one signature computation. It is
// used for exactly one outbound call and never persisted; the timestamp
// binds it to a single instant.
type SignedURI struct {
	URI    string
	Params map[string]string
	Digest string
}

// Client computes deterministic request signatures for outbound calls
// to the partner.
type Client struct {
	apiID   string
	secret  string
	version string
	logger  *zap.Logger
	now     func() time.Time
}

// NewClient creates a signing client. A blank API identity fails fast
// at startup; Sign re-checks it so a later misconfiguration surfaces on
// every call rather than producing rejectable requests.
func NewClient(cfg *config.PartnerConfig, logger *zap.Logger) (*Client, error) {
	c := &Client{
		apiID:   strings.TrimSpace(cfg.APIID),
		secret:  cfg.Secret,
		version: cfg.Version,
		logger:  logger,
		now:     time.Now,
	}
	if c.apiID == "" {
		return nil, ErrAPIIdentityUnset
	}
	return c, nil
}

// Sign merges the query parameters already present in baseURL with
// extra, adds the fixed identity parameters, and computes the _sign
// digest: all entries sorted by key ascending, concatenated as
// key+value with no separators, the shared secret appended, MD5 over
// the result, lowercase hex.
func (c *Client) Sign(baseURL string, extra map[string]string, topic string) (*SignedURI, error) {
	if c.apiID == "" {
		return nil, ErrAPIIdentityUnset
	}

	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse base URL: %w", err)
	}

	params := make(map[string]string)
	for key, values := range parsed.Query() {
		if len(values) > 0 {
			params[key] = values[0]
		}
	}
	for key, value := range extra {
		params[key] = value
	}

	params[ParamAPIID] = c.apiID
	params[ParamTimestamp] = strconv.FormatInt(c.now().UnixMilli(), 10)
	params[ParamVersion] = c.version

	keys := make([]string, 0, len(params))
	for key := range params {
		if key == ParamSign {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var canonical strings.Builder
	for _, key := range keys {
		canonical.WriteString(key)
		canonical.WriteString(params[key])
	}

	sum := md5.Sum([]byte(canonical.String() + c.secret))
	digest := hex.EncodeToString(sum[:])
	params[ParamSign] = digest

	query := url.Values{}
	for key, value := range params {
		query.Set(key, value)
	}
	parsed.RawQuery = query.Encode()

	signed := &SignedURI{
		URI:    parsed.String(),
		Params: params,
		Digest: digest,
	}

	c.auditSignature(topic, keys, canonical.String(), digest)

	return signed, nil
}

// auditSignature records the parameter set, the canonical pre-digest
// string (without the secret suffix) and the digest on the topic's
// audit stream so any signature can be reproduced during incident
// review. It must never fail or block the signing path.
func (c *Client) auditSignature(topic string, keys []string, raw, digest string) {
	defer func() {
		if r := recover(); r != nil && c.logger != nil {
			c.logger.Warn("Signature audit logging panicked",
				zap.String("topic", topic),
				zap.Any("panic", r),
			)
		}
	}()

	if c.logger == nil {
		return
	}
	c.logger.Named("sign." + topic).Info("Signature computed",
		zap.Strings("params", keys),
		zap.String("raw", raw),
		zap.String("digest", digest),
	)
}
