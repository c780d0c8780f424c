// Package onedrive implements the OneDrive source connector for the drive
// family via Microsoft Graph: time-window slices over the root delta feed,
// with the delta link round-tripped as transient state so consecutive runs
// skip unchanged items.
package onedrive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	nethttp "net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nucleus/ingest-core/internal/connector/http"
	"github.com/nucleus/ingest-core/internal/endpoint"
)

const (
	graphBaseURL   = "https://graph.microsoft.com/v1.0"
	tokenURLFormat = "https://login.microsoftonline.com/%s/oauth2/v2.0/token"
)

var _ endpoint.SourceEndpoint = (*OneDrive)(nil)

// OneDrive is the Microsoft Graph drive connector.
type OneDrive struct {
	Client *http.Client
	config *Config

	tokenClient *nethttp.Client
	tokenMu     sync.RWMutex
	accessToken string
	tokenExpiry time.Time
}

// graphAuth injects the current access token into outgoing Graph requests.
// The token rotates, so it cannot be a static BearerToken on the client.
type graphAuth struct {
	drive *OneDrive
}

func (a graphAuth) Apply(req *nethttp.Request) {
	a.drive.tokenMu.RLock()
	token := a.drive.accessToken
	a.drive.tokenMu.RUnlock()
	http.BearerToken{Token: token}.Apply(req)
}

// New creates a OneDrive connector from a validated config.
func New(config *Config) (*OneDrive, error) {
	if config.ClientID == "" {
		return nil, fmt.Errorf("clientId is required")
	}

	o := &OneDrive{
		config:      config,
		tokenClient: &nethttp.Client{Timeout: 30 * time.Second},
	}

	httpConfig := http.DefaultClientConfig()
	httpConfig.BaseURL = graphBaseURL
	httpConfig.Auth = graphAuth{drive: o}
	httpConfig.Headers["Accept"] = "application/json"
	o.Client = http.NewClient(httpConfig)

	return o, nil
}

func (o *OneDrive) ID() string { return "graph.onedrive" }

func (o *OneDrive) Descriptor() *endpoint.Descriptor {
	return &endpoint.Descriptor{
		ID:          "graph.onedrive",
		Family:      "drive",
		Title:       "OneDrive",
		Vendor:      "Microsoft",
		Description: "Microsoft OneDrive via Graph API with OAuth 2.0",
		Categories:  []string{"storage", "cloud", "files"},
		Protocols:   []string{"https", "oauth2"},
		DocsURL:     "https://learn.microsoft.com/en-us/graph/api/resources/onedrive",
		Fields: []*endpoint.FieldDescriptor{
			{Key: "clientId", Label: "Client ID", ValueType: "string", Required: true, Semantic: "GENERIC", Description: "Azure App client ID"},
			{Key: "clientSecret", Label: "Client Secret", ValueType: "password", Required: false, Sensitive: true, Semantic: "PASSWORD", Description: "Azure App client secret"},
			{Key: "tenantId", Label: "Tenant ID", ValueType: "string", Required: false, Semantic: "GENERIC", Placeholder: "common"},
			{Key: "refreshToken", Label: "Refresh Token", ValueType: "password", Required: true, Sensitive: true, Semantic: "PASSWORD"},
			{Key: "driveId", Label: "Drive ID", ValueType: "string", Required: false, Semantic: "GENERIC", Description: "Specific drive ID (optional)"},
		},
	}
}

func (o *OneDrive) Capabilities() *endpoint.Capabilities {
	return &endpoint.Capabilities{
		SupportsFull:        true,
		SupportsIncremental: true,
		SupportsCountProbe:  false,
		SupportsPreview:     true,
		IncrementalLiteral:  "timestamp",
		DefaultFetchSize:    o.config.FetchSize,
	}
}

// ValidateConfig refreshes the token and resolves the target drive.
func (o *OneDrive) ValidateConfig(ctx context.Context, _ map[string]any) (*endpoint.ValidationResult, error) {
	if err := o.ensureAccessToken(ctx); err != nil {
		return &endpoint.ValidationResult{
			Valid:   false,
			Message: fmt.Sprintf("Authentication failed: %v", err),
		}, nil
	}

	resp, err := o.Client.Get(ctx, o.drivePath(), nil)
	if err != nil {
		return &endpoint.ValidationResult{
			Valid:   false,
			Message: fmt.Sprintf("Failed to access drive: %v", err),
		}, nil
	}

	var drive struct {
		Name string `json:"name"`
	}
	if err := resp.JSON(&drive); err != nil {
		return &endpoint.ValidationResult{Valid: false, Message: "Failed to parse drive response"}, nil
	}

	return &endpoint.ValidationResult{
		Valid:   true,
		Message: fmt.Sprintf("Connected to drive: %s", drive.Name),
	}, nil
}

func (o *OneDrive) Close() error { return nil }

// ListUnits exposes the single files unit covering the whole drive.
func (o *OneDrive) ListUnits(ctx context.Context) ([]*endpoint.UnitDescriptor, error) {
	return []*endpoint.UnitDescriptor{{
		UnitID:              "files",
		Name:                "Files",
		Kind:                "file",
		SupportsIncremental: true,
		IncrementalColumn:   "lastModifiedDateTime",
		IncrementalLiteral:  "timestamp",
		PrimaryKeys:         []string{"itemId"},
	}}, nil
}

// ReadSlice walks the delta feed and yields files modified within the slice
// bounds. A delta link carried in the request's transient state resumes the
// feed where the previous run left off instead of rescanning the drive.
func (o *OneDrive) ReadSlice(ctx context.Context, req *endpoint.SliceReadRequest) (endpoint.Iterator[endpoint.Record], error) {
	if req.UnitID != "files" {
		return nil, fmt.Errorf("unknown unit: %s", req.UnitID)
	}
	if req.Slice == nil {
		return nil, fmt.Errorf("slice required")
	}

	var lower, upper time.Time
	var err error
	if req.Slice.Lower != "" {
		if lower, err = time.Parse(time.RFC3339, req.Slice.Lower); err != nil {
			return nil, fmt.Errorf("lower bound: %w", err)
		}
	}
	if req.Slice.Upper != "" {
		if upper, err = time.Parse(time.RFC3339, req.Slice.Upper); err != nil {
			return nil, fmt.Errorf("upper bound: %w", err)
		}
	}

	it := &deltaIterator{
		drive: o,
		ctx:   ctx,
		lower: lower,
		upper: upper,
		limit: req.Limit,
	}

	if link, ok := req.TransientState["deltaLink"].(string); ok && link != "" {
		it.nextPath = trimGraphBase(link)
	} else {
		it.nextPath = o.deltaPath()
		it.query = url.Values{"$top": {strconv.Itoa(o.config.FetchSize)}}
	}

	return it, nil
}

func (o *OneDrive) drivePath() string {
	if o.config.DriveID != "" {
		return "/drives/" + o.config.DriveID
	}
	return "/me/drive"
}

func (o *OneDrive) deltaPath() string {
	return o.drivePath() + "/root/delta"
}

// trimGraphBase makes an absolute Graph link usable as a client path.
func trimGraphBase(link string) string {
	return strings.TrimPrefix(link, graphBaseURL)
}

// =============================================================================
// OAUTH TOKEN MANAGEMENT
// =============================================================================

func (o *OneDrive) ensureAccessToken(ctx context.Context) error {
	o.tokenMu.RLock()
	if o.accessToken != "" && time.Now().Before(o.tokenExpiry) {
		o.tokenMu.RUnlock()
		return nil
	}
	o.tokenMu.RUnlock()

	o.tokenMu.Lock()
	defer o.tokenMu.Unlock()

	if o.accessToken != "" && time.Now().Before(o.tokenExpiry) {
		return nil
	}
	return o.refreshAccessToken(ctx)
}

func (o *OneDrive) refreshAccessToken(ctx context.Context) error {
	tokenEndpoint := fmt.Sprintf(tokenURLFormat, o.config.TenantID)

	data := url.Values{}
	data.Set("client_id", o.config.ClientID)
	data.Set("grant_type", "refresh_token")
	data.Set("refresh_token", o.config.RefreshToken)
	data.Set("scope", "https://graph.microsoft.com/.default offline_access")
	if o.config.ClientSecret != "" {
		data.Set("client_secret", o.config.ClientSecret)
	}

	req, err := nethttp.NewRequestWithContext(ctx, nethttp.MethodPost, tokenEndpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := o.tokenClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != nethttp.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("token refresh failed: HTTP %d: %s", resp.StatusCode, string(body))
	}

	var token TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return err
	}

	o.accessToken = token.AccessToken
	o.tokenExpiry = time.Now().Add(time.Duration(token.ExpiresIn-60) * time.Second)
	if token.RefreshToken != "" {
		o.config.RefreshToken = token.RefreshToken
	}
	return nil
}

// =============================================================================
// DELTA ITERATOR
// =============================================================================

type deltaIterator struct {
	drive *OneDrive
	ctx   context.Context
	lower time.Time // zero means beginning of time
	upper time.Time // zero means unbounded
	limit int64

	nextPath string
	query    url.Values // first request only
	links    http.LinkPaginator

	current   []DeltaDriveItem
	index     int
	fetched   int64
	done      bool
	err       error
	observed  string
	deltaLink string
}

var (
	_ endpoint.MarkerObserver   = (*deltaIterator)(nil)
	_ endpoint.TransientCarrier = (*deltaIterator)(nil)
)

func (it *deltaIterator) Next() bool {
	if it.err != nil {
		return false
	}
	if it.limit > 0 && it.fetched >= it.limit {
		return false
	}

	// Delta pages mix folders, deletions, and out-of-window files, so a
	// whole page can filter down to nothing while more remain.
	for it.index >= len(it.current) {
		if it.done {
			return false
		}
		if err := it.fetchPage(); err != nil {
			it.err = err
			return false
		}
	}
	return true
}

func (it *deltaIterator) fetchPage() error {
	if err := it.drive.ensureAccessToken(it.ctx); err != nil {
		return err
	}

	resp, err := it.drive.Client.Get(it.ctx, it.nextPath, it.query)
	if err != nil {
		return err
	}
	it.query = nil

	var result DeltaResponse
	if err := resp.JSON(&result); err != nil {
		return err
	}

	next, err := it.links.NextLink(resp)
	if err != nil {
		return err
	}
	if next != "" {
		it.nextPath = trimGraphBase(next)
	} else {
		it.done = true
		it.deltaLink = result.DeltaLink
	}

	it.current = it.current[:0]
	for _, item := range result.Value {
		if item.Deleted != nil || item.File == nil {
			continue
		}
		modified, ok := modifiedAt(&item.DriveItem)
		if !ok {
			continue
		}
		if !it.lower.IsZero() && !modified.After(it.lower) {
			continue
		}
		if !it.upper.IsZero() && modified.After(it.upper) {
			continue
		}
		it.current = append(it.current, item)
	}
	it.index = 0
	return nil
}

func (it *deltaIterator) Value() endpoint.Record {
	if it.index >= len(it.current) {
		return nil
	}
	item := it.current[it.index].DriveItem
	it.index++
	it.fetched++

	mimeType := ""
	var hashes map[string]string
	if item.File != nil {
		mimeType = item.File.MimeType
		hashes = item.File.Hashes
	}

	path := "/" + item.Name
	if item.ParentReference != nil && item.ParentReference.Path != "" {
		// Graph renders parent paths as "/drive/root:/folder".
		parent := item.ParentReference.Path
		if idx := strings.Index(parent, "root:"); idx >= 0 {
			parent = parent[idx+len("root:"):]
		}
		path = parent + "/" + item.Name
	}

	createdBy := ""
	if item.CreatedBy != nil && item.CreatedBy.User != nil {
		createdBy = item.CreatedBy.User.DisplayName
	}
	modifiedBy := ""
	if item.ModifiedBy != nil && item.ModifiedBy.User != nil {
		modifiedBy = item.ModifiedBy.User.DisplayName
	}

	if modified, ok := modifiedAt(&item); ok {
		marker := modified.UTC().Format(time.RFC3339)
		if marker > it.observed {
			it.observed = marker
		}
	}

	return endpoint.Record{
		"entityKind":           "drive.file",
		"itemId":               item.ID,
		"name":                 item.Name,
		"path":                 path,
		"size":                 item.Size,
		"mimeType":             mimeType,
		"hashes":               hashes,
		"webUrl":               item.WebURL,
		"createdDateTime":      item.CreatedDateTime,
		"lastModifiedDateTime": item.ModifiedDateTime,
		"createdBy":            createdBy,
		"modifiedBy":           modifiedBy,
	}
}

func (it *deltaIterator) Err() error   { return it.err }
func (it *deltaIterator) Close() error { return nil }

// ObservedMarker reports the newest modification instant yielded so far.
func (it *deltaIterator) ObservedMarker() string { return it.observed }

// TransientState exposes the delta link for the next run once the feed has
// been fully drained.
func (it *deltaIterator) TransientState() map[string]any {
	if it.deltaLink == "" {
		return nil
	}
	return map[string]any{"deltaLink": it.deltaLink}
}

func modifiedAt(item *DriveItem) (time.Time, bool) {
	if item.ModifiedDateTime == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, item.ModifiedDateTime)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
