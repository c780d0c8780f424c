package confluence

import (
	"fmt"
	"strings"
)

// DefaultFetchSize is the default number of records per API request.
const DefaultFetchSize = 50

// MaxFetchSize is Confluence Cloud API's hard limit for content listings.
const MaxFetchSize = 100

// Config holds Confluence Cloud connection settings.
type Config struct {
	// BaseURL is the instance URL (e.g. https://yoursite.atlassian.net)
	BaseURL string `json:"baseUrl"`

	// Email is the account email for basic auth
	Email string `json:"email"`

	// APIToken is the Atlassian API token
	APIToken string `json:"apiToken"`

	// Spaces is the list of space keys to ingest
	Spaces []string `json:"spaces,omitempty"`

	// FetchSize is the number of records per API request
	FetchSize int `json:"fetchSize,omitempty"`
}

// Validate checks configuration completeness and applies defaults.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("baseUrl is required")
	}
	if c.Email == "" {
		return fmt.Errorf("email is required")
	}
	if c.APIToken == "" {
		return fmt.Errorf("apiToken is required")
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.FetchSize <= 0 {
		c.FetchSize = DefaultFetchSize
	}
	if c.FetchSize > MaxFetchSize {
		c.FetchSize = MaxFetchSize
	}
	return nil
}

// --- API Response Types ---

// ContentResponse represents paginated content (pages).
type ContentResponse struct {
	Results []Content `json:"results"`
	Start   int       `json:"start"`
	Limit   int       `json:"limit"`
	Size    int       `json:"size"`
	Links   *Links    `json:"_links"`
}

// Content represents a Confluence page or blog post.
type Content struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Status  string          `json:"status"`
	Title   string          `json:"title"`
	Space   *SpaceRef       `json:"space"`
	History *ContentHistory `json:"history"`
	Version *ContentVersion `json:"version"`
	Links   *Links          `json:"_links"`
}

// SpaceRef is a lightweight space reference.
type SpaceRef struct {
	Key  string `json:"key"`
	Name string `json:"name"`
}

// ContentHistory contains creation and update metadata.
type ContentHistory struct {
	Latest      bool        `json:"latest"`
	CreatedBy   *User       `json:"createdBy"`
	CreatedDate string      `json:"createdDate"`
	LastUpdated *UpdateInfo `json:"lastUpdated"`
}

// UpdateInfo contains last update metadata.
type UpdateInfo struct {
	By   *User  `json:"by"`
	When string `json:"when"`
}

// ContentVersion contains version information.
type ContentVersion struct {
	Number int    `json:"number"`
	When   string `json:"when"`
	By     *User  `json:"by"`
}

// User represents a Confluence user.
type User struct {
	AccountID   string `json:"accountId"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
}

// Links contains hypermedia links.
type Links struct {
	Base  string `json:"base"`
	Self  string `json:"self"`
	Next  string `json:"next"`
	WebUI string `json:"webui"`
}

// CurrentUser represents the authenticated user response.
type CurrentUser struct {
	AccountID   string `json:"accountId"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
}

// SystemInfo represents Confluence system information.
type SystemInfo struct {
	CloudID         string `json:"cloudId"`
	BaseURL         string `json:"baseUrl"`
	DatabaseVersion string `json:"databaseVersion"`
}
