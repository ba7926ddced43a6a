package sessionkit

import (
	"net/http"
	"time"
)

// ServerConfig configures token secrets, cookie transport, and TTLs.
type ServerConfig struct {
	AccessTokenSecret  []byte
	RefreshTokenSecret []byte
	Issuer             string
	AccessTokenTTL     time.Duration
	RefreshTokenTTL    time.Duration
	ResetTokenTTL      time.Duration
	RefreshCookieName  string
	CookieDomain       string
	SameSiteMode       http.SameSite
	AllowInsecureHTTP  bool
	ClientBaseURL      string
	GoogleWebClientID  string
	BcryptCost         int
	ExposeErrorStack   bool
}
