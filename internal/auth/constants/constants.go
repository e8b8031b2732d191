package constants

const (
	// TokenType for Bearer authentication
	TokenType = "Bearer"

	// AuthHeaderName is the name of the Authorization header
	AuthHeaderName = "Authorization"

	// AuthHeaderPrefix is the prefix for the Authorization header value
	AuthHeaderPrefix = "Bearer "

	// Realm advertised in WWW-Authenticate challenges
	Realm = "pephub"

	// UserAgent sent to the identity provider
	UserAgent = "pephub-auth"

	// Query and form parameters
	ClientRedirectURIParam = "client_redirect_uri"
	CodeParam              = "code"
	StateParam             = "state"

	// SuccessPath is where the callback lands when no client redirect is set
	SuccessPath = "/auth/login/success"

	// DeveloperKeySuffixLength is the number of trailing key characters shown
	// in listings and accepted for revocation.
	DeveloperKeySuffixLength = 5
)

// DefaultScopes requested from GitHub: profile and org membership
var DefaultScopes = []string{"read:user", "read:org"}
