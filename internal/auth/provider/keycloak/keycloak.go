package keycloak

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"dashboard-auth/internal/auth/provider/oidcprovider"
)

const providerName = "keycloak"

// New initializes a Keycloak provider. issuer is the realm issuer URL as
// the service reaches it, e.g. http://keycloak:8080/realms/dashboard;
// publicBaseURL is the Keycloak address browsers use.
func New(
	ctx context.Context,
	issuer string,
	clientID string,
	redirectURL string,
	publicBaseURL string,
) (*oidcprovider.Provider, error) {

	if issuer == "" || clientID == "" || redirectURL == "" {
		return nil, errors.New("keycloak oauth config missing required fields")
	}

	authURL, err := PublicAuthURL(issuer, publicBaseURL)
	if err != nil {
		return nil, err
	}

	return oidcprovider.New(ctx, oidcprovider.Config{
		Name:        providerName,
		Issuer:      issuer,
		ClientID:    clientID,
		RedirectURL: redirectURL,
		AuthURL:     authURL,
	})
}

// PublicAuthURL rewrites the realm's authorization endpoint onto
// publicBaseURL. Empty publicBaseURL keeps the discovered endpoint.
func PublicAuthURL(issuer, publicBaseURL string) (string, error) {
	if publicBaseURL == "" {
		return "", nil
	}
	u, err := url.Parse(issuer)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(publicBaseURL, "/") + u.Path + "/protocol/openid-connect/auth", nil
}
