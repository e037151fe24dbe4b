package google

import (
	"context"
	"errors"

	"dashboard-auth/internal/auth/provider/oidcprovider"
)

const (
	providerName = "google"
	issuer       = "https://accounts.google.com"
)

func New(
	ctx context.Context,
	clientID string,
	clientSecret string,
	redirectURL string,
) (*oidcprovider.Provider, error) {

	if clientID == "" || clientSecret == "" || redirectURL == "" {
		return nil, errors.New("google oauth config missing required fields")
	}

	return oidcprovider.New(ctx, oidcprovider.Config{
		Name:         providerName,
		Issuer:       issuer,
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
	})
}
