package orchestrator

import (
	"context"
	"github.com/rs/zerolog/log"
	"net/http"
	"net/url"
	"sync"
)

func (instance *Client) ListOutboundApps(ctx context.Context, token string) ([]OutboundApp, error) {
	response := &ListOutboundAppsResponse{}
	if err := instance.doRequest(ctx, http.MethodGet, "/outbound-apps", token, nil, response); err != nil {
		return nil, err
	}
	if err := response.check("failed to list outbound apps"); err != nil {
		return nil, err
	}
	return response.Apps, nil
}

func (instance *Client) OutboundAppConnected(ctx context.Context, token string, appId string) (bool, error) {
	response := &OutboundAppConnectedResponse{}
	if err := instance.doRequest(ctx, http.MethodGet, "/outbound-apps/"+url.PathEscape(appId)+"/connected", token, nil, response); err != nil {
		return false, err
	}
	return response.Connected, nil
}

// Integrations lists outbound apps and, when a token is given, checks each app's
// connection concurrently. A failed check reports the app as not connected.
func (instance *Client) Integrations(ctx context.Context, token string) ([]Integration, error) {
	apps, err := instance.ListOutboundApps(ctx, token)
	if err != nil {
		return nil, err
	}

	integrations := make([]Integration, len(apps))
	for index, app := range apps {
		integrations[index] = Integration{OutboundApp: app}
	}
	if token == "" {
		return integrations, nil
	}

	var waitGroup sync.WaitGroup
	for index := range integrations {
		waitGroup.Add(1)
		go func(integration *Integration) {
			defer waitGroup.Done()
			connected, err := instance.OutboundAppConnected(ctx, token, integration.Id)
			if err != nil {
				log.Warn().Err(err).Str("app_id", integration.Id).Msg("outbound app status check failed")
				return
			}
			integration.Connected = connected
		}(&integrations[index])
	}
	waitGroup.Wait()

	return integrations, nil
}
