/*
Copyright Pollen Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package startcmd

import (
	"context"
	"crypto/rsa"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/trustbloc/logutil-go/pkg/log"

	logfields "github.com/pollenhq/pollen/internal/pkg/log"
	apclient "github.com/pollenhq/pollen/pkg/activitypub/client"
	"github.com/pollenhq/pollen/pkg/activitypub/client/transport"
	"github.com/pollenhq/pollen/pkg/activitypub/crypto"
	"github.com/pollenhq/pollen/pkg/activitypub/httpsig"
	aphandler "github.com/pollenhq/pollen/pkg/activitypub/resthandler"
	apservice "github.com/pollenhq/pollen/pkg/activitypub/service"
	"github.com/pollenhq/pollen/pkg/activitypub/service/adminhandler"
	"github.com/pollenhq/pollen/pkg/activitypub/service/collections"
	"github.com/pollenhq/pollen/pkg/activitypub/service/delivery"
	apspi "github.com/pollenhq/pollen/pkg/activitypub/service/spi"
	"github.com/pollenhq/pollen/pkg/activitypub/store/memstore"
	activitypubspi "github.com/pollenhq/pollen/pkg/activitypub/store/spi"
	"github.com/pollenhq/pollen/pkg/activitypub/vocab"
	discoveryrest "github.com/pollenhq/pollen/pkg/discovery/endpoint/restapi"
	"github.com/pollenhq/pollen/pkg/httpserver"
	"github.com/pollenhq/pollen/pkg/httpserver/auth"
	"github.com/pollenhq/pollen/pkg/httpserver/auth/signature"
	"github.com/pollenhq/pollen/pkg/httpserver/maintenance"
	"github.com/pollenhq/pollen/pkg/metrics"
	"github.com/pollenhq/pollen/pkg/nodeinfo"
	"github.com/pollenhq/pollen/pkg/pubsub/mempubsub"
	"github.com/pollenhq/pollen/pkg/restapi/common"
	"github.com/pollenhq/pollen/pkg/taskmgr"
	wfclient "github.com/pollenhq/pollen/pkg/webfinger/client"
)

const (
	systemActorPathSegment = "/actor"
	mainKeyFragment        = "#main-key"

	adminTokenID = "admin"

	serverIdleTimeout       = 2 * time.Minute
	serverReadHeaderTimeout = 20 * time.Second
	httpClientTimeout       = 20 * time.Second
	taskMgrCheckInterval    = 10 * time.Second
	stopTimeout             = 10 * time.Second
)

var logger = log.New("pollen-server")

// GetStartCmd returns the Cobra start command.
func GetStartCmd() *cobra.Command {
	startCmd := createStartCmd()

	createFlags(startCmd)

	return startCmd
}

func createStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start pollen-server",
		Long:  "Start pollen-server",
		RunE: func(cmd *cobra.Command, args []string) error {
			parameters, err := getServerParameters(cmd)
			if err != nil {
				return err
			}

			return startServer(parameters)
		},
	}
}

//nolint:funlen,gocyclo
func startServer(parameters *serverParameters) error {
	if parameters.logLevel != "" {
		setLogLevels(logger, parameters.logLevel)
	}

	baseURL, err := parseBaseURL(parameters.externalEndpoint)
	if err != nil {
		return fmt.Errorf("parse external endpoint: %w", err)
	}

	systemActorIRI, err := url.Parse(baseURL.String() + systemActorPathSegment)
	if err != nil {
		return fmt.Errorf("parse system actor IRI: %w", err)
	}

	activityStore := memstore.New(parameters.serviceName)
	keyManager := adminhandler.NewMemKeyManager()

	privateKey, err := provisionSystemActor(baseURL, systemActorIRI, parameters.serviceName,
		activityStore, keyManager)
	if err != nil {
		return fmt.Errorf("provision system actor: %w", err)
	}

	publicKeyIRI, err := url.Parse(systemActorIRI.String() + mainKeyFragment)
	if err != nil {
		return fmt.Errorf("parse system actor key IRI: %w", err)
	}

	httpClient := &http.Client{Timeout: httpClientTimeout}

	t := transport.New(httpClient, publicKeyIRI,
		httpsig.NewSigner(httpsig.DefaultGetSignerConfig(), privateKey),
		httpsig.NewSigner(httpsig.DefaultPostSignerConfig(), privateKey),
	)

	wfClient := wfclient.New(wfclient.WithHTTPClient(httpClient))

	apClient := apclient.New(apclient.Config{}, t, apclient.WithAliasResolver(wfClient))

	sigVerifier := httpsig.NewVerifier(apClient)

	collMgr := collections.New(
		&collections.Config{ServiceName: parameters.serviceName},
		activityStore,
	)

	adminActivityHandler := adminhandler.New(
		&adminhandler.Config{
			ServiceName:    parameters.serviceName,
			BaseURL:        baseURL,
			SystemActorIRI: systemActorIRI,
		},
		activityStore, keyManager, collMgr,
	)

	pubSub := mempubsub.New(mempubsub.DefaultConfig())

	apService, err := apservice.New(
		&apservice.Config{
			ServiceName:    parameters.serviceName,
			BaseURL:        baseURL,
			SystemActorIRI: systemActorIRI,
			MaxRecipients:  parameters.maxRecipients,
		},
		activityStore, pubSub, apClient, metrics.Get(),
		apspi.WithAdminHandler(adminActivityHandler),
		apspi.WithCollectionManager(collMgr),
	)
	if err != nil {
		return fmt.Errorf("create ActivityPub service: %w", err)
	}

	taskManager := taskmgr.New(taskmgr.NewMemCoordinationStore(), taskMgrCheckInterval)

	delivery.New(
		&delivery.Config{
			ServiceName:   parameters.serviceName,
			CheckInterval: parameters.deliveryCheckInterval,
			MaxRetries:    parameters.deliveryMaxRetries,
		},
		activityStore, t, taskManager, metrics.Get(),
	)

	nodeInfoService := nodeinfo.NewService(parameters.nodeInfoRefreshInterval, activityStore)

	discoveryOp, err := discoveryrest.New(
		&discoveryrest.Config{ServiceEndpointURL: systemActorIRI},
		&discoveryrest.Providers{ActivityStore: activityStore},
	)
	if err != nil {
		return fmt.Errorf("create discovery operations: %w", err)
	}

	handlers := newRESTHandlers(parameters, baseURL, systemActorIRI, activityStore, keyManager,
		apService, collMgr, adminActivityHandler, sigVerifier, discoveryOp, nodeInfoService)

	if parameters.maintenanceMode {
		logger.Warn("Server is running in maintenance mode. All requests will be responded to with 503.")

		for i, handler := range handlers {
			handlers[i] = maintenance.NewMaintenanceWrapper(handler)
		}
	}

	httpServer := httpserver.New(parameters.hostURL, parameters.tlsCertificate, parameters.tlsKey,
		serverIdleTimeout, serverReadHeaderTimeout, pubSub, handlers...)

	taskManager.Start()
	nodeInfoService.Start()
	apService.Start()

	if err := httpServer.Start(); err != nil {
		return fmt.Errorf("start HTTP server: %w", err)
	}

	logger.Info("Started pollen-server", logfields.WithAddress(parameters.hostURL),
		logfields.WithServiceIRI(systemActorIRI))

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, syscall.SIGINT, syscall.SIGTERM)

	<-interrupt

	logger.Info("Shutting down pollen-server")

	apService.Stop()
	nodeInfoService.Stop()
	taskManager.Stop()

	if err := pubSub.Close(); err != nil {
		logger.Warn("Error closing message bus", log.WithError(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()

	if err := httpServer.Stop(ctx); err != nil {
		logger.Warn("Error stopping HTTP server", log.WithError(err))
	}

	return nil
}

//nolint:funlen
func newRESTHandlers(parameters *serverParameters, baseURL, systemActorIRI *url.URL,
	activityStore activitypubspi.Store, keyManager adminhandler.KeyManager,
	apService *apservice.Service, collMgr *collections.Manager,
	adminActivityHandler *adminhandler.Handler, sigVerifier *httpsig.Verifier,
	discoveryOp *discoveryrest.Operation, nodeInfoService *nodeinfo.Service) []common.HTTPHandler {
	authCfg := newAuthConfig(parameters.token)

	authWrap := func(handler common.HTTPHandler) common.HTTPHandler {
		return auth.NewHandlerWrapper(authCfg, handler)
	}

	sigWrap := func(handler common.HTTPHandler) common.HTTPHandler {
		return signature.NewHandlerWrapper(handler, sigVerifier)
	}

	restCfg := &aphandler.Config{
		ServiceName: parameters.serviceName,
		BaseURL:     baseURL,
		PageSize:    parameters.pageSize,
	}

	actorVerifier := auth.NewTokenVerifier(authCfg, aphandler.UserPath, http.MethodGet)
	outboxVerifier := auth.NewTokenVerifier(authCfg, aphandler.OutboxPath, http.MethodGet)
	activityVerifier := auth.NewTokenVerifier(authCfg, aphandler.ActivitiesPath, http.MethodGet)
	objectVerifier := auth.NewTokenVerifier(authCfg, aphandler.ObjectPath, http.MethodGet)
	collectionsVerifier := auth.NewTokenVerifier(authCfg, aphandler.CollectionsPath, http.MethodGet)
	collectionVerifier := auth.NewTokenVerifier(authCfg, aphandler.CollectionPath, http.MethodGet)

	// Without an API token the actor verifier is open access, so key material is
	// only served when a token is configured.
	var actorKeyManager adminhandler.KeyManager

	if parameters.token != "" {
		actorKeyManager = keyManager
	}

	handlers := []common.HTTPHandler{
		aphandler.NewServiceActor(restCfg, activityStore, systemActorIRI),
		aphandler.NewActor(restCfg, activityStore, actorKeyManager, actorVerifier),
		authWrap(aphandler.NewInbox(restCfg, activityStore)),
		aphandler.NewReadOutbox(restCfg, activityStore, outboxVerifier),
		aphandler.NewFollowers(restCfg, activityStore),
		aphandler.NewFollowing(restCfg, activityStore),
		aphandler.NewLiked(restCfg, activityStore),
		aphandler.NewLikes(restCfg, activityStore),
		aphandler.NewShares(restCfg, activityStore),
		aphandler.NewReplies(restCfg, activityStore),
		aphandler.NewActivity(restCfg, activityStore, activityVerifier),
		aphandler.NewObject(restCfg, activityStore, objectVerifier),
		aphandler.NewCollections(restCfg, activityStore, collMgr, collectionsVerifier),
		aphandler.NewCollection(restCfg, activityStore, collMgr, collectionVerifier),
		authWrap(aphandler.NewCollectionDefinition(restCfg, activityStore, collMgr)),
		sigWrap(aphandler.NewPostInbox(restCfg, activityStore, apService.InboxDispatcher())),
		sigWrap(aphandler.NewSharedInbox(restCfg, activityStore, apService.SharedInboxRouter())),
		authWrap(aphandler.NewPostOutbox(restCfg, activityStore, apService.Outbox())),
		authWrap(aphandler.NewPostAdmin(restCfg, activityStore, adminActivityHandler)),
		authWrap(aphandler.NewUploadMedia(restCfg, activityStore)),
		aphandler.NewReadMedia(restCfg, activityStore),
		authWrap(aphandler.NewDeleteMedia(restCfg, activityStore)),
		nodeinfo.NewHandler(nodeinfo.V2_0, nodeInfoService),
		nodeinfo.NewHandler(nodeinfo.V2_1, nodeInfoService),
		metrics.NewHandler(),
		authWrap(newLogSpecWriter()),
		authWrap(newLogSpecReader()),
	}

	return append(handlers, discoveryOp.GetRESTHandlers()...)
}

// newAuthConfig returns the bearer token configuration for the private endpoints.
// When no token is configured all endpoints are open, which is only appropriate
// for development deployments.
func newAuthConfig(token string) auth.Config {
	if token == "" {
		return auth.Config{}
	}

	return auth.Config{
		AuthTokensDef: []*auth.TokenDef{
			{
				EndpointExpression: "/admin",
				WriteTokens:        []string{adminTokenID},
			},
			{
				EndpointExpression: "/loglevels",
				ReadTokens:         []string{adminTokenID},
				WriteTokens:        []string{adminTokenID},
			},
			{
				EndpointExpression: "/users/[^/]+$",
				ReadTokens:         []string{adminTokenID},
			},
			{
				EndpointExpression: "/users/.+/inbox",
				ReadTokens:         []string{adminTokenID},
			},
			{
				EndpointExpression: "/users/.+/outbox",
				ReadTokens:         []string{adminTokenID},
				WriteTokens:        []string{adminTokenID},
			},
			{
				EndpointExpression: "/users/.+/objects/.+",
				ReadTokens:         []string{adminTokenID},
			},
			{
				EndpointExpression: "/users/.+/collections.*",
				ReadTokens:         []string{adminTokenID},
			},
			{
				EndpointExpression: "/activities/.+",
				ReadTokens:         []string{adminTokenID},
			},
			{
				EndpointExpression: "/media.*",
				WriteTokens:        []string{adminTokenID},
			},
		},
		AuthTokens: map[string]string{
			adminTokenID: token,
		},
	}
}

// provisionSystemActor generates the system actor's key pair and stores the key
// and the actor document. The system actor is the sender of all administrative
// activities and signs outbound requests on behalf of the server.
func provisionSystemActor(baseURL, systemActorIRI *url.URL, serviceName string,
	activityStore activitypubspi.Store, keyManager adminhandler.KeyManager) (*rsa.PrivateKey, error) {
	privateKey, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("generate key pair: %w", err)
	}

	publicKeyPEM, err := crypto.EncodePublicKeyPEM(&privateKey.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("encode public key: %w", err)
	}

	privateKeyPEM, err := crypto.EncodePrivateKeyPEM(privateKey)
	if err != nil {
		return nil, fmt.Errorf("encode private key: %w", err)
	}

	if err := keyManager.PutPrivateKey(systemActorIRI, privateKeyPEM); err != nil {
		return nil, fmt.Errorf("store private key: %w", err)
	}

	keyIRI, err := url.Parse(systemActorIRI.String() + mainKeyFragment)
	if err != nil {
		return nil, fmt.Errorf("parse key IRI: %w", err)
	}

	newPath := func(suffix string) *url.URL {
		u := *systemActorIRI
		u.Path += suffix

		return &u
	}

	sharedInboxIRI, err := url.Parse(baseURL.String() + "/inbox")
	if err != nil {
		return nil, fmt.Errorf("parse shared inbox IRI: %w", err)
	}

	systemActor := vocab.NewService(systemActorIRI,
		vocab.WithPreferredUsername(serviceName),
		vocab.WithInbox(newPath("/inbox")),
		vocab.WithOutbox(newPath("/outbox")),
		vocab.WithFollowers(newPath("/followers")),
		vocab.WithFollowing(newPath("/following")),
		vocab.WithLiked(newPath("/liked")),
		vocab.WithSharedInbox(sharedInboxIRI),
		vocab.WithPublicKey(vocab.NewPublicKey(
			vocab.WithID(keyIRI),
			vocab.WithOwner(systemActorIRI),
			vocab.WithPublicKeyPem(string(publicKeyPEM)),
		)),
	)

	if err := activityStore.PutActor(systemActor); err != nil {
		return nil, fmt.Errorf("store system actor: %w", err)
	}

	logger.Info("Provisioned system actor", logfields.WithActorIRI(systemActorIRI))

	return privateKey, nil
}

func parseBaseURL(endpoint string) (*url.URL, error) {
	if !strings.Contains(endpoint, "://") {
		endpoint = "http://" + endpoint
	}

	baseURL, err := url.Parse(strings.TrimSuffix(endpoint, "/"))
	if err != nil {
		return nil, err
	}

	if baseURL.Host == "" {
		return nil, fmt.Errorf("missing host in URL [%s]", endpoint)
	}

	return baseURL, nil
}
