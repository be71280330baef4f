/*
Copyright Pollen Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package restapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/trustbloc/logutil-go/pkg/log"

	logfields "github.com/pollenhq/pollen/internal/pkg/log"
	apstore "github.com/pollenhq/pollen/pkg/activitypub/store/spi"
	"github.com/pollenhq/pollen/pkg/restapi/common"
	"github.com/pollenhq/pollen/pkg/webfinger/model"
)

var logger = log.New("discovery_rest")

const (
	// WebFingerEndpoint is the endpoint for WebFinger calls.
	WebFingerEndpoint = "/.well-known/webfinger"
	hostMetaEndpoint  = "/.well-known/host-meta"
	// HostMetaJSONEndpoint is the endpoint for getting the host-meta document.
	HostMetaJSONEndpoint = "/.well-known/host-meta.json"
	nodeInfoEndpoint     = "/.well-known/nodeinfo"

	profilePageRelation = "http://webfinger.net/rel/profile-page"

	htmlType = "text/html"

	nodeInfoV2_0Schema = "http://nodeinfo.diaspora.software/ns/schema/2.0"
	nodeInfoV2_1Schema = "http://nodeinfo.diaspora.software/ns/schema/2.1"
)

// Config defines configuration for the discovery operations.
type Config struct {
	// ServiceEndpointURL is the IRI of the service (system) actor.
	ServiceEndpointURL *url.URL
}

// Providers defines the providers required by the discovery operations.
type Providers struct {
	ActivityStore apstore.Store
}

// Operation defines handlers for the discovery endpoints.
type Operation struct {
	activityStore      apstore.Store
	serviceEndpointURL *url.URL
	baseURL            string
	host               string
}

// New returns the discovery operations.
func New(c *Config, p *Providers) (*Operation, error) {
	if c.ServiceEndpointURL == nil {
		return nil, fmt.Errorf("service endpoint URL is required")
	}

	return &Operation{
		activityStore:      p.ActivityStore,
		serviceEndpointURL: c.ServiceEndpointURL,
		baseURL:            fmt.Sprintf("%s://%s", c.ServiceEndpointURL.Scheme, c.ServiceEndpointURL.Host),
		host:               c.ServiceEndpointURL.Host,
	}, nil
}

// GetRESTHandlers returns all discovery REST handlers.
func (o *Operation) GetRESTHandlers() []common.HTTPHandler {
	return []common.HTTPHandler{
		newHTTPHandler(WebFingerEndpoint, o.webFingerHandler),
		newHTTPHandler(hostMetaEndpoint, o.hostMetaHandler),
		newHTTPHandler(HostMetaJSONEndpoint, o.hostMetaJSONHandler),
		newHTTPHandler(nodeInfoEndpoint, o.nodeInfoHandler),
	}
}

func (o *Operation) webFingerHandler(rw http.ResponseWriter, r *http.Request) {
	queryValue := r.URL.Query()["resource"]
	if len(queryValue) == 0 {
		writeErrorResponse(rw, http.StatusBadRequest, "resource query string not found")

		return
	}

	o.writeResponseForResourceRequest(rw, queryValue[0])
}

func (o *Operation) writeResponseForResourceRequest(rw http.ResponseWriter, resource string) {
	switch {
	case resource == o.baseURL || resource == o.serviceEndpointURL.String():
		o.handleDomainQuery(rw, resource)
	case strings.HasPrefix(resource, "acct:") || strings.Contains(resource, "@"):
		o.handleAcctQuery(rw, resource)
	default:
		writeErrorResponse(rw, http.StatusNotFound, fmt.Sprintf("resource %s not found", resource))
	}
}

func (o *Operation) handleAcctQuery(rw http.ResponseWriter, resource string) {
	username, domain, err := model.ParseAcct(resource)
	if err != nil {
		writeErrorResponse(rw, http.StatusBadRequest, err.Error())

		return
	}

	if domain != o.host {
		writeErrorResponse(rw, http.StatusNotFound, fmt.Sprintf("resource %s not found", resource))

		return
	}

	actorIRI := fmt.Sprintf("%s/users/%s", o.baseURL, username)

	actorURL, err := url.Parse(actorIRI)
	if err != nil {
		writeErrorResponse(rw, http.StatusInternalServerError, "error parsing actor IRI")

		return
	}

	if _, err := o.activityStore.GetActor(actorURL); err != nil {
		if errors.Is(err, apstore.ErrNotFound) {
			logger.Debug("Actor not found", logfields.WithActorIRI(actorURL))

			writeErrorResponse(rw, http.StatusNotFound, fmt.Sprintf("resource %s not found", resource))
		} else {
			logger.Warn("Error retrieving actor", logfields.WithActorIRI(actorURL), log.WithError(err))

			writeErrorResponse(rw, http.StatusInternalServerError, "error retrieving resource")
		}

		return
	}

	writeResponse(rw, &model.JRD{
		Subject: model.Acct(username, domain),
		Aliases: []string{actorIRI},
		Links: []model.Link{
			{
				Rel:  model.RelSelf,
				Type: model.ActivityStreamsType,
				Href: actorIRI,
			},
			{
				Rel:  profilePageRelation,
				Type: htmlType,
				Href: actorIRI,
			},
		},
	})
}

func (o *Operation) handleDomainQuery(rw http.ResponseWriter, resource string) {
	writeResponse(rw, &model.JRD{
		Subject: resource,
		Links: []model.Link{
			{
				Rel:  model.RelSelf,
				Type: model.JRDType,
				Href: resource,
			},
			{
				Rel:  model.RelSelf,
				Type: model.ActivityStreamsType,
				Href: o.serviceEndpointURL.String(),
			},
		},
	})
}

func (o *Operation) hostMetaHandler(rw http.ResponseWriter, r *http.Request) {
	acceptedFormat := r.Header.Get("Accept")

	// Only the JSON representation of the host-meta document is supported.
	if !strings.Contains(acceptedFormat, "json") {
		writeErrorResponse(rw, http.StatusBadRequest,
			"the Accept header must allow a JSON representation to use this endpoint")

		return
	}

	o.respondWithHostMetaJSON(rw)
}

func (o *Operation) hostMetaJSONHandler(rw http.ResponseWriter, _ *http.Request) {
	o.respondWithHostMetaJSON(rw)
}

func (o *Operation) respondWithHostMetaJSON(rw http.ResponseWriter) {
	writeResponse(rw, &model.JRD{
		Links: []model.Link{
			{
				Rel:      model.RelLRDD,
				Type:     model.JRDType,
				Template: fmt.Sprintf("%s%s%s", o.baseURL, WebFingerEndpoint, "?resource={uri}"),
			},
			{
				Rel:  model.RelSelf,
				Type: model.ActivityStreamsType,
				Href: o.serviceEndpointURL.String(),
			},
		},
	})
}

func (o *Operation) nodeInfoHandler(rw http.ResponseWriter, _ *http.Request) {
	writeResponse(rw, &model.JRD{
		Links: []model.Link{
			{
				Rel:  nodeInfoV2_0Schema,
				Href: fmt.Sprintf("%s/nodeinfo/2.0", o.baseURL),
			},
			{
				Rel:  nodeInfoV2_1Schema,
				Href: fmt.Sprintf("%s/nodeinfo/2.1", o.baseURL),
			},
		},
	})
}

// ErrorResponse carries an error message in the response body.
type ErrorResponse struct {
	Message string `json:"errMessage,omitempty"`
}

func writeErrorResponse(rw http.ResponseWriter, status int, msg string) {
	rw.Header().Add("Content-Type", "application/json")
	rw.WriteHeader(status)

	if err := json.NewEncoder(rw).Encode(ErrorResponse{Message: msg}); err != nil {
		logger.Error("Unable to send error message", log.WithError(err))
	}
}

func writeResponse(rw http.ResponseWriter, v interface{}) {
	rw.Header().Add("Content-Type", model.JRDType)

	if err := json.NewEncoder(rw).Encode(v); err != nil {
		logger.Error("Unable to write response", log.WithError(err))
	}
}

func newHTTPHandler(path string, handle common.HTTPRequestHandler) common.HTTPHandler {
	return common.NewHTTPHandler(path, http.MethodGet, handle)
}
