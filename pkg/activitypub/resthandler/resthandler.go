/*
Copyright Pollen Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package resthandler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/trustbloc/logutil-go/pkg/log"

	logfields "github.com/pollenhq/pollen/internal/pkg/log"
	"github.com/pollenhq/pollen/pkg/activitypub/store/spi"
	"github.com/pollenhq/pollen/pkg/activitypub/vocab"
	"github.com/pollenhq/pollen/pkg/restapi/common"
)

const loggerModule = "activitypub_resthandler"

const defaultPageSize = 50

const (
	// ActorPath is the endpoint of the server's system actor document.
	ActorPath = "/actor"
	// UserPath is the endpoint of a local actor's document.
	UserPath = "/users/{username}"
	// InboxPath is the endpoint of a local actor's inbox.
	InboxPath = UserPath + "/inbox"
	// SharedInboxPath is the endpoint of the server-wide shared inbox.
	SharedInboxPath = "/inbox"
	// OutboxPath is the endpoint of a local actor's outbox.
	OutboxPath = UserPath + "/outbox"
	// FollowersPath is the endpoint of a local actor's followers collection.
	FollowersPath = UserPath + "/followers"
	// FollowingPath is the endpoint of a local actor's following collection.
	FollowingPath = UserPath + "/following"
	// LikedPath is the endpoint of a local actor's liked collection.
	LikedPath = UserPath + "/liked"
	// ObjectPath is the endpoint of a local actor's object.
	ObjectPath = UserPath + "/objects/{id}"
	// LikesPath is the endpoint of an object's likes collection.
	LikesPath = ObjectPath + "/likes"
	// SharesPath is the endpoint of an object's shares collection.
	SharesPath = ObjectPath + "/shares"
	// RepliesPath is the endpoint of an object's replies collection.
	RepliesPath = ObjectPath + "/replies"
	// ActivitiesPath is the endpoint from which a single activity may be retrieved.
	ActivitiesPath = "/activities/{id}"
	// CollectionsPath is the endpoint of a local actor's custom collection index.
	CollectionsPath = UserPath + "/collections"
	// CollectionPath is the endpoint of a custom collection.
	CollectionPath = CollectionsPath + "/{slug}"
	// CollectionDefinitionPath is the endpoint of a custom collection's definition.
	CollectionDefinitionPath = CollectionPath + "/definition"
	// MediaPath is the endpoint to which media payloads are uploaded.
	MediaPath = "/media"
	// MediaIDPath is the endpoint of a single media payload.
	MediaIDPath = MediaPath + "/{id}"
	// AdminPath is the endpoint of the administrative back-channel.
	AdminPath = "/admin"
)

const (
	usernameParam = "username"
	idParam       = "id"
	slugParam     = "slug"

	pageParam    = "page"
	pageNumParam = "page-num"

	contentTypeHeader          = "Content-Type"
	activityStreamsContentType = "application/activity+json"
)

const (
	notFoundResponse            = "Not Found.\n"
	badRequestResponse          = "Bad Request.\n"
	unauthorizedResponse        = "Unauthorized.\n"
	internalServerErrorResponse = "Internal Server Error.\n"
)

// Config holds the configuration for the REST handlers.
type Config struct {
	ServiceName string
	BaseURL     *url.URL
	PageSize    int
}

type tokenVerifier interface {
	Verify(req *http.Request) bool
}

// openAccess authorizes every request. It is used for endpoints that have no
// elevated view.
type openAccess struct{}

func (openAccess) Verify(*http.Request) bool { return true }

type handler struct {
	*Config

	endpoint      string
	activityStore spi.Store
	verifier      tokenVerifier
	sortOrder     spi.SortOrder
	handler       common.HTTPRequestHandler
	marshal       func(v interface{}) ([]byte, error)
	writeResponse func(w http.ResponseWriter, status int, body []byte)
	logger        *log.Log
}

func newHandler(endpoint string, cfg *Config, s spi.Store, h common.HTTPRequestHandler,
	verifier tokenVerifier, sortOrder spi.SortOrder) *handler {
	if verifier == nil {
		verifier = openAccess{}
	}

	if cfg.PageSize <= 0 {
		cfgCopy := *cfg
		cfgCopy.PageSize = defaultPageSize

		cfg = &cfgCopy
	}

	logger := log.New(loggerModule, log.WithFields(logfields.WithServiceEndpoint(endpoint)))

	return &handler{
		Config:        cfg,
		endpoint:      endpoint,
		activityStore: s,
		verifier:      verifier,
		sortOrder:     sortOrder,
		handler:       h,
		marshal:       json.Marshal,
		logger:        logger,
		writeResponse: func(w http.ResponseWriter, status int, body []byte) {
			if len(body) > 0 && status < http.StatusBadRequest {
				w.Header().Set(contentTypeHeader, activityStreamsContentType)
			}

			w.WriteHeader(status)

			if len(body) > 0 {
				if _, err := w.Write(body); err != nil {
					logger.Warn("Unable to write response", log.WithError(err))

					return
				}

				logger.Debug("Wrote response", logfields.WithResponse(body))
			}
		},
	}
}

// Path returns the base path of the target URL for this handler.
func (h *handler) Path() string {
	return h.endpoint
}

// Method returns the HTTP method, which is always GET.
func (h *handler) Method() string {
	return http.MethodGet
}

// Handler returns the handler that should be invoked when an HTTP GET is requested to the target endpoint.
// This handler must be registered with an HTTP server.
func (h *handler) Handler() common.HTTPRequestHandler {
	return h.handler
}

func (h *handler) authorize(req *http.Request) bool {
	return h.verifier.Verify(req)
}

// actorIRI returns the IRI of the local actor with the given username.
func (h *handler) actorIRI(username string) (*url.URL, error) {
	return url.Parse(fmt.Sprintf("%s/users/%s", h.BaseURL, username))
}

func (h *handler) isPaging(req *http.Request) bool {
	return req.URL.Query().Get(pageParam) == "true"
}

func (h *handler) getPageNum(req *http.Request) (int, bool) {
	values := req.URL.Query()[pageNumParam]
	if len(values) == 0 || values[0] == "" {
		return 0, false
	}

	pageNum, err := strconv.Atoi(values[0])
	if err != nil {
		h.logger.Debug("Invalid value for parameter. Paging will be ignored.",
			logfields.WithParameter(pageNumParam), log.WithError(err))

		return 0, false
	}

	if pageNum < 0 {
		return 0, false
	}

	return pageNum, true
}

func (h *handler) getPageID(id fmt.Stringer, pageNum int) string {
	if pageNum >= 0 {
		return fmt.Sprintf("%s?%s=true&%s=%d", id, pageParam, pageNumParam, pageNum)
	}

	return fmt.Sprintf("%s?%s=true", id, pageParam)
}

func (h *handler) getPageURL(id fmt.Stringer, pageNum int) (*url.URL, error) {
	pageID := h.getPageID(id, pageNum)

	pageURL, err := url.Parse(pageID)
	if err != nil {
		return nil, fmt.Errorf("invalid page ID [%s]: %w", pageID, err)
	}

	return pageURL, nil
}

// getIDPrevNextURL returns the ID of the given page along with the IRIs of the
// previous and next pages (which are nil if the given page is the first or last
// page, respectively).
func (h *handler) getIDPrevNextURL(id *url.URL, totalItems int,
	options *spi.QueryOptions) (*url.URL, *url.URL, *url.URL, error) {
	firstPage := getFirstPageNum(totalItems, options.PageSize, options.SortOrder)
	lastPage := getLastPageNum(totalItems, options.PageSize, options.SortOrder)

	pageNum := firstPage
	if options.PageNumber >= 0 {
		pageNum = options.PageNumber
	}

	prevPage := -1
	nextPage := -1

	if options.SortOrder == spi.SortDescending {
		if pageNum < firstPage {
			prevPage = pageNum + 1
		}

		if pageNum > lastPage {
			nextPage = pageNum - 1
		}
	} else {
		if pageNum > firstPage {
			prevPage = pageNum - 1
		}

		if pageNum < lastPage {
			nextPage = pageNum + 1
		}
	}

	pageURL, err := h.getPageURL(id, pageNum)
	if err != nil {
		return nil, nil, nil, err
	}

	var prevURL, nextURL *url.URL

	if prevPage >= 0 {
		prevURL, err = h.getPageURL(id, prevPage)
		if err != nil {
			return nil, nil, nil, err
		}
	}

	if nextPage >= 0 {
		nextURL, err = h.getPageURL(id, nextPage)
		if err != nil {
			return nil, nil, nil, err
		}
	}

	return pageURL, prevURL, nextURL, nil
}

// getFirstPageNum returns the page number of the first page. For descending
// order the first page holds the most recently added items, so it has the
// highest page number.
func getFirstPageNum(totalItems, pageSize int, sortOrder spi.SortOrder) int {
	if sortOrder == spi.SortAscending {
		return 0
	}

	if totalItems%pageSize > 0 {
		return totalItems / pageSize
	}

	return totalItems/pageSize - 1
}

func getLastPageNum(totalItems, pageSize int, sortOrder spi.SortOrder) int {
	if sortOrder == spi.SortDescending {
		return 0
	}

	if totalItems%pageSize > 0 {
		return totalItems / pageSize
	}

	return totalItems/pageSize - 1
}

func isPublic(recipients []*url.URL) bool {
	for _, iri := range recipients {
		if iri.String() == vocab.PublicIRI {
			return true
		}
	}

	return false
}

func getUsernameParam(req *http.Request) string {
	return mux.Vars(req)[usernameParam]
}

func getIDParam(req *http.Request) string {
	return mux.Vars(req)[idParam]
}

func getSlugParam(req *http.Request) string {
	return mux.Vars(req)[slugParam]
}
