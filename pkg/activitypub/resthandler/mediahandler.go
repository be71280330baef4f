/*
Copyright Pollen Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package resthandler

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/trustbloc/logutil-go/pkg/log"

	logfields "github.com/pollenhq/pollen/internal/pkg/log"
	"github.com/pollenhq/pollen/pkg/activitypub/store/spi"
)

// MaxMediaSize is the maximum size (in bytes) of an uploaded media payload.
const MaxMediaSize = 16 << 20

const defaultMediaContentType = "application/octet-stream"

// UploadMedia implements a REST handler for media uploads.
type UploadMedia struct {
	*handler
}

// NewUploadMedia returns a new REST handler to upload a media payload. The
// endpoint must be registered behind a bearer token wrapper.
func NewUploadMedia(cfg *Config, activityStore spi.Store) *UploadMedia {
	h := &UploadMedia{}

	h.handler = newHandler(MediaPath, cfg, activityStore, h.handlePost, nil, spi.SortAscending)

	return h
}

// Method returns the HTTP method, which is always POST.
func (h *UploadMedia) Method() string {
	return http.MethodPost
}

type uploadMediaResponse struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

func (h *UploadMedia) handlePost(w http.ResponseWriter, req *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, req.Body, MaxMediaSize))
	if err != nil {
		h.logger.Debug("Error reading media payload", log.WithError(err))

		h.writeResponse(w, http.StatusRequestEntityTooLarge, nil)

		return
	}

	if len(data) == 0 {
		h.writeResponse(w, http.StatusBadRequest, []byte(badRequestResponse))

		return
	}

	contentType := req.Header.Get(contentTypeHeader)
	if contentType == "" {
		contentType = defaultMediaContentType
	}

	blob := &spi.Blob{
		ID:          uuid.New().String(),
		ContentType: contentType,
		Data:        data,
		CreatedTime: time.Now(),
	}

	if err := h.activityStore.PutBlob(blob); err != nil {
		h.logger.Error("Error storing media payload", log.WithError(err))

		h.writeResponse(w, http.StatusInternalServerError, []byte(internalServerErrorResponse))

		return
	}

	mediaURL := fmt.Sprintf("%s/media/%s", h.BaseURL, blob.ID)

	respBytes, err := h.marshal(&uploadMediaResponse{ID: blob.ID, URL: mediaURL})
	if err != nil {
		h.logger.Error("Error marshaling media response", log.WithError(err))

		h.writeResponse(w, http.StatusInternalServerError, []byte(internalServerErrorResponse))

		return
	}

	h.logger.Debug("Stored media payload", logfields.WithSize(len(data)))

	w.Header().Set("Location", mediaURL)

	h.writeResponse(w, http.StatusCreated, respBytes)
}

// ReadMedia implements a REST handler that retrieves a media payload.
type ReadMedia struct {
	*handler
}

// NewReadMedia returns a new REST handler to retrieve a media payload.
func NewReadMedia(cfg *Config, activityStore spi.Store) *ReadMedia {
	h := &ReadMedia{}

	h.handler = newHandler(MediaIDPath, cfg, activityStore, h.handleGet, nil, spi.SortAscending)

	return h
}

func (h *ReadMedia) handleGet(w http.ResponseWriter, req *http.Request) {
	id := getIDParam(req)
	if id == "" {
		h.writeResponse(w, http.StatusBadRequest, []byte(badRequestResponse))

		return
	}

	blob, err := h.activityStore.GetBlob(id)
	if err != nil {
		if errors.Is(err, spi.ErrNotFound) {
			h.writeResponse(w, http.StatusNotFound, []byte(notFoundResponse))

			return
		}

		h.logger.Error("Error retrieving media payload", log.WithError(err))

		h.writeResponse(w, http.StatusInternalServerError, []byte(internalServerErrorResponse))

		return
	}

	w.Header().Set(contentTypeHeader, blob.ContentType)

	w.WriteHeader(http.StatusOK)

	if _, err := w.Write(blob.Data); err != nil {
		h.logger.Warn("Unable to write media payload", log.WithError(err))
	}
}

// DeleteMedia implements a REST handler that deletes a media payload.
type DeleteMedia struct {
	*handler
}

// NewDeleteMedia returns a new REST handler to delete a media payload. The
// endpoint must be registered behind a bearer token wrapper.
func NewDeleteMedia(cfg *Config, activityStore spi.Store) *DeleteMedia {
	h := &DeleteMedia{}

	h.handler = newHandler(MediaIDPath, cfg, activityStore, h.handleDelete, nil, spi.SortAscending)

	return h
}

// Method returns the HTTP method, which is always DELETE.
func (h *DeleteMedia) Method() string {
	return http.MethodDelete
}

func (h *DeleteMedia) handleDelete(w http.ResponseWriter, req *http.Request) {
	id := getIDParam(req)
	if id == "" {
		h.writeResponse(w, http.StatusBadRequest, []byte(badRequestResponse))

		return
	}

	if err := h.activityStore.DeleteBlob(id); err != nil {
		if errors.Is(err, spi.ErrNotFound) {
			h.writeResponse(w, http.StatusNotFound, []byte(notFoundResponse))

			return
		}

		h.logger.Error("Error deleting media payload", log.WithError(err))

		h.writeResponse(w, http.StatusInternalServerError, []byte(internalServerErrorResponse))

		return
	}

	h.writeResponse(w, http.StatusOK, nil)
}
