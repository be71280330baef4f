/*
Copyright Pollen Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package resthandler

import (
	"context"
	"io"
	"net/http"

	"github.com/trustbloc/logutil-go/pkg/log"

	logfields "github.com/pollenhq/pollen/internal/pkg/log"
	"github.com/pollenhq/pollen/pkg/activitypub/store/spi"
	"github.com/pollenhq/pollen/pkg/activitypub/vocab"
	pollenerrors "github.com/pollenhq/pollen/pkg/errors"
)

type adminActivityHandler interface {
	HandleAdminActivity(ctx context.Context, activity *vocab.ActivityType) error
}

// Admin implements a REST handler for the administrative back-channel. Actor
// provisioning and collection management activities are posted to this endpoint.
type Admin struct {
	*handler

	adminHandler adminActivityHandler
}

// NewPostAdmin returns a new REST handler for administrative activities. The
// endpoint must be registered behind a bearer token wrapper since only the
// server administrator may post to it.
func NewPostAdmin(cfg *Config, activityStore spi.Store, adminHandler adminActivityHandler) *Admin {
	h := &Admin{
		adminHandler: adminHandler,
	}

	h.handler = newHandler(AdminPath, cfg, activityStore, h.handlePost, nil, spi.SortAscending)

	return h
}

// Method returns the HTTP method, which is always POST.
func (h *Admin) Method() string {
	return http.MethodPost
}

func (h *Admin) handlePost(w http.ResponseWriter, req *http.Request) {
	activityBytes, err := io.ReadAll(http.MaxBytesReader(w, req.Body, maxActivitySize))
	if err != nil {
		h.logger.Debug("Error reading request body", log.WithError(err))

		h.writeResponse(w, http.StatusBadRequest, []byte(badRequestResponse))

		return
	}

	h.logger.Debug("Handling administrative activity", logfields.WithRequestBody(activityBytes))

	activity, err := unmarshalActivity(activityBytes)
	if err != nil {
		h.logger.Debug("Invalid activity", log.WithError(err))

		h.writeResponse(w, http.StatusBadRequest, []byte(badRequestResponse))

		return
	}

	if err := h.adminHandler.HandleAdminActivity(req.Context(), activity); err != nil {
		if pollenerrors.IsBadRequest(err) {
			h.logger.Debug("Error handling administrative activity", log.WithError(err))

			h.writeResponse(w, http.StatusBadRequest, []byte(badRequestResponse))
		} else {
			h.logger.Error("Error handling administrative activity", log.WithError(err))

			h.writeResponse(w, http.StatusInternalServerError, []byte(internalServerErrorResponse))
		}

		return
	}

	h.writeResponse(w, http.StatusOK, nil)
}
