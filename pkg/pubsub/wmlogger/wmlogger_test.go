/*
Copyright Pollen Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package wmlogger

import (
	"errors"
	"net/url"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/require"
	"github.com/trustbloc/logutil-go/pkg/log"
)

func TestNew(t *testing.T) {
	logger := New()
	require.NotNil(t, logger)
}

func TestWMLogger(t *testing.T) {
	v2, err := url.Parse("https://example.com")
	require.NoError(t, err)

	fields := watermill.LogFields{"field1": "value1", "field2": v2}

	defer log.SetDefaultLevel(log.INFO)

	log.SetLevel(Module, log.DEBUG)

	logger := New()
	require.NotNil(t, logger)

	logger.Error("message", errors.New("some error"), fields)
	logger.Info("message", fields)
	logger.Debug("message", fields)
	logger.Trace("message", nil)

	t.Run("With", func(t *testing.T) {
		l := logger.With(watermill.LogFields{"field3": "value3"})
		require.NotNil(t, l)

		l.Info("message", fields)
	})
}
