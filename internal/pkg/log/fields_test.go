/*
Copyright Pollen Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package log

import (
	"errors"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestStringFields(t *testing.T) {
	fields := map[string]zap.Field{
		FieldMessageID:      WithMessageID("msg1"),
		FieldServiceName:    WithServiceName("service1"),
		FieldTopic:          WithTopic("topic1"),
		FieldActorID:        WithActorID("https://pollen1.example.com/users/alice"),
		FieldUsername:       WithUsername("alice"),
		FieldDomain:         WithDomain("pollen1.example.com"),
		FieldCollectionSlug: WithCollectionSlug("bookmarks"),
		FieldTaskID:         WithTaskID("task1"),
		FieldAddress:        WithAddress("localhost:8080"),
		FieldLogSpec:        WithLogSpec("module1=debug"),
	}

	for key, field := range fields {
		require.Equal(t, key, field.Key)
		require.Equal(t, zapcore.StringType, field.Type)
	}
}

func TestStringerFields(t *testing.T) {
	iri, err := url.Parse("https://pollen1.example.com/users/alice")
	require.NoError(t, err)

	fields := map[string]zap.Field{
		FieldActorID:    WithActorIRI(iri),
		FieldServiceIRI: WithServiceIRI(iri),
		FieldRequestURL: WithRequestURL(iri),
	}

	for key, field := range fields {
		require.Equal(t, key, field.Key)
		require.Equal(t, zapcore.StringerType, field.Type)
	}
}

func TestOtherFields(t *testing.T) {
	require.Equal(t, FieldHTTPStatus, WithHTTPStatus(http.StatusNotFound).Key)
	require.Equal(t, FieldSize, WithSize(1024).Key)
	require.Equal(t, FieldTotalItems, WithTotal(10).Key)
	require.Equal(t, FieldPayload, WithPayload([]byte("payload")).Key)
	require.Equal(t, FieldExpiration, WithExpiration(time.Minute).Key)
	require.Equal(t, "error", WithError(errors.New("some error")).Key)
}
