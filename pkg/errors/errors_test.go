/*
Copyright Pollen Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTransientError(t *testing.T) {
	et := errors.New("some transient error")
	ep := errors.New("some persistent error")

	err := fmt.Errorf("got error: %w", NewTransient(et))

	require.True(t, IsTransient(err))
	require.True(t, errors.Is(err, et))
	require.False(t, IsTransient(ep))
	require.EqualError(t, err, "got error: some transient error")

	errf := NewTransientf("transient error: %d", 10)

	require.True(t, IsTransient(errf))
	require.EqualError(t, errf, "transient error: 10")
}

func TestBadRequestError(t *testing.T) {
	eb := errors.New("some bad request error")

	err := fmt.Errorf("got error: %w", NewBadRequest(eb))

	require.True(t, IsBadRequest(err))
	require.True(t, errors.Is(err, eb))
	require.False(t, IsBadRequest(errors.New("some other error")))
	require.False(t, IsTransient(err))
	require.EqualError(t, err, "got error: some bad request error")

	errf := NewBadRequestf("bad request: %s", "invalid ID")

	require.True(t, IsBadRequest(errf))
	require.EqualError(t, errf, "bad request: invalid ID")
}

func TestUnauthorizedError(t *testing.T) {
	eu := errors.New("some unauthorized error")

	err := fmt.Errorf("got error: %w", NewUnauthorized(eu))

	require.True(t, IsUnauthorized(err))
	require.True(t, errors.Is(err, eu))
	require.False(t, IsUnauthorized(errors.New("some other error")))
	require.False(t, IsBadRequest(err))
	require.EqualError(t, err, "got error: some unauthorized error")

	errf := NewUnauthorizedf("unauthorized: %s", "no token")

	require.True(t, IsUnauthorized(errf))
	require.EqualError(t, errf, "unauthorized: no token")
}
