/*
Copyright Pollen Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package storeutil

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pollenhq/pollen/pkg/activitypub/store/spi"
)

func TestGetQueryOptions(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		options := GetQueryOptions()
		require.Equal(t, -1, options.PageNumber)
		require.Equal(t, -1, options.PageSize)
		require.Equal(t, spi.SortAscending, options.SortOrder)
	})

	t.Run("With options", func(t *testing.T) {
		options := GetQueryOptions(
			spi.WithPageNum(3),
			spi.WithPageSize(20),
			spi.WithSortOrder(spi.SortDescending),
		)
		require.Equal(t, 3, options.PageNumber)
		require.Equal(t, 20, options.PageSize)
		require.Equal(t, spi.SortDescending, options.SortOrder)
	})
}
