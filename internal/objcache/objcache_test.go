// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package objcache_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xv6kernel/core/internal/buf"
	"github.com/xv6kernel/core/internal/objcache"
	"github.com/xv6kernel/core/internal/objdisk"
)

func newCache(t *testing.T) *objcache.Cache {
	t.Helper()
	bufs := buf.NewCache(64, nil)
	storage := objdisk.NewStorage()
	return objcache.New(bufs, storage, 1, nil)
}

func TestAddThenReadRoundTrip(t *testing.T) {
	c := newCache(t)
	require.NoError(t, c.Add("foo", []byte("hello world")))

	dst := make([]byte, 5)
	n, err := c.Read("foo", dst, 0)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "hello", string(dst))
}

func TestReadPastEndTruncates(t *testing.T) {
	c := newCache(t)
	require.NoError(t, c.Add("foo", []byte("short")))

	dst := make([]byte, 100)
	n, err := c.Read("foo", dst, 0)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "short", string(dst[:n]))
}

func TestReadMissingObjectErrors(t *testing.T) {
	c := newCache(t)
	_, err := c.Read("nope", make([]byte, 1), 0)
	assert.Error(t, err)
}

func TestWriteIsWriteThroughAndVisibleAfterInvalidation(t *testing.T) {
	c := newCache(t)
	require.NoError(t, c.Add("foo", []byte("0123456789")))

	n, err := c.Write("foo", []byte("ABC"), 2)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	dst := make([]byte, 10)
	_, err = c.Read("foo", dst, 0)
	require.NoError(t, err)
	assert.Equal(t, "01ABC56789", string(dst))
}

func TestWriteBeyondCurrentSizeGrowsObject(t *testing.T) {
	c := newCache(t)
	require.NoError(t, c.Add("foo", []byte("abc")))

	_, err := c.Write("foo", []byte("XYZ"), 10)
	require.NoError(t, err)

	size, ok := c.ObjectSize("foo")
	require.True(t, ok)
	assert.EqualValues(t, 13, size)
}

func TestDeleteRemovesObjectAndCachedBlocks(t *testing.T) {
	c := newCache(t)
	require.NoError(t, c.Add("foo", []byte("data")))
	require.NoError(t, c.Delete("foo"))

	assert.False(t, c.Exists("foo"))
	_, err := c.Read("foo", make([]byte, 1), 0)
	assert.Error(t, err)
}

func TestReadSpanningMultipleBlocks(t *testing.T) {
	c := newCache(t)
	big := make([]byte, buf.BSIZE*3+17)
	for i := range big {
		big[i] = byte(i)
	}
	require.NoError(t, c.Add("foo", big))

	dst := make([]byte, len(big))
	n, err := c.Read("foo", dst, 0)
	require.NoError(t, err)
	require.Equal(t, len(big), n)
	assert.Equal(t, big, dst)
}
